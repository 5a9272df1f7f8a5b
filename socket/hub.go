package socket

import (
	"context"
	"sync"
	"time"

	"collabcanvas/internal/session"
	"collabcanvas/pkg/logger"
)

// Hub tracks which clients are connected to which document. Clients of the same document
// never talk to each other through the hub: every change travels through the shared stores
// and comes back to each client's own session.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Register   chan *Client
	Unregister chan *Client

	deps session.Deps
	opts session.Options
	mu   sync.Mutex
	done chan struct{}
}

type RoomStats struct {
	Rooms   int `json:"rooms"`
	Clients int `json:"clients"`
}

func NewHub(deps session.Deps, opts session.Options) *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		deps:       deps,
		opts:       opts,
		done:       make(chan struct{}),
	}
}

func (h *Hub) newSession(docID string, user session.User) *session.Session {
	return session.New(h.deps, docID, user, h.opts)
}

// Run processes registrations until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.disconnectAll()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.DocID] == nil {
				h.Rooms[client.DocID] = make(map[*Client]bool)
				logger.Sugar.Infof("Opened room: %s", client.DocID)
			}
			h.Rooms[client.DocID][client] = true
			h.mu.Unlock()

			go func() {
				joinCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := client.Session.Join(joinCtx); err != nil {
					logger.Sugar.Warnf("Presence join for %s failed: %v", client.UserID, err)
				}
			}()

		case client := <-h.Unregister:
			h.mu.Lock()
			_, ok := h.Rooms[client.DocID][client]
			if ok {
				delete(h.Rooms[client.DocID], client)
				if len(h.Rooms[client.DocID]) == 0 {
					delete(h.Rooms, client.DocID)
					logger.Sugar.Infof("Closed and cleaned up empty room: %s", client.DocID)
				}
			}
			h.mu.Unlock()

			if ok {
				go client.shutdown()
			}
		}
	}
}

// unregister hands c to Run, or drops it once Run has stopped.
func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	var clients []*Client
	for _, room := range h.Rooms {
		for client := range room {
			clients = append(clients, client)
		}
	}
	h.Rooms = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Conn.Close()
		client.shutdown()
	}
}

func (h *Hub) Stats() RoomStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := RoomStats{Rooms: len(h.Rooms)}
	for _, room := range h.Rooms {
		stats.Clients += len(room)
	}
	return stats
}

// ClientCount is the number of connections open on docID.
func (h *Hub) ClientCount(docID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[docID])
}
