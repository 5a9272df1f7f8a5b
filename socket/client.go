package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"collabcanvas/internal/command"
	groupmodel "collabcanvas/internal/group/model"
	"collabcanvas/internal/session"
	"collabcanvas/internal/shape/model"
	"collabcanvas/pkg/geometry"
	"collabcanvas/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer     = 256
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	requestTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	DocID   string
	UserID  string
	Session *session.Session
	Send    chan []byte

	mu       sync.Mutex
	closed   bool
	shutOnce sync.Once
}

// ServeWs upgrades the request and attaches a session for user to the document named by
// the docId query parameter.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, user session.User) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		Hub:    hub,
		Conn:   conn,
		DocID:  docID,
		UserID: user.ID,
		Send:   make(chan []byte, sendBuffer),
	}
	client.Session = hub.newSession(docID, user)
	client.Session.OnUpdate(client.onEvent)
	for _, e := range []session.Event{session.ShapesChanged, session.GroupsChanged, session.PresenceChanged, session.SelectionChanged} {
		client.onEvent(e)
	}

	select {
	case hub.Register <- client:
	case <-hub.done:
		client.shutdown()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// onEvent turns a session change into the matching snapshot message.
func (c *Client) onEvent(e session.Event) {
	s := c.Session
	switch e {
	case session.ShapesChanged:
		c.sendJSON(ShapesType, s.Shapes())
	case session.PresenceChanged:
		c.sendJSON(PresenceType, s.Presence())
	case session.SelectionChanged:
		p := selectionPayload{IDs: s.Selection(), State: s.SelectionState().String()}
		if box, ok := s.SelectionBox(); ok {
			p.Box = &box
		}
		c.sendJSON(SelectionType, p)
	case session.GroupsChanged:
		c.sendJSON(GroupsType, s.Groups())
	case session.ResizesChanged:
		c.sendJSON(ResizesType, s.RemoteResizes())
	case session.CursorFrame, session.ShapeFrame:
		c.sendFrame(FrameType, framePayload{Cursors: s.SmoothedCursors(), Shapes: s.SmoothedShapes()})
	case session.ErrorRaised:
		if err := s.LastError(); err != nil {
			c.sendJSON(ErrorType, errorPayload{Message: err.Error()})
		}
	}
}

func (c *Client) encode(msgType string, payload any) ([]byte, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s payload: %v", msgType, err)
		return nil, false
	}
	out, err := json.Marshal(WSMessage{Type: msgType, DocID: c.DocID, UserID: c.UserID, Payload: raw})
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s message: %v", msgType, err)
		return nil, false
	}
	return out, true
}

// sendJSON queues a snapshot. A client whose buffer is full is lagging and gets unregistered.
func (c *Client) sendJSON(msgType string, payload any) {
	msg, ok := c.encode(msgType, payload)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- msg:
	default:
		logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", c.UserID)
		go c.Hub.unregister(c)
	}
}

// sendFrame queues a smoothing frame, dropping it when the buffer is full.
func (c *Client) sendFrame(msgType string, payload any) {
	msg, ok := c.encode(msgType, payload)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- msg:
	default:
	}
}

func (c *Client) sendError(request string, err error) {
	c.sendJSON(ErrorType, errorPayload{Request: request, Message: err.Error()})
}

// shutdown removes the user's presence, closes the session and then the send channel.
func (c *Client) shutdown() {
	c.shutOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Session.Leave(ctx); err != nil {
			logger.Sugar.Warnf("Presence leave for %s failed: %v", c.UserID, err)
		}
		c.Session.Close()

		c.mu.Lock()
		c.closed = true
		close(c.Send)
		c.mu.Unlock()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}
		msg.DocID = c.DocID
		msg.UserID = c.UserID

		c.handle(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decode[T any](msg WSMessage) (T, error) {
	var v T
	if len(msg.Payload) == 0 {
		return v, nil
	}
	err := json.Unmarshal(msg.Payload, &v)
	return v, err
}

// handle applies one inbound message to the session. Failures are reported back to the
// sender as ERROR messages.
func (c *Client) handle(msg WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	s := c.Session

	var err error
	switch msg.Type {
	case ShapeAddType:
		var shape model.Shape
		if shape, err = decode[model.Shape](msg); err == nil {
			_, err = s.AddShape(ctx, shape)
		}
	case ShapeUpdateType:
		var p shapeUpdatePayload
		if p, err = decode[shapeUpdatePayload](msg); err == nil {
			var patch model.ShapePatch
			if err = json.Unmarshal(p.Patch, &patch); err == nil {
				err = s.UpdateShape(ctx, p.ID, patch)
			}
		}
	case ShapeDeleteType:
		var p idPayload
		if p, err = decode[idPayload](msg); err == nil {
			err = s.DeleteShape(ctx, p.ID)
		}
	case ShapeClearType:
		err = s.ClearAllShapes(ctx)

	case DragType:
		var p dragPayload
		if p, err = decode[dragPayload](msg); err == nil {
			err = s.PublishDragUpdate(ctx, p.ShapeID, geometry.Point{X: p.X, Y: p.Y})
		}
	case DragEndType:
		var p dragPayload
		if p, err = decode[dragPayload](msg); err == nil {
			err = s.ClearDragUpdate(ctx, p.ShapeID)
		}
	case ResizeType:
		var p dragPayload
		if p, err = decode[dragPayload](msg); err == nil {
			err = s.PublishResizeUpdate(ctx, p.ShapeID, geometry.Rect{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height})
		}
	case ResizeEndType:
		var p dragPayload
		if p, err = decode[dragPayload](msg); err == nil {
			err = s.ClearResizeUpdate(ctx, p.ShapeID)
		}
	case CursorType:
		var p pointPayload
		if p, err = decode[pointPayload](msg); err == nil {
			s.UpdateCursor(p.point())
		}
	case ViewType:
		var r geometry.Rect
		if r, err = decode[geometry.Rect](msg); err == nil {
			s.SetView(r)
		}

	case SelectType, DeselectType, ToggleSelectType:
		var p idPayload
		if p, err = decode[idPayload](msg); err == nil {
			switch msg.Type {
			case SelectType:
				s.Select(p.ID)
			case DeselectType:
				s.Deselect(p.ID)
			default:
				s.ToggleSelection(p.ID)
			}
		}
	case SelectAllType:
		s.SelectAll()
	case ClearSelectionType:
		s.ClearSelection()
	case BoxStartType:
		var p pointPayload
		if p, err = decode[pointPayload](msg); err == nil {
			s.BeginSelectionBox(p.point(), p.Modifier)
		}
	case BoxMoveType:
		var p pointPayload
		if p, err = decode[pointPayload](msg); err == nil {
			s.UpdateSelectionBox(p.point())
			c.onEvent(session.SelectionChanged)
		}
	case BoxEndType:
		s.EndSelectionBox()
	case ModifierReleaseType:
		s.ReleaseModifier()
	case LockSelectionType:
		err = s.LockSelection(ctx)
	case UnlockSelectionType:
		err = s.UnlockSelection(ctx)

	case GroupCreateType:
		var req groupmodel.CreateGroupRequest
		if req, err = decode[groupmodel.CreateGroupRequest](msg); err == nil {
			_, err = s.CreateGroup(ctx, req)
		}
	case GroupAddType:
		var req groupmodel.MembershipRequest
		if req, err = decode[groupmodel.MembershipRequest](msg); err == nil {
			err = s.AddShapesToGroup(ctx, req.GroupID, req.ShapeIDs)
		}
	case GroupRemoveType:
		var req groupmodel.MembershipRequest
		if req, err = decode[groupmodel.MembershipRequest](msg); err == nil {
			_, err = s.RemoveShapesFromGroup(ctx, req.GroupID, req.ShapeIDs)
		}
	case GroupDeleteType:
		var p idPayload
		if p, err = decode[idPayload](msg); err == nil {
			err = s.DeleteGroup(ctx, p.ID)
		}
	case GroupRenameType:
		var p renamePayload
		if p, err = decode[renamePayload](msg); err == nil {
			err = s.RenameGroup(ctx, p.ID, p.Name)
		}
	case GroupCollapseType:
		var p collapsePayload
		if p, err = decode[collapsePayload](msg); err == nil {
			err = s.SetGroupCollapsed(ctx, p.ID, p.Collapsed)
		}

	case CommentType:
		var p commentPayload
		if p, err = decode[commentPayload](msg); err == nil {
			err = s.AddComment(ctx, p.ShapeID, p.Text)
		}
	case CommandType:
		var action command.CanvasAction
		if action, err = decode[command.CanvasAction](msg); err == nil {
			c.sendJSON(CommandResultType, s.ApplyCanvasCommand(ctx, action))
		}

	default:
		logger.Sugar.Warnf("Unknown message type %q from %s", msg.Type, c.UserID)
		return
	}

	if err != nil {
		c.sendError(msg.Type, err)
	}
}
