// Package pgwatch dispatches PostgreSQL NOTIFY payloads from a pq.Listener.
package pgwatch

import (
	"github.com/lib/pq"
)

// Listener is the part of *pq.Listener the watchers use.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

var _ Listener = (*pq.Listener)(nil)

// Run forwards notification payloads to onPayload until done is closed or the listener's
// channel is closed. pq delivers a nil notification after re-establishing the connection;
// notifications may have been missed during the outage, so onReconnect is called instead.
func Run(l Listener, done <-chan struct{}, onPayload func(payload string), onReconnect func()) {
	notifications := l.NotificationChannel()
	for {
		select {
		case <-done:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if n == nil {
				onReconnect()
				continue
			}
			onPayload(n.Extra)
		}
	}
}
