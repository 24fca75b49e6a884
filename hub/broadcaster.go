package hub

import (
	"log/slog"

	"classin-server/domain"
)

// Broadcaster fans one event out to a snapshot of a room's live
// connections. Each send is isolated and best-effort: one dead peer never
// aborts delivery to the rest, and sends happen outside the registry lock so
// a stalled peer cannot block registry mutations for other connections.
type Broadcaster struct {
	registry *Registry

	// OnStale, when set, is invoked on its own goroutine for a connection
	// whose send failed; it is expected to run the full disconnect path.
	// When nil the connection is just dropped from the registry.
	OnStale func(conn domain.Connection)
}

func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Broadcast delivers data to every member of roomID except excludeConnID
// (empty string excludes nobody). Connections that fail to accept the write
// are treated as disconnected and cleaned up silently.
func (b *Broadcaster) Broadcast(roomID int, data []byte, excludeConnID string) {
	for _, conn := range b.registry.MembersOf(roomID) {
		if conn.ID() == excludeConnID {
			continue
		}
		if err := conn.Send(data); err != nil {
			slog.Debug("dropping stale connection", "room", roomID, "connId", conn.ID(), "error", err)
			if b.OnStale != nil {
				go b.OnStale(conn)
				continue
			}
			b.registry.Unregister(conn.ID())
			conn.Close()
		}
	}
}
