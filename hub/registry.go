package hub

import (
	"log/slog"
	"sync"

	"classin-server/domain"
)

type entry struct {
	conn   domain.Connection
	roomID int
}

// Registry owns the association between live connections and class rooms.
// It is the single source of truth during disconnect races: when a
// connection is absent, the surrounding operation becomes a no-op rather
// than an error. Entries are 1:1 with live transport sessions.
//
// Two indexes are kept so that room snapshots and per-connection lookups
// are both cheap; every mutation touches both under the same lock.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]entry
	byRoom map[int]map[string]domain.Connection
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]entry),
		byRoom: make(map[int]map[string]domain.Connection),
	}
}

// Register associates conn with roomID. A connection already registered to a
// different room is left untouched; the caller must Unregister first when
// switching rooms.
func (r *Registry) Register(conn domain.Connection, roomID int) {
	r.mu.Lock()
	if prev, ok := r.byConn[conn.ID()]; ok && prev.roomID != roomID {
		r.mu.Unlock()
		slog.Warn("register skipped, connection still bound", "connId", conn.ID(), "room", prev.roomID)
		return
	}
	r.byConn[conn.ID()] = entry{conn: conn, roomID: roomID}
	room, ok := r.byRoom[roomID]
	if !ok {
		room = make(map[string]domain.Connection)
		r.byRoom[roomID] = room
	}
	room[conn.ID()] = conn
	count := len(room)
	r.mu.Unlock()

	slog.Info("connection registered", "room", roomID, "connId", conn.ID(), "userId", conn.UserID(), "connections", count)
}

// Unregister removes the association and reports what was removed. Calling
// it again for the same id is a harmless no-op, so double disconnects and
// disconnect-during-broadcast races need no special handling by callers.
func (r *Registry) Unregister(connID string) (userID, roomID int, ok bool) {
	r.mu.Lock()
	e, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return 0, 0, false
	}
	delete(r.byConn, connID)
	room := r.byRoom[e.roomID]
	delete(room, connID)
	if len(room) == 0 {
		delete(r.byRoom, e.roomID)
	}
	r.mu.Unlock()

	slog.Info("connection unregistered", "room", e.roomID, "connId", connID, "userId", e.conn.UserID())
	return e.conn.UserID(), e.roomID, true
}

// Lookup returns the room conn is currently bound to.
func (r *Registry) Lookup(connID string) (roomID int, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byConn[connID]
	return e.roomID, ok
}

// MembersOf returns a point-in-time snapshot of the connections in roomID.
// The snapshot is taken under the lock; delivery to it must happen outside.
func (r *Registry) MembersOf(roomID int) []domain.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.byRoom[roomID]
	members := make([]domain.Connection, 0, len(room))
	for _, conn := range room {
		members = append(members, conn)
	}
	return members
}

func (r *Registry) Stats() (rooms, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRoom), len(r.byConn)
}
