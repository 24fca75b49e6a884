package hub

import "sync"

// Presence counts open connections per user per room so that user-offline is
// announced exactly once, when a user's final connection to a room closes.
// It never mutates on its own; callers pair every OnJoin/OnLeave with the
// matching registry mutation so the two views cannot drift.
type Presence struct {
	mu    sync.Mutex
	rooms map[int]map[int]int // roomID -> userID -> open connections
}

func NewPresence() *Presence {
	return &Presence{rooms: make(map[int]map[int]int)}
}

func (p *Presence) OnJoin(userID, roomID int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	room, ok := p.rooms[roomID]
	if !ok {
		room = make(map[int]int)
		p.rooms[roomID] = room
	}
	room[userID]++
}

// OnLeave records one connection closing and reports whether it was the
// user's last one in that room. A leave with no matching join reports false.
func (p *Presence) OnLeave(userID, roomID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	room, ok := p.rooms[roomID]
	if !ok || room[userID] == 0 {
		return false
	}
	room[userID]--
	if room[userID] > 0 {
		return false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(p.rooms, roomID)
	}
	return true
}

// Online returns the distinct users currently holding at least one
// connection in roomID.
func (p *Presence) Online(roomID int) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	room := p.rooms[roomID]
	users := make([]int, 0, len(room))
	for userID := range room {
		users = append(users, userID)
	}
	return users
}
