package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"classin-server/domain"
	"classin-server/hub"
)

// Router is the hub's public surface. Every privileged operation is gated by
// a fresh membership check, registry and presence move in step, and events
// fan out to the room through the broadcaster.
//
// Failure semantics: a failed auto-join at connect time is silent; explicit
// join, chat and draw report domain.ErrNotMember or a wrapped upstream error
// to the caller; stale connections found dead mid-broadcast are cleaned up
// and never surfaced.
//
// Operations for a single connection arrive serially from its transport
// goroutine; only operations from different connections run concurrently.
type Router struct {
	registry  *hub.Registry
	presence  *hub.Presence
	broadcast *hub.Broadcaster
	gate      domain.MembershipGate
	chats     domain.ChatStore
}

func NewRouter(registry *hub.Registry, presence *hub.Presence, broadcast *hub.Broadcaster, gate domain.MembershipGate, chats domain.ChatStore) *Router {
	r := &Router{
		registry:  registry,
		presence:  presence,
		broadcast: broadcast,
		gate:      gate,
		chats:     chats,
	}
	broadcast.OnStale = r.drop
	return r
}

// Connect handles a freshly accepted connection carrying an optional room
// hint. A missing hint or failed membership check leaves the connection
// open but unattached; no error reaches the client.
func (r *Router) Connect(ctx context.Context, conn domain.Connection, classID int) {
	if classID <= 0 {
		return
	}
	ok, err := r.gate.IsMember(ctx, conn.UserID(), classID)
	if err != nil {
		slog.Warn("membership check failed on connect", "userId", conn.UserID(), "class", classID, "error", err)
		return
	}
	if !ok {
		slog.Debug("auto-join refused", "userId", conn.UserID(), "class", classID)
		return
	}
	r.attach(conn, classID)
}

// JoinRoom attaches conn to classID after a fresh membership check, leaving
// any previously joined room first. Unlike the silent auto-join at connect
// time, a refusal here is reported to the caller.
func (r *Router) JoinRoom(ctx context.Context, conn domain.Connection, classID int) error {
	ok, err := r.gate.IsMember(ctx, conn.UserID(), classID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return domain.ErrNotMember
	}

	if prevRoom, attached := r.registry.Lookup(conn.ID()); attached {
		if prevRoom == classID {
			// Rejoining the current room just re-announces the user.
			r.broadcast.Broadcast(classID, encode(UserEvent{Type: TypeUserOnline, UserID: conn.UserID()}), "")
			return nil
		}
		r.detach(conn)
	}
	r.attach(conn, classID)
	return nil
}

// SendChat persists text to the room conn is attached to, then fans the
// authoritative record out to every member, sender included. Nothing is
// broadcast when persistence fails.
func (r *Router) SendChat(ctx context.Context, conn domain.Connection, text string) error {
	roomID, attached := r.registry.Lookup(conn.ID())
	if !attached {
		return domain.ErrNotMember
	}
	msg, err := r.chats.SaveMessage(ctx, conn.UserID(), roomID, text)
	if err != nil {
		if errors.Is(err, domain.ErrNotMember) {
			return err
		}
		return fmt.Errorf("save message: %w", err)
	}
	r.broadcast.Broadcast(roomID, encode(ChatEvent{Type: TypeChatMessage, Message: msg}), "")
	return nil
}

// SendDraw relays a stroke to the other members of the room named in the
// stroke itself. The room id is caller-supplied on every call, so membership
// is re-checked every time, unlike chat which trusts the attached state.
func (r *Router) SendDraw(ctx context.Context, conn domain.Connection, stroke domain.DrawEvent) error {
	ok, err := r.gate.IsMember(ctx, conn.UserID(), stroke.ClassID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return domain.ErrNotMember
	}
	r.broadcast.Broadcast(stroke.ClassID, encode(StrokeEvent{Type: TypeDrawStroke, DrawEvent: stroke}), conn.ID())
	return nil
}

// Disconnect tears the connection down. Idempotent: the registry decides
// whether there is anything left to do.
func (r *Router) Disconnect(conn domain.Connection) {
	r.detach(conn)
}

func (r *Router) attach(conn domain.Connection, classID int) {
	r.registry.Register(conn, classID)
	r.presence.OnJoin(conn.UserID(), classID)
	r.broadcast.Broadcast(classID, encode(UserEvent{Type: TypeUserOnline, UserID: conn.UserID()}), "")
}

func (r *Router) detach(conn domain.Connection) {
	userID, roomID, ok := r.registry.Unregister(conn.ID())
	if !ok {
		return
	}
	if r.presence.OnLeave(userID, roomID) {
		r.broadcast.Broadcast(roomID, encode(UserEvent{Type: TypeUserOffline, UserID: userID}), conn.ID())
	}
}

// drop is the broadcaster's stale-connection hook.
func (r *Router) drop(conn domain.Connection) {
	r.detach(conn)
	conn.Close()
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode event", "error", err)
	}
	return data
}
