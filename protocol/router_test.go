package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classin-server/domain"
	"classin-server/hub"
)

type mockConn struct {
	id       string
	userID   int
	received [][]byte
	closed   bool
	mu       sync.Mutex
	sendErr  error
}

func (m *mockConn) ID() string  { return m.id }
func (m *mockConn) UserID() int { return m.userID }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// frames decodes everything the connection received, in order.
func (m *mockConn) frames(t *testing.T) []map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]map[string]any, 0, len(m.received))
	for _, data := range m.received {
		var f map[string]any
		require.NoError(t, json.Unmarshal(data, &f))
		out = append(out, f)
	}
	return out
}

func (m *mockConn) frameTypes(t *testing.T) []string {
	t.Helper()
	var types []string
	for _, f := range m.frames(t) {
		types = append(types, f["type"].(string))
	}
	return types
}

type memberKey struct{ userID, classID int }

type mockGate struct {
	mu      sync.Mutex
	members map[memberKey]bool
	err     error
	calls   int
}

func newMockGate() *mockGate {
	return &mockGate{members: make(map[memberKey]bool)}
}

func (g *mockGate) allow(userID, classID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[memberKey{userID, classID}] = true
}

func (g *mockGate) IsMember(ctx context.Context, userID, classID int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return false, g.err
	}
	return g.members[memberKey{userID, classID}], nil
}

func (g *mockGate) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type mockChats struct {
	mu     sync.Mutex
	err    error
	calls  int
	nextID int
}

func (c *mockChats) SaveMessage(ctx context.Context, userID, classID int, text string) (domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return domain.Message{}, c.err
	}
	c.nextID++
	return domain.Message{
		ID:       c.nextID,
		ClassID:  classID,
		UserID:   userID,
		UserName: fmt.Sprintf("user-%d", userID),
		Text:     text,
		SentAt:   time.Now().UTC(),
	}, nil
}

func (c *mockChats) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestRouter() (*Router, *hub.Registry, *mockGate, *mockChats) {
	registry := hub.NewRegistry()
	gate := newMockGate()
	chats := &mockChats{}
	router := NewRouter(registry, hub.NewPresence(), hub.NewBroadcaster(registry), gate, chats)
	return router, registry, gate, chats
}

func TestRouter_ConnectWithRoomHint(t *testing.T) {
	router, registry, gate, _ := newTestRouter()
	gate.allow(1, 10)
	conn := &mockConn{id: "a", userID: 1}

	router.Connect(context.Background(), conn, 10)

	roomID, ok := registry.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 10, roomID)

	frames := conn.frames(t)
	require.Len(t, frames, 1, "the joining connection hears its own user-online")
	assert.Equal(t, TypeUserOnline, frames[0]["type"])
	assert.EqualValues(t, 1, frames[0]["userId"])
}

func TestRouter_ConnectRefusalsAreSilent(t *testing.T) {
	tests := []struct {
		name    string
		classID int
		gateErr error
	}{
		{name: "no room hint", classID: 0},
		{name: "not a member", classID: 10},
		{name: "gate unavailable", classID: 10, gateErr: errors.New("db down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, registry, gate, _ := newTestRouter()
			gate.err = tt.gateErr
			conn := &mockConn{id: "a", userID: 1}

			router.Connect(context.Background(), conn, tt.classID)

			_, ok := registry.Lookup("a")
			assert.False(t, ok, "connection must stay unattached")
			assert.Empty(t, conn.frames(t), "nothing is sent back on a failed auto-join")
		})
	}
}

func TestRouter_JoinRoomErrors(t *testing.T) {
	router, registry, gate, _ := newTestRouter()
	conn := &mockConn{id: "a", userID: 1}

	err := router.JoinRoom(context.Background(), conn, 10)
	assert.ErrorIs(t, err, domain.ErrNotMember)

	gate.err = errors.New("db down")
	err = router.JoinRoom(context.Background(), conn, 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotMember, "backend failure must stay distinct from a refusal")

	_, ok := registry.Lookup("a")
	assert.False(t, ok)
}

func TestRouter_JoinRoomSwitchesRooms(t *testing.T) {
	router, registry, gate, _ := newTestRouter()
	gate.allow(1, 10)
	gate.allow(1, 20)
	gate.allow(2, 10)
	gate.allow(3, 20)

	mover := &mockConn{id: "mover", userID: 1}
	oldRoomMate := &mockConn{id: "old", userID: 2}
	newRoomMate := &mockConn{id: "new", userID: 3}

	require.NoError(t, router.JoinRoom(context.Background(), oldRoomMate, 10))
	require.NoError(t, router.JoinRoom(context.Background(), newRoomMate, 20))
	require.NoError(t, router.JoinRoom(context.Background(), mover, 10))
	require.NoError(t, router.JoinRoom(context.Background(), mover, 20))

	roomID, ok := registry.Lookup("mover")
	require.True(t, ok)
	assert.Equal(t, 20, roomID)

	// The old room hears the user leave, the new one hears them arrive.
	assert.Contains(t, oldRoomMate.frameTypes(t), TypeUserOffline)
	assert.Contains(t, newRoomMate.frameTypes(t), TypeUserOnline)
	assert.Len(t, registry.MembersOf(10), 1)
	assert.Len(t, registry.MembersOf(20), 2)
}

func TestRouter_SendChat(t *testing.T) {
	router, _, gate, chats := newTestRouter()
	gate.allow(1, 10)
	gate.allow(2, 10)

	sender := &mockConn{id: "a", userID: 1}
	other := &mockConn{id: "b", userID: 2}
	require.NoError(t, router.JoinRoom(context.Background(), sender, 10))
	require.NoError(t, router.JoinRoom(context.Background(), other, 10))

	require.NoError(t, router.SendChat(context.Background(), sender, "hello"))

	assert.Equal(t, 1, chats.callCount())

	// Chat goes to every member, sender included, carrying the persisted
	// record.
	for _, conn := range []*mockConn{sender, other} {
		frames := conn.frames(t)
		last := frames[len(frames)-1]
		assert.Equal(t, TypeChatMessage, last["type"])
		assert.EqualValues(t, 1, last["id"])
		assert.Equal(t, "user-1", last["userName"])
		assert.Equal(t, "hello", last["text"])
		assert.NotEmpty(t, last["sentAt"])
	}
}

func TestRouter_SendChatUnattached(t *testing.T) {
	router, _, _, chats := newTestRouter()
	conn := &mockConn{id: "a", userID: 1}

	err := router.SendChat(context.Background(), conn, "hello")

	assert.ErrorIs(t, err, domain.ErrNotMember)
	assert.Zero(t, chats.callCount(), "no persistence call for an unauthorized send")
	assert.Empty(t, conn.frames(t))
}

func TestRouter_SendChatPersistenceFailure(t *testing.T) {
	router, _, gate, chats := newTestRouter()
	gate.allow(1, 10)
	sender := &mockConn{id: "a", userID: 1}
	require.NoError(t, router.JoinRoom(context.Background(), sender, 10))
	before := len(sender.frames(t))

	chats.err = errors.New("insert failed")
	err := router.SendChat(context.Background(), sender, "hello")

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotMember)
	assert.Len(t, sender.frames(t), before, "no broadcast when persistence fails")
}

func TestRouter_SendDrawExcludesSender(t *testing.T) {
	router, _, gate, _ := newTestRouter()
	for userID := 1; userID <= 3; userID++ {
		gate.allow(userID, 10)
	}
	a := &mockConn{id: "a", userID: 1}
	b := &mockConn{id: "b", userID: 2}
	c := &mockConn{id: "c", userID: 3}
	for _, conn := range []*mockConn{a, b, c} {
		require.NoError(t, router.JoinRoom(context.Background(), conn, 10))
	}

	stroke := domain.DrawEvent{ClassID: 10, X1: 1, Y1: 2, X2: 3, Y2: 4, Color: "#ff0000", LineWidth: 2}
	require.NoError(t, router.SendDraw(context.Background(), a, stroke))

	assert.NotContains(t, a.frameTypes(t), TypeDrawStroke)
	assert.Contains(t, b.frameTypes(t), TypeDrawStroke)
	assert.Contains(t, c.frameTypes(t), TypeDrawStroke)
}

func TestRouter_SendDrawReauthorizesEveryCall(t *testing.T) {
	router, _, gate, _ := newTestRouter()
	gate.allow(1, 10)
	conn := &mockConn{id: "a", userID: 1}
	require.NoError(t, router.JoinRoom(context.Background(), conn, 10))
	joinChecks := gate.callCount()

	stroke := domain.DrawEvent{ClassID: 10, Color: "#000000", LineWidth: 1}
	require.NoError(t, router.SendDraw(context.Background(), conn, stroke))
	require.NoError(t, router.SendDraw(context.Background(), conn, stroke))

	assert.Equal(t, joinChecks+2, gate.callCount(), "draw re-checks membership on every call")

	// The room id is caller-supplied: drawing into another room fails even
	// while attached here.
	err := router.SendDraw(context.Background(), conn, domain.DrawEvent{ClassID: 20})
	assert.ErrorIs(t, err, domain.ErrNotMember)
}

func TestRouter_ClearSentinelRelayedVerbatim(t *testing.T) {
	router, _, gate, _ := newTestRouter()
	gate.allow(1, 10)
	gate.allow(2, 10)
	a := &mockConn{id: "a", userID: 1}
	b := &mockConn{id: "b", userID: 2}
	require.NoError(t, router.JoinRoom(context.Background(), a, 10))
	require.NoError(t, router.JoinRoom(context.Background(), b, 10))

	clear := domain.DrawEvent{ClassID: 10, Color: domain.ClearColor, LineWidth: 1}
	require.NoError(t, router.SendDraw(context.Background(), a, clear))

	frames := b.frames(t)
	last := frames[len(frames)-1]
	require.Equal(t, TypeDrawStroke, last["type"])

	var got StrokeEvent
	data, err := json.Marshal(last)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, clear, got.DrawEvent, "clear marker must not be filtered or transformed")
}

func TestRouter_DisconnectOfflineOnce(t *testing.T) {
	router, registry, gate, _ := newTestRouter()
	gate.allow(1, 10)
	gate.allow(2, 10)

	tab1 := &mockConn{id: "tab1", userID: 1}
	tab2 := &mockConn{id: "tab2", userID: 1}
	observer := &mockConn{id: "obs", userID: 2}

	require.NoError(t, router.JoinRoom(context.Background(), observer, 10))
	require.NoError(t, router.JoinRoom(context.Background(), tab1, 10))
	require.NoError(t, router.JoinRoom(context.Background(), tab2, 10))

	router.Disconnect(tab1)
	router.Disconnect(tab2)

	var online, offline int
	for _, f := range observer.frames(t) {
		switch f["type"] {
		case TypeUserOnline:
			if f["userId"].(float64) == 1 {
				online++
			}
		case TypeUserOffline:
			if f["userId"].(float64) == 1 {
				offline++
			}
		}
	}
	assert.Equal(t, 2, online, "online fires once per connection")
	assert.Equal(t, 1, offline, "offline fires once, when the last connection closes")

	assert.Len(t, registry.MembersOf(10), 1)
}

func TestRouter_DisconnectIdempotent(t *testing.T) {
	router, _, gate, _ := newTestRouter()
	gate.allow(1, 10)
	gate.allow(2, 10)
	conn := &mockConn{id: "a", userID: 1}
	observer := &mockConn{id: "obs", userID: 2}
	require.NoError(t, router.JoinRoom(context.Background(), observer, 10))
	require.NoError(t, router.JoinRoom(context.Background(), conn, 10))

	router.Disconnect(conn)
	router.Disconnect(conn)
	router.Disconnect(&mockConn{id: "never-joined", userID: 9})

	var offline int
	for _, typ := range observer.frameTypes(t) {
		if typ == TypeUserOffline {
			offline++
		}
	}
	assert.Equal(t, 1, offline)
}

// The full classroom scenario: a teacher opens a room, an outsider is turned
// away, gets enrolled out-of-band, joins, and both hear the teacher's chat.
func TestRouter_EndToEnd(t *testing.T) {
	router, _, gate, chats := newTestRouter()
	ctx := context.Background()

	teacher := &mockConn{id: "t", userID: 1}
	student := &mockConn{id: "s", userID: 2}

	gate.allow(1, 10)
	require.NoError(t, router.JoinRoom(ctx, teacher, 10))
	require.Equal(t, []string{TypeUserOnline}, teacher.frameTypes(t))

	err := router.SendChat(ctx, student, "let me in")
	assert.ErrorIs(t, err, domain.ErrNotMember)
	assert.Zero(t, chats.callCount())
	assert.Len(t, teacher.frames(t), 1, "nothing was delivered to the room")

	// Enrollment happens out-of-band; the gate is queried fresh on join.
	gate.allow(2, 10)
	require.NoError(t, router.JoinRoom(ctx, student, 10))
	assert.Contains(t, teacher.frameTypes(t), TypeUserOnline)

	require.NoError(t, router.SendChat(ctx, teacher, "hello"))

	for _, conn := range []*mockConn{teacher, student} {
		frames := conn.frames(t)
		last := frames[len(frames)-1]
		require.Equal(t, TypeChatMessage, last["type"])
		assert.EqualValues(t, 1, last["id"])
		assert.Equal(t, "hello", last["text"])
		assert.NotEmpty(t, last["sentAt"])
	}
}
