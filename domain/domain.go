package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotMember reports a failed class membership check. It is surfaced to the
// requesting connection only and never disconnects it.
var ErrNotMember = errors.New("not a member of this class")

type Role int

const (
	RoleStudent Role = 1
	RoleTeacher Role = 2
)

func (r Role) String() string {
	if r == RoleTeacher {
		return "Teacher"
	}
	return "Student"
}

type User struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}

type ClassRoom struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	TeacherID int    `json:"teacherId"`
	RoomURL   string `json:"roomUrl"`
}

type Message struct {
	ID       int       `json:"id"`
	ClassID  int       `json:"classId"`
	UserID   int       `json:"userId"`
	UserName string    `json:"userName"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// ClearColor is the reserved stroke color that tells clients to wipe the
// board instead of drawing a segment. It is relayed verbatim.
const ClearColor = "__clear__"

type DrawEvent struct {
	ClassID   int     `json:"classId"`
	X1        float64 `json:"x1"`
	Y1        float64 `json:"y1"`
	X2        float64 `json:"x2"`
	Y2        float64 `json:"y2"`
	Color     string  `json:"color"`
	LineWidth float64 `json:"lineWidth"`
}

// Connection is one live transport session from one client. A user may hold
// several at once (two tabs). The transport layer resolves the user before
// the hub ever sees the connection.
type Connection interface {
	ID() string
	UserID() int
	Send(data []byte) error
	Close() error
}

// MembershipGate answers whether a user currently belongs to a class. The
// answer is never cached by the hub; membership can change out-of-band at any
// time. A false result and an error are distinct outcomes: the first means
// "you may not", the second "the backend could not tell".
type MembershipGate interface {
	IsMember(ctx context.Context, userID, classID int) (bool, error)
}

// ChatStore persists a chat message and returns the authoritative record
// (server-assigned id, sender display name, timestamp).
type ChatStore interface {
	SaveMessage(ctx context.Context, userID, classID int, text string) (Message, error)
}

// SessionHandler is the hub-facing surface the transport layer drives: one
// call on accept, one per inbound frame, one on teardown.
type SessionHandler interface {
	Connect(ctx context.Context, conn Connection, classID int)
	Handle(ctx context.Context, conn Connection, data []byte)
	Disconnect(conn Connection)
}
