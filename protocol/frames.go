// Package protocol defines the wire format spoken over a live connection and
// the router that turns inbound frames into hub mutations and broadcasts.
package protocol

import "classin-server/domain"

// Client -> server frame types.
const (
	TypeJoin = "join"
	TypeChat = "chat"
	TypeDraw = "draw"
)

// Server -> client frame types.
const (
	TypeUserOnline  = "user-online"
	TypeUserOffline = "user-offline"
	TypeChatMessage = "chat-message"
	TypeDrawStroke  = "draw-stroke"
	TypeError       = "error"
)

// Error codes let clients tell "you may not" from "try again".
const (
	CodeForbidden = "forbidden"
	CodeUpstream  = "upstream"
)

// Inbound is the flat shape of every client frame; which fields matter
// depends on Type.
type Inbound struct {
	Type      string  `json:"type"`
	ClassID   int     `json:"classId,omitempty"`
	Text      string  `json:"text,omitempty"`
	X1        float64 `json:"x1,omitempty"`
	Y1        float64 `json:"y1,omitempty"`
	X2        float64 `json:"x2,omitempty"`
	Y2        float64 `json:"y2,omitempty"`
	Color     string  `json:"color,omitempty"`
	LineWidth float64 `json:"lineWidth,omitempty"`
}

// UserEvent announces a user coming online or going offline in a room.
type UserEvent struct {
	Type   string `json:"type"`
	UserID int    `json:"userId"`
}

// ChatEvent carries a persisted message back out to the room.
type ChatEvent struct {
	Type string `json:"type"`
	domain.Message
}

// StrokeEvent relays a whiteboard stroke (or the clear-board sentinel)
// verbatim to the other members of the room.
type StrokeEvent struct {
	Type string `json:"type"`
	domain.DrawEvent
}

// ErrorEvent reports a rejected operation to the connection that issued it.
type ErrorEvent struct {
	Type    string `json:"type"`
	Op      string `json:"op"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
