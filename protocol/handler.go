package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"classin-server/domain"
)

// Handler decodes inbound frames, dispatches them to the router and turns
// rejected operations into error frames for the issuing connection. It is
// the domain.SessionHandler the transport layer drives.
type Handler struct {
	router *Router
}

func NewHandler(router *Router) *Handler {
	return &Handler{router: router}
}

func (h *Handler) Connect(ctx context.Context, conn domain.Connection, classID int) {
	h.router.Connect(ctx, conn, classID)
}

func (h *Handler) Disconnect(conn domain.Connection) {
	h.router.Disconnect(conn)
}

func (h *Handler) Handle(ctx context.Context, conn domain.Connection, data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		slog.Warn("invalid frame", "connId", conn.ID(), "error", err)
		return
	}

	switch in.Type {
	case TypeJoin:
		if err := h.router.JoinRoom(ctx, conn, in.ClassID); err != nil {
			h.reject(conn, "join-room", err)
		}
	case TypeChat:
		if err := h.router.SendChat(ctx, conn, in.Text); err != nil {
			h.reject(conn, "send-chat", err)
		}
	case TypeDraw:
		stroke := domain.DrawEvent{
			ClassID:   in.ClassID,
			X1:        in.X1,
			Y1:        in.Y1,
			X2:        in.X2,
			Y2:        in.Y2,
			Color:     in.Color,
			LineWidth: in.LineWidth,
		}
		if err := h.router.SendDraw(ctx, conn, stroke); err != nil {
			h.reject(conn, "send-draw", err)
		}
	default:
		slog.Warn("unknown frame type", "connId", conn.ID(), "type", in.Type)
	}
}

// reject reports a failed operation back to the issuing connection only.
// The connection stays open.
func (h *Handler) reject(conn domain.Connection, op string, err error) {
	code := CodeUpstream
	if errors.Is(err, domain.ErrNotMember) {
		code = CodeForbidden
	}
	slog.Debug("operation rejected", "op", op, "connId", conn.ID(), "code", code, "error", err)
	if data, mErr := json.Marshal(ErrorEvent{Type: TypeError, Op: op, Code: code, Message: err.Error()}); mErr == nil {
		conn.Send(data)
	}
}
