package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"classin-server/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Conn adapts one gorilla websocket connection to domain.Connection. Writes
// go through a buffered channel drained by a single writer goroutine, so
// events handed to Send are delivered in order and a slow peer fails fast
// instead of blocking the hub.
type Conn struct {
	id      string
	userID  int
	ws      *websocket.Conn
	send    chan []byte
	session domain.SessionHandler
}

func NewConn(id string, userID int, ws *websocket.Conn, session domain.SessionHandler) *Conn {
	return &Conn{
		id:      id,
		userID:  userID,
		ws:      ws,
		send:    make(chan []byte, 256),
		session: session,
	}
}

func (c *Conn) ID() string  { return c.id }
func (c *Conn) UserID() int { return c.userID }

func (c *Conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Start hands the connection to the hub (auto-joining classID when it is a
// valid room hint) and runs the pumps. It returns when the read pump does.
func (c *Conn) Start(ctx context.Context, classID int) {
	c.session.Connect(ctx, c, classID)
	go c.writePump()
	c.readPump(ctx)
}

func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.session.Disconnect(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "connId", c.id, "error", err)
			}
			return
		}

		c.session.Handle(ctx, c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
