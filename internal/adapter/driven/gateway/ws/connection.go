package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
)

var ErrSendBufferFull = errors.New("connection send buffer full")

type ConnectionOptions struct {
	WriteWait   time.Duration
	PingPeriod  time.Duration
	SendBacklog int
}

func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		WriteWait:   10 * time.Second,
		PingPeriod:  30 * time.Second,
		SendBacklog: 128,
	}
}

// Connection wraps a websocket and funnels every outbound frame through a
// single write loop. It is safe for concurrent use.
type Connection struct {
	id     domain.ConnectionID
	userID domain.UserID
	opts   ConnectionOptions

	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

var _ Client = (*Connection)(nil)

func NewConnection(userID domain.UserID, ws *websocket.Conn, opts ConnectionOptions) *Connection {
	return &Connection{
		id:     domain.NewConnectionID(),
		userID: userID,
		opts:   opts,
		ws:     ws,
		send:   make(chan []byte, opts.SendBacklog),
		close:  make(chan struct{}),
	}
}

func (c *Connection) ID() domain.ConnectionID { return c.id }

func (c *Connection) UserID() domain.UserID { return c.userID }

// Start launches the write loop. It must be called exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues frame. A client too slow to drain its backlog is closed so
// one stuck socket cannot stall signaling for everyone else.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.close:
		return domain.ErrTransportDisconnect
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrSendBufferFull
	}
}

func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
