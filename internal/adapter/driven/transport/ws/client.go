// Package ws is the client end of the signaling websocket. It keeps one
// connection open, redialling with exponential backoff whenever it drops.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/call"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Identity is sent on every dial so the server registers the user afresh
// after a reconnect.
type Identity struct {
	UserID domain.UserID
	Name   string
	Avatar string
}

type Options struct {
	WriteWait  time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer

	// Callbacks run on the read goroutine.
	OnConnect    func()
	OnMessage    func(frame []byte)
	OnDisconnect func(err error)
}

func DefaultOptions() Options {
	return Options{
		WriteWait:  10 * time.Second,
		MinBackoff: 250 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
		Dialer:     websocket.DefaultDialer,
	}
}

// Client implements call.Sender over a reconnecting websocket. Nothing is
// buffered while the connection is down.
type Client struct {
	url  string
	opts Options

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ call.Sender = (*Client)(nil)

func NewClient(serverURL string, id Identity, opts Options) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if id.UserID == "" {
		return nil, errors.New("user id is required")
	}
	q := u.Query()
	q.Set("user_id", id.UserID.String())
	if id.Name != "" {
		q.Set("name", id.Name)
	}
	if id.Avatar != "" {
		q.Set("avatar", id.Avatar)
	}
	u.RawQuery = q.Encode()

	def := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = def.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(def.MaxBackoff, opts.MinBackoff)
	}
	if opts.Dialer == nil {
		opts.Dialer = def.Dialer
	}
	return &Client{url: u.String(), opts: opts}, nil
}

func (c *Client) Send(ctx context.Context, ev domain.Event) error {
	frame, err := domain.Encode(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrTransportDisconnect
	}
	deadline := time.Now().Add(c.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportDisconnect, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		// The read loop notices the broken socket and redials.
		_ = c.conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrTransportDisconnect, err)
	}
	return nil
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run dials and serves the connection until ctx is done, redialling after
// every drop. The backoff resets once a dial succeeds.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			backoff = c.opts.MinBackoff
		} else {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("Signaling connection failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

// session runs one connection. It returns nil if the dial succeeded and the
// socket later dropped, the dial error otherwise.
func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	log.Info().Str("url", c.url).Msg("Signaling connected")
	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	})
	defer stop()

	var readErr error
	for {
		typ, frame, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if typ != websocket.TextMessage {
			continue
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(frame)
		}
	}

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close()

	if ctx.Err() == nil {
		log.Warn().Err(readErr).Msg("Signaling connection lost")
	}
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(readErr)
	}
	return nil
}
