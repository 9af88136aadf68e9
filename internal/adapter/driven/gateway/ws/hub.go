package ws

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub tracks the connections of this process, one live connection per user,
// and implements port.RealTimeGateway for them.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.ConnectionID]Client
	users   map[domain.UserID]domain.ConnectionID
	stopped bool
}

var _ port.RealTimeGateway = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients: make(map[domain.ConnectionID]Client),
		users:   make(map[domain.UserID]domain.ConnectionID),
	}
}

// Register makes c the live connection of its user and returns the
// connection it replaced, if any. After Stop, c is registered but closed
// right away so its read loop ends and cleans up.
func (h *Hub) Register(c Client) (previous Client) {
	h.mu.Lock()
	defer func() {
		stopped := h.stopped
		h.mu.Unlock()
		if stopped {
			c.Close(websocket.CloseGoingAway, "server shutdown")
		}
	}()

	if id, ok := h.users[c.UserID()]; ok {
		previous = h.clients[id]
	}
	h.clients[c.ID()] = c
	h.users[c.UserID()] = c.ID()
	log.Info().Str("client_id", c.ID().String()).Str("user_id", c.UserID().String()).Int("count", len(h.clients)).Msg("Client registered")
	return previous
}

// Unregister forgets c and reports whether it was still its user's live
// connection.
func (h *Hub) Unregister(c Client) (wasLive bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID()]; !ok {
		return false
	}
	delete(h.clients, c.ID())
	if h.users[c.UserID()] == c.ID() {
		delete(h.users, c.UserID())
		wasLive = true
	}
	log.Info().Str("client_id", c.ID().String()).Int("count", len(h.clients)).Msg("Client unregistered")
	return wasLive
}

func (h *Hub) SendToUser(ctx context.Context, userID domain.UserID, ev domain.Event) error {
	frame, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	if !h.DeliverToUser(userID, frame) {
		return domain.ErrUserNotFound
	}
	return nil
}

func (h *Hub) SendToConnection(ctx context.Context, connID domain.ConnectionID, ev domain.Event) error {
	frame, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	if !h.DeliverToConnection(connID, frame) {
		return domain.ErrUserNotFound
	}
	return nil
}

func (h *Hub) Broadcast(ctx context.Context, ev domain.Event, exclude domain.UserID) error {
	frame, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	h.BroadcastFrame(frame, exclude)
	return nil
}

// DeliverToUser writes an encoded frame to the user's live connection.
func (h *Hub) DeliverToUser(userID domain.UserID, frame []byte) bool {
	h.mu.RLock()
	id, ok := h.users[userID]
	c := h.clients[id]
	h.mu.RUnlock()
	if !ok || c == nil {
		return false
	}
	return h.write(c, frame)
}

func (h *Hub) DeliverToConnection(connID domain.ConnectionID, frame []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.write(c, frame)
}

// BroadcastFrame writes frame to every live connection except exclude's and
// returns how many accepted it.
func (h *Hub) BroadcastFrame(frame []byte, exclude domain.UserID) int {
	h.mu.RLock()
	targets := make([]Client, 0, len(h.users))
	for userID, id := range h.users {
		if userID == exclude {
			continue
		}
		if c := h.clients[id]; c != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if h.write(c, frame) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) write(c Client, frame []byte) bool {
	if err := c.Send(frame); err != nil {
		log.Error().Err(err).Str("client_id", c.ID().String()).Msg("Error sending frame")
		return false
	}
	return true
}

// Stop closes every connection and refuses new ones. Connections stay
// registered so that each read loop's own cleanup unregisters its user.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	clients := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}
