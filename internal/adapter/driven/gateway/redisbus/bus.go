// Package redisbus spreads signaling events across server processes. Each
// process delivers to its own sockets first and publishes the frame for the
// others; every subscriber delivers to whatever sockets it holds.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultChannel = "yacall:events"

// Local is the process-local delivery surface, implemented by ws.Hub.
type Local interface {
	DeliverToUser(userID domain.UserID, frame []byte) bool
	DeliverToConnection(connID domain.ConnectionID, frame []byte) bool
	BroadcastFrame(frame []byte, exclude domain.UserID) int
}

type message struct {
	Origin    string               `json:"origin"`
	To        domain.UserID        `json:"to,omitempty"`
	Conn      *domain.ConnectionID `json:"conn,omitempty"`
	Broadcast bool                 `json:"broadcast,omitempty"`
	Exclude   domain.UserID        `json:"exclude,omitempty"`
	Frame     json.RawMessage      `json:"frame"`
}

// Gateway implements port.RealTimeGateway on top of a Local delivery and a
// Redis pub/sub channel.
type Gateway struct {
	origin   string
	channel  string
	client   *redis.Client
	local    Local
	presence port.PresenceStore
}

var _ port.RealTimeGateway = (*Gateway)(nil)

// New builds a gateway. presence answers whether a user that is not local is
// connected anywhere at all.
func New(client *redis.Client, channel string, local Local, presence port.PresenceStore) *Gateway {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Gateway{
		origin:   uuid.NewString(),
		channel:  channel,
		client:   client,
		local:    local,
		presence: presence,
	}
}

func (g *Gateway) SendToUser(ctx context.Context, userID domain.UserID, ev domain.Event) error {
	frame, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	if g.local.DeliverToUser(userID, frame) {
		return nil
	}
	if _, err := g.presence.Get(ctx, userID); err != nil {
		return err
	}
	return g.publish(ctx, message{To: userID, Frame: frame})
}

func (g *Gateway) SendToConnection(ctx context.Context, connID domain.ConnectionID, ev domain.Event) error {
	frame, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	if g.local.DeliverToConnection(connID, frame) {
		return nil
	}
	return g.publish(ctx, message{Conn: &connID, Frame: frame})
}

func (g *Gateway) Broadcast(ctx context.Context, ev domain.Event, exclude domain.UserID) error {
	frame, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	g.local.BroadcastFrame(frame, exclude)
	return g.publish(ctx, message{Broadcast: true, Exclude: exclude, Frame: frame})
}

func (g *Gateway) publish(ctx context.Context, m message) error {
	m.Origin = g.origin
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode bus message: %w", err)
	}
	return g.client.Publish(ctx, g.channel, b).Err()
}

// Run delivers frames published by other processes until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	sub := g.client.Subscribe(ctx, g.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", g.channel, err)
	}
	log.Info().Str("channel", g.channel).Str("origin", g.origin).Msg("Event bus subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			g.dispatch([]byte(msg.Payload))
		}
	}
}

func (g *Gateway) dispatch(payload []byte) {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed bus message")
		return
	}
	if m.Origin == g.origin {
		return
	}
	switch {
	case m.Broadcast:
		g.local.BroadcastFrame(m.Frame, m.Exclude)
	case m.Conn != nil:
		g.local.DeliverToConnection(*m.Conn, m.Frame)
	case m.To != "":
		g.local.DeliverToUser(m.To, m.Frame)
	}
}
