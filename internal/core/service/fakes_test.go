package service

import (
	"context"
	"sync"
	"testing"

	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/kv"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/stretchr/testify/require"
)

// recordingGateway delivers to any user present in the presence store and
// keeps every event it delivered.
type recordingGateway struct {
	mu       sync.Mutex
	presence port.PresenceStore
	byUser   map[domain.UserID][]domain.Event
	byConn   map[domain.ConnectionID][]domain.Event
	fail     map[domain.UserID]bool
}

func newRecordingGateway(presence port.PresenceStore) *recordingGateway {
	return &recordingGateway{
		presence: presence,
		byUser:   make(map[domain.UserID][]domain.Event),
		byConn:   make(map[domain.ConnectionID][]domain.Event),
		fail:     make(map[domain.UserID]bool),
	}
}

func (g *recordingGateway) SendToUser(ctx context.Context, userID domain.UserID, ev domain.Event) error {
	if _, err := g.presence.Get(ctx, userID); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail[userID] {
		return domain.ErrUserNotFound
	}
	g.byUser[userID] = append(g.byUser[userID], ev)
	return nil
}

func (g *recordingGateway) SendToConnection(ctx context.Context, connID domain.ConnectionID, ev domain.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byConn[connID] = append(g.byConn[connID], ev)
	return nil
}

func (g *recordingGateway) Broadcast(ctx context.Context, ev domain.Event, exclude domain.UserID) error {
	users, err := g.presence.List(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, u := range users {
		if u.UserID != exclude {
			g.byUser[u.UserID] = append(g.byUser[u.UserID], ev)
		}
	}
	return nil
}

func (g *recordingGateway) events(user domain.UserID) []domain.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Event(nil), g.byUser[user]...)
}

func (g *recordingGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byUser = make(map[domain.UserID][]domain.Event)
	g.byConn = make(map[domain.ConnectionID][]domain.Event)
}

// eventsOf filters the events of one concrete type.
func eventsOf[T domain.Event](evs []domain.Event) []T {
	var out []T
	for _, ev := range evs {
		if t, ok := ev.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

type harness struct {
	presenceStore *memory.PresenceStore
	handoffStore  *kv.HandoffStore
	rooms         *memory.RoomRepository
	gateway       *recordingGateway

	handoffs  *HandoffService
	presence  *PresenceService
	signaling *SignalingService

	conns map[domain.UserID]domain.ConnectionID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		presenceStore: memory.NewPresenceStore(),
		handoffStore:  kv.NewHandoffStore(memory.NewKeyValueStore(), 0),
		rooms:         memory.NewRoomRepository(),
		conns:         make(map[domain.UserID]domain.ConnectionID),
	}
	h.gateway = newRecordingGateway(h.presenceStore)
	h.handoffs = NewHandoffService(h.handoffStore, h.presenceStore, h.gateway)
	h.presence = NewPresenceService(h.presenceStore, h.gateway, h.handoffs)
	h.signaling = NewSignalingService(h.rooms, h.presenceStore, h.gateway)
	return h
}

func (h *harness) online(t *testing.T, users ...domain.UserID) {
	t.Helper()
	for _, u := range users {
		conn := domain.NewConnectionID()
		h.conns[u] = conn
		user, err := domain.NewOnlineUser(u, conn, domain.Profile{})
		require.NoError(t, err)
		require.NoError(t, h.presence.Register(context.Background(), *user))
	}
}

func (h *harness) offline(t *testing.T, user domain.UserID) {
	t.Helper()
	_, err := h.presence.Unregister(context.Background(), user, h.conns[user])
	require.NoError(t, err)
}
