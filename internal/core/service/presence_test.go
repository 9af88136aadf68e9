package service

import (
	"context"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAnnouncesOnceAndRepliesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.online(t, "alice", "bob")

	newUsers := eventsOf[domain.NewUser](h.gateway.events("alice"))
	require.Len(t, newUsers, 1)
	assert.Equal(t, domain.UserID("bob"), newUsers[0].User.UserID)
	assert.Empty(t, eventsOf[domain.NewUser](h.gateway.events("bob")), "no self announcement")

	snap := eventsOf[domain.AllUsers](h.gateway.byConn[h.conns["bob"]])
	require.Len(t, snap, 1)
	assert.Len(t, snap[0].Users, 2)

	// A reconnect refreshes the connection without a second announcement.
	h.gateway.reset()
	h.online(t, "bob")
	assert.Empty(t, eventsOf[domain.NewUser](h.gateway.events("alice")))
	assert.Len(t, eventsOf[domain.AllUsers](h.gateway.byConn[h.conns["bob"]]), 1)

	u, err := h.presence.Lookup(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, h.conns["bob"], u.ConnectionID)
}

func TestUnregisterIgnoresStaleConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.online(t, "alice", "bob")
	stale := h.conns["bob"]
	h.online(t, "bob")
	h.gateway.reset()

	removed, err := h.presence.Unregister(ctx, "bob", stale)
	require.NoError(t, err)
	assert.False(t, removed)
	online, err := h.presence.IsOnline(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, online)
	assert.Empty(t, h.gateway.events("alice"))

	removed, err = h.presence.Unregister(ctx, "bob", h.conns["bob"])
	require.NoError(t, err)
	assert.True(t, removed)
	online, err = h.presence.IsOnline(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, online)

	gone := eventsOf[domain.UserDisconnect](h.gateway.events("alice"))
	require.Len(t, gone, 1)
	assert.Equal(t, domain.UserID("bob"), gone[0].UserID)

	// Duplicate disconnect signals are no-ops.
	h.gateway.reset()
	removed, err = h.presence.Unregister(ctx, "bob", h.conns["bob"])
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, h.gateway.events("alice"))
}
