package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallRoomJoinReturnsExistingMembersInOrder(t *testing.T) {
	room, err := NewCallRoom("alice", []UserID{"bob", "carol"}, MediaSettings{Audio: true}, ChatContext{})
	require.NoError(t, err)

	existing, joined := room.Join("bob")
	require.True(t, joined)
	assert.Equal(t, []UserID{"alice"}, existing)

	existing, joined = room.Join("carol")
	require.True(t, joined)
	assert.Equal(t, []UserID{"alice", "bob"}, existing)

	assert.Equal(t, []UserID{"alice", "bob", "carol"}, room.Members())
	assert.Empty(t, room.Invited())
}

func TestCallRoomDoubleJoinIsNoop(t *testing.T) {
	room, err := NewCallRoom("alice", []UserID{"bob"}, MediaSettings{Audio: true}, ChatContext{})
	require.NoError(t, err)

	_, joined := room.Join("bob")
	require.True(t, joined)

	existing, joined := room.Join("bob")
	assert.False(t, joined)
	assert.Nil(t, existing)
	assert.Len(t, room.Members(), 2)
}

func TestCallRoomInitiatorHandoverOnLeave(t *testing.T) {
	room, err := NewCallRoom("alice", []UserID{"bob", "carol"}, MediaSettings{Audio: true}, ChatContext{})
	require.NoError(t, err)
	room.Join("bob")
	room.Join("carol")

	remaining, left := room.Leave("alice")
	require.True(t, left)
	assert.Equal(t, []UserID{"bob", "carol"}, remaining)
	assert.Equal(t, UserID("bob"), room.InitiatorID)
	assert.True(t, room.Has(room.InitiatorID))
	assert.False(t, room.Ended())

	remaining, _ = room.Leave("carol")
	assert.Equal(t, []UserID{"bob"}, remaining)
	assert.True(t, room.Ended())
}

func TestCallRoomEndsWhenEveryInviteeDeclines(t *testing.T) {
	room, err := NewCallRoom("alice", []UserID{"bob", "carol"}, MediaSettings{Video: true}, ChatContext{})
	require.NoError(t, err)

	assert.True(t, room.Decline("bob"))
	assert.False(t, room.Decline("bob"))
	assert.False(t, room.Ended())

	assert.True(t, room.Decline("carol"))
	assert.True(t, room.Ended())
	assert.False(t, room.Accepted())
}

func TestNewCallRoomRejectsSelfOnlyTargets(t *testing.T) {
	_, err := NewCallRoom("alice", []UserID{"alice"}, MediaSettings{Audio: true}, ChatContext{})
	assert.Error(t, err)

	_, err = NewCallRoom("", []UserID{"bob"}, MediaSettings{Audio: true}, ChatContext{})
	assert.Error(t, err)
}

func TestCallRoomStateRestoresBehaviour(t *testing.T) {
	room, err := NewCallRoom("alice", []UserID{"bob", "carol"}, MediaSettings{Audio: true}, ChatContext{ChatID: "c1"})
	require.NoError(t, err)
	room.Join("bob")

	raw, err := json.Marshal(room.State())
	require.NoError(t, err)
	var st CallRoomState
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, []UserID{"alice", "bob", "carol"}, st.Participants())

	restored := RestoreCallRoom(st)
	assert.Equal(t, room.ID, restored.ID)
	assert.True(t, restored.Accepted())
	assert.True(t, restored.IsInvited("carol"))
	assert.Equal(t, []UserID{"alice", "bob"}, restored.Members())

	restored.Leave("alice")
	assert.True(t, restored.Ended())
	assert.False(t, room.Ended(), "restored room must not share state")
}
