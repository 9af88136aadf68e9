package memory

import (
	"context"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomRepositoryListByUserIncludesInvitees(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepository()

	room, err := domain.NewCallRoom("alice", []domain.UserID{"bob"}, domain.MediaSettings{Audio: true}, domain.ChatContext{})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, room))

	for _, u := range []domain.UserID{"alice", "bob"} {
		rooms, err := repo.ListByUser(ctx, u)
		require.NoError(t, err)
		require.Len(t, rooms, 1, u)
		assert.Equal(t, room.ID, rooms[0].ID)
	}

	rooms, err := repo.ListByUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, rooms)

	require.NoError(t, repo.Delete(ctx, room.ID))
	_, err = repo.Get(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.NoError(t, repo.Delete(ctx, room.ID))
}
