package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	redis "github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix     = "room:"
	userRoomKeyPrefix = "user-rooms:"
)

// RoomRepository shares call rooms between server processes. Each room is a
// JSON value and every participant has a set of the rooms it belongs to.
//
// TODO: guard Save with WATCH on the room key; today two processes mutating
// the same room at once can lose an update.
type RoomRepository struct {
	client *redis.Client
}

var _ port.RoomRepository = (*RoomRepository)(nil)

func NewRoomRepository(client *redis.Client) *RoomRepository {
	return &RoomRepository{client: client}
}

func roomKey(id domain.RoomID) string     { return roomKeyPrefix + id.String() }
func userRoomsKey(u domain.UserID) string { return userRoomKeyPrefix + u.String() }

func (r *RoomRepository) Save(ctx context.Context, room *domain.CallRoom) error {
	st := room.State()
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}

	var gone []domain.UserID
	prev, err := r.state(ctx, room.ID)
	switch {
	case err == nil:
		now := st.Participants()
		for _, u := range prev.Participants() {
			if !slices.Contains(now, u) {
				gone = append(gone, u)
			}
		}
	case !errors.Is(err, domain.ErrRoomNotFound):
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(room.ID), b, 0)
		for _, u := range st.Participants() {
			pipe.SAdd(ctx, userRoomsKey(u), room.ID.String())
		}
		for _, u := range gone {
			pipe.SRem(ctx, userRoomsKey(u), room.ID.String())
		}
		return nil
	})
	return err
}

func (r *RoomRepository) Get(ctx context.Context, id domain.RoomID) (*domain.CallRoom, error) {
	st, err := r.state(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.RestoreCallRoom(st), nil
}

func (r *RoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	st, err := r.state(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(id))
		for _, u := range st.Participants() {
			pipe.SRem(ctx, userRoomsKey(u), id.String())
		}
		return nil
	})
	return err
}

func (r *RoomRepository) ListByUser(ctx context.Context, userID domain.UserID) ([]*domain.CallRoom, error) {
	ids, err := r.client.SMembers(ctx, userRoomsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)

	var out []*domain.CallRoom
	for _, raw := range ids {
		var id domain.RoomID
		if err := id.UnmarshalText([]byte(raw)); err != nil {
			continue
		}
		room, err := r.Get(ctx, id)
		if errors.Is(err, domain.ErrRoomNotFound) {
			// Index entry outlived its room.
			r.client.SRem(ctx, userRoomsKey(userID), raw)
			continue
		}
		if err != nil {
			return nil, err
		}
		if room.Has(userID) || room.IsInvited(userID) {
			out = append(out, room)
		}
	}
	return out, nil
}

func (r *RoomRepository) state(ctx context.Context, id domain.RoomID) (domain.CallRoomState, error) {
	raw, err := r.client.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CallRoomState{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.CallRoomState{}, err
	}
	var st domain.CallRoomState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.CallRoomState{}, fmt.Errorf("decode room %s: %w", id, err)
	}
	return st, nil
}
