package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// RoomRepository keeps call rooms in process memory. Rooms are per process
// by nature: their members' sockets live here.
type RoomRepository struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.CallRoom
}

func NewRoomRepository() *RoomRepository {
	return &RoomRepository{
		rooms: make(map[domain.RoomID]*domain.CallRoom),
	}
}

func (r *RoomRepository) Save(ctx context.Context, room *domain.CallRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
	return nil
}

func (r *RoomRepository) Get(ctx context.Context, id domain.RoomID) (*domain.CallRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (r *RoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, id)
	return nil
}

func (r *RoomRepository) ListByUser(ctx context.Context, userID domain.UserID) ([]*domain.CallRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.CallRoom
	for _, room := range r.rooms {
		if room.Has(userID) || room.IsInvited(userID) {
			out = append(out, room)
		}
	}
	return out, nil
}
