package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type PresenceStore struct {
	mu    sync.RWMutex
	users map[domain.UserID]domain.OnlineUser
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		users: make(map[domain.UserID]domain.OnlineUser),
	}
}

func (s *PresenceStore) Upsert(ctx context.Context, user domain.OnlineUser) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.users[user.UserID]
	s.users[user.UserID] = user
	return existed, nil
}

func (s *PresenceStore) Remove(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.ConnectionID != connID {
		return false, nil
	}
	delete(s.users, userID)
	return true, nil
}

func (s *PresenceStore) Get(ctx context.Context, userID domain.UserID) (domain.OnlineUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.OnlineUser{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *PresenceStore) List(ctx context.Context) ([]domain.OnlineUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OnlineUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
