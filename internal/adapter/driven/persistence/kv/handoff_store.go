// Package kv stores pending chat handoffs in any port.KeyValueStore.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const handoffKeyPrefix = "handoff:"

// HandoffStore keeps one record per recipient under handoff:<userId>. A new
// handoff for the same recipient replaces the previous one.
type HandoffStore struct {
	kv  port.KeyValueStore
	ttl time.Duration
}

var _ port.HandoffStore = (*HandoffStore)(nil)

// NewHandoffStore returns a store whose records expire after ttl. A ttl <= 0
// keeps records until they are consumed.
func NewHandoffStore(kv port.KeyValueStore, ttl time.Duration) *HandoffStore {
	return &HandoffStore{kv: kv, ttl: ttl}
}

func HandoffKey(userID domain.UserID) string {
	return handoffKeyPrefix + userID.String()
}

func (s *HandoffStore) Put(ctx context.Context, h domain.PendingChatHandoff) error {
	b, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode handoff: %w", err)
	}
	return s.kv.Set(ctx, HandoffKey(h.ToUserID), string(b), s.ttl)
}

func (s *HandoffStore) Take(ctx context.Context, userID domain.UserID) (domain.PendingChatHandoff, error) {
	raw, err := s.kv.Take(ctx, HandoffKey(userID))
	if errors.Is(err, port.ErrMiss) {
		return domain.PendingChatHandoff{}, domain.ErrHandoffMissing
	}
	if err != nil {
		return domain.PendingChatHandoff{}, err
	}
	var h domain.PendingChatHandoff
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return domain.PendingChatHandoff{}, fmt.Errorf("decode handoff: %w", err)
	}
	return h, nil
}
