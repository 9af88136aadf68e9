package port

import (
	"context"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// KeyValueStore is the external key-value collaborator. Values are opaque
// strings. Get and Take return ErrMiss for an absent key so callers can tell
// a miss from a transport error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key. A ttl <= 0 means no expiration.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	// Take atomically reads and deletes key.
	Take(ctx context.Context, key string) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss is returned by KeyValueStore adapters for an absent key.
var ErrMiss = errMiss{}

type errMiss struct{}

func (errMiss) Error() string { return "kv: miss" }

type PresenceStore interface {
	// Upsert stores user and reports whether an entry already existed.
	Upsert(ctx context.Context, user domain.OnlineUser) (existed bool, err error)
	// Remove deletes the entry for userID only if it still belongs to connID.
	Remove(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) (removed bool, err error)
	Get(ctx context.Context, userID domain.UserID) (domain.OnlineUser, error)
	List(ctx context.Context) ([]domain.OnlineUser, error)
}

type HandoffStore interface {
	Put(ctx context.Context, h domain.PendingChatHandoff) error
	// Take returns and removes the record addressed to userID, or
	// domain.ErrHandoffMissing.
	Take(ctx context.Context, userID domain.UserID) (domain.PendingChatHandoff, error)
}

type RoomRepository interface {
	Save(ctx context.Context, room *domain.CallRoom) error
	Get(ctx context.Context, id domain.RoomID) (*domain.CallRoom, error)
	Delete(ctx context.Context, id domain.RoomID) error
	// ListByUser returns rooms where userID is a member or a ringing invitee.
	ListByUser(ctx context.Context, userID domain.UserID) ([]*domain.CallRoom, error)
}
