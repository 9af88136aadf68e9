package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	redis "github.com/redis/go-redis/v9"
)

const presenceKey = "presence:users"

// removeIfOwner deletes the hash field only when the stored entry still
// belongs to the given connection.
var removeIfOwner = redis.NewScript(`
local raw = redis.call("HGET", KEYS[1], ARGV[1])
if not raw then return 0 end
local entry = cjson.decode(raw)
if entry["connectionId"] ~= ARGV[2] then return 0 end
return redis.call("HDEL", KEYS[1], ARGV[1])
`)

// PresenceStore keeps every online user in one Redis hash keyed by user id.
type PresenceStore struct {
	client *redis.Client
}

var _ port.PresenceStore = (*PresenceStore)(nil)

func NewPresenceStore(client *redis.Client) *PresenceStore {
	return &PresenceStore{client: client}
}

func (s *PresenceStore) Upsert(ctx context.Context, user domain.OnlineUser) (bool, error) {
	b, err := json.Marshal(user)
	if err != nil {
		return false, fmt.Errorf("encode presence: %w", err)
	}
	// HSET returns the number of new fields: 0 means the user was present.
	added, err := s.client.HSet(ctx, presenceKey, user.UserID.String(), string(b)).Result()
	if err != nil {
		return false, err
	}
	return added == 0, nil
}

func (s *PresenceStore) Remove(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) (bool, error) {
	n, err := removeIfOwner.Run(ctx, s.client, []string{presenceKey}, userID.String(), connID.String()).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PresenceStore) Get(ctx context.Context, userID domain.UserID) (domain.OnlineUser, error) {
	raw, err := s.client.HGet(ctx, presenceKey, userID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return domain.OnlineUser{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.OnlineUser{}, err
	}
	var u domain.OnlineUser
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return domain.OnlineUser{}, fmt.Errorf("decode presence: %w", err)
	}
	return u, nil
}

func (s *PresenceStore) List(ctx context.Context) ([]domain.OnlineUser, error) {
	all, err := s.client.HGetAll(ctx, presenceKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.OnlineUser, 0, len(all))
	for field, raw := range all {
		var u domain.OnlineUser
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("decode presence %s: %w", field, err)
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
