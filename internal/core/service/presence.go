package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// PresenceService is the registry of connected users.
type PresenceService struct {
	store    port.PresenceStore
	gateway  port.RealTimeGateway
	handoffs *HandoffService
}

func NewPresenceService(store port.PresenceStore, gateway port.RealTimeGateway, handoffs *HandoffService) *PresenceService {
	return &PresenceService{
		store:    store,
		gateway:  gateway,
		handoffs: handoffs,
	}
}

// Register upserts user, announces it to everyone else the first time it
// appears, replies with the online snapshot and replays pending handoffs.
// Registering again (a reconnect) only refreshes the connection and replies.
func (s *PresenceService) Register(ctx context.Context, user domain.OnlineUser) error {
	l := log.With().Str("user_id", user.UserID.String()).Str("conn_id", user.ConnectionID.String()).Logger()

	existed, err := s.store.Upsert(ctx, user)
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}

	if !existed {
		if err := s.gateway.Broadcast(ctx, domain.NewUser{User: user}, user.UserID); err != nil {
			l.Error().Err(err).Msg("Failed to broadcast new user")
		}
	}

	snapshot, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list presence: %w", err)
	}
	if err := s.gateway.SendToConnection(ctx, user.ConnectionID, domain.AllUsers{Users: snapshot}); err != nil {
		l.Warn().Err(err).Msg("Failed to send online snapshot")
	}

	if s.handoffs != nil {
		if err := s.handoffs.Replay(ctx, user.UserID); err != nil {
			l.Error().Err(err).Msg("Failed to replay handoff")
		}
	}

	l.Info().Bool("reconnect", existed).Int("online", len(snapshot)).Msg("User registered")
	return nil
}

// Unregister removes userID if connID is still its live connection and
// reports whether it did. Duplicate or stale disconnect signals are no-ops.
func (s *PresenceService) Unregister(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) (bool, error) {
	removed, err := s.store.Remove(ctx, userID, connID)
	if err != nil {
		return false, fmt.Errorf("remove presence: %w", err)
	}
	if !removed {
		return false, nil
	}
	if err := s.gateway.Broadcast(ctx, domain.UserDisconnect{UserID: userID}, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to broadcast disconnect")
	}
	log.Info().Str("user_id", userID.String()).Msg("User unregistered")
	return true, nil
}

func (s *PresenceService) Snapshot(ctx context.Context) ([]domain.OnlineUser, error) {
	return s.store.List(ctx)
}

func (s *PresenceService) Lookup(ctx context.Context, userID domain.UserID) (domain.OnlineUser, error) {
	return s.store.Get(ctx, userID)
}

func (s *PresenceService) IsOnline(ctx context.Context, userID domain.UserID) (bool, error) {
	_, err := s.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
