package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// HandoffService carries provisional chat ids between users, parking them in
// the handoff store while the recipient is offline.
type HandoffService struct {
	store    port.HandoffStore
	presence port.PresenceStore
	gateway  port.RealTimeGateway
}

func NewHandoffService(store port.HandoffStore, presence port.PresenceStore, gateway port.RealTimeGateway) *HandoffService {
	return &HandoffService{
		store:    store,
		presence: presence,
		gateway:  gateway,
	}
}

// SetTempChatID relays the chat id to `to` when it is online, otherwise
// stores it until `to` registers again.
func (s *HandoffService) SetTempChatID(ctx context.Context, from domain.UserID, chatID string, to domain.UserID) error {
	h, err := domain.NewPendingChatHandoff(chatID, from, to)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	if _, err := s.presence.Get(ctx, to); err == nil {
		err := s.gateway.SendToUser(ctx, to, handoffEvent(*h))
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			return fmt.Errorf("relay handoff: %w", err)
		}
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return fmt.Errorf("lookup recipient: %w", err)
	}

	if err := s.store.Put(ctx, *h); err != nil {
		return fmt.Errorf("store handoff: %w", err)
	}
	log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Handoff parked for offline recipient")
	return nil
}

// Replay consumes the record addressed to registrant and hands it back to
// the original sender. A sender that is gone loses the record.
func (s *HandoffService) Replay(ctx context.Context, registrant domain.UserID) error {
	h, err := s.store.Take(ctx, registrant)
	if errors.Is(err, domain.ErrHandoffMissing) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("take handoff: %w", err)
	}

	l := log.With().Str("from", h.FromUserID.String()).Str("to", h.ToUserID.String()).Logger()

	if _, err := s.presence.Get(ctx, h.FromUserID); err != nil {
		l.Warn().Err(err).Msg("Handoff sender offline, dropping record")
		return nil
	}
	if err := s.gateway.SendToUser(ctx, h.FromUserID, handoffEvent(h)); err != nil {
		l.Warn().Err(err).Msg("Handoff replay failed, dropping record")
		return nil
	}
	l.Debug().Msg("Handoff replayed")
	return nil
}

func handoffEvent(h domain.PendingChatHandoff) domain.TempChatID {
	return domain.TempChatID{
		ChatID: h.ChatID,
		From:   h.FromUserID,
		To:     h.ToUserID,
	}
}
