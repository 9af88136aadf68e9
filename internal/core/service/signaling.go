package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// SignalingService relays call lifecycle and negotiation events between
// room members. It owns room membership; it never looks inside SDP or ICE
// payloads beyond the shape checks done at decode time.
type SignalingService struct {
	// mu serialises room mutation so fan-out order matches membership order.
	mu sync.Mutex

	rooms    port.RoomRepository
	presence port.PresenceStore
	gateway  port.RealTimeGateway
}

func NewSignalingService(rooms port.RoomRepository, presence port.PresenceStore, gateway port.RealTimeGateway) *SignalingService {
	return &SignalingService{
		rooms:    rooms,
		presence: presence,
		gateway:  gateway,
	}
}

// InitiateCall rings every present target. Absent targets are reported back
// to the initiator with PEER_UNREACHABLE; when nobody can be rung no room is
// created and domain.ErrPeerUnreachable is returned.
func (s *SignalingService) InitiateCall(ctx context.Context, initiator domain.UserID, req domain.CallRequest) (domain.RoomID, error) {
	caller, err := s.presence.Get(ctx, initiator)
	if err != nil {
		return domain.RoomID{}, fmt.Errorf("initiator: %w", err)
	}

	l := log.With().Str("initiator", initiator.String()).Logger()

	var present, absent []domain.UserID
	for _, target := range dedupe(req.Targets) {
		if target == initiator {
			continue
		}
		if _, err := s.presence.Get(ctx, target); err != nil {
			l.Info().Str("target", target.String()).Msg("Call target not present")
			absent = append(absent, target)
			continue
		}
		present = append(present, target)
	}

	if len(present) == 0 {
		var requested domain.RoomID
		if req.RoomID != nil {
			requested = *req.RoomID
		}
		s.reportUnreachable(ctx, initiator, requested, absent, true)
		return domain.RoomID{}, domain.ErrPeerUnreachable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := domain.NewCallRoom(initiator, present, req.Media, req.Chat)
	if err != nil {
		return domain.RoomID{}, err
	}
	if req.RoomID != nil {
		if _, err := s.rooms.Get(ctx, *req.RoomID); err == nil {
			return domain.RoomID{}, fmt.Errorf("%w: room %s already exists", domain.ErrMalformedEvent, req.RoomID)
		}
		room.ID = *req.RoomID
	}

	notify := domain.NotifyCall{
		RoomID:       room.ID,
		From:         caller,
		Media:        room.Media,
		Chat:         room.Chat,
		Participants: append(room.Members(), room.Invited()...),
	}
	for _, target := range present {
		if err := s.gateway.SendToUser(ctx, target, notify); err != nil {
			l.Warn().Err(err).Str("target", target.String()).Msg("Call notification not delivered")
			room.Decline(target)
			absent = append(absent, target)
		}
	}

	ended := room.Ended()
	s.reportUnreachable(ctx, initiator, room.ID, absent, ended)
	if ended {
		return domain.RoomID{}, domain.ErrPeerUnreachable
	}

	if err := s.rooms.Save(ctx, room); err != nil {
		return domain.RoomID{}, fmt.Errorf("save room: %w", err)
	}
	l.Info().Str("room_id", room.ID.String()).Int("ringing", len(room.Invited())).Msg("Call initiated")
	return room.ID, nil
}

// AcceptCall joins user to the room. The newcomer offers toward every member
// already present and each of them waits for that offer, so two peers never
// offer to each other at once. Accepting twice is a no-op.
func (s *SignalingService) AcceptCall(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Has(user) {
		return nil
	}
	if !room.IsInvited(user) {
		return domain.ErrNotInRoom
	}

	existing, _ := room.Join(user)
	if err := s.rooms.Save(ctx, room); err != nil {
		return fmt.Errorf("save room: %w", err)
	}

	newcomer := s.profileOf(ctx, user)
	for _, member := range existing {
		s.deliver(ctx, member, domain.AddPeer{
			RoomID:      roomID,
			PeerID:      user,
			CreateOffer: false,
			Profile:     newcomer,
		})
		s.deliver(ctx, user, domain.AddPeer{
			RoomID:      roomID,
			PeerID:      member,
			CreateOffer: true,
			Profile:     s.profileOf(ctx, member),
		})
	}

	log.Info().Str("room_id", roomID.String()).Str("user_id", user.String()).Int("members", len(existing)+1).Msg("Call accepted")
	return nil
}

// RelayDescription forwards an offer or answer to one peer in the room.
func (s *SignalingService) RelayDescription(ctx context.Context, from domain.UserID, ev domain.TransferOffer) error {
	if err := s.requirePair(ctx, ev.RoomID, from, ev.PeerID); err != nil {
		return err
	}
	return s.gateway.SendToUser(ctx, ev.PeerID, domain.RemoteDescription{
		RoomID:      ev.RoomID,
		PeerID:      from,
		Description: ev.Description,
	})
}

// RelayCandidate forwards an ICE candidate to one peer in the room.
func (s *SignalingService) RelayCandidate(ctx context.Context, from domain.UserID, ev domain.TransferCandidate) error {
	if err := s.requirePair(ctx, ev.RoomID, from, ev.PeerID); err != nil {
		return err
	}
	return s.gateway.SendToUser(ctx, ev.PeerID, domain.GetCandidate{
		RoomID:    ev.RoomID,
		PeerID:    from,
		Candidate: ev.Candidate,
	})
}

// LeaveRoom removes user from the room and tells the remaining members.
func (s *SignalingService) LeaveRoom(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.rooms.Get(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.depart(ctx, room, user)
}

// EndCall ends user's part in the call. Before anyone accepted, the
// initiator ending cancels the ring for every invitee and an invitee ending
// declines. After that it behaves like LeaveRoom. remaining is the sender's
// own count and is only logged.
func (s *SignalingService) EndCall(ctx context.Context, roomID domain.RoomID, user domain.UserID, remaining *int) error {
	if remaining != nil {
		log.Debug().Str("room_id", roomID.String()).Int("remaining", *remaining).Msg("End call")
	}
	return s.LeaveRoom(ctx, roomID, user)
}

// Disconnect treats a dropped transport as leaving every room of user.
func (s *SignalingService) Disconnect(ctx context.Context, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms, err := s.rooms.ListByUser(ctx, user)
	if err != nil {
		return err
	}
	var errs []error
	for _, room := range rooms {
		if err := s.depart(ctx, room, user); err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", room.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ChangeCallStatus tells one user about a status change of the sender.
func (s *SignalingService) ChangeCallStatus(ctx context.Context, from domain.UserID, ev domain.ChangeCallStatus) error {
	return s.gateway.SendToUser(ctx, ev.UserTo, domain.SetCallStatus{
		Status: ev.Status,
		From:   from,
	})
}

// ChangeStream fans a track toggle out to the other members.
func (s *SignalingService) ChangeStream(ctx context.Context, from domain.UserID, ev domain.ChangeStream) error {
	ev.PeerID = from
	return s.fanOut(ctx, ev.RoomID, from, ev)
}

// Talking fans a talking-state change out to the other members.
func (s *SignalingService) Talking(ctx context.Context, from domain.UserID, ev domain.IsTalking) error {
	ev.PeerID = from
	return s.fanOut(ctx, ev.RoomID, from, ev)
}

// depart must be called with s.mu held.
func (s *SignalingService) depart(ctx context.Context, room *domain.CallRoom, user domain.UserID) error {
	l := log.With().Str("room_id", room.ID.String()).Str("user_id", user.String()).Logger()

	switch {
	case !room.Accepted() && room.Has(user):
		for _, invitee := range room.Invited() {
			s.deliver(ctx, invitee, domain.CancelCall{RoomID: room.ID, From: user})
		}
		l.Info().Msg("Call cancelled before answer")
		return s.rooms.Delete(ctx, room.ID)

	case room.IsInvited(user):
		room.Decline(user)
		l.Info().Msg("Call declined")
		if room.Ended() {
			for _, member := range room.Members() {
				s.deliver(ctx, member, domain.CancelCall{RoomID: room.ID, From: user})
			}
			return s.rooms.Delete(ctx, room.ID)
		}
		return s.rooms.Save(ctx, room)

	case room.Has(user):
		remaining, _ := room.Leave(user)
		for _, member := range remaining {
			s.deliver(ctx, member, domain.RemovePeer{RoomID: room.ID, PeerID: user})
		}
		if room.Ended() {
			// Anyone still ringing has nothing left to join.
			for _, invitee := range room.Invited() {
				s.deliver(ctx, invitee, domain.CancelCall{RoomID: room.ID, From: user})
			}
			l.Info().Msg("Call ended")
			return s.rooms.Delete(ctx, room.ID)
		}
		l.Info().Int("remaining", len(remaining)).Msg("Left call")
		return s.rooms.Save(ctx, room)
	}
	return domain.ErrNotInRoom
}

func (s *SignalingService) fanOut(ctx context.Context, roomID domain.RoomID, from domain.UserID, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.Has(from) {
		return domain.ErrNotInRoom
	}
	for _, member := range room.Members() {
		if member != from {
			s.deliver(ctx, member, ev)
		}
	}
	return nil
}

func (s *SignalingService) requirePair(ctx context.Context, roomID domain.RoomID, from, to domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if from == to || !room.Has(from) || !room.Has(to) {
		return domain.ErrNotInRoom
	}
	return nil
}

// deliver logs instead of failing: a member that cannot be reached is cleaned
// up by its own disconnect.
func (s *SignalingService) deliver(ctx context.Context, to domain.UserID, ev domain.Event) {
	if err := s.gateway.SendToUser(ctx, to, ev); err != nil {
		log.Warn().Err(err).Str("to", to.String()).Str("event", string(ev.Name())).Msg("Signal not delivered")
	}
}

func (s *SignalingService) reportUnreachable(ctx context.Context, initiator domain.UserID, roomID domain.RoomID, users []domain.UserID, ended bool) {
	if len(users) == 0 {
		return
	}
	s.deliver(ctx, initiator, domain.PeerUnreachable{RoomID: roomID, UserIDs: users, CallEnded: ended})
}

func (s *SignalingService) profileOf(ctx context.Context, user domain.UserID) domain.Profile {
	u, err := s.presence.Get(ctx, user)
	if err != nil {
		return domain.Profile{Name: user.String()}
	}
	return u.Profile
}

func dedupe(ids []domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
