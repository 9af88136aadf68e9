package domain

import (
	"errors"
	"slices"
	"time"
)

type CallStatus string

const (
	StatusNotCall       CallStatus = "NOT_CALL"
	StatusSetConnection CallStatus = "SET_CONNECTION"
	StatusWait          CallStatus = "WAIT"
	StatusNewCall       CallStatus = "NEW_CALL"
	StatusAccept        CallStatus = "ACCEPT"
	StatusFailed        CallStatus = "FAILED"
	StatusBusy          CallStatus = "BUSY"
)

func (s CallStatus) Validate() error {
	switch s {
	case StatusNotCall, StatusSetConnection, StatusWait, StatusNewCall, StatusAccept, StatusFailed, StatusBusy:
		return nil
	}
	return errors.New("unknown call status")
}

// ChatContext ties a call to the conversation it was started from.
type ChatContext struct {
	ChatID string `json:"chatId,omitempty"`
	Title  string `json:"title,omitempty"`
}

// CallRoom is the server-side membership aggregate of one call. Members are
// kept in join order; the initiator is always a member while the room exists.
type CallRoom struct {
	ID          RoomID
	InitiatorID UserID
	Chat        ChatContext
	Media       MediaSettings
	CreatedAt   time.Time

	members  []UserID
	invited  map[UserID]struct{}
	accepted bool
}

func NewCallRoom(initiator UserID, targets []UserID, media MediaSettings, chat ChatContext) (*CallRoom, error) {
	if initiator == "" {
		return nil, errors.New("call room needs an initiator")
	}
	invited := make(map[UserID]struct{}, len(targets))
	for _, t := range targets {
		if t != initiator {
			invited[t] = struct{}{}
		}
	}
	if len(invited) == 0 {
		return nil, errors.New("call room needs at least one target")
	}
	return &CallRoom{
		ID:          NewRoomID(),
		InitiatorID: initiator,
		Chat:        chat,
		Media:       media,
		CreatedAt:   time.Now(),
		members:     []UserID{initiator},
		invited:     invited,
	}, nil
}

// Join adds user and returns the members that were already present. joined is
// false when user was already a member, which makes double acceptance a no-op.
func (r *CallRoom) Join(user UserID) (existing []UserID, joined bool) {
	if r.Has(user) {
		return nil, false
	}
	existing = slices.Clone(r.members)
	r.members = append(r.members, user)
	delete(r.invited, user)
	r.accepted = true
	return existing, true
}

// Leave removes user and returns the members still present. When the
// initiator leaves, the earliest remaining member inherits the role.
func (r *CallRoom) Leave(user UserID) (remaining []UserID, left bool) {
	i := slices.Index(r.members, user)
	if i < 0 {
		return slices.Clone(r.members), false
	}
	r.members = slices.Delete(r.members, i, i+1)
	if user == r.InitiatorID && len(r.members) > 0 {
		r.InitiatorID = r.members[0]
	}
	return slices.Clone(r.members), true
}

// Decline drops a still-ringing invitee.
func (r *CallRoom) Decline(user UserID) bool {
	if _, ok := r.invited[user]; !ok {
		return false
	}
	delete(r.invited, user)
	return true
}

func (r *CallRoom) Has(user UserID) bool {
	return slices.Contains(r.members, user)
}

func (r *CallRoom) IsInvited(user UserID) bool {
	_, ok := r.invited[user]
	return ok
}

func (r *CallRoom) Members() []UserID {
	return slices.Clone(r.members)
}

func (r *CallRoom) Invited() []UserID {
	out := make([]UserID, 0, len(r.invited))
	for u := range r.invited {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// Accepted reports whether anyone besides the initiator ever joined.
func (r *CallRoom) Accepted() bool {
	return r.accepted
}

// Ended reports whether the room has nothing left to do: either the live mesh
// shrank to one member, or nobody accepted and nobody is still ringing.
func (r *CallRoom) Ended() bool {
	if r.accepted {
		return len(r.members) <= 1
	}
	return len(r.members) == 0 || len(r.invited) == 0
}

// CallRoomState is the serialisable form of a CallRoom for shared stores.
type CallRoomState struct {
	ID          RoomID        `json:"id"`
	InitiatorID UserID        `json:"initiatorId"`
	Chat        ChatContext   `json:"chat"`
	Media       MediaSettings `json:"media"`
	CreatedAt   time.Time     `json:"createdAt"`
	Members     []UserID      `json:"members"`
	Invited     []UserID      `json:"invited"`
	Accepted    bool          `json:"accepted"`
}

func (r *CallRoom) State() CallRoomState {
	return CallRoomState{
		ID:          r.ID,
		InitiatorID: r.InitiatorID,
		Chat:        r.Chat,
		Media:       r.Media,
		CreatedAt:   r.CreatedAt,
		Members:     r.Members(),
		Invited:     r.Invited(),
		Accepted:    r.accepted,
	}
}

// Participants returns members followed by ringing invitees.
func (s CallRoomState) Participants() []UserID {
	return append(slices.Clone(s.Members), s.Invited...)
}

func RestoreCallRoom(s CallRoomState) *CallRoom {
	invited := make(map[UserID]struct{}, len(s.Invited))
	for _, u := range s.Invited {
		invited[u] = struct{}{}
	}
	return &CallRoom{
		ID:          s.ID,
		InitiatorID: s.InitiatorID,
		Chat:        s.Chat,
		Media:       s.Media,
		CreatedAt:   s.CreatedAt,
		members:     slices.Clone(s.Members),
		invited:     invited,
		accepted:    s.Accepted,
	}
}
