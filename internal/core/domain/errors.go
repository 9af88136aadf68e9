package domain

import (
	"errors"
	"fmt"
)

// Presence and routing.
var (
	ErrUserNotFound    = errors.New("user not online")
	ErrPeerUnreachable = errors.New("peer unreachable")
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotInRoom       = errors.New("user is not a member of the room")
	ErrHandoffMissing  = errors.New("no pending chat handoff")
)

// Wire boundary.
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Client-side call failures.
var (
	ErrMediaAcquisition    = errors.New("media acquisition failed")
	ErrNegotiation         = errors.New("negotiation failed")
	ErrTransportDisconnect = errors.New("transport disconnected")
	ErrCallInProgress      = errors.New("a call is already in progress")
	ErrNoIncomingCall      = errors.New("no incoming call")
	ErrNoActiveCall        = errors.New("no active call")
)

// MediaAcquisitionError is returned when local capture is denied or the
// device cannot be opened. It is user facing and never retried.
type MediaAcquisitionError struct {
	Kind TrackKind
	Err  error
}

func (e *MediaAcquisitionError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("could not access camera or microphone: %v", e.Err)
	}
	return fmt.Sprintf("could not access %s: %v", e.Kind, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() []error {
	return []error{ErrMediaAcquisition, e.Err}
}

// NegotiationError names the peer and the step that failed.
type NegotiationError struct {
	PeerID UserID
	Step   string
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed at %s: %v", e.PeerID, e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() []error {
	return []error{ErrNegotiation, e.Err}
}
