// Package call is the client side of a mesh call: it owns local media, one
// peer connection per remote participant, the tile layout and talking
// detection, and folds every negotiation step into the call status.
package call

import (
	"context"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Sender delivers one event to the signaling server. It fails with
// domain.ErrTransportDisconnect while the transport is down.
type Sender interface {
	Send(ctx context.Context, ev domain.Event) error
}

type PeerState int

const (
	PeerNew PeerState = iota
	PeerConnecting
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	}
	return "unknown"
}

// PeerEvents are invoked from the media stack's goroutines.
type PeerEvents struct {
	Candidate func(domain.ICECandidate)
	Track     func(RemoteTrack)
	State     func(PeerState)
}

// PeerConnection is one side of a peer link. CreateOffer and CreateAnswer
// also install the result as the local description.
type PeerConnection interface {
	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetRemoteDescription(desc domain.SessionDescription) error
	AddICECandidate(c domain.ICECandidate) error
	Close() error
}

// PeerFactory creates a connection toward peerID with the local tracks
// already attached.
type PeerFactory interface {
	NewPeer(peerID domain.UserID, local LocalMedia, events PeerEvents) (PeerConnection, error)
}

// Analyser exposes the latest frequency-domain snapshot of an audio stream.
type Analyser interface {
	FrequencyBins() []uint8
}

type LocalTrack interface {
	Kind() domain.TrackKind
	Enabled() bool
	// SetEnabled mutes or unmutes without stopping the track.
	SetEnabled(enabled bool)
}

type LocalMedia interface {
	Tracks() []LocalTrack
	// Analyser returns nil when no audio was captured.
	Analyser() Analyser
	Stop()
}

// MediaSource captures local media. Failures are *domain.MediaAcquisitionError.
type MediaSource interface {
	Acquire(ctx context.Context, settings domain.MediaSettings) (LocalMedia, error)
}

type RemoteTrack interface {
	Kind() domain.TrackKind
	// Analyser is nil for video tracks.
	Analyser() Analyser
}

// CallRecord summarises a finished call for the chat history collaborator.
type CallRecord struct {
	RoomID       domain.RoomID        `json:"roomId"`
	ChatID       string               `json:"chatId,omitempty"`
	Initiator    bool                 `json:"initiator"`
	Participants []domain.UserID      `json:"participants"`
	Media        domain.MediaSettings `json:"media"`
	StartedAt    time.Time            `json:"startedAt"`
	EndedAt      time.Time            `json:"endedAt"`
}

func (r CallRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

type Recorder interface {
	Record(ctx context.Context, rec CallRecord) error
}

// ParticipantView is what the UI draws for one tile.
type ParticipantView struct {
	PeerID       domain.UserID
	Name         string
	Avatar       string
	Local        bool
	AudioEnabled bool
	VideoEnabled bool
	Talking      bool
	State        PeerState
}

// Observer receives UI notifications. Calls are made from the controller's
// goroutine and must not block.
type Observer interface {
	StatusChanged(status domain.CallStatus)
	IncomingCall(call domain.NotifyCall)
	ParticipantsChanged(views []ParticipantView, tiles []Tile)
	PresenceChanged(users []domain.OnlineUser)
	ChatHandoff(ev domain.TempChatID)
	// Notice carries user-facing problems: capture denial, unreachable or
	// busy peers, failed negotiation, server errors.
	Notice(err error)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) StatusChanged(domain.CallStatus)               {}
func (NopObserver) IncomingCall(domain.NotifyCall)                {}
func (NopObserver) ParticipantsChanged([]ParticipantView, []Tile) {}
func (NopObserver) PresenceChanged([]domain.OnlineUser)           {}
func (NopObserver) ChatHandoff(domain.TempChatID)                 {}
func (NopObserver) Notice(error)                                  {}
