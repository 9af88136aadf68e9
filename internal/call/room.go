package call

import (
	"slices"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

type Role int

const (
	RoleAnswerer Role = iota
	RoleOfferer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// PeerLink is the local half of the connection toward one remote member.
type PeerLink struct {
	PeerID  domain.UserID
	Role    Role
	State   PeerState
	Profile domain.Profile

	AudioEnabled bool
	VideoEnabled bool
	Talking      bool

	conn  PeerConnection
	audio Analyser

	// Candidates that arrived before the remote description.
	pending   []domain.ICECandidate
	remoteSet bool
}

// Room is the local view of one call: the links toward every other member.
// It is only touched from the controller goroutine.
type Room struct {
	ID        domain.RoomID
	Media     domain.MediaSettings
	Chat      domain.ChatContext
	Initiator bool
	StartedAt time.Time

	links map[domain.UserID]*PeerLink
	order []domain.UserID
	// everyone who was ever linked, for the call record
	seen []domain.UserID
}

func newRoom(id domain.RoomID, media domain.MediaSettings, chat domain.ChatContext, initiator bool) *Room {
	return &Room{
		ID:        id,
		Media:     media,
		Chat:      chat,
		Initiator: initiator,
		links:     make(map[domain.UserID]*PeerLink),
	}
}

// addPeer stores link unless a link toward the same peer exists already.
func (r *Room) addPeer(link *PeerLink) bool {
	if _, ok := r.links[link.PeerID]; ok {
		return false
	}
	r.links[link.PeerID] = link
	r.order = append(r.order, link.PeerID)
	if !slices.Contains(r.seen, link.PeerID) {
		r.seen = append(r.seen, link.PeerID)
	}
	return true
}

// removePeer closes and forgets the link toward peerID.
func (r *Room) removePeer(peerID domain.UserID) bool {
	link, ok := r.links[peerID]
	if !ok {
		return false
	}
	delete(r.links, peerID)
	if i := slices.Index(r.order, peerID); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	link.close()
	return true
}

func (r *Room) Peer(peerID domain.UserID) (*PeerLink, bool) {
	link, ok := r.links[peerID]
	return link, ok
}

// Peers returns the links in join order.
func (r *Room) Peers() []*PeerLink {
	out := make([]*PeerLink, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.links[id])
	}
	return out
}

func (r *Room) Len() int { return len(r.links) }

func (r *Room) closeAll() {
	for _, id := range slices.Clone(r.order) {
		r.removePeer(id)
	}
}

// addCandidate applies c now or queues it until the remote description is
// known.
func (l *PeerLink) addCandidate(c domain.ICECandidate) error {
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return nil
	}
	return l.conn.AddICECandidate(c)
}

func (l *PeerLink) setRemote(desc domain.SessionDescription) error {
	if err := l.conn.SetRemoteDescription(desc); err != nil {
		return err
	}
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.conn.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (l *PeerLink) close() {
	l.State = PeerClosed
	if l.conn == nil {
		return
	}
	if err := l.conn.Close(); err != nil {
		log.Debug().Err(err).Str("peer_id", l.PeerID.String()).Msg("Closing peer connection")
	}
}

func (l *PeerLink) view() ParticipantView {
	return ParticipantView{
		PeerID:       l.PeerID,
		Name:         l.Profile.Name,
		Avatar:       l.Profile.Avatar,
		AudioEnabled: l.AudioEnabled,
		VideoEnabled: l.VideoEnabled,
		Talking:      l.Talking,
		State:        l.State,
	}
}
