package pion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/call"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const pliInterval = 3 * time.Second

// PeerFactory creates one PeerConnection per remote member.
type PeerFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

var _ call.PeerFactory = (*PeerFactory)(nil)

func NewPeerFactory(opts Options) (*PeerFactory, error) {
	api, err := NewAPI(opts)
	if err != nil {
		return nil, err
	}
	return &PeerFactory{
		api:    api,
		config: webrtc.Configuration{ICEServers: opts.ICEServers},
	}, nil
}

func (f *PeerFactory) NewPeer(peerID domain.UserID, local call.LocalMedia, events call.PeerEvents) (call.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		id:     peerID,
		pc:     pc,
		cancel: cancel,
		l:      log.With().Str("peer_id", peerID.String()).Logger(),
	}

	if err := p.attach(ctx, local); err != nil {
		cancel()
		_ = pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || events.Candidate == nil {
			return
		}
		init := c.ToJSON()
		events.Candidate(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.l.Debug().Str("kind", remote.Kind().String()).Msg("Received remote track")
		track := &remoteTrack{kind: domain.TrackVideo}
		switch remote.Kind() {
		case webrtc.RTPCodecTypeAudio:
			track.kind = domain.TrackAudio
			track.analyser = newLevelAnalyser()
			go p.readAudio(ctx, remote, audioLevelID(receiver), track.analyser)
		case webrtc.RTPCodecTypeVideo:
			go p.requestKeyframes(ctx, remote)
			go p.drain(ctx, remote)
		}
		if events.Track != nil {
			events.Track(track)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.l.Debug().Str("state", s.String()).Msg("Peer connection state")
		if events.State != nil {
			events.State(peerState(s))
		}
	})

	return p, nil
}

// Peer wraps a webrtc.PeerConnection.
type Peer struct {
	id     domain.UserID
	pc     *webrtc.PeerConnection
	cancel context.CancelFunc
	l      zerolog.Logger
}

var _ call.PeerConnection = (*Peer)(nil)

func (p *Peer) CreateOffer() (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: offer.SDP}, nil
}

func (p *Peer) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP}, nil
}

func (p *Peer) SetRemoteDescription(desc domain.SessionDescription) error {
	var typ webrtc.SDPType
	switch desc.Type {
	case domain.SDPOffer:
		typ = webrtc.SDPTypeOffer
	case domain.SDPAnswer:
		typ = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("unsupported description type %q", desc.Type)
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: desc.SDP})
}

func (p *Peer) AddICECandidate(c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *Peer) Close() error {
	p.cancel()
	return p.pc.Close()
}

// attach adds the local tracks and keeps their RTCP drained so the
// interceptors see receiver reports.
func (p *Peer) attach(ctx context.Context, local call.LocalMedia) error {
	if local == nil {
		return nil
	}
	lm, ok := local.(*LocalMedia)
	if !ok {
		return errors.New("local media was not captured by this package")
	}
	for _, t := range lm.tracks {
		sender, err := p.pc.AddTrack(t.track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.kind, err)
		}
		go func() {
			buf := make([]byte, 1500)
			for ctx.Err() == nil {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (p *Peer) readAudio(ctx context.Context, remote *webrtc.TrackRemote, extID uint8, a *levelAnalyser) {
	for ctx.Err() == nil {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		a.observe(pkt, extID)
	}
}

func (p *Peer) drain(ctx context.Context, remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for ctx.Err() == nil {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}

// requestKeyframes sends a PLI right away and then periodically so a video
// stream joined mid-way recovers quickly.
func (p *Peer) requestKeyframes(ctx context.Context, remote *webrtc.TrackRemote) {
	send := func() {
		if err := p.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
		}); err != nil {
			p.l.Trace().Err(err).Msg("PLI not sent")
		}
	}
	send()

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

type remoteTrack struct {
	kind     domain.TrackKind
	analyser *levelAnalyser
}

func (t *remoteTrack) Kind() domain.TrackKind { return t.kind }

func (t *remoteTrack) Analyser() call.Analyser {
	if t.analyser == nil {
		return nil
	}
	return t.analyser
}

func audioLevelID(receiver *webrtc.RTPReceiver) uint8 {
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == audioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}

func peerState(s webrtc.PeerConnectionState) call.PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return call.PeerConnecting
	case webrtc.PeerConnectionStateConnected:
		return call.PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return call.PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return call.PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return call.PeerClosed
	}
	return call.PeerNew
}
