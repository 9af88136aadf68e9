package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []domain.Event
	err  error
}

func (s *fakeSender) Send(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, ev)
	return nil
}

func (s *fakeSender) events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.sent...)
}

func sentOf[T domain.Event](s *fakeSender) []T {
	var out []T
	for _, ev := range s.events() {
		if t, ok := ev.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

type fakePeer struct {
	mu         sync.Mutex
	id         domain.UserID
	events     PeerEvents
	remote     []domain.SessionDescription
	candidates []domain.ICECandidate
	closed     bool
	answerErr  error
}

func (p *fakePeer) CreateOffer() (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: "offer to " + p.id.String()}, nil
}

func (p *fakePeer) CreateAnswer() (domain.SessionDescription, error) {
	if p.answerErr != nil {
		return domain.SessionDescription{}, p.answerErr
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: "answer to " + p.id.String()}, nil
}

func (p *fakePeer) SetRemoteDescription(desc domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePeer) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remote) == 0 {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakePeerFactory struct {
	mu        sync.Mutex
	peers     map[domain.UserID]*fakePeer
	created   int
	answerErr error
}

func newFakePeerFactory() *fakePeerFactory {
	return &fakePeerFactory{peers: make(map[domain.UserID]*fakePeer)}
}

func (f *fakePeerFactory) NewPeer(peerID domain.UserID, local LocalMedia, events PeerEvents) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{id: peerID, events: events, answerErr: f.answerErr}
	f.peers[peerID] = p
	f.created++
	return p, nil
}

func (f *fakePeerFactory) peer(t *testing.T, id domain.UserID) *fakePeer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.peers[id]
	require.True(t, ok, "no peer for %s", id)
	return p
}

type fakeTrack struct {
	mu      sync.Mutex
	kind    domain.TrackKind
	enabled bool
}

func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

type fakeAnalyser struct {
	mu   sync.Mutex
	bins []uint8
}

func (a *fakeAnalyser) FrequencyBins() []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint8(nil), a.bins...)
}

func (a *fakeAnalyser) set(bins ...uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bins = bins
}

type fakeMedia struct {
	mu       sync.Mutex
	tracks   []LocalTrack
	analyser *fakeAnalyser
	stopped  bool
}

func (m *fakeMedia) Tracks() []LocalTrack { return m.tracks }
func (m *fakeMedia) Analyser() Analyser   { return m.analyser }

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *fakeMedia) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type fakeMediaSource struct {
	mu   sync.Mutex
	err  error
	last *fakeMedia
}

func (s *fakeMediaSource) Acquire(ctx context.Context, settings domain.MediaSettings) (LocalMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	m := &fakeMedia{analyser: &fakeAnalyser{bins: []uint8{0, 0, 0}}}
	if settings.Audio {
		m.tracks = append(m.tracks, &fakeTrack{kind: domain.TrackAudio, enabled: true})
	}
	if settings.Video {
		m.tracks = append(m.tracks, &fakeTrack{kind: domain.TrackVideo, enabled: true})
	}
	s.last = m
	return m, nil
}

func (s *fakeMediaSource) media() *fakeMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type fakeRecorder struct {
	records chan CallRecord
}

func (r *fakeRecorder) Record(ctx context.Context, rec CallRecord) error {
	r.records <- rec
	return nil
}

type recordingObserver struct {
	NopObserver
	mu       sync.Mutex
	statuses []domain.CallStatus
	notices  []error
	incoming []domain.NotifyCall
	tiles    []Tile
}

func (o *recordingObserver) StatusChanged(s domain.CallStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, s)
}

func (o *recordingObserver) IncomingCall(n domain.NotifyCall) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.incoming = append(o.incoming, n)
}

func (o *recordingObserver) ParticipantsChanged(_ []ParticipantView, tiles []Tile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tiles = tiles
}

func (o *recordingObserver) Notice(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, err)
}

func (o *recordingObserver) lastNotice() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.notices) == 0 {
		return nil
	}
	return o.notices[len(o.notices)-1]
}

type harness struct {
	ctrl     *Controller
	sender   *fakeSender
	peers    *fakePeerFactory
	media    *fakeMediaSource
	recorder *fakeRecorder
	observer *recordingObserver
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.Self == "" {
		cfg.Self = "alice"
	}
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = time.Millisecond
	}
	h := &harness{
		sender:   &fakeSender{},
		peers:    newFakePeerFactory(),
		media:    &fakeMediaSource{},
		recorder: &fakeRecorder{records: make(chan CallRecord, 1)},
		observer: &recordingObserver{},
	}
	h.ctrl = NewController(cfg, h.sender, h.peers, h.media, h.recorder, h.observer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) status(t *testing.T) domain.CallStatus {
	t.Helper()
	s, err := h.ctrl.Status(context.Background())
	require.NoError(t, err)
	return s
}

// connect reports peerID's connection as established.
func (h *harness) connect(t *testing.T, peerID domain.UserID) {
	t.Helper()
	h.peers.peer(t, peerID).events.State(PeerConnected)
}
