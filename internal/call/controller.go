package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Self    domain.UserID
	Profile domain.Profile
	// RingTimeout abandons an unanswered call. Zero rings forever.
	RingTimeout   time.Duration
	FrameInterval time.Duration
}

// Controller runs one client's call session. Every mutation happens on the
// goroutine running Run: public methods, server events and media callbacks
// are all posted to it.
type Controller struct {
	cfg      Config
	sender   Sender
	peers    PeerFactory
	media    MediaSource
	recorder Recorder
	observer Observer
	now      func() time.Time

	inbox chan func(ctx context.Context)
	done  chan struct{}

	status       domain.CallStatus
	incoming     *domain.NotifyCall
	room         *Room
	local        LocalMedia
	talking      *TalkingDetector
	localTalking bool
	ring         *time.Timer
	ringGen      int
	users        map[domain.UserID]domain.OnlineUser
}

// NewController wires a controller. recorder and observer may be nil.
func NewController(cfg Config, sender Sender, peers PeerFactory, media MediaSource, recorder Recorder, observer Observer) *Controller {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.Profile.Name == "" {
		cfg.Profile.Name = cfg.Self.String()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Controller{
		cfg:      cfg,
		sender:   sender,
		peers:    peers,
		media:    media,
		recorder: recorder,
		observer: observer,
		now:      time.Now,
		inbox:    make(chan func(ctx context.Context), 256),
		done:     make(chan struct{}),
		status:   domain.StatusNotCall,
		talking:  NewTalkingDetector(),
		users:    make(map[domain.UserID]domain.OnlineUser),
	}
}

// Run processes work until ctx is done, then leaves any call in progress.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		var tick <-chan time.Time
		if c.room != nil && c.status == domain.StatusAccept {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case fn := <-c.inbox:
			fn(ctx)
		case <-tick:
			c.sampleTalking(ctx)
		}
	}
}

func (c *Controller) shutdown() {
	c.stopRing()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if c.incoming != nil {
		c.sendEnd(ctx, c.incoming.RoomID, nil)
		c.incoming = nil
	}
	if c.room == nil {
		return
	}
	remaining := c.room.Len()
	c.sendEnd(ctx, c.room.ID, &remaining)
	c.teardown()
	c.setStatus(domain.StatusNotCall)
}

// do runs fn on the controller goroutine and waits for its result.
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context) error) error {
	errc := make(chan error, 1)
	select {
	case c.inbox <- func(context.Context) { errc <- fn(ctx) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// post queues fn without waiting for it.
func (c *Controller) post(fn func(ctx context.Context)) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// Call rings targets and returns the room id chosen for the call.
func (c *Controller) Call(ctx context.Context, targets []domain.UserID, media domain.MediaSettings, chat domain.ChatContext) (domain.RoomID, error) {
	var id domain.RoomID
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		id, err = c.call(ctx, targets, media, chat)
		return err
	})
	return id, err
}

func (c *Controller) Accept(ctx context.Context) error {
	return c.do(ctx, c.accept)
}

func (c *Controller) Decline(ctx context.Context) error {
	return c.do(ctx, c.decline)
}

func (c *Controller) Leave(ctx context.Context) error {
	return c.do(ctx, c.leave)
}

// ToggleAudio flips the local microphone and returns its new state.
func (c *Controller) ToggleAudio(ctx context.Context) (bool, error) {
	return c.toggleKind(ctx, domain.TrackAudio)
}

// ToggleVideo flips the local camera and returns its new state.
func (c *Controller) ToggleVideo(ctx context.Context) (bool, error) {
	return c.toggleKind(ctx, domain.TrackVideo)
}

func (c *Controller) toggleKind(ctx context.Context, kind domain.TrackKind) (bool, error) {
	var enabled bool
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		enabled, err = c.toggle(ctx, kind)
		return err
	})
	return enabled, err
}

// Status returns the current call status.
func (c *Controller) Status(ctx context.Context) (domain.CallStatus, error) {
	var s domain.CallStatus
	err := c.do(ctx, func(context.Context) error {
		s = c.status
		return nil
	})
	return s, err
}

// Participants returns the current tiles, the local one first.
func (c *Controller) Participants(ctx context.Context) ([]ParticipantView, error) {
	var views []ParticipantView
	err := c.do(ctx, func(context.Context) error {
		views = c.views()
		return nil
	})
	return views, err
}

// HandleFrame decodes one frame from the server and queues it.
func (c *Controller) HandleFrame(frame []byte) {
	ev, err := domain.DecodeServerEvent(frame)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping server frame")
		return
	}
	c.HandleEvent(ev)
}

func (c *Controller) HandleEvent(ev domain.Event) {
	c.post(func(ctx context.Context) { c.handle(ctx, ev) })
}

// HandleDisconnect abandons whatever was in progress: signaling in flight is
// lost with the transport and the server treats the drop as a leave.
func (c *Controller) HandleDisconnect() {
	c.post(func(context.Context) {
		clear(c.users)
		if c.room == nil && c.incoming == nil {
			return
		}
		c.notice(domain.ErrTransportDisconnect)
		c.incoming = nil
		c.teardown()
		c.setStatus(domain.StatusNotCall)
	})
}

func (c *Controller) call(ctx context.Context, targets []domain.UserID, media domain.MediaSettings, chat domain.ChatContext) (domain.RoomID, error) {
	if c.busy() {
		return domain.RoomID{}, domain.ErrCallInProgress
	}
	if len(targets) == 0 {
		return domain.RoomID{}, errors.New("call needs at least one target")
	}
	if err := media.Validate(); err != nil {
		return domain.RoomID{}, err
	}

	c.setStatus(domain.StatusSetConnection)
	local, err := c.media.Acquire(ctx, media)
	if err != nil {
		c.notice(err)
		c.setStatus(domain.StatusNotCall)
		return domain.RoomID{}, err
	}
	c.local = local

	id := domain.NewRoomID()
	c.room = newRoom(id, media, chat, true)
	if err := c.sender.Send(ctx, domain.CallRequest{RoomID: &id, Targets: targets, Media: media, Chat: chat}); err != nil {
		c.teardown()
		c.setStatus(domain.StatusNotCall)
		return domain.RoomID{}, fmt.Errorf("send call: %w", err)
	}

	c.setStatus(domain.StatusWait)
	c.startRing()
	c.publish()
	log.Info().Str("room_id", id.String()).Int("targets", len(targets)).Msg("Calling")
	return id, nil
}

func (c *Controller) accept(ctx context.Context) error {
	inc := c.incoming
	if inc == nil || c.status != domain.StatusNewCall {
		return domain.ErrNoIncomingCall
	}
	c.stopRing()
	c.incoming = nil

	local, err := c.media.Acquire(ctx, inc.Media)
	if err != nil {
		c.notice(err)
		// Let the caller stop ringing.
		c.sendEnd(ctx, inc.RoomID, nil)
		c.setStatus(domain.StatusNotCall)
		return err
	}
	c.local = local
	c.room = newRoom(inc.RoomID, inc.Media, inc.Chat, false)

	if err := c.sender.Send(ctx, domain.AcceptCall{RoomID: inc.RoomID}); err != nil {
		c.teardown()
		c.setStatus(domain.StatusNotCall)
		return fmt.Errorf("send accept: %w", err)
	}
	c.publish()
	log.Info().Str("room_id", inc.RoomID.String()).Msg("Call accepted")
	return nil
}

func (c *Controller) decline(ctx context.Context) error {
	inc := c.incoming
	if inc == nil {
		return domain.ErrNoIncomingCall
	}
	c.stopRing()
	c.incoming = nil
	c.sendEnd(ctx, inc.RoomID, nil)
	c.setStatus(domain.StatusNotCall)
	return nil
}

func (c *Controller) leave(ctx context.Context) error {
	if c.room == nil {
		return domain.ErrNoActiveCall
	}
	remaining := c.room.Len()
	c.sendEnd(ctx, c.room.ID, &remaining)
	c.teardown()
	c.setStatus(domain.StatusNotCall)
	return nil
}

func (c *Controller) toggle(ctx context.Context, kind domain.TrackKind) (bool, error) {
	if c.local == nil {
		return false, domain.ErrNoActiveCall
	}
	track := c.localTrack(kind)
	if track == nil {
		return false, fmt.Errorf("no local %s track", kind)
	}
	enabled := !track.Enabled()
	track.SetEnabled(enabled)

	if c.room != nil {
		c.send(ctx, domain.ChangeStream{RoomID: c.room.ID, Kind: kind, Value: enabled})
	}
	c.publish()
	return enabled, nil
}

func (c *Controller) handle(ctx context.Context, ev domain.Event) {
	switch e := ev.(type) {
	case *domain.AllUsers:
		clear(c.users)
		for _, u := range e.Users {
			c.users[u.UserID] = u
		}
		c.publishPresence()
	case *domain.NewUser:
		c.users[e.User.UserID] = e.User
		c.publishPresence()
	case *domain.UserDisconnect:
		delete(c.users, e.UserID)
		c.publishPresence()
	case *domain.NotifyCall:
		c.onNotify(ctx, e)
	case *domain.AddPeer:
		c.onAddPeer(ctx, e)
	case *domain.RemovePeer:
		c.onRemovePeer(ctx, e)
	case *domain.CancelCall:
		c.onCancel(e)
	case *domain.SetCallStatus:
		if e.Status == domain.StatusBusy {
			c.notice(&BusyError{User: e.From})
		}
	case *domain.RemoteDescription:
		c.onDescription(ctx, e)
	case *domain.GetCandidate:
		c.onCandidate(ctx, e)
	case *domain.ChangeStream:
		if link, ok := c.link(e.RoomID, e.PeerID); ok {
			switch e.Kind {
			case domain.TrackAudio:
				link.AudioEnabled = e.Value
			case domain.TrackVideo:
				link.VideoEnabled = e.Value
			}
			c.publish()
		}
	case *domain.IsTalking:
		if link, ok := c.link(e.RoomID, e.PeerID); ok {
			link.Talking = e.IsTalking
			c.publish()
		}
	case *domain.PeerUnreachable:
		c.onUnreachable(e)
	case *domain.TempChatID:
		c.observer.ChatHandoff(*e)
	case *domain.ErrorEvent:
		c.notice(&ServerError{Code: e.Code, Message: e.Message})
	default:
		log.Debug().Str("event", string(ev.Name())).Msg("Ignoring event")
	}
}

func (c *Controller) onNotify(ctx context.Context, ev *domain.NotifyCall) {
	l := log.With().Str("room_id", ev.RoomID.String()).Str("from", ev.From.UserID.String()).Logger()
	if c.busy() {
		l.Info().Msg("Busy, rejecting incoming call")
		c.send(ctx, domain.ChangeCallStatus{Status: domain.StatusBusy, UserTo: ev.From.UserID})
		c.sendEnd(ctx, ev.RoomID, nil)
		return
	}
	inc := *ev
	c.incoming = &inc
	c.setStatus(domain.StatusNewCall)
	c.observer.IncomingCall(inc)
	c.startRing()
	l.Info().Msg("Incoming call")
}

func (c *Controller) onAddPeer(ctx context.Context, ev *domain.AddPeer) {
	room := c.room
	if room == nil || room.ID != ev.RoomID {
		log.Debug().Str("room_id", ev.RoomID.String()).Msg("ADD_PEER for a room we are not in")
		return
	}
	if _, ok := room.Peer(ev.PeerID); ok {
		return
	}
	c.stopRing()

	link := &PeerLink{
		PeerID:       ev.PeerID,
		Role:         RoleAnswerer,
		State:        PeerNew,
		Profile:      ev.Profile,
		AudioEnabled: room.Media.Audio,
		VideoEnabled: room.Media.Video,
	}
	if ev.CreateOffer {
		link.Role = RoleOfferer
	}

	conn, err := c.peers.NewPeer(ev.PeerID, c.local, c.peerEvents(room.ID, link))
	if err != nil {
		c.fail(ctx, &domain.NegotiationError{PeerID: ev.PeerID, Step: "create", Err: err})
		return
	}
	link.conn = conn
	room.addPeer(link)
	c.publish()

	log.Debug().Str("peer_id", ev.PeerID.String()).Str("role", link.Role.String()).Msg("Peer added")
	if link.Role != RoleOfferer {
		return
	}
	offer, err := conn.CreateOffer()
	if err != nil {
		c.fail(ctx, &domain.NegotiationError{PeerID: ev.PeerID, Step: "offer", Err: err})
		return
	}
	if err := c.sender.Send(ctx, domain.TransferOffer{RoomID: room.ID, PeerID: ev.PeerID, Description: offer}); err != nil {
		c.fail(ctx, &domain.NegotiationError{PeerID: ev.PeerID, Step: "send offer", Err: err})
	}
}

func (c *Controller) onDescription(ctx context.Context, ev *domain.RemoteDescription) {
	link, ok := c.link(ev.RoomID, ev.PeerID)
	if !ok {
		return
	}
	if ev.Description.Type == domain.SDPOffer && link.Role == RoleOfferer {
		log.Warn().Str("peer_id", ev.PeerID.String()).Msg("Ignoring offer from a peer we offered to")
		return
	}
	if err := link.setRemote(ev.Description); err != nil {
		c.fail(ctx, &domain.NegotiationError{PeerID: ev.PeerID, Step: "set remote " + string(ev.Description.Type), Err: err})
		return
	}
	if ev.Description.Type != domain.SDPOffer {
		return
	}
	answer, err := link.conn.CreateAnswer()
	if err != nil {
		c.fail(ctx, &domain.NegotiationError{PeerID: ev.PeerID, Step: "answer", Err: err})
		return
	}
	if err := c.sender.Send(ctx, domain.TransferOffer{RoomID: ev.RoomID, PeerID: ev.PeerID, Description: answer}); err != nil {
		c.fail(ctx, &domain.NegotiationError{PeerID: ev.PeerID, Step: "send answer", Err: err})
	}
}

func (c *Controller) onCandidate(ctx context.Context, ev *domain.GetCandidate) {
	link, ok := c.link(ev.RoomID, ev.PeerID)
	if !ok {
		return
	}
	if err := link.addCandidate(ev.Candidate); err != nil {
		c.fail(ctx, &domain.NegotiationError{PeerID: ev.PeerID, Step: "candidate", Err: err})
	}
}

func (c *Controller) onRemovePeer(ctx context.Context, ev *domain.RemovePeer) {
	room := c.room
	if room == nil || room.ID != ev.RoomID || !room.removePeer(ev.PeerID) {
		return
	}
	c.talking.Forget(ev.PeerID)
	log.Info().Str("peer_id", ev.PeerID.String()).Int("remaining", room.Len()).Msg("Peer left")
	if room.Len() == 0 {
		c.endAlone(ctx)
		return
	}
	c.publish()
}

// endAlone closes a call whose every other member left.
func (c *Controller) endAlone(ctx context.Context) {
	room := c.room
	rec := CallRecord{
		RoomID:       room.ID,
		ChatID:       room.Chat.ChatID,
		Initiator:    room.Initiator,
		Participants: append([]domain.UserID{c.cfg.Self}, room.seen...),
		Media:        room.Media,
		StartedAt:    room.StartedAt,
		EndedAt:      c.now(),
	}
	connected := !room.StartedAt.IsZero()

	c.teardown()
	c.setStatus(domain.StatusNotCall)
	log.Info().Str("room_id", rec.RoomID.String()).Msg("Call ended, last peer left")

	if connected && c.recorder != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := c.recorder.Record(ctx, rec); err != nil {
				log.Warn().Err(err).Str("room_id", rec.RoomID.String()).Msg("Failed to record call")
			}
		}()
	}
}

func (c *Controller) onCancel(ev *domain.CancelCall) {
	if c.incoming != nil && c.incoming.RoomID == ev.RoomID {
		c.stopRing()
		c.incoming = nil
		c.setStatus(domain.StatusNotCall)
		return
	}
	if c.room != nil && c.room.ID == ev.RoomID {
		c.teardown()
		c.setStatus(domain.StatusNotCall)
	}
}

func (c *Controller) onUnreachable(ev *domain.PeerUnreachable) {
	c.notice(&UnreachableError{Users: ev.UserIDs})
	if !ev.CallEnded || c.room == nil || c.status != domain.StatusWait {
		return
	}
	if !ev.RoomID.IsZero() && ev.RoomID != c.room.ID {
		return
	}
	c.teardown()
	c.setStatus(domain.StatusFailed)
}

func (c *Controller) onPeerState(ctx context.Context, link *PeerLink, state PeerState) {
	link.State = state
	switch state {
	case PeerConnected:
		if c.status != domain.StatusAccept {
			c.room.StartedAt = c.now()
			c.setStatus(domain.StatusAccept)
		}
	case PeerFailed:
		c.fail(ctx, &domain.NegotiationError{PeerID: link.PeerID, Step: "connect", Err: errors.New("ice connection failed")})
		return
	}
	c.publish()
}

// fail is the leave path ending in FAILED instead of NOT_CALL.
func (c *Controller) fail(ctx context.Context, err error) {
	log.Error().Err(err).Msg("Call failed")
	c.notice(err)
	if c.room != nil {
		remaining := c.room.Len()
		c.sendEnd(ctx, c.room.ID, &remaining)
	}
	c.teardown()
	c.setStatus(domain.StatusFailed)
}

func (c *Controller) peerEvents(roomID domain.RoomID, link *PeerLink) PeerEvents {
	return PeerEvents{
		Candidate: func(cand domain.ICECandidate) {
			c.post(func(ctx context.Context) {
				if c.current(roomID, link) {
					c.send(ctx, domain.TransferCandidate{RoomID: roomID, PeerID: link.PeerID, Candidate: cand})
				}
			})
		},
		Track: func(t RemoteTrack) {
			c.post(func(context.Context) {
				if !c.current(roomID, link) {
					return
				}
				if t.Kind() == domain.TrackAudio {
					link.audio = t.Analyser()
				}
				c.publish()
			})
		},
		State: func(s PeerState) {
			c.post(func(ctx context.Context) {
				if c.current(roomID, link) {
					c.onPeerState(ctx, link, s)
				}
			})
		},
	}
}

// current reports whether link still belongs to the live room. Callbacks
// that fire after a teardown are dropped here.
func (c *Controller) current(roomID domain.RoomID, link *PeerLink) bool {
	if c.room == nil || c.room.ID != roomID {
		return false
	}
	got, ok := c.room.Peer(link.PeerID)
	return ok && got == link
}

func (c *Controller) link(roomID domain.RoomID, peerID domain.UserID) (*PeerLink, bool) {
	if c.room == nil || c.room.ID != roomID {
		return nil, false
	}
	return c.room.Peer(peerID)
}

func (c *Controller) sampleTalking(ctx context.Context) {
	if c.room == nil {
		return
	}
	changed := false

	var mic Analyser
	if t := c.localTrack(domain.TrackAudio); t != nil && t.Enabled() {
		mic = c.local.Analyser()
	}
	if talking, ch := c.talking.Sample(c.cfg.Self, mic); ch {
		c.localTalking = talking
		c.send(ctx, domain.IsTalking{RoomID: c.room.ID, IsTalking: talking})
		changed = true
	}

	for _, link := range c.room.Peers() {
		if link.audio == nil {
			continue
		}
		if talking, ch := c.talking.Sample(link.PeerID, link.audio); ch {
			link.Talking = talking
			changed = true
		}
	}
	if changed {
		c.publish()
	}
}

func (c *Controller) teardown() {
	c.stopRing()
	if c.room != nil {
		c.room.closeAll()
		c.room = nil
	}
	if c.local != nil {
		c.local.Stop()
		c.local = nil
	}
	c.talking.Reset()
	c.localTalking = false
	c.publish()
}

func (c *Controller) startRing() {
	c.stopRing()
	if c.cfg.RingTimeout <= 0 {
		return
	}
	gen := c.ringGen
	c.ring = time.AfterFunc(c.cfg.RingTimeout, func() {
		c.post(func(ctx context.Context) {
			if gen == c.ringGen {
				c.ringExpired(ctx)
			}
		})
	})
}

func (c *Controller) stopRing() {
	if c.ring != nil {
		c.ring.Stop()
		c.ring = nil
	}
	c.ringGen++
}

func (c *Controller) ringExpired(ctx context.Context) {
	switch {
	case c.status == domain.StatusNewCall && c.incoming != nil:
		log.Info().Msg("Incoming call not answered in time")
		_ = c.decline(ctx)
	case c.status == domain.StatusWait && c.room != nil && c.room.Len() == 0:
		log.Info().Msg("Outgoing call not answered in time")
		c.notice(ErrRingTimeout)
		_ = c.leave(ctx)
	}
}

func (c *Controller) busy() bool {
	return c.status != domain.StatusNotCall && c.status != domain.StatusFailed
}

func (c *Controller) setStatus(s domain.CallStatus) {
	if c.status == s {
		return
	}
	log.Debug().Str("from", string(c.status)).Str("to", string(s)).Msg("Call status")
	c.status = s
	c.observer.StatusChanged(s)
}

func (c *Controller) localTrack(kind domain.TrackKind) LocalTrack {
	if c.local == nil {
		return nil
	}
	for _, t := range c.local.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (c *Controller) views() []ParticipantView {
	if c.room == nil {
		return nil
	}
	self := ParticipantView{
		PeerID:  c.cfg.Self,
		Name:    c.cfg.Profile.Name,
		Avatar:  c.cfg.Profile.Avatar,
		Local:   true,
		Talking: c.localTalking,
		State:   PeerConnected,
	}
	if t := c.localTrack(domain.TrackAudio); t != nil {
		self.AudioEnabled = t.Enabled()
	}
	if t := c.localTrack(domain.TrackVideo); t != nil {
		self.VideoEnabled = t.Enabled()
	}

	views := []ParticipantView{self}
	for _, link := range c.room.Peers() {
		views = append(views, link.view())
	}
	return views
}

func (c *Controller) publish() {
	views := c.views()
	c.observer.ParticipantsChanged(views, Layout(len(views)))
}

func (c *Controller) publishPresence() {
	users := make([]domain.OnlineUser, 0, len(c.users))
	for _, u := range c.users {
		if u.UserID != c.cfg.Self {
			users = append(users, u)
		}
	}
	slices.SortFunc(users, func(a, b domain.OnlineUser) int { return strings.Compare(a.UserID.String(), b.UserID.String()) })
	c.observer.PresenceChanged(users)
}

func (c *Controller) notice(err error) {
	c.observer.Notice(err)
}

func (c *Controller) send(ctx context.Context, ev domain.Event) {
	if err := c.sender.Send(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Name())).Msg("Signal not sent")
	}
}

func (c *Controller) sendEnd(ctx context.Context, roomID domain.RoomID, remaining *int) {
	c.send(ctx, domain.EndCall{RoomID: roomID, Remaining: remaining})
}
