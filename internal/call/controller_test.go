package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var audioOnly = domain.MediaSettings{Audio: true}

func ringing(t *testing.T, h *harness, from domain.UserID) domain.RoomID {
	t.Helper()
	room := domain.NewRoomID()
	h.ctrl.HandleEvent(&domain.NotifyCall{
		RoomID: room,
		From:   domain.OnlineUser{UserID: from, Profile: domain.Profile{Name: "Caller"}},
		Media:  audioOnly,
	})
	require.Equal(t, domain.StatusNewCall, h.status(t))
	return room
}

func TestCallerAnswersNewcomerOffer(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	room, err := h.ctrl.Call(ctx, []domain.UserID{"bob"}, audioOnly, domain.ChatContext{ChatID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWait, h.status(t))

	calls := sentOf[domain.CallRequest](h.sender)
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].RoomID)
	assert.Equal(t, room, *calls[0].RoomID)

	// Existing members wait for the newcomer's offer.
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "bob", CreateOffer: false})
	h.ctrl.HandleEvent(&domain.RemoteDescription{
		RoomID:      room,
		PeerID:      "bob",
		Description: domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"},
	})
	assert.Equal(t, domain.StatusWait, h.status(t))

	answers := sentOf[domain.TransferOffer](h.sender)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.SDPAnswer, answers[0].Description.Type)
	assert.Equal(t, domain.UserID("bob"), answers[0].PeerID)

	h.connect(t, "bob")
	assert.Equal(t, domain.StatusAccept, h.status(t))

	views, err := h.ctrl.Participants(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.True(t, views[0].Local)
	assert.Equal(t, PeerConnected, views[1].State)
}

func TestReceiverOffersAndQueuesEarlyCandidates(t *testing.T) {
	h := newHarness(t, Config{Self: "bob"})
	ctx := context.Background()

	room := ringing(t, h, "alice")
	require.NoError(t, h.ctrl.Accept(ctx))
	require.Len(t, sentOf[domain.AcceptCall](h.sender), 1)

	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "alice", CreateOffer: true})
	mid := "0"
	h.ctrl.HandleEvent(&domain.GetCandidate{
		RoomID:    room,
		PeerID:    "alice",
		Candidate: domain.ICECandidate{Candidate: "candidate:1", SDPMid: &mid},
	})
	h.ctrl.HandleEvent(&domain.RemoteDescription{
		RoomID:      room,
		PeerID:      "alice",
		Description: domain.SessionDescription{Type: domain.SDPAnswer, SDP: "v=0"},
	})
	assert.Equal(t, domain.StatusNewCall, h.status(t))

	offers := sentOf[domain.TransferOffer](h.sender)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.SDPOffer, offers[0].Description.Type)

	peer := h.peers.peer(t, "alice")
	peer.mu.Lock()
	assert.Len(t, peer.remote, 1)
	assert.Len(t, peer.candidates, 1)
	peer.mu.Unlock()

	h.connect(t, "alice")
	assert.Equal(t, domain.StatusAccept, h.status(t))
}

func TestLocalCandidatesAreRelayed(t *testing.T) {
	h := newHarness(t, Config{Self: "bob"})
	room := ringing(t, h, "alice")
	require.NoError(t, h.ctrl.Accept(context.Background()))
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "alice", CreateOffer: true})
	h.status(t)

	idx := uint16(0)
	h.peers.peer(t, "alice").events.Candidate(domain.ICECandidate{Candidate: "candidate:2", SDPMLineIndex: &idx})
	h.status(t)

	relayed := sentOf[domain.TransferCandidate](h.sender)
	require.Len(t, relayed, 1)
	assert.Equal(t, room, relayed[0].RoomID)
	assert.Equal(t, domain.UserID("alice"), relayed[0].PeerID)
}

func TestDuplicateAddPeerIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	room, err := h.ctrl.Call(context.Background(), []domain.UserID{"bob", "carol"}, audioOnly, domain.ChatContext{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "bob"})
	}
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "carol"})
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: domain.NewRoomID(), PeerID: "dave"})

	views, err := h.ctrl.Participants(context.Background())
	require.NoError(t, err)
	assert.Len(t, views, 3)
	assert.Equal(t, 2, h.peers.created)
	assert.Len(t, h.observer.tiles, 3)
}

func TestSurvivorEndsAndRecords(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	room, err := h.ctrl.Call(ctx, []domain.UserID{"bob"}, audioOnly, domain.ChatContext{ChatID: "c1"})
	require.NoError(t, err)
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "bob"})
	h.connect(t, "bob")
	require.Equal(t, domain.StatusAccept, h.status(t))

	h.ctrl.HandleEvent(&domain.RemovePeer{RoomID: room, PeerID: "bob"})
	assert.Equal(t, domain.StatusNotCall, h.status(t))
	assert.True(t, h.peers.peer(t, "bob").isClosed())
	assert.True(t, h.media.media().isStopped())

	select {
	case rec := <-h.recorder.records:
		assert.Equal(t, room, rec.RoomID)
		assert.Equal(t, "c1", rec.ChatID)
		assert.True(t, rec.Initiator)
		assert.Equal(t, []domain.UserID{"alice", "bob"}, rec.Participants)
		assert.False(t, rec.StartedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no call record")
	}
}

func TestLeaveSendsEndCall(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	room, err := h.ctrl.Call(ctx, []domain.UserID{"bob", "carol"}, audioOnly, domain.ChatContext{})
	require.NoError(t, err)
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "bob"})
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "carol"})

	require.NoError(t, h.ctrl.Leave(ctx))
	ends := sentOf[domain.EndCall](h.sender)
	require.Len(t, ends, 1)
	require.NotNil(t, ends[0].Remaining)
	assert.Equal(t, 2, *ends[0].Remaining)
	assert.True(t, h.peers.peer(t, "bob").isClosed())
	assert.True(t, h.peers.peer(t, "carol").isClosed())

	// Late messages for the old room are ignored.
	h.ctrl.HandleEvent(&domain.RemoteDescription{
		RoomID:      room,
		PeerID:      "bob",
		Description: domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"},
	})
	assert.Equal(t, domain.StatusNotCall, h.status(t))
	assert.Empty(t, sentOf[domain.TransferOffer](h.sender))

	assert.ErrorIs(t, h.ctrl.Leave(ctx), domain.ErrNoActiveCall)
}

func TestNegotiationFailureEndsInFailed(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.peers.answerErr = errors.New("bad sdp")

	room, err := h.ctrl.Call(ctx, []domain.UserID{"bob"}, audioOnly, domain.ChatContext{})
	require.NoError(t, err)
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "bob"})
	h.ctrl.HandleEvent(&domain.RemoteDescription{
		RoomID:      room,
		PeerID:      "bob",
		Description: domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"},
	})

	assert.Equal(t, domain.StatusFailed, h.status(t))
	assert.ErrorIs(t, h.observer.lastNotice(), domain.ErrNegotiation)
	assert.Len(t, sentOf[domain.EndCall](h.sender), 1)
	assert.True(t, h.media.media().isStopped())

	// FAILED is terminal for the call, not for the client.
	h.peers.answerErr = nil
	_, err = h.ctrl.Call(ctx, []domain.UserID{"bob"}, audioOnly, domain.ChatContext{})
	assert.NoError(t, err)
}

func TestPeerConnectionFailure(t *testing.T) {
	h := newHarness(t, Config{})
	room, err := h.ctrl.Call(context.Background(), []domain.UserID{"bob"}, audioOnly, domain.ChatContext{})
	require.NoError(t, err)
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "bob"})
	h.status(t)

	h.peers.peer(t, "bob").events.State(PeerFailed)
	assert.Equal(t, domain.StatusFailed, h.status(t))
	assert.True(t, h.peers.peer(t, "bob").isClosed())
}

func TestMediaDeniedAbortsCall(t *testing.T) {
	h := newHarness(t, Config{})
	h.media.err = &domain.MediaAcquisitionError{Kind: domain.TrackAudio, Err: errors.New("permission denied")}

	_, err := h.ctrl.Call(context.Background(), []domain.UserID{"bob"}, audioOnly, domain.ChatContext{})
	assert.ErrorIs(t, err, domain.ErrMediaAcquisition)
	assert.Equal(t, domain.StatusNotCall, h.status(t))
	assert.Empty(t, sentOf[domain.CallRequest](h.sender))
	assert.ErrorIs(t, h.observer.lastNotice(), domain.ErrMediaAcquisition)
}

func TestBusyWhileInCall(t *testing.T) {
	h := newHarness(t, Config{Self: "bob"})
	ringing(t, h, "alice")

	other := domain.NewRoomID()
	h.ctrl.HandleEvent(&domain.NotifyCall{RoomID: other, From: domain.OnlineUser{UserID: "carol"}, Media: audioOnly})
	assert.Equal(t, domain.StatusNewCall, h.status(t))

	busy := sentOf[domain.ChangeCallStatus](h.sender)
	require.Len(t, busy, 1)
	assert.Equal(t, domain.StatusBusy, busy[0].Status)
	assert.Equal(t, domain.UserID("carol"), busy[0].UserTo)

	ends := sentOf[domain.EndCall](h.sender)
	require.Len(t, ends, 1)
	assert.Equal(t, other, ends[0].RoomID)
	assert.Len(t, h.observer.incoming, 1)
}

func TestDeclineAndCancel(t *testing.T) {
	h := newHarness(t, Config{Self: "bob"})
	ctx := context.Background()

	room := ringing(t, h, "alice")
	require.NoError(t, h.ctrl.Decline(ctx))
	assert.Equal(t, domain.StatusNotCall, h.status(t))
	ends := sentOf[domain.EndCall](h.sender)
	require.Len(t, ends, 1)
	assert.Equal(t, room, ends[0].RoomID)

	room = ringing(t, h, "alice")
	h.ctrl.HandleEvent(&domain.CancelCall{RoomID: room, From: "alice"})
	assert.Equal(t, domain.StatusNotCall, h.status(t))
	assert.ErrorIs(t, h.ctrl.Accept(ctx), domain.ErrNoIncomingCall)
}

func TestUnreachableEndsCall(t *testing.T) {
	h := newHarness(t, Config{})
	room, err := h.ctrl.Call(context.Background(), []domain.UserID{"bob"}, audioOnly, domain.ChatContext{})
	require.NoError(t, err)

	h.ctrl.HandleEvent(&domain.PeerUnreachable{RoomID: room, UserIDs: []domain.UserID{"bob"}, CallEnded: true})
	assert.Equal(t, domain.StatusFailed, h.status(t))

	var unreachable *UnreachableError
	require.ErrorAs(t, h.observer.lastNotice(), &unreachable)
	assert.Equal(t, []domain.UserID{"bob"}, unreachable.Users)
}

func TestRingTimeout(t *testing.T) {
	h := newHarness(t, Config{RingTimeout: 20 * time.Millisecond})
	_, err := h.ctrl.Call(context.Background(), []domain.UserID{"bob"}, audioOnly, domain.ChatContext{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.status(t) == domain.StatusNotCall
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, sentOf[domain.EndCall](h.sender), 1)
	assert.ErrorIs(t, h.observer.lastNotice(), ErrRingTimeout)
}

func TestToggleAudioBroadcasts(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.ctrl.ToggleAudio(ctx)
	assert.ErrorIs(t, err, domain.ErrNoActiveCall)

	room, err := h.ctrl.Call(ctx, []domain.UserID{"bob"}, audioOnly, domain.ChatContext{})
	require.NoError(t, err)

	enabled, err := h.ctrl.ToggleAudio(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	changes := sentOf[domain.ChangeStream](h.sender)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.ChangeStream{RoomID: room, Kind: domain.TrackAudio, Value: false}, changes[0])

	_, err = h.ctrl.ToggleVideo(ctx)
	assert.Error(t, err, "audio-only call has no camera")
}

func TestLocalTalkingBroadcast(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	room, err := h.ctrl.Call(ctx, []domain.UserID{"bob"}, audioOnly, domain.ChatContext{})
	require.NoError(t, err)
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "bob"})
	h.connect(t, "bob")
	require.Equal(t, domain.StatusAccept, h.status(t))

	h.media.media().analyser.set(0, 7, 0)
	require.Eventually(t, func() bool {
		talks := sentOf[domain.IsTalking](h.sender)
		return len(talks) == 1 && talks[0].IsTalking
	}, time.Second, 5*time.Millisecond)

	h.media.media().analyser.set(0, 0, 0)
	require.Eventually(t, func() bool {
		return len(sentOf[domain.IsTalking](h.sender)) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRemoteStreamAndTalkingUpdates(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	room, err := h.ctrl.Call(ctx, []domain.UserID{"bob"}, domain.MediaSettings{Audio: true, Video: true}, domain.ChatContext{})
	require.NoError(t, err)
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "bob"})
	h.ctrl.HandleEvent(&domain.ChangeStream{RoomID: room, PeerID: "bob", Kind: domain.TrackVideo, Value: false})
	h.ctrl.HandleEvent(&domain.IsTalking{RoomID: room, PeerID: "bob", IsTalking: true})

	views, err := h.ctrl.Participants(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.True(t, views[1].AudioEnabled)
	assert.False(t, views[1].VideoEnabled)
	assert.True(t, views[1].Talking)
}

func TestTransportDropAbandonsCall(t *testing.T) {
	h := newHarness(t, Config{})
	room, err := h.ctrl.Call(context.Background(), []domain.UserID{"bob"}, audioOnly, domain.ChatContext{})
	require.NoError(t, err)
	h.ctrl.HandleEvent(&domain.AddPeer{RoomID: room, PeerID: "bob"})

	h.ctrl.HandleDisconnect()
	assert.Equal(t, domain.StatusNotCall, h.status(t))
	assert.True(t, h.peers.peer(t, "bob").isClosed())
	assert.ErrorIs(t, h.observer.lastNotice(), domain.ErrTransportDisconnect)
}

func TestHandleFrameDecodes(t *testing.T) {
	h := newHarness(t, Config{Self: "bob"})
	frame, err := domain.Encode(domain.NotifyCall{
		RoomID: domain.NewRoomID(),
		From:   domain.OnlineUser{UserID: "alice"},
		Media:  audioOnly,
	})
	require.NoError(t, err)

	h.ctrl.HandleFrame([]byte("garbage"))
	h.ctrl.HandleFrame(frame)
	assert.Equal(t, domain.StatusNewCall, h.status(t))
}
