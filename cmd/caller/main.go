// Command caller is a headless call participant. With -call it rings the
// given users once connected, otherwise it answers every incoming call.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/adapter/driven/record/httprecord"
	"github.com/Wyydra/yacall/internal/adapter/driven/transport/ws"
	"github.com/Wyydra/yacall/internal/call"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		l := config.NewLogger(config.DefaultClient().Log, os.Stderr)
		l.Fatal().Err(err).Msg("Invalid configuration")
	}
	l := config.NewLogger(cfg.Log, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	peers, err := pion.NewPeerFactory(pion.Options{
		ICEServers: iceServers,
		Loggers:    pion.LoggerFactory{Logger: l},
	})
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to create webrtc api")
	}
	media := pion.NewMediaSource(pion.Devices{Microphone: pion.SilentMicrophone})

	var recorder call.Recorder
	if cfg.RecordEndpoint != "" {
		r, err := httprecord.New(cfg.RecordEndpoint, nil)
		if err != nil {
			l.Fatal().Err(err).Msg("Invalid record endpoint")
		}
		recorder = r
	}

	obs := newLogObserver(l)
	self := domain.UserID(cfg.UserID)

	// The controller is created after the transport but the transport
	// callbacks need it, so they go through this variable.
	var ctrl *call.Controller
	connected := make(chan struct{}, 1)

	transport, err := ws.NewClient(cfg.ServerURL, ws.Identity{
		UserID: self,
		Name:   cfg.Name,
		Avatar: cfg.Avatar,
	}, ws.Options{
		OnConnect: func() {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
		OnMessage:    func(frame []byte) { ctrl.HandleFrame(frame) },
		OnDisconnect: func(error) { ctrl.HandleDisconnect() },
	})
	if err != nil {
		l.Fatal().Err(err).Msg("Invalid server url")
	}

	ctrl = call.NewController(call.Config{
		Self:        self,
		Profile:     domain.Profile{Name: cfg.Name, Avatar: cfg.Avatar},
		RingTimeout: cfg.RingTimeout,
	}, transport, peers, media, recorder, obs)

	ctrlCtx, stopCtrl := context.WithCancel(context.Background())
	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		if err := ctrl.Run(ctrlCtx); err != nil && !errors.Is(err, context.Canceled) {
			l.Error().Err(err).Msg("Call controller stopped")
		}
	}()

	transportCtx, stopTransport := context.WithCancel(context.Background())
	transportDone := make(chan struct{})
	go func() {
		defer close(transportDone)
		_ = transport.Run(transportCtx)
	}()

	targets := make([]domain.UserID, len(cfg.Targets))
	for i, t := range cfg.Targets {
		targets[i] = domain.UserID(t)
	}
	settings := domain.MediaSettings{Audio: cfg.Audio, Video: cfg.Video}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-connected:
			if len(targets) == 0 {
				continue
			}
			roomID, err := ctrl.Call(ctx, targets, settings, domain.ChatContext{})
			if errors.Is(err, domain.ErrCallInProgress) {
				// Reconnected during a live call.
				continue
			}
			if err != nil {
				l.Error().Err(err).Msg("Call failed")
				continue
			}
			l.Info().Str("room_id", roomID.String()).Msg("Calling")
		case incoming := <-obs.incoming:
			l.Info().Str("from", incoming.From.UserID.String()).Str("room_id", incoming.RoomID.String()).Msg("Answering call")
			if err := ctrl.Accept(ctx); err != nil {
				l.Error().Err(err).Msg("Accept failed")
			}
		}
	}

	l.Info().Msg("Shutting down caller...")
	// Stop the controller first so it can still say goodbye over the socket.
	stopCtrl()
	select {
	case <-ctrlDone:
	case <-time.After(5 * time.Second):
		l.Warn().Msg("Call controller did not stop in time")
	}
	stopTransport()
	<-transportDone
	l.Info().Msg("Caller exited")
}

// logObserver logs what a UI would draw and hands incoming calls back to
// main, since the controller must not be called from its own callbacks.
type logObserver struct {
	l        zerolog.Logger
	incoming chan domain.NotifyCall
}

func newLogObserver(l zerolog.Logger) *logObserver {
	return &logObserver{l: l, incoming: make(chan domain.NotifyCall, 1)}
}

func (o *logObserver) StatusChanged(status domain.CallStatus) {
	o.l.Info().Str("status", string(status)).Msg("Call status")
}

func (o *logObserver) IncomingCall(c domain.NotifyCall) {
	select {
	case o.incoming <- c:
	default:
	}
}

func (o *logObserver) ParticipantsChanged(views []call.ParticipantView, tiles []call.Tile) {
	arr := zerolog.Arr()
	for _, v := range views {
		arr.Str(v.PeerID.String())
	}
	o.l.Info().Array("participants", arr).Int("tiles", len(tiles)).Msg("Participants changed")
}

func (o *logObserver) PresenceChanged(users []domain.OnlineUser) {
	o.l.Debug().Int("online", len(users)).Msg("Presence changed")
}

func (o *logObserver) ChatHandoff(ev domain.TempChatID) {
	o.l.Info().Str("chat_id", ev.ChatID).Str("from", ev.From.String()).Msg("Chat handoff")
}

func (o *logObserver) Notice(err error) {
	o.l.Warn().Err(err).Msg("Call notice")
}
