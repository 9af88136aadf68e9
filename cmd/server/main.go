package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/redisbus"
	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/kv"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/redisstore"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
)

func main() {
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		l := config.NewLogger(config.DefaultServer().Log, os.Stderr)
		l.Fatal().Err(err).Msg("Invalid configuration")
	}
	l := config.NewLogger(cfg.Log, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()

	var (
		store    port.KeyValueStore
		presence port.PresenceStore
		rooms    port.RoomRepository
		gateway  port.RealTimeGateway = hub
	)
	if cfg.RedisURL == "" {
		store = memory.NewKeyValueStore()
		presence = memory.NewPresenceStore()
		rooms = memory.NewRoomRepository()
		l.Info().Msg("Using in-memory stores")
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstore.Dial(dialCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			l.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		store = redisstore.NewKeyValueStore(client)
		presence = redisstore.NewPresenceStore(client)
		rooms = redisstore.NewRoomRepository(client)

		bus := redisbus.New(client, cfg.BusChannel, hub, presence)
		gateway = bus
		go func() {
			if err := bus.Run(ctx); err != nil {
				l.Error().Err(err).Msg("Event bus stopped")
			}
		}()
		l.Info().Msg("Using redis stores and event bus")
	}
	defer store.Close()

	handoffs := service.NewHandoffService(kv.NewHandoffStore(store, cfg.HandoffTTL), presence, gateway)
	presenceService := service.NewPresenceService(presence, gateway, handoffs)
	signaling := service.NewSignalingService(rooms, presence, gateway)

	h := handler.NewHandler(presenceService, signaling, handoffs, hub, store, handler.Options{
		ReadLimit: cfg.ReadLimit,
		PongWait:  cfg.PongWait,
		Connection: ws.ConnectionOptions{
			WriteWait:   cfg.WriteWait,
			PingPeriod:  cfg.PingPeriod,
			SendBacklog: cfg.SendBacklog,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l.Info().Str("addr", cfg.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	l.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Closing the sockets runs each session's cleanup, which leaves rooms
	// and presence.
	hub.Stop()
	if err := h.Wait(shutdownCtx); err != nil {
		l.Warn().Err(err).Msg("Sessions still open at exit")
	}
	l.Info().Msg("Server exited")
}
