package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	ReadLimit  int64
	PongWait   time.Duration
	Connection ws.ConnectionOptions
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  64 << 10,
		PongWait:   60 * time.Second,
		Connection: ws.DefaultConnectionOptions(),
	}
}

type Handler struct {
	Presence  *service.PresenceService
	Signaling *service.SignalingService
	Handoffs  *service.HandoffService
	Hub       *ws.Hub
	Store     Pinger

	opts     Options
	sessions sync.WaitGroup
}

func NewHandler(presence *service.PresenceService, signaling *service.SignalingService, handoffs *service.HandoffService, hub *ws.Hub, store Pinger, opts Options) *Handler {
	return &Handler{
		Presence:  presence,
		Signaling: signaling,
		Handoffs:  handoffs,
		Hub:       hub,
		Store:     store,
		opts:      opts,
	}
}

// Wait blocks until every websocket session has run its cleanup or ctx is
// done. http.Server.Shutdown does not track hijacked connections, so call
// this after closing them with Hub.Stop.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/presence", h.listPresence)
		r.Get("/presence/{userID}", h.getPresence)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listPresence(w http.ResponseWriter, r *http.Request) {
	users, err := h.Presence.Snapshot(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list presence")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "presence unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) getPresence(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	user, err := h.Presence.Lookup(r.Context(), id)
	if errors.Is(err, domain.ErrUserNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "user not online"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", id.String()).Msg("Failed to look up presence")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "presence unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
