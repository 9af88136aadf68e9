package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Identity is asserted by the query string; origin checks belong to the
	// fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and runs the read loop of one client. The
// identity comes from the user_id, name and avatar query parameters.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.sessions.Add(1)
	defer h.sessions.Done()

	q := r.URL.Query()
	userID, err := domain.ParseUserID(q.Get("user_id"))
	if err != nil {
		http.Error(w, "missing or invalid user_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := ws.NewConnection(userID, conn, h.opts.Connection)
	l := log.With().Str("client_id", client.ID().String()).Str("user_id", userID.String()).Logger()
	l.Info().Msg("New client connected")

	user, err := domain.NewOnlineUser(userID, client.ID(), domain.Profile{
		Name:   q.Get("name"),
		Avatar: q.Get("avatar"),
	})
	if err != nil {
		l.Error().Err(err).Msg("Rejecting client")
		_ = conn.Close()
		return
	}

	conn.SetReadLimit(h.opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	client.Start()

	// Requests end when the handler returns; the session outlives none of them.
	ctx := context.WithoutCancel(r.Context())

	// An entry already in presence means a reconnect, possibly through
	// another process: whatever calls the old socket was in are gone with it.
	_, lookupErr := h.Presence.Lookup(ctx, userID)
	previous := h.Hub.Register(client)
	if lookupErr == nil || previous != nil {
		l.Info().Msg("Replacing previous connection")
		if err := h.Signaling.Disconnect(ctx, userID); err != nil {
			l.Warn().Err(err).Msg("Failed to clear rooms of previous connection")
		}
	}
	if previous != nil {
		previous.Close(websocket.CloseNormalClosure, "replaced by a newer connection")
	}

	if err := h.Presence.Register(ctx, *user); err != nil {
		l.Error().Err(err).Msg("Failed to register presence")
		h.Hub.Unregister(client)
		client.Close(websocket.CloseInternalServerErr, "presence unavailable")
		return
	}

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		// Only the connection that still owns the presence entry may leave
		// rooms; a stale socket closing after a reconnect, here or on another
		// process, must not tear down the live session.
		owned, err := h.Presence.Unregister(ctx, userID, client.ID())
		if err != nil {
			l.Error().Err(err).Msg("Failed to unregister presence")
		}
		if owned {
			if err := h.Signaling.Disconnect(ctx, userID); err != nil {
				l.Warn().Err(err).Msg("Failed to leave rooms on disconnect")
			}
		}
		client.Close(websocket.CloseNormalClosure, "")
	}()

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			h.reject(client, l, domain.ErrMalformedEvent)
			continue
		}

		ev, err := domain.DecodeClientEvent(frame)
		if err != nil {
			h.reject(client, l, err)
			continue
		}
		if err := h.dispatch(ctx, userID, ev); err != nil {
			h.reject(client, l, err)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, from domain.UserID, ev domain.Event) error {
	switch e := ev.(type) {
	case *domain.CallRequest:
		_, err := h.Signaling.InitiateCall(ctx, from, *e)
		if errors.Is(err, domain.ErrPeerUnreachable) {
			// Already reported to the caller as PEER_UNREACHABLE.
			return nil
		}
		return err
	case *domain.AcceptCall:
		return h.Signaling.AcceptCall(ctx, e.RoomID, from)
	case *domain.EndCall:
		return h.Signaling.EndCall(ctx, e.RoomID, from, e.Remaining)
	case *domain.LeaveRoom:
		return h.Signaling.LeaveRoom(ctx, e.RoomID, from)
	case *domain.ChangeCallStatus:
		return h.Signaling.ChangeCallStatus(ctx, from, *e)
	case *domain.TransferOffer:
		return h.Signaling.RelayDescription(ctx, from, *e)
	case *domain.TransferCandidate:
		return h.Signaling.RelayCandidate(ctx, from, *e)
	case *domain.ChangeStream:
		return h.Signaling.ChangeStream(ctx, from, *e)
	case *domain.IsTalking:
		return h.Signaling.Talking(ctx, from, *e)
	case *domain.TempChatID:
		return h.Handoffs.SetTempChatID(ctx, from, e.ChatID, e.To)
	}
	return domain.ErrUnknownEvent
}

func (h *Handler) reject(client ws.Client, l zerolog.Logger, err error) {
	code := errorCode(err)
	l.Warn().Err(err).Str("code", code).Msg("Rejected client event")

	frame, encErr := domain.Encode(domain.ErrorEvent{Code: code, Message: err.Error()})
	if encErr != nil {
		l.Error().Err(encErr).Msg("Failed to encode error event")
		return
	}
	if err := client.Send(frame); err != nil {
		l.Debug().Err(err).Msg("Error event not delivered")
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, domain.ErrMalformedEvent):
		return "malformed_event"
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, domain.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, domain.ErrUserNotFound):
		return "user_not_found"
	}
	return "internal"
}
