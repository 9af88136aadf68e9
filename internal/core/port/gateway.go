package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// RealTimeGateway delivers server events to connected clients. SendToUser and
// SendToConnection return domain.ErrUserNotFound when nobody is there to
// receive the event.
type RealTimeGateway interface {
	SendToUser(ctx context.Context, userID domain.UserID, ev domain.Event) error
	SendToConnection(ctx context.Context, connID domain.ConnectionID, ev domain.Event) error
	Broadcast(ctx context.Context, ev domain.Event, exclude domain.UserID) error
}
