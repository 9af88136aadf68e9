package ws

import "github.com/Wyydra/yacall/internal/core/domain"

// Client is one server-side transport connection.
type Client interface {
	ID() domain.ConnectionID
	UserID() domain.UserID
	Send(frame []byte) error
	Close(code int, reason string)
}
