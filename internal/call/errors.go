package call

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Wyydra/yacall/internal/core/domain"
)

var (
	ErrStopped     = errors.New("call controller stopped")
	ErrRingTimeout = errors.New("nobody answered")
)

// UnreachableError reports targets that were offline when we called them.
type UnreachableError struct {
	Users []domain.UserID
}

func (e *UnreachableError) Error() string {
	names := make([]string, len(e.Users))
	for i, u := range e.Users {
		names[i] = u.String()
	}
	return "not online: " + strings.Join(names, ", ")
}

func (e *UnreachableError) Unwrap() error { return domain.ErrPeerUnreachable }

type BusyError struct {
	User domain.UserID
}

func (e *BusyError) Error() string { return fmt.Sprintf("%s is busy", e.User) }

// ServerError is an ERROR event returned by the signaling server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string { return fmt.Sprintf("server: %s: %s", e.Code, e.Message) }
