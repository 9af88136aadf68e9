package domain

import (
	"errors"

	"github.com/google/uuid"
)

// UserID is issued by the external auth collaborator; we never mint one.
type UserID string

type RoomID uuid.UUID
type ConnectionID uuid.UUID

func NewRoomID() RoomID {
	return RoomID(uuid.New())
}

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New())
}

func ParseUserID(s string) (UserID, error) {
	if s == "" {
		return "", errors.New("user id cannot be empty")
	}
	if len(s) > 128 {
		return "", errors.New("user id too long")
	}
	return UserID(s), nil
}

func ParseRoomID(s string) (RoomID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RoomID{}, err
	}
	return RoomID(id), nil
}

func (id UserID) String() string {
	return string(id)
}

func (id RoomID) String() string {
	return uuid.UUID(id).String()
}

func (id RoomID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id RoomID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *RoomID) UnmarshalText(b []byte) error {
	parsed, err := ParseRoomID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ConnectionID) String() string {
	return uuid.UUID(id).String()
}

func (id ConnectionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ConnectionID) UnmarshalText(b []byte) error {
	parsed, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ConnectionID(parsed)
	return nil
}
