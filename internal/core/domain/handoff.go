package domain

import (
	"errors"
	"time"
)

// PendingChatHandoff is a provisional chat id waiting for an offline
// recipient. It is keyed by ToUserID and consumed at most once.
type PendingChatHandoff struct {
	ChatID     string    `json:"chatId"`
	FromUserID UserID    `json:"from"`
	ToUserID   UserID    `json:"to"`
	CreatedAt  time.Time `json:"createdAt"`
}

func NewPendingChatHandoff(chatID string, from, to UserID) (*PendingChatHandoff, error) {
	if chatID == "" {
		return nil, errors.New("handoff chat id cannot be empty")
	}
	if from == "" || to == "" {
		return nil, errors.New("handoff needs both sender and recipient")
	}
	if from == to {
		return nil, errors.New("handoff sender and recipient must differ")
	}
	return &PendingChatHandoff{
		ChatID:     chatID,
		FromUserID: from,
		ToUserID:   to,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
