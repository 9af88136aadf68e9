package domain

import "errors"

// Profile is the snapshot of display data supplied by the client at connect
// time. Authoritative profile data lives with the external profile service.
type Profile struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type OnlineUser struct {
	UserID       UserID       `json:"userId"`
	ConnectionID ConnectionID `json:"connectionId"`
	Profile      Profile      `json:"profile"`
}

func NewOnlineUser(userID UserID, connID ConnectionID, profile Profile) (*OnlineUser, error) {
	if userID == "" {
		return nil, errors.New("online user needs a user id")
	}
	if profile.Name == "" {
		profile.Name = userID.String()
	}
	return &OnlineUser{
		UserID:       userID,
		ConnectionID: connID,
		Profile:      profile,
	}, nil
}
