package domain

import (
	"errors"
	"fmt"
)

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription is relayed between peers without inspection of SDP.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

func (d SessionDescription) Validate() error {
	switch d.Type {
	case SDPOffer, SDPAnswer:
	default:
		return fmt.Errorf("unsupported sdp type %q", d.Type)
	}
	if d.SDP == "" {
		return errors.New("empty sdp")
	}
	return nil
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (c ICECandidate) Validate() error {
	if c.SDPMid == nil && c.SDPMLineIndex == nil {
		return errors.New("candidate needs sdpMid or sdpMLineIndex")
	}
	return nil
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

func (k TrackKind) Validate() error {
	switch k {
	case TrackAudio, TrackVideo:
		return nil
	}
	return fmt.Errorf("unknown track kind %q", k)
}

type MediaSettings struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

func (m MediaSettings) Validate() error {
	if !m.Audio && !m.Video {
		return errors.New("call needs audio or video")
	}
	return nil
}
