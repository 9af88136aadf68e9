package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type EventName string

// Client to server.
const (
	EventCall              EventName = "CALL"
	EventAcceptCall        EventName = "ACCEPT_CALL"
	EventEndCall           EventName = "END_CALL"
	EventLeaveRoom         EventName = "LEAVE_ROOM"
	EventChangeCallStatus  EventName = "CHANGE_CALL_STATUS"
	EventTransferCandidate EventName = "TRANSFER_CANDIDATE"
	EventTransferOffer     EventName = "TRANSFER_OFFER"
)

// Server to client.
const (
	EventAllUsers           EventName = "ALL_USERS"
	EventNewUser            EventName = "NEW_USER"
	EventUserDisconnect     EventName = "USER_DISCONNECT"
	EventNotifyCall         EventName = "NOTIFY_CALL"
	EventAddPeer            EventName = "ADD_PEER"
	EventRemovePeer         EventName = "REMOVE_PEER"
	EventCancelCall         EventName = "CANCEL_CALL"
	EventSetCallStatus      EventName = "SET_CALL_STATUS"
	EventGetCandidate       EventName = "GET_CANDIDATE"
	EventSessionDescription EventName = "SESSION_DESCRIPTION"
	EventPeerUnreachable    EventName = "PEER_UNREACHABLE"
	EventError              EventName = "ERROR"
)

// Both directions.
const (
	EventChangeStream  EventName = "CHANGE_STREAM"
	EventIsTalking     EventName = "IS_TALKING"
	EventSetTempChatID EventName = "SET_TEMP_CHAT_ID"
)

// Event is one variant of the closed signaling protocol.
type Event interface {
	Name() EventName
	Validate() error
}

// Envelope is the frame carried over the transport connection.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(ev Event) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return Envelope{Event: ev.Name(), Data: data}, nil
}

// Encode marshals ev into a complete frame.
func Encode(ev Event) ([]byte, error) {
	env, err := NewEnvelope(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

var clientEvents = map[EventName]func() Event{
	EventCall:              func() Event { return &CallRequest{} },
	EventAcceptCall:        func() Event { return &AcceptCall{} },
	EventEndCall:           func() Event { return &EndCall{} },
	EventLeaveRoom:         func() Event { return &LeaveRoom{} },
	EventChangeCallStatus:  func() Event { return &ChangeCallStatus{} },
	EventTransferCandidate: func() Event { return &TransferCandidate{} },
	EventTransferOffer:     func() Event { return &TransferOffer{} },
	EventChangeStream:      func() Event { return &ChangeStream{} },
	EventIsTalking:         func() Event { return &IsTalking{} },
	EventSetTempChatID:     func() Event { return &TempChatID{} },
}

var serverEvents = map[EventName]func() Event{
	EventAllUsers:           func() Event { return &AllUsers{} },
	EventNewUser:            func() Event { return &NewUser{} },
	EventUserDisconnect:     func() Event { return &UserDisconnect{} },
	EventNotifyCall:         func() Event { return &NotifyCall{} },
	EventAddPeer:            func() Event { return &AddPeer{} },
	EventRemovePeer:         func() Event { return &RemovePeer{} },
	EventCancelCall:         func() Event { return &CancelCall{} },
	EventSetCallStatus:      func() Event { return &SetCallStatus{} },
	EventGetCandidate:       func() Event { return &GetCandidate{} },
	EventSessionDescription: func() Event { return &RemoteDescription{} },
	EventChangeStream:       func() Event { return &ChangeStream{} },
	EventIsTalking:          func() Event { return &IsTalking{} },
	EventSetTempChatID:      func() Event { return &TempChatID{} },
	EventPeerUnreachable:    func() Event { return &PeerUnreachable{} },
	EventError:              func() Event { return &ErrorEvent{} },
}

// DecodeClientEvent parses a frame sent by a client to the server.
func DecodeClientEvent(frame []byte) (Event, error) {
	return decode(frame, clientEvents)
}

// DecodeServerEvent parses a frame sent by the server to a client.
func DecodeServerEvent(frame []byte) (Event, error) {
	return decode(frame, serverEvents)
}

func decode(frame []byte, registry map[EventName]func() Event) (Event, error) {
	var env Envelope
	if err := strictUnmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	newEvent, ok := registry[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	ev := newEvent()
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s has no data", ErrMalformedEvent, env.Event)
	}
	if err := strictUnmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Event, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Event, err)
	}
	return ev, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func requireRoom(id RoomID) error {
	if id.IsZero() {
		return errors.New("missing roomId")
	}
	return nil
}

func requirePeer(id UserID) error {
	if id == "" {
		return errors.New("missing peerId")
	}
	return nil
}

// ---- client to server ----

// CallRequest may carry a room id chosen by the caller, so the caller can
// cancel the ring before anyone answers.
type CallRequest struct {
	RoomID  *RoomID       `json:"roomId,omitempty"`
	Targets []UserID      `json:"targets"`
	Media   MediaSettings `json:"media"`
	Chat    ChatContext   `json:"chat"`
}

func (CallRequest) Name() EventName { return EventCall }

func (e CallRequest) Validate() error {
	if e.RoomID != nil && e.RoomID.IsZero() {
		return errors.New("zero roomId")
	}
	if len(e.Targets) == 0 {
		return errors.New("no targets")
	}
	for _, t := range e.Targets {
		if t == "" {
			return errors.New("empty target")
		}
	}
	return e.Media.Validate()
}

type AcceptCall struct {
	RoomID RoomID `json:"roomId"`
}

func (AcceptCall) Name() EventName   { return EventAcceptCall }
func (e AcceptCall) Validate() error { return requireRoom(e.RoomID) }

// EndCall carries the sender's view of how many participants remain. The
// server treats it as advisory; its own membership is authoritative.
type EndCall struct {
	RoomID    RoomID `json:"roomId"`
	Remaining *int   `json:"remaining,omitempty"`
}

func (EndCall) Name() EventName { return EventEndCall }

func (e EndCall) Validate() error {
	if e.Remaining != nil && *e.Remaining < 0 {
		return errors.New("negative remaining")
	}
	return requireRoom(e.RoomID)
}

type LeaveRoom struct {
	RoomID RoomID `json:"roomId"`
}

func (LeaveRoom) Name() EventName   { return EventLeaveRoom }
func (e LeaveRoom) Validate() error { return requireRoom(e.RoomID) }

type ChangeCallStatus struct {
	Status CallStatus `json:"status"`
	UserTo UserID     `json:"userTo"`
}

func (ChangeCallStatus) Name() EventName { return EventChangeCallStatus }

func (e ChangeCallStatus) Validate() error {
	if e.UserTo == "" {
		return errors.New("missing userTo")
	}
	return e.Status.Validate()
}

type TransferCandidate struct {
	RoomID    RoomID       `json:"roomId"`
	PeerID    UserID       `json:"peerId"`
	Candidate ICECandidate `json:"candidate"`
}

func (TransferCandidate) Name() EventName { return EventTransferCandidate }

func (e TransferCandidate) Validate() error {
	if err := requireRoom(e.RoomID); err != nil {
		return err
	}
	if err := requirePeer(e.PeerID); err != nil {
		return err
	}
	return e.Candidate.Validate()
}

type TransferOffer struct {
	RoomID      RoomID             `json:"roomId"`
	PeerID      UserID             `json:"peerId"`
	Description SessionDescription `json:"sessionDescription"`
}

func (TransferOffer) Name() EventName { return EventTransferOffer }

func (e TransferOffer) Validate() error {
	if err := requireRoom(e.RoomID); err != nil {
		return err
	}
	if err := requirePeer(e.PeerID); err != nil {
		return err
	}
	return e.Description.Validate()
}

// ---- both directions ----

// ChangeStream announces a local track toggle. PeerID is set by the server
// on the way out and ignored on the way in.
type ChangeStream struct {
	RoomID RoomID    `json:"roomId"`
	PeerID UserID    `json:"peerId,omitempty"`
	Kind   TrackKind `json:"kind"`
	Value  bool      `json:"value"`
}

func (ChangeStream) Name() EventName { return EventChangeStream }

func (e ChangeStream) Validate() error {
	if err := requireRoom(e.RoomID); err != nil {
		return err
	}
	return e.Kind.Validate()
}

type IsTalking struct {
	RoomID    RoomID `json:"roomId"`
	PeerID    UserID `json:"peerId,omitempty"`
	IsTalking bool   `json:"isTalking"`
}

func (IsTalking) Name() EventName   { return EventIsTalking }
func (e IsTalking) Validate() error { return requireRoom(e.RoomID) }

// TempChatID hands a provisional chat id from one user to another.
type TempChatID struct {
	ChatID string `json:"chatId"`
	From   UserID `json:"from,omitempty"`
	To     UserID `json:"to"`
}

func (TempChatID) Name() EventName { return EventSetTempChatID }

func (e TempChatID) Validate() error {
	if e.ChatID == "" {
		return errors.New("missing chatId")
	}
	if e.To == "" {
		return errors.New("missing to")
	}
	return nil
}

// ---- server to client ----

type AllUsers struct {
	Users []OnlineUser `json:"users"`
}

func (AllUsers) Name() EventName { return EventAllUsers }
func (AllUsers) Validate() error { return nil }

type NewUser struct {
	User OnlineUser `json:"user"`
}

func (NewUser) Name() EventName { return EventNewUser }
func (e NewUser) Validate() error {
	if e.User.UserID == "" {
		return errors.New("missing user")
	}
	return nil
}

type UserDisconnect struct {
	UserID UserID `json:"userId"`
}

func (UserDisconnect) Name() EventName   { return EventUserDisconnect }
func (e UserDisconnect) Validate() error { return requirePeer(e.UserID) }

type NotifyCall struct {
	RoomID       RoomID        `json:"roomId"`
	From         OnlineUser    `json:"from"`
	Media        MediaSettings `json:"media"`
	Chat         ChatContext   `json:"chat"`
	Participants []UserID      `json:"participants"`
}

func (NotifyCall) Name() EventName { return EventNotifyCall }

func (e NotifyCall) Validate() error {
	if err := requireRoom(e.RoomID); err != nil {
		return err
	}
	return requirePeer(e.From.UserID)
}

type AddPeer struct {
	RoomID      RoomID  `json:"roomId"`
	PeerID      UserID  `json:"peerId"`
	CreateOffer bool    `json:"createOffer"`
	Profile     Profile `json:"profile"`
}

func (AddPeer) Name() EventName { return EventAddPeer }

func (e AddPeer) Validate() error {
	if err := requireRoom(e.RoomID); err != nil {
		return err
	}
	return requirePeer(e.PeerID)
}

type RemovePeer struct {
	RoomID RoomID `json:"roomId"`
	PeerID UserID `json:"peerId"`
}

func (RemovePeer) Name() EventName { return EventRemovePeer }

func (e RemovePeer) Validate() error {
	if err := requireRoom(e.RoomID); err != nil {
		return err
	}
	return requirePeer(e.PeerID)
}

// CancelCall tells a still-ringing receiver to drop the ring. It is distinct
// from RemovePeer, which tears down part of a live mesh.
type CancelCall struct {
	RoomID RoomID `json:"roomId"`
	From   UserID `json:"from"`
}

func (CancelCall) Name() EventName   { return EventCancelCall }
func (e CancelCall) Validate() error { return requireRoom(e.RoomID) }

type SetCallStatus struct {
	Status CallStatus `json:"status"`
	From   UserID     `json:"from"`
}

func (SetCallStatus) Name() EventName   { return EventSetCallStatus }
func (e SetCallStatus) Validate() error { return e.Status.Validate() }

type GetCandidate struct {
	RoomID    RoomID       `json:"roomId"`
	PeerID    UserID       `json:"peerId"`
	Candidate ICECandidate `json:"candidate"`
}

func (GetCandidate) Name() EventName { return EventGetCandidate }

func (e GetCandidate) Validate() error {
	if err := requireRoom(e.RoomID); err != nil {
		return err
	}
	return requirePeer(e.PeerID)
}

// RemoteDescription is the SESSION_DESCRIPTION frame; PeerID is the sender.
type RemoteDescription struct {
	RoomID      RoomID             `json:"roomId"`
	PeerID      UserID             `json:"peerId"`
	Description SessionDescription `json:"sessionDescription"`
}

func (RemoteDescription) Name() EventName { return EventSessionDescription }

func (e RemoteDescription) Validate() error {
	if err := requireRoom(e.RoomID); err != nil {
		return err
	}
	if err := requirePeer(e.PeerID); err != nil {
		return err
	}
	return e.Description.Validate()
}

// PeerUnreachable lists call targets that could not be rung. CallEnded is
// set when nobody could be rung and no room exists.
type PeerUnreachable struct {
	RoomID    RoomID   `json:"roomId"`
	UserIDs   []UserID `json:"userIds"`
	CallEnded bool     `json:"callEnded"`
}

func (PeerUnreachable) Name() EventName { return EventPeerUnreachable }

func (e PeerUnreachable) Validate() error {
	if len(e.UserIDs) == 0 {
		return errors.New("missing userIds")
	}
	return nil
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorEvent) Name() EventName { return EventError }
func (ErrorEvent) Validate() error { return nil }
