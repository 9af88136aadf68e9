package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientEventTransferOffer(t *testing.T) {
	room := NewRoomID()
	frame, err := Encode(TransferOffer{
		RoomID:      room,
		PeerID:      "bob",
		Description: SessionDescription{Type: SDPOffer, SDP: "v=0"},
	})
	require.NoError(t, err)

	ev, err := DecodeClientEvent(frame)
	require.NoError(t, err)

	offer, ok := ev.(*TransferOffer)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, room, offer.RoomID)
	assert.Equal(t, UserID("bob"), offer.PeerID)
	assert.Equal(t, SDPOffer, offer.Description.Type)
}

func TestDecodeClientEventCandidate(t *testing.T) {
	room := NewRoomID()
	raw := []byte(`{
		"event":"TRANSFER_CANDIDATE",
		"data":{
			"roomId":"` + room.String() + `",
			"peerId":"bob",
			"candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host","sdpMid":"0","sdpMLineIndex":0}
		}
	}`)

	ev, err := DecodeClientEvent(raw)
	require.NoError(t, err)
	c := ev.(*TransferCandidate)
	require.NotNil(t, c.Candidate.SDPMid)
	assert.Equal(t, "0", *c.Candidate.SDPMid)
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	room := NewRoomID().String()
	cases := map[string]string{
		"unknown field":     `{"event":"ACCEPT_CALL","data":{"roomId":"` + room + `","extra":1}}`,
		"missing data":      `{"event":"ACCEPT_CALL"}`,
		"bad sdp type":      `{"event":"TRANSFER_OFFER","data":{"roomId":"` + room + `","peerId":"b","sessionDescription":{"type":"pranswer","sdp":"v=0"}}}`,
		"empty targets":     `{"event":"CALL","data":{"targets":[],"media":{"audio":true,"video":false},"chat":{}}}`,
		"no media":          `{"event":"CALL","data":{"targets":["b"],"media":{"audio":false,"video":false},"chat":{}}}`,
		"bad track kind":    `{"event":"CHANGE_STREAM","data":{"roomId":"` + room + `","kind":"screen","value":true}}`,
		"trailing data":     `{"event":"LEAVE_ROOM","data":{"roomId":"` + room + `"}} {}`,
		"candidate no mid":  `{"event":"TRANSFER_CANDIDATE","data":{"roomId":"` + room + `","peerId":"b","candidate":{"candidate":"x"}}}`,
		"missing chat id":   `{"event":"SET_TEMP_CHAT_ID","data":{"chatId":"","to":"b"}}`,
		"bad call status":   `{"event":"CHANGE_CALL_STATUS","data":{"status":"RINGING","userTo":"b"}}`,
		"not json":          `hello`,
		"negative count":    `{"event":"END_CALL","data":{"roomId":"` + room + `","remaining":-1}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeClientEvent([]byte(raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedEvent), "err = %v", err)
		})
	}
}

func TestDecodeDirectionality(t *testing.T) {
	frame, err := Encode(AddPeer{RoomID: NewRoomID(), PeerID: "bob", CreateOffer: true})
	require.NoError(t, err)

	_, err = DecodeClientEvent(frame)
	assert.ErrorIs(t, err, ErrUnknownEvent, "clients must not be able to forge ADD_PEER")

	ev, err := DecodeServerEvent(frame)
	require.NoError(t, err)
	assert.True(t, ev.(*AddPeer).CreateOffer)
}
