package protocol

import (
	"bytes"
	"encoding/json"
)

// Type identifies a signaling message on the wire.
type Type string

// Client to server.
const (
	TypeJoinRoom     Type = "join-room"
	TypeLeaveRoom    Type = "leave-room"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
)

// Server to client. Offer, answer and ice-candidate are relayed under the
// same type they were sent with.
const (
	TypeParticipants Type = "participants"
	TypeReady        Type = "ready"
	TypePeerLeft     Type = "peer-left"
	TypeError        Type = "error"
)

// ReasonRoomFull is the only error reason the server sends back.
const ReasonRoomFull = "room-full"

// Message is the envelope for every websocket frame in both directions.
// Description and Candidate are opaque to the server and forwarded verbatim.
type Message struct {
	Type        Type            `json:"type" msgpack:"type"`
	MeetingID   string          `json:"meetingId,omitempty" msgpack:"meetingId,omitempty"`
	Description json.RawMessage `json:"description,omitempty" msgpack:"description,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
	Count       int             `json:"count,omitempty" msgpack:"count,omitempty"`
	Initiator   *bool           `json:"initiator,omitempty" msgpack:"initiator,omitempty"`
	Reason      string          `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// Payload returns the opaque payload a relay message carries, or nil for
// message types that carry none.
func (m *Message) Payload() json.RawMessage {
	switch m.Type {
	case TypeOffer, TypeAnswer:
		return m.Description
	case TypeICECandidate:
		return m.Candidate
	}
	return nil
}

// IsRelay reports whether the message type is forwarded between peers.
func (t Type) IsRelay() bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}

// Empty reports whether a payload is absent. A literal JSON null counts as
// absent.
func Empty(p json.RawMessage) bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Participants builds the membership size update.
func Participants(count int) *Message {
	return &Message{Type: TypeParticipants, Count: count}
}

// Ready builds the initiator election result for one member.
func Ready(initiator bool) *Message {
	return &Message{Type: TypeReady, Initiator: &initiator}
}

// PeerLeft builds the notification sent to remaining members.
func PeerLeft() *Message {
	return &Message{Type: TypePeerLeft}
}

// Forwarded strips the routing fields from a relay message so that the
// receiver only sees the payload.
func Forwarded(m *Message) *Message {
	out := &Message{Type: m.Type}
	switch m.Type {
	case TypeOffer, TypeAnswer:
		out.Description = m.Description
	case TypeICECandidate:
		out.Candidate = m.Candidate
	}
	return out
}
