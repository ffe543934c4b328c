package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Websocket subprotocols understood by both ends. JSON is used when the
// client asks for nothing.
const (
	SubprotocolJSON    = "meetlink.json"
	SubprotocolMsgpack = "meetlink.msgpack"
)

// Subprotocols lists the supported subprotocols in server preference order.
var Subprotocols = []string{SubprotocolJSON, SubprotocolMsgpack}

// ErrMalformed wraps any frame that could not be decoded into a Message.
var ErrMalformed = errors.New("malformed message")

var errPayloadNotJSON = errors.New("payload is not valid JSON")

// Codec turns messages into websocket frames and back.
type Codec interface {
	Name() string
	FrameType() int
	Marshal(m *Message) ([]byte, error)
	Unmarshal(data []byte, m *Message) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return SubprotocolJSON }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

// jsonEnvelope is Message without its payloads. jsonCodec encodes it and
// splices the payload bytes in as they are, since json.Marshal would compact
// and HTML-escape a json.RawMessage.
type jsonEnvelope struct {
	Type      Type   `json:"type"`
	MeetingID string `json:"meetingId,omitempty"`
	Count     int    `json:"count,omitempty"`
	Initiator *bool  `json:"initiator,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (jsonCodec) Marshal(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(jsonEnvelope{
		Type:      m.Type,
		MeetingID: m.MeetingID,
		Count:     m.Count,
		Initiator: m.Initiator,
		Reason:    m.Reason,
	})
	if err != nil {
		return nil, err
	}

	// Drop the trailing newline and closing brace; the envelope always has
	// a type field, so payloads are appended after a comma.
	out := bytes.TrimRight(buf.Bytes(), "\n")
	out = out[:len(out)-1]
	if out, err = appendRaw(out, "description", m.Description); err != nil {
		return nil, err
	}
	if out, err = appendRaw(out, "candidate", m.Candidate); err != nil {
		return nil, err
	}
	return append(out, '}'), nil
}

func appendRaw(out []byte, key string, raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return out, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s: %w", key, errPayloadNotJSON)
	}
	out = append(out, `,"`...)
	out = append(out, key...)
	out = append(out, `":`...)
	return append(out, raw...), nil
}

func (jsonCodec) Unmarshal(data []byte, m *Message) error {
	return json.Unmarshal(data, m)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return SubprotocolMsgpack }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Marshal(m *Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

// Unmarshal rejects payloads that are not JSON, since JSON peers in the same
// room could not be sent them.
func (msgpackCodec) Unmarshal(data []byte, m *Message) error {
	if err := msgpack.Unmarshal(data, m); err != nil {
		return err
	}
	for _, p := range []json.RawMessage{m.Description, m.Candidate} {
		if len(p) > 0 && !json.Valid(p) {
			return errPayloadNotJSON
		}
	}
	return nil
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecFor returns the codec for a negotiated subprotocol, defaulting to JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return Msgpack
	}
	return JSON
}

// WriteMessage encodes m with c and writes it as one frame. Callers must
// hold the connection's single writer role.
func WriteMessage(conn *websocket.Conn, c Codec, m *Message) error {
	data, err := c.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return conn.WriteMessage(c.FrameType(), data)
}

// ReadMessage reads one frame and decodes it with c. Transport errors are
// returned as-is; decode failures wrap ErrMalformed so that callers can drop
// the frame and keep reading.
func ReadMessage(conn *websocket.Conn, c Codec) (*Message, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := c.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &msg, nil
}
