package relay

import (
	"errors"
	"time"

	"github.com/BioHazard786/Meetlink/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionConfig tunes the websocket pumps.
type SessionConfig struct {
	// WriteWait is the time allowed to write a frame to the peer.
	WriteWait time.Duration

	// PongWait is the time allowed to read the next pong. A peer that
	// vanishes without a close handshake is dropped after this long.
	PongWait time.Duration

	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration

	// MaxMessageSize bounds inbound frames. SDP blobs fit well inside 64 KB.
	MaxMessageSize int64

	// SendBuffer is the outbound queue length per session.
	SendBuffer int
}

// DefaultSessionConfig returns production pump settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
	}
}

// Session is one websocket connection (a room member).
type Session struct {
	ID MemberID

	hub   *Hub
	conn  *websocket.Conn
	codec protocol.Codec
	cfg   SessionConfig
	log   zerolog.Logger

	// send is written by the hub only and drained by WritePump.
	send chan *protocol.Message

	// evicted is owned by the hub goroutine.
	evicted bool
}

// NewSession wraps an upgraded connection. Register it with the hub before
// starting the pumps.
func NewSession(hub *Hub, conn *websocket.Conn, id MemberID, codec protocol.Codec, cfg SessionConfig) *Session {
	return &Session{
		ID:    id,
		hub:   hub,
		conn:  conn,
		codec: codec,
		cfg:   cfg,
		log:   log.With().Str("member_id", string(id)).Str("codec", codec.Name()).Logger(),
		send:  make(chan *protocol.Message, cfg.SendBuffer),
	}
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. It is the
// only reader of the connection, and its exit is the session's disconnect
// event.
func (s *Session) ReadPump() {
	defer func() {
		s.hub.Unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		return nil
	})

	for {
		msg, err := protocol.ReadMessage(s.conn, s.codec)
		if errors.Is(err, protocol.ErrMalformed) {
			s.log.Debug().Err(err).Msg("Dropping malformed frame")
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		s.hub.Dispatch(s, msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection and
// keeps the connection alive with pings. It is the only writer.
func (s *Session) WritePump() {
	ticker := time.NewTicker(s.cfg.PingPeriod)

	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if !ok {
				// The hub closed the channel.
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			data, err := s.codec.Marshal(msg)
			if err != nil {
				s.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("Dropping message that failed to encode")
				continue
			}
			if err := s.conn.WriteMessage(s.codec.FrameType(), data); err != nil {
				s.log.Warn().Err(err).Msg("Write failed")
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
