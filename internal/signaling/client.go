package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/Meetlink/internal/dns"
	"github.com/BioHazard786/Meetlink/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	closeGrace     = time.Second
)

// ErrClosed is returned by Send once the connection is gone.
var ErrClosed = errors.New("signaling connection closed")

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	codec     protocol.Codec
	preferred []string

	incoming chan *protocol.Message
	outgoing chan *protocol.Message

	// done is closed by Close; writerDone when the write pump exits.
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

// NewClient creates a new signaling client. With msgpack set the client
// asks for the binary codec and falls back to whatever the server picks.
func NewClient(serverURL string, msgpack bool) *Client {
	preferred := []string{protocol.SubprotocolJSON}
	if msgpack {
		preferred = []string{protocol.SubprotocolMsgpack, protocol.SubprotocolJSON}
	}
	return &Client{
		serverURL:  serverURL,
		preferred:  preferred,
		codec:      protocol.JSON,
		incoming:   make(chan *protocol.Message, 32),
		outgoing:   make(chan *protocol.Message, 32),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		NetDialContext:   dns.Default.DialContext,
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     c.preferred,
	}

	conn, _, err := dialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.codec = protocol.CodecFor(conn.Subprotocol())

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	log.Debug().Str("server", c.serverURL).Str("codec", c.codec.Name()).Msg("Connected to signaling server")

	go c.readPump()
	go c.writePump()

	return nil
}

// Codec reports the negotiated codec.
func (c *Client) Codec() protocol.Codec {
	return c.codec
}

// readPump reads messages from the WebSocket connection. Incoming is closed
// when it exits, which is how callers observe a dropped transport.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, err := protocol.ReadMessage(c.conn, c.codec)
		if errors.Is(err, protocol.ErrMalformed) {
			log.Debug().Err(err).Msg("Dropping malformed frame from server")
			continue
		}
		if err != nil {
			return
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic
// pings. On Close it flushes anything already queued before the close frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := protocol.WriteMessage(c.conn, c.codec, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, then the close frame.
func (c *Client) flush() {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	for {
		select {
		case msg := <-c.outgoing:
			if err := protocol.WriteMessage(c.conn, c.codec, msg); err != nil {
				return
			}
		default:
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues a message for the server.
func (c *Client) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-c.writerDone:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.writerDone:
		return ErrClosed
	}
}

// Incoming returns the channel for receiving messages.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Close flushes queued messages, sends a close frame and waits briefly for
// the write pump to finish. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		select {
		case <-c.writerDone:
		case <-time.After(closeGrace):
			c.conn.Close()
		}
	})
	return nil
}
