package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BioHazard786/Meetlink/internal/protocol"
	"github.com/BioHazard786/Meetlink/internal/relay"
	"github.com/gorilla/websocket"
)

type testServer struct {
	*httptest.Server
	hub *relay.Hub
}

func newTestServer(t *testing.T, origins ...string) *testServer {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	var n atomic.Int32
	hub := relay.NewHub()
	go hub.Run()

	srv := httptest.NewServer(NewRouter(hub, Options{
		AllowedOrigins: origins,
		Session:        relay.DefaultSessionConfig(),
		NewMemberID: func() relay.MemberID {
			// Sequential ids: A, B, C, ...
			return relay.MemberID(string(rune('A' + n.Add(1) - 1)))
		},
	}))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return &testServer{Server: srv, hub: hub}
}

type peer struct {
	t     *testing.T
	conn  *websocket.Conn
	codec protocol.Codec
}

func (s *testServer) dial(t *testing.T, subprotocol string) *peer {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: time.Second}
	if subprotocol != "" {
		dialer.Subprotocols = []string{subprotocol}
	}
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn, codec: protocol.CodecFor(conn.Subprotocol())}
}

func (p *peer) send(msg *protocol.Message) {
	p.t.Helper()
	if err := protocol.WriteMessage(p.conn, p.codec, msg); err != nil {
		p.t.Fatalf("write %s: %v", msg.Type, err)
	}
}

func (p *peer) expect(typ protocol.Type) *protocol.Message {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadMessage(p.conn, p.codec)
	if err != nil {
		p.t.Fatalf("waiting for %s: %v", typ, err)
	}
	if msg.Type != typ {
		p.t.Fatalf("got %s, want %s", msg.Type, typ)
	}
	return msg
}

func (p *peer) expectSilence(d time.Duration) {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(d))
	msg, err := protocol.ReadMessage(p.conn, p.codec)
	if err == nil {
		p.t.Fatalf("unexpected %s", msg.Type)
	}
	// A read deadline error leaves the connection unusable, so this is only
	// called last.
}

func TestMeetingScenario(t *testing.T) {
	for _, subprotocol := range []string{"", protocol.SubprotocolJSON, protocol.SubprotocolMsgpack} {
		name := subprotocol
		if name == "" {
			name = "default"
		}
		t.Run(name, func(t *testing.T) {
			srv := newTestServer(t)

			a := srv.dial(t, subprotocol)
			if want := protocol.CodecFor(subprotocol).Name(); a.codec.Name() != want {
				t.Fatalf("negotiated %s, want %s", a.codec.Name(), want)
			}
			a.send(&protocol.Message{Type: protocol.TypeJoinRoom, MeetingID: "abc123"})
			if msg := a.expect(protocol.TypeParticipants); msg.Count != 1 {
				t.Fatalf("count = %d, want 1", msg.Count)
			}

			b := srv.dial(t, subprotocol)
			b.send(&protocol.Message{Type: protocol.TypeJoinRoom, MeetingID: "abc123"})

			for _, p := range []*peer{a, b} {
				if msg := p.expect(protocol.TypeParticipants); msg.Count != 2 {
					t.Fatalf("count = %d, want 2", msg.Count)
				}
			}
			if msg := a.expect(protocol.TypeReady); !*msg.Initiator {
				t.Fatal("A should be the initiator")
			}
			if msg := b.expect(protocol.TypeReady); *msg.Initiator {
				t.Fatal("B should not be the initiator")
			}

			offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\na=group:BUNDLE 0 1\r\n"}`)
			a.send(&protocol.Message{Type: protocol.TypeOffer, MeetingID: "abc123", Description: offer})
			if got := b.expect(protocol.TypeOffer); !bytes.Equal(got.Description, offer) {
				t.Fatalf("offer changed in transit: %s", got.Description)
			}

			answer := json.RawMessage(`{"type":"answer","sdp":"v=0\r\n"}`)
			b.send(&protocol.Message{Type: protocol.TypeAnswer, MeetingID: "abc123", Description: answer})
			if got := a.expect(protocol.TypeAnswer); !bytes.Equal(got.Description, answer) {
				t.Fatalf("answer changed in transit: %s", got.Description)
			}

			for i := 0; i < 3; i++ {
				c := json.RawMessage(fmt.Sprintf(`{"candidate":"candidate:%d 1 udp 1 10.0.0.%d 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`, i, i))
				a.send(&protocol.Message{Type: protocol.TypeICECandidate, MeetingID: "abc123", Candidate: c})
				b.send(&protocol.Message{Type: protocol.TypeICECandidate, MeetingID: "abc123", Candidate: c})
			}
			for i := 0; i < 3; i++ {
				a.expect(protocol.TypeICECandidate)
				b.expect(protocol.TypeICECandidate)
			}

			a.send(&protocol.Message{Type: protocol.TypeLeaveRoom, MeetingID: "abc123"})
			b.expect(protocol.TypePeerLeft)
			if msg := b.expect(protocol.TypeParticipants); msg.Count != 1 {
				t.Fatalf("count after leave = %d, want 1", msg.Count)
			}

			rooms := srv.rooms(t)
			if len(rooms) != 1 || rooms[0].ID != "abc123" || rooms[0].Members != 1 {
				t.Fatalf("rooms = %+v", rooms)
			}
		})
	}
}

// expectFrame reads one frame and returns it undecoded alongside the
// decoded message.
func (p *peer) expectFrame(typ protocol.Type) ([]byte, *protocol.Message) {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		p.t.Fatalf("waiting for %s: %v", typ, err)
	}
	var msg protocol.Message
	if err := p.codec.Unmarshal(data, &msg); err != nil {
		p.t.Fatalf("decode %s: %v", typ, err)
	}
	if msg.Type != typ {
		p.t.Fatalf("got %s, want %s", msg.Type, typ)
	}
	return data, &msg
}

func pairPeers(t *testing.T, room string, a, b *peer) {
	t.Helper()
	a.send(&protocol.Message{Type: protocol.TypeJoinRoom, MeetingID: room})
	a.expect(protocol.TypeParticipants)
	b.send(&protocol.Message{Type: protocol.TypeJoinRoom, MeetingID: room})
	a.expect(protocol.TypeParticipants)
	b.expect(protocol.TypeParticipants)
	a.expect(protocol.TypeReady)
	b.expect(protocol.TypeReady)
}

func TestMixedCodecRoom(t *testing.T) {
	srv := newTestServer(t)
	a := srv.dial(t, protocol.SubprotocolMsgpack)
	b := srv.dial(t, protocol.SubprotocolJSON)
	pairPeers(t, "mixed", a, b)

	// A binary payload the JSON member could never be sent is dropped at
	// ingress and both connections stay up.
	a.send(&protocol.Message{Type: protocol.TypeOffer, MeetingID: "mixed", Description: json.RawMessage("not json")})

	candidate := json.RawMessage(`{"candidate": "candidate:1 1 udp 1 10.0.0.1 5000 typ host", "sdpMid": "0"}`)
	a.send(&protocol.Message{Type: protocol.TypeICECandidate, MeetingID: "mixed", Candidate: candidate})
	frame, msg := b.expectFrame(protocol.TypeICECandidate)
	if !bytes.Equal(msg.Candidate, candidate) || !bytes.Contains(frame, candidate) {
		t.Fatalf("candidate changed in transit: %s", frame)
	}

	answer := json.RawMessage(`{"type": "answer", "sdp": "v=0 <a> & b"}`)
	b.send(&protocol.Message{Type: protocol.TypeAnswer, MeetingID: "mixed", Description: answer})
	if got := a.expect(protocol.TypeAnswer); !bytes.Equal(got.Description, answer) {
		t.Fatalf("answer changed in transit: %s", got.Description)
	}

	rooms := srv.rooms(t)
	if len(rooms) != 1 || rooms[0].Members != 2 {
		t.Fatalf("rooms = %+v", rooms)
	}
}

func TestJSONRelayIsByteIdentical(t *testing.T) {
	srv := newTestServer(t)
	a := srv.dial(t, "")
	b := srv.dial(t, "")
	pairPeers(t, "verbatim", a, b)

	offer := json.RawMessage(`{"type": "offer", "sdp": "v=0 <a> & b"}`)
	a.send(&protocol.Message{Type: protocol.TypeOffer, MeetingID: "verbatim", Description: offer})

	frame, msg := b.expectFrame(protocol.TypeOffer)
	if !bytes.Equal(msg.Description, offer) || !bytes.Contains(frame, offer) {
		t.Fatalf("offer changed in transit: %s", frame)
	}
}

func TestAbruptDisconnectNotifiesPeer(t *testing.T) {
	srv := newTestServer(t)

	a := srv.dial(t, "")
	a.send(&protocol.Message{Type: protocol.TypeJoinRoom, MeetingID: "abc123"})
	a.expect(protocol.TypeParticipants)

	b := srv.dial(t, "")
	b.send(&protocol.Message{Type: protocol.TypeJoinRoom, MeetingID: "abc123"})
	a.expect(protocol.TypeParticipants)
	b.expect(protocol.TypeParticipants)
	a.expect(protocol.TypeReady)
	b.expect(protocol.TypeReady)

	// No close handshake: the server only sees the read error.
	a.conn.UnderlyingConn().Close()

	b.expect(protocol.TypePeerLeft)
	b.expect(protocol.TypeParticipants)
	b.expectSilence(200 * time.Millisecond)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	srv := newTestServer(t)

	a := srv.dial(t, "")
	if err := a.conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatal(err)
	}
	a.send(&protocol.Message{Type: protocol.TypeJoinRoom})
	a.send(&protocol.Message{Type: protocol.TypeJoinRoom, MeetingID: "solo1"})

	// The connection survives and only the valid join has an effect.
	if msg := a.expect(protocol.TypeParticipants); msg.Count != 1 {
		t.Fatalf("count = %d, want 1", msg.Count)
	}
	a.expectSilence(200 * time.Millisecond)
}

func (s *testServer) rooms(t *testing.T) []relay.RoomInfo {
	t.Helper()
	resp, err := http.Get(s.URL + "/rooms")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /rooms status %d", resp.StatusCode)
	}
	var body RoomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body.Rooms
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "healthy") {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}
}

func TestRoomsEmpty(t *testing.T) {
	srv := newTestServer(t)
	if rooms := srv.rooms(t); len(rooms) != 0 {
		t.Fatalf("rooms = %+v, want none", rooms)
	}
}

func TestOriginCheck(t *testing.T) {
	srv := newTestServer(t, "https://app.example.com")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected handshake failure for foreign origin")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unexpected response: %v", resp)
	}

	header.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()

	// CLI clients send no Origin at all.
	conn, _, err = websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("origin-less client rejected: %v", err)
	}
	conn.Close()
}
