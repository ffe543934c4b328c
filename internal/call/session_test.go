package call

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BioHazard786/Meetlink/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type harness struct {
	t       *testing.T
	sig     *fakeSignaler
	peers   *fakePeers
	sink    *fakeSink
	session *Session
	updates chan Update
	done    chan struct{}
	err     error
	cancel  context.CancelFunc

	dials       atomic.Int32
	mediaStops  atomic.Int32
	localTracks int
}

func start(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		sig:     newFakeSignaler(),
		peers:   &fakePeers{},
		sink:    &fakeSink{},
		updates: make(chan Update, 1024),
		done:    make(chan struct{}),
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "test",
	)
	if err != nil {
		t.Fatal(err)
	}
	h.localTracks = 1

	opts := Options{
		MeetingID: "abc123",
		UserName:  "tester",
		Dial: func(context.Context) (Signaler, error) {
			h.dials.Add(1)
			return h.sig, nil
		},
		NewPeer: h.peers.New,
		Media: MediaSourceFunc(func(context.Context) (*LocalMedia, error) {
			return &LocalMedia{
				Tracks:   []webrtc.TrackLocal{track},
				stopHook: func() { h.mediaStops.Add(1) },
			}, nil
		}),
		Sink:     h.sink,
		OnUpdate: func(u Update) { h.updates <- u },
	}
	for _, m := range mutate {
		m(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.session = NewSession(opts)
	go func() {
		h.err = h.session.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
		}
	})
	return h
}

func (h *harness) push(msg *protocol.Message) {
	h.sig.in <- msg
}

func (h *harness) expectSent(typ protocol.Type) *protocol.Message {
	h.t.Helper()
	select {
	case msg := <-h.sig.out:
		if msg.Type != typ {
			h.t.Fatalf("sent %s, want %s", msg.Type, typ)
		}
		return msg
	case <-time.After(2 * time.Second):
		h.t.Fatalf("timed out waiting to send %s", typ)
	}
	return nil
}

func (h *harness) waitFor(desc string, match func(Update) bool) Update {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-h.updates:
			if match(u) {
				return u
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for %s (last %+v)", desc, h.session.Snapshot())
		}
	}
}

func (h *harness) waitState(state State) Update {
	h.t.Helper()
	return h.waitFor(state.String(), func(u Update) bool { return u.State == state })
}

func (h *harness) waitStatus(status Status) Update {
	h.t.Helper()
	return h.waitFor(string(status), func(u Update) bool { return u.Status == status })
}

func (h *harness) result() error {
	h.t.Helper()
	select {
	case <-h.done:
		return h.err
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return")
	}
	return nil
}

func eventually(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func description(t *testing.T, msg *protocol.Message) webrtc.SessionDescription {
	t.Helper()
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(msg.Description, &desc); err != nil {
		t.Fatalf("bad description %s: %v", msg.Description, err)
	}
	return desc
}

func offerMsg(sdp string) *protocol.Message {
	raw, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	return &protocol.Message{Type: protocol.TypeOffer, Description: raw}
}

func answerMsg(sdp string) *protocol.Message {
	raw, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	return &protocol.Message{Type: protocol.TypeAnswer, Description: raw}
}

func candidateMsg(i int) *protocol.Message {
	raw, _ := json.Marshal(map[string]any{
		"candidate":     "candidate:" + string(rune('0'+i)) + " 1 udp 2130706431 10.0.0.1 5000 typ host",
		"sdpMid":        "0",
		"sdpMLineIndex": 0,
	})
	return &protocol.Message{Type: protocol.TypeICECandidate, Candidate: raw}
}

// connectAsInitiator drives the session through offer, answer and a
// connected peer connection.
func (h *harness) connectAsInitiator() *fakePeer {
	h.t.Helper()
	h.expectSent(protocol.TypeJoinRoom)
	h.push(protocol.Participants(2))
	h.push(protocol.Ready(true))
	h.expectSent(protocol.TypeOffer)
	h.push(answerMsg("remote-answer"))
	h.waitState(StateNegotiating)

	p := h.peers.get(h.peers.count() - 1)
	p.setState(webrtc.PeerConnectionStateConnected)
	h.waitStatus(StatusConnected)
	return p
}

func TestInitiatorPath(t *testing.T) {
	h := start(t)

	join := h.expectSent(protocol.TypeJoinRoom)
	if join.MeetingID != "abc123" {
		t.Fatalf("joined %q", join.MeetingID)
	}
	h.waitState(StateWaitingForPeer)

	h.push(protocol.Participants(2))
	if u := h.waitFor("participants", func(u Update) bool { return u.Participants == 2 }); u.Status != StatusWaitingForPeer {
		t.Fatalf("status = %s", u.Status)
	}

	h.push(protocol.Ready(true))
	offer := h.expectSent(protocol.TypeOffer)
	if desc := description(t, offer); desc.Type != webrtc.SDPTypeOffer || desc.SDP != "fake-offer" {
		t.Fatalf("offer = %+v", desc)
	}
	if offer.MeetingID != "abc123" {
		t.Fatalf("offer routed to %q", offer.MeetingID)
	}
	h.waitState(StateOffering)

	p := h.peers.get(0)
	if len(p.tracks) != h.localTracks {
		t.Fatalf("attached %d local tracks, want %d", len(p.tracks), h.localTracks)
	}

	h.push(answerMsg("remote-answer"))
	h.waitState(StateNegotiating)
	if remote := p.RemoteDescription(); remote == nil || remote.SDP != "remote-answer" {
		t.Fatalf("remote description = %+v", remote)
	}

	p.gather(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "10.0.0.2",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       50000,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
	msg := h.expectSent(protocol.TypeICECandidate)
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &init); err != nil || !strings.HasPrefix(init.Candidate, "candidate:") {
		t.Fatalf("candidate = %s (%v)", msg.Candidate, err)
	}

	p.setState(webrtc.PeerConnectionStateConnected)
	if u := h.waitStatus(StatusConnected); u.State != StateConnected {
		t.Fatalf("state = %s", u.State)
	}

	p.addRemoteTrack()
	h.waitFor("remote track", func(u Update) bool { return u.RemoteTracks == 1 })
	if attached, _ := h.sink.counts(); attached != 1 {
		t.Fatalf("sink attached %d tracks", attached)
	}
}

func TestResponderPath(t *testing.T) {
	h := start(t)
	h.expectSent(protocol.TypeJoinRoom)

	h.push(protocol.Ready(false))
	h.waitState(StateAwaitingOffer)
	if h.peers.count() != 0 {
		t.Fatal("responder created a peer connection before the offer")
	}

	h.push(offerMsg("remote-offer"))
	answer := h.expectSent(protocol.TypeAnswer)
	if desc := description(t, answer); desc.Type != webrtc.SDPTypeAnswer || desc.SDP != "fake-answer" {
		t.Fatalf("answer = %+v", desc)
	}
	h.waitState(StateNegotiating)

	p := h.peers.get(0)
	if remote := p.RemoteDescription(); remote == nil || remote.SDP != "remote-offer" {
		t.Fatalf("remote description = %+v", remote)
	}
	if len(p.tracks) != h.localTracks {
		t.Fatalf("attached %d local tracks", len(p.tracks))
	}
}

func TestOfferInWaitingForPeerIsAnswered(t *testing.T) {
	h := start(t)
	h.expectSent(protocol.TypeJoinRoom)

	h.push(offerMsg("early-offer"))
	h.expectSent(protocol.TypeAnswer)
	h.waitState(StateNegotiating)
}

func TestUnexpectedAnswerIsIgnored(t *testing.T) {
	h := start(t)
	h.expectSent(protocol.TypeJoinRoom)

	h.push(protocol.Ready(false))
	h.waitState(StateAwaitingOffer)
	h.push(answerMsg("stray"))
	h.push(offerMsg("remote-offer"))
	h.expectSent(protocol.TypeAnswer)

	if remote := h.peers.get(0).RemoteDescription(); remote.SDP != "remote-offer" {
		t.Fatalf("remote description = %q", remote.SDP)
	}
}

func TestEarlyCandidatesAreBuffered(t *testing.T) {
	h := start(t)
	h.expectSent(protocol.TypeJoinRoom)

	// One before any peer connection exists, one before the remote
	// description is set.
	h.push(candidateMsg(0))
	h.push(protocol.Ready(false))
	h.waitState(StateAwaitingOffer)
	h.push(candidateMsg(1))

	h.push(offerMsg("remote-offer"))
	h.expectSent(protocol.TypeAnswer)

	p := h.peers.get(0)
	if n := p.candidateCount(); n != 2 {
		t.Fatalf("applied %d buffered candidates, want 2", n)
	}

	h.push(candidateMsg(2))
	eventually(t, "direct candidate", func() bool { return p.candidateCount() == 3 })
}

func TestMalformedCandidateIsIgnored(t *testing.T) {
	h := start(t)
	p := h.connectAsInitiator()

	h.push(&protocol.Message{Type: protocol.TypeICECandidate, Candidate: json.RawMessage(`"bogus"`)})
	h.push(candidateMsg(1))
	eventually(t, "valid candidate", func() bool { return p.candidateCount() == 1 })

	if u := h.session.Snapshot(); u.Status != StatusConnected {
		t.Fatalf("status = %s", u.Status)
	}
}

func TestPeerLeftKeepsSessionAndReplacesNegotiatedPeer(t *testing.T) {
	h := start(t)
	first := h.connectAsInitiator()
	first.addRemoteTrack()
	h.waitFor("remote track", func(u Update) bool { return u.RemoteTracks == 1 })

	h.push(protocol.PeerLeft())
	u := h.waitStatus(StatusPeerLeft)
	if u.State != StateWaitingForPeer || u.RemoteTracks != 0 {
		t.Fatalf("after peer-left: %+v", u)
	}
	if first.isClosed() {
		t.Fatal("peer connection closed on peer-left")
	}
	if _, cleared := h.sink.counts(); cleared == 0 {
		t.Fatal("remote tracks not cleared")
	}

	// A new peer joins. The kept connection negotiated with the old peer,
	// so it is replaced.
	h.push(protocol.Ready(true))
	h.expectSent(protocol.TypeOffer)
	if h.peers.count() != 2 {
		t.Fatalf("peers created = %d, want 2", h.peers.count())
	}
	if !first.isClosed() {
		t.Fatal("stale peer connection not closed")
	}
}

func TestPeerLeftBeforeAnswerReusesPeer(t *testing.T) {
	h := start(t)
	h.expectSent(protocol.TypeJoinRoom)

	h.push(protocol.Ready(true))
	h.expectSent(protocol.TypeOffer)
	h.push(protocol.PeerLeft())
	h.waitStatus(StatusPeerLeft)

	h.push(protocol.Ready(true))
	h.expectSent(protocol.TypeOffer)
	if n := h.peers.count(); n != 1 {
		t.Fatalf("peers created = %d, want 1", n)
	}
	if h.peers.get(0).isClosed() {
		t.Fatal("kept peer connection was closed")
	}
}

func TestRenegotiationWhileConnected(t *testing.T) {
	h := start(t)
	p := h.connectAsInitiator()

	// Re-election flipped roles is ignored once connected.
	h.push(protocol.Ready(true))
	h.push(offerMsg("renegotiate"))
	h.expectSent(protocol.TypeAnswer)

	u := h.waitFor("renegotiated", func(u Update) bool { return u.State == StateConnected })
	if u.Status != StatusConnected {
		t.Fatalf("status = %s", u.Status)
	}
	if h.peers.count() != 1 || p.RemoteDescription().SDP != "renegotiate" {
		t.Fatal("renegotiation did not reuse the connection")
	}
}

func TestNegotiationFailureAbandonsRound(t *testing.T) {
	h := start(t)
	h.peers.failRemote = errors.New("bad sdp")
	h.expectSent(protocol.TypeJoinRoom)

	h.push(protocol.Ready(false))
	h.push(offerMsg("remote-offer"))
	u := h.waitStatus(StatusFailed)
	if u.State != StateWaitingForPeer || !errors.Is(u.Err, ErrNegotiation) {
		t.Fatalf("after failure: %+v", u)
	}
	if !h.peers.get(0).isClosed() {
		t.Fatal("failed peer connection kept")
	}

	// The session is still in the meeting.
	h.cancel()
	if err := h.result(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	h.expectSent(protocol.TypeLeaveRoom)
}

func TestPeerConnectionFailure(t *testing.T) {
	h := start(t)
	p := h.connectAsInitiator()

	p.setState(webrtc.PeerConnectionStateDisconnected)
	h.waitStatus(StatusInterrupted)
	p.setState(webrtc.PeerConnectionStateConnected)
	h.waitStatus(StatusConnected)
	p.setState(webrtc.PeerConnectionStateFailed)
	h.waitStatus(StatusFailed)
}

func TestLocalCloseReleasesEverything(t *testing.T) {
	h := start(t)
	p := h.connectAsInitiator()

	h.session.Close()
	if err := h.result(); err != nil {
		t.Fatalf("Run = %v", err)
	}

	h.expectSent(protocol.TypeLeaveRoom)
	if !p.isClosed() {
		t.Error("peer connection not closed")
	}
	if h.mediaStops.Load() != 1 {
		t.Errorf("media stopped %d times", h.mediaStops.Load())
	}
	if h.sig.closeCount() != 1 {
		t.Errorf("signaler closed %d times", h.sig.closeCount())
	}
	if u := h.session.Snapshot(); u.State != StateClosed || u.Status != StatusClosed {
		t.Errorf("final = %+v", u)
	}
}

func TestTransportDrop(t *testing.T) {
	h := start(t)
	h.expectSent(protocol.TypeJoinRoom)
	h.push(protocol.Ready(true))
	h.expectSent(protocol.TypeOffer)

	close(h.sig.in)
	err := h.result()
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Run = %v, want ErrDisconnected", err)
	}
	if !h.peers.get(0).isClosed() {
		t.Error("peer connection not closed")
	}
	if h.mediaStops.Load() != 1 {
		t.Error("media not stopped")
	}
	if u := h.session.Snapshot(); u.State != StateClosed || u.Status != StatusDisconnected {
		t.Errorf("final = %+v", u)
	}
}

func TestRoomFull(t *testing.T) {
	h := start(t)
	h.expectSent(protocol.TypeJoinRoom)

	h.push(&protocol.Message{Type: protocol.TypeError, Reason: protocol.ReasonRoomFull})
	if err := h.result(); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("Run = %v, want ErrRoomFull", err)
	}
	if u := h.session.Snapshot(); u.Status != StatusRoomFull {
		t.Fatalf("status = %s", u.Status)
	}
}

func TestBlockedMedia(t *testing.T) {
	for name, cause := range map[string]error{
		"sentinel":   ErrMediaBlocked,
		"permission": fs.ErrPermission,
	} {
		t.Run(name, func(t *testing.T) {
			h := start(t, func(o *Options) {
				o.Media = MediaSourceFunc(func(context.Context) (*LocalMedia, error) {
					return nil, cause
				})
			})

			err := h.result()
			if !errors.Is(err, ErrMediaBlocked) || !errors.Is(err, cause) {
				t.Fatalf("Run = %v", err)
			}
			if h.dials.Load() != 0 {
				t.Fatal("dialed despite blocked media")
			}
			if u := h.session.Snapshot(); u.Status != StatusBlocked {
				t.Fatalf("status = %s", u.Status)
			}
		})
	}
}

func TestDialFailure(t *testing.T) {
	h := start(t, func(o *Options) {
		o.Dial = func(context.Context) (Signaler, error) {
			return nil, errors.New("connection refused")
		}
	})

	err := h.result()
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Run = %v", err)
	}
	var callErr *Error
	if !errors.As(err, &callErr) || callErr.Op != "connect" || !strings.Contains(callErr.Details, "refused") {
		t.Fatalf("error = %#v", err)
	}
	if h.mediaStops.Load() != 1 {
		t.Fatal("media not released after dial failure")
	}
}

func TestInvalidMeetingID(t *testing.T) {
	h := start(t, func(o *Options) { o.MeetingID = "!!! ---" })

	if err := h.result(); !errors.Is(err, ErrInvalidMeetingID) {
		t.Fatalf("Run = %v", err)
	}
	if h.dials.Load() != 0 {
		t.Fatal("dialed with an invalid meeting id")
	}
}

func TestMeetingIDIsSanitized(t *testing.T) {
	h := start(t, func(o *Options) { o.MeetingID = "meeting-app 1/mentor" })
	if join := h.expectSent(protocol.TypeJoinRoom); join.MeetingID != "meetingapp1mentor" {
		t.Fatalf("joined %q", join.MeetingID)
	}
}
