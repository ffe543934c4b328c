package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/Meetlink/internal/meeting"
	"github.com/BioHazard786/Meetlink/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Signaler carries protocol messages to and from the signaling server.
// *signaling.Client implements it.
type Signaler interface {
	Send(msg *protocol.Message) error
	Incoming() <-chan *protocol.Message
	Close() error
}

// Dialer opens the signaling transport.
type Dialer func(ctx context.Context) (Signaler, error)

// Options configures a Session.
type Options struct {
	// MeetingID is sanitized before use. Nothing is left after
	// sanitizing means ErrInvalidMeetingID.
	MeetingID string

	UserName string
	UserID   string

	Dial    Dialer
	NewPeer PeerFactory

	// Media defaults to NoMedia.
	Media MediaSource

	// Sink defaults to a PacketCounter.
	Sink RemoteSink

	// OnUpdate is called from the Run goroutine after every change. It must
	// not block for long.
	OnUpdate func(Update)
}

const eventBuffer = 64

type candidateEvent struct {
	pc        PeerConnection
	candidate *webrtc.ICECandidate
}

type connectionStateEvent struct {
	pc    PeerConnection
	state webrtc.PeerConnectionState
}

type trackEvent struct {
	pc    PeerConnection
	track *webrtc.TrackRemote
}

// Session is one participant's side of a two-party call. All transitions
// happen on the goroutine running Run; pion callbacks only post events.
type Session struct {
	opts      Options
	meetingID string
	log       zerolog.Logger
	sink      RemoteSink

	events    chan any
	closeCh   chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}

	// Owned by Run.
	signaler Signaler
	joined   bool
	local    *LocalMedia
	pc       PeerConnection
	pcGone   chan struct{}
	pending  []webrtc.ICECandidateInit

	mu     sync.Mutex
	update Update
}

func NewSession(opts Options) *Session {
	if opts.Media == nil {
		opts.Media = NoMedia{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = NewPacketCounter()
	}

	id := meeting.Sanitize(opts.MeetingID)
	return &Session{
		opts:      opts,
		meetingID: id,
		sink:      sink,
		log: log.With().
			Str("meeting_id", id).
			Str("user", opts.UserName).
			Str("user_id", opts.UserID).
			Logger(),
		events:  make(chan any, eventBuffer),
		closeCh: make(chan struct{}),
		stopped: make(chan struct{}),
		update:  Update{State: StateIdle, Status: StatusIdle},
	}
}

// MeetingID returns the sanitized meeting id.
func (s *Session) MeetingID() string {
	return s.meetingID
}

// Snapshot returns the latest update.
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update
}

// Close asks Run to leave the meeting and return. It does not wait.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closeCh) })
}

// Run joins the meeting and drives the call until ctx is cancelled, Close
// is called, or a fatal error occurs. Local media, the peer connection and
// the signaling transport are released before it returns. A local close
// returns nil. Run must be called at most once.
func (s *Session) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer func() { s.shutdown(err) }()

	if !meeting.Valid(s.meetingID) {
		err = WrapError("join", ErrInvalidMeetingID, s.opts.MeetingID)
		s.setStatus(StatusFailed, err)
		return err
	}

	local, err := s.opts.Media.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, ErrMediaBlocked) {
			err = fmt.Errorf("%w: %w", ErrMediaBlocked, err)
		}
		err = NewError("acquire media", err)
		s.setStatus(StatusBlocked, err)
		return err
	}
	s.local = local
	if ctx.Err() != nil {
		return nil
	}

	s.set(StateConnecting, StatusConnecting, nil)
	sig, err := s.opts.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		err = WrapError("connect", ErrDisconnected, err.Error())
		s.setStatus(StatusDisconnected, err)
		return err
	}
	s.signaler = sig

	if err := sig.Send(&protocol.Message{Type: protocol.TypeJoinRoom, MeetingID: s.meetingID}); err != nil {
		err = WrapError("join", ErrDisconnected, err.Error())
		s.setStatus(StatusDisconnected, err)
		return err
	}
	s.joined = true
	s.set(StateWaitingForPeer, StatusWaitingForPeer, nil)
	s.log.Info().Int("tracks", len(local.Tracks)).Msg("Joined meeting")

	incoming := sig.Incoming()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-incoming:
			if !ok {
				err = NewError("signaling", ErrDisconnected)
				s.setStatus(StatusDisconnected, err)
				return err
			}
			if err := s.handleMessage(msg); err != nil {
				return err
			}

		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleMessage(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeParticipants:
		s.mu.Lock()
		s.update.Participants = msg.Count
		u := s.update
		s.mu.Unlock()
		s.publish(u)

	case protocol.TypeReady:
		s.onReady(msg)

	case protocol.TypeOffer:
		s.onOffer(msg)

	case protocol.TypeAnswer:
		s.onAnswer(msg)

	case protocol.TypeICECandidate:
		s.onRemoteCandidate(msg)

	case protocol.TypePeerLeft:
		s.onPeerLeft()

	case protocol.TypeError:
		if msg.Reason == protocol.ReasonRoomFull {
			err := NewError("join", ErrRoomFull)
			s.setStatus(StatusRoomFull, err)
			return err
		}
		s.log.Warn().Str("reason", msg.Reason).Msg("Server error")

	default:
		s.log.Debug().Str("type", string(msg.Type)).Msg("Ignoring message")
	}
	return nil
}

func (s *Session) onReady(msg *protocol.Message) {
	if msg.Initiator == nil {
		return
	}
	state := s.state()
	if state != StateWaitingForPeer && state != StateAwaitingOffer {
		s.log.Debug().Stringer("state", state).Msg("Ignoring ready")
		return
	}

	if !*msg.Initiator {
		s.set(StateAwaitingOffer, StatusNegotiating, nil)
		return
	}

	pc, err := s.ensurePeer(true)
	if err != nil {
		s.abandon("create peer connection", err)
		return
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		s.abandon("create offer", err)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		s.abandon("set local description", err)
		return
	}
	if err := s.sendDescription(protocol.TypeOffer, pc, offer); err != nil {
		s.abandon("encode offer", err)
		return
	}
	s.set(StateOffering, StatusNegotiating, nil)
}

func (s *Session) onOffer(msg *protocol.Message) {
	newPairing := false
	switch state := s.state(); state {
	case StateWaitingForPeer, StateAwaitingOffer:
		newPairing = true
	case StateNegotiating, StateConnected:
	case StateOffering:
		// Both sides offered. The elected initiator keeps its own offer.
		s.log.Warn().Msg("Ignoring offer while offering")
		return
	default:
		return
	}

	desc, err := decodeDescription(msg.Description, webrtc.SDPTypeOffer)
	if err != nil {
		s.abandon("parse offer", err)
		return
	}

	pc, err := s.ensurePeer(newPairing)
	if err != nil {
		s.abandon("create peer connection", err)
		return
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		s.abandon("set remote description", err)
		return
	}
	s.flushCandidates()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		s.abandon("create answer", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		s.abandon("set local description", err)
		return
	}
	if err := s.sendDescription(protocol.TypeAnswer, pc, answer); err != nil {
		s.abandon("encode answer", err)
		return
	}
	s.negotiated(pc)
}

func (s *Session) onAnswer(msg *protocol.Message) {
	if s.state() != StateOffering || s.pc == nil {
		s.log.Debug().Stringer("state", s.state()).Msg("Ignoring answer")
		return
	}

	desc, err := decodeDescription(msg.Description, webrtc.SDPTypeAnswer)
	if err != nil {
		s.abandon("parse answer", err)
		return
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		s.abandon("set remote description", err)
		return
	}
	s.flushCandidates()
	s.negotiated(s.pc)
}

// negotiated moves to Negotiating, or straight back to Connected when the
// round was a renegotiation of a live connection.
func (s *Session) negotiated(pc PeerConnection) {
	if pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
		s.set(StateConnected, StatusConnected, nil)
		return
	}
	s.set(StateNegotiating, StatusNegotiating, nil)
}

func (s *Session) onRemoteCandidate(msg *protocol.Message) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &c); err != nil {
		s.log.Warn().Err(err).Msg("Dropping malformed ICE candidate")
		return
	}

	switch s.state() {
	case StateNegotiating, StateConnected:
		if s.pc != nil && s.pc.RemoteDescription() != nil {
			s.addCandidate(c)
			return
		}
	}
	s.pending = append(s.pending, c)
}

func (s *Session) flushCandidates() {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		s.addCandidate(c)
	}
}

func (s *Session) addCandidate(c webrtc.ICECandidateInit) {
	if err := s.pc.AddICECandidate(c); err != nil {
		s.log.Warn().Err(err).Msg("Failed to add ICE candidate")
	}
}

func (s *Session) onPeerLeft() {
	s.pending = nil
	s.sink.Clear()
	s.mu.Lock()
	s.update.RemoteTracks = 0
	s.mu.Unlock()
	s.set(StateWaitingForPeer, StatusPeerLeft, nil)
	s.log.Info().Msg("Peer left")
}

func (s *Session) handleEvent(ev any) {
	switch e := ev.(type) {
	case candidateEvent:
		if e.pc != s.pc {
			return
		}
		data, err := json.Marshal(e.candidate.ToJSON())
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to encode ICE candidate")
			return
		}
		s.send(&protocol.Message{Type: protocol.TypeICECandidate, MeetingID: s.meetingID, Candidate: data})

	case connectionStateEvent:
		if e.pc != s.pc {
			return
		}
		s.log.Debug().Stringer("state", e.state).Msg("Peer connection state changed")
		switch e.state {
		case webrtc.PeerConnectionStateConnected:
			s.set(StateConnected, StatusConnected, nil)
		case webrtc.PeerConnectionStateDisconnected:
			if s.state() == StateConnected {
				s.setStatus(StatusInterrupted, nil)
			}
		case webrtc.PeerConnectionStateFailed:
			s.setStatus(StatusFailed, NewError("connect peer", ErrNegotiation))
		}

	case trackEvent:
		if e.pc != s.pc {
			return
		}
		s.sink.Attach(e.track)
		s.mu.Lock()
		s.update.RemoteTracks++
		u := s.update
		s.mu.Unlock()
		s.publish(u)
	}
}

// ensurePeer returns the peer connection for the next negotiation round.
// A kept connection is replaced when it is dead, or when a new pairing
// starts and it already holds a previous peer's description.
func (s *Session) ensurePeer(newPairing bool) (PeerConnection, error) {
	if s.pc != nil {
		state := s.pc.ConnectionState()
		dead := state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed
		stale := newPairing && s.pc.RemoteDescription() != nil
		if !dead && !stale {
			return s.pc, nil
		}
		s.dropPeer()
	}

	pc, err := s.opts.NewPeer()
	if err != nil {
		return nil, err
	}

	gone := make(chan struct{})
	post := func(ev any) {
		select {
		case s.events <- ev:
		case <-gone:
		case <-s.stopped:
		}
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			post(candidateEvent{pc: pc, candidate: c})
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		post(connectionStateEvent{pc: pc, state: state})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		post(trackEvent{pc: pc, track: track})
	})

	for _, track := range s.local.Tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			close(gone)
			pc.Close()
			return nil, NewError("add track", err)
		}
		if sender != nil {
			go drainRTCP(sender)
		}
	}

	s.pc = pc
	s.pcGone = gone
	return pc, nil
}

func (s *Session) dropPeer() {
	if s.pc == nil {
		return
	}
	close(s.pcGone)
	if err := s.pc.Close(); err != nil {
		s.log.Debug().Err(err).Msg("Peer connection close")
	}
	s.pc = nil
	s.pcGone = nil
	s.sink.Clear()
	s.mu.Lock()
	s.update.RemoteTracks = 0
	s.mu.Unlock()
}

// abandon ends the current negotiation round. The session stays in the
// meeting and waits for the next ready or offer.
func (s *Session) abandon(op string, cause error) {
	err := WrapError(op, ErrNegotiation, cause.Error())
	s.log.Warn().Err(err).Msg("Negotiation failed")
	s.dropPeer()
	s.pending = nil
	s.set(StateWaitingForPeer, StatusFailed, err)
}

func (s *Session) sendDescription(typ protocol.Type, pc PeerConnection, fallback webrtc.SessionDescription) error {
	desc := pc.LocalDescription()
	if desc == nil {
		desc = &fallback
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	s.send(&protocol.Message{Type: typ, MeetingID: s.meetingID, Description: data})
	return nil
}

func (s *Session) send(msg *protocol.Message) {
	if err := s.signaler.Send(msg); err != nil {
		s.log.Debug().Err(err).Str("type", string(msg.Type)).Msg("Send failed")
	}
}

func decodeDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, err
	}
	if desc.Type != want {
		return desc, fmt.Errorf("got %s description, want %s", desc.Type, want)
	}
	return desc, nil
}

// shutdown releases local media, the peer connection and the transport, in
// that order, and leaves the meeting if it was joined.
func (s *Session) shutdown(runErr error) {
	close(s.stopped)

	s.local.Stop()
	s.dropPeer()

	if s.signaler != nil {
		if s.joined {
			s.send(&protocol.Message{Type: protocol.TypeLeaveRoom, MeetingID: s.meetingID})
		}
		if err := s.signaler.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Signaling close")
		}
	}

	status := s.Snapshot().Status
	if runErr == nil {
		status = StatusClosed
	}
	s.set(StateClosed, status, runErr)
	s.log.Info().Str("status", string(status)).Msg("Left meeting")
}

func (s *Session) state() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update.State
}

func (s *Session) set(state State, status Status, err error) {
	s.mu.Lock()
	s.update.State = state
	s.update.Status = status
	s.update.Err = err
	u := s.update
	s.mu.Unlock()
	s.publish(u)
}

func (s *Session) setStatus(status Status, err error) {
	s.set(s.state(), status, err)
}

func (s *Session) publish(u Update) {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(u)
	}
}
