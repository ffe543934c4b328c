package call

import (
	"errors"
	"sync"

	"github.com/BioHazard786/Meetlink/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type fakeSignaler struct {
	in  chan *protocol.Message
	out chan *protocol.Message

	mu     sync.Mutex
	closed int
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		in:  make(chan *protocol.Message, 16),
		out: make(chan *protocol.Message, 64),
	}
}

func (f *fakeSignaler) Send(msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return errors.New("fake signaler closed")
	}
	f.out <- msg
	return nil
}

func (f *fakeSignaler) Incoming() <-chan *protocol.Message { return f.in }

func (f *fakeSignaler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSignaler) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakePeer struct {
	mu         sync.Mutex
	tracks     []webrtc.TrackLocal
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	state      webrtc.PeerConnectionState
	closed     bool
	failRemote error

	onICE   func(*webrtc.ICECandidate)
	onState func(webrtc.PeerConnectionState)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil, nil
}

func (p *fakePeer) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (p *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &desc
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRemote != nil {
		return p.failRemote
	}
	p.remote = &desc
	return nil
}

func (p *fakePeer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePeer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = f
}

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = f
}

func (p *fakePeer) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = f
}

func (p *fakePeer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.state = webrtc.PeerConnectionStateClosed
	return nil
}

// setState plays pion's connection state callback.
func (p *fakePeer) setState(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	p.state = state
	f := p.onState
	p.mu.Unlock()
	f(state)
}

func (p *fakePeer) gather(c *webrtc.ICECandidate) {
	p.mu.Lock()
	f := p.onICE
	p.mu.Unlock()
	f(c)
}

func (p *fakePeer) addRemoteTrack() {
	p.mu.Lock()
	f := p.onTrack
	p.mu.Unlock()
	f(nil, nil)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

type fakePeers struct {
	mu         sync.Mutex
	peers      []*fakePeer
	failRemote error
}

func (f *fakePeers) New() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{state: webrtc.PeerConnectionStateNew, failRemote: f.failRemote}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakePeers) get(i int) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[i]
}

type fakeSink struct {
	mu       sync.Mutex
	attached int
	cleared  int
}

func (s *fakeSink) Attach(*webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached++
}

func (s *fakeSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
}

func (s *fakeSink) counts() (attached, cleared int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached, s.cleared
}
