package call

import (
	"time"

	"github.com/BioHazard786/Meetlink/internal/config"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// PLIInterval is how often a keyframe is requested for inbound video.
const PLIInterval = 3 * time.Second

// PeerConnection is the subset of *webrtc.PeerConnection a Session drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

// PeerFactory creates a fresh peer connection per negotiation.
type PeerFactory func() (PeerConnection, error)

// NewPeerFactory builds a pion API with the default codecs and interceptors
// plus periodic PLI, and returns a factory using cfg's ICE servers.
func NewPeerFactory(cfg *config.Config) (PeerFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, NewError("register codecs", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, NewError("register interceptors", err)
	}

	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(PLIInterval))
	if err != nil {
		return nil, NewError("create PLI interceptor", err)
	}
	registry.Add(pli)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))
	pcConfig := ICEConfiguration(cfg, ShouldForceRelay())

	return func() (PeerConnection, error) {
		pc, err := api.NewPeerConnection(pcConfig)
		if err != nil {
			return nil, NewError("create peer connection", err)
		}
		return pc, nil
	}, nil
}

// ICEConfiguration lists the STUN and TURN servers from cfg. Relay-only
// policy applies when a TURN server exists and either cfg forces it or
// detectedVPN is set.
func ICEConfiguration(cfg *config.Config, detectedVPN bool) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || detectedVPN) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// drainRTCP reads RTCP for a sender until it stops so the interceptors see
// receiver reports and NACKs.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
