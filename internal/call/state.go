package call

// State is a node of the peer-connection state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateWaitingForPeer
	StateOffering
	StateAwaitingOffer
	StateNegotiating
	StateConnected
	StateClosed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateConnecting:     "connecting",
	StateWaitingForPeer: "waiting-for-peer",
	StateOffering:       "offering",
	StateAwaitingOffer:  "awaiting-offer",
	StateNegotiating:    "negotiating",
	StateConnected:      "connected",
	StateClosed:         "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Status is the coarse label shown to the user. It moves with State but
// also reports conditions State does not model (peer left, blocked media).
type Status string

const (
	StatusIdle           Status = "idle"
	StatusConnecting     Status = "connecting"
	StatusWaitingForPeer Status = "waiting-for-peer"
	StatusNegotiating    Status = "negotiating"
	StatusConnected      Status = "connected"
	StatusInterrupted    Status = "interrupted"
	StatusPeerLeft       Status = "peer-left"
	StatusDisconnected   Status = "disconnected"
	StatusBlocked        Status = "blocked"
	StatusFailed         Status = "failed"
	StatusRoomFull       Status = "room-full"
	StatusClosed         Status = "closed"
)

// Update is delivered to observers after every change.
type Update struct {
	State        State
	Status       Status
	Participants int
	RemoteTracks int
	Err          error
}
