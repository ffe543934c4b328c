package relay

import (
	"context"
	"errors"

	"github.com/BioHazard786/Meetlink/internal/meeting"
	"github.com/BioHazard786/Meetlink/internal/protocol"
	"github.com/rs/zerolog/log"
)

// DefaultMaxMembers caps rooms at a two-party call.
const DefaultMaxMembers = 2

// ErrHubStopped is returned by Snapshot once the hub has shut down.
var ErrHubStopped = errors.New("hub stopped")

type inbound struct {
	session *Session
	msg     *protocol.Message
}

// Hub is the single owner of all room state. Every membership change and
// every relay happens on the goroutine running Run, one event at a time,
// so the registry needs no locking.
type Hub struct {
	registry   Registry
	elector    Elector
	maxMembers int

	// sessions holds every registered session, keyed by member id.
	sessions map[MemberID]*Session

	// evicted collects sessions whose send buffer overflowed while the
	// current event was handled. They are disconnected afterwards.
	evicted []*Session

	register   chan *Session
	unregister chan *Session
	inbound    chan inbound
	snapshot   chan chan []RoomInfo
	quit       chan struct{}
	done       chan struct{}
}

// Option customises a Hub.
type Option func(*Hub)

// WithRegistry replaces the in-memory registry.
func WithRegistry(r Registry) Option {
	return func(h *Hub) { h.registry = r }
}

// WithElector replaces the lexicographic initiator rule.
func WithElector(e Elector) Option {
	return func(h *Hub) { h.elector = e }
}

// WithMaxMembers sets the room capacity. Zero disables the cap, in which
// case every join to a paired room re-runs the election for all members.
func WithMaxMembers(n int) Option {
	return func(h *Hub) { h.maxMembers = n }
}

// NewHub creates a new Hub instance.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		registry:   NewMemoryRegistry(),
		elector:    LexicographicElector{},
		maxMembers: DefaultMaxMembers,
		sessions:   make(map[MemberID]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inbound),
		snapshot:   make(chan chan []RoomInfo),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MaxMembers returns the room size cap. Zero means unlimited.
func (h *Hub) MaxMembers() int {
	return h.maxMembers
}

// Register hands a freshly upgraded session to the hub.
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.quit:
	}
}

// Unregister is the transport's disconnect hook. It is fired once the
// session's read pump stops, whatever the reason, and removes the session
// from every room it joined.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.quit:
	}
}

// Dispatch queues an inbound message from s for processing.
func (h *Hub) Dispatch(s *Session, msg *protocol.Message) {
	select {
	case h.inbound <- inbound{session: s, msg: msg}:
	case <-h.quit:
	}
}

// Snapshot returns the live rooms as seen by the event loop.
func (h *Hub) Snapshot(ctx context.Context) ([]RoomInfo, error) {
	reply := make(chan []RoomInfo, 1)
	select {
	case h.snapshot <- reply:
	case <-h.quit:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop ends the event loop and closes every session. It blocks until Run
// has returned.
func (h *Hub) Stop() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
	<-h.done
}

// Run starts the hub's main processing loop.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			for id, s := range h.sessions {
				delete(h.sessions, id)
				close(s.send)
			}
			log.Info().Msg("Hub stopped")
			return

		case s := <-h.register:
			h.sessions[s.ID] = s
			log.Debug().Str("member_id", string(s.ID)).Msg("Session registered")

		case s := <-h.unregister:
			h.safely(func() { h.disconnect(s) })

		case in := <-h.inbound:
			h.safely(func() { h.handle(in.session, in.msg) })

		case reply := <-h.snapshot:
			reply <- h.registry.Rooms()
		}

		h.drainEvicted()
	}
}

// safely runs fn, recovering from any panic.
func (h *Hub) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered while handling event")
		}
	}()
	fn()
}

func (h *Hub) handle(s *Session, msg *protocol.Message) {
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}

	switch msg.Type {
	case protocol.TypeJoinRoom:
		h.join(s, meeting.Sanitize(msg.MeetingID))

	case protocol.TypeLeaveRoom:
		h.leave(s, meeting.Sanitize(msg.MeetingID))

	default:
		if msg.Type.IsRelay() {
			h.relay(s, meeting.Sanitize(msg.MeetingID), msg)
			return
		}
		log.Debug().
			Str("member_id", string(s.ID)).
			Str("type", string(msg.Type)).
			Msg("Dropping unknown message type")
	}
}

func (h *Hub) join(s *Session, room string) {
	l := log.With().Str("member_id", string(s.ID)).Str("room", room).Logger()

	if room == "" {
		l.Debug().Msg("Dropping join without meeting id")
		return
	}

	if h.maxMembers > 0 && !h.registry.Contains(room, s.ID) &&
		len(h.registry.Members(room)) >= h.maxMembers {
		l.Info().Int("max_members", h.maxMembers).Msg("Room full, join rejected")
		h.send(s, &protocol.Message{Type: protocol.TypeError, Reason: protocol.ReasonRoomFull})
		return
	}

	if h.registry.Join(room, s.ID) {
		l.Info().Msg("Member joined room")
	}

	members := h.registry.Members(room)

	// Counts go out to everyone before any ready notification.
	for _, m := range members {
		h.sendTo(m, protocol.Participants(len(members)))
	}

	if len(members) < 2 {
		return
	}

	initiator := h.elector.Elect(members)
	l.Info().Str("initiator", string(initiator)).Int("members", len(members)).Msg("Room ready")
	for _, m := range members {
		h.sendTo(m, protocol.Ready(m == initiator))
	}
}

func (h *Hub) leave(s *Session, room string) {
	if room == "" || !h.registry.Leave(room, s.ID) {
		return
	}
	log.Info().Str("member_id", string(s.ID)).Str("room", room).Msg("Member left room")
	h.notifyDeparture(room)
}

func (h *Hub) relay(s *Session, room string, msg *protocol.Message) {
	if room == "" || protocol.Empty(msg.Payload()) {
		return
	}
	if !h.registry.Contains(room, s.ID) {
		log.Debug().
			Str("member_id", string(s.ID)).
			Str("room", room).
			Str("type", string(msg.Type)).
			Msg("Dropping relay from non-member")
		return
	}

	out := protocol.Forwarded(msg)
	for _, m := range h.registry.Members(room) {
		if m == s.ID {
			continue
		}
		h.sendTo(m, out)
	}
}

// disconnect treats a dropped session exactly like an explicit leave from
// every room it had joined.
func (h *Hub) disconnect(s *Session) {
	if current, ok := h.sessions[s.ID]; !ok || current != s {
		return
	}
	delete(h.sessions, s.ID)
	close(s.send)

	for _, room := range h.registry.LeaveAll(s.ID) {
		log.Info().Str("member_id", string(s.ID)).Str("room", room).Msg("Member disconnected from room")
		h.notifyDeparture(room)
	}
	log.Debug().Str("member_id", string(s.ID)).Msg("Session unregistered")
}

func (h *Hub) notifyDeparture(room string) {
	remaining := h.registry.Members(room)
	for _, m := range remaining {
		h.sendTo(m, protocol.PeerLeft())
		h.sendTo(m, protocol.Participants(len(remaining)))
	}
}

func (h *Hub) sendTo(id MemberID, msg *protocol.Message) {
	if s, ok := h.sessions[id]; ok {
		h.send(s, msg)
	}
}

// send never blocks the event loop. A session whose buffer is full is
// evicted once the current event is done.
func (h *Hub) send(s *Session, msg *protocol.Message) {
	if s.evicted {
		return
	}
	select {
	case s.send <- msg:
	default:
		log.Warn().Str("member_id", string(s.ID)).Msg("Send buffer full, evicting session")
		s.evicted = true
		h.evicted = append(h.evicted, s)
	}
}

func (h *Hub) drainEvicted() {
	for len(h.evicted) > 0 {
		s := h.evicted[0]
		h.evicted = h.evicted[1:]
		h.safely(func() { h.disconnect(s) })
	}
}
