package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/BioHazard786/Meetlink/internal/protocol"
	"github.com/BioHazard786/Meetlink/internal/relay"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// Options controls the HTTP surface.
type Options struct {
	AllowedOrigins []string
	Session        relay.SessionConfig

	// NewMemberID assigns each websocket its member id. Defaults to a
	// random UUID.
	NewMemberID func() relay.MemberID
}

// RoomsResponse is the body of GET /rooms.
type RoomsResponse struct {
	Rooms      []relay.RoomInfo `json:"rooms"`
	MaxMembers int              `json:"maxMembers"`
}

// NewRouter wires the health, stats and websocket endpoints.
func NewRouter(hub *relay.Hub, opts Options) http.Handler {
	if opts.NewMemberID == nil {
		opts.NewMemberID = func() relay.MemberID { return relay.MemberID(uuid.NewString()) }
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(log.Logger))

	r.Group(func(r chi.Router) {
		r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Debug().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("Request")
		}))
		r.Get("/health", healthCheckHandler)
		r.Get("/rooms", roomsHandler(hub))
	})

	r.Get("/ws", ServeWs(hub, opts))

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(r)
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

func roomsHandler(hub *relay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		rooms, err := hub.Snapshot(ctx)
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Room snapshot failed")
			http.Error(w, "rooms unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RoomsResponse{Rooms: rooms, MaxMembers: hub.MaxMembers()})
	}
}

// ServeWs returns an http.HandlerFunc that upgrades to a websocket and hands
// the session to the hub.
func ServeWs(hub *relay.Hub, opts Options) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 4 * 1024,
		Subprotocols:    protocol.Subprotocols,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id := opts.NewMemberID()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Failed to upgrade connection")
			return
		}

		session := relay.NewSession(hub, conn, id, protocol.CodecFor(conn.Subprotocol()), opts.Session)
		hlog.FromRequest(r).Info().
			Str("member_id", string(id)).
			Str("remote", conn.RemoteAddr().String()).
			Str("subprotocol", conn.Subprotocol()).
			Msg("Websocket connected")

		hub.Register(session)

		go session.WritePump()
		go session.ReadPump()
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browser requests whose origin is listed. "*" allows all.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[u.Scheme+"://"+u.Host]
	}
}
