package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default server values.
const (
	DefaultAddr           = ":8080"
	DefaultMaxMembers     = 2
	DefaultPingPeriod     = 54 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultWriteWait      = 10 * time.Second
	DefaultSendBuffer     = 256
	DefaultMaxMessageSize = 64 * 1024
)

// Server holds signaling server configuration.
type Server struct {
	Addr           string
	AllowedOrigins []string

	// MaxMembers caps room size. Zero means unlimited.
	MaxMembers int

	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	MaxMessageSize int64
}

// ServerOptions carries CLI flag overrides. Zero values mean "not set".
type ServerOptions struct {
	ConfigFile string
	Addr       string
	Origins    []string

	// MaxMembers is only applied when MaxMembersSet is true, since zero is
	// a meaningful value.
	MaxMembers    int
	MaxMembersSet bool
}

type serverFile struct {
	Server struct {
		Addr                string   `toml:"addr"`
		AllowedOrigins      []string `toml:"allowed_origins"`
		MaxMembers          *int     `toml:"max_members"`
		PingIntervalSeconds int      `toml:"ping_interval_seconds"`
		PongWaitSeconds     int      `toml:"pong_wait_seconds"`
		WriteTimeoutSeconds int      `toml:"write_timeout_seconds"`
		SendBuffer          int      `toml:"send_buffer"`
		ReadLimitBytes      int64    `toml:"read_limit_bytes"`
	} `toml:"server"`
}

// LoadServer reads configuration with the following priority:
// 1. CLI flags (passed via ServerOptions) - highest priority
// 2. Environment variables
// 3. TOML file (ServerOptions.ConfigFile or MEETLINK_CONFIG)
// 4. Hardcoded defaults - lowest priority
func LoadServer(opts ServerOptions) (*Server, error) {
	cfg := &Server{
		Addr:           DefaultAddr,
		AllowedOrigins: []string{"*"},
		MaxMembers:     DefaultMaxMembers,
		PingPeriod:     DefaultPingPeriod,
		PongWait:       DefaultPongWait,
		WriteWait:      DefaultWriteWait,
		SendBuffer:     DefaultSendBuffer,
		MaxMessageSize: DefaultMaxMessageSize,
	}

	path := opts.ConfigFile
	if path == "" {
		path = os.Getenv("MEETLINK_CONFIG")
	}
	if path != "" {
		if err := applyServerFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("MEETLINK_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("MEETLINK_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("MEETLINK_MAX_MEMBERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MEETLINK_MAX_MEMBERS %q: %w", v, err)
		}
		cfg.MaxMembers = n
	}

	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if len(opts.Origins) > 0 {
		cfg.AllowedOrigins = opts.Origins
	}
	if opts.MaxMembersSet {
		cfg.MaxMembers = opts.MaxMembers
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyServerFile(cfg *Server, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var f serverFile
	if err := toml.Unmarshal(content, &f); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	s := f.Server
	if s.Addr != "" {
		cfg.Addr = s.Addr
	}
	if len(s.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = s.AllowedOrigins
	}
	if s.MaxMembers != nil {
		cfg.MaxMembers = *s.MaxMembers
	}
	if s.PingIntervalSeconds > 0 {
		cfg.PingPeriod = time.Duration(s.PingIntervalSeconds) * time.Second
	}
	if s.PongWaitSeconds > 0 {
		cfg.PongWait = time.Duration(s.PongWaitSeconds) * time.Second
	}
	if s.WriteTimeoutSeconds > 0 {
		cfg.WriteWait = time.Duration(s.WriteTimeoutSeconds) * time.Second
	}
	if s.SendBuffer > 0 {
		cfg.SendBuffer = s.SendBuffer
	}
	if s.ReadLimitBytes > 0 {
		cfg.MaxMessageSize = s.ReadLimitBytes
	}
	return nil
}

func (c *Server) validate() error {
	if c.MaxMembers < 0 {
		return fmt.Errorf("max members must be >= 0, got %d", c.MaxMembers)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping period (%s) must be shorter than pong wait (%s)", c.PingPeriod, c.PongWait)
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin is required")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
