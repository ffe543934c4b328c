package call

import (
	"sort"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RemoteSink renders inbound tracks. Attach is called once per track from
// the session goroutine and must not block. Clear detaches everything.
type RemoteSink interface {
	Attach(track *webrtc.TrackRemote)
	Clear()
}

// TrackStats describes one inbound track.
type TrackStats struct {
	ID       string
	Kind     string
	Codec    string
	Packets  uint64
	Bytes    uint64
	LastSeen time.Time
}

// PacketCounter is a RemoteSink that reads and accounts RTP without
// decoding. It is what a terminal client can render.
type PacketCounter struct {
	mu     sync.Mutex
	gen    uint64
	tracks map[string]*TrackStats

	totalPackets uint64
	totalBytes   uint64
}

func NewPacketCounter() *PacketCounter {
	return &PacketCounter{tracks: make(map[string]*TrackStats)}
}

func (c *PacketCounter) Attach(track *webrtc.TrackRemote) {
	c.mu.Lock()
	gen := c.gen
	stats := &TrackStats{
		ID:    track.ID(),
		Kind:  track.Kind().String(),
		Codec: track.Codec().MimeType,
	}
	c.tracks[stats.ID] = stats
	c.mu.Unlock()

	log.Debug().Str("track", stats.ID).Str("kind", stats.Kind).Str("codec", stats.Codec).Msg("Remote track attached")

	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			if !c.count(gen, stats, pkt) {
				return
			}
		}
	}()
}

func (c *PacketCounter) count(gen uint64, stats *TrackStats, pkt *rtp.Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	stats.Packets++
	stats.Bytes += uint64(len(pkt.Payload))
	stats.LastSeen = time.Now()
	c.totalPackets++
	c.totalBytes += uint64(len(pkt.Payload))
	return true
}

// Clear forgets every attached track. Readers of old tracks stop at their
// next packet.
func (c *PacketCounter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.tracks = make(map[string]*TrackStats)
}

// Stats returns a copy of the current per-track counters.
func (c *PacketCounter) Stats() []TrackStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TrackStats, 0, len(c.tracks))
	for _, s := range c.tracks {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Totals returns everything received since the counter was created,
// including tracks that have since been cleared.
func (c *PacketCounter) Totals() (packets, bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalPackets, c.totalBytes
}
