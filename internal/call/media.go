package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const (
	opusFrame     = 20 * time.Millisecond
	opusClockRate = 48000
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// LocalMedia is the set of tracks published to the peer. Stop releases the
// capture and is safe to call more than once.
type LocalMedia struct {
	Tracks []webrtc.TrackLocal

	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	closers  []io.Closer
	stopHook func()
}

func newLocalMedia() *LocalMedia {
	return &LocalMedia{stop: make(chan struct{})}
}

// Stop ends every writer goroutine and closes the underlying inputs.
func (m *LocalMedia) Stop() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		if m.stop != nil {
			close(m.stop)
		}
		m.wg.Wait()
		for _, c := range m.closers {
			c.Close()
		}
		if m.stopHook != nil {
			m.stopHook()
		}
	})
}

func (m *LocalMedia) spawn(f func(stop <-chan struct{})) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		f(m.stop)
	}()
}

// MediaSource acquires local media. A failure to acquire is reported to the
// user as blocked media.
type MediaSource interface {
	Acquire(ctx context.Context) (*LocalMedia, error)
}

// MediaSourceFunc adapts a function to MediaSource.
type MediaSourceFunc func(ctx context.Context) (*LocalMedia, error)

func (f MediaSourceFunc) Acquire(ctx context.Context) (*LocalMedia, error) {
	return f(ctx)
}

// NoMedia joins receive-only.
type NoMedia struct{}

func (NoMedia) Acquire(context.Context) (*LocalMedia, error) {
	return newLocalMedia(), nil
}

// SilenceSource publishes one Opus track of silence.
type SilenceSource struct {
	StreamID string
}

func (s SilenceSource) Acquire(context.Context) (*LocalMedia, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", streamID(s.StreamID),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMediaBlocked, err)
	}

	m := newLocalMedia()
	m.Tracks = append(m.Tracks, track)
	m.spawn(func(stop <-chan struct{}) {
		ticker := time.NewTicker(opusFrame)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
					log.Debug().Err(err).Msg("Silence write failed")
				}
			}
		}
	})
	return m, nil
}

// FileSource plays an Ogg/Opus file as the microphone and an IVF file
// (VP8, VP9 or AV1) as the camera. Either path may be empty.
type FileSource struct {
	AudioPath string
	VideoPath string
	StreamID  string

	// Loop restarts a file at EOF instead of ending its track.
	Loop bool
}

func (s FileSource) Acquire(context.Context) (*LocalMedia, error) {
	m := newLocalMedia()
	id := streamID(s.StreamID)

	if s.AudioPath != "" {
		if err := s.addAudio(m, id); err != nil {
			m.Stop()
			return nil, err
		}
	}
	if s.VideoPath != "" {
		if err := s.addVideo(m, id); err != nil {
			m.Stop()
			return nil, err
		}
	}
	return m, nil
}

func (s FileSource) addAudio(m *LocalMedia, id string) error {
	file, err := os.Open(s.AudioPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMediaBlocked, err)
	}
	m.closers = append(m.closers, file)

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("%w: %s is not an Ogg/Opus file: %w", ErrMediaBlocked, s.AudioPath, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", id,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMediaBlocked, err)
	}
	m.Tracks = append(m.Tracks, track)

	m.spawn(func(stop <-chan struct{}) {
		var lastGranule uint64
		ticker := time.NewTicker(opusFrame)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			page, header, err := ogg.ParseNextPage()
			if errors.Is(err, io.EOF) && s.Loop {
				if ogg, err = rewindOgg(file); err != nil {
					log.Warn().Err(err).Str("file", s.AudioPath).Msg("Audio loop failed")
					return
				}
				lastGranule = 0
				continue
			}
			if err != nil {
				log.Debug().Err(err).Str("file", s.AudioPath).Msg("Audio file ended")
				return
			}

			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			duration := time.Duration(samples) * time.Second / opusClockRate
			if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
				log.Debug().Err(err).Msg("Audio write failed")
			}
		}
	})
	return nil
}

func (s FileSource) addVideo(m *LocalMedia, id string) error {
	file, err := os.Open(s.VideoPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMediaBlocked, err)
	}
	m.closers = append(m.closers, file)

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("%w: %s is not an IVF file: %w", ErrMediaBlocked, s.VideoPath, err)
	}

	mime, ok := ivfMimeTypes[header.FourCC]
	if !ok {
		return fmt.Errorf("%w: unsupported video codec %q", ErrMediaBlocked, header.FourCC)
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMediaBlocked, err)
	}
	m.Tracks = append(m.Tracks, track)

	frame := frameDuration(header.TimebaseNumerator, header.TimebaseDenominator)
	m.spawn(func(stop <-chan struct{}) {
		ticker := time.NewTicker(frame)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			data, _, err := ivf.ParseNextFrame()
			if errors.Is(err, io.EOF) && s.Loop {
				if ivf, err = rewindIVF(file); err != nil {
					log.Warn().Err(err).Str("file", s.VideoPath).Msg("Video loop failed")
					return
				}
				continue
			}
			if err != nil {
				log.Debug().Err(err).Str("file", s.VideoPath).Msg("Video file ended")
				return
			}
			if err := track.WriteSample(media.Sample{Data: data, Duration: frame}); err != nil {
				log.Debug().Err(err).Msg("Video write failed")
			}
		}
	})
	return nil
}

var ivfMimeTypes = map[string]string{
	"VP80": webrtc.MimeTypeVP8,
	"VP90": webrtc.MimeTypeVP9,
	"AV01": webrtc.MimeTypeAV1,
}

func frameDuration(num, den uint32) time.Duration {
	if num == 0 || den == 0 {
		return time.Second / 30
	}
	return time.Duration(num) * time.Second / time.Duration(den)
}

func rewindOgg(f *os.File) (*oggreader.OggReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, _, err := oggreader.NewWith(f)
	return r, err
}

func rewindIVF(f *os.File) (*ivfreader.IVFReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, _, err := ivfreader.NewWith(f)
	return r, err
}

func streamID(id string) string {
	if id == "" {
		return "meetlink"
	}
	return id
}
