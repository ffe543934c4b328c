package cmd

import (
	"context"
	"fmt"

	"github.com/BioHazard786/Meetlink/internal/call"
	"github.com/BioHazard786/Meetlink/internal/config"
	"github.com/BioHazard786/Meetlink/internal/meeting"
	"github.com/BioHazard786/Meetlink/internal/signaling"
)

// Client connection flags shared by join and rooms.
var (
	flagServer   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagMsgpack  bool
)

func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		Server:     flagServer,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		Msgpack:    flagMsgpack,
	})
	if err != nil {
		return nil, call.NewError("load config", err)
	}
	return cfg, nil
}

// signalingDialer connects a fresh signaling client for each session.
func signalingDialer(cfg *config.Config) call.Dialer {
	return func(ctx context.Context) (call.Signaler, error) {
		client := signaling.NewClient(cfg.ServerURL, cfg.Msgpack)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// resolveMeetingID picks the meeting from an explicit id, from an
// application/mentor pair, or generates one. generated reports the last case.
func resolveMeetingID(args []string, app, mentor string) (id string, generated bool, err error) {
	switch {
	case len(args) > 0:
		id = meeting.Sanitize(args[0])
		if !meeting.Valid(id) {
			return "", false, call.WrapError("resolve meeting", call.ErrInvalidMeetingID, args[0])
		}
		return id, false, nil

	case app != "" || mentor != "":
		if app == "" || mentor == "" {
			return "", false, fmt.Errorf("--app and --mentor must be given together")
		}
		return meeting.Derive(app, mentor), false, nil

	default:
		return meeting.Generate(), true, nil
	}
}

// mediaSource chooses what to publish: media files when given, otherwise
// silence, or nothing at all.
func mediaSource(audio, video string, loop, silence bool, streamID string) call.MediaSource {
	switch {
	case audio != "" || video != "":
		return call.FileSource{AudioPath: audio, VideoPath: video, Loop: loop, StreamID: streamID}
	case silence:
		return call.SilenceSource{StreamID: streamID}
	default:
		return call.NoMedia{}
	}
}
