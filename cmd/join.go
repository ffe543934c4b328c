package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BioHazard786/Meetlink/internal/call"
	"github.com/BioHazard786/Meetlink/internal/ui"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	flagName    string
	flagUserID  string
	flagApp     string
	flagMentor  string
	flagAudio   string
	flagVideo   string
	flagLoop    bool
	flagSilence bool
	flagPlain   bool
)

var joinCmd = &cobra.Command{
	Use:     "join [meeting-id]",
	Aliases: []string{"j"},
	Short:   "Join a meeting",
	Long: `Join a two-party meeting and stay in it until you press q or Ctrl+C.

Without a meeting id a new one is generated for you to share. With --app and
--mentor the id is derived the same way both dashboards derive it.

Examples:
  meetlink join
  meetlink join brave_otter_math_library
  meetlink join --app app-42 --mentor mentor-7
  meetlink join abc123 --audio voice.ogg --video camera.ivf --loop
  meetlink join abc123 --server wss://meet.example.com --relay --turn turn.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinMeeting(cmd.Context(), args)
	},
}

func joinMeeting(ctx context.Context, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	meetingID, generated, err := resolveMeetingID(args, flagApp, flagMentor)
	if err != nil {
		return err
	}

	userID := flagUserID
	if userID == "" {
		userID = uuid.NewString()
	}

	factory, err := call.NewPeerFactory(cfg)
	if err != nil {
		return err
	}

	fmt.Println(ui.MeetingInfoView(meetingID, cfg.ServerURL, generated))

	sink := call.NewPacketCounter()
	var session *call.Session

	plain := flagPlain || !isatty.IsTerminal(os.Stdout.Fd())
	var view *ui.CallUI
	onUpdate := printUpdate()
	if !plain {
		view = ui.NewCallUI(meetingID, sink.Stats, func() { session.Close() })
		onUpdate = view.Update
	}

	session = call.NewSession(call.Options{
		MeetingID: meetingID,
		UserName:  flagName,
		UserID:    userID,
		Dial:      signalingDialer(cfg),
		NewPeer:   factory,
		Media:     mediaSource(flagAudio, flagVideo, flagLoop, flagSilence, userID),
		Sink:      sink,
		OnUpdate:  onUpdate,
	})

	if view != nil {
		view.Start()
	}
	start := time.Now()
	runErr := session.Run(ctx)
	if view != nil {
		if err := view.Stop(); err != nil {
			ui.PrintWarning(err.Error())
		}
	}

	final := session.Snapshot()
	packets, bytes := sink.Totals()
	fmt.Println()
	ui.RenderCallSummary(final.Status, time.Since(start).Round(time.Second).String(), packets, bytes)
	return runErr
}

// printUpdate is the non-interactive renderer: one line per status change.
func printUpdate() func(call.Update) {
	var last call.Status
	return func(u call.Update) {
		if u.Status == last {
			return
		}
		last = u.Status
		line := fmt.Sprintf("%s  participants=%d tracks=%d", ui.StatusLabel(u.Status), u.Participants, u.RemoteTracks)
		if u.Err != nil {
			line += "  " + u.Err.Error()
		}
		fmt.Println(line)
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagServer, "server", "", "Signaling server URL or host")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name")
	joinCmd.Flags().StringVar(&flagUserID, "user-id", "", "User id (default random)")
	joinCmd.Flags().StringVar(&flagApp, "app", "", "Application id to derive the meeting from")
	joinCmd.Flags().StringVar(&flagMentor, "mentor", "", "Mentor id to derive the meeting from")
	joinCmd.Flags().StringVar(&flagAudio, "audio", "", "Ogg/Opus file to publish as the microphone")
	joinCmd.Flags().StringVar(&flagVideo, "video", "", "IVF file (VP8, VP9 or AV1) to publish as the camera")
	joinCmd.Flags().BoolVar(&flagLoop, "loop", false, "Restart media files at the end")
	joinCmd.Flags().BoolVar(&flagSilence, "silence", true, "Publish a silent audio track when no files are given")
	joinCmd.Flags().BoolVar(&flagPlain, "plain", false, "Print status lines instead of the live view")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().BoolVar(&flagMsgpack, "msgpack", false, "Use the binary msgpack codec")
}
