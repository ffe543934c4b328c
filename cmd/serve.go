package cmd

import (
	"github.com/BioHazard786/Meetlink/internal/config"
	"github.com/BioHazard786/Meetlink/internal/logging"
	"github.com/BioHazard786/Meetlink/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagAddr       string
	flagConfigFile string
	flagMaxMembers int
	flagOrigins    []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Long: `Run the websocket signaling server.

Configuration is read from flags, then MEETLINK_* environment variables, then
the TOML file given by --config or MEETLINK_CONFIG.

Examples:
  meetlink serve
  meetlink serve --addr :9000 --max-members 0
  meetlink serve --config /etc/meetlink.toml --origins https://app.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(zerolog.InfoLevel)

		cfg, err := config.LoadServer(config.ServerOptions{
			ConfigFile:    flagConfigFile,
			Addr:          flagAddr,
			Origins:       flagOrigins,
			MaxMembers:    flagMaxMembers,
			MaxMembersSet: cmd.Flags().Changed("max-members"),
		})
		if err != nil {
			return err
		}

		log.Info().
			Int("max_members", cfg.MaxMembers).
			Strs("origins", cfg.AllowedOrigins).
			Msg("Loaded configuration")

		return server.New(cfg).ListenAndServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagAddr, "addr", "a", "", "Listen address (default :8080)")
	serveCmd.Flags().StringVarP(&flagConfigFile, "config", "c", "", "TOML configuration file")
	serveCmd.Flags().IntVarP(&flagMaxMembers, "max-members", "m", config.DefaultMaxMembers, "Members per meeting, 0 for unlimited")
	serveCmd.Flags().StringSliceVar(&flagOrigins, "origins", nil, "Allowed websocket origins (default *)")
}
