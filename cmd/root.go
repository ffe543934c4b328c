package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/Meetlink/internal/ui"
	"github.com/BioHazard786/Meetlink/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meetlink",
	Short: "Peer-to-peer video meetings over WebRTC with a tiny signaling server",
	Long: `Meetlink pairs two participants in a meeting room and relays their WebRTC
offer, answer and ICE candidates until media flows directly between them.

Run "meetlink serve" for the signaling server and "meetlink join" to take part
in a meeting from the terminal.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
