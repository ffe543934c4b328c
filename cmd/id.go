package cmd

import (
	"fmt"

	"github.com/BioHazard786/Meetlink/internal/meeting"
	"github.com/spf13/cobra"
)

var idCmd = &cobra.Command{
	Use:   "id [application-id mentor-id]",
	Short: "Print a meeting id",
	Long: `Print the meeting id both dashboards derive for an application and its
mentor, or a fresh random id when no arguments are given.

Examples:
  meetlink id app-42 mentor-7
  meetlink id`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected an application id and a mentor id, got %d arguments", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		id := meeting.Generate()
		if len(args) == 2 {
			id = meeting.Derive(args[0], args[1])
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(idCmd)
}
