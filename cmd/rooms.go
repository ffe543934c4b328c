package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BioHazard786/Meetlink/internal/dns"
	"github.com/BioHazard786/Meetlink/internal/server"
	"github.com/BioHazard786/Meetlink/internal/ui"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List live meetings on a server",
	Long: `List the meetings a signaling server currently holds and how many members
each one has.

Examples:
  meetlink rooms
  meetlink rooms --server meet.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}

		sp := ui.NewConnectionSpinner("Fetching meetings...")
		sp.Start()
		resp, err := fetchRooms(cmd.Context(), cfg.HTTPURL("/rooms"))
		sp.Stop()
		if err != nil {
			return err
		}

		rows := make([]ui.RoomRow, len(resp.Rooms))
		for i, r := range resp.Rooms {
			rows[i] = ui.RoomRow{ID: r.ID, Members: r.Members}
		}
		ui.RenderRoomsTable(rows, resp.MaxMembers)
		return nil
	},
}

var httpClient = &http.Client{
	Timeout:   10 * time.Second,
	Transport: &http.Transport{DialContext: dns.Default.DialContext},
}

func fetchRooms(ctx context.Context, url string) (*server.RoomsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch meetings: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch meetings: server returned %s", res.Status)
	}
	var body server.RoomsResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode meetings: %w", err)
	}
	return &body, nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)

	roomsCmd.Flags().StringVar(&flagServer, "server", "", "Signaling server URL or host")
}
