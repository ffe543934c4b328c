package ui

import (
	"fmt"
	"strconv"

	"github.com/BioHazard786/Meetlink/internal/call"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RoomRow is one live room as reported by the server.
type RoomRow struct {
	ID      string
	Members int
}

// RoomsTableView renders live rooms. Full rooms are highlighted.
func RoomsTableView(rooms []RoomRow, maxMembers int) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No active meetings")
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgHiGreen, text.Bold}
	t.Style().Options.SeparateRows = false
	t.AppendHeader(table.Row{"#", "Meeting", "Members"})

	total := 0
	for i, r := range rooms {
		members := strconv.Itoa(r.Members)
		if maxMembers > 0 && r.Members >= maxMembers {
			members = text.Colors{text.FgYellow}.Sprint(members + " (full)")
		}
		t.AppendRow(table.Row{i + 1, r.ID, members})
		total += r.Members
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d meetings", len(rooms)), total})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	return t.Render()
}

func RenderRoomsTable(rooms []RoomRow, maxMembers int) {
	fmt.Println(RoomsTableView(rooms, maxMembers))
}

// CallSummaryView renders what was received once a call ends.
func CallSummaryView(status call.Status, duration string, packets, bytes uint64) string {
	rows := [][]string{
		{"Status", string(status)},
		{"Duration", duration},
		{"Received", fmt.Sprintf("%d packets, %s", packets, formatBytes(int64(bytes)))},
	}

	tbl := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Metric", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// MeetingInfoView shows the id to share with the other participant.
func MeetingInfoView(meetingID, server string, generated bool) string {
	title := "Joining meeting"
	if generated {
		title = "New meeting created"
	}
	content := fmt.Sprintf("%s %s\n\n%s Meeting ID:  %s\n%s Server:      %s",
		IconMeeting, title,
		IconCopy, BoldStyle.Foreground(Primary).Render(meetingID),
		IconConnect, MutedStyle.Render(server),
	)
	if generated {
		content += "\n\n" + MutedStyle.Render("Share the id: meetlink join "+meetingID)
	}
	return InfoBoxStyle.Render(content)
}

func RenderCallSummary(status call.Status, duration string, packets, bytes uint64) {
	fmt.Println(CallSummaryView(status, duration, packets, bytes))
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
