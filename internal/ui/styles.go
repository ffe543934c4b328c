package ui

import (
	"fmt"
	"os"

	"github.com/BioHazard786/Meetlink/internal/call"
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary    = lipgloss.Color("#34d399") // Meetlink green
	Secondary  = lipgloss.Color("#60a5fa") // Blue
	Success    = lipgloss.Color("#10B981") // Emerald
	Warning    = lipgloss.Color("#F59E0B") // Amber
	Error      = lipgloss.Color("#EF4444") // Red
	Muted      = lipgloss.Color("#6B7280") // Gray
	Foreground = lipgloss.Color("#F9FAFB") // Light gray
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			MarginBottom(1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	StatusStyle = lipgloss.NewStyle().
			Foreground(Foreground).
			Background(Primary).
			Padding(0, 1).
			Bold(true)
)

// Box styles
var (
	InfoBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Secondary).
			Padding(1, 2)

	ErrorBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(Error).
			Padding(1, 2)
)

// Table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary).
				Align(lipgloss.Center)

	tableCellStyle = lipgloss.NewStyle().Padding(0, 1)

	TableRowStyle = tableCellStyle.Foreground(lipgloss.Color("255"))

	TableRowAltStyle = tableCellStyle.Foreground(lipgloss.Color("245"))
)

var SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)

const (
	IconSuccess  = "✅"
	IconError    = "❌"
	IconWarning  = "⚠️"
	IconInfo     = "ℹ️"
	IconMeeting  = "📞"
	IconPeer     = "👤"
	IconPeople   = "👥"
	IconConnect  = "🔌"
	IconWaiting  = "⏳"
	IconBlocked  = "🚫"
	IconMedia    = "🎞️"
	IconCopy     = "📋"
	IconRoom     = "🚪"
	IconLeft     = "👋"
	IconComplete = "🎉"
)

// statusStyles maps each call status to its icon and color.
var statusStyles = map[call.Status]struct {
	icon  string
	style lipgloss.Style
}{
	call.StatusIdle:           {IconWaiting, MutedStyle},
	call.StatusConnecting:     {IconConnect, WarningStyle},
	call.StatusWaitingForPeer: {IconWaiting, WarningStyle},
	call.StatusNegotiating:    {IconConnect, WarningStyle},
	call.StatusConnected:      {IconSuccess, SuccessStyle},
	call.StatusInterrupted:    {IconWarning, WarningStyle},
	call.StatusPeerLeft:       {IconLeft, WarningStyle},
	call.StatusDisconnected:   {IconError, ErrorStyle},
	call.StatusBlocked:        {IconBlocked, ErrorStyle},
	call.StatusFailed:         {IconError, ErrorStyle},
	call.StatusRoomFull:       {IconRoom, ErrorStyle},
	call.StatusClosed:         {IconComplete, MutedStyle},
}

// StatusLabel renders a call status with its icon.
func StatusLabel(status call.Status) string {
	s, ok := statusStyles[status]
	if !ok {
		return string(status)
	}
	return s.icon + " " + s.style.Render(string(status))
}

func PrintError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintErrorf(format string, args ...any) {
	PrintError(fmt.Sprintf(format, args...))
}

func PrintWarning(msg string) {
	fmt.Printf("%s %s\n", WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

func PrintSuccess(msg string) {
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}

func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}
