package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/Meetlink/internal/call"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// CallUI renders a live call status line in the terminal.
type CallUI struct {
	program *tea.Program
	model   *callModel
	wg      sync.WaitGroup
	err     error
}

type statusMsg call.Update

type statsTickMsg time.Time

// callModel is the bubbletea model behind CallUI.
type callModel struct {
	meetingID string
	spinner   spinner.Model
	startTime time.Time
	stats     func() []call.TrackStats
	onQuit    func()

	mu      sync.Mutex
	latest  call.Update
	pending chan struct{}

	current  call.Update
	tracks   []call.TrackStats
	quitting bool
}

// NewCallUI creates the view. stats is polled for remote track counters and
// may be nil. onQuit runs once when the user presses q.
func NewCallUI(meetingID string, stats func() []call.TrackStats, onQuit func()) *CallUI {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	model := &callModel{
		meetingID: meetingID,
		spinner:   s,
		startTime: time.Now(),
		stats:     stats,
		onQuit:    onQuit,
		pending:   make(chan struct{}, 1),
		current:   call.Update{Status: call.StatusIdle},
	}
	return &CallUI{
		model:   model,
		program: tea.NewProgram(model),
	}
}

// Start runs the UI in a goroutine.
func (ui *CallUI) Start() {
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			ui.err = err
		}
	}()
}

// Update records the latest call state. It never blocks; intermediate
// updates may be coalesced but the latest one is always shown.
func (ui *CallUI) Update(u call.Update) {
	ui.model.mu.Lock()
	ui.model.latest = u
	ui.model.mu.Unlock()

	select {
	case ui.model.pending <- struct{}{}:
	default:
	}
}

// Stop quits the program and waits for the terminal to be restored.
func (ui *CallUI) Stop() error {
	ui.program.Quit()
	ui.wg.Wait()
	return ui.err
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate(), statsTick())
}

func (m *callModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		<-m.pending
		m.mu.Lock()
		defer m.mu.Unlock()
		return statusMsg(m.latest)
	}
}

func statsTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return statsTickMsg(t)
	})
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.quitting && m.onQuit != nil {
				m.onQuit()
			}
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case statsTickMsg:
		if m.stats != nil {
			m.tracks = m.stats()
		}
		return m, statsTick()

	case statusMsg:
		m.current = call.Update(msg)
		if m.current.State == call.StateClosed {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.waitForUpdate()
	}
	return m, nil
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("\n%s Meeting %s\n\n", IconMeeting, BoldStyle.Render(m.meetingID)))

	icon := m.spinner.View()
	if m.current.Status == call.StatusConnected {
		icon = " "
	}
	b.WriteString(fmt.Sprintf("%s %s\n", icon, StatusLabel(m.current.Status)))
	if m.current.Err != nil {
		b.WriteString("  " + ErrorStyle.Render(m.current.Err.Error()) + "\n")
	}

	b.WriteString(fmt.Sprintf("\n%s Participants: %d   %s Remote tracks: %d   %s\n",
		IconPeople, m.current.Participants,
		IconMedia, m.current.RemoteTracks,
		MutedStyle.Render(formatElapsed(time.Since(m.startTime))),
	))

	for _, tr := range m.tracks {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  %-6s %-12s %8d pkts %10s\n",
			tr.Kind, tr.Codec, tr.Packets, formatBytes(int64(tr.Bytes)))))
	}

	b.WriteString("\n" + MutedStyle.Render("Press q to leave"))
	return b.String()
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
