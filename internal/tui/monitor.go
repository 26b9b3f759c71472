// Package tui implements the live monitor view for a running supervisor
// session. It watches status.json and re-renders whenever the loop driver
// commits a new snapshot.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/ralph-loop/ralph/internal/driver"
	"github.com/ralph-loop/ralph/internal/store"
)

// statusMsg carries a freshly loaded status snapshot.
type statusMsg struct {
	status driver.SessionStatus
	found  bool
}

// watchErrMsg reports a watcher failure; the monitor falls back to
// polling.
type watchErrMsg struct{ err error }

// tickMsg drives the polling fallback and the elapsed-time display.
type tickMsg time.Time

// Monitor is the bubbletea model for the status view.
type Monitor struct {
	dir     *store.Dir
	watcher *fsnotify.Watcher

	status  driver.SessionStatus
	found   bool
	started time.Time
	err     error

	spin spinner.Model

	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	headerStyle  lipgloss.Style
	waitingStyle lipgloss.Style
	stoppedStyle lipgloss.Style
	runningStyle lipgloss.Style
}

// NewMonitor creates a Monitor over the given state directory. The
// watcher may be nil; the monitor then refreshes on a timer only.
func NewMonitor(dir *store.Dir) *Monitor {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(dir.Root()); werr != nil {
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}

	return &Monitor{
		dir:          dir,
		watcher:      watcher,
		started:      time.Now(),
		spin:         sp,
		labelStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		valueStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true),
		headerStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true),
		waitingStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		stoppedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		runningStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("82")),
	}
}

// Init starts the spinner, the watcher listener and the poll ticker.
func (m *Monitor) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spin.Tick, m.readStatus, tick()}
	if m.watcher != nil {
		cmds = append(cmds, m.waitForChange)
	}
	return tea.Batch(cmds...)
}

// Update handles messages.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.watcher != nil {
				m.watcher.Close()
			}
			return m, tea.Quit
		}
		return m, nil

	case statusMsg:
		m.status = msg.status
		m.found = msg.found
		return m, nil

	case watchErrMsg:
		m.err = msg.err
		m.watcher = nil
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.readStatus, tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	if m.watcher != nil {
		// Any watcher event triggers a re-read and a re-arm.
		if _, ok := msg.(fsnotify.Event); ok {
			return m, tea.Batch(m.readStatus, m.waitForChange)
		}
	}
	return m, nil
}

// View renders the monitor.
func (m *Monitor) View() string {
	var b strings.Builder

	b.WriteString(m.headerStyle.Render("ralph loop monitor"))
	b.WriteString("  " + m.spin.View() + "\n\n")

	if !m.found {
		b.WriteString(m.labelStyle.Render("No status file found") + "\n")
		b.WriteString(m.labelStyle.Render(fmt.Sprintf("watching %s", m.dir.Path(store.StatusFile))) + "\n")
		b.WriteString("\n" + m.labelStyle.Render("q to quit") + "\n")
		return b.String()
	}

	st := m.status
	rows := []struct{ label, value string }{
		{"Loop", fmt.Sprintf("%d", st.LoopCount)},
		{"Calls this hour", fmt.Sprintf("%d / %d", st.CallsMadeThisHour, st.MaxCallsPerHour)},
		{"Last action", st.LastAction},
		{"Status", m.renderState(st.Status)},
		{"Updated", st.Timestamp.Format("15:04:05")},
		{"Watching for", formatElapsed(time.Since(m.started))},
	}
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("  %s %s\n",
			m.labelStyle.Render(fmt.Sprintf("%-16s", row.label)),
			m.valueStyle.Render(row.value)))
	}

	if m.err != nil {
		b.WriteString("\n" + m.waitingStyle.Render(fmt.Sprintf("watcher degraded to polling: %v", m.err)) + "\n")
	}
	b.WriteString("\n" + m.labelStyle.Render("q to quit") + "\n")
	return b.String()
}

// renderState colors the status value.
func (m *Monitor) renderState(status string) string {
	switch status {
	case driver.StatusRunning:
		return m.runningStyle.Render(status)
	case driver.StatusWaiting, driver.StatusStalled:
		return m.waitingStyle.Render(status)
	case driver.StatusStopped:
		return m.stoppedStyle.Render(status)
	default:
		return status
	}
}

// readStatus loads the current snapshot.
func (m *Monitor) readStatus() tea.Msg {
	st, ok := driver.ReadStatus(m.dir)
	return statusMsg{status: st, found: ok}
}

// waitForChange blocks on the next watcher event.
func (m *Monitor) waitForChange() tea.Msg {
	select {
	case ev, ok := <-m.watcher.Events:
		if !ok {
			return watchErrMsg{err: fmt.Errorf("watcher closed")}
		}
		return ev
	case err, ok := <-m.watcher.Errors:
		if !ok {
			return watchErrMsg{err: fmt.Errorf("watcher closed")}
		}
		return watchErrMsg{err: err}
	}
}

// tick schedules the next poll.
func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatElapsed formats a duration in a human-readable way.
func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
