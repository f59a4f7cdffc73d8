// Package interactive provides a terminal dashboard for a running BACnet
// node: the live address-cache contents and the dashboard's uptime,
// refreshed once a second.
package interactive

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	deviceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("246")).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2)

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("246"))
)

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	sess      *session.Session
	startTime time.Time
	quitting  bool
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.EnterAltScreen)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("BACnet Node Monitor"))
	b.WriteString("\n\n")
	b.WriteString(statsStyle.Render(fmt.Sprintf("uptime: %s", time.Since(m.startTime).Round(time.Second))))
	b.WriteString("\n\n")

	entries := m.sess.Addr.Snapshot()
	b.WriteString(headerStyle.Render(fmt.Sprintf("bound devices (%d)", len(entries))))
	b.WriteString("\n")

	var rows strings.Builder
	for _, e := range entries {
		rows.WriteString(deviceStyle.Render(fmt.Sprintf("device %-10d %-20s max-apdu=%d", e.DeviceID, e.Address.String(), e.MaxAPDU)))
		rows.WriteString("\n")
	}
	if len(entries) == 0 {
		rows.WriteString(statsStyle.Render("(none bound yet)"))
		rows.WriteString("\n")
	}
	b.WriteString(panelStyle.Render(strings.TrimRight(rows.String(), "\n")))
	b.WriteString("\n\nq: quit\n")
	return b.String()
}

// Run drives the dashboard until the user quits; sess must already be
// ticking (normally owned by a pkg/daemon.Daemon running in the
// background) so the address cache keeps changing while this renders it.
func Run(sess *session.Session) error {
	m := model{sess: sess, startTime: time.Now()}
	p := tea.NewProgram(m)
	_, err := p.Run()
	return err
}
