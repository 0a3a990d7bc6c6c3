// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/kegelbridge/pkg/config"
	"github.com/Thermoquad/kegelbridge/pkg/gateway"
	"github.com/Thermoquad/kegelbridge/pkg/lanestats"
	"github.com/Thermoquad/kegelbridge/pkg/logsink"
	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

const (
	tuiRefresh     = 500 * time.Millisecond
	tuiMinPriority = 3
)

// gatewayController is the part of the gateway the TUI drives
type gatewayController interface {
	LaneStats() []lanestats.Snapshot
	ClearLaneStats(kind lanestats.ClearKind)
	ClearSocketBacklog() int
	SendLaneCommand(lane int, cmd string) error
	ConnectionInfo() []gateway.Endpoint
	Status() gateway.Status
	Lanes() int
	Listening() bool
}

var _ gatewayController = (*gateway.Gateway)(nil)

// Notice shown under the input
type notice struct {
	text    string
	isError bool
}

// gatewayModel is the Bubble Tea model of the run TUI
type gatewayModel struct {
	g        gatewayController
	rec        *logsink.Recorder
	portInfo   string
	socketAddr string
	started    time.Time

	connTable table.Model
	laneTable table.Model
	laneInput textinput.Model

	status    gateway.Status
	listening bool
	events    []logsink.Entry
	notice    notice

	width    int
	height   int
	quitting bool
	runErr   error
}

// Messages
type gatewayTickMsg time.Time
type gatewayDoneMsg struct {
	err error
}

func newGatewayModel(g gatewayController, rec *logsink.Recorder, portInfo string, now time.Time) gatewayModel {
	ti := textinput.New()
	ti.Placeholder = "1"
	ti.CharLimit = 2
	ti.Width = 4
	ti.Prompt = "Lane: "
	ti.Focus()

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()

	connTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "Connection", Width: 22},
			{Title: "Frames", Width: 9},
			{Title: "Bytes", Width: 10},
			{Title: "Pending", Width: 9},
			{Title: "Dups", Width: 6},
		}),
		table.WithHeight(4),
	)
	connTable.SetStyles(styles)

	laneColumns := []table.Column{{Title: "Lane", Width: 6}}
	for _, c := range lanestats.Columns {
		laneColumns = append(laneColumns, table.Column{Title: c, Width: 8})
	}
	laneTable := table.New(
		table.WithColumns(laneColumns),
	)
	laneTable.SetStyles(styles)
	laneTable.SetHeight(g.Lanes() + 2)

	m := gatewayModel{
		g:         g,
		rec:       rec,
		portInfo:  portInfo,
		started:   now,
		connTable: connTable,
		laneTable: laneTable,
		laneInput: ti,
		width:     80,
		height:    24,
	}
	m.refresh()
	return m
}

func (m gatewayModel) Init() tea.Cmd {
	return tea.Batch(
		gatewayTickCmd(),
		textinput.Blink,
	)
}

func gatewayTickCmd() tea.Cmd {
	return tea.Tick(tuiRefresh, func(t time.Time) tea.Msg {
		return gatewayTickMsg(t)
	})
}

func (m gatewayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case gatewayTickMsg:
		m.refresh()
		return m, gatewayTickCmd()

	case gatewayDoneMsg:
		m.runErr = msg.err
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.laneInput, cmd = m.laneInput.Update(msg)
	return m, cmd
}

func (m gatewayModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "m":
		m.g.ClearLaneStats(lanestats.ClearMax)
		m.notice = notice{text: "Maximum cleared"}
	case "w":
		m.g.ClearLaneStats(lanestats.ClearWarn)
		m.notice = notice{text: "Warnings cleared"}
	case "a":
		m.g.ClearLaneStats(lanestats.ClearAll)
		m.notice = notice{text: "Lane statistics cleared"}

	case "x":
		n := m.g.ClearSocketBacklog()
		m.notice = notice{text: fmt.Sprintf("Socket backlog cleared (%d bytes)", n)}

	case "e", "enter":
		m.notice = m.sendEnter()
		m.laneInput.SetValue("")

	default:
		// Only digits reach the input
		if isDigitKey(msg) || msg.Type == tea.KeyBackspace {
			var cmd tea.Cmd
			m.laneInput, cmd = m.laneInput.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	m.refresh()
	return m, nil
}

// sendEnter queues Enter for the lane typed in the input
func (m gatewayModel) sendEnter() notice {
	value := strings.TrimSpace(m.laneInput.Value())
	lane, err := strconv.Atoi(value)
	if err != nil {
		return notice{text: fmt.Sprintf("Type a lane number 1..%d first", m.g.Lanes()), isError: true}
	}
	if err := m.g.SendLaneCommand(lane-1, ninepin.CmdEnter); err != nil {
		return notice{text: err.Error(), isError: true}
	}
	return notice{text: fmt.Sprintf("Enter sent to lane %d", lane)}
}

func isDigitKey(msg tea.KeyMsg) bool {
	if msg.Type != tea.KeyRunes || len(msg.Runes) != 1 {
		return false
	}
	r := msg.Runes[0]
	return r >= '0' && r <= '9'
}

// refresh copies the gateway state into the tables
func (m *gatewayModel) refresh() {
	var connRows []table.Row
	for _, e := range m.g.ConnectionInfo() {
		connRows = append(connRows, table.Row{
			e.Name,
			strconv.FormatUint(e.Frames, 10),
			strconv.FormatUint(e.Bytes, 10),
			strconv.Itoa(e.Pending),
			strconv.FormatUint(e.Duplicates, 10),
		})
	}
	m.connTable.SetRows(connRows)
	m.connTable.SetHeight(len(connRows) + 2)

	var laneRows []table.Row
	for i, s := range m.g.LaneStats() {
		laneRows = append(laneRows, append(table.Row{fmt.Sprintf("Tor%d", i+1)}, s.Row()...))
	}
	m.laneTable.SetRows(laneRows)

	m.status = m.g.Status()
	m.listening = m.g.Listening()
	if m.rec != nil {
		m.events = m.rec.Recent(tuiMinPriority, 100)
	}
}

func (m gatewayModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("KEGELBRIDGE - LANE GATEWAY"))
	s.WriteString("\n")
	uptime := uint64(time.Since(m.started).Milliseconds())
	s.WriteString(headerStyle.Render(m.portInfo))
	if m.socketAddr != "" {
		if m.listening {
			s.WriteString(headerStyle.Render("  Socket: " + m.socketAddr))
		} else {
			s.WriteString("  " + errorStyle.Render("Socket: not listening on "+m.socketAddr))
		}
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf(" | Up %s | m/w/a clear stats, x clear backlog, e send Enter, q quit",
		formatUptime(uptime))))
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.connTable.View()))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.laneTable.View()))
	s.WriteString("\n")

	// Request slot
	slot := valueStyle.Render(m.status.Mode)
	if m.status.Mode != "Idle" {
		lane := "?"
		if m.status.Lane >= 0 {
			lane = strconv.Itoa(m.status.Lane + 1)
		}
		slot = warningStyle.Render(fmt.Sprintf("%s lane %s %q", m.status.Mode, lane, m.status.Frame))
		if m.status.Retries > 0 {
			slot += headerStyle.Render(fmt.Sprintf(" (retry %d)", m.status.Retries))
		}
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Request:"), slot))

	s.WriteString(m.laneInput.View())
	if m.notice.text != "" {
		if m.notice.isError {
			s.WriteString("  " + errorStyle.Render(m.notice.text))
		} else {
			s.WriteString("  " + headerStyle.Render(m.notice.text))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 16 - m.g.Lanes()
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.events) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.events) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, e := range m.events[startIdx:] {
			timestamp := e.Time.Format("01/02/06 15:04:05.000")
			line := fmt.Sprintf("%s %s %s", e.Code, e.Source, e.Detail)
			if logsink.IsError(e.Priority) {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+line)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+line)))
			}
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(logContent.String()))

	return s.String()
}

// runGatewayTUI runs the loop in the background while the TUI is open
func runGatewayTUI(ctx context.Context, g *gateway.Gateway, rec *logsink.Recorder, cfg config.Config) error {
	portInfo := fmt.Sprintf("X: %s  Y: %s", cfg.ComX, cfg.ComY)
	model := newGatewayModel(g, rec, portInfo, time.Now())
	if !noListen {
		model.socketAddr = cfg.ListenAddr()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	done := make(chan error, 1)
	go func() {
		err := g.Run(ctx)
		done <- err
		p.Send(gatewayDoneMsg{err: err})
	}()

	final, err := p.Run()
	interrupted := ctx.Err() != nil
	g.Stop()
	cancel()
	runErr := <-done

	if err != nil && !interrupted {
		return fmt.Errorf("terminal UI: %w", err)
	}
	if fm, ok := final.(gatewayModel); ok && fm.runErr != nil {
		return fm.runErr
	}
	return runErr
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	unit := func(n uint64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, unit(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, unit(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, unit(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, unit(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
