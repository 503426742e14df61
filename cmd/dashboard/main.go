// dashboard: OpenRacing operator terminal dashboard
// Copyright (C) 2026  Guillermo Perry
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

var addr = flag.String("addr", "http://127.0.0.1:8090", "base address of the ffbd API server")

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 2).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF")).
			Padding(0, 1)

	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).Italic(true)
)

type metricsSnapshot struct {
	SessionID         string            `json:"session_id"`
	TotalTicks        uint64            `json:"total_ticks"`
	MissedTicks       uint64            `json:"missed_ticks"`
	MissedTickRate    float64           `json:"missed_tick_rate"`
	WritePendingCount uint64            `json:"write_pending_count"`
	WriteLatencyUsP99 uint64            `json:"write_latency_us_p99"`
	TickJitterNsP99   uint64            `json:"tick_jitter_ns_p99"`
	FaultEventsTotal  map[string]uint64 `json:"fault_events_total"`
	SoftStopActive    bool              `json:"soft_stop_active"`
	HighTorqueGrants  uint64            `json:"high_torque_grants"`
	ChallengesFailed  uint64            `json:"challenges_failed"`
}

type safetySnapshot struct {
	State string `json:"state"`
	Fault string `json:"fault,omitempty"`
}

type pollResultMsg struct {
	metrics metricsSnapshot
	safety  safetySnapshot
	err     error
}

type pollTickMsg struct{}

type copyNoticeExpireMsg struct{}

type model struct {
	client     *http.Client
	base       string
	last       pollResultMsg
	haveAny    bool
	width      int
	faultLog   viewport.Model
	showCopied bool
}

func newModel() model {
	vp := viewport.New(68, 6)
	vp.SetContent("no fault events yet")
	return model{
		client:   &http.Client{Timeout: 2 * time.Second},
		base:     *addr,
		faultLog: vp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tea.Tick(time.Second, func(time.Time) tea.Msg { return pollTickMsg{} }))
}

// updateFaultLog word-wraps each fault-event line to the viewport width,
// the same ansi.Wordwrap-per-line idiom the teacher uses for its chat
// and server-log panels.
func (m *model) updateFaultLog() {
	met := m.last.metrics
	if len(met.FaultEventsTotal) == 0 {
		m.faultLog.SetContent("no fault events yet")
		return
	}
	width := m.faultLog.Width
	if width <= 0 {
		width = 68
	}
	var lines []string
	for kind, count := range met.FaultEventsTotal {
		line := fmt.Sprintf("%-24s %d", kind, count)
		lines = append(lines, ansi.Wordwrap(line, width, " \t"))
	}
	m.faultLog.SetContent(strings.Join(lines, "\n"))
}

// snapshotJSON renders the last poll result for the clipboard-copy
// keybinding, mirroring the teacher's textSelectedMsg -> clipboard.WriteAll
// flow in internal/cli/ui/ui.go.
func (m model) snapshotJSON() (string, error) {
	out, err := json.MarshalIndent(struct {
		Metrics metricsSnapshot `json:"metrics"`
		Safety  safetySnapshot  `json:"safety"`
	}{m.last.metrics, m.last.safety}, "", "  ")
	return string(out), err
}

func (m model) poll() tea.Cmd {
	return func() tea.Msg {
		var result pollResultMsg
		if err := fetchJSON(m.client, m.base+"/api/v1/metrics", &result.metrics); err != nil {
			result.err = err
			return result
		}
		if err := fetchJSON(m.client, m.base+"/api/v1/safety", &result.safety); err != nil {
			result.err = err
			return result
		}
		return result
	}
}

func fetchJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dashboard: %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "c":
			if snap, err := m.snapshotJSON(); err == nil {
				if err := clipboard.WriteAll(snap); err == nil {
					m.showCopied = true
					cmds = append(cmds, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return copyNoticeExpireMsg{} }))
				}
			}
		default:
			var cmd tea.Cmd
			m.faultLog, cmd = m.faultLog.Update(msg)
			cmds = append(cmds, cmd)
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.faultLog.Width = msg.Width - 6
	case pollTickMsg:
		cmds = append(cmds, m.poll(), tea.Tick(time.Second, func(time.Time) tea.Msg { return pollTickMsg{} }))
	case pollResultMsg:
		m.last = msg
		m.haveAny = true
		m.updateFaultLog()
	case copyNoticeExpireMsg:
		m.showCopied = false
	}
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	width := m.width
	if width <= 0 {
		width = 72
	}

	var b strings.Builder
	b.WriteString(headerStyle.Width(width).Render(fmt.Sprintf(" ffbd dashboard | %s", m.base)))
	b.WriteString("\n")

	if !m.haveAny {
		b.WriteString(panelStyle.Width(width - 4).Render("connecting..."))
		b.WriteString("\n")
		b.WriteString(footerStyle.Width(width).Render(" q / ctrl+c to quit"))
		return b.String()
	}

	if m.last.err != nil {
		b.WriteString(panelStyle.Width(width - 4).Render(errorStyle.Render("poll error: " + m.last.err.Error())))
		b.WriteString("\n")
		b.WriteString(footerStyle.Width(width).Render(" q / ctrl+c to quit"))
		return b.String()
	}

	met := m.last.metrics
	saf := m.last.safety

	stateRendered := okStyle.Render(saf.State)
	if saf.State == "Faulted" {
		stateRendered = errorStyle.Render(fmt.Sprintf("Faulted (%s)", saf.Fault))
	}
	softStop := dimStyle.Render("inactive")
	if met.SoftStopActive {
		softStop = warnStyle.Render("ACTIVE")
	}

	safetyPanel := fmt.Sprintf(
		"safety state:   %s\nsoft-stop ramp: %s\nhigh-torque grants: %d\nfailed challenges:  %d",
		stateRendered, softStop, met.HighTorqueGrants, met.ChallengesFailed,
	)
	b.WriteString(panelStyle.Width(width - 4).Render(safetyPanel))
	b.WriteString("\n")

	loopPanel := fmt.Sprintf(
		"total ticks:    %d\nmissed ticks:   %d (%.4f%%)\nwrite pending:  %d\nwrite p99:      %d us\ntick jitter p99: %d ns",
		met.TotalTicks, met.MissedTicks, met.MissedTickRate*100, met.WritePendingCount, met.WriteLatencyUsP99, met.TickJitterNsP99,
	)
	b.WriteString(panelStyle.Width(width - 4).Render(loopPanel))
	b.WriteString("\n")

	b.WriteString(panelStyle.Width(width - 4).Render("fault events:\n" + m.faultLog.View()))
	b.WriteString("\n")

	footer := " q / ctrl+c to quit · c to copy snapshot · ↑/↓ to scroll fault log"
	if m.showCopied {
		footer = okStyle.Render(" snapshot copied to clipboard")
	}
	b.WriteString(footerStyle.Width(width).Render(footer))
	return b.String()
}

func main() {
	flag.Parse()
	p := tea.NewProgram(newModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("dashboard: error:", err)
	}
}
