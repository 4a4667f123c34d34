// Package tui implements the interactive terminal dashboard.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"netsweep/export"
	"netsweep/resolve"
	"netsweep/scanner"
)

const refreshInterval = 250 * time.Millisecond

type tickMsg time.Time

type portScanMsg struct {
	host string
	err  error
}

type enrichMsg struct {
	data map[string]scanner.Enrichment
}

type exportMsg struct {
	path string
	err  error
}

// Model is the bubbletea dashboard model. All scanner state lives in the
// orchestrator; the model only keeps the last snapshot it rendered.
type Model struct {
	orch   *scanner.Orchestrator
	target string

	rows  []scanner.HostResult
	stats scanner.Stats
	rate  scanner.RateStats

	cursor int
	offset int
	upOnly bool

	input    textinput.Model
	entering bool

	enriched scanner.Generation

	status        string
	width, height int
	quitting      bool
}

func newModel(orch *scanner.Orchestrator, target string) Model {
	ti := textinput.New()
	ti.Placeholder = "192.168.1.0/24"
	ti.CharLimit = 64
	ti.Width = 40
	if target != "" {
		ti.SetValue(target)
	}

	return Model{
		orch:   orch,
		target: target,
		input:  ti,
		status: "press s to start a sweep",
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(orch *scanner.Orchestrator, target string) error {
	p := tea.NewProgram(newModel(orch, target), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.entering {
			return m.updateInput(msg)
		}
		return m.updateNormal(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.rows = m.orch.Snapshot()
		m.stats = m.orch.Stats()
		m.rate = m.orch.RateStats()
		m.clampCursor()
		var cmd tea.Cmd
		if m.stats.State == scanner.StateIdle && m.stats.HostsUp > 0 && m.enriched != m.stats.Generation {
			m.enriched = m.stats.Generation
			cmd = m.enrichCmd()
		}
		return m, tea.Batch(tick(), cmd)

	case portScanMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("port scan of %s failed: %v", msg.host, msg.err)
		} else {
			m.status = fmt.Sprintf("port scan of %s finished", msg.host)
		}

	case enrichMsg:
		m.orch.MergeEnrichment(msg.data)

	case exportMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("export failed: %v", msg.err)
		} else {
			m.status = "wrote " + msg.path
		}
	}

	return m, nil
}

func (m Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit

	case "s":
		m.entering = true
		m.input.Focus()
		return m, textinput.Blink

	case "p":
		host := m.selectedIP()
		if host == "" {
			m.status = "no host selected"
			return m, nil
		}
		m.status = "scanning ports on " + host
		return m, m.portScanCmd(host)

	case "a":
		m.upOnly = !m.upOnly
		m.cursor = 0
		m.offset = 0

	case "c":
		m.orch.ClearCache()
		m.status = "port cache cleared"

	case "e":
		return m, m.exportCmd()

	case "j", "down":
		if m.cursor < len(m.visible())-1 {
			m.cursor++
		}
		m.ensureVisible()
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
		m.ensureVisible()
	case "g", "home":
		m.cursor = 0
		m.offset = 0
	case "G", "end":
		m.cursor = len(m.visible()) - 1
		if m.cursor < 0 {
			m.cursor = 0
		}
		m.ensureVisible()
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.entering = false
		m.input.Blur()
		return m, nil
	case "enter":
		m.entering = false
		m.input.Blur()
		expr := strings.TrimSpace(m.input.Value())
		if expr == "" {
			return m, nil
		}
		targets, err := scanner.ExpandTargets(expr)
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		if _, err := m.orch.StartSweep(targets, 0, 0); err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.target = expr
		m.status = fmt.Sprintf("sweeping %d hosts", len(targets))
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) portScanCmd(host string) tea.Cmd {
	orch := m.orch
	return func() tea.Msg {
		_, err := orch.RequestPortScan(context.Background(), host, 0, 0, 0)
		return portScanMsg{host: host, err: err}
	}
}

func (m Model) enrichCmd() tea.Cmd {
	up := make([]string, 0, len(m.rows))
	for _, r := range m.rows {
		if r.Reachable {
			up = append(up, r.IP)
		}
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return enrichMsg{data: resolve.Enrich(ctx, up)}
	}
}

func (m Model) exportCmd() tea.Cmd {
	rows := make([]scanner.HostResult, len(m.rows))
	copy(rows, m.rows)
	includeDown := !m.upOnly
	return func() tea.Msg {
		path := fmt.Sprintf("netsweep-%s.csv", time.Now().Format("20060102-150405"))
		f, err := os.Create(path)
		if err != nil {
			return exportMsg{err: err}
		}
		defer f.Close()
		if err := export.WriteCSV(f, rows, export.Options{IncludeDown: includeDown}); err != nil {
			return exportMsg{err: err}
		}
		return exportMsg{path: path}
	}
}

// visible returns the rows currently shown, honoring the up-only filter.
func (m Model) visible() []scanner.HostResult {
	if !m.upOnly {
		return m.rows
	}
	out := make([]scanner.HostResult, 0, len(m.rows))
	for _, r := range m.rows {
		if r.Reachable {
			out = append(out, r)
		}
	}
	return out
}

func (m Model) selectedIP() string {
	vis := m.visible()
	if m.cursor < 0 || m.cursor >= len(vis) {
		return ""
	}
	return vis[m.cursor].IP
}

func (m *Model) clampCursor() {
	n := len(m.visible())
	if n == 0 {
		m.cursor = 0
		m.offset = 0
		return
	}
	if m.cursor >= n {
		m.cursor = n - 1
	}
	m.ensureVisible()
}

func (m *Model) ensureVisible() {
	vis := m.tableRows()
	if vis < 1 {
		vis = 1
	}
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+vis {
		m.offset = m.cursor - vis + 1
	}
}

// tableRows returns how many host rows fit between the header block and
// the port panel.
func (m Model) tableRows() int {
	chrome := 4 + portPanelHeight + 2
	rows := m.height - chrome
	if rows < 3 {
		rows = 3
	}
	return rows
}

const portPanelHeight = 6

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	w := m.width
	if w < 60 {
		w = 100
	}

	var b strings.Builder
	m.renderHeader(&b)
	m.renderColHeader(&b, w)
	m.renderTable(&b, w)
	m.renderPortPanel(&b, w)
	m.renderFooter(&b, w)
	return b.String()
}

func (m Model) renderHeader(b *strings.Builder) {
	title := styleTitle.Render("netsweep")
	state := m.stats.State
	if state == "" {
		state = scanner.StateIdle
	}

	meta := fmt.Sprintf("  %s  gen %d  %d/%d done  %d up",
		state, m.stats.Generation, m.stats.HostsDone, m.stats.HostsTotal, m.stats.HostsUp)
	if m.stats.StaleDropped > 0 {
		meta += fmt.Sprintf("  stale %d", m.stats.StaleDropped)
	}

	rateLine := "rate: unlimited"
	if m.rate.Rate > 0 {
		rateLine = fmt.Sprintf("rate: %.0f/s burst %.0f tokens %.1f throttled %d",
			m.rate.Rate, m.rate.Burst, m.rate.Tokens, m.rate.Throttled)
	}

	b.WriteString(" " + title + styleDim.Render(meta) + "\n")
	if m.entering {
		b.WriteString(" target: " + m.input.View() + "\n")
	} else {
		b.WriteString(" " + styleDim.Render(rateLine) + "\n")
	}
}

func (m Model) renderColHeader(b *strings.Builder, w int) {
	line := fmt.Sprintf(" %-16s %-6s %-10s %-24s %-20s %s",
		"IP", "STATE", "LATENCY", "HOSTNAME", "MAC", "PORTS")
	b.WriteString(styleHeader.Render(trunc(line, w)) + "\n")
	b.WriteString(styleDim.Render(" "+strings.Repeat("─", w-2)) + "\n")
}

func (m Model) renderTable(b *strings.Builder, w int) {
	vis := m.visible()
	n := m.tableRows()

	end := m.offset + n
	if end > len(vis) {
		end = len(vis)
	}

	for i := m.offset; i < end; i++ {
		r := vis[i]

		state := "down"
		if r.Reachable {
			state = "up"
		}
		latency := ""
		if r.HasLatency {
			latency = fmt.Sprintf("%.2f ms", float64(r.Latency)/float64(time.Millisecond))
		}
		ports := m.portSummary(r.IP)

		line := fmt.Sprintf(" %-16s %-6s %-10s %-24s %-20s %s",
			r.IP, state, latency, trunc(r.Hostname, 24), r.MAC, ports)

		switch {
		case i == m.cursor:
			b.WriteString(styleCursor.Render(trunc(line, w)) + "\n")
		case r.Reachable:
			b.WriteString(styleUp.Render(trunc(line, w)) + "\n")
		default:
			b.WriteString(styleDown.Render(trunc(line, w)) + "\n")
		}
	}
	for i := end - m.offset; i < n; i++ {
		b.WriteString(styleDim.Render(" ~") + "\n")
	}
}

func (m Model) portSummary(ip string) string {
	res, hit, inFlight := m.orch.PeekPortScan(ip)
	switch {
	case inFlight:
		return "scanning..."
	case !hit:
		return ""
	case len(res.OpenPorts) == 0:
		return "none open"
	default:
		return export.FormatPortRanges(res.OpenPorts)
	}
}

func (m Model) renderPortPanel(b *strings.Builder, w int) {
	b.WriteString(styleDim.Render(" "+strings.Repeat("─", w-2)) + "\n")

	ip := m.selectedIP()
	if ip == "" {
		pad(b, portPanelHeight-1)
		return
	}

	res, hit, inFlight := m.orch.PeekPortScan(ip)
	header := " " + ip
	if age, ok := m.orch.CacheAge(ip); ok {
		header += styleDim.Render(fmt.Sprintf("  scanned %s ago", age.Truncate(time.Second)))
	}
	b.WriteString(header + "\n")

	lines := 1
	switch {
	case inFlight:
		b.WriteString(styleStatus.Render("   port scan in progress") + "\n")
		lines++
	case !hit:
		b.WriteString(styleDim.Render("   no port data, press p to scan") + "\n")
		lines++
	case len(res.OpenPorts) == 0:
		b.WriteString(styleDim.Render("   no open ports") + "\n")
		lines++
	default:
		for _, p := range res.OpenPorts {
			if lines >= portPanelHeight-1 {
				b.WriteString(styleDim.Render(fmt.Sprintf("   ... %d more", len(res.OpenPorts)-(lines-1))) + "\n")
				lines++
				break
			}
			name := res.ServiceNames[p]
			if name == "" {
				name = "-"
			}
			b.WriteString(stylePorts.Render(fmt.Sprintf("   %5d/tcp  %s", p, name)) + "\n")
			lines++
		}
	}
	pad(b, portPanelHeight-1-lines)
}

func (m Model) renderFooter(b *strings.Builder, w int) {
	if m.status != "" {
		b.WriteString(styleStatus.Render(trunc(" "+m.status, w)) + "\n")
	} else {
		b.WriteString("\n")
	}
	help := " s:sweep  p:ports  a:up-only  c:clear cache  e:export  jk:move  q:quit"
	b.WriteString(styleHelp.Render(trunc(help, w)))
}

func pad(b *strings.Builder, n int) {
	for i := 0; i < n; i++ {
		b.WriteString("\n")
	}
}

// trunc cuts s to at most w display cells, never mid-rune.
func trunc(s string, w int) string {
	if w < 2 {
		return runewidth.Truncate(s, w, "")
	}
	return runewidth.Truncate(s, w, "…")
}
