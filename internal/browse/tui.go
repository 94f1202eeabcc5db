// Package browse is the interactive terminal view over stored jobs and
// signals.
package browse

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/scorer"
)

// Lines per item in a list pane (title + subtitle + blank separator).
const itemHeight = 3

const (
	paneJobs = iota
	paneSignals
)

type viewState int

const (
	viewList viewState = iota
	viewDetail
)

var (
	activeBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("39"))

	inactiveBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	activeHeaderStyle   = headerStyle.Foreground(lipgloss.Color("39"))
	inactiveHeaderStyle = headerStyle.Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))

	itemTitleStyle    = lipgloss.NewStyle().Bold(true)
	itemSubtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	selectedTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("24"))

	selectedSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Background(lipgloss.Color("24"))

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Width(16)

	detailValueStyle = lipgloss.NewStyle()

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				MarginBottom(1)

	dividerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	bodyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	positiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	negativeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Explainer returns the per-factor score contributions for a job.
type Explainer interface {
	Breakdown(job model.Job) []scorer.Factor
}

// Data is what the browser shows.
type Data struct {
	Jobs      []model.Job
	Signals   []model.Signal
	Threshold int
}

// openURL opens url in the default system browser, fire-and-forget.
var openURL = func(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

type browseModel struct {
	jobs       []model.Job
	signals    []model.Signal
	threshold  int
	explainer  Explainer
	panes      [2]viewport.Model
	cursors    [2]int
	activePane int
	width      int
	height     int
	ready      bool

	view            viewState
	detailViewport  viewport.Model
	showDescription bool
}

func newModel(d Data, ex Explainer) browseModel {
	return browseModel{jobs: d.Jobs, signals: d.Signals, threshold: d.Threshold, explainer: ex}
}

func (m browseModel) Init() tea.Cmd {
	return nil
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		if m.view == viewDetail {
			m.detailViewport.Width = m.width - 4
			m.detailViewport.Height = m.height - 4
			m.detailViewport.SetContent(m.renderDetail())
		}
		return m, nil

	case tea.KeyMsg:
		if m.view == viewDetail {
			return m.updateDetailView(msg)
		}
		return m.updateListView(msg)
	}
	return m, nil
}

func (m browseModel) updateListView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	case "tab", "left", "right", "h", "l":
		m.activePane = 1 - m.activePane
		m.recalcContent()
		return m, nil
	case "up", "k":
		m.moveCursor(-1)
		return m, nil
	case "down", "j":
		m.moveCursor(1)
		return m, nil
	case "g", "home":
		m.moveCursor(-m.cursors[m.activePane])
		return m, nil
	case "G", "end":
		m.moveCursor(m.paneLen(m.activePane))
		return m, nil
	case "enter":
		return m.openDetailView()
	}

	var cmd tea.Cmd
	m.panes[m.activePane], cmd = m.panes[m.activePane].Update(msg)
	return m, cmd
}

func (m browseModel) updateDetailView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "backspace":
		m.view = viewList
		return m, nil
	case "o":
		if job, ok := m.selectedJob(); ok && job.URL != "" {
			openURL(job.URL)
		}
		return m, nil
	case "r":
		if job, ok := m.selectedJob(); ok && job.Description != "" {
			m.showDescription = !m.showDescription
			m.detailViewport.SetContent(m.renderDetail())
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.detailViewport, cmd = m.detailViewport.Update(msg)
	return m, cmd
}

func (m *browseModel) moveCursor(delta int) {
	p := m.activePane
	m.cursors[p] = clamp(m.cursors[p]+delta, 0, max(m.paneLen(p)-1, 0))
	m.recalcContent()
	m.ensureCursorVisible()
}

func (m browseModel) paneLen(p int) int {
	if p == paneJobs {
		return len(m.jobs)
	}
	return len(m.signals)
}

func (m *browseModel) ensureCursorVisible() {
	vp := &m.panes[m.activePane]
	top := m.cursors[m.activePane] * itemHeight
	bottom := top + itemHeight - 1

	if top < vp.YOffset {
		vp.SetYOffset(top)
	} else if bottom >= vp.YOffset+vp.Height {
		vp.SetYOffset(bottom - vp.Height + 1)
	}
}

func (m browseModel) selectedJob() (model.Job, bool) {
	if m.activePane != paneJobs || len(m.jobs) == 0 {
		return model.Job{}, false
	}
	return m.jobs[m.cursors[paneJobs]], true
}

func (m browseModel) selectedSignal() (model.Signal, bool) {
	if m.activePane != paneSignals || len(m.signals) == 0 {
		return model.Signal{}, false
	}
	return m.signals[m.cursors[paneSignals]], true
}

func (m browseModel) openDetailView() (tea.Model, tea.Cmd) {
	if m.paneLen(m.activePane) == 0 {
		return m, nil
	}
	m.view = viewDetail
	m.showDescription = false
	m.detailViewport = viewport.New(max(m.width-4, 20), max(m.height-4, 5))
	m.detailViewport.SetContent(m.renderDetail())
	return m, nil
}

func (m *browseModel) recalcLayout() {
	// 2 border chars per pane + 1 gap between panes.
	paneWidth := max((m.width-5)/2, 20)
	// Header + border top/bottom + status bar.
	paneHeight := max(m.height-4, 5)

	if !m.ready {
		m.panes[paneJobs] = viewport.New(paneWidth, paneHeight)
		m.panes[paneSignals] = viewport.New(paneWidth, paneHeight)
		m.ready = true
	} else {
		for i := range m.panes {
			m.panes[i].Width = paneWidth
			m.panes[i].Height = paneHeight
		}
	}
	m.recalcContent()
}

func (m *browseModel) recalcContent() {
	m.panes[paneJobs].SetContent(renderJobs(m.jobs, m.cursors[paneJobs], m.activePane == paneJobs))
	m.panes[paneSignals].SetContent(renderSignals(m.signals, m.cursors[paneSignals], m.activePane == paneSignals))
}

func (m browseModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.view == viewDetail {
		return m.viewDetail()
	}
	return m.viewList()
}

func (m browseModel) viewList() string {
	paneWidth := m.panes[paneJobs].Width
	headers := [2]string{
		fmt.Sprintf(" Jobs (%d)", len(m.jobs)),
		fmt.Sprintf(" Signals (%d)", len(m.signals)),
	}

	var renderedHeaders, renderedPanes [2]string
	for i := range m.panes {
		hs, bs := inactiveHeaderStyle, inactiveBorderStyle
		if i == m.activePane {
			hs, bs = activeHeaderStyle, activeBorderStyle
		}
		renderedHeaders[i] = lipgloss.NewStyle().Width(paneWidth + 2).Render(hs.Render(headers[i]))
		renderedPanes[i] = bs.Width(paneWidth).Render(m.panes[i].View())
	}

	headerRow := lipgloss.JoinHorizontal(lipgloss.Top, renderedHeaders[0], " ", renderedHeaders[1])
	panes := lipgloss.JoinHorizontal(lipgloss.Top, renderedPanes[0], " ", renderedPanes[1])

	eligible := 0
	for _, j := range m.jobs {
		if j.AlertState(m.threshold) == model.AlertEligible {
			eligible++
		}
	}
	statusText := fmt.Sprintf(" %d jobs | %d awaiting alert | %d signals    Tab switch  ↑/↓ cursor  Enter detail  q quit",
		len(m.jobs), eligible, len(m.signals))
	statusBar := statusBarStyle.Width(m.width).Render(statusText)

	return headerRow + "\n" + panes + "\n" + statusBar
}

func (m browseModel) viewDetail() string {
	title := "Signal Details"
	statusText := " esc/backspace back  ↑/↓ scroll  q quit"
	if job, ok := m.selectedJob(); ok {
		title = "Job Details"
		statusText = " o open URL  esc/backspace back  ↑/↓ scroll  q quit"
		if job.Description != "" {
			statusText = " o open URL  r desc  esc/backspace back  ↑/↓ scroll  q quit"
		}
	}

	content := activeBorderStyle.Width(max(m.width-2, 20)).Render(m.detailViewport.View())
	statusBar := statusBarStyle.Width(m.width).Render(statusText)
	return detailTitleStyle.Render(title) + "\n" + content + "\n" + statusBar
}

func (m browseModel) renderDetail() string {
	if job, ok := m.selectedJob(); ok {
		return m.renderJob(job)
	}
	if sig, ok := m.selectedSignal(); ok {
		return renderSignal(sig)
	}
	return ""
}

func (m browseModel) renderJob(j model.Job) string {
	var b strings.Builder
	addField := fieldWriter(&b)

	addField("Title", j.Title)
	addField("Company", j.Company)
	addField("Location", j.Location)
	addField("Score", fmt.Sprintf("%d", j.Score))
	addField("Source", j.Source)
	addField("Job ID", j.ID)
	if len(j.Stack) > 0 {
		addField("Stack", strings.Join(j.Stack, ", "))
	}

	b.WriteByte('\n')
	if j.PostedAt != nil {
		addField("Posted At", fmtTime(*j.PostedAt))
	}
	addField("First Seen", fmtTime(j.FirstSeen))
	addField("Last Seen", fmtTime(j.LastSeen))

	b.WriteByte('\n')
	addField("Alert", string(j.AlertState(m.threshold)))
	if j.AlertedAt != nil {
		addField("Alerted At", fmtTime(*j.AlertedAt))
	}
	if j.AlertAttempts > 0 {
		addField("Attempts", fmt.Sprintf("%d", j.AlertAttempts))
	}
	addField("Last Error", j.LastAlertError)

	b.WriteByte('\n')
	addField("Job URL", j.URL)

	wrapWidth := max(m.width-8, 20)
	if m.explainer != nil {
		b.WriteByte('\n')
		b.WriteString(divider("── Score Breakdown ", wrapWidth) + "\n\n")
		factors := m.explainer.Breakdown(j)
		if len(factors) == 0 {
			b.WriteString(hintStyle.Render("  no contributing factors") + "\n")
		}
		for _, f := range factors {
			st := positiveStyle
			if f.Points < 0 {
				st = negativeStyle
			}
			b.WriteString(detailLabelStyle.Render("  "+f.Name))
			b.WriteString(st.Render(fmt.Sprintf("%+d", f.Points)))
			b.WriteByte('\n')
		}
	}

	if j.Description != "" {
		b.WriteByte('\n')
		if m.showDescription {
			b.WriteString(divider("── Job Description ", wrapWidth) + "\n\n")
			b.WriteString(bodyStyle.Render(wordWrap(j.Description, wrapWidth)) + "\n")
		} else {
			b.WriteString(hintStyle.Render("  press r to read job description") + "\n")
		}
	}
	return b.String()
}

func renderSignal(s model.Signal) string {
	var b strings.Builder
	addField := fieldWriter(&b)

	addField("Type", strings.ToUpper(string(s.Type)))
	addField("Dimension", string(s.Dimension))
	addField("Value", s.DimensionValue)
	addField("Strength", fmt.Sprintf("%d", s.Score))
	addField("Window", fmt.Sprintf("%s (%s)", s.Window, s.WindowSpan))

	b.WriteByte('\n')
	addField("Bucket Start", fmtTime(s.BucketStart))
	addField("Detected At", fmtTime(s.DetectedAt))

	b.WriteByte('\n')
	addField("Count", fmt.Sprintf("%d", s.Count))
	addField("Mean", fmt.Sprintf("%.2f", s.Mean))
	addField("Stddev", fmt.Sprintf("%.2f", s.Stddev))
	addField("Signal ID", s.ID)
	return b.String()
}

func fieldWriter(b *strings.Builder) func(label, value string) {
	return func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label))
		b.WriteString(detailValueStyle.Render(value))
		b.WriteByte('\n')
	}
}

func divider(label string, width int) string {
	return dividerStyle.Render(label + strings.Repeat("─", max(width-len(label), 3)))
}

func renderJobs(jobs []model.Job, cursor int, active bool) string {
	if len(jobs) == 0 {
		return "  (no jobs)"
	}
	var b strings.Builder
	for i, j := range jobs {
		posted := "n/a"
		if j.PostedAt != nil {
			posted = j.PostedAt.Format("2006-01-02")
		}
		renderItem(&b, active && i == cursor,
			fmt.Sprintf("%3d  %s", j.Score, j.Title),
			fmt.Sprintf("     %s · %s · %s", j.Company, j.Location, posted))
		if i < len(jobs)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func renderSignals(signals []model.Signal, cursor int, active bool) string {
	if len(signals) == 0 {
		return "  (no signals)"
	}
	var b strings.Builder
	for i, s := range signals {
		renderItem(&b, active && i == cursor,
			fmt.Sprintf("%-7s %s", strings.ToUpper(string(s.Type)), s.DimensionValue),
			fmt.Sprintf("        %s · %s · strength %d", s.Dimension, s.Window, s.Score))
		if i < len(signals)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func renderItem(b *strings.Builder, selected bool, title, subtitle string) {
	titleSt, subtitleSt, prefix := itemTitleStyle, itemSubtitleStyle, "  "
	if selected {
		titleSt, subtitleSt, prefix = selectedTitleStyle, selectedSubtitleStyle, "> "
	}
	b.WriteString(prefix)
	b.WriteString(titleSt.Render(title))
	b.WriteByte('\n')
	b.WriteString(prefix)
	b.WriteString(subtitleSt.Render(subtitle))
	b.WriteByte('\n')
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04 MST")
}

func wordWrap(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) <= width {
			line += " " + w
		} else {
			lines = append(lines, line)
			line = w
		}
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Run launches the full-screen browser. explainer may be nil, in which case
// the score breakdown is omitted.
func Run(d Data, explainer Explainer) error {
	p := tea.NewProgram(newModel(d, explainer), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
