package browse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/store"
)

const loadTimeout = 30 * time.Second

var errCancelled = errors.New("cancelled")

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	loadedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// Source is the read side of the store the browser loads from.
type Source interface {
	ListJobs(ctx context.Context, f store.JobFilter) ([]model.Job, error)
	ListSignals(ctx context.Context, f store.SignalFilter) ([]model.Signal, error)
}

// Query selects what the browser loads.
type Query struct {
	Limit     int
	MinScore  int
	Threshold int
}

type jobsLoadedMsg struct {
	jobs []model.Job
	err  error
}

type signalsLoadedMsg struct {
	signals []model.Signal
	err     error
}

// loaderModel loads jobs, then signals, reporting each step as it lands.
type loaderModel struct {
	ctx      context.Context
	src      Source
	query    Query
	spinner  spinner.Model
	data     Data
	jobsDone bool
	err      error
	done     bool
}

func newLoader(ctx context.Context, src Source, q Query) loaderModel {
	return loaderModel{
		ctx:     ctx,
		src:     src,
		query:   q,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		data:    Data{Threshold: q.Threshold},
	}
}

func (m loaderModel) Init() tea.Cmd {
	return tea.Batch(m.loadJobs(), m.spinner.Tick)
}

func (m loaderModel) loadJobs() tea.Cmd {
	ctx, src, q := m.ctx, m.src, m.query
	return func() tea.Msg {
		jobs, err := src.ListJobs(ctx, store.JobFilter{Limit: q.Limit, MinScore: q.MinScore})
		return jobsLoadedMsg{jobs: jobs, err: err}
	}
}

func (m loaderModel) loadSignals() tea.Cmd {
	ctx, src, q := m.ctx, m.src, m.query
	return func() tea.Msg {
		signals, err := src.ListSignals(ctx, store.SignalFilter{Limit: q.Limit})
		return signalsLoadedMsg{signals: signals, err: err}
	}
}

func (m loaderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case jobsLoadedMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("load jobs: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.data.Jobs = msg.jobs
		m.jobsDone = true
		return m, m.loadSignals()
	case signalsLoadedMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("load signals: %w", msg.err)
		} else {
			m.data.Signals = msg.signals
		}
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = errCancelled
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m loaderModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	if !m.jobsDone {
		if m.query.MinScore > 0 {
			fmt.Fprintf(&b, "%s Loading jobs scoring %d+...\n", m.spinner.View(), m.query.MinScore)
		} else {
			fmt.Fprintf(&b, "%s Loading jobs...\n", m.spinner.View())
		}
		return b.String()
	}
	fmt.Fprintf(&b, "%s %d jobs\n", loadedStyle.Render("✓"), len(m.data.Jobs))
	fmt.Fprintf(&b, "%s Loading signals...\n", m.spinner.View())
	return b.String()
}

// Load reads jobs and signals from src with an inline progress display.
func Load(src Source, q Query) (Data, error) {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	result, err := tea.NewProgram(newLoader(ctx, src, q)).Run()
	if err != nil {
		return Data{}, err
	}
	final := result.(loaderModel)
	return final.data, final.err
}
