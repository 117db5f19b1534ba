package progressui

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const colorLime = "154"

// TUIRenderer is an interactive bubbletea renderer for attached terminals.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Returns an error if cfg.Output
// is not a TTY so the caller falls back to the plain renderer.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("progressui: output is not a TTY")
	}
	return &TUIRenderer{cfg: cfg, done: make(chan struct{})}, nil
}

func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	m := newModel()
	if r.cfg.NoColor || DetectNoColor() {
		m.noColor = true
	}

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(m, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

func (r *TUIRenderer) UpdateProgress(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(progressMsg(event))
	}
}

func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

func (r *TUIRenderer) Complete(stats Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program == nil {
		return nil
	}
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type progressMsg Event
type errorMsg ErrorEvent
type completeMsg Stats

type model struct {
	spinner     spinner.Model
	progressBar progress.Model
	noColor     bool
	complete    bool
	quitting    bool
	stats       Stats
	errors      int
	warnings    int
	last        Event
}

func newModel() *model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(colorLime))

	p := progress.New(
		progress.WithSolidFill(colorLime),
		progress.WithWidth(40),
	)

	return &model{spinner: s, progressBar: p}
}

func (m *model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 10 {
			m.progressBar.Width = 10
		}

	case progressMsg:
		m.last = Event(msg)
		if m.last.Total > 0 {
			cmd := m.progressBar.SetPercent(float64(m.last.Current) / float64(m.last.Total))
			return m, cmd
		}
		return m, nil

	case errorMsg:
		if msg.IsWarn {
			m.warnings++
		} else {
			m.errors++
		}
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = Stats(msg)
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		model, cmd := m.progressBar.Update(msg)
		m.progressBar = model.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m *model) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return fmt.Sprintf("Complete: %d indexes x %d datasets, %d records in %s (%d errors, %d warnings)\n",
			m.stats.Indexes, m.stats.Datasets, m.stats.Records,
			m.stats.Duration.Round(time.Millisecond), m.stats.Errors, m.stats.Warnings)
	}
	label := fmt.Sprintf("%s %s  %s/%s  %s",
		m.spinner.View(), m.last.Stage, m.last.Index, m.last.Dataset, m.last.Message)
	return fmt.Sprintf("%s\n%s\n", label, m.progressBar.View())
}
