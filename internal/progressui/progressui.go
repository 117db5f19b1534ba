// Package progressui reports benchmark harness progress to the terminal:
// a plain line-based renderer for CI/pipes, and an interactive
// bubbletea/lipgloss renderer for attached terminals, selected the same
// way the teacher's internal/ui package picks between its TUI and plain
// renderers.
package progressui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage names one phase of a benchmark run.
type Stage int

const (
	// StageLoadingDataset is loading the ObjectDB and sidecar files.
	StageLoadingDataset Stage = iota
	// StageBuilding is constructing one index over one dataset.
	StageBuilding
	// StageQuerying is running the MRQ/MkNN workload sweep.
	StageQuerying
	// StageComplete indicates the run finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageLoadingDataset:
		return "Loading"
	case StageBuilding:
		return "Building"
	case StageQuerying:
		return "Querying"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Event reports progress within the current stage.
type Event struct {
	Stage   Stage
	Index   string
	Dataset string
	Current int
	Total   int
	Message string
}

// ErrorEvent reports a skipped tuple or aborted index run (spec §4.1/§7's
// failure policy: log a warning and continue, never abort the whole run).
type ErrorEvent struct {
	Index   string
	Dataset string
	Err     error
	IsWarn  bool
}

// Stats summarizes a completed run.
type Stats struct {
	Indexes  int
	Datasets int
	Records  int
	Duration time.Duration
	Errors   int
	Warnings int
}

// Renderer displays harness progress. UpdateProgress/AddError/Complete
// must be safe to call from the harness's single execution goroutine;
// they are not expected to be called concurrently.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event Event)
	AddError(event ErrorEvent)
	Complete(stats Stats)
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
}

// NewConfig builds a Config for output with sensible defaults.
func NewConfig(output io.Writer) Config {
	return Config{Output: output}
}

// New picks a TUI renderer on an attached terminal and a plain renderer
// otherwise (CI, pipes, --no-tui), exactly the selection rule the
// teacher's internal/ui.New applies.
func New(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is an attached terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectCI reports whether a known CI environment variable is set.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"} {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}
