package progressui

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// PlainRenderer prints one line per progress update, suitable for CI
// logs and piped output.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors int
	warns  int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

func (r *PlainRenderer) Start(ctx context.Context) error { return nil }

func (r *PlainRenderer) UpdateProgress(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case event.Total > 0:
		fmt.Fprintf(r.out, "[%s] %s/%s %d/%d - %s\n",
			event.Stage, event.Index, event.Dataset, event.Current, event.Total, event.Message)
	default:
		fmt.Fprintf(r.out, "[%s] %s/%s - %s\n", event.Stage, event.Index, event.Dataset, event.Message)
	}
}

func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
		r.warns++
	} else {
		r.errors++
	}
	fmt.Fprintf(r.out, "%s: %s/%s: %v\n", prefix, event.Index, event.Dataset, event.Err)
}

func (r *PlainRenderer) Complete(stats Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "Complete: %d indexes x %d datasets, %d records in %s",
		stats.Indexes, stats.Datasets, stats.Records, stats.Duration.Round(millisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	fmt.Fprintln(r.out)
}

func (r *PlainRenderer) Stop() error { return nil }

const millisecond = 1000000
