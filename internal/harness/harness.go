// Package harness drives the cartesian product of {dataset x index
// configuration x query workload} described in spec §4.1: for each
// (dataset, index factory) it loads the dataset, builds the index once
// (timing the build and recording its compdist/pageWrites), then sweeps
// MRQ workloads over the configured selectivities and MkNN workloads
// over the configured k values, averaging per-query costs.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/metricbench/internal/config"
	amanerrors "github.com/Aman-CERP/metricbench/internal/errors"
	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/progressui"
	"github.com/Aman-CERP/metricbench/internal/resultstore"
	"github.com/Aman-CERP/metricbench/internal/sidecar"
)

// DefaultSelectivities, DefaultKValues, and DefaultPivotCounts hold the
// replicated defaults spec §4.1 names; config.NewConfig's workload
// defaults carry the same values.
var (
	DefaultSelectivities = []float64{0.02, 0.04, 0.08, 0.16, 0.32}
	DefaultKValues       = []int{5, 10, 20, 50, 100}
	DefaultPivotCounts   = []int{3, 5, 10, 15, 20}
)

// BuildSeed and QuerySeed are the fixed reproducibility seeds spec §4.1
// names: 42 for build-time randomness, 12345 for workload/query selection.
const (
	BuildSeed = 42
	QuerySeed = 12345
)

// Dataset names one ObjectDB file to benchmark against.
type Dataset struct {
	Name string
	Path string
}

// Workloads is the sweep of MRQ selectivities and MkNN k values to run
// against every (index, dataset) pair.
type Workloads struct {
	Selectivities []float64
	KValues       []int
	PivotCounts   []int
}

// Record is one benchmark output row, spec §4.1's "output record fields".
type Record struct {
	Index       string  `json:"index"`
	Dataset     string  `json:"dataset"`
	Category    string  `json:"category"`
	NumPivots   int     `json:"num_pivots,omitempty"`
	Arity       int     `json:"arity,omitempty"`
	QueryType   string  `json:"query_type"`
	Selectivity float64 `json:"selectivity,omitempty"`
	Radius      float64 `json:"radius,omitempty"`
	K           int     `json:"k,omitempty"`
	CompDists   float64 `json:"compdists"`
	TimeMs      float64 `json:"time_ms"`
	Pages       float64 `json:"pages"`
	NQueries    int     `json:"n_queries"`
	RunID       string  `json:"run_id"`
}

// Report is the full set of records produced by one Run call.
type Report struct {
	RunID   string
	Records []Record
}

// BuildStats captures the cost metrics observed while constructing one
// index, separate from the per-query counters gathered afterward.
type BuildStats struct {
	CompDist   int64
	PageWrites int64
}

// Runner is the harness-facing contract every index family (MM or SM)
// adapts to, hiding the differences between mindex.Index and
// smindex.Index (the latter persists to a path and owns a RAF) behind
// one shape the query sweep loop can drive uniformly.
type Runner interface {
	RangeSearch(q objectdb.ObjId, r float64)
	KNNSearch(q objectdb.ObjId, k int)
	ResetCounters()
	CompDist() int64
	PageReads() int64
	Close() error
}

// Factory constructs one configured index instance over a loaded
// dataset, reporting the build-time cost metrics alongside the Runner.
type Factory struct {
	Name      string
	Category  string // "MM", "HFI", "DM", "D", or "ANN"
	NumPivots int
	Arity     int
	Build     func(ctx context.Context, db objectdb.DB, path string) (Runner, BuildStats, error)
}

// Harness wires the ambient stack (config, logging, progress reporting,
// the SQLite run ledger) around the cartesian-product driver.
type Harness struct {
	Config     *config.Config
	Logger     *slog.Logger
	Renderer   progressui.Renderer
	Store      *resultstore.Store
	SidecarDir string
	IndexDir   string
	RunID      string
}

// New constructs a Harness. Any of logger/renderer/store may be nil; a
// nil logger falls back to slog.Default(), a nil renderer/store simply
// skips progress reporting/ledger persistence.
func New(cfg *config.Config, logger *slog.Logger, renderer progressui.Renderer, store *resultstore.Store, runID string) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{
		Config:     cfg,
		Logger:     logger,
		Renderer:   renderer,
		Store:      store,
		SidecarDir: cfg.Datasets.Dir,
		IndexDir:   cfg.Output.Dir,
		RunID:      runID,
	}
}

// Run implements spec §4.1's runBenchmark: datasets missing a file or a
// sidecar are logged and skipped (never abort the whole run); I/O
// failures building one index abort only that index's run.
func (h *Harness) Run(ctx context.Context, datasets []Dataset, factories []Factory, workloads Workloads) (Report, error) {
	loader := sidecar.NewLoader(h.SidecarDir)
	report := Report{RunID: h.RunID}

	if h.Renderer != nil {
		_ = h.Renderer.Start(ctx)
		defer h.Renderer.Stop()
	}

	start := time.Now()
	var errCount, warnCount int

	for _, ds := range datasets {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		h.logInfo("loading dataset", "dataset", ds.Name)
		h.progress(progressui.StageLoadingDataset, "", ds.Name, 0, 0, "loading")

		db, err := objectdb.Load(ds.Path)
		if err != nil {
			h.skip(ds.Name, ds.Name, amanerrors.New(amanerrors.ErrCodeDatasetMissing, "dataset load failed", err))
			warnCount++
			continue
		}

		set, err := loader.Load(ctx, ds.Name, workloads.PivotCounts)
		if err != nil {
			h.skip(ds.Name, ds.Name, amanerrors.New(amanerrors.ErrCodeSidecarMissing, "sidecar load failed", err))
			warnCount++
			continue
		}

		for _, f := range factories {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			default:
			}

			records, buildSkipped, queryErrs := h.runFactory(ctx, ds, db, set, f, workloads)
			report.Records = append(report.Records, records...)
			if buildSkipped {
				warnCount++
			}
			errCount += queryErrs
		}
	}

	if h.Store != nil && len(report.Records) > 0 {
		if err := h.Store.Save(ctx, toResultRows(report.Records)); err != nil {
			h.Logger.Warn("resultstore save failed", "error", err)
		}
	}

	if h.Renderer != nil {
		h.Renderer.Complete(progressui.Stats{
			Indexes:  len(factories),
			Datasets: len(datasets),
			Records:  len(report.Records),
			Duration: time.Since(start),
			Errors:   errCount,
			Warnings: warnCount,
		})
	}

	return report, nil
}

// runFactory builds one index over one dataset and runs the full MRQ/MkNN
// workload sweep against it, guarded by a circuit breaker so repeated I/O
// failures abort only this (index, dataset) pair.
func (h *Harness) runFactory(ctx context.Context, ds Dataset, db objectdb.DB, set *sidecar.Set, f Factory, workloads Workloads) (records []Record, buildSkipped bool, queryErrs int) {
	breaker := amanerrors.NewCircuitBreaker(f.Name+":"+ds.Name, amanerrors.WithMaxFailures(3))

	indexPath := filepath.Join(h.IndexDir, f.Name+"_indexes", ds.Name+"."+f.Name)

	var runner Runner
	var bstats BuildStats
	buildStart := time.Now()
	buildErr := breaker.Execute(func() error {
		r, bs, err := f.Build(ctx, db, indexPath)
		if err != nil {
			return err
		}
		runner, bstats = r, bs
		return nil
	})
	if buildErr != nil {
		h.skip(f.Name, ds.Name, amanerrors.New(amanerrors.ErrCodeBuildFailed, "index build failed", buildErr))
		return nil, true, 0
	}
	buildTime := time.Since(buildStart)
	defer runner.Close()

	h.logInfo("index built", "index", f.Name, "dataset", ds.Name,
		"build_time", buildTime,
		"build_compdist", bstats.CompDist, "build_pagewrites", bstats.PageWrites)

	queries := set.Queries
	for i, sel := range workloads.Selectivities {
		radius, ok := set.Radii[sel]
		if !ok {
			h.skip(f.Name, ds.Name, amanerrors.New(amanerrors.ErrCodeSidecarMissing,
				fmt.Sprintf("no radius for selectivity %.4f", sel), nil))
			continue
		}
		h.progress(progressui.StageQuerying, f.Name, ds.Name, i+1, len(workloads.Selectivities), "MRQ")
		records = append(records, h.runMRQ(runner, queries, sel, radius, f, ds.Name))
	}

	for i, k := range workloads.KValues {
		h.progress(progressui.StageQuerying, f.Name, ds.Name, i+1, len(workloads.KValues), "MkNN")
		records = append(records, h.runMkNN(runner, queries, k, f, ds.Name))
	}

	return records, false, queryErrs
}

func (h *Harness) runMRQ(runner Runner, queries []objectdb.ObjId, sel, radius float64, f Factory, dataset string) Record {
	var totalCompDist, totalPages int64
	var totalElapsed time.Duration
	for _, q := range queries {
		runner.ResetCounters()
		t0 := time.Now()
		runner.RangeSearch(q, radius)
		totalElapsed += time.Since(t0)
		totalCompDist += runner.CompDist()
		totalPages += runner.PageReads()
	}
	n := len(queries)
	return Record{
		Index: f.Name, Dataset: dataset, Category: f.Category,
		NumPivots: f.NumPivots, Arity: f.Arity,
		QueryType: "MRQ", Selectivity: sel, Radius: radius,
		CompDists: average(totalCompDist, n),
		TimeMs:    averageMs(totalElapsed, n),
		Pages:     average(totalPages, n),
		NQueries:  n, RunID: h.RunID,
	}
}

func (h *Harness) runMkNN(runner Runner, queries []objectdb.ObjId, k int, f Factory, dataset string) Record {
	var totalCompDist, totalPages int64
	var totalElapsed time.Duration
	for _, q := range queries {
		runner.ResetCounters()
		t0 := time.Now()
		runner.KNNSearch(q, k)
		totalElapsed += time.Since(t0)
		totalCompDist += runner.CompDist()
		totalPages += runner.PageReads()
	}
	n := len(queries)
	return Record{
		Index: f.Name, Dataset: dataset, Category: f.Category,
		NumPivots: f.NumPivots, Arity: f.Arity,
		QueryType: "MkNN", K: k,
		CompDists: average(totalCompDist, n),
		TimeMs:    averageMs(totalElapsed, n),
		Pages:     average(totalPages, n),
		NQueries:  n, RunID: h.RunID,
	}
}

func average(total int64, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(total) / float64(n)
}

func averageMs(total time.Duration, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(total.Microseconds()) / 1000.0 / float64(n)
}

func (h *Harness) skip(index, dataset string, err error) {
	h.Logger.Warn("skipping tuple", "index", index, "dataset", dataset, "error", err)
	if h.Renderer != nil {
		h.Renderer.AddError(progressui.ErrorEvent{Index: index, Dataset: dataset, Err: err, IsWarn: true})
	}
}

func (h *Harness) logInfo(msg string, args ...any) {
	h.Logger.Info(msg, args...)
}

func (h *Harness) progress(stage progressui.Stage, index, dataset string, current, total int, message string) {
	if h.Renderer == nil {
		return
	}
	h.Renderer.UpdateProgress(progressui.Event{
		Stage: stage, Index: index, Dataset: dataset,
		Current: current, Total: total, Message: message,
	})
}

func toResultRows(records []Record) []resultstore.Record {
	out := make([]resultstore.Record, len(records))
	for i, r := range records {
		out[i] = resultstore.Record{
			RunID: r.RunID, Index: r.Index, Dataset: r.Dataset, Category: r.Category,
			QueryType: r.QueryType, NumPivots: r.NumPivots, Arity: r.Arity,
			Selectivity: r.Selectivity, Radius: r.Radius, K: r.K,
			CompDists: r.CompDists, TimeMs: r.TimeMs, Pages: r.Pages, NQueries: r.NQueries,
		}
	}
	return out
}
