package harness

import (
	"context"
	"fmt"
	"os"

	"github.com/Aman-CERP/metricbench/internal/config"
	"github.com/Aman-CERP/metricbench/internal/mindex"
	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/smindex"
)

// mmRunner adapts an in-memory mindex.Index to the harness's Runner
// contract. MM indexes never page to disk, so PageReads is always 0.
type mmRunner struct {
	idx mindex.Index
}

func (r mmRunner) RangeSearch(q objectdb.ObjId, radius float64) { r.idx.RangeSearch(q, radius) }
func (r mmRunner) KNNSearch(q objectdb.ObjId, k int)             { r.idx.KNNSearch(q, k) }
func (r mmRunner) ResetCounters()                                { r.idx.ResetCounters() }
func (r mmRunner) CompDist() int64                                { return r.idx.Counters().CompDist }
func (r mmRunner) PageReads() int64                               { return 0 }
func (r mmRunner) Close() error                                   { return nil }

// smRunner adapts a paged smindex.Index, which owns RAF-backed storage
// and must be Closed to release its file handles and advisory locks.
type smRunner struct {
	idx smindex.Index
}

func (r smRunner) RangeSearch(q objectdb.ObjId, radius float64) { r.idx.RangeSearch(q, radius) }
func (r smRunner) KNNSearch(q objectdb.ObjId, k int)             { r.idx.KNNSearch(q, k) }
func (r smRunner) ResetCounters()                                { r.idx.ResetCounters() }
func (r smRunner) CompDist() int64                                { return r.idx.Counters().CompDist }
func (r smRunner) PageReads() int64                               { return r.idx.Counters().PageReads }
func (r smRunner) Close() error                                   { return r.idx.Close() }

// mmBuildConfig projects the shared IndexesConfig onto mindex.BuildConfig.
func mmBuildConfig(cfg config.IndexesConfig) mindex.BuildConfig {
	return mindex.BuildConfig{
		BucketSize: cfg.BucketSize,
		MaxHeight:  cfg.Levels,
		Arity:      cfg.PivotCount,
		PivotCount: cfg.PivotCount,
		Seed:       cfg.Seed,
	}
}

// smBuildConfig projects the shared IndexesConfig onto smindex.BuildConfig.
func smBuildConfig(cfg config.IndexesConfig) smindex.BuildConfig {
	return smindex.BuildConfig{
		BucketSize:   cfg.BucketSize,
		NodeCapacity: cfg.NodeCapacity,
		SampleSize:   cfg.SampleSize,
		PivotCount:   cfg.PivotCount,
		Rho:          cfg.Rho,
		Levels:       cfg.Levels,
		Seed:         cfg.Seed,
	}
}

// mmFactory wraps one mindex constructor into a harness Factory. Build
// resets counters right after construction so query sweeps start from a
// clean compdist count; the build-time compdist is captured beforehand.
func mmFactory(name, category string, numPivots int, ctor func() mindex.Index, cfg config.IndexesConfig) Factory {
	return Factory{
		Name: name, Category: category, NumPivots: numPivots,
		Build: func(ctx context.Context, db objectdb.DB, _ string) (Runner, BuildStats, error) {
			idx := ctor()
			if err := idx.Build(ctx, db, mmBuildConfig(cfg)); err != nil {
				return nil, BuildStats{}, fmt.Errorf("%s: build: %w", name, err)
			}
			stats := BuildStats{CompDist: idx.Counters().CompDist}
			idx.ResetCounters()
			return mmRunner{idx: idx}, stats, nil
		},
	}
}

// smFactory wraps one smindex constructor into a harness Factory. Build
// persists to path (creating its parent directory) and captures both the
// build-time compdist and the pages written while constructing the index.
func smFactory(name, category string, numPivots int, ctor func() smindex.Index, cfg config.IndexesConfig) Factory {
	return Factory{
		Name: name, Category: category, NumPivots: numPivots,
		Build: func(ctx context.Context, db objectdb.DB, path string) (Runner, BuildStats, error) {
			if err := os.MkdirAll(parentDir(path), 0o755); err != nil {
				return nil, BuildStats{}, fmt.Errorf("%s: mkdir: %w", name, err)
			}
			idx := ctor()
			if err := idx.Build(ctx, db, smBuildConfig(cfg), path); err != nil {
				return nil, BuildStats{}, fmt.Errorf("%s: build: %w", name, err)
			}
			c := idx.Counters()
			stats := BuildStats{CompDist: c.CompDist, PageWrites: c.PageWrites}
			idx.ResetCounters()
			return smRunner{idx: idx}, stats, nil
		},
	}
}

func parentDir(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	return path[:i]
}

// mmOrder fixes MM catalog iteration order so the harness's output record
// ordering is stable across runs (map iteration order is not).
var mmOrder = []string{"bkt", "bst", "vpt", "mvpt", "gnat", "sat", "dsacl", "fqt", "ept", "laesa"}

// smOrder fixes SM catalog iteration order.
var smOrder = []string{"lc", "mtree", "pmtree", "egnat", "dindex", "omnirtree", "spbtree", "mindexstar", "mbptree", "cpt"}

// mmCatalog is every registered MM tree index constructor, keyed by its
// catalog name. "mvpt" reuses NewMVPT (VPT generalized to multiple
// vantage points per node) alongside plain "vpt".
var mmCatalog = map[string]func() mindex.Index{
	"bkt":   func() mindex.Index { return mindex.NewBKT() },
	"bst":   func() mindex.Index { return mindex.NewBST() },
	"vpt":   func() mindex.Index { return mindex.NewVPT() },
	"mvpt":  func() mindex.Index { return mindex.NewMVPT() },
	"gnat":  func() mindex.Index { return mindex.NewGNAT() },
	"sat":   func() mindex.Index { return mindex.NewSAT() },
	"dsacl": func() mindex.Index { return mindex.NewDSACL() },
	"fqt":   func() mindex.Index { return mindex.NewFQT() },
	"ept":   func() mindex.Index { return mindex.NewEPT() },
	"laesa": func() mindex.Index { return mindex.NewLAESA() },
}

// smCatalog is every registered SM index constructor, keyed by name.
var smCatalog = map[string]func() smindex.Index{
	"lc":         func() smindex.Index { return smindex.NewLC() },
	"mtree":      func() smindex.Index { return smindex.NewMTree() },
	"pmtree":     func() smindex.Index { return smindex.NewPMTree() },
	"egnat":      func() smindex.Index { return smindex.NewEGNAT() },
	"dindex":     func() smindex.Index { return smindex.NewDIndex() },
	"omnirtree":  func() smindex.Index { return smindex.NewOmniRTree() },
	"spbtree":    func() smindex.Index { return smindex.NewSPBTree() },
	"mindexstar": func() smindex.Index { return smindex.NewMIndexStar() },
	"mbptree":    func() smindex.Index { return smindex.NewMBPTree() },
	"cpt":        func() smindex.Index { return smindex.NewCPT() },
}

// mmCategory names the harness output category for each MM index (spec
// §4.1's "category (MM/HFI/DM/D)"). GNAT, FQ-tree, EPT, and LAESA are
// pivot/distance-matrix families (DM); DSACL-tree is reported as HFI;
// everything else is a plain MM partition tree.
var mmCategory = map[string]string{
	"bkt":   "MM",
	"bst":   "MM",
	"vpt":   "MM",
	"mvpt":  "MM",
	"gnat":  "DM",
	"sat":   "MM",
	"dsacl": "HFI",
	"fqt":   "DM",
	"ept":   "DM",
	"laesa": "DM",
}

// smCategory names the harness output category for each SM index. D-index
// is the sole hash-partitioned "D" family member; the rest are disk-paged
// tree/pivot families (DM).
var smCategory = map[string]string{
	"lc":         "DM",
	"mtree":      "DM",
	"pmtree":     "DM",
	"egnat":      "DM",
	"dindex":     "D",
	"omnirtree":  "DM",
	"spbtree":    "DM",
	"mindexstar": "DM",
	"mbptree":    "DM",
	"cpt":        "DM",
}

// DefaultFactories builds the full index-factory list the harness drives,
// filtered by cfg.MM/cfg.SM name lists (an empty list means "all"). The
// HNSW baseline is always appended under category "ANN" unless explicitly
// excluded via cfg.MM.
func DefaultFactories(cfg config.IndexesConfig) []Factory {
	var out []Factory

	for _, name := range selected(cfg.MM, mmNames()) {
		ctor, ok := mmCatalog[name]
		if !ok {
			continue
		}
		out = append(out, mmFactory(name, mmCategory[name], cfg.PivotCount, ctor, cfg))
	}

	if includesHNSW(cfg.MM) {
		out = append(out, mmFactory("hnsw", mindex.Category, cfg.PivotCount,
			func() mindex.Index { return mindex.NewHNSWBaseline() }, cfg))
	}

	for _, name := range selected(cfg.SM, smNames()) {
		ctor, ok := smCatalog[name]
		if !ok {
			continue
		}
		out = append(out, smFactory(name, smCategory[name], cfg.PivotCount, ctor, cfg))
	}

	return out
}

func mmNames() []string { return mmOrder }

func smNames() []string { return smOrder }

// includesHNSW reports whether the hnsw baseline should run: it's
// included whenever the filter list is empty (run everything) or
// explicitly names "hnsw".
func includesHNSW(filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, n := range filter {
		if n == "hnsw" {
			return true
		}
	}
	return false
}

// selected intersects filter with all, preserving all's order; an empty
// filter means "every catalog entry".
func selected(filter, all []string) []string {
	if len(filter) == 0 {
		return all
	}
	want := make(map[string]bool, len(filter))
	for _, f := range filter {
		want[f] = true
	}
	var out []string
	for _, name := range all {
		if want[name] {
			out = append(out, name)
		}
	}
	return out
}
