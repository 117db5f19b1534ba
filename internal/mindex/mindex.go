// Package mindex implements the main-memory (MM) tree index catalog:
// BKT, BST, VPT/MVPT, GNAT, SAT, DSACL-tree, FQ-tree, EPT, and the
// pivot-table LAESA index, all sharing one build/query contract (spec §4.3).
package mindex

import (
	"context"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// Neighbor pairs an ObjId with its distance to the query, as returned by
// KNNSearch: ascending by distance, ties broken by ObjId ascending.
type Neighbor struct {
	ID   objectdb.ObjId
	Dist float64
}

// Counters tracks the per-operation cost metrics spec §3 defines for MM
// indexes: compdist during build, plus compdist during the most recent
// query batch. The harness resets these before each query and accumulates
// afterward.
type Counters struct {
	CompDist int64
}

// BuildConfig carries the hyperparameters spec §4.3 names across the MM
// tree family: bucket capacity, depth cap, branching factor, ring step,
// pivot count, and an optional externally-supplied (HFI) pivot set that
// must be honored instead of the index's own pivot-selection heuristic.
type BuildConfig struct {
	BucketSize int
	MaxHeight  int
	Arity      int
	Step       float64
	PivotCount int
	HFIPivots  []objectdb.ObjId
	Seed       int64
}

// Index is the shared contract every MM tree (and LAESA) implements.
type Index interface {
	Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error
	RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId
	KNNSearch(q objectdb.ObjId, k int) []Neighbor
	Counters() Counters
	ResetCounters()
}

// sortNeighbors orders by ascending distance, ties by ascending ObjId —
// the ordering spec §3's "kNN result" invariant requires.
func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Dist != ns[j].Dist {
			return ns[i].Dist < ns[j].Dist
		}
		return ns[i].ID < ns[j].ID
	})
}

// sortObjIds orders a range-query result for deterministic test
// comparison. Range results are conceptually unordered sets (spec §3);
// sorting only matters for tests, never for semantics.
func sortObjIds(ids []objectdb.ObjId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
