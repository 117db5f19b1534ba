// Package smindex implements the secondary-memory (SM) index catalog: LC,
// M-tree, PM-tree, EGNAT, D-index, OmniR-tree, SPB-tree, M-index*,
// MB+-tree, and CPT (spec §4.4-4.6). Every index persists its nodes
// through internal/raf and exposes the same build/open/query/counter
// contract.
package smindex

import (
	"context"
	"encoding/binary"
	"math"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// Neighbor pairs an ObjId with its distance to the query.
type Neighbor struct {
	ID   objectdb.ObjId
	Dist float64
}

// Counters tracks spec §4.6's last line: "All SM indexes expose the same
// counters: compDist, pageReads, pageWrites, queryTime." No index and no
// harness code sets QueryTimeµs; the harness times each query call itself.
type Counters struct {
	CompDist    int64
	PageReads   int64
	PageWrites  int64
	QueryTimeµs int64
}

// BuildConfig carries the hyperparameters spec §4.4-§4.6 name across the
// SM family.
type BuildConfig struct {
	BucketSize   int     // LC cluster size / EGNAT leaf capacity
	NodeCapacity int     // M-tree/PM-tree/OmniR/SPB fan-out; CPT page and MB+-tree block size
	SampleSize   int     // size-adaptive center-selection sample cap
	PivotCount   int     // PM-tree/OmniR/SPB/M-index*/CPT pivot set size; EGNAT pivots per node
	Rho          float64 // D-index/MB+-tree split band half-width
	Levels       int     // D-index hash levels
	Seed         int64
}

// Index is the shared contract every SM index implements. Build persists
// a fresh index to path; Open reopens one previously built there for
// querying. Close releases the backing RAF(s).
type Index interface {
	Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error
	Open(path string, db objectdb.DB) error
	RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId
	KNNSearch(q objectdb.ObjId, k int) []Neighbor
	Counters() Counters
	ResetCounters()
	Close() error
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Dist != ns[j].Dist {
			return ns[i].Dist < ns[j].Dist
		}
		return ns[i].ID < ns[j].ID
	})
}

func sortObjIds(ids []objectdb.ObjId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// --- fixed-width little-endian encode/decode helpers (spec §4.8: "binary,
// little-endian, fixed-width fields") shared by every SM index's node
// codec. ---

func putInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func getInt64(b []byte) (int64, []byte) {
	return int64(binary.LittleEndian.Uint64(b[:8])), b[8:]
}

func putFloat64(buf []byte, v float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

func getFloat64(b []byte) (float64, []byte) {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:8])), b[8:]
}

func putObjId(buf []byte, id objectdb.ObjId) []byte {
	return putInt64(buf, int64(id))
}

func getObjId(b []byte) (objectdb.ObjId, []byte) {
	v, rest := getInt64(b)
	return objectdb.ObjId(v), rest
}

// putObjIds/getObjIds encode a length-prefixed slice of ids.
func putObjIds(buf []byte, ids []objectdb.ObjId) []byte {
	buf = putInt64(buf, int64(len(ids)))
	for _, id := range ids {
		buf = putObjId(buf, id)
	}
	return buf
}

func getObjIds(b []byte) ([]objectdb.ObjId, []byte) {
	n, rest := getInt64(b)
	ids := make([]objectdb.ObjId, n)
	for i := range ids {
		ids[i], rest = getObjId(rest)
	}
	return ids, rest
}

func putFloat64s(buf []byte, vs []float64) []byte {
	buf = putInt64(buf, int64(len(vs)))
	for _, v := range vs {
		buf = putFloat64(buf, v)
	}
	return buf
}

func getFloat64s(b []byte) ([]float64, []byte) {
	n, rest := getInt64(b)
	vs := make([]float64, n)
	for i := range vs {
		vs[i], rest = getFloat64(rest)
	}
	return vs, rest
}
