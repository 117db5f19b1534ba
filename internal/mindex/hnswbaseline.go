package mindex

import (
	"context"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// HNSWBaseline wraps github.com/coder/hnsw behind the mindex.Index
// contract as an approximate graph-based baseline (harness category
// "ANN"), letting the benchmark compare the exact pivot/partition
// families against a modern approximate nearest-neighbor index on the
// same MRQ/MkNN workloads.
//
// coder/hnsw nodes carry a []float32 vector and its built-in distance
// funcs (CosineDistance, EuclideanDistance) assume Euclidean vector
// space, which the black-box metric ObjectDB contract does not promise
// (string datasets use Levenshtein, others use L1/L5/L∞). To keep the
// graph's comparisons faithful to whatever metric the loaded dataset
// actually uses, each node's "vector" is a single float32 carrying its
// ObjId, and Graph.Distance is overridden to decode the two ids back out
// and call the real db.Distance. The harness runs it alongside the exact
// MM indexes when no MM filter is given or when the filter names hnsw.
//
// RangeSearch has no principled answer from a kNN graph, so it is
// implemented as kNN with a generously large k, filtered by distance <=
// r — an accepted approximation for a baseline, not an exact algorithm.
type HNSWBaseline struct {
	db    objectdb.DB
	graph *hnsw.Graph[uint64]

	compDist int64
}

var _ Index = (*HNSWBaseline)(nil)

// NewHNSWBaseline constructs an empty baseline ready for Build.
func NewHNSWBaseline() *HNSWBaseline {
	return &HNSWBaseline{}
}

func (h *HNSWBaseline) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error {
	h.db = db
	g := hnsw.NewGraph[uint64]()
	if cfg.Arity > 0 {
		g.M = cfg.Arity
	} else {
		g.M = 16
	}
	g.Ml = 0.25
	g.Distance = h.decodedDistance

	for i := 0; i < db.Size(); i++ {
		id := uint64(i)
		node := hnsw.MakeNode(id, []float32{float32(i)})
		g.Add(node)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	h.graph = g
	return nil
}

// decodedDistance ignores the graph's float32 vectors past decoding the
// ObjId each one encodes and defers to the real metric.
func (h *HNSWBaseline) decodedDistance(a, b []float32) float32 {
	h.compDist++
	ida := objectdb.ObjId(int(a[0] + 0.5))
	idb := objectdb.ObjId(int(b[0] + 0.5))
	return float32(h.db.Distance(ida, idb))
}

func (h *HNSWBaseline) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	if h.graph == nil || h.db == nil {
		return nil
	}
	k := h.db.Size()
	if k > 200 {
		k = 200
	}
	neighbors := h.KNNSearch(q, k)
	var out []objectdb.ObjId
	for _, n := range neighbors {
		if n.Dist <= r {
			out = append(out, n.ID)
		}
	}
	sortObjIds(out)
	return out
}

func (h *HNSWBaseline) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if h.graph == nil || k <= 0 {
		return nil
	}
	nodes := h.graph.Search([]float32{float32(int(q))}, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, node := range nodes {
		id := objectdb.ObjId(node.Key)
		h.compDist++
		out = append(out, Neighbor{ID: id, Dist: h.db.Distance(q, id)})
	}
	sortNeighbors(out)
	return out
}

func (h *HNSWBaseline) Counters() Counters { return Counters{CompDist: h.compDist} }

func (h *HNSWBaseline) ResetCounters() { h.compDist = 0 }

// Category is the harness output category for this index (spec §4.1's
// "category (MM/HFI/DM/D)" field, extended with "ANN" for this baseline).
const Category = "ANN"
