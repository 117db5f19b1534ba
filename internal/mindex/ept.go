package mindex

import (
	"context"
	"math"
	"math/rand"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// EPT is the Excluded Pivot Table (spec §4.3.8): a flat structure with no
// tree shape at all. A fixed set of global pivots is chosen once; for
// every dataset object the distance to every pivot is precomputed and
// stored as a row. A candidate is excluded from a query without ever
// computing d(q, candidate) whenever some pivot's row value differs from
// d(q, pivot) by more than r (the standard multi-pivot lower bound).
type EPT struct {
	db     objectdb.DB
	pivots []objectdb.ObjId
	table  [][]float64 // table[objIndex][pivotIndex]
	ids    []objectdb.ObjId
	ctr    Counters
}

func NewEPT() *EPT { return &EPT{} }

func (t *EPT) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error {
	if cfg.PivotCount <= 0 {
		cfg.PivotCount = 8
	}
	t.db = db

	n := db.Size()
	t.ids = make([]objectdb.ObjId, n)
	for i := range t.ids {
		t.ids[i] = objectdb.ObjId(i)
	}

	t.pivots = t.choosePivots(cfg)
	t.table = make([][]float64, n)
	for i, o := range t.ids {
		row := make([]float64, len(t.pivots))
		for pi, p := range t.pivots {
			row[pi] = t.db.Distance(o, p)
			t.ctr.CompDist++
		}
		t.table[i] = row
	}
	return nil
}

func (t *EPT) choosePivots(cfg BuildConfig) []objectdb.ObjId {
	n := len(t.ids)
	cnt := cfg.PivotCount
	if cnt > n {
		cnt = n
	}
	if len(cfg.HFIPivots) > 0 {
		if len(cfg.HFIPivots) < cnt {
			cnt = len(cfg.HFIPivots)
		}
		return append([]objectdb.ObjId(nil), cfg.HFIPivots[:cnt]...)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	perm := rng.Perm(n)
	pivots := make([]objectdb.ObjId, cnt)
	for i := 0; i < cnt; i++ {
		pivots[i] = t.ids[perm[i]]
	}
	return pivots
}

// lowerBound returns max_i |d(q,pivot_i) - table[idx][i]|, a valid lower
// bound on d(q, ids[idx]) by the triangle inequality.
func (t *EPT) lowerBound(qdist []float64, idx int) float64 {
	lb := 0.0
	row := t.table[idx]
	for i, qd := range qdist {
		diff := math.Abs(qd - row[i])
		if diff > lb {
			lb = diff
		}
	}
	return lb
}

func (t *EPT) queryDistances(q objectdb.ObjId) []float64 {
	qdist := make([]float64, len(t.pivots))
	for i, p := range t.pivots {
		qdist[i] = t.db.Distance(q, p)
		t.ctr.CompDist++
	}
	return qdist
}

func (t *EPT) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	qdist := t.queryDistances(q)
	var out []objectdb.ObjId
	for idx, o := range t.ids {
		if t.lowerBound(qdist, idx) > r {
			continue
		}
		d := t.db.Distance(q, o)
		t.ctr.CompDist++
		if d <= r {
			out = append(out, o)
		}
	}
	sortObjIds(out)
	return out
}

func (t *EPT) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	qdist := t.queryDistances(q)
	best := newBestK(k)
	for idx, o := range t.ids {
		if t.lowerBound(qdist, idx) > best.Tau() {
			continue
		}
		d := t.db.Distance(q, o)
		t.ctr.CompDist++
		best.Offer(Neighbor{ID: o, Dist: d})
	}
	return best.Results()
}

func (t *EPT) Counters() Counters { return t.ctr }
func (t *EPT) ResetCounters()     { t.ctr = Counters{} }

var _ Index = (*EPT)(nil)
