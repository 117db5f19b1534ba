package mindex

import (
	"context"
	"math"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// LAESA is the Linear Approximating and Eliminating Search Algorithm
// (spec §4.3.9, ported from original_source's LAESA::rangeSearch /
// knnSearch): the first PivotCount objects become pivots, every object's
// distance to every pivot is precomputed into an N x |P| matrix, and a
// query is answered by computing the per-pivot lower bound for every
// non-pivot object before paying for its true distance. kNN additionally
// orders candidates by an L1 proximity heuristic over the pivot distances
// before scanning, so the heap tightens early and later lower bounds
// prune more.
type LAESA struct {
	db        objectdb.DB
	pivots    []objectdb.ObjId
	isPivot   map[objectdb.ObjId]bool
	distMat   [][]float64 // [objIndex][pivotIndex]
	nonPivots []objectdb.ObjId
	ctr       Counters
}

func NewLAESA() *LAESA { return &LAESA{} }

func (t *LAESA) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error {
	if cfg.PivotCount <= 0 {
		cfg.PivotCount = 8
	}
	t.db = db
	n := db.Size()

	if len(cfg.HFIPivots) > 0 {
		t.pivots = append([]objectdb.ObjId(nil), cfg.HFIPivots...)
		if len(t.pivots) > n {
			t.pivots = t.pivots[:n]
		}
	} else {
		cnt := cfg.PivotCount
		if cnt > n {
			cnt = n
		}
		t.pivots = make([]objectdb.ObjId, cnt)
		for i := 0; i < cnt; i++ {
			t.pivots[i] = objectdb.ObjId(i)
		}
	}

	t.isPivot = make(map[objectdb.ObjId]bool, len(t.pivots))
	for _, p := range t.pivots {
		t.isPivot[p] = true
	}

	t.distMat = make([][]float64, n)
	t.nonPivots = t.nonPivots[:0]
	for i := 0; i < n; i++ {
		row := make([]float64, len(t.pivots))
		for j, p := range t.pivots {
			row[j] = t.db.Distance(objectdb.ObjId(i), p)
			t.ctr.CompDist++
		}
		t.distMat[i] = row
		if !t.isPivot[objectdb.ObjId(i)] {
			t.nonPivots = append(t.nonPivots, objectdb.ObjId(i))
		}
	}
	return nil
}

func (t *LAESA) lowerBound(queryDists []float64, objIdx int) float64 {
	lb := 0.0
	row := t.distMat[objIdx]
	for j, qd := range queryDists {
		diff := math.Abs(qd - row[j])
		if diff > lb {
			lb = diff
		}
	}
	return lb
}

func (t *LAESA) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	queryDists := make([]float64, len(t.pivots))
	var out []objectdb.ObjId
	for j, p := range t.pivots {
		queryDists[j] = t.db.Distance(q, p)
		t.ctr.CompDist++
		if queryDists[j] <= r {
			out = append(out, p)
		}
	}

	for _, o := range t.nonPivots {
		if t.lowerBound(queryDists, int(o)) > r {
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

func (t *LAESA) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	best := newBestK(k)
	queryDists := make([]float64, len(t.pivots))
	for j, p := range t.pivots {
		queryDists[j] = t.db.Distance(q, p)
		t.ctr.CompDist++
		best.Offer(Neighbor{ID: p, Dist: queryDists[j]})
	}

	type candidate struct {
		l1  float64
		obj objectdb.ObjId
	}
	candidates := make([]candidate, len(t.nonPivots))
	for i, o := range t.nonPivots {
		row := t.distMat[int(o)]
		l1 := 0.0
		for j, qd := range queryDists {
			l1 += math.Abs(qd - row[j])
		}
		candidates[i] = candidate{l1, o}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].l1 < candidates[j].l1 })

	for _, c := range candidates {
		tau := best.Tau()
		if t.lowerBound(queryDists, int(c.obj)) > tau {
			continue
		}
		d := t.db.Distance(q, c.obj)
		t.ctr.CompDist++
		best.Offer(Neighbor{ID: c.obj, Dist: d})
	}
	return best.Results()
}

func (t *LAESA) Counters() Counters { return t.ctr }
func (t *LAESA) ResetCounters()     { t.ctr = Counters{} }

var _ Index = (*LAESA)(nil)
