package mindex

import (
	"context"
	"math"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// SAT is the Spatial Approximation Tree (spec §4.3.5): each node is a
// single center with a minimal neighbor set N(a) built by Navarro's
// construction (an object becomes a new neighbor only if it's closer to
// the center than to every neighbor already chosen; otherwise it's
// routed into the bucket of its nearest existing neighbor and recursed
// on as that neighbor's own subtree).
type SAT struct {
	db   objectdb.DB
	root satNode
	ctr  Counters
}

type satEdge struct {
	neighbor objectdb.ObjId
	child    *satNode
}

type satNode struct {
	center   objectdb.ObjId
	maxDist  float64 // max d(center, o) over every o in this subtree
	children []satEdge
}

func NewSAT() *SAT { return &SAT{} }

func (t *SAT) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error {
	t.db = db
	all := make([]objectdb.ObjId, db.Size())
	for i := range all {
		all[i] = objectdb.ObjId(i)
	}
	if len(all) == 0 {
		t.root = satNode{}
		return nil
	}
	t.root = t.build(all)
	return nil
}

func (t *SAT) build(objs []objectdb.ObjId) satNode {
	center := objs[0]
	rest := objs[1:]
	if len(rest) == 0 {
		return satNode{center: center}
	}

	type scored struct {
		id objectdb.ObjId
		d  float64
	}
	scoredRest := make([]scored, len(rest))
	maxDist := 0.0
	for i, o := range rest {
		d := t.db.Distance(o, center)
		t.ctr.CompDist++
		scoredRest[i] = scored{o, d}
		if d > maxDist {
			maxDist = d
		}
	}
	sort.Slice(scoredRest, func(i, j int) bool { return scoredRest[i].d < scoredRest[j].d })

	var neighbors []objectdb.ObjId
	buckets := make(map[objectdb.ObjId][]objectdb.ObjId)
	for _, s := range scoredRest {
		if len(neighbors) == 0 {
			neighbors = append(neighbors, s.id)
			buckets[s.id] = nil
			continue
		}
		bestNeighbor := neighbors[0]
		bestDist := math.Inf(1)
		for _, c := range neighbors {
			d := t.db.Distance(s.id, c)
			t.ctr.CompDist++
			if d < bestDist {
				bestDist = d
				bestNeighbor = c
			}
		}
		if s.d < bestDist {
			neighbors = append(neighbors, s.id)
			buckets[s.id] = nil
		} else {
			buckets[bestNeighbor] = append(buckets[bestNeighbor], s.id)
		}
	}

	n := satNode{center: center, maxDist: maxDist}
	for _, c := range neighbors {
		subtree := append([]objectdb.ObjId{c}, buckets[c]...)
		child := t.build(subtree)
		n.children = append(n.children, satEdge{neighbor: c, child: &child})
	}
	return n
}

func (t *SAT) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	var out []objectdb.ObjId
	t.rangeNode(&t.root, q, r, math.NaN(), &out)
	sortObjIds(out)
	return out
}

func (t *SAT) rangeNode(n *satNode, q objectdb.ObjId, r float64, dqaKnown float64, out *[]objectdb.ObjId) {
	dqa := dqaKnown
	if math.IsNaN(dqa) {
		dqa = t.db.Distance(q, n.center)
		t.ctr.CompDist++
	}
	if dqa <= r {
		*out = append(*out, n.center)
	}
	if dqa-r > n.maxDist {
		return
	}
	mind := dqa
	for _, ch := range n.children {
		dqc := t.db.Distance(q, ch.neighbor)
		t.ctr.CompDist++
		if dqc <= mind+2*r {
			t.rangeNode(ch.child, q, r, dqc, out)
		}
		if dqc < mind {
			mind = dqc
		}
	}
}

func (t *SAT) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	best := newBestK(k)
	t.knnNode(&t.root, q, math.NaN(), best)
	return best.Results()
}

func (t *SAT) knnNode(n *satNode, q objectdb.ObjId, dqaKnown float64, best *bestK) {
	dqa := dqaKnown
	if math.IsNaN(dqa) {
		dqa = t.db.Distance(q, n.center)
		t.ctr.CompDist++
	}
	best.Offer(Neighbor{ID: n.center, Dist: dqa})

	tau := best.Tau()
	if dqa-tau > n.maxDist {
		return
	}
	mind := dqa
	for _, ch := range n.children {
		dqc := t.db.Distance(q, ch.neighbor)
		t.ctr.CompDist++
		tau = best.Tau()
		if dqc <= mind+2*tau {
			t.knnNode(ch.child, q, dqc, best)
		}
		if dqc < mind {
			mind = dqc
		}
	}
}

func (t *SAT) Counters() Counters { return t.ctr }
func (t *SAT) ResetCounters()     { t.ctr = Counters{} }

var _ Index = (*SAT)(nil)
