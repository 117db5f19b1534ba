package mindex

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// VPT implements both the binary Vantage-Point Tree and its m-ary
// generalization MVPT (spec §4.3.3): at each node a pivot is chosen
// (randomly, or from an externally supplied per-level HFI sequence for
// MVPT), the remaining objects are split into Arity equal-population
// bands by distance to the pivot, and recursion continues per band.
// Arity=2 with no HFI pivots reproduces the classical VPT.
type VPT struct {
	db            objectdb.DB
	bucket        int
	arity         int
	configHeight  int
	hfiPivots     []objectdb.ObjId
	root          vptNode
	ctr           Counters
	rng           *rand.Rand
}

type vptNode struct {
	leaf     []objectdb.ObjId
	pivot    objectdb.ObjId
	radii    []float64 // len arity+1, radii[0]=0, radii[arity]=+Inf
	children []*vptNode
}

func NewVPT() *VPT { return &VPT{} }

func (t *VPT) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = 1
	}
	if cfg.Arity <= 1 {
		cfg.Arity = 2
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 1 << 30
	}
	t.db = db
	t.bucket = cfg.BucketSize
	t.arity = cfg.Arity
	t.configHeight = cfg.MaxHeight
	t.hfiPivots = cfg.HFIPivots
	t.rng = rand.New(rand.NewSource(cfg.Seed))

	all := make([]objectdb.ObjId, db.Size())
	for i := range all {
		all[i] = objectdb.ObjId(i)
	}
	t.root = t.build(all, 0)
	return nil
}

func (t *VPT) build(objs []objectdb.ObjId, depth int) vptNode {
	if len(objs) <= t.bucket || depth >= t.configHeight || len(objs) < 2 {
		return vptNode{leaf: objs}
	}

	var pivot objectdb.ObjId
	if depth < len(t.hfiPivots) {
		pivot = t.hfiPivots[depth]
	} else {
		pivot = objs[t.rng.Intn(len(objs))]
	}

	type distObj struct {
		id objectdb.ObjId
		d  float64
	}
	rest := make([]distObj, 0, len(objs))
	for _, o := range objs {
		if o == pivot {
			continue
		}
		d := t.db.Distance(o, pivot)
		t.ctr.CompDist++
		rest = append(rest, distObj{o, d})
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].d < rest[j].d })

	arity := t.arity
	if arity > len(rest) && len(rest) > 0 {
		arity = len(rest)
	}
	if arity < 1 {
		arity = 1
	}

	radii := make([]float64, arity+1)
	children := make([]*vptNode, arity)
	radii[0] = 0
	radii[arity] = math.Inf(1)

	per := len(rest) / arity
	extra := len(rest) % arity
	idx := 0
	for i := 0; i < arity; i++ {
		cnt := per
		if i < extra {
			cnt++
		}
		group := make([]objectdb.ObjId, cnt)
		for j := 0; j < cnt; j++ {
			group[j] = rest[idx+j].id
		}
		idx += cnt
		if i+1 < arity {
			if idx > 0 && idx <= len(rest) {
				radii[i+1] = rest[idx-1].d
			}
		}
		child := t.build(group, depth+1)
		children[i] = &child
	}

	return vptNode{pivot: pivot, radii: radii, children: children}
}

func (t *VPT) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	var out []objectdb.ObjId
	t.rangeNode(&t.root, q, r, &out)
	sortObjIds(out)
	return out
}

func (t *VPT) rangeNode(n *vptNode, q objectdb.ObjId, r float64, out *[]objectdb.ObjId) {
	if n.leaf != nil {
		for _, o := range n.leaf {
			d := t.db.Distance(q, o)
			t.ctr.CompDist++
			if d <= r {
				*out = append(*out, o)
			}
		}
		return
	}
	dqp := t.db.Distance(q, n.pivot)
	t.ctr.CompDist++
	if dqp <= r {
		*out = append(*out, n.pivot)
	}
	lo, hi := dqp-r, dqp+r
	for i, child := range n.children {
		if lo <= n.radii[i+1] && hi >= n.radii[i] {
			t.rangeNode(child, q, r, out)
		}
	}
}

func (t *VPT) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	best := newBestK(k)
	t.knnNode(&t.root, q, best)
	return best.Results()
}

func (t *VPT) knnNode(n *vptNode, q objectdb.ObjId, best *bestK) {
	if n.leaf != nil {
		for _, o := range n.leaf {
			d := t.db.Distance(q, o)
			t.ctr.CompDist++
			best.Offer(Neighbor{ID: o, Dist: d})
		}
		return
	}
	dqp := t.db.Distance(q, n.pivot)
	t.ctr.CompDist++
	best.Offer(Neighbor{ID: n.pivot, Dist: dqp})

	tau := best.Tau()
	lo, hi := dqp-tau, dqp+tau
	for i, child := range n.children {
		if lo <= n.radii[i+1] && hi >= n.radii[i] {
			t.knnNode(child, q, best)
			tau = best.Tau()
			lo, hi = dqp-tau, dqp+tau
		}
	}
}

func (t *VPT) Counters() Counters { return t.ctr }
func (t *VPT) ResetCounters()     { t.ctr = Counters{} }

var _ Index = (*VPT)(nil)

// NewMVPT constructs an MVPT: an m-ary VPT that honors a per-level HFI
// pivot sequence when one is supplied via BuildConfig.HFIPivots.
func NewMVPT() *VPT { return NewVPT() }
