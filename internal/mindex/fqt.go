package mindex

import (
	"context"
	"math"
	"math/rand"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// FQT is the Fixed-Queries Tree (spec §4.3.7): a single globally fixed
// pivot is assigned to each tree level (up to MaxHeight levels, honoring
// HFI pivots when supplied); every object is routed level by level into
// one of Arity equal-width distance bins computed once from the whole
// dataset's distances to that level's pivot.
type FQT struct {
	db        objectdb.DB
	bucket    int
	arity     int
	maxDepth  int
	pivots    []objectdb.ObjId
	intervals [][]float64 // intervals[depth] has arity+1 boundaries
	root      fqtNode
	ctr       Counters
}

type fqtNode struct {
	leaf     []objectdb.ObjId
	children []*fqtNode // len == arity, nil entries for empty bins
}

func NewFQT() *FQT { return &FQT{} }

func (t *FQT) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = 1
	}
	if cfg.Arity <= 1 {
		cfg.Arity = 2
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 5
	}
	t.db = db
	t.bucket = cfg.BucketSize
	t.arity = cfg.Arity
	t.maxDepth = cfg.MaxHeight

	all := make([]objectdb.ObjId, db.Size())
	for i := range all {
		all[i] = objectdb.ObjId(i)
	}

	t.choosePivots(all, cfg)
	t.computeIntervals(all)
	t.root = t.build(all, 0)
	return nil
}

func (t *FQT) choosePivots(all []objectdb.ObjId, cfg BuildConfig) {
	t.pivots = make([]objectdb.ObjId, 0, t.maxDepth)
	rng := rand.New(rand.NewSource(cfg.Seed))
	for d := 0; d < t.maxDepth; d++ {
		if d < len(cfg.HFIPivots) {
			t.pivots = append(t.pivots, cfg.HFIPivots[d])
			continue
		}
		if len(all) == 0 {
			break
		}
		t.pivots = append(t.pivots, all[rng.Intn(len(all))])
	}
	t.maxDepth = len(t.pivots)
}

func (t *FQT) computeIntervals(all []objectdb.ObjId) {
	t.intervals = make([][]float64, t.maxDepth)
	for d, p := range t.pivots {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, o := range all {
			dd := t.db.Distance(o, p)
			t.ctr.CompDist++
			if dd < lo {
				lo = dd
			}
			if dd > hi {
				hi = dd
			}
		}
		if hi < lo {
			lo, hi = 0, 0
		}
		bounds := make([]float64, t.arity+1)
		width := (hi - lo) / float64(t.arity)
		for i := 0; i <= t.arity; i++ {
			bounds[i] = lo + width*float64(i)
		}
		bounds[t.arity] = math.Inf(1)
		bounds[0] = math.Inf(-1)
		t.intervals[d] = bounds
	}
}

func (t *FQT) build(objs []objectdb.ObjId, depth int) fqtNode {
	if len(objs) <= t.bucket || depth >= t.maxDepth {
		return fqtNode{leaf: objs}
	}
	pivot := t.pivots[depth]
	bounds := t.intervals[depth]

	bins := make([][]objectdb.ObjId, t.arity)
	for _, o := range objs {
		d := t.db.Distance(o, pivot)
		t.ctr.CompDist++
		bins[t.binOf(bounds, d)] = append(bins[t.binOf(bounds, d)], o)
	}

	children := make([]*fqtNode, t.arity)
	for i, bin := range bins {
		if len(bin) == 0 {
			continue
		}
		child := t.build(bin, depth+1)
		children[i] = &child
	}
	return fqtNode{children: children}
}

func (t *FQT) binOf(bounds []float64, d float64) int {
	for i := 0; i < t.arity; i++ {
		if d >= bounds[i] && d < bounds[i+1] {
			return i
		}
	}
	return t.arity - 1
}

func (t *FQT) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	var out []objectdb.ObjId
	t.rangeNode(&t.root, q, r, 0, &out)
	sortObjIds(out)
	return out
}

func (t *FQT) rangeNode(n *fqtNode, q objectdb.ObjId, r float64, depth int, out *[]objectdb.ObjId) {
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
	dqp := t.db.Distance(q, t.pivots[depth])
	t.ctr.CompDist++
	bounds := t.intervals[depth]
	lo, hi := dqp-r, dqp+r
	for i, child := range n.children {
		if child == nil {
			continue
		}
		if lo < bounds[i+1] && hi >= bounds[i] {
			t.rangeNode(child, q, r, depth+1, out)
		}
	}
}

func (t *FQT) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	best := newBestK(k)
	t.knnNode(&t.root, q, 0, best)
	return best.Results()
}

func (t *FQT) knnNode(n *fqtNode, q objectdb.ObjId, depth int, best *bestK) {
	if n.leaf != nil {
		for _, o := range n.leaf {
			d := t.db.Distance(q, o)
			t.ctr.CompDist++
			best.Offer(Neighbor{ID: o, Dist: d})
		}
		return
	}
	dqp := t.db.Distance(q, t.pivots[depth])
	t.ctr.CompDist++
	bounds := t.intervals[depth]
	tau := best.Tau()
	lo, hi := dqp-tau, dqp+tau
	for i, child := range n.children {
		if child == nil {
			continue
		}
		if lo < bounds[i+1] && hi >= bounds[i] {
			t.knnNode(child, q, depth+1, best)
			tau = best.Tau()
			lo, hi = dqp-tau, dqp+tau
		}
	}
}

func (t *FQT) Counters() Counters { return t.ctr }
func (t *FQT) ResetCounters()     { t.ctr = Counters{} }

var _ Index = (*FQT)(nil)
