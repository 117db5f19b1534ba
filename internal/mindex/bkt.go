package mindex

import (
	"context"
	"math"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// BKT is the Burkhard-Keller Tree (spec §4.3.1): at each internal node a
// pivot is picked and the remaining objects are bucketed into rings of
// width Step keyed by floor(d(o,pivot)/Step)*Step; children are recursed
// on until a bucket is small enough to become a leaf.
type BKT struct {
	db     objectdb.DB
	step   float64
	bucket int
	root   bktNode
	ctr    Counters
}

type bktNode struct {
	leaf  []objectdb.ObjId // nil for internal nodes
	pivot objectdb.ObjId
	rings map[float64]*bktNode
}

func NewBKT() *BKT { return &BKT{} }

func (t *BKT) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error {
	if cfg.Step <= 0 {
		cfg.Step = 1
	}
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = 1
	}
	t.db = db
	t.step = cfg.Step
	t.bucket = cfg.BucketSize

	all := make([]objectdb.ObjId, db.Size())
	for i := range all {
		all[i] = objectdb.ObjId(i)
	}
	t.root = t.build(all)
	return nil
}

func (t *BKT) build(objs []objectdb.ObjId) bktNode {
	if len(objs) <= t.bucket {
		return bktNode{leaf: objs}
	}
	pivot := objs[0]
	rest := objs[1:]

	groups := make(map[float64][]objectdb.ObjId)
	for _, o := range rest {
		d := t.db.Distance(o, pivot)
		t.ctr.CompDist++
		ring := math.Floor(d/t.step) * t.step
		groups[ring] = append(groups[ring], o)
	}

	n := bktNode{pivot: pivot, rings: make(map[float64]*bktNode, len(groups))}
	for ring, grp := range groups {
		child := t.build(grp)
		n.rings[ring] = &child
	}
	return n
}

func (t *BKT) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	var out []objectdb.ObjId
	t.rangeNode(&t.root, q, r, &out)
	sortObjIds(out)
	return out
}

func (t *BKT) rangeNode(n *bktNode, q objectdb.ObjId, r float64, out *[]objectdb.ObjId) {
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
	for dBucket, child := range n.rings {
		if dBucket+t.step > dqp-r && dBucket <= dqp+r {
			t.rangeNode(child, q, r, out)
		}
	}
}

func (t *BKT) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	best := newBestK(k)
	t.knnNode(&t.root, q, best)
	return best.Results()
}

func (t *BKT) knnNode(n *bktNode, q objectdb.ObjId, best *bestK) {
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
	for dBucket, child := range n.rings {
		if dBucket+t.step > dqp-tau && dBucket <= dqp+tau {
			t.knnNode(child, q, best)
			tau = best.Tau()
		}
	}
}

func (t *BKT) Counters() Counters { return t.ctr }
func (t *BKT) ResetCounters()     { t.ctr = Counters{} }

var _ Index = (*BKT)(nil)
