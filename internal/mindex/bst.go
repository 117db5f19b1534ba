package mindex

import (
	"context"
	"math/rand"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// BST is the Bisector Tree (spec §4.3.2): each internal node picks two
// pivots by farthest-first, assigns every other object to the nearer
// pivot, and stores the covering radius of each side.
type BST struct {
	db        objectdb.DB
	bucket    int
	maxHeight int
	root      bstNode
	ctr       Counters
	rng       *rand.Rand
}

type bstNode struct {
	leaf              []objectdb.ObjId
	pL, pR            objectdb.ObjId
	lRadius, rRadius  float64
	left, right       *bstNode
}

func NewBST() *BST { return &BST{} }

func (t *BST) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = 1
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 1 << 30
	}
	t.db = db
	t.bucket = cfg.BucketSize
	t.maxHeight = cfg.MaxHeight
	t.rng = rand.New(rand.NewSource(cfg.Seed))

	all := make([]objectdb.ObjId, db.Size())
	for i := range all {
		all[i] = objectdb.ObjId(i)
	}
	t.root = t.build(all, 0)
	return nil
}

func (t *BST) build(objs []objectdb.ObjId, depth int) bstNode {
	if len(objs) <= t.bucket || depth >= t.maxHeight || len(objs) < 2 {
		if objs == nil {
			objs = []objectdb.ObjId{}
		}
		return bstNode{leaf: objs}
	}

	pL := objs[t.rng.Intn(len(objs))]
	var pR objectdb.ObjId
	best := -1.0
	for _, o := range objs {
		if o == pL {
			continue
		}
		d := t.db.Distance(pL, o)
		t.ctr.CompDist++
		if d > best {
			best = d
			pR = o
		}
	}

	var leftObjs, rightObjs []objectdb.ObjId
	var lRadius, rRadius float64
	for _, o := range objs {
		if o == pL || o == pR {
			continue
		}
		dl := t.db.Distance(o, pL)
		dr := t.db.Distance(o, pR)
		t.ctr.CompDist += 2
		if dl <= dr {
			leftObjs = append(leftObjs, o)
			if dl > lRadius {
				lRadius = dl
			}
		} else {
			rightObjs = append(rightObjs, o)
			if dr > rRadius {
				rRadius = dr
			}
		}
	}

	left := t.build(leftObjs, depth+1)
	right := t.build(rightObjs, depth+1)
	return bstNode{pL: pL, pR: pR, lRadius: lRadius, rRadius: rRadius, left: &left, right: &right}
}

func (t *BST) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	var out []objectdb.ObjId
	t.rangeNode(&t.root, q, r, &out)
	sortObjIds(out)
	return out
}

func (t *BST) rangeNode(n *bstNode, q objectdb.ObjId, r float64, out *[]objectdb.ObjId) {
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
	dL := t.db.Distance(q, n.pL)
	dR := t.db.Distance(q, n.pR)
	t.ctr.CompDist += 2
	if dL <= r {
		*out = append(*out, n.pL)
	}
	if dR <= r {
		*out = append(*out, n.pR)
	}
	if dL-n.lRadius <= r {
		t.rangeNode(n.left, q, r, out)
	}
	if dR-n.rRadius <= r {
		t.rangeNode(n.right, q, r, out)
	}
}

func (t *BST) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	best := newBestK(k)
	t.knnNode(&t.root, q, best)
	return best.Results()
}

func (t *BST) knnNode(n *bstNode, q objectdb.ObjId, best *bestK) {
	if n.leaf != nil {
		for _, o := range n.leaf {
			d := t.db.Distance(q, o)
			t.ctr.CompDist++
			best.Offer(Neighbor{ID: o, Dist: d})
		}
		return
	}
	dL := t.db.Distance(q, n.pL)
	dR := t.db.Distance(q, n.pR)
	t.ctr.CompDist += 2
	best.Offer(Neighbor{ID: n.pL, Dist: dL})
	best.Offer(Neighbor{ID: n.pR, Dist: dR})

	tau := best.Tau()
	if dL-n.lRadius <= tau {
		t.knnNode(n.left, q, best)
		tau = best.Tau()
	}
	if dR-n.rRadius <= tau {
		t.knnNode(n.right, q, best)
	}
}

func (t *BST) Counters() Counters { return t.ctr }
func (t *BST) ResetCounters()     { t.ctr = Counters{} }

var _ Index = (*BST)(nil)
