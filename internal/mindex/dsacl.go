package mindex

import (
	"context"
	"math"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// DSACL is the Dynamic SAT + Clusters index (spec §4.3.6): a SAT-style
// center/neighbor structure where every node additionally owns a small
// sorted cluster of direct members. Unlike plain SAT, DSACL is built
// incrementally (Navarro-Reyes insertion), which is why it is the one
// place in the MM family that needs live timestamp-free ordering state
// (open question #4 — no timestamp logic is needed for the live MM path).
type DSACL struct {
	db        objectdb.DB
	clusterCap int
	maxArity   int
	root       *dsaclNode
	ctr        Counters
}

type dsaclMember struct {
	id   objectdb.ObjId
	dist float64 // distance to this node's center
}

type dsaclEdge struct {
	neighbor objectdb.ObjId
	child    *dsaclNode
}

type dsaclNode struct {
	center   objectdb.ObjId
	maxDist  float64
	cluster  []dsaclMember // sorted ascending by dist
	children []dsaclEdge
}

func NewDSACL() *DSACL { return &DSACL{} }

func (t *DSACL) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = 4
	}
	if cfg.Arity <= 0 {
		cfg.Arity = 8
	}
	t.db = db
	t.clusterCap = cfg.BucketSize
	t.maxArity = cfg.Arity
	t.root = nil

	for i := 0; i < db.Size(); i++ {
		t.insertRoot(objectdb.ObjId(i))
	}
	return nil
}

func (t *DSACL) insertRoot(x objectdb.ObjId) {
	if t.root == nil {
		t.root = &dsaclNode{center: x}
		return
	}
	t.insert(t.root, x)
}

func (t *DSACL) insert(n *dsaclNode, x objectdb.ObjId) {
	dCenterX := t.db.Distance(n.center, x)
	t.ctr.CompDist++
	if dCenterX > n.maxDist {
		n.maxDist = dCenterX
	}

	if len(n.cluster) < t.clusterCap {
		n.cluster = insertSorted(n.cluster, dsaclMember{x, dCenterX})
		return
	}

	rc := n.cluster[len(n.cluster)-1].dist
	if dCenterX < rc {
		n.cluster = insertSorted(n.cluster, dsaclMember{x, dCenterX})
		evicted := n.cluster[len(n.cluster)-1]
		n.cluster = n.cluster[:len(n.cluster)-1]
		t.route(n, evicted.id)
		return
	}

	t.route(n, x)
}

// route sends an item that didn't fit in the cluster either to a brand
// new neighbor (if it is nearer to the center than to any existing
// neighbor and arity allows) or into the subtree of its nearest neighbor.
func (t *DSACL) route(n *dsaclNode, x objectdb.ObjId) {
	if len(n.children) == 0 {
		n.children = append(n.children, dsaclEdge{neighbor: x, child: &dsaclNode{center: x}})
		return
	}
	bestIdx, bestDist := 0, math.Inf(1)
	for i, ch := range n.children {
		d := t.db.Distance(x, ch.neighbor)
		t.ctr.CompDist++
		if d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	dCenterX := t.db.Distance(n.center, x)
	t.ctr.CompDist++
	if dCenterX < bestDist && len(n.children) < t.maxArity {
		n.children = append(n.children, dsaclEdge{neighbor: x, child: &dsaclNode{center: x}})
		return
	}
	t.insert(n.children[bestIdx].child, x)
}

func insertSorted(cluster []dsaclMember, m dsaclMember) []dsaclMember {
	i := sort.Search(len(cluster), func(i int) bool { return cluster[i].dist >= m.dist })
	cluster = append(cluster, dsaclMember{})
	copy(cluster[i+1:], cluster[i:])
	cluster[i] = m
	return cluster
}

func (t *DSACL) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	var out []objectdb.ObjId
	if t.root != nil {
		t.rangeNode(t.root, q, r, math.NaN(), &out)
	}
	sortObjIds(out)
	return out
}

func (t *DSACL) rangeNode(n *dsaclNode, q objectdb.ObjId, r float64, dqaKnown float64, out *[]objectdb.ObjId) {
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
	for _, m := range n.cluster {
		if math.Abs(dqa-m.dist) <= r {
			d := t.db.Distance(q, m.id)
			t.ctr.CompDist++
			if d <= r {
				*out = append(*out, m.id)
			}
		}
	}
	mind := math.Inf(1)
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

func (t *DSACL) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	best := newBestK(k)
	if t.root != nil {
		t.knnNode(t.root, q, math.NaN(), best)
	}
	return best.Results()
}

func (t *DSACL) knnNode(n *dsaclNode, q objectdb.ObjId, dqaKnown float64, best *bestK) {
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
	for _, m := range n.cluster {
		tau = best.Tau()
		if math.Abs(dqa-m.dist) <= tau {
			d := t.db.Distance(q, m.id)
			t.ctr.CompDist++
			best.Offer(Neighbor{ID: m.id, Dist: d})
		}
	}
	mind := math.Inf(1)
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

func (t *DSACL) Counters() Counters { return t.ctr }
func (t *DSACL) ResetCounters()     { t.ctr = Counters{} }

var _ Index = (*DSACL)(nil)
