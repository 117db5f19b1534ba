package mindex

import (
	"context"
	"math"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// GNAT is the Geometric Near-neighbor Access Tree (spec §4.3.4): each
// node picks a handful of pivots by farthest-first, assigns every other
// object to its nearest pivot (its "region"), and records, for every
// (pivot_i, region_j) pair, the min/max distance from pivot_i to any
// object in region_j — a bounding box in pivot space that lets a single
// node-level distance computation prune whole regions.
type GNAT struct {
	db            objectdb.DB
	bucket        int
	avgPivotCnt   int
	minPivotCnt   int
	maxPivotCnt   int
	root          gnatNode
	ctr           Counters
}

type gnatNode struct {
	leaf     []objectdb.ObjId
	pivots   []objectdb.ObjId
	minDist  [][]float64 // [i][j]
	maxDist  [][]float64
	children []*gnatNode
}

func NewGNAT() *GNAT { return &GNAT{} }

func (t *GNAT) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig) error {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = 1
	}
	if cfg.PivotCount <= 0 {
		cfg.PivotCount = 3
	}
	t.db = db
	t.bucket = cfg.BucketSize
	t.avgPivotCnt = cfg.PivotCount
	t.minPivotCnt = 1
	t.maxPivotCnt = cfg.PivotCount

	all := make([]objectdb.ObjId, db.Size())
	for i := range all {
		all[i] = objectdb.ObjId(i)
	}
	t.root = t.build(all, cfg.PivotCount)
	return nil
}

func (t *GNAT) build(objs []objectdb.ObjId, pivotCnt int) gnatNode {
	if len(objs) <= t.bucket || len(objs) < 2 {
		if objs == nil {
			objs = []objectdb.ObjId{}
		}
		return gnatNode{leaf: objs}
	}
	if pivotCnt > len(objs) {
		pivotCnt = len(objs)
	}
	if pivotCnt < 1 {
		pivotCnt = 1
	}

	pivots := t.farthestFirst(objs, pivotCnt)
	pivotSet := make(map[objectdb.ObjId]bool, len(pivots))
	for _, p := range pivots {
		pivotSet[p] = true
	}

	var rest []objectdb.ObjId
	for _, o := range objs {
		if !pivotSet[o] {
			rest = append(rest, o)
		}
	}

	// Full distance matrix rest x pivots: needed both to assign nearest
	// pivot and to derive per-region min/max bounding boxes.
	dm := make([][]float64, len(rest))
	for oi, o := range rest {
		row := make([]float64, len(pivots))
		for pi, p := range pivots {
			row[pi] = t.db.Distance(o, p)
			t.ctr.CompDist++
		}
		dm[oi] = row
	}

	regions := make([][]objectdb.ObjId, len(pivots))
	minDist := make([][]float64, len(pivots))
	maxDist := make([][]float64, len(pivots))
	for i := range pivots {
		minDist[i] = make([]float64, len(pivots))
		maxDist[i] = make([]float64, len(pivots))
		for j := range pivots {
			minDist[i][j] = math.Inf(1)
			maxDist[i][j] = math.Inf(-1)
		}
	}

	for oi, o := range rest {
		nearest := 0
		for pi := 1; pi < len(pivots); pi++ {
			if dm[oi][pi] < dm[oi][nearest] {
				nearest = pi
			}
		}
		regions[nearest] = append(regions[nearest], o)
		for i := range pivots {
			d := dm[oi][i]
			if d < minDist[i][nearest] {
				minDist[i][nearest] = d
			}
			if d > maxDist[i][nearest] {
				maxDist[i][nearest] = d
			}
		}
	}
	// A region always contains its own pivot's viewpoint (distance 0) in
	// the MBB; this keeps bounds tight even for empty/singleton regions.
	for j := range pivots {
		if 0 < minDist[j][j] {
			minDist[j][j] = 0
		}
		if 0 > maxDist[j][j] {
			maxDist[j][j] = 0
		}
		for i := range pivots {
			if math.IsInf(minDist[i][j], 1) {
				minDist[i][j] = 0
				maxDist[i][j] = 0
			}
		}
	}

	children := make([]*gnatNode, len(pivots))
	total := len(objs)
	for j, region := range regions {
		next := clip(len(region)*t.avgPivotCnt*pivotCnt/maxInt(total, 1), t.minPivotCnt, t.maxPivotCnt)
		child := t.build(region, next)
		children[j] = &child
	}

	return gnatNode{pivots: pivots, minDist: minDist, maxDist: maxDist, children: children}
}

func (t *GNAT) farthestFirst(objs []objectdb.ObjId, n int) []objectdb.ObjId {
	pivots := make([]objectdb.ObjId, 0, n)
	pivots = append(pivots, objs[0])
	minToChosen := make([]float64, len(objs))
	for i := range minToChosen {
		minToChosen[i] = math.Inf(1)
	}
	for len(pivots) < n {
		last := pivots[len(pivots)-1]
		farIdx, farDist := -1, -1.0
		for i, o := range objs {
			d := t.db.Distance(o, last)
			t.ctr.CompDist++
			if d < minToChosen[i] {
				minToChosen[i] = d
			}
			if minToChosen[i] > farDist {
				farDist = minToChosen[i]
				farIdx = i
			}
		}
		if farIdx < 0 {
			break
		}
		pivots = append(pivots, objs[farIdx])
	}
	return pivots
}

func clip(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (t *GNAT) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	var out []objectdb.ObjId
	t.rangeNode(&t.root, q, r, &out)
	sortObjIds(out)
	return out
}

func (t *GNAT) rangeNode(n *gnatNode, q objectdb.ObjId, r float64, out *[]objectdb.ObjId) {
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
	qdist := make([]float64, len(n.pivots))
	for i, p := range n.pivots {
		qdist[i] = t.db.Distance(q, p)
		t.ctr.CompDist++
		if qdist[i] <= r {
			*out = append(*out, p)
		}
	}
	for j, child := range n.children {
		if t.regionPruned(n, qdist, j, r) {
			continue
		}
		t.rangeNode(child, q, r, out)
	}
}

func (t *GNAT) regionPruned(n *gnatNode, qdist []float64, j int, r float64) bool {
	for i := range n.pivots {
		if n.maxDist[i][j] < qdist[i]-r || n.minDist[i][j] > qdist[i]+r {
			return true
		}
	}
	return false
}

func (t *GNAT) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	best := newBestK(k)
	t.knnNode(&t.root, q, best)
	return best.Results()
}

func (t *GNAT) knnNode(n *gnatNode, q objectdb.ObjId, best *bestK) {
	if n.leaf != nil {
		for _, o := range n.leaf {
			d := t.db.Distance(q, o)
			t.ctr.CompDist++
			best.Offer(Neighbor{ID: o, Dist: d})
		}
		return
	}
	qdist := make([]float64, len(n.pivots))
	for i, p := range n.pivots {
		qdist[i] = t.db.Distance(q, p)
		t.ctr.CompDist++
		best.Offer(Neighbor{ID: p, Dist: qdist[i]})
	}

	order := make([]int, len(n.pivots))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return qdist[order[a]] < qdist[order[b]] })
	d0 := qdist[order[0]]

	for _, j := range order {
		tau := best.Tau()
		if (qdist[j]-d0)/2 > tau {
			break
		}
		if t.regionPruned(n, qdist, j, tau) {
			continue
		}
		t.knnNode(n.children[j], q, best)
	}
}

func (t *GNAT) Counters() Counters { return t.ctr }
func (t *GNAT) ResetCounters()     { t.ctr = Counters{} }

var _ Index = (*GNAT)(nil)
