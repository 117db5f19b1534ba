package smindex

import (
	"context"
	"math"
	"os"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/raf"
)

// pmtreeEntry is an M-tree routing/object entry (spec §4.5) extended with a
// per-pivot distance interval: [pivotMin[i], pivotMax[i]] bounds how far any
// object in this entry's subtree can be from global pivot i. A leaf entry's
// interval degenerates to a single point, its own distance to each pivot.
type pmtreeEntry struct {
	obj         objectdb.ObjId
	radius      float64
	parentDist  float64
	childOffset int64
	pivotMin    []float64
	pivotMax    []float64
}

type pmtreeNode struct {
	isLeaf  bool
	entries []pmtreeEntry
}

func encodePMTreeNode(n pmtreeNode) []byte {
	var buf []byte
	leafFlag := int64(0)
	if n.isLeaf {
		leafFlag = 1
	}
	buf = putInt64(buf, leafFlag)
	buf = putInt64(buf, int64(len(n.entries)))
	for _, e := range n.entries {
		buf = putObjId(buf, e.obj)
		buf = putFloat64(buf, e.radius)
		buf = putFloat64(buf, e.parentDist)
		buf = putInt64(buf, e.childOffset)
		buf = putFloat64s(buf, e.pivotMin)
		buf = putFloat64s(buf, e.pivotMax)
	}
	return buf
}

func decodePMTreeNode(b []byte) pmtreeNode {
	leafFlag, rest := getInt64(b)
	count, rest := getInt64(rest)
	entries := make([]pmtreeEntry, count)
	for i := range entries {
		var obj objectdb.ObjId
		obj, rest = getObjId(rest)
		var radius, parentDist float64
		radius, rest = getFloat64(rest)
		parentDist, rest = getFloat64(rest)
		var childOffset int64
		childOffset, rest = getInt64(rest)
		var pmin, pmax []float64
		pmin, rest = getFloat64s(rest)
		pmax, rest = getFloat64s(rest)
		entries[i] = pmtreeEntry{obj, radius, parentDist, childOffset, pmin, pmax}
	}
	return pmtreeNode{isLeaf: leafFlag == 1, entries: entries}
}

// PMTree is spec §4.5's PM-tree: an M-tree whose entries additionally carry
// a per-subtree pivot MBB, giving a LAESA-style lower bound that is checked
// before (and independently of) the Lemma 4.2 parent-distance bound.
type PMTree struct {
	db         objectdb.DB
	nodeRAF    *raf.RAF
	headerPath string
	rootOffset int64
	nodeCap    int
	sampleCap  int
	pivots     []objectdb.ObjId
	objDist    [][]float64 // objDist[obj][i] = d(obj, pivots[i]), build-time only
	ctr        Counters
}

func NewPMTree() *PMTree { return &PMTree{} }

func (t *PMTree) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error {
	if cfg.NodeCapacity <= 1 {
		cfg.NodeCapacity = 4
	}
	if cfg.PivotCount <= 0 {
		cfg.PivotCount = 4
	}
	t.db = db
	t.nodeCap = cfg.NodeCapacity
	t.sampleCap = cfg.SampleSize
	if t.sampleCap <= 0 {
		t.sampleCap = sampleThreshold
	}
	t.headerPath = path + ".pmtree.header"

	nodeRAF, err := raf.Create(path + ".pmtree")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF

	n := db.Size()
	t.choosePivots(cfg, n)

	all := make([]objectdb.ObjId, n)
	t.objDist = make([][]float64, n)
	for i := range all {
		all[i] = objectdb.ObjId(i)
		t.objDist[i] = make([]float64, len(t.pivots))
		for j, p := range t.pivots {
			t.objDist[i][j] = db.Distance(objectdb.ObjId(i), p)
			t.ctr.CompDist++
		}
	}
	if n == 0 {
		t.rootOffset = -1
		return t.writeHeader()
	}
	_, _, _, _, offset, err := t.buildNode(all, 0, false)
	if err != nil {
		return err
	}
	t.rootOffset = offset
	return t.writeHeader()
}

func (t *PMTree) choosePivots(cfg BuildConfig, n int) {
	count := cfg.PivotCount
	if count > n {
		count = n
	}
	stride := 1
	if count > 0 {
		stride = n / count
		if stride < 1 {
			stride = 1
		}
	}
	for i := 0; i < n && len(t.pivots) < count; i += stride {
		t.pivots = append(t.pivots, objectdb.ObjId(i))
	}
}

func (t *PMTree) writeHeader() error {
	var buf []byte
	buf = putInt64(buf, t.rootOffset)
	buf = putObjIds(buf, t.pivots)
	return os.WriteFile(t.headerPath, buf, 0o644)
}

// buildNode mirrors MTree.buildNode, additionally folding each child's
// pivot-distance interval into the parent entry.
func (t *PMTree) buildNode(objs []objectdb.ObjId, forced objectdb.ObjId, hasForced bool) (objectdb.ObjId, float64, []float64, []float64, int64, error) {
	routingObj := objs[0]
	if hasForced {
		routingObj = forced
	}

	if len(objs) <= t.nodeCap {
		entries := make([]pmtreeEntry, len(objs))
		radius := 0.0
		pmin := fullSlice(len(t.pivots), math.Inf(1))
		pmax := fullSlice(len(t.pivots), math.Inf(-1))
		for i, o := range objs {
			d := t.db.Distance(routingObj, o)
			t.ctr.CompDist++
			dist := t.objDist[o]
			entries[i] = pmtreeEntry{obj: o, childOffset: -1, parentDist: d, pivotMin: dist, pivotMax: dist}
			if d > radius {
				radius = d
			}
			mergeInterval(pmin, pmax, dist, dist)
		}
		offset, err := t.writeNode(pmtreeNode{isLeaf: true, entries: entries})
		return routingObj, radius, pmin, pmax, offset, err
	}

	sample := objs
	if len(objs) > t.sampleCap {
		sample = stratifiedSample(objs, t.sampleCap)
	}
	centers := t.farthestFirstFrom(routingObj, sample, t.nodeCap)
	groups := t.assignNearest(objs, centers)

	entries := make([]pmtreeEntry, 0, len(groups))
	maxRadius := 0.0
	pmin := fullSlice(len(t.pivots), math.Inf(1))
	pmax := fullSlice(len(t.pivots), math.Inf(-1))
	addEntry := func(g []objectdb.ObjId, forcedCenter objectdb.ObjId) error {
		childObj, childRadius, childMin, childMax, childOffset, err := t.buildNode(g, forcedCenter, true)
		if err != nil {
			return err
		}
		dParent := t.db.Distance(routingObj, childObj)
		t.ctr.CompDist++
		radiusToHere := dParent + childRadius
		if radiusToHere > maxRadius {
			maxRadius = radiusToHere
		}
		mergeInterval(pmin, pmax, childMin, childMax)
		entries = append(entries, pmtreeEntry{
			obj: childObj, radius: childRadius, parentDist: dParent,
			childOffset: childOffset, pivotMin: childMin, pivotMax: childMax,
		})
		return nil
	}
	for i, g := range groups {
		if len(g) == 0 {
			continue
		}
		if len(g) == len(objs) && len(objs) > t.nodeCap {
			for _, chunk := range evenChunks(g, t.nodeCap) {
				if err := addEntry(chunk, chunk[0]); err != nil {
					return 0, 0, nil, nil, 0, err
				}
			}
			continue
		}
		if err := addEntry(g, centers[i]); err != nil {
			return 0, 0, nil, nil, 0, err
		}
	}
	offset, err := t.writeNode(pmtreeNode{isLeaf: false, entries: entries})
	return routingObj, maxRadius, pmin, pmax, offset, err
}

func fullSlice(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func mergeInterval(pmin, pmax, childMin, childMax []float64) {
	for i := range pmin {
		if childMin[i] < pmin[i] {
			pmin[i] = childMin[i]
		}
		if childMax[i] > pmax[i] {
			pmax[i] = childMax[i]
		}
	}
}

func (t *PMTree) writeNode(n pmtreeNode) (int64, error) {
	return t.nodeRAF.Write(objectdb.ObjId(0), encodePMTreeNode(n))
}

func (t *PMTree) readNode(offset int64) (pmtreeNode, error) {
	payload, err := t.nodeRAF.Read(offset)
	if err != nil {
		return pmtreeNode{}, err
	}
	return decodePMTreeNode(payload), nil
}

func (t *PMTree) farthestFirstFrom(seed objectdb.ObjId, objs []objectdb.ObjId, n int) []objectdb.ObjId {
	if n > len(objs) {
		n = len(objs)
	}
	if n < 1 {
		n = 1
	}
	centers := make([]objectdb.ObjId, 0, n)
	centers = append(centers, seed)
	minToChosen := make([]float64, len(objs))
	for i := range minToChosen {
		minToChosen[i] = math.Inf(1)
	}
	for len(centers) < n {
		last := centers[len(centers)-1]
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
		centers = append(centers, objs[farIdx])
	}
	return centers
}

func (t *PMTree) assignNearest(objs []objectdb.ObjId, centers []objectdb.ObjId) [][]objectdb.ObjId {
	centerSet := make(map[objectdb.ObjId]int, len(centers))
	groups := make([][]objectdb.ObjId, len(centers))
	for i, c := range centers {
		centerSet[c] = i
		groups[i] = append(groups[i], c)
	}
	for _, o := range objs {
		if _, isCenter := centerSet[o]; isCenter {
			continue
		}
		best, bestDist := 0, math.Inf(1)
		for i, c := range centers {
			d := t.db.Distance(o, c)
			t.ctr.CompDist++
			if d < bestDist {
				bestDist, best = d, i
			}
		}
		groups[best] = append(groups[best], o)
	}
	return groups
}

func (t *PMTree) Open(path string, db objectdb.DB) error {
	t.db = db
	t.headerPath = path + ".pmtree.header"
	b, err := os.ReadFile(t.headerPath)
	if err != nil {
		return err
	}
	root, rest := getInt64(b)
	t.rootOffset = root
	t.pivots, _ = getObjIds(rest)
	nodeRAF, err := raf.Open(path + ".pmtree")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF
	return nil
}

// pivotLowerBound is the LAESA-style L-infinity bound: an entry can only
// contain an object within distance d of q if every pivot's interval allows
// it, so the max per-pivot violation lower-bounds d(q, anything in entry).
func (t *PMTree) pivotLowerBound(qPivotDist []float64, e pmtreeEntry) float64 {
	lb := 0.0
	for i, qd := range qPivotDist {
		var v float64
		switch {
		case qd < e.pivotMin[i]:
			v = e.pivotMin[i] - qd
		case qd > e.pivotMax[i]:
			v = qd - e.pivotMax[i]
		default:
			v = 0
		}
		if v > lb {
			lb = v
		}
	}
	return lb
}

func (t *PMTree) queryPivotDistances(q objectdb.ObjId) []float64 {
	qd := make([]float64, len(t.pivots))
	for i, p := range t.pivots {
		qd[i] = t.db.Distance(q, p)
		t.ctr.CompDist++
	}
	return qd
}

func (t *PMTree) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	if t.rootOffset < 0 {
		return nil
	}
	qd := t.queryPivotDistances(q)
	var out []objectdb.ObjId
	t.rangeSubtree(t.rootOffset, q, r, math.NaN(), qd, &out)
	sortObjIds(out)
	return out
}

func (t *PMTree) rangeSubtree(offset int64, q objectdb.ObjId, r float64, dParentQ float64, qd []float64, out *[]objectdb.ObjId) {
	node, err := t.readNode(offset)
	if err != nil {
		return
	}
	for _, e := range node.entries {
		if t.pivotLowerBound(qd, e) > r {
			continue
		}
		if !math.IsNaN(dParentQ) {
			lb := math.Abs(dParentQ - e.parentDist)
			if lb > r+e.radius {
				continue
			}
		}
		d := t.db.Distance(q, e.obj)
		t.ctr.CompDist++
		if node.isLeaf {
			if d <= r {
				*out = append(*out, e.obj)
			}
			continue
		}
		if d > r+e.radius {
			continue
		}
		t.rangeSubtree(e.childOffset, q, r, d, qd, out)
	}
}

func (t *PMTree) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if t.rootOffset < 0 || k <= 0 {
		return nil
	}
	qd := t.queryPivotDistances(q)
	best := newSMBestK(k)
	t.knnSubtree(t.rootOffset, q, math.NaN(), qd, best)
	return best.Results()
}

func (t *PMTree) knnSubtree(offset int64, q objectdb.ObjId, dParentQ float64, qd []float64, best *smBestK) {
	node, err := t.readNode(offset)
	if err != nil {
		return
	}
	type cand struct {
		lb     float64
		dist   float64
		offset int64
	}
	cands := make([]cand, 0, len(node.entries))
	for _, e := range node.entries {
		tau := best.Tau()
		if best.Full() {
			if t.pivotLowerBound(qd, e) > tau {
				continue
			}
			if !math.IsNaN(dParentQ) {
				lb := math.Abs(dParentQ - e.parentDist)
				if lb > tau+e.radius {
					continue
				}
			}
		}
		d := t.db.Distance(q, e.obj)
		t.ctr.CompDist++
		if node.isLeaf {
			best.Offer(Neighbor{ID: e.obj, Dist: d})
			continue
		}
		lb := d - e.radius
		if lb < 0 {
			lb = 0
		}
		cands = append(cands, cand{lb, d, e.childOffset})
	}
	if node.isLeaf {
		return
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].lb < cands[j].lb })
	for _, c := range cands {
		tau := best.Tau()
		if best.Full() && c.lb > tau {
			continue
		}
		t.knnSubtree(c.offset, q, c.dist, qd, best)
	}
}

func (t *PMTree) Counters() Counters {
	c := t.ctr
	if t.nodeRAF != nil {
		c.PageReads = t.nodeRAF.PageReads()
		c.PageWrites = t.nodeRAF.PageWrites()
	}
	return c
}

func (t *PMTree) ResetCounters() {
	t.ctr = Counters{}
	if t.nodeRAF != nil {
		t.nodeRAF.ResetCounters()
	}
}

func (t *PMTree) Close() error {
	if t.nodeRAF != nil {
		return t.nodeRAF.Close()
	}
	return nil
}

var _ Index = (*PMTree)(nil)
