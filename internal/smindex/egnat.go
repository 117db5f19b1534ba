package smindex

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/raf"
)

// egnatLeafEntry is a leaf object plus its distance to the pivot that owns
// this leaf's region, so Lemma 4.2 filtering can skip the true d(q,o) call
// (spec §4.6 "leaves store (objId, distParent)").
type egnatLeafEntry struct {
	obj        objectdb.ObjId
	parentDist float64
}

type egnatNode struct {
	isLeaf       bool
	leaf         []egnatLeafEntry
	pivots       []objectdb.ObjId
	minDist      [][]float64
	maxDist      [][]float64
	childOffsets []int64
}

func encodeEGNATNode(n egnatNode) []byte {
	var buf []byte
	leafFlag := int64(0)
	if n.isLeaf {
		leafFlag = 1
	}
	buf = putInt64(buf, leafFlag)
	if n.isLeaf {
		buf = putInt64(buf, int64(len(n.leaf)))
		for _, e := range n.leaf {
			buf = putObjId(buf, e.obj)
			buf = putFloat64(buf, e.parentDist)
		}
		return buf
	}
	buf = putObjIds(buf, n.pivots)
	m := len(n.pivots)
	for i := 0; i < m; i++ {
		buf = putFloat64s(buf, n.minDist[i])
		buf = putFloat64s(buf, n.maxDist[i])
	}
	buf = putInt64(buf, int64(len(n.childOffsets)))
	for _, off := range n.childOffsets {
		buf = putInt64(buf, off)
	}
	return buf
}

func decodeEGNATNode(b []byte) egnatNode {
	leafFlag, rest := getInt64(b)
	if leafFlag == 1 {
		count, rest2 := getInt64(rest)
		entries := make([]egnatLeafEntry, count)
		for i := range entries {
			var obj objectdb.ObjId
			obj, rest2 = getObjId(rest2)
			var d float64
			d, rest2 = getFloat64(rest2)
			entries[i] = egnatLeafEntry{obj, d}
		}
		return egnatNode{isLeaf: true, leaf: entries}
	}
	pivots, rest2 := getObjIds(rest)
	m := len(pivots)
	minDist := make([][]float64, m)
	maxDist := make([][]float64, m)
	for i := 0; i < m; i++ {
		minDist[i], rest2 = getFloat64s(rest2)
		maxDist[i], rest2 = getFloat64s(rest2)
	}
	childCount, rest2 := getInt64(rest2)
	children := make([]int64, childCount)
	for i := range children {
		children[i], rest2 = getInt64(rest2)
	}
	return egnatNode{isLeaf: false, pivots: pivots, minDist: minDist, maxDist: maxDist, childOffsets: children}
}

// EGNAT is spec §4.6's disk-resident GNAT: same farthest-first pivot
// selection and per-(pivot,region) MBB pruning as the main-memory GNAT,
// persisted post-order through a RAF with Lemma 4.2 leaf filtering.
type EGNAT struct {
	db         objectdb.DB
	nodeRAF    *raf.RAF
	headerPath string
	rootOffset int64
	maxM       int
	bucket     int
	ctr        Counters
}

func NewEGNAT() *EGNAT { return &EGNAT{} }

func (t *EGNAT) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error {
	if cfg.PivotCount <= 0 {
		cfg.PivotCount = 3
	}
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = 4
	}
	t.db = db
	t.maxM = cfg.PivotCount
	t.bucket = cfg.BucketSize
	t.headerPath = path + ".egnat.header"

	nodeRAF, err := raf.Create(path + ".egnat")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF

	all := make([]objectdb.ObjId, db.Size())
	for i := range all {
		all[i] = objectdb.ObjId(i)
	}
	if len(all) == 0 {
		t.rootOffset = -1
		return t.writeHeader()
	}
	offset, err := t.build(all, t.maxM, 0, false)
	if err != nil {
		return err
	}
	t.rootOffset = offset
	return t.writeHeader()
}

func (t *EGNAT) writeHeader() error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(t.rootOffset))
	return os.WriteFile(t.headerPath, b[:], 0o644)
}

func (t *EGNAT) build(objs []objectdb.ObjId, pivotCnt int, parentPivot objectdb.ObjId, hasParent bool) (int64, error) {
	if len(objs) <= t.bucket || len(objs) < 2 {
		entries := make([]egnatLeafEntry, len(objs))
		for i, o := range objs {
			d := 0.0
			if hasParent {
				d = t.db.Distance(parentPivot, o)
				t.ctr.CompDist++
			}
			entries[i] = egnatLeafEntry{o, d}
		}
		return t.writeNode(egnatNode{isLeaf: true, leaf: entries})
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
		minDist[i] = fullSlice(len(pivots), math.Inf(1))
		maxDist[i] = fullSlice(len(pivots), math.Inf(-1))
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

	total := len(objs)
	childOffsets := make([]int64, len(pivots))
	for j, region := range regions {
		next := len(region) * t.maxM * pivotCnt / total
		if next < 1 {
			next = 1
		}
		if next > t.maxM {
			next = t.maxM
		}
		off, err := t.build(region, next, pivots[j], true)
		if err != nil {
			return 0, err
		}
		childOffsets[j] = off
	}
	return t.writeNode(egnatNode{pivots: pivots, minDist: minDist, maxDist: maxDist, childOffsets: childOffsets})
}

func (t *EGNAT) farthestFirst(objs []objectdb.ObjId, n int) []objectdb.ObjId {
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

func (t *EGNAT) writeNode(n egnatNode) (int64, error) {
	return t.nodeRAF.Write(objectdb.ObjId(0), encodeEGNATNode(n))
}

func (t *EGNAT) readNode(offset int64) (egnatNode, error) {
	payload, err := t.nodeRAF.Read(offset)
	if err != nil {
		return egnatNode{}, err
	}
	return decodeEGNATNode(payload), nil
}

func (t *EGNAT) Open(path string, db objectdb.DB) error {
	t.db = db
	t.headerPath = path + ".egnat.header"
	b, err := os.ReadFile(t.headerPath)
	if err != nil {
		return err
	}
	t.rootOffset = int64(binary.LittleEndian.Uint64(b))
	nodeRAF, err := raf.Open(path + ".egnat")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF
	return nil
}

func (t *EGNAT) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	if t.rootOffset < 0 {
		return nil
	}
	var out []objectdb.ObjId
	t.rangeSubtree(t.rootOffset, q, r, math.NaN(), &out)
	sortObjIds(out)
	return out
}

func (t *EGNAT) rangeSubtree(offset int64, q objectdb.ObjId, r, dParentQ float64, out *[]objectdb.ObjId) {
	node, err := t.readNode(offset)
	if err != nil {
		return
	}
	if node.isLeaf {
		for _, e := range node.leaf {
			if !math.IsNaN(dParentQ) {
				if math.Abs(dParentQ-e.parentDist) > r {
					continue
				}
			}
			d := t.db.Distance(q, e.obj)
			t.ctr.CompDist++
			if d <= r {
				*out = append(*out, e.obj)
			}
		}
		return
	}
	qdist := make([]float64, len(node.pivots))
	for i, p := range node.pivots {
		qdist[i] = t.db.Distance(q, p)
		t.ctr.CompDist++
		if qdist[i] <= r {
			*out = append(*out, p)
		}
	}
	for j, childOff := range node.childOffsets {
		if t.regionPruned(node, qdist, j, r) {
			continue
		}
		t.rangeSubtree(childOff, q, r, qdist[j], out)
	}
}

func (t *EGNAT) regionPruned(n egnatNode, qdist []float64, j int, r float64) bool {
	for i := range n.pivots {
		if n.maxDist[i][j] < qdist[i]-r || n.minDist[i][j] > qdist[i]+r {
			return true
		}
	}
	return false
}

func (t *EGNAT) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if t.rootOffset < 0 || k <= 0 {
		return nil
	}
	best := newSMBestK(k)
	t.knnSubtree(t.rootOffset, q, math.NaN(), best)
	return best.Results()
}

func (t *EGNAT) knnSubtree(offset int64, q objectdb.ObjId, dParentQ float64, best *smBestK) {
	node, err := t.readNode(offset)
	if err != nil {
		return
	}
	if node.isLeaf {
		for _, e := range node.leaf {
			tau := best.Tau()
			if !math.IsNaN(dParentQ) && best.Full() {
				if math.Abs(dParentQ-e.parentDist) > tau {
					continue
				}
			}
			d := t.db.Distance(q, e.obj)
			t.ctr.CompDist++
			best.Offer(Neighbor{ID: e.obj, Dist: d})
		}
		return
	}
	qdist := make([]float64, len(node.pivots))
	for i, p := range node.pivots {
		qdist[i] = t.db.Distance(q, p)
		t.ctr.CompDist++
		best.Offer(Neighbor{ID: p, Dist: qdist[i]})
	}
	order := make([]int, len(node.pivots))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return qdist[order[a]] < qdist[order[b]] })
	for _, j := range order {
		tau := best.Tau()
		if t.regionPruned(node, qdist, j, tau) {
			continue
		}
		t.knnSubtree(node.childOffsets[j], q, qdist[j], best)
	}
}

func (t *EGNAT) Counters() Counters {
	c := t.ctr
	if t.nodeRAF != nil {
		c.PageReads = t.nodeRAF.PageReads()
		c.PageWrites = t.nodeRAF.PageWrites()
	}
	return c
}

func (t *EGNAT) ResetCounters() {
	t.ctr = Counters{}
	if t.nodeRAF != nil {
		t.nodeRAF.ResetCounters()
	}
}

func (t *EGNAT) Close() error {
	if t.nodeRAF != nil {
		return t.nodeRAF.Close()
	}
	return nil
}

var _ Index = (*EGNAT)(nil)
