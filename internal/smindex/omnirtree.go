package smindex

import (
	"context"
	"math"
	"os"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/raf"
)

// omniREntry is one entry of an in-memory R-tree node built over pivot-
// mapped points phi(o) = (d(o,p_1), ..., d(o,p_m)) (spec §4.6). Leaf
// entries carry a point and its object id; internal entries carry the MBB
// of a child subtree.
type omniREntry struct {
	mbbMin, mbbMax []float64
	obj            objectdb.ObjId
	child          *omniRNode
}

type omniRNode struct {
	isLeaf  bool
	entries []omniREntry
}

// OmniRTree is spec §4.6's OmniR-tree: the data is pivot-mapped once, then
// inserted point-by-point into a standard R-tree (choose-subtree by least
// area enlargement, linear-time split on overflow).
type OmniRTree struct {
	db         objectdb.DB
	nodeRAF    *raf.RAF
	headerPath string
	rootOffset int64
	pivots     []objectdb.ObjId
	cap        int
	root       *omniRNode // build-time only, in memory
	ctr        Counters
}

func NewOmniRTree() *OmniRTree { return &OmniRTree{} }

func (t *OmniRTree) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error {
	if cfg.NodeCapacity <= 2 {
		cfg.NodeCapacity = 4
	}
	if cfg.PivotCount <= 0 {
		cfg.PivotCount = 4
	}
	t.db = db
	t.cap = cfg.NodeCapacity
	t.headerPath = path + ".omnirtree.header"

	nodeRAF, err := raf.Create(path + ".omnirtree")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF

	n := db.Size()
	t.choosePivots(cfg.PivotCount, n)
	if n == 0 {
		t.rootOffset = -1
		return t.writeHeader()
	}
	for i := 0; i < n; i++ {
		o := objectdb.ObjId(i)
		point := t.phi(o)
		t.insert(point, o)
	}
	offset, err := t.persist(t.root)
	if err != nil {
		return err
	}
	t.rootOffset = offset
	return t.writeHeader()
}

func (t *OmniRTree) choosePivots(count, n int) {
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

func (t *OmniRTree) phi(o objectdb.ObjId) []float64 {
	p := make([]float64, len(t.pivots))
	for i, pv := range t.pivots {
		p[i] = t.db.Distance(o, pv)
		t.ctr.CompDist++
	}
	return p
}

// --- in-memory R-tree construction ---

func (t *OmniRTree) insert(point []float64, obj objectdb.ObjId) {
	e := omniREntry{mbbMin: point, mbbMax: point, obj: obj}
	if t.root == nil {
		t.root = &omniRNode{isLeaf: true, entries: []omniREntry{e}}
		return
	}
	a, b := t.insertNode(t.root, e)
	if b == nil {
		t.root = a
		return
	}
	t.root = &omniRNode{isLeaf: false, entries: []omniREntry{
		{mbbMin: mbbMinOf(a), mbbMax: mbbMaxOf(a), child: a},
		{mbbMin: mbbMinOf(b), mbbMax: mbbMaxOf(b), child: b},
	}}
}

func (t *OmniRTree) insertNode(n *omniRNode, e omniREntry) (*omniRNode, *omniRNode) {
	if n.isLeaf {
		n.entries = append(n.entries, e)
		if len(n.entries) <= t.cap {
			return n, nil
		}
		return linearSplit(n.entries, true)
	}
	idx := chooseChild(n.entries, e.mbbMin)
	child := n.entries[idx].child
	newChild, extra := t.insertNode(child, e)
	n.entries[idx].child = newChild
	n.entries[idx].mbbMin, n.entries[idx].mbbMax = mbbMinOf(newChild), mbbMaxOf(newChild)
	if extra != nil {
		n.entries = append(n.entries, omniREntry{mbbMin: mbbMinOf(extra), mbbMax: mbbMaxOf(extra), child: extra})
	}
	if len(n.entries) <= t.cap {
		return n, nil
	}
	return linearSplit(n.entries, false)
}

func chooseChild(entries []omniREntry, point []float64) int {
	best, bestEnlarge, bestArea := -1, math.Inf(1), math.Inf(1)
	for i, e := range entries {
		enlarge, newArea := mbbEnlargement(e.mbbMin, e.mbbMax, point)
		if enlarge < bestEnlarge || (enlarge == bestEnlarge && newArea < bestArea) {
			best, bestEnlarge, bestArea = i, enlarge, newArea
		}
	}
	return best
}

func mbbEnlargement(min, max, point []float64) (float64, float64) {
	before := mbbArea(min, max)
	after := 1.0
	for i := range point {
		lo, hi := min[i], max[i]
		if point[i] < lo {
			lo = point[i]
		}
		if point[i] > hi {
			hi = point[i]
		}
		after *= (hi - lo + 1)
	}
	return after - before, after
}

func mbbArea(min, max []float64) float64 {
	area := 1.0
	for i := range min {
		area *= (max[i] - min[i] + 1)
	}
	return area
}

// linearSplit is Guttman's linear-time split heuristic: pick the pair of
// entries with the largest normalized separation along any dimension as
// seeds, then assign the rest by least enlargement.
func linearSplit(entries []omniREntry, isLeaf bool) (*omniRNode, *omniRNode) {
	seedA, seedB := pickSeeds(entries)
	groupA := []omniREntry{entries[seedA]}
	groupB := []omniREntry{entries[seedB]}
	minA, maxA := append([]float64{}, entries[seedA].mbbMin...), append([]float64{}, entries[seedA].mbbMax...)
	minB, maxB := append([]float64{}, entries[seedB].mbbMin...), append([]float64{}, entries[seedB].mbbMax...)

	for i, e := range entries {
		if i == seedA || i == seedB {
			continue
		}
		enlargeA, _ := mbbEnlargement(minA, maxA, e.mbbMin)
		enlargeA2, _ := mbbEnlargement(minA, maxA, e.mbbMax)
		if enlargeA2 > enlargeA {
			enlargeA = enlargeA2
		}
		enlargeB, _ := mbbEnlargement(minB, maxB, e.mbbMin)
		enlargeB2, _ := mbbEnlargement(minB, maxB, e.mbbMax)
		if enlargeB2 > enlargeB {
			enlargeB = enlargeB2
		}
		if enlargeA <= enlargeB {
			groupA = append(groupA, e)
			minA, maxA = unionInto(minA, maxA, e.mbbMin, e.mbbMax)
		} else {
			groupB = append(groupB, e)
			minB, maxB = unionInto(minB, maxB, e.mbbMin, e.mbbMax)
		}
	}
	return &omniRNode{isLeaf: isLeaf, entries: groupA}, &omniRNode{isLeaf: isLeaf, entries: groupB}
}

func pickSeeds(entries []omniREntry) (int, int) {
	if len(entries) == 0 {
		return 0, 0
	}
	dims := len(entries[0].mbbMin)
	bestSep, bestA, bestB := -1.0, 0, 1
	for d := 0; d < dims; d++ {
		hiLowIdx, loHighIdx := 0, 0
		for i, e := range entries {
			if e.mbbMin[d] > entries[hiLowIdx].mbbMin[d] {
				hiLowIdx = i
			}
			if e.mbbMax[d] < entries[loHighIdx].mbbMax[d] {
				loHighIdx = i
			}
		}
		width := 1.0
		for _, e := range entries {
			if e.mbbMax[d]-e.mbbMin[d]+1 > width {
				width = e.mbbMax[d] - e.mbbMin[d] + 1
			}
		}
		sep := (entries[hiLowIdx].mbbMin[d] - entries[loHighIdx].mbbMax[d]) / width
		if sep > bestSep && hiLowIdx != loHighIdx {
			bestSep, bestA, bestB = sep, hiLowIdx, loHighIdx
		}
	}
	if bestA == bestB {
		bestB = (bestA + 1) % len(entries)
	}
	return bestA, bestB
}

func unionInto(min, max, pmin, pmax []float64) ([]float64, []float64) {
	for i := range min {
		if pmin[i] < min[i] {
			min[i] = pmin[i]
		}
		if pmax[i] > max[i] {
			max[i] = pmax[i]
		}
	}
	return min, max
}

func mbbMinOf(n *omniRNode) []float64 {
	min := append([]float64{}, n.entries[0].mbbMin...)
	for _, e := range n.entries[1:] {
		for i := range min {
			if e.mbbMin[i] < min[i] {
				min[i] = e.mbbMin[i]
			}
		}
	}
	return min
}

func mbbMaxOf(n *omniRNode) []float64 {
	max := append([]float64{}, n.entries[0].mbbMax...)
	for _, e := range n.entries[1:] {
		for i := range max {
			if e.mbbMax[i] > max[i] {
				max[i] = e.mbbMax[i]
			}
		}
	}
	return max
}

// --- RAF persistence (post-order so child offsets are known) ---

func (t *OmniRTree) persist(n *omniRNode) (int64, error) {
	var entries []omniREntry
	if n.isLeaf {
		entries = n.entries
	} else {
		entries = make([]omniREntry, len(n.entries))
		for i, e := range n.entries {
			childOffset, err := t.persist(e.child)
			if err != nil {
				return 0, err
			}
			entries[i] = omniREntry{mbbMin: e.mbbMin, mbbMax: e.mbbMax, obj: objectdb.ObjId(childOffset)}
		}
	}
	return t.nodeRAF.Write(objectdb.ObjId(0), encodeOmniRNode(n.isLeaf, entries))
}

func encodeOmniRNode(isLeaf bool, entries []omniREntry) []byte {
	var buf []byte
	leafFlag := int64(0)
	if isLeaf {
		leafFlag = 1
	}
	buf = putInt64(buf, leafFlag)
	buf = putInt64(buf, int64(len(entries)))
	for _, e := range entries {
		buf = putFloat64s(buf, e.mbbMin)
		buf = putFloat64s(buf, e.mbbMax)
		if isLeaf {
			buf = putObjId(buf, e.obj)
		} else {
			buf = putInt64(buf, int64(e.obj))
		}
	}
	return buf
}

type omniRDiskEntry struct {
	mbbMin, mbbMax []float64
	obj            objectdb.ObjId
	childOffset    int64
}

type omniRDiskNode struct {
	isLeaf  bool
	entries []omniRDiskEntry
}

func decodeOmniRNode(b []byte) omniRDiskNode {
	leafFlag, rest := getInt64(b)
	count, rest := getInt64(rest)
	isLeaf := leafFlag == 1
	entries := make([]omniRDiskEntry, count)
	for i := range entries {
		var mmin, mmax []float64
		mmin, rest = getFloat64s(rest)
		mmax, rest = getFloat64s(rest)
		if isLeaf {
			var obj objectdb.ObjId
			obj, rest = getObjId(rest)
			entries[i] = omniRDiskEntry{mbbMin: mmin, mbbMax: mmax, obj: obj}
		} else {
			var off int64
			off, rest = getInt64(rest)
			entries[i] = omniRDiskEntry{mbbMin: mmin, mbbMax: mmax, childOffset: off}
		}
	}
	return omniRDiskNode{isLeaf: isLeaf, entries: entries}
}

func (t *OmniRTree) writeHeader() error {
	var buf []byte
	buf = putInt64(buf, t.rootOffset)
	buf = putObjIds(buf, t.pivots)
	return os.WriteFile(t.headerPath, buf, 0o644)
}

func (t *OmniRTree) Open(path string, db objectdb.DB) error {
	t.db = db
	t.headerPath = path + ".omnirtree.header"
	b, err := os.ReadFile(t.headerPath)
	if err != nil {
		return err
	}
	t.rootOffset, b = getInt64(b)
	t.pivots, _ = getObjIds(b)
	nodeRAF, err := raf.Open(path + ".omnirtree")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF
	return nil
}

func (t *OmniRTree) readNode(offset int64) (omniRDiskNode, error) {
	payload, err := t.nodeRAF.Read(offset)
	if err != nil {
		return omniRDiskNode{}, err
	}
	return decodeOmniRNode(payload), nil
}

func (t *OmniRTree) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	if t.rootOffset < 0 {
		return nil
	}
	qphi := t.phi(q)
	var out []objectdb.ObjId
	t.rangeSubtree(t.rootOffset, q, r, qphi, &out)
	sortObjIds(out)
	return out
}

func (t *OmniRTree) rangeSubtree(offset int64, q objectdb.ObjId, r float64, qphi []float64, out *[]objectdb.ObjId) {
	node, err := t.readNode(offset)
	if err != nil {
		return
	}
	for _, e := range node.entries {
		if boxLowerBound(qphi, e.mbbMin, e.mbbMax) > r {
			continue
		}
		if node.isLeaf {
			d := t.db.Distance(q, e.obj)
			t.ctr.CompDist++
			if d <= r {
				*out = append(*out, e.obj)
			}
			continue
		}
		t.rangeSubtree(e.childOffset, q, r, qphi, out)
	}
}

// boxLowerBound is the L-infinity distance from qphi to the MBB: zero if
// qphi falls inside, else the largest per-dimension excursion. Triangle
// inequality guarantees any true match within r has d(o,p_i) within r of
// d(q,p_i) for every pivot, so a box miss here proves no match exists.
func boxLowerBound(qphi, min, max []float64) float64 {
	lb := 0.0
	for i, q := range qphi {
		var v float64
		switch {
		case q < min[i]:
			v = min[i] - q
		case q > max[i]:
			v = q - max[i]
		default:
			v = 0
		}
		if v > lb {
			lb = v
		}
	}
	return lb
}

func (t *OmniRTree) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if t.rootOffset < 0 || k <= 0 {
		return nil
	}
	qphi := t.phi(q)
	best := newSMBestK(k)
	t.knnSubtree(t.rootOffset, q, qphi, best)
	return best.Results()
}

func (t *OmniRTree) knnSubtree(offset int64, q objectdb.ObjId, qphi []float64, best *smBestK) {
	node, err := t.readNode(offset)
	if err != nil {
		return
	}
	type cand struct {
		lb     float64
		offset int64
	}
	cands := make([]cand, 0, len(node.entries))
	for _, e := range node.entries {
		lb := boxLowerBound(qphi, e.mbbMin, e.mbbMax)
		if best.Full() && lb > best.Tau() {
			continue
		}
		if node.isLeaf {
			d := t.db.Distance(q, e.obj)
			t.ctr.CompDist++
			best.Offer(Neighbor{ID: e.obj, Dist: d})
			continue
		}
		cands = append(cands, cand{lb, e.childOffset})
	}
	if node.isLeaf {
		return
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].lb < cands[j].lb })
	for _, c := range cands {
		if best.Full() && c.lb > best.Tau() {
			continue
		}
		t.knnSubtree(c.offset, q, qphi, best)
	}
}

func (t *OmniRTree) Counters() Counters {
	c := t.ctr
	if t.nodeRAF != nil {
		c.PageReads = t.nodeRAF.PageReads()
		c.PageWrites = t.nodeRAF.PageWrites()
	}
	return c
}

func (t *OmniRTree) ResetCounters() {
	t.ctr = Counters{}
	if t.nodeRAF != nil {
		t.nodeRAF.ResetCounters()
	}
}

func (t *OmniRTree) Close() error {
	if t.nodeRAF != nil {
		return t.nodeRAF.Close()
	}
	return nil
}

var _ Index = (*OmniRTree)(nil)
