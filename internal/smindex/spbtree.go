package smindex

import (
	"context"
	"math"
	"os"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/raf"
)

// spbEntry mirrors omniREntry's on-disk shape: a leaf entry is a pivot-
// mapped point plus its object id; an internal entry is a child's MBB plus
// its RAF offset.
type spbEntry struct {
	mbbMin, mbbMax []float64
	obj            objectdb.ObjId
	childOffset    int64
}

type spbNode struct {
	isLeaf  bool
	entries []spbEntry
}

func encodeSPBNode(n spbNode) []byte {
	var buf []byte
	leafFlag := int64(0)
	if n.isLeaf {
		leafFlag = 1
	}
	buf = putInt64(buf, leafFlag)
	buf = putInt64(buf, int64(len(n.entries)))
	for _, e := range n.entries {
		buf = putFloat64s(buf, e.mbbMin)
		buf = putFloat64s(buf, e.mbbMax)
		if n.isLeaf {
			buf = putObjId(buf, e.obj)
		} else {
			buf = putInt64(buf, e.childOffset)
		}
	}
	return buf
}

func decodeSPBNode(b []byte) spbNode {
	leafFlag, rest := getInt64(b)
	count, rest := getInt64(rest)
	isLeaf := leafFlag == 1
	entries := make([]spbEntry, count)
	for i := range entries {
		var mmin, mmax []float64
		mmin, rest = getFloat64s(rest)
		mmax, rest = getFloat64s(rest)
		if isLeaf {
			var obj objectdb.ObjId
			obj, rest = getObjId(rest)
			entries[i] = spbEntry{mbbMin: mmin, mbbMax: mmax, obj: obj}
		} else {
			var off int64
			off, rest = getInt64(rest)
			entries[i] = spbEntry{mbbMin: mmin, mbbMax: mmax, childOffset: off}
		}
	}
	return spbNode{isLeaf: isLeaf, entries: entries}
}

// SPBTree is spec §4.6's SPB-tree: objects are pivot-mapped, discretized,
// and ordered by a Z-order (Morton) space-filling-curve key, then bulk
// loaded bottom-up into a B+-tree whose nodes carry the pivot-space MBB of
// their subtree.
type SPBTree struct {
	db         objectdb.DB
	nodeRAF    *raf.RAF
	headerPath string
	rootOffset int64
	pivots     []objectdb.ObjId
	cap        int
	ctr        Counters
}

func NewSPBTree() *SPBTree { return &SPBTree{} }

func (t *SPBTree) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error {
	if cfg.NodeCapacity <= 1 {
		cfg.NodeCapacity = 8
	}
	if cfg.PivotCount <= 0 {
		cfg.PivotCount = 4
	}
	t.db = db
	t.cap = cfg.NodeCapacity
	t.headerPath = path + ".spbtree.header"

	nodeRAF, err := raf.Create(path + ".spbtree")
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

	points := make([][]float64, n)
	for i := 0; i < n; i++ {
		points[i] = t.phi(objectdb.ObjId(i))
	}
	mins, maxs := boundsOf(points)
	keys := make([]uint64, n)
	for i, p := range points {
		keys[i] = mortonKey(p, mins, maxs)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if keys[order[a]] != keys[order[b]] {
			return keys[order[a]] < keys[order[b]]
		}
		return order[a] < order[b]
	})

	leafMin := make([][]float64, 0)
	leafMax := make([][]float64, 0)
	var leafOffsets []int64
	for i := 0; i < n; i += t.cap {
		end := i + t.cap
		if end > n {
			end = n
		}
		entries := make([]spbEntry, 0, end-i)
		lmin := fullSlice(len(t.pivots), math.Inf(1))
		lmax := fullSlice(len(t.pivots), math.Inf(-1))
		for _, idx := range order[i:end] {
			p := points[idx]
			entries = append(entries, spbEntry{mbbMin: p, mbbMax: p, obj: objectdb.ObjId(idx)})
			mergeInterval(lmin, lmax, p, p)
		}
		off, err := t.nodeRAF.Write(objectdb.ObjId(0), encodeSPBNode(spbNode{isLeaf: true, entries: entries}))
		if err != nil {
			return err
		}
		leafOffsets = append(leafOffsets, off)
		leafMin = append(leafMin, lmin)
		leafMax = append(leafMax, lmax)
	}

	offset, err := t.buildInternalLevels(leafOffsets, leafMin, leafMax)
	if err != nil {
		return err
	}
	t.rootOffset = offset
	return t.writeHeader()
}

// buildInternalLevels groups child offsets into parent nodes cap-at-a-time,
// bottom-up, until a single root offset remains.
func (t *SPBTree) buildInternalLevels(offsets []int64, mins, maxs [][]float64) (int64, error) {
	if len(offsets) == 1 {
		return offsets[0], nil
	}
	var nextOffsets []int64
	var nextMin, nextMax [][]float64
	for i := 0; i < len(offsets); i += t.cap {
		end := i + t.cap
		if end > len(offsets) {
			end = len(offsets)
		}
		entries := make([]spbEntry, 0, end-i)
		pmin := fullSlice(len(t.pivots), math.Inf(1))
		pmax := fullSlice(len(t.pivots), math.Inf(-1))
		for j := i; j < end; j++ {
			entries = append(entries, spbEntry{mbbMin: mins[j], mbbMax: maxs[j], childOffset: offsets[j]})
			mergeInterval(pmin, pmax, mins[j], maxs[j])
		}
		off, err := t.nodeRAF.Write(objectdb.ObjId(0), encodeSPBNode(spbNode{isLeaf: false, entries: entries}))
		if err != nil {
			return 0, err
		}
		nextOffsets = append(nextOffsets, off)
		nextMin = append(nextMin, pmin)
		nextMax = append(nextMax, pmax)
	}
	return t.buildInternalLevels(nextOffsets, nextMin, nextMax)
}

func boundsOf(points [][]float64) ([]float64, []float64) {
	dims := len(points[0])
	mins := fullSlice(dims, math.Inf(1))
	maxs := fullSlice(dims, math.Inf(-1))
	for _, p := range points {
		mergeInterval(mins, maxs, p, p)
	}
	return mins, maxs
}

// mortonKey discretizes each coordinate to a 16-bit grid cell and
// interleaves the bits across dimensions to produce a Z-order key.
func mortonKey(p, mins, maxs []float64) uint64 {
	const bits = 16
	const maxCell = (1 << bits) - 1
	dims := len(p)
	if dims == 0 {
		return 0
	}
	bitsPerDim := 63 / dims
	if bitsPerDim > bits {
		bitsPerDim = bits
	}
	if bitsPerDim < 1 {
		bitsPerDim = 1
	}
	cellMax := uint64(1)<<bitsPerDim - 1
	cells := make([]uint64, dims)
	for i := range p {
		span := maxs[i] - mins[i]
		if span <= 0 {
			cells[i] = 0
			continue
		}
		frac := (p[i] - mins[i]) / span
		c := uint64(frac * float64(cellMax))
		if c > maxCell {
			c = maxCell
		}
		cells[i] = c
	}
	var key uint64
	for bit := 0; bit < bitsPerDim; bit++ {
		for i, c := range cells {
			if c&(1<<bit) != 0 {
				key |= 1 << uint((bit*dims)+i)
			}
		}
	}
	return key
}

func (t *SPBTree) choosePivots(count, n int) {
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

func (t *SPBTree) phi(o objectdb.ObjId) []float64 {
	p := make([]float64, len(t.pivots))
	for i, pv := range t.pivots {
		p[i] = t.db.Distance(o, pv)
		t.ctr.CompDist++
	}
	return p
}

func (t *SPBTree) writeHeader() error {
	var buf []byte
	buf = putInt64(buf, t.rootOffset)
	buf = putObjIds(buf, t.pivots)
	return os.WriteFile(t.headerPath, buf, 0o644)
}

func (t *SPBTree) Open(path string, db objectdb.DB) error {
	t.db = db
	t.headerPath = path + ".spbtree.header"
	b, err := os.ReadFile(t.headerPath)
	if err != nil {
		return err
	}
	t.rootOffset, b = getInt64(b)
	t.pivots, _ = getObjIds(b)
	nodeRAF, err := raf.Open(path + ".spbtree")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF
	return nil
}

func (t *SPBTree) readNode(offset int64) (spbNode, error) {
	payload, err := t.nodeRAF.Read(offset)
	if err != nil {
		return spbNode{}, err
	}
	return decodeSPBNode(payload), nil
}

func (t *SPBTree) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	if t.rootOffset < 0 {
		return nil
	}
	qphi := t.phi(q)
	var out []objectdb.ObjId
	t.rangeSubtree(t.rootOffset, q, r, qphi, &out)
	sortObjIds(out)
	return out
}

// rangeSubtree applies Lemma 1 (box containment against qphi +- r) to skip
// whole subtrees, then Lemma 2 at the leaf: an entry whose own pivot
// distance already certifies d(o,q) <= r via the triangle inequality is
// accepted without a true distance call.
func (t *SPBTree) rangeSubtree(offset int64, q objectdb.ObjId, r float64, qphi []float64, out *[]objectdb.ObjId) {
	node, err := t.readNode(offset)
	if err != nil {
		return
	}
	for _, e := range node.entries {
		if boxLowerBound(qphi, e.mbbMin, e.mbbMax) > r {
			continue
		}
		if !node.isLeaf {
			t.rangeSubtree(e.childOffset, q, r, qphi, out)
			continue
		}
		if lemma2Certified(qphi, e.mbbMin, r) {
			*out = append(*out, e.obj)
			continue
		}
		d := t.db.Distance(q, e.obj)
		t.ctr.CompDist++
		if d <= r {
			*out = append(*out, e.obj)
		}
	}
}

// lemma2Certified checks spec §4.6's Lemma 2: if some pivot p_i has
// d(o,p_i) <= r - d(q,p_i), triangle inequality guarantees d(o,q) <= r.
func lemma2Certified(qphi, objPhi []float64, r float64) bool {
	for i, qd := range qphi {
		if objPhi[i] <= r-qd {
			return true
		}
	}
	return false
}

func (t *SPBTree) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if t.rootOffset < 0 || k <= 0 {
		return nil
	}
	qphi := t.phi(q)
	best := newSMBestK(k)
	t.knnSubtree(t.rootOffset, q, qphi, best)
	return best.Results()
}

// knnSubtree is best-first by MBB lower bound, stopping a branch once its
// bound can no longer beat the current k-th distance (curNDk = best.Tau()).
func (t *SPBTree) knnSubtree(offset int64, q objectdb.ObjId, qphi []float64, best *smBestK) {
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
		if best.Full() && lb >= best.Tau() {
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
		if best.Full() && c.lb >= best.Tau() {
			continue
		}
		t.knnSubtree(c.offset, q, qphi, best)
	}
}

func (t *SPBTree) Counters() Counters {
	c := t.ctr
	if t.nodeRAF != nil {
		c.PageReads = t.nodeRAF.PageReads()
		c.PageWrites = t.nodeRAF.PageWrites()
	}
	return c
}

func (t *SPBTree) ResetCounters() {
	t.ctr = Counters{}
	if t.nodeRAF != nil {
		t.nodeRAF.ResetCounters()
	}
}

func (t *SPBTree) Close() error {
	if t.nodeRAF != nil {
		return t.nodeRAF.Close()
	}
	return nil
}

var _ Index = (*SPBTree)(nil)
