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

// sampleThreshold is spec §4.5's "full set under a threshold, otherwise a
// stratified sample of ~10 000" size-adaptive center-selection cutoff.
const sampleThreshold = 10000

// mtreeEntry is one routing entry (internal node) or object entry (leaf
// node). Internal entries carry coveringRadius and childOffset; leaf
// entries carry neither (radius 0, childOffset -1).
type mtreeEntry struct {
	obj         objectdb.ObjId
	radius      float64
	parentDist  float64
	childOffset int64
}

type mtreeNode struct {
	isLeaf  bool
	entries []mtreeEntry
}

func encodeMTreeNode(n mtreeNode) []byte {
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
	}
	return buf
}

func decodeMTreeNode(b []byte) mtreeNode {
	leafFlag, rest := getInt64(b)
	count, rest := getInt64(rest)
	entries := make([]mtreeEntry, count)
	for i := range entries {
		var obj objectdb.ObjId
		obj, rest = getObjId(rest)
		var radius, parentDist float64
		radius, rest = getFloat64(rest)
		parentDist, rest = getFloat64(rest)
		var childOffset int64
		childOffset, rest = getInt64(rest)
		entries[i] = mtreeEntry{obj, radius, parentDist, childOffset}
	}
	return mtreeNode{isLeaf: leafFlag == 1, entries: entries}
}

// MTree implements spec §4.5's bulk-built M-tree: recursive farthest-first
// center selection (size-adaptively sampled), nearest-center assignment,
// post-order node writes so every child offset is already known when its
// parent is written, and Lemma 4.2 parent-distance filtering at query time.
type MTree struct {
	db         objectdb.DB
	nodeRAF    *raf.RAF
	headerPath string
	rootOffset int64
	nodeCap    int
	sampleCap  int
	ctr        Counters
}

func NewMTree() *MTree { return &MTree{} }

func (t *MTree) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error {
	if cfg.NodeCapacity <= 1 {
		cfg.NodeCapacity = 4
	}
	t.db = db
	t.nodeCap = cfg.NodeCapacity
	t.sampleCap = cfg.SampleSize
	if t.sampleCap <= 0 {
		t.sampleCap = sampleThreshold
	}
	t.headerPath = path + ".mtree.header"

	nodeRAF, err := raf.Create(path + ".mtree")
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
	_, _, offset, err := t.buildNode(all, 0, false)
	if err != nil {
		return err
	}
	t.rootOffset = offset
	return t.writeHeader()
}

func (t *MTree) writeHeader() error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(t.rootOffset))
	return os.WriteFile(t.headerPath, b[:], 0o644)
}

// buildNode writes the subtree over objs (post-order) and reports the
// routing object, covering radius, and byte offset a parent entry should
// reference. If hasForced, routingObj is fixed to forced (the center that
// caused this group to be split off by the caller); otherwise (root call)
// objs[0] is used.
func (t *MTree) buildNode(objs []objectdb.ObjId, forced objectdb.ObjId, hasForced bool) (objectdb.ObjId, float64, int64, error) {
	routingObj := objs[0]
	if hasForced {
		routingObj = forced
	}

	if len(objs) <= t.nodeCap {
		entries := make([]mtreeEntry, len(objs))
		radius := 0.0
		for i, o := range objs {
			d := t.db.Distance(routingObj, o)
			t.ctr.CompDist++
			entries[i] = mtreeEntry{obj: o, childOffset: -1, parentDist: d}
			if d > radius {
				radius = d
			}
		}
		offset, err := t.writeNode(mtreeNode{isLeaf: true, entries: entries})
		return routingObj, radius, offset, err
	}

	sample := objs
	if len(objs) > t.sampleCap {
		sample = stratifiedSample(objs, t.sampleCap)
	}
	centerCount := t.nodeCap
	centers := t.farthestFirstFrom(routingObj, sample, centerCount)

	groups := t.assignNearest(objs, centers)

	entries := make([]mtreeEntry, 0, len(groups))
	maxRadius := 0.0
	addEntry := func(g []objectdb.ObjId, forcedCenter objectdb.ObjId) error {
		childObj, childRadius, childOffset, err := t.buildNode(g, forcedCenter, true)
		if err != nil {
			return err
		}
		dParent := t.db.Distance(routingObj, childObj)
		t.ctr.CompDist++
		radiusToHere := dParent + childRadius
		if radiusToHere > maxRadius {
			maxRadius = radiusToHere
		}
		entries = append(entries, mtreeEntry{
			obj: childObj, radius: childRadius, parentDist: dParent, childOffset: childOffset,
		})
		return nil
	}
	for i, g := range groups {
		if len(g) == 0 {
			continue
		}
		if len(g) == len(objs) && len(objs) > t.nodeCap {
			// Degenerate partition (every object landed in one group):
			// force progress by chunking it deterministically instead of
			// recursing on an unchanged set.
			for _, chunk := range evenChunks(g, t.nodeCap) {
				if err := addEntry(chunk, chunk[0]); err != nil {
					return 0, 0, 0, err
				}
			}
			continue
		}
		if err := addEntry(g, centers[i]); err != nil {
			return 0, 0, 0, err
		}
	}
	offset, err := t.writeNode(mtreeNode{isLeaf: false, entries: entries})
	return routingObj, maxRadius, offset, err
}

func evenChunks(objs []objectdb.ObjId, size int) [][]objectdb.ObjId {
	var chunks [][]objectdb.ObjId
	for i := 0; i < len(objs); i += size {
		end := i + size
		if end > len(objs) {
			end = len(objs)
		}
		chunks = append(chunks, objs[i:end])
	}
	return chunks
}

func (t *MTree) writeNode(n mtreeNode) (int64, error) {
	off, err := t.nodeRAF.Write(objectdb.ObjId(0), encodeMTreeNode(n))
	if err != nil {
		return 0, err
	}
	return off, nil
}

func (t *MTree) readNode(offset int64) (mtreeNode, error) {
	payload, err := t.nodeRAF.Read(offset)
	if err != nil {
		return mtreeNode{}, err
	}
	return decodeMTreeNode(payload), nil
}

func (t *MTree) farthestFirstFrom(seed objectdb.ObjId, objs []objectdb.ObjId, n int) []objectdb.ObjId {
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

func (t *MTree) assignNearest(objs []objectdb.ObjId, centers []objectdb.ObjId) [][]objectdb.ObjId {
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

func stratifiedSample(objs []objectdb.ObjId, cap int) []objectdb.ObjId {
	if cap >= len(objs) {
		return objs
	}
	stride := len(objs) / cap
	if stride < 1 {
		stride = 1
	}
	out := make([]objectdb.ObjId, 0, cap)
	for i := 0; i < len(objs) && len(out) < cap; i += stride {
		out = append(out, objs[i])
	}
	return out
}

func (t *MTree) Open(path string, db objectdb.DB) error {
	t.db = db
	t.headerPath = path + ".mtree.header"
	b, err := os.ReadFile(t.headerPath)
	if err != nil {
		return err
	}
	t.rootOffset = int64(binary.LittleEndian.Uint64(b))
	nodeRAF, err := raf.Open(path + ".mtree")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF
	return nil
}

func (t *MTree) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	if t.rootOffset < 0 {
		return nil
	}
	var out []objectdb.ObjId
	t.rangeSubtree(t.rootOffset, q, r, math.NaN(), &out)
	sortObjIds(out)
	return out
}

// rangeSubtree descends into the node at offset. dParentQ is d(q, P) for
// this node's own routing object P, already computed by the caller (NaN
// at the root). Lemma 4.2: an entry's stored parentDist is d(P, R), so
// |dParentQ - parentDist| lower-bounds d(q, R) without a new distance
// call; only entries that survive that bound pay for the real d(q, R).
func (t *MTree) rangeSubtree(offset int64, q objectdb.ObjId, r float64, dParentQ float64, out *[]objectdb.ObjId) {
	node, err := t.readNode(offset)
	if err != nil {
		return
	}
	for _, e := range node.entries {
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
		t.rangeSubtree(e.childOffset, q, r, d, out)
	}
}

func (t *MTree) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if t.rootOffset < 0 || k <= 0 {
		return nil
	}
	best := newSMBestK(k)
	t.knnSubtree(t.rootOffset, q, math.NaN(), best)
	return best.Results()
}

// knnSubtree mirrors rangeSubtree's Lemma 4.2 use of dParentQ, but prunes
// against the current kNN threshold tau (best.Tau()) instead of a fixed r
// — spec §4.5's "best-first over subtrees keyed by max(0, d(q,R) - r_R)".
func (t *MTree) knnSubtree(offset int64, q objectdb.ObjId, dParentQ float64, best *smBestK) {
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
		if !math.IsNaN(dParentQ) && best.Full() {
			lb := math.Abs(dParentQ - e.parentDist)
			if lb > tau+e.radius {
				continue
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
		t.knnSubtree(c.offset, q, c.dist, best)
	}
}

func (t *MTree) Counters() Counters {
	c := t.ctr
	if t.nodeRAF != nil {
		c.PageReads = t.nodeRAF.PageReads()
		c.PageWrites = t.nodeRAF.PageWrites()
	}
	return c
}

func (t *MTree) ResetCounters() {
	t.ctr = Counters{}
	if t.nodeRAF != nil {
		t.nodeRAF.ResetCounters()
	}
}

func (t *MTree) Close() error {
	if t.nodeRAF != nil {
		return t.nodeRAF.Close()
	}
	return nil
}

var _ Index = (*MTree)(nil)
