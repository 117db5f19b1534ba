package smindex

import (
	"context"
	"os"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/raf"
)

// mbpBlock is one leaf block of spec §4.6's MB+-tree: a run of the
// sorted (partitionKey, distanceKey) dictionary, persisted contiguously
// so a surviving block costs exactly one page read.
type mbpBlock struct {
	partMin, partMax int
	distMin, distMax float64
	offset           int64
	count            int
	members          []objectdb.ObjId
	dists            []float64
	loaded           bool
}

// MBPTree implements spec §4.6's MB+-tree: a single rho-split around one
// center pivot produces a partition key (left/band/right); within each
// partition objects are ordered by distance to the center, and that
// composite (partitionKey, distanceKey) order is bulk-loaded into fixed
// size blocks acting as an ordered dictionary's leaf level.
type MBPTree struct {
	db         objectdb.DB
	nodeRAF    *raf.RAF
	headerPath string
	center     objectdb.ObjId
	dMed       float64
	rho        float64
	blockSize  int
	blocks     []mbpBlock
	ctr        Counters
}

const (
	mbpPartLeft  = 0
	mbpPartBand  = 1
	mbpPartRight = 2
)

func NewMBPTree() *MBPTree { return &MBPTree{} }

func (t *MBPTree) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error {
	t.db = db
	t.headerPath = path + ".mbptree.header"
	t.blockSize = cfg.NodeCapacity
	if t.blockSize <= 0 {
		t.blockSize = 16
	}
	t.rho = cfg.Rho
	if t.rho <= 0 {
		t.rho = 1
	}

	nodeRAF, err := raf.Create(path + ".mbptree")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF

	n := db.Size()
	if n == 0 {
		return t.writeHeader()
	}
	t.center = objectdb.ObjId(0)

	dist := make([]float64, n)
	for o := 0; o < n; o++ {
		dist[o] = db.Distance(objectdb.ObjId(o), t.center)
		t.ctr.CompDist++
	}
	t.dMed = medianOf(dist)

	type entry struct {
		obj  objectdb.ObjId
		d    float64
		part int
	}
	entries := make([]entry, n)
	for o := 0; o < n; o++ {
		p := mbpPartBand
		switch {
		case dist[o] < t.dMed-t.rho:
			p = mbpPartLeft
		case dist[o] > t.dMed+t.rho:
			p = mbpPartRight
		}
		entries[o] = entry{objectdb.ObjId(o), dist[o], p}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].part != entries[j].part {
			return entries[i].part < entries[j].part
		}
		return entries[i].d < entries[j].d
	})

	for i := 0; i < len(entries); i += t.blockSize {
		end := i + t.blockSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[i:end]
		members := make([]objectdb.ObjId, len(chunk))
		dists := make([]float64, len(chunk))
		partMin, partMax := chunk[0].part, chunk[0].part
		distMin, distMax := chunk[0].d, chunk[0].d
		for j, e := range chunk {
			members[j] = e.obj
			dists[j] = e.d
			if e.part < partMin {
				partMin = e.part
			}
			if e.part > partMax {
				partMax = e.part
			}
			if e.d < distMin {
				distMin = e.d
			}
			if e.d > distMax {
				distMax = e.d
			}
		}
		var payload []byte
		payload = putObjIds(payload, members)
		payload = putFloat64s(payload, dists)
		offset, err := nodeRAF.Write(objectdb.ObjId(0), payload)
		if err != nil {
			return err
		}
		t.blocks = append(t.blocks, mbpBlock{
			partMin: partMin, partMax: partMax, distMin: distMin, distMax: distMax,
			offset: offset, count: len(chunk), members: members, dists: dists, loaded: true,
		})
	}

	return t.writeHeader()
}

func (t *MBPTree) writeHeader() error {
	var buf []byte
	buf = putObjId(buf, t.center)
	buf = putFloat64(buf, t.dMed)
	buf = putFloat64(buf, t.rho)
	buf = putInt64(buf, int64(t.blockSize))
	buf = putInt64(buf, int64(len(t.blocks)))
	for _, b := range t.blocks {
		buf = putInt64(buf, int64(b.partMin))
		buf = putInt64(buf, int64(b.partMax))
		buf = putFloat64(buf, b.distMin)
		buf = putFloat64(buf, b.distMax)
		buf = putInt64(buf, b.offset)
		buf = putInt64(buf, int64(b.count))
	}
	return os.WriteFile(t.headerPath, buf, 0o644)
}

func (t *MBPTree) Open(path string, db objectdb.DB) error {
	t.db = db
	t.headerPath = path + ".mbptree.header"
	b, err := os.ReadFile(t.headerPath)
	if err != nil {
		return err
	}
	t.center, b = getObjId(b)
	t.dMed, b = getFloat64(b)
	t.rho, b = getFloat64(b)
	var blockSize64 int64
	blockSize64, b = getInt64(b)
	t.blockSize = int(blockSize64)
	count, b := getInt64(b)
	t.blocks = make([]mbpBlock, count)
	for i := range t.blocks {
		var partMin64, partMax64, cnt64 int64
		partMin64, b = getInt64(b)
		partMax64, b = getInt64(b)
		var distMin, distMax float64
		distMin, b = getFloat64(b)
		distMax, b = getFloat64(b)
		var off int64
		off, b = getInt64(b)
		cnt64, b = getInt64(b)
		t.blocks[i] = mbpBlock{
			partMin: int(partMin64), partMax: int(partMax64),
			distMin: distMin, distMax: distMax, offset: off, count: int(cnt64),
		}
	}
	nodeRAF, err := raf.Open(path + ".mbptree")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF
	return nil
}

func (t *MBPTree) loadBlock(blk *mbpBlock) {
	if blk.loaded {
		return
	}
	payload, err := t.nodeRAF.Read(blk.offset)
	if err != nil {
		return
	}
	members, rest := getObjIds(payload)
	dists, _ := getFloat64s(rest)
	blk.members, blk.dists, blk.loaded = members, dists, true
}

// relevantBlock implements Lemma 4.7: a block whose partition/distance
// range cannot hold any point within r of q is skipped without a read.
func (t *MBPTree) relevantBlock(blk *mbpBlock, qc, r float64) bool {
	leftOK := blk.partMin == mbpPartLeft && qc-r < t.dMed-t.rho
	rightOK := blk.partMax == mbpPartRight && qc+r > t.dMed+t.rho
	bandOK := blk.partMin <= mbpPartBand && blk.partMax >= mbpPartBand
	if !leftOK && !rightOK && !bandOK {
		return false
	}
	if blk.distMax < qc-r || blk.distMin > qc+r {
		return false
	}
	return true
}

func (t *MBPTree) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	qc := t.db.Distance(q, t.center)
	t.ctr.CompDist++
	var out []objectdb.ObjId
	for i := range t.blocks {
		blk := &t.blocks[i]
		if !t.relevantBlock(blk, qc, r) {
			continue
		}
		t.loadBlock(blk)
		for _, m := range blk.members {
			d := t.db.Distance(q, m)
			t.ctr.CompDist++
			if d <= r {
				out = append(out, m)
			}
		}
	}
	sortObjIds(out)
	return out
}

// KNNSearch follows spec §4.6: gather k candidates by key proximity to
// establish a working radius NDk, then reduce the search to a single
// range query at that radius.
func (t *MBPTree) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	qc := t.db.Distance(q, t.center)
	t.ctr.CompDist++

	type blockDist struct {
		idx int
		lb  float64
	}
	order := make([]blockDist, len(t.blocks))
	for i := range t.blocks {
		lb := 0.0
		if t.blocks[i].distMax < qc {
			lb = qc - t.blocks[i].distMax
		} else if t.blocks[i].distMin > qc {
			lb = t.blocks[i].distMin - qc
		}
		order[i] = blockDist{i, lb}
	}
	sort.Slice(order, func(a, b int) bool { return order[a].lb < order[b].lb })

	best := newSMBestK(k)
	for _, bd := range order {
		if best.Full() && bd.lb > best.Tau() {
			break
		}
		blk := &t.blocks[bd.idx]
		t.loadBlock(blk)
		for _, m := range blk.members {
			d := t.db.Distance(q, m)
			t.ctr.CompDist++
			best.Offer(Neighbor{ID: m, Dist: d})
		}
	}
	if !best.Full() {
		return best.Results()
	}
	ndk := best.Tau()
	ids := t.RangeSearch(q, ndk)
	out := newSMBestK(k)
	for _, id := range ids {
		d := t.db.Distance(q, id)
		t.ctr.CompDist++
		out.Offer(Neighbor{ID: id, Dist: d})
	}
	return out.Results()
}

func (t *MBPTree) Counters() Counters {
	c := t.ctr
	if t.nodeRAF != nil {
		c.PageReads = t.nodeRAF.PageReads()
		c.PageWrites = t.nodeRAF.PageWrites()
	}
	return c
}

func (t *MBPTree) ResetCounters() {
	t.ctr = Counters{}
	if t.nodeRAF != nil {
		t.nodeRAF.ResetCounters()
	}
}

func (t *MBPTree) Close() error {
	if t.nodeRAF != nil {
		return t.nodeRAF.Close()
	}
	return nil
}

var _ Index = (*MBPTree)(nil)
