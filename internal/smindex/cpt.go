package smindex

import (
	"context"
	"math"
	"os"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/raf"
)

// cptPage is one physical page of spec §4.6's Clustered Pivot Table: a
// group of objects placed together by M-tree-style farthest-first
// clustering, so spatially close objects share a page and a single L-
// infinity check against the page's pivot-space MBB can reject it
// without a read.
type cptPage struct {
	pmin, pmax []float64
	offset     int64
	members    []objectdb.ObjId
	loaded     bool
}

// CPT implements spec §4.6's Clustered Pivot Table: a LAESA-style
// pivot-distance table, resident in the header, combined with a page
// layout clustered the way an M-tree groups its leaves.
type CPT struct {
	db         objectdb.DB
	nodeRAF    *raf.RAF
	headerPath string
	pivots     []objectdb.ObjId
	pivotDist  [][]float64 // pivotDist[obj][pivotIdx]
	pageCap    int
	pages      []cptPage
	ctr        Counters
}

func NewCPT() *CPT { return &CPT{} }

func (t *CPT) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error {
	t.db = db
	t.headerPath = path + ".cpt.header"
	t.pageCap = cfg.NodeCapacity
	if t.pageCap <= 0 {
		t.pageCap = 20
	}
	pivotCount := cfg.PivotCount
	if pivotCount <= 0 {
		pivotCount = 8
	}

	nodeRAF, err := raf.Create(path + ".cpt")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF

	n := db.Size()
	t.choosePivots(pivotCount, n)
	if n == 0 {
		return t.writeHeader()
	}

	t.pivotDist = make([][]float64, n)
	for o := 0; o < n; o++ {
		row := make([]float64, len(t.pivots))
		for i, p := range t.pivots {
			row[i] = db.Distance(objectdb.ObjId(o), p)
			t.ctr.CompDist++
		}
		t.pivotDist[o] = row
	}

	all := make([]objectdb.ObjId, n)
	for o := 0; o < n; o++ {
		all[o] = objectdb.ObjId(o)
	}
	groups := t.clusterize(all)
	for _, g := range groups {
		pmin := fullSlice(len(t.pivots), math.Inf(1))
		pmax := fullSlice(len(t.pivots), math.Inf(-1))
		for _, o := range g {
			row := t.pivotDist[o]
			mergeInterval(pmin, pmax, row, row)
		}
		for i := range pmin {
			if math.IsInf(pmin[i], 1) {
				pmin[i], pmax[i] = 0, 0
			}
		}
		offset, err := nodeRAF.Write(objectdb.ObjId(0), putObjIds(nil, g))
		if err != nil {
			return err
		}
		t.pages = append(t.pages, cptPage{pmin: pmin, pmax: pmax, offset: offset, members: g, loaded: true})
	}

	return t.writeHeader()
}

// clusterize groups objects into physical pages the way an M-tree's
// recursive farthest-first split produces leaves, but keeps only the
// flattened leaf groups since CPT replaces routing nodes with the
// pivot table entirely.
func (t *CPT) clusterize(objs []objectdb.ObjId) [][]objectdb.ObjId {
	if len(objs) <= t.pageCap {
		return [][]objectdb.ObjId{objs}
	}
	a, b := 0, 1
	bestDist := -1.0
	for i := 0; i < len(objs); i++ {
		for j := i + 1; j < len(objs); j++ {
			d := t.db.Distance(objs[i], objs[j])
			t.ctr.CompDist++
			if d > bestDist {
				bestDist, a, b = d, i, j
			}
		}
		if i > 40 {
			break // bound the O(n^2) seed search on large groups
		}
	}
	var groupA, groupB []objectdb.ObjId
	for i, o := range objs {
		if i == a {
			groupA = append(groupA, o)
			continue
		}
		if i == b {
			groupB = append(groupB, o)
			continue
		}
		da := t.db.Distance(o, objs[a])
		db_ := t.db.Distance(o, objs[b])
		t.ctr.CompDist += 2
		if da <= db_ {
			groupA = append(groupA, o)
		} else {
			groupB = append(groupB, o)
		}
	}
	if len(groupA) == 0 || len(groupB) == 0 {
		return evenChunks(objs, t.pageCap)
	}
	var out [][]objectdb.ObjId
	out = append(out, t.clusterize(groupA)...)
	out = append(out, t.clusterize(groupB)...)
	return out
}

func (t *CPT) choosePivots(count, n int) {
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

func (t *CPT) writeHeader() error {
	var buf []byte
	buf = putObjIds(buf, t.pivots)
	buf = putInt64(buf, int64(len(t.pivotDist)))
	for _, row := range t.pivotDist {
		buf = putFloat64s(buf, row)
	}
	buf = putInt64(buf, int64(len(t.pages)))
	for _, p := range t.pages {
		buf = putFloat64s(buf, p.pmin)
		buf = putFloat64s(buf, p.pmax)
		buf = putInt64(buf, p.offset)
	}
	return os.WriteFile(t.headerPath, buf, 0o644)
}

func (t *CPT) Open(path string, db objectdb.DB) error {
	t.db = db
	t.headerPath = path + ".cpt.header"
	b, err := os.ReadFile(t.headerPath)
	if err != nil {
		return err
	}
	t.pivots, b = getObjIds(b)
	var nObj int64
	nObj, b = getInt64(b)
	t.pivotDist = make([][]float64, nObj)
	for i := range t.pivotDist {
		var row []float64
		row, b = getFloat64s(b)
		t.pivotDist[i] = row
	}
	count, b := getInt64(b)
	t.pages = make([]cptPage, count)
	for i := range t.pages {
		var pmin, pmax []float64
		pmin, b = getFloat64s(b)
		pmax, b = getFloat64s(b)
		var off int64
		off, b = getInt64(b)
		t.pages[i] = cptPage{pmin: pmin, pmax: pmax, offset: off}
	}
	nodeRAF, err := raf.Open(path + ".cpt")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF
	return nil
}

func (t *CPT) loadPage(p *cptPage) {
	if p.loaded {
		return
	}
	payload, err := t.nodeRAF.Read(p.offset)
	if err != nil {
		return
	}
	members, _ := getObjIds(payload)
	p.members, p.loaded = members, true
}

func (t *CPT) queryPivotDistances(q objectdb.ObjId) []float64 {
	qd := make([]float64, len(t.pivots))
	for i, p := range t.pivots {
		qd[i] = t.db.Distance(q, p)
		t.ctr.CompDist++
	}
	return qd
}

func (t *CPT) boxLB(qd, pmin, pmax []float64) float64 {
	lb := 0.0
	for i, q := range qd {
		var v float64
		switch {
		case q < pmin[i]:
			v = pmin[i] - q
		case q > pmax[i]:
			v = q - pmax[i]
		}
		if v > lb {
			lb = v
		}
	}
	return lb
}

// laesaLB is the classic point-level LAESA lower bound, using the
// resident pivot table to skip a true distance call entirely.
func (t *CPT) laesaLB(qd []float64, obj objectdb.ObjId) float64 {
	row := t.pivotDist[obj]
	lb := 0.0
	for i, q := range qd {
		v := math.Abs(q - row[i])
		if v > lb {
			lb = v
		}
	}
	return lb
}

func (t *CPT) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	qd := t.queryPivotDistances(q)
	var out []objectdb.ObjId
	for i := range t.pages {
		p := &t.pages[i]
		if t.boxLB(qd, p.pmin, p.pmax) > r {
			continue
		}
		t.loadPage(p)
		for _, m := range p.members {
			if t.laesaLB(qd, m) > r {
				continue
			}
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

// KNNSearch follows spec §4.6: a small pre-scan establishes a working
// radius before the clustered, pruned scan over the rest of the table.
func (t *CPT) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	qd := t.queryPivotDistances(q)
	best := newSMBestK(k)

	n := len(t.pivotDist)
	n0 := int(math.Ceil(0.02 * float64(n)))
	if n0 < k {
		n0 = k
	}
	if n0 > n {
		n0 = n
	}
	seen := make(map[objectdb.ObjId]bool, n0)
	for o := 0; o < n0; o++ {
		obj := objectdb.ObjId(o)
		seen[obj] = true
		d := t.db.Distance(q, obj)
		t.ctr.CompDist++
		best.Offer(Neighbor{ID: obj, Dist: d})
	}

	type pageOrder struct {
		idx int
		lb  float64
	}
	order := make([]pageOrder, len(t.pages))
	for i := range t.pages {
		order[i] = pageOrder{i, t.boxLB(qd, t.pages[i].pmin, t.pages[i].pmax)}
	}
	sort.Slice(order, func(a, b int) bool { return order[a].lb < order[b].lb })

	for _, po := range order {
		if best.Full() && po.lb > best.Tau() {
			continue
		}
		p := &t.pages[po.idx]
		t.loadPage(p)
		for _, m := range p.members {
			if seen[m] {
				continue
			}
			if best.Full() && t.laesaLB(qd, m) > best.Tau() {
				continue
			}
			d := t.db.Distance(q, m)
			t.ctr.CompDist++
			best.Offer(Neighbor{ID: m, Dist: d})
		}
	}
	return best.Results()
}

func (t *CPT) Counters() Counters {
	c := t.ctr
	if t.nodeRAF != nil {
		c.PageReads = t.nodeRAF.PageReads()
		c.PageWrites = t.nodeRAF.PageWrites()
	}
	return c
}

func (t *CPT) ResetCounters() {
	t.ctr = Counters{}
	if t.nodeRAF != nil {
		t.nodeRAF.ResetCounters()
	}
}

func (t *CPT) Close() error {
	if t.nodeRAF != nil {
		return t.nodeRAF.Close()
	}
	return nil
}

var _ Index = (*CPT)(nil)
