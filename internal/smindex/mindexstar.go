package smindex

import (
	"context"
	"math"
	"os"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/raf"
)

// mindexCluster is one leaf of spec §4.6's M-index*: every member shares
// the same nearest pivot. pmin/pmax is the per-pivot MBB over the whole
// cluster (enables the L-infinity prefilter); ownMax is the largest
// distance any member has to its own nearest pivot, the bound Lemma 4.5
// uses to accept the whole cluster without per-object distance calls.
type mindexCluster struct {
	pivotIdx int
	ownMax   float64
	pmin     []float64
	pmax     []float64
	offset   int64
	members  []objectdb.ObjId
	loaded   bool
}

// MIndexStar implements spec §4.6's M-index*: objects are mapped to
// key(o) = d(o, nearestPivot) + nearestPivotIdx * d+, grouping them by
// nearest pivot when sorted by key; each group becomes one RAF-backed
// cluster with a pivot-space MBB for pruning.
type MIndexStar struct {
	db         objectdb.DB
	nodeRAF    *raf.RAF
	headerPath string
	pivots     []objectdb.ObjId
	dPlus      float64
	clusters   []mindexCluster
	ctr        Counters
}

func NewMIndexStar() *MIndexStar { return &MIndexStar{} }

func (t *MIndexStar) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error {
	if cfg.PivotCount <= 0 {
		cfg.PivotCount = 4
	}
	t.db = db
	t.headerPath = path + ".mindexstar.header"

	nodeRAF, err := raf.Create(path + ".mindexstar")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF

	n := db.Size()
	t.choosePivots(cfg.PivotCount, n)
	if n == 0 || len(t.pivots) == 0 {
		return t.writeHeader()
	}

	nearestIdx := make([]int, n)
	nearestDist := make([]float64, n)
	maxDist := 0.0
	for o := 0; o < n; o++ {
		oid := objectdb.ObjId(o)
		best, bestDist := 0, math.Inf(1)
		for i, p := range t.pivots {
			d := db.Distance(oid, p)
			t.ctr.CompDist++
			if d < bestDist {
				best, bestDist = i, d
			}
			if d > maxDist {
				maxDist = d
			}
		}
		nearestIdx[o] = best
		nearestDist[o] = bestDist
	}
	t.dPlus = maxDist + 1

	groups := make([][]objectdb.ObjId, len(t.pivots))
	for o := 0; o < n; o++ {
		groups[nearestIdx[o]] = append(groups[nearestIdx[o]], objectdb.ObjId(o))
	}

	// Full per-pivot distance table per object, needed for each cluster's
	// MBB; computed once and indexed by object id.
	pivotDist := make([][]float64, n)
	for o := 0; o < n; o++ {
		row := make([]float64, len(t.pivots))
		for i, p := range t.pivots {
			row[i] = db.Distance(objectdb.ObjId(o), p)
			t.ctr.CompDist++
		}
		pivotDist[o] = row
	}

	for pi, g := range groups {
		sort.Slice(g, func(a, b int) bool { return g[a] < g[b] })
		pmin := fullSlice(len(t.pivots), math.Inf(1))
		pmax := fullSlice(len(t.pivots), math.Inf(-1))
		ownMax := 0.0
		for _, o := range g {
			mergeInterval(pmin, pmax, pivotDist[o], pivotDist[o])
			if nearestDist[o] > ownMax {
				ownMax = nearestDist[o]
			}
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
		t.clusters = append(t.clusters, mindexCluster{
			pivotIdx: pi, ownMax: ownMax, pmin: pmin, pmax: pmax, offset: offset, members: g, loaded: true,
		})
	}

	return t.writeHeader()
}

func (t *MIndexStar) choosePivots(count, n int) {
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

func (t *MIndexStar) writeHeader() error {
	var buf []byte
	buf = putObjIds(buf, t.pivots)
	buf = putFloat64(buf, t.dPlus)
	buf = putInt64(buf, int64(len(t.clusters)))
	for _, c := range t.clusters {
		buf = putInt64(buf, int64(c.pivotIdx))
		buf = putFloat64(buf, c.ownMax)
		buf = putFloat64s(buf, c.pmin)
		buf = putFloat64s(buf, c.pmax)
		buf = putInt64(buf, c.offset)
	}
	return os.WriteFile(t.headerPath, buf, 0o644)
}

func (t *MIndexStar) Open(path string, db objectdb.DB) error {
	t.db = db
	t.headerPath = path + ".mindexstar.header"
	b, err := os.ReadFile(t.headerPath)
	if err != nil {
		return err
	}
	t.pivots, b = getObjIds(b)
	t.dPlus, b = getFloat64(b)
	count, b := getInt64(b)
	t.clusters = make([]mindexCluster, count)
	for i := range t.clusters {
		var pivotIdx64 int64
		pivotIdx64, b = getInt64(b)
		var ownMax float64
		ownMax, b = getFloat64(b)
		var pmin, pmax []float64
		pmin, b = getFloat64s(b)
		pmax, b = getFloat64s(b)
		var off int64
		off, b = getInt64(b)
		t.clusters[i] = mindexCluster{pivotIdx: int(pivotIdx64), ownMax: ownMax, pmin: pmin, pmax: pmax, offset: off}
	}
	nodeRAF, err := raf.Open(path + ".mindexstar")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF
	return nil
}

func (t *MIndexStar) clusterMembers(c *mindexCluster) []objectdb.ObjId {
	if c.loaded {
		return c.members
	}
	payload, err := t.nodeRAF.Read(c.offset)
	if err != nil {
		return nil
	}
	members, _ := getObjIds(payload)
	c.members, c.loaded = members, true
	return c.members
}

func (t *MIndexStar) queryPivotDistances(q objectdb.ObjId) []float64 {
	qd := make([]float64, len(t.pivots))
	for i, p := range t.pivots {
		qd[i] = t.db.Distance(q, p)
		t.ctr.CompDist++
	}
	return qd
}

func (t *MIndexStar) lowerBound(qd, pmin, pmax []float64) float64 {
	lb := 0.0
	for i, q := range qd {
		var v float64
		switch {
		case q < pmin[i]:
			v = pmin[i] - q
		case q > pmax[i]:
			v = q - pmax[i]
		default:
			v = 0
		}
		if v > lb {
			lb = v
		}
	}
	return lb
}

func (t *MIndexStar) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	qd := t.queryPivotDistances(q)
	var out []objectdb.ObjId
	for i := range t.clusters {
		c := &t.clusters[i]
		if t.lowerBound(qd, c.pmin, c.pmax) > r {
			continue
		}
		// Lemma 4.5: every member is within d(member, cluster pivot) +
		// d(cluster pivot, q) of q; if that's already <= r for the worst
		// member, the whole cluster is in the answer for free.
		if qd[c.pivotIdx]+c.ownMax <= r {
			out = append(out, t.clusterMembers(c)...)
			continue
		}
		for _, m := range t.clusterMembers(c) {
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

func (t *MIndexStar) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	qd := t.queryPivotDistances(q)
	best := newSMBestK(k)
	type cand struct {
		lb  float64
		idx int
	}
	cands := make([]cand, len(t.clusters))
	for i := range t.clusters {
		cands[i] = cand{t.lowerBound(qd, t.clusters[i].pmin, t.clusters[i].pmax), i}
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].lb < cands[b].lb })
	for _, c := range cands {
		if best.Full() && c.lb > best.Tau() {
			continue
		}
		cl := &t.clusters[c.idx]
		for _, m := range t.clusterMembers(cl) {
			d := t.db.Distance(q, m)
			t.ctr.CompDist++
			best.Offer(Neighbor{ID: m, Dist: d})
		}
	}
	return best.Results()
}

func (t *MIndexStar) Counters() Counters {
	c := t.ctr
	if t.nodeRAF != nil {
		c.PageReads = t.nodeRAF.PageReads()
		c.PageWrites = t.nodeRAF.PageWrites()
	}
	return c
}

func (t *MIndexStar) ResetCounters() {
	t.ctr = Counters{}
	if t.nodeRAF != nil {
		t.nodeRAF.ResetCounters()
	}
}

func (t *MIndexStar) Close() error {
	if t.nodeRAF != nil {
		return t.nodeRAF.Close()
	}
	return nil
}

var _ Index = (*MIndexStar)(nil)
