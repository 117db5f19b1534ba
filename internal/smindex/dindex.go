package smindex

import (
	"context"
	"math"
	"os"
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/raf"
)

// dindexBucket is one partition of spec §4.6's D-index: a flat list of
// member ids plus, for every level's pivot, the [min,max] distance any
// member has to that pivot — an L-infinity bounding interval used to skip
// the whole bucket's page before scanning it.
type dindexBucket struct {
	members []objectdb.ObjId
	pmin    []float64
	pmax    []float64
	offset  int64
	loaded  bool
}

func encodeDIndexBucket(members []objectdb.ObjId, pmin, pmax []float64) []byte {
	var buf []byte
	buf = putObjIds(buf, members)
	buf = putFloat64s(buf, pmin)
	buf = putFloat64s(buf, pmax)
	return buf
}

func decodeDIndexBucket(b []byte) ([]objectdb.ObjId, []float64, []float64) {
	members, rest := getObjIds(b)
	pmin, rest := getFloat64s(rest)
	pmax, _ := getFloat64s(rest)
	return members, pmin, pmax
}

// DIndex implements spec §4.6's D-index: L levels, each with a pivot and
// precomputed median distance; an object separates (L or R) at the first
// level where it falls outside [median-rho, median+rho], landing in that
// level's L or R bucket; objects that stay in every level's band form the
// exclusion bucket.
type DIndex struct {
	db         objectdb.DB
	nodeRAF    *raf.RAF
	headerPath string
	pivots     []objectdb.ObjId
	medians    []float64
	rho        float64
	buckets    []dindexBucket // 2*levels buckets (L,R per level) + 1 exclusion bucket, last
	ctr        Counters
}

func NewDIndex() *DIndex { return &DIndex{} }

const dindexMaxRadiusDoublings = 20

func (t *DIndex) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error {
	levels := cfg.Levels
	if levels <= 0 {
		levels = 3
	}
	t.db = db
	t.rho = cfg.Rho
	if t.rho <= 0 {
		t.rho = 1
	}
	t.headerPath = path + ".dindex.header"

	nodeRAF, err := raf.Create(path + ".dindex")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF

	n := db.Size()
	all := make([]objectdb.ObjId, n)
	for i := range all {
		all[i] = objectdb.ObjId(i)
	}
	if n == 0 {
		return t.writeHeader()
	}

	if levels > n {
		levels = n
	}
	stride := n / levels
	if stride < 1 {
		stride = 1
	}
	for i := 0; i < n && len(t.pivots) < levels; i += stride {
		t.pivots = append(t.pivots, objectdb.ObjId(i))
	}
	levels = len(t.pivots)

	// distances[i][o] = d(pivots[i], o)
	dists := make([][]float64, levels)
	for i, p := range t.pivots {
		row := make([]float64, n)
		for o := 0; o < n; o++ {
			row[o] = db.Distance(p, objectdb.ObjId(o))
			t.ctr.CompDist++
		}
		dists[i] = row
		t.medians = append(t.medians, medianOf(row))
	}

	groups := make([][]objectdb.ObjId, 2*levels+1)
	exclusion := 2 * levels
	for o := 0; o < n; o++ {
		placed := false
		for i := 0; i < levels; i++ {
			d := dists[i][o]
			if d < t.medians[i]-t.rho {
				groups[2*i] = append(groups[2*i], objectdb.ObjId(o))
				placed = true
				break
			}
			if d > t.medians[i]+t.rho {
				groups[2*i+1] = append(groups[2*i+1], objectdb.ObjId(o))
				placed = true
				break
			}
		}
		if !placed {
			groups[exclusion] = append(groups[exclusion], objectdb.ObjId(o))
		}
	}

	for _, g := range groups {
		pmin := fullSlice(levels, math.Inf(1))
		pmax := fullSlice(levels, math.Inf(-1))
		for _, o := range g {
			for i := 0; i < levels; i++ {
				d := dists[i][int(o)]
				if d < pmin[i] {
					pmin[i] = d
				}
				if d > pmax[i] {
					pmax[i] = d
				}
			}
		}
		for i := 0; i < levels; i++ {
			if math.IsInf(pmin[i], 1) {
				pmin[i], pmax[i] = 0, 0
			}
		}
		payload := encodeDIndexBucket(g, pmin, pmax)
		offset, err := nodeRAF.Write(objectdb.ObjId(0), payload)
		if err != nil {
			return err
		}
		t.buckets = append(t.buckets, dindexBucket{pmin: pmin, pmax: pmax, offset: offset})
	}

	return t.writeHeader()
}

func medianOf(vals []float64) float64 {
	sorted := append([]float64{}, vals...)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return 0
	}
	return sorted[len(sorted)/2]
}

func (t *DIndex) writeHeader() error {
	var buf []byte
	buf = putFloat64(buf, t.rho)
	buf = putObjIds(buf, t.pivots)
	buf = putFloat64s(buf, t.medians)
	buf = putInt64(buf, int64(len(t.buckets)))
	for _, b := range t.buckets {
		buf = putInt64(buf, b.offset)
		buf = putFloat64s(buf, b.pmin)
		buf = putFloat64s(buf, b.pmax)
	}
	return os.WriteFile(t.headerPath, buf, 0o644)
}

func (t *DIndex) Open(path string, db objectdb.DB) error {
	t.db = db
	t.headerPath = path + ".dindex.header"
	b, err := os.ReadFile(t.headerPath)
	if err != nil {
		return err
	}
	t.rho, b = getFloat64(b)
	t.pivots, b = getObjIds(b)
	t.medians, b = getFloat64s(b)
	count, b := getInt64(b)
	t.buckets = make([]dindexBucket, count)
	for i := range t.buckets {
		var off int64
		off, b = getInt64(b)
		var pmin, pmax []float64
		pmin, b = getFloat64s(b)
		pmax, b = getFloat64s(b)
		t.buckets[i] = dindexBucket{offset: off, pmin: pmin, pmax: pmax}
	}

	nodeRAF, err := raf.Open(path + ".dindex")
	if err != nil {
		return err
	}
	t.nodeRAF = nodeRAF
	return nil
}

// bucketMembers loads a bucket's member list from its RAF page on first
// access and caches it in memory; the pivot-distance interval used for the
// lower-bound prefilter is already resident from the header, so a pruned
// bucket never pays for this read.
func (t *DIndex) bucketMembers(b *dindexBucket) []objectdb.ObjId {
	if b.loaded {
		return b.members
	}
	payload, err := t.nodeRAF.Read(b.offset)
	if err != nil {
		return nil
	}
	members, _, _ := decodeDIndexBucket(payload)
	b.members, b.loaded = members, true
	return members
}

func (t *DIndex) lowerBound(qd []float64, b dindexBucket) float64 {
	lb := 0.0
	for i, q := range qd {
		var v float64
		switch {
		case q < b.pmin[i]:
			v = b.pmin[i] - q
		case q > b.pmax[i]:
			v = q - b.pmax[i]
		default:
			v = 0
		}
		if v > lb {
			lb = v
		}
	}
	return lb
}

func (t *DIndex) queryDistances(q objectdb.ObjId) []float64 {
	qd := make([]float64, len(t.pivots))
	for i, p := range t.pivots {
		qd[i] = t.db.Distance(q, p)
		t.ctr.CompDist++
	}
	return qd
}

func (t *DIndex) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	qd := t.queryDistances(q)
	var out []objectdb.ObjId
	for i := range t.buckets {
		b := &t.buckets[i]
		if t.lowerBound(qd, *b) > r {
			continue
		}
		for _, m := range t.bucketMembers(b) {
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

// KNNSearch follows spec §4.6's MkNN recipe: start at radius rho, run MRQ,
// and double the radius (capped) until the k-th confirmed distance found
// so far is within the current radius.
func (t *DIndex) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	radius := t.rho
	if radius <= 0 {
		radius = 1
	}
	var result []Neighbor
	for iter := 0; iter < dindexMaxRadiusDoublings; iter++ {
		ids := t.RangeSearch(q, radius)
		result = result[:0]
		for _, id := range ids {
			d := t.db.Distance(q, id)
			t.ctr.CompDist++
			result = append(result, Neighbor{ID: id, Dist: d})
		}
		sortNeighbors(result)
		if len(result) >= k && result[k-1].Dist <= radius {
			break
		}
		radius *= 2
	}
	if len(result) > k {
		result = result[:k]
	}
	return result
}

func (t *DIndex) Counters() Counters {
	c := t.ctr
	if t.nodeRAF != nil {
		c.PageReads = t.nodeRAF.PageReads()
		c.PageWrites = t.nodeRAF.PageWrites()
	}
	return c
}

func (t *DIndex) ResetCounters() {
	t.ctr = Counters{}
	if t.nodeRAF != nil {
		t.nodeRAF.ResetCounters()
	}
}

func (t *DIndex) Close() error {
	if t.nodeRAF != nil {
		return t.nodeRAF.Close()
	}
	return nil
}

var _ Index = (*DIndex)(nil)
