package smindex

import (
	"context"
	"math"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
	"github.com/Aman-CERP/metricbench/internal/raf"
)

// LC is the Linear Cluster index (spec §4.4): a flat list of ball-cover
// clusters. Build picks centers by farthest-first-by-accumulated-distance
// (tdist) over the still-unassigned set, forms each cluster from the
// BucketSize nearest remaining objects, and writes the cluster header
// (center, radius, count, node offset) to one RAF and the member id list
// to a second RAF, keyed by the center's ObjId.
type LC struct {
	db       objectdb.DB
	idxRAF   *raf.RAF
	nodeRAF  *raf.RAF
	clusters []lcCluster
	ctr      Counters
}

type lcCluster struct {
	center     objectdb.ObjId
	radius     float64
	count      int64
	nodeOffset int64
}

func NewLC() *LC { return &LC{} }

func (t *LC) Build(ctx context.Context, db objectdb.DB, cfg BuildConfig, path string) error {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = 8
	}
	t.db = db

	idxRAF, err := raf.Create(path + ".lc_index")
	if err != nil {
		return err
	}
	nodeRAF, err := raf.Create(path + ".lc_node")
	if err != nil {
		idxRAF.Close()
		return err
	}
	t.idxRAF, t.nodeRAF = idxRAF, nodeRAF

	n := db.Size()
	alive := make([]bool, n)
	tdist := make([]float64, n)
	for i := range alive {
		alive[i] = true
	}
	aliveCount := n

	for aliveCount > 0 {
		center := t.pickFarthest(alive, tdist)
		alive[center] = false
		aliveCount--

		type scored = struct {
			id objectdb.ObjId
			d  float64
		}
		scored_ := make([]scored, 0, aliveCount)
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			o := objectdb.ObjId(i)
			d := db.Distance(center, o)
			t.ctr.CompDist++
			scored_ = append(scored_, scored{o, d})
		}
		sortScored(scored_)

		take := cfg.BucketSize
		if take > len(scored_) {
			take = len(scored_)
		}
		members := make([]objectdb.ObjId, 0, take+1)
		members = append(members, center)
		radius := 0.0
		for i := 0; i < take; i++ {
			members = append(members, scored_[i].id)
			if scored_[i].d > radius {
				radius = scored_[i].d
			}
			alive[scored_[i].id] = false
			aliveCount--
		}
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			o := objectdb.ObjId(i)
			tdist[i] += db.Distance(center, o)
			t.ctr.CompDist++
		}

		nodeOffset, err := nodeRAF.Write(center, encodeObjIds(members))
		if err != nil {
			return err
		}
		hdr := encodeLCHeader(radius, int64(len(members)), nodeOffset)
		if _, err := idxRAF.Write(center, hdr); err != nil {
			return err
		}
		t.clusters = append(t.clusters, lcCluster{center, radius, int64(len(members)), nodeOffset})
	}
	return nil
}

// pickFarthest scans in ascending ObjId order, so ties (all-zero tdist on
// the very first pick) resolve deterministically to the lowest id.
func (t *LC) pickFarthest(alive []bool, tdist []float64) objectdb.ObjId {
	best := -1
	bestD := -1.0
	for i, a := range alive {
		if !a {
			continue
		}
		if best < 0 || tdist[i] > bestD {
			best, bestD = i, tdist[i]
		}
	}
	return objectdb.ObjId(best)
}

func sortScored(s []struct {
	id objectdb.ObjId
	d  float64
}) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].d < s[j-1].d; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func encodeObjIds(ids []objectdb.ObjId) []byte {
	return putObjIds(nil, ids)
}

func decodeObjIds(b []byte) []objectdb.ObjId {
	ids, _ := getObjIds(b)
	return ids
}

func encodeLCHeader(radius float64, count, nodeOffset int64) []byte {
	var buf []byte
	buf = putFloat64(buf, radius)
	buf = putInt64(buf, count)
	buf = putInt64(buf, nodeOffset)
	return buf
}

func decodeLCHeader(b []byte) (radius float64, count, nodeOffset int64) {
	radius, rest := getFloat64(b)
	count, rest = getInt64(rest)
	nodeOffset, _ = getInt64(rest)
	return
}

func (t *LC) Open(path string, db objectdb.DB) error {
	t.db = db
	idxRAF, err := raf.Open(path + ".lc_index")
	if err != nil {
		return err
	}
	nodeRAF, err := raf.Open(path + ".lc_node")
	if err != nil {
		idxRAF.Close()
		return err
	}
	t.idxRAF, t.nodeRAF = idxRAF, nodeRAF

	t.clusters = t.clusters[:0]
	for _, center := range idxRAF.IDs() {
		payload, _, ok, err := idxRAF.ReadByID(center)
		if !ok || err != nil {
			continue
		}
		radius, count, nodeOffset := decodeLCHeader(payload)
		t.clusters = append(t.clusters, lcCluster{center, radius, count, nodeOffset})
	}
	return nil
}

// pagesPerCluster approximates spec §4.8's ⌈pageBytes/4096⌉ node-size
// normalization for one cluster's member-list page.
func pagesPerCluster(count int64) int64 {
	const bytesPerId = 8
	n := count * bytesPerId
	p := n / 4096
	if n%4096 != 0 {
		p++
	}
	if p < 1 {
		p = 1
	}
	return p
}

func (t *LC) members(c lcCluster) []objectdb.ObjId {
	payload, err := t.nodeRAF.Read(c.nodeOffset)
	if err != nil {
		return nil
	}
	return decodeObjIds(payload)
}

func (t *LC) RangeSearch(q objectdb.ObjId, r float64) []objectdb.ObjId {
	var out []objectdb.ObjId
	for _, c := range t.clusters {
		dqc := t.db.Distance(q, c.center)
		t.ctr.CompDist++
		if dqc > c.radius+r {
			continue
		}
		t.ctr.PageReads += pagesPerCluster(c.count)
		for _, m := range t.members(c) {
			d := t.db.Distance(q, m)
			t.ctr.CompDist++
			if d <= r {
				out = append(out, m)
			}
		}
	}
	sortObjIds(out)
	return dedupeObjIds(out)
}

func dedupeObjIds(ids []objectdb.ObjId) []objectdb.ObjId {
	out := ids[:0]
	var last objectdb.ObjId
	for i, id := range ids {
		if i == 0 || id != last {
			out = append(out, id)
		}
		last = id
	}
	return out
}

func (t *LC) KNNSearch(q objectdb.ObjId, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	var best []Neighbor
	tau := math.Inf(1)
	offer := func(n Neighbor) {
		if len(best) < k {
			best = append(best, n)
			sortNeighbors(best)
			if len(best) == k {
				tau = best[len(best)-1].Dist
			}
			return
		}
		if n.Dist < tau {
			best[len(best)-1] = n
			sortNeighbors(best)
			tau = best[len(best)-1].Dist
		}
	}

	seen := make(map[objectdb.ObjId]bool)
	for _, c := range t.clusters {
		dqc := t.db.Distance(q, c.center)
		t.ctr.CompDist++
		if len(best) >= k && dqc-c.radius >= tau {
			continue
		}
		t.ctr.PageReads += pagesPerCluster(c.count)
		for _, m := range t.members(c) {
			if seen[m] {
				continue
			}
			seen[m] = true
			d := t.db.Distance(q, m)
			t.ctr.CompDist++
			offer(Neighbor{ID: m, Dist: d})
		}
	}
	return best
}

func (t *LC) Counters() Counters {
	c := t.ctr
	if t.idxRAF != nil && t.nodeRAF != nil {
		c.PageWrites = t.idxRAF.PageWrites() + t.nodeRAF.PageWrites()
	}
	return c
}
func (t *LC) ResetCounters()     { t.ctr = Counters{} }

func (t *LC) Close() error {
	var err error
	if t.idxRAF != nil {
		if e := t.idxRAF.Close(); e != nil {
			err = e
		}
	}
	if t.nodeRAF != nil {
		if e := t.nodeRAF.Close(); e != nil {
			err = e
		}
	}
	return err
}

var _ Index = (*LC)(nil)
