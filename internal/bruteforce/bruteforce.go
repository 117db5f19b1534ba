// Package bruteforce provides the linear-scan ground truth oracle used to
// cross-check every index's soundness and completeness (spec §8).
package bruteforce

import (
	"sort"

	"github.com/Aman-CERP/metricbench/internal/objectdb"
)

// Neighbor pairs an ObjId with its distance to the query.
type Neighbor struct {
	ID   objectdb.ObjId
	Dist float64
}

// RangeSearch returns every object within r of q via a full scan.
func RangeSearch(db objectdb.DB, q objectdb.ObjId, r float64) []objectdb.ObjId {
	var out []objectdb.ObjId
	for i := 0; i < db.Size(); i++ {
		id := objectdb.ObjId(i)
		if db.Distance(q, id) <= r {
			out = append(out, id)
		}
	}
	return out
}

// KNNSearch returns the k nearest objects to q, ascending by distance,
// ties broken by ObjId ascending.
func KNNSearch(db objectdb.DB, q objectdb.ObjId, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	all := make([]Neighbor, db.Size())
	for i := 0; i < db.Size(); i++ {
		id := objectdb.ObjId(i)
		all[i] = Neighbor{ID: id, Dist: db.Distance(q, id)}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Dist != all[j].Dist {
			return all[i].Dist < all[j].Dist
		}
		return all[i].ID < all[j].ID
	})
	if k > len(all) {
		k = len(all)
	}
	return all[:k]
}
