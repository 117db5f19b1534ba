package mindex

import (
	"container/heap"
	"math"
)

// bestK is the bounded max-heap of the k best answers shared by every
// kNN search in this package (spec §9 "Best-first kNN": "a max-heap of k
// best answers"). Each index's kNN drives its own subtree recursion using
// the index-specific lower-bound inequality from spec §4.3, Offer()-ing
// candidates into this shared structure and reading Tau() back out as the
// pruning threshold — this is the single piece of the kNN skeleton that
// is genuinely common across partition strategies; the traversal order
// itself is partition-specific and stays in each index's own file.
type bestK struct {
	k     int
	items []Neighbor // max-heap by Dist, tie-break by ID descending so the
	// heap root is always the single worst-ranked candidate to evict.
}

func newBestK(k int) *bestK { return &bestK{k: k} }

func (b *bestK) Len() int { return len(b.items) }
func (b *bestK) Less(i, j int) bool {
	if b.items[i].Dist != b.items[j].Dist {
		return b.items[i].Dist > b.items[j].Dist
	}
	return b.items[i].ID > b.items[j].ID
}
func (b *bestK) Swap(i, j int) { b.items[i], b.items[j] = b.items[j], b.items[i] }
func (b *bestK) Push(x any)    { b.items = append(b.items, x.(Neighbor)) }
func (b *bestK) Pop() any {
	old := b.items
	n := len(old)
	it := old[n-1]
	b.items = old[:n-1]
	return it
}

// Tau returns the current k-th best distance, or +Inf if fewer than k
// candidates have been seen.
func (b *bestK) Tau() float64 {
	if len(b.items) == 0 || len(b.items) < b.k {
		return math.Inf(1)
	}
	return b.items[0].Dist
}

// Full reports whether k candidates have been collected.
func (b *bestK) Full() bool { return len(b.items) >= b.k }

// Offer inserts a candidate if the heap isn't full or it beats Tau().
func (b *bestK) Offer(n Neighbor) {
	if b.k <= 0 {
		return
	}
	if len(b.items) < b.k {
		heap.Push(b, n)
		return
	}
	root := b.items[0]
	if n.Dist < root.Dist || (n.Dist == root.Dist && n.ID < root.ID) {
		heap.Pop(b)
		heap.Push(b, n)
	}
}

// Results drains the heap into ascending-distance, ID-tiebroken order.
func (b *bestK) Results() []Neighbor {
	out := make([]Neighbor, len(b.items))
	copy(out, b.items)
	sortNeighbors(out)
	return out
}
