package smindex

import (
	"container/heap"
	"math"
)

// smBestK is the bounded max-heap of k best answers shared by every SM
// index's kNN search, mirroring internal/mindex's bestK (spec §9).
type smBestK struct {
	k     int
	items []Neighbor
}

func newSMBestK(k int) *smBestK { return &smBestK{k: k} }

func (b *smBestK) Len() int { return len(b.items) }
func (b *smBestK) Less(i, j int) bool {
	if b.items[i].Dist != b.items[j].Dist {
		return b.items[i].Dist > b.items[j].Dist
	}
	return b.items[i].ID > b.items[j].ID
}
func (b *smBestK) Swap(i, j int) { b.items[i], b.items[j] = b.items[j], b.items[i] }
func (b *smBestK) Push(x any)    { b.items = append(b.items, x.(Neighbor)) }
func (b *smBestK) Pop() any {
	old := b.items
	n := len(old)
	it := old[n-1]
	b.items = old[:n-1]
	return it
}

func (b *smBestK) Tau() float64 {
	if len(b.items) < b.k {
		return math.Inf(1)
	}
	return b.items[0].Dist
}

func (b *smBestK) Full() bool { return len(b.items) >= b.k }

func (b *smBestK) Offer(n Neighbor) {
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

func (b *smBestK) Results() []Neighbor {
	out := make([]Neighbor, len(b.items))
	copy(out, b.items)
	sortNeighbors(out)
	return out
}
