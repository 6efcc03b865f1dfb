package engine

import (
	"container/heap"
	"time"
)

// completed is a computed unit waiting for its predecessors.
type completed struct {
	batch    Batch
	reserved uint64
	elapsed  time.Duration
}

// reorderHeap is a min-heap of completed units keyed by unit index.
type reorderHeap struct {
	items []completed
}

func (h *reorderHeap) Len() int { return len(h.items) }

func (h *reorderHeap) Less(i, j int) bool {
	return h.items[i].batch.Index < h.items[j].batch.Index
}

func (h *reorderHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *reorderHeap) Push(x any) {
	h.items = append(h.items, x.(completed))
}

func (h *reorderHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = completed{}
	h.items = old[:n-1]
	return item
}

// add buffers c.
func (h *reorderHeap) add(c completed) {
	heap.Push(h, c)
}

// popReady removes and returns the lowest unit if its index is next.
func (h *reorderHeap) popReady(next uint64) (completed, bool) {
	if len(h.items) == 0 || h.items[0].batch.Index != next {
		return completed{}, false
	}
	return heap.Pop(h).(completed), true
}

// drain removes and returns every buffered unit.
func (h *reorderHeap) drain() []completed {
	out := h.items
	h.items = nil
	return out
}
