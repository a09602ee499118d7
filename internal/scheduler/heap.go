package scheduler

import "github.com/stretchplay/engine/internal/chunktable"

// chunkHeap is a container/heap.Interface min-heap over chunk indices, keyed
// by the chunk's current Priority (lower dispatches first).
type chunkHeap struct {
	table *chunktable.Table
	idx   []int // chunk indices, heap-ordered
}

func (h *chunkHeap) Len() int { return len(h.idx) }

func (h *chunkHeap) Less(i, j int) bool {
	return h.table.Chunks[h.idx[i]].Priority < h.table.Chunks[h.idx[j]].Priority
}

func (h *chunkHeap) Swap(i, j int) {
	h.idx[i], h.idx[j] = h.idx[j], h.idx[i]
}

func (h *chunkHeap) Push(x any) {
	h.idx = append(h.idx, x.(int))
}

func (h *chunkHeap) Pop() any {
	n := len(h.idx)
	v := h.idx[n-1]
	h.idx = h.idx[:n-1]
	return v
}
