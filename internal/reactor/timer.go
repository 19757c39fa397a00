package reactor

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled callback, keyed by absolute fire time.
type timerEntry struct {
	at    time.Time
	fn    func()
	id    uint64
	index int // heap position, maintained by heap.Interface
}

// timerHeap is a min-heap of timerEntry ordered by fire time, so the
// timer loop always sleeps until the earliest deadline.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	entry := x.(*timerEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// removeByID deletes the entry with the given id, reporting whether it
// was found. O(n) scan; the heap stays small (a handful of probe,
// announce, reap, and retry deadlines).
func (h *timerHeap) removeByID(id uint64) bool {
	for _, entry := range *h {
		if entry.id == id {
			heap.Remove(h, entry.index)
			return true
		}
	}
	return false
}
