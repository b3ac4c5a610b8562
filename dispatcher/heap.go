package dispatcher

import (
	"container/heap"

	"github.com/xraph/cadence/run"
)

// runHeap is a queue's pending runs in dispatch order.
type runHeap []*run.Run

var _ heap.Interface = (*runHeap)(nil)

func (h runHeap) Len() int           { return len(h) }
func (h runHeap) Less(i, j int) bool { return run.DispatchBefore(h[i], h[j]) }
func (h runHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *runHeap) Push(x any) { *h = append(*h, x.(*run.Run)) }

func (h *runHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}
