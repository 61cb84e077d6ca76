package exchange

import "container/heap"

// command is one queued trading command with its effective arrival time at
// the venue after simulated latency.
type command struct {
	ts    int64
	seq   uint64
	kind  string
	apply func()
}

// commandHeap orders commands by (effective time, arrival sequence) so that
// equal-latency commands execute in submission order.
type commandHeap []*command

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	if h[i].ts != h[j].ts {
		return h[i].ts < h[j].ts
	}
	return h[i].seq < h[j].seq
}

func (h commandHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commandHeap) Push(x any) { *h = append(*h, x.(*command)) }

func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// inflightQueue holds commands travelling to the venue.
type inflightQueue struct {
	h commandHeap
}

func newInflightQueue() *inflightQueue {
	q := &inflightQueue{}
	heap.Init(&q.h)
	return q
}

func (q *inflightQueue) push(c *command) {
	heap.Push(&q.h, c)
}

// popDue returns the next command due at or before tsNow, or nil.
func (q *inflightQueue) popDue(tsNow int64) *command {
	if len(q.h) == 0 || q.h[0].ts > tsNow {
		return nil
	}
	return heap.Pop(&q.h).(*command)
}

func (q *inflightQueue) len() int { return len(q.h) }
