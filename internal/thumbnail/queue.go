package thumbnail

import (
	"container/heap"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Priority tiers; lower runs first.
type Priority int

const (
	High   Priority = 1
	Medium Priority = 2
	Low    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	}
	return "unknown"
}

// ParsePriority accepts high, medium or low.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "high":
		return High, true
	case "medium":
		return Medium, true
	case "low":
		return Low, true
	}
	return 0, false
}

type task struct {
	sketch   string
	path     string
	priority Priority
	force    bool
	attempts int
	seq      uint64
	enqueued time.Time

	bo *backoff.ExponentialBackOff
	// set while sleeping before a retry
	timer *time.Timer
}

// taskHeap orders by (priority, seq).
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*taskHeap)(nil)
