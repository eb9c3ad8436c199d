package router

import (
	"container/heap"
	"time"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

// queuedEvent is an event waiting for the reasoner, ordered by priority.
type queuedEvent struct {
	event      *heuristic.Event
	candidates []heuristic.Match
	priority   float64
	deadline   time.Time
	seq        uint64
	index      int
}

// eventQueue is a max-heap over priority with FIFO tie-breaking by
// sequence number. Not safe for concurrent use; the router serializes
// access through its queue mutex, which is also what makes dequeue and
// timeout eviction mutually exclusive.
type eventQueue []*queuedEvent

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	item := x.(*queuedEvent)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// removeExpired extracts every entry whose deadline passed before now.
// Heap invariants are restored after removal.
func (q *eventQueue) removeExpired(now time.Time) []*queuedEvent {
	var expired []*queuedEvent
	kept := (*q)[:0]
	for _, item := range *q {
		if now.After(item.deadline) {
			item.index = -1
			expired = append(expired, item)
		} else {
			kept = append(kept, item)
		}
	}
	if len(expired) > 0 {
		*q = kept
		heap.Init(q)
	}
	return expired
}
