package scheduler

import (
	"container/heap"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
)

type entry struct {
	rule  *alerting.AlertRule
	next  time.Time
	index int
}

// dueQueue is a min-heap of rules keyed by next due time.
type dueQueue []*entry

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	if q[i].next.Equal(q[j].next) {
		return q[i].rule.ID < q[j].rule.ID
	}
	return q[i].next.Before(q[j].next)
}

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *dueQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

func (q *dueQueue) peek() *entry {
	if len(*q) == 0 {
		return nil
	}
	return (*q)[0]
}

func (q *dueQueue) update(e *entry, next time.Time) {
	e.next = next
	heap.Fix(q, e.index)
}

func (q *dueQueue) remove(e *entry) {
	heap.Remove(q, e.index)
}
