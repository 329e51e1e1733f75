package core

import (
	"container/heap"
	"time"
)

// DelayedTask is a task registered for a target time.
type DelayedTask struct {
	TargetTime time.Time
	Order      uint64
	QueueID    TaskQueueID
	Task       Task
	index      int // for heap interface
}

// before reports whether t must run ahead of other: earlier target time first,
// then earlier post order.
func (t *DelayedTask) before(other *DelayedTask) bool {
	if t.TargetTime.Equal(other.TargetTime) {
		return t.Order < other.Order
	}
	return t.TargetTime.Before(other.TargetTime)
}

// DelayedTaskHeap implements heap.Interface
type DelayedTaskHeap []*DelayedTask

func (h DelayedTaskHeap) Len() int           { return len(h) }
func (h DelayedTaskHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h DelayedTaskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *DelayedTaskHeap) Push(x any) {
	n := len(*h)
	item := x.(*DelayedTask)
	item.index = n
	*h = append(*h, item)
}

func (h *DelayedTaskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *DelayedTaskHeap) Peek() *DelayedTask {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// delayedTaskQueue is the per-queue task store kept by MessageLoopTaskQueues.
// It is not synchronized; the registry lock guards it.
type delayedTaskQueue struct {
	pq DelayedTaskHeap
}

func newDelayedTaskQueue() *delayedTaskQueue {
	q := &delayedTaskQueue{pq: make(DelayedTaskHeap, 0)}
	heap.Init(&q.pq)
	return q
}

func (q *delayedTaskQueue) push(item *DelayedTask) {
	heap.Push(&q.pq, item)
}

func (q *delayedTaskQueue) pop() *DelayedTask {
	if len(q.pq) == 0 {
		return nil
	}
	return heap.Pop(&q.pq).(*DelayedTask)
}

func (q *delayedTaskQueue) peek() *DelayedTask {
	return q.pq.Peek()
}

func (q *delayedTaskQueue) len() int {
	return len(q.pq)
}

// clear drops every task and releases references.
func (q *delayedTaskQueue) clear() {
	q.pq = make(DelayedTaskHeap, 0)
}
