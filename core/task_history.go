package core

import (
	"sync"
	"time"
)

const defaultTaskHistoryCapacity = 100

// loopHistory keeps the last executions of a loop. A merged loop runs tasks
// of every queue it owns, so each record names the queue the task came from.
type loopHistory struct {
	mu      sync.Mutex
	loop    string
	records []TaskExecutionRecord
	next    int
	size    int
}

func newLoopHistory(loop string, capacity int) *loopHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &loopHistory{loop: loop, records: make([]TaskExecutionRecord, capacity)}
}

// record stores the execution of task. Lateness is how long after its target
// time the task started; tasks that ran on time have none.
func (h *loopHistory) record(task *DelayedTask, startedAt, finishedAt time.Time, panicked bool) {
	rec := TaskExecutionRecord{
		LoopName:   h.loop,
		QueueID:    task.QueueID,
		PostedFor:  task.TargetTime,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
		Panicked:   panicked,
	}
	if late := startedAt.Sub(task.TargetTime); !task.TargetTime.IsZero() && late > 0 {
		rec.Lateness = late
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[h.next] = rec
	h.next = (h.next + 1) % len(h.records)
	if h.size < len(h.records) {
		h.size++
	}
}

// recent returns up to limit records newest first, keeping only those keep
// accepts. A nil keep accepts all; limit <= 0 means no limit.
func (h *loopHistory) recent(limit int, keep func(*TaskExecutionRecord) bool) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []TaskExecutionRecord
	for i := 0; i < h.size; i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		rec := &h.records[(h.next-1-i+len(h.records))%len(h.records)]
		if keep == nil || keep(rec) {
			out = append(out, *rec)
		}
	}
	return out
}

func (h *loopHistory) forQueue(id TaskQueueID, limit int) []TaskExecutionRecord {
	return h.recent(limit, func(rec *TaskExecutionRecord) bool { return rec.QueueID == id })
}

func (h *loopHistory) last() (TaskExecutionRecord, bool) {
	if recs := h.recent(1, nil); len(recs) == 1 {
		return recs[0], true
	}
	return TaskExecutionRecord{}, false
}
