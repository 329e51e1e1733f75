package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	LoopName   string
	QueueID    TaskQueueID
	PostedFor  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	// Lateness is how long after PostedFor the task started.
	Lateness   time.Duration
	Panicked   bool
}

// LoopStats represents runtime observability state for a message loop.
type LoopStats struct {
	Name        string
	QueueID     TaskQueueID
	OSThreadID  int
	Pending     int
	SubsumedBy  TaskQueueID
	Owns        int
	Executed    int64
	Rejected    int64
	Terminated  bool
	LastTaskAt  time.Time
	LastTaskDur time.Duration
}
