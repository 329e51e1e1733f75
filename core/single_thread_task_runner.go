package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// SingleThreadTaskRunner posts tasks to one logical task queue.
//
// The runner owns no thread. It holds the registry and a queue id and resolves
// the executing loop on every call, so it stays valid after the loop is gone:
// posts to a disposed queue are dropped and reported to the
// RejectedTaskHandler, sync posts return ErrLoopTerminated.
//
// While the queue is merged into another, its tasks run on the owner's thread
// and RunsTasksOnCurrentThread follows the live merge table.
type SingleThreadTaskRunner struct {
	registry *MessageLoopTaskQueues
	queueID  TaskQueueID
	name     string

	rejectedHandler RejectedTaskHandler
	metrics         Metrics
	rejected        atomic.Int64
}

// NewSingleThreadTaskRunner creates a runner for queue id of registry.
func NewSingleThreadTaskRunner(registry *MessageLoopTaskQueues, id TaskQueueID, config *LoopConfig) *SingleThreadTaskRunner {
	if registry == nil {
		registry = DefaultTaskQueues()
	}
	cfg := config.withDefaults()
	name := cfg.Name
	if name == "" {
		name = "runner-" + id.String()
	}
	return &SingleThreadTaskRunner{
		registry:        registry,
		queueID:         id,
		name:            name,
		rejectedHandler: cfg.RejectedTaskHandler,
		metrics:         cfg.Metrics,
	}
}

// Name returns the name of the task runner
func (r *SingleThreadTaskRunner) Name() string {
	return r.name
}

// GetTaskQueueID returns the queue this runner posts to.
func (r *SingleThreadTaskRunner) GetTaskQueueID() TaskQueueID {
	return r.queueID
}

// Registry returns the registry the queue lives in.
func (r *SingleThreadTaskRunner) Registry() *MessageLoopTaskQueues {
	return r.registry
}

// IsAlive reports whether the target queue still exists.
func (r *SingleThreadTaskRunner) IsAlive() bool {
	return r.registry.IsAlive(r.queueID)
}

// RejectedCount returns how many posts were dropped.
func (r *SingleThreadTaskRunner) RejectedCount() int64 {
	return r.rejected.Load()
}

// PostTask submits a task for execution
func (r *SingleThreadTaskRunner) PostTask(task Task) {
	r.PostTaskForTime(task, time.Now())
}

// PostDelayedTask submits a task that runs no earlier than delay from now.
func (r *SingleThreadTaskRunner) PostDelayedTask(task Task, delay time.Duration) {
	r.PostTaskForTime(task, time.Now().Add(delay))
}

// PostTaskForTime submits a task that runs no earlier than targetTime.
func (r *SingleThreadTaskRunner) PostTaskForTime(task Task, targetTime time.Time) {
	if task == nil {
		return
	}
	if !r.registry.RegisterTask(r.queueID, r.bind(task), targetTime) {
		r.reject("terminated")
	}
}

// PostSyncTask blocks until task has run on the target thread.
func (r *SingleThreadTaskRunner) PostSyncTask(task Task) error {
	return r.PostSyncTaskWithContext(context.Background(), task)
}

// PostSyncTaskWithContext is PostSyncTask bounded by ctx.
//
// It returns ErrReentrantSyncTask when the queue executes on the calling
// thread, ErrLoopTerminated when the queue is disposed before the task ran,
// and ctx.Err() when ctx ends first.
func (r *SingleThreadTaskRunner) PostSyncTaskWithContext(ctx context.Context, task Task) error {
	if task == nil {
		return nil
	}
	if r.RunsTasksOnCurrentThread() {
		return fmt.Errorf("post sync task to %s: %w", r.name, ErrReentrantSyncTask)
	}

	terminated := r.registry.TerminationSignal(r.queueID)
	done := make(chan struct{})
	wrapped := func(ctx context.Context) {
		defer close(done)
		task(ctx)
	}
	if !r.registry.RegisterTask(r.queueID, r.bind(wrapped), time.Now()) {
		r.reject("terminated")
		return fmt.Errorf("post sync task to %s: %w", r.name, ErrLoopTerminated)
	}

	select {
	case <-done:
		return nil
	case <-terminated:
		select {
		case <-done:
			return nil
		default:
		}
		return fmt.Errorf("post sync task to %s: %w", r.name, ErrLoopTerminated)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunsTasksOnCurrentThread reports whether tasks of this queue currently run
// on the calling goroutine's loop.
func (r *SingleThreadTaskRunner) RunsTasksOnCurrentThread() bool {
	return r.registry.ExecutesOnCurrentThread(r.queueID)
}

// IsSameThread reports whether other currently executes on the same thread.
func (r *SingleThreadTaskRunner) IsSameThread(other TaskRunner) bool {
	if other == nil {
		return false
	}
	return r.registry.RunsOnTheSameThread(r.queueID, other.GetTaskQueueID())
}

func (r *SingleThreadTaskRunner) bind(task Task) Task {
	return func(ctx context.Context) {
		task(context.WithValue(ctx, taskRunnerKey, r))
	}
}

func (r *SingleThreadTaskRunner) reject(reason string) {
	r.rejected.Add(1)
	r.metrics.RecordTaskRejected(r.name, reason)
	r.rejectedHandler.HandleRejectedTask(r.name, reason)
}

// =============================================================================
// Task and Reply Pattern
// =============================================================================

// PostTaskAndReply executes task on this runner, then posts reply to replyRunner.
// If task panics, reply will not be executed.
func (r *SingleThreadTaskRunner) PostTaskAndReply(task Task, reply Task, replyRunner TaskRunner) {
	postTaskAndReplyInternal(r, task, reply, replyRunner)
}

// =============================================================================
// Synchronization Methods
// =============================================================================

// WaitIdle blocks until all tasks queued before the call have completed.
// This is implemented by posting a barrier task and waiting for it to execute.
//
// Returns error if:
// - Context is cancelled or deadline exceeded
// - The queue is disposed before the barrier runs
// - Called from the runner's own thread
//
// Note: Delayed tasks whose target time is later than now are not waited for.
func (r *SingleThreadTaskRunner) WaitIdle(ctx context.Context) error {
	return r.PostSyncTaskWithContext(ctx, func(context.Context) {})
}

// FlushAsync posts a barrier task that executes the callback when all prior tasks complete.
// This is a non-blocking alternative to WaitIdle.
//
// Example:
//
//	runner.PostTask(task1)
//	runner.PostTask(task2)
//	runner.FlushAsync(func() {
//	    fmt.Println("task1 and task2 completed!")
//	})
func (r *SingleThreadTaskRunner) FlushAsync(callback func()) {
	r.PostTask(func(ctx context.Context) {
		callback()
	})
}
