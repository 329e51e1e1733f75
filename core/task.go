package core

import (
	"context"
	"errors"
	"time"
)

// Task is the unit of work (Closure) executed by a MessageLoop.
type Task func(ctx context.Context)

var (
	// ErrLoopTerminated is returned when the target message loop is gone.
	ErrLoopTerminated = errors.New("message loop terminated")

	// ErrReentrantSyncTask is returned when a sync task targets the calling thread.
	ErrReentrantSyncTask = errors.New("sync task posted to the current thread")
)

// =============================================================================
// TaskRunner: Define task submission interface
// =============================================================================

// TaskRunner posts work to one logical task queue.
//
// A TaskRunner never owns the thread that executes its tasks; it resolves the
// executing loop through the registry on every call, so posting to a torn-down
// loop is a silent no-op rather than a crash.
type TaskRunner interface {
	PostTask(task Task)
	PostDelayedTask(task Task, delay time.Duration)

	// PostSyncTask blocks until task has run on the target thread.
	PostSyncTask(task Task) error

	RunsTasksOnCurrentThread() bool
	GetTaskQueueID() TaskQueueID
}

// RunNowOrPostTask runs task inline when the caller already executes on
// runner's thread, otherwise posts it.
func RunNowOrPostTask(runner TaskRunner, task Task) {
	if runner == nil || task == nil {
		return
	}
	if runner.RunsTasksOnCurrentThread() {
		task(context.WithValue(context.Background(), taskRunnerKey, runner))
		return
	}
	runner.PostTask(task)
}

// =============================================================================
// Context Helper
// =============================================================================
type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

// GetCurrentTaskRunner returns the runner whose queue the task was posted to.
func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}
