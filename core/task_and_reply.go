package core

import (
	"context"
	"time"
)

// TaskWithResult is a task that produces a value for its reply.
type TaskWithResult[T any] func(ctx context.Context) (T, error)

// ReplyWithResult receives the outcome of a TaskWithResult.
type ReplyWithResult[T any] func(ctx context.Context, result T, err error)

// =============================================================================
// PostTaskAndReply Internal Helpers
// =============================================================================

// postTaskAndReplyInternal wraps the task and reply to ensure proper execution order:
// 1. Execute task on targetRunner
// 2. If task completes successfully (no panic), post reply to replyRunner
func postTaskAndReplyInternal(
	targetRunner TaskRunner,
	task Task,
	reply Task,
	replyRunner TaskRunner,
) {
	if replyRunner == nil {
		// No reply runner specified, just execute the task
		targetRunner.PostTask(task)
		return
	}

	targetRunner.PostTask(runThenReply(task, reply, replyRunner))
}

// runThenReply runs task and posts reply only when task returned normally.
// A task panic is logged here and does not reach the loop's PanicHandler.
func runThenReply(task Task, reply Task, replyRunner TaskRunner) Task {
	return func(ctx context.Context) {
		panicked := true

		func() {
			defer func() {
				if r := recover(); r != nil {
					GetLogger().Warn("task panicked, reply will not run", F("panic", r))
				}
			}()
			task(ctx)
			panicked = false
		}()

		if !panicked && replyRunner != nil {
			replyRunner.PostTask(reply)
		}
	}
}

// =============================================================================
// Generic PostTaskAndReply with Result
// =============================================================================

// PostTaskAndReplyWithResult executes a task that returns a result of type T and an error,
// then passes that result to a reply callback on the replyRunner.
//
// The task always completes before the reply starts, and the reply sees the
// values written by the task: the reply is posted from the task's own thread
// after it returns.
//
// Example:
//
//	PostTaskAndReplyWithResult(
//	    layoutRunner,
//	    func(ctx context.Context) (int, error) {
//	        return measure(), nil
//	    },
//	    func(ctx context.Context, height int, err error) {
//	        applyHeight(height)
//	    },
//	    uiRunner,
//	)
func PostTaskAndReplyWithResult[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	reply ReplyWithResult[T],
	replyRunner TaskRunner,
) {
	PostDelayedTaskAndReplyWithResult(targetRunner, task, 0, reply, replyRunner)
}

// =============================================================================
// Delayed Task and Reply
// =============================================================================

// PostDelayedTaskAndReplyWithResult is similar to PostTaskAndReplyWithResult,
// but delays the execution of the task.
//
// The reply is NOT delayed - it executes immediately after the task completes.
// Only the initial task execution is delayed by the specified duration.
func PostDelayedTaskAndReplyWithResult[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	delay time.Duration,
	reply ReplyWithResult[T],
	replyRunner TaskRunner,
) {
	var result T
	var err error

	wrappedTask := func(ctx context.Context) {
		result, err = task(ctx)
	}

	wrappedReply := func(ctx context.Context) {
		reply(ctx, result, err)
	}

	targetRunner.PostDelayedTask(runThenReply(wrappedTask, wrappedReply, replyRunner), delay)
}
