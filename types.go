package renderpipeline

import (
	"github.com/Swind/go-render-pipeline/core"
	"github.com/Swind/go-render-pipeline/shell"
)

// Re-export commonly used types so most callers only import this package.

// Task is the unit of work posted to a runner.
type Task = core.Task

// TaskRunner is the interface for posting tasks.
type TaskRunner = core.TaskRunner

// SingleThreadTaskRunner posts to one thread-affine task queue.
type SingleThreadTaskRunner = core.SingleThreadTaskRunner

// TaskQueueID identifies a task queue in a registry.
type TaskQueueID = core.TaskQueueID

type (
	ThreadStrategyForRendering = shell.ThreadStrategyForRendering
	ManufactorOptions          = shell.ManufactorOptions
	TaskRunnerManufactor       = shell.TaskRunnerManufactor
	DynamicUIOperationQueue    = shell.DynamicUIOperationQueue
	QueueOptions               = shell.QueueOptions
	UIOperation                = shell.UIOperation
	UIOperationStatus          = shell.UIOperationStatus
	ThreadModeManager          = shell.ThreadModeManager
	ThreadModeAutoSwitch       = shell.ThreadModeAutoSwitch
)

// Strategy constants
const (
	AllOnUI      = shell.AllOnUI
	PartOnLayout = shell.PartOnLayout
	MostOnTASM   = shell.MostOnTASM
	MultiThreads = shell.MultiThreads
)

// Status constants
const (
	UIOperationStatusPending      = shell.UIOperationStatusPending
	UIOperationStatusTASMFinish   = shell.UIOperationStatusTASMFinish
	UIOperationStatusLayoutFinish = shell.UIOperationStatusLayoutFinish
)

// TaskWithResult and ReplyWithResult for the generic PostTaskAndReply pattern
type TaskWithResult[T any] = core.TaskWithResult[T]
type ReplyWithResult[T any] = core.ReplyWithResult[T]

var (
	// GetCurrentTaskRunner retrieves the runner executing the current task.
	GetCurrentTaskRunner = core.GetCurrentTaskRunner

	ParseThreadStrategy     = shell.ParseThreadStrategy
	NewThreadModeManager    = shell.NewThreadModeManager
	NewThreadModeAutoSwitch = shell.NewThreadModeAutoSwitch

	ErrUIThreadNotInitialized = shell.ErrUIThreadNotInitialized
)
