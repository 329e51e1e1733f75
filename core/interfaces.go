package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// This allows custom panic handling, logging, and recovery strategies.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task (carries the current task runner)
	// - loopName: The name of the message loop where the panic occurred
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, loopName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler reports panics through the package logger.
type DefaultPanicHandler struct{}

// HandlePanic logs panic information at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, loopName string, panicInfo any, stackTrace []byte) {
	GetLogger().Error("task panicked",
		F("loop", loopName),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting pipeline metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting frame time.
type Metrics interface {
	// RecordTaskDuration records how long a task took on a loop.
	RecordTaskDuration(loopName string, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(loopName string, panicInfo any)

	// RecordQueueDepth records the number of tasks still pending after a flush.
	RecordQueueDepth(loopName string, depth int)

	// RecordTaskRejected records that a post was dropped.
	//
	// Parameters:
	// - loopName: The name of the loop or runner
	// - reason: Why the task was rejected (e.g. "terminated")
	RecordTaskRejected(loopName string, reason string)

	// RecordUIOperationsFlushed records how many UI operations one flush executed.
	RecordUIOperationsFlushed(queueName string, count int)

	// RecordVSyncFallback records that a loop woke by timer because vsync stalled.
	RecordVSyncFallback(loopName string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordTaskDuration is a no-op.
func (m *NilMetrics) RecordTaskDuration(loopName string, duration time.Duration) {}

// RecordTaskPanic is a no-op.
func (m *NilMetrics) RecordTaskPanic(loopName string, panicInfo any) {}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(loopName string, depth int) {}

// RecordTaskRejected is a no-op.
func (m *NilMetrics) RecordTaskRejected(loopName string, reason string) {}

// RecordUIOperationsFlushed is a no-op.
func (m *NilMetrics) RecordUIOperationsFlushed(queueName string, count int) {}

// RecordVSyncFallback is a no-op.
func (m *NilMetrics) RecordVSyncFallback(loopName string) {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a post is dropped because the target
// queue has been torn down.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(runnerName string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at debug level.
type DefaultRejectedTaskHandler struct{}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(runnerName string, reason string) {
	GetLogger().Debug("task rejected", F("runner", runnerName), F("reason", reason))
}

// =============================================================================
// LoopConfig: Configuration for MessageLoop
// =============================================================================

// LoopConfig holds configuration options for a MessageLoop and the runner
// bound to it. All handlers are optional; defaults are used when nil.
type LoopConfig struct {
	// Name labels logs, metrics and history records.
	Name string

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics records loop metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a post is dropped. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// Logger defaults to the package logger.
	Logger Logger

	// HistoryCapacity bounds the execution history ring. Defaults to 100.
	HistoryCapacity int
}

// DefaultLoopConfig returns a config with default handlers.
func DefaultLoopConfig(name string) *LoopConfig {
	return &LoopConfig{
		Name:                name,
		PanicHandler:        &DefaultPanicHandler{},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{},
		HistoryCapacity:     defaultTaskHistoryCapacity,
	}
}

func (c *LoopConfig) withDefaults() LoopConfig {
	var out LoopConfig
	if c != nil {
		out = *c
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{}
	}
	if out.Logger == nil {
		out.Logger = PackageLogger()
	}
	if out.HistoryCapacity <= 0 {
		out.HistoryCapacity = defaultTaskHistoryCapacity
	}
	return out
}
