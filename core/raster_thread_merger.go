package core

import (
	"context"
	"sync"
)

// RasterThreadStatus is the outcome of RasterThreadMerger.DecrementLease.
type RasterThreadStatus int

const (
	RemainsMerged RasterThreadStatus = iota
	RemainsUnmerged
	UnmergedNow
)

func (s RasterThreadStatus) String() string {
	switch s {
	case RemainsMerged:
		return "remains_merged"
	case RemainsUnmerged:
		return "remains_unmerged"
	case UnmergedNow:
		return "unmerged_now"
	default:
		return "unknown"
	}
}

// RasterThreadMerger merges a rasterizing queue into a platform queue for a
// lease counted in frames. Each DecrementLease consumes one frame; the merge
// is undone when the lease reaches zero.
type RasterThreadMerger struct {
	registry   *MessageLoopTaskQueues
	platformID TaskQueueID
	rasterID   TaskQueueID

	mu        sync.Mutex
	leaseTerm int
	enabled   bool
	mergedCh  chan struct{}
}

// NewRasterThreadMerger creates an enabled, unmerged merger.
func NewRasterThreadMerger(registry *MessageLoopTaskQueues, platformID, rasterID TaskQueueID) *RasterThreadMerger {
	if registry == nil {
		registry = DefaultTaskQueues()
	}
	return &RasterThreadMerger{
		registry:   registry,
		platformID: platformID,
		rasterID:   rasterID,
		enabled:    true,
		mergedCh:   make(chan struct{}),
	}
}

// MergeWithLease merges the queues for leaseTerm frames. When already merged
// the lease is extended if leaseTerm is longer.
func (m *RasterThreadMerger) MergeWithLease(leaseTerm int) {
	if leaseTerm <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	if m.isMergedLocked() {
		if leaseTerm > m.leaseTerm {
			m.leaseTerm = leaseTerm
		}
		return
	}
	if !m.registry.Merge(m.platformID, m.rasterID) {
		GetLogger().Warn("raster thread merge refused",
			F("platform", m.platformID.String()),
			F("raster", m.rasterID.String()))
		return
	}
	m.leaseTerm = leaseTerm
	close(m.mergedCh)
}

// ExtendLeaseTo raises the remaining lease of a merged pair to leaseTerm.
func (m *RasterThreadMerger) ExtendLeaseTo(leaseTerm int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isMergedLocked() && leaseTerm > m.leaseTerm {
		m.leaseTerm = leaseTerm
	}
}

// DecrementLease consumes one frame of the lease.
func (m *RasterThreadMerger) DecrementLease() RasterThreadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isMergedLocked() {
		return RemainsUnmerged
	}
	if !m.enabled {
		return RemainsMerged
	}
	m.leaseTerm--
	if m.leaseTerm > 0 {
		return RemainsMerged
	}
	m.unmergeLocked()
	return UnmergedNow
}

// UnMergeNow ends the lease immediately.
func (m *RasterThreadMerger) UnMergeNow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.unmergeLocked()
}

// IsMerged reports the live merge state from the registry.
func (m *RasterThreadMerger) IsMerged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isMergedLocked()
}

// LeaseTerm returns the frames left on the lease.
func (m *RasterThreadMerger) LeaseTerm() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaseTerm
}

// Enable allows merges and unmerges.
func (m *RasterThreadMerger) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

// Disable freezes the current merge state.
func (m *RasterThreadMerger) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// IsEnabled reports whether merges and unmerges take effect.
func (m *RasterThreadMerger) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// WaitUntilMerged blocks until the queues are merged or ctx ends.
func (m *RasterThreadMerger) WaitUntilMerged(ctx context.Context) error {
	m.mu.Lock()
	ch := m.mergedCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsOnPlatformThread reports whether the caller runs on the platform loop.
func (m *RasterThreadMerger) IsOnPlatformThread() bool {
	current, ok := m.registry.CurrentTaskQueueID()
	return ok && current == m.platformID
}

// IsOnRasterizingThread reports whether the caller runs where raster tasks
// currently execute: the platform loop while merged, the raster loop otherwise.
func (m *RasterThreadMerger) IsOnRasterizingThread() bool {
	if m.IsMerged() {
		return m.IsOnPlatformThread()
	}
	current, ok := m.registry.CurrentTaskQueueID()
	return ok && current == m.rasterID
}

func (m *RasterThreadMerger) isMergedLocked() bool {
	return m.registry.Owns(m.platformID, m.rasterID)
}

func (m *RasterThreadMerger) unmergeLocked() {
	m.leaseTerm = 0
	if !m.isMergedLocked() {
		return
	}
	m.registry.Unmerge(m.platformID, m.rasterID)
	m.mergedCh = make(chan struct{})
}

// =============================================================================
// TaskRunnerChecker
// =============================================================================

// TaskRunnerChecker remembers the loop it was created on and answers whether
// later callers run on that same thread, following merges.
type TaskRunnerChecker struct {
	registry    *MessageLoopTaskQueues
	initialized TaskQueueID
}

// NewTaskRunnerChecker captures the calling goroutine's loop. It panics when
// the caller is not on a loop of registry.
func NewTaskRunnerChecker(registry *MessageLoopTaskQueues) *TaskRunnerChecker {
	if registry == nil {
		registry = DefaultTaskQueues()
	}
	id, ok := registry.CurrentTaskQueueID()
	if !ok {
		panic("core: TaskRunnerChecker created off a message loop")
	}
	return &TaskRunnerChecker{registry: registry, initialized: id}
}

// CreationTaskQueueID returns the queue captured at creation.
func (c *TaskRunnerChecker) CreationTaskQueueID() TaskQueueID {
	return c.initialized
}

// RunsOnCreationTaskRunner reports whether the caller runs on the thread that
// currently executes the creation queue.
func (c *TaskRunnerChecker) RunsOnCreationTaskRunner() bool {
	return c.registry.ExecutesOnCurrentThread(c.initialized)
}

// RunsOnTheSameThread reports whether a and b currently execute on the same
// loop of registry.
func RunsOnTheSameThread(registry *MessageLoopTaskQueues, a, b TaskQueueID) bool {
	if registry == nil {
		registry = DefaultTaskQueues()
	}
	return registry.RunsOnTheSameThread(a, b)
}
