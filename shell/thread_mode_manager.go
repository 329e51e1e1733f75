package shell

import (
	"context"
	"sync"

	"github.com/Swind/go-render-pipeline/core"
)

// ThreadMode is the execution mode a ThreadModeManager is in.
type ThreadMode int

const (
	// ThreadModeConcurrent runs the engine on its own thread.
	ThreadModeConcurrent ThreadMode = iota
	// ThreadModeForcedSynchronous runs the engine merged into the UI thread.
	ThreadModeForcedSynchronous
)

func (m ThreadMode) String() string {
	if m == ThreadModeForcedSynchronous {
		return "forced_synchronous"
	}
	return "concurrent"
}

// ThreadModeManager ties an engine runner and a UI operation queue to the UI
// runner so that a ThreadModeAutoSwitch can temporarily run the whole
// pipeline on the UI thread. It does not own any of them. A manager missing
// any of them makes every switch a no-op.
type ThreadModeManager struct {
	uiRunner     *core.SingleThreadTaskRunner
	engineRunner *core.SingleThreadTaskRunner
	queue        *DynamicUIOperationQueue

	mu       sync.Mutex
	held     bool
	previous ThreadStrategyForRendering
}

// NewThreadModeManager creates a manager for the given runners and queue.
func NewThreadModeManager(ui, engine *core.SingleThreadTaskRunner, queue *DynamicUIOperationQueue) *ThreadModeManager {
	return &ThreadModeManager{uiRunner: ui, engineRunner: engine, queue: queue}
}

// IsValid reports whether the manager can switch modes.
func (m *ThreadModeManager) IsValid() bool {
	return m != nil && m.uiRunner != nil && m.engineRunner != nil && m.queue != nil
}

// Mode reports whether a switch currently holds the manager.
func (m *ThreadModeManager) Mode() ThreadMode {
	if m == nil {
		return ThreadModeConcurrent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return ThreadModeForcedSynchronous
	}
	return ThreadModeConcurrent
}

// ThreadModeAutoSwitch forces synchronous mode until Release. Only the
// outermost switch of a manager does anything; nested ones are inert.
type ThreadModeAutoSwitch struct {
	manager *ThreadModeManager
	owns    bool
	merged  bool
	once    sync.Once
}

// NewThreadModeAutoSwitch merges the engine queue into the UI queue and moves
// the UI operation queue to AllOnUI, unless m is invalid or already held. The
// merge runs on the calling thread when that is the UI or engine thread, and
// on the UI thread otherwise.
func NewThreadModeAutoSwitch(m *ThreadModeManager) *ThreadModeAutoSwitch {
	s := &ThreadModeAutoSwitch{manager: m}
	if !m.IsValid() {
		return s
	}

	m.mu.Lock()
	if m.held {
		m.mu.Unlock()
		return s
	}
	m.held = true
	m.mu.Unlock()
	s.owns = true

	uiID := m.uiRunner.GetTaskQueueID()
	engineID := m.engineRunner.GetTaskQueueID()
	registry := m.engineRunner.Registry()

	if !registry.RunsOnTheSameThread(uiID, engineID) {
		// Merge from one of the two threads. The UI thread never waits on the
		// engine, since the engine may itself be waiting on the UI thread.
		merge := func(context.Context) { s.merged = registry.Merge(uiID, engineID) }
		if m.uiRunner.RunsTasksOnCurrentThread() || m.engineRunner.RunsTasksOnCurrentThread() {
			merge(context.Background())
		} else if err := m.uiRunner.PostSyncTask(merge); err != nil {
			core.PackageLogger().Warn("thread mode switch could not reach ui thread",
				core.F("ui", m.uiRunner.Name()),
				core.F("error", err))
		}
	}

	previous := m.queue.Strategy()
	m.mu.Lock()
	m.previous = previous
	m.mu.Unlock()
	m.queue.Transfer(AllOnUI)

	core.PackageLogger().Debug("thread mode forced synchronous",
		core.F("previous", previous.String()),
		core.F("merged", s.merged))
	return s
}

// Release restores the previous mode. Calling it more than once is harmless.
func (s *ThreadModeAutoSwitch) Release() {
	if !s.owns {
		return
	}
	s.once.Do(func() {
		m := s.manager
		if s.merged {
			m.engineRunner.Registry().Unmerge(m.uiRunner.GetTaskQueueID(), m.engineRunner.GetTaskQueueID())
		}

		m.mu.Lock()
		previous := m.previous
		m.mu.Unlock()
		m.queue.Transfer(previous)

		m.mu.Lock()
		m.held = false
		m.mu.Unlock()
		core.PackageLogger().Debug("thread mode restored", core.F("strategy", previous.String()))
	})
}

// Active reports whether this switch holds its manager.
func (s *ThreadModeAutoSwitch) Active() bool { return s.owns }

// RunSynchronously runs fn with the pipeline forced onto the UI thread and
// restores the previous mode afterwards, also when fn panics.
func (m *ThreadModeManager) RunSynchronously(fn func()) {
	s := NewThreadModeAutoSwitch(m)
	defer s.Release()
	fn()
}
