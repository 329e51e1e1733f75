package shell

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Swind/go-render-pipeline/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kExpect = 10

func newTestQueue(t *testing.T, strategy ThreadStrategyForRendering, m *TaskRunnerManufactor) *DynamicUIOperationQueue {
	t.Helper()
	q := NewDynamicUIOperationQueue(strategy, m.GetUITaskRunner(), &QueueOptions{Logger: core.NewNoOpLogger()})
	t.Cleanup(q.Destroy)
	return q
}

// enqueueCounting enqueues n operations that each increment result.
func enqueueCounting(q *DynamicUIOperationQueue, n int, result *int) {
	for i := 0; i < n; i++ {
		q.EnqueueUIOperation(func() { *result++ })
	}
}

// TestDynamicUIOperationQueue_AllOnUIFlush tests the synchronous representation
// Main test items:
// 1. Operations enqueued on the TASM runner (the UI thread) are eligible at once
// 2. Flush runs all of them
func TestDynamicUIOperationQueue_AllOnUIFlush(t *testing.T) {
	_, m := newTestPipeline(t, AllOnUI)
	q := newTestQueue(t, AllOnUI, m)

	result := 0
	runSync(t, m.GetTASMTaskRunner(), func() {
		enqueueCounting(q, kExpect, &result)
		q.Flush()
	})
	assert.Equal(t, kExpect, result)
}

// TestDynamicUIOperationQueue_MultiThreadsFlush tests the gated representation
// Main test items:
// 1. Operations enqueued on TASM wait for TASMFinish
// 2. Flush from TASM asks the UI thread to drain
func TestDynamicUIOperationQueue_MultiThreadsFlush(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	q := newTestQueue(t, MultiThreads, m)

	result := 0
	runSync(t, m.GetTASMTaskRunner(), func() {
		enqueueCounting(q, kExpect, &result)
		q.Flush()
	})
	runSync(t, m.GetUITaskRunner(), q.Flush)
	assert.Equal(t, 0, result, "nothing is eligible before TASMFinish")

	runSync(t, m.GetTASMTaskRunner(), func() {
		q.UpdateStatus(UIOperationStatusTASMFinish)
		q.Flush()
	})
	runSync(t, m.GetUITaskRunner(), q.Flush)
	assert.Equal(t, kExpect, result)
}

func TestDynamicUIOperationQueue_SyncToSync(t *testing.T) {
	_, m := newTestPipeline(t, AllOnUI)
	q := newTestQueue(t, AllOnUI, m)

	result := 0
	transferred := -1
	runSync(t, m.GetUITaskRunner(), func() {
		enqueueCounting(q, kExpect, &result)
		q.Transfer(PartOnLayout)
		transferred = result
	})
	assert.Equal(t, 0, transferred, "same async-ness only records the strategy")
	assert.Equal(t, PartOnLayout, q.Strategy())

	runSync(t, m.GetUITaskRunner(), q.Flush)
	assert.Equal(t, kExpect, result)
}

func TestDynamicUIOperationQueue_AsyncToAsync(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	q := newTestQueue(t, MultiThreads, m)

	result := 0
	transferred := -1
	runSync(t, m.GetTASMTaskRunner(), func() { enqueueCounting(q, kExpect, &result) })
	runSync(t, m.GetUITaskRunner(), func() {
		q.Transfer(MostOnTASM)
		transferred = result
	})
	assert.Equal(t, 0, transferred)
	assert.Equal(t, MostOnTASM, q.Strategy())

	runSync(t, m.GetTASMTaskRunner(), func() {
		q.UpdateStatus(UIOperationStatusTASMFinish)
		q.Flush()
	})
	runSync(t, m.GetUITaskRunner(), q.Flush)
	assert.Equal(t, kExpect, result)
}

// TestDynamicUIOperationQueue_SyncToAsync tests migrating ready work into the
// gated representation
// Main test items:
// 1. Operations enqueued before the transfer run during the transfer
// 2. The queue then gates new operations on the pipeline status
func TestDynamicUIOperationQueue_SyncToAsync(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	q := newTestQueue(t, PartOnLayout, m)

	result := 0
	transferred := -1
	runSync(t, m.GetUITaskRunner(), func() {
		enqueueCounting(q, kExpect, &result)
		q.Transfer(MultiThreads)
		transferred = result
	})
	assert.Equal(t, kExpect, transferred)

	runSync(t, m.GetTASMTaskRunner(), func() {
		enqueueCounting(q, kExpect, &result)
		q.UpdateStatus(UIOperationStatusTASMFinish)
		q.Flush()
	})
	runSync(t, m.GetUITaskRunner(), q.Flush)
	assert.Equal(t, 2*kExpect, result)
}

// TestDynamicUIOperationQueue_AsyncToSync tests that uncertified work survives
// a move to the synchronous representation
// Main test items:
// 1. Operations enqueued before TASMFinish are migrated, not dropped
// 2. They run during the transfer on the UI thread
func TestDynamicUIOperationQueue_AsyncToSync(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	q := newTestQueue(t, MultiThreads, m)

	result := 0
	transferred := -1
	runSync(t, m.GetTASMTaskRunner(), func() {
		enqueueCounting(q, kExpect, &result)
		q.Flush()
	})
	runSync(t, m.GetUITaskRunner(), func() {
		q.Transfer(PartOnLayout)
		transferred = result
	})
	assert.Equal(t, kExpect, transferred)

	runSync(t, m.GetUITaskRunner(), func() {
		enqueueCounting(q, kExpect, &result)
		q.Flush()
	})
	assert.Equal(t, 2*kExpect, result)
}

// TestDynamicUIOperationQueue_NestedFlush tests a transfer made by a running
// operation
// Main test items:
// 1. Each operation transfers the queue while the UI thread drains it
// 2. No deadlock, every operation runs once, in order
func TestDynamicUIOperationQueue_NestedFlush(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	q := newTestQueue(t, MultiThreads, m)

	var order []int
	runSync(t, m.GetTASMTaskRunner(), func() {
		for i := 0; i < kExpect; i++ {
			i := i
			q.EnqueueUIOperation(func() {
				q.Transfer(PartOnLayout)
				q.Flush()
				order = append(order, i)
			})
		}
	})
	runSync(t, m.GetUITaskRunner(), q.Flush)
	runSync(t, m.GetTASMTaskRunner(), func() {
		q.UpdateStatus(UIOperationStatusTASMFinish)
		q.Flush()
	})
	runSync(t, m.GetUITaskRunner(), q.Flush)
	runSync(t, m.GetTASMTaskRunner(), func() {
		q.UpdateStatus(UIOperationStatusLayoutFinish)
		q.Flush()
	})
	runSync(t, m.GetUITaskRunner(), q.Flush)

	require.Len(t, order, kExpect)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, PartOnLayout, q.Strategy())
}

// TestDynamicUIOperationQueue_EnqueueDuringForceFlush tests operations that
// enqueue more operations while being drained
func TestDynamicUIOperationQueue_EnqueueDuringForceFlush(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	q := newTestQueue(t, MultiThreads, m)

	result := 0
	runSync(t, m.GetTASMTaskRunner(), func() {
		for i := 0; i < kExpect; i++ {
			q.EnqueueUIOperation(func() {
				q.EnqueueUIOperation(func() { result++ })
			})
		}
		q.Flush()
	})
	runSync(t, m.GetUITaskRunner(), func() {
		assert.NoError(t, m.GetTASMTaskRunner().PostSyncTask(func(context.Context) {}))
		q.Transfer(PartOnLayout)
		q.Flush()
	})
	assert.Equal(t, kExpect, result)
}

// TestDynamicUIOperationQueue_ConcurrentTransfer tests a transfer racing an
// in-flight flush
// Main test items:
// 1. Both gates are open, the UI thread flushes
// 2. The TASM thread transfers at the same time
// 3. Every interleaving runs all operations exactly once
func TestDynamicUIOperationQueue_ConcurrentTransfer(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	ui, tasm := m.GetUITaskRunner(), m.GetTASMTaskRunner()

	for round := 0; round < 20; round++ {
		q := NewDynamicUIOperationQueue(MultiThreads, ui, &QueueOptions{Logger: core.NewNoOpLogger()})
		var result atomic.Int32
		runSync(t, tasm, func() {
			for i := 0; i < kExpect; i++ {
				q.EnqueueUIOperation(func() {
					time.Sleep(50 * time.Microsecond)
					result.Add(1)
				})
			}
			q.UpdateStatus(UIOperationStatusTASMFinish)
			q.UpdateStatus(UIOperationStatusLayoutFinish)
		})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, ui.PostSyncTask(func(context.Context) { q.Flush() }))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, tasm.PostSyncTask(func(context.Context) { q.Transfer(PartOnLayout) }))
		}()
		wg.Wait()
		runSync(t, ui, q.Flush)

		assert.Equal(t, int32(kExpect), result.Load(), "round %d", round)
		q.Destroy()
	}
}

// TestDynamicUIOperationQueue_PassGates tests the two waves of one pass
// Main test items:
// 1. TASMFinish releases operations enqueued so far
// 2. Operations enqueued between the gates wait for LayoutFinish
// 3. The first enqueue after LayoutFinish starts a new pass
func TestDynamicUIOperationQueue_PassGates(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	q := newTestQueue(t, MultiThreads, m)
	ui, tasm := m.GetUITaskRunner(), m.GetTASMTaskRunner()

	var order []string
	add := func(name string) { q.EnqueueUIOperation(func() { order = append(order, name) }) }

	runSync(t, tasm, func() {
		add("tasm-1")
		q.UpdateStatus(UIOperationStatusTASMFinish)
		add("layout-1")
	})
	runSync(t, ui, q.Flush)
	assert.Equal(t, []string{"tasm-1"}, order)
	assert.Equal(t, 1, q.Stats().Pending)

	runSync(t, tasm, func() {
		q.UpdateStatus(UIOperationStatusLayoutFinish)
		add("next-pass")
	})
	assert.Equal(t, UIOperationStatusPending, q.Stats().Status)
	runSync(t, ui, q.Flush)
	assert.Equal(t, []string{"tasm-1", "layout-1"}, order)

	runSync(t, tasm, func() { q.UpdateStatus(UIOperationStatusTASMFinish) })
	runSync(t, ui, q.Flush)
	assert.Equal(t, []string{"tasm-1", "layout-1", "next-pass"}, order)

	stats := q.Stats()
	assert.Equal(t, int64(3), stats.Executed)
	assert.True(t, stats.Async)
}

func TestDynamicUIOperationQueue_ForceFlush(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	q := NewDynamicUIOperationQueue(MultiThreads, m.GetUITaskRunner(), &QueueOptions{
		Logger:            core.NewNoOpLogger(),
		ForceFlushTimeout: 5 * time.Millisecond,
	})
	defer q.Destroy()

	result := 0
	runSync(t, m.GetTASMTaskRunner(), func() { enqueueCounting(q, 3, &result) })
	runSync(t, m.GetUITaskRunner(), q.Flush)
	assert.Equal(t, 0, result)

	runSync(t, m.GetUITaskRunner(), q.ForceFlush)
	assert.Equal(t, 3, result)
}

func TestDynamicUIOperationQueue_DestroyDropsOperations(t *testing.T) {
	_, m := newTestPipeline(t, AllOnUI)
	q := NewDynamicUIOperationQueue(AllOnUI, m.GetUITaskRunner(), nil)

	result := 0
	enqueueCounting(q, 2, &result)
	q.Destroy()
	enqueueCounting(q, 3, &result)
	runSync(t, m.GetUITaskRunner(), q.Flush)
	runSync(t, m.GetUITaskRunner(), q.Flush)

	assert.Equal(t, 0, result)
	assert.True(t, q.IsDestroyed())
	assert.Equal(t, int64(5), q.Stats().Dropped)
}

func TestDynamicUIOperationQueue_PanickingOperation(t *testing.T) {
	_, m := newTestPipeline(t, AllOnUI)
	q := newTestQueue(t, AllOnUI, m)

	result := 0
	q.EnqueueUIOperation(func() { panic("bad mutation") })
	enqueueCounting(q, 2, &result)
	runSync(t, m.GetUITaskRunner(), q.Flush)
	assert.Equal(t, 2, result)
}

// TestDynamicUIOperationQueue_FlushOnVSync tests deferring the UI drain to
// the next vsync
// Main test items:
// 1. Flush from TASM schedules a secondary vsync callback instead of posting
// 2. Repeated flushes in one frame request one vsync
// 3. The vsync drains the queue on the UI thread
func TestDynamicUIOperationQueue_FlushOnVSync(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	ui, tasm := m.GetUITaskRunner(), m.GetTASMTaskRunner()

	var mu sync.Mutex
	var pending []core.VSyncCallback
	monitor := core.NewVSyncMonitor(core.VSyncRequesterFunc(func(deliver core.VSyncCallback) {
		mu.Lock()
		pending = append(pending, deliver)
		mu.Unlock()
	}))
	monitor.BindToRunner(ui)

	metrics := &countingMetrics{}
	q := NewDynamicUIOperationQueue(MultiThreads, ui, &QueueOptions{
		Name:         "page",
		Logger:       core.NewNoOpLogger(),
		Metrics:      metrics,
		VSyncMonitor: monitor,
	})
	defer q.Destroy()

	var onUI atomic.Bool
	result := 0
	runSync(t, tasm, func() {
		enqueueCounting(q, 4, &result)
		q.EnqueueUIOperation(func() { onUI.Store(ui.RunsTasksOnCurrentThread()) })
		q.UpdateStatus(UIOperationStatusLayoutFinish)
		q.Flush()
		q.Flush()
	})
	runSync(t, ui, func() {})
	assert.Equal(t, 0, result)

	mu.Lock()
	require.Len(t, pending, 1)
	deliver := pending[0]
	mu.Unlock()

	now := time.Now()
	deliver(now, now.Add(16*time.Millisecond))
	runSync(t, ui, func() {})

	assert.Equal(t, 4, result)
	assert.True(t, onUI.Load())
	assert.Equal(t, 5, metrics.flushed("page"))
}

type countingMetrics struct {
	core.NilMetrics
	mu      sync.Mutex
	byQueue map[string]int
}

func (m *countingMetrics) RecordUIOperationsFlushed(queueName string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byQueue == nil {
		m.byQueue = make(map[string]int)
	}
	m.byQueue[queueName] += count
}

func (m *countingMetrics) flushed(queueName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byQueue[queueName]
}

// TestDynamicUIOperationQueue_SecondFlushRunsNothing tests flushing a drained queue
// Main test items:
// 1. A flush with no new enqueues executes zero operations
// 2. Holds for the synchronous and the gated representation
func TestDynamicUIOperationQueue_SecondFlushRunsNothing(t *testing.T) {
	for _, strategy := range []ThreadStrategyForRendering{AllOnUI, MultiThreads} {
		t.Run(strategy.String(), func(t *testing.T) {
			_, m := newTestPipeline(t, strategy)
			q := newTestQueue(t, strategy, m)

			result := 0
			runSync(t, m.GetTASMTaskRunner(), func() {
				enqueueCounting(q, kExpect, &result)
				q.UpdateStatus(UIOperationStatusTASMFinish)
				q.UpdateStatus(UIOperationStatusLayoutFinish)
			})
			runSync(t, m.GetUITaskRunner(), q.Flush)
			require.Equal(t, kExpect, result)
			first := q.Stats()
			require.Equal(t, int64(kExpect), first.Executed)

			runSync(t, m.GetUITaskRunner(), q.Flush)
			second := q.Stats()
			assert.Equal(t, kExpect, result)
			assert.Equal(t, first.Executed, second.Executed)
			assert.Zero(t, second.Pending)
			assert.Zero(t, second.Ready)
		})
	}
}

// TestDynamicUIOperationQueue_SyncBufferRecordsStatus tests status on the
// synchronous representation
// Main test items:
// 1. UpdateStatus is visible through Stats
// 2. Operations stay eligible whatever the status
func TestDynamicUIOperationQueue_SyncBufferRecordsStatus(t *testing.T) {
	_, m := newTestPipeline(t, PartOnLayout)
	q := newTestQueue(t, PartOnLayout, m)

	result := 0
	runSync(t, m.GetTASMTaskRunner(), func() {
		q.UpdateStatus(UIOperationStatusTASMFinish)
		enqueueCounting(q, kExpect, &result)
	})
	stats := q.Stats()
	assert.False(t, stats.Async)
	assert.Equal(t, UIOperationStatusTASMFinish, stats.Status)
	assert.Equal(t, kExpect, stats.Ready)

	runSync(t, m.GetUITaskRunner(), q.Flush)
	assert.Equal(t, kExpect, result)
}
