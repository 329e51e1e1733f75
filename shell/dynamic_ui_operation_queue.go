package shell

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-render-pipeline/core"
)

const defaultForceFlushTimeout = 50 * time.Millisecond

// QueueOptions configures a DynamicUIOperationQueue.
type QueueOptions struct {
	// Name labels the queue in logs and metrics. Defaults to "ui-ops".
	Name string

	Metrics core.Metrics
	Logger  core.Logger

	// VSyncMonitor, when set, delays the UI-side drain requested from an
	// engine thread to the next vsync instead of posting it right away. The
	// monitor must be bound to the UI runner.
	VSyncMonitor *core.VSyncMonitor

	// ForceFlushTimeout bounds how long ForceFlush waits for an in-flight
	// async pass. Defaults to 50ms.
	ForceFlushTimeout time.Duration
}

// DefaultQueueOptions returns options with every default filled in.
func DefaultQueueOptions() *QueueOptions {
	return &QueueOptions{
		Name:              "ui-ops",
		Metrics:           &core.NilMetrics{},
		Logger:            core.PackageLogger(),
		ForceFlushTimeout: defaultForceFlushTimeout,
	}
}

func (o *QueueOptions) withDefaults() QueueOptions {
	out := *DefaultQueueOptions()
	if o == nil {
		return out
	}
	if o.Name != "" {
		out.Name = o.Name
	}
	if o.Metrics != nil {
		out.Metrics = o.Metrics
	}
	if o.Logger != nil {
		out.Logger = o.Logger
	}
	if o.ForceFlushTimeout > 0 {
		out.ForceFlushTimeout = o.ForceFlushTimeout
	}
	out.VSyncMonitor = o.VSyncMonitor
	return out
}

// UIQueueStats is a point-in-time view of a DynamicUIOperationQueue.
type UIQueueStats struct {
	Name      string
	Strategy  ThreadStrategyForRendering
	Async     bool
	Status    UIOperationStatus
	Pending   int
	Ready     int
	Executed  int64
	Dropped   int64
	Flushes   int64
	Transfers int64
	Destroyed bool
}

// DynamicUIOperationQueue buffers UI operations produced by the engine and
// runs them on the UI thread. Its representation follows the rendering
// strategy: synchronous strategies make every operation eligible at once,
// asynchronous ones gate them on the pipeline status. Transfer switches
// representation at runtime without losing or reordering operations.
type DynamicUIOperationQueue struct {
	uiRunner core.TaskRunner
	opts     QueueOptions

	mu        sync.Mutex
	strategy  ThreadStrategyForRendering
	buffer    uiOperationBuffer
	destroyed bool
	changed   chan struct{}

	flushing    atomic.Bool
	flushPosted atomic.Bool

	executed  atomic.Int64
	dropped   atomic.Int64
	flushes   atomic.Int64
	transfers atomic.Int64
}

// NewDynamicUIOperationQueue creates a queue draining on uiRunner. It panics
// on an unknown strategy or a nil runner.
func NewDynamicUIOperationQueue(strategy ThreadStrategyForRendering, uiRunner core.TaskRunner, opts *QueueOptions) *DynamicUIOperationQueue {
	if !strategy.IsValid() {
		panic("shell: invalid thread strategy " + strategy.String())
	}
	if uiRunner == nil {
		panic("shell: nil UI task runner")
	}
	return &DynamicUIOperationQueue{
		uiRunner: uiRunner,
		opts:     opts.withDefaults(),
		strategy: strategy,
		buffer:   newUIOperationBuffer(strategy),
		changed:  make(chan struct{}),
	}
}

// Name returns the queue name.
func (d *DynamicUIOperationQueue) Name() string { return d.opts.Name }

// Strategy returns the strategy the queue currently follows.
func (d *DynamicUIOperationQueue) Strategy() ThreadStrategyForRendering {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.strategy
}

// EnqueueUIOperation appends op. Any thread may enqueue; operations enqueued
// after Destroy are dropped.
func (d *DynamicUIOperationQueue) EnqueueUIOperation(op UIOperation) {
	if op == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		d.dropped.Add(1)
		return
	}
	d.buffer.enqueue(op)
}

// UpdateStatus advances the pipeline status of the current pass. Synchronous
// representations only record it.
func (d *DynamicUIOperationQueue) UpdateStatus(status UIOperationStatus) {
	d.mu.Lock()
	d.buffer.updateStatus(status)
	d.notifyLocked()
	d.mu.Unlock()
}

// Flush drains eligible operations. On the UI thread they run before Flush
// returns; a Flush from inside a running operation is a no-op since the
// outer drain picks up anything new. From any other thread the drain is
// requested on the UI thread.
func (d *DynamicUIOperationQueue) Flush() {
	if d.uiRunner.RunsTasksOnCurrentThread() {
		d.drain()
		return
	}
	d.requestUIFlush()
}

// ForceFlush waits up to ForceFlushTimeout for the in-flight async pass to
// reach LayoutFinish, then runs every buffered operation regardless of
// status. Called off the UI thread it is posted to the UI thread.
func (d *DynamicUIOperationQueue) ForceFlush() {
	if !d.uiRunner.RunsTasksOnCurrentThread() {
		d.uiRunner.PostTask(func(context.Context) { d.ForceFlush() })
		return
	}
	d.waitForPass(d.opts.ForceFlushTimeout)
	d.mu.Lock()
	d.buffer.releaseAll()
	d.mu.Unlock()
	d.drain()
}

// Transfer switches the queue to strategy. When the async-ness changes, the
// remaining operations migrate in order to the new representation and, on
// the UI thread, run immediately. Off the UI thread Transfer waits for the
// UI thread to perform it.
func (d *DynamicUIOperationQueue) Transfer(strategy ThreadStrategyForRendering) {
	if !strategy.IsValid() {
		panic("shell: invalid thread strategy " + strategy.String())
	}
	if d.uiRunner.RunsTasksOnCurrentThread() {
		d.transferOnUI(strategy)
		return
	}
	err := d.uiRunner.PostSyncTask(func(context.Context) { d.transferOnUI(strategy) })
	if err != nil {
		// UI thread is gone; swap without draining.
		d.opts.Logger.Warn("ui operation queue transfer without ui thread",
			core.F("queue", d.opts.Name),
			core.F("strategy", strategy.String()),
			core.F("error", err))
		d.mu.Lock()
		d.swapLocked(strategy)
		d.mu.Unlock()
		d.transfers.Add(1)
	}
}

// Destroy drops every buffered operation. Later enqueues are dropped too.
func (d *DynamicUIOperationQueue) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true
	d.dropped.Add(int64(len(d.buffer.drain())))
	d.notifyLocked()
}

// IsDestroyed reports whether Destroy has been called.
func (d *DynamicUIOperationQueue) IsDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Stats returns a point-in-time view of the queue.
func (d *DynamicUIOperationQueue) Stats() UIQueueStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return UIQueueStats{
		Name:      d.opts.Name,
		Strategy:  d.strategy,
		Async:     d.buffer.async(),
		Status:    d.buffer.status(),
		Pending:   d.buffer.pendingCount(),
		Ready:     d.buffer.readyCount(),
		Executed:  d.executed.Load(),
		Dropped:   d.dropped.Load(),
		Flushes:   d.flushes.Load(),
		Transfers: d.transfers.Load(),
		Destroyed: d.destroyed,
	}
}

func (d *DynamicUIOperationQueue) transferOnUI(strategy ThreadStrategyForRendering) {
	d.mu.Lock()
	from := d.strategy
	migrated := d.swapLocked(strategy)
	d.mu.Unlock()
	d.transfers.Add(1)

	d.opts.Logger.Debug("ui operation queue transferred",
		core.F("queue", d.opts.Name),
		core.F("from", from.String()),
		core.F("to", strategy.String()),
		core.F("migrated", migrated))
	if migrated {
		d.drain()
	}
}

// swapLocked installs the representation for strategy and reports whether
// operations migrated.
func (d *DynamicUIOperationQueue) swapLocked(strategy ThreadStrategyForRendering) bool {
	if strategy.IsEngineAsync() == d.buffer.async() {
		d.strategy = strategy
		return false
	}
	next := newUIOperationBuffer(strategy)
	next.adopt(d.buffer.drain())
	d.buffer = next
	d.strategy = strategy
	d.notifyLocked()
	return true
}

func (d *DynamicUIOperationQueue) requestUIFlush() {
	if m := d.opts.VSyncMonitor; m != nil {
		m.ScheduleVSyncSecondaryCallback(d.opts.Name, func(time.Time, time.Time) {
			core.RunNowOrPostTask(d.uiRunner, func(context.Context) { d.drain() })
		})
		return
	}
	if !d.flushPosted.CompareAndSwap(false, true) {
		return
	}
	d.uiRunner.PostTask(func(context.Context) {
		d.flushPosted.Store(false)
		d.drain()
	})
}

// drain runs eligible operations one at a time, always popping from the
// current buffer so a Transfer made by an operation is honored by the rest
// of the drain.
func (d *DynamicUIOperationQueue) drain() {
	if !d.flushing.CompareAndSwap(false, true) {
		return
	}
	defer d.flushing.Store(false)

	count := 0
	for {
		d.mu.Lock()
		op, ok := d.buffer.pop()
		d.mu.Unlock()
		if !ok {
			break
		}
		d.run(op)
		count++
	}
	if count > 0 {
		d.flushes.Add(1)
		d.executed.Add(int64(count))
		d.opts.Metrics.RecordUIOperationsFlushed(d.opts.Name, count)
	}
}

func (d *DynamicUIOperationQueue) run(op UIOperation) {
	defer func() {
		if r := recover(); r != nil {
			d.opts.Logger.Error("ui operation panicked",
				core.F("queue", d.opts.Name),
				core.F("panic", fmt.Sprint(r)),
				core.F("stack", string(debug.Stack())))
		}
	}()
	op()
}

func (d *DynamicUIOperationQueue) waitForPass(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		d.mu.Lock()
		b := d.buffer
		settled := !b.async() || b.pendingCount() == 0 || b.status() == UIOperationStatusLayoutFinish
		ch := d.changed
		d.mu.Unlock()
		if settled {
			return
		}
		select {
		case <-ch:
		case <-timer.C:
			return
		}
	}
}

func (d *DynamicUIOperationQueue) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}
