package core

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// MessageLoop services one task queue on one goroutine. While running it also
// services every queue merged into its own.
//
// The loop is timer driven: the registry wakes it through Wakeable with the
// target time of its earliest task, and Run sleeps until then. A different
// Wakeable (for example MessageLoopVSync) can be installed with SetWakeable to
// decide when the loop flushes.
type MessageLoop struct {
	registry *MessageLoopTaskQueues
	queueID  TaskQueueID
	cfg      LoopConfig
	runner   *SingleThreadTaskRunner

	mu          sync.Mutex
	wakeAt      time.Time
	flushBudget time.Duration
	budgeted    bool

	wakeCh        chan struct{}
	quit          chan struct{}
	done          chan struct{}
	terminateOnce sync.Once
	running       atomic.Bool
	loopGID       atomic.Uint64
	osThreadID    atomic.Int64

	// inFlush is only touched on the loop goroutine.
	inFlush bool

	history    *loopHistory
	executed   atomic.Int64
	observerID atomic.Int64
}

// NewMessageLoop creates a loop with a fresh queue in registry. A nil registry
// selects DefaultTaskQueues.
func NewMessageLoop(registry *MessageLoopTaskQueues, config *LoopConfig) *MessageLoop {
	if registry == nil {
		registry = DefaultTaskQueues()
	}
	cfg := config.withDefaults()

	l := &MessageLoop{
		registry: registry,
		queueID:  registry.CreateTaskQueue(),
		cfg:      cfg,
		wakeCh:   make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		history:  newLoopHistory(cfg.Name, cfg.HistoryCapacity),
	}
	l.osThreadID.Store(-1)
	if l.cfg.Name == "" {
		l.cfg.Name = "loop-" + l.queueID.String()
	}
	l.runner = NewSingleThreadTaskRunner(registry, l.queueID, &l.cfg)
	registry.SetWakeable(l.queueID, l)
	return l
}

// Name returns the loop name used in logs and metrics.
func (l *MessageLoop) Name() string { return l.cfg.Name }

// GetTaskQueueID returns the queue owned by this loop.
func (l *MessageLoop) GetTaskQueueID() TaskQueueID { return l.queueID }

// GetTaskRunner returns the runner posting to this loop's queue.
func (l *MessageLoop) GetTaskRunner() *SingleThreadTaskRunner { return l.runner }

// Registry returns the registry the loop's queue lives in.
func (l *MessageLoop) Registry() *MessageLoopTaskQueues { return l.registry }

// Done is closed when Run returns.
func (l *MessageLoop) Done() <-chan struct{} { return l.done }

// OSThreadID returns the kernel thread id the loop runs on, or -1 when unknown.
func (l *MessageLoop) OSThreadID() int { return int(l.osThreadID.Load()) }

// SetWakeable routes wake-ups of this loop's queue through w. Passing nil
// restores the loop's own timer wake.
func (l *MessageLoop) SetWakeable(w Wakeable) {
	if w == nil {
		w = l
	}
	l.registry.SetWakeable(l.queueID, w)
}

// WakeUp implements Wakeable: the loop flushes no later than at.
func (l *MessageLoop) WakeUp(at time.Time, byVSync bool) {
	l.mu.Lock()
	l.wakeAt = at
	l.mu.Unlock()
	l.signal()
}

// FlushTasks runs due tasks and stops picking new ones once budget has
// elapsed; a budget <= 0 means unbounded. Called off the loop goroutine it
// schedules the flush on the loop instead, as does a call from inside a task.
func (l *MessageLoop) FlushTasks(budget time.Duration) {
	if l.onLoopGoroutine() && !l.inFlush {
		l.flush(budget)
		return
	}
	l.mu.Lock()
	l.flushBudget = budget
	l.budgeted = true
	l.mu.Unlock()
	l.signal()
}

// RunExpiredTasksNow runs every due task.
func (l *MessageLoop) RunExpiredTasksNow() {
	l.FlushTasks(0)
}

// AddTaskObserver registers fn to run after each task of this queue and
// returns a key for RemoveTaskObserver.
func (l *MessageLoop) AddTaskObserver(fn TaskObserver) int64 {
	key := l.observerID.Add(1)
	l.registry.AddTaskObserver(l.queueID, key, fn)
	return key
}

// RemoveTaskObserver removes an observer added with AddTaskObserver.
func (l *MessageLoop) RemoveTaskObserver(key int64) {
	l.registry.RemoveTaskObserver(l.queueID, key)
}

// Run binds the calling goroutine to the loop and services tasks until
// Terminate. A second call returns immediately.
func (l *MessageLoop) Run() {
	l.run(nil)
}

func (l *MessageLoop) run(started func()) {
	if !l.running.CompareAndSwap(false, true) {
		if started != nil {
			started()
		}
		return
	}
	defer close(l.done)

	l.loopGID.Store(goroutineID())
	l.osThreadID.Store(int64(currentOSThreadID()))
	l.registry.BindCurrentGoroutine(l.queueID)
	defer l.registry.UnbindCurrentGoroutine()

	l.cfg.Logger.Debug("message loop started",
		F("loop", l.cfg.Name),
		F("queue", l.queueID.String()),
		F("tid", l.OSThreadID()))
	if started != nil {
		started()
	}

	// Tasks posted before Run have no wake-up yet.
	l.registry.ScheduleWakeUp(l.queueID)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-l.quit:
			return
		default:
		}

		l.mu.Lock()
		at := l.wakeAt
		budget, budgeted := l.flushBudget, l.budgeted
		l.budgeted = false
		l.mu.Unlock()

		if budgeted {
			l.flush(budget)
			continue
		}

		var timerC <-chan time.Time
		if !at.IsZero() {
			d := time.Until(at)
			if d <= 0 {
				l.flush(0)
				continue
			}
			timer.Reset(d)
			timerC = timer.C
		}

		select {
		case <-l.quit:
			return
		case <-l.wakeCh:
		case <-timerC:
		}
		timer.Stop()
	}
}

// Terminate disposes the loop's queue, which drops pending tasks and releases
// sync waiters, then stops Run. Safe to call from any goroutine, including a
// task on the loop itself.
func (l *MessageLoop) Terminate() {
	l.terminateOnce.Do(func() {
		l.registry.Dispose(l.queueID)
		close(l.quit)
		l.cfg.Logger.Debug("message loop terminated", F("loop", l.cfg.Name))
	})
}

// IsTerminated reports whether Terminate has been called.
func (l *MessageLoop) IsTerminated() bool {
	select {
	case <-l.quit:
		return true
	default:
		return false
	}
}

// RecentTasks returns up to limit execution records, newest first.
func (l *MessageLoop) RecentTasks(limit int) []TaskExecutionRecord {
	return l.history.recent(limit, nil)
}

// RecentTasksForQueue returns up to limit records of tasks that came from
// queue id, newest first. While merged, a loop also runs tasks of the queues
// it owns.
func (l *MessageLoop) RecentTasksForQueue(id TaskQueueID, limit int) []TaskExecutionRecord {
	return l.history.forQueue(id, limit)
}

// Stats returns a point-in-time view of the loop.
func (l *MessageLoop) Stats() LoopStats {
	stats := LoopStats{
		Name:       l.cfg.Name,
		QueueID:    l.queueID,
		OSThreadID: l.OSThreadID(),
		SubsumedBy: UnmergedTaskQueueID,
		Executed:   l.executed.Load(),
		Rejected:   l.runner.RejectedCount(),
		Terminated: l.IsTerminated(),
	}
	if qs, ok := l.registry.Stats(l.queueID); ok {
		stats.SubsumedBy = qs.SubsumedBy
		stats.Owns = len(qs.Owns)
	}
	stats.Pending = l.registry.GetNumPendingTasks(l.queueID)
	if last, ok := l.history.last(); ok {
		stats.LastTaskAt = last.FinishedAt
		stats.LastTaskDur = last.Duration
	}
	return stats
}

func (l *MessageLoop) signal() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

func (l *MessageLoop) onLoopGoroutine() bool {
	gid := l.loopGID.Load()
	return gid != 0 && gid == goroutineID()
}

func (l *MessageLoop) flush(budget time.Duration) {
	l.inFlush = true
	defer func() { l.inFlush = false }()

	l.mu.Lock()
	l.wakeAt = time.Time{}
	l.mu.Unlock()

	start := time.Now()
	for !l.IsTerminated() {
		if budget > 0 && time.Since(start) >= budget {
			break
		}
		task, ok := l.registry.GetNextTaskToRun(l.queueID, time.Now())
		if !ok {
			break
		}
		l.runTask(task)
	}
	if l.IsTerminated() {
		return
	}

	l.cfg.Metrics.RecordQueueDepth(l.cfg.Name, l.registry.GetNumPendingTasks(l.queueID))
	l.registry.ScheduleWakeUp(l.queueID)
}

func (l *MessageLoop) runTask(task *DelayedTask) {
	ctx := context.Background()
	startedAt := time.Now()
	panicked := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				l.cfg.Metrics.RecordTaskPanic(l.cfg.Name, r)
				l.cfg.PanicHandler.HandlePanic(ctx, l.cfg.Name, r, debug.Stack())
			}
		}()
		task.Task(ctx)
	}()

	finishedAt := time.Now()
	duration := finishedAt.Sub(startedAt)
	l.executed.Add(1)
	l.cfg.Metrics.RecordTaskDuration(l.cfg.Name, duration)
	l.history.record(task, startedAt, finishedAt, panicked)

	for _, observer := range l.registry.GetObserversToNotify(l.queueID) {
		observer()
	}
}
