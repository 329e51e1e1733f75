package core

import (
	"math"
	"slices"
	"strconv"
	"sync"
	"time"
)

// TaskQueueID identifies one logical task queue. An id never changes meaning;
// only its merge relation to other ids does.
type TaskQueueID uint64

// UnmergedTaskQueueID is the sentinel for "not subsumed by any queue".
const UnmergedTaskQueueID TaskQueueID = math.MaxUint64

func (id TaskQueueID) String() string {
	if id == UnmergedTaskQueueID {
		return "unmerged"
	}
	return strconv.FormatUint(uint64(id), 10)
}

// Wakeable is implemented by whatever services a task queue, usually a MessageLoop.
type Wakeable interface {
	// WakeUp asks the loop to run its queue no later than at.
	WakeUp(at time.Time, byVSync bool)
}

// TaskObserver is notified after each task executed for a queue.
type TaskObserver func()

type taskQueueEntry struct {
	subsumedBy TaskQueueID
	ownerOf    []TaskQueueID
	wakeable   Wakeable
	tasks      *delayedTaskQueue
	observers  map[int64]TaskObserver
	terminated chan struct{}
}

// wakeCall is computed under the registry lock and delivered after unlocking,
// so a Wakeable may call back into the registry.
type wakeCall struct {
	wakeable Wakeable
	at       time.Time
}

func (c wakeCall) deliver() {
	if c.wakeable != nil {
		c.wakeable.WakeUp(c.at, false)
	}
}

// QueueStats is a point-in-time view of one task queue.
type QueueStats struct {
	ID         TaskQueueID
	Pending    int
	SubsumedBy TaskQueueID
	Owns       []TaskQueueID
	Observers  int
}

// MessageLoopTaskQueues is the registry mapping logical queues to the loops
// that service them, together with the merge table between queues.
//
// The registry is a plain service object: tests create isolated instances with
// NewMessageLoopTaskQueues, production code shares DefaultTaskQueues.
type MessageLoopTaskQueues struct {
	mu          sync.Mutex
	queues      map[TaskQueueID]*taskQueueEntry
	nextQueueID TaskQueueID
	order       uint64

	bindings sync.Map // goroutine id -> TaskQueueID
}

var (
	defaultTaskQueues     *MessageLoopTaskQueues
	defaultTaskQueuesOnce sync.Once
)

// DefaultTaskQueues returns the process-wide registry.
func DefaultTaskQueues() *MessageLoopTaskQueues {
	defaultTaskQueuesOnce.Do(func() {
		defaultTaskQueues = NewMessageLoopTaskQueues()
	})
	return defaultTaskQueues
}

// NewMessageLoopTaskQueues creates an empty registry.
func NewMessageLoopTaskQueues() *MessageLoopTaskQueues {
	return &MessageLoopTaskQueues{
		queues: make(map[TaskQueueID]*taskQueueEntry),
	}
}

// CreateTaskQueue allocates a new queue id.
func (q *MessageLoopTaskQueues) CreateTaskQueue() TaskQueueID {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextQueueID
	q.nextQueueID++
	q.queues[id] = &taskQueueEntry{
		subsumedBy: UnmergedTaskQueueID,
		tasks:      newDelayedTaskQueue(),
		observers:  make(map[int64]TaskObserver),
		terminated: make(chan struct{}),
	}
	return id
}

// Dispose removes the queue, drops its tasks and releases every merge relation.
// Queues it owned become independent again and are woken.
func (q *MessageLoopTaskQueues) Dispose(id TaskQueueID) {
	q.mu.Lock()
	entry, ok := q.queues[id]
	if !ok {
		q.mu.Unlock()
		return
	}

	if entry.subsumedBy != UnmergedTaskQueueID {
		if owner, ok := q.queues[entry.subsumedBy]; ok {
			owner.ownerOf = slices.DeleteFunc(owner.ownerOf, func(v TaskQueueID) bool { return v == id })
		}
	}

	var wakes []wakeCall
	for _, subsumed := range entry.ownerOf {
		if e, ok := q.queues[subsumed]; ok {
			e.subsumedBy = UnmergedTaskQueueID
			if w, ok := q.wakeCallLocked(subsumed); ok {
				wakes = append(wakes, w)
			}
		}
	}

	entry.tasks.clear()
	entry.ownerOf = nil
	entry.wakeable = nil
	delete(q.queues, id)
	close(entry.terminated)
	q.mu.Unlock()

	for _, w := range wakes {
		w.deliver()
	}
}

// DisposeTasks drops the pending tasks of id and of every queue it owns.
func (q *MessageLoopTaskQueues) DisposeTasks(id TaskQueueID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.queues[id]
	if !ok {
		return
	}
	entry.tasks.clear()
	for _, subsumed := range entry.ownerOf {
		if e, ok := q.queues[subsumed]; ok {
			e.tasks.clear()
		}
	}
}

// IsAlive reports whether id has been created and not disposed.
func (q *MessageLoopTaskQueues) IsAlive(id TaskQueueID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queues[id]
	return ok
}

// TerminationSignal returns a channel closed when id is disposed. Unknown ids
// get an already closed channel.
func (q *MessageLoopTaskQueues) TerminationSignal(id TaskQueueID) <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.queues[id]; ok {
		return entry.terminated
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// RegisterTask queues task on id for targetTime. It returns false when the
// queue no longer exists. The loop currently servicing id is woken.
func (q *MessageLoopTaskQueues) RegisterTask(id TaskQueueID, task Task, targetTime time.Time) bool {
	q.mu.Lock()
	entry, ok := q.queues[id]
	if !ok {
		q.mu.Unlock()
		return false
	}

	q.order++
	entry.tasks.push(&DelayedTask{
		TargetTime: targetTime,
		Order:      q.order,
		QueueID:    id,
		Task:       task,
	})

	loopToWake := id
	if entry.subsumedBy != UnmergedTaskQueueID {
		loopToWake = entry.subsumedBy
	}
	w, wake := q.wakeCallLocked(loopToWake)
	q.mu.Unlock()

	if wake {
		w.deliver()
	}
	return true
}

// HasPendingTasks reports whether the loop servicing id has work. A subsumed
// queue reports none: its tasks belong to the owner while merged.
func (q *MessageLoopTaskQueues) HasPendingTasks(id TaskQueueID) bool {
	return q.GetNumPendingTasks(id) > 0
}

// GetNumPendingTasks counts the tasks the loop of id would run.
func (q *MessageLoopTaskQueues) GetNumPendingTasks(id TaskQueueID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.queues[id]
	if !ok || entry.subsumedBy != UnmergedTaskQueueID {
		return 0
	}
	total := entry.tasks.len()
	for _, subsumed := range entry.ownerOf {
		if e, ok := q.queues[subsumed]; ok {
			total += e.tasks.len()
		}
	}
	return total
}

// GetNextTaskToRun pops the earliest task due at now across owner and every
// queue it owns.
func (q *MessageLoopTaskQueues) GetNextTaskToRun(owner TaskQueueID, now time.Time) (*DelayedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	src := q.peekNextLocked(owner)
	if src == nil {
		return nil, false
	}
	top := src.peek()
	if top.TargetTime.After(now) {
		return nil, false
	}
	return src.pop(), true
}

// NextWakeTime returns the target time of the earliest task the loop of owner
// would run.
func (q *MessageLoopTaskQueues) NextWakeTime(owner TaskQueueID) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextWakeTimeLocked(owner)
}

// ScheduleWakeUp wakes the Wakeable of owner for its earliest pending task.
func (q *MessageLoopTaskQueues) ScheduleWakeUp(owner TaskQueueID) {
	q.mu.Lock()
	w, ok := q.wakeCallLocked(owner)
	q.mu.Unlock()
	if ok {
		w.deliver()
	}
}

// SetWakeable installs the Wakeable servicing id.
func (q *MessageLoopTaskQueues) SetWakeable(id TaskQueueID, wakeable Wakeable) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.queues[id]; ok {
		entry.wakeable = wakeable
	}
}

// GetWakeable returns the Wakeable servicing id, if any.
func (q *MessageLoopTaskQueues) GetWakeable(id TaskQueueID) Wakeable {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.queues[id]; ok {
		return entry.wakeable
	}
	return nil
}

// AddTaskObserver registers observer under key for queue id.
func (q *MessageLoopTaskQueues) AddTaskObserver(id TaskQueueID, key int64, observer TaskObserver) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.queues[id]; ok && observer != nil {
		entry.observers[key] = observer
	}
}

// RemoveTaskObserver removes the observer registered under key.
func (q *MessageLoopTaskQueues) RemoveTaskObserver(id TaskQueueID, key int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.queues[id]; ok {
		delete(entry.observers, key)
	}
}

// GetObserversToNotify returns a snapshot of the observers of id and of every
// queue it owns. The snapshot is called outside the registry lock.
func (q *MessageLoopTaskQueues) GetObserversToNotify(id TaskQueueID) []TaskObserver {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.queues[id]
	if !ok {
		return nil
	}
	observers := make([]TaskObserver, 0, len(entry.observers))
	for _, o := range entry.observers {
		observers = append(observers, o)
	}
	for _, subsumed := range entry.ownerOf {
		if e, ok := q.queues[subsumed]; ok {
			for _, o := range e.observers {
				observers = append(observers, o)
			}
		}
	}
	return observers
}

// Merge makes the loop of owner service subsumed as well. Pending tasks of
// subsumed move to the owner's thread; a task already executing on the
// subsumed thread finishes there.
func (q *MessageLoopTaskQueues) Merge(owner, subsumed TaskQueueID) bool {
	if owner == subsumed {
		return false
	}

	q.mu.Lock()
	ownerEntry, ok1 := q.queues[owner]
	subsumedEntry, ok2 := q.queues[subsumed]
	if !ok1 || !ok2 {
		q.mu.Unlock()
		return false
	}
	if ownerEntry.subsumedBy != UnmergedTaskQueueID ||
		subsumedEntry.subsumedBy != UnmergedTaskQueueID ||
		len(subsumedEntry.ownerOf) > 0 {
		q.mu.Unlock()
		return false
	}

	ownerEntry.ownerOf = append(ownerEntry.ownerOf, subsumed)
	subsumedEntry.subsumedBy = owner
	w, wake := q.wakeCallLocked(owner)
	q.mu.Unlock()

	if wake {
		w.deliver()
	}
	return true
}

// Unmerge restores independent execution of subsumed. Both loops are woken so
// each resumes its own remaining tasks in their original order.
func (q *MessageLoopTaskQueues) Unmerge(owner, subsumed TaskQueueID) bool {
	q.mu.Lock()
	ownerEntry, ok1 := q.queues[owner]
	subsumedEntry, ok2 := q.queues[subsumed]
	if !ok1 || !ok2 || subsumedEntry.subsumedBy != owner {
		q.mu.Unlock()
		return false
	}

	ownerEntry.ownerOf = slices.DeleteFunc(ownerEntry.ownerOf, func(v TaskQueueID) bool { return v == subsumed })
	subsumedEntry.subsumedBy = UnmergedTaskQueueID

	var wakes []wakeCall
	if w, ok := q.wakeCallLocked(owner); ok {
		wakes = append(wakes, w)
	}
	if w, ok := q.wakeCallLocked(subsumed); ok {
		wakes = append(wakes, w)
	}
	q.mu.Unlock()

	for _, w := range wakes {
		w.deliver()
	}
	return true
}

// Owns reports whether owner currently subsumes subsumed.
func (q *MessageLoopTaskQueues) Owns(owner, subsumed TaskQueueID) bool {
	if owner == subsumed || owner == UnmergedTaskQueueID || subsumed == UnmergedTaskQueueID {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.queues[subsumed]
	return ok && entry.subsumedBy == owner
}

// IsSubsumed reports whether id is currently serviced by another queue's loop.
func (q *MessageLoopTaskQueues) IsSubsumed(id TaskQueueID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.queues[id]
	return ok && entry.subsumedBy != UnmergedTaskQueueID
}

// GetOwner returns the queue whose loop currently executes tasks of id.
func (q *MessageLoopTaskQueues) GetOwner(id TaskQueueID) TaskQueueID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.executorLocked(id)
}

// RunsOnTheSameThread reports whether tasks of a and b currently execute on the
// same loop. The answer reflects the live merge table at call time.
func (q *MessageLoopTaskQueues) RunsOnTheSameThread(a, b TaskQueueID) bool {
	if a == b {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.executorLocked(a) == q.executorLocked(b)
}

// Stats returns a snapshot of queue id.
func (q *MessageLoopTaskQueues) Stats(id TaskQueueID) (QueueStats, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.queues[id]
	if !ok {
		return QueueStats{ID: id, SubsumedBy: UnmergedTaskQueueID}, false
	}
	return QueueStats{
		ID:         id,
		Pending:    entry.tasks.len(),
		SubsumedBy: entry.subsumedBy,
		Owns:       slices.Clone(entry.ownerOf),
		Observers:  len(entry.observers),
	}, true
}

// =============================================================================
// Thread binding
// =============================================================================

// BindCurrentGoroutine records that the calling goroutine runs the loop of id.
func (q *MessageLoopTaskQueues) BindCurrentGoroutine(id TaskQueueID) {
	q.bindings.Store(goroutineID(), id)
}

// UnbindCurrentGoroutine forgets the binding of the calling goroutine.
func (q *MessageLoopTaskQueues) UnbindCurrentGoroutine() {
	q.bindings.Delete(goroutineID())
}

// CurrentTaskQueueID returns the queue of the loop running on the calling
// goroutine.
func (q *MessageLoopTaskQueues) CurrentTaskQueueID() (TaskQueueID, bool) {
	v, ok := q.bindings.Load(goroutineID())
	if !ok {
		return UnmergedTaskQueueID, false
	}
	return v.(TaskQueueID), true
}

// ExecutesOnCurrentThread reports whether tasks of id currently run on the
// calling goroutine's loop. A loop whose own queue is subsumed executes nothing.
func (q *MessageLoopTaskQueues) ExecutesOnCurrentThread(id TaskQueueID) bool {
	current, ok := q.CurrentTaskQueueID()
	if !ok {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.queues[current]; ok && entry.subsumedBy != UnmergedTaskQueueID {
		return false
	}
	return q.executorLocked(id) == current
}

// =============================================================================
// Locked helpers
// =============================================================================

func (q *MessageLoopTaskQueues) executorLocked(id TaskQueueID) TaskQueueID {
	if entry, ok := q.queues[id]; ok && entry.subsumedBy != UnmergedTaskQueueID {
		return entry.subsumedBy
	}
	return id
}

// peekNextLocked returns the task store holding the next task for owner.
func (q *MessageLoopTaskQueues) peekNextLocked(owner TaskQueueID) *delayedTaskQueue {
	entry, ok := q.queues[owner]
	if !ok || entry.subsumedBy != UnmergedTaskQueueID {
		return nil
	}

	var best *delayedTaskQueue
	consider := func(tq *delayedTaskQueue) {
		top := tq.peek()
		if top == nil {
			return
		}
		if best == nil || top.before(best.peek()) {
			best = tq
		}
	}

	consider(entry.tasks)
	for _, subsumed := range entry.ownerOf {
		if e, ok := q.queues[subsumed]; ok {
			consider(e.tasks)
		}
	}
	return best
}

func (q *MessageLoopTaskQueues) nextWakeTimeLocked(owner TaskQueueID) (time.Time, bool) {
	src := q.peekNextLocked(owner)
	if src == nil {
		return time.Time{}, false
	}
	return src.peek().TargetTime, true
}

func (q *MessageLoopTaskQueues) wakeCallLocked(owner TaskQueueID) (wakeCall, bool) {
	entry, ok := q.queues[owner]
	if !ok || entry.wakeable == nil {
		return wakeCall{}, false
	}
	at, ok := q.nextWakeTimeLocked(owner)
	if !ok {
		return wakeCall{}, false
	}
	return wakeCall{wakeable: entry.wakeable, at: at}, true
}
