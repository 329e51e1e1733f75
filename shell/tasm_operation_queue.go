package shell

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-render-pipeline/core"
	"github.com/eapache/queue"
)

// TASMOperation is work produced for the TASM thread, typically by JS.
type TASMOperation func()

type tasmOperation struct {
	run     TASMOperation
	trivial bool
}

// TASMOperationQueue hands operations from producers to the TASM thread in
// batches. Enqueued operations collect in a pending batch; AppendPendingTask
// closes the batch and makes it visible to Flush. Trivial operations (signals,
// bookkeeping) run like any other but do not count as work done.
//
// Any goroutine may enqueue. Flush runs on the calling thread, which is meant
// to be the TASM thread.
type TASMOperationQueue struct {
	logger core.Logger

	mu                sync.Mutex
	pending           []tasmOperation
	appended          *queue.Queue
	appendDuringFlush bool

	flushing atomic.Bool
	executed atomic.Int64
	batches  atomic.Int64
}

// NewTASMOperationQueue creates an empty queue. A nil logger uses the package
// logger.
func NewTASMOperationQueue(logger core.Logger) *TASMOperationQueue {
	if logger == nil {
		logger = core.PackageLogger()
	}
	return &TASMOperationQueue{logger: logger, appended: queue.New()}
}

// EnqueueOperation adds op to the pending batch.
func (q *TASMOperationQueue) EnqueueOperation(op TASMOperation) {
	q.enqueue(op, false)
}

// EnqueueTrivialOperation adds op to the pending batch as trivial work.
func (q *TASMOperationQueue) EnqueueTrivialOperation(op TASMOperation) {
	q.enqueue(op, true)
}

func (q *TASMOperationQueue) enqueue(op TASMOperation, trivial bool) {
	if op == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, tasmOperation{run: op, trivial: trivial})
}

// AppendPendingTask closes the pending batch so the next Flush runs it.
func (q *TASMOperationQueue) AppendPendingTask() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.appendLocked()
}

// SetAppendPendingTaskNeededDuringFlush makes Flush close the pending batch
// itself before running.
func (q *TASMOperationQueue) SetAppendPendingTaskNeededDuringFlush(needed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.appendDuringFlush = needed
}

// Flush runs every appended operation in order and reports whether any of
// them was non-trivial. Operations appended while it runs wait for the next
// Flush; a Flush from inside an operation does nothing and returns false.
func (q *TASMOperationQueue) Flush() bool {
	if !q.flushing.CompareAndSwap(false, true) {
		return false
	}
	defer q.flushing.Store(false)

	q.mu.Lock()
	if q.appendDuringFlush {
		q.appendLocked()
	}
	ops := make([]tasmOperation, 0, q.appended.Length())
	for q.appended.Length() > 0 {
		ops = append(ops, q.appended.Remove().(tasmOperation))
	}
	q.mu.Unlock()

	nonTrivial := false
	for _, op := range ops {
		q.run(op.run)
		if !op.trivial {
			nonTrivial = true
		}
	}
	q.executed.Add(int64(len(ops)))
	if nonTrivial {
		q.batches.Add(1)
	}
	return nonTrivial
}

// PendingCount returns the operations not yet appended.
func (q *TASMOperationQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// AppendedCount returns the operations waiting for Flush.
func (q *TASMOperationQueue) AppendedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.appended.Length()
}

// Executed returns how many operations Flush has run.
func (q *TASMOperationQueue) Executed() int64 { return q.executed.Load() }

// Batches returns how many flushes ran non-trivial work.
func (q *TASMOperationQueue) Batches() int64 { return q.batches.Load() }

func (q *TASMOperationQueue) appendLocked() {
	for i, op := range q.pending {
		q.appended.Add(op)
		q.pending[i] = tasmOperation{}
	}
	q.pending = q.pending[:0]
}

func (q *TASMOperationQueue) run(op TASMOperation) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("tasm operation panicked",
				core.F("panic", fmt.Sprint(r)),
				core.F("stack", string(debug.Stack())))
		}
	}()
	op()
}
