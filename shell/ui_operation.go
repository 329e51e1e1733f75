package shell

import "fmt"

// UIOperation is one UI-tree mutation. The queue runs each operation exactly
// once, on the UI thread.
type UIOperation func()

// UIOperationStatus marks how far the current pipeline pass has progressed.
type UIOperationStatus int

const (
	UIOperationStatusPending UIOperationStatus = iota
	UIOperationStatusTASMFinish
	UIOperationStatusLayoutFinish
)

func (s UIOperationStatus) String() string {
	switch s {
	case UIOperationStatusPending:
		return "pending"
	case UIOperationStatusTASMFinish:
		return "tasm_finish"
	case UIOperationStatusLayoutFinish:
		return "layout_finish"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// uiOperationBuffer is a representation of the queue's contents. It is not
// synchronized; DynamicUIOperationQueue guards it.
type uiOperationBuffer interface {
	async() bool
	enqueue(op UIOperation)
	updateStatus(status UIOperationStatus)
	status() UIOperationStatus

	// pop returns the next operation eligible to run.
	pop() (UIOperation, bool)

	// releaseAll makes every buffered operation eligible.
	releaseAll()

	// drain removes every operation, eligible or not, in enqueue order.
	drain() []UIOperation

	// adopt appends operations migrated from another representation; they are
	// eligible immediately.
	adopt(ops []UIOperation)

	pendingCount() int
	readyCount() int
}

func newUIOperationBuffer(strategy ThreadStrategyForRendering) uiOperationBuffer {
	if strategy.IsEngineAsync() {
		return newAsyncUIOperationBuffer()
	}
	return newSyncUIOperationBuffer()
}
