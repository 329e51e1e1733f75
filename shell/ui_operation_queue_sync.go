package shell

import "github.com/eapache/queue"

// syncUIOperationBuffer backs AllOnUI and PartOnLayout: operations are
// eligible as soon as they are enqueued.
type syncUIOperationBuffer struct {
	ops     *queue.Queue
	current UIOperationStatus
}

func newSyncUIOperationBuffer() *syncUIOperationBuffer {
	return &syncUIOperationBuffer{ops: queue.New()}
}

func (b *syncUIOperationBuffer) async() bool { return false }

func (b *syncUIOperationBuffer) enqueue(op UIOperation) {
	b.ops.Add(op)
}

// updateStatus is recorded for stats only; the gate is always open.
func (b *syncUIOperationBuffer) updateStatus(status UIOperationStatus) {
	b.current = status
}

func (b *syncUIOperationBuffer) status() UIOperationStatus { return b.current }

func (b *syncUIOperationBuffer) pop() (UIOperation, bool) {
	if b.ops.Length() == 0 {
		return nil, false
	}
	return b.ops.Remove().(UIOperation), true
}

func (b *syncUIOperationBuffer) releaseAll() {}

func (b *syncUIOperationBuffer) drain() []UIOperation {
	out := make([]UIOperation, 0, b.ops.Length())
	for b.ops.Length() > 0 {
		out = append(out, b.ops.Remove().(UIOperation))
	}
	return out
}

func (b *syncUIOperationBuffer) adopt(ops []UIOperation) {
	for _, op := range ops {
		b.ops.Add(op)
	}
}

func (b *syncUIOperationBuffer) pendingCount() int { return 0 }
func (b *syncUIOperationBuffer) readyCount() int   { return b.ops.Length() }
