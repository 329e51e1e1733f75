package shell

import "github.com/eapache/queue"

// asyncUIOperationBuffer backs MostOnTASM and MultiThreads. Operations of the
// current pass wait in pending until the pass reaches a phase gate:
// TASMFinish releases everything enqueued so far, LayoutFinish releases the
// rest. The first enqueue after LayoutFinish starts the next pass.
type asyncUIOperationBuffer struct {
	pending []UIOperation
	ready   *queue.Queue
	current UIOperationStatus
}

func newAsyncUIOperationBuffer() *asyncUIOperationBuffer {
	return &asyncUIOperationBuffer{ready: queue.New()}
}

func (b *asyncUIOperationBuffer) async() bool { return true }

func (b *asyncUIOperationBuffer) enqueue(op UIOperation) {
	if b.current == UIOperationStatusLayoutFinish {
		b.current = UIOperationStatusPending
	}
	b.pending = append(b.pending, op)
}

func (b *asyncUIOperationBuffer) updateStatus(status UIOperationStatus) {
	switch {
	case status == UIOperationStatusPending:
		b.current = UIOperationStatusPending
		return
	case b.current == UIOperationStatusLayoutFinish:
		// A gate after LayoutFinish with no enqueue in between opens a new pass.
	case status <= b.current:
		return
	}
	b.current = status
	b.releaseAll()
}

func (b *asyncUIOperationBuffer) status() UIOperationStatus { return b.current }

func (b *asyncUIOperationBuffer) pop() (UIOperation, bool) {
	if b.ready.Length() == 0 {
		return nil, false
	}
	return b.ready.Remove().(UIOperation), true
}

func (b *asyncUIOperationBuffer) releaseAll() {
	for i, op := range b.pending {
		b.ready.Add(op)
		b.pending[i] = nil
	}
	b.pending = b.pending[:0]
}

func (b *asyncUIOperationBuffer) drain() []UIOperation {
	out := make([]UIOperation, 0, b.ready.Length()+len(b.pending))
	for b.ready.Length() > 0 {
		out = append(out, b.ready.Remove().(UIOperation))
	}
	out = append(out, b.pending...)
	b.pending = nil
	return out
}

func (b *asyncUIOperationBuffer) adopt(ops []UIOperation) {
	for _, op := range ops {
		b.ready.Add(op)
	}
}

func (b *asyncUIOperationBuffer) pendingCount() int { return len(b.pending) }
func (b *asyncUIOperationBuffer) readyCount() int   { return b.ready.Length() }
