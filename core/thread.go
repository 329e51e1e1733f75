package core

import (
	"runtime"
	"sync"
)

// Thread runs a MessageLoop on a dedicated goroutine locked to its OS thread.
type Thread struct {
	loop     *MessageLoop
	joinOnce sync.Once
}

// NewThread starts a loop named name on a new OS thread and returns once the
// loop is bound, so RunsTasksOnCurrentThread is accurate for the first task.
func NewThread(registry *MessageLoopTaskQueues, config *LoopConfig) *Thread {
	t := &Thread{loop: NewMessageLoop(registry, config)}

	started := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		t.loop.run(func() { close(started) })
	}()
	<-started
	return t
}

// Loop returns the thread's message loop.
func (t *Thread) Loop() *MessageLoop { return t.loop }

// GetTaskRunner returns the runner of the thread's loop.
func (t *Thread) GetTaskRunner() *SingleThreadTaskRunner { return t.loop.GetTaskRunner() }

// Name returns the loop name.
func (t *Thread) Name() string { return t.loop.Name() }

// Join terminates the loop and waits for the goroutine to exit. Calling Join
// from a task of the thread itself terminates without waiting.
func (t *Thread) Join() {
	t.joinOnce.Do(t.loop.Terminate)
	if t.loop.onLoopGoroutine() {
		return
	}
	<-t.loop.Done()
}
