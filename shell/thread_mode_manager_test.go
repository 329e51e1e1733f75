package shell

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadModeAutoSwitch_InvalidManagerIsNoOp(t *testing.T) {
	for _, m := range []*ThreadModeManager{nil, {}, NewThreadModeManager(nil, nil, nil)} {
		s := NewThreadModeAutoSwitch(m)
		assert.False(t, s.Active())
		s.Release()
		assert.Equal(t, ThreadModeConcurrent, m.Mode())
	}
}

// TestThreadModeAutoSwitch_MergesEngineIntoUI tests forcing synchronous mode
// Main test items:
// 1. The engine queue runs on the UI thread while the switch is held
// 2. The UI operation queue follows AllOnUI
// 3. Release unmerges and restores the previous strategy
func TestThreadModeAutoSwitch_MergesEngineIntoUI(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	ui, tasm := m.GetUITaskRunner(), m.GetTASMTaskRunner()
	q := newTestQueue(t, MultiThreads, m)
	mgr := NewThreadModeManager(ui, tasm, q)

	s := NewThreadModeAutoSwitch(mgr)
	require.True(t, s.Active())
	assert.Equal(t, ThreadModeForcedSynchronous, mgr.Mode())
	assert.Equal(t, AllOnUI, q.Strategy())
	assert.True(t, ui.IsSameThread(tasm))

	var engineOnUI bool
	runSync(t, tasm, func() { engineOnUI = ui.RunsTasksOnCurrentThread() })
	assert.True(t, engineOnUI)

	s.Release()
	s.Release()
	assert.Equal(t, ThreadModeConcurrent, mgr.Mode())
	assert.Equal(t, MultiThreads, q.Strategy())
	assert.False(t, ui.IsSameThread(tasm))

	runSync(t, tasm, func() { engineOnUI = ui.RunsTasksOnCurrentThread() })
	assert.False(t, engineOnUI)
}

// TestThreadModeAutoSwitch_Nested tests that nested switches act as one
// Main test items:
// 1. The inner switch is inert
// 2. Releasing the inner switch keeps the forced mode
// 3. Releasing the outer switch restores the concurrent mode
func TestThreadModeAutoSwitch_Nested(t *testing.T) {
	_, m := newTestPipeline(t, MostOnTASM)
	ui, tasm := m.GetUITaskRunner(), m.GetTASMTaskRunner()
	q := newTestQueue(t, MostOnTASM, m)
	mgr := NewThreadModeManager(ui, tasm, q)

	runSync(t, ui, func() {
		outer := NewThreadModeAutoSwitch(mgr)
		inner := NewThreadModeAutoSwitch(mgr)
		assert.True(t, outer.Active())
		assert.False(t, inner.Active())

		inner.Release()
		assert.Equal(t, ThreadModeForcedSynchronous, mgr.Mode())
		assert.Equal(t, AllOnUI, q.Strategy())

		outer.Release()
		assert.Equal(t, ThreadModeConcurrent, mgr.Mode())
		assert.Equal(t, MostOnTASM, q.Strategy())
	})
	assert.False(t, ui.IsSameThread(tasm))
}

// TestThreadModeAutoSwitch_FlushesPendingWork tests that gated operations run
// once the pipeline is forced onto the UI thread
func TestThreadModeAutoSwitch_FlushesPendingWork(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	ui, tasm := m.GetUITaskRunner(), m.GetTASMTaskRunner()
	q := newTestQueue(t, MultiThreads, m)
	mgr := NewThreadModeManager(ui, tasm, q)

	result := 0
	runSync(t, tasm, func() { enqueueCounting(q, kExpect, &result) })

	ran := -1
	runSync(t, ui, func() {
		mgr.RunSynchronously(func() { ran = result })
	})
	assert.Equal(t, kExpect, ran)
}

func TestThreadModeManager_RunSynchronouslyReleasesOnPanic(t *testing.T) {
	_, m := newTestPipeline(t, PartOnLayout)
	ui, tasm := m.GetUITaskRunner(), m.GetTASMTaskRunner()
	q := newTestQueue(t, PartOnLayout, m)
	mgr := NewThreadModeManager(ui, tasm, q)

	assert.Panics(t, func() {
		mgr.RunSynchronously(func() {
			assert.Equal(t, ThreadModeForcedSynchronous, mgr.Mode())
			panic("layout exploded")
		})
	})
	assert.Equal(t, ThreadModeConcurrent, mgr.Mode())
	assert.Equal(t, PartOnLayout, q.Strategy())
	assert.False(t, ui.IsSameThread(tasm))
}

func TestThreadModeAutoSwitch_SameThreadSkipsMerge(t *testing.T) {
	_, m := newTestPipeline(t, AllOnUI)
	q := newTestQueue(t, AllOnUI, m)
	mgr := NewThreadModeManager(m.GetUITaskRunner(), m.GetTASMTaskRunner(), q)

	s := NewThreadModeAutoSwitch(mgr)
	assert.True(t, s.Active())
	assert.Equal(t, ThreadModeForcedSynchronous, mgr.Mode())
	s.Release()
	assert.Equal(t, ThreadModeConcurrent, mgr.Mode())
	assert.Equal(t, AllOnUI, q.Strategy())
}

// TestThreadModeAutoSwitch_EngineTransferringToUI tests a switch made on the UI
// thread while the engine thread is blocked transferring the queue
// Main test items:
// 1. Neither thread waits on the other forever
// 2. The engine's transfer is applied after the switch is released
func TestThreadModeAutoSwitch_EngineTransferringToUI(t *testing.T) {
	_, m := newTestPipeline(t, MultiThreads)
	ui, tasm := m.GetUITaskRunner(), m.GetTASMTaskRunner()
	q := newTestQueue(t, MultiThreads, m)
	mgr := NewThreadModeManager(ui, tasm, q)

	busy := make(chan struct{})
	engineDone := make(chan struct{})
	uiDone := make(chan struct{})

	tasm.PostTask(func(context.Context) {
		defer close(engineDone)
		close(busy)
		time.Sleep(30 * time.Millisecond)
		q.Transfer(AllOnUI)
	})
	ui.PostTask(func(context.Context) {
		defer close(uiDone)
		<-busy
		s := NewThreadModeAutoSwitch(mgr)
		assert.True(t, s.Active())
		assert.True(t, ui.IsSameThread(tasm))
		s.Release()
	})

	for name, done := range map[string]chan struct{}{"engine": engineDone, "ui": uiDone} {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s thread stuck", name)
		}
	}
	assert.Equal(t, ThreadModeConcurrent, mgr.Mode())
	assert.Equal(t, AllOnUI, q.Strategy())
	assert.False(t, ui.IsSameThread(tasm))
}

// TestThreadModeAutoSwitch_FromEngineThread tests creating the switch on the
// engine thread itself
func TestThreadModeAutoSwitch_FromEngineThread(t *testing.T) {
	_, m := newTestPipeline(t, MostOnTASM)
	ui, tasm := m.GetUITaskRunner(), m.GetTASMTaskRunner()
	q := newTestQueue(t, MostOnTASM, m)
	mgr := NewThreadModeManager(ui, tasm, q)

	var merged bool
	runSync(t, tasm, func() {
		s := NewThreadModeAutoSwitch(mgr)
		merged = ui.IsSameThread(tasm)
		s.Release()
	})
	assert.True(t, merged)
	assert.Equal(t, MostOnTASM, q.Strategy())
	assert.False(t, ui.IsSameThread(tasm))
}
