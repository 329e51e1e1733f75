package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, timer)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		was := !timer.stopped
		timer.stopped = true
		return was
	}
}

// Advance moves the clock and fires the timers that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	kept := c.timers[:0]
	for _, timer := range c.timers {
		switch {
		case timer.stopped:
		case !timer.at.After(c.now):
			timer.stopped = true
			due = append(due, timer)
		default:
			kept = append(kept, timer)
		}
	}
	c.timers = kept
	c.mu.Unlock()

	for _, timer := range due {
		timer.f()
	}
}

type fakeVSyncHost struct {
	mu      sync.Mutex
	wakes   []time.Time
	budgets []time.Duration
}

func (h *fakeVSyncHost) WakeUp(at time.Time, byVSync bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wakes = append(h.wakes, at)
}

func (h *fakeVSyncHost) FlushTasks(budget time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.budgets = append(h.budgets, budget)
}

func (h *fakeVSyncHost) Name() string { return "fake" }

func (h *fakeVSyncHost) Wakes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.wakes)
}

func (h *fakeVSyncHost) Budgets() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.budgets...)
}

func newVSyncLoopUnderTest() (*MessageLoopVSync, *fakeVSyncHost, *manualVSync, *fakeClock, *recordingMetrics) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	host := &fakeVSyncHost{}
	src := &manualVSync{}
	metrics := &recordingMetrics{}
	v := NewMessageLoopVSync(host, NewVSyncMonitor(src), &VSyncConfig{
		Proportion: 0.5,
		Timeout:    100 * time.Millisecond,
		Metrics:    metrics,
		Logger:     NewNoOpLogger(),
		Now:        clock.Now,
		AfterFunc:  clock.AfterFunc,
	})
	return v, host, src, clock, metrics
}

func TestMessageLoopVSync_DueTaskWakesByTimer(t *testing.T) {
	v, host, src, clock, _ := newVSyncLoopUnderTest()

	v.WakeUp(clock.Now(), false)
	v.WakeUp(clock.Now().Add(-time.Second), false)

	assert.Equal(t, 2, host.Wakes())
	assert.Equal(t, 0, src.Requests())
}

func TestMessageLoopVSync_FutureTaskRequestsOneVSync(t *testing.T) {
	v, host, src, clock, _ := newVSyncLoopUnderTest()

	v.WakeUp(clock.Now().Add(time.Millisecond), false)
	v.WakeUp(clock.Now().Add(2*time.Millisecond), false)

	assert.Equal(t, 0, host.Wakes())
	assert.Equal(t, 1, src.Requests())
}

func TestMessageLoopVSync_FlushBudgetFromFrameInterval(t *testing.T) {
	v, host, src, clock, _ := newVSyncLoopUnderTest()

	v.WakeUp(clock.Now().Add(time.Millisecond), false)
	start := clock.Now()
	src.Fire(start, start.Add(16*time.Millisecond))

	assert.Equal(t, []time.Duration{8 * time.Millisecond}, host.Budgets())
	assert.Equal(t, int64(1), v.VSyncs())
	assert.Equal(t, 4*time.Millisecond, v.MaxExecuteTime(start, start.Add(8*time.Millisecond)))

	// The next future wake requests a new vsync.
	v.WakeUp(clock.Now().Add(time.Millisecond), false)
	assert.Equal(t, 2, src.Requests())
}

func TestMessageLoopVSync_FallsBackWhenVSyncStalls(t *testing.T) {
	v, host, src, clock, metrics := newVSyncLoopUnderTest()

	v.WakeUp(clock.Now().Add(time.Millisecond), false)
	require.Equal(t, 1, src.Requests())

	clock.Advance(99 * time.Millisecond)
	assert.Equal(t, 0, host.Wakes(), "still within timeout")

	// The request goes stale without any further wake.
	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, host.Wakes())
	assert.Equal(t, int64(1), v.Fallbacks())
	assert.Equal(t, 1, metrics.Count("fallback"))

	// The platform is asked again on the next future wake.
	v.WakeUp(clock.Now().Add(time.Second), false)
	assert.Equal(t, 2, src.Requests())
	v.WakeUp(clock.Now().Add(time.Second), false)
	assert.Equal(t, 2, src.Requests())
	assert.Equal(t, 1, host.Wakes())
}

// TestMessageLoopVSync_StaleWakeFallsBack tests the fallback taken by a wake
// that arrives after the request timed out
// Main test items:
// 1. The wake takes the timer path once
// 2. The stall timer of that request does not fire a second fallback
func TestMessageLoopVSync_StaleWakeFallsBack(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	host := &fakeVSyncHost{}
	src := &manualVSync{}
	var fired []func()
	v := NewMessageLoopVSync(host, NewVSyncMonitor(src), &VSyncConfig{
		Timeout: 100 * time.Millisecond,
		Logger:  NewNoOpLogger(),
		Now:     clock.Now,
		AfterFunc: func(d time.Duration, f func()) func() bool {
			fired = append(fired, f)
			return func() bool { return true }
		},
	})

	v.WakeUp(clock.Now().Add(time.Second), false)
	clock.Advance(150 * time.Millisecond)
	v.WakeUp(clock.Now().Add(time.Second), false)
	assert.Equal(t, 1, host.Wakes())
	assert.Equal(t, int64(1), v.Fallbacks())

	// A late stall timer of the expired request is ignored.
	require.Len(t, fired, 1)
	fired[0]()
	assert.Equal(t, 1, host.Wakes())
	assert.Equal(t, int64(1), v.Fallbacks())
}

func TestMessageLoopVSync_LateVSyncAfterFallbackIsIgnored(t *testing.T) {
	v, host, src, clock, _ := newVSyncLoopUnderTest()

	v.WakeUp(clock.Now().Add(time.Millisecond), false)
	clock.Advance(100 * time.Millisecond)
	require.Equal(t, int64(1), v.Fallbacks())

	start := clock.Now()
	src.Fire(start, start.Add(16*time.Millisecond))
	assert.Empty(t, host.Budgets())
	assert.Equal(t, int64(0), v.VSyncs())
}

// TestMessageLoopVSync_RecoversAfterDroppedVSyncs tests a loop whose platform
// stops delivering vsyncs for a while
// Main test items:
// 1. Tasks posted while vsync is paused still run through the timer fallback
// 2. Tasks posted after vsync resumes run, driven by vsync again
func TestMessageLoopVSync_RecoversAfterDroppedVSyncs(t *testing.T) {
	registry := NewMessageLoopTaskQueues()
	ui := newTestThread(t, registry, "ui")
	src := NewTimerVSyncSource(4 * time.Millisecond)
	defer src.Stop()
	monitor := NewVSyncMonitor(src)
	monitor.BindToRunner(ui.GetTaskRunner())
	vl := AttachVSync(ui.Loop(), monitor, &VSyncConfig{
		Timeout: 20 * time.Millisecond,
		Logger:  NewNoOpLogger(),
	})

	src.SetPaused(true)
	first := make(chan struct{})
	ui.GetTaskRunner().PostDelayedTask(func(context.Context) { close(first) }, 5*time.Millisecond)
	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran while vsync was paused")
	}
	assert.Positive(t, vl.Fallbacks())

	time.Sleep(30 * time.Millisecond)
	src.SetPaused(false)

	second := make(chan struct{})
	ui.GetTaskRunner().PostDelayedTask(func(context.Context) { close(second) }, 5*time.Millisecond)
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatalf("delayed task never ran after vsync resumed; vsyncs=%d fallbacks=%d", vl.VSyncs(), vl.Fallbacks())
	}
	assert.Eventually(t, func() bool { return monitor.Frames() > 0 }, time.Second, 5*time.Millisecond)
}

func TestMessageLoopVSync_DrivesRealLoop(t *testing.T) {
	registry := NewMessageLoopTaskQueues()
	ui := newTestThread(t, registry, "ui")
	src := NewTimerVSyncSource(4 * time.Millisecond)
	defer src.Stop()
	monitor := NewVSyncMonitor(src)

	require.NoError(t, ui.GetTaskRunner().PostSyncTask(func(context.Context) {
		monitor.BindToCurrentThread(registry)
	}))
	vl := AttachVSync(ui.Loop(), monitor, &VSyncConfig{Logger: NewNoOpLogger()})

	var ran atomic.Int32
	done := make(chan struct{})
	ui.GetTaskRunner().PostDelayedTask(func(context.Context) {
		ran.Add(1)
		close(done)
	}, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran under vsync")
	}
	assert.Equal(t, int32(1), ran.Load())
	assert.Positive(t, vl.VSyncs())
}
