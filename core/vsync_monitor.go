package core

import (
	"context"
	"sync"
	"time"
)

// VSyncCallback receives the start and target time of a display frame.
type VSyncCallback func(frameStart, frameTarget time.Time)

// VSyncRequester asks the platform for exactly one vsync. The platform answers
// by calling deliver once, from any goroutine.
type VSyncRequester interface {
	RequestVSync(deliver VSyncCallback)
}

// VSyncRequesterFunc adapts a function to VSyncRequester.
type VSyncRequesterFunc func(deliver VSyncCallback)

// RequestVSync calls f.
func (f VSyncRequesterFunc) RequestVSync(deliver VSyncCallback) { f(deliver) }

// VSyncMonitor requests one platform vsync at a time and fans it out to the
// primary callbacks and keyed secondary callbacks registered for that frame.
//
// Every primary callback registered before a vsync fires on it, in
// registration order. A secondary id holds one callback; registering the id
// again before the vsync replaces it.
//
// A platform request that stays undelivered for RequestTimeout is considered
// dropped: the next registration asks the platform again. Registrations made
// meanwhile are kept and fire on whichever vsync arrives first.
type VSyncMonitor struct {
	requester VSyncRequester

	mu             sync.Mutex
	runner         TaskRunner
	primary        []VSyncCallback
	secondary      map[string]VSyncCallback
	secondaryOrder []string
	requested      bool
	requestedAt    time.Time
	requestTimeout time.Duration
	frames         uint64
}

// NewVSyncMonitor creates a monitor backed by requester.
func NewVSyncMonitor(requester VSyncRequester) *VSyncMonitor {
	return &VSyncMonitor{
		requester:      requester,
		secondary:      make(map[string]VSyncCallback),
		requestTimeout: defaultVSyncTimeout,
	}
}

// SetRequestTimeout sets how long a platform request may stay undelivered
// before it is asked again. Zero or less restores the 100ms default.
func (m *VSyncMonitor) SetRequestTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultVSyncTimeout
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestTimeout = d
}

// ExpireRequest forgets the outstanding platform request so the next
// registration asks the platform again. Registered callbacks stay.
func (m *VSyncMonitor) ExpireRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requested = false
}

// BindToCurrentThread binds the monitor to the loop running on the calling
// goroutine. Vsyncs delivered elsewhere hop to that loop before firing.
// It returns false when the caller is not on a loop of registry.
func (m *VSyncMonitor) BindToCurrentThread(registry *MessageLoopTaskQueues) bool {
	if registry == nil {
		registry = DefaultTaskQueues()
	}
	id, ok := registry.CurrentTaskQueueID()
	if !ok {
		return false
	}
	m.BindToRunner(NewSingleThreadTaskRunner(registry, id, &LoopConfig{Name: "vsync-" + id.String()}))
	return true
}

// BindToRunner binds the monitor to runner's thread.
func (m *VSyncMonitor) BindToRunner(runner TaskRunner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runner = runner
}

// AsyncRequestVSync registers callback for the next vsync and requests one if
// none is outstanding.
func (m *VSyncMonitor) AsyncRequestVSync(callback VSyncCallback) {
	if callback == nil {
		return
	}
	m.mu.Lock()
	m.primary = append(m.primary, callback)
	request := m.markRequestedLocked()
	m.mu.Unlock()

	if request {
		m.requester.RequestVSync(m.OnVSync)
	}
}

// ScheduleVSyncSecondaryCallback registers callback under id for the next
// vsync. A nil callback is ignored.
func (m *VSyncMonitor) ScheduleVSyncSecondaryCallback(id string, callback VSyncCallback) {
	if callback == nil {
		return
	}
	m.mu.Lock()
	if _, ok := m.secondary[id]; !ok {
		m.secondaryOrder = append(m.secondaryOrder, id)
	}
	m.secondary[id] = callback
	request := m.markRequestedLocked()
	m.mu.Unlock()

	if request {
		m.requester.RequestVSync(m.OnVSync)
	}
}

// HasPendingRequest reports whether a vsync has been requested and not yet
// delivered.
func (m *VSyncMonitor) HasPendingRequest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requested
}

// Frames returns how many vsyncs have fired.
func (m *VSyncMonitor) Frames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// OnVSync fires and clears every registration for this frame. Called off the
// bound thread it posts itself to that thread first.
func (m *VSyncMonitor) OnVSync(frameStart, frameTarget time.Time) {
	m.mu.Lock()
	runner := m.runner
	m.mu.Unlock()

	if runner != nil && !runner.RunsTasksOnCurrentThread() {
		runner.PostTask(func(context.Context) {
			m.fire(frameStart, frameTarget)
		})
		return
	}
	m.fire(frameStart, frameTarget)
}

func (m *VSyncMonitor) fire(frameStart, frameTarget time.Time) {
	m.mu.Lock()
	primary := m.primary
	secondary := make([]VSyncCallback, 0, len(m.secondaryOrder))
	for _, id := range m.secondaryOrder {
		secondary = append(secondary, m.secondary[id])
	}
	m.primary = nil
	m.secondary = make(map[string]VSyncCallback)
	m.secondaryOrder = nil
	m.requested = false
	m.frames++
	m.mu.Unlock()

	for _, cb := range primary {
		cb(frameStart, frameTarget)
	}
	for _, cb := range secondary {
		cb(frameStart, frameTarget)
	}
}

func (m *VSyncMonitor) markRequestedLocked() bool {
	now := time.Now()
	if m.requested && now.Sub(m.requestedAt) < m.requestTimeout {
		return false
	}
	m.requested = true
	m.requestedAt = now
	return true
}

// =============================================================================
// TimerVSyncSource
// =============================================================================

// TimerVSyncSource is a VSyncRequester that delivers vsyncs aligned to a fixed
// refresh period, for hosts without a display.
type TimerVSyncSource struct {
	period time.Duration
	epoch  time.Time

	mu      sync.Mutex
	stopped bool
	paused  bool
}

// NewTimerVSyncSource creates a source with the given refresh period.
func NewTimerVSyncSource(period time.Duration) *TimerVSyncSource {
	if period <= 0 {
		period = time.Second / 60
	}
	return &TimerVSyncSource{period: period, epoch: time.Now()}
}

// Period returns the refresh period.
func (s *TimerVSyncSource) Period() time.Duration { return s.period }

// RequestVSync schedules deliver at the next period boundary.
func (s *TimerVSyncSource) RequestVSync(deliver VSyncCallback) {
	now := time.Now()
	elapsed := now.Sub(s.epoch)
	next := s.epoch.Add((elapsed/s.period + 1) * s.period)

	time.AfterFunc(next.Sub(now), func() {
		s.mu.Lock()
		drop := s.stopped || s.paused
		s.mu.Unlock()
		if drop {
			return
		}
		deliver(next, next.Add(s.period))
	})
}

// SetPaused drops vsyncs while paused, like a backgrounded display.
func (s *TimerVSyncSource) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

// Stop drops every future delivery.
func (s *TimerVSyncSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}
