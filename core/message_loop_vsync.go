package core

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultVSyncProportion = 0.5
	defaultVSyncTimeout    = 100 * time.Millisecond
)

// VSyncLoopHost is the loop a MessageLoopVSync decorates.
type VSyncLoopHost interface {
	// WakeUp is the plain timer wake of the loop.
	WakeUp(at time.Time, byVSync bool)

	// FlushTasks runs due tasks until budget has elapsed.
	FlushTasks(budget time.Duration)

	Name() string
}

// VSyncConfig configures a MessageLoopVSync.
type VSyncConfig struct {
	// Proportion of the frame interval given to FlushTasks. Defaults to 0.5.
	Proportion float64

	// Timeout after which an undelivered vsync request falls back to the timer.
	// Defaults to 100ms.
	Timeout time.Duration

	Metrics Metrics
	Logger  Logger

	// Now is the clock; tests inject a fake.
	Now func() time.Time

	// AfterFunc arms the stall timer and returns its stop function. Defaults
	// to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) (stop func() bool)
}

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// DefaultVSyncConfig returns a config with default values.
func DefaultVSyncConfig() *VSyncConfig {
	return &VSyncConfig{
		Proportion: defaultVSyncProportion,
		Timeout:    defaultVSyncTimeout,
		Metrics:    &NilMetrics{},
		Now:        time.Now,
		AfterFunc:  realAfterFunc,
	}
}

// MessageLoopVSync aligns a loop's flushes to vsync. Install it as the loop's
// Wakeable:
//
//	vl := NewMessageLoopVSync(loop, monitor, nil)
//	loop.SetWakeable(vl)
//
// A wake for an already due time, or a wake while a vsync request has been
// outstanding for at least Timeout, takes the host's timer path. Any other
// wake requests one vsync, and on that vsync the host flushes with a budget of
// Proportion times the frame interval. A request that is still undelivered
// after Timeout falls back to the timer on its own, so a dropped vsync never
// strands the loop.
type MessageLoopVSync struct {
	host    VSyncLoopHost
	monitor *VSyncMonitor
	cfg     VSyncConfig

	mu          sync.Mutex
	requested   bool
	requestTime time.Time
	wakeAt      time.Time
	generation  uint64
	stopStall   func() bool

	vsyncs    atomic.Int64
	fallbacks atomic.Int64
}

// NewMessageLoopVSync decorates host with vsync driven flushing.
func NewMessageLoopVSync(host VSyncLoopHost, monitor *VSyncMonitor, config *VSyncConfig) *MessageLoopVSync {
	cfg := DefaultVSyncConfig()
	if config != nil {
		if config.Proportion > 0 {
			cfg.Proportion = config.Proportion
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
		if config.Metrics != nil {
			cfg.Metrics = config.Metrics
		}
		if config.Now != nil {
			cfg.Now = config.Now
		}
		if config.AfterFunc != nil {
			cfg.AfterFunc = config.AfterFunc
		}
		cfg.Logger = config.Logger
	}
	if cfg.Logger == nil {
		cfg.Logger = PackageLogger()
	}
	return &MessageLoopVSync{host: host, monitor: monitor, cfg: *cfg}
}

// AttachVSync installs a MessageLoopVSync on loop and returns it.
func AttachVSync(loop *MessageLoop, monitor *VSyncMonitor, config *VSyncConfig) *MessageLoopVSync {
	v := NewMessageLoopVSync(loop, monitor, config)
	loop.SetWakeable(v)
	return v
}

// WakeUp implements Wakeable.
func (v *MessageLoopVSync) WakeUp(at time.Time, byVSync bool) {
	now := v.cfg.Now()

	v.mu.Lock()
	timedOut := v.requested && now.Sub(v.requestTime) >= v.cfg.Timeout
	if !at.After(now) || timedOut {
		if timedOut {
			v.clearRequestLocked()
		}
		v.mu.Unlock()

		if timedOut {
			v.fallBack()
		}
		v.host.WakeUp(at, false)
		return
	}
	if v.requested {
		if at.Before(v.wakeAt) {
			v.wakeAt = at
		}
		v.mu.Unlock()
		return
	}
	v.requested = true
	v.requestTime = now
	v.wakeAt = at
	v.generation++
	gen := v.generation
	v.stopStall = v.cfg.AfterFunc(v.cfg.Timeout, func() { v.onStalled(gen) })
	v.mu.Unlock()

	v.monitor.AsyncRequestVSync(func(frameStart, frameTarget time.Time) {
		v.onVSync(gen, frameStart, frameTarget)
	})
}

// Fallbacks returns how many wakes took the timer path because vsync stalled.
func (v *MessageLoopVSync) Fallbacks() int64 { return v.fallbacks.Load() }

// VSyncs returns how many vsyncs drove a flush.
func (v *MessageLoopVSync) VSyncs() int64 { return v.vsyncs.Load() }

// MaxExecuteTime returns the flush budget for a frame.
func (v *MessageLoopVSync) MaxExecuteTime(frameStart, frameTarget time.Time) time.Duration {
	return time.Duration(float64(frameTarget.Sub(frameStart)) * v.cfg.Proportion)
}

func (v *MessageLoopVSync) onVSync(gen uint64, frameStart, frameTarget time.Time) {
	v.mu.Lock()
	if !v.requested || gen != v.generation {
		// Superseded by a timer fallback; that wake already covered it.
		v.mu.Unlock()
		return
	}
	v.clearRequestLocked()
	v.mu.Unlock()

	v.vsyncs.Add(1)
	v.host.FlushTasks(v.MaxExecuteTime(frameStart, frameTarget))
}

// onStalled wakes the host by timer when request gen got no vsync in time.
func (v *MessageLoopVSync) onStalled(gen uint64) {
	v.mu.Lock()
	if !v.requested || gen != v.generation {
		v.mu.Unlock()
		return
	}
	at := v.wakeAt
	v.clearRequestLocked()
	v.mu.Unlock()

	v.fallBack()
	v.host.WakeUp(at, false)
}

func (v *MessageLoopVSync) fallBack() {
	v.monitor.ExpireRequest()
	v.fallbacks.Add(1)
	v.cfg.Metrics.RecordVSyncFallback(v.host.Name())
	v.cfg.Logger.Debug("vsync timed out, waking by timer",
		F("loop", v.host.Name()),
		F("timeout", v.cfg.Timeout))
}

func (v *MessageLoopVSync) clearRequestLocked() {
	v.requested = false
	if v.stopStall != nil {
		v.stopStall()
		v.stopStall = nil
	}
}
