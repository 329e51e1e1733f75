package shell

import (
	"errors"
	"strconv"
	"sync"

	"github.com/Swind/go-render-pipeline/core"
)

// ErrUIThreadNotInitialized is the panic value when a manufactor or UI runner
// is requested before InitUIThread.
var ErrUIThreadNotInitialized = errors.New("shell: UI thread not initialized")

// EnvironmentConfig configures the threads an Environment creates.
type EnvironmentConfig struct {
	// Registry defaults to core.DefaultTaskQueues.
	Registry *core.MessageLoopTaskQueues

	PanicHandler core.PanicHandler
	Metrics      core.Metrics
	Logger       core.Logger
}

type threadRole int

const (
	roleTASM threadRole = iota
	roleLayout
)

func (r threadRole) String() string {
	if r == roleLayout {
		return "layout"
	}
	return "tasm"
}

// Environment owns the process-wide rendering threads: the UI thread, the
// shared TASM, Layout and JS threads, JS group threads, and the idle pool of
// separate threads kept for reuse.
type Environment struct {
	registry *core.MessageLoopTaskQueues
	cfg      EnvironmentConfig

	mu       sync.Mutex
	ui       *core.Thread
	shared   map[threadRole]*core.Thread
	js       *core.Thread
	jsGroups map[string]*core.Thread
	idle     map[threadRole][]*core.Thread
	leased   map[*core.Thread]struct{}
	seq      map[threadRole]int
	shutdown bool
}

// NewEnvironment creates an environment with no threads started.
func NewEnvironment(config *EnvironmentConfig) *Environment {
	var cfg EnvironmentConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Registry == nil {
		cfg.Registry = core.DefaultTaskQueues()
	}
	if cfg.Logger == nil {
		cfg.Logger = core.PackageLogger()
	}
	return &Environment{
		registry: cfg.Registry,
		cfg:      cfg,
		shared:   make(map[threadRole]*core.Thread),
		jsGroups: make(map[string]*core.Thread),
		idle:     make(map[threadRole][]*core.Thread),
		leased:   make(map[*core.Thread]struct{}),
		seq:      make(map[threadRole]int),
	}
}

// Registry returns the task queue registry shared by every thread.
func (e *Environment) Registry() *core.MessageLoopTaskQueues {
	return e.registry
}

// InitUIThread starts the UI thread. Later calls return the same runner.
func (e *Environment) InitUIThread() *core.SingleThreadTaskRunner {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ui == nil {
		e.ui = e.newThreadLocked("ui")
	}
	return e.ui.GetTaskRunner()
}

// IsUIThreadInitialized reports whether InitUIThread has run.
func (e *Environment) IsUIThreadInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ui != nil
}

// UITaskRunner returns the UI runner. It panics with ErrUIThreadNotInitialized
// before InitUIThread.
func (e *Environment) UITaskRunner() *core.SingleThreadTaskRunner {
	return e.UILoop().GetTaskRunner()
}

// UILoop returns the UI thread's loop, for installing a vsync wake. It panics
// with ErrUIThreadNotInitialized before InitUIThread.
func (e *Environment) UILoop() *core.MessageLoop {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ui == nil {
		panic(ErrUIThreadNotInitialized)
	}
	return e.ui.Loop()
}

// GetJSRunner returns the JS runner for groupKey. Every non-empty key has one
// thread shared across manufactors; the empty key is the single process JS
// thread.
func (e *Environment) GetJSRunner(groupKey string) *core.SingleThreadTaskRunner {
	e.mu.Lock()
	defer e.mu.Unlock()

	if groupKey == "" {
		if e.js == nil {
			e.js = e.newThreadLocked("js")
		}
		return e.js.GetTaskRunner()
	}
	th, ok := e.jsGroups[groupKey]
	if !ok {
		th = e.newThreadLocked("js-" + groupKey)
		e.jsGroups[groupKey] = th
	}
	return th.GetTaskRunner()
}

// Shutdown joins every thread the environment started. Runners handed out
// earlier stay valid; posts to them are dropped.
func (e *Environment) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true

	var threads []*core.Thread
	for _, th := range e.shared {
		threads = append(threads, th)
	}
	for _, pool := range e.idle {
		threads = append(threads, pool...)
	}
	for th := range e.leased {
		threads = append(threads, th)
	}
	for _, th := range e.jsGroups {
		threads = append(threads, th)
	}
	if e.js != nil {
		threads = append(threads, e.js)
	}
	if e.ui != nil {
		threads = append(threads, e.ui)
	}
	e.shared = make(map[threadRole]*core.Thread)
	e.idle = make(map[threadRole][]*core.Thread)
	e.leased = make(map[*core.Thread]struct{})
	e.jsGroups = make(map[string]*core.Thread)
	e.js, e.ui = nil, nil
	e.mu.Unlock()

	for _, th := range threads {
		th.Join()
	}
	e.cfg.Logger.Debug("environment shut down", core.F("threads", len(threads)))
}

// IdleThreads returns how many separate threads wait in the reuse pool.
func (e *Environment) IdleThreads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, pool := range e.idle {
		n += len(pool)
	}
	return n
}

// Loops returns every live loop, for stats polling.
func (e *Environment) Loops() []*core.MessageLoop {
	e.mu.Lock()
	defer e.mu.Unlock()

	var loops []*core.MessageLoop
	if e.ui != nil {
		loops = append(loops, e.ui.Loop())
	}
	for _, role := range []threadRole{roleTASM, roleLayout} {
		if th, ok := e.shared[role]; ok {
			loops = append(loops, th.Loop())
		}
	}
	for th := range e.leased {
		loops = append(loops, th.Loop())
	}
	if e.js != nil {
		loops = append(loops, e.js.Loop())
	}
	for _, th := range e.jsGroups {
		loops = append(loops, th.Loop())
	}
	return loops
}

func (e *Environment) requireUI() *core.SingleThreadTaskRunner {
	return e.UITaskRunner()
}

func (e *Environment) sharedThread(role threadRole) *core.Thread {
	e.mu.Lock()
	defer e.mu.Unlock()
	th, ok := e.shared[role]
	if !ok {
		th = e.newThreadLocked(role.String())
		e.shared[role] = th
	}
	return th
}

// acquireThread hands out a separate thread for role, reusing an idle one
// when allowed.
func (e *Environment) acquireThread(role threadRole, reuse bool) *core.Thread {
	e.mu.Lock()
	defer e.mu.Unlock()

	var th *core.Thread
	if pool := e.idle[role]; reuse && len(pool) > 0 {
		th = pool[len(pool)-1]
		e.idle[role] = pool[:len(pool)-1]
	} else {
		e.seq[role]++
		th = e.newThreadLocked(role.String() + "-" + strconv.Itoa(e.seq[role]))
	}
	e.leased[th] = struct{}{}
	return th
}

// releaseThread returns a separate thread to the idle pool, or joins it.
func (e *Environment) releaseThread(role threadRole, th *core.Thread, reuse bool) {
	e.mu.Lock()
	if _, ok := e.leased[th]; !ok {
		e.mu.Unlock()
		return
	}
	delete(e.leased, th)
	if reuse && !e.shutdown {
		e.idle[role] = append(e.idle[role], th)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	th.Join()
}

func (e *Environment) newThreadLocked(name string) *core.Thread {
	return core.NewThread(e.registry, &core.LoopConfig{
		Name:         name,
		PanicHandler: e.cfg.PanicHandler,
		Metrics:      e.cfg.Metrics,
		Logger:       e.cfg.Logger,
	})
}
