package shell

import (
	"sync"

	"github.com/Swind/go-render-pipeline/core"
)

// ManufactorOptions selects the threads a TaskRunnerManufactor hands out.
type ManufactorOptions struct {
	Strategy ThreadStrategyForRendering

	// SeparateTASMThread gives this instance its own TASM thread instead of
	// the process-wide one.
	SeparateTASMThread bool

	// SeparateLayoutThread gives this instance its own Layout thread.
	SeparateLayoutThread bool

	// EnableThreadPoolReuse returns separate threads to an idle pool on
	// Release so later instances can take them over.
	EnableThreadPoolReuse bool

	// JSGroupKey selects a shared JS thread; empty means the process JS thread.
	JSGroupKey string
}

// TaskRunnerManufactor produces the TASM, Layout, UI and JS runners of one
// rendering pipeline. The runners are fixed for the instance's lifetime.
//
//	| Strategy     | TASM vs UI | Layout vs TASM |
//	|--------------|------------|----------------|
//	| AllOnUI      | same       | same           |
//	| PartOnLayout | different  | different      |
//	| MostOnTASM   | different  | same           |
//	| MultiThreads | different  | different      |
type TaskRunnerManufactor struct {
	env  *Environment
	opts ManufactorOptions

	ui     *core.SingleThreadTaskRunner
	tasm   *core.SingleThreadTaskRunner
	layout *core.SingleThreadTaskRunner
	js     *core.SingleThreadTaskRunner

	ownedTASM   *core.Thread
	ownedLayout *core.Thread
	releaseOnce sync.Once
}

// NewTaskRunnerManufactor builds the runners for opts. It panics with
// ErrUIThreadNotInitialized when InitUIThread has not run, and on an unknown
// strategy.
func (e *Environment) NewTaskRunnerManufactor(opts ManufactorOptions) *TaskRunnerManufactor {
	if !opts.Strategy.IsValid() {
		panic("shell: invalid thread strategy " + opts.Strategy.String())
	}
	m := &TaskRunnerManufactor{
		env:  e,
		opts: opts,
		ui:   e.requireUI(),
	}

	switch opts.Strategy {
	case AllOnUI:
		m.tasm = m.ui
		m.layout = m.ui
	case MostOnTASM:
		m.tasm = m.tasmThread()
		m.layout = m.tasm
	case PartOnLayout, MultiThreads:
		m.tasm = m.tasmThread()
		m.layout = m.layoutThread()
	}
	m.js = e.GetJSRunner(opts.JSGroupKey)

	e.cfg.Logger.Debug("task runner manufactor created",
		core.F("strategy", opts.Strategy.String()),
		core.F("separate_tasm", opts.SeparateTASMThread),
		core.F("separate_layout", opts.SeparateLayoutThread),
		core.F("js_group", opts.JSGroupKey))
	return m
}

func (m *TaskRunnerManufactor) tasmThread() *core.SingleThreadTaskRunner {
	if m.opts.SeparateTASMThread {
		m.ownedTASM = m.env.acquireThread(roleTASM, m.opts.EnableThreadPoolReuse)
		return m.ownedTASM.GetTaskRunner()
	}
	return m.env.sharedThread(roleTASM).GetTaskRunner()
}

func (m *TaskRunnerManufactor) layoutThread() *core.SingleThreadTaskRunner {
	if m.opts.SeparateLayoutThread {
		m.ownedLayout = m.env.acquireThread(roleLayout, m.opts.EnableThreadPoolReuse)
		return m.ownedLayout.GetTaskRunner()
	}
	return m.env.sharedThread(roleLayout).GetTaskRunner()
}

// Strategy returns the strategy chosen at construction.
func (m *TaskRunnerManufactor) Strategy() ThreadStrategyForRendering { return m.opts.Strategy }

// Options returns the construction options.
func (m *TaskRunnerManufactor) Options() ManufactorOptions { return m.opts }

// Environment returns the environment the runners belong to.
func (m *TaskRunnerManufactor) Environment() *Environment { return m.env }

func (m *TaskRunnerManufactor) GetTASMTaskRunner() *core.SingleThreadTaskRunner   { return m.tasm }
func (m *TaskRunnerManufactor) GetLayoutTaskRunner() *core.SingleThreadTaskRunner { return m.layout }
func (m *TaskRunnerManufactor) GetUITaskRunner() *core.SingleThreadTaskRunner     { return m.ui }
func (m *TaskRunnerManufactor) GetJSTaskRunner() *core.SingleThreadTaskRunner     { return m.js }

// Release gives back the separate threads of this instance. Shared threads
// are untouched. Runners stay valid afterwards; posts to a joined thread are
// dropped.
func (m *TaskRunnerManufactor) Release() {
	m.releaseOnce.Do(func() {
		if m.ownedTASM != nil {
			m.env.releaseThread(roleTASM, m.ownedTASM, m.opts.EnableThreadPoolReuse)
		}
		if m.ownedLayout != nil {
			m.env.releaseThread(roleLayout, m.ownedLayout, m.opts.EnableThreadPoolReuse)
		}
	})
}
