// Package sim drives a simulated rendering pipeline: JS, TASM and Layout
// produce UI operations every frame and the UI thread applies them on vsync.
package sim

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Swind/go-render-pipeline/core"
	"github.com/Swind/go-render-pipeline/internal/simconfig"
	"github.com/Swind/go-render-pipeline/shell"
	"golang.org/x/sync/errgroup"
)

// Options configures a Simulator.
type Options struct {
	Config simconfig.Config

	// Registry defaults to a fresh registry per run.
	Registry *core.MessageLoopTaskQueues
	Metrics  core.Metrics
	Logger   core.Logger

	// OnStart is called once the pipeline is built, before the first frame.
	OnStart func(env *shell.Environment, queue *shell.DynamicUIOperationQueue)
}

// Report summarizes a run.
type Report struct {
	Frames         int
	OpsProduced    int64
	OpsExecuted    int64
	SyncFrames     int
	MergedFrames   int
	ForcedFlushes  int
	Transfers      int
	TASMBatches    int64
	VSyncs         int64
	VSyncFallbacks int64
	FinalStrategy  shell.ThreadStrategyForRendering
	Elapsed        time.Duration
}

// Simulator runs frames over one pipeline.
type Simulator struct {
	cfg    simconfig.Config
	opts   Options
	logger core.Logger

	env     *shell.Environment
	m       *shell.TaskRunnerManufactor
	queue   *shell.DynamicUIOperationQueue
	tasmOps *shell.TASMOperationQueue
	manager *shell.ThreadModeManager
	merger  *core.RasterThreadMerger
	source  *core.TimerVSyncSource
	vsync   *core.MessageLoopVSync

	produced atomic.Int64
	executed atomic.Int64
	report   Report
}

// New validates opts and returns a simulator. Nothing starts until Run.
func New(opts Options) (*Simulator, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}
	if opts.Registry == nil {
		opts.Registry = core.NewMessageLoopTaskQueues()
	}
	if opts.Metrics == nil {
		opts.Metrics = &core.NilMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = core.PackageLogger()
	}
	return &Simulator{cfg: opts.Config, opts: opts, logger: opts.Logger}, nil
}

// Run renders the configured frames. It stops early with ctx.Err() when ctx
// ends between frames.
func (s *Simulator) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	s.setup()
	defer s.teardown()

	if s.opts.OnStart != nil {
		s.opts.OnStart(s.env, s.queue)
	}

	var runErr error
	for frame := 1; frame <= s.cfg.Frames; frame++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := s.frame(ctx, frame); err != nil {
			runErr = fmt.Errorf("frame %d: %w", frame, err)
			break
		}
		s.report.Frames++
	}

	s.report.OpsProduced = s.produced.Load()
	s.report.OpsExecuted = s.executed.Load()
	s.report.VSyncs = s.vsync.VSyncs()
	s.report.VSyncFallbacks = s.vsync.Fallbacks()
	s.report.TASMBatches = s.tasmOps.Batches()
	s.report.FinalStrategy = s.queue.Strategy()
	s.report.Elapsed = time.Since(start)

	s.logger.Info("simulation finished",
		core.F("frames", s.report.Frames),
		core.F("produced", s.report.OpsProduced),
		core.F("executed", s.report.OpsExecuted),
		core.F("sync_frames", s.report.SyncFrames),
		core.F("merged_frames", s.report.MergedFrames),
		core.F("forced_flushes", s.report.ForcedFlushes),
		core.F("tasm_batches", s.report.TASMBatches),
		core.F("vsyncs", s.report.VSyncs),
		core.F("elapsed", s.report.Elapsed.String()))
	return s.report, runErr
}

func (s *Simulator) setup() {
	s.env = shell.NewEnvironment(&shell.EnvironmentConfig{
		Registry: s.opts.Registry,
		Metrics:  s.opts.Metrics,
		Logger:   s.logger,
	})
	ui := s.env.InitUIThread()

	s.source = core.NewTimerVSyncSource(s.cfg.FramePeriod.Duration)
	monitor := core.NewVSyncMonitor(s.source)
	monitor.BindToRunner(ui)
	s.vsync = core.AttachVSync(s.env.UILoop(), monitor, &core.VSyncConfig{
		Proportion: s.cfg.VSyncProportion,
		Timeout:    s.cfg.VSyncTimeout.Duration,
		Metrics:    s.opts.Metrics,
		Logger:     s.logger,
	})

	s.m = s.env.NewTaskRunnerManufactor(s.cfg.ManufactorOptions())
	s.queue = shell.NewDynamicUIOperationQueue(s.cfg.Strategy, ui, &shell.QueueOptions{
		Name:         "sim",
		Metrics:      s.opts.Metrics,
		Logger:       s.logger,
		VSyncMonitor: monitor,
	})
	s.tasmOps = shell.NewTASMOperationQueue(s.logger)
	s.manager = shell.NewThreadModeManager(ui, s.m.GetTASMTaskRunner(), s.queue)

	layout := s.m.GetLayoutTaskRunner()
	if !ui.IsSameThread(layout) {
		s.merger = core.NewRasterThreadMerger(s.opts.Registry, ui.GetTaskQueueID(), layout.GetTaskQueueID())
	}
}

func (s *Simulator) teardown() {
	if s.merger != nil {
		s.merger.UnMergeNow()
	}
	s.queue.Destroy()
	s.source.Stop()
	s.m.Release()
	s.env.Shutdown()
}

func (s *Simulator) frame(ctx context.Context, n int) error {
	if s.cfg.TransferAt > 0 && n == s.cfg.TransferAt {
		s.queue.Transfer(s.cfg.TransferTo)
		s.report.Transfers++
		s.logger.Info("ui operation queue transferred",
			core.F("frame", n),
			core.F("strategy", s.cfg.TransferTo.String()))
	}

	var err error
	if s.cfg.SyncEvery > 0 && n%s.cfg.SyncEvery == 0 {
		s.manager.RunSynchronously(func() { err = s.producePass(ctx) })
		s.report.SyncFrames++
		if s.merger != nil && s.cfg.MergeFrames > 0 {
			s.merger.MergeWithLease(s.cfg.MergeFrames)
		}
	} else {
		err = s.producePass(ctx)
	}
	if err != nil {
		return err
	}

	if !s.waitApplied(ctx) {
		if err := s.m.GetUITaskRunner().PostSyncTaskWithContext(ctx, func(context.Context) {
			s.queue.ForceFlush()
		}); err != nil {
			return err
		}
		s.report.ForcedFlushes++
	}

	if s.merger != nil {
		if s.merger.IsMerged() {
			s.report.MergedFrames++
		}
		if status := s.merger.DecrementLease(); status == core.UnmergedNow {
			s.logger.Debug("raster lease expired", core.F("frame", n))
		}
	}
	return nil
}

// producePass runs one pipeline pass. JS hands its operations to TASM while
// TASM produces its own; TASM then applies the JS batch and opens its gate,
// and Layout follows.
func (s *Simulator) producePass(ctx context.Context) error {
	js := s.m.GetJSTaskRunner()
	tasm := s.m.GetTASMTaskRunner()
	layout := s.m.GetLayoutTaskRunner()

	total := s.cfg.OpsPerFrame
	jsOps, tasmOps := total/4, total/2
	layoutOps := total - jsOps - tasmOps

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return js.PostSyncTaskWithContext(gctx, func(context.Context) { s.produceOnJS(jsOps) })
	})
	g.Go(func() error {
		return tasm.PostSyncTaskWithContext(gctx, func(context.Context) { s.enqueue(tasmOps) })
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := tasm.PostSyncTaskWithContext(ctx, func(context.Context) {
		s.tasmOps.Flush()
		s.queue.UpdateStatus(shell.UIOperationStatusTASMFinish)
		s.queue.Flush()
	}); err != nil {
		return err
	}
	return layout.PostSyncTaskWithContext(ctx, func(context.Context) {
		s.enqueue(layoutOps)
		s.queue.UpdateStatus(shell.UIOperationStatusLayoutFinish)
		s.queue.Flush()
	})
}

func (s *Simulator) enqueue(n int) {
	for i := 0; i < n; i++ {
		s.produced.Add(1)
		s.queue.EnqueueUIOperation(func() { s.executed.Add(1) })
	}
}

// produceOnJS queues n operations for TASM, each of which produces one UI
// operation, and closes the batch.
func (s *Simulator) produceOnJS(n int) {
	for i := 0; i < n; i++ {
		s.tasmOps.EnqueueOperation(func() { s.enqueue(1) })
	}
	s.tasmOps.EnqueueTrivialOperation(func() {
		s.logger.Debug("js batch applied on tasm", core.F("ops", n))
	})
	s.tasmOps.AppendPendingTask()
}

// waitApplied waits a few frames for the UI thread to apply everything
// produced so far.
func (s *Simulator) waitApplied(ctx context.Context) bool {
	period := s.cfg.FramePeriod.Duration
	deadline := time.NewTimer(4*period + s.cfg.VSyncTimeout.Duration)
	defer deadline.Stop()
	poll := period / 4
	if poll <= 0 {
		poll = time.Millisecond
	}
	tick := time.NewTicker(poll)
	defer tick.Stop()

	for s.executed.Load() < s.produced.Load() {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
	return true
}
