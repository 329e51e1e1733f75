package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Swind/go-render-pipeline/core"
	"github.com/Swind/go-render-pipeline/internal/sim"
	"github.com/Swind/go-render-pipeline/internal/simconfig"
	promexp "github.com/Swind/go-render-pipeline/observability/prometheus"
	"github.com/Swind/go-render-pipeline/shell"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Render frames through a simulated pipeline",

		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML config file"},
			&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Usage: "all_on_ui, part_on_layout, most_on_tasm or multi_threads"},
			&cli.IntFlag{Name: "frames", Usage: "Frames to render"},
			&cli.IntFlag{Name: "ops", Usage: "UI operations produced per frame"},
			&cli.IntFlag{Name: "transfer-at", Usage: "Frame at which the UI operation queue switches strategy"},
			&cli.StringFlag{Name: "transfer-to", Usage: "Strategy the queue switches to"},
			&cli.IntFlag{Name: "sync-every", Usage: "Force every n-th frame onto the UI thread"},
			&cli.IntFlag{Name: "merge-frames", Usage: "Raster lease taken on synchronous frames"},
			&cli.DurationFlag{Name: "frame-period", Usage: "VSync period"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address"},
		},

		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prom.NewRegistry()
	exporter, err := promexp.NewMetricsExporter(cfg.Metrics.Namespace, reg, promexp.ExporterOptions{})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to create metrics exporter: %v", err), 1)
	}
	poller, err := promexp.NewSnapshotPoller(reg, cfg.Metrics.PollInterval.Duration)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to create snapshot poller: %v", err), 1)
	}

	s, err := sim.New(sim.Options{
		Config:  cfg,
		Metrics: exporter,
		Logger:  core.GetLogger(),
		OnStart: func(env *shell.Environment, queue *shell.DynamicUIOperationQueue) {
			poller.AddLoopSource(env.Loops)
			poller.AddUIQueue(queue.Name(), queue)
			poller.Start(ctx)
		},
	})
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer poller.Stop()

	var report sim.Report
	g, gctx := errgroup.WithContext(ctx)
	simDone := make(chan struct{})
	g.Go(func() error {
		defer close(simDone)
		var runErr error
		report, runErr = s.Run(gctx)
		poller.CollectOnce()
		return runErr
	})
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			core.GetLogger().Info("serving metrics", core.F("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-simDone:
			case <-gctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	printReport(c, report)
	return nil
}

// loadConfig reads --config and applies the flags that were set on top.
func loadConfig(c *cli.Context) (simconfig.Config, error) {
	cfg, err := simconfig.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("strategy") {
		if cfg.Strategy, err = shell.ParseThreadStrategy(c.String("strategy")); err != nil {
			return cfg, err
		}
	}
	if c.IsSet("transfer-to") {
		if cfg.TransferTo, err = shell.ParseThreadStrategy(c.String("transfer-to")); err != nil {
			return cfg, err
		}
	}
	if c.IsSet("frames") {
		cfg.Frames = c.Int("frames")
	}
	if c.IsSet("ops") {
		cfg.OpsPerFrame = c.Int("ops")
	}
	if c.IsSet("transfer-at") {
		cfg.TransferAt = c.Int("transfer-at")
	}
	if c.IsSet("sync-every") {
		cfg.SyncEvery = c.Int("sync-every")
	}
	if c.IsSet("merge-frames") {
		cfg.MergeFrames = c.Int("merge-frames")
	}
	if c.IsSet("frame-period") {
		cfg.FramePeriod = simconfig.Duration{Duration: c.Duration("frame-period")}
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}
	return cfg, cfg.Validate()
}

func metricsMux(reg *prom.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func printReport(c *cli.Context, r sim.Report) {
	w := c.App.Writer
	fmt.Fprintf(w, "✓ Rendered %d frames in %s (final strategy %s)\n", r.Frames, r.Elapsed.Round(time.Millisecond), r.FinalStrategy)
	fmt.Fprintf(w, "  ui operations   produced=%d executed=%d tasm_batches=%d\n", r.OpsProduced, r.OpsExecuted, r.TASMBatches)
	fmt.Fprintf(w, "  thread modes    sync_frames=%d merged_frames=%d transfers=%d\n", r.SyncFrames, r.MergedFrames, r.Transfers)
	fmt.Fprintf(w, "  vsync           vsyncs=%d fallbacks=%d forced_flushes=%d\n", r.VSyncs, r.VSyncFallbacks, r.ForcedFlushes)
}
