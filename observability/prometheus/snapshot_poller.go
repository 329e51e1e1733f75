package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-render-pipeline/core"
	"github.com/Swind/go-render-pipeline/shell"
	prom "github.com/prometheus/client_golang/prometheus"
)

// LoopSnapshotProvider provides current loop stats snapshots.
type LoopSnapshotProvider interface {
	Stats() core.LoopStats
}

// UIQueueSnapshotProvider provides current UI operation queue snapshots.
type UIQueueSnapshotProvider interface {
	Stats() shell.UIQueueStats
}

// LoopSource lists loops to poll; it is called on every collection so loops
// created later are picked up. (*shell.Environment).Loops satisfies it.
type LoopSource func() []*core.MessageLoop

// SnapshotPoller periodically exports loop and UI queue Stats() snapshots into
// Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	loopsMu sync.RWMutex
	loops   map[string]LoopSnapshotProvider
	sources []LoopSource

	queuesMu sync.RWMutex
	queues   map[string]UIQueueSnapshotProvider

	loopPending  *prom.GaugeVec
	loopExecuted *prom.GaugeVec
	loopRejected *prom.GaugeVec
	loopMerged   *prom.GaugeVec
	loopOwns     *prom.GaugeVec
	loopClosed   *prom.GaugeVec

	queuePending  *prom.GaugeVec
	queueReady    *prom.GaugeVec
	queueExecuted *prom.GaugeVec
	queueDropped  *prom.GaugeVec
	queueAsync    *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "renderpipeline",
			Name:      name,
			Help:      help,
		}, labels)
	}
	p := &SnapshotPoller{
		interval:      interval,
		loops:         make(map[string]LoopSnapshotProvider),
		queues:        make(map[string]UIQueueSnapshotProvider),
		loopPending:   gauge("loop_pending", "Pending tasks per loop queue.", "loop"),
		loopExecuted:  gauge("loop_executed_total", "Loop executed task count snapshot.", "loop"),
		loopRejected:  gauge("loop_rejected_total", "Loop rejected post count snapshot.", "loop"),
		loopMerged:    gauge("loop_merged", "Loop queue merged into another (1=subsumed, 0=own thread).", "loop"),
		loopOwns:      gauge("loop_owns", "Queues merged into this loop.", "loop"),
		loopClosed:    gauge("loop_closed", "Loop terminated state (1=terminated, 0=running).", "loop"),
		queuePending:  gauge("ui_queue_pending", "UI operations waiting for a pipeline gate.", "queue"),
		queueReady:    gauge("ui_queue_ready", "UI operations eligible to run.", "queue"),
		queueExecuted: gauge("ui_queue_executed_total", "UI operations executed snapshot.", "queue"),
		queueDropped:  gauge("ui_queue_dropped_total", "UI operations dropped after destroy.", "queue"),
		queueAsync:    gauge("ui_queue_async", "UI queue gated by pipeline status (1=async, 0=sync).", "queue"),
	}

	for _, target := range []**prom.GaugeVec{
		&p.loopPending, &p.loopExecuted, &p.loopRejected, &p.loopMerged, &p.loopOwns, &p.loopClosed,
		&p.queuePending, &p.queueReady, &p.queueExecuted, &p.queueDropped, &p.queueAsync,
	} {
		registered, err := registerCollector(reg, *target)
		if err != nil {
			return nil, err
		}
		*target = registered
	}
	return p, nil
}

// AddLoop adds or replaces a loop snapshot provider by name.
func (p *SnapshotPoller) AddLoop(name string, provider LoopSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "loop")
	p.loopsMu.Lock()
	p.loops[name] = provider
	p.loopsMu.Unlock()
}

// AddLoopSource polls every loop src returns, labelled by loop name.
func (p *SnapshotPoller) AddLoopSource(src LoopSource) {
	if p == nil || src == nil {
		return
	}
	p.loopsMu.Lock()
	p.sources = append(p.sources, src)
	p.loopsMu.Unlock()
}

// AddUIQueue adds or replaces a UI queue snapshot provider by name.
func (p *SnapshotPoller) AddUIQueue(name string, provider UIQueueSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "queue")
	p.queuesMu.Lock()
	p.queues[name] = provider
	p.queuesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

// CollectOnce takes one snapshot of every provider.
func (p *SnapshotPoller) CollectOnce() {
	if p == nil {
		return
	}
	p.collectOnce()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.loopsMu.RLock()
	for name, provider := range p.loops {
		p.setLoop(name, provider.Stats())
	}
	for _, src := range p.sources {
		for _, l := range src() {
			stats := l.Stats()
			p.setLoop(normalizeLabel(stats.Name, "loop"), stats)
		}
	}
	p.loopsMu.RUnlock()

	p.queuesMu.RLock()
	for name, provider := range p.queues {
		stats := provider.Stats()
		p.queuePending.WithLabelValues(name).Set(float64(stats.Pending))
		p.queueReady.WithLabelValues(name).Set(float64(stats.Ready))
		p.queueExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		p.queueDropped.WithLabelValues(name).Set(float64(stats.Dropped))
		p.queueAsync.WithLabelValues(name).Set(boolGauge(stats.Async))
	}
	p.queuesMu.RUnlock()
}

func (p *SnapshotPoller) setLoop(name string, stats core.LoopStats) {
	p.loopPending.WithLabelValues(name).Set(float64(stats.Pending))
	p.loopExecuted.WithLabelValues(name).Set(float64(stats.Executed))
	p.loopRejected.WithLabelValues(name).Set(float64(stats.Rejected))
	p.loopMerged.WithLabelValues(name).Set(boolGauge(stats.SubsumedBy != core.UnmergedTaskQueueID))
	p.loopOwns.WithLabelValues(name).Set(float64(stats.Owns))
	p.loopClosed.WithLabelValues(name).Set(boolGauge(stats.Terminated))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
