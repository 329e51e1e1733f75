package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-render-pipeline/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64

	// FlushSizeBuckets bucket the number of UI operations per flush.
	FlushSizeBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
	uiOpsFlushedTotal   *prom.CounterVec
	uiFlushSize         *prom.HistogramVec
	vsyncFallbackTotal  *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "renderpipeline"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	sizeBuckets := opts.FlushSizeBuckets
	if len(sizeBuckets) == 0 {
		sizeBuckets = prom.ExponentialBuckets(1, 2, 10)
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"loop"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"loop"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"loop", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Tasks left pending after the last flush.",
	}, []string{"loop"})
	uiOpsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "ui_operations_flushed_total",
		Help:      "Total number of UI operations executed.",
	}, []string{"queue"})
	flushSizeVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "ui_flush_size",
		Help:      "UI operations executed per flush.",
		Buckets:   sizeBuckets,
	}, []string{"queue"})
	fallbackVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "vsync_fallback_total",
		Help:      "Wake-ups that fell back to the timer instead of vsync.",
	}, []string{"loop"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if uiOpsVec, err = registerCollector(reg, uiOpsVec); err != nil {
		return nil, err
	}
	if flushSizeVec, err = registerCollector(reg, flushSizeVec); err != nil {
		return nil, err
	}
	if fallbackVec, err = registerCollector(reg, fallbackVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          queueDepthVec,
		uiOpsFlushedTotal:   uiOpsVec,
		uiFlushSize:         flushSizeVec,
		vsyncFallbackTotal:  fallbackVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(loopName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(loopName, "unknown")).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(loopName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(loopName, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(loopName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(loopName, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(loopName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(loopName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordUIOperationsFlushed records one UI queue flush.
func (m *MetricsExporter) RecordUIOperationsFlushed(queueName string, count int) {
	if m == nil {
		return
	}
	queue := normalizeLabel(queueName, "unknown")
	m.uiOpsFlushedTotal.WithLabelValues(queue).Add(float64(count))
	m.uiFlushSize.WithLabelValues(queue).Observe(float64(count))
}

// RecordVSyncFallback records a timer fallback of a vsync-driven loop.
func (m *MetricsExporter) RecordVSyncFallback(loopName string) {
	if m == nil {
		return
	}
	m.vsyncFallbackTotal.WithLabelValues(normalizeLabel(loopName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
