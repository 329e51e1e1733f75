package sim

import (
	"sync/atomic"

	"github.com/Swind/go-render-pipeline/core"
)

type countingMetrics struct {
	core.NilMetrics
	flushed atomic.Int64
}

func (m *countingMetrics) RecordUIOperationsFlushed(queueName string, count int) {
	m.flushed.Add(int64(count))
}

func (m *countingMetrics) Flushed() int64 { return m.flushed.Load() }
