// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package chunked

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus counters for chunk activity, labeled by dataset.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	chunkReads     *prometheus.CounterVec
	chunkWrites    *prometheus.CounterVec
	absentFills    *prometheus.CounterVec
	stageSkips     *prometheus.CounterVec
	bytesStored    *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
}

// NewMetrics registers the chunk counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chunked",
			Name:      name,
			Help:      help,
		}, []string{"dataset"})
	}
	return &Metrics{
		chunkReads:     counter("chunk_reads_total", "Chunks fetched and decoded from storage"),
		chunkWrites:    counter("chunk_writes_total", "Chunks encoded and written to storage"),
		absentFills:    counter("absent_chunk_fills_total", "Reads of never-written chunks served from the fill value"),
		stageSkips:     counter("codec_stage_skips_total", "Codec stages that declined to transform a chunk"),
		bytesStored:    counter("stored_bytes_total", "Encoded chunk bytes written to storage"),
		decodeFailures: counter("decode_failures_total", "Chunks whose stored bytes failed to decode"),
	}
}

func (m *Metrics) chunkRead(dataset string) {
	if m != nil {
		m.chunkReads.WithLabelValues(dataset).Inc()
	}
}

func (m *Metrics) chunkWritten(dataset string, stored int, skipped int) {
	if m != nil {
		m.chunkWrites.WithLabelValues(dataset).Inc()
		m.bytesStored.WithLabelValues(dataset).Add(float64(stored))
		if skipped > 0 {
			m.stageSkips.WithLabelValues(dataset).Add(float64(skipped))
		}
	}
}

func (m *Metrics) absentFill(dataset string) {
	if m != nil {
		m.absentFills.WithLabelValues(dataset).Inc()
	}
}

func (m *Metrics) decodeFailure(dataset string) {
	if m != nil {
		m.decodeFailures.WithLabelValues(dataset).Inc()
	}
}
