package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	searchesServed  atomic.Uint64
	postingsCreated atomic.Uint64
	tradesSettled   atomic.Uint64
	mailsQueued     atomic.Uint64
	throttleHits    atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordSearch records a served search with latency.
func (m *Metrics) RecordSearch(latency time.Duration) {
	m.searchesServed.Add(1)
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordPosting records a created posting.
func (m *Metrics) RecordPosting() {
	m.postingsCreated.Add(1)
}

// RecordTrade records a settled sale (bid win, buyout or commodity buy).
func (m *Metrics) RecordTrade() {
	m.tradesSettled.Add(1)
}

// RecordMail records one queued mail delivery.
func (m *Metrics) RecordMail() {
	m.mailsQueued.Add(1)
}

// RecordThrottleHit records a request rejected by the rate limiter.
func (m *Metrics) RecordThrottleHit() {
	m.throttleHits.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	SearchesServed    uint64
	PostingsCreated   uint64
	TradesSettled     uint64
	MailsQueued       uint64
	ThrottleHits      uint64
	ErrorsTotal       uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		SearchesServed:    m.searchesServed.Load(),
		PostingsCreated:   m.postingsCreated.Load(),
		TradesSettled:     m.tradesSettled.Load(),
		MailsQueued:       m.mailsQueued.Load(),
		ThrottleHits:      m.throttleHits.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.searchesServed.Store(0)
	m.postingsCreated.Store(0)
	m.tradesSettled.Store(0)
	m.mailsQueued.Store(0)
	m.throttleHits.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
}
