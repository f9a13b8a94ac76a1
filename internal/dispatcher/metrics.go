package dispatcher

import (
	"sync"
)

// Metrics tracks dispatcher counters
type Metrics struct {
	mu sync.RWMutex

	batches      int64
	received     int64
	filtered     int64
	duplicates   int64
	dispatched   int64
	retried      int64
	deadLettered int64
	malformed    int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordBatch accounts for one processed batch
func (m *Metrics) RecordBatch(r *BatchReport) {
	if m == nil || r == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches++
	m.received += int64(r.Received)
	m.filtered += int64(len(r.Filtered))
	m.duplicates += int64(len(r.Duplicates))
	m.dispatched += int64(len(r.Dispatched))
	m.deadLettered += int64(len(r.DeadLettered))
	if r.Attempts > 1 {
		m.retried += int64(r.Attempts - 1)
	}
}

// IncrementMalformed counts a feed item rejected at decode
func (m *Metrics) IncrementMalformed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformed++
}

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"batches":       m.batches,
		"received":      m.received,
		"filtered":      m.filtered,
		"duplicates":    m.duplicates,
		"dispatched":    m.dispatched,
		"retried":       m.retried,
		"dead_lettered": m.deadLettered,
		"malformed":     m.malformed,
	}
}
