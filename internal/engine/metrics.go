package engine

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow is the number of recent samples kept for the rolling average.
const latencyWindow = 20

// Latency thresholds. Consistently slow confirmations mean the RPC node is
// behind and fills are landing at worse prices than quoted.
const (
	LatencyWarn     = 500 * time.Millisecond
	LatencyCritical = 1000 * time.Millisecond
	// failoverAfter is how many consecutive critical samples trigger an
	// endpoint failover recommendation.
	failoverAfter = 3
)

// ExecutionStats is a snapshot of the coordinator's lifetime counters.
type ExecutionStats struct {
	Total   int64
	Success int64
	Failed  int64
	Retries int64
}

// executionCounters accumulates ExecutionStats under a lock; completions are
// recorded on the scheduler goroutine but snapshots can come from anywhere.
type executionCounters struct {
	mu    sync.Mutex
	stats ExecutionStats
}

func (c *executionCounters) record(success bool, attempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Total++
	if success {
		c.stats.Success++
	} else {
		c.stats.Failed++
	}
	if attempts > 1 {
		c.stats.Retries += int64(attempts - 1)
	}
}

func (c *executionCounters) snapshot() ExecutionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// LatencyStats is a snapshot of recent execution latency.
type LatencyStats struct {
	Count               int
	Average             time.Duration
	P95                 time.Duration
	Max                 time.Duration
	ConsecutiveCritical int
}

// LatencyMonitor tracks execution latency over a rolling window and decides
// when the RPC endpoint should be abandoned.
type LatencyMonitor struct {
	mu                  sync.Mutex
	samples             []time.Duration
	next                int
	filled              bool
	consecutiveCritical int
}

// NewLatencyMonitor creates an empty monitor.
func NewLatencyMonitor() *LatencyMonitor {
	return &LatencyMonitor{
		samples: make([]time.Duration, latencyWindow),
	}
}

// Observe records one execution latency sample. It returns true when the
// sample is the third consecutive critical one, i.e. the caller should fail
// over to another RPC endpoint. A sample below the warning threshold resets
// the consecutive count.
func (m *LatencyMonitor) Observe(latency time.Duration) (failover bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[m.next] = latency
	m.next = (m.next + 1) % latencyWindow
	if m.next == 0 {
		m.filled = true
	}

	switch {
	case latency >= LatencyCritical:
		m.consecutiveCritical++
	case latency < LatencyWarn:
		m.consecutiveCritical = 0
	}
	// Samples in the warn band neither extend nor reset the streak.

	if m.consecutiveCritical == failoverAfter {
		return true
	}
	return false
}

// Stats returns a snapshot over the current window.
func (m *LatencyMonitor) Stats() LatencyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.filled {
		n = latencyWindow
	}

	stats := LatencyStats{Count: n, ConsecutiveCritical: m.consecutiveCritical}
	if n == 0 {
		return stats
	}

	var sum time.Duration
	sorted := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		s := m.samples[i]
		sum += s
		if s > stats.Max {
			stats.Max = s
		}
		sorted[i] = s
	}
	stats.Average = sum / time.Duration(n)

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (n*95+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	stats.P95 = sorted[idx]
	return stats
}
