package engine

import (
	"testing"
	"time"
)

func TestLatencyMonitorFailoverAfterThreeCritical(t *testing.T) {
	m := NewLatencyMonitor()

	if m.Observe(1100 * time.Millisecond) {
		t.Error("first critical must not trigger failover")
	}
	if m.Observe(1200 * time.Millisecond) {
		t.Error("second critical must not trigger failover")
	}
	if !m.Observe(1500 * time.Millisecond) {
		t.Error("third consecutive critical must trigger failover")
	}
	// A fourth critical does not re-trigger until the streak resets.
	if m.Observe(1600 * time.Millisecond) {
		t.Error("failover must fire once per streak")
	}
}

func TestLatencyMonitorResetBelowWarn(t *testing.T) {
	m := NewLatencyMonitor()
	m.Observe(1100 * time.Millisecond)
	m.Observe(1100 * time.Millisecond)
	m.Observe(100 * time.Millisecond) // healthy sample resets the streak

	if m.Observe(1100 * time.Millisecond) {
		t.Error("streak should have reset, one critical must not trigger")
	}
	stats := m.Stats()
	if stats.ConsecutiveCritical != 1 {
		t.Errorf("consecutive critical = %d, want 1", stats.ConsecutiveCritical)
	}
}

func TestLatencyMonitorWarnBandKeepsStreak(t *testing.T) {
	m := NewLatencyMonitor()
	m.Observe(1100 * time.Millisecond)
	m.Observe(700 * time.Millisecond) // warn band: neither extends nor resets
	m.Observe(1100 * time.Millisecond)
	if !m.Observe(1100 * time.Millisecond) {
		t.Error("third critical in unbroken streak must trigger failover")
	}
}

func TestLatencyMonitorStats(t *testing.T) {
	m := NewLatencyMonitor()
	m.Observe(100 * time.Millisecond)
	m.Observe(300 * time.Millisecond)

	stats := m.Stats()
	if stats.Count != 2 {
		t.Errorf("count = %d, want 2", stats.Count)
	}
	if stats.Average != 200*time.Millisecond {
		t.Errorf("average = %v, want 200ms", stats.Average)
	}
	if stats.Max != 300*time.Millisecond {
		t.Errorf("max = %v, want 300ms", stats.Max)
	}
}

func TestLatencyMonitorP95(t *testing.T) {
	m := NewLatencyMonitor()
	for i := 1; i <= latencyWindow; i++ {
		m.Observe(time.Duration(i) * 10 * time.Millisecond)
	}

	// 20 samples of 10ms..200ms: the 95th percentile is the 19th.
	stats := m.Stats()
	if stats.P95 != 190*time.Millisecond {
		t.Errorf("p95 = %v, want 190ms", stats.P95)
	}
	if stats.Max != 200*time.Millisecond {
		t.Errorf("max = %v, want 200ms", stats.Max)
	}
}

func TestLatencyMonitorRollingWindow(t *testing.T) {
	m := NewLatencyMonitor()
	for i := 0; i < latencyWindow+5; i++ {
		m.Observe(100 * time.Millisecond)
	}
	stats := m.Stats()
	if stats.Count != latencyWindow {
		t.Errorf("count = %d, want window size %d", stats.Count, latencyWindow)
	}
}
