package stats

import (
	"testing"
	"time"
)

func TestScopedCountersShareState(t *testing.T) {
	s := DefaultStatsReceiver()
	s.Scope("reconciler").Counter("polls").Inc(2)
	s.Scope("reconciler").Counter("polls").Inc(1)

	if got := s.Scope("reconciler").Counter("polls").Count(); got != 3 {
		t.Errorf("expected scoped counter handles to share state, got %d", got)
	}
	if got := s.Counter("polls").Count(); got != 0 {
		t.Errorf("expected the unscoped counter to be separate, got %d", got)
	}
}

func TestGaugeHoldsLastValue(t *testing.T) {
	s := DefaultStatsReceiver()
	g := s.Gauge("inflight")
	g.Update(7)
	g.Update(4)
	if got := s.Gauge("inflight").Value(); got != 4 {
		t.Errorf("expected last gauge value 4, got %d", got)
	}
}

func TestLatencyRecordsDurations(t *testing.T) {
	s := DefaultStatsReceiver()
	l := s.Latency("pollLatency")
	l.RecordDuration(10 * time.Millisecond)
	l.RecordDuration(30 * time.Millisecond)
	if mean := s.Latency("pollLatency").Mean(); mean != float64(20*time.Millisecond) {
		t.Errorf("expected mean of 20ms, got %v", mean)
	}
}

func TestSlashInNamesDoesNotSplitScopes(t *testing.T) {
	s := DefaultStatsReceiver()
	s.Scope("cluster/c1").Counter("submits").Inc(1)
	if got := s.Scope("cluster").Scope("c1").Counter("submits").Count(); got != 0 {
		t.Errorf("expected a slash-bearing scope element to stay a single element, got %d", got)
	}
	if got := s.Scope("cluster/c1").Counter("submits").Count(); got != 1 {
		t.Errorf("expected the sanitized counter to be addressable, got %d", got)
	}
}

func TestNilStatsReceiverDiscards(t *testing.T) {
	s := NilStatsReceiver()
	c := s.Scope("reconciler").Counter("polls")
	c.Inc(5)
	if got := c.Count(); got != 0 {
		t.Errorf("expected the nil receiver to discard counts, got %d", got)
	}
	g := s.Gauge("inflight")
	g.Update(9)
	if got := g.Value(); got != 0 {
		t.Errorf("expected the nil receiver to discard gauge values, got %d", got)
	}
	l := s.Latency("pollLatency")
	l.RecordDuration(time.Second)
	if got := l.Mean(); got != 0 {
		t.Errorf("expected the nil receiver to discard durations, got %v", got)
	}
}
