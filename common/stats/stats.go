// Package stats provides a minimal metrics interface backed by
// go-metrics. A StatsReceiver is passed down the call tree and scoped at
// each level, so components never share registry key strings directly.
package stats

import (
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

// StatsReceiver is the registry handle handed to components.
type StatsReceiver interface {
	// Scope returns a receiver that namespaces all instruments with the
	// given scope elements:
	//
	//   stat.Scope("reconciler").Counter("polls")  // reconciler/polls
	Scope(scope ...string) StatsReceiver

	// Counter provides an event counter.
	Counter(name ...string) Counter

	// Gauge holds an int64 value that can be set arbitrarily.
	Gauge(name ...string) Gauge

	// Latency records call durations as a histogram.
	Latency(name ...string) Latency
}

type Counter interface {
	Inc(int64)
	Count() int64
}

type Gauge interface {
	Update(int64)
	Value() int64
}

type Latency interface {
	RecordDuration(time.Duration)
	Mean() float64
}

// DefaultStatsReceiver returns a receiver over a fresh registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

// NilStatsReceiver returns a receiver that discards everything, for
// callers that don't care.
func NilStatsReceiver() StatsReceiver {
	return nilStatsReceiver{}
}

type defaultStatsReceiver struct {
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: append(append([]string{}, s.scope...), scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return s.registry.GetOrRegister(s.scoped(name), metrics.NewCounter).(metrics.Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	g := s.registry.GetOrRegister(s.scoped(name), metrics.NewGauge).(metrics.Gauge)
	return &gauge{g}
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	h := s.registry.GetOrRegister(s.scoped(name), func() metrics.Histogram {
		return metrics.NewHistogram(metrics.NewExpDecaySample(1028, 0.015))
	}).(metrics.Histogram)
	return &latency{h}
}

// Hierarchical names use '/' as the path separator, so strip it from
// dynamically generated elements rather than fail.
func (s *defaultStatsReceiver) scoped(name []string) string {
	elems := append(append([]string{}, s.scope...), name...)
	for i, e := range elems {
		elems[i] = strings.Replace(e, "/", "_SLASH_", -1)
	}
	return strings.Join(elems, "/")
}

type gauge struct {
	g metrics.Gauge
}

func (g *gauge) Update(v int64) { g.g.Update(v) }
func (g *gauge) Value() int64   { return g.g.Value() }

type latency struct {
	h metrics.Histogram
}

func (l *latency) RecordDuration(d time.Duration) { l.h.Update(int64(d)) }
func (l *latency) Mean() float64                  { return l.h.Mean() }

type nilStatsReceiver struct{}

func (nilStatsReceiver) Scope(...string) StatsReceiver { return nilStatsReceiver{} }
func (nilStatsReceiver) Counter(...string) Counter     { return nilCounter{} }
func (nilStatsReceiver) Gauge(...string) Gauge         { return nilGauge{} }
func (nilStatsReceiver) Latency(...string) Latency     { return nilLatency{} }

type nilCounter struct{}

func (nilCounter) Inc(int64)    {}
func (nilCounter) Count() int64 { return 0 }

type nilGauge struct{}

func (nilGauge) Update(int64) {}
func (nilGauge) Value() int64 { return 0 }

type nilLatency struct{}

func (nilLatency) RecordDuration(time.Duration) {}
func (nilLatency) Mean() float64                { return 0 }
