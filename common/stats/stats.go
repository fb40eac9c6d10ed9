// Package stats provides a minimal set of instrument interfaces backed by
// go-metrics. We wrap go-metrics so callers get a StatsReceiver that can be
// passed down a call tree and scoped at each level, and so the rest of the
// code never imports the metrics library directly.
package stats

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

// Stats users can either reference this global receiver or construct their own.
var CurrentStatsReceiver StatsReceiver = NilStatsReceiver()

// StatsRegistry is the subset of the go-metrics registry we rely on.
type StatsRegistry interface {
	// Gets an existing metric or registers the given one.
	GetOrRegister(string, interface{}) interface{}

	// Unregister the metric with the given name.
	Unregister(string)

	// Call the given function for each registered metric.
	Each(func(string, interface{}))
}

// StatsReceiver is a registry wrapper scoped to a name prefix. Hierarchical
// names use a '/' separator; slashes in name elements are scrubbed rather
// than rejected since some names are dynamically generated.
type StatsReceiver interface {
	// Scope returns a receiver that namespaces all instruments with the
	// given elements: stat.Scope("a", "b").Counter("c") == stat.Counter("a", "b", "c").
	Scope(scope ...string) StatsReceiver

	// Counter provides an event counter.
	Counter(name ...string) Counter

	// Gauge holds an int64 value that can be set arbitrarily.
	Gauge(name ...string) Gauge

	// GaugeFloat holds a float64 value that can be set arbitrarily.
	GaugeFloat(name ...string) GaugeFloat

	// Histogram samples int64 values over time.
	Histogram(name ...string) Histogram

	// Latency records elapsed times in a histogram, in nanoseconds.
	Latency(name ...string) Latency

	// Remove drops the named instrument if it exists.
	Remove(name ...string)

	// Render marshals the registry to JSON.
	Render() []byte
}

type Counter interface {
	Inc(int64)
	Count() int64
	Clear()
}

type Gauge interface {
	Update(int64)
	Value() int64
}

type GaugeFloat interface {
	Update(float64)
	Value() float64
}

type Histogram interface {
	Update(int64)
	Count() int64
	Max() int64
	Mean() float64
}

// Latency measures callsite latency: Time() marks the start, Stop() records
// the elapsed duration into the underlying histogram.
type Latency interface {
	Time() Latency
	Stop()
	Count() int64
	Mean() float64
}

// DefaultStatsReceiver returns a receiver over a fresh go-metrics registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

type defaultStatsReceiver struct {
	registry StatsRegistry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{s.registry, s.scoped(scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return s.registry.GetOrRegister(s.scopedName(name...), metrics.NewCounter).(Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return s.registry.GetOrRegister(s.scopedName(name...), metrics.NewGauge).(metrics.Gauge)
}

func (s *defaultStatsReceiver) GaugeFloat(name ...string) GaugeFloat {
	return s.registry.GetOrRegister(s.scopedName(name...), metrics.NewGaugeFloat64).(metrics.GaugeFloat64)
}

func (s *defaultStatsReceiver) Histogram(name ...string) Histogram {
	newHist := func() metrics.Histogram {
		return metrics.NewHistogram(metrics.NewUniformSample(1028))
	}
	return s.registry.GetOrRegister(s.scopedName(name...), newHist).(metrics.Histogram)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	return &latency{hist: s.Histogram(name...), time: Time}
}

func (s *defaultStatsReceiver) Remove(name ...string) {
	s.registry.Unregister(s.scopedName(name...))
}

func (s *defaultStatsReceiver) Render() []byte {
	rendered := map[string]interface{}{}
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			rendered[name] = m.Count()
		case metrics.Gauge:
			rendered[name] = m.Value()
		case metrics.GaugeFloat64:
			rendered[name] = m.Value()
		case metrics.Histogram:
			rendered[name] = map[string]interface{}{
				"count": m.Count(), "max": m.Max(), "mean": m.Mean(),
			}
		}
	})
	bytes, err := json.Marshal(rendered)
	if err != nil {
		panic("StatsRegistry bug, cannot be marshaled")
	}
	return bytes
}

// Append to the existing scope and scrub slashes.
func (s *defaultStatsReceiver) scoped(scope ...string) []string {
	out := append([]string{}, s.scope...)
	for _, sc := range scope {
		out = append(out, strings.Replace(sc, "/", "_SLASH_", -1))
	}
	return out
}

func (s *defaultStatsReceiver) scopedName(scope ...string) string {
	return strings.Join(s.scoped(scope...), "/")
}

type latency struct {
	hist  Histogram
	time  StatsTime
	start time.Time
}

func (l *latency) Time() Latency {
	l.start = l.time.Now()
	return l
}

func (l *latency) Stop()         { l.hist.Update(int64(l.time.Since(l.start))) }
func (l *latency) Count() int64  { return l.hist.Count() }
func (l *latency) Mean() float64 { return l.hist.Mean() }

// NilStatsReceiver ignores all stats operations.
func NilStatsReceiver(scope ...string) StatsReceiver {
	return &nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter      { return metrics.NilCounter{} }
func (s *nilStatsReceiver) Gauge(name ...string) Gauge          { return metrics.NilGauge{} }
func (s *nilStatsReceiver) GaugeFloat(name ...string) GaugeFloat {
	return metrics.NilGaugeFloat64{}
}
func (s *nilStatsReceiver) Histogram(name ...string) Histogram { return metrics.NilHistogram{} }
func (s *nilStatsReceiver) Latency(name ...string) Latency {
	return &latency{hist: metrics.NilHistogram{}, time: Time}
}
func (s *nilStatsReceiver) Remove(name ...string) {}
func (s *nilStatsReceiver) Render() []byte        { return []byte("{}") }
