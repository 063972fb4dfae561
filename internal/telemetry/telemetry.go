package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
)

// Metric is an aggregated series.
type Metric struct {
	Name   string            `json:"name"`
	Type   MetricType        `json:"type"`
	Value  float64           `json:"value"`
	Count  int64             `json:"count"`
	Labels map[string]string `json:"labels"`
	Unit   string            `json:"unit,omitempty"`
}

// Collector aggregates API and polling metrics for the life of one command.
// A nil *Collector is valid and records nothing.
type Collector struct {
	mu      sync.Mutex
	enabled bool
	series  map[string]*Metric
}

// NewCollector creates a new telemetry collector
func NewCollector(enabled bool) *Collector {
	return &Collector{enabled: enabled, series: map[string]*Metric{}}
}

// Counter adds value to a counter series.
func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.add(name, Counter, value, labels, "")
}

// Timer adds a duration, in milliseconds, to a timer series.
func (c *Collector) Timer(name string, d time.Duration, labels map[string]string) {
	c.add(name, Timer, float64(d.Milliseconds()), labels, "ms")
}

func (c *Collector) add(name string, typ MetricType, value float64, labels map[string]string, unit string) {
	if c == nil || !c.enabled {
		return
	}
	key := seriesKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.series[key]
	if !ok {
		l := make(map[string]string, len(labels))
		for k, v := range labels {
			l[k] = v
		}
		m = &Metric{Name: name, Type: typ, Labels: l, Unit: unit}
		c.series[key] = m
	}
	m.Value += value
	m.Count++
}

// Metrics returns a sorted copy of all series.
func (c *Collector) Metrics() []Metric {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.series))
	for k := range c.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, *c.series[k])
	}
	return out
}

// Flush logs every series at debug level and resets the collector.
func (c *Collector) Flush() {
	if c == nil || !c.enabled {
		return
	}
	metrics := c.Metrics()
	c.mu.Lock()
	c.series = map[string]*Metric{}
	c.mu.Unlock()

	for _, m := range metrics {
		ev := log.Debug().
			Str("name", m.Name).
			Str("type", string(m.Type)).
			Float64("value", m.Value).
			Int64("count", m.Count)
		if m.Unit != "" {
			ev = ev.Str("unit", m.Unit)
		}
		ev.Dict("labels", labelsDict(m.Labels)).Msg("telemetry_metric")
	}
}

func labelsDict(labels map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range labels {
		d = d.Str(k, v)
	}
	return d
}

func seriesKey(name string, labels map[string]string) string {
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}
