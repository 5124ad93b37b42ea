// Package prometheus provides a Prometheus-based stats collector.
package prometheus

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/discochess/listpress/internal/stats"
)

// LatencyBuckets covers sub-second first-byte latencies up to multi-minute
// transfers of large lists.
var LatencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900}

// Collector implements stats.Collector using Prometheus metrics.
// Metrics are created and registered on first use.
type Collector struct {
	registry prometheus.Registerer
	logger   *zap.Logger

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger registration failures are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// New creates a new Prometheus collector.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer, opts ...Option) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	c := &Collector{
		registry:   registry,
		logger:     zap.NewNop(),
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	counter := getOrCreate(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: stats.Help(name)})
	})
	counter.Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	gauge := getOrCreate(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: stats.Help(name)})
	})
	gauge.Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
func (c *Collector) ObserveHistogram(name string, value float64) {
	histogram := getOrCreate(c, c.histograms, name, func() prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    stats.Help(name),
			Buckets: LatencyBuckets,
		})
	})
	histogram.Observe(value)
}

// getOrCreate returns the metric cached under name, creating and registering
// it if needed. An identical metric already registered elsewhere is reused.
//
// A conflicting registration (same name, different help, type or labels) is
// logged once at error level. The metric is then kept unregistered, so its
// values never reach the registry.
func getOrCreate[M prometheus.Collector](c *Collector, cache map[string]M, name string, create func() M) M {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := cache[name]; ok {
		return m
	}

	m := create()
	if err := c.registry.Register(m); err != nil {
		var (
			are      prometheus.AlreadyRegisteredError
			existing M
			ok       bool
		)
		if errors.As(err, &are) {
			existing, ok = are.ExistingCollector.(M)
		}
		if ok {
			m = existing
		} else {
			c.logger.Error("metric registration failed, values will not be exported",
				zap.String("metric", name),
				zap.Error(err),
			)
		}
	}
	cache[name] = m
	return m
}
