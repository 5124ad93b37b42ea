// Package logger provides a stats collector that writes metrics to a zap
// logger. It suits the Lambda runtime, where logs are the only sink.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/discochess/listpress/internal/stats"
)

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// Collector logs every observation. Counters also carry their running total
// for the life of the process, so a warm Lambda container reports cumulative
// values without a metrics backend.
type Collector struct {
	logger *zap.Logger
	level  zapcore.Level

	mu     sync.Mutex
	totals map[string]int64
}

// Option configures a Collector.
type Option func(*Collector)

// WithLevel sets the level observations are logged at. Defaults to debug.
func WithLevel(level zapcore.Level) Option {
	return func(c *Collector) { c.level = level }
}

// New creates a collector writing to logger.Named("stats").
// If logger is nil, a no-op logger is used.
func New(logger *zap.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.Named("stats"),
		level:  zapcore.DebugLevel,
		totals: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IncCounter logs the increment and the counter's new total.
func (c *Collector) IncCounter(name string, delta int64) {
	c.mu.Lock()
	c.totals[name] += delta
	total := c.totals[name]
	c.mu.Unlock()

	c.logger.Log(c.level, "counter",
		zap.String("metric", name),
		zap.Int64("delta", delta),
		zap.Int64("total", total),
	)
}

// SetGauge logs a gauge value.
func (c *Collector) SetGauge(name string, value int64) {
	c.logger.Log(c.level, "gauge", zap.String("metric", name), zap.Int64("value", value))
}

// ObserveHistogram logs a histogram observation.
func (c *Collector) ObserveHistogram(name string, value float64) {
	c.logger.Log(c.level, "histogram", zap.String("metric", name), zap.Float64("value", value))
}
