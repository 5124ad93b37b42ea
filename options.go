package listpress

import (
	"time"

	"go.uber.org/zap"

	"github.com/discochess/listpress/internal/codec"
	"github.com/discochess/listpress/internal/codec/gzipcodec"
	"github.com/discochess/listpress/internal/objkey"
	"github.com/discochess/listpress/internal/stats"
	"github.com/discochess/listpress/internal/store"
)

// Option configures a Pipeline.
type Option interface {
	apply(*options)
}

// options holds the pipeline configuration.
type options struct {
	store        store.Store
	codec        codec.Codec
	contentTypes []objkey.ContentType
	stats        stats.Collector
	logger       *zap.Logger
	now          func() time.Time
	heapStats    bool
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		codec:  gzipcodec.New(),
		stats:  stats.NewNoop(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithStore sets the storage backend to use.
func WithStore(s store.Store) Option {
	return optionFunc(func(o *options) {
		o.store = s
	})
}

// WithCodec sets the codec canonical objects are stored with.
// If not set, gzip at the default level is used.
func WithCodec(c codec.Codec) Option {
	return optionFunc(func(o *options) {
		o.codec = c
	})
}

// WithContentTypes sets the accepted key prefixes.
// If not set, objkey.DefaultContentTypes are accepted.
func WithContentTypes(types ...objkey.ContentType) Option {
	return optionFunc(func(o *options) {
		o.contentTypes = types
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// WithClock overrides time.Now. The clock drives latency measurement and
// the collision disambiguator.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) {
		o.now = now
	})
}

// WithHeapStats logs heap usage at the end of every invocation and records
// it in the stats.MetricHeapAllocBytes gauge.
// Reading memory statistics briefly stops the world.
func WithHeapStats(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.heapStats = enabled
	})
}
