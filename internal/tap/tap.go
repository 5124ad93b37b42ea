// Package tap provides a pass-through reader that counts bytes and line
// breaks and records latency without altering the stream.
package tap

import (
	"bytes"
	"io"
	"time"
)

// Metrics holds the counters collected over one stream.
type Metrics struct {
	// Bytes is the number of bytes read through the tap.
	Bytes uint64
	// Lines is the number of '\n' bytes read through the tap.
	Lines uint64
	// FirstByte is the latency from start to the first non-empty read.
	FirstByte time.Duration
	// Total is the latency from start to end of stream.
	Total time.Duration
}

// Valid reports whether the stream is worth keeping: it must contain at
// least one byte and at least one line break.
func (m Metrics) Valid() bool {
	return m.Bytes > 0 && m.Lines > 0
}

// Throughput returns bytes per second over the total latency.
func (m Metrics) Throughput() float64 {
	if m.Total <= 0 {
		return 0
	}
	return float64(m.Bytes) / m.Total.Seconds()
}

// Reader wraps an io.Reader and accumulates Metrics as data flows through.
// A Reader is not safe for concurrent use.
type Reader struct {
	r       io.Reader
	start   time.Time
	now     func() time.Time
	metrics Metrics
	seen    bool
	done    bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithClock overrides time.Now for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(t *Reader) { t.now = now }
}

// WithStart sets the instant latencies are measured from.
// Defaults to the time NewReader is called.
func WithStart(start time.Time) Option {
	return func(t *Reader) { t.start = start }
}

// NewReader returns a Reader counting everything read from r.
func NewReader(r io.Reader, opts ...Option) *Reader {
	t := &Reader{r: r, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.start.IsZero() {
		t.start = t.now()
	}
	return t
}

// Read implements io.Reader.
func (t *Reader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if !t.seen {
			t.seen = true
			t.metrics.FirstByte = t.now().Sub(t.start)
		}
		t.metrics.Bytes += uint64(n)
		t.metrics.Lines += uint64(bytes.Count(p[:n], []byte{'\n'}))
	}
	if err == io.EOF {
		t.finish()
	}
	return n, err
}

// Metrics returns the counters collected so far. Total is only set once the
// underlying reader has returned io.EOF or Finish was called.
func (t *Reader) Metrics() Metrics {
	return t.metrics
}

// Finish stamps the total latency if the stream has not already ended.
// It returns the final metrics.
func (t *Reader) Finish() Metrics {
	t.finish()
	return t.metrics
}

func (t *Reader) finish() {
	if t.done {
		return
	}
	t.done = true
	t.metrics.Total = t.now().Sub(t.start)
}
