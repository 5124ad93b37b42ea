// Package listpress turns freshly uploaded word lists and rule files into
// canonical compressed objects.
//
// Each invocation takes one object from a bucket, decides from its key
// whether it must be compressed or decompressed and verified, streams it
// through the codec while counting bytes and line breaks of the uncompressed
// data, stores the result under a collision-safe key with descriptive
// metadata, and deletes the original. Nothing buffers a whole object.
//
// Example usage:
//
//	p, err := listpress.New(
//	    listpress.WithStore(s3),
//	    listpress.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	res, err := p.Process(ctx, listpress.ObjectRef{Bucket: "lists", Key: "wordlist/common.txt"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Target.Key) // wordlist/common.gz
package listpress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/discochess/listpress/internal/codec"
	"github.com/discochess/listpress/internal/event"
	"github.com/discochess/listpress/internal/objkey"
	"github.com/discochess/listpress/internal/stats"
	"github.com/discochess/listpress/internal/store"
	"github.com/discochess/listpress/internal/tap"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrUnsupportedContentType indicates the key does not name an accepted
	// content type.
	ErrUnsupportedContentType = errors.New("listpress: unsupported content type")

	// ErrTransformFailed indicates the stream could not be read, decoded,
	// encoded or uploaded.
	ErrTransformFailed = errors.New("listpress: transform failed")

	// ErrInvalidResult indicates the stream was empty or had no line break.
	ErrInvalidResult = errors.New("listpress: file has no line breaks or a length of 0")

	// ErrMetadataFailed indicates the metadata update on the target failed.
	ErrMetadataFailed = errors.New("listpress: attaching metadata failed")

	// ErrNoStore indicates no store was provided.
	ErrNoStore = errors.New("listpress: no store provided")

	// ErrClosed indicates the pipeline has been closed.
	ErrClosed = errors.New("listpress: pipeline closed")
)

// Metadata keys attached to every canonical object.
const (
	MetadataType  = "type"
	MetadataLines = "lines"
	MetadataSize  = "size"
)

// Done is returned by Handle when an invocation succeeds.
const Done = "Done."

// Pipeline processes uploaded objects.
// A Pipeline holds no per-invocation state and is safe for concurrent use by
// multiple goroutines.
type Pipeline struct {
	store      store.Store
	codec      codec.Codec
	classifier *objkey.Classifier
	stats      stats.Collector
	logger     *zap.Logger
	now        func() time.Time
	heapStats  bool
	closed     atomic.Bool
}

// New creates a new Pipeline with the given options.
// A store is required; everything else has a default.
func New(opts ...Option) (*Pipeline, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.store == nil {
		return nil, ErrNoStore
	}

	p := &Pipeline{
		store:      cfg.store,
		codec:      cfg.codec,
		classifier: objkey.NewClassifier(cfg.contentTypes...),
		stats:      cfg.stats,
		logger:     cfg.logger,
		now:        cfg.now,
		heapStats:  cfg.heapStats,
	}

	p.logger.Debug("pipeline initialized",
		zap.String("codec", p.codec.Extension()),
		zap.Any("contentTypes", p.classifier.Allowed()),
	)

	return p, nil
}

// invocation is the state of one Process call.
type invocation struct {
	result        *Result
	start         time.Time
	logger        *zap.Logger
	targetWritten bool
}

// Process runs one invocation for src and returns its result. On failure the
// error wraps one of the package sentinels and the result carries the
// outcome reached. Compensating deletes have already run when Process
// returns.
func (p *Pipeline) Process(ctx context.Context, src ObjectRef) (*Result, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	inv := &invocation{
		result: &Result{Source: src},
		start:  p.now(),
		logger: p.logger.With(zap.String("bucket", src.Bucket), zap.String("key", src.Key)),
	}
	p.stats.IncCounter(stats.MetricInvocations, 1)

	err := p.run(ctx, inv)
	if err != nil && ctx.Err() != nil {
		switch inv.result.Outcome {
		case OutcomeTransformFailed, OutcomeMetadataFailed:
			inv.result.Abandoned = true
		}
	}

	p.cleanup(ctx, inv)
	p.record(inv, err)

	return inv.result, err
}

// Handle processes the object named by rec and returns Done on success.
func (p *Pipeline) Handle(ctx context.Context, rec event.Record) (string, error) {
	if _, err := p.Process(ctx, ObjectRef{Bucket: rec.Bucket, Key: rec.Key}); err != nil {
		return "", err
	}
	return Done, nil
}

// run drives the invocation up to its outcome. It never deletes anything;
// cleanup does.
func (p *Pipeline) run(ctx context.Context, inv *invocation) error {
	res := inv.result

	key, err := objkey.Parse(res.Source.Key)
	if err != nil {
		res.Outcome = OutcomeRejected
		return fmt.Errorf("%w: %w", ErrUnsupportedContentType, err)
	}

	ct, ok := p.classifier.Classify(key)
	res.ContentType = ct
	if !ok {
		res.Outcome = OutcomeRejected
		return fmt.Errorf("%w: '%s' is not a valid type", ErrUnsupportedContentType, ct)
	}

	if key.Extension == p.codec.Extension() {
		res.Direction = DirectionDecompressVerify
	}
	res.Target = p.resolveTarget(ctx, inv, key)
	inv.logger = inv.logger.With(
		zap.String("target", res.Target.Key),
		zap.Stringer("direction", res.Direction),
	)

	var m tap.Metrics
	switch res.Direction {
	case DirectionCompress:
		m, err = p.compress(ctx, inv)
		if err == nil {
			inv.targetWritten = true
		}
	case DirectionDecompressVerify:
		m, err = p.decompressVerify(ctx, inv)
	}
	res.Metrics = m
	if err != nil {
		res.Outcome = OutcomeTransformFailed
		return fmt.Errorf("%w: %w", ErrTransformFailed, err)
	}

	p.logStream(inv)

	if !m.Valid() {
		res.Outcome = OutcomeInvalid
		return fmt.Errorf("%w: %d bytes, %d line breaks", ErrInvalidResult, m.Bytes, m.Lines)
	}

	if err := p.attachMetadata(ctx, inv); err != nil {
		res.Outcome = OutcomeMetadataFailed
		return fmt.Errorf("%w: %w", ErrMetadataFailed, err)
	}

	res.Outcome = OutcomeSuccess
	return nil
}

// resolveTarget returns a target key that does not hold an object yet.
//
// A taken candidate is rewritten once with the current epoch milliseconds and
// not probed again. A failed probe counts as free. The probe and the later
// write are not atomic; concurrent invocations for the same basename can
// still land on the same key.
func (p *Pipeline) resolveTarget(ctx context.Context, inv *invocation, key objkey.Key) ObjectRef {
	src := inv.result.Source
	t := objkey.NewTarget(key, p.codec.Extension())

	exists, err := p.store.Exists(ctx, src.Bucket, t.Key())
	if err != nil {
		p.stats.IncCounter(stats.MetricProbeFailures, 1)
		inv.logger.Warn("existence probe failed, assuming target is free",
			zap.String("candidate", t.Key()),
			zap.Error(err),
		)
		exists = false
	}

	if exists || t.Key() == src.Key {
		candidate := t.Key()
		t = t.WithDisambiguator(p.now().UnixMilli())
		p.stats.IncCounter(stats.MetricCollisions, 1)
		inv.logger.Info("target exists, rewriting key",
			zap.String("candidate", candidate),
			zap.String("rewritten", t.Key()),
		)
	}

	return ObjectRef{Bucket: src.Bucket, Key: t.Key()}
}

// compress streams source -> tap -> encoder -> pipe -> upload. The encoder
// and the upload run concurrently; the pipe blocks the encoder until the
// upload consumes its output.
func (p *Pipeline) compress(ctx context.Context, inv *invocation) (tap.Metrics, error) {
	res := inv.result

	body, err := p.store.Get(ctx, res.Source.Bucket, res.Source.Key)
	if err != nil {
		return tap.Metrics{}, fmt.Errorf("opening source: %w", err)
	}
	defer body.Close()

	counter := tap.NewReader(contextReader(ctx, body), tap.WithClock(p.now), tap.WithStart(inv.start))
	pr, pw := io.Pipe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := p.encode(pw, counter)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		metadata := map[string]string{MetadataType: string(res.ContentType)}
		err := p.store.Put(gctx, res.Target.Bucket, res.Target.Key, pr, metadata)
		if err != nil {
			err = fmt.Errorf("uploading target: %w", err)
			pr.CloseWithError(err)
			return err
		}
		pr.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		return counter.Metrics(), err
	}
	return counter.Finish(), nil
}

func (p *Pipeline) encode(w io.Writer, r io.Reader) error {
	enc, err := p.codec.Writer(w)
	if err != nil {
		return fmt.Errorf("creating encoder: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return fmt.Errorf("encoding: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flushing encoder: %w", err)
	}
	return nil
}

// decompressVerify streams source -> decoder -> tap -> discard. The target
// is written later by attachMetadata, which copies the source unmodified.
func (p *Pipeline) decompressVerify(ctx context.Context, inv *invocation) (tap.Metrics, error) {
	res := inv.result

	body, err := p.store.Get(ctx, res.Source.Bucket, res.Source.Key)
	if err != nil {
		return tap.Metrics{}, fmt.Errorf("opening source: %w", err)
	}
	defer body.Close()

	dec, err := p.codec.Reader(contextReader(ctx, body))
	if errors.Is(err, io.EOF) {
		// Zero-length source: nothing to decode, counted as empty.
		return tap.Metrics{Total: p.now().Sub(inv.start)}, nil
	}
	if err != nil {
		return tap.Metrics{}, fmt.Errorf("reading header: %w", err)
	}
	defer dec.Close()

	counter := tap.NewReader(dec, tap.WithClock(p.now), tap.WithStart(inv.start))
	if _, err := io.Copy(io.Discard, counter); err != nil {
		return counter.Metrics(), fmt.Errorf("decoding: %w", err)
	}
	return counter.Finish(), nil
}

// attachMetadata replaces the target's metadata with the counted values.
// For compress the target is copied onto itself; for decompress the source
// is copied onto the target, which creates it.
func (p *Pipeline) attachMetadata(ctx context.Context, inv *invocation) error {
	res := inv.result

	srcKey := res.Target.Key
	if res.Direction == DirectionDecompressVerify {
		srcKey = res.Source.Key
	}
	if err := p.store.Copy(ctx, res.Target.Bucket, srcKey, res.Target.Key, res.Metadata()); err != nil {
		return fmt.Errorf("copying %s to %s: %w", srcKey, res.Target.Key, err)
	}
	return nil
}

// cleanup runs the compensating deletes for the outcome reached. It ignores
// the caller's cancellation so storage converges even when the invocation
// was cut short.
func (p *Pipeline) cleanup(ctx context.Context, inv *invocation) {
	ctx = context.WithoutCancel(ctx)
	res := inv.result

	if inv.targetWritten && res.Outcome != OutcomeSuccess {
		p.deleteBestEffort(ctx, inv, res.Target, "target")
	}

	if res.Abandoned {
		inv.logger.Warn("invocation abandoned, keeping source for retry")
		return
	}
	p.deleteBestEffort(ctx, inv, res.Source, "source")
}

func (p *Pipeline) deleteBestEffort(ctx context.Context, inv *invocation, ref ObjectRef, role string) {
	if err := p.store.Delete(ctx, ref.Bucket, ref.Key); err != nil {
		p.stats.IncCounter(stats.MetricCleanupFailure, 1)
		inv.logger.Error("delete failed",
			zap.String("role", role),
			zap.String("object", ref.Key),
			zap.Error(err),
		)
		return
	}
	inv.logger.Debug("deleted", zap.String("role", role), zap.String("object", ref.Key))
}

func (p *Pipeline) logStream(inv *invocation) {
	m := inv.result.Metrics
	inv.logger.Info("stream complete",
		zap.Uint64("bytes", m.Bytes),
		zap.Uint64("lines", m.Lines),
		zap.Duration("ttfb", m.FirstByte),
		zap.Duration("elapsed", m.Total),
		zap.Float64("kbPerSec", m.Throughput()/1024),
	)
	p.stats.IncCounter(stats.MetricBytes, int64(m.Bytes))
	p.stats.IncCounter(stats.MetricLines, int64(m.Lines))
	p.stats.ObserveHistogram(stats.MetricFirstByteSeconds, m.FirstByte.Seconds())
	p.stats.ObserveHistogram(stats.MetricDurationSeconds, m.Total.Seconds())
}

// record counts the outcome and writes the final log line.
func (p *Pipeline) record(inv *invocation, err error) {
	res := inv.result
	p.stats.IncCounter(outcomeMetric(res.Outcome), 1)

	fields := []zap.Field{
		zap.Stringer("outcome", res.Outcome),
		zap.Duration("elapsed", p.now().Sub(inv.start)),
	}
	if p.heapStats {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		p.stats.SetGauge(stats.MetricHeapAllocBytes, int64(ms.HeapAlloc))
		fields = append(fields, zap.Float64("heapMB", float64(ms.HeapAlloc)/(1<<20)))
	}

	if err != nil {
		inv.logger.Error("invocation failed", append(fields, zap.Error(err))...)
		return
	}
	inv.logger.Info("invocation done", fields...)
}

func outcomeMetric(o Outcome) string {
	switch o {
	case OutcomeSuccess:
		return stats.MetricSucceeded
	case OutcomeRejected:
		return stats.MetricRejected
	case OutcomeInvalid:
		return stats.MetricInvalid
	case OutcomeMetadataFailed:
		return stats.MetricMetadataFailed
	default:
		return stats.MetricTransformFailed
	}
}

// Close releases the store. After Close, Process returns ErrClosed.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := p.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

// Store returns the storage backend used by this pipeline.
func (p *Pipeline) Store() store.Store {
	return p.store
}

// Codec returns the codec canonical objects are stored with.
func (p *Pipeline) Codec() codec.Codec {
	return p.codec
}

// contextReader returns a reader that fails once ctx is done.
func contextReader(ctx context.Context, r io.Reader) io.Reader {
	return readerFunc(func(b []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return r.Read(b)
	})
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(b []byte) (int, error) { return f(b) }
