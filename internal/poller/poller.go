// Package poller feeds object notifications from an SQS queue into a
// handler, one message at a time.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/discochess/listpress/internal/event"
	"github.com/discochess/listpress/internal/stats"
)

// ErrNoQueue indicates no queue URL was provided.
var ErrNoQueue = errors.New("poller: no queue URL provided")

// Client is the subset of the SQS API the poller uses. *sqs.Client
// implements it.
type Client interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Compile-time check that *sqs.Client implements Client.
var _ Client = (*sqs.Client)(nil)

// Handler processes one notification record.
type Handler interface {
	Handle(ctx context.Context, rec event.Record) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, rec event.Record) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, rec event.Record) (string, error) {
	return f(ctx, rec)
}

// Poller long-polls a queue and hands each notification to a Handler.
type Poller struct {
	client   Client
	queueURL string
	handler  Handler
	seen     *lru.Cache[string, struct{}]

	waitTime       int32
	maxMessages    int32
	errorBackoff   time.Duration
	processTimeout time.Duration
	deleteTimeout  time.Duration

	stats  stats.Collector
	logger *zap.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithWaitTime sets the long-poll wait in seconds (max 20).
func WithWaitTime(seconds int32) Option {
	return func(p *Poller) { p.waitTime = seconds }
}

// WithMaxMessages sets how many messages one receive call may return (1-10).
func WithMaxMessages(n int32) Option {
	return func(p *Poller) { p.maxMessages = n }
}

// WithErrorBackoff sets the pause after a failed receive.
func WithErrorBackoff(d time.Duration) Option {
	return func(p *Poller) { p.errorBackoff = d }
}

// WithProcessTimeout bounds a single invocation. Zero means no limit beyond
// the poller's own context.
func WithProcessTimeout(d time.Duration) Option {
	return func(p *Poller) { p.processTimeout = d }
}

// WithStats sets the stats collector.
func WithStats(c stats.Collector) Option {
	return func(p *Poller) { p.stats = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// DefaultDedupSize is the number of message IDs remembered by default.
const DefaultDedupSize = 4096

// New creates a Poller for queueURL. dedupSize bounds the message IDs
// remembered for redelivery detection; zero selects DefaultDedupSize.
func New(client Client, queueURL string, h Handler, dedupSize int, opts ...Option) (*Poller, error) {
	if queueURL == "" {
		return nil, ErrNoQueue
	}
	if dedupSize <= 0 {
		dedupSize = DefaultDedupSize
	}
	seen, err := lru.New[string, struct{}](dedupSize)
	if err != nil {
		return nil, fmt.Errorf("creating dedup cache: %w", err)
	}

	p := &Poller{
		client:        client,
		queueURL:      queueURL,
		handler:       h,
		seen:          seen,
		waitTime:      20,
		maxMessages:   10,
		errorBackoff:  5 * time.Second,
		deleteTimeout: 5 * time.Second,
		stats:         stats.NewNoop(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("queueURL", queueURL))
	return p, nil
}

// Run polls until ctx is done. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("starting SQS polling loop")
	for {
		if ctx.Err() != nil {
			p.logger.Info("SQS polling loop stopped")
			return nil
		}

		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("failed to receive messages", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(p.errorBackoff):
			}
		}
	}
}

// PollOnce receives one batch and processes its messages in order. It
// returns the number of messages received.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	out, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.queueURL),
		MaxNumberOfMessages: p.maxMessages,
		WaitTimeSeconds:     p.waitTime,
	})
	if err != nil {
		return 0, fmt.Errorf("receiving messages: %w", err)
	}

	p.stats.IncCounter(stats.MetricMessagesReceived, int64(len(out.Messages)))
	for _, msg := range out.Messages {
		if ctx.Err() != nil {
			// Unprocessed messages become visible again after their timeout.
			break
		}
		p.handleMessage(ctx, msg)
	}
	return len(out.Messages), nil
}

func (p *Poller) handleMessage(ctx context.Context, msg types.Message) {
	id := aws.ToString(msg.MessageId)
	logger := p.logger.With(zap.String("messageId", id))

	if p.seen.Contains(id) {
		p.stats.IncCounter(stats.MetricMessagesDuplicate, 1)
		logger.Info("skipping already processed message")
		p.deleteMessage(ctx, logger, msg)
		return
	}

	rec, err := event.Parse([]byte(aws.ToString(msg.Body)))
	if err != nil {
		p.stats.IncCounter(stats.MetricMessagesInvalid, 1)
		logger.Warn("dropping message without a usable record", zap.Error(err))
		p.deleteMessage(ctx, logger, msg)
		return
	}

	msgCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.processTimeout > 0 {
		msgCtx, cancel = context.WithTimeout(ctx, p.processTimeout)
	}
	defer cancel()

	logger = logger.With(zap.Stringer("object", rec))
	logger.Info("processing notification", zap.String("region", rec.Region), zap.Int64("size", rec.Size))
	_, err = p.handler.Handle(msgCtx, rec)
	if msgCtx.Err() != nil {
		logger.Warn("invocation cut short, leaving message for redelivery", zap.Error(err))
		return
	}
	if err != nil {
		// Every failure outcome has already consumed the source object, so a
		// redelivery could not succeed.
		logger.Error("invocation failed, dropping message", zap.Error(err))
	}

	p.seen.Add(id, struct{}{})
	p.deleteMessage(ctx, logger, msg)
}

func (p *Poller) deleteMessage(ctx context.Context, logger *zap.Logger, msg types.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.deleteTimeout)
	defer cancel()

	_, err := p.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.Error("failed to delete SQS message", zap.Error(err))
		return
	}
	logger.Debug("deleted SQS message")
}
