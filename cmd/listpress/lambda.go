package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/discochess/listpress"
	"github.com/discochess/listpress/internal/event"
	"github.com/discochess/listpress/internal/stats"
	statslogger "github.com/discochess/listpress/internal/stats/logger"
	"github.com/discochess/listpress/internal/store/s3store"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve S3 notifications as an AWS Lambda function",
	Long: `Start the AWS Lambda runtime loop. Each invocation receives an S3
event notification and processes its first record with an S3 client for the
record's region. The function returns "Done." on success.`,
	Args: cobra.NoArgs,
	RunE: runLambda,
}

func init() {
	rootCmd.AddCommand(lambdaCmd)
}

func runLambda(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	// Logs are the only metrics sink in Lambda, so stats go out at info.
	collector := statslogger.New(logger, statslogger.WithLevel(zapcore.InfoLevel))
	h := newRegionHandler(logger, collector, cfg.Region, func(ctx context.Context, region string) (*listpress.Pipeline, error) {
		st, err := s3store.New(ctx,
			s3store.WithRegion(region),
			s3store.WithEndpoint(cfg.Endpoint),
			s3store.WithPartSize(cfg.PartSize),
		)
		if err != nil {
			return nil, err
		}
		return newPipeline(st, collector, logger)
	})

	lambda.Start(h.Handle)
	return nil
}

// regionHandler keeps one pipeline per AWS region across warm invocations.
type regionHandler struct {
	logger        *zap.Logger
	collector     stats.Collector
	defaultRegion string
	build         func(ctx context.Context, region string) (*listpress.Pipeline, error)

	mu        sync.Mutex
	pipelines map[string]*listpress.Pipeline
}

func newRegionHandler(logger *zap.Logger, collector stats.Collector, defaultRegion string, build func(context.Context, string) (*listpress.Pipeline, error)) *regionHandler {
	return &regionHandler{
		logger:        logger,
		collector:     collector,
		defaultRegion: defaultRegion,
		build:         build,
		pipelines:     make(map[string]*listpress.Pipeline),
	}
}

// Handle processes the first record of evt.
func (h *regionHandler) Handle(ctx context.Context, evt events.S3Event) (string, error) {
	h.logger.Debug("received event", zap.Any("event", evt))

	rec, err := event.FromLambda(evt)
	if err != nil {
		h.collector.IncCounter(stats.MetricMessagesInvalid, 1)
		return "", fmt.Errorf("invalid event received: %w", err)
	}

	region := rec.Region
	if region == "" {
		region = h.defaultRegion
	}
	h.logger.Info("processing record",
		zap.Stringer("object", rec),
		zap.String("region", region),
		zap.Int64("size", rec.Size),
	)
	p, err := h.pipeline(ctx, region)
	if err != nil {
		return "", fmt.Errorf("creating pipeline for region %q: %w", region, err)
	}
	return p.Handle(ctx, rec)
}

func (h *regionHandler) pipeline(ctx context.Context, region string) (*listpress.Pipeline, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.pipelines[region]; ok {
		return p, nil
	}
	p, err := h.build(ctx, region)
	if err != nil {
		return nil, err
	}
	h.pipelines[region] = p
	return p, nil
}
