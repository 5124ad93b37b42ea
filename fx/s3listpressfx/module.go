// Package s3listpressfx provides an fx module that runs the pipeline against
// S3, fed by an SQS queue, with Prometheus metrics.
package s3listpressfx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/listpress"
	"github.com/discochess/listpress/internal/codec/gzipcodec"
	"github.com/discochess/listpress/internal/config"
	"github.com/discochess/listpress/internal/objkey"
	"github.com/discochess/listpress/internal/poller"
	"github.com/discochess/listpress/internal/stats"
	promstats "github.com/discochess/listpress/internal/stats/prometheus"
	"github.com/discochess/listpress/internal/store"
	"github.com/discochess/listpress/internal/store/s3store"
)

// Module provides an S3-backed pipeline and an SQS poller that runs for the
// lifetime of the app. Requires a config.Config and a *zap.Logger.
var Module = fx.Module("s3listpress",
	fx.Provide(
		newRegistry,
		newStatsCollector,
		newAWSConfig,
		newStore,
		newPipeline,
		newSQSClient,
		newPoller,
	),
	fx.Invoke(
		runPoller,
		serveMetrics,
	),
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newStatsCollector(reg *prometheus.Registry, logger *zap.Logger) stats.Collector {
	return promstats.New(reg, promstats.WithLogger(logger.Named("stats")))
}

func newAWSConfig(cfg config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

func newStore(cfg config.Config, awsCfg aws.Config) (store.Store, error) {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return s3store.New(context.Background(),
		s3store.WithClient(client),
		s3store.WithPartSize(cfg.PartSize),
	)
}

// Params holds dependencies for creating the pipeline.
type Params struct {
	fx.In

	Config    config.Config
	Logger    *zap.Logger
	Collector stats.Collector
	Store     store.Store
	Lifecycle fx.Lifecycle
}

func newPipeline(p Params) (*listpress.Pipeline, error) {
	types := make([]objkey.ContentType, 0, len(p.Config.ContentTypes))
	for _, t := range p.Config.ContentTypes {
		types = append(types, objkey.ContentType(t))
	}

	pipeline, err := listpress.New(
		listpress.WithStore(p.Store),
		listpress.WithCodec(gzipcodec.New(gzipcodec.WithLevel(p.Config.GzipLevel))),
		listpress.WithContentTypes(types...),
		listpress.WithStats(p.Collector),
		listpress.WithLogger(p.Logger.Named("listpress")),
		listpress.WithHeapStats(p.Config.HeapStats),
	)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pipeline.Close()
		},
	})

	return pipeline, nil
}

func newSQSClient(awsCfg aws.Config) poller.Client {
	return sqs.NewFromConfig(awsCfg)
}

// PollerParams holds dependencies for creating the poller.
type PollerParams struct {
	fx.In

	Config    config.Config
	Logger    *zap.Logger
	Collector stats.Collector
	Client    poller.Client
	Pipeline  *listpress.Pipeline
}

func newPoller(p PollerParams) (*poller.Poller, error) {
	q := p.Config.Queue
	return poller.New(p.Client, q.URL, p.Pipeline, q.DedupSize,
		poller.WithWaitTime(q.WaitSeconds),
		poller.WithProcessTimeout(q.ProcessTimeout),
		poller.WithStats(p.Collector),
		poller.WithLogger(p.Logger.Named("poller")),
	)
}

func runPoller(lc fx.Lifecycle, pl *poller.Poller, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := pl.Run(ctx); err != nil {
					logger.Error("poller stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func serveMetrics(lc fx.Lifecycle, cfg config.Config, reg *prometheus.Registry, logger *zap.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.Metrics.Addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.Metrics.Addr, err)
			}
			logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
