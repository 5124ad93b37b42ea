package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/discochess/listpress/fx/s3listpressfx"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Process S3 notifications from an SQS queue",
	Long: `Long-poll an SQS queue that receives S3 event notifications and
process each notification's object in turn.

A message is deleted once its invocation reached an outcome, including
failures, since every failure path has already removed the source object.
Messages still in flight at shutdown are left for redelivery. Prometheus
metrics are served on --metrics-addr.`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

func init() {
	flags := pollCmd.Flags()
	flags.String("queue-url", "", "SQS queue URL (required)")
	flags.Int32("queue-wait-seconds", 20, "long-poll wait time in seconds")
	flags.Int("queue-dedup-size", 4096, "number of processed message IDs remembered")
	flags.Duration("queue-process-timeout", 14*time.Minute, "time limit for one invocation (0 disables)")
	flags.String("metrics-addr", ":9090", "listen address for /metrics (empty disables)")
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	if cfg.Queue.URL == "" {
		return errors.New("--queue-url or LISTPRESS_QUEUE_URL is required")
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	app := fx.New(
		fx.Supply(*cfg),
		fx.Supply(logger),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		s3listpressfx.Module,
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	app.Run()
	return nil
}
