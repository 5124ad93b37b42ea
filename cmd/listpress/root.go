package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discochess/listpress"
	"github.com/discochess/listpress/internal/codec/gzipcodec"
	"github.com/discochess/listpress/internal/config"
	"github.com/discochess/listpress/internal/objkey"
	"github.com/discochess/listpress/internal/stats"
	"github.com/discochess/listpress/internal/store"
)

var (
	// Global flags.
	verbose bool

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "listpress",
	Short: "Compress and verify uploaded word lists and rule files",
	Long: `Listpress turns objects uploaded under rules/ or wordlist/ into
canonical gzip objects carrying type, line and size metadata.

Raw uploads are compressed; .gz uploads are decompressed to verify and count
them, then copied unmodified. Empty files and files without a line break are
rejected. The original upload is always deleted.

Every flag can also be set through the environment with the LISTPRESS_
prefix, e.g. LISTPRESS_QUEUE_URL for --queue-url.

Examples:
  # Run as an AWS Lambda function behind S3 notifications
  listpress lambda

  # Consume S3 notifications from SQS
  listpress poll --queue-url https://sqs.us-east-1.amazonaws.com/123456789012/uploads

  # Process one object by hand
  listpress process s3://lists/wordlist/rockyou.txt

  # Count a local file
  listpress verify rockyou.txt.gz`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cmd.Flags())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.String("region", "", "AWS region used when a notification carries none")
	flags.String("endpoint", "", "custom S3 or GCS endpoint")
	flags.StringSlice("content-types", nil, "accepted key prefixes (default rules,wordlist)")
	flags.Int("gzip-level", -1, "gzip compression level (-1 for default, 1-9)")
	flags.Int64("part-size", 8<<20, "multipart upload part size in bytes")
	flags.Bool("heap-stats", false, "log heap usage after every invocation")
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newPipeline builds a pipeline over st from the loaded configuration.
func newPipeline(st store.Store, collector stats.Collector, logger *zap.Logger) (*listpress.Pipeline, error) {
	types := make([]objkey.ContentType, 0, len(cfg.ContentTypes))
	for _, t := range cfg.ContentTypes {
		types = append(types, objkey.ContentType(t))
	}

	return listpress.New(
		listpress.WithStore(st),
		listpress.WithCodec(gzipcodec.New(gzipcodec.WithLevel(cfg.GzipLevel))),
		listpress.WithContentTypes(types...),
		listpress.WithStats(collector),
		listpress.WithLogger(logger.Named("listpress")),
		listpress.WithHeapStats(cfg.HeapStats),
	)
}
