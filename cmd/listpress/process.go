package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/discochess/listpress"
	statslogger "github.com/discochess/listpress/internal/stats/logger"
)

var processCmd = &cobra.Command{
	Use:   "process LOCATION",
	Short: "Process a single object",
	Long: `Run one invocation for the object at LOCATION, exactly as if a
notification for it had arrived.

LOCATION is one of:
  s3://bucket/key      AWS S3 (or --endpoint)
  gs://bucket/key      Google Cloud Storage
  minio://bucket/key   S3-compatible server at --minio-endpoint
  file://bucket/key    directory --data-dir/bucket

Examples:
  listpress process s3://lists/wordlist/rockyou.txt
  listpress process --data-dir ./buckets file://lists/rules/best64.rule`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	flags := processCmd.Flags()
	flags.String("data-dir", ".", "root directory of file:// buckets")
	flags.String("minio-endpoint", "", "MinIO endpoint host:port")
	flags.String("minio-access-key", "", "MinIO access key")
	flags.String("minio-secret-key", "", "MinIO secret key")
	flags.Bool("minio-use-ssl", true, "use TLS for MinIO")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	loc, err := parseLocation(args[0])
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := openStore(ctx, cfg, loc.Scheme, logger)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", loc.Scheme, err)
	}

	p, err := newPipeline(st, statslogger.New(logger), logger)
	if err != nil {
		st.Close()
		return fmt.Errorf("creating pipeline: %w", err)
	}
	defer p.Close()

	res, err := p.Process(ctx, listpress.ObjectRef{Bucket: loc.Bucket, Key: loc.Key})
	if res != nil {
		printResult(res)
	}
	if err != nil {
		return err
	}
	fmt.Println(listpress.Done)
	return nil
}

func printResult(res *listpress.Result) {
	fmt.Printf("Source:    %s\n", res.Source)
	fmt.Printf("Outcome:   %s\n", res.Outcome)
	if res.Target.Key == "" {
		return
	}
	fmt.Printf("Target:    %s\n", res.Target)
	fmt.Printf("Direction: %s\n", res.Direction)
	fmt.Printf("Bytes:     %d\n", res.Metrics.Bytes)
	fmt.Printf("Lines:     %d\n", res.Metrics.Lines)
	fmt.Printf("Elapsed:   %s\n", res.Metrics.Total)
}
