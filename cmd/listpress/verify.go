package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/discochess/listpress/internal/codec/gzipcodec"
	"github.com/discochess/listpress/internal/tap"
)

var verifyCmd = &cobra.Command{
	Use:   "verify FILE...",
	Short: "Count bytes and lines of local files",
	Long: `Stream each FILE through the same counter the pipeline uses and
report its uncompressed size, line breaks and whether it would be accepted.
Files ending in .gz are decompressed first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	var errCount int
	for _, path := range args {
		m, err := verifyFile(path)
		if err != nil {
			fmt.Printf("ERROR: %s: %v\n", path, err)
			errCount++
			continue
		}

		status := "ok"
		if !m.Valid() {
			status = "invalid (empty or no line breaks)"
			errCount++
		}
		fmt.Printf("%s: %d bytes, %d lines, %.0f KB/s, %s\n",
			filepath.Base(path), m.Bytes, m.Lines, m.Throughput()/1024, status)
	}

	if errCount > 0 {
		return fmt.Errorf("%d of %d files failed verification", errCount, len(args))
	}
	return nil
}

func verifyFile(path string) (tap.Metrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return tap.Metrics{}, err
	}
	defer f.Close()

	codec := gzipcodec.New()
	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(path), "."+codec.Extension()) {
		dec, err := codec.Reader(f)
		if errors.Is(err, io.EOF) {
			return tap.Metrics{}, nil
		}
		if err != nil {
			return tap.Metrics{}, fmt.Errorf("reading header: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	counter := tap.NewReader(r)
	if _, err := io.Copy(io.Discard, counter); err != nil {
		return counter.Metrics(), fmt.Errorf("reading: %w", err)
	}
	return counter.Finish(), nil
}
