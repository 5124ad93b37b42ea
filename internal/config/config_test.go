package config

import (
	"slices"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	if cfg.Queue.WaitSeconds != want.Queue.WaitSeconds || cfg.PartSize != want.PartSize {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
	if !slices.Equal(cfg.ContentTypes, []string{"rules", "wordlist"}) {
		t.Errorf("ContentTypes = %v", cfg.ContentTypes)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LISTPRESS_QUEUE_URL", "https://sqs.example/q")
	t.Setenv("LISTPRESS_QUEUE_PROCESS_TIMEOUT", "90s")
	t.Setenv("LISTPRESS_CONTENT_TYPES", "masks,rules")
	t.Setenv("LISTPRESS_MINIO_USE_SSL", "false")
	t.Setenv("LISTPRESS_GZIP_LEVEL", "9")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Queue.URL != "https://sqs.example/q" {
		t.Errorf("Queue.URL = %q", cfg.Queue.URL)
	}
	if cfg.Queue.ProcessTimeout != 90*time.Second {
		t.Errorf("Queue.ProcessTimeout = %v", cfg.Queue.ProcessTimeout)
	}
	if !slices.Equal(cfg.ContentTypes, []string{"masks", "rules"}) {
		t.Errorf("ContentTypes = %v", cfg.ContentTypes)
	}
	if cfg.Minio.UseSSL {
		t.Error("Minio.UseSSL = true, want false")
	}
	if cfg.GzipLevel != 9 {
		t.Errorf("GzipLevel = %d, want 9", cfg.GzipLevel)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LISTPRESS_REGION", "us-east-1")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("region", "", "")
	fs.String("metrics-addr", "", "")
	if err := fs.Parse([]string{"--region", "eu-central-1"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Region != "eu-central-1" {
		t.Errorf("Region = %q, want flag value", cfg.Region)
	}
	// An unset flag keeps the default.
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("Metrics.Addr = %q, want :9090", cfg.Metrics.Addr)
	}
}

func TestFlagName(t *testing.T) {
	tests := map[string]string{
		"region":                "region",
		"queue.url":             "queue-url",
		"queue.process_timeout": "queue-process-timeout",
		"minio.access_key":      "minio-access-key",
	}
	for key, want := range tests {
		if got := FlagName(key); got != want {
			t.Errorf("FlagName(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestFields(t *testing.T) {
	got := make(map[string]any)
	for _, f := range fields(Default()) {
		got[f.key] = f.value
	}
	for _, want := range []string{"region", "queue.url", "queue.process_timeout", "metrics.addr", "minio.secret_key"} {
		if _, ok := got[want]; !ok {
			t.Errorf("fields() missing %q", want)
		}
	}
	if got["queue.process_timeout"] != 14*time.Minute {
		t.Errorf("queue.process_timeout = %v, want 14m", got["queue.process_timeout"])
	}
}
