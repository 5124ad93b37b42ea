// Package config loads listpress settings from flags, environment variables
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. LISTPRESS_QUEUE_URL.
const EnvPrefix = "LISTPRESS"

// Config aggregates configuration for the commands.
type Config struct {
	// Region is the AWS region used when a trigger record carries none.
	Region string `mapstructure:"region"`
	// Endpoint overrides the S3 or GCS endpoint, e.g. for LocalStack or fake-gcs-server.
	Endpoint string `mapstructure:"endpoint"`
	// ContentTypes are the accepted key prefixes.
	ContentTypes []string `mapstructure:"content_types"`
	// GzipLevel is the compression level for canonical objects.
	GzipLevel int `mapstructure:"gzip_level"`
	// PartSize is the multipart upload part size in bytes.
	PartSize int64 `mapstructure:"part_size"`
	// HeapStats logs heap usage after every invocation.
	HeapStats bool `mapstructure:"heap_stats"`
	// DataDir is the root of file:// buckets.
	DataDir string `mapstructure:"data_dir"`

	Queue   QueueConfig   `mapstructure:"queue"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Minio   MinioConfig   `mapstructure:"minio"`
}

// QueueConfig configures the SQS poller.
type QueueConfig struct {
	URL            string        `mapstructure:"url"`
	WaitSeconds    int32         `mapstructure:"wait_seconds"`
	DedupSize      int           `mapstructure:"dedup_size"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `mapstructure:"addr"`
}

// MinioConfig configures minio:// buckets.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		ContentTypes: []string{"rules", "wordlist"},
		GzipLevel:    -1,
		PartSize:     8 << 20,
		DataDir:      ".",
		Queue: QueueConfig{
			WaitSeconds:    20,
			DedupSize:      4096,
			ProcessTimeout: 14 * time.Minute,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Minio:   MinioConfig{UseSSL: true},
	}
}

// Load reads configuration from a config file named "listpress" in the
// working directory, the environment and the flags in fs, in increasing
// order of precedence.
//
// Keys map to environment variables with the dot replaced by an underscore
// ("queue.url" is LISTPRESS_QUEUE_URL) and to flags with dots and underscores
// replaced by dashes ("queue.url" is --queue-url). fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("listpress")
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, field := range fields(cfg) {
		key := field.key
		v.SetDefault(key, field.value)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
		if fs == nil {
			continue
		}
		if f := fs.Lookup(FlagName(key)); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag --%s: %w", f.Name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// FlagName returns the flag bound to a config key.
func FlagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

type field struct {
	key   string
	value any
}

// fields lists the dotted key and current value of every leaf field in cfg.
func fields(cfg any, parts ...string) []field {
	val := reflect.ValueOf(cfg)
	typ := val.Type()

	var out []field
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			out = append(out, fields(val.Field(i).Interface(), key...)...)
			continue
		}
		out = append(out, field{key: strings.Join(key, "."), value: val.Field(i).Interface()})
	}
	return out
}
