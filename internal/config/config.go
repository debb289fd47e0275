// Package config loads worker settings with koanf: struct defaults, then an
// optional YAML file, then environment variables. Every key can be set by
// its upper-case environment name (DESTINATION_BUCKET, STANDARD_WIDTH, ...).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/fpang/nextlevel-variants/internal/imaging"
	"github.com/fpang/nextlevel-variants/internal/pipeline"
	"github.com/fpang/nextlevel-variants/internal/s3util"
	"github.com/fpang/nextlevel-variants/internal/store"
	"github.com/fpang/nextlevel-variants/internal/variant"
)

// PathEnvVar names the optional YAML config file.
const PathEnvVar = "VARIANTS_CONFIG"

// DefaultDestinationBucket is where variants land when nothing else is set.
const DefaultDestinationBucket = "nextlevel-processed"

// Config holds every tunable of the Lambda and the queue worker.
type Config struct {
	DestinationBucket      string `koanf:"destination_bucket"`
	DestinationBucketParam string `koanf:"destination_bucket_param"`
	ProcessedMarker        string `koanf:"processed_marker"`
	OutputKeyPrefix        string `koanf:"output_key_prefix"`

	StandardWidth  int `koanf:"standard_width"`
	ThumbnailWidth int `koanf:"thumbnail_width"`
	ProfileSize    int `koanf:"profile_size"`

	MaxSourceBytes     int64 `koanf:"max_source_bytes"`
	MaxSourcePixels    int   `koanf:"max_source_pixels"`
	VariantConcurrency int   `koanf:"variant_concurrency"`

	QueueURL           string        `koanf:"queue_url"`
	DeadLetterQueueURL string        `koanf:"dlq_url"`
	WorkerConcurrency  int           `koanf:"worker_concurrency"`
	PollWait           time.Duration `koanf:"poll_wait"`
	RetryDelay         time.Duration `koanf:"retry_delay"`

	LedgerTable  string        `koanf:"ledger_table"`
	LedgerTTL    time.Duration `koanf:"ledger_ttl"`
	EventBusName string        `koanf:"event_bus_name"`
	MetricsAddr  string        `koanf:"metrics_addr"`

	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerOpenTimeout      time.Duration `koanf:"breaker_open_timeout"`
}

// Default returns the baseline configuration.
func Default() *Config {
	sizes := variant.DefaultSizes
	breaker := s3util.DefaultBreakerConfig
	return &Config{
		DestinationBucket:       DefaultDestinationBucket,
		ProcessedMarker:         variant.DefaultProcessedMarker,
		StandardWidth:           sizes.StandardWidth,
		ThumbnailWidth:          sizes.ThumbnailWidth,
		ProfileSize:             sizes.ProfileSize,
		MaxSourceBytes:          imaging.DefaultMaxSourceBytes,
		MaxSourcePixels:         imaging.DefaultMaxSourcePixels,
		VariantConcurrency:      pipeline.DefaultVariantConcurrency,
		WorkerConcurrency:       4,
		PollWait:                20 * time.Second,
		RetryDelay:              30 * time.Second,
		LedgerTTL:               store.OutcomeTTL,
		MetricsAddr:             ":9090",
		BreakerFailureThreshold: breaker.FailureThreshold,
		BreakerOpenTimeout:      breaker.OpenTimeout,
	}
}

// Load builds a Config from defaults, the file named by VARIANTS_CONFIG (if
// set) and the environment, then validates it.
func Load() (*Config, error) {
	return LoadFile(Path(""))
}

// Path returns the YAML path to load: explicit when set, else VARIANTS_CONFIG.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(PathEnvVar)
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envKeys lists the keys settable from the environment. Anything else in the
// process environment is ignored.
var envKeys = map[string]struct{}{
	"destination_bucket": {}, "destination_bucket_param": {},
	"processed_marker": {}, "output_key_prefix": {},
	"standard_width": {}, "thumbnail_width": {}, "profile_size": {},
	"max_source_bytes": {}, "max_source_pixels": {}, "variant_concurrency": {},
	"queue_url": {}, "dlq_url": {}, "worker_concurrency": {},
	"poll_wait": {}, "retry_delay": {},
	"ledger_table": {}, "ledger_ttl": {}, "event_bus_name": {}, "metrics_addr": {},
	"breaker_failure_threshold": {}, "breaker_open_timeout": {},
}

func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if _, ok := envKeys[key]; ok {
		return key
	}
	return ""
}

// Validate rejects settings the worker cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DestinationBucket) == "" && c.DestinationBucketParam == "" {
		errs = append(errs, errors.New("destination_bucket must not be empty"))
	}
	if c.ProcessedMarker == "" {
		errs = append(errs, errors.New("processed_marker must not be empty"))
	}
	for name, v := range map[string]int{
		"standard_width":      c.StandardWidth,
		"thumbnail_width":     c.ThumbnailWidth,
		"profile_size":        c.ProfileSize,
		"max_source_pixels":   c.MaxSourcePixels,
		"variant_concurrency": c.VariantConcurrency,
		"worker_concurrency":  c.WorkerConcurrency,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.MaxSourceBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_source_bytes must be positive, got %d", c.MaxSourceBytes))
	}
	if c.PollWait < 0 || c.PollWait > 20*time.Second {
		errs = append(errs, fmt.Errorf("poll_wait must be between 0s and 20s, got %s", c.PollWait))
	}
	if c.RetryDelay < 0 || c.RetryDelay > 12*time.Hour {
		errs = append(errs, fmt.Errorf("retry_delay must be between 0s and 12h, got %s", c.RetryDelay))
	}
	if c.BreakerFailureThreshold == 0 {
		errs = append(errs, errors.New("breaker_failure_threshold must be positive"))
	}
	return errors.Join(errs...)
}

// Warnings reports settings that are legal but likely mistakes.
// sourceBucket is the bucket uploads arrive in, when known.
func (c *Config) Warnings(sourceBucket string) []string {
	var out []string
	if sourceBucket != "" && sourceBucket == c.DestinationBucket &&
		!strings.Contains(c.OutputKeyPrefix, c.ProcessedMarker) {
		out = append(out, fmt.Sprintf(
			"destination bucket %q is the source bucket and output prefix %q lacks marker %q: variants will retrigger processing",
			c.DestinationBucket, c.OutputKeyPrefix, c.ProcessedMarker))
	}
	if c.QueueURL != "" && c.DeadLetterQueueURL == "" {
		out = append(out, "dlq_url not set: permanently failing messages rely on the queue redrive policy")
	}
	return out
}

// Sizes returns the variant geometry.
func (c *Config) Sizes() variant.Sizes {
	return variant.Sizes{
		StandardWidth:  c.StandardWidth,
		ThumbnailWidth: c.ThumbnailWidth,
		ProfileSize:    c.ProfileSize,
	}
}

// DispatcherOptions maps the config onto pipeline.Options.
func (c *Config) DispatcherOptions() pipeline.Options {
	return pipeline.Options{
		DestinationBucket:  c.DestinationBucket,
		OutputKeyPrefix:    c.OutputKeyPrefix,
		ProcessedMarker:    c.ProcessedMarker,
		Sizes:              c.Sizes(),
		MaxSourceBytes:     c.MaxSourceBytes,
		MaxSourcePixels:    c.MaxSourcePixels,
		VariantConcurrency: c.VariantConcurrency,
	}
}

// BreakerConfig maps the config onto the destination-write breaker settings.
func (c *Config) BreakerConfig() s3util.BreakerConfig {
	return s3util.BreakerConfig{
		FailureThreshold: c.BreakerFailureThreshold,
		OpenTimeout:      c.BreakerOpenTimeout,
	}
}
