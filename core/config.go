package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultTickInterval    = 5 * time.Second
	defaultLeaseTimeout    = 5 * time.Minute
	defaultBatchSize       = 50
	defaultConcurrency     = 10
	defaultMaxPayloadBytes = 1 << 20
	defaultDedupeTTL       = 10 * time.Minute
	defaultPublishTimeout  = 30 * time.Second
	defaultConfigCacheTTL  = 30 * time.Second
)

type SchedulerConfig struct {
	TickInterval time.Duration `koanf:"tick_interval" mapstructure:"tick_interval"`
	// LeaseTimeout must exceed the slowest expected publish call. Events that
	// stay PROCESSING longer are reclaimed by the next tick.
	LeaseTimeout            time.Duration `koanf:"lease_timeout" mapstructure:"lease_timeout"`
	BatchSize               int           `koanf:"batch_size" mapstructure:"batch_size"`
	Concurrency             int           `koanf:"concurrency" mapstructure:"concurrency"`
	MaxBackoff              time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	NonRetryableDeadLetters bool          `koanf:"non_retryable_dead_letters" mapstructure:"non_retryable_dead_letters"`
	Owner                   string        `koanf:"owner" mapstructure:"owner"`
}

type IngestConfig struct {
	MaxPayloadBytes int64         `koanf:"max_payload_bytes" mapstructure:"max_payload_bytes"`
	DedupeTTL       time.Duration `koanf:"dedupe_ttl" mapstructure:"dedupe_ttl"`
}

type PublisherConfig struct {
	BaseURL string        `koanf:"base_url" mapstructure:"base_url"`
	APIKey  string        `koanf:"api_key" mapstructure:"api_key"`
	Timeout time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type CacheConfig struct {
	ConfigTTL time.Duration `koanf:"config_ttl" mapstructure:"config_ttl"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Scheduler   SchedulerConfig `koanf:"scheduler" mapstructure:"scheduler"`
	Ingest      IngestConfig    `koanf:"ingest" mapstructure:"ingest"`
	Publisher   PublisherConfig `koanf:"publisher" mapstructure:"publisher"`
	Cache       CacheConfig     `koanf:"cache" mapstructure:"cache"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "atlassian-sync",
		Scheduler: SchedulerConfig{
			TickInterval: defaultTickInterval,
			LeaseTimeout: defaultLeaseTimeout,
			BatchSize:    defaultBatchSize,
			Concurrency:  defaultConcurrency,
		},
		Ingest: IngestConfig{
			MaxPayloadBytes: defaultMaxPayloadBytes,
			DedupeTTL:       defaultDedupeTTL,
		},
		Publisher: PublisherConfig{
			Timeout: defaultPublishTimeout,
		},
		Cache: CacheConfig{
			ConfigTTL: defaultConfigCacheTTL,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Scheduler.TickInterval < 0 {
		return fmt.Errorf("core: scheduler.tick_interval must not be negative")
	}
	if c.Scheduler.LeaseTimeout <= 0 {
		return fmt.Errorf("core: scheduler.lease_timeout must be positive")
	}
	if c.Scheduler.BatchSize < 0 || c.Scheduler.Concurrency < 0 {
		return fmt.Errorf("core: scheduler.batch_size and scheduler.concurrency must not be negative")
	}
	if c.Scheduler.MaxBackoff < 0 {
		return fmt.Errorf("core: scheduler.max_backoff must not be negative")
	}
	if c.Publisher.Timeout > 0 && c.Scheduler.LeaseTimeout <= c.Publisher.Timeout {
		return fmt.Errorf(
			"core: scheduler.lease_timeout (%s) must exceed publisher.timeout (%s)",
			c.Scheduler.LeaseTimeout,
			c.Publisher.Timeout,
		)
	}
	if c.Ingest.MaxPayloadBytes < 0 {
		return fmt.Errorf("core: ingest.max_payload_bytes must not be negative")
	}
	return nil
}
