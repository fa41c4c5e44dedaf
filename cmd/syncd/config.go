package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-atlassian-sync/core"
	"github.com/goliatone/go-config/config"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	defaultHTTPAddress = ":8080"
	defaultSQLiteDSN   = "file:atlassian-sync.db?cache=shared&_foreign_keys=on&_busy_timeout=5000"

	envPrefix    = "SYNC_"
	envDelimiter = "__"
)

type fileConfig struct {
	ServiceName string `koanf:"service_name"`

	HTTP struct {
		Address string `koanf:"address"`
	} `koanf:"http"`

	Database struct {
		Driver      string        `koanf:"driver"`
		DSN         string        `koanf:"dsn"`
		Debug       bool          `koanf:"debug"`
		PingTimeout time.Duration `koanf:"ping_timeout"`
		AutoMigrate bool          `koanf:"auto_migrate"`
	} `koanf:"database"`

	Scheduler struct {
		TickInterval            time.Duration `koanf:"tick_interval"`
		LeaseTimeout            time.Duration `koanf:"lease_timeout"`
		BatchSize               int           `koanf:"batch_size"`
		Concurrency             int           `koanf:"concurrency"`
		MaxBackoff              time.Duration `koanf:"max_backoff"`
		NonRetryableDeadLetters bool          `koanf:"non_retryable_dead_letters"`
		Owner                   string        `koanf:"owner"`
		Disabled                bool          `koanf:"disabled"`
	} `koanf:"scheduler"`

	Ingest struct {
		MaxPayloadBytes int64         `koanf:"max_payload_bytes"`
		DedupeTTL       time.Duration `koanf:"dedupe_ttl"`
	} `koanf:"ingest"`

	Publisher struct {
		BaseURL string        `koanf:"base_url"`
		APIKey  string        `koanf:"api_key"`
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"publisher"`

	Cache struct {
		ConfigTTL time.Duration `koanf:"config_ttl"`
	} `koanf:"cache"`

	Webhooks struct {
		Secret  string            `koanf:"secret"`
		Secrets map[string]string `koanf:"secrets"`
		Sources []string          `koanf:"sources"`
	} `koanf:"webhooks"`

	Configurations []configurationSeed `koanf:"configurations"`
}

// configurationSeed is upserted at startup. Sync configurations have no
// admin API, so the file is the way operators manage them.
type configurationSeed struct {
	ID           string            `koanf:"id"`
	TenantID     string            `koanf:"tenant_id"`
	Name         string            `koanf:"name"`
	Source       string            `koanf:"source"`
	BatchSize    int               `koanf:"batch_size"`
	RetryLimit   int               `koanf:"retry_limit"`
	RetryDelay   time.Duration     `koanf:"retry_delay"`
	MappingRules core.MappingRules `koanf:"mapping_rules"`
	Enabled      *bool             `koanf:"enabled"`
}

func (s configurationSeed) toDomain() core.SyncConfiguration {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return core.SyncConfiguration{
		ID:           strings.TrimSpace(s.ID),
		TenantID:     strings.TrimSpace(s.TenantID),
		Name:         strings.TrimSpace(s.Name),
		Source:       strings.TrimSpace(s.Source),
		BatchSize:    s.BatchSize,
		RetryLimit:   s.RetryLimit,
		RetryDelay:   s.RetryDelay,
		MappingRules: s.MappingRules,
		Enabled:      enabled,
	}
}

func (c *fileConfig) Validate() error {
	if c.Database.Driver != driverSQLite && c.Database.Driver != driverPostgres {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required for %s", c.Database.Driver)
	}
	for index, seed := range c.Configurations {
		if err := seed.toDomain().Validate(); err != nil {
			return fmt.Errorf("configurations[%d]: %w", index, err)
		}
	}
	return nil
}

func normalizeFileConfig(c *fileConfig) error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "", "sqlite3":
		c.Database.Driver = driverSQLite
	case "postgresql", "pg":
		c.Database.Driver = driverPostgres
	}
	if strings.TrimSpace(c.Database.DSN) == "" && c.Database.Driver == driverSQLite {
		c.Database.DSN = defaultSQLiteDSN
	}
	return nil
}

func configDefaults() map[string]any {
	return map[string]any{
		"database.ping_timeout": "5s",
		"http.address":          defaultHTTPAddress,
	}
}

// loadConfig layers defaults, the file at path when set, and SYNC_ prefixed
// environment variables. Nested keys use a double underscore, so
// SYNC_DATABASE__DSN sets database.dsn.
func loadConfig(path string, logger glog.Logger) (fileConfig, error) {
	container := config.New(&fileConfig{}).
		WithLogger(glog.Ensure(logger)).
		WithNormalizer(normalizeFileConfig).
		WithProvider(config.DefaultValuesProvider[*fileConfig](configDefaults()))
	if path = strings.TrimSpace(path); path != "" {
		container.WithProvider(config.FileProvider[*fileConfig](path))
	}
	container.WithProvider(config.EnvProvider[*fileConfig](envPrefix, envDelimiter))

	if err := container.Load(context.Background()); err != nil {
		return fileConfig{}, fmt.Errorf("load config: %w", err)
	}
	return *container.Raw(), nil
}

// rawServiceConfig is the layer handed to the core cfgx provider. Zero values
// are omitted so core defaults survive.
func (c fileConfig) rawServiceConfig() map[string]any {
	raw := map[string]any{}
	if name := strings.TrimSpace(c.ServiceName); name != "" {
		raw["service_name"] = name
	}
	scheduler := map[string]any{}
	putDuration(scheduler, "tick_interval", c.Scheduler.TickInterval)
	putDuration(scheduler, "lease_timeout", c.Scheduler.LeaseTimeout)
	putDuration(scheduler, "max_backoff", c.Scheduler.MaxBackoff)
	putInt(scheduler, "batch_size", c.Scheduler.BatchSize)
	putInt(scheduler, "concurrency", c.Scheduler.Concurrency)
	if c.Scheduler.NonRetryableDeadLetters {
		scheduler["non_retryable_dead_letters"] = true
	}
	if owner := strings.TrimSpace(c.Scheduler.Owner); owner != "" {
		scheduler["owner"] = owner
	}
	putSection(raw, "scheduler", scheduler)

	ingest := map[string]any{}
	if c.Ingest.MaxPayloadBytes > 0 {
		ingest["max_payload_bytes"] = c.Ingest.MaxPayloadBytes
	}
	putDuration(ingest, "dedupe_ttl", c.Ingest.DedupeTTL)
	putSection(raw, "ingest", ingest)

	publisher := map[string]any{}
	if value := strings.TrimSpace(c.Publisher.BaseURL); value != "" {
		publisher["base_url"] = value
	}
	if value := strings.TrimSpace(c.Publisher.APIKey); value != "" {
		publisher["api_key"] = value
	}
	putDuration(publisher, "timeout", c.Publisher.Timeout)
	putSection(raw, "publisher", publisher)

	cache := map[string]any{}
	putDuration(cache, "config_ttl", c.Cache.ConfigTTL)
	putSection(raw, "cache", cache)
	return raw
}

func putDuration(section map[string]any, key string, value time.Duration) {
	if value > 0 {
		section[key] = value
	}
}

func putInt(section map[string]any, key string, value int) {
	if value > 0 {
		section[key] = value
	}
}

func putSection(raw map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		raw[key] = section
	}
}
