package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-atlassian-sync/adapters/gologger"
	"github.com/goliatone/go-atlassian-sync/core"
	syncmigrations "github.com/goliatone/go-atlassian-sync/migrations"
	"github.com/goliatone/go-atlassian-sync/publisher"
	"github.com/goliatone/go-atlassian-sync/ratelimit"
	sqlstore "github.com/goliatone/go-atlassian-sync/store/sql"
	"github.com/goliatone/go-atlassian-sync/transform"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type persistenceConfig struct {
	driver      string
	server      string
	debug       bool
	pingTimeout time.Duration
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return c.pingTimeout }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-atlassian-sync" }

// runtime holds the collaborators shared by every subcommand.
type runtime struct {
	cfg       fileConfig
	loggers   gologger.Loggers
	client    *persistence.Client
	factory   *sqlstore.RepositoryFactory
	service   *core.Service
	publisher *publisher.Publisher
	scheduler *core.Scheduler
}

type runtimeOptions struct {
	migrate   bool
	scheduler bool
}

func openRuntime(ctx context.Context, cfg fileConfig, provider glog.LoggerProvider, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{
		cfg:     cfg,
		loggers: gologger.ComponentLoggers(provider, nil),
	}
	client, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	rt.client = client

	if opts.migrate || cfg.Database.AutoMigrate {
		if err := syncmigrations.Apply(ctx, client, cfg.Database.Driver); err != nil {
			rt.Close()
			return nil, err
		}
	}

	serviceCfg, err := core.NewCfgxConfigProvider(core.NewStaticConfigLoader(cfg.rawServiceConfig())).
		Load(ctx, core.DefaultConfig())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load service config: %w", err)
	}

	cacheConfig := repositorycache.DefaultConfig()
	if serviceCfg.Cache.ConfigTTL > 0 {
		cacheConfig.TTL = serviceCfg.Cache.ConfigTTL
	}
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("configuration cache: %w", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithConfigurationCache(cacheService))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.factory = factory

	serviceOpts := []core.Option{
		core.WithLoggerProvider(rt.loggers.Provider),
		core.WithRepositoryFactory(factory),
		core.WithPersistenceClient(client),
		core.WithTransformer(transform.New()),
	}
	if strings.TrimSpace(serviceCfg.Publisher.BaseURL) != "" {
		kgClient, err := publisher.NewClient(serviceCfg.Publisher,
			publisher.WithThrottle(ratelimit.NewPolicy(ratelimit.NewMemoryStore())),
		)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("publisher client: %w", err)
		}
		pub, err := publisher.New(kgClient)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.publisher = pub
		serviceOpts = append(serviceOpts, core.WithPublisher(pub))
	}

	service, err := core.NewService(serviceCfg, serviceOpts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = service

	if err := rt.seedConfigurations(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	if opts.scheduler && !cfg.Scheduler.Disabled {
		if rt.publisher == nil {
			rt.Close()
			return nil, fmt.Errorf("publisher.base_url is required to run the scheduler")
		}
		schedulerOpts := []core.SchedulerOption{}
		if owner := strings.TrimSpace(cfg.Scheduler.Owner); owner != "" {
			schedulerOpts = append(schedulerOpts, core.WithSchedulerOwner(owner))
		}
		scheduler, err := service.NewScheduler(schedulerOpts...)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.scheduler = scheduler
	}
	return rt, nil
}

func (rt *runtime) seedConfigurations(ctx context.Context) error {
	if len(rt.cfg.Configurations) == 0 {
		return nil
	}
	writer := rt.factory.ConfigurationWriter()
	for _, seed := range rt.cfg.Configurations {
		config := seed.toDomain()
		existing, err := rt.factory.ConfigurationStore().Get(ctx, config.ID)
		if err == nil {
			config.CreatedAt = existing.CreatedAt
		}
		if _, err := writer.Save(ctx, config); err != nil {
			return fmt.Errorf("seed configuration %s: %w", config.ID, err)
		}
		rt.loggers.Sync.Info("sync configuration loaded",
			"config_id", config.ID,
			"tenant_id", config.TenantID,
			"source", config.Source,
			"enabled", config.Enabled,
		)
	}
	return nil
}

func (rt *runtime) Close() {
	if rt == nil || rt.client == nil {
		return
	}
	if err := rt.client.Close(); err != nil {
		rt.loggers.Sync.Warn("closing database failed", "error", err)
	}
	rt.client = nil
}

func openDatabase(cfg fileConfig) (*persistence.Client, error) {
	var (
		driverName string
		dialect    schema.Dialect
	)
	switch cfg.Database.Driver {
	case driverPostgres:
		driverName = "postgres"
		dialect = pgdialect.New()
	default:
		driverName = "sqlite3"
		dialect = sqlitedialect.New()
	}

	sqlDB, err := sql.Open(driverName, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
	}
	if cfg.Database.Driver == driverSQLite {
		// A single writer keeps sqlite from returning SQLITE_BUSY under ticks.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	client, err := persistence.New(persistenceConfig{
		driver:      driverName,
		server:      cfg.Database.DSN,
		debug:       cfg.Database.Debug,
		pingTimeout: cfg.Database.PingTimeout,
	}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}
	return client, nil
}

