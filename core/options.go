package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"github.com/google/uuid"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// RepositoryStoreFactory builds the store set from a persistence client.
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	eventStore        SyncEventStore
	deliveryStore     WebhookDeliveryStore
	configStore       ConfigurationStore
	schedulerConfigs  ConfigurationStore
	auditReader       AuditLogReader
	transformer       Transformer
	publisher         Publisher
	backoff           BackoffPolicy
	clock             func() time.Time
	idGenerator       func() string
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithSyncEventStore(store SyncEventStore) Option {
	return func(b *serviceBuilder) {
		b.eventStore = store
	}
}

func WithWebhookDeliveryStore(store WebhookDeliveryStore) Option {
	return func(b *serviceBuilder) {
		b.deliveryStore = store
	}
}

func WithConfigurationStore(store ConfigurationStore) Option {
	return func(b *serviceBuilder) {
		b.configStore = store
	}
}

// WithSchedulerConfigurationStore sets the store schedulers resolve
// configurations from. It defaults to the uncached store of the repository
// factory, then to the configuration store.
func WithSchedulerConfigurationStore(store ConfigurationStore) Option {
	return func(b *serviceBuilder) {
		b.schedulerConfigs = store
	}
}

func WithAuditLogReader(reader AuditLogReader) Option {
	return func(b *serviceBuilder) {
		b.auditReader = reader
	}
}

func WithTransformer(transformer Transformer) Option {
	return func(b *serviceBuilder) {
		b.transformer = transformer
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(b *serviceBuilder) {
		b.publisher = publisher
	}
}

func WithBackoffPolicy(policy BackoffPolicy) Option {
	return func(b *serviceBuilder) {
		b.backoff = policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = now
	}
}

func WithIDGenerator(generator func() string) Option {
	return func(b *serviceBuilder) {
		b.idGenerator = generator
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("sync", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		clock:           defaultClock,
		idGenerator:     uuid.NewString,
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return syncErrorMapper(err)
}

func defaultClock() time.Time {
	return time.Now().UTC()
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// NewStaticConfigLoader returns a loader serving a fixed raw map.
func NewStaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	scheduler := map[string]any{}
	if includeZero || cfg.Scheduler.TickInterval != 0 {
		scheduler["tick_interval"] = cfg.Scheduler.TickInterval
	}
	if includeZero || cfg.Scheduler.LeaseTimeout != 0 {
		scheduler["lease_timeout"] = cfg.Scheduler.LeaseTimeout
	}
	if includeZero || cfg.Scheduler.BatchSize != 0 {
		scheduler["batch_size"] = cfg.Scheduler.BatchSize
	}
	if includeZero || cfg.Scheduler.Concurrency != 0 {
		scheduler["concurrency"] = cfg.Scheduler.Concurrency
	}
	if includeZero || cfg.Scheduler.MaxBackoff != 0 {
		scheduler["max_backoff"] = cfg.Scheduler.MaxBackoff
	}
	if includeZero || cfg.Scheduler.NonRetryableDeadLetters {
		scheduler["non_retryable_dead_letters"] = cfg.Scheduler.NonRetryableDeadLetters
	}
	if includeZero || strings.TrimSpace(cfg.Scheduler.Owner) != "" {
		scheduler["owner"] = cfg.Scheduler.Owner
	}
	if len(scheduler) > 0 {
		layer["scheduler"] = scheduler
	}

	ingest := map[string]any{}
	if includeZero || cfg.Ingest.MaxPayloadBytes != 0 {
		ingest["max_payload_bytes"] = cfg.Ingest.MaxPayloadBytes
	}
	if includeZero || cfg.Ingest.DedupeTTL != 0 {
		ingest["dedupe_ttl"] = cfg.Ingest.DedupeTTL
	}
	if len(ingest) > 0 {
		layer["ingest"] = ingest
	}

	publisher := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Publisher.BaseURL) != "" {
		publisher["base_url"] = cfg.Publisher.BaseURL
	}
	if includeZero || strings.TrimSpace(cfg.Publisher.APIKey) != "" {
		publisher["api_key"] = cfg.Publisher.APIKey
	}
	if includeZero || cfg.Publisher.Timeout != 0 {
		publisher["timeout"] = cfg.Publisher.Timeout
	}
	if len(publisher) > 0 {
		layer["publisher"] = publisher
	}

	if includeZero || cfg.Cache.ConfigTTL != 0 {
		layer["cache"] = map[string]any{
			"config_ttl": cfg.Cache.ConfigTTL,
		}
	}
	return layer
}
