package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

type Service struct {
	telemetry

	config            Config
	loggerProvider    LoggerProvider
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	eventStore        SyncEventStore
	deliveryStore     WebhookDeliveryStore
	configStore       ConfigurationStore
	schedulerConfigs  ConfigurationStore
	auditReader       AuditLogReader
	transformer       Transformer
	publisher         Publisher
	backoff           BackoffPolicy
	now               func() time.Time
	newID             func() string
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("sync", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("sync"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = defaultClock
	}
	if builder.idGenerator == nil {
		builder.idGenerator = uuid.NewString
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.backoff == nil {
		builder.backoff = ExponentialBackoff{Max: finalConfig.Scheduler.MaxBackoff}
	}

	if err := resolveStores(&builder); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.eventStore == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: sync event store is required"))
	}
	if builder.configStore == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: configuration store is required"))
	}
	if builder.schedulerConfigs == nil {
		builder.schedulerConfigs = builder.configStore
	}

	return &Service{
		telemetry: telemetry{
			logger:  logger,
			metrics: builder.metricsRecorder,
		},
		config:            finalConfig,
		loggerProvider:    provider,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		eventStore:        builder.eventStore,
		deliveryStore:     builder.deliveryStore,
		configStore:       builder.configStore,
		schedulerConfigs:  builder.schedulerConfigs,
		auditReader:       builder.auditReader,
		transformer:       builder.transformer,
		publisher:         builder.publisher,
		backoff:           builder.backoff,
		now:               builder.clock,
		newID:             builder.idGenerator,
	}, nil
}

func resolveStores(builder *serviceBuilder) error {
	if builder.repositoryFactory == nil {
		return nil
	}
	var provider StoreProvider
	switch factory := builder.repositoryFactory.(type) {
	case RepositoryStoreFactory:
		built, err := factory.BuildStores(builder.persistenceClient)
		if err != nil {
			return err
		}
		provider = built
	case StoreProvider:
		provider = factory
	}
	if provider == nil {
		return nil
	}
	if builder.eventStore == nil {
		builder.eventStore = provider.SyncEventStore()
	}
	if builder.deliveryStore == nil {
		builder.deliveryStore = provider.WebhookDeliveryStore()
	}
	if builder.configStore == nil {
		builder.configStore = provider.ConfigurationStore()
	}
	if uncached, ok := provider.(UncachedConfigurationSource); ok && builder.schedulerConfigs == nil {
		builder.schedulerConfigs = uncached.UncachedConfigurationStore()
	}
	if builder.auditReader == nil {
		builder.auditReader = provider.AuditLogReader()
	}
	return nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return glog.Nop()
	}
	return s.logger
}

func (s *Service) LoggerProvider() LoggerProvider {
	if s == nil {
		return nil
	}
	return s.loggerProvider
}

// Enqueue is the ingestion gate. It persists one PENDING sync event and the
// webhook delivery receipt that produced it, and never calls downstream.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (result EnqueueResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"config_id":   strings.TrimSpace(req.ConfigID),
		"source":      strings.TrimSpace(req.Source),
		"delivery_id": strings.TrimSpace(req.DeliveryID),
	}
	defer func() {
		if result.EventID != "" {
			fields["event_id"] = result.EventID
			fields["tenant_id"] = result.TenantID
		}
		s.observeOperation(ctx, startedAt, "enqueue", err, fields)
	}()

	configID := strings.TrimSpace(req.ConfigID)
	if configID == "" {
		return EnqueueResult{}, s.mapError(BadInputError("sync: config id is required", nil))
	}
	payload := []byte(strings.TrimSpace(string(req.Payload)))
	if len(payload) == 0 {
		return EnqueueResult{}, s.mapError(BadInputError("sync: webhook payload is required", fields))
	}
	if limit := s.config.Ingest.MaxPayloadBytes; limit > 0 && int64(len(payload)) > limit {
		return EnqueueResult{}, s.mapError(BadInputError(
			fmt.Sprintf("sync: webhook payload exceeds limit of %d bytes", limit),
			fields,
		))
	}
	if !json.Valid(payload) {
		return EnqueueResult{}, s.mapError(BadInputError("sync: webhook payload is not valid json", fields))
	}

	config, err := s.configStore.Get(ctx, configID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return EnqueueResult{}, s.mapError(ConfigNotFoundError(configID))
		}
		return EnqueueResult{}, s.mapError(PersistenceError(err, "resolve configuration"))
	}

	now := s.now()
	source := strings.ToLower(strings.TrimSpace(req.Source))
	if source == "" {
		source = strings.ToLower(strings.TrimSpace(config.Source))
	}
	eventType := strings.TrimSpace(req.Type)
	if eventType == "" {
		eventType = deriveEventType(payload)
	}
	fields["source"] = source
	fields["event_type"] = eventType

	eventID := s.newID()
	cfgID := config.ID
	event := SyncEvent{
		ID:        eventID,
		Type:      eventType,
		Source:    source,
		TenantID:  config.TenantID,
		ConfigID:  &cfgID,
		Changes:   json.RawMessage(payload),
		Status:    StatusPending,
		Timestamp: now,
		UpdatedAt: now,
	}
	delivery := WebhookDelivery{
		ID:          s.newID(),
		TenantID:    config.TenantID,
		ConfigID:    &cfgID,
		Source:      source,
		DeliveryID:  strings.TrimSpace(req.DeliveryID),
		Payload:     json.RawMessage(payload),
		Headers:     copyStringMap(req.Headers),
		SyncEventID: &eventID,
		Status:      DeliveryStatusReceived,
		ReceivedAt:  now,
	}

	created, receipt, err := s.eventStore.CreateWithDelivery(ctx, event, delivery)
	if err != nil {
		return EnqueueResult{}, s.mapError(PersistenceError(err, "enqueue sync event"))
	}
	return EnqueueResult{
		EventID:    created.ID,
		DeliveryID: receipt.ID,
		TenantID:   created.TenantID,
	}, nil
}

// Requeue moves a dead-lettered event back to PENDING with a fresh retry
// budget. The dead-letter snapshot is kept.
func (s *Service) Requeue(ctx context.Context, req RequeueRequest) (event SyncEvent, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"tenant_id": strings.TrimSpace(req.TenantID),
		"event_id":  strings.TrimSpace(req.EventID),
		"actor":     strings.TrimSpace(req.Actor),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "requeue", err, fields)
	}()

	req.TenantID = strings.TrimSpace(req.TenantID)
	req.EventID = strings.TrimSpace(req.EventID)
	req.Actor = strings.TrimSpace(req.Actor)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.TenantID == "" || req.EventID == "" {
		return SyncEvent{}, s.mapError(BadInputError("sync: tenant id and event id are required", fields))
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	now := s.now()
	audit := AuditEntry{
		ID:         s.newID(),
		TenantID:   req.TenantID,
		EventID:    req.EventID,
		Action:     AuditActionRequeued,
		Actor:      req.Actor,
		FromStatus: StatusDeadLetter,
		ToStatus:   StatusPending,
		Metadata:   map[string]any{"manual": true},
		CreatedAt:  now,
	}
	if req.Reason != "" {
		audit.Metadata["reason"] = req.Reason
	}

	event, err = s.eventStore.Requeue(ctx, req, audit)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return SyncEvent{}, s.mapError(EventNotFoundError(req.TenantID, req.EventID))
		case errors.Is(err, ErrInvalidSyncEventTransition):
			return SyncEvent{}, s.mapError(InvalidStateTransitionError(req.EventID, event.Status))
		default:
			return SyncEvent{}, s.mapError(PersistenceError(err, "requeue sync event"))
		}
	}
	return event, nil
}

func (s *Service) GetEvent(ctx context.Context, tenantID string, eventID string) (SyncEvent, error) {
	tenantID = strings.TrimSpace(tenantID)
	eventID = strings.TrimSpace(eventID)
	if tenantID == "" || eventID == "" {
		return SyncEvent{}, s.mapError(BadInputError("sync: tenant id and event id are required", nil))
	}
	event, err := s.eventStore.Get(ctx, tenantID, eventID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SyncEvent{}, s.mapError(EventNotFoundError(tenantID, eventID))
		}
		return SyncEvent{}, s.mapError(PersistenceError(err, "get sync event"))
	}
	return event, nil
}

func (s *Service) ListEvents(ctx context.Context, filter EventFilter) (EventPage, error) {
	filter.TenantID = strings.TrimSpace(filter.TenantID)
	if filter.TenantID == "" {
		return EventPage{}, s.mapError(BadInputError("sync: tenant id is required", nil))
	}
	if filter.Status != "" {
		status, err := ParseProcessingStatus(string(filter.Status))
		if err != nil {
			return EventPage{}, s.mapError(BadInputError(err.Error(), map[string]any{"status": string(filter.Status)}))
		}
		filter.Status = status
	}
	page, err := s.eventStore.List(ctx, filter)
	if err != nil {
		return EventPage{}, s.mapError(PersistenceError(err, "list sync events"))
	}
	return page, nil
}

func (s *Service) ListDeadLetters(ctx context.Context, tenantID string, page int, perPage int) (EventPage, error) {
	return s.ListEvents(ctx, EventFilter{
		TenantID: tenantID,
		Status:   StatusDeadLetter,
		Page:     page,
		PerPage:  perPage,
	})
}

func (s *Service) ListAuditEntries(ctx context.Context, tenantID string, eventID string) ([]AuditEntry, error) {
	if s.auditReader == nil {
		return nil, s.mapError(fmt.Errorf("core: audit log reader is not configured"))
	}
	tenantID = strings.TrimSpace(tenantID)
	eventID = strings.TrimSpace(eventID)
	if tenantID == "" || eventID == "" {
		return nil, s.mapError(BadInputError("sync: tenant id and event id are required", nil))
	}
	entries, err := s.auditReader.ListByEvent(ctx, tenantID, eventID)
	if err != nil {
		return nil, s.mapError(PersistenceError(err, "list audit entries"))
	}
	return entries, nil
}

func (s *Service) ListDeliveries(ctx context.Context, tenantID string, eventID string) ([]WebhookDelivery, error) {
	if s.deliveryStore == nil {
		return nil, s.mapError(fmt.Errorf("core: webhook delivery store is not configured"))
	}
	tenantID = strings.TrimSpace(tenantID)
	eventID = strings.TrimSpace(eventID)
	if tenantID == "" || eventID == "" {
		return nil, s.mapError(BadInputError("sync: tenant id and event id are required", nil))
	}
	deliveries, err := s.deliveryStore.ListByEvent(ctx, tenantID, eventID)
	if err != nil {
		return nil, s.mapError(PersistenceError(err, "list webhook deliveries"))
	}
	return deliveries, nil
}

// NewScheduler builds a scheduler sharing the service stores, collaborators
// and configuration.
func (s *Service) NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	deps := SchedulerDependencies{
		Events:      s.eventStore,
		Deliveries:  s.deliveryStore,
		Configs:     s.schedulerConfigs,
		Transformer: s.transformer,
		Publisher:   s.publisher,
		Backoff:     s.backoff,
		Logger:      s.logger,
		Metrics:     s.metrics,
		Clock:       s.now,
	}
	return NewScheduler(s.config.Scheduler, deps, opts...)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

// deriveEventType reads the provider event name from the payload envelope.
func deriveEventType(payload []byte) string {
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "unknown"
	}
	for _, key := range []string{"webhookEvent", "eventType", "event"} {
		if value, ok := envelope[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return "unknown"
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
