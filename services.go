package atlassiansync

import "github.com/goliatone/go-atlassian-sync/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type Scheduler = core.Scheduler

type SyncConfiguration = core.SyncConfiguration
type SyncEvent = core.SyncEvent
type WebhookDelivery = core.WebhookDelivery
type AuditEntry = core.AuditEntry
type ProcessingStatus = core.ProcessingStatus

type EnqueueRequest = core.EnqueueRequest
type EnqueueResult = core.EnqueueResult

type RequeueRequest = core.RequeueRequest

type TickStats = core.TickStats

type Transformer = core.Transformer
type Publisher = core.Publisher

var (
	WithLogger                      = core.WithLogger
	WithLoggerProvider              = core.WithLoggerProvider
	WithMetricsRecorder             = core.WithMetricsRecorder
	WithErrorMapper                 = core.WithErrorMapper
	WithPersistenceClient           = core.WithPersistenceClient
	WithRepositoryFactory           = core.WithRepositoryFactory
	WithConfigProvider              = core.WithConfigProvider
	WithOptionsResolver             = core.WithOptionsResolver
	WithSyncEventStore              = core.WithSyncEventStore
	WithWebhookDeliveryStore        = core.WithWebhookDeliveryStore
	WithConfigurationStore          = core.WithConfigurationStore
	WithAuditLogReader              = core.WithAuditLogReader
	WithTransformer                 = core.WithTransformer
	WithPublisher                   = core.WithPublisher
	WithBackoffPolicy               = core.WithBackoffPolicy
	WithClock                       = core.WithClock
	WithIDGenerator                 = core.WithIDGenerator
	WithSchedulerOwner              = core.WithSchedulerOwner
	WithSchedulerClock              = core.WithSchedulerClock
	WithSchedulerConfigurationStore = core.WithSchedulerConfigurationStore
	NewMemoryStore                  = core.NewMemoryStore
	NewCfgxConfigProvider           = core.NewCfgxConfigProvider
	NewStaticConfigLoader           = core.NewStaticConfigLoader
	MapError                        = core.MapError
	IsRetryable                     = core.IsRetryable
	HasTextCode                     = core.HasTextCode
	ErrNotFound                     = core.ErrNotFound
	ErrInvalidTransition            = core.ErrInvalidSyncEventTransition
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
