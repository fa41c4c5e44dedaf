package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// SyncEventStore persists sync events. Every mutation issued on behalf of a
// lease is a conditional update on processing_status and lease_owner, so the
// row itself is the only coordination point between scheduler instances.
type SyncEventStore interface {
	CreateWithDelivery(ctx context.Context, event SyncEvent, delivery WebhookDelivery) (SyncEvent, WebhookDelivery, error)
	Get(ctx context.Context, tenantID string, eventID string) (SyncEvent, error)
	List(ctx context.Context, filter EventFilter) (EventPage, error)

	Lease(ctx context.Context, req LeaseRequest) ([]SyncEvent, error)
	ReclaimExpired(ctx context.Context, leasedBefore time.Time, now time.Time) (int, error)
	Complete(ctx context.Context, lease LeaseRef, outcome PublishOutcome, now time.Time) error
	Retry(ctx context.Context, req RetryRequest, now time.Time) error
	DeadLetter(ctx context.Context, req DeadLetterRequest) error

	Requeue(ctx context.Context, req RequeueRequest, audit AuditEntry) (SyncEvent, error)
}

type WebhookDeliveryStore interface {
	Get(ctx context.Context, tenantID string, deliveryID string) (WebhookDelivery, error)
	ListByEvent(ctx context.Context, tenantID string, eventID string) ([]WebhookDelivery, error)
	MarkOutcome(ctx context.Context, tenantID string, eventID string, status DeliveryStatus, cause string, at time.Time) error
}

type ConfigurationStore interface {
	Get(ctx context.Context, configID string) (SyncConfiguration, error)
	ListEnabled(ctx context.Context) ([]SyncConfiguration, error)
}

type ConfigurationWriter interface {
	Save(ctx context.Context, config SyncConfiguration) (SyncConfiguration, error)
	Delete(ctx context.Context, configID string) error
}

type AuditLogReader interface {
	ListByEvent(ctx context.Context, tenantID string, eventID string) ([]AuditEntry, error)
}

// Transformer maps one event payload into downstream operations. It must not
// perform I/O.
type Transformer interface {
	Transform(ctx context.Context, event SyncEvent, config SyncConfiguration) ([]DownstreamOperation, error)
}

type Publisher interface {
	Publish(ctx context.Context, op DownstreamOperation) (PublishResult, error)
}

type HealthChecker interface {
	Health(ctx context.Context) (map[string]any, error)
}

type BackoffPolicy interface {
	// NextAttemptAt returns when an event that has failed retryCount times
	// becomes eligible again.
	NextAttemptAt(failedAt time.Time, baseDelay time.Duration, retryCount int) time.Time
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// StoreProvider is implemented by repository factories able to hand out the
// full store set in one call.
type StoreProvider interface {
	SyncEventStore() SyncEventStore
	WebhookDeliveryStore() WebhookDeliveryStore
	ConfigurationStore() ConfigurationStore
	AuditLogReader() AuditLogReader
}

// UncachedConfigurationSource is implemented by providers whose
// ConfigurationStore sits behind a cache. The scheduler reads through the
// uncached store so a configuration change applies on the next attempt.
type UncachedConfigurationSource interface {
	UncachedConfigurationStore() ConfigurationStore
}
