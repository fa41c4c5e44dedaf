package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const maxErrorMessageLength = 4096

type SchedulerDependencies struct {
	Events      SyncEventStore
	Deliveries  WebhookDeliveryStore
	Configs     ConfigurationStore
	Transformer Transformer
	Publisher   Publisher
	Backoff     BackoffPolicy
	Logger      Logger
	Metrics     MetricsRecorder
	Clock       func() time.Time
}

type SchedulerOption func(*Scheduler)

// WithSchedulerOwner sets the lease owner recorded on leased rows. Each
// scheduler instance sharing a store must use a distinct owner.
func WithSchedulerOwner(owner string) SchedulerOption {
	return func(s *Scheduler) {
		if trimmed := strings.TrimSpace(owner); trimmed != "" {
			s.owner = trimmed
		}
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler drains PENDING sync events. Instances coordinate only through
// conditional updates in the SyncEventStore.
type Scheduler struct {
	telemetry

	config      SchedulerConfig
	events      SyncEventStore
	deliveries  WebhookDeliveryStore
	configs     ConfigurationStore
	transformer Transformer
	publisher   Publisher
	backoff     BackoffPolicy
	owner       string
	now         func() time.Time

	tickMu sync.Mutex
}

func NewScheduler(cfg SchedulerConfig, deps SchedulerDependencies, opts ...SchedulerOption) (*Scheduler, error) {
	if deps.Events == nil {
		return nil, fmt.Errorf("core: scheduler requires a sync event store")
	}
	if deps.Configs == nil {
		return nil, fmt.Errorf("core: scheduler requires a configuration store")
	}
	if deps.Transformer == nil {
		return nil, fmt.Errorf("core: scheduler requires a transformer")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("core: scheduler requires a publisher")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.BatchSize
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = defaultLeaseTimeout
	}
	if deps.Backoff == nil {
		deps.Backoff = ExponentialBackoff{Max: cfg.MaxBackoff}
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetricsRecorder{}
	}
	if deps.Clock == nil {
		deps.Clock = defaultClock
	}

	scheduler := &Scheduler{
		telemetry: telemetry{
			logger:  glog.Ensure(deps.Logger),
			metrics: deps.Metrics,
		},
		config:      cfg,
		events:      deps.Events,
		deliveries:  deps.Deliveries,
		configs:     deps.Configs,
		transformer: deps.Transformer,
		publisher:   deps.Publisher,
		backoff:     deps.Backoff,
		owner:       strings.TrimSpace(cfg.Owner),
		now:         deps.Clock,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(scheduler)
	}
	if scheduler.owner == "" {
		scheduler.owner = "scheduler-" + uuid.NewString()
	}
	return scheduler, nil
}

func (s *Scheduler) Owner() string {
	if s == nil {
		return ""
	}
	return s.owner
}

// Run ticks until ctx is cancelled. A failed tick is logged and the loop
// continues on the next interval.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if s == nil {
		return fmt.Errorf("core: scheduler is nil")
	}
	if interval <= 0 {
		interval = s.config.TickInterval
	}
	if interval <= 0 {
		interval = defaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logError(ctx, "scheduler tick failed", map[string]any{
				"owner": s.owner,
				"error": err.Error(),
			})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type leasedEvent struct {
	event SyncEvent
}

// Tick reclaims expired leases, leases eligible events and processes them.
// Processing failures are recorded on the events; only store failures are
// returned.
func (s *Scheduler) Tick(ctx context.Context) (stats TickStats, err error) {
	if s == nil {
		return TickStats{}, fmt.Errorf("core: scheduler is nil")
	}
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "scheduler_tick", err, map[string]any{
			"owner":         s.owner,
			"reclaimed":     stats.Reclaimed,
			"leased":        stats.Leased,
			"completed":     stats.Completed,
			"retried":       stats.Retried,
			"dead_lettered": stats.DeadLettered,
			"lease_lost":    stats.LeaseLost,
		})
	}()

	now := s.now()
	reclaimed, err := s.events.ReclaimExpired(ctx, now.Add(-s.config.LeaseTimeout), now)
	if err != nil {
		return stats, fmt.Errorf("core: reclaim expired leases: %w", err)
	}
	stats.Reclaimed = reclaimed

	leased, leaseErr := s.lease(ctx, now)
	stats.Leased = len(leased)

	var (
		mu        sync.Mutex
		storeErrs []error
		group     errgroup.Group
	)
	group.SetLimit(s.config.Concurrency)
	for _, item := range leased {
		group.Go(func() error {
			outcome, processErr := s.process(ctx, item.event)
			mu.Lock()
			defer mu.Unlock()
			stats = stats.add(outcome)
			if processErr != nil {
				storeErrs = append(storeErrs, processErr)
			}
			return nil
		})
	}
	_ = group.Wait()

	return stats, errors.Join(append([]error{leaseErr}, storeErrs...)...)
}

func (s *Scheduler) lease(ctx context.Context, now time.Time) ([]leasedEvent, error) {
	configs, err := s.configs.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("core: list enabled configurations: %w", err)
	}

	var leaseErrs []error
	leased := []leasedEvent{}
	for _, config := range configs {
		events, err := s.events.Lease(ctx, LeaseRequest{
			ConfigID: config.ID,
			Limit:    config.EffectiveBatchSize(s.config.BatchSize),
			Owner:    s.owner,
			Now:      now,
		})
		if err != nil {
			leaseErrs = append(leaseErrs, fmt.Errorf("core: lease events for config %q: %w", config.ID, err))
			continue
		}
		for _, event := range events {
			leased = append(leased, leasedEvent{event: event})
		}
	}

	orphans, err := s.events.Lease(ctx, LeaseRequest{
		Orphaned: true,
		Limit:    s.config.BatchSize,
		Owner:    s.owner,
		Now:      now,
	})
	if err != nil {
		leaseErrs = append(leaseErrs, fmt.Errorf("core: lease orphaned events: %w", err))
	}
	for _, event := range orphans {
		leased = append(leased, leasedEvent{event: event})
	}
	return leased, errors.Join(leaseErrs...)
}

// process runs one leased event to its next state. The returned stats carry
// exactly one outcome; the error is set only when recording the outcome fails.
func (s *Scheduler) process(ctx context.Context, event SyncEvent) (TickStats, error) {
	lease := event.LeaseRef()
	if lease.Owner == "" {
		lease.Owner = s.owner
	}
	fields := map[string]any{
		"tenant_id":   event.TenantID,
		"event_id":    event.ID,
		"config_id":   event.ConfigIDValue(),
		"source":      event.Source,
		"retry_count": event.RetryCount,
	}

	configID := event.ConfigIDValue()
	if configID == "" {
		return s.deadLetter(ctx, lease, fields, "sync configuration was deleted", false)
	}
	config, err := s.configs.Get(ctx, configID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.deadLetter(ctx, lease, fields, fmt.Sprintf("sync configuration %q not found", configID), false)
		}
		// Left PROCESSING; the lease timeout hands it back once the store recovers.
		return TickStats{}, fmt.Errorf("core: resolve configuration %q for event %s: %w", configID, event.ID, err)
	}

	outcome, err := s.execute(ctx, event, config)
	if err != nil {
		return s.fail(ctx, event, lease, config, fields, err)
	}

	if err := s.events.Complete(ctx, lease, outcome, s.now()); err != nil {
		return s.leaseWriteFailed(ctx, fields, "complete", err)
	}
	s.markDelivery(ctx, event, DeliveryStatusProcessed, "")
	fields["kg_entity_id"] = outcome.KGEntityID
	fields["kg_relationships"] = len(outcome.KGRelationshipIDs)
	s.logInfo(ctx, "sync event completed", fields)
	return TickStats{Completed: 1}, nil
}

// execute transforms the payload and publishes every operation in order.
// Any failing operation fails the attempt, but later operations still run.
func (s *Scheduler) execute(ctx context.Context, event SyncEvent, config SyncConfiguration) (PublishOutcome, error) {
	operations, err := s.transformer.Transform(ctx, event, config)
	if err != nil {
		return PublishOutcome{}, err
	}
	for index, op := range operations {
		if err := op.Validate(); err != nil {
			return PublishOutcome{}, WrapTransformError(err, "sync: transformer produced an invalid operation", map[string]any{
				"operation_index": index,
			})
		}
	}

	outcome := PublishOutcome{KGRelationshipIDs: []string{}}
	var failures []error
	for index, op := range operations {
		result, err := s.publisher.Publish(ctx, op)
		if err != nil {
			failures = append(failures, fmt.Errorf("publish %s (operation %d of %d): %w", op.Kind, index+1, len(operations), err))
			continue
		}
		switch op.Kind {
		case OperationCreateEntity:
			if outcome.KGEntityID == "" {
				outcome.KGEntityID = result.ID
			}
		case OperationLinkEntities:
			if result.ID != "" {
				outcome.KGRelationshipIDs = append(outcome.KGRelationshipIDs, result.ID)
			}
		}
	}
	if len(failures) > 0 {
		return PublishOutcome{}, errors.Join(failures...)
	}
	return outcome, nil
}

func (s *Scheduler) fail(
	ctx context.Context,
	event SyncEvent,
	lease LeaseRef,
	config SyncConfiguration,
	fields map[string]any,
	cause error,
) (TickStats, error) {
	retryCount := event.RetryCount + 1
	message := truncateMessage(cause.Error())
	fields["error"] = message
	fields["retry_count"] = retryCount
	fields["retry_limit"] = config.RetryLimit

	nonRetryable := s.config.NonRetryableDeadLetters && !IsRetryable(cause)
	if retryCount >= config.RetryLimit || nonRetryable {
		fields["non_retryable"] = nonRetryable
		return s.deadLetter(ctx, lease, fields, message, true)
	}

	failedAt := s.now()
	nextAttemptAt := s.backoff.NextAttemptAt(failedAt, config.RetryDelay, retryCount)
	if err := s.events.Retry(ctx, RetryRequest{
		Lease:         lease,
		Cause:         message,
		NextAttemptAt: nextAttemptAt,
	}, failedAt); err != nil {
		return s.leaseWriteFailed(ctx, fields, "retry", err)
	}
	fields["next_attempt_at"] = nextAttemptAt.Format(time.RFC3339Nano)
	s.logWarn(ctx, "sync event attempt failed", fields)
	return TickStats{Retried: 1}, nil
}

func (s *Scheduler) deadLetter(
	ctx context.Context,
	lease LeaseRef,
	fields map[string]any,
	cause string,
	countAttempt bool,
) (TickStats, error) {
	cause = truncateMessage(cause)
	if err := s.events.DeadLetter(ctx, DeadLetterRequest{
		Lease:        lease,
		Cause:        cause,
		CountAttempt: countAttempt,
		FailedAt:     s.now(),
	}); err != nil {
		return s.leaseWriteFailed(ctx, fields, "dead_letter", err)
	}
	s.markDelivery(ctx, SyncEvent{ID: lease.EventID, TenantID: lease.TenantID}, DeliveryStatusFailed, cause)
	fields["dlq_error"] = cause
	s.logError(ctx, "sync event dead-lettered", fields)
	return TickStats{DeadLettered: 1}, nil
}

func (s *Scheduler) leaseWriteFailed(ctx context.Context, fields map[string]any, step string, err error) (TickStats, error) {
	if errors.Is(err, ErrLeaseLost) {
		fields["step"] = step
		s.logWarn(ctx, "sync event lease lost before outcome was recorded", fields)
		return TickStats{LeaseLost: 1}, nil
	}
	return TickStats{}, fmt.Errorf("core: record %s for event %v: %w", step, fields["event_id"], err)
}

// markDelivery is best effort: the receipt is audit data and must not
// change the event outcome.
func (s *Scheduler) markDelivery(ctx context.Context, event SyncEvent, status DeliveryStatus, cause string) {
	if s.deliveries == nil {
		return
	}
	if err := s.deliveries.MarkOutcome(ctx, event.TenantID, event.ID, status, cause, s.now()); err != nil {
		s.logWarn(ctx, "webhook delivery outcome not recorded", map[string]any{
			"tenant_id": event.TenantID,
			"event_id":  event.ID,
			"status":    string(status),
			"error":     err.Error(),
		})
	}
}

func truncateMessage(message string) string {
	return TruncateUTF8(strings.TrimSpace(message), maxErrorMessageLength)
}
