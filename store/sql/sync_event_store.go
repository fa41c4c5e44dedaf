package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-atlassian-sync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// SyncEventStore persists sync events in sync_events. Lease, reclaim and the
// lease-bound writes are conditional updates, so any number of scheduler
// processes can share one table.
type SyncEventStore struct {
	db   *bun.DB
	repo repository.Repository[*syncEventRecord]
}

func NewSyncEventStore(db *bun.DB) (*SyncEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncEventRecord](db, syncEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync event repository wiring: %w", err)
		}
	}
	return &SyncEventStore{db: db, repo: repo}, nil
}

func (s *SyncEventStore) CreateWithDelivery(
	ctx context.Context,
	event core.SyncEvent,
	delivery core.WebhookDelivery,
) (core.SyncEvent, core.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return core.SyncEvent{}, core.WebhookDelivery{}, fmt.Errorf("sqlstore: sync event store is not configured")
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.TenantID) == "" {
		return core.SyncEvent{}, core.WebhookDelivery{}, fmt.Errorf("sqlstore: event id and tenant id are required")
	}
	if strings.TrimSpace(delivery.ID) == "" {
		return core.SyncEvent{}, core.WebhookDelivery{}, fmt.Errorf("sqlstore: delivery id is required")
	}
	if !json.Valid(event.Changes) {
		return core.SyncEvent{}, core.WebhookDelivery{}, fmt.Errorf("sqlstore: event changes must be valid json")
	}

	eventRecord := newSyncEventRecord(event)
	if delivery.SyncEventID == nil {
		eventID := eventRecord.ID
		delivery.SyncEventID = &eventID
	}
	if len(delivery.Payload) == 0 {
		delivery.Payload = event.Changes
	}
	deliveryRecord := newWebhookDeliveryRecord(delivery)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(eventRecord).Exec(ctx); err != nil {
			return fmt.Errorf("sqlstore: insert sync event: %w", err)
		}
		if _, err := tx.NewInsert().Model(deliveryRecord).Exec(ctx); err != nil {
			return fmt.Errorf("sqlstore: insert webhook delivery: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.SyncEvent{}, core.WebhookDelivery{}, err
	}
	return eventRecord.toDomain(), deliveryRecord.toDomain(), nil
}

func (s *SyncEventStore) Get(ctx context.Context, tenantID string, eventID string) (core.SyncEvent, error) {
	if s == nil || s.db == nil {
		return core.SyncEvent{}, fmt.Errorf("sqlstore: sync event store is not configured")
	}
	record, err := s.get(ctx, s.db, tenantID, eventID)
	if err != nil {
		return core.SyncEvent{}, err
	}
	return record.toDomain(), nil
}

func (s *SyncEventStore) get(ctx context.Context, db bun.IDB, tenantID string, eventID string) (*syncEventRecord, error) {
	record := &syncEventRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *SyncEventStore) List(ctx context.Context, filter core.EventFilter) (core.EventPage, error) {
	if s == nil || s.repo == nil {
		return core.EventPage{}, fmt.Errorf("sqlstore: sync event store is not configured")
	}
	tenantID := strings.TrimSpace(filter.TenantID)
	if tenantID == "" {
		return core.EventPage{}, fmt.Errorf("sqlstore: tenant id is required")
	}
	page, perPage := core.NormalizePage(filter.Page, filter.PerPage)
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.SelectBy("tenant_id", "=", tenantID),
		repository.OrderBy("event_timestamp DESC"),
		repository.OrderBy("id DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("processing_status", "=", status))
	}
	if configID := strings.TrimSpace(filter.ConfigID); configID != "" {
		selectors = append(selectors, repository.SelectBy("config_id", "=", configID))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.EventPage{}, err
	}
	items := make([]core.SyncEvent, 0, len(records))
	for _, record := range records {
		items = append(items, record.toDomain())
	}
	return core.EventPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

// Lease flips up to req.Limit eligible PENDING events to PROCESSING in one
// statement. The re-check of processing_status in the UPDATE makes a row
// claimable by at most one caller even when two CTEs select it.
func (s *SyncEventStore) Lease(ctx context.Context, req core.LeaseRequest) ([]core.SyncEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: sync event store is not configured")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := req.Now.UTC()
	if req.Now.IsZero() {
		now = time.Now().UTC()
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	owner := strings.TrimSpace(req.Owner)

	var (
		scope string
		args  []any
	)
	if req.Orphaned {
		scope = `(se.config_id IS NULL OR NOT EXISTS (
		SELECT 1 FROM sync_configurations AS sc WHERE sc.id = se.config_id
	))`
	} else {
		scope = `se.config_id = ?
	  AND EXISTS (
		SELECT 1 FROM sync_configurations AS sc WHERE sc.id = se.config_id AND sc.enabled = ?
	)`
		args = append(args, strings.TrimSpace(req.ConfigID), true)
	}

	query := `
WITH claimed AS (
	SELECT se.id
	FROM sync_events AS se
	WHERE se.processing_status = ?
	  AND (se.next_attempt_at IS NULL OR se.next_attempt_at <= ?)
	  AND ` + scope + `
	ORDER BY se.event_timestamp ASC, se.id ASC
	LIMIT ?` + s.skipLocked() + `
)
UPDATE sync_events
SET processing_status = ?, leased_at = ?, lease_owner = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND processing_status = ?
RETURNING` + syncEventColumns

	queryArgs := []any{string(core.StatusPending), now}
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs,
		limit,
		string(core.StatusProcessing),
		now,
		owner,
		now,
		string(core.StatusPending),
	)

	var records []syncEventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewRaw(query, queryArgs...).Scan(ctx, &records)
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].ID < records[j].ID
		}
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	events := make([]core.SyncEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.toDomain())
	}
	return events, nil
}

func (s *SyncEventStore) skipLocked() string {
	if s.db.Dialect().Name() == dialect.PG {
		return "\n\tFOR UPDATE SKIP LOCKED"
	}
	return ""
}

func (s *SyncEventStore) ReclaimExpired(ctx context.Context, leasedBefore time.Time, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: sync event store is not configured")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res, err := s.db.NewUpdate().
		Model((*syncEventRecord)(nil)).
		Set("processing_status = ?", string(core.StatusPending)).
		Set("leased_at = NULL").
		Set("lease_owner = ?", "").
		Set("updated_at = ?", now.UTC()).
		Where("processing_status = ?", string(core.StatusProcessing)).
		Where("leased_at IS NOT NULL").
		Where("leased_at < ?", leasedBefore.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *SyncEventStore) Complete(ctx context.Context, lease core.LeaseRef, outcome core.PublishOutcome, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync event store is not configured")
	}
	if err := lease.Validate(); err != nil {
		return err
	}
	relationships, err := json.Marshal(append([]string{}, outcome.KGRelationshipIDs...))
	if err != nil {
		return err
	}
	query := s.leasedUpdate(lease).
		Set("processing_status = ?", string(core.StatusCompleted)).
		Set("error_message = ?", "").
		Set("kg_entity_id = ?", strings.TrimSpace(outcome.KGEntityID)).
		Set("kg_relationship_ids = ?", string(relationships)).
		Set("next_attempt_at = NULL").
		Set("leased_at = NULL").
		Set("lease_owner = ?", "").
		Set("updated_at = ?", now.UTC())
	return execLeased(ctx, query)
}

func (s *SyncEventStore) Retry(ctx context.Context, req core.RetryRequest, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync event store is not configured")
	}
	if err := req.Lease.Validate(); err != nil {
		return err
	}
	query := s.leasedUpdate(req.Lease).
		Set("processing_status = ?", string(core.StatusPending)).
		Set("retry_count = retry_count + 1").
		Set("error_message = ?", req.Cause).
		Set("next_attempt_at = ?", req.NextAttemptAt.UTC()).
		Set("leased_at = NULL").
		Set("lease_owner = ?", "").
		Set("updated_at = ?", now.UTC())
	return execLeased(ctx, query)
}

// DeadLetter snapshots the payload, cause and attempt count alongside the
// status change. SET expressions read pre-update values, so dlq_attempts
// equals the incremented retry_count.
func (s *SyncEventStore) DeadLetter(ctx context.Context, req core.DeadLetterRequest) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync event store is not configured")
	}
	if err := req.Lease.Validate(); err != nil {
		return err
	}
	failedAt := req.FailedAt.UTC()
	if req.FailedAt.IsZero() {
		failedAt = time.Now().UTC()
	}
	increment := 0
	if req.CountAttempt {
		increment = 1
	}
	query := s.leasedUpdate(req.Lease).
		Set("processing_status = ?", string(core.StatusDeadLetter)).
		Set("retry_count = retry_count + ?", increment).
		Set("error_message = ?", req.Cause).
		Set("dlq_payload = changes").
		Set("dlq_error = ?", req.Cause).
		Set("dlq_failed_at = ?", failedAt).
		Set("dlq_attempts = retry_count + ?", increment).
		Set("next_attempt_at = NULL").
		Set("leased_at = NULL").
		Set("lease_owner = ?", "").
		Set("updated_at = ?", failedAt)
	return execLeased(ctx, query)
}

func (s *SyncEventStore) leasedUpdate(lease core.LeaseRef) *bun.UpdateQuery {
	return s.db.NewUpdate().
		Model((*syncEventRecord)(nil)).
		Where("tenant_id = ?", strings.TrimSpace(lease.TenantID)).
		Where("id = ?", strings.TrimSpace(lease.EventID)).
		Where("processing_status = ?", string(core.StatusProcessing)).
		Where("lease_owner = ?", strings.TrimSpace(lease.Owner))
}

func execLeased(ctx context.Context, query *bun.UpdateQuery) error {
	res, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrLeaseLost
	}
	return nil
}

// Requeue resets a dead-lettered event and appends the audit entry in one
// transaction. The dead-letter snapshot columns are left untouched.
func (s *SyncEventStore) Requeue(ctx context.Context, req core.RequeueRequest, audit core.AuditEntry) (core.SyncEvent, error) {
	if s == nil || s.db == nil {
		return core.SyncEvent{}, fmt.Errorf("sqlstore: sync event store is not configured")
	}
	tenantID := strings.TrimSpace(req.TenantID)
	eventID := strings.TrimSpace(req.EventID)
	now := audit.CreatedAt.UTC()
	if audit.CreatedAt.IsZero() {
		now = time.Now().UTC()
	}

	var result core.SyncEvent
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := s.get(ctx, tx, tenantID, eventID)
		if err != nil {
			return err
		}
		if current.ProcessingStatus != string(core.StatusDeadLetter) {
			result = current.toDomain()
			return fmt.Errorf("%w: %s -> %s", core.ErrInvalidSyncEventTransition, current.ProcessingStatus, core.StatusPending)
		}

		res, err := tx.NewUpdate().
			Model((*syncEventRecord)(nil)).
			Set("processing_status = ?", string(core.StatusPending)).
			Set("retry_count = 0").
			Set("error_message = ?", "").
			Set("next_attempt_at = NULL").
			Set("leased_at = NULL").
			Set("lease_owner = ?", "").
			Set("updated_at = ?", now).
			Where("tenant_id = ?", tenantID).
			Where("id = ?", eventID).
			Where("processing_status = ?", string(core.StatusDeadLetter)).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			result = current.toDomain()
			return fmt.Errorf("%w: %s -> %s", core.ErrInvalidSyncEventTransition, current.ProcessingStatus, core.StatusPending)
		}

		audit.TenantID = tenantID
		audit.EventID = eventID
		audit.FromStatus = core.StatusDeadLetter
		audit.ToStatus = core.StatusPending
		audit.CreatedAt = now
		if _, err := tx.NewInsert().Model(newAuditLogRecord(audit)).Exec(ctx); err != nil {
			return fmt.Errorf("sqlstore: insert audit entry: %w", err)
		}

		updated, err := s.get(ctx, tx, tenantID, eventID)
		if err != nil {
			return err
		}
		result = updated.toDomain()
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}
