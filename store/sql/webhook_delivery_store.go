package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-atlassian-sync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// WebhookDeliveryStore is the append-only receipt log. Rows are inserted by
// SyncEventStore.CreateWithDelivery and only their outcome is updated here.
type WebhookDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	return &WebhookDeliveryStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *WebhookDeliveryStore) Get(ctx context.Context, tenantID string, deliveryID string) (core.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return core.WebhookDelivery{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	record := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookDelivery{}, core.ErrNotFound
		}
		return core.WebhookDelivery{}, err
	}
	return record.toDomain(), nil
}

func (s *WebhookDeliveryStore) ListByEvent(ctx context.Context, tenantID string, eventID string) ([]core.WebhookDelivery, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("sync_event_id", "=", strings.TrimSpace(eventID)),
		repository.OrderBy("received_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookDelivery, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// MarkOutcome records the terminal outcome of the linked event. A delivery
// already marked processed is left alone.
func (s *WebhookDeliveryStore) MarkOutcome(
	ctx context.Context,
	tenantID string,
	eventID string,
	status core.DeliveryStatus,
	cause string,
	at time.Time,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", string(status)).
		Set("error = ?", cause).
		Set("processed_at = ?", at.UTC()).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("sync_event_id = ?", strings.TrimSpace(eventID)).
		Where("status <> ?", string(core.DeliveryStatusProcessed)).
		Exec(ctx)
	return err
}
