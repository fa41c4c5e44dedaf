package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-atlassian-sync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// AuditLogStore reads sync_audit_log. Entries are written by
// SyncEventStore.Requeue inside the requeue transaction.
type AuditLogStore struct {
	db   *bun.DB
	repo repository.Repository[*auditLogRecord]
}

func NewAuditLogStore(db *bun.DB) (*AuditLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditLogRecord](db, auditLogHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit log repository wiring: %w", err)
		}
	}
	return &AuditLogStore{db: db, repo: repo}, nil
}

func (s *AuditLogStore) ListByEvent(ctx context.Context, tenantID string, eventID string) ([]core.AuditEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: audit log store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("event_id", "=", strings.TrimSpace(eventID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
