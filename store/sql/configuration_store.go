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

type ConfigurationStore struct {
	db   *bun.DB
	repo repository.Repository[*syncConfigurationRecord]
	now  func() time.Time
}

func NewConfigurationStore(db *bun.DB) (*ConfigurationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncConfigurationRecord](db, syncConfigurationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync configuration repository wiring: %w", err)
		}
	}
	return &ConfigurationStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *ConfigurationStore) Get(ctx context.Context, configID string) (core.SyncConfiguration, error) {
	if s == nil || s.db == nil {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: configuration store is not configured")
	}
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return core.SyncConfiguration{}, core.ErrNotFound
	}
	record := &syncConfigurationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", configID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.SyncConfiguration{}, core.ErrNotFound
		}
		return core.SyncConfiguration{}, err
	}
	return record.toDomain(), nil
}

func (s *ConfigurationStore) ListEnabled(ctx context.Context) ([]core.SyncConfiguration, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: configuration store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.enabled = ?", true)
		}),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.SyncConfiguration, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Save upserts by id. created_at is kept from the first write.
func (s *ConfigurationStore) Save(ctx context.Context, config core.SyncConfiguration) (core.SyncConfiguration, error) {
	if s == nil || s.db == nil {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: configuration store is not configured")
	}
	if err := config.Validate(); err != nil {
		return core.SyncConfiguration{}, err
	}
	now := s.now()
	if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}
	config.UpdatedAt = now
	record := newSyncConfigurationRecord(config)

	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("tenant_id = EXCLUDED.tenant_id").
		Set("name = EXCLUDED.name").
		Set("source = EXCLUDED.source").
		Set("batch_size = EXCLUDED.batch_size").
		Set("retry_limit = EXCLUDED.retry_limit").
		Set("retry_delay_ms = EXCLUDED.retry_delay_ms").
		Set("mapping_rules = EXCLUDED.mapping_rules").
		Set("enabled = EXCLUDED.enabled").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.SyncConfiguration{}, err
	}
	return s.Get(ctx, record.ID)
}

// Delete removes the configuration. The foreign key on sync_events detaches
// its events, which the scheduler then dead-letters as orphans.
func (s *ConfigurationStore) Delete(ctx context.Context, configID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: configuration store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*syncConfigurationRecord)(nil)).
		Where("id = ?", strings.TrimSpace(configID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.ErrNotFound
	}
	return nil
}
