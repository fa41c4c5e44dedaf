package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-atlassian-sync/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db           *bun.DB
	cacheService repositorycache.CacheService

	syncEventStore       *SyncEventStore
	webhookDeliveryStore *WebhookDeliveryStore
	configurationStore   *ConfigurationStore
	cachedConfigStore    *CachedConfigurationStore
	auditLogStore        *AuditLogStore
}

type FactoryOption func(*RepositoryFactory)

// WithConfigurationCache serves configuration reads through cacheService.
func WithConfigurationCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cacheService = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.syncEventStore != nil && f.configurationStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) SyncEventStore() core.SyncEventStore {
	if f == nil {
		return nil
	}
	return f.syncEventStore
}

func (f *RepositoryFactory) WebhookDeliveryStore() core.WebhookDeliveryStore {
	if f == nil {
		return nil
	}
	return f.webhookDeliveryStore
}

func (f *RepositoryFactory) ConfigurationStore() core.ConfigurationStore {
	if f == nil {
		return nil
	}
	if f.cachedConfigStore != nil {
		return f.cachedConfigStore
	}
	return f.configurationStore
}

// UncachedConfigurationStore reads configurations straight from the
// database, bypassing WithConfigurationCache.
func (f *RepositoryFactory) UncachedConfigurationStore() core.ConfigurationStore {
	if f == nil || f.configurationStore == nil {
		return nil
	}
	return f.configurationStore
}

func (f *RepositoryFactory) ConfigurationWriter() core.ConfigurationWriter {
	if f == nil {
		return nil
	}
	if f.cachedConfigStore != nil {
		return f.cachedConfigStore
	}
	return f.configurationStore
}

func (f *RepositoryFactory) AuditLogReader() core.AuditLogReader {
	if f == nil {
		return nil
	}
	return f.auditLogStore
}

func (f *RepositoryFactory) initStores() error {
	syncEventStore, err := NewSyncEventStore(f.db)
	if err != nil {
		return err
	}
	webhookDeliveryStore, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}
	configurationStore, err := NewConfigurationStore(f.db)
	if err != nil {
		return err
	}
	auditLogStore, err := NewAuditLogStore(f.db)
	if err != nil {
		return err
	}
	if f.cacheService != nil {
		cached, err := NewCachedConfigurationStore(configurationStore, f.cacheService)
		if err != nil {
			return err
		}
		f.cachedConfigStore = cached
	}

	f.syncEventStore = syncEventStore
	f.webhookDeliveryStore = webhookDeliveryStore
	f.configurationStore = configurationStore
	f.auditLogStore = auditLogStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
