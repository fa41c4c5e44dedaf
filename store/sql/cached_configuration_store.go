package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-atlassian-sync/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const configurationCacheKeyPrefix = "atlassian-sync::sync_configuration::v1"

type configurationBackend interface {
	core.ConfigurationStore
	core.ConfigurationWriter
}

// CachedConfigurationStore serves Get through a read-through cache. The
// cache TTL bounds how stale a configuration resolved by the scheduler can
// be; writes through this store invalidate immediately. ListEnabled always
// reads the base store.
type CachedConfigurationStore struct {
	base  configurationBackend
	cache repositorycache.CacheService
}

func NewCachedConfigurationStore(
	base configurationBackend,
	cacheService repositorycache.CacheService,
) (*CachedConfigurationStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base configuration store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: configuration cache service is required")
	}
	return &CachedConfigurationStore{base: base, cache: cacheService}, nil
}

// ConfigurationCacheKey returns atlassian-sync::sync_configuration::v1::<id>
// with the id URL-path escaped.
func ConfigurationCacheKey(configID string) (string, error) {
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return "", fmt.Errorf("sqlstore: configuration id is required")
	}
	return configurationCacheKeyPrefix + "::" + url.PathEscape(configID), nil
}

func (s *CachedConfigurationStore) Get(ctx context.Context, configID string) (core.SyncConfiguration, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: cached configuration store is not configured")
	}
	cacheKey, err := ConfigurationCacheKey(configID)
	if err != nil {
		return core.SyncConfiguration{}, core.ErrNotFound
	}
	config, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.SyncConfiguration, error) {
		return s.base.Get(ctx, strings.TrimSpace(configID))
	})
	if err != nil {
		return core.SyncConfiguration{}, err
	}
	return cloneConfiguration(config), nil
}

func (s *CachedConfigurationStore) ListEnabled(ctx context.Context) ([]core.SyncConfiguration, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached configuration store is not configured")
	}
	return s.base.ListEnabled(ctx)
}

func (s *CachedConfigurationStore) Save(ctx context.Context, config core.SyncConfiguration) (core.SyncConfiguration, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: cached configuration store is not configured")
	}
	saved, err := s.base.Save(ctx, config)
	if err != nil {
		return core.SyncConfiguration{}, err
	}
	if err := s.invalidate(ctx, saved.ID); err != nil {
		return core.SyncConfiguration{}, err
	}
	return saved, nil
}

func (s *CachedConfigurationStore) Delete(ctx context.Context, configID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached configuration store is not configured")
	}
	if err := s.base.Delete(ctx, configID); err != nil {
		return err
	}
	return s.invalidate(ctx, configID)
}

func (s *CachedConfigurationStore) invalidate(ctx context.Context, configID string) error {
	cacheKey, err := ConfigurationCacheKey(configID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneConfiguration(in core.SyncConfiguration) core.SyncConfiguration {
	out := in
	out.MappingRules.Properties = copyStringMap(in.MappingRules.Properties)
	out.MappingRules.Links = append([]core.LinkRule(nil), in.MappingRules.Links...)
	out.MappingRules.EventTypes = append([]string(nil), in.MappingRules.EventTypes...)
	return out
}
