package sqlstore

import "github.com/goliatone/go-atlassian-sync/core"

var (
	_ core.SyncEventStore         = (*SyncEventStore)(nil)
	_ core.WebhookDeliveryStore   = (*WebhookDeliveryStore)(nil)
	_ core.ConfigurationStore     = (*ConfigurationStore)(nil)
	_ core.ConfigurationWriter    = (*ConfigurationStore)(nil)
	_ core.ConfigurationStore     = (*CachedConfigurationStore)(nil)
	_ core.ConfigurationWriter    = (*CachedConfigurationStore)(nil)
	_ core.AuditLogReader         = (*AuditLogStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
