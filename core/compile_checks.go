package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ SyncEventStore       = memoryEventStore{}
	_ WebhookDeliveryStore = memoryDeliveryStore{}
	_ ConfigurationStore   = memoryConfigStore{}
	_ ConfigurationWriter  = memoryConfigStore{}
	_ AuditLogReader       = memoryAuditReader{}
	_ StoreProvider        = (*MemoryStore)(nil)
	_ MetricsRecorder      = NopMetricsRecorder{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
