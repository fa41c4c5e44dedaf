package sqlstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-atlassian-sync/core"
	"github.com/uptrace/bun"
)

type syncEventRecord struct {
	bun.BaseModel `bun:"table:sync_events,alias:se"`

	ID                string          `bun:"id,pk"`
	TenantID          string          `bun:"tenant_id,notnull"`
	ConfigID          *string         `bun:"config_id"`
	Type              string          `bun:"type,notnull"`
	Source            string          `bun:"source,notnull"`
	Changes           json.RawMessage `bun:"changes,type:jsonb,notnull"`
	ProcessingStatus  string          `bun:"processing_status,notnull"`
	RetryCount        int             `bun:"retry_count,notnull"`
	ErrorMessage      string          `bun:"error_message"`
	DLQPayload        json.RawMessage `bun:"dlq_payload,type:jsonb,nullzero"`
	DLQError          string          `bun:"dlq_error"`
	DLQFailedAt       *time.Time      `bun:"dlq_failed_at,nullzero"`
	DLQAttempts       int             `bun:"dlq_attempts,notnull"`
	KGEntityID        string          `bun:"kg_entity_id"`
	KGRelationshipIDs []string        `bun:"kg_relationship_ids,type:jsonb,notnull"`
	NextAttemptAt     *time.Time      `bun:"next_attempt_at,nullzero"`
	LeasedAt          *time.Time      `bun:"leased_at,nullzero"`
	LeaseOwner        string          `bun:"lease_owner"`
	Timestamp         time.Time       `bun:"event_timestamp,notnull"`
	UpdatedAt         time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:wd"`

	ID          string            `bun:"id,pk"`
	TenantID    string            `bun:"tenant_id,notnull"`
	ConfigID    *string           `bun:"config_id"`
	Source      string            `bun:"source,notnull"`
	DeliveryID  string            `bun:"delivery_id"`
	Payload     json.RawMessage   `bun:"payload,type:jsonb,notnull"`
	Headers     map[string]string `bun:"headers,type:jsonb,notnull"`
	SyncEventID *string           `bun:"sync_event_id"`
	Status      string            `bun:"status,notnull"`
	Error       string            `bun:"error"`
	ReceivedAt  time.Time         `bun:"received_at,notnull"`
	ProcessedAt *time.Time        `bun:"processed_at,nullzero"`
}

type syncConfigurationRecord struct {
	bun.BaseModel `bun:"table:sync_configurations,alias:sc"`

	ID           string            `bun:"id,pk"`
	TenantID     string            `bun:"tenant_id,notnull"`
	Name         string            `bun:"name,notnull"`
	Source       string            `bun:"source,notnull"`
	BatchSize    int               `bun:"batch_size,notnull"`
	RetryLimit   int               `bun:"retry_limit,notnull"`
	RetryDelayMS int64             `bun:"retry_delay_ms,notnull"`
	MappingRules core.MappingRules `bun:"mapping_rules,type:jsonb,notnull"`
	Enabled      bool              `bun:"enabled,notnull"`
	CreatedAt    time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditLogRecord struct {
	bun.BaseModel `bun:"table:sync_audit_log,alias:sal"`

	ID         string         `bun:"id,pk"`
	TenantID   string         `bun:"tenant_id,notnull"`
	EventID    string         `bun:"event_id,notnull"`
	Action     string         `bun:"action,notnull"`
	Actor      string         `bun:"actor,notnull"`
	FromStatus string         `bun:"from_status"`
	ToStatus   string         `bun:"to_status"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// syncEventColumns is the RETURNING list shared by the lease statements.
const syncEventColumns = `
	id,
	tenant_id,
	config_id,
	type,
	source,
	changes,
	processing_status,
	retry_count,
	error_message,
	dlq_payload,
	dlq_error,
	dlq_failed_at,
	dlq_attempts,
	kg_entity_id,
	kg_relationship_ids,
	next_attempt_at,
	leased_at,
	lease_owner,
	event_timestamp,
	updated_at
`

func newSyncEventRecord(event core.SyncEvent) *syncEventRecord {
	record := &syncEventRecord{
		ID:                strings.TrimSpace(event.ID),
		TenantID:          strings.TrimSpace(event.TenantID),
		ConfigID:          trimmedStringPtr(event.ConfigID),
		Type:              strings.TrimSpace(event.Type),
		Source:            strings.TrimSpace(event.Source),
		Changes:           append(json.RawMessage(nil), event.Changes...),
		ProcessingStatus:  string(event.Status),
		RetryCount:        event.RetryCount,
		ErrorMessage:      event.ErrorMessage,
		KGRelationshipIDs: append([]string{}, event.KGRelationshipIDs...),
		Timestamp:         event.Timestamp.UTC(),
		UpdatedAt:         event.UpdatedAt.UTC(),
	}
	if record.ProcessingStatus == "" {
		record.ProcessingStatus = string(core.StatusPending)
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.Timestamp
	}
	return record
}

func (r syncEventRecord) toDomain() core.SyncEvent {
	return core.SyncEvent{
		ID:                r.ID,
		Type:              r.Type,
		Source:            r.Source,
		TenantID:          r.TenantID,
		ConfigID:          trimmedStringPtr(r.ConfigID),
		Changes:           append(json.RawMessage(nil), r.Changes...),
		Status:            core.ProcessingStatus(r.ProcessingStatus),
		RetryCount:        r.RetryCount,
		ErrorMessage:      r.ErrorMessage,
		DLQPayload:        append(json.RawMessage(nil), r.DLQPayload...),
		DLQError:          r.DLQError,
		DLQFailedAt:       utcTimePtr(r.DLQFailedAt),
		DLQAttempts:       r.DLQAttempts,
		KGEntityID:        r.KGEntityID,
		KGRelationshipIDs: append([]string{}, r.KGRelationshipIDs...),
		NextAttemptAt:     utcTimePtr(r.NextAttemptAt),
		LeasedAt:          utcTimePtr(r.LeasedAt),
		LeaseOwner:        r.LeaseOwner,
		Timestamp:         r.Timestamp.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func newWebhookDeliveryRecord(delivery core.WebhookDelivery) *webhookDeliveryRecord {
	record := &webhookDeliveryRecord{
		ID:          strings.TrimSpace(delivery.ID),
		TenantID:    strings.TrimSpace(delivery.TenantID),
		ConfigID:    trimmedStringPtr(delivery.ConfigID),
		Source:      strings.TrimSpace(delivery.Source),
		DeliveryID:  strings.TrimSpace(delivery.DeliveryID),
		Payload:     append(json.RawMessage(nil), delivery.Payload...),
		Headers:     copyStringMap(delivery.Headers),
		SyncEventID: trimmedStringPtr(delivery.SyncEventID),
		Status:      string(delivery.Status),
		Error:       delivery.Error,
		ReceivedAt:  delivery.ReceivedAt.UTC(),
		ProcessedAt: utcTimePtr(delivery.ProcessedAt),
	}
	if record.Status == "" {
		record.Status = string(core.DeliveryStatusReceived)
	}
	return record
}

func (r webhookDeliveryRecord) toDomain() core.WebhookDelivery {
	return core.WebhookDelivery{
		ID:          r.ID,
		TenantID:    r.TenantID,
		ConfigID:    trimmedStringPtr(r.ConfigID),
		Source:      r.Source,
		DeliveryID:  r.DeliveryID,
		Payload:     append(json.RawMessage(nil), r.Payload...),
		Headers:     copyStringMap(r.Headers),
		SyncEventID: trimmedStringPtr(r.SyncEventID),
		Status:      core.DeliveryStatus(r.Status),
		Error:       r.Error,
		ReceivedAt:  r.ReceivedAt.UTC(),
		ProcessedAt: utcTimePtr(r.ProcessedAt),
	}
}

func newSyncConfigurationRecord(config core.SyncConfiguration) *syncConfigurationRecord {
	return &syncConfigurationRecord{
		ID:           strings.TrimSpace(config.ID),
		TenantID:     strings.TrimSpace(config.TenantID),
		Name:         strings.TrimSpace(config.Name),
		Source:       strings.TrimSpace(config.Source),
		BatchSize:    config.BatchSize,
		RetryLimit:   config.RetryLimit,
		RetryDelayMS: config.RetryDelay.Milliseconds(),
		MappingRules: config.MappingRules,
		Enabled:      config.Enabled,
		CreatedAt:    config.CreatedAt.UTC(),
		UpdatedAt:    config.UpdatedAt.UTC(),
	}
}

func (r syncConfigurationRecord) toDomain() core.SyncConfiguration {
	return core.SyncConfiguration{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Name:         r.Name,
		Source:       r.Source,
		BatchSize:    r.BatchSize,
		RetryLimit:   r.RetryLimit,
		RetryDelay:   time.Duration(r.RetryDelayMS) * time.Millisecond,
		MappingRules: r.MappingRules,
		Enabled:      r.Enabled,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func newAuditLogRecord(entry core.AuditEntry) *auditLogRecord {
	return &auditLogRecord{
		ID:         strings.TrimSpace(entry.ID),
		TenantID:   strings.TrimSpace(entry.TenantID),
		EventID:    strings.TrimSpace(entry.EventID),
		Action:     strings.TrimSpace(entry.Action),
		Actor:      strings.TrimSpace(entry.Actor),
		FromStatus: string(entry.FromStatus),
		ToStatus:   string(entry.ToStatus),
		Metadata:   copyAnyMap(entry.Metadata),
		CreatedAt:  entry.CreatedAt.UTC(),
	}
}

func (r auditLogRecord) toDomain() core.AuditEntry {
	return core.AuditEntry{
		ID:         r.ID,
		TenantID:   r.TenantID,
		EventID:    r.EventID,
		Action:     r.Action,
		Actor:      r.Actor,
		FromStatus: core.ProcessingStatus(r.FromStatus),
		ToStatus:   core.ProcessingStatus(r.ToStatus),
		Metadata:   copyAnyMap(r.Metadata),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func trimmedStringPtr(in *string) *string {
	if in == nil {
		return nil
	}
	value := strings.TrimSpace(*in)
	if value == "" {
		return nil
	}
	return &value
}

func utcTimePtr(in *time.Time) *time.Time {
	if in == nil || in.IsZero() {
		return nil
	}
	value := in.UTC()
	return &value
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
