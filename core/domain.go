package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound                   = errors.New("core: record not found")
	ErrLeaseLost                  = errors.New("core: lease no longer held")
	ErrInvalidSyncEventTransition = errors.New("core: invalid sync event status transition")
	ErrInvalidProcessingStatus    = errors.New("core: invalid processing status")
	ErrInvalidDownstreamOperation = errors.New("core: invalid downstream operation")
	ErrInvalidSyncConfiguration   = errors.New("core: invalid sync configuration")
)

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusCompleted  ProcessingStatus = "COMPLETED"
	StatusFailed     ProcessingStatus = "FAILED"
	StatusDeadLetter ProcessingStatus = "DEAD_LETTER"
)

func ParseProcessingStatus(value string) (ProcessingStatus, error) {
	status := ProcessingStatus(strings.ToUpper(strings.TrimSpace(value)))
	switch status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusDeadLetter:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidProcessingStatus, value)
}

type SyncEvent struct {
	ID                string
	Type              string
	Source            string
	TenantID          string
	ConfigID          *string
	Changes           json.RawMessage
	Status            ProcessingStatus
	RetryCount        int
	ErrorMessage      string
	DLQPayload        json.RawMessage
	DLQError          string
	DLQFailedAt       *time.Time
	DLQAttempts       int
	KGEntityID        string
	KGRelationshipIDs []string
	NextAttemptAt     *time.Time
	LeasedAt          *time.Time
	LeaseOwner        string
	Timestamp         time.Time
	UpdatedAt         time.Time
}

func (e SyncEvent) ConfigIDValue() string {
	if e.ConfigID == nil {
		return ""
	}
	return strings.TrimSpace(*e.ConfigID)
}

// LeaseRef identifies the lease a scheduler holds on an event. Every write
// made on behalf of a lease is conditional on it still being held.
func (e SyncEvent) LeaseRef() LeaseRef {
	return LeaseRef{TenantID: e.TenantID, EventID: e.ID, Owner: e.LeaseOwner}
}

type LeaseRef struct {
	TenantID string
	EventID  string
	Owner    string
}

func (r LeaseRef) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" || strings.TrimSpace(r.EventID) == "" {
		return fmt.Errorf("core: lease requires tenant id and event id")
	}
	if strings.TrimSpace(r.Owner) == "" {
		return fmt.Errorf("core: lease owner is required")
	}
	return nil
}

type LeaseRequest struct {
	// ConfigID restricts the lease to events of one configuration.
	ConfigID string
	// Orphaned leases events whose configuration is null or missing.
	Orphaned bool
	Limit    int
	Owner    string
	Now      time.Time
}

func (r LeaseRequest) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return fmt.Errorf("core: lease owner is required")
	}
	if !r.Orphaned && strings.TrimSpace(r.ConfigID) == "" {
		return fmt.Errorf("core: lease requires a config id or the orphaned flag")
	}
	return nil
}

type PublishOutcome struct {
	KGEntityID        string
	KGRelationshipIDs []string
}

type DeadLetterRequest struct {
	Lease LeaseRef
	Cause string
	// CountAttempt increments retry_count before snapshotting. It is false
	// when the event is dead-lettered without an attempt being made.
	CountAttempt bool
	FailedAt     time.Time
}

type RetryRequest struct {
	Lease         LeaseRef
	Cause         string
	NextAttemptAt time.Time
}

type DeliveryStatus string

const (
	DeliveryStatusReceived  DeliveryStatus = "received"
	DeliveryStatusProcessed DeliveryStatus = "processed"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

type WebhookDelivery struct {
	ID          string
	TenantID    string
	ConfigID    *string
	Source      string
	DeliveryID  string
	Payload     json.RawMessage
	Headers     map[string]string
	SyncEventID *string
	Status      DeliveryStatus
	Error       string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

type SyncConfiguration struct {
	ID           string
	TenantID     string
	Name         string
	Source       string
	BatchSize    int
	RetryLimit   int
	RetryDelay   time.Duration
	MappingRules MappingRules
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c SyncConfiguration) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSyncConfiguration)
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidSyncConfiguration)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative", ErrInvalidSyncConfiguration)
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("%w: retry limit must not be negative", ErrInvalidSyncConfiguration)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay must not be negative", ErrInvalidSyncConfiguration)
	}
	return nil
}

func (c SyncConfiguration) EffectiveBatchSize(fallback int) int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	if fallback > 0 {
		return fallback
	}
	return 1
}

// MappingRules drive the event transformer. Paths are dot separated and are
// resolved against the provider payload after it has been decoded.
type MappingRules struct {
	EntityType string            `json:"entity_type,omitempty" koanf:"entity_type"`
	IDField    string            `json:"id_field,omitempty" koanf:"id_field"`
	NameField  string            `json:"name_field,omitempty" koanf:"name_field"`
	Properties map[string]string `json:"properties,omitempty" koanf:"properties"`
	Links      []LinkRule        `json:"links,omitempty" koanf:"links"`
	EventTypes []string          `json:"event_types,omitempty" koanf:"event_types"`
}

type LinkRule struct {
	RelationType string `json:"relation_type" koanf:"relation_type"`
	SourcePath   string `json:"source_path" koanf:"source_path"`
	TargetType   string `json:"target_type" koanf:"target_type"`
}

func (r MappingRules) AcceptsEventType(eventType string) bool {
	if len(r.EventTypes) == 0 {
		return true
	}
	eventType = strings.TrimSpace(strings.ToLower(eventType))
	for _, candidate := range r.EventTypes {
		if strings.TrimSpace(strings.ToLower(candidate)) == eventType {
			return true
		}
	}
	return false
}

type OperationKind string

const (
	OperationCreateEntity OperationKind = "CREATE_ENTITY"
	OperationLinkEntities OperationKind = "LINK_ENTITIES"
)

type EntitySpec struct {
	ExternalID string
	Type       string
	Name       string
	Properties map[string]any
	Metadata   map[string]any
}

type LinkSpec struct {
	SourceID     string
	SourceType   string
	TargetID     string
	TargetType   string
	RelationType string
	Properties   map[string]any
}

type DownstreamOperation struct {
	Kind   OperationKind
	Entity *EntitySpec
	Link   *LinkSpec
}

func (op DownstreamOperation) Validate() error {
	switch op.Kind {
	case OperationCreateEntity:
		if op.Entity == nil {
			return fmt.Errorf("%w: create entity requires an entity", ErrInvalidDownstreamOperation)
		}
		if strings.TrimSpace(op.Entity.ExternalID) == "" || strings.TrimSpace(op.Entity.Type) == "" {
			return fmt.Errorf("%w: entity id and type are required", ErrInvalidDownstreamOperation)
		}
	case OperationLinkEntities:
		if op.Link == nil {
			return fmt.Errorf("%w: link entities requires a link", ErrInvalidDownstreamOperation)
		}
		if strings.TrimSpace(op.Link.SourceID) == "" || strings.TrimSpace(op.Link.TargetID) == "" {
			return fmt.Errorf("%w: link source and target are required", ErrInvalidDownstreamOperation)
		}
		if strings.TrimSpace(op.Link.RelationType) == "" {
			return fmt.Errorf("%w: link relation type is required", ErrInvalidDownstreamOperation)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidDownstreamOperation, op.Kind)
	}
	return nil
}

type PublishResult struct {
	Kind OperationKind
	ID   string
}

type AuditEntry struct {
	ID         string
	TenantID   string
	EventID    string
	Action     string
	Actor      string
	FromStatus ProcessingStatus
	ToStatus   ProcessingStatus
	Metadata   map[string]any
	CreatedAt  time.Time
}

const AuditActionRequeued = "sync_event.requeued"

type EnqueueRequest struct {
	ConfigID   string
	Type       string
	Source     string
	Payload    json.RawMessage
	DeliveryID string
	Headers    map[string]string
}

type EnqueueResult struct {
	EventID    string
	DeliveryID string
	TenantID   string
}

type RequeueRequest struct {
	TenantID string
	EventID  string
	Actor    string
	Reason   string
}

type EventFilter struct {
	TenantID string
	Status   ProcessingStatus
	ConfigID string
	Page     int
	PerPage  int
}

type EventPage struct {
	Items   []SyncEvent
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

type TickStats struct {
	Reclaimed    int
	Leased       int
	Completed    int
	Retried      int
	DeadLettered int
	LeaseLost    int
}

func (s TickStats) add(other TickStats) TickStats {
	s.Reclaimed += other.Reclaimed
	s.Leased += other.Leased
	s.Completed += other.Completed
	s.Retried += other.Retried
	s.DeadLettered += other.DeadLettered
	s.LeaseLost += other.LeaseLost
	return s
}
