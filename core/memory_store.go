package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultListPerPage = 20
	maxListPerPage     = 200
)

// MemoryStore keeps the full store set in process. It follows the same
// conditional update rules as the SQL stores and backs development mode and
// tests. All state sits behind one mutex, so every method is atomic.
type MemoryStore struct {
	mu         sync.Mutex
	events     map[string]SyncEvent
	deliveries map[string]WebhookDelivery
	configs    map[string]SyncConfiguration
	audit      []AuditEntry
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     map[string]SyncEvent{},
		deliveries: map[string]WebhookDelivery{},
		configs:    map[string]SyncConfiguration{},
		now:        defaultClock,
	}
}

func (m *MemoryStore) SyncEventStore() SyncEventStore {
	return memoryEventStore{m}
}

func (m *MemoryStore) WebhookDeliveryStore() WebhookDeliveryStore {
	return memoryDeliveryStore{m}
}

func (m *MemoryStore) ConfigurationStore() ConfigurationStore {
	return memoryConfigStore{m}
}

func (m *MemoryStore) ConfigurationWriter() ConfigurationWriter {
	return memoryConfigStore{m}
}

func (m *MemoryStore) AuditLogReader() AuditLogReader {
	return memoryAuditReader{m}
}

func eventKey(tenantID, eventID string) string {
	return strings.TrimSpace(tenantID) + "::" + strings.TrimSpace(eventID)
}

type memoryEventStore struct {
	m *MemoryStore
}

func (s memoryEventStore) CreateWithDelivery(
	_ context.Context,
	event SyncEvent,
	delivery WebhookDelivery,
) (SyncEvent, WebhookDelivery, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.TenantID) == "" {
		return SyncEvent{}, WebhookDelivery{}, fmt.Errorf("core: event id and tenant id are required")
	}
	key := eventKey(event.TenantID, event.ID)
	if _, exists := s.m.events[key]; exists {
		return SyncEvent{}, WebhookDelivery{}, fmt.Errorf("core: duplicate sync event %q", event.ID)
	}
	if _, exists := s.m.deliveries[delivery.ID]; exists {
		return SyncEvent{}, WebhookDelivery{}, fmt.Errorf("core: duplicate webhook delivery %q", delivery.ID)
	}
	if event.Status == "" {
		event.Status = StatusPending
	}
	if delivery.Status == "" {
		delivery.Status = DeliveryStatusReceived
	}
	if delivery.SyncEventID == nil {
		eventID := event.ID
		delivery.SyncEventID = &eventID
	}
	s.m.events[key] = cloneSyncEvent(event)
	s.m.deliveries[delivery.ID] = cloneWebhookDelivery(delivery)
	return cloneSyncEvent(event), cloneWebhookDelivery(delivery), nil
}

func (s memoryEventStore) Get(_ context.Context, tenantID string, eventID string) (SyncEvent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	event, ok := s.m.events[eventKey(tenantID, eventID)]
	if !ok {
		return SyncEvent{}, ErrNotFound
	}
	return cloneSyncEvent(event), nil
}

func (s memoryEventStore) List(_ context.Context, filter EventFilter) (EventPage, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	page, perPage := normalizePage(filter.Page, filter.PerPage)
	matched := []SyncEvent{}
	for _, event := range s.m.events {
		if event.TenantID != strings.TrimSpace(filter.TenantID) {
			continue
		}
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		if filter.ConfigID != "" && event.ConfigIDValue() != strings.TrimSpace(filter.ConfigID) {
			continue
		}
		matched = append(matched, event)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	start := (page - 1) * perPage
	items := []SyncEvent{}
	if start < total {
		end := min(start+perPage, total)
		for _, event := range matched[start:end] {
			items = append(items, cloneSyncEvent(event))
		}
	}
	return EventPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: start+len(items) < total,
	}, nil
}

func (s memoryEventStore) Lease(_ context.Context, req LeaseRequest) ([]SyncEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	now := req.Now
	if now.IsZero() {
		now = s.m.now()
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultBatchSize
	}

	candidates := []SyncEvent{}
	for _, event := range s.m.events {
		if event.Status != StatusPending {
			continue
		}
		if event.NextAttemptAt != nil && event.NextAttemptAt.After(now) {
			continue
		}
		config, hasConfig := s.m.configs[event.ConfigIDValue()]
		if req.Orphaned {
			if event.ConfigIDValue() != "" && hasConfig {
				continue
			}
		} else if event.ConfigIDValue() != strings.TrimSpace(req.ConfigID) || !hasConfig || !config.Enabled {
			continue
		}
		candidates = append(candidates, event)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].Timestamp.Before(candidates[j].Timestamp)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	leased := make([]SyncEvent, 0, len(candidates))
	for _, event := range candidates {
		leasedAt := now
		event.Status = StatusProcessing
		event.LeasedAt = &leasedAt
		event.LeaseOwner = req.Owner
		event.UpdatedAt = now
		s.m.events[eventKey(event.TenantID, event.ID)] = event
		leased = append(leased, cloneSyncEvent(event))
	}
	return leased, nil
}

func (s memoryEventStore) ReclaimExpired(_ context.Context, leasedBefore time.Time, now time.Time) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	reclaimed := 0
	for key, event := range s.m.events {
		if event.Status != StatusProcessing || event.LeasedAt == nil || !event.LeasedAt.Before(leasedBefore) {
			continue
		}
		event.Status = StatusPending
		event.LeasedAt = nil
		event.LeaseOwner = ""
		event.UpdatedAt = now
		s.m.events[key] = event
		reclaimed++
	}
	return reclaimed, nil
}

// held returns the event only while the lease is still owned by ref.Owner.
func (s memoryEventStore) held(ref LeaseRef) (SyncEvent, error) {
	if err := ref.Validate(); err != nil {
		return SyncEvent{}, err
	}
	event, ok := s.m.events[eventKey(ref.TenantID, ref.EventID)]
	if !ok || event.Status != StatusProcessing || event.LeaseOwner != ref.Owner {
		return SyncEvent{}, ErrLeaseLost
	}
	return event, nil
}

func (s memoryEventStore) Complete(_ context.Context, lease LeaseRef, outcome PublishOutcome, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	event, err := s.held(lease)
	if err != nil {
		return err
	}
	event.Status = StatusCompleted
	event.ErrorMessage = ""
	event.KGEntityID = outcome.KGEntityID
	event.KGRelationshipIDs = append([]string{}, outcome.KGRelationshipIDs...)
	event.NextAttemptAt = nil
	event.LeasedAt = nil
	event.LeaseOwner = ""
	event.UpdatedAt = now
	s.m.events[eventKey(event.TenantID, event.ID)] = event
	return nil
}

func (s memoryEventStore) Retry(_ context.Context, req RetryRequest, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	event, err := s.held(req.Lease)
	if err != nil {
		return err
	}
	next := req.NextAttemptAt
	event.Status = StatusPending
	event.RetryCount++
	event.ErrorMessage = req.Cause
	event.NextAttemptAt = &next
	event.LeasedAt = nil
	event.LeaseOwner = ""
	event.UpdatedAt = now
	s.m.events[eventKey(event.TenantID, event.ID)] = event
	return nil
}

func (s memoryEventStore) DeadLetter(_ context.Context, req DeadLetterRequest) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	event, err := s.held(req.Lease)
	if err != nil {
		return err
	}
	failedAt := req.FailedAt
	if failedAt.IsZero() {
		failedAt = s.m.now()
	}
	if req.CountAttempt {
		event.RetryCount++
	}
	event.Status = StatusDeadLetter
	event.ErrorMessage = req.Cause
	event.DLQPayload = append(json.RawMessage(nil), event.Changes...)
	event.DLQError = req.Cause
	event.DLQFailedAt = &failedAt
	event.DLQAttempts = event.RetryCount
	event.NextAttemptAt = nil
	event.LeasedAt = nil
	event.LeaseOwner = ""
	event.UpdatedAt = failedAt
	s.m.events[eventKey(event.TenantID, event.ID)] = event
	return nil
}

func (s memoryEventStore) Requeue(_ context.Context, req RequeueRequest, audit AuditEntry) (SyncEvent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	key := eventKey(req.TenantID, req.EventID)
	event, ok := s.m.events[key]
	if !ok {
		return SyncEvent{}, ErrNotFound
	}
	if event.Status != StatusDeadLetter {
		return cloneSyncEvent(event), fmt.Errorf("%w: %s -> %s", ErrInvalidSyncEventTransition, event.Status, StatusPending)
	}
	now := audit.CreatedAt
	if now.IsZero() {
		now = s.m.now()
	}
	audit.FromStatus = event.Status
	audit.ToStatus = StatusPending
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = now
	}

	event.Status = StatusPending
	event.RetryCount = 0
	event.ErrorMessage = ""
	event.NextAttemptAt = nil
	event.LeasedAt = nil
	event.LeaseOwner = ""
	event.UpdatedAt = now
	s.m.events[key] = event
	s.m.audit = append(s.m.audit, cloneAuditEntry(audit))
	return cloneSyncEvent(event), nil
}

type memoryDeliveryStore struct {
	m *MemoryStore
}

func (s memoryDeliveryStore) Get(_ context.Context, tenantID string, deliveryID string) (WebhookDelivery, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delivery, ok := s.m.deliveries[strings.TrimSpace(deliveryID)]
	if !ok || delivery.TenantID != strings.TrimSpace(tenantID) {
		return WebhookDelivery{}, ErrNotFound
	}
	return cloneWebhookDelivery(delivery), nil
}

func (s memoryDeliveryStore) ListByEvent(_ context.Context, tenantID string, eventID string) ([]WebhookDelivery, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []WebhookDelivery{}
	for _, delivery := range s.m.deliveries {
		if delivery.TenantID != strings.TrimSpace(tenantID) || delivery.SyncEventID == nil || *delivery.SyncEventID != strings.TrimSpace(eventID) {
			continue
		}
		out = append(out, cloneWebhookDelivery(delivery))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (s memoryDeliveryStore) MarkOutcome(
	_ context.Context,
	tenantID string,
	eventID string,
	status DeliveryStatus,
	cause string,
	at time.Time,
) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, delivery := range s.m.deliveries {
		if delivery.TenantID != strings.TrimSpace(tenantID) || delivery.SyncEventID == nil || *delivery.SyncEventID != strings.TrimSpace(eventID) {
			continue
		}
		if delivery.Status == DeliveryStatusProcessed {
			continue
		}
		processedAt := at
		delivery.Status = status
		delivery.Error = cause
		delivery.ProcessedAt = &processedAt
		s.m.deliveries[id] = delivery
	}
	return nil
}

type memoryConfigStore struct {
	m *MemoryStore
}

func (s memoryConfigStore) Get(_ context.Context, configID string) (SyncConfiguration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	config, ok := s.m.configs[strings.TrimSpace(configID)]
	if !ok {
		return SyncConfiguration{}, ErrNotFound
	}
	return cloneSyncConfiguration(config), nil
}

func (s memoryConfigStore) ListEnabled(context.Context) ([]SyncConfiguration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []SyncConfiguration{}
	for _, config := range s.m.configs {
		if config.Enabled {
			out = append(out, cloneSyncConfiguration(config))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memoryConfigStore) Save(_ context.Context, config SyncConfiguration) (SyncConfiguration, error) {
	if err := config.Validate(); err != nil {
		return SyncConfiguration{}, err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	now := s.m.now()
	if existing, ok := s.m.configs[config.ID]; ok {
		config.CreatedAt = existing.CreatedAt
	} else if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}
	config.UpdatedAt = now
	s.m.configs[config.ID] = cloneSyncConfiguration(config)
	return cloneSyncConfiguration(config), nil
}

// Delete removes the configuration and detaches its events, matching the
// ON DELETE SET NULL foreign key of the SQL schema.
func (s memoryConfigStore) Delete(_ context.Context, configID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	configID = strings.TrimSpace(configID)
	if _, ok := s.m.configs[configID]; !ok {
		return ErrNotFound
	}
	delete(s.m.configs, configID)
	for key, event := range s.m.events {
		if event.ConfigIDValue() == configID {
			event.ConfigID = nil
			s.m.events[key] = event
		}
	}
	return nil
}

type memoryAuditReader struct {
	m *MemoryStore
}

func (s memoryAuditReader) ListByEvent(_ context.Context, tenantID string, eventID string) ([]AuditEntry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []AuditEntry{}
	for _, entry := range s.m.audit {
		if entry.TenantID == strings.TrimSpace(tenantID) && entry.EventID == strings.TrimSpace(eventID) {
			out = append(out, cloneAuditEntry(entry))
		}
	}
	return out, nil
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultListPerPage
	}
	if perPage > maxListPerPage {
		perPage = maxListPerPage
	}
	return page, perPage
}

// NormalizePage clamps pagination input to the defaults shared by all
// store implementations.
func NormalizePage(page, perPage int) (int, int) {
	return normalizePage(page, perPage)
}

func cloneSyncEvent(in SyncEvent) SyncEvent {
	out := in
	out.ConfigID = cloneStringPtr(in.ConfigID)
	out.Changes = append(json.RawMessage(nil), in.Changes...)
	out.DLQPayload = append(json.RawMessage(nil), in.DLQPayload...)
	out.DLQFailedAt = cloneTimePtr(in.DLQFailedAt)
	out.NextAttemptAt = cloneTimePtr(in.NextAttemptAt)
	out.LeasedAt = cloneTimePtr(in.LeasedAt)
	out.KGRelationshipIDs = append([]string(nil), in.KGRelationshipIDs...)
	return out
}

func cloneWebhookDelivery(in WebhookDelivery) WebhookDelivery {
	out := in
	out.ConfigID = cloneStringPtr(in.ConfigID)
	out.SyncEventID = cloneStringPtr(in.SyncEventID)
	out.Payload = append(json.RawMessage(nil), in.Payload...)
	out.Headers = copyStringMap(in.Headers)
	out.ProcessedAt = cloneTimePtr(in.ProcessedAt)
	return out
}

func cloneSyncConfiguration(in SyncConfiguration) SyncConfiguration {
	out := in
	out.MappingRules.Properties = copyStringMap(in.MappingRules.Properties)
	out.MappingRules.Links = append([]LinkRule(nil), in.MappingRules.Links...)
	out.MappingRules.EventTypes = append([]string(nil), in.MappingRules.EventTypes...)
	return out
}

func cloneAuditEntry(in AuditEntry) AuditEntry {
	out := in
	out.Metadata = cloneFields(in.Metadata)
	return out
}

func cloneStringPtr(in *string) *string {
	if in == nil {
		return nil
	}
	value := *in
	return &value
}

func cloneTimePtr(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := *in
	return &value
}
