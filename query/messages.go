package query

import (
	"strings"

	"github.com/goliatone/go-atlassian-sync/core"
)

const (
	TypeGetSyncEvent     = "sync.query.event.get"
	TypeListSyncEvents   = "sync.query.event.list"
	TypeListDeadLetters  = "sync.query.event.dead_letters"
	TypeListAuditEntries = "sync.query.audit.list"
	TypeListDeliveries   = "sync.query.delivery.list"
)

type GetSyncEventMessage struct {
	TenantID string
	EventID  string
}

func (GetSyncEventMessage) Type() string { return TypeGetSyncEvent }

func (m GetSyncEventMessage) Validate() error {
	return validateEventRef(m.TenantID, m.EventID)
}

type ListSyncEventsMessage struct {
	Filter core.EventFilter
}

func (ListSyncEventsMessage) Type() string { return TypeListSyncEvents }

func (m ListSyncEventsMessage) Validate() error {
	if strings.TrimSpace(m.Filter.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	if m.Filter.Status != "" {
		if _, err := core.ParseProcessingStatus(string(m.Filter.Status)); err != nil {
			return queryValidationError("status", err.Error())
		}
	}
	return validatePaging(m.Filter.Page, m.Filter.PerPage)
}

type ListDeadLettersMessage struct {
	TenantID string
	Page     int
	PerPage  int
}

func (ListDeadLettersMessage) Type() string { return TypeListDeadLetters }

func (m ListDeadLettersMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	return validatePaging(m.Page, m.PerPage)
}

type ListAuditEntriesMessage struct {
	TenantID string
	EventID  string
}

func (ListAuditEntriesMessage) Type() string { return TypeListAuditEntries }

func (m ListAuditEntriesMessage) Validate() error {
	return validateEventRef(m.TenantID, m.EventID)
}

type ListDeliveriesMessage struct {
	TenantID string
	EventID  string
}

func (ListDeliveriesMessage) Type() string { return TypeListDeliveries }

func (m ListDeliveriesMessage) Validate() error {
	return validateEventRef(m.TenantID, m.EventID)
}

func validateEventRef(tenantID string, eventID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(eventID) == "" {
		return queryValidationError("event_id", "event id is required")
	}
	return nil
}

func validatePaging(page int, perPage int) error {
	if page < 0 {
		return queryValidationError("page", "page must be >= 0")
	}
	if perPage < 0 {
		return queryValidationError("per_page", "per_page must be >= 0")
	}
	return nil
}
