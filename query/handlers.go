package query

import (
	"context"

	"github.com/goliatone/go-atlassian-sync/core"
)

type SyncEventReader interface {
	GetEvent(ctx context.Context, tenantID string, eventID string) (core.SyncEvent, error)
	ListEvents(ctx context.Context, filter core.EventFilter) (core.EventPage, error)
	ListDeadLetters(ctx context.Context, tenantID string, page int, perPage int) (core.EventPage, error)
}

type AuditReader interface {
	ListAuditEntries(ctx context.Context, tenantID string, eventID string) ([]core.AuditEntry, error)
}

type DeliveryReader interface {
	ListDeliveries(ctx context.Context, tenantID string, eventID string) ([]core.WebhookDelivery, error)
}

type GetSyncEventQuery struct {
	reader SyncEventReader
}

func NewGetSyncEventQuery(reader SyncEventReader) *GetSyncEventQuery {
	return &GetSyncEventQuery{reader: reader}
}

func (q *GetSyncEventQuery) Query(ctx context.Context, msg GetSyncEventMessage) (core.SyncEvent, error) {
	if q == nil || q.reader == nil {
		return core.SyncEvent{}, queryDependencyError("query: sync event reader is required")
	}
	return q.reader.GetEvent(ctx, msg.TenantID, msg.EventID)
}

type ListSyncEventsQuery struct {
	reader SyncEventReader
}

func NewListSyncEventsQuery(reader SyncEventReader) *ListSyncEventsQuery {
	return &ListSyncEventsQuery{reader: reader}
}

func (q *ListSyncEventsQuery) Query(ctx context.Context, msg ListSyncEventsMessage) (core.EventPage, error) {
	if q == nil || q.reader == nil {
		return core.EventPage{}, queryDependencyError("query: sync event reader is required")
	}
	return q.reader.ListEvents(ctx, msg.Filter)
}

type ListDeadLettersQuery struct {
	reader SyncEventReader
}

func NewListDeadLettersQuery(reader SyncEventReader) *ListDeadLettersQuery {
	return &ListDeadLettersQuery{reader: reader}
}

func (q *ListDeadLettersQuery) Query(ctx context.Context, msg ListDeadLettersMessage) (core.EventPage, error) {
	if q == nil || q.reader == nil {
		return core.EventPage{}, queryDependencyError("query: sync event reader is required")
	}
	return q.reader.ListDeadLetters(ctx, msg.TenantID, msg.Page, msg.PerPage)
}

type ListAuditEntriesQuery struct {
	reader AuditReader
}

func NewListAuditEntriesQuery(reader AuditReader) *ListAuditEntriesQuery {
	return &ListAuditEntriesQuery{reader: reader}
}

func (q *ListAuditEntriesQuery) Query(ctx context.Context, msg ListAuditEntriesMessage) ([]core.AuditEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: audit reader is required")
	}
	return q.reader.ListAuditEntries(ctx, msg.TenantID, msg.EventID)
}

type ListDeliveriesQuery struct {
	reader DeliveryReader
}

func NewListDeliveriesQuery(reader DeliveryReader) *ListDeliveriesQuery {
	return &ListDeliveriesQuery{reader: reader}
}

func (q *ListDeliveriesQuery) Query(ctx context.Context, msg ListDeliveriesMessage) ([]core.WebhookDelivery, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: delivery reader is required")
	}
	return q.reader.ListDeliveries(ctx, msg.TenantID, msg.EventID)
}
