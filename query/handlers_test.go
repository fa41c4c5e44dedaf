package query

import (
	"context"
	"testing"

	"github.com/goliatone/go-atlassian-sync/core"
	goerrors "github.com/goliatone/go-errors"
)

type stubSyncReader struct {
	getFn         func(context.Context, string, string) (core.SyncEvent, error)
	listFn        func(context.Context, core.EventFilter) (core.EventPage, error)
	deadLettersFn func(context.Context, string, int, int) (core.EventPage, error)
	auditFn       func(context.Context, string, string) ([]core.AuditEntry, error)
	deliveriesFn  func(context.Context, string, string) ([]core.WebhookDelivery, error)
}

func (s stubSyncReader) GetEvent(ctx context.Context, tenantID string, eventID string) (core.SyncEvent, error) {
	return s.getFn(ctx, tenantID, eventID)
}

func (s stubSyncReader) ListEvents(ctx context.Context, filter core.EventFilter) (core.EventPage, error) {
	return s.listFn(ctx, filter)
}

func (s stubSyncReader) ListDeadLetters(ctx context.Context, tenantID string, page int, perPage int) (core.EventPage, error) {
	return s.deadLettersFn(ctx, tenantID, page, perPage)
}

func (s stubSyncReader) ListAuditEntries(ctx context.Context, tenantID string, eventID string) ([]core.AuditEntry, error) {
	return s.auditFn(ctx, tenantID, eventID)
}

func (s stubSyncReader) ListDeliveries(ctx context.Context, tenantID string, eventID string) ([]core.WebhookDelivery, error) {
	return s.deliveriesFn(ctx, tenantID, eventID)
}

func TestGetSyncEventQuery_QueryDelegates(t *testing.T) {
	called := false
	reader := stubSyncReader{
		getFn: func(_ context.Context, tenantID string, eventID string) (core.SyncEvent, error) {
			called = true
			if tenantID != "tenant_a" || eventID != "evt_1" {
				t.Fatalf("unexpected get request: %q %q", tenantID, eventID)
			}
			return core.SyncEvent{ID: eventID, TenantID: tenantID, Status: core.StatusDeadLetter}, nil
		},
	}

	event, err := NewGetSyncEventQuery(reader).Query(context.Background(), GetSyncEventMessage{
		TenantID: "tenant_a",
		EventID:  "evt_1",
	})
	if err != nil {
		t.Fatalf("query sync event: %v", err)
	}
	if !called {
		t.Fatalf("expected reader invocation")
	}
	if event.Status != core.StatusDeadLetter {
		t.Fatalf("unexpected event: %#v", event)
	}
}

func TestListQueries_Delegate(t *testing.T) {
	reader := stubSyncReader{
		listFn: func(_ context.Context, filter core.EventFilter) (core.EventPage, error) {
			if filter.Status != core.StatusFailed || filter.ConfigID != "cfg_1" {
				t.Fatalf("unexpected filter: %#v", filter)
			}
			return core.EventPage{Items: []core.SyncEvent{{ID: "evt_1"}}, Total: 1}, nil
		},
		deadLettersFn: func(_ context.Context, tenantID string, page int, perPage int) (core.EventPage, error) {
			if tenantID != "tenant_a" || page != 2 || perPage != 5 {
				t.Fatalf("unexpected dead letter request: %q %d %d", tenantID, page, perPage)
			}
			return core.EventPage{Page: page, PerPage: perPage}, nil
		},
		auditFn: func(_ context.Context, _ string, eventID string) ([]core.AuditEntry, error) {
			return []core.AuditEntry{{EventID: eventID, Action: core.AuditActionRequeued}}, nil
		},
		deliveriesFn: func(_ context.Context, _ string, eventID string) ([]core.WebhookDelivery, error) {
			return []core.WebhookDelivery{{SyncEventID: &eventID}}, nil
		},
	}

	page, err := NewListSyncEventsQuery(reader).Query(context.Background(), ListSyncEventsMessage{
		Filter: core.EventFilter{TenantID: "tenant_a", Status: core.StatusFailed, ConfigID: "cfg_1"},
	})
	if err != nil || page.Total != 1 {
		t.Fatalf("list events: total=%d err=%v", page.Total, err)
	}
	deadLetters, err := NewListDeadLettersQuery(reader).Query(context.Background(), ListDeadLettersMessage{
		TenantID: "tenant_a",
		Page:     2,
		PerPage:  5,
	})
	if err != nil || deadLetters.Page != 2 {
		t.Fatalf("list dead letters: page=%d err=%v", deadLetters.Page, err)
	}
	audit, err := NewListAuditEntriesQuery(reader).Query(context.Background(), ListAuditEntriesMessage{
		TenantID: "tenant_a",
		EventID:  "evt_1",
	})
	if err != nil || len(audit) != 1 || audit[0].Action != core.AuditActionRequeued {
		t.Fatalf("list audit entries: %#v err=%v", audit, err)
	}
	deliveries, err := NewListDeliveriesQuery(reader).Query(context.Background(), ListDeliveriesMessage{
		TenantID: "tenant_a",
		EventID:  "evt_1",
	})
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("list deliveries: %#v err=%v", deliveries, err)
	}
}

func TestListDeadLettersQuery_AgainstService(t *testing.T) {
	svc, err := core.NewService(core.Config{}, core.WithRepositoryFactory(core.NewMemoryStore()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	page, err := NewListDeadLettersQuery(svc).Query(context.Background(), ListDeadLettersMessage{TenantID: "tenant_a"})
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(page.Items) != 0 || page.Total != 0 {
		t.Fatalf("expected empty page, got %#v", page)
	}
	if _, err := NewGetSyncEventQuery(svc).Query(context.Background(), GetSyncEventMessage{
		TenantID: "tenant_a",
		EventID:  "missing",
	}); !core.HasTextCode(err, core.SyncErrorEventNotFound) {
		t.Fatalf("expected event not found, got %v", err)
	}
}

func TestMessages_ValidateReturnsRichError(t *testing.T) {
	cases := map[string]interface{ Validate() error }{
		"get missing event":        GetSyncEventMessage{TenantID: "tenant_a"},
		"list missing tenant":      ListSyncEventsMessage{},
		"list unknown status":      ListSyncEventsMessage{Filter: core.EventFilter{TenantID: "t", Status: "ARCHIVED"}},
		"list negative page":       ListSyncEventsMessage{Filter: core.EventFilter{TenantID: "t", Page: -1}},
		"dead letters per page":    ListDeadLettersMessage{TenantID: "t", PerPage: -1},
		"audit missing tenant":     ListAuditEntriesMessage{EventID: "evt"},
		"deliveries missing event": ListDeliveriesMessage{TenantID: "t"},
	}
	for name, msg := range cases {
		err := msg.Validate()
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T", name, err)
		}
		if rich.TextCode != core.SyncErrorBadInput {
			t.Fatalf("%s: expected %q text code, got %q", name, core.SyncErrorBadInput, rich.TextCode)
		}
	}
	if err := (ListSyncEventsMessage{Filter: core.EventFilter{TenantID: "t", Status: core.StatusPending}}).Validate(); err != nil {
		t.Fatalf("expected valid list message, got %v", err)
	}
}

func TestQueries_NilReaderReturnsRichError(t *testing.T) {
	var qry *GetSyncEventQuery
	_, err := qry.Query(context.Background(), GetSyncEventMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
