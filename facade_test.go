package atlassiansync

import (
	"context"
	"encoding/json"
	"testing"

	synccommand "github.com/goliatone/go-atlassian-sync/command"
	"github.com/goliatone/go-atlassian-sync/core"
	syncquery "github.com/goliatone/go-atlassian-sync/query"
	gocmd "github.com/goliatone/go-command"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	commands := facade.Commands()
	if commands.EnqueueWebhook == nil || commands.RequeueEvent == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	if commands.RunSchedulerTick != nil {
		t.Fatalf("expected no tick command without a scheduler")
	}
	queries := facade.Queries()
	if queries.GetSyncEvent == nil || queries.ListSyncEvents == nil || queries.ListDeadLetters == nil ||
		queries.ListAuditEntries == nil || queries.ListDeliveries == nil {
		t.Fatalf("expected query handlers to be wired")
	}

	withScheduler, err := NewFacade(&stubFacadeService{}, WithScheduler(&stubTicker{}))
	if err != nil {
		t.Fatalf("new facade with scheduler: %v", err)
	}
	if withScheduler.Commands().RunSchedulerTick == nil {
		t.Fatalf("expected tick command when a scheduler is supplied")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	ticker := &stubTicker{}
	facade, err := NewFacade(svc, WithScheduler(ticker))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	collector := gocmd.NewResult[core.EnqueueResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := facade.Commands().EnqueueWebhook.Execute(ctx, synccommand.EnqueueWebhookMessage{Request: core.EnqueueRequest{
		ConfigID: "cfg_1",
		Payload:  json.RawMessage(`{"webhookEvent":"jira:issue_created"}`),
	}}); err != nil {
		t.Fatalf("execute enqueue: %v", err)
	}
	if svc.lastEnqueue.ConfigID != "cfg_1" {
		t.Fatalf("unexpected enqueue delegation: %#v", svc.lastEnqueue)
	}
	if result, ok := collector.Load(); !ok || result.EventID != "evt_1" {
		t.Fatalf("expected enqueue result in context collector, got %#v", result)
	}

	if err := facade.Commands().RequeueEvent.Execute(context.Background(), synccommand.RequeueEventMessage{Request: core.RequeueRequest{
		TenantID: "tenant_a",
		EventID:  "evt_1",
		Actor:    "ops",
	}}); err != nil {
		t.Fatalf("execute requeue: %v", err)
	}
	if svc.lastRequeue.Actor != "ops" {
		t.Fatalf("unexpected requeue delegation: %#v", svc.lastRequeue)
	}

	if err := facade.Commands().RunSchedulerTick.Execute(context.Background(), synccommand.RunSchedulerTickMessage{}); err != nil {
		t.Fatalf("execute tick: %v", err)
	}
	if ticker.calls != 1 {
		t.Fatalf("expected one tick, got %d", ticker.calls)
	}

	event, err := facade.Queries().GetSyncEvent.Query(context.Background(), syncquery.GetSyncEventMessage{TenantID: "tenant_a", EventID: "evt_1"})
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.ID != "evt_1" || event.TenantID != "tenant_a" {
		t.Fatalf("unexpected event: %#v", event)
	}
	page, err := facade.Queries().ListDeadLetters.Query(context.Background(), syncquery.ListDeadLettersMessage{TenantID: "tenant_a"})
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Status != core.StatusDeadLetter {
		t.Fatalf("unexpected dead-letter page: %#v", page)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
}

type stubFacadeService struct {
	lastEnqueue core.EnqueueRequest
	lastRequeue core.RequeueRequest
}

func (s *stubFacadeService) Enqueue(_ context.Context, req core.EnqueueRequest) (core.EnqueueResult, error) {
	s.lastEnqueue = req
	return core.EnqueueResult{EventID: "evt_1", TenantID: "tenant_a"}, nil
}

func (s *stubFacadeService) Requeue(_ context.Context, req core.RequeueRequest) (core.SyncEvent, error) {
	s.lastRequeue = req
	return core.SyncEvent{ID: req.EventID, TenantID: req.TenantID, Status: core.StatusPending}, nil
}

func (s *stubFacadeService) GetEvent(_ context.Context, tenantID string, eventID string) (core.SyncEvent, error) {
	return core.SyncEvent{ID: eventID, TenantID: tenantID, Status: core.StatusCompleted}, nil
}

func (s *stubFacadeService) ListEvents(_ context.Context, filter core.EventFilter) (core.EventPage, error) {
	return core.EventPage{Page: filter.Page, PerPage: filter.PerPage}, nil
}

func (s *stubFacadeService) ListDeadLetters(_ context.Context, tenantID string, page int, perPage int) (core.EventPage, error) {
	return core.EventPage{
		Items:   []core.SyncEvent{{ID: "evt_dead", TenantID: tenantID, Status: core.StatusDeadLetter}},
		Page:    page,
		PerPage: perPage,
		Total:   1,
	}, nil
}

func (s *stubFacadeService) ListAuditEntries(context.Context, string, string) ([]core.AuditEntry, error) {
	return nil, nil
}

func (s *stubFacadeService) ListDeliveries(context.Context, string, string) ([]core.WebhookDelivery, error) {
	return nil, nil
}

type stubTicker struct {
	calls int
}

func (s *stubTicker) Tick(context.Context) (core.TickStats, error) {
	s.calls++
	return core.TickStats{}, nil
}
