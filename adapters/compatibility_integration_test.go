package adapters_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/goliatone/go-atlassian-sync/adapters/gocommand"
	"github.com/goliatone/go-atlassian-sync/adapters/gojob"
	"github.com/goliatone/go-atlassian-sync/adapters/gologger"
	synccommand "github.com/goliatone/go-atlassian-sync/command"
	"github.com/goliatone/go-atlassian-sync/core"
	"github.com/goliatone/go-atlassian-sync/inbound"
	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob(gologger.LoggerJobs, provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueueProbe := &compatEnqueuer{}
	enqueueAdapter := gojob.NewEnqueuerAdapter(enqueueProbe)
	if err := enqueueAdapter.EnqueueTick(ctx, "node-a"); err != nil {
		t.Fatalf("enqueue tick via gojob adapter: %v", err)
	}
	if enqueueProbe.last == nil || enqueueProbe.last.JobID != gojob.JobIDSchedulerTick {
		t.Fatalf("expected go-job message mapping through enqueuer adapter")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := commandAdapter.RegisterCommand(command.CommandFunc[synccommand.RunSchedulerTickMessage](
		func(context.Context, synccommand.RunSchedulerTickMessage) error { return nil },
	)); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get(synccommand.TypeRunSchedulerTick); !ok {
		t.Fatalf("expected command resolver hook to mirror scheduler tick command into go-job queue registry")
	}
}

func TestRuntimeCompatibility_WebhookDispatchThroughCommandBus(t *testing.T) {
	ingestion := &compatIngestion{}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	sub, err := gocommand.RegisterAndSubscribe(adapter, synccommand.NewEnqueueWebhookCommand(ingestion))
	if err != nil {
		t.Fatalf("register enqueue wrapper: %v", err)
	}
	defer sub.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	dispatcher := inbound.NewDispatcher(&busEnqueuer{}, nil, inbound.NewInMemoryClaimStore())
	first, err := dispatcher.Dispatch(context.Background(), inbound.WebhookRequest{
		Source:     "jira",
		ConfigID:   "cfg_1",
		DeliveryID: "dlv-1",
		Headers:    map[string]string{"X-Event-Type": "jira:issue_created"},
		Body:       []byte(`{"issue":{"key":"OPS-1"}}`),
	})
	if err != nil {
		t.Fatalf("dispatch webhook: %v", err)
	}
	if !first.Accepted || first.StatusCode != 202 {
		t.Fatalf("expected accepted webhook, got %#v", first)
	}
	if ingestion.calls != 1 || ingestion.last.ConfigID != "cfg_1" || ingestion.last.DeliveryID != "dlv-1" {
		t.Fatalf("expected enqueue wrapper invocation through inbound dispatch, got %#v", ingestion.last)
	}

	second, err := dispatcher.Dispatch(context.Background(), inbound.WebhookRequest{
		Source:     "jira",
		ConfigID:   "cfg_1",
		DeliveryID: "dlv-1",
		Body:       []byte(`{"issue":{"key":"OPS-1"}}`),
	})
	if err != nil {
		t.Fatalf("dispatch duplicate webhook: %v", err)
	}
	if !second.Deduped || ingestion.calls != 1 {
		t.Fatalf("expected duplicate delivery to be absorbed before the command bus")
	}
}

// busEnqueuer routes accepted webhooks through the go-command dispatcher.
type busEnqueuer struct{}

func (busEnqueuer) Enqueue(ctx context.Context, req core.EnqueueRequest) (core.EnqueueResult, error) {
	result := command.NewResult[core.EnqueueResult]()
	ctx = command.ContextWithResult(ctx, result)
	if err := gocommand.Dispatch(ctx, synccommand.EnqueueWebhookMessage{Request: req}); err != nil {
		return core.EnqueueResult{}, err
	}
	out, _ := result.Load()
	return out, nil
}

type compatIngestion struct {
	calls int
	last  core.EnqueueRequest
}

func (s *compatIngestion) Enqueue(_ context.Context, req core.EnqueueRequest) (core.EnqueueResult, error) {
	s.calls++
	s.last = req
	if !json.Valid(req.Payload) {
		return core.EnqueueResult{}, core.BadInputError("invalid payload", nil)
	}
	return core.EnqueueResult{EventID: "evt_1", DeliveryID: req.DeliveryID, TenantID: "tenant_a"}, nil
}

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.last = msg
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }
