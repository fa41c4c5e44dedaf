package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

// testClock is a settable clock shared by the service, scheduler and store.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// entityTransformer emits one CREATE_ENTITY per event keyed by the payload
// "id" field, plus a LINK_ENTITIES when "parent" is present.
type entityTransformer struct {
	err error
}

func (t entityTransformer) Transform(_ context.Context, event SyncEvent, _ SyncConfiguration) ([]DownstreamOperation, error) {
	if t.err != nil {
		return nil, t.err
	}
	var payload map[string]any
	if err := json.Unmarshal(event.Changes, &payload); err != nil {
		return nil, WrapTransformError(err, "payload is not a json object", nil)
	}
	id, _ := payload["id"].(string)
	if id == "" {
		return nil, nil
	}
	ops := []DownstreamOperation{{
		Kind:   OperationCreateEntity,
		Entity: &EntitySpec{ExternalID: id, Type: "issue", Name: id},
	}}
	if parent, ok := payload["parent"].(string); ok && parent != "" {
		ops = append(ops, DownstreamOperation{
			Kind: OperationLinkEntities,
			Link: &LinkSpec{SourceID: id, TargetID: parent, RelationType: "child_of"},
		})
	}
	return ops, nil
}

// scriptedPublisher returns queued errors in order and succeeds once the
// queue is drained. The publish hook runs before the result is returned.
type scriptedPublisher struct {
	mu        sync.Mutex
	failures  []error
	published []DownstreamOperation
	onPublish func(op DownstreamOperation)
}

func (p *scriptedPublisher) Publish(_ context.Context, op DownstreamOperation) (PublishResult, error) {
	p.mu.Lock()
	hook := p.onPublish
	var err error
	if len(p.failures) > 0 {
		err = p.failures[0]
		p.failures = p.failures[1:]
	}
	if err == nil {
		p.published = append(p.published, op)
	}
	count := len(p.published)
	p.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	if err != nil {
		return PublishResult{}, err
	}
	switch op.Kind {
	case OperationLinkEntities:
		return PublishResult{Kind: op.Kind, ID: fmt.Sprintf("rel_%d", count)}, nil
	default:
		return PublishResult{Kind: op.Kind, ID: "kg_" + op.Entity.ExternalID}, nil
	}
}

func (p *scriptedPublisher) failNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, errs...)
}

func (p *scriptedPublisher) publishedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type pipelineFixture struct {
	store     *MemoryStore
	clock     *testClock
	publisher *scriptedPublisher
	service   *Service
	ids       int
	idsMu     sync.Mutex
}

func newPipelineFixture(t *testing.T, opts ...Option) *pipelineFixture {
	t.Helper()
	fixture := &pipelineFixture{
		store:     NewMemoryStore(),
		clock:     newTestClock(),
		publisher: &scriptedPublisher{},
	}
	fixture.store.now = fixture.clock.Now

	base := []Option{
		WithLogger(stubLogger{}),
		WithRepositoryFactory(fixture.store),
		WithTransformer(entityTransformer{}),
		WithPublisher(fixture.publisher),
		WithClock(fixture.clock.Now),
		WithIDGenerator(fixture.nextID),
	}
	svc, err := NewService(Config{}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	fixture.service = svc
	return fixture
}

func (f *pipelineFixture) nextID() string {
	f.idsMu.Lock()
	defer f.idsMu.Unlock()
	f.ids++
	return fmt.Sprintf("id_%03d", f.ids)
}

func (f *pipelineFixture) saveConfig(t *testing.T, config SyncConfiguration) SyncConfiguration {
	t.Helper()
	if config.TenantID == "" {
		config.TenantID = "tenant_a"
	}
	if config.Source == "" {
		config.Source = "jira"
	}
	saved, err := f.store.ConfigurationWriter().Save(context.Background(), config)
	if err != nil {
		t.Fatalf("save config: %v", err)
	}
	return saved
}

func (f *pipelineFixture) enqueue(t *testing.T, configID string, payload string) EnqueueResult {
	t.Helper()
	result, err := f.service.Enqueue(context.Background(), EnqueueRequest{
		ConfigID: configID,
		Payload:  json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return result
}

func (f *pipelineFixture) scheduler(t *testing.T, owner string) *Scheduler {
	t.Helper()
	scheduler, err := f.service.NewScheduler(WithSchedulerOwner(owner))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return scheduler
}

func (f *pipelineFixture) event(t *testing.T, tenantID, eventID string) SyncEvent {
	t.Helper()
	event, err := f.store.SyncEventStore().Get(context.Background(), tenantID, eventID)
	if err != nil {
		t.Fatalf("get event %s: %v", eventID, err)
	}
	return event
}

func mustTick(t *testing.T, scheduler *Scheduler) TickStats {
	t.Helper()
	stats, err := scheduler.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return stats
}
