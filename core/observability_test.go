package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func TestServiceObservability_EnqueueSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	fixture := newPipelineFixture(t,
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	fixture.saveConfig(t, SyncConfiguration{ID: "cfg_1", RetryLimit: 3, Enabled: true})

	_, err := fixture.service.Enqueue(context.Background(), EnqueueRequest{
		ConfigID: "cfg_1",
		Payload:  json.RawMessage(`{"webhookEvent":"jira:issue_created"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if !hasCounter(metrics.counters, "sync.enqueue.total", "success") {
		t.Fatalf("expected sync.enqueue.total success counter")
	}
	if !hasHistogram(metrics.histograms, "sync.enqueue.duration_ms", "success") {
		t.Fatalf("expected sync.enqueue.duration_ms histogram")
	}
	if !hasLog(logger.snapshot(), "info", "enqueue succeeded", "enqueue") {
		t.Fatalf("expected enqueue succeeded structured log")
	}
}

func TestSchedulerObservability_DeadLetterIsLoggedAsError(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	fixture := newPipelineFixture(t,
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	fixture.saveConfig(t, SyncConfiguration{ID: "cfg_1", RetryLimit: 1, Enabled: true})
	result := fixture.enqueue(t, "cfg_1", `{"id":"PROJ-1"}`)
	fixture.publisher.failNext(errors.New("downstream unavailable"))

	mustTick(t, fixture.scheduler(t, "worker-a"))

	found := false
	for _, record := range logger.snapshot() {
		if record.level == "error" && record.msg == "sync event dead-lettered" && record.fields["event_id"] == result.EventID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected dead-letter error log for %s", result.EventID)
	}
	if !hasCounter(metrics.counters, "sync.scheduler_tick.total", "success") {
		t.Fatalf("expected scheduler tick counter")
	}
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, operation string) bool {
	for _, item := range items {
		if item.level != level || item.msg != message {
			continue
		}
		if item.fields["operation"] == operation {
			return true
		}
	}
	return false
}
