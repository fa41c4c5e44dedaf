package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	synccommand "github.com/goliatone/go-atlassian-sync/command"
	"github.com/goliatone/go-atlassian-sync/core"
	glog "github.com/goliatone/go-logger/glog"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDSchedulerTick = "sync.scheduler.tick"
	JobIDEventRequeue  = "sync.event.requeue"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, MaxDelay: 5 * time.Minute, DeadLetterOnMax: true}
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// NextDelay doubles from one second per attempt, bounded by MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// SchedulerTickMessage builds a tick job. Ticks for the same owner within
// one second share an idempotency key.
func SchedulerTickMessage(owner string, at time.Time) *job.ExecutionMessage {
	owner = strings.TrimSpace(owner)
	return &job.ExecutionMessage{
		JobID:          JobIDSchedulerTick,
		ScriptPath:     JobIDSchedulerTick,
		Parameters:     map[string]any{"owner": owner},
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", JobIDSchedulerTick, owner, at.UTC().Unix()),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

func RequeueMessage(req core.RequeueRequest) *job.ExecutionMessage {
	tenantID := strings.TrimSpace(req.TenantID)
	eventID := strings.TrimSpace(req.EventID)
	return &job.ExecutionMessage{
		JobID:      JobIDEventRequeue,
		ScriptPath: JobIDEventRequeue,
		Parameters: map[string]any{
			"tenant_id": tenantID,
			"event_id":  eventID,
			"actor":     strings.TrimSpace(req.Actor),
			"reason":    strings.TrimSpace(req.Reason),
		},
		IdempotencyKey: JobIDEventRequeue + ":" + tenantID + ":" + eventID,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// RequeueRequestFromMessage reads the requeue parameters back off a job.
func RequeueRequestFromMessage(msg *job.ExecutionMessage) (core.RequeueRequest, error) {
	if msg == nil {
		return core.RequeueRequest{}, fmt.Errorf("gojob: execution message is required")
	}
	req := core.RequeueRequest{
		TenantID: stringParam(msg.Parameters, "tenant_id"),
		EventID:  stringParam(msg.Parameters, "event_id"),
		Actor:    stringParam(msg.Parameters, "actor"),
		Reason:   stringParam(msg.Parameters, "reason"),
	}
	if req.TenantID == "" || req.EventID == "" {
		return core.RequeueRequest{}, core.BadInputError("gojob: requeue job requires tenant_id and event_id", map[string]any{
			"job_id": msg.JobID,
		})
	}
	return req, nil
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
	now      func() time.Time
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer, now: time.Now}
}

func (a *EnqueuerAdapter) EnqueueTick(ctx context.Context, owner string) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return a.enqueuer.Enqueue(ctx, SchedulerTickMessage(owner, a.now()))
}

func (a *EnqueuerAdapter) EnqueueRequeue(ctx context.Context, req core.RequeueRequest) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.EventID) == "" {
		return core.BadInputError("gojob: tenant id and event id are required", nil)
	}
	return a.enqueuer.Enqueue(ctx, RequeueMessage(req))
}

// Runner executes sync jobs taken off a go-job queue.
type Runner struct {
	scheduler synccommand.SchedulerTicker
	recovery  synccommand.RecoveryService
	policy    RetryPolicy
	logger    core.Logger
}

func NewRunner(
	scheduler synccommand.SchedulerTicker,
	recovery synccommand.RecoveryService,
	policy RetryPolicy,
	logger core.Logger,
) *Runner {
	return &Runner{
		scheduler: scheduler,
		recovery:  recovery,
		policy:    policy,
		logger:    glog.Ensure(logger),
	}
}

func (r *Runner) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is nil")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDSchedulerTick:
		if r.scheduler == nil {
			return fmt.Errorf("gojob: scheduler is not configured")
		}
		stats, err := r.scheduler.Tick(ctx)
		if err != nil {
			return err
		}
		r.logger.Info("sync scheduler tick job completed",
			"leased", stats.Leased,
			"completed", stats.Completed,
			"retried", stats.Retried,
			"dead_lettered", stats.DeadLettered,
		)
		return nil
	case JobIDEventRequeue:
		if r.recovery == nil {
			return fmt.Errorf("gojob: recovery service is not configured")
		}
		req, err := RequeueRequestFromMessage(msg)
		if err != nil {
			return err
		}
		if _, err := r.recovery.Requeue(ctx, req); err != nil {
			return err
		}
		return nil
	default:
		return core.BadInputError(fmt.Sprintf("gojob: unsupported job id %q", msg.JobID), nil)
	}
}

// Process runs one delivery and settles it. Errors that can never succeed
// on retry go straight to the queue dead letter.
func (r *Runner) Process(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	err := r.Execute(ctx, delivery.Message())
	if err == nil {
		return delivery.Ack(ctx)
	}
	opts := queue.NackOptions{
		Delay:   r.policy.NextDelay(attempt),
		Requeue: true,
		Reason:  err.Error(),
	}
	if !isRetryableJobError(err) {
		opts.Requeue = false
		opts.DeadLetter = true
	}
	opts = r.policy.NormalizeAttempt(opts, attempt)
	if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
		return fmt.Errorf("gojob: nack after %v: %w", err, nackErr)
	}
	return err
}

// ProcessNext dequeues and processes a single delivery.
func (r *Runner) ProcessNext(ctx context.Context, dequeuer queue.Dequeuer, attempt int) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return r.Process(ctx, delivery, attempt)
}

func isRetryableJobError(err error) bool {
	for _, code := range []string{
		core.SyncErrorBadInput,
		core.SyncErrorEventNotFound,
		core.SyncErrorInvalidStateTransition,
	} {
		if core.HasTextCode(err, code) {
			return false
		}
	}
	return true
}

// LoggingHook reports go-job worker lifecycle events through glog.
type LoggingHook struct {
	logger core.Logger
}

func NewLoggingHook(logger core.Logger) *LoggingHook {
	return &LoggingHook{logger: glog.Ensure(logger)}
}

func (h *LoggingHook) OnStart(ctx context.Context, event worker.Event) {
	h.log(ctx, "info", "sync job started", event)
}

func (h *LoggingHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.log(ctx, "info", "sync job succeeded", event)
}

func (h *LoggingHook) OnFailure(ctx context.Context, event worker.Event) {
	h.log(ctx, "error", "sync job failed", event)
}

func (h *LoggingHook) OnRetry(ctx context.Context, event worker.Event) {
	h.log(ctx, "warn", "sync job retry scheduled", event)
}

func (h *LoggingHook) log(ctx context.Context, level string, message string, event worker.Event) {
	if h == nil || h.logger == nil {
		return
	}
	logger := h.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	args := eventFields(event)
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func eventFields(event worker.Event) []any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	args := []any{"attempt", event.Attempt}
	if message != nil {
		args = append(args, "job_id", message.JobID, "idempotency_key", message.IdempotencyKey)
	}
	if event.Delay > 0 {
		args = append(args, "delay", event.Delay.String())
	}
	if event.Duration > 0 {
		args = append(args, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

var _ worker.Hook = (*LoggingHook)(nil)
