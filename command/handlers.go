package command

import (
	"context"

	"github.com/goliatone/go-atlassian-sync/core"
	gocmd "github.com/goliatone/go-command"
)

type IngestionService interface {
	Enqueue(ctx context.Context, req core.EnqueueRequest) (core.EnqueueResult, error)
}

type RecoveryService interface {
	Requeue(ctx context.Context, req core.RequeueRequest) (core.SyncEvent, error)
}

type SchedulerTicker interface {
	Tick(ctx context.Context) (core.TickStats, error)
}

type EnqueueWebhookCommand struct {
	service IngestionService
}

func NewEnqueueWebhookCommand(service IngestionService) *EnqueueWebhookCommand {
	return &EnqueueWebhookCommand{service: service}
}

func (c *EnqueueWebhookCommand) Execute(ctx context.Context, msg EnqueueWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingestion service is required")
	}
	out, err := c.service.Enqueue(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RequeueEventCommand struct {
	service RecoveryService
}

func NewRequeueEventCommand(service RecoveryService) *RequeueEventCommand {
	return &RequeueEventCommand{service: service}
}

func (c *RequeueEventCommand) Execute(ctx context.Context, msg RequeueEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: recovery service is required")
	}
	out, err := c.service.Requeue(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RunSchedulerTickCommand struct {
	scheduler SchedulerTicker
}

func NewRunSchedulerTickCommand(scheduler SchedulerTicker) *RunSchedulerTickCommand {
	return &RunSchedulerTickCommand{scheduler: scheduler}
}

func (c *RunSchedulerTickCommand) Execute(ctx context.Context, _ RunSchedulerTickMessage) error {
	if c == nil || c.scheduler == nil {
		return commandDependencyError("command: scheduler is required")
	}
	stats, err := c.scheduler.Tick(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
