package gocommand

import (
	"context"
	"fmt"
	"strings"

	synccommand "github.com/goliatone/go-atlassian-sync/command"
	"github.com/goliatone/go-atlassian-sync/core"
	syncquery "github.com/goliatone/go-atlassian-sync/query"
	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeCommandFunc[T any](handler command.CommandFunc[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(handler, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func SubscribeQueryFunc[T any, R any](qry command.QueryFunc[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// SyncHandlers names the collaborators behind the sync commands and queries.
// Nil members skip their handlers.
type SyncHandlers struct {
	Ingestion  synccommand.IngestionService
	Recovery   synccommand.RecoveryService
	Scheduler  synccommand.SchedulerTicker
	Events     syncquery.SyncEventReader
	Audit      syncquery.AuditReader
	Deliveries syncquery.DeliveryReader
}

// RegisterSyncHandlers registers and subscribes every available sync
// command and query. On error, subscriptions made so far are released.
func RegisterSyncHandlers(
	adapter *RegistryAdapter,
	handlers SyncHandlers,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	var subscriptions []commanddispatcher.Subscription
	track := func(subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			for _, existing := range subscriptions {
				existing.Unsubscribe()
			}
			subscriptions = nil
			return err
		}
		subscriptions = append(subscriptions, subscription)
		return nil
	}

	if handlers.Ingestion != nil {
		if err := track(RegisterAndSubscribe[synccommand.EnqueueWebhookMessage](
			adapter, synccommand.NewEnqueueWebhookCommand(handlers.Ingestion), runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.Recovery != nil {
		if err := track(RegisterAndSubscribe[synccommand.RequeueEventMessage](
			adapter, synccommand.NewRequeueEventCommand(handlers.Recovery), runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.Scheduler != nil {
		if err := track(RegisterAndSubscribe[synccommand.RunSchedulerTickMessage](
			adapter, synccommand.NewRunSchedulerTickCommand(handlers.Scheduler), runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.Events != nil {
		if err := track(RegisterAndSubscribeQuery[syncquery.GetSyncEventMessage, core.SyncEvent](
			adapter, syncquery.NewGetSyncEventQuery(handlers.Events), runnerOpts...,
		)); err != nil {
			return nil, err
		}
		if err := track(RegisterAndSubscribeQuery[syncquery.ListSyncEventsMessage, core.EventPage](
			adapter, syncquery.NewListSyncEventsQuery(handlers.Events), runnerOpts...,
		)); err != nil {
			return nil, err
		}
		if err := track(RegisterAndSubscribeQuery[syncquery.ListDeadLettersMessage, core.EventPage](
			adapter, syncquery.NewListDeadLettersQuery(handlers.Events), runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.Audit != nil {
		if err := track(RegisterAndSubscribeQuery[syncquery.ListAuditEntriesMessage, []core.AuditEntry](
			adapter, syncquery.NewListAuditEntriesQuery(handlers.Audit), runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.Deliveries != nil {
		if err := track(RegisterAndSubscribeQuery[syncquery.ListDeliveriesMessage, []core.WebhookDelivery](
			adapter, syncquery.NewListDeliveriesQuery(handlers.Deliveries), runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	return subscriptions, nil
}

// HandlersForService wires every sync handler to one service and scheduler.
func HandlersForService(service *core.Service, scheduler *core.Scheduler) SyncHandlers {
	handlers := SyncHandlers{}
	if service != nil {
		handlers.Ingestion = service
		handlers.Recovery = service
		handlers.Events = service
		handlers.Audit = service
		handlers.Deliveries = service
	}
	if scheduler != nil {
		handlers.Scheduler = scheduler
	}
	return handlers
}
