package atlassiansync

import (
	"fmt"

	synccommand "github.com/goliatone/go-atlassian-sync/command"
	"github.com/goliatone/go-atlassian-sync/core"
	syncquery "github.com/goliatone/go-atlassian-sync/query"
)

// CommandQueryService is the surface the facade binds its handlers to.
// *core.Service satisfies it.
type CommandQueryService interface {
	synccommand.IngestionService
	synccommand.RecoveryService
	syncquery.SyncEventReader
	syncquery.AuditReader
	syncquery.DeliveryReader
}

type Commands struct {
	EnqueueWebhook   *synccommand.EnqueueWebhookCommand
	RequeueEvent     *synccommand.RequeueEventCommand
	RunSchedulerTick *synccommand.RunSchedulerTickCommand
}

type Queries struct {
	GetSyncEvent     *syncquery.GetSyncEventQuery
	ListSyncEvents   *syncquery.ListSyncEventsQuery
	ListDeadLetters  *syncquery.ListDeadLettersQuery
	ListAuditEntries *syncquery.ListAuditEntriesQuery
	ListDeliveries   *syncquery.ListDeliveriesQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	scheduler synccommand.SchedulerTicker
}

// WithScheduler enables the RunSchedulerTick command. Ingest-only nodes
// leave it unset.
func WithScheduler(scheduler synccommand.SchedulerTicker) FacadeOption {
	return func(options *facadeOptions) {
		options.scheduler = scheduler
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("atlassiansync: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		EnqueueWebhook: synccommand.NewEnqueueWebhookCommand(service),
		RequeueEvent:   synccommand.NewRequeueEventCommand(service),
	}
	if cfg.scheduler != nil {
		facade.commands.RunSchedulerTick = synccommand.NewRunSchedulerTickCommand(cfg.scheduler)
	}
	facade.queries = Queries{
		GetSyncEvent:     syncquery.NewGetSyncEventQuery(service),
		ListSyncEvents:   syncquery.NewListSyncEventsQuery(service),
		ListDeadLetters:  syncquery.NewListDeadLettersQuery(service),
		ListAuditEntries: syncquery.NewListAuditEntriesQuery(service),
		ListDeliveries:   syncquery.NewListDeliveriesQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*core.Service)(nil)
