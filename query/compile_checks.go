package query

import (
	"github.com/goliatone/go-atlassian-sync/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetSyncEventMessage, core.SyncEvent]           = (*GetSyncEventQuery)(nil)
	_ gocmd.Querier[ListSyncEventsMessage, core.EventPage]         = (*ListSyncEventsQuery)(nil)
	_ gocmd.Querier[ListDeadLettersMessage, core.EventPage]        = (*ListDeadLettersQuery)(nil)
	_ gocmd.Querier[ListAuditEntriesMessage, []core.AuditEntry]    = (*ListAuditEntriesQuery)(nil)
	_ gocmd.Querier[ListDeliveriesMessage, []core.WebhookDelivery] = (*ListDeliveriesQuery)(nil)
)
