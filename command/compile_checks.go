package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[EnqueueWebhookMessage]   = (*EnqueueWebhookCommand)(nil)
	_ gocmd.Commander[RequeueEventMessage]     = (*RequeueEventCommand)(nil)
	_ gocmd.Commander[RunSchedulerTickMessage] = (*RunSchedulerTickCommand)(nil)
)
