package command

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-atlassian-sync/core"
)

const (
	TypeEnqueueWebhook   = "sync.command.webhook.enqueue"
	TypeRequeueEvent     = "sync.command.event.requeue"
	TypeRunSchedulerTick = "sync.command.scheduler.tick"
)

type EnqueueWebhookMessage struct {
	Request core.EnqueueRequest
}

func (EnqueueWebhookMessage) Type() string { return TypeEnqueueWebhook }

func (m EnqueueWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConfigID) == "" {
		return commandValidationError("config_id", "config id is required")
	}
	if len(strings.TrimSpace(string(m.Request.Payload))) == 0 {
		return commandValidationError("payload", "webhook payload is required")
	}
	if !json.Valid(m.Request.Payload) {
		return commandValidationError("payload", "webhook payload must be valid json")
	}
	return nil
}

type RequeueEventMessage struct {
	Request core.RequeueRequest
}

func (RequeueEventMessage) Type() string { return TypeRequeueEvent }

func (m RequeueEventMessage) Validate() error {
	if strings.TrimSpace(m.Request.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.Request.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

// RunSchedulerTickMessage asks for one scheduler pass. It carries no
// payload; the scheduler identity comes from the command's scheduler.
type RunSchedulerTickMessage struct {
	Reason string
}

func (RunSchedulerTickMessage) Type() string { return TypeRunSchedulerTick }

func (RunSchedulerTickMessage) Validate() error { return nil }
