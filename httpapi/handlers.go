package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	synccommand "github.com/goliatone/go-atlassian-sync/command"
	"github.com/goliatone/go-atlassian-sync/core"
	"github.com/goliatone/go-atlassian-sync/inbound"
	syncquery "github.com/goliatone/go-atlassian-sync/query"

	"github.com/gin-gonic/gin"
	gocmd "github.com/goliatone/go-command"
)

type webhookHandler struct {
	dispatcher   WebhookDispatcher
	maxBodyBytes int64
}

func newWebhookHandler(dispatcher WebhookDispatcher, maxBodyBytes int64) *webhookHandler {
	return &webhookHandler{dispatcher: dispatcher, maxBodyBytes: maxBodyBytes}
}

func (h *webhookHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/webhooks/:source/:config_id", h.receive)
}

func (h *webhookHandler) receive(c *gin.Context) {
	reader := io.Reader(c.Request.Body)
	if h.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, core.BadInputError("webhook body exceeds the configured limit", map[string]any{
				"limit_bytes": h.maxBodyBytes,
			}).WithCode(http.StatusRequestEntityTooLarge))
			return
		}
		respondError(c, core.BadInputError("webhook body could not be read", nil))
		return
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), inbound.WebhookRequest{
		Source:   c.Param("source"),
		ConfigID: c.Param("config_id"),
		Headers:  flattenHeaders(c.Request.Header),
		Body:     body,
	})
	if err != nil {
		mapped := core.MapError(err)
		if result.StatusCode >= http.StatusBadRequest {
			mapped.Code = result.StatusCode
		}
		respondError(c, mapped)
		return
	}
	if result.Deduped {
		c.JSON(http.StatusOK, gin.H{
			"status":      "deduped",
			"delivery_id": result.DeliveryID,
		})
		return
	}
	status := result.StatusCode
	if status == 0 {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{
		"status":      "accepted",
		"event_id":    result.EventID,
		"delivery_id": result.DeliveryID,
		"tenant_id":   result.TenantID,
	})
}

type adminHandler struct {
	requeue *synccommand.RequeueEventCommand
	tick    *synccommand.RunSchedulerTickCommand
	get     *syncquery.GetSyncEventQuery
	list    *syncquery.ListSyncEventsQuery
	audit   *syncquery.ListAuditEntriesQuery
}

func newAdminHandler(
	recovery synccommand.RecoveryService,
	events EventReader,
	scheduler synccommand.SchedulerTicker,
) *adminHandler {
	handler := &adminHandler{
		requeue: synccommand.NewRequeueEventCommand(recovery),
		get:     syncquery.NewGetSyncEventQuery(events),
		list:    syncquery.NewListSyncEventsQuery(events),
		audit:   syncquery.NewListAuditEntriesQuery(events),
	}
	if scheduler != nil {
		handler.tick = synccommand.NewRunSchedulerTickCommand(scheduler)
	}
	return handler
}

func (h *adminHandler) RegisterRoutes(router gin.IRouter) {
	tenants := router.Group("/tenants/:tenant_id/events")
	tenants.GET("", h.listEvents)
	tenants.GET("/:event_id", h.getEvent)
	tenants.GET("/:event_id/audit", h.listAudit)
	tenants.POST("/:event_id/requeue", h.requeueEvent)
	router.POST("/scheduler/tick", h.runTick)
}

type requeueBody struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (h *adminHandler) requeueEvent(c *gin.Context) {
	var body requeueBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			respondError(c, core.BadInputError("requeue body must be valid JSON", nil))
			return
		}
	}
	actor := strings.TrimSpace(body.Actor)
	if actor == "" {
		actor = strings.TrimSpace(c.GetHeader("X-Actor"))
	}
	msg := synccommand.RequeueEventMessage{Request: core.RequeueRequest{
		TenantID: c.Param("tenant_id"),
		EventID:  c.Param("event_id"),
		Actor:    actor,
		Reason:   body.Reason,
	}}
	event, err := execute[synccommand.RequeueEventMessage, core.SyncEvent](c.Request.Context(), h.requeue, msg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEventResponse(event))
}

func (h *adminHandler) getEvent(c *gin.Context) {
	msg := syncquery.GetSyncEventMessage{TenantID: c.Param("tenant_id"), EventID: c.Param("event_id")}
	if err := msg.Validate(); err != nil {
		respondError(c, err)
		return
	}
	event, err := h.get.Query(c.Request.Context(), msg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEventResponse(event))
}

func (h *adminHandler) listEvents(c *gin.Context) {
	page, err := intQuery(c, "page")
	if err != nil {
		respondError(c, err)
		return
	}
	perPage, err := intQuery(c, "per_page")
	if err != nil {
		respondError(c, err)
		return
	}
	msg := syncquery.ListSyncEventsMessage{Filter: core.EventFilter{
		TenantID: c.Param("tenant_id"),
		Status:   core.ProcessingStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		ConfigID: strings.TrimSpace(c.Query("config_id")),
		Page:     page,
		PerPage:  perPage,
	}}
	if err := msg.Validate(); err != nil {
		respondError(c, err)
		return
	}
	result, err := h.list.Query(c.Request.Context(), msg)
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]eventResponse, 0, len(result.Items))
	for _, event := range result.Items {
		items = append(items, newEventResponse(event))
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"page":     result.Page,
		"per_page": result.PerPage,
		"total":    result.Total,
		"has_next": result.HasNext,
	})
}

func (h *adminHandler) listAudit(c *gin.Context) {
	msg := syncquery.ListAuditEntriesMessage{TenantID: c.Param("tenant_id"), EventID: c.Param("event_id")}
	if err := msg.Validate(); err != nil {
		respondError(c, err)
		return
	}
	entries, err := h.audit.Query(c.Request.Context(), msg)
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, gin.H{
			"id":          entry.ID,
			"action":      entry.Action,
			"actor":       entry.Actor,
			"from_status": entry.FromStatus,
			"to_status":   entry.ToStatus,
			"metadata":    entry.Metadata,
			"created_at":  entry.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *adminHandler) runTick(c *gin.Context) {
	if h.tick == nil {
		respondError(c, core.BadInputError("scheduler is not enabled on this node", nil).WithCode(http.StatusConflict))
		return
	}
	msg := synccommand.RunSchedulerTickMessage{Reason: "admin"}
	stats, err := execute[synccommand.RunSchedulerTickMessage, core.TickStats](c.Request.Context(), h.tick, msg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reclaimed":     stats.Reclaimed,
		"leased":        stats.Leased,
		"completed":     stats.Completed,
		"retried":       stats.Retried,
		"dead_lettered": stats.DeadLettered,
		"lease_lost":    stats.LeaseLost,
	})
}

type validatedMessage interface {
	Validate() error
}

// execute validates msg then runs cmd with a result collector attached.
func execute[T validatedMessage, R any](ctx context.Context, cmd gocmd.Commander[T], msg T) (R, error) {
	var zero R
	if err := msg.Validate(); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	out, _ := collector.Load()
	return out, nil
}

type eventResponse struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	ConfigID          string     `json:"config_id,omitempty"`
	Type              string     `json:"type"`
	Source            string     `json:"source"`
	Status            string     `json:"status"`
	RetryCount        int        `json:"retry_count"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	DLQError          string     `json:"dlq_error,omitempty"`
	DLQFailedAt       *time.Time `json:"dlq_failed_at,omitempty"`
	DLQAttempts       int        `json:"dlq_attempts,omitempty"`
	KGEntityID        string     `json:"kg_entity_id,omitempty"`
	KGRelationshipIDs []string   `json:"kg_relationship_ids,omitempty"`
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func newEventResponse(event core.SyncEvent) eventResponse {
	return eventResponse{
		ID:                event.ID,
		TenantID:          event.TenantID,
		ConfigID:          event.ConfigIDValue(),
		Type:              event.Type,
		Source:            event.Source,
		Status:            string(event.Status),
		RetryCount:        event.RetryCount,
		ErrorMessage:      event.ErrorMessage,
		DLQError:          event.DLQError,
		DLQFailedAt:       event.DLQFailedAt,
		DLQAttempts:       event.DLQAttempts,
		KGEntityID:        event.KGEntityID,
		KGRelationshipIDs: event.KGRelationshipIDs,
		NextAttemptAt:     event.NextAttemptAt,
		Timestamp:         event.Timestamp,
		UpdatedAt:         event.UpdatedAt,
	}
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.BadInputError(key+" must be an integer", map[string]any{"field": key})
	}
	return value, nil
}

func flattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(key)] = values[0]
	}
	return out
}
