package inbound

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-atlassian-sync/core"
)

// WebhookRequest is one inbound delivery as received at the HTTP boundary.
type WebhookRequest struct {
	Source     string
	ConfigID   string
	DeliveryID string
	Headers    map[string]string
	Body       []byte
}

type WebhookResult struct {
	Accepted   bool
	StatusCode int
	EventID    string
	DeliveryID string
	TenantID   string
	Deduped    bool
	Metadata   map[string]any
}

type Verifier interface {
	Verify(ctx context.Context, req WebhookRequest) error
}

// Enqueuer is the ingestion gate the dispatcher forwards verified deliveries to.
type Enqueuer interface {
	Enqueue(ctx context.Context, req core.EnqueueRequest) (core.EnqueueResult, error)
}

// ClaimStore tracks delivery ids so a redelivered webhook is not persisted twice.
type ClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (ClaimResult, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

// DeliveryKeyExtractor returns the provider delivery id, or an empty string
// when the request carries none. Requests without a key skip dedupe.
type DeliveryKeyExtractor func(req WebhookRequest) (string, error)

type Dispatcher struct {
	Verifier   Verifier
	Claims     ClaimStore
	Enqueuer   Enqueuer
	ExtractKey DeliveryKeyExtractor
	KeyTTL     time.Duration

	mu      sync.RWMutex
	sources map[string]struct{}
}

func NewDispatcher(enqueuer Enqueuer, verifier Verifier, claims ClaimStore) *Dispatcher {
	return &Dispatcher{
		Verifier:   verifier,
		Claims:     claims,
		Enqueuer:   enqueuer,
		ExtractKey: DefaultDeliveryKeyExtractor,
		KeyTTL:     10 * time.Minute,
		sources:    map[string]struct{}{},
	}
}

// AllowSources restricts Dispatch to the named sources. With no allowed
// sources registered every source is accepted.
func (d *Dispatcher) AllowSources(sources ...string) error {
	if d == nil {
		return rejectInternal.with("inbound: dispatcher is nil", nil, nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sources == nil {
		d.sources = map[string]struct{}{}
	}
	for _, source := range sources {
		source = normalizeSource(source)
		if source == "" {
			return rejectBadInput.with("inbound: source is required", nil, nil)
		}
		d.sources[source] = struct{}{}
	}
	return nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, req WebhookRequest) (WebhookResult, error) {
	if d == nil || d.Enqueuer == nil {
		return WebhookResult{}, rejectInternal.with("inbound: dispatcher requires an enqueuer", nil, nil)
	}
	req.Source = normalizeSource(req.Source)
	req.ConfigID = strings.TrimSpace(req.ConfigID)
	req.DeliveryID = strings.TrimSpace(req.DeliveryID)
	fields := map[string]any{"source": req.Source, "config_id": req.ConfigID}
	if req.ConfigID == "" {
		return WebhookResult{}, rejectBadInput.with("inbound: config id is required", nil, fields)
	}
	if req.Source != "" && !d.sourceAllowed(req.Source) {
		return WebhookResult{}, rejectSource.with("inbound: unsupported source "+req.Source, nil, fields)
	}
	if d.Verifier != nil {
		if err := d.Verifier.Verify(ctx, req); err != nil {
			result := WebhookResult{
				StatusCode: http.StatusUnauthorized,
				Metadata:   map[string]any{"source": req.Source, "rejected": true},
			}
			return result, rejectAuth.with("inbound: webhook verification failed", err, fields)
		}
	}

	extractor := d.ExtractKey
	if extractor == nil {
		extractor = DefaultDeliveryKeyExtractor
	}
	deliveryKey, err := extractor(req)
	if err != nil {
		return WebhookResult{}, rejectBadInput.with("inbound: resolve delivery id", err, fields)
	}
	if req.DeliveryID == "" {
		req.DeliveryID = deliveryKey
	}
	fields["delivery_id"] = req.DeliveryID

	claimID := ""
	if d.Claims != nil && deliveryKey != "" {
		claim, err := d.Claims.Claim(ctx, claimKey(req, deliveryKey), d.keyTTL())
		if err != nil {
			return WebhookResult{}, rejectClaim.with("inbound: delivery claim failed", err, fields)
		}
		switch claim.State {
		case ClaimAcquired:
			claimID = claim.ID
		case ClaimCompleted:
			return WebhookResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				DeliveryID: req.DeliveryID,
				Deduped:    true,
				Metadata: map[string]any{
					"source":      req.Source,
					"delivery_id": req.DeliveryID,
					"deduped":     true,
				},
			}, nil
		default:
			return d.busy(req, claim, fields)
		}
	}

	enqueued, err := d.Enqueuer.Enqueue(ctx, core.EnqueueRequest{
		ConfigID:   req.ConfigID,
		Source:     req.Source,
		Payload:    req.Body,
		DeliveryID: req.DeliveryID,
		Headers:    req.Headers,
	})
	if err != nil {
		enqueueErr := core.MapError(err)
		if claimID != "" {
			if failErr := d.Claims.Fail(ctx, claimID, err, time.Time{}); failErr != nil {
				releaseErr := rejectInternal.with("inbound: release delivery claim", failErr, map[string]any{"claim_id": claimID})
				return WebhookResult{}, errors.Join(enqueueErr, releaseErr)
			}
		}
		return WebhookResult{
			Accepted:   false,
			StatusCode: enqueueErr.Code,
			Metadata:   map[string]any{"source": req.Source, "text_code": enqueueErr.TextCode},
		}, enqueueErr
	}
	if claimID != "" {
		if err := d.Claims.Complete(ctx, claimID); err != nil {
			return WebhookResult{}, rejectInternal.with("inbound: complete delivery claim", err, map[string]any{
				"claim_id": claimID,
				"event_id": enqueued.EventID,
			})
		}
	}
	return WebhookResult{
		Accepted:   true,
		StatusCode: http.StatusAccepted,
		EventID:    enqueued.EventID,
		DeliveryID: enqueued.DeliveryID,
		TenantID:   enqueued.TenantID,
		Metadata: map[string]any{
			"source":      req.Source,
			"delivery_id": req.DeliveryID,
		},
	}, nil
}

// DefaultDeliveryKeyExtractor reads the explicit delivery id first, then the
// delivery headers Atlassian and common webhook senders set. Per-hop ids such
// as X-Request-Id are not delivery ids and are ignored.
func DefaultDeliveryKeyExtractor(req WebhookRequest) (string, error) {
	if value := strings.TrimSpace(req.DeliveryID); value != "" {
		return value, nil
	}
	for _, header := range []string{
		"x-atlassian-webhook-identifier",
		"x-delivery-id",
		"x-github-delivery",
		"idempotency-key",
	} {
		if value := headerValue(req.Headers, header); value != "" {
			return value, nil
		}
	}
	return "", nil
}

// HeaderDeliveryKeyExtractor reads the first non-empty header and fails
// when none is present.
func HeaderDeliveryKeyExtractor(headers ...string) DeliveryKeyExtractor {
	keys := append([]string(nil), headers...)
	return func(req WebhookRequest) (string, error) {
		for _, key := range keys {
			if value := headerValue(req.Headers, key); value != "" {
				return value, nil
			}
		}
		return "", rejectBadInput.with("inbound: delivery id is required for dedupe", nil, map[string]any{
			"headers": strings.Join(keys, ","),
		})
	}
}

// busy rejects a duplicate whose first delivery has not been persisted yet,
// so the sender retries instead of treating it as delivered.
func (d *Dispatcher) busy(req WebhookRequest, claim ClaimResult, fields map[string]any) (WebhookResult, error) {
	reject, message := rejectInFlight, "inbound: delivery is still being processed"
	if claim.State == ClaimRetryPending {
		reject, message = rejectPending, "inbound: delivery is waiting for retry"
	}
	fields["claim_state"] = string(claim.State)
	if !claim.RetryAt.IsZero() {
		fields["retry_at"] = claim.RetryAt.UTC().Format(time.RFC3339)
	}
	return WebhookResult{
		StatusCode: reject.status,
		DeliveryID: req.DeliveryID,
		Metadata:   map[string]any{"source": req.Source, "delivery_id": req.DeliveryID, "claim_state": string(claim.State)},
	}, reject.with(message, nil, fields)
}

func (d *Dispatcher) keyTTL() time.Duration {
	if d != nil && d.KeyTTL > 0 {
		return d.KeyTTL
	}
	return 10 * time.Minute
}

func (d *Dispatcher) sourceAllowed(source string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.sources) == 0 {
		return true
	}
	_, ok := d.sources[source]
	return ok
}

func claimKey(req WebhookRequest, deliveryKey string) string {
	return req.Source + ":" + req.ConfigID + ":" + deliveryKey
}

func normalizeSource(source string) string {
	return strings.TrimSpace(strings.ToLower(source))
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
