package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-atlassian-sync/core"
	"github.com/goliatone/go-atlassian-sync/ratelimit"
	"github.com/goliatone/go-atlassian-sync/transport"
)

const (
	entitiesPath      = "/api/v1/entities"
	relationshipsPath = "/api/v1/relationships"
	healthPath        = "/api/v1/health"

	maxErrorBodyExcerpt = 512

	throttleTarget = "knowledge_graph"
)

type Entity struct {
	ID         string         `json:"id"`
	Type       string         `json:"type,omitempty"`
	Name       string         `json:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Relationship struct {
	ID           string         `json:"id"`
	SourceID     string         `json:"sourceEntityId"`
	TargetID     string         `json:"targetEntityId"`
	SourceType   string         `json:"sourceEntityType,omitempty"`
	TargetType   string         `json:"targetEntityType,omitempty"`
	RelationType string         `json:"relationshipType"`
	Properties   map[string]any `json:"properties,omitempty"`
}

type ClientOption func(*Client)

// Throttle gates calls per bucket and learns limits from replies.
type Throttle interface {
	BeforeCall(ctx context.Context, key ratelimit.Key) error
	AfterCall(ctx context.Context, key ratelimit.Key, res ratelimit.Response) error
}

func WithHTTPClient(doer transport.HTTPDoer) ClientOption {
	return func(c *Client) {
		c.doer = doer
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithThrottle makes the client back off buckets the API has throttled.
func WithThrottle(throttle Throttle) ClientOption {
	return func(c *Client) {
		c.throttle = throttle
	}
}

// Client is a thin JSON client for the knowledge graph API. It sends the
// API key both as a bearer token and as x-api-key.
type Client struct {
	api      *transport.Client
	doer     transport.HTTPDoer
	timeout  time.Duration
	throttle Throttle
}

func NewClient(cfg core.PublisherConfig, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("publisher: base url is required")
	}
	client := &Client{timeout: cfg.Timeout}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	apiOpts := []transport.Option{transport.WithDoer(client.doer)}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		apiOpts = append(apiOpts,
			transport.WithHeader("Authorization", "Bearer "+key),
			transport.WithHeader("x-api-key", key),
		)
	}
	api, err := transport.NewClient(cfg.BaseURL, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}
	client.api = api
	return client, nil
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, http.MethodGet, healthPath, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetEntity(ctx context.Context, entityID string) (Entity, error) {
	var out Entity
	err := c.do(ctx, http.MethodGet, entitiesPath+"/"+url.PathEscape(strings.TrimSpace(entityID)), nil, nil, &out)
	return out, err
}

func (c *Client) ListEntities(ctx context.Context, params map[string]string) ([]Entity, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, entitiesPath, params, nil, &raw); err != nil {
		return nil, err
	}
	return decodeEntityList(raw)
}

// CreateEntity upserts by external id: the API keeps one entity per id.
func (c *Client) CreateEntity(ctx context.Context, entity Entity) (Entity, error) {
	var out Entity
	err := c.do(ctx, http.MethodPost, entitiesPath, nil, entity, &out)
	return out, err
}

func (c *Client) UpdateEntity(ctx context.Context, entityID string, entity Entity) (Entity, error) {
	var out Entity
	err := c.do(ctx, http.MethodPut, entitiesPath+"/"+url.PathEscape(strings.TrimSpace(entityID)), nil, entity, &out)
	return out, err
}

func (c *Client) DeleteEntity(ctx context.Context, entityID string) error {
	return c.do(ctx, http.MethodDelete, entitiesPath+"/"+url.PathEscape(strings.TrimSpace(entityID)), nil, nil, nil)
}

func (c *Client) CreateRelationship(ctx context.Context, relationship Relationship) (Relationship, error) {
	var out Relationship
	err := c.do(ctx, http.MethodPost, relationshipsPath, nil, relationship, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body any, out any) error {
	if c == nil || c.api == nil {
		return &core.PublishError{Message: "publisher: client is not configured"}
	}

	key := ratelimit.Key{Target: throttleTarget, Bucket: bucketFor(path)}
	if c.throttle != nil {
		if err := c.throttle.BeforeCall(ctx, key); err != nil {
			var throttled ratelimit.ThrottledError
			return &core.PublishError{
				StatusCode: http.StatusTooManyRequests,
				Retryable:  errors.As(err, &throttled),
				Message:    fmt.Sprintf("publisher: %s %s held back", method, path),
				Cause:      err,
			}
		}
	}

	reply, err := c.api.Send(ctx, transport.Call{
		Method:  method,
		Path:    path,
		Query:   query,
		Body:    body,
		Timeout: c.timeout,
	})
	if err != nil {
		return &core.PublishError{
			Retryable: !core.HasTextCode(err, core.SyncErrorBadInput),
			Message:   fmt.Sprintf("publisher: %s %s failed", method, path),
			Cause:     err,
		}
	}
	if c.throttle != nil {
		if err := c.throttle.AfterCall(ctx, key, ratelimit.Response{StatusCode: reply.StatusCode, Headers: reply.HeaderMap()}); err != nil {
			return &core.PublishError{Message: "publisher: record throttle state", Cause: err}
		}
	}
	if !reply.OK() {
		return &core.PublishError{
			StatusCode: reply.StatusCode,
			Retryable:  RetryableStatus(reply.StatusCode),
			Message:    fmt.Sprintf("publisher: %s %s rejected: %s", method, path, excerpt(reply.Body)),
		}
	}
	if out == nil || len(bytes.TrimSpace(reply.Body)) == 0 {
		return nil
	}
	if err := decodeEnvelope(reply.Body, out); err != nil {
		return &core.PublishError{
			StatusCode: reply.StatusCode,
			Message:    fmt.Sprintf("publisher: decode %s %s response", method, path),
			Cause:      err,
		}
	}
	return nil
}

// bucketFor maps /api/v1/entities/abc to "entities".
func bucketFor(path string) string {
	trimmed := strings.TrimPrefix(path, "/api/v1/")
	if head, _, ok := strings.Cut(trimmed, "/"); ok {
		return head
	}
	return trimmed
}

// RetryableStatus reports whether a response status is worth retrying:
// request timeouts, throttling and server errors.
func RetryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// decodeEnvelope accepts both bare objects and {"data": {...}} envelopes.
func decodeEnvelope(body []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] != 'n' {
		if raw, ok := out.(*json.RawMessage); ok {
			*raw = append((*raw)[:0], envelope.Data...)
			return nil
		}
		return json.Unmarshal(envelope.Data, out)
	}
	return json.Unmarshal(body, out)
}

func decodeEntityList(raw json.RawMessage) ([]Entity, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []Entity{}, nil
	}
	if raw[0] == '[' {
		out := []Entity{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, &core.PublishError{Message: "publisher: decode entity list", Cause: err}
		}
		return out, nil
	}
	var wrapped struct {
		Entities []Entity `json:"entities"`
		Items    []Entity `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, &core.PublishError{Message: "publisher: decode entity list", Cause: err}
	}
	if wrapped.Entities != nil {
		return wrapped.Entities, nil
	}
	if wrapped.Items != nil {
		return wrapped.Items, nil
	}
	return []Entity{}, nil
}

func excerpt(body []byte) string {
	text := core.TruncateUTF8(strings.TrimSpace(string(body)), 0)
	if text == "" {
		return "empty response"
	}
	if cut := core.TruncateUTF8(text, maxErrorBodyExcerpt); len(cut) < len(text) {
		return cut + "..."
	}
	return text
}
