package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 10 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Call is one JSON request relative to the client base URL. A non-nil Body
// is JSON encoded.
type Call struct {
	Method  string
	Path    string
	Query   map[string]string
	Body    any
	Timeout time.Duration
}

type Reply struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
}

func (r Reply) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HeaderMap joins repeated header values with commas.
func (r Reply) HeaderMap() map[string]string {
	out := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		out[strings.ToLower(key)] = strings.Join(values, ",")
	}
	return out
}

type Option func(*Client)

func WithDoer(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.doer = doer
		}
	}
}

// WithHeader sets a header sent on every call.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if key = strings.TrimSpace(key); key != "" && strings.TrimSpace(value) != "" {
			c.header.Set(key, strings.TrimSpace(value))
		}
	}
}

func WithMaxResponseBytes(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.maxResponseBytes = limit
		}
	}
}

// Client sends JSON calls to a single API base URL.
type Client struct {
	base             *url.URL
	doer             HTTPDoer
	header           http.Header
	maxResponseBytes int64
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.ParseRequestURI(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || base.Host == "" {
		return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: invalid base url", http.StatusBadRequest,
			map[string]any{"base_url": baseURL})
	}
	c := &Client{
		base:             base,
		doer:             &http.Client{Timeout: defaultTimeout},
		header:           http.Header{},
		maxResponseBytes: defaultMaxResponseBytes,
	}
	c.header.Set("Accept", "application/json")
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	if c == nil || c.base == nil {
		return ""
	}
	return c.base.String()
}

// Send executes call. Non-2xx replies are returned without error; failures to
// build, send or read the call are go-errors envelopes.
func (c *Client) Send(ctx context.Context, call Call) (Reply, error) {
	if c == nil || c.doer == nil || c.base == nil {
		return Reply{}, transportError("transport: client is not configured", goerrors.CategoryInternal,
			http.StatusInternalServerError, nil)
	}
	method := strings.ToUpper(strings.TrimSpace(call.Method))
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolve(call.Path, call.Query)
	meta := map[string]any{"method": method, "url": target}

	var body io.Reader = http.NoBody
	if call.Body != nil {
		encoded, err := json.Marshal(call.Body)
		if err != nil {
			return Reply{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: encode request body",
				http.StatusBadRequest, meta)
		}
		body = bytes.NewReader(encoded)
	}

	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Reply{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: build request",
			http.StatusBadRequest, meta)
	}
	req.Header = c.header.Clone()
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	res, err := c.doer.Do(req)
	if err != nil {
		return Reply{}, transportWrapError(err, goerrors.CategoryExternal, "transport: send request",
			http.StatusBadGateway, meta)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, c.maxResponseBytes+1))
	if err != nil {
		meta["status_code"] = res.StatusCode
		return Reply{}, transportWrapError(err, goerrors.CategoryExternal, "transport: read response",
			http.StatusBadGateway, meta)
	}
	if int64(len(payload)) > c.maxResponseBytes {
		meta["status_code"] = res.StatusCode
		meta["limit_bytes"] = c.maxResponseBytes
		return Reply{}, transportError(
			fmt.Sprintf("transport: response larger than %d bytes", c.maxResponseBytes),
			goerrors.CategoryExternal, http.StatusBadGateway, meta)
	}
	return Reply{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       payload,
		Elapsed:    time.Since(started),
	}, nil
}

func (c *Client) resolve(path string, query map[string]string) string {
	target := *c.base
	escaped := strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	target.Path, target.RawPath = escaped, ""
	if unescaped, err := url.PathUnescape(escaped); err == nil {
		target.Path, target.RawPath = unescaped, escaped
	}
	values := target.Query()
	for key, value := range query {
		if key = strings.TrimSpace(key); key != "" {
			values.Set(key, strings.TrimSpace(value))
		}
	}
	target.RawQuery = values.Encode()
	return target.String()
}
