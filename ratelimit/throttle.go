package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Key names a throttling bucket on a downstream target, e.g. the knowledge
// graph entities endpoint.
type Key struct {
	Target string
	Bucket string
}

func (k Key) normalized() Key {
	return Key{
		Target: strings.ToLower(strings.TrimSpace(k.Target)),
		Bucket: strings.ToLower(strings.TrimSpace(k.Bucket)),
	}
}

// Response is the part of a downstream reply the policy learns from. Header
// names are matched case-insensitively.
type Response struct {
	StatusCode int
	Headers    map[string]string
}

// Window is what the policy remembers about one bucket.
type Window struct {
	Key          Key
	Limit        int
	Remaining    int
	ResetAt      time.Time
	BlockedUntil time.Time
	Strikes      int
	LastStatus   int
	UpdatedAt    time.Time
}

// Store keeps one window per bucket. Load reports false for unknown buckets.
type Store interface {
	Load(ctx context.Context, key Key) (Window, bool, error)
	Save(ctx context.Context, window Window) error
}

type Option func(*Policy)

func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// WithBackoff sets the block applied to a throttled reply without a
// Retry-After hint. It doubles per consecutive strike up to ceiling.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(p *Policy) {
		if base > 0 {
			p.base = base
		}
		if ceiling >= p.base {
			p.ceiling = ceiling
		}
	}
}

// Policy closes a bucket after the downstream API throttles it and keeps it
// closed until the advertised window passes. 5xx replies never close a
// bucket; the scheduler backoff owns those.
type Policy struct {
	store   Store
	now     func() time.Time
	base    time.Duration
	ceiling time.Duration
}

func NewPolicy(store Store, opts ...Option) *Policy {
	p := &Policy{
		store:   store,
		now:     time.Now,
		base:    time.Second,
		ceiling: time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// BeforeCall returns a ThrottledError while key is blocked or its quota is
// spent until the reset time.
func (p *Policy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil || p.store == nil {
		return nil
	}
	key = key.normalized()
	window, ok, err := p.store.Load(ctx, key)
	if err != nil || !ok {
		return err
	}
	now := p.now().UTC()
	until := window.BlockedUntil
	if window.Limit > 0 && window.Remaining == 0 && window.ResetAt.After(until) {
		until = window.ResetAt
	}
	if now.Before(until) {
		return ThrottledError{Target: key.Target, Bucket: key.Bucket, RetryAfter: until.Sub(now)}
	}
	return nil
}

// AfterCall records quota headers from res and opens a block window when
// the reply says the bucket is exhausted.
func (p *Policy) AfterCall(ctx context.Context, key Key, res Response) error {
	if p == nil || p.store == nil {
		return nil
	}
	key = key.normalized()
	window, ok, err := p.store.Load(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		window = Window{Key: key, Remaining: -1}
	}
	now := p.now().UTC()
	window.LastStatus = res.StatusCode
	window.UpdatedAt = now

	h := readHints(res.Headers, now)
	if h.limit >= 0 {
		window.Limit = h.limit
	}
	if h.remaining >= 0 {
		window.Remaining = h.remaining
	}
	if !h.resetAt.IsZero() {
		window.ResetAt = h.resetAt
	}

	exhausted := res.StatusCode == http.StatusTooManyRequests ||
		(res.StatusCode < 500 && h.remaining == 0)
	if !exhausted {
		window.Strikes = 0
		window.BlockedUntil = time.Time{}
		return p.store.Save(ctx, window)
	}

	window.Strikes++
	delay := h.retryAfter
	if delay <= 0 {
		delay = p.backoff(window.Strikes)
	}
	window.BlockedUntil = now.Add(delay)
	return p.store.Save(ctx, window)
}

func (p *Policy) backoff(strikes int) time.Duration {
	delay := p.base
	for i := 1; i < strikes && delay < p.ceiling; i++ {
		delay *= 2
	}
	if delay > p.ceiling {
		return p.ceiling
	}
	return delay
}

type hints struct {
	limit      int
	remaining  int
	resetAt    time.Time
	retryAfter time.Duration
}

// readHints parses x-ratelimit-limit, x-ratelimit-remaining, x-ratelimit-reset
// (unix seconds) and Retry-After (seconds or an HTTP date). Missing or
// malformed counters read as -1.
func readHints(headers map[string]string, now time.Time) hints {
	h := hints{limit: -1, remaining: -1}
	for name, raw := range headers {
		value := strings.TrimSpace(raw)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "x-ratelimit-limit":
			h.limit = atoiOr(value, -1)
		case "x-ratelimit-remaining":
			h.remaining = atoiOr(value, -1)
		case "x-ratelimit-reset":
			if unix, err := strconv.ParseInt(value, 10, 64); err == nil && unix > 0 {
				h.resetAt = time.Unix(unix, 0).UTC()
			}
		case "retry-after":
			if seconds, err := strconv.Atoi(value); err == nil {
				h.retryAfter = time.Duration(max(seconds, 0)) * time.Second
			} else if at, err := http.ParseTime(value); err == nil && at.After(now) {
				h.retryAfter = at.Sub(now)
			}
		}
	}
	return h
}

func atoiOr(value string, fallback int) int {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
