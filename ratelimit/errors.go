package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-atlassian-sync/core"
	goerrors "github.com/goliatone/go-errors"
)

// ThrottledError is returned by BeforeCall while a bucket is closed.
type ThrottledError struct {
	Target     string
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: %s/%s closed for %s", e.Target, e.Bucket, e.RetryAfter.Round(time.Millisecond))
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.SyncErrorRateLimited).
		WithMetadata(map[string]any{
			"target":         e.Target,
			"bucket":         e.Bucket,
			"retry_after_ms": e.RetryAfter.Milliseconds(),
		})
}
