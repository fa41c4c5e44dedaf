package core

import (
	"math"
	"time"
)

// ceilingBackoff bounds an uncapped policy so very high retry counts cannot
// overflow time arithmetic.
const ceilingBackoff = 365 * 24 * time.Hour

// ExponentialBackoff schedules the next attempt at
// failedAt + baseDelay * 2^(retryCount-1), capped at Max when Max is set.
type ExponentialBackoff struct {
	Max time.Duration
}

func (b ExponentialBackoff) NextAttemptAt(failedAt time.Time, baseDelay time.Duration, retryCount int) time.Time {
	return failedAt.Add(b.Delay(baseDelay, retryCount))
}

func (b ExponentialBackoff) Delay(baseDelay time.Duration, retryCount int) time.Duration {
	if baseDelay <= 0 {
		return 0
	}
	if retryCount < 1 {
		retryCount = 1
	}
	limit := ceilingBackoff
	if b.Max > 0 {
		limit = b.Max
	}
	next := float64(baseDelay) * math.Pow(2, float64(retryCount-1))
	if next > float64(limit) {
		return limit
	}
	return time.Duration(next)
}

var _ BackoffPolicy = ExponentialBackoff{}
