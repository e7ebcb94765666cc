package remote

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// maxServerDelay caps how long a single 429 may park a caller.
const maxServerDelay = 2 * time.Minute

// RetryPolicy controls how transient and rate-limited calls are retried.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffFactor     float64
	MaxRateLimitWaits int
}

// backoff returns the delay before retry number attempt (1-based), with
// ±10% jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := delay * 0.1 * (2*rand.Float64() - 1)
	return time.Duration(delay + jitter)
}

// serverDelay extracts the wait a 429 response asks for: Retry-After in
// seconds or as an HTTP date, then X-RateLimit-Reset as epoch seconds.
// ok is false when the response carries neither.
func serverDelay(h http.Header, now time.Time) (time.Duration, bool) {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return clampDelay(time.Duration(secs) * time.Second), true
		}
		if at, err := http.ParseTime(v); err == nil {
			return clampDelay(at.Sub(now)), true
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			return clampDelay(time.Unix(epoch, 0).Sub(now)), true
		}
	}
	return 0, false
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > maxServerDelay {
		return maxServerDelay
	}
	return d
}
