// Package ratelimit implements fixed-window request counting per client key.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Store counts hits in fixed windows. Hit records one hit for key and returns
// the count within the current window and the instant that window closes.
// A window whose end has passed is replaced lazily by the next hit.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error)
}

type Decision struct {
	Allowed    bool
	Count      int64
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter struct {
	store       Store
	maxRequests int64
	window      time.Duration
	now         func() time.Time
}

func NewLimiter(store Store, maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, maxRequests: int64(maxRequests), window: window, now: time.Now}
}

func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Limiter) Max() int64 {
	return l.maxRequests
}

// Allow records a request for key. Store failures fail open: the decision
// allows the request and the error is returned for logging.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	count, resetAt, err := l.store.Hit(ctx, key, l.window, now)
	if err != nil {
		return Decision{Allowed: true}, err
	}

	if count > l.maxRequests {
		retry := resetAt.Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{Allowed: false, Count: count, RetryAfter: retry}, nil
	}

	return Decision{Allowed: true, Count: count, Remaining: l.maxRequests - count}, nil
}
