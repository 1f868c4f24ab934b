package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// TokenBucket implements a keyed token bucket rate limiter. Keys are
// provider/model pairs, so each backend is throttled independently.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int           // max tokens per bucket
	refillRate time.Duration // time between token refills
	now        func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket rate limiter.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   max(1, capacity),
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire takes a token for key without blocking. The release func returns
// the token early, e.g. when the guarded call never reached the backend.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if add := int(now.Sub(b.lastRefill) / tb.refillRate); add > 0 {
		b.tokens = min(b.tokens+add, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(add) * tb.refillRate)
	}

	if b.tokens <= 0 {
		return nil, &RateLimitError{Key: key, RetryAfter: b.lastRefill.Add(tb.refillRate).Sub(now)}
	}
	b.tokens--

	var once sync.Once
	release = func() {
		once.Do(func() {
			tb.mu.Lock()
			defer tb.mu.Unlock()
			if b, exists := tb.buckets[key]; exists {
				b.tokens = min(b.tokens+1, tb.capacity)
			}
		})
	}
	return release, nil
}

// ErrRateLimitExceeded matches every *RateLimitError under errors.Is.
var ErrRateLimitExceeded = &RateLimitError{}

// RateLimitError is returned when a key has no tokens left.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Key == "" {
		return "rate limit exceeded"
	}
	return "rate limit exceeded for " + e.Key + ", retry after " + e.RetryAfter.String()
}

// Is reports every RateLimitError as equivalent.
func (e *RateLimitError) Is(target error) bool {
	_, ok := target.(*RateLimitError)
	return ok
}

var _ ports.RateLimiter = (*TokenBucket)(nil)
