package harnessports

import "context"

// RateLimiter gates LLM calls keyed by "provider/model". Acquire fails fast
// when the key has no capacity left; release hands the slot back and is safe
// to call more than once.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
