package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// RistrettoCache is a concurrent admission-controlled cache for tool payloads.
// Every entry costs 1, so capacity is an entry count.
type RistrettoCache struct {
	cache *ristretto.Cache[string, []byte]
}

// NewRistrettoCache creates a cache holding at most capacity entries.
func NewRistrettoCache(capacity int) (*RistrettoCache, error) {
	capacity = max(1, capacity)
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &RistrettoCache{cache: c}, nil
}

func (c *RistrettoCache) Get(ctx context.Context, key string) ([]byte, bool) {
	return c.cache.Get(key)
}

// Set stores value and waits for the write buffer to drain so the entry is
// visible to the next Get. Admission may still reject it.
func (c *RistrettoCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	c.cache.SetWithTTL(key, value, 1, ttl)
	c.cache.Wait()
	return nil
}

func (c *RistrettoCache) Delete(ctx context.Context, key string) error {
	c.cache.Del(key)
	return nil
}

// Close stops the cache's background goroutines.
func (c *RistrettoCache) Close() {
	c.cache.Close()
}

var _ ports.Cache = (*RistrettoCache)(nil)
