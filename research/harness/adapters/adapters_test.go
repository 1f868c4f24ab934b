package adapters

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/investment-research/research/cost"
	"github.com/ZanzyTHEbar/investment-research/research/db"
)

// TestLRUCache_BasicOperations tests cache functionality.
func TestLRUCache_BasicOperations(t *testing.T) {
	cache := NewLRUCache(2)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key1", []byte("value1"), time.Hour))

	value, ok := cache.Get(ctx, "key1")
	assert.True(t, ok)
	assert.Equal(t, []byte("value1"), value)

	// capacity 2, third item evicts the least recently used
	require.NoError(t, cache.Set(ctx, "key2", []byte("value2"), time.Hour))
	require.NoError(t, cache.Set(ctx, "key3", []byte("value3"), time.Hour))

	_, ok = cache.Get(ctx, "key1")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "key2")
	assert.True(t, ok)
	_, ok = cache.Get(ctx, "key3")
	assert.True(t, ok)
}

// TestLRUCache_GetRefreshesRecency tests that a read protects an entry from eviction.
func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	cache := NewLRUCache(2)
	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("1"), 0)
	_ = cache.Set(ctx, "b", []byte("2"), 0)
	_, _ = cache.Get(ctx, "a")
	_ = cache.Set(ctx, "c", []byte("3"), 0)

	_, ok := cache.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = cache.Get(ctx, "b")
	assert.False(t, ok)
}

// TestLRUCache_TTLExpiry tests that expired entries are dropped on read.
func TestLRUCache_TTLExpiry(t *testing.T) {
	cache := NewLRUCache(4)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := cache.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

// TestLRUCache_Delete tests explicit removal.
func TestLRUCache_Delete(t *testing.T) {
	cache := NewLRUCache(4)
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), 0)
	require.NoError(t, cache.Delete(ctx, "k"))
	require.NoError(t, cache.Delete(ctx, "missing"))

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
}

// TestLRUCache_Concurrent tests that concurrent reads and writes are race-free.
func TestLRUCache_Concurrent(t *testing.T) {
	cache := NewLRUCache(16)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%8))
			_ = cache.Set(ctx, key, []byte{byte(i)}, time.Minute)
			_, _ = cache.Get(ctx, key)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, cache.Len(), 16)
}

// TestRistrettoCache_SetGetDelete tests the ristretto-backed cache.
func TestRistrettoCache_SetGetDelete(t *testing.T) {
	cache, err := NewRistrettoCache(100)
	require.NoError(t, err)
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "market_snapshot:AAPL", []byte(`{"ticker":"AAPL"}`), time.Minute))

	value, ok := cache.Get(ctx, "market_snapshot:AAPL")
	require.True(t, ok)
	assert.JSONEq(t, `{"ticker":"AAPL"}`, string(value))

	require.NoError(t, cache.Delete(ctx, "market_snapshot:AAPL"))
	_, ok = cache.Get(ctx, "market_snapshot:AAPL")
	assert.False(t, ok)
}

// TestTokenBucket_BasicRateLimiting tests rate limiting functionality.
func TestTokenBucket_BasicRateLimiting(t *testing.T) {
	limiter := NewTokenBucket(2, time.Second)
	ctx := context.Background()

	release1, err := limiter.Acquire(ctx, "openai/gpt-4o-mini")
	require.NoError(t, err)
	release2, err := limiter.Acquire(ctx, "openai/gpt-4o-mini")
	require.NoError(t, err)

	_, err = limiter.Acquire(ctx, "openai/gpt-4o-mini")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimitExceeded))
	assert.Contains(t, err.Error(), "rate limit exceeded")

	// other keys have their own bucket
	release3, err := limiter.Acquire(ctx, "anthropic/claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	release3()

	release1()
	release1() // idempotent
	release2()

	release4, err := limiter.Acquire(ctx, "openai/gpt-4o-mini")
	require.NoError(t, err)
	release4()
}

// TestTokenBucket_Refill tests that tokens come back over time.
func TestTokenBucket_Refill(t *testing.T) {
	limiter := NewTokenBucket(1, time.Second)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := limiter.Acquire(ctx, "k")
	require.NoError(t, err)
	_, err = limiter.Acquire(ctx, "k")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, time.Second, rle.RetryAfter)

	now = now.Add(1500 * time.Millisecond)
	_, err = limiter.Acquire(ctx, "k")
	assert.NoError(t, err)
}

// TestTokenBucket_CanceledContext tests that a canceled context is refused.
func TestTokenBucket_CanceledContext(t *testing.T) {
	limiter := NewTokenBucket(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestZerologTracer_SpanAndEvent tests that events carry their span fields.
func TestZerologTracer_SpanAndEvent(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finish := tracer.StartSpan(context.Background(), "research", map[string]any{"tickers": 2})
	tracer.Event(ctx, "tool_call", map[string]any{"tool": "market_snapshot"})
	finish(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"span":"research"`)
	assert.Contains(t, out, `"tool":"market_snapshot"`)
	assert.Contains(t, out, `"event":"span_end"`)
	assert.Contains(t, out, `"error":"boom"`)
}

// TestZerologTracer_EventWithoutSpan tests the fallback logger.
func TestZerologTracer_EventWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	tracer.Event(context.Background(), "orphan", nil)
	assert.Contains(t, buf.String(), `"event":"orphan"`)
	assert.NotContains(t, buf.String(), `"span"`)
}

func newTestLedger(t *testing.T) *LibSQLCostLedger {
	t.Helper()
	conn, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewLibSQLCostLedger(conn)
}

// TestLibSQLCostLedger_RoundTrip tests that records survive persistence exactly.
func TestLibSQLCostLedger_RoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first := cost.Record{
		QueryID:   uuid.New(),
		Query:     "trend summary for AAPL",
		Period:    "3mo",
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Tickers:   []string{"AAPL"},
		Tokens:    cost.Tokens{Input: 1000, Output: 200},
		Cost:      cost.Breakdown{Input: decimal.RequireFromString("0.00015"), Output: decimal.RequireFromString("0.00012")},
		CreatedAt: base.Add(time.Second),
	}
	second := first
	second.QueryID = uuid.New()
	second.Tickers = []string{"AAPL", "MSFT"}
	second.CreatedAt = base

	require.NoError(t, ledger.Append(ctx, first))
	require.NoError(t, ledger.Append(ctx, second))

	recs, err := ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// oldest first
	assert.Equal(t, second.QueryID, recs[0].QueryID)
	assert.Equal(t, first.QueryID, recs[1].QueryID)
	assert.Equal(t, []string{"AAPL"}, recs[1].Tickers)
	assert.True(t, recs[1].Cost.Total().Equal(decimal.RequireFromString("0.00027")))
	assert.Equal(t, 1200, recs[1].Tokens.Total())
	assert.True(t, first.CreatedAt.Equal(recs[1].CreatedAt))
}

// TestLibSQLCostLedger_SubSecondTimestamp tests that rows written with a
// fractional timestamp still load, to at least second precision.
func TestLibSQLCostLedger_SubSecondTimestamp(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)

	rec := cost.Record{QueryID: uuid.New(), Query: "q", Provider: "openai", Model: "gpt-4o-mini", Tickers: []string{"SPY"},
		Cost: cost.Breakdown{Input: decimal.Zero, Output: decimal.Zero}, CreatedAt: at}
	require.NoError(t, ledger.Append(ctx, rec))

	recs, err := ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.WithinDuration(t, at, recs[0].CreatedAt, time.Second)
}

// TestParseTimestamp tests the created_at forms the driver can return.
func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	frac := want.Add(123456789 * time.Nanosecond)

	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"rfc3339", "2025-03-01T12:00:00Z", want},
		{"fixed width fraction", "2025-03-01T12:00:00.123456789Z", frac},
		{"offset", "2025-03-01T14:00:00+02:00", want},
		{"sqlite text", "2025-03-01 12:00:00", want},
		{"bytes", []byte("2025-03-01T12:00:00Z"), want},
		{"time value", frac.In(time.FixedZone("x", 3600)), frac},
		{"unix seconds", want.Unix(), want},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := parseTimestamp("yesterday")
	assert.Error(t, err)
	_, err = parseTimestamp(nil)
	assert.Error(t, err)
}

// TestLibSQLCostLedger_Reset tests that Reset empties the table.
func TestLibSQLCostLedger_Reset(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	analyzer := cost.NewAnalyzer(cost.WithLedger(ledger))
	_, err := analyzer.Track(ctx, cost.TrackInput{Query: "q", Provider: "openai", InputTokens: 10, OutputTokens: 5, Tickers: []string{"SPY"}})
	require.NoError(t, err)

	recs, err := ledger.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, ledger.Reset(ctx))
	recs, err = ledger.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// BenchmarkLRUCache_SetGet benchmarks cache operations.
func BenchmarkLRUCache_SetGet(b *testing.B) {
	cache := NewLRUCache(1000)
	ctx := context.Background()
	for b.Loop() {
		_ = cache.Set(ctx, "key", []byte("value"), time.Hour)
		_, _ = cache.Get(ctx, "key")
	}
}
