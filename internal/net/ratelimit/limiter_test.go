package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowExhaustsBurst(t *testing.T) {
	limiter := NewLimiter(2.0, 2)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"), "Burst of 2 exhausted")
}

func TestLimiterClientsAreIndependent(t *testing.T) {
	limiter := NewLimiter(1.0, 1)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"), "A throttled client never affects another")

	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.2"))
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	limiter := NewLimiter(0.1, 1) // next token ten seconds away
	limiter.Allow("10.0.0.1")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Wait(ctx, "10.0.0.1")

	require.Error(t, err, "Wait must give up when the context expires")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiterConcurrentAccess(t *testing.T) {
	limiter := NewLimiter(100.0, 10)

	const goroutines = 50
	var allowed, blocked int64
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if limiter.Allow("shared-client") {
					atomic.AddInt64(&allowed, 1)
				} else {
					atomic.AddInt64(&blocked, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*5), allowed+blocked)
	assert.GreaterOrEqual(t, allowed, int64(10), "At least the burst is admitted")
	assert.Greater(t, blocked, int64(0), "This load must throttle")
}

func TestLimiterStats(t *testing.T) {
	limiter := NewLimiter(5.0, 10)
	limiter.Allow("10.0.0.9")
	limiter.Allow("10.0.0.9")

	stats := limiter.Stats()
	clientStats, ok := stats["10.0.0.9"]

	require.True(t, ok)
	assert.Equal(t, 5.0, clientStats.RPS)
	assert.Equal(t, 10, clientStats.Burst)
	assert.Less(t, clientStats.TokensAvailable, 10.0, "Two tokens spent")
	assert.False(t, clientStats.IsThrottled())
}

func TestLimiterReset(t *testing.T) {
	limiter := NewLimiter(1.0, 1)
	limiter.Allow("10.0.0.1")

	assert.False(t, limiter.Allow("10.0.0.1"))

	limiter.Reset()

	assert.True(t, limiter.Allow("10.0.0.1"), "Reset hands every client a fresh bucket")
}
