package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := New()

	c.Set("k", []byte("verdict"), time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("verdict"), got)

	_, ok = c.Get("absent")
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := New()

	c.Set("short", []byte("x"), 10*time.Millisecond)
	c.Set("forever", []byte("y"), 0)

	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok, "Expired entries read as misses")

	_, ok = c.Get("forever")
	assert.True(t, ok, "Zero TTL means no expiry")
}

func TestMemoryCacheDelete(t *testing.T) {
	c := New()

	c.Set("k", []byte("x"), time.Minute)
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCacheCopiesValue(t *testing.T) {
	c := New()

	val := []byte("original")
	c.Set("k", val, time.Minute)
	val[0] = 'X'

	got, _ := c.Get("k")
	assert.Equal(t, []byte("original"), got, "Stored bytes are independent of the caller's slice")
}

func TestValidationKeyIdentity(t *testing.T) {
	a := ValidationKey("class A: pass", "multi", false)
	b := ValidationKey("class A: pass", "multi", false)
	assert.Equal(t, a, b, "Same request always maps to the same key")

	assert.NotEqual(t, a, ValidationKey("class B: pass", "multi", false))
	assert.NotEqual(t, a, ValidationKey("class A: pass", "single", false))
	assert.NotEqual(t, a, ValidationKey("class A: pass", "multi", true))
}

func TestExecutionKeyIdentity(t *testing.T) {
	a := ExecutionKey("src", "2024-01-01", "2024-06-30", []string{"AAPL", "TSLA"})
	b := ExecutionKey("src", "2024-01-01", "2024-06-30", []string{"AAPL", "TSLA"})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, ExecutionKey("src", "2024-01-01", "2024-06-30", []string{"AAPL"}))
	assert.NotEqual(t, a, ExecutionKey("src", "2024-01-01", "2024-07-31", []string{"AAPL", "TSLA"}))
}

func TestNewAutoFallsBackToMemory(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")

	c := NewAuto()

	_, ok := c.(*memory)
	assert.True(t, ok, "Without REDIS_ADDR the in-process backend is used")
}
