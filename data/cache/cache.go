// Package cache stores validation verdicts between runs. Validation is a
// pure function of candidate source plus options, so a verdict can be served
// from cache as long as the scanner profile has not changed; the TTL bounds
// how long profile drift can go unnoticed.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache is the byte-level store shared by the memory and redis backends.
// Callers marshal their own payloads; keys come from ValidationKey and
// ExecutionKey so both backends agree on identity.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
	Delete(key string)
}

type memory struct {
	mu sync.Mutex
	m  map[string]entry
}

type entry struct {
	b   []byte
	exp time.Time
}

// New returns the in-process cache backend.
func New() Cache { return &memory{m: make(map[string]entry)} }

func (c *memory) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(c.m, key)
		return nil, false
	}
	return e.b, true
}

func (c *memory) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

func (c *memory) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

// redisCache shares verdicts across scanguard instances when REDIS_ADDR is
// set. Redis failures degrade to cache misses; validation never depends on
// the cache being reachable.
type redisCache struct{ r *redis.Client }

const redisOpTimeout = 500 * time.Millisecond

// NewAuto picks the redis backend when REDIS_ADDR is set and the in-process
// backend otherwise.
func NewAuto() Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return &redisCache{r: redis.NewClient(&redis.Options{Addr: addr})}
	}
	return New()
}

func (r *redisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}

func (r *redisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_ = r.r.Del(ctx, key).Err()
}

// ValidationKey identifies one validation request: same source, scanner type,
// and strictness always map to the same key. The source participates as a
// digest so keys stay bounded regardless of candidate size.
func ValidationKey(source, scannerType string, strict bool) string {
	mode := "lax"
	if strict {
		mode = "strict"
	}
	sum := sha256.Sum256([]byte(source))
	return fmt.Sprintf("scanguard:validate:%s:%s:%x", scannerType, mode, sum[:16])
}

// ExecutionKey identifies one sandboxed execution of a candidate over a run
// window. The ticker subset participates in the digest: the same scanner over
// a different subset emits a different signal set.
func ExecutionKey(source, startDate, endDate string, tickers []string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(startDate))
	h.Write([]byte{0})
	h.Write([]byte(endDate))
	for _, t := range tickers {
		h.Write([]byte{0})
		h.Write([]byte(t))
	}
	return fmt.Sprintf("scanguard:execute:%x", h.Sum(nil)[:16])
}
