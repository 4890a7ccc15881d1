// Package ratelimit bounds how fast any one client can push candidates
// through the validation endpoints. Every validation spawns at least one
// subprocess, so an unthrottled client can exhaust the host with a small
// request loop; reads stay unthrottled.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides per-client rate limiting using token buckets. Clients are
// keyed by whatever string the caller derives (remote address for the HTTP
// surface); each key gets an independent bucket.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter handing each client rps tokens per second
// with the given burst capacity.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// getLimiter returns or creates the bucket for one client.
func (l *Limiter) getLimiter(client string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[client]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// double-check after acquiring the write lock
	if limiter, exists := l.limiters[client]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[client] = limiter
	return limiter
}

// Allow reports whether the client may proceed right now.
func (l *Limiter) Allow(client string) bool {
	return l.getLimiter(client).Allow()
}

// Wait blocks until the client may proceed or the context is done.
func (l *Limiter) Wait(ctx context.Context, client string) error {
	return l.getLimiter(client).Wait(ctx)
}

// Stats snapshots every client bucket for the health endpoint.
func (l *Limiter) Stats() map[string]ClientStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]ClientStats, len(l.limiters))
	now := time.Now()

	for client, limiter := range l.limiters {
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()

		stats[client] = ClientStats{
			Client:          client,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
			NextAllowedAt:   now.Add(delay),
			Delay:           delay,
		}
	}

	return stats
}

// Reset drops every client bucket; the next request from each client starts
// a fresh one.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limiters = make(map[string]*rate.Limiter)
}

// ClientStats describes one client's bucket.
type ClientStats struct {
	Client          string        `json:"client"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	NextAllowedAt   time.Time     `json:"next_allowed_at"`
	Delay           time.Duration `json:"delay"`
}

// IsThrottled reports whether the client currently has to wait.
func (s *ClientStats) IsThrottled() bool {
	return s.Delay > 0
}
