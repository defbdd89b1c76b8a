package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	mu      sync.Mutex
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requestsPerSecond per client with the given burst
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// Allow checks if a request from the given client IP is allowed
func (r *RateLimiter) Allow(clientIP string) bool {
	return r.getBucket(clientIP).Allow()
}

// Tokens returns the tokens currently left for a client, or the full burst for an unseen one
func (r *RateLimiter) Tokens(clientIP string) float64 {
	r.mu.Lock()
	b, ok := r.buckets[clientIP]
	r.mu.Unlock()
	if !ok {
		return float64(r.burst)
	}
	return b.limiter.Tokens()
}

func (r *RateLimiter) getBucket(clientIP string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[clientIP]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[clientIP] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// CleanupOldBuckets removes buckets not used since cutoff
func (r *RateLimiter) CleanupOldBuckets(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for ip, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, ip)
			removed++
		}
	}
	return removed
}

// idleAfter is how long an emptied bucket takes to refill. A bucket idle for
// that long is full again, so dropping it changes nothing for the client.
func (r *RateLimiter) idleAfter() time.Duration {
	idle := time.Minute
	if r.limit > 0 {
		if refill := time.Duration(float64(r.burst) / float64(r.limit) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return idle
}

// Len returns the number of tracked clients
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// StartCleanupRoutine drops refilled idle buckets every minute until ctx is done
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.CleanupOldBuckets(now.Add(-r.idleAfter()))
			}
		}
	}()
}
