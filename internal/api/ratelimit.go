package api

import (
	"sync"
	"time"
)

// RateLimiter implements a sliding-window limiter keyed by client address.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRateLimiter creates a new rate limiter and starts the background eviction
// goroutine. Call Stop to release it.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	recent := prune(r.requests[key], now.Add(-r.window))

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine and waits for it to exit.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// evictLoop periodically removes expired keys so the map does not grow
// without bound.
func (r *RateLimiter) evictLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evict()
		}
	}
}

func (r *RateLimiter) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.window)
	for key, times := range r.requests {
		if fresh := prune(times, cutoff); len(fresh) == 0 {
			delete(r.requests, key)
		} else {
			r.requests[key] = fresh
		}
	}
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	var fresh []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}
