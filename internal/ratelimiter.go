package internal

import (
	"sync"
	"time"
)

// RateLimiter applies a sliding window limit per user id. The message API
// uses it to cap how fast one user can post.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[int64][]time.Time
	limit  int
	window time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[int64][]time.Time),
		limit:  limit,
		window: window,
	}
}

func (r *RateLimiter) Allow(userID int64) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	windowStart := now.Add(-r.window)
	slice := r.hits[userID]
	idx := 0
	for _, ts := range slice {
		if ts.After(windowStart) {
			slice[idx] = ts
			idx++
		}
	}
	slice = slice[:idx]
	if len(slice) >= r.limit {
		r.hits[userID] = slice
		return false
	}
	slice = append(slice, now)
	r.hits[userID] = slice
	return true
}
