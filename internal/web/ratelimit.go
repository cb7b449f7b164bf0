package web

import (
	"sync"
	"time"
)

// RateLimiter allows each client at most limit requests in any sliding
// window. Idle clients are forgotten by a background sweep until Stop.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
	limit   int
	window  time.Duration
	stop    chan struct{}
	once    sync.Once
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		stop:    make(chan struct{}),
	}
	go rl.sweep(window)
	return rl
}

// prune drops request times at or before cutoff, reusing the slice
func prune(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Allow records a request from client. When the client is over its limit it
// returns false and how long until the oldest request leaves the window.
func (rl *RateLimiter) Allow(client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := prune(rl.clients[client], now.Add(-rl.window))
	if len(recent) >= rl.limit {
		rl.clients[client] = recent
		return false, recent[0].Add(rl.window).Sub(now)
	}
	rl.clients[client] = append(recent, now)
	return true, 0
}

// Stop ends the background sweep
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.forgetIdle(now)
		}
	}
}

func (rl *RateLimiter) forgetIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.window)
	for client, times := range rl.clients {
		if recent := prune(times, cutoff); len(recent) > 0 {
			rl.clients[client] = recent
		} else {
			delete(rl.clients, client)
		}
	}
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
