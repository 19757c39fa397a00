// Package security provides security features including rate limiting
// and source IP validation for mDNS multicast traffic.
package security

import (
	"sort"
	"sync"
	"time"
)

// sourceWindow tracks one source IP's query volume within a sliding
// one-second window, plus an optional cooldown once it has tripped the
// threshold.
type sourceWindow struct {
	windowStart    time.Time
	cooldownExpiry time.Time
	lastSeen       time.Time
	count          int
}

func (w *sourceWindow) inCooldown(now time.Time) bool {
	return !w.cooldownExpiry.IsZero() && now.Before(w.cooldownExpiry)
}

// RateLimiter protects the engine against multicast storms (malfunctioning
// peers that flood queries) by capping how many queries per second it will
// process from any single source IP, with a cooldown once that cap is hit.
// The tracked-source map is bounded; once it grows past maxEntries the
// least-recently-seen fraction is evicted.
type RateLimiter struct {
	threshold  int
	cooldown   time.Duration
	maxEntries int

	mu      sync.RWMutex
	windows map[string]*sourceWindow
	evicted uint64
}

// NewRateLimiter builds a limiter allowing up to threshold queries/second
// per source, dropping further queries from that source for cooldown once
// exceeded, and tracking at most maxEntries distinct sources.
func NewRateLimiter(threshold int, cooldown time.Duration, maxEntries int) *RateLimiter {
	return &RateLimiter{
		threshold:  threshold,
		cooldown:   cooldown,
		maxEntries: maxEntries,
		windows:    make(map[string]*sourceWindow),
	}
}

// Allow reports whether a query just received from sourceIP should be
// processed, updating that source's sliding window as a side effect.
func (rl *RateLimiter) Allow(sourceIP string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[sourceIP]
	if !ok {
		rl.windows[sourceIP] = &sourceWindow{windowStart: now, lastSeen: now, count: 1}
		if len(rl.windows) > rl.maxEntries {
			rl.evictLRU()
		}
		return true
	}

	if w.inCooldown(now) {
		w.lastSeen = now
		return false
	}

	if now.Sub(w.windowStart) > time.Second {
		w.windowStart = now
		w.count = 1
		w.cooldownExpiry = time.Time{}
	} else {
		w.count++
	}
	w.lastSeen = now

	if w.count > rl.threshold {
		w.cooldownExpiry = now.Add(rl.cooldown)
		return false
	}
	return true
}

// evictLRU drops the oldest tenth of tracked sources by last-seen time.
// Callers must hold rl.mu for writing.
func (rl *RateLimiter) evictLRU() {
	n := rl.maxEntries / 10
	if n == 0 {
		n = 1
	}

	ips := make([]string, 0, len(rl.windows))
	for ip := range rl.windows {
		ips = append(ips, ip)
	}
	sort.Slice(ips, func(i, j int) bool {
		return rl.windows[ips[i]].lastSeen.Before(rl.windows[ips[j]].lastSeen)
	})

	if n > len(ips) {
		n = len(ips)
	}
	for _, ip := range ips[:n] {
		delete(rl.windows, ip)
	}
	rl.evicted += uint64(n)
}

// Cleanup drops any source not seen in the last minute, bounding memory use
// for limiters that run for a long time with a changing set of peers. Meant
// to be called periodically (e.g. every 5 minutes) rather than per-packet.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, w := range rl.windows {
		if now.Sub(w.lastSeen) > time.Minute {
			delete(rl.windows, ip)
		}
	}
}
