// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package ratelimit provides a keyed cooldown limiter: one attempt per
// key per cooldown window. Keys are independent; there is no global
// window.
package ratelimit

import (
	"sync"
	"time"

	"github.com/accountd/accountd/internal/clock"
)

// Limiter tracks the last attempt per key under a single mutex. The
// window advances monotonically: a recorded attempt is never moved
// backwards by a concurrent request.
type Limiter struct {
	mu       sync.Mutex
	last     map[string]time.Time
	cooldown time.Duration
	clock    clock.Clock
}

// NewLimiter creates a Limiter. A nil clk uses the real clock.
func NewLimiter(cooldown time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Limiter{
		last:     make(map[string]time.Time),
		cooldown: cooldown,
		clock:    clk,
	}
}

// Attempt records an attempt for key if the cooldown has elapsed. It
// returns (0, true) when the attempt is admitted, or (wait, false)
// with the remaining wait time when it is not. Denied attempts do not
// extend the window.
func (l *Limiter) Attempt(key string) (time.Duration, bool) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.last[key]; ok {
		if elapsed := now.Sub(last); elapsed < l.cooldown {
			return l.cooldown - elapsed, false
		}
	}
	l.last[key] = now
	return 0, true
}

// Forget clears the window for key, admitting the next attempt
// immediately.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, key)
}

// Prune drops entries whose window elapsed before now, bounding the
// map for long-running processes.
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for key, last := range l.last {
		if now.Sub(last) >= l.cooldown {
			delete(l.last, key)
			pruned++
		}
	}
	return pruned
}
