// Package ratelimit throttles chatty users before their updates reach a
// handler.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Defaults for New with zero arguments.
const (
	DefaultMaxEvents = 20
	DefaultWindow    = time.Minute
	DefaultLockout   = 5 * time.Minute
)

type record struct {
	events   []time.Time
	lockedAt time.Time
}

// Limiter counts events per user in a sliding window and locks out users
// that exceed the limit.
type Limiter struct {
	maxEvents int
	window    time.Duration
	lockout   time.Duration

	mu      sync.Mutex
	records map[int64]*record
	now     func() time.Time
}

// New creates a limiter. Non-positive arguments take the defaults.
func New(maxEvents int, window, lockout time.Duration) *Limiter {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}
	return &Limiter{
		maxEvents: maxEvents,
		window:    window,
		lockout:   lockout,
		records:   make(map[int64]*record),
		now:       time.Now,
	}
}

// Allow records one event for id and returns an error while id is locked
// out. Events during a lockout are not counted.
func (l *Limiter) Allow(id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	r := l.records[id]
	if r == nil {
		r = &record{}
		l.records[id] = r
	}

	if !r.lockedAt.IsZero() {
		if elapsed := now.Sub(r.lockedAt); elapsed < l.lockout {
			return fmt.Errorf("rate limited, try again in %s", (l.lockout - elapsed).Truncate(time.Second))
		}
		*r = record{}
	}

	cutoff := now.Add(-l.window)
	fresh := r.events[:0]
	for _, t := range r.events {
		if t.After(cutoff) {
			fresh = append(fresh, t)
		}
	}
	r.events = append(fresh, now)

	if len(r.events) > l.maxEvents {
		r.lockedAt = now
		r.events = nil
		return fmt.Errorf("rate limited, try again in %s", l.lockout)
	}
	return nil
}

// Reset clears all state for id.
func (l *Limiter) Reset(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, id)
}

// Tracked returns the number of users with recorded state.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
