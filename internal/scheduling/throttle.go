package scheduling

import (
	"sync"
	"time"
)

// QueryThrottle short-circuits appointment queries issued faster than a
// minimum interval. It protects the store from UI-driven request storms
// and is a safety valve only: the first call after a quiet period is
// always allowed.
type QueryThrottle struct {
	mu   sync.Mutex
	min  time.Duration
	last time.Time
	now  func() time.Time
}

func NewQueryThrottle(min time.Duration) *QueryThrottle {
	return &QueryThrottle{min: min, now: time.Now}
}

func (t *QueryThrottle) Allow() bool {
	if t == nil || t.min <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.min {
		return false
	}
	t.last = now
	return true
}
