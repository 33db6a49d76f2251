package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter spaces consecutive operations at least a minimum delay apart,
// stretching each gap by a random jitter. The first call never blocks.
// It is safe for concurrent use; concurrent waiters are served one at a time.
type Limiter struct {
	mu     sync.Mutex
	delay  time.Duration
	jitter float64 // 0.0 to 1.0
	last   time.Time
}

// NewLimiter creates a limiter enforcing delay between operations. Jitter is
// clamped to [0, 1] and adds up to jitter*delay on top of each gap.
// If delay is <= 0, the limiter does not block.
func NewLimiter(delay time.Duration, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	return &Limiter{
		delay:  delay,
		jitter: jitter,
	}
}

// Delay returns the configured minimum gap.
func (l *Limiter) Delay() time.Duration {
	if l == nil {
		return 0
	}
	return l.delay
}

// Wait blocks until the minimum gap since the previous operation has elapsed,
// or until the context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.delay <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.last.IsZero() {
		gap := l.delay
		if l.jitter > 0 {
			gap += time.Duration(float64(l.delay) * l.jitter * rand.Float64())
		}
		if wait := gap - time.Since(l.last); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}

	l.last = time.Now()
	return nil
}
