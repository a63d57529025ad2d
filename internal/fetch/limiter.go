package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter enforces a minimum delay between requests to the same host.
type Limiter struct {
	mu       sync.Mutex
	lastCall map[string]time.Time
	minDelay time.Duration
}

// NewLimiter creates a limiter that enforces minDelay between consecutive
// requests to the same host. All fetchers hitting the same board should share
// one instance.
func NewLimiter(minDelay time.Duration) *Limiter {
	return &Limiter{
		lastCall: make(map[string]time.Time),
		minDelay: minDelay,
	}
}

// Wait blocks until enough time has passed since the last request to host.
// Returns an error if the context is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	l.mu.Lock()
	last, ok := l.lastCall[host]
	now := time.Now()

	if !ok || now.Sub(last) >= l.minDelay {
		l.lastCall[host] = now
		l.mu.Unlock()
		return nil
	}

	remaining := l.minDelay - now.Sub(last)
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("politeness wait for %s: %w", host, ctx.Err())
	case <-time.After(remaining):
	}

	l.mu.Lock()
	l.lastCall[host] = time.Now()
	l.mu.Unlock()

	return nil
}
