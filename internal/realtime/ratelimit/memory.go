package ratelimit

import (
	"sync"
	"time"
)

// memoryLimiter implements an in-memory sliding-window rate limiter.
// A sliding window is used instead of a token bucket because the hour
// window must count actual events: a bucket's smoothed refill would
// admit steady trickles that exceed the hourly cap.
type memoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	config  Config

	cleanupT *time.Ticker
	stopCh   chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemoryLimiter creates a new in-memory sliding-window rate limiter.
func NewMemoryLimiter(cfg Config) Limiter {
	l := &memoryLimiter{
		windows: make(map[string][]time.Time),
		config:  cfg,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	// Entries older than the hour window are useless; sweep them so
	// idle keys do not accumulate.
	l.cleanupT = time.NewTicker(time.Hour)
	go l.cleanup()

	return l
}

// Allow checks if an event from the given key should be admitted. Both
// the minute and hour windows must be under their caps; an admitted
// event is recorded in both.
func (l *memoryLimiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := pruneBefore(l.windows[key], now.Add(-time.Hour))

	var lastMinute int
	minuteCutoff := now.Add(-time.Minute)
	for _, ts := range stamps {
		if ts.After(minuteCutoff) {
			lastMinute++
		}
	}

	if lastMinute >= l.config.PerMinute || len(stamps) >= l.config.PerHour {
		l.windows[key] = stamps
		return false
	}

	l.windows[key] = append(stamps, now)
	return true
}

// Reset clears the rate limit state for the given key.
func (l *memoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// pruneBefore drops timestamps at or before the cutoff. Stamps are
// appended in order, so the first retained index bounds the rest.
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}

func (l *memoryLimiter) cleanup() {
	for {
		select {
		case <-l.cleanupT.C:
			l.cleanupStale()
		case <-l.stopCh:
			l.cleanupT.Stop()
			return
		}
	}
}

func (l *memoryLimiter) cleanupStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-time.Hour)
	for key, stamps := range l.windows {
		stamps = pruneBefore(stamps, cutoff)
		if len(stamps) == 0 {
			delete(l.windows, key)
			continue
		}
		l.windows[key] = stamps
	}
}

// Stop stops the cleanup goroutine. Should be called when the limiter
// is no longer needed.
func (l *memoryLimiter) Stop() {
	close(l.stopCh)
}

// Stoppable extends Limiter with a Stop method for cleanup.
type Stoppable interface {
	Limiter
	Stop()
}

// Ensure memoryLimiter implements Stoppable.
var _ Stoppable = (*memoryLimiter)(nil)
