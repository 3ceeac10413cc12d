package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryLimiter(t *testing.T) {
	limiter := NewMemoryLimiter(DefaultConfig())
	require.NotNil(t, limiter)

	// Clean up
	if s, ok := limiter.(Stoppable); ok {
		s.Stop()
	}
}

func TestMemoryLimiter_MinuteWindow(t *testing.T) {
	cfg := Config{
		Enabled:   true,
		PerMinute: 3,
		PerHour:   100,
	}

	limiter := NewMemoryLimiter(cfg)
	defer func() {
		if s, ok := limiter.(Stoppable); ok {
			s.Stop()
		}
	}()

	key := "alice"

	// First 3 events should be allowed
	assert.True(t, limiter.Allow(key), "Event 1 should be allowed")
	assert.True(t, limiter.Allow(key), "Event 2 should be allowed")
	assert.True(t, limiter.Allow(key), "Event 3 should be allowed")

	// 4th event should be denied
	assert.False(t, limiter.Allow(key), "Event 4 should be denied")
	assert.False(t, limiter.Allow(key), "Event 5 should be denied")
}

func TestMemoryLimiter_WindowSlides(t *testing.T) {
	cfg := Config{
		Enabled:   true,
		PerMinute: 2,
		PerHour:   100,
	}

	ml := NewMemoryLimiter(cfg).(*memoryLimiter)
	defer ml.Stop()

	now := time.Now()
	ml.now = func() time.Time { return now }

	assert.True(t, ml.Allow("alice"))
	assert.True(t, ml.Allow("alice"))
	assert.False(t, ml.Allow("alice"))

	// After the minute window slides past, quota is restored.
	now = now.Add(61 * time.Second)
	assert.True(t, ml.Allow("alice"))
}

func TestMemoryLimiter_HourWindow(t *testing.T) {
	cfg := Config{
		Enabled:   true,
		PerMinute: 2,
		PerHour:   3,
	}

	ml := NewMemoryLimiter(cfg).(*memoryLimiter)
	defer ml.Stop()

	now := time.Now()
	ml.now = func() time.Time { return now }

	assert.True(t, ml.Allow("alice"))
	assert.True(t, ml.Allow("alice"))

	// The minute quota replenishes but the hour cap holds.
	now = now.Add(2 * time.Minute)
	assert.True(t, ml.Allow("alice"))
	assert.False(t, ml.Allow("alice"))

	// The oldest events fall out of the hour window.
	now = now.Add(59 * time.Minute)
	assert.True(t, ml.Allow("alice"))
}

func TestMemoryLimiter_RejectedEventsNotCounted(t *testing.T) {
	cfg := Config{
		Enabled:   true,
		PerMinute: 2,
		PerHour:   100,
	}

	ml := NewMemoryLimiter(cfg).(*memoryLimiter)
	defer ml.Stop()

	now := time.Now()
	ml.now = func() time.Time { return now }

	assert.True(t, ml.Allow("alice"))
	assert.True(t, ml.Allow("alice"))

	// A burst of rejected events must not extend the lockout.
	for i := 0; i < 10; i++ {
		assert.False(t, ml.Allow("alice"))
	}

	now = now.Add(61 * time.Second)
	assert.True(t, ml.Allow("alice"))
	assert.True(t, ml.Allow("alice"))
}

func TestMemoryLimiter_DifferentKeys(t *testing.T) {
	cfg := Config{
		Enabled:   true,
		PerMinute: 2,
		PerHour:   100,
	}

	limiter := NewMemoryLimiter(cfg)
	defer func() {
		if s, ok := limiter.(Stoppable); ok {
			s.Stop()
		}
	}()

	// Different keys should have independent limits
	assert.True(t, limiter.Allow("alice"))
	assert.True(t, limiter.Allow("alice"))
	assert.False(t, limiter.Allow("alice"))

	// bob should still have his full quota
	assert.True(t, limiter.Allow("bob"))
	assert.True(t, limiter.Allow("bob"))
	assert.False(t, limiter.Allow("bob"))
}

func TestMemoryLimiter_Reset(t *testing.T) {
	cfg := Config{
		Enabled:   true,
		PerMinute: 1,
		PerHour:   100,
	}

	limiter := NewMemoryLimiter(cfg)
	defer func() {
		if s, ok := limiter.(Stoppable); ok {
			s.Stop()
		}
	}()

	assert.True(t, limiter.Allow("alice"))
	assert.False(t, limiter.Allow("alice"))

	limiter.Reset("alice")
	assert.True(t, limiter.Allow("alice"))
}

func TestMemoryLimiter_Disabled(t *testing.T) {
	cfg := Config{
		Enabled:   false,
		PerMinute: 1,
		PerHour:   1,
	}

	limiter := NewMemoryLimiter(cfg)
	defer func() {
		if s, ok := limiter.(Stoppable); ok {
			s.Stop()
		}
	}()

	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Allow("alice"))
	}
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	cfg := Config{
		Enabled:   true,
		PerMinute: 50,
		PerHour:   50,
	}

	limiter := NewMemoryLimiter(cfg)
	defer func() {
		if s, ok := limiter.(Stoppable); ok {
			s.Stop()
		}
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("alice") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 60, cfg.PerMinute)
	assert.Equal(t, 500, cfg.PerHour)
}
