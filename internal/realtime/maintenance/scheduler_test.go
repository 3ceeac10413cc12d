package maintenance

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/internal/realtime/metrics"
	"courtside/internal/realtime/router"
)

type fakePresence struct{ calls atomic.Int64 }

func (f *fakePresence) Cleanup(context.Context) (int, error) {
	f.calls.Add(1)
	return 2, nil
}

type fakeHistory struct{ calls atomic.Int64 }

func (f *fakeHistory) Prune(context.Context) (int64, error) {
	f.calls.Add(1)
	return 5, nil
}

type fakeFeed struct{ calls atomic.Int64 }

func (f *fakeFeed) Cleanup(context.Context) (int64, error) {
	f.calls.Add(1)
	return 3, nil
}

type fakeFilter struct{ calls atomic.Int64 }

func (f *fakeFilter) PruneCache() int {
	f.calls.Add(1)
	return 4
}

type fakeStats struct{ stats router.Stats }

func (f *fakeStats) Stats() router.Stats { return f.stats }

func healthyStats() router.Stats {
	return router.Stats{
		Subscriptions: 10,
		Metrics:       metrics.Snapshot{DeliverySuccessRate: 100},
	}
}

func newTestScheduler(cfg Config, stats router.Stats) (*Scheduler, *fakePresence, *fakeHistory, *fakeFeed) {
	presence := &fakePresence{}
	history := &fakeHistory{}
	feed := &fakeFeed{}
	s := NewScheduler(presence, history, feed, &fakeFilter{}, &fakeStats{stats: stats}, cfg, slog.Default())
	return s, presence, history, feed
}

func TestScheduler_ForceMaintenance(t *testing.T) {
	s, presence, history, feed := newTestScheduler(DefaultConfig(), healthyStats())

	report, err := s.ForceMaintenance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.PresenceExpired)
	assert.EqualValues(t, 5, report.HistoryPruned)
	assert.EqualValues(t, 3, report.FeedPruned)
	assert.Equal(t, 4, report.FilterCachePruned)
	assert.False(t, report.RanAt.IsZero())

	assert.EqualValues(t, 1, presence.calls.Load())
	assert.EqualValues(t, 1, history.calls.Load())
	assert.EqualValues(t, 1, feed.calls.Load())

	assert.Equal(t, report, s.LastReport())
}

func TestScheduler_TickersFire(t *testing.T) {
	cfg := Config{
		QuickInterval:    10 * time.Millisecond,
		FullInterval:     20 * time.Millisecond,
		HealthInterval:   10 * time.Millisecond,
		MinSuccessRate:   95,
		MaxSubscriptions: 10000,
		MaxMemoryPercent: 80,
	}
	s, presence, history, _ := newTestScheduler(cfg, healthyStats())

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return presence.calls.Load() >= 2 && history.calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, s.Start(), "second start must fail")
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s, _, _, _ := newTestScheduler(DefaultConfig(), healthyStats())
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()
}

func TestScheduler_HealthWarnings(t *testing.T) {
	s, _, _, _ := newTestScheduler(DefaultConfig(), healthyStats())
	assert.Empty(t, s.HealthWarnings())

	degraded := router.Stats{
		Subscriptions: 20000,
		Metrics:       metrics.Snapshot{DeliverySuccessRate: 80},
	}
	s, _, _, _ = newTestScheduler(DefaultConfig(), degraded)
	warnings := s.HealthWarnings()
	assert.Contains(t, warnings, "delivery success rate below threshold")
	assert.Contains(t, warnings, "subscription count above threshold")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.QuickInterval)
	assert.Equal(t, 5*time.Minute, cfg.FullInterval)
	assert.Equal(t, 60*time.Second, cfg.HealthInterval)
	assert.InDelta(t, 95, cfg.MinSuccessRate, 0.001)
	assert.Equal(t, 10000, cfg.MaxSubscriptions)
}
