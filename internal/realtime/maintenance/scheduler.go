// Package maintenance runs the background housekeeping tickers: a
// quick presence sweep, a full retention pass, and a health check that
// only ever warns.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"courtside/internal/realtime/router"
)

// Config holds scheduler cadences and health thresholds.
type Config struct {
	// QuickInterval paces the presence sweep.
	QuickInterval time.Duration `yaml:"quick_interval"`

	// FullInterval paces the retention pass.
	FullInterval time.Duration `yaml:"full_interval"`

	// HealthInterval paces the health check.
	HealthInterval time.Duration `yaml:"health_interval"`

	// MinSuccessRate is the delivery success percentage below which
	// the health check warns.
	MinSuccessRate float64 `yaml:"min_success_rate"`

	// MaxSubscriptions is the subscription count above which the
	// health check warns.
	MaxSubscriptions int `yaml:"max_subscriptions"`

	// MaxMemoryPercent is the heap usage percentage above which the
	// health check warns.
	MaxMemoryPercent float64 `yaml:"max_memory_percent"`
}

// DefaultConfig returns the default cadences and thresholds.
func DefaultConfig() Config {
	return Config{
		QuickInterval:    30 * time.Second,
		FullInterval:     5 * time.Minute,
		HealthInterval:   60 * time.Second,
		MinSuccessRate:   95,
		MaxSubscriptions: 10000,
		MaxMemoryPercent: 80,
	}
}

// PresenceCleaner expires stale presence records.
type PresenceCleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// HistoryPruner drops history entries past retention.
type HistoryPruner interface {
	Prune(ctx context.Context) (int64, error)
}

// FeedCleaner drops feed entries past retention.
type FeedCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// FilterCachePruner drops stale preference cache entries.
type FilterCachePruner interface {
	PruneCache() int
}

// StatsSource exposes the router's operational view.
type StatsSource interface {
	Stats() router.Stats
}

// Report summarizes one full maintenance pass.
type Report struct {
	PresenceExpired   int           `json:"presenceExpired"`
	HistoryPruned     int64         `json:"historyPruned"`
	FeedPruned        int64         `json:"feedPruned"`
	FilterCachePruned int           `json:"filterCachePruned"`
	Took              time.Duration `json:"took"`
	RanAt             time.Time     `json:"ranAt"`
}

// Scheduler owns the maintenance tickers.
type Scheduler struct {
	presence PresenceCleaner
	history  HistoryPruner
	feed     FeedCleaner
	filter   FilterCachePruner
	stats    StatsSource
	config   Config
	logger   *slog.Logger

	mu         sync.Mutex
	lastReport *Report

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// NewScheduler creates a scheduler. Start launches the tickers.
func NewScheduler(
	presenceCleaner PresenceCleaner,
	historyPruner HistoryPruner,
	feedCleaner FeedCleaner,
	filterPruner FilterCachePruner,
	stats StatsSource,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		presence: presenceCleaner,
		history:  historyPruner,
		feed:     feedCleaner,
		filter:   filterPruner,
		stats:    stats,
		config:   cfg,
		logger:   logger.With("component", "maintenance"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the three tickers.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	s.run(s.config.QuickInterval, s.quickPass)
	s.run(s.config.FullInterval, s.fullPass)
	s.run(s.config.HealthInterval, s.healthPass)

	s.logger.Info("maintenance started",
		"quick", s.config.QuickInterval,
		"full", s.config.FullInterval,
		"health", s.config.HealthInterval)
	return nil
}

func (s *Scheduler) run(interval time.Duration, pass func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pass(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the tickers and waits for in-flight passes.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) quickPass(ctx context.Context) {
	expired, err := s.presence.Cleanup(ctx)
	if err != nil {
		s.logger.Warn("presence sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Debug("presence sweep", "expired", expired)
	}
}

func (s *Scheduler) fullPass(ctx context.Context) {
	if _, err := s.ForceMaintenance(ctx); err != nil {
		s.logger.Warn("maintenance pass failed", "error", err)
	}
}

// ForceMaintenance runs a full retention pass immediately.
func (s *Scheduler) ForceMaintenance(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RanAt: start}

	expired, err := s.presence.Cleanup(ctx)
	if err != nil {
		return nil, err
	}
	report.PresenceExpired = expired

	if report.HistoryPruned, err = s.history.Prune(ctx); err != nil {
		return nil, err
	}
	if report.FeedPruned, err = s.feed.Cleanup(ctx); err != nil {
		return nil, err
	}
	report.FilterCachePruned = s.filter.PruneCache()
	report.Took = time.Since(start)

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	s.logger.Info("maintenance pass complete",
		"presence_expired", report.PresenceExpired,
		"history_pruned", report.HistoryPruned,
		"feed_pruned", report.FeedPruned,
		"filter_cache_pruned", report.FilterCachePruned,
		"took", report.Took)
	return report, nil
}

// LastReport returns the most recent full pass, if any.
func (s *Scheduler) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

// HealthWarnings evaluates the health thresholds and returns the
// violations. The scheduler never acts on them; operators do.
func (s *Scheduler) HealthWarnings() []string {
	var warnings []string
	stats := s.stats.Stats()

	if stats.Metrics.DeliverySuccessRate < s.config.MinSuccessRate {
		warnings = append(warnings, "delivery success rate below threshold")
	}
	if stats.Subscriptions > s.config.MaxSubscriptions {
		warnings = append(warnings, "subscription count above threshold")
	}
	if usage := heapUsagePercent(); usage > s.config.MaxMemoryPercent {
		warnings = append(warnings, "memory usage above threshold")
	}
	return warnings
}

func (s *Scheduler) healthPass(context.Context) {
	for _, warning := range s.HealthWarnings() {
		s.logger.Warn("health check", "warning", warning)
	}
}

func heapUsagePercent() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapSys == 0 {
		return 0
	}
	return float64(m.HeapAlloc) / float64(m.HeapSys) * 100
}
