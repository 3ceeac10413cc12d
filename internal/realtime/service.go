// Package realtime assembles the event distribution core: store,
// transport, limiter, filter, presence, history, router, façades and
// maintenance, wired per configuration.
package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"courtside/internal/core/kvstore"
	kvmemory "courtside/internal/core/kvstore/memory"
	kvmongo "courtside/internal/core/kvstore/mongo"
	"courtside/internal/core/pubsub"
	psmemory "courtside/internal/core/pubsub/memory"
	psnats "courtside/internal/core/pubsub/nats"
	"courtside/internal/realtime/chat"
	"courtside/internal/realtime/feed"
	"courtside/internal/realtime/filter"
	"courtside/internal/realtime/history"
	"courtside/internal/realtime/maintenance"
	"courtside/internal/realtime/metrics"
	"courtside/internal/realtime/presence"
	"courtside/internal/realtime/ratelimit"
	"courtside/internal/realtime/router"
)

// Service owns the realtime component graph.
type Service struct {
	config Config
	logger *slog.Logger

	pubsubProvider pubsub.Provider
	store          kvstore.Store
	mongoProvider  *kvmongo.Provider

	limiter     ratelimit.Limiter
	collector   *metrics.Collector
	filter      *filter.Engine
	tracker     *presence.Tracker
	history     *history.Store
	router      *router.Router
	chat        *chat.Service
	feed        *feed.Service
	maintenance *maintenance.Scheduler
}

// NewService constructs the component graph. Nothing runs until Start.
func NewService(ctx context.Context, cfg Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		config: cfg,
		logger: logger.With("component", "realtime"),
	}

	if err := s.buildStore(ctx); err != nil {
		return nil, err
	}
	if err := s.buildTransport(); err != nil {
		return nil, err
	}

	publisher, err := s.pubsubProvider.NewPublisher(pubsub.PublisherOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	s.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit)
	s.collector = metrics.NewCollector()
	s.filter = filter.NewEngine(filter.NewStore(s.store, cfg.Filter.PreferenceTTL), cfg.Filter, logger)
	s.history = history.NewStore(s.store, cfg.History, logger)

	s.router = router.New(publisher, s.limiter, s.filter, nil, s.history, s.collector, cfg.Router, logger)
	s.tracker = presence.NewTracker(s.store, s.router, cfg.Presence, logger)
	s.router.SetPresence(s.tracker)

	s.chat = chat.NewService(s.router, s.tracker, s.store, cfg.Chat, logger)
	s.feed = feed.NewService(s.router, s.filter, s.store, cfg.Feed, logger)
	s.maintenance = maintenance.NewScheduler(s.tracker, s.history, s.feed, s.filter, s.router, cfg.Maintenance, logger)

	return s, nil
}

func (s *Service) buildStore(ctx context.Context) error {
	switch s.config.Store.Backend {
	case StoreMongo:
		provider, err := kvmongo.NewProvider(ctx, s.config.Store.Mongo)
		if err != nil {
			return fmt.Errorf("failed to connect to mongo: %w", err)
		}
		store, err := kvmongo.NewStore(ctx, provider)
		if err != nil {
			provider.Close(ctx) //nolint:errcheck
			return err
		}
		s.mongoProvider = provider
		s.store = store
	default:
		s.store = kvmemory.New()
	}
	return nil
}

func (s *Service) buildTransport() error {
	switch s.config.Transport.Backend {
	case TransportNATS:
		provider, err := psnats.NewProvider(s.config.Transport.NATS)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		s.pubsubProvider = provider
	default:
		s.pubsubProvider = psmemory.New()
	}
	return nil
}

// Start launches the router workers and maintenance tickers.
func (s *Service) Start() error {
	if err := s.router.Start(); err != nil {
		return err
	}
	if err := s.maintenance.Start(); err != nil {
		return err
	}
	s.logger.Info("realtime service started",
		"store", s.config.Store.Backend,
		"transport", s.config.Transport.Backend)
	return nil
}

// Shutdown stops the pipeline and releases backends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.maintenance.Stop()

	var firstErr error
	if err := s.router.Stop(); err != nil {
		firstErr = err
	}
	if stoppable, ok := s.limiter.(ratelimit.Stoppable); ok {
		stoppable.Stop()
	}
	if err := s.pubsubProvider.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.store.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.mongoProvider != nil {
		if err := s.mongoProvider.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.logger.Info("realtime service stopped")
	return firstErr
}

// Router returns the event router.
func (s *Service) Router() *router.Router { return s.router }

// Chat returns the chat façade.
func (s *Service) Chat() *chat.Service { return s.chat }

// Feed returns the feed façade.
func (s *Service) Feed() *feed.Service { return s.feed }

// Presence returns the presence tracker.
func (s *Service) Presence() *presence.Tracker { return s.tracker }

// History returns the history store.
func (s *Service) History() *history.Store { return s.history }

// Filter returns the filter engine.
func (s *Service) Filter() *filter.Engine { return s.filter }

// Metrics returns the metrics collector.
func (s *Service) Metrics() *metrics.Collector { return s.collector }

// Maintenance returns the maintenance scheduler.
func (s *Service) Maintenance() *maintenance.Scheduler { return s.maintenance }

// PubSub returns the broadcast provider for gateway consumers.
func (s *Service) PubSub() pubsub.Provider { return s.pubsubProvider }
