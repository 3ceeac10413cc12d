// Package router is the event distribution core. Publication is
// fire-and-forget: events are validated, rate limited and queued; a
// bounded process pool persists and filters them; a bounded delivery
// pool broadcasts them. Failures are counted, never retried.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"courtside/internal/core/pubsub"
	"courtside/internal/realtime/filter"
	"courtside/internal/realtime/history"
	"courtside/internal/realtime/metrics"
	"courtside/internal/realtime/presence"
	"courtside/internal/realtime/ratelimit"
	"courtside/pkg/event"
)

var (
	// ErrQueueFull signals backpressure: the process queue rejected the
	// event.
	ErrQueueFull = errors.New("event queue full")

	// ErrRateLimited signals the sender exceeded their publish quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("router stopped")
)

// Config sizes the router's worker pools and queue.
type Config struct {
	// ProcessWorkers run persistence and filtering.
	ProcessWorkers int `yaml:"process_workers"`

	// DeliveryWorkers run broadcasts.
	DeliveryWorkers int `yaml:"delivery_workers"`

	// QueueSize bounds the process queue; events beyond it are dropped
	// and counted.
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns the default pool sizes.
func DefaultConfig() Config {
	return Config{
		ProcessWorkers:  10,
		DeliveryWorkers: 20,
		QueueSize:       10000,
	}
}

type deliveryJob struct {
	destination string
	data        []byte
	enqueued    time.Time
}

// Router routes events from producers to broadcast topics.
type Router struct {
	config    Config
	publisher pubsub.Publisher
	limiter   ratelimit.Limiter
	filter    *filter.Engine
	presence  *presence.Tracker
	history   *history.Store
	collector *metrics.Collector
	logger    *slog.Logger

	processCh  chan *event.Event
	deliveryCh chan deliveryJob

	mu       sync.RWMutex
	gameSubs map[string]map[string]struct{}
	userSubs map[string]map[string]struct{}

	stateMu    sync.RWMutex
	started    bool
	stopped    bool
	processWG  sync.WaitGroup
	deliveryWG sync.WaitGroup

	dropped atomic.Int64
}

// New creates a router. Start must be called before Publish.
func New(
	publisher pubsub.Publisher,
	limiter ratelimit.Limiter,
	filterEngine *filter.Engine,
	tracker *presence.Tracker,
	historyStore *history.Store,
	collector *metrics.Collector,
	cfg Config,
	logger *slog.Logger,
) *Router {
	return &Router{
		config:     cfg,
		publisher:  publisher,
		limiter:    limiter,
		filter:     filterEngine,
		presence:   tracker,
		history:    historyStore,
		collector:  collector,
		logger:     logger.With("component", "router"),
		processCh:  make(chan *event.Event, cfg.QueueSize),
		deliveryCh: make(chan deliveryJob, cfg.QueueSize),
		gameSubs:   make(map[string]map[string]struct{}),
		userSubs:   make(map[string]map[string]struct{}),
	}
}

// SetPresence injects the presence tracker after construction. The
// tracker announces through the router, so the two reference each
// other; call this before Start.
func (r *Router) SetPresence(tracker *presence.Tracker) {
	r.presence = tracker
}

// Start launches the worker pools.
func (r *Router) Start() error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.started {
		return errors.New("router already started")
	}
	r.started = true

	for i := 0; i < r.config.ProcessWorkers; i++ {
		r.processWG.Add(1)
		go r.processLoop()
	}
	for i := 0; i < r.config.DeliveryWorkers; i++ {
		r.deliveryWG.Add(1)
		go r.deliveryLoop()
	}
	r.logger.Info("router started",
		"process_workers", r.config.ProcessWorkers,
		"delivery_workers", r.config.DeliveryWorkers,
		"queue_size", r.config.QueueSize)
	return nil
}

// Stop drains both pools and waits for in-flight events.
func (r *Router) Stop() error {
	r.stateMu.Lock()
	if !r.started || r.stopped {
		r.stateMu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.processCh)
	r.stateMu.Unlock()

	r.processWG.Wait()
	close(r.deliveryCh)
	r.deliveryWG.Wait()
	r.logger.Info("router stopped", "dropped", r.dropped.Load())
	return nil
}

// Publish admits an event into the pipeline. It never blocks: a full
// queue drops the event and returns ErrQueueFull.
func (r *Router) Publish(_ context.Context, evt *event.Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if evt.IsExpired() {
		return nil
	}

	// Quotas key on the routing scope, not the sender: a noisy room is
	// throttled as a whole. Global broadcasts are unkeyed and exempt.
	if evt.RoutingKey != "" && !r.limiter.Allow(evt.RoutingKey) {
		r.collector.RateLimited()
		return ErrRateLimited
	}

	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	if r.stopped || !r.started {
		return ErrStopped
	}

	select {
	case r.processCh <- evt:
		r.collector.EventReceived(evt.Type, payloadSize(evt))
		return nil
	default:
		r.dropped.Add(1)
		r.collector.DeliveryFailed()
		r.logger.Warn("process queue full, dropping event", "type", evt.Type, "id", evt.ID)
		return ErrQueueFull
	}
}

func payloadSize(evt *event.Event) int {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return 0
	}
	return len(data)
}

func (r *Router) processLoop() {
	defer r.processWG.Done()
	ctx := context.Background()
	for evt := range r.processCh {
		start := time.Now()
		r.process(ctx, evt)
		r.collector.EventProcessed(time.Since(start))
	}
}

func (r *Router) process(ctx context.Context, evt *event.Event) {
	if evt.IsExpired() {
		return
	}

	// Policy runs before persistence and dispatch: a filtered event
	// leaves no trace in history or the offline queue. User events
	// check the recipient's preferences; wider fan-outs are gated by
	// target-level rules only.
	recipient := ""
	if evt.Target == event.TargetUser {
		recipient = evt.RoutingKey
	}
	if !r.filter.ShouldDeliver(ctx, evt, recipient) {
		r.collector.EventFiltered()
		return
	}

	if evt.Persistent {
		if err := r.history.PersistEvent(ctx, evt); err != nil {
			r.logger.Warn("failed to persist event", "id", evt.ID, "error", err)
		} else {
			r.collector.EventPersisted()
		}
	}

	switch evt.Target {
	case event.TargetUser:
		r.dispatchToUser(ctx, evt)
	case event.TargetGameRoom:
		r.dispatchToRoom(ctx, evt)
	case event.TargetGlobal, event.TargetLocation, event.TargetRoleBased:
		r.enqueueDelivery(evt, evt.Destination)
	case event.TargetCustom:
		if evt.Destination == "" {
			r.collector.DeliveryFailed()
			r.logger.Warn("custom event without destination", "id", evt.ID)
			return
		}
		r.enqueueDelivery(evt, evt.Destination)
	}
}

func (r *Router) dispatchToUser(ctx context.Context, evt *event.Event) {
	username := evt.RoutingKey

	online, err := r.presence.IsUserOnline(ctx, username)
	if err != nil {
		r.logger.Warn("presence lookup failed", "user", username, "error", err)
		online = false
	}
	if online {
		r.enqueueDelivery(evt, evt.Destination)
		return
	}

	// Only persistent events survive for reconnect; transient ones are
	// dropped. The body and index were already written by the
	// persistence step.
	if !evt.Persistent {
		return
	}
	r.collector.OfflineStored()
}

// dispatchToRoom broadcasts once per room. Per-user muting happens at
// the edge; an empty room is not worth a publish.
func (r *Router) dispatchToRoom(ctx context.Context, evt *event.Event) {
	if r.SubscriberCount(evt.RoutingKey) == 0 {
		viewers, err := r.presence.GameViewerCount(ctx, evt.RoutingKey)
		if err != nil || viewers == 0 {
			r.collector.EventFiltered()
			return
		}
	}
	r.enqueueDelivery(evt, evt.Destination)
}

func (r *Router) enqueueDelivery(evt *event.Event, destination string) {
	data, err := json.Marshal(evt)
	if err != nil {
		r.collector.DeliveryFailed()
		r.logger.Warn("failed to encode event", "id", evt.ID, "error", err)
		return
	}
	select {
	case r.deliveryCh <- deliveryJob{destination: destination, data: data, enqueued: time.Now()}:
	default:
		r.dropped.Add(1)
		r.collector.DeliveryFailed()
		r.logger.Warn("delivery queue full, dropping event", "id", evt.ID)
	}
}

func (r *Router) deliveryLoop() {
	defer r.deliveryWG.Done()
	ctx := context.Background()
	for job := range r.deliveryCh {
		if err := r.publisher.Publish(ctx, job.destination, job.data); err != nil {
			r.collector.DeliveryFailed()
			r.logger.Warn("broadcast failed", "destination", job.destination, "error", err)
			continue
		}
		r.collector.DeliverySucceeded(time.Since(job.enqueued))
	}
}

// SubscribeToGame records that a user follows a game room.
func (r *Router) SubscribeToGame(gameID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gameSubs[gameID] == nil {
		r.gameSubs[gameID] = make(map[string]struct{})
	}
	r.gameSubs[gameID][username] = struct{}{}
	if r.userSubs[username] == nil {
		r.userSubs[username] = make(map[string]struct{})
	}
	r.userSubs[username][gameID] = struct{}{}
}

// UnsubscribeFromGame removes one game subscription.
func (r *Router) UnsubscribeFromGame(gameID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if users, ok := r.gameSubs[gameID]; ok {
		delete(users, username)
		if len(users) == 0 {
			delete(r.gameSubs, gameID)
		}
	}
	if games, ok := r.userSubs[username]; ok {
		delete(games, gameID)
		if len(games) == 0 {
			delete(r.userSubs, username)
		}
	}
}

// UnsubscribeAll removes every subscription a user holds, e.g. on
// disconnect.
func (r *Router) UnsubscribeAll(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for gameID := range r.userSubs[username] {
		if users, ok := r.gameSubs[gameID]; ok {
			delete(users, username)
			if len(users) == 0 {
				delete(r.gameSubs, gameID)
			}
		}
	}
	delete(r.userSubs, username)
}

// Subscribers returns the users following a game room.
func (r *Router) Subscribers(gameID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.gameSubs[gameID]))
	for username := range r.gameSubs[gameID] {
		users = append(users, username)
	}
	return users
}

// SubscriberCount returns how many users follow a game room.
func (r *Router) SubscriberCount(gameID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.gameSubs[gameID])
}

// SubscriptionTotal returns the total number of live subscriptions.
func (r *Router) SubscriptionTotal() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, users := range r.gameSubs {
		total += len(users)
	}
	return total
}

// OfflineEvents drains a user's stored events since the given instant,
// newest first. The queue is cleared once read; redelivery is the
// caller's concern.
func (r *Router) OfflineEvents(ctx context.Context, username string, since time.Time, limit int) ([]*event.Event, error) {
	events, err := r.history.GetEventsForUser(ctx, username, since, limit)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		if err := r.history.ClearUserEvents(ctx, username); err != nil {
			r.logger.Warn("failed to clear offline queue", "user", username, "error", err)
		}
	}
	return events, nil
}

// Stats is a point-in-time operational view.
type Stats struct {
	QueuedProcess  int              `json:"queuedProcess"`
	QueuedDelivery int              `json:"queuedDelivery"`
	Dropped        int64            `json:"dropped"`
	ActiveGames    int              `json:"activeGames"`
	Subscriptions  int              `json:"subscriptions"`
	Metrics        metrics.Snapshot `json:"metrics"`
}

// Stats returns queue depths, subscription counts and the metrics
// snapshot.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	activeGames := len(r.gameSubs)
	r.mu.RUnlock()
	return Stats{
		QueuedProcess:  len(r.processCh),
		QueuedDelivery: len(r.deliveryCh),
		Dropped:        r.dropped.Load(),
		ActiveGames:    activeGames,
		Subscriptions:  r.SubscriptionTotal(),
		Metrics:        r.collector.Snapshot(),
	}
}
