package filter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"courtside/pkg/event"
)

// Config holds filter engine settings.
type Config struct {
	// CacheTTL bounds how stale a cached preference read may be.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// PreferenceTTL is how long stored preferences survive without a
	// write. Zero keeps them forever.
	PreferenceTTL time.Duration `yaml:"preference_ttl"`
}

// DefaultConfig returns the default filter settings.
func DefaultConfig() Config {
	return Config{
		CacheTTL:      5 * time.Minute,
		PreferenceTTL: 30 * 24 * time.Hour,
	}
}

// alwaysAllow lists event types that bypass user preferences. Safety
// and moderation traffic must reach everyone.
var alwaysAllow = map[string]bool{
	event.TypeGameCancelled:  true,
	event.TypeSystemAnnounce: true,
	event.TypeNotification:   true,
}

type cacheEntry struct {
	prefs     *Preferences
	fetchedAt time.Time
}

// Engine evaluates delivery policy per user.
type Engine struct {
	store  PreferenceStore
	config Config
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	rules map[event.Target]policyRule

	// now is replaceable in tests.
	now func() time.Time
}

// NewEngine creates a filter engine over a preference store.
func NewEngine(store PreferenceStore, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		config: cfg,
		logger: logger.With("component", "filter"),
		cache:  make(map[string]cacheEntry),
		rules:  make(map[event.Target]policyRule),
		now:    time.Now,
	}
}

// ShouldDeliver decides whether an event reaches a user. Errors deny:
// a broken policy must not leak events.
func (e *Engine) ShouldDeliver(ctx context.Context, evt *event.Event, username string) bool {
	if evt.IsExpired() {
		return false
	}
	if alwaysAllow[evt.Type] {
		return true
	}

	prefs, err := e.Preferences(ctx, username)
	if err != nil {
		e.logger.Warn("preference lookup failed, denying delivery", "user", username, "error", err)
		return false
	}

	if sender, ok := evt.Payload.Sender(); ok && prefs.UserBlocked(sender) {
		return false
	}
	if prefs.TypeDisabled(evt.Type) {
		return false
	}
	if evt.Target == event.TargetUser && prefs.MinPriority > 0 && evt.Priority < prefs.MinPriority {
		return false
	}
	if evt.Target == event.TargetGameRoom && prefs.GameMuted(evt.RoutingKey) {
		return false
	}

	if rule, ok := e.ruleFor(evt.Target); ok {
		allowed, err := rule.eval(evt, username)
		if err != nil {
			e.logger.Warn("policy rule failed, denying delivery",
				"target", evt.Target, "user", username, "error", err)
			return false
		}
		if !allowed {
			return false
		}
	}
	return true
}

// Preferences returns a user's preferences, served from cache within
// the TTL.
func (e *Engine) Preferences(ctx context.Context, username string) (*Preferences, error) {
	e.mu.RLock()
	entry, ok := e.cache[username]
	e.mu.RUnlock()
	if ok && e.now().Sub(entry.fetchedAt) < e.config.CacheTTL {
		return entry.prefs, nil
	}

	prefs, err := e.store.Preferences(ctx, username)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[username] = cacheEntry{prefs: prefs, fetchedAt: e.now()}
	e.mu.Unlock()
	return prefs, nil
}

// UpdatePreferences persists new preferences and drops the cache
// entry.
func (e *Engine) UpdatePreferences(ctx context.Context, prefs *Preferences) error {
	if err := e.store.Save(ctx, prefs); err != nil {
		return err
	}
	e.Invalidate(prefs.Username)
	return nil
}

// Block adds a sender to a user's block list.
func (e *Engine) Block(ctx context.Context, username, sender string) error {
	prefs, err := e.store.Preferences(ctx, username)
	if err != nil {
		return err
	}
	if prefs.UserBlocked(sender) {
		return nil
	}
	prefs.BlockedUsers = append(prefs.BlockedUsers, sender)
	return e.UpdatePreferences(ctx, prefs)
}

// Unblock removes a sender from a user's block list.
func (e *Engine) Unblock(ctx context.Context, username, sender string) error {
	prefs, err := e.store.Preferences(ctx, username)
	if err != nil {
		return err
	}
	if !prefs.UserBlocked(sender) {
		return nil
	}
	prefs.BlockedUsers = remove(prefs.BlockedUsers, sender)
	return e.UpdatePreferences(ctx, prefs)
}

// IsBlocked reports whether a user blocked a sender.
func (e *Engine) IsBlocked(ctx context.Context, username, sender string) (bool, error) {
	prefs, err := e.Preferences(ctx, username)
	if err != nil {
		return false, err
	}
	return prefs.UserBlocked(sender), nil
}

// Invalidate drops a user's cached preferences.
func (e *Engine) Invalidate(username string) {
	e.mu.Lock()
	delete(e.cache, username)
	e.mu.Unlock()
}

// PruneCache drops cache entries past the TTL. Entries for users who
// stop receiving events would otherwise linger until process exit.
// Returns how many entries were removed.
func (e *Engine) PruneCache() int {
	cutoff := e.now().Add(-e.config.CacheTTL)
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for username, entry := range e.cache {
		if entry.fetchedAt.Before(cutoff) {
			delete(e.cache, username)
			removed++
		}
	}
	return removed
}

// SetRule installs a CEL policy rule for a delivery target. An empty
// expression removes the rule.
func (e *Engine) SetRule(target event.Target, expression string) error {
	if expression == "" {
		e.mu.Lock()
		delete(e.rules, target)
		e.mu.Unlock()
		return nil
	}
	rule, err := compileRule(expression)
	if err != nil {
		return fmt.Errorf("failed to compile rule for %s: %w", target, err)
	}
	e.mu.Lock()
	e.rules[target] = rule
	e.mu.Unlock()
	return nil
}

func (e *Engine) ruleFor(target event.Target) (policyRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[target]
	return rule, ok
}
