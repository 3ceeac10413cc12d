// Package memory provides an in-process kvstore.Store. It backs tests
// and single-node deployments; expiry is enforced lazily on access and
// eagerly by Prune.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"courtside/internal/core/kvstore"
)

type valueEntry struct {
	data      []byte
	expiresAt time.Time
}

type setEntry struct {
	members   map[string]struct{}
	expiresAt time.Time
}

type zsetEntry struct {
	scores    map[string]float64
	expiresAt time.Time
}

type hashEntry struct {
	fields    map[string]string
	expiresAt time.Time
}

// Store is an in-memory implementation of kvstore.Store.
type Store struct {
	mu     sync.RWMutex
	values map[string]*valueEntry
	sets   map[string]*setEntry
	zsets  map[string]*zsetEntry
	hashes map[string]*hashEntry

	// now is replaceable in tests.
	now func() time.Time
}

var _ kvstore.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		values: make(map[string]*valueEntry),
		sets:   make(map[string]*setEntry),
		zsets:  make(map[string]*zsetEntry),
		hashes: make(map[string]*hashEntry),
		now:    time.Now,
	}
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func expired(expiresAt time.Time, now time.Time) bool {
	return !expiresAt.IsZero() && !expiresAt.After(now)
}

// Set stores a value with an optional TTL.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make([]byte, len(value))
	copy(data, value)
	s.values[key] = &valueEntry{data: data, expiresAt: s.deadline(ttl)}
	return nil
}

// Get returns the value under key, or kvstore.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.values[key]
	s.mu.RUnlock()
	if !ok || expired(entry.expiresAt, s.now()) {
		return nil, kvstore.ErrNotFound
	}
	data := make([]byte, len(entry.data))
	copy(data, entry.data)
	return data, nil
}

// Delete removes a key of any kind.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.sets, key)
	delete(s.zsets, key)
	delete(s.hashes, key)
	return nil
}

// SAdd adds a member to a set and refreshes the set's TTL.
func (s *Store) SAdd(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sets[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		entry = &setEntry{members: make(map[string]struct{})}
		s.sets[key] = entry
	}
	entry.members[member] = struct{}{}
	entry.expiresAt = s.deadline(ttl)
	return nil
}

// SRem removes a member from a set.
func (s *Store) SRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sets[key]; ok {
		delete(entry.members, member)
		if len(entry.members) == 0 {
			delete(s.sets, key)
		}
	}
	return nil
}

// SMembers returns all members of a set.
func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sets[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		return nil, nil
	}
	members := make([]string, 0, len(entry.members))
	for member := range entry.members {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

// SCard returns the cardinality of a set.
func (s *Store) SCard(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sets[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		return 0, nil
	}
	return int64(len(entry.members)), nil
}

// ZAdd adds a scored member to a sorted set and refreshes its TTL.
func (s *Store) ZAdd(_ context.Context, key, member string, score float64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.zsets[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		entry = &zsetEntry{scores: make(map[string]float64)}
		s.zsets[key] = entry
	}
	entry.scores[member] = score
	entry.expiresAt = s.deadline(ttl)
	return nil
}

type scoredMember struct {
	member string
	score  float64
}

func (s *Store) zrange(key string) []scoredMember {
	entry, ok := s.zsets[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		return nil
	}
	members := make([]scoredMember, 0, len(entry.scores))
	for member, score := range entry.scores {
		members = append(members, scoredMember{member: member, score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].score != members[j].score {
			return members[i].score < members[j].score
		}
		return members[i].member < members[j].member
	})
	return members
}

// ZRangeByScore returns members within the score range, ordered by
// score.
func (s *Store) ZRangeByScore(_ context.Context, key string, min, max float64, limit int, reverse bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sorted := s.zrange(key)
	if reverse {
		for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
			sorted[i], sorted[j] = sorted[j], sorted[i]
		}
	}
	var out []string
	for _, sm := range sorted {
		if sm.score < min || sm.score > max {
			continue
		}
		out = append(out, sm.member)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ZRem removes a single member from a sorted set.
func (s *Store) ZRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.zsets[key]; ok {
		delete(entry.scores, member)
		if len(entry.scores) == 0 {
			delete(s.zsets, key)
		}
	}
	return nil
}

// ZRemRangeByScore removes members within the score range.
func (s *Store) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.zsets[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		return 0, nil
	}
	var removed int64
	for member, score := range entry.scores {
		if score >= min && score <= max {
			delete(entry.scores, member)
			removed++
		}
	}
	if len(entry.scores) == 0 {
		delete(s.zsets, key)
	}
	return removed, nil
}

// ZCard returns the cardinality of a sorted set.
func (s *Store) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.zsets[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		return 0, nil
	}
	return int64(len(entry.scores)), nil
}

// ZRemRangeByRank removes members by ascending rank range (inclusive).
func (s *Store) ZRemRangeByRank(_ context.Context, key string, start, stop int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.zrange(key)
	if len(sorted) == 0 {
		return 0, nil
	}
	n := int64(len(sorted))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return 0, nil
	}
	entry := s.zsets[key]
	var removed int64
	for i := start; i <= stop; i++ {
		delete(entry.scores, sorted[i].member)
		removed++
	}
	if len(entry.scores) == 0 {
		delete(s.zsets, key)
	}
	return removed, nil
}

// HSet writes hash fields and refreshes the hash's TTL.
func (s *Store) HSet(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.hashes[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		entry = &hashEntry{fields: make(map[string]string)}
		s.hashes[key] = entry
	}
	for field, value := range fields {
		entry.fields[field] = value
	}
	entry.expiresAt = s.deadline(ttl)
	return nil
}

// HGet returns one hash field, or kvstore.ErrNotFound.
func (s *Store) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.hashes[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		return "", kvstore.ErrNotFound
	}
	value, ok := entry.fields[field]
	if !ok {
		return "", kvstore.ErrNotFound
	}
	return value, nil
}

// HGetAll returns all fields of a hash.
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.hashes[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(entry.fields))
	for field, value := range entry.fields {
		out[field] = value
	}
	return out, nil
}

// HIncrBy atomically increments a numeric hash field.
func (s *Store) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.hashes[key]
	if !ok || expired(entry.expiresAt, s.now()) {
		entry = &hashEntry{fields: make(map[string]string)}
		s.hashes[key] = entry
	}
	current, err := strconv.ParseInt(entry.fields[field], 10, 64)
	if err != nil && entry.fields[field] != "" {
		return 0, err
	}
	current += delta
	entry.fields[field] = strconv.FormatInt(current, 10)
	return current, nil
}

// Prune eagerly drops expired entries.
func (s *Store) Prune(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var pruned int64
	for key, entry := range s.values {
		if expired(entry.expiresAt, now) {
			delete(s.values, key)
			pruned++
		}
	}
	for key, entry := range s.sets {
		if expired(entry.expiresAt, now) {
			delete(s.sets, key)
			pruned++
		}
	}
	for key, entry := range s.zsets {
		if expired(entry.expiresAt, now) {
			delete(s.zsets, key)
			pruned++
		}
	}
	for key, entry := range s.hashes {
		if expired(entry.expiresAt, now) {
			delete(s.hashes, key)
			pruned++
		}
	}
	return pruned, nil
}

// Close releases resources. In-memory stores have none.
func (s *Store) Close(_ context.Context) error {
	return nil
}
