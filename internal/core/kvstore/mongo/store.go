package mongo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"courtside/internal/core/kvstore"
)

const (
	colValues = "kv_values"
	colSets   = "kv_sets"
	colZSets  = "kv_zsets"
	colHashes = "kv_hashes"
)

// Store implements kvstore.Store on MongoDB collections.
type Store struct {
	provider *Provider
}

var _ kvstore.Store = (*Store)(nil)

// NewStore creates a store and ensures the TTL and lookup indexes.
func NewStore(ctx context.Context, provider *Provider) (*Store, error) {
	s := &Store{provider: provider}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure kvstore indexes: %w", err)
	}
	return s, nil
}

func (s *Store) col(name string) *mongo.Collection {
	return s.provider.Database().Collection(name)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetSparse(true),
	}
	for _, name := range []string{colValues, colSets, colZSets, colHashes} {
		if _, err := s.col(name).Indexes().CreateOne(ctx, ttlIndex); err != nil {
			return err
		}
	}
	// Sorted-set members are one document each, looked up by key and
	// scanned by score.
	zsetIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}, {Key: "member", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "key", Value: 1}, {Key: "score", Value: 1}}},
	}
	_, err := s.col(colZSets).Indexes().CreateMany(ctx, zsetIndexes)
	return err
}

// expiresAtValue maps a TTL onto the stored expiresAt field. Entries
// without a TTL omit the field so the TTL index skips them.
func expiresAtValue(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return primitive.NewDateTimeFromTime(time.Now().Add(ttl))
}

// notExpired guards reads against documents the TTL monitor has not
// swept yet.
func notExpired() bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"expiresAt": bson.M{"$exists": false}},
		bson.M{"expiresAt": nil},
		bson.M{"expiresAt": bson.M{"$gt": primitive.NewDateTimeFromTime(time.Now())}},
	}}
}

func keyFilter(key string) bson.M {
	return bson.M{"$and": bson.A{bson.M{"_id": key}, notExpired()}}
}

// Set stores a value with an optional TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	doc := bson.M{"_id": key, "value": primitive.Binary{Data: value}, "expiresAt": expiresAtValue(ttl)}
	_, err := s.col(colValues).ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Get returns the value under key, or kvstore.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var doc struct {
		Value primitive.Binary `bson:"value"`
	}
	err := s.col(colValues).FindOne(ctx, keyFilter(key)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return doc.Value.Data, nil
}

// Delete removes a key of any kind.
func (s *Store) Delete(ctx context.Context, key string) error {
	for _, name := range []string{colValues, colSets, colHashes} {
		if _, err := s.col(name).DeleteOne(ctx, bson.M{"_id": key}); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	if _, err := s.col(colZSets).DeleteMany(ctx, bson.M{"key": key}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// SAdd adds a member to a set and refreshes the set's TTL.
func (s *Store) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	update := bson.M{
		"$addToSet": bson.M{"members": member},
		"$set":      bson.M{"expiresAt": expiresAtValue(ttl)},
	}
	_, err := s.col(colSets).UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to add to set %s: %w", key, err)
	}
	return nil
}

// SRem removes a member from a set.
func (s *Store) SRem(ctx context.Context, key, member string) error {
	_, err := s.col(colSets).UpdateOne(ctx, bson.M{"_id": key},
		bson.M{"$pull": bson.M{"members": member}})
	if err != nil {
		return fmt.Errorf("failed to remove from set %s: %w", key, err)
	}
	return nil
}

// SMembers returns all members of a set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	var doc struct {
		Members []string `bson:"members"`
	}
	err := s.col(colSets).FindOne(ctx, keyFilter(key)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read set %s: %w", key, err)
	}
	return doc.Members, nil
}

// SCard returns the cardinality of a set.
func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	members, err := s.SMembers(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}

// ZAdd upserts a scored member and refreshes the whole set's TTL.
func (s *Store) ZAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error {
	filter := bson.M{"key": key, "member": member}
	update := bson.M{"$set": bson.M{"score": score, "expiresAt": expiresAtValue(ttl)}}
	if _, err := s.col(colZSets).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to add to sorted set %s: %w", key, err)
	}
	// The TTL rides on every member document; refresh siblings so the
	// set expires as a unit.
	_, err := s.col(colZSets).UpdateMany(ctx, bson.M{"key": key},
		bson.M{"$set": bson.M{"expiresAt": expiresAtValue(ttl)}})
	if err != nil {
		return fmt.Errorf("failed to refresh sorted set %s: %w", key, err)
	}
	return nil
}

func zsetFilter(key string, min, max float64) bson.M {
	return bson.M{"$and": bson.A{
		bson.M{"key": key, "score": bson.M{"$gte": min, "$lte": max}},
		notExpired(),
	}}
}

// ZRangeByScore returns members within the score range, ordered by
// score.
func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int, reverse bool) ([]string, error) {
	order := 1
	if reverse {
		order = -1
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "score", Value: order}, {Key: "member", Value: order}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := s.col(colZSets).Find(ctx, zsetFilter(key, min, max), findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to range sorted set %s: %w", key, err)
	}
	defer cursor.Close(ctx) //nolint:errcheck

	var out []string
	for cursor.Next(ctx) {
		var doc struct {
			Member string `bson:"member"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode sorted set %s: %w", key, err)
		}
		out = append(out, doc.Member)
	}
	return out, cursor.Err()
}

// ZRem removes a single member from a sorted set.
func (s *Store) ZRem(ctx context.Context, key, member string) error {
	_, err := s.col(colZSets).DeleteOne(ctx, bson.M{"key": key, "member": member})
	if err != nil {
		return fmt.Errorf("failed to remove from sorted set %s: %w", key, err)
	}
	return nil
}

// ZRemRangeByScore removes members within the score range.
func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	res, err := s.col(colZSets).DeleteMany(ctx,
		bson.M{"key": key, "score": bson.M{"$gte": min, "$lte": max}})
	if err != nil {
		return 0, fmt.Errorf("failed to trim sorted set %s: %w", key, err)
	}
	return res.DeletedCount, nil
}

// ZCard returns the cardinality of a sorted set.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	count, err := s.col(colZSets).CountDocuments(ctx,
		bson.M{"$and": bson.A{bson.M{"key": key}, notExpired()}})
	if err != nil {
		return 0, fmt.Errorf("failed to count sorted set %s: %w", key, err)
	}
	return count, nil
}

// ZRemRangeByRank removes members by ascending rank range (inclusive).
func (s *Store) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error) {
	members, err := s.ZRangeByScore(ctx, key, -1e308, 1e308, 0, false)
	if err != nil {
		return 0, err
	}
	n := int64(len(members))
	if n == 0 {
		return 0, nil
	}
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
	doomed := members[start : stop+1]
	res, err := s.col(colZSets).DeleteMany(ctx,
		bson.M{"key": key, "member": bson.M{"$in": doomed}})
	if err != nil {
		return 0, fmt.Errorf("failed to trim sorted set %s: %w", key, err)
	}
	return res.DeletedCount, nil
}

// HSet writes hash fields and refreshes the hash's TTL.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	set := bson.M{"expiresAt": expiresAtValue(ttl)}
	for field, value := range fields {
		set["fields."+field] = value
	}
	_, err := s.col(colHashes).UpdateOne(ctx, bson.M{"_id": key},
		bson.M{"$set": set}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write hash %s: %w", key, err)
	}
	return nil
}

// HGet returns one hash field, or kvstore.ErrNotFound.
func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	all, err := s.HGetAll(ctx, key)
	if err != nil {
		return "", err
	}
	value, ok := all[field]
	if !ok {
		return "", kvstore.ErrNotFound
	}
	return value, nil
}

// HGetAll returns all fields of a hash. Counter fields written by
// HIncrBy come back as numbers and are rendered to strings.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var doc struct {
		Fields bson.M `bson:"fields"`
	}
	err := s.col(colHashes).FindOne(ctx, keyFilter(key)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read hash %s: %w", key, err)
	}
	out := make(map[string]string, len(doc.Fields))
	for field, value := range doc.Fields {
		out[field] = renderField(value)
	}
	return out, nil
}

func renderField(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// HIncrBy atomically increments a numeric hash field.
func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc struct {
		Fields bson.M `bson:"fields"`
	}
	err := s.col(colHashes).FindOneAndUpdate(ctx, bson.M{"_id": key},
		bson.M{"$inc": bson.M{"fields." + field: delta}}, opts).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to increment hash %s: %w", key, err)
	}
	switch v := doc.Fields[field].(type) {
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("hash field %s.%s is not numeric", key, field)
	}
}

// Prune is a no-op: the TTL monitor owns expiry.
func (s *Store) Prune(_ context.Context) (int64, error) {
	return 0, nil
}

// Close releases resources. The connection is owned by the provider.
func (s *Store) Close(_ context.Context) error {
	return nil
}
