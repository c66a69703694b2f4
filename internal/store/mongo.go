package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/croplens/croplens/internal/metrics"
	"github.com/croplens/croplens/internal/models"
)

// DegradedWriteError means the primary cache collection rejected a write
// and the entry was preserved in the per-user fallback collection instead.
// Logged where it happens, never surfaced to the caller.
type DegradedWriteError struct {
	Cause error
}

func (e *DegradedWriteError) Error() string {
	return fmt.Sprintf("cache write degraded to fallback collection: %v", e.Cause)
}

func (e *DegradedWriteError) Unwrap() error { return e.Cause }

// collection is the subset of *mongo.Collection the store touches, split
// out so write-rejection behavior is testable without a live server.
type collection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// Store adapts the Mongo document store for cache entries and farm
// profiles.
type Store struct {
	cache    collection
	fallback collection
	profiles collection
}

func New(ctx context.Context, client *mongo.Client, dbName string) (*Store, error) {
	db := client.Database(dbName)
	cache := db.Collection("health_cache")
	profiles := db.Collection("farm_profiles")

	if _, err := cache.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "cacheKey", Value: 1}, {Key: "cachedAt", Value: -1}},
	}); err != nil {
		return nil, fmt.Errorf("create cache index: %w", err)
	}
	if _, err := profiles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ownerId", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("create profile index: %w", err)
	}

	return &Store{
		cache:    cache,
		fallback: db.Collection("health_cache_fallback"),
		profiles: profiles,
	}, nil
}

// LatestEntry returns the most recent non-deleted entry for the key,
// scoped to the user when one is given. A miss is (nil, nil).
func (s *Store) LatestEntry(ctx context.Context, userID, key string) (*models.CacheEntry, error) {
	filter := bson.M{
		"cacheKey": key,
		"deleted":  bson.M{"$ne": true},
	}
	if userID != "" {
		filter["userId"] = userID
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "cachedAt", Value: -1}})
	var entry models.CacheEntry
	err := s.cache.FindOne(ctx, filter, opts).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	return &entry, nil
}

// PutEntry supersedes the previous entry for the key. When the primary
// collection rejects the write, the entry is appended to the per-user
// fallback collection so user-scoped history survives at reduced query
// efficiency.
func (s *Store) PutEntry(ctx context.Context, e models.CacheEntry) error {
	filter := bson.M{"cacheKey": e.CacheKey}
	if e.UserID != "" {
		filter["userId"] = e.UserID
	}

	_, err := s.cache.ReplaceOne(ctx, filter, e, options.Replace().SetUpsert(true))
	if err == nil {
		return nil
	}

	log.Printf("store: primary cache write rejected, degrading: %v", err)
	metrics.DegradedWritesTotal.Inc()

	record := bson.M{
		"userId":     e.UserID,
		"recordedAt": time.Now().UTC(),
		"entry":      e,
	}
	if _, fbErr := s.fallback.InsertOne(ctx, record); fbErr != nil {
		return fmt.Errorf("cache write failed on primary (%v) and fallback: %w", err, fbErr)
	}
	return &DegradedWriteError{Cause: err}
}

type profileDoc struct {
	OwnerID string         `bson:"ownerId"`
	AOIID   string         `bson:"aoiId"`
	Name    string         `bson:"name"`
	BBox    models.BBox    `bson:"bbox"`
	Ring    []models.Point `bson:"ring,omitempty"`
}

// FarmBoundary returns the user's saved plot geometry, or nil when the
// user has none.
func (s *Store) FarmBoundary(ctx context.Context, userID string) (*models.FarmBoundary, error) {
	var doc profileDoc
	err := s.profiles.FindOne(ctx, bson.M{"ownerId": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read farm profile: %w", err)
	}

	aoiID := doc.AOIID
	if aoiID == "" {
		aoiID = "farm-" + userID
	}
	return &models.FarmBoundary{
		AOIID: aoiID,
		Name:  doc.Name,
		BBox:  doc.BBox,
		Ring:  doc.Ring,
	}, nil
}
