// Package mongodb provides a MongoDB-backed document store compatible with
// the collections written by earlier crawler deployments: last_accessed is
// kept as fractional Unix seconds and item documents are stored flat.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

const duplicateKeyCode = 11000

// Config controls the MongoDB connection and collection names.
type Config struct {
	URI               string
	Database          string
	SourcesCollection string
	ItemsCollection   string
	ConnectTimeout    time.Duration
}

// Store implements store.Repository on MongoDB.
type Store struct {
	client  *mongo.Client
	sources *mongo.Collection
	items   *mongo.Collection
}

type sourceDoc struct {
	Subdomain    string   `bson:"subdomain"`
	Count        *int64   `bson:"count,omitempty"`
	TotalCount   *int64   `bson:"total_count,omitempty"`
	Completed    *bool    `bson:"completed,omitempty"`
	LastAccessed *float64 `bson:"last_accessed,omitempty"`
	LeaseOwner   string   `bson:"lease_owner,omitempty"`
}

// NewStore connects, pings and ensures the unique indexes exist.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("store.mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "nextrequest"
	}
	if cfg.SourcesCollection == "" {
		cfg.SourcesCollection = "subdomains"
	}
	if cfg.ItemsCollection == "" {
		cfg.ItemsCollection = "requests"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.ConnectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:  client,
		sources: db.Collection(cfg.SourcesCollection),
		items:   db.Collection(cfg.ItemsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := s.sources.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "subdomain", Value: 1}},
		Options: unique,
	}); err != nil {
		return fmt.Errorf("ensure sources index: %w", err)
	}
	if _, err := s.items.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "url", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "domain", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("ensure items indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// GetSource loads one source document.
func (s *Store) GetSource(ctx context.Context, subdomain string) (store.Source, error) {
	var doc sourceDoc
	err := s.sources.FindOne(ctx, bson.M{"subdomain": subdomain}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.Source{}, store.ErrNotFound
		}
		return store.Source{}, fmt.Errorf("failed to get source: %w", err)
	}
	return doc.toSource(), nil
}

// ListSources returns every source ordered by subdomain.
func (s *Store) ListSources(ctx context.Context) ([]store.Source, error) {
	cur, err := s.sources.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "subdomain", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer cur.Close(ctx)

	var sources []store.Source
	for cur.Next(ctx) {
		var doc sourceDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode source: %w", err)
		}
		sources = append(sources, doc.toSource())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources: %w", err)
	}
	return sources, nil
}

// EnsureSource inserts a key-only document when the source is unknown.
func (s *Store) EnsureSource(ctx context.Context, subdomain string) error {
	_, err := s.sources.UpdateOne(ctx,
		bson.M{"subdomain": subdomain},
		bson.M{"$setOnInsert": bson.M{"subdomain": subdomain}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to ensure source: %w", err)
	}
	return nil
}

// Heartbeat upserts last_accessed and total_count.
func (s *Store) Heartbeat(ctx context.Context, subdomain string, totalCount int64, at time.Time) error {
	update := bson.M{"$set": bson.M{"total_count": totalCount, "last_accessed": toEpoch(at)}}
	if _, err := s.sources.UpdateOne(ctx, bson.M{"subdomain": subdomain}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to heartbeat source: %w", err)
	}
	return nil
}

// ClaimSource takes the lease with a conditional upsert. A duplicate-key
// error means the filter rejected an existing document.
func (s *Store) ClaimSource(ctx context.Context, subdomain, token string, at, staleBefore time.Time) (bool, error) {
	update := bson.M{"$set": bson.M{"last_accessed": toEpoch(at), "lease_owner": token}}
	res, err := s.sources.UpdateOne(ctx, claimFilter(subdomain, staleBefore), update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim source: %w", err)
	}
	return res.MatchedCount+res.UpsertedCount > 0, nil
}

// ReleaseSource clears lease_owner when token still owns the lease.
func (s *Store) ReleaseSource(ctx context.Context, subdomain, token string) error {
	_, err := s.sources.UpdateOne(ctx,
		bson.M{"subdomain": subdomain, "lease_owner": token},
		bson.M{"$unset": bson.M{"lease_owner": ""}},
	)
	if err != nil {
		return fmt.Errorf("failed to release source: %w", err)
	}
	return nil
}

// IncrementCount atomically bumps count with $inc.
func (s *Store) IncrementCount(ctx context.Context, subdomain string, delta, totalCount int64, at time.Time) error {
	_, err := s.sources.UpdateOne(ctx,
		bson.M{"subdomain": subdomain},
		incrementUpdate(delta, totalCount, at),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to increment source count: %w", err)
	}
	return nil
}

// MarkCompleted flags the source as fully crawled.
func (s *Store) MarkCompleted(ctx context.Context, subdomain string, totalCount int64, at time.Time) error {
	res, err := s.sources.UpdateOne(ctx,
		bson.M{"subdomain": subdomain},
		bson.M{"$set": bson.M{"completed": true, "last_accessed": toEpoch(at), "total_count": totalCount}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark source completed: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ResetSources replaces every source document with one holding only its key.
func (s *Store) ResetSources(ctx context.Context) (int64, error) {
	cur, err := s.sources.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1, "subdomain": 1}))
	if err != nil {
		return 0, fmt.Errorf("failed to list sources for reset: %w", err)
	}
	defer cur.Close(ctx)

	var n int64
	for cur.Next(ctx) {
		var doc struct {
			ID        any    `bson:"_id"`
			Subdomain string `bson:"subdomain"`
		}
		if err := cur.Decode(&doc); err != nil {
			return n, fmt.Errorf("failed to decode source for reset: %w", err)
		}
		if _, err := s.sources.ReplaceOne(ctx, bson.M{"_id": doc.ID}, bson.M{"subdomain": doc.Subdomain}); err != nil {
			return n, fmt.Errorf("failed to reset source %s: %w", doc.Subdomain, err)
		}
		n++
	}
	if err := cur.Err(); err != nil {
		return n, fmt.Errorf("failed to iterate sources for reset: %w", err)
	}
	return n, nil
}

// ItemExists reports whether an item with url is stored.
func (s *Store) ItemExists(ctx context.Context, url string) (bool, error) {
	err := s.items.FindOne(ctx, bson.M{"url": url}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check item: %w", err)
	}
	return true, nil
}

// InsertItems performs an unordered InsertMany and tolerates duplicate URLs.
func (s *Store) InsertItems(ctx context.Context, items []store.Item) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	docs := make([]any, len(items))
	for i, item := range items {
		docs[i] = itemDocument(item)
	}
	res, err := s.items.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		if dups, ok := duplicateOnly(err); ok {
			return int64(len(items) - dups), nil
		}
		return 0, fmt.Errorf("insert items: %w", err)
	}
	return int64(len(res.InsertedIDs)), nil
}

func (d sourceDoc) toSource() store.Source {
	src := store.Source{
		Subdomain:  d.Subdomain,
		Count:      d.Count,
		TotalCount: d.TotalCount,
		LeaseOwner: d.LeaseOwner,
	}
	if d.Completed != nil {
		src.Completed = *d.Completed
	}
	if d.LastAccessed != nil {
		at := fromEpoch(*d.LastAccessed)
		src.LastAccessed = &at
	}
	return src
}

func claimFilter(subdomain string, staleBefore time.Time) bson.M {
	return bson.M{
		"subdomain": subdomain,
		"completed": bson.M{"$ne": true},
		"$or": bson.A{
			bson.M{"last_accessed": bson.M{"$exists": false}},
			bson.M{"last_accessed": nil},
			bson.M{"last_accessed": bson.M{"$lt": toEpoch(staleBefore)}},
		},
	}
}

func incrementUpdate(delta, totalCount int64, at time.Time) bson.M {
	return bson.M{
		"$inc": bson.M{"count": delta},
		"$set": bson.M{
			"total_count":   totalCount,
			"completed":     false,
			"last_accessed": toEpoch(at),
		},
	}
}

func itemDocument(item store.Item) bson.M {
	doc := make(bson.M, len(item.Fields)+2)
	for k, v := range item.Fields {
		doc[k] = normalize(v)
	}
	doc["url"] = item.URL
	doc["domain"] = item.Domain
	return doc
}

func duplicateOnly(err error) (int, bool) {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return 0, false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return 0, false
		}
	}
	return len(bwe.WriteErrors), true
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpoch(secs float64) time.Time {
	return time.Unix(0, int64(secs*float64(time.Second))).UTC()
}

// normalize converts json.Number values produced by UseNumber decoding into
// BSON-native numbers so stored documents stay queryable.
func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(bson.M, len(val))
		for k, inner := range val {
			out[k] = normalize(inner)
		}
		return out
	case []any:
		out := make(bson.A, len(val))
		for i, inner := range val {
			out[i] = normalize(inner)
		}
		return out
	default:
		return v
	}
}
