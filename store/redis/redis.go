// Package redis implements aruna.MemoryStore backed by Redis. Records are
// stored as JSON blobs keyed by id with a per-owner index set, and
// similarity search scores candidates in-process with cosine similarity.
//
// Suited for deployments that already run Redis and want memory shared
// across processes without a SQL database. An optional TTL turns the
// store into an expiring memory cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danarsa/aruna"
)

// StoreOption configures a redis Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. If not set, no logs
// are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithTTL sets an expiry on stored records. Zero (the default) keeps
// records until deleted. The owner index never expires; stale index
// entries are skipped during search.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// WithKeyPrefix overrides the key namespace (default "memory").
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements aruna.MemoryStore on a redis client. The caller owns
// the client and is responsible for closing it.
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ aruna.MemoryStore = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using an existing redis client.
func New(rdb *redis.Client, opts ...StoreOption) *Store {
	s := &Store{rdb: rdb, prefix: "memory", logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// storedRecord is the JSON blob persisted per record.
type storedRecord struct {
	Record    aruna.MemoryRecord `json:"record"`
	Embedding []float32          `json:"embedding,omitempty"`
}

func (s *Store) recordKey(id string) string   { return s.prefix + ":rec:" + id }
func (s *Store) ownerKey(owner string) string { return s.prefix + ":owner:" + owner }

// Init verifies connectivity.
func (s *Store) Init(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	s.logger.Debug("redis: store ready", "prefix", s.prefix)
	return nil
}

// Insert stores a new record and adds it to the owner index.
func (s *Store) Insert(ctx context.Context, rec aruna.MemoryRecord, embedding []float32) error {
	start := time.Now()
	blob, err := json.Marshal(storedRecord{Record: rec, Embedding: embedding})
	if err != nil {
		return fmt.Errorf("redis: marshal record: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(rec.ID), blob, s.ttl)
		pipe.SAdd(ctx, s.ownerKey(rec.OwnerID), rec.ID)
		return nil
	})
	if err != nil {
		s.logger.Error("redis: insert record failed", "id", rec.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("redis: insert record: %w", err)
	}
	s.logger.Debug("redis: insert record ok", "id", rec.ID, "duration", time.Since(start))
	return nil
}

// Get returns the record and its embedding, or aruna.ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, id string) (aruna.MemoryRecord, []float32, error) {
	blob, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return aruna.MemoryRecord{}, nil, aruna.ErrRecordNotFound
	}
	if err != nil {
		return aruna.MemoryRecord{}, nil, fmt.Errorf("redis: get record: %w", err)
	}
	var sr storedRecord
	if err := json.Unmarshal(blob, &sr); err != nil {
		return aruna.MemoryRecord{}, nil, fmt.Errorf("redis: unmarshal record: %w", err)
	}
	return sr.Record, sr.Embedding, nil
}

// Update rewrites an existing record. Returns aruna.ErrRecordNotFound when
// the id does not exist.
func (s *Store) Update(ctx context.Context, rec aruna.MemoryRecord, embedding []float32) error {
	blob, err := json.Marshal(storedRecord{Record: rec, Embedding: embedding})
	if err != nil {
		return fmt.Errorf("redis: marshal record: %w", err)
	}
	ok, err := s.rdb.SetXX(ctx, s.recordKey(rec.ID), blob, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: update record: %w", err)
	}
	if !ok {
		return aruna.ErrRecordNotFound
	}
	return nil
}

// Delete removes a record and its index entry. Returns
// aruna.ErrRecordNotFound when the id does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	rec, _, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		pipe.SRem(ctx, s.ownerKey(rec.OwnerID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: delete record: %w", err)
	}
	return nil
}

// Search loads the owner's records via the index set and ranks them
// in-process against the query embedding. Expired records are pruned from
// the index as they are encountered.
func (s *Store) Search(ctx context.Context, owner string, embedding []float32, limit int) ([]aruna.ScoredRecord, error) {
	start := time.Now()
	ids, err := s.rdb.SMembers(ctx, s.ownerKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: owner index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	blobs, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: fetch records: %w", err)
	}

	var (
		results []aruna.ScoredRecord
		stale   []any
	)
	for i, blob := range blobs {
		text, ok := blob.(string)
		if !ok {
			// Record expired but the index entry survived.
			stale = append(stale, ids[i])
			continue
		}
		var sr storedRecord
		if err := json.Unmarshal([]byte(text), &sr); err != nil || len(sr.Embedding) == 0 {
			continue
		}
		results = append(results, aruna.ScoredRecord{
			MemoryRecord: sr.Record,
			Score:        aruna.CosineSimilarity(embedding, sr.Embedding),
		})
	}
	if len(stale) > 0 {
		s.rdb.SRem(ctx, s.ownerKey(owner), stale...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	s.logger.Debug("redis: search records ok", "owner", owner, "candidates", len(ids), "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// List returns the owner's records newest first, at most limit (0 = all).
func (s *Store) List(ctx context.Context, owner string, limit int) ([]aruna.MemoryRecord, error) {
	ids, err := s.rdb.SMembers(ctx, s.ownerKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: owner index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	blobs, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: fetch records: %w", err)
	}

	var records []aruna.MemoryRecord
	for _, blob := range blobs {
		text, ok := blob.(string)
		if !ok {
			continue
		}
		var sr storedRecord
		if err := json.Unmarshal([]byte(text), &sr); err != nil {
			continue
		}
		records = append(records, sr.Record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt > records[j].CreatedAt
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *Store) Close() error { return nil }
