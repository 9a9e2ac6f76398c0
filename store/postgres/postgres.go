// Package postgres implements aruna.MemoryStore using PostgreSQL with
// pgvector for native vector similarity search.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danarsa/aruna"
)

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// Store implements aruna.MemoryStore backed by PostgreSQL with pgvector.
// Similarity search uses an HNSW index with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

var _ aruna.MemoryStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// Init creates the pgvector extension, memory_records table, and HNSW
// index. Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vectorType := "vector"
	if s.cfg.embeddingDimension > 0 {
		vectorType = fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	indexOpts := ""
	if s.cfg.hnswM > 0 || s.cfg.hnswEFConstruction > 0 {
		var params []string
		if s.cfg.hnswM > 0 {
			params = append(params, fmt.Sprintf("m = %d", s.cfg.hnswM))
		}
		if s.cfg.hnswEFConstruction > 0 {
			params = append(params, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
		}
		indexOpts = " WITH (" + strings.Join(params, ", ") + ")"
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding %s,
			created_at BIGINT NOT NULL
		)`, vectorType),
		`CREATE INDEX IF NOT EXISTS memory_records_owner_idx ON memory_records (owner_id)`,
		`CREATE INDEX IF NOT EXISTS memory_records_embedding_idx ON memory_records USING hnsw (embedding vector_cosine_ops)` + indexOpts,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Insert stores a new record with its embedding.
func (s *Store) Insert(ctx context.Context, rec aruna.MemoryRecord, embedding []float32) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_records (id, owner_id, content, metadata, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5::vector, $6)`,
		rec.ID, rec.OwnerID, rec.Content, metadataJSON(rec.Metadata), serializeEmbedding(embedding), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert record: %w", err)
	}
	return nil
}

// Get returns the record and its embedding, or aruna.ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, id string) (aruna.MemoryRecord, []float32, error) {
	var (
		rec      aruna.MemoryRecord
		metaJSON []byte
		embText  *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, content, metadata, embedding::text, created_at
		 FROM memory_records WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.OwnerID, &rec.Content, &metaJSON, &embText, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return aruna.MemoryRecord{}, nil, aruna.ErrRecordNotFound
	}
	if err != nil {
		return aruna.MemoryRecord{}, nil, fmt.Errorf("postgres: get record: %w", err)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &rec.Metadata)
	}
	var emb []float32
	if embText != nil {
		emb = deserializeEmbedding(*embText)
	}
	return rec, emb, nil
}

// Update rewrites a record's content, metadata, and embedding. Returns
// aruna.ErrRecordNotFound when the id does not exist.
func (s *Store) Update(ctx context.Context, rec aruna.MemoryRecord, embedding []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memory_records SET content=$1, metadata=$2, embedding=$3::vector WHERE id=$4`,
		rec.Content, metadataJSON(rec.Metadata), serializeEmbedding(embedding), rec.ID)
	if err != nil {
		return fmt.Errorf("postgres: update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return aruna.ErrRecordNotFound
	}
	return nil
}

// Delete removes a record. Returns aruna.ErrRecordNotFound when the id
// does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memory_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return aruna.ErrRecordNotFound
	}
	return nil
}

// Search returns the owner's records ranked by pgvector cosine similarity.
func (s *Store) Search(ctx context.Context, owner string, embedding []float32, limit int) ([]aruna.ScoredRecord, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, content, metadata, created_at,
		        1 - (embedding <=> $1::vector) AS score
		 FROM memory_records
		 WHERE owner_id = $2 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $3`,
		embStr, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search records: %w", err)
	}
	defer rows.Close()

	var results []aruna.ScoredRecord
	for rows.Next() {
		var (
			sr       aruna.ScoredRecord
			metaJSON []byte
		)
		if err := rows.Scan(&sr.ID, &sr.OwnerID, &sr.Content, &metaJSON, &sr.CreatedAt, &sr.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &sr.Metadata)
		}
		results = append(results, sr)
	}
	return results, rows.Err()
}

// List returns the owner's records newest first, at most limit (0 = all).
func (s *Store) List(ctx context.Context, owner string, limit int) ([]aruna.MemoryRecord, error) {
	query := `SELECT id, owner_id, content, metadata, created_at
		 FROM memory_records WHERE owner_id = $1 ORDER BY created_at DESC`
	args := []any{owner}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list records: %w", err)
	}
	defer rows.Close()

	var records []aruna.MemoryRecord
	for rows.Next() {
		var (
			rec      aruna.MemoryRecord
			metaJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Content, &metaJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &rec.Metadata)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

func metadataJSON(meta map[string]string) []byte {
	if len(meta) == 0 {
		return nil
	}
	data, _ := json.Marshal(meta)
	return data
}

func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func deserializeEmbedding(text string) []float32 {
	text = strings.Trim(text, "[]")
	if text == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	emb := make([]float32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		emb = append(emb, float32(v))
	}
	return emb
}
