// Package sqlite implements aruna.MemoryStore using pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/danarsa/aruna"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements aruna.MemoryStore backed by a local SQLite file.
// Embeddings are stored as JSON text and similarity search is done
// in-process using brute-force cosine similarity.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ aruna.MemoryStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the memory_records table.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_records_owner ON memory_records(owner_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("sqlite: init failed", "error", err, "duration", time.Since(start))
			return fmt.Errorf("init memory store: %w", err)
		}
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Insert stores a new record with its embedding.
func (s *Store) Insert(ctx context.Context, rec aruna.MemoryRecord, embedding []float32) error {
	start := time.Now()
	s.logger.Debug("sqlite: insert record", "id", rec.ID, "owner", rec.OwnerID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_records (id, owner_id, content, metadata, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Content, serializeMetadata(rec.Metadata), serializeEmbedding(embedding), rec.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: insert record failed", "id", rec.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("insert record: %w", err)
	}
	s.logger.Debug("sqlite: insert record ok", "id", rec.ID, "duration", time.Since(start))
	return nil
}

// Get returns the record and its embedding, or aruna.ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, id string) (aruna.MemoryRecord, []float32, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get record", "id", id)
	var (
		rec      aruna.MemoryRecord
		metaJSON sql.NullString
		embJSON  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, content, metadata, embedding, created_at FROM memory_records WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.OwnerID, &rec.Content, &metaJSON, &embJSON, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return aruna.MemoryRecord{}, nil, aruna.ErrRecordNotFound
	}
	if err != nil {
		s.logger.Error("sqlite: get record failed", "id", id, "error", err, "duration", time.Since(start))
		return aruna.MemoryRecord{}, nil, fmt.Errorf("get record: %w", err)
	}
	rec.Metadata = deserializeMetadata(metaJSON.String)
	emb, err := deserializeEmbedding(embJSON.String)
	if err != nil {
		return aruna.MemoryRecord{}, nil, fmt.Errorf("get record embedding: %w", err)
	}
	s.logger.Debug("sqlite: get record ok", "id", id, "duration", time.Since(start))
	return rec, emb, nil
}

// Update rewrites a record's content, metadata, and embedding. Returns
// aruna.ErrRecordNotFound when the id does not exist.
func (s *Store) Update(ctx context.Context, rec aruna.MemoryRecord, embedding []float32) error {
	start := time.Now()
	s.logger.Debug("sqlite: update record", "id", rec.ID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_records SET content=?, metadata=?, embedding=? WHERE id=?`,
		rec.Content, serializeMetadata(rec.Metadata), serializeEmbedding(embedding), rec.ID,
	)
	if err != nil {
		s.logger.Error("sqlite: update record failed", "id", rec.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return aruna.ErrRecordNotFound
	}
	s.logger.Debug("sqlite: update record ok", "id", rec.ID, "duration", time.Since(start))
	return nil
}

// Delete removes a record. Returns aruna.ErrRecordNotFound when the id
// does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete record", "id", id)
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE id = ?`, id)
	if err != nil {
		s.logger.Error("sqlite: delete record failed", "id", id, "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return aruna.ErrRecordNotFound
	}
	s.logger.Debug("sqlite: delete record ok", "id", id, "duration", time.Since(start))
	return nil
}

// Search scans the owner's records and scores them in-process against the
// query embedding. Results come back sorted by score descending.
func (s *Store) Search(ctx context.Context, owner string, embedding []float32, limit int) ([]aruna.ScoredRecord, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search records", "owner", owner, "limit", limit, "embedding_dim", len(embedding))
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, content, metadata, embedding, created_at FROM memory_records WHERE owner_id = ?`, owner)
	if err != nil {
		s.logger.Error("sqlite: search records failed", "owner", owner, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	var (
		results []aruna.ScoredRecord
		scanned int
	)
	for rows.Next() {
		var (
			rec      aruna.MemoryRecord
			metaJSON sql.NullString
			embJSON  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Content, &metaJSON, &embJSON, &rec.CreatedAt); err != nil {
			continue
		}
		scanned++
		stored, err := deserializeEmbedding(embJSON.String)
		if err != nil || len(stored) == 0 {
			continue
		}
		rec.Metadata = deserializeMetadata(metaJSON.String)
		results = append(results, aruna.ScoredRecord{
			MemoryRecord: rec,
			Score:        aruna.CosineSimilarity(embedding, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	s.logger.Debug("sqlite: search records ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// List returns the owner's records newest first, at most limit (0 = all).
func (s *Store) List(ctx context.Context, owner string, limit int) ([]aruna.MemoryRecord, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list records", "owner", owner, "limit", limit)
	query := `SELECT id, owner_id, content, metadata, created_at FROM memory_records
		WHERE owner_id = ? ORDER BY created_at DESC`
	args := []any{owner}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: list records failed", "owner", owner, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []aruna.MemoryRecord
	for rows.Next() {
		var (
			rec      aruna.MemoryRecord
			metaJSON sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Content, &metaJSON, &rec.CreatedAt); err != nil {
			continue
		}
		rec.Metadata = deserializeMetadata(metaJSON.String)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	s.logger.Debug("sqlite: list records ok", "count", len(records), "duration", time.Since(start))
	return records, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for callers that need to share it.
func (s *Store) DB() *sql.DB { return s.db }

func serializeEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return ""
	}
	data, _ := json.Marshal(embedding)
	return string(data)
}

func deserializeEmbedding(text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	var emb []float32
	if err := json.Unmarshal([]byte(text), &emb); err != nil {
		return nil, err
	}
	return emb, nil
}

func serializeMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	data, _ := json.Marshal(meta)
	return string(data)
}

func deserializeMetadata(text string) map[string]string {
	if text == "" {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(text), &meta); err != nil {
		return nil
	}
	return meta
}
