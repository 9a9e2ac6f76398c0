package aruna

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// MemoryRecord is one durable fact associated with one owner. Created by
// Manager.Add; mutated only via Update; deleted only via Delete. The
// workflow never mutates records directly.
type MemoryRecord struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// ScoredRecord pairs a record with its similarity score for ranking.
type ScoredRecord struct {
	MemoryRecord
	Score float32 `json:"score"`
}

// ErrRecordNotFound is returned by MemoryStore implementations when an id
// does not exist. The Manager wraps it as MemoryError{Kind: not_found}.
var ErrRecordNotFound = errors.New("memory record not found")

type ownerCtxKey struct{}

// WithOwner returns a context carrying the acting owner id. The workflow
// sets it before tool dispatch so owner-scoped tools know who is asking.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerCtxKey{}, ownerID)
}

// OwnerFromContext returns the owner id set by WithOwner, or "".
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerCtxKey{}).(string)
	return owner
}

// MemoryStore abstracts persistence for memory records with vector search.
// Implementations: store/sqlite (in-process), store/postgres (pgvector),
// store/redis (networked cache). The backing technology is invisible to
// the workflow; write consistency under concurrent update/delete is the
// store's concern and races are last-writer-wins.
type MemoryStore interface {
	Insert(ctx context.Context, rec MemoryRecord, embedding []float32) error
	Get(ctx context.Context, id string) (MemoryRecord, []float32, error)
	Update(ctx context.Context, rec MemoryRecord, embedding []float32) error
	Delete(ctx context.Context, id string) error
	// Search returns records owned by owner ranked by similarity to the
	// query embedding, at most limit. Implementations may return extra
	// candidates; the Manager re-sorts and truncates.
	Search(ctx context.Context, owner string, embedding []float32, limit int) ([]ScoredRecord, error)
	// List returns the owner's records newest first, at most limit
	// (0 = no cap).
	List(ctx context.Context, owner string, limit int) ([]MemoryRecord, error)

	Init(ctx context.Context) error
	Close() error
}

// Manager wraps a MemoryStore behind owner-scoped CRUD plus semantic
// search. All operations are scoped strictly to one owner: touching another
// owner's record is a programming error rejected with
// MemoryError{Kind: permission}.
type Manager struct {
	store     MemoryStore
	embedding EmbeddingProvider
	logger    *slog.Logger
	tracer    Tracer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// ManagerLogger sets the structured logger for memory operations.
func ManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// ManagerTracer enables span creation around memory operations.
func ManagerTracer(t Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = t }
}

// NewManager creates a Manager over store, embedding queries and new
// content with embedding.
func NewManager(store MemoryStore, embedding EmbeddingProvider, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, embedding: embedding}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = nopLogger
	}
	return m
}

// Search returns up to limit records owned by owner, ranked by similarity
// to query, ties broken by recency (most recent first). No matches is an
// empty result, never an error.
func (m *Manager) Search(ctx context.Context, owner, query string, limit int) ([]MemoryRecord, error) {
	if owner == "" {
		return nil, &MemoryError{Kind: MemoryPermission, Err: errors.New("empty owner")}
	}
	if limit <= 0 {
		limit = 5
	}

	ctx, span := m.span(ctx, "memory.search", StringAttr("owner", owner), IntAttr("limit", limit))
	defer endSpan(span)

	emb, err := m.embedQuery(ctx, query)
	if err != nil {
		return nil, &MemoryError{Kind: MemoryUnavailable, Err: fmt.Errorf("embed query: %w", err)}
	}

	scored, err := m.store.Search(ctx, owner, emb, limit)
	if err != nil {
		return nil, &MemoryError{Kind: MemoryUnavailable, Err: err}
	}

	// Rank by score descending, recency as tie-break. The store already
	// filters by owner; drop anything that slipped through anyway.
	filtered := scored[:0]
	for _, s := range scored {
		if s.OwnerID == owner {
			filtered = append(filtered, s)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].CreatedAt > filtered[j].CreatedAt
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	out := make([]MemoryRecord, 0, len(filtered))
	for _, s := range filtered {
		out = append(out, s.MemoryRecord)
	}
	m.logger.Debug("memory search", "owner", owner, "results", len(out))
	return out, nil
}

// List returns all of owner's records, newest first, at most limit
// (0 = no cap). No records is an empty result, never an error.
func (m *Manager) List(ctx context.Context, owner string, limit int) ([]MemoryRecord, error) {
	if owner == "" {
		return nil, &MemoryError{Kind: MemoryPermission, Err: errors.New("empty owner")}
	}

	ctx, span := m.span(ctx, "memory.list", StringAttr("owner", owner), IntAttr("limit", limit))
	defer endSpan(span)

	records, err := m.store.List(ctx, owner, limit)
	if err != nil {
		return nil, &MemoryError{Kind: MemoryUnavailable, Err: err}
	}
	m.logger.Debug("memory list", "owner", owner, "results", len(records))
	return records, nil
}

// Add stores a new fact for owner and returns the created record.
func (m *Manager) Add(ctx context.Context, owner, content string, metadata map[string]string) (MemoryRecord, error) {
	if owner == "" {
		return MemoryRecord{}, &MemoryError{Kind: MemoryPermission, Err: errors.New("empty owner")}
	}
	if content == "" {
		return MemoryRecord{}, &MemoryError{Kind: MemoryUnavailable, Err: errors.New("empty content")}
	}

	ctx, span := m.span(ctx, "memory.add", StringAttr("owner", owner))
	defer endSpan(span)

	emb, err := m.embedQuery(ctx, content)
	if err != nil {
		return MemoryRecord{}, &MemoryError{Kind: MemoryUnavailable, Err: fmt.Errorf("embed content: %w", err)}
	}

	rec := MemoryRecord{
		ID:        NewID(),
		OwnerID:   owner,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: NowUnix(),
	}
	if err := m.store.Insert(ctx, rec, emb); err != nil {
		return MemoryRecord{}, &MemoryError{Kind: MemoryUnavailable, Err: err}
	}
	m.logger.Info("memory added", "owner", owner, "id", rec.ID)
	return rec, nil
}

// Update rewrites content and/or metadata of an existing record owned by
// owner. Empty content keeps the stored text; nil metadata keeps the stored
// mapping. Unknown ids fail with not_found, foreign ids with permission.
func (m *Manager) Update(ctx context.Context, owner, id, content string, metadata map[string]string) (MemoryRecord, error) {
	ctx, span := m.span(ctx, "memory.update", StringAttr("owner", owner), StringAttr("id", id))
	defer endSpan(span)

	rec, emb, err := m.fetchOwned(ctx, owner, id)
	if err != nil {
		return MemoryRecord{}, err
	}

	if content != "" && content != rec.Content {
		rec.Content = content
		emb, err = m.embedQuery(ctx, content)
		if err != nil {
			return MemoryRecord{}, &MemoryError{Kind: MemoryUnavailable, ID: id, Err: fmt.Errorf("embed content: %w", err)}
		}
	}
	if metadata != nil {
		rec.Metadata = metadata
	}

	if err := m.store.Update(ctx, rec, emb); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return MemoryRecord{}, &MemoryError{Kind: MemoryNotFound, ID: id, Err: err}
		}
		return MemoryRecord{}, &MemoryError{Kind: MemoryUnavailable, ID: id, Err: err}
	}
	m.logger.Info("memory updated", "owner", owner, "id", id)
	return rec, nil
}

// Delete removes a record owned by owner. Unknown ids fail with not_found,
// foreign ids with permission.
func (m *Manager) Delete(ctx context.Context, owner, id string) error {
	ctx, span := m.span(ctx, "memory.delete", StringAttr("owner", owner), StringAttr("id", id))
	defer endSpan(span)

	if _, _, err := m.fetchOwned(ctx, owner, id); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return &MemoryError{Kind: MemoryNotFound, ID: id, Err: err}
		}
		return &MemoryError{Kind: MemoryUnavailable, ID: id, Err: err}
	}
	m.logger.Info("memory deleted", "owner", owner, "id", id)
	return nil
}

// fetchOwned loads a record and enforces the owner boundary.
func (m *Manager) fetchOwned(ctx context.Context, owner, id string) (MemoryRecord, []float32, error) {
	if owner == "" || id == "" {
		return MemoryRecord{}, nil, &MemoryError{Kind: MemoryPermission, ID: id, Err: errors.New("empty owner or id")}
	}
	rec, emb, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return MemoryRecord{}, nil, &MemoryError{Kind: MemoryNotFound, ID: id, Err: err}
		}
		return MemoryRecord{}, nil, &MemoryError{Kind: MemoryUnavailable, ID: id, Err: err}
	}
	if rec.OwnerID != owner {
		return MemoryRecord{}, nil, &MemoryError{Kind: MemoryPermission, ID: id, Err: fmt.Errorf("record owned by another user")}
	}
	return rec, emb, nil
}

func (m *Manager) embedQuery(ctx context.Context, text string) ([]float32, error) {
	embs, err := m.embedding.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embs) == 0 {
		return nil, errors.New("embedding provider returned no vectors")
	}
	return embs[0], nil
}

func (m *Manager) span(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	if m.tracer == nil {
		return ctx, nil
	}
	return m.tracer.Start(ctx, name, attrs...)
}

func endSpan(s Span) {
	if s != nil {
		s.End()
	}
}

// CosineSimilarity computes the cosine similarity of two vectors. Store
// implementations that rank in-process share this helper.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(normA))*math.Sqrt(float64(normB)))
}
