package aruna

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// stubProvider is a test Provider that returns pre-configured results in
// order. Generate and StreamGenerate share the same result queue via a
// shared call counter.
type stubProvider struct {
	mu      sync.Mutex
	calls   int
	results []stubResult

	// lastReq records the most recent request for assertion.
	lastReq ChatRequest
}

type stubResult struct {
	resp   ChatResponse
	chunks []string // chunks written to ch in StreamGenerate
	err    error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) next(req ChatRequest) stubResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReq = req
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i]
	}
	return stubResult{resp: ChatResponse{Content: "default", FinishReason: FinishStop}}
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubProvider) Generate(_ context.Context, req ChatRequest) (ChatResponse, error) {
	r := s.next(req)
	return r.resp, r.err
}

func (s *stubProvider) StreamGenerate(_ context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error) {
	defer close(ch)
	r := s.next(req)
	for _, c := range r.chunks {
		ch <- c
	}
	return r.resp, r.err
}

var _ Provider = (*stubProvider)(nil)

// stubFactory returns the same provider for every config and counts
// constructions.
type stubFactory struct {
	mu       sync.Mutex
	builds   int
	provider Provider
	err      error
}

func (f *stubFactory) build(_ ProviderConfig) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

// fakeEmbedding returns deterministic vectors: equal texts get equal
// vectors, so cosine similarity is 1 for exact matches.
type fakeEmbedding struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (f *fakeEmbedding) Dimensions() int { return 8 }
func (f *fakeEmbedding) Name() string    { return "fake" }

var _ EmbeddingProvider = (*fakeEmbedding)(nil)

// embedText hashes the text into a fixed 8-dim vector.
func embedText(t string) []float32 {
	v := make([]float32, 8)
	for i, b := range []byte(t) {
		v[i%8] += float32(b) / 255
	}
	return v
}

// fakeStore is an in-memory MemoryStore for Manager and Workflow tests.
type fakeStore struct {
	mu         sync.Mutex
	records    map[string]MemoryRecord
	embeddings map[string][]float32

	searchErr error
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:    make(map[string]MemoryRecord),
		embeddings: make(map[string][]float32),
	}
}

func (f *fakeStore) Init(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func (f *fakeStore) Insert(_ context.Context, rec MemoryRecord, emb []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.records[rec.ID] = rec
	f.embeddings[rec.ID] = emb
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (MemoryRecord, []float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return MemoryRecord{}, nil, ErrRecordNotFound
	}
	return rec, f.embeddings[id], nil
}

func (f *fakeStore) Update(_ context.Context, rec MemoryRecord, emb []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.ID]; !ok {
		return ErrRecordNotFound
	}
	f.records[rec.ID] = rec
	f.embeddings[rec.ID] = emb
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(f.records, id)
	delete(f.embeddings, id)
	return nil
}

func (f *fakeStore) Search(_ context.Context, owner string, emb []float32, limit int) ([]ScoredRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []ScoredRecord
	for id, rec := range f.records {
		if rec.OwnerID != owner {
			continue
		}
		out = append(out, ScoredRecord{
			MemoryRecord: rec,
			Score:        CosineSimilarity(emb, f.embeddings[id]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) List(_ context.Context, owner string, limit int) ([]MemoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []MemoryRecord
	for _, rec := range f.records {
		if rec.OwnerID == owner {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

var _ MemoryStore = (*fakeStore)(nil)

// errNotRetriable is a classified, non-retriable provider error for router
// tests.
func errNotRetriable() error {
	return &ProviderError{Provider: "stub", Kind: ProviderAuth, Err: errors.New("bad key")}
}

// errRetriable is a classified, retriable provider error for router tests.
func errRetriable() error {
	return &ProviderError{Provider: "stub", Kind: ProviderRateLimit, Retriable: true, Err: errors.New("slow down")}
}
