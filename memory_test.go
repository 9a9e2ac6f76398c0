package aruna

import (
	"context"
	"errors"
	"testing"
)

func TestManager_AddAndSearch(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeEmbedding{})
	ctx := context.Background()

	rec, err := m.Add(ctx, "user1", "likes espresso", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == "" {
		t.Error("want generated record id")
	}
	if rec.OwnerID != "user1" {
		t.Errorf("got owner %q, want %q", rec.OwnerID, "user1")
	}

	results, err := m.Search(ctx, "user1", "likes espresso", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Content != "likes espresso" {
		t.Errorf("got %q, want %q", results[0].Content, "likes espresso")
	}
}

func TestManager_SearchNoMatchesIsEmptyNotError(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeEmbedding{})

	results, err := m.Search(context.Background(), "user1", "anything", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestManager_SearchOwnerScoped(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeEmbedding{})
	ctx := context.Background()

	if _, err := m.Add(ctx, "alice", "alice's secret", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Add(ctx, "bob", "bob's fact", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := m.Search(ctx, "bob", "alice's secret", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		if r.OwnerID != "bob" {
			t.Errorf("result %q leaked from owner %q", r.Content, r.OwnerID)
		}
	}
}

func TestManager_EmptyOwnerRejected(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeEmbedding{})
	ctx := context.Background()

	checks := []struct {
		name string
		call func() error
	}{
		{"search", func() error { _, err := m.Search(ctx, "", "q", 5); return err }},
		{"add", func() error { _, err := m.Add(ctx, "", "content", nil); return err }},
		{"list", func() error { _, err := m.List(ctx, "", 5); return err }},
		{"delete", func() error { return m.Delete(ctx, "", "some-id") }},
	}
	for _, c := range checks {
		err := c.call()
		var merr *MemoryError
		if !errors.As(err, &merr) {
			t.Errorf("%s: got %T, want *MemoryError", c.name, err)
			continue
		}
		if merr.Kind != MemoryPermission {
			t.Errorf("%s: got kind %q, want %q", c.name, merr.Kind, MemoryPermission)
		}
	}
}

func TestManager_UpdateForeignRecordIsPermission(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeEmbedding{})
	ctx := context.Background()

	rec, err := m.Add(ctx, "alice", "fact", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = m.Update(ctx, "bob", rec.ID, "tampered", nil)
	var merr *MemoryError
	if !errors.As(err, &merr) {
		t.Fatalf("got %T, want *MemoryError", err)
	}
	if merr.Kind != MemoryPermission {
		t.Errorf("got kind %q, want %q", merr.Kind, MemoryPermission)
	}

	// The record is untouched.
	got, _, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "fact" {
		t.Errorf("got %q, want %q", got.Content, "fact")
	}
}

func TestManager_UpdateUnknownIDIsNotFound(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeEmbedding{})

	_, err := m.Update(context.Background(), "alice", "no-such-id", "new", nil)
	var merr *MemoryError
	if !errors.As(err, &merr) {
		t.Fatalf("got %T, want *MemoryError", err)
	}
	if merr.Kind != MemoryNotFound {
		t.Errorf("got kind %q, want %q", merr.Kind, MemoryNotFound)
	}
}

func TestManager_Delete(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeEmbedding{})
	ctx := context.Background()

	rec, err := m.Add(ctx, "alice", "temporary", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Delete(ctx, "alice", rec.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.count() != 0 {
		t.Errorf("got %d records, want 0", store.count())
	}

	err = m.Delete(ctx, "alice", rec.ID)
	var merr *MemoryError
	if !errors.As(err, &merr) {
		t.Fatalf("got %T, want *MemoryError", err)
	}
	if merr.Kind != MemoryNotFound {
		t.Errorf("got kind %q, want %q", merr.Kind, MemoryNotFound)
	}
}

func TestManager_ListNewestFirst(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeEmbedding{})
	ctx := context.Background()

	// Insert directly so CreatedAt is controlled.
	for i, content := range []string{"oldest", "middle", "newest"} {
		rec := MemoryRecord{ID: NewID(), OwnerID: "alice", Content: content, CreatedAt: int64(100 + i)}
		if err := store.Insert(ctx, rec, embedText(content)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	records, err := m.List(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Content != "newest" || records[1].Content != "middle" {
		t.Errorf("got %q, %q; want newest, middle", records[0].Content, records[1].Content)
	}
}

func TestManager_EmbeddingFailureIsUnavailable(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeEmbedding{err: errors.New("quota")})

	_, err := m.Search(context.Background(), "alice", "query", 5)
	var merr *MemoryError
	if !errors.As(err, &merr) {
		t.Fatalf("got %T, want *MemoryError", err)
	}
	if merr.Kind != MemoryUnavailable {
		t.Errorf("got kind %q, want %q", merr.Kind, MemoryUnavailable)
	}
}

func TestManager_SearchTieBrokenByRecency(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeEmbedding{})
	ctx := context.Background()

	// Identical content gives identical embeddings, so scores tie and
	// recency must decide.
	old := MemoryRecord{ID: NewID(), OwnerID: "alice", Content: "same fact", CreatedAt: 100}
	recent := MemoryRecord{ID: NewID(), OwnerID: "alice", Content: "same fact", CreatedAt: 200}
	for _, rec := range []MemoryRecord{old, recent} {
		if err := store.Insert(ctx, rec, embedText(rec.Content)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	results, err := m.Search(ctx, "alice", "same fact", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != recent.ID {
		t.Errorf("got %q first, want the more recent record", results[0].ID)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		got := CosineSimilarity(tt.a, tt.b)
		if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}
