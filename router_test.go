package aruna

import (
	"context"
	"errors"
	"testing"
	"time"
)

func chainOf(n int) []ProviderConfig {
	chain := make([]ProviderConfig, n)
	for i := range chain {
		chain[i] = ProviderConfig{Provider: "stub", Model: string(rune('a' + i))}
	}
	return chain
}

func TestRouter_FirstProviderSucceeds(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Content: "hello", FinishReason: FinishStop}},
	}}
	f := &stubFactory{provider: stub}
	r := NewRouter(f.build, RouterBaseDelay(0))

	resp, err := r.Invoke(context.Background(), ChatRequest{}, chainOf(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("got %q, want %q", resp.Content, "hello")
	}
	if stub.callCount() != 1 {
		t.Errorf("got %d calls, want 1", stub.callCount())
	}
}

func TestRouter_RetriesRetriableError(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: errRetriable()},
		{resp: ChatResponse{Content: "ok", FinishReason: FinishStop}},
	}}
	f := &stubFactory{provider: stub}
	r := NewRouter(f.build, RouterBaseDelay(0))

	resp, err := r.Invoke(context.Background(), ChatRequest{}, chainOf(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("got %q, want %q", resp.Content, "ok")
	}
	if stub.callCount() != 2 {
		t.Errorf("got %d calls, want 2", stub.callCount())
	}
}

func TestRouter_NonRetriableAdvancesImmediately(t *testing.T) {
	// First provider fails with auth, second succeeds. The auth failure
	// must not burn the retry budget.
	stub := &stubProvider{results: []stubResult{
		{err: errNotRetriable()},
		{resp: ChatResponse{Content: "fallback answer", FinishReason: FinishStop}},
	}}
	f := &stubFactory{provider: stub}
	r := NewRouter(f.build, RouterMaxAttempts(3), RouterBaseDelay(0))

	resp, err := r.Invoke(context.Background(), ChatRequest{}, chainOf(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "fallback answer" {
		t.Errorf("got %q, want %q", resp.Content, "fallback answer")
	}
	if stub.callCount() != 2 {
		t.Errorf("got %d calls, want 2 (no retry on auth)", stub.callCount())
	}
}

func TestRouter_RetryBudgetThenAdvance(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: errRetriable()},
		{err: errRetriable()},
		{resp: ChatResponse{Content: "second provider", FinishReason: FinishStop}},
	}}
	f := &stubFactory{provider: stub}
	r := NewRouter(f.build, RouterMaxAttempts(2), RouterBaseDelay(0))

	resp, err := r.Invoke(context.Background(), ChatRequest{}, chainOf(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "second provider" {
		t.Errorf("got %q, want %q", resp.Content, "second provider")
	}
	if stub.callCount() != 3 {
		t.Errorf("got %d calls, want 3", stub.callCount())
	}
}

func TestRouter_AllExhausted(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: errRetriable()},
		{err: errRetriable()},
		{err: errRetriable()},
		{err: errRetriable()},
	}}
	f := &stubFactory{provider: stub}
	r := NewRouter(f.build, RouterMaxAttempts(2), RouterBaseDelay(0))

	_, err := r.Invoke(context.Background(), ChatRequest{}, chainOf(2))
	var exhausted *ProvidersExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %T, want *ProvidersExhaustedError", err)
	}
	if exhausted.Providers != 2 {
		t.Errorf("got %d providers, want 2", exhausted.Providers)
	}
	if exhausted.Last == nil {
		t.Error("want last error preserved")
	}
}

func TestRouter_EmptyChain(t *testing.T) {
	f := &stubFactory{provider: &stubProvider{}}
	r := NewRouter(f.build)

	_, err := r.Invoke(context.Background(), ChatRequest{}, nil)
	var exhausted *ProvidersExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %T, want *ProvidersExhaustedError", err)
	}
}

func TestRouter_AdapterCached(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Content: "a"}},
		{resp: ChatResponse{Content: "b"}},
	}}
	f := &stubFactory{provider: stub}
	r := NewRouter(f.build, RouterBaseDelay(0))
	chain := chainOf(1)

	if _, err := r.Invoke(context.Background(), ChatRequest{}, chain); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Invoke(context.Background(), ChatRequest{}, chain); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.builds != 1 {
		t.Errorf("got %d adapter builds, want 1 (cached)", f.builds)
	}
}

func TestRouter_InvalidateDropsCache(t *testing.T) {
	stub := &stubProvider{}
	f := &stubFactory{provider: stub}
	r := NewRouter(f.build, RouterBaseDelay(0))
	chain := chainOf(1)

	if _, err := r.Invoke(context.Background(), ChatRequest{}, chain); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Invalidate(chain[0])
	if _, err := r.Invoke(context.Background(), ChatRequest{}, chain); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.builds != 2 {
		t.Errorf("got %d adapter builds, want 2 after invalidate", f.builds)
	}
}

func TestRouter_FactoryErrorAdvancesChain(t *testing.T) {
	good := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Content: "ok"}},
	}}
	calls := 0
	factory := func(cfg ProviderConfig) (Provider, error) {
		calls++
		if cfg.Model == "a" {
			return nil, errors.New("no such model")
		}
		return good, nil
	}
	r := NewRouter(factory, RouterBaseDelay(0))

	resp, err := r.Invoke(context.Background(), ChatRequest{}, chainOf(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("got %q, want %q", resp.Content, "ok")
	}
}

func TestRouter_ContextCancelledDuringBackoff(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: errRetriable()},
		{err: errRetriable()},
	}}
	f := &stubFactory{provider: stub}
	r := NewRouter(f.build, RouterMaxAttempts(3), RouterBaseDelay(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Invoke(ctx, ChatRequest{}, chainOf(1))
		done <- err
	}()
	// Give the first attempt time to fail and enter backoff.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Invoke did not return after cancel")
	}
}

func TestRetryDelay_RetryAfterFloor(t *testing.T) {
	err := &ProviderError{Kind: ProviderRateLimit, Retriable: true, RetryAfter: 5 * time.Second}
	d := retryDelay(time.Millisecond, 0, err)
	if d < 5*time.Second {
		t.Errorf("got %v, want at least the server's 5s floor", d)
	}
}

func TestRetryBackoff_Grows(t *testing.T) {
	base := 100 * time.Millisecond
	d0 := retryBackoff(base, 0)
	d2 := retryBackoff(base, 2)
	if d0 < base {
		t.Errorf("attempt 0 delay %v below base %v", d0, base)
	}
	if d2 < 4*base {
		t.Errorf("attempt 2 delay %v below 4x base %v", d2, 4*base)
	}
}
