package aruna

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// AdapterFactory constructs a Provider from a config. Construction may be
// expensive (credential setup, session pooling), which is why the Router
// caches adapters.
type AdapterFactory func(cfg ProviderConfig) (Provider, error)

// Router selects a provider for each request, walking an ordered fallback
// chain: retriable failures are retried with exponential backoff up to the
// attempt budget, then the chain advances; non-retriable failures advance
// immediately. When the chain is exhausted it surfaces
// *ProvidersExhaustedError.
//
// Instantiated adapters are cached by provider+model and reused across
// invocations. The cache is read-mostly and safe for concurrent lookup;
// entries have no expiry but can be dropped via Invalidate when a config
// changes. Selection itself is stateless per call: given the same chain and
// the same failure history, the chosen provider is deterministic.
type Router struct {
	factory     AdapterFactory
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
	tracer      Tracer

	mu    sync.RWMutex
	cache map[string]Provider
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// RouterMaxAttempts sets the per-provider attempt budget (default: 3).
func RouterMaxAttempts(n int) RouterOption {
	return func(r *Router) { r.maxAttempts = n }
}

// RouterBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles, plus up to 50% jitter.
func RouterBaseDelay(d time.Duration) RouterOption {
	return func(r *Router) { r.baseDelay = d }
}

// RouterLogger sets the structured logger for retry and fallback events.
// Retries log at WARN, chain exhaustion at ERROR.
func RouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// RouterTracer enables span creation around provider attempts.
func RouterTracer(t Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// NewRouter creates a Router that builds adapters with factory.
func NewRouter(factory AdapterFactory, opts ...RouterOption) *Router {
	r := &Router{
		factory:     factory,
		maxAttempts: 3,
		baseDelay:   time.Second,
		cache:       make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Invoke walks the fallback chain until one provider returns a response.
func (r *Router) Invoke(ctx context.Context, req ChatRequest, chain []ProviderConfig) (ChatResponse, error) {
	if len(chain) == 0 {
		return ChatResponse{}, &ProvidersExhaustedError{Providers: 0, Last: errors.New("empty fallback chain")}
	}

	var last error
	for _, cfg := range chain {
		adapter, err := r.adapter(cfg)
		if err != nil {
			r.logger.Warn("adapter construction failed, advancing chain",
				"provider", cfg.Provider, "model", cfg.Model, "error", err)
			last = err
			continue
		}

		resp, err := r.attempt(ctx, adapter, cfg, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return ChatResponse{}, ctx.Err()
		}
		last = err
	}

	r.logger.Error("all providers exhausted",
		"providers", len(chain), "error", last)
	return ChatResponse{}, &ProvidersExhaustedError{Providers: len(chain), Last: last}
}

// attempt runs up to maxAttempts calls against one provider, backing off
// between retriable failures. Returns the first non-retriable error
// immediately so the caller can advance the chain.
func (r *Router) attempt(ctx context.Context, p Provider, cfg ProviderConfig, req ChatRequest) (ChatResponse, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		callCtx := ctx
		var span Span
		if r.tracer != nil {
			callCtx, span = r.tracer.Start(ctx, "router.generate",
				StringAttr("provider", cfg.Provider),
				StringAttr("model", cfg.Model),
				IntAttr("attempt", i))
		}
		resp, err := p.Generate(callCtx, req)
		if span != nil {
			if err != nil {
				span.Error(err)
			}
			span.End()
		}
		if err == nil {
			return resp, nil
		}
		if !retriable(err) {
			r.logger.Warn("non-retriable provider error, advancing chain",
				"provider", cfg.Provider, "model", cfg.Model, "error", err)
			return ChatResponse{}, err
		}

		last = err
		r.logger.Warn("retrying retriable provider error",
			"provider", cfg.Provider,
			"model", cfg.Model,
			"attempt", i+1,
			"max_attempts", r.maxAttempts,
			"error", err)
		if i < r.maxAttempts-1 {
			timer := time.NewTimer(retryDelay(r.baseDelay, i, err))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ChatResponse{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.logger.Warn("retry budget exhausted, advancing chain",
		"provider", cfg.Provider, "model", cfg.Model, "attempts", r.maxAttempts)
	return ChatResponse{}, last
}

// adapter returns a cached adapter for cfg, constructing one on first use.
func (r *Router) adapter(cfg ProviderConfig) (Provider, error) {
	key := cfg.Key()

	r.mu.RLock()
	p, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[key]; ok {
		return p, nil
	}
	p, err := r.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("build adapter %s: %w", key, err)
	}
	r.cache[key] = p
	return p, nil
}

// Invalidate drops the cached adapter for cfg. Call after a provider config
// changes (rotated credentials, new base URL).
func (r *Router) Invalidate(cfg ProviderConfig) {
	r.mu.Lock()
	delete(r.cache, cfg.Key())
	r.mu.Unlock()
}

// retriable reports whether err is a retriable classified provider error.
func retriable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retriable
}

// retryAfterOf extracts the server-requested delay floor, or 0.
func retryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// retryDelay computes the delay before retry attempt i, using exponential
// backoff as a floor and the server's Retry-After value (if present) as a
// minimum. The effective delay is max(backoff, retryAfter).
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	if base <= 0 {
		return 0
	}
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}
