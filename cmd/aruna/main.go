package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/danarsa/aruna"
	"github.com/danarsa/aruna/frontend/whatsapp"
	"github.com/danarsa/aruna/internal/config"
	"github.com/danarsa/aruna/observer"
	"github.com/danarsa/aruna/provider/resolve"
	"github.com/danarsa/aruna/store/postgres"
	"github.com/danarsa/aruna/store/redis"
	"github.com/danarsa/aruna/store/sqlite"
	"github.com/danarsa/aruna/tools/calculator"
	"github.com/danarsa/aruna/tools/recall"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg := config.Load(os.Getenv("ARUNA_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// 2. Observability (optional)
	var (
		inst   *observer.Instruments
		tracer aruna.Tracer
	)
	if cfg.Observer.Enabled {
		if cfg.Observer.Endpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observer.Endpoint)
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, pricingOverrides(cfg.Observer.Pricing))
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("observer shutdown", "error", err)
			}
		}()
		tracer = observer.NewTracer()
	}

	// 3. Provider router over the fallback chain
	factory := resolve.Adapter
	if inst != nil {
		factory = func(pc aruna.ProviderConfig) (aruna.Provider, error) {
			p, err := resolve.Adapter(pc)
			if err != nil {
				return nil, err
			}
			return observer.WrapProvider(p, pc.Model, inst), nil
		}
	}
	routerOpts := []aruna.RouterOption{aruna.RouterLogger(logger)}
	if cfg.LLM.MaxAttempts > 0 {
		routerOpts = append(routerOpts, aruna.RouterMaxAttempts(cfg.LLM.MaxAttempts))
	}
	if cfg.LLM.BaseDelaySec > 0 {
		routerOpts = append(routerOpts, aruna.RouterBaseDelay(time.Duration(cfg.LLM.BaseDelaySec*float64(time.Second))))
	}
	if tracer != nil {
		routerOpts = append(routerOpts, aruna.RouterTracer(tracer))
	}
	router := aruna.NewRouter(factory, routerOpts...)

	// 4. Memory store + manager
	store, err := openStore(ctx, cfg.Memory, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init memory store: %w", err)
	}

	embedding, err := resolve.Embedding(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("resolve embedding provider: %w", err)
	}
	if inst != nil {
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
	}
	managerOpts := []aruna.ManagerOption{aruna.ManagerLogger(logger)}
	if tracer != nil {
		managerOpts = append(managerOpts, aruna.ManagerTracer(tracer))
	}
	memory := aruna.NewManager(store, embedding, managerOpts...)

	// 5. Tools
	registry := aruna.NewRegistry()
	if err := recall.New(memory).Register(registry); err != nil {
		return fmt.Errorf("register memory tools: %w", err)
	}
	if err := calculator.Register(registry); err != nil {
		return fmt.Errorf("register calculator tool: %w", err)
	}
	var tools aruna.ToolExecutor = registry
	if inst != nil {
		tools = observer.WrapTools(registry, inst)
	}

	// 6. Workflow
	wfOpts := []aruna.WorkflowOption{
		aruna.WithMemory(memory),
		aruna.WithTools(tools),
		aruna.WithGuard(aruna.NewInjectionGuard()),
		aruna.WithWorkflowLogger(logger),
	}
	if cfg.Workflow.SystemPrompt != "" {
		wfOpts = append(wfOpts, aruna.WithSystemPrompt(cfg.Workflow.SystemPrompt))
	}
	if cfg.Workflow.MemoryPolicy != "" {
		wfOpts = append(wfOpts, aruna.WithMemoryPolicy(aruna.MemoryPolicy(cfg.Workflow.MemoryPolicy)))
	}
	if cfg.Workflow.MaxToolRounds > 0 {
		wfOpts = append(wfOpts, aruna.WithMaxToolRounds(cfg.Workflow.MaxToolRounds))
	}
	if cfg.Workflow.MaxToolFailures > 0 {
		wfOpts = append(wfOpts, aruna.WithMaxToolFailures(cfg.Workflow.MaxToolFailures))
	}
	if cfg.Workflow.HistoryWindow > 0 {
		wfOpts = append(wfOpts, aruna.WithHistoryWindow(cfg.Workflow.HistoryWindow))
	}
	if cfg.Workflow.MemoryLimit > 0 {
		wfOpts = append(wfOpts, aruna.WithMemoryLimit(cfg.Workflow.MemoryLimit))
	}
	if cfg.Workflow.FallbackReply != "" {
		wfOpts = append(wfOpts, aruna.WithFallbackReply(cfg.Workflow.FallbackReply))
	}
	if tracer != nil {
		wfOpts = append(wfOpts, aruna.WithWorkflowTracer(tracer))
	}
	workflow := aruna.NewWorkflow(router, cfg.LLM.Chain(), wfOpts...)

	// 7. WhatsApp channel + webhook server
	client := whatsapp.NewClient(cfg.WhatsApp.AccessToken, cfg.WhatsApp.PhoneNumberID,
		whatsapp.WithClientLogger(logger))
	srv := newServer(serverDeps{
		workflow:    workflow,
		client:      client,
		verifyToken: cfg.WhatsApp.VerifyToken,
		logger:      logger,
		inst:        inst,
	})

	logger.Info("aruna started",
		"listen_addr", cfg.WhatsApp.ListenAddr,
		"primary", cfg.LLM.Primary.Key(),
		"fallbacks", len(cfg.LLM.Fallback),
		"memory_store", cfg.Memory.Store)
	return srv.listen(ctx, cfg.WhatsApp.ListenAddr)
}

// openStore builds the configured memory store adapter.
func openStore(ctx context.Context, cfg config.MemoryConfig, logger *slog.Logger) (aruna.MemoryStore, error) {
	switch cfg.Store {
	case "", "sqlite":
		return sqlite.New(cfg.SQLitePath, sqlite.WithLogger(logger)), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.New(pool), nil
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return redis.New(rdb, redis.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown memory store %q", cfg.Store)
	}
}

func pricingOverrides(pricing map[string]config.ObserverPricing) map[string]observer.ModelPricing {
	if len(pricing) == 0 {
		return nil
	}
	out := make(map[string]observer.ModelPricing, len(pricing))
	for model, p := range pricing {
		out[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
	}
	return out
}
