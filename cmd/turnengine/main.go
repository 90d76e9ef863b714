// Command turnengine is a thin demo server: it wires a session store, a
// tool transport, a catalog, and the full planning/execution pipeline
// together behind two HTTP endpoints (SSE and websocket chat streams).
// It's the one HTTP routing surface this module ships; any real deployment
// wraps the same engine packages in its own server instead of using this
// one.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rgeissen/turnengine/catalog"
	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/execution"
	"github.com/rgeissen/turnengine/planning"
	"github.com/rgeissen/turnengine/session"
	"github.com/rgeissen/turnengine/telemetry"
	"github.com/rgeissen/turnengine/toolproto"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("turnengine: load config: %v", err)
	}

	logger := telemetry.NewProductionLogger(cfg.Logging, "turnengine")

	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("turnengine: init telemetry: %v", err)
	}
	if provider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	store, err := newSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		log.Fatalf("turnengine: init session store: %v", err)
	}

	toolBaseURL := os.Getenv("TURNENGINE_TOOL_SERVER_URL")
	if toolBaseURL == "" {
		toolBaseURL = "http://localhost:8090"
	}
	httpClient := telemetry.NewTracedHTTPClient(nil)
	toolClient := toolproto.NewHTTPClient(toolBaseURL, httpClient, logger)

	cat := catalog.New(logger)
	if err := cat.Refresh(ctx, toolClient); err != nil {
		logger.Warn("initial catalog refresh failed, starting with an empty catalog", map[string]interface{}{"error": err.Error()})
	}
	go refreshCatalogPeriodically(ctx, cat, toolClient, cfg.Catalog.RefreshInterval, logger)

	strategicAI := newDemoAIClient(cfg.Planning.StrategicModel)
	tacticalAI := newDemoAIClient(cfg.Execution.TacticalModel)

	normalizer := planning.NewNormalizer()
	validator := planning.NewValidator(func(name string) (toolproto.ToolDescriptor, bool) { return cat.Tool(name) })
	rewriter := planning.NewRewriter(func(name string) (toolproto.ToolDescriptor, bool) { return cat.Tool(name) }, validator)
	planner := planning.NewPlanner(toolClient, strategicAI, normalizer, rewriter, validator)
	planner.Logger = logger
	planner.MaxTokens = cfg.Planning.MaxTokens
	planner.Temperature = cfg.Planning.Temperature
	planner.Catalog = catalog.NewTieredProvider(cat, strategicAI, logger, cfg.Planning.TieredCapabilityThreshold)

	phaseExec := execution.NewPhaseExecutor(toolClient, cat, tacticalAI)
	phaseExec.Logger = logger
	phaseExec.MaxToolAttempts = cfg.Execution.MaxToolAttempts
	phaseExec.CatalogProvider = catalog.NewTieredProvider(cat, tacticalAI, logger, cfg.Planning.TieredCapabilityThreshold)

	synthesizer := execution.NewSynthesizer(tacticalAI, logger, execution.StrategyLLM)

	var debugStore execution.TurnDebugStore = execution.NoOpTurnDebugStore{}
	if cfg.Catalog.DebugStoreEnabled && cfg.Catalog.ExecutionStoreEnabled {
		redisURL := cfg.Catalog.DebugStoreRedisURL
		if redisURL == "" {
			redisURL = cfg.Session.RedisURL
		}
		if built, err := execution.NewRedisTurnDebugStore(ctx, redisURL, cfg.Session.RedisDB+1, execution.WithTurnDebugLogger(logger)); err != nil {
			logger.Warn("turn debug store unavailable, falling back to no-op", map[string]interface{}{"error": err.Error()})
		} else {
			debugStore = built
		}
	}

	planExec := execution.NewPlanExecutor(store, planner, phaseExec, synthesizer)
	planExec.StrategicAI = strategicAI
	planExec.TacticalAI = tacticalAI
	planExec.Logger = logger
	planExec.Clock = core.SystemClock{}

	if cfg.RateLimit.Enabled {
		planExec.Quota = execution.NewRateLimitQuotaChecker(cfg.RateLimit.TurnsPerWindow, cfg.RateLimit.Window)
	}

	srv := newServer(planExec, debugStore, logger)

	addr := os.Getenv("TURNENGINE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // chat streams hold the connection open indefinitely
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("turnengine listening", map[string]interface{}{"addr": addr})
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("turnengine: serve: %v", err)
	}
}

func newSessionStore(ctx context.Context, cfg core.SessionConfig, logger core.Logger) (session.Store, error) {
	if cfg.Provider == "redis" {
		return session.NewRedisStore(ctx, cfg, session.WithRedisStoreLogger(logger))
	}
	return session.NewMemoryStore(core.SystemClock{}), nil
}

func refreshCatalogPeriodically(ctx context.Context, cat *catalog.Catalog, client toolproto.Client, interval time.Duration, logger core.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cat.Refresh(ctx, client); err != nil {
				logger.Warn("periodic catalog refresh failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
