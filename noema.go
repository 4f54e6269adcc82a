// Package noema is the public API for embedding the noema epistemic memory
// server.
//
// Library consumers construct and run a server without forking it:
//
//	app, err := noema.New(
//	    noema.WithVersion(version),
//	    noema.WithLogger(logger),
//	    noema.WithEventHook(myHook{}),
//	    noema.WithExtraRoutes(myExtraRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: noema (root) imports
// internal/*, but internal/* never imports noema (root).
package noema

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/noema-ai/noema/internal/ai"
	"github.com/noema-ai/noema/internal/auditsink"
	"github.com/noema-ai/noema/internal/auth"
	"github.com/noema-ai/noema/internal/config"
	"github.com/noema-ai/noema/internal/consistency"
	"github.com/noema-ai/noema/internal/epistat"
	"github.com/noema-ai/noema/internal/graph"
	"github.com/noema-ai/noema/internal/institutional"
	"github.com/noema-ai/noema/internal/jobs"
	"github.com/noema-ai/noema/internal/lineage"
	"github.com/noema-ai/noema/internal/mcp"
	"github.com/noema-ai/noema/internal/memory"
	"github.com/noema-ai/noema/internal/minority"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/ratelimit"
	"github.com/noema-ai/noema/internal/search"
	"github.com/noema-ai/noema/internal/selfaudit"
	"github.com/noema-ai/noema/internal/server"
	"github.com/noema-ai/noema/internal/service/embedding"
	"github.com/noema-ai/noema/internal/store"
	"github.com/noema-ai/noema/internal/store/memstore"
	"github.com/noema-ai/noema/internal/store/pgstore"
	"github.com/noema-ai/noema/internal/telemetry"
	"github.com/noema-ai/noema/migrations"
)

// App is the noema server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *pgstore.DB // nil when running against an in-memory store
	st           store.Store
	srv          *server.Server
	dir          *auth.Directory
	rateLimiter  *ratelimit.Limiter
	qdrantIndex  *search.QdrantIndex // nil when NOEMA_QDRANT_URL is unset
	otelShutdown telemetry.Shutdown
	eventHooks   []EventHook
	logger       *slog.Logger
	version      string
}

// New initializes the noema server: it connects to the store, runs
// migrations, wires every component, and returns a ready-to-run App. It does
// not start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load a .env file if present; non-fatal, production deployments won't have one.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("noema starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	st, db, storeKind, err := newStore(cfg, o.extraMigrations, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		closeStore(db)
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}
	dir := auth.NewDirectory(st)

	var provider ai.Provider = ai.NewHeuristic()
	if o.provider != nil {
		provider = o.provider
	} else {
		backend := embedding.Select(cfg.EmbeddingProvider, cfg.OpenAIAPIKey, cfg.EmbeddingModel,
			cfg.EmbeddingDimensions, cfg.OllamaURL, cfg.OllamaModel, logger)
		provider = ai.ComposeEmbedder(provider, func(ctx context.Context, text string) ([]float32, error) {
			vec, err := backend.Embed(ctx, text)
			if err != nil {
				if errors.Is(err, embedding.ErrNoProvider) {
					return nil, nil
				}
				return nil, err
			}
			return vec.Slice(), nil
		})
	}

	sink := auditsink.New(st)
	dispatcher := jobs.SyncFallback{}

	mem := memory.New(st, provider, sink, dispatcher)
	g := graph.New(st)
	ingestor := graph.NewIngestor(g, provider, sink)
	check := consistency.New(st, g)
	epi := epistat.New(st, sink)
	minor := minority.New(st, sink)
	inst := institutional.New(st, epi, sink)
	lin := lineage.New(st, sink)
	audit := selfaudit.New(st, epi, minor, check, g)

	// Qdrant-backed ANN candidate discovery is optional: when configured, it
	// serves memory.Orchestrator.SearchSimilar and the consistency checker's
	// semantic-contradiction scan; when not, both use their non-ANN paths
	// (for SearchSimilar, the Store's exact embedding scan).
	var qdrantIndex *search.QdrantIndex
	if cfg.QdrantURL != "" {
		var qerr error
		qdrantIndex, qerr = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if qerr != nil {
			closeStore(db)
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", qerr)
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			closeStore(db)
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		mem.WithCandidateFinder(qdrantIndex)
		check.WithCandidateFinder(qdrantIndex)
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no NOEMA_QDRANT_URL)")
	}

	// Rate limiter (optional — only when a Redis URL is configured).
	var limiter *ratelimit.Limiter
	redisURL := o.redisURL
	if redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			closeStore(db)
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("rate limiter: parse redis url: %w", err)
		}
		limiter = ratelimit.New(redis.NewClient(redisOpts), logger, false)
		logger.Info("rate limiting: redis sliding window", "fail_closed", false)
	} else {
		logger.Info("rate limiting: disabled (no NOEMA_REDIS_URL)")
	}

	mcpSrv := mcp.New(mem, g, epi, minor, provider, logger, version)

	var extraRoutes []func(*http.ServeMux, server.RoleMiddlewareFn)
	for _, fn := range o.routeRegistrars {
		fn := fn
		extraRoutes = append(extraRoutes, func(mux *http.ServeMux, roleFn server.RoleMiddlewareFn) {
			fn(mux, &authHelperImpl{roleFn: roleFn})
		})
	}
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		mw := mw
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	srv := server.New(server.ServerConfig{
		Deps: server.HandlersDeps{
			Store:               st,
			Dir:                 dir,
			JWTMgr:              jwtMgr,
			Provider:            provider,
			Mem:                 mem,
			Graph:               g,
			Ingestor:            ingestor,
			Check:               check,
			Epi:                 epi,
			Minor:               minor,
			Inst:                inst,
			Lin:                 lin,
			Audit:               audit,
			Logger:              logger,
			MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
			Version:             version,
			StoreKind:           storeKind,
			DispatcherKind:      "sync_fallback",
		},
		JWTMgr:             jwtMgr,
		Dir:                dir,
		RateLimiter:        limiter,
		MCPServer:          mcpSrv.MCPServer(),
		ExtraRoutes:        extraRoutes,
		Middlewares:        middlewares,
		Port:               cfg.Port,
		ReadTimeout:        cfg.ReadTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		st:           st,
		srv:          srv,
		dir:          dir,
		rateLimiter:  limiter,
		qdrantIndex:  qdrantIndex,
		otelShutdown: otelShutdown,
		eventHooks:   o.eventHooks,
		logger:       logger,
		version:      version,
	}, nil
}

// newStore connects to Postgres (the default) or, when DatabaseURL uses the
// memory:// scheme, an in-process store suitable for demos and tests. It
// runs embedded migrations (plus any extra migrations) against a Postgres
// store; the in-memory store needs no migrations.
func newStore(cfg config.Config, extraMigrations []fs.FS, logger *slog.Logger) (store.Store, *pgstore.DB, string, error) {
	if cfg.DatabaseURL == "memory://" {
		logger.Info("store: in-memory (memory://)")
		return memstore.New(), nil, "memstore", nil
	}

	ctx := context.Background()
	db, err := pgstore.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, "", fmt.Errorf("store: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, nil, "", fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range extraMigrations {
		if err := db.RunMigrations(ctx, extraFS); err != nil {
			db.Close()
			return nil, nil, "", fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}
	logger.Info("store: postgres", "database_url_configured", true)
	return db, db, "pgstore", nil
}

func closeStore(db *pgstore.DB) {
	if db != nil {
		db.Close()
	}
}

// Run starts the HTTP server (with the MCP transport mounted at /mcp) and
// blocks until ctx is cancelled or a fatal server error occurs. On return,
// Shutdown is called automatically — callers should not call Shutdown
// separately.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the store connection
// and the rate limiter's Redis client.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("noema shutting down")

	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	if a.rateLimiter != nil {
		if err := a.rateLimiter.Close(); err != nil {
			a.logger.Warn("rate limiter close error", "error", err)
		}
	}
	if a.qdrantIndex != nil {
		if err := a.qdrantIndex.Close(); err != nil {
			a.logger.Warn("qdrant close error", "error", err)
		}
	}
	closeStore(a.db)
	_ = a.otelShutdown(context.Background())

	a.logger.Info("noema stopped")
	return nil
}

// Directory exposes the agent directory for operator bootstrap tooling
// (e.g. cmd/noema's seed-admin subcommand).
func (a *App) Directory() *auth.Directory { return a.dir }

// SeedAdmin creates an admin agent for tenant if one does not already exist
// under agentID, returning the one-time API key. If the agent already
// exists, SeedAdmin returns its record with an empty APIKey.
func (a *App) SeedAdmin(ctx context.Context, tenant, agentID string) (SeedResult, error) {
	if existing, err := a.dir.GetAgent(ctx, tenant, agentID); err == nil {
		return SeedResult{AgentID: existing.AgentID}, nil
	}
	agent, rawKey, err := a.dir.CreateAgent(ctx, tenant, agentID, "bootstrap admin", model.RoleAdmin, nil)
	if err != nil {
		return SeedResult{}, fmt.Errorf("seed admin: %w", err)
	}
	return SeedResult{AgentID: agent.AgentID, APIKey: rawKey}, nil
}

// Handler returns the root HTTP handler, e.g. for use in httptest.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// authHelperImpl implements noema.AuthHelper using an internal
// server.RoleMiddlewareFn. Constructed in the route registrar adapter
// closure so enterprise-style extra routes can share the built-in RBAC
// chain without importing internal/server directly.
type authHelperImpl struct {
	roleFn server.RoleMiddlewareFn
}

func (a *authHelperImpl) RequireRole(role model.AgentRole) func(http.Handler) http.Handler {
	return a.roleFn(role)
}
