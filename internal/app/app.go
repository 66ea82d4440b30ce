// Package app wires configuration into a ready-to-serve pipeline and router.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/radiolens/radiolens/internal/classify"
	"github.com/radiolens/radiolens/internal/config"
	"github.com/radiolens/radiolens/internal/handlers"
	"github.com/radiolens/radiolens/internal/insight"
	"github.com/radiolens/radiolens/internal/modality"
	"github.com/radiolens/radiolens/internal/pipeline"
	"github.com/radiolens/radiolens/internal/ratelimit"
	"github.com/radiolens/radiolens/internal/registry"
	"github.com/radiolens/radiolens/internal/rephrase"
	"github.com/radiolens/radiolens/internal/secrets"
	"github.com/radiolens/radiolens/internal/ws"
)

// App holds the long-lived components.
type App struct {
	Config   *config.Config
	Registry *registry.Registry
	Pipeline *pipeline.Pipeline
	Limiter  *ratelimit.Limiter
	Streams  *ws.Manager
	logger   *slog.Logger
}

// Build validates cfg and constructs every component. Models are not loaded
// here; the registry loads them on first use or in Warm.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := secrets.Load(cfg.SecretsFile)
	if err != nil {
		return nil, err
	}

	creds := insight.CredentialSource{Secrets: store, Getenv: cfg.Getenv}

	// Public models work without a token.
	tokenSrc := creds
	tokenSrc.EnvVar = cfg.Inference.TokenEnv
	token, err := tokenSrc.Resolve()
	if err != nil {
		logger.Warn("no model server token, sending anonymous requests", "env", cfg.Inference.TokenEnv)
	}
	backend := classify.NewHTTPBackend(cfg.BackendConfig(token), logger)
	models := registry.New(registry.BackendFactory(cfg.Specs(), backend), logger)

	text, err := insight.NewTextGenerator(cfg.Insight, creds)
	if err != nil {
		return nil, err
	}
	if text == nil {
		logger.Warn("insight provider disabled")
	}
	insights := insight.New(text, logger)

	p := pipeline.New(models, rephrase.New(cfg.Rephrase), insights, logger)

	limiter := ratelimit.New(map[string]ratelimit.Bucket{
		"classify": {MaxRequests: cfg.Server.RequestsPerMin, Window: time.Minute},
	})

	return &App{
		Config:   cfg,
		Registry: models,
		Pipeline: p,
		Limiter:  limiter,
		Streams:  ws.NewManager(p, limiter, cfg.Server.MaxUploadMB<<20, logger),
		logger:   logger,
	}, nil
}

// Warm loads every configured model. Failures are logged and returned; the
// models are retried on first use either way.
func (a *App) Warm(ctx context.Context) error {
	var mods []modality.Modality
	for m := range a.Config.Specs() {
		mods = append(mods, m)
	}
	start := time.Now()
	if err := a.Registry.Warm(ctx, mods...); err != nil {
		a.logger.Error("model warmup failed", "err", err)
		return err
	}
	a.logger.Info("models warmed", "models", a.Registry.Loaded(), "elapsed", time.Since(start))
	return nil
}

// Router builds the HTTP surface.
func (a *App) Router() http.Handler {
	h := handlers.NewClassifyHandler(a.Pipeline, a.Registry, a.Config, a.Limiter, a.logger)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})
	r.Get("/healthz", h.Health)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/config", h.GetConfig)
		v1.Post("/classify", h.Classify)
		v1.Get("/stream", a.Streams.HandleStream)
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
