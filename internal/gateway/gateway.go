// ABOUTME: Gateway orchestrator that wires the store, model provider, and HTTP server
// ABOUTME: Manages session lifecycle, resume resolution, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/medora/assist-gateway/internal/config"
	"github.com/medora/assist-gateway/internal/model"
	"github.com/medora/assist-gateway/internal/resume"
	"github.com/medora/assist-gateway/internal/session"
	"github.com/medora/assist-gateway/internal/store"
	"github.com/medora/assist-gateway/internal/tool"
)

// Gateway orchestrates the assist-gateway server components.
// It owns the store, the session manager, and the HTTP server lifecycle.
type Gateway struct {
	config     *config.Config
	store      store.Store
	sessions   *session.Manager
	runner     *session.Runner
	resumer    *resume.Controller
	provider   model.Provider
	tools      *tool.Registry
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates a store from config, honoring the ASSIST_DB_PATH
// environment override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("ASSIST_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildRegistry registers the builtin tools.
func buildRegistry(cfg *config.Config, imageClient tool.ImageClient, logger *slog.Logger) *tool.Registry {
	registry := tool.NewRegistry(cfg.Tools.Timeout, logger)
	registry.Register(tool.NewWeatherTool(nil))
	if cfg.Tools.ExaAPIKey != "" {
		registry.Register(tool.NewWebSearchTool(cfg.Tools.ExaAPIKey, nil))
	}
	registry.Register(tool.NewImageTool(imageClient, ""))
	return registry
}

// New creates a gateway from configuration. The returned gateway is not
// serving yet; call Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	provider := model.NewOpenAIProvider(model.OpenAIConfig{
		APIKey:     cfg.Model.APIKey,
		BaseURL:    cfg.Model.BaseURL,
		TitleModel: cfg.Model.TitleModel,
	}, logger)

	// The image tool shares the provider's credentials but talks to the
	// images endpoint directly.
	clientCfg := openai.DefaultConfig(cfg.Model.APIKey)
	if cfg.Model.BaseURL != "" {
		clientCfg.BaseURL = cfg.Model.BaseURL
	}
	imageClient := openai.NewClientWithConfig(clientCfg)

	return newWithDeps(cfg, s, provider, buildRegistry(cfg, imageClient, logger), logger), nil
}

// newWithDeps assembles a gateway from explicit collaborators. Tests use
// it to substitute scripted providers and in-memory stores.
func newWithDeps(cfg *config.Config, s store.Store, provider model.Provider, registry *tool.Registry, logger *slog.Logger) *Gateway {
	sessions := session.NewManager(s, cfg.Generation.IdleTimeout, logger)
	runner := session.NewRunner(sessions, provider, registry, s, cfg.Model.SystemPrompt, logger)
	resumer := resume.NewController(sessions, s, cfg.Generation.ReplayWindow, logger)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		sessions: sessions,
		runner:   runner,
		resumer:  resumer,
		provider: provider,
		tools:    registry,
		logger:   logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations", gw.handleConversations)
	mux.HandleFunc("/api/conversations/", gw.handleConversationRoutes)
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	return gw
}

// Handler exposes the HTTP handler, primarily for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
	case serverErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if len(errs) > 0 {
		g.logger.Error("shutdown completed with errors", "errors", errs)
		return errors.Join(errs...)
	}
	g.logger.Info("shutdown complete")
	return nil
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ok"}`)
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	// Ready means the store answers queries.
	if _, err := g.store.ListConversations(r.Context(), "", false); err != nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ready"}`)
}
