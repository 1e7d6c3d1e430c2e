package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threadnote/backend/internal/adapter"
	"threadnote/backend/internal/agent"
	"threadnote/backend/internal/api"
	"threadnote/backend/internal/auth"
	"threadnote/backend/internal/graph"
	"threadnote/backend/internal/tools"
	"threadnote/backend/pkg/config"
	apperrors "threadnote/backend/pkg/errors"
	"threadnote/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...", zap.String("env", cfg.Env), zap.String("graph_backend", cfg.GraphBackend))

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open graph store", zap.Error(err))
	}
	defer store.Close(context.Background())

	// Initialize dependencies
	llmAdapter := newLLMAdapter(cfg)
	reader := tools.NewWebReader(cfg.FetchTimeout, cfg.FetchMaxBytes)
	if cfg.AllowPrivateFetches() {
		log.Warn("Source fetches may reach private networks (FETCH_ALLOW_PRIVATE)")
		reader.SetAllowPrivateHosts(true)
	}
	orch := agent.NewOrchestrator(llmAdapter, store, reader, cfg.MaxSourceURLs)
	authn := auth.New(cfg.JWTSecret, cfg.JWTExpiry)
	if !authn.Enabled() {
		log.Warn("JWT_SECRET is not set; authentication is disabled")
	}

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(orch, llmAdapter, store), authn, log)

	// Start server. WriteTimeout stays unset so SSE streams are not cut off.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// openStore connects the configured graph backend and makes sure its
// schema exists
func openStore(ctx context.Context, cfg *config.Config) (graph.Store, error) {
	if cfg.GraphBackend == config.GraphBackendMemory {
		logger.Get().Warn("Using the in-memory graph store; data is lost on restart")
		return graph.NewMemoryStore(), nil
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	// Verify Neo4j connection
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, apperrors.NewGraphConnectionFailed(cfg.Neo4jURI, err)
	}

	repo := graph.NewRepository(driver, cfg.Neo4jDatabase)
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close(ctx)
		return nil, err
	}
	return repo, nil
}

func newLLMAdapter(cfg *config.Config) *adapter.LLMAdapter {
	llm := adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ModelID)
	llm.SetExtractionModel(cfg.ExtractionModelID)
	llm.SetWebSearch(cfg.WebSearchEnabled, cfg.SearchModelID)
	return llm
}
