package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arturoeanton/go-repoflow/internal/adapter/ai"
	"github.com/arturoeanton/go-repoflow/internal/adapter/store"
	"github.com/arturoeanton/go-repoflow/internal/adapter/vcs"
	"github.com/arturoeanton/go-repoflow/internal/handler"
	"github.com/arturoeanton/go-repoflow/internal/ingest"
	"github.com/arturoeanton/go-repoflow/internal/jobs"
	"github.com/arturoeanton/go-repoflow/internal/mcp"
	"github.com/arturoeanton/go-repoflow/internal/middleware"
	"github.com/arturoeanton/go-repoflow/internal/port"
	"github.com/arturoeanton/go-repoflow/internal/service"
	"github.com/arturoeanton/go-repoflow/pkg/config"
)

const version = "1.0.0"

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	slog.Info("🚀 Starting RepoFlow",
		"port", cfg.Port,
		"ai_provider", cfg.AIProvider,
		"source_provider", cfg.SourceProvider,
		"mcp_enabled", cfg.MCPEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────
	pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	if cfg.AutoMigrate {
		if err := pgStore.Migrate(ctx, cfg.EmbeddingDimension); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	vectorStore := store.NewVectorStore(pgStore, cfg.EmbeddingDimension)

	// ── Adapters ─────────────────────────────────────────────────────────
	intelligence := newIntelligence(cfg)
	source := newSource(cfg, logger)

	// ── Ingestion core ───────────────────────────────────────────────────
	filter, err := ingest.NewFilter(cfg.IgnorePatterns...)
	if err != nil {
		slog.Error("invalid ignore patterns", "error", err)
		os.Exit(1)
	}
	loader := ingest.NewLoader(source, filter, cfg.GitHubHost, logger)
	pipeline := ingest.NewPipeline(intelligence, cfg.PipelineConfig(), logger)
	writer := ingest.NewWriter(vectorStore, cfg.WriterConfig(), logger)

	tracker := jobs.NewTracker()
	queue := jobs.NewQueue(cfg.Workers, cfg.QueueSize, logger)
	queue.Start()

	// ── Services ─────────────────────────────────────────────────────────
	commitService := service.NewCommitService(source, intelligence, pgStore, pgStore, pgStore, cfg.CommitConfig(), logger)
	ingestionService := service.NewIngestionService(service.IngestionDeps{
		Loader:     loader,
		Pipeline:   pipeline,
		Writer:     writer,
		Embeddings: vectorStore,
		Projects:   pgStore,
		Jobs:       tracker,
		Queue:      queue,
		Commits:    commitService,
		Audit:      pgStore,
		Logger:     logger,
	})
	projectService := service.NewProjectService(pgStore, ingestionService, logger)
	ragService := service.NewRAGService(intelligence, vectorStore, pgStore, pgStore, cfg.RAGConfig(), logger)

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:     cfg.AppName,
		ReadTimeout: 30 * time.Second,
		// SSE answers and progress streams outlive a plain request
		WriteTimeout: 0,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", middleware.ActorHeader},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))

	// Audit middleware (logs all requests)
	app.Use(middleware.AuditMiddleware(middleware.AuditConfig{
		Writer:    pgStore,
		SkipPaths: []string{"/metrics", "/api/v1/health"},
		Logger:    logger,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// ── Routes ───────────────────────────────────────────────────────────
	api := app.Group("/api/v1")

	handler.NewHealthHandler(cfg.AppName, version, pgStore).Register(api)
	handler.NewProjectHandler(projectService).Register(api)
	handler.NewJobsHandler(ingestionService, tracker, 0).Register(api)
	handler.NewCommitHandler(commitService).Register(api)
	handler.NewRAGHandler(ragService, cfg.AnswerTimeout).Register(api)
	handler.NewAuditHandler(pgStore).Register(api)

	// ── MCP Server (separate port) ───────────────────────────────────────
	var mcpServer *mcp.Server
	if cfg.MCPEnabled {
		mcpServer = mcp.NewServer("repoflow", version, mcp.Deps{
			Questions: ragService,
			Ingestion: ingestionService,
			Projects:  projectService,
			Commits:   commitService,
			Audit:     pgStore,
			Logger:    logger,
		})
		go func() {
			if err := mcpServer.Start(":" + cfg.MCPPort); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	go func() {
		slog.Info("🌐 Fiber listening", "port", cfg.Port)
		if err := app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if mcpServer != nil {
		if err := mcpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("MCP shutdown failed", "error", err)
		}
	}
	// running ingestions settle their project status before exiting
	if err := queue.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("task queue shutdown failed", "error", err)
	}
}

func newIntelligence(cfg *config.Config) port.IntelligenceProvider {
	opts := ai.Options{Dimension: cfg.EmbeddingDimension, SummaryMaxChars: cfg.SummaryMaxChars}
	if cfg.AIProvider == "openai" {
		return ai.NewOpenAIProvider(ai.OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			EmbedModel:     cfg.OpenAIEmbedModel,
			FastModel:      cfg.OpenAIFastModel,
			ReasoningModel: cfg.OpenAIReasoningModel,
		}, opts)
	}
	return ai.NewOllamaProvider(
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaEmbedURL,
			Model:   cfg.OllamaEmbedModel,
			Token:   cfg.OllamaEmbedToken,
		},
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaChatURL,
			Model:   cfg.OllamaChatModel,
			Token:   cfg.OllamaChatToken,
		},
		ai.OllamaEndpointConfig{Model: cfg.OllamaReasoningModel},
		opts,
	)
}

func newSource(cfg *config.Config, logger *slog.Logger) port.SourceProvider {
	if cfg.SourceProvider == "git" {
		return vcs.NewGitProvider(vcs.GitConfig{
			BasePath:     cfg.CloneBasePath,
			Token:        cfg.GitHubToken,
			Concurrency:  cfg.LoaderWorkers,
			MaxFileBytes: cfg.MaxFileBytes,
		}, logger)
	}
	return vcs.NewGitHubProvider(vcs.GitHubConfig{
		APIURL:       cfg.GitHubAPIURL,
		Token:        cfg.GitHubToken,
		Branch:       cfg.GitHubBranch,
		Concurrency:  cfg.LoaderWorkers,
		MaxFileBytes: cfg.MaxFileBytes,
	}, logger)
}
