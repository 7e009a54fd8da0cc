// Origin Chat - website assistant and conversation console server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/itorigin/origin-chat/internal/agent"
	"github.com/itorigin/origin-chat/internal/api"
	"github.com/itorigin/origin-chat/internal/archive"
	"github.com/itorigin/origin-chat/internal/config"
	"github.com/itorigin/origin-chat/internal/feed"
	"github.com/itorigin/origin-chat/internal/identity"
	"github.com/itorigin/origin-chat/internal/metrics"
	"github.com/itorigin/origin-chat/internal/middleware"
	"github.com/itorigin/origin-chat/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.DBDriver)

	repo, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected")

	broker := feed.NewBroker(64)
	defer broker.Close()

	// The chat endpoint stays mounted without a provider and answers 503.
	var processor agent.Processor
	if cfg.AssistantEnabled() {
		client, err := agent.NewOpenAIClient(agent.OpenAIClientConfig{
			APIKey:       cfg.Assistant.APIKey,
			BaseURL:      cfg.Assistant.BaseURL,
			Model:        cfg.Assistant.Model,
			SystemPrompt: cfg.Assistant.SystemPrompt,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize assistant client", "error", err)
			os.Exit(1)
		}
		processor = client
		slog.Info("Assistant enabled", "model", cfg.Assistant.Model)
	} else {
		slog.Info("Assistant disabled (OPENAI_API_KEY not set)")
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig(cfg.ConversationLog), logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	svc := agent.NewService(repo, processor,
		agent.WithPublisher(broker),
		agent.WithConversationLogger(conversationLogger),
		agent.WithMaxContextTurns(cfg.Chat.MaxContextTurns),
		agent.WithLogger(logger),
	)
	chatHandler := agent.NewHandler(svc,
		agent.NewRateLimiter(cfg.Chat.RateLimitRequests, cfg.Chat.RateLimitWindow),
		agent.HandlerConfig{MaxBodyBytes: cfg.Chat.MaxBodyBytes, StreamTimeout: cfg.Chat.StreamTimeout},
	)
	defer chatHandler.Close()

	healthHandler := api.NewHealthHandler(repo, 5*time.Second)
	healthHandler.AddCheck("assistant", cfg.AssistantEnabled)
	healthHandler.AddCheck("admin", cfg.AdminEnabled)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(metrics.Middleware)
	r.Use(middleware.CORS(cfg.CORSOrigins()))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", metrics.Handler())
	chatHandler.RegisterRoutes(r)

	if cfg.AdminEnabled() {
		conversations := api.NewConversationHandler(repo, broker)
		feedHandler := feed.NewWebSocketHandler(broker, originHosts(cfg.CORSOrigins()))
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(identity.RequireAdmin(cfg.AdminAPIToken))
			conversations.RegisterRoutes(r)
			r.Get("/feed", feedHandler.ServeHTTP)
		})
		slog.Info("Admin console enabled")
	} else {
		slog.Info("Admin console disabled (ADMIN_API_TOKEN not set)")
	}

	// SSE replies can run for minutes, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Archive.InactiveAfter > 0 {
		archive.NewSweeper(repo, cfg.Archive.InactiveAfter, broker).StartWorker(ctx, cfg.Archive.SweepInterval)
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// originHosts turns CORS origins into websocket host patterns.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			hosts = append(hosts, o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
