// Package main is the entry point for the inbox server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-inbox/internal/aggregate"
	"github.com/capitalize-ai/support-inbox/internal/client"
	"github.com/capitalize-ai/support-inbox/internal/config"
	"github.com/capitalize-ai/support-inbox/internal/handler"
	"github.com/capitalize-ai/support-inbox/internal/middleware"
	natsclient "github.com/capitalize-ai/support-inbox/internal/nats"
	"github.com/capitalize-ai/support-inbox/internal/service"
	"github.com/capitalize-ai/support-inbox/internal/tags"
	"github.com/capitalize-ai/support-inbox/pkg/logger"
	"github.com/capitalize-ai/support-inbox/pkg/tracing"
)

const maxCachedAgents = 1000

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.APIKey == "" {
		log.Warn("API_KEY is not set, agent platform requests will fail")
	}

	log.Info("Starting inbox server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "support-inbox", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("Failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Upstream clients
	conversations := client.NewConversationService(cfg.ConversationServiceURL,
		client.WithTimeout(cfg.UpstreamTimeout),
	)
	agents := client.NewAgentPlatform(cfg.AgentAPIURL, cfg.APIKey,
		client.WithTimeout(cfg.UpstreamTimeout),
	)

	resolver, err := aggregate.NewAgentResolver(agents, cfg.AgentCacheTTL, maxCachedAgents, log)
	if err != nil {
		log.Fatal("Failed to create agent cache", zap.Error(err))
	}
	defer resolver.Close()

	// Tag persistence
	tagStore, err := openTagStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open tag store", zap.Error(err), zap.String("backend", cfg.TagStore))
	}
	defer tagStore.Close()

	opts := []service.Option{service.WithAgents(resolver)}

	// Optional event fan-out over NATS
	var natsClient *natsclient.Client
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		publisher := natsclient.NewPublisher(natsClient)
		if err := publisher.EnsureStream(ctx); err != nil {
			log.Fatal("Failed to ensure stream", zap.Error(err))
		}
		opts = append(opts, service.WithPublisher(publisher))
	}

	// Inbox engine
	inbox := service.New(conversations, tagStore, engineConfig(cfg), log, opts...)
	if err := inbox.Start(ctx); err != nil {
		log.Fatal("Failed to start inbox", zap.Error(err))
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(readinessChecks(inbox, natsClient)...)
	gatewayHandler := handler.NewGatewayHandler(agents, conversations, cfg.APIKey, log)
	inboxHandler := handler.NewInboxHandler(inbox, log)
	streamHandler := handler.NewStreamHandler(inbox, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Gateway routes keep the paths the agent dashboard already calls.
	r.Group(gatewayHandler.Routes)

	// Inbox API with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/events", streamHandler.Stream)
		inboxHandler.Routes(r)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stopping the engine first closes open event streams so Shutdown does
	// not wait on them.
	inbox.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

func engineConfig(cfg *config.Config) service.Config {
	return service.Config{
		Conversations:    service.Schedule{Interval: cfg.ConversationsInterval, Stale: cfg.ConversationsStale},
		Messages:         service.Schedule{Interval: cfg.MessagesInterval, Stale: cfg.MessagesStale},
		Conversation:     service.Schedule{Interval: cfg.MetaInterval, Stale: cfg.MetaStale},
		Variables:        service.Schedule{Stale: cfg.VariablesStale},
		Feed:             service.Schedule{Interval: cfg.FeedInterval, Stale: cfg.FeedStale},
		MessageLimit:     cfg.MessageLimit,
		FeedMessageLimit: cfg.FeedMessageLimit,
		FeedParallelism:  cfg.FeedParallelism,
		PageSize:         cfg.PageSize,
	}
}

func openTagStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*tags.Store, error) {
	var backend tags.Backend
	switch cfg.TagStore {
	case "redis":
		backend = tags.NewRedisBackend(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), tags.DefaultRedisPrefix)
	case "memory":
		backend = tags.NewMemoryBackend()
	default:
		sqlite, err := tags.NewSQLiteBackend(tags.DSNForFile(cfg.TagSQLitePath))
		if err != nil {
			return nil, err
		}
		backend = sqlite
	}
	return tags.Open(ctx, backend, log)
}

func readinessChecks(inbox *service.InboxService, nc *natsclient.Client) []handler.Checker {
	checks := []handler.Checker{
		func() (bool, string) {
			return inbox.ListLoaded(), "conversation list not loaded"
		},
	}
	if nc != nil {
		checks = append(checks, func() (bool, string) {
			return nc.IsConnected(), "NATS not connected"
		})
	}
	return checks
}
