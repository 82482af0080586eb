// Package main is the entry point for the API server.
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
	"go.uber.org/zap"

	"github.com/cadencehq/agent-timeline/internal/config"
	"github.com/cadencehq/agent-timeline/internal/handler"
	"github.com/cadencehq/agent-timeline/internal/middleware"
	natsclient "github.com/cadencehq/agent-timeline/internal/nats"
	"github.com/cadencehq/agent-timeline/internal/service"
	"github.com/cadencehq/agent-timeline/internal/timeline"
	"github.com/cadencehq/agent-timeline/pkg/logger"
	"github.com/cadencehq/agent-timeline/pkg/tracing"
)

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

	log.Info("starting timeline API server")

	// Initialize tracing if enabled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "agent-timeline", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure the agent event stream exists
	eventStream := natsclient.NewEventStream(natsClient)
	if err := eventStream.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure event stream", zap.Error(err))
		os.Exit(1)
	}

	// Timeline store and services
	store := timeline.NewStore(cfg.MaxStreamingConversations)
	conversationSvc := service.NewConversationService(store, log)
	timelineSvc := service.NewTimelineService(store, eventStream, conversationSvc, cfg.BackfillPageSize, log)

	// Snapshot persistence is deployment-specific; the default saver just
	// records the save point.
	timelineSvc.SetSnapshotSaver(func(ctx context.Context, state *timeline.ConversationState) {
		log.Debug("snapshot save point",
			zap.String("conversation_id", state.ConversationID),
			zap.Int("timeline_length", len(state.Timeline)),
		)
	})

	// Live event consumer: every event reduced into conversation state
	// flows through here, in stream order.
	go func() {
		if err := eventStream.Consume(ctx, "timeline-api", timelineSvc.HandleEvent); err != nil && ctx.Err() == nil {
			log.Error("event consumer stopped", zap.Error(err))
		}
	}()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	stateHandler := handler.NewStateHandler(timelineSvc, log)
	streamHandler := handler.NewStreamHandler(timelineSvc, cfg.SSEHeartbeatInterval, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Open)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Close)

				// Streaming lifecycle
				r.Post("/stream/start", conversationHandler.StartStream)
				r.Post("/stream/stop", conversationHandler.StopStream)

				// Timeline state
				r.Get("/state", stateHandler.Get)
				r.Post("/state/earlier", stateHandler.LoadEarlier)
				r.Get("/watch", streamHandler.Watch)

				// Human-in-the-loop responses, capped per user on top of the
				// tenant limit so one user cannot exhaust the tenant budget.
				r.With(middleware.UserRateLimit(cfg.UserRateLimitRequests, cfg.RateLimitWindow)).
					Post("/hitl", stateHandler.RespondHITL)
			})
		})
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
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	cancel() // stops the event consumer

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
