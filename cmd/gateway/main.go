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
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/api"
	"github.com/lalithlochan/cirrus/internal/category"
	"github.com/lalithlochan/cirrus/internal/circuitbreaker"
	"github.com/lalithlochan/cirrus/internal/config"
	"github.com/lalithlochan/cirrus/internal/db"
	"github.com/lalithlochan/cirrus/internal/decision"
	"github.com/lalithlochan/cirrus/internal/digest"
	"github.com/lalithlochan/cirrus/internal/metrics"
	"github.com/lalithlochan/cirrus/internal/observ"
	"github.com/lalithlochan/cirrus/internal/prefs"
	"github.com/lalithlochan/cirrus/internal/redis"
	"github.com/lalithlochan/cirrus/internal/sqs"
	"github.com/lalithlochan/cirrus/internal/unsubscribe"
	"github.com/lalithlochan/cirrus/internal/worker"
)

// preferenceStore is the surface both storage backends implement.
type preferenceStore interface {
	Get(ctx context.Context, userID string) (*prefs.Preferences, error)
	GetOrCreate(ctx context.Context, userID string) (*prefs.Preferences, error)
	UpdateGlobal(ctx context.Context, userID string, upd prefs.GlobalUpdate) (*prefs.Preferences, error)
	UpdateCategory(ctx context.Context, userID, categoryID string, upd prefs.CategoryUpdate) (*prefs.CategoryPreference, error)
	UpdateQuietHours(ctx context.Context, userID string, upd prefs.QuietHoursUpdate) (*prefs.QuietHours, error)
	UpdateDigest(ctx context.Context, userID string, upd prefs.DigestUpdate) (*prefs.DigestSettings, error)
	FindByToken(ctx context.Context, token string) (*prefs.Preferences, error)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting cirrus gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("digest_sender", cfg.DigestSender),
	)

	ctx := context.Background()
	registry := category.NewRegistry()

	// Initialize preference storage
	var store preferenceStore
	switch cfg.StoreBackend {
	case "postgres":
		dbConfig := db.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}

		database, err := db.New(ctx, dbConfig, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		logger.Info("database connection established",
			zap.String("host", cfg.DBHost),
			zap.Int("port", cfg.DBPort),
			zap.String("database", cfg.DBName),
		)

		store = db.NewPrefStore(database, registry, logger)
	default:
		logger.Warn("using in-memory preference store, data will not survive restarts")
		store = prefs.NewMemoryStore(registry, logger)
	}

	// Initialize Redis for idempotency, rate limiting, and the digest queue
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	var queue digest.Queue
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.UnsubscribeRateLimit,
			Window: cfg.UnsubscribeRateWindow,
		})
		queue = redis.NewDigestQueue(redisClient, logger)
		defer redisClient.Close()
	} else {
		logger.Warn("using in-memory digest queue, pending digests will not survive restarts")
		queue = digest.NewMemoryQueue()
	}

	engine := decision.New(store, logger)
	resolver := unsubscribe.NewResolver(store, registry, logger)

	// Pick the digest delivery path
	var sender worker.DigestSender
	switch cfg.DigestSender {
	case "ses":
		recipient, err := worker.TemplateRecipient(cfg.DigestRecipientTemplate)
		if err != nil {
			return fmt.Errorf("invalid DIGEST_RECIPIENT_TEMPLATE: %w", err)
		}

		sesSender, err := worker.NewSESSender(ctx, worker.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, recipient, logger)
		if err != nil {
			return fmt.Errorf("failed to create SES digest sender: %w", err)
		}

		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger)
		sender = circuitbreaker.NewProtectedSender(sesSender, breaker, logger)
	case "sqs":
		producer, err := sqs.NewProducer(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create SQS digest producer: %w", err)
		}
		sender = producer
	default:
		sender = worker.NewLogSender(logger)
	}

	w := worker.New(store, queue, sender, worker.Config{
		PollInterval: cfg.DigestPollInterval,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go w.Start(workerCtx)

	logger.Info("digest worker started",
		zap.Duration("poll_interval", cfg.DigestPollInterval),
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, registry, store, engine, resolver, queue, idempotencyService)
	} else {
		handler = api.NewHandler(logger, registry, store, engine, resolver, queue)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/categories", handler.ListCategories)
		r.Get("/categories/grouped", handler.ListCategoriesGrouped)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/preferences", handler.GetPreferences)
			r.Patch("/preferences", handler.UpdateGlobal)
			r.Patch("/preferences/categories/{categoryID}", handler.UpdateCategory)
			r.Patch("/preferences/quiet-hours", handler.UpdateQuietHours)
			r.Patch("/preferences/digest", handler.UpdateDigest)
			r.Get("/digest", handler.GetDigest)
			r.Delete("/digest", handler.ClearDigest)
		})

		r.Post("/decisions", handler.Decide)
		r.Post("/decisions/channels", handler.DecideChannels)
		r.Post("/digest/items", handler.EnqueueDigestItem)

		// The unsubscribe endpoint is unauthenticated, so it alone is
		// rate limited by client IP.
		r.Group(func(r chi.Router) {
			r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
			r.Post("/unsubscribe", handler.Unsubscribe)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
