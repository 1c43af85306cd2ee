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
	"github.com/go-chi/jwtauth/v5"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/adapter"
	"github.com/heraldhq/herald/internal/api"
	"github.com/heraldhq/herald/internal/circuitbreaker"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/dispatch"
	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/observ"
	"github.com/heraldhq/herald/internal/queue"
	"github.com/heraldhq/herald/internal/redis"
	"github.com/heraldhq/herald/internal/service"
	"github.com/heraldhq/herald/internal/store"
)

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

	logger.Info("starting herald gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("queue_backend", cfg.QueueBackend),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := store.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	repo := store.NewRepository(database, logger)

	// Initialize Redis for idempotency and rate limiting
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
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})
		defer redisClient.Close()
	}

	// Delivery queue
	q, err := newDeliveryQueue(ctx, cfg, database, logger)
	if err != nil {
		return fmt.Errorf("failed to create delivery queue: %w", err)
	}
	defer q.Close()

	// Channel adapters, each wrapped in its own circuit breaker
	registry, err := newAdapterRegistry(ctx, cfg, repo, logger)
	if err != nil {
		return fmt.Errorf("failed to create channel adapters: %w", err)
	}

	// Dispatch engine
	engine := dispatch.New(repo, q, registry, dispatch.Config{
		Workers:     cfg.DispatchWorkers,
		MaxAttempts: cfg.DispatchMaxAttempts,
		BaseBackoff: cfg.DispatchBaseBackoff,
		MaxBackoff:  cfg.DispatchMaxBackoff,
	}, logger)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	engine.Start(engineCtx)
	logger.Info("dispatch engine started", zap.Int("workers", cfg.DispatchWorkers))

	// Periodically export queue depth for backends that can report it.
	go reportQueueDepth(engineCtx, q)

	svc := service.New(repo, q, logger)

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

	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, svc, idempotencyService)
	} else {
		handler = api.NewHandler(logger, svc)
	}

	tokenAuth := api.NewTokenAuth(cfg.JWTSecret)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		// Public reads
		r.Group(func(r chi.Router) {
			r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

			r.Get("/notifications", handler.ListNotifications)
			r.Get("/users", handler.ListUsers)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(tokenAuth))
			r.Use(api.Authenticator(tokenAuth))
			r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.UserKeyFunc))

			r.Post("/notifications", handler.CreateNotification)
			r.Get("/notifications/user", handler.ListUserNotifications)
			r.Patch("/notifications/mark-read", handler.MarkAllRead)
			r.Get("/notifications/unread-count", handler.UnreadCount)
			r.Delete("/notifications", handler.DeleteNotification)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
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

		// Stop the workers and let in-flight deliveries settle.
		engineCancel()
		engine.Wait()

		logger.Info("server stopped gracefully")
	}

	return nil
}

func newDeliveryQueue(ctx context.Context, cfg *config.Config, database *store.DB, logger *zap.Logger) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case "sqs":
		return queue.NewSQS(ctx, queue.SQSConfig{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
	case "memory":
		return queue.NewMemory(1024, logger), nil
	default:
		return queue.NewPostgres(database.Pool(), queue.PostgresConfig{
			PollInterval: 2 * time.Second,
			Lease:        2 * time.Minute,
		}, logger), nil
	}
}

func newAdapterRegistry(ctx context.Context, cfg *config.Config, directory adapter.Directory, logger *zap.Logger) (*adapter.Registry, error) {
	var adapters []adapter.Adapter

	email, err := adapter.NewEmail(ctx, adapter.EmailConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, directory, logger)
	if err != nil {
		if cfg.Env != "development" {
			return nil, fmt.Errorf("create email adapter: %w", err)
		}
		logger.Warn("SES unavailable, using log adapter for email", zap.Error(err))
		adapters = append(adapters, adapter.NewLog(store.ChannelEmail, logger))
	} else {
		adapters = append(adapters, email)
	}

	sms, err := adapter.NewSMS(ctx, adapter.SMSConfig{
		Region: cfg.SNSRegion,
	}, directory, logger)
	if err != nil {
		if cfg.Env != "development" {
			return nil, fmt.Errorf("create sms adapter: %w", err)
		}
		logger.Warn("SNS unavailable, using log adapter for sms", zap.Error(err))
		adapters = append(adapters, adapter.NewLog(store.ChannelSMS, logger))
	} else {
		adapters = append(adapters, sms)
	}

	push, err := adapter.NewPush(ctx, adapter.PushConfig{
		Region:   cfg.SNSRegion,
		TopicARN: cfg.PushTopicARN,
	}, logger)
	if err != nil {
		if cfg.Env != "development" {
			return nil, fmt.Errorf("create push adapter: %w", err)
		}
		logger.Warn("SNS unavailable, using log adapter for push", zap.Error(err))
		adapters = append(adapters, adapter.NewLog(store.ChannelPush, logger))
	} else {
		adapters = append(adapters, push)
	}

	protected := make([]adapter.Adapter, 0, len(adapters))
	for _, a := range adapters {
		name := fmt.Sprintf("adapter-%s", a.Channel())
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(name), logger)
		protected = append(protected, circuitbreaker.Protect(a, breaker, logger))
	}

	return adapter.NewRegistry(protected...), nil
}

func reportQueueDepth(ctx context.Context, q queue.Queue) {
	type depther interface {
		Depth(ctx context.Context) (int64, error)
	}
	type lener interface {
		Len() int
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch v := q.(type) {
			case depther:
				if depth, err := v.Depth(ctx); err == nil {
					metrics.SetQueueDepth(depth)
				}
			case lener:
				metrics.SetQueueDepth(int64(v.Len()))
			}
		}
	}
}
