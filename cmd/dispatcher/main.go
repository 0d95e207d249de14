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

	"github.com/coinpulse/herald/internal/api"
	"github.com/coinpulse/herald/internal/circuitbreaker"
	"github.com/coinpulse/herald/internal/config"
	"github.com/coinpulse/herald/internal/db"
	"github.com/coinpulse/herald/internal/dispatch"
	"github.com/coinpulse/herald/internal/metrics"
	"github.com/coinpulse/herald/internal/observ"
	"github.com/coinpulse/herald/internal/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting herald dispatcher",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	queueStore := db.NewQueueStore(database, logger)
	deliveryStore := db.NewDeliveryStore(database, logger)
	prefStore := db.NewPreferenceStore(database, logger)

	// Redis backs the quota ledger; without it the pipeline cannot enforce
	// channel quotas, so it is required rather than degraded.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	quotaLedger := redis.NewQuotaLedger(redisClient, logger)
	idempotencyService := redis.NewIdempotencyService(redisClient, logger)
	rateLimiter := redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
		Limit:  100,             // 100 requests
		Window: 1 * time.Minute, // per minute per producer
	})

	transport := buildTransport(ctx, cfg, logger)

	worker := dispatch.New(queueStore, prefStore, deliveryStore, quotaLedger, transport, dispatch.Config{
		PollInterval:   time.Duration(cfg.PollIntervalSec) * time.Second,
		BatchSize:      cfg.BatchSize,
		ReclaimTimeout: time.Duration(cfg.ReclaimTimeoutSec) * time.Second,
		PushPerHour:    cfg.PushPerHour,
		EmailPerHour:   cfg.EmailPerHour,
		SMSPerHour:     cfg.SMSPerHour,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go worker.Start(workerCtx)
	logger.Info("dispatch worker started")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

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

	handler := api.NewHandler(logger, queueStore, deliveryStore, idempotencyService)
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.ProducerKeyFunc))

		r.Post("/queue", handler.Enqueue)
		r.Get("/queue/{id}", handler.GetQueueItem)
		r.Get("/notifications", handler.ListNotifications)
		r.Get("/deliveries/{id}", handler.GetDelivery)
		r.Get("/stats", handler.Stats)
		r.Get("/quota", handler.QuotaUsage)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

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

// buildTransport assembles the outbound hand-off port from whatever
// providers are configured. Each adapter is wrapped in its own circuit
// breaker; in development everything falls back to the log transport.
func buildTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) dispatch.Transport {
	var transports []dispatch.Transport

	sesTransport, err := dispatch.NewSESTransport(ctx, dispatch.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES transport unavailable, email hand-off disabled", zap.Error(err))
	} else {
		transports = append(transports, circuitbreaker.NewProtectedTransport(
			sesTransport,
			circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger),
			logger,
		))
	}

	snsTransport, err := dispatch.NewSNSTransport(ctx, dispatch.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS transport unavailable, sms hand-off disabled", zap.Error(err))
	} else {
		transports = append(transports, circuitbreaker.NewProtectedTransport(
			snsTransport,
			circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger),
			logger,
		))
	}

	if cfg.PushQueueURL != "" {
		sqsTransport, err := dispatch.NewSQSTransport(ctx, dispatch.SQSConfig{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.PushQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("push relay transport unavailable, push hand-off disabled", zap.Error(err))
		} else {
			transports = append(transports, circuitbreaker.NewProtectedTransport(
				sqsTransport,
				circuitbreaker.New(circuitbreaker.DefaultConfig("push-relay"), logger),
				logger,
			))
		}
	}

	if len(transports) == 0 {
		logger.Info("no transports configured, using log transport")
		return dispatch.NewLogTransport(logger)
	}

	logger.Info("transport hand-off configured",
		zap.Int("adapters", len(transports)),
	)

	return dispatch.NewTransportRouter(logger, transports...)
}
