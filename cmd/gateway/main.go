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

	"github.com/emlakpanel/pushgate/internal/api"
	"github.com/emlakpanel/pushgate/internal/circuitbreaker"
	"github.com/emlakpanel/pushgate/internal/config"
	"github.com/emlakpanel/pushgate/internal/db"
	"github.com/emlakpanel/pushgate/internal/dispatch"
	"github.com/emlakpanel/pushgate/internal/events"
	"github.com/emlakpanel/pushgate/internal/metrics"
	"github.com/emlakpanel/pushgate/internal/observ"
	"github.com/emlakpanel/pushgate/internal/provider"
	"github.com/emlakpanel/pushgate/internal/redis"
	"github.com/emlakpanel/pushgate/internal/sqs"
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

	logger.Info("starting pushgate gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
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

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for rate limiting and event de-duplication. The
	// gateway still serves dispatches without it.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting and event dedup disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var rateLimiter *redis.RateLimiter
	var deduper *redis.Deduper
	if redisClient != nil {
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 dispatches
			Window: 1 * time.Minute, // per minute per caller
		})
		deduper = redis.NewDeduper(redisClient, logger)
		defer redisClient.Close()
	}

	// Provider adapters share one HTTP client so the per-call timeout is
	// configured in a single place.
	providerHTTP := &http.Client{
		Timeout: time.Duration(cfg.ProviderTimeout) * time.Second,
	}

	onesignal := provider.NewOneSignal(provider.OneSignalConfig{
		AppID:      cfg.OneSignalAppID,
		RESTAPIKey: cfg.OneSignalRESTAPIKey,
	}, providerHTTP, logger)

	webPush := provider.NewWebPush(provider.VAPIDConfig{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subscriber: cfg.VAPIDEmail,
	}, providerHTTP, logger)

	wonderpush := provider.NewWonderPush(provider.WonderPushConfig{
		AppID:       cfg.WonderPushAppID,
		AccessToken: cfg.WonderPushAccessToken,
	}, providerHTTP, logger)

	logger.Info("provider adapters initialized",
		zap.Bool("onesignal_configured", onesignal.Ready() == nil),
		zap.Bool("webpush_configured", webPush.Ready() == nil),
		zap.Bool("wonderpush_configured", wonderpush.Ready() == nil),
	)

	dispatcher := dispatch.New(repo, logger)

	// Queue-driven event intake. Unlike the HTTP endpoints, this path sends
	// through a circuit breaker: a dead provider should not have the consumer
	// hammering it on every redelivery.
	if cfg.SQSQueueURL != "" {
		consumer, err := sqs.NewConsumer(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs consumer unavailable, event intake disabled",
				zap.Error(err),
			)
		} else {
			breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("onesignal"), logger)
			protected := circuitbreaker.NewProtectedProvider(onesignal, breaker, logger)

			// Keep the interface nil when redis is down; a typed nil would
			// slip past the handler's nil check.
			var dedup events.Deduper
			if deduper != nil {
				dedup = deduper
			}
			eventHandler := events.NewHandler(dispatcher, protected, dedup, logger)

			consumerCtx, consumerCancel := context.WithCancel(context.Background())
			defer consumerCancel()

			go consumer.Start(consumerCtx, eventHandler.HandleMessage)
		}
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.CORSMiddleware)

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
	handler := api.NewHandler(logger, dispatcher, repo, onesignal, webPush, wonderpush)

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.AuthMiddleware(cfg.DispatchToken, logger))
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.CallerKeyFunc))

		r.Post("/send-onesignal-notification", handler.SendOneSignalNotification)
		r.Post("/send-notification", handler.SendNotification)
		r.Post("/send-wonderpush-notification", handler.SendWonderPushNotification)
		r.Post("/create-onesignal-user", handler.CreateOneSignalUser)

		r.Post("/subscriptions", handler.UpsertSubscription)
		r.Delete("/subscriptions/{userID}", handler.DeleteSubscription)
		r.Get("/notification-logs", handler.ListNotificationLogs)
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
		WriteTimeout: 45 * time.Second,
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
