package main

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/bankfeed"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/events"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/handlers"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/metrics"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/poller"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/queue"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/security"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/store"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/websocket"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/auth"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/config"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/database"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/monitoring"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/server"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("herald")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Herald (Donation Alert Pipeline)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("herald", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("herald", version.Version, version.GitCommit)
	serviceMetrics := metrics.New(metricsCollector)

	// Database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.ApplySchema(schemaCtx, db, logger); err != nil {
		schemaCancel()
		logger.WithError(err).Fatal("Failed to apply database schema")
	}
	schemaCancel()

	transactionStore := store.NewTransactionStore(db, logger)
	securityStore := store.NewSecurityStore(db, logger)
	settingsStore := store.NewSettingsStore(db, logger)

	// Replay cache and rate limiter. Redis makes both shared across
	// replicas; without it they fall back to per-process memory.
	var (
		replayCache security.ReplayCache
		rateLimiter security.RateLimiter
		redisClient redis.UniversalClient
	)
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.WithError(err).Fatal("Invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		replayCache = security.NewRedisReplayCache(redisClient, security.DefaultNonceTTL)
		rateLimiter = security.NewRedisRateLimiter(redisClient, security.DefaultRateLimit, security.DefaultRateLimitWindow)
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
		logger.Info("Using Redis-backed replay cache and rate limiter")
	} else {
		memReplay := security.NewMemoryReplayCache(security.DefaultNonceTTL)
		defer memReplay.Stop()
		memLimiter := security.NewMemoryRateLimiter(security.DefaultRateLimit, security.DefaultRateLimitWindow)
		defer memLimiter.Stop()
		replayCache = memReplay
		rateLimiter = memLimiter
		logger.Info("Using in-memory replay cache and rate limiter")
	}

	authority := security.NewAuthority(securityStore, replayCache, rateLimiter, logger)

	// Alert queue and websocket hub reference each other, so the gateway is
	// attached after both exist.
	alertQueue := queue.NewManager(nil, settingsStore, logger, serviceMetrics)
	hub := websocket.NewHub(authority, alertQueue, logger, serviceMetrics)
	alertQueue.SetGateway(hub)
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional event publisher for downstream analytics
	var publisher *events.Publisher
	if brokersEnv := config.GetEnv("KAFKA_BROKERS", ""); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		clientID := config.GetEnv("KAFKA_CLIENT_ID", "herald")
		p, err := events.NewPublisher(brokers, clientID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize event publisher")
		}
		publisher = p
		defer publisher.Close()
		alertQueue.SetEventPublisher(publisher)
		healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(publisher.GetClient()))
	}

	// Bank feed poller
	feedBaseURL := config.GetEnv("BANK_FEED_URL", "")
	if feedBaseURL != "" {
		feedClient := bankfeed.NewClient(bankfeed.DefaultConfig(feedBaseURL), logger)
		pollerConfig := poller.Config{
			Interval:       config.GetEnvDuration("POLL_INTERVAL", poller.DefaultInterval),
			MaxConcurrency: config.GetEnvInt("POLL_MAX_CONCURRENCY", 8),
		}
		var eventSink poller.EventPublisher
		if publisher != nil {
			eventSink = publisher
		}
		feedPoller := poller.New(pollerConfig, feedClient, transactionStore, settingsStore, alertQueue, eventSink, logger, serviceMetrics)
		go feedPoller.Run(ctx)
	} else {
		logger.Warn("BANK_FEED_URL not set, transaction polling disabled")
	}

	// Health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbConfig.URL,
	}))

	// Handlers and routes
	jwtSecret := config.RequireEnv("JWT_SECRET")
	widgetBaseURL := config.GetEnv("WIDGET_BASE_URL", "http://localhost:18020")
	heraldHandlers := handlers.NewHeraldHandlers(hub, alertQueue, authority, securityStore, transactionStore, widgetBaseURL, logger, serviceMetrics)

	router := server.SetupServiceRouter(logger, "herald", healthChecker, metricsCollector)

	router.GET("/ws/alerts", func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})

	api := router.Group("/api")
	{
		api.POST("/alerts/:token/donation", heraldHandlers.TriggerDonation)
		api.POST("/alerts/:token/test", heraldHandlers.TriggerTest)
	}

	admin := router.Group("/api/tenants/:tenant_id")
	admin.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
	{
		admin.GET("/security", heraldHandlers.GetSecuritySettings)
		admin.PATCH("/security", heraldHandlers.UpdateSecuritySettings)
		admin.POST("/security/revoke", heraldHandlers.RevokeToken)
		admin.POST("/security/regenerate", heraldHandlers.RegenerateToken)
		admin.GET("/security/violations", heraldHandlers.ListViolations)
		admin.GET("/transactions", heraldHandlers.RecentTransactions)
		admin.GET("/donations/total", heraldHandlers.DonationTotal)
	}

	router.NoRoute(heraldHandlers.HandleNotFound)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("herald", "18020")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
