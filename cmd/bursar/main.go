package main

import (
	"context"
	"strings"

	"github.com/walidhousni/glavito-sub004/internal/analytics"
	"github.com/walidhousni/glavito-sub004/internal/audit"
	"github.com/walidhousni/glavito-sub004/internal/handlers"
	"github.com/walidhousni/glavito-sub004/internal/pricing"
	"github.com/walidhousni/glavito-sub004/internal/providers"
	"github.com/walidhousni/glavito-sub004/internal/wallet"
	"github.com/walidhousni/glavito-sub004/pkg/auth"
	"github.com/walidhousni/glavito-sub004/pkg/config"
	"github.com/walidhousni/glavito-sub004/pkg/database"
	"github.com/walidhousni/glavito-sub004/pkg/kafka"
	"github.com/walidhousni/glavito-sub004/pkg/logging"
	"github.com/walidhousni/glavito-sub004/pkg/monitoring"
	"github.com/walidhousni/glavito-sub004/pkg/server"
	"github.com/walidhousni/glavito-sub004/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Credit & Token Ledger)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if config.GetEnv("APPLY_SCHEMA", "false") == "true" {
		if err := database.ApplySchema(context.Background(), db, logger); err != nil {
			logger.WithError(err).Fatal("Failed to apply database schema")
		}
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
	}))

	// Create custom ledger metrics
	metrics := &handlers.BursarMetrics{
		CreditOperations:         metricsCollector.NewCounter("credit_operations_total", "Channel credit operations", []string{"operation", "status"}),
		TokenOperations:          metricsCollector.NewCounter("token_operations_total", "AI token operations", []string{"operation", "status"}),
		BalanceSyncs:             metricsCollector.NewCounter("balance_syncs_total", "Provider balance syncs", []string{"channel", "status"}),
		WebhookSignatureFailures: metricsCollector.NewCounter("webhook_signature_failures_total", "Webhook signature verification failures", []string{"provider"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Register provider balance clients for the channels that have credentials
	registry := providers.NewRegistry()
	if sid := config.GetEnv("TWILIO_ACCOUNT_SID", ""); sid != "" {
		registry.Register(providers.NewTwilioClient(providers.TwilioConfig{
			AccountSID: sid,
			AuthToken:  config.RequireEnv("TWILIO_AUTH_TOKEN"),
		}))
	}
	if token := config.GetEnv("META_ACCESS_TOKEN", ""); token != "" {
		metaCfg := providers.MetaConfig{
			AccessToken: token,
			BusinessID:  config.RequireEnv("META_BUSINESS_ID"),
		}
		registry.Register(providers.NewMetaClient(metaCfg, "whatsapp"))
		registry.Register(providers.NewMetaClient(metaCfg, "instagram"))
	}
	if key := config.GetEnv("SENDGRID_API_KEY", ""); key != "" {
		registry.Register(providers.NewSendGridClient(providers.SendGridConfig{APIKey: key}))
	}
	logger.WithField("channels", registry.Channels()).Info("Registered balance providers")
	healthChecker.AddCheck("providers", monitoring.ProviderRegistryHealthCheck(registry.Channels()))

	// Optional Kafka audit trail
	var emitter *audit.Emitter
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		producer, err := kafka.NewKafkaProducer(strings.Split(brokers, ","), "bursar", logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka producer unavailable, audit events disabled")
		} else {
			defer producer.Close()
			healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
			emitter = audit.NewEmitter(producer, logger)
		}
	}

	walletService := wallet.NewService(db, logger, pricing.DefaultTable(), registry, emitter)
	analyticsEngine := analytics.NewEngine(db, pricing.DefaultTable(), logger)

	// Initialize handlers
	handlers.Init(db, logger, metrics, walletService, analyticsEngine)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/billing/ prefix)
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			// Channel credit endpoints
			protected.GET("/credits/balances", handlers.GetCreditBalances)
			protected.POST("/credits/:channel/sync", handlers.SyncChannelBalance)
			protected.POST("/credits/:channel/purchase", handlers.PurchaseCredits)
			protected.POST("/credits/:channel/checkout", handlers.CreateCreditCheckout)
			protected.GET("/credits/transactions", handlers.GetCreditTransactions)
			protected.GET("/credits/summary", handlers.GetCreditsSummary)
			protected.GET("/credits/usage-breakdown", handlers.GetUsageBreakdown)

			// AI token endpoints
			protected.GET("/tokens/balance", handlers.GetTokenBalance)
			protected.POST("/tokens/deduct", handlers.DeductTokens)
			protected.POST("/tokens/add", handlers.AddTokens)
			protected.POST("/tokens/checkout", handlers.CreateTokenCheckout)
			protected.GET("/tokens/transactions", handlers.GetTokenTransactions)
			protected.GET("/tokens/summary", handlers.GetTokenSummary)
		}

		// Webhook endpoints (no auth required)
		router.POST("/webhooks/stripe", handlers.HandleStripeWebhook)

		// Usage ingestion endpoints (service-to-service)
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/usage/record", handlers.RecordUsage)
			serviceAPI.POST("/usage/refund", handlers.RefundUsage)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
