package api

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mailroute/core/internal/api/handlers"
	"github.com/mailroute/core/internal/api/middleware"
	"github.com/mailroute/core/internal/config"
	"github.com/mailroute/core/internal/payment"
	"github.com/mailroute/core/internal/services"
	"github.com/mailroute/core/internal/storage"
	"github.com/mailroute/core/internal/transport"
	"gorm.io/gorm"
)

// forwardBannerText is appended to forwarded messages when enabled
const forwardBannerText = "This message was forwarded by MailRoute."

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *middleware.APIKeyManager, error) {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Initialize API key manager
	apiKeyManager, err := middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	// Outbound mail transport
	mailer, err := buildMailer(cfg)
	if err != nil {
		return nil, nil, err
	}

	// Payment provider client; nil disables session creation so the VIP
	// gate fails open on protected addresses
	var checkout payment.CheckoutClient
	if cfg.PaymentBaseURL != "" {
		checkout = payment.NewHTTPCheckoutClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey, nil)
	}

	rawStore := storage.NewFileStore(cfg.GetRawMailBaseDir())

	// Initialize services
	logService := services.NewLogServiceWithLevel(db, cfg.LogLevel)
	emailService := services.NewEmailService(db)
	deliveryService := services.NewDeliveryService(db, logService)
	resolverService := services.NewResolverService(db, logService)
	vipService := services.NewVipService(db, logService, checkout, mailer, cfg.ForwardFromAddress)

	banner := ""
	if cfg.ForwardBanner {
		banner = forwardBannerText
	}
	webhookDispatcher := services.NewWebhookDispatcher(db, logService, deliveryService, nil, cfg.WebhookUserAgent, cfg.WebhookTimeoutSeconds)
	forwardDispatcher := services.NewForwardDispatcher(db, logService, deliveryService, mailer, cfg.ForwardFromAddress, banner)
	routeService := services.NewRouteService(db, logService, resolverService, vipService, webhookDispatcher, forwardDispatcher, rawStore)

	// Start cleanup scheduler (sweep every hour)
	cleanupScheduler := services.NewCleanupScheduler(vipService, logService, time.Hour)
	cleanupScheduler.Start()

	// Initialize handlers
	inboundHandler := handlers.NewInboundHandler(routeService, logService)
	emailHandler := handlers.NewEmailHandler(emailService, deliveryService, logService)
	deliveryHandler := handlers.NewDeliveryHandler(deliveryService, vipService, logService)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api")
	{
		// Apply API key middleware to all API routes
		api.Use(middleware.APIKeyMiddleware(apiKeyManager))

		// Inbound ingestion
		api.POST("/inbound", inboundHandler.ProcessInbound)

		// Email routes
		emails := api.Group("/emails")
		{
			emails.GET("", emailHandler.ListEmails)
			emails.GET("/:id", emailHandler.GetEmail)
			emails.GET("/:id/thread", emailHandler.GetThread)
			emails.GET("/:id/attempts", emailHandler.GetDeliveryAttempts)
		}

		// Operational views
		api.GET("/deliveries", deliveryHandler.ListDeliveries)
		api.GET("/vip/sessions", deliveryHandler.ListVipSessions)
		api.GET("/logs", deliveryHandler.ListLogs)
	}

	return router, apiKeyManager, nil
}

// buildMailer constructs the configured outbound transport
func buildMailer(cfg *config.Config) (transport.Mailer, error) {
	if cfg.MailTransport == "ses" {
		return transport.NewSESMailer(context.Background(), transport.SESConfig{
			Region:          cfg.SESRegion,
			AccessKeyID:     cfg.SESAccessKey,
			SecretAccessKey: cfg.SESSecretKey,
		})
	}
	return transport.NewSMTPMailer(transport.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}), nil
}
