package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/shopkart/storefront-api/internal/api"
	"github.com/shopkart/storefront-api/internal/db"
	"github.com/shopkart/storefront-api/internal/events"
	"github.com/shopkart/storefront-api/internal/ident"
	"github.com/shopkart/storefront-api/internal/metrics"
	"github.com/shopkart/storefront-api/internal/notification"
	"github.com/shopkart/storefront-api/internal/services"
	"github.com/shopkart/storefront-api/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize OpenTelemetry metrics
	ctx := context.Background()
	appMetrics, meterProvider, err := metrics.InitMetrics(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down meter provider: %v", err)
		}
	}()

	// Initialize database
	database, err := db.NewDB(cfg.GetDSN(), cfg.OTELServiceName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Initialize schema
	schemaSQL, err := os.ReadFile("schema.sql")
	if err != nil {
		log.Printf("Warning: Could not read schema.sql: %v", err)
		log.Println("Assuming database schema already exists")
	} else {
		if err := database.InitSchema(ctx, string(schemaSQL)); err != nil {
			log.Printf("Warning: Could not initialize schema: %v", err)
			log.Println("Assuming database schema already exists")
		}
	}

	// ID generator
	ids, err := ident.New(cfg.SnowflakeNode)
	if err != nil {
		log.Fatalf("Failed to initialize ID generator: %v", err)
	}

	// Order confirmation email transport
	var mailer notification.Sender
	if cfg.SMTP.Host != "" {
		mailer = notification.NewSMTPSender(cfg.SMTP)
	} else {
		log.Println("SMTP not configured, order emails disabled")
	}

	// Order event stream
	var producer *events.Producer
	if cfg.KafkaBrokers != "" {
		producer = events.NewProducer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaOrderTopic)
		defer producer.Close()
	} else {
		log.Println("Kafka not configured, order events disabled")
	}

	// Upload directory for product images
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload directory: %v", err)
	}

	// Initialize services
	productService := services.NewProductService(database, ids, appMetrics)
	cartService := services.NewCartService(database, ids, appMetrics)
	checkoutService := services.NewCheckoutService(database, ids, appMetrics, mailer, producer)
	orderService := services.NewOrderService(database, appMetrics, mailer, producer)
	userService := services.NewUserService(database, ids, appMetrics)
	addressService := services.NewAddressService(database, ids, appMetrics)
	paymentService := services.NewPaymentMethodService(database, ids, appMetrics)

	// Initialize app
	app := api.NewApp(cfg, database, appMetrics,
		productService, cartService, checkoutService, orderService,
		userService, addressService, paymentService)

	// Setup router
	router := mux.NewRouter()
	app.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.AppPort)
		log.Printf("OTLP endpoint: %s", cfg.OTELExporterOTLPEndpoint)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
