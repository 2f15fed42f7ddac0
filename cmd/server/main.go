package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/mvbarbosa/loanbook-api/internal/accrual"
	"github.com/mvbarbosa/loanbook-api/internal/auth"
	"github.com/mvbarbosa/loanbook-api/internal/contract"
	"github.com/mvbarbosa/loanbook-api/internal/database"
	"github.com/mvbarbosa/loanbook-api/internal/fx"
	"github.com/mvbarbosa/loanbook-api/internal/payment"
	"github.com/mvbarbosa/loanbook-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the loan book API server with graceful shutdown
// support. It sets up all required services, database connections, and API
// routes.
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DATABASE_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(auth.SecretFromEnv())
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Rate cache: redis when configured, in-process otherwise
	var cache fx.RateCache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisCache, err := fx.NewRedisCache(addr)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		cache = redisCache
	}

	fxService := fx.NewService(db, cache, nil)
	fxHandlers := fx.NewGinHandlers(fxService)

	contractService := contract.NewService(db, fxService)
	contractHandlers := contract.NewGinHandlers(contractService)

	paymentService := payment.NewService(db, fxService)
	paymentHandlers := payment.NewGinHandlers(paymentService)

	accrualService := accrual.NewService(db, fxService)
	accrualHandlers := accrual.NewGinHandlers(accrualService)

	// Create and start the PTAX sync processor
	currencies := ptaxCurrencies()
	fxProcessor := fx.NewProcessor(fxService, currencies)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go fxProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, contractHandlers, paymentHandlers, accrualHandlers, fxHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// ptaxCurrencies returns the currency list the background sync keeps fresh.
// Override with a comma-separated PTAX_CURRENCIES value.
func ptaxCurrencies() []string {
	if raw := os.Getenv("PTAX_CURRENCIES"); raw != "" {
		parts := strings.Split(raw, ",")
		currencies := make([]string, 0, len(parts))
		for _, p := range parts {
			if c := strings.TrimSpace(p); c != "" {
				currencies = append(currencies, strings.ToUpper(c))
			}
		}
		return currencies
	}
	return []string{"USD", "EUR"}
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Contract routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	contractHandlers *contract.GinHandlers,
	paymentHandlers *payment.GinHandlers,
	accrualHandlers *accrual.GinHandlers,
	fxHandlers *fx.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Contract routes
		contracts := v1.Group("/contracts")
		contracts.Use(middleware.JWTAuth())
		{
			contracts.POST("", contractHandlers.CreateContractHandler())
			contracts.GET("", contractHandlers.ListContractsHandler())
			contracts.GET("/:contract_id", contractHandlers.GetContractHandler())
			contracts.GET("/:contract_id/ledger", contractHandlers.GetLedgerHandler())
			contracts.GET("/:contract_id/balance", paymentHandlers.GetBalanceAtDateHandler())
			contracts.POST("/:contract_id/payments", paymentHandlers.ApplyPaymentHandler())
			contracts.GET("/:contract_id/payments", paymentHandlers.GetPaymentsHandler())
			contracts.GET("/:contract_id/schedule", accrualHandlers.GetScheduleHandler())
			contracts.GET("/:contract_id/accruals", accrualHandlers.GetAccrualsHandler())
			contracts.GET("/:contract_id/accruals/recalculated", accrualHandlers.GetRecalculatedHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/fx/sync", fxHandlers.SyncHandler())
		}
	}
}
