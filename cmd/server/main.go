// Package main is the entry point for the Trackfolio personal investment
// tracker. It serves a REST API over a single sqlite database: a transaction
// ledger with an always-consistent cash balance, a holdings projection
// derived from the ledger, and a live price feed with REST fallback.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omerros/trackfolio/internal/cache"
	"github.com/omerros/trackfolio/internal/config"
	"github.com/omerros/trackfolio/internal/database"
	"github.com/omerros/trackfolio/internal/modules/balance"
	"github.com/omerros/trackfolio/internal/modules/holdings"
	holdingshandlers "github.com/omerros/trackfolio/internal/modules/holdings/handlers"
	"github.com/omerros/trackfolio/internal/modules/ledger"
	ledgerhandlers "github.com/omerros/trackfolio/internal/modules/ledger/handlers"
	"github.com/omerros/trackfolio/internal/modules/users"
	usershandlers "github.com/omerros/trackfolio/internal/modules/users/handlers"
	"github.com/omerros/trackfolio/internal/pricefeed"
	"github.com/omerros/trackfolio/internal/server"
	"github.com/omerros/trackfolio/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Trackfolio")

	// Single database: ledger, users and the holdings projection share one
	// file so cross-aggregate writes commit in one sqlite transaction.
	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileLedger,
		Name:    "trackfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Repositories
	userRepo := users.NewRepository(db.Conn(), log)
	ledgerRepo := ledger.NewRepository(db.Conn(), log)
	holdingsRepo := holdings.NewRepository(db.Conn(), log)

	// Price feed. Without credentials the stream stays down and quotes come
	// from the REST fallback only.
	prices := pricefeed.NewClient(pricefeed.Config{
		StreamURL: cfg.AlpacaStreamURL,
		DataURL:   cfg.AlpacaDataURL,
		APIKey:    cfg.AlpacaAPIKey,
		APISecret: cfg.AlpacaAPISecret,
	}, log)

	if cfg.AlpacaAPIKey != "" && cfg.AlpacaAPISecret != "" {
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := prices.Connect(connectCtx); err != nil {
			log.Warn().Err(err).Msg("Price stream unavailable, continuing with REST fallback")
		}
		connectCancel()
	} else {
		log.Warn().Msg("Alpaca credentials not configured, price stream disabled")
	}

	// Read-through caches with a background janitor
	userCache := cache.New("users", cfg.UserCacheTTL, log)
	txnCache := cache.New("transactions", cfg.TransactionCacheTTL, log)
	janitor := cache.NewJanitor(log, userCache, txnCache)
	janitor.Start()

	// Services
	holdingsService := holdings.NewService(holdingsRepo, ledgerRepo, prices, log)

	cashPolicy := balance.CashPolicyIgnore
	if cfg.RecalcCashOnUpdate {
		cashPolicy = balance.CashPolicyRecompute
	}
	coordinator := balance.NewCoordinator(
		db.Conn(),
		ledgerRepo,
		userRepo,
		holdingsService,
		cache.NewInvalidator(userCache, txnCache),
		cashPolicy,
		log,
	)

	// HTTP handlers
	ledgerHandler := ledgerhandlers.NewHandler(coordinator, ledgerRepo, holdingsService, prices, txnCache, log)
	portfolioHandler := holdingshandlers.NewHandler(holdingsService, log)
	usersHandler := usershandlers.NewHandler(userRepo, userCache, log)
	systemHandlers := server.NewSystemHandlers(log, prices, userCache, txnCache)

	srv := server.New(server.Config{
		Log:       log,
		DB:        db,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Ledger:    ledgerHandler,
		Portfolio: portfolioHandler,
		Users:     usersHandler,
		System:    systemHandlers,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	janitor.Stop()

	if err := prices.Disconnect(); err != nil {
		log.Error().Err(err).Msg("Error disconnecting price feed")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
