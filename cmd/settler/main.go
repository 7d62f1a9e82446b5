package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"updown-trading-go/internal/config"
	"updown-trading-go/internal/database"
	"updown-trading-go/internal/logger"
	"updown-trading-go/internal/notify"
	"updown-trading-go/internal/prices"
	"updown-trading-go/internal/settlement"
	"updown-trading-go/internal/storage"
	"updown-trading-go/internal/trading"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize market data client, notification hub and settlement engine
	priceClient := prices.NewClient(&cfg.Prices, log)
	hub := notify.NewHub(log)
	repo := storage.NewRepository(db)
	coordinator := settlement.NewCoordinator(log, db, priceClient, hub)
	scheduler := settlement.NewScheduler(log, &cfg.Settlement, repo, coordinator)
	service := trading.NewService(log, db, priceClient, scheduler)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Run the scheduler in the background. It reconciles overdue trades on
	// startup before the periodic sweeps begin.
	go scheduler.Run(ctx)

	// Setup the operational HTTP API
	mux := http.NewServeMux()
	opsHandler := NewOpsHandler(log, service, coordinator, repo, hub)

	mux.HandleFunc("/api/trades", opsHandler.TradesHandler)
	mux.HandleFunc("/api/balance", opsHandler.BalanceHandler)
	mux.HandleFunc("/api/trades/open", opsHandler.OpenTradeHandler)
	mux.HandleFunc("/api/trades/cancel", opsHandler.CancelHandler)
	mux.HandleFunc("/api/trades/override", opsHandler.OverrideHandler)
	mux.HandleFunc("/api/settle", opsHandler.SettleHandler)
	mux.HandleFunc("/api/events", opsHandler.EventsHandler)
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	log.Info("Starting settler API", zap.String("address", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("Settler API failed", zap.Error(err))
	}

	log.Info("Settler has been shut down.")
}
