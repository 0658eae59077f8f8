package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkflow-go/cashier/internal/services/billing/server"
	"github.com/linkflow-go/cashier/pkg/config"
	"github.com/linkflow-go/cashier/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("billing-service")
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log := logger.ForService(logger.New(cfg.Logger.ToLoggerConfig()), "billing-service")

	// Create and start server
	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to create server", "error", err)
	}

	// Start server in goroutine
	go func() {
		log.Info("Starting billing service", "port", cfg.Server.Port)
		if err := srv.Start(); err != nil {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down billing service...")

	timeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Billing service exited")
}
