package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	v1 "certichain/certificate-portal/certificate-portal-backend/api/v1"
	"certichain/certificate-portal/certificate-portal-backend/internal/config"
	"certichain/certificate-portal/certificate-portal-backend/internal/database"
	"certichain/certificate-portal/certificate-portal-backend/internal/scheduler"
	"certichain/certificate-portal/certificate-portal-backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.json", "path to a JSON or YAML config file")
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Logging.Environment, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to database
	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api, err := v1.SetupCertificatesAPI(ctx, db, cfg, log)
	if err != nil {
		log.Fatal("Failed to set up certificate services", zap.Error(err))
	}

	worker, err := scheduler.NewRerenderScheduler(api.Issuer, log, scheduler.RerenderConfig{
		CronExpression: cfg.Workers.RerenderCron,
		GracePeriod:    cfg.Workers.GracePeriod.Std(),
		BatchSize:      cfg.Workers.BatchSize,
	})
	if err != nil {
		log.Fatal("Failed to create rerender scheduler", zap.Error(err))
	}

	if *once {
		n := worker.RunOnce(ctx)
		log.Info("Rerender pass finished", zap.Int("rendered", n))
		return
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := worker.Start(ctx); err != nil {
		log.Fatal("Worker error", zap.Error(err))
	}
	log.Info("Rerender worker started")

	<-sigChan
	log.Info("Shutdown signal received")
	cancel()
	worker.Stop()
	log.Info("Rerender worker stopped")
}
