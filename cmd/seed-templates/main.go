package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"certichain/certificate-portal/certificate-portal-backend/internal/config"
	"certichain/certificate-portal/certificate-portal-backend/internal/database"
	"certichain/certificate-portal/certificate-portal-backend/internal/templates"
	"certichain/certificate-portal/certificate-portal-backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.json", "path to a JSON or YAML config file")
	seedPath := flag.String("file", "seeds/templates.yaml", "seed file listing the templates")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Environment, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	seeds, err := templates.LoadSeeds(afero.NewOsFs(), *seedPath)
	if err != nil {
		log.Fatal("Failed to load seeds", zap.Error(err))
	}

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	created, updated, err := templates.ApplySeeds(context.Background(), templates.NewRepository(db), seeds, log)
	if err != nil {
		log.Fatal("Seeding failed", zap.Int("created", created), zap.Int("updated", updated), zap.Error(err))
	}
	log.Info("Templates seeded",
		zap.Int("created", created),
		zap.Int("updated", updated),
		zap.Int("unchanged", len(seeds)-created-updated))
}
