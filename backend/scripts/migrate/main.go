package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"bimoi/backend/internal/graph"
	"bimoi/backend/pkg/config"
	"bimoi/backend/pkg/logger"
)

func main() {
	force := flag.Bool("force", false, "Force migration even if already applied")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting Neo4j schema migration...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()
	driver, err := graph.NewDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}

	repo := graph.NewRepository(driver, graph.WithDatabase(cfg.Neo4jDatabase))
	defer repo.Close()

	if err := repo.EnsureSchema(ctx, *force); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}

	log.Info("Migration completed successfully!", zap.String("version", graph.SchemaVersion))
}
