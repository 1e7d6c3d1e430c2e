package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"threadnote/backend/internal/graph"
	"threadnote/backend/pkg/config"
	apperrors "threadnote/backend/pkg/errors"
	"threadnote/backend/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

func main() {
	force := flag.Bool("force", false, "Reapply the schema even if already applied")
	reset := flag.Bool("reset", false, "Delete all threads, nodes and sessions before migrating")
	flag.Parse()

	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting Neo4j schema migration...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.GraphBackend != config.GraphBackendNeo4j {
		log.Info("Graph backend is not Neo4j; nothing to migrate", zap.String("backend", cfg.GraphBackend))
		return
	}
	if *reset && cfg.IsProduction() {
		log.Fatal("Refusing to reset a production graph")
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	defer driver.Close(context.Background())

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(apperrors.NewGraphConnectionFailed(cfg.Neo4jURI, err)))
	}

	repo := graph.NewRepository(driver, cfg.Neo4jDatabase)

	if *reset {
		if err := repo.Reset(ctx); err != nil {
			log.Fatal("Reset failed", zap.Error(err))
		}
	}

	if !*force && !*reset {
		applied, err := repo.MigrationApplied(ctx, graph.SchemaVersion)
		if err != nil {
			log.Fatal("Failed to check migration status", zap.Error(err))
		}
		if applied {
			log.Info("Migration already applied. Use -force to reapply.", zap.String("version", graph.SchemaVersion))
			os.Exit(0)
		}
	}

	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}

	if err := repo.MarkMigrationApplied(ctx, graph.SchemaVersion, "Thread, node, counter and chat session constraints"); err != nil {
		log.Warn("Failed to mark migration as applied", zap.Error(err))
	}

	log.Info("Migration completed successfully!", zap.String("version", graph.SchemaVersion))
}
