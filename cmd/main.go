package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openregistry/tmbulk/internal/app"
	"github.com/openregistry/tmbulk/internal/clients/uspto"
	"github.com/openregistry/tmbulk/internal/data/db"
	"github.com/openregistry/tmbulk/internal/data/repos/catalog"
	httpAPI "github.com/openregistry/tmbulk/internal/http"
	httpH "github.com/openregistry/tmbulk/internal/http/handlers"
	"github.com/openregistry/tmbulk/internal/pipeline"
	"github.com/openregistry/tmbulk/internal/platform/logger"
	"github.com/openregistry/tmbulk/internal/schema"
	"github.com/openregistry/tmbulk/internal/services"
)

func main() {
	// Logger
	cfg := app.LoadConfig()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Manifest
	manifest, err := app.LoadManifest(cfg.ManifestPath)
	if err != nil {
		log.Warn("Product manifest not loaded, ingesting full catalog", "error", err)
		manifest = &app.Manifest{}
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = db.AutoMigrateAll(postgresService.DB()); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	productRepo := catalog.NewProductRepo(thePG, log)
	fileRepo := catalog.NewSourceFileRepo(thePG, log)
	batchRepo := catalog.NewBatchRepo(thePG, log)

	// Pipeline
	log.Info("Setting up pipeline from main...")
	registrar := schema.NewRegistrar(thePG, productRepo, log)
	commitEngine := pipeline.NewCommitEngine(thePG, fileRepo, batchRepo, cfg.RowErrorTolerance, log)
	resume := pipeline.NewResumeCoordinator(cfg, fileRepo, batchRepo, log)

	catalogClient, err := uspto.NewClient(log, cfg.HTTPTimeout, cfg.RetryBackoff)
	if err != nil {
		log.Error("Could not init catalog client", "error", err)
		os.Exit(1)
	}
	downloader := uspto.NewDownloader(log, cfg.DownloadDir, cfg.HTTPTimeout)
	runner := pipeline.NewRunner(cfg, fileRepo, batchRepo, resume, commitEngine, downloader, log)
	ingest := services.NewIngestService(cfg, manifest, catalogClient, productRepo, fileRepo, registrar, runner, log)

	// Monitoring API
	server := httpAPI.NewServer(httpAPI.RouterConfig{
		HealthHandler:  httpH.NewHealthHandler(),
		MonitorHandler: httpH.NewMonitorHandler(productRepo, fileRepo, log),
	})
	go func() {
		if err := server.Run(":" + cfg.HTTPPort); err != nil {
			log.Error("HTTP server exited", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ingest.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			log.Warn("Ingestion pass interrupted, progress is resumable", "error", err)
		} else {
			log.Error("Ingestion pass failed", "error", err)
		}
	} else {
		log.Info("Ingestion pass finished")
	}

	// Keep the monitoring API up until the operator stops the process.
	<-ctx.Done()
	log.Info("Shutting down")
}
