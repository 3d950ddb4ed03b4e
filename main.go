package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/cornermap/sync-service/internal/config"
	"github.com/cornermap/sync-service/internal/extract"
	"github.com/cornermap/sync-service/internal/geocode"
	"github.com/cornermap/sync-service/internal/ingestion"
	"github.com/cornermap/sync-service/internal/normalize"
	"github.com/cornermap/sync-service/internal/server"
	"github.com/cornermap/sync-service/internal/sources"
	"github.com/cornermap/sync-service/internal/storage"
)

func main() {
	// Local .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Local store is mandatory, remote store optional
	local, err := storage.NewLocalStore(cfg.Storage.LocalPath)
	if err != nil {
		log.Fatal("Failed to open local store:", err)
	}
	defer local.Close()

	remote, err := storage.NewRemote(cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize remote store:", err)
	}
	if remote != nil {
		defer remote.Close()
		log.Printf("Remote store enabled (%s)", cfg.Storage.RemoteType)
	} else {
		log.Println("No remote store configured, running local-only")
	}
	store := storage.NewStore(local, remote)

	extractor, err := extract.NewClient(cfg.Extract)
	if err != nil {
		log.Fatal("Failed to initialize extraction client:", err)
	}

	normalizer, err := normalize.New(cfg.Sync, extractor.IsItemURL)
	if err != nil {
		log.Fatal("Failed to initialize normalizer:", err)
	}

	var registry sources.Registry
	if remote != nil {
		registry = remote
	}
	provider := sources.NewProvider(registry, cfg.Sources)

	geocoder := geocode.NewResolver(cfg.Geocode, store.GeocodeCache())

	ingestor := ingestion.NewService(provider, extractor, normalizer, geocoder, store, cfg.Extract)

	httpServer := server.NewServer(cfg.Server, ingestor, store, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic full syncs on the configured schedule
	var scheduler *cron.Cron
	if cfg.Sync.Schedule != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.Sync.Schedule, func() {
			if _, err := ingestor.Sync(ctx); err != nil {
				log.Printf("Scheduled sync error: %v", err)
			}
		})
		if err != nil {
			log.Fatal("Invalid sync schedule:", err)
		}
		scheduler.Start()
		log.Printf("Scheduled syncs enabled: %q", cfg.Sync.Schedule)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.Server.Port)
		if err := httpServer.Start(); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	cancel()
	log.Println("Shutdown complete")
}
