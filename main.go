package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/downloader"
	"github.com/hunyaochong/ads-cloner/internal/fetcher"
	"github.com/hunyaochong/ads-cloner/internal/notify"
	"github.com/hunyaochong/ads-cloner/internal/objectstore"
	"github.com/hunyaochong/ads-cloner/internal/pipeline"
	"github.com/hunyaochong/ads-cloner/internal/progress"
	"github.com/hunyaochong/ads-cloner/internal/server"
	"github.com/hunyaochong/ads-cloner/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	gin.SetMode(cfg.Server.GinMode)
	logger := log.Default()

	// Initialize record store
	store, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize storage:", err)
	}
	defer store.Close()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize object store
	objects, err := objectstore.New(cfg.ObjectStore)
	if err != nil {
		log.Fatal("Failed to initialize object store:", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		log.Fatal("Failed to prepare object store:", err)
	}

	mediaFetcher, err := fetcher.New(cfg.Fetcher)
	if err != nil {
		log.Fatal("Failed to initialize fetcher:", err)
	}

	// Download pipeline and worker
	hub := notify.NewHub(logger)
	worker := downloader.NewWorker(
		store,
		pipeline.New(mediaFetcher, objects, cfg.Worker.TempDir, logger),
		progress.NewAggregator(store, logger),
		cfg.Worker.ItemDelay,
		downloader.WithNotifier(hub),
		downloader.WithLogger(logger),
	)

	opts := server.Options{Feed: notify.NewHandler(hub, logger), Logger: logger}
	if local, ok := objects.(*objectstore.LocalStore); ok {
		opts.MediaDir = local.BaseDir
	}
	httpServer := server.NewServer(cfg.Server, store, worker, opts)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go hub.Run(ctx)

	// Start HTTP server
	go func() {
		log.Printf("Starting HTTP server on port %d (storage=%s, object store=%s, fetcher=%s)",
			cfg.Server.Port, cfg.Storage.Type, cfg.ObjectStore.Type, cfg.Fetcher.Type)
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Resume pending downloads
	go func() {
		log.Println("Starting download worker")
		if err := worker.Run(ctx, cfg.Worker.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Download worker error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutdown signal received, gracefully shutting down...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	cancel() // Stop the resume loop and the live feed

	// The ad in flight runs to completion; the rest stay pending for the next start
	worker.Stop()
	if err := worker.Wait(shutdownCtx); err != nil {
		log.Printf("Download queue still active at shutdown: %v", worker.Status())
	}
	log.Println("Shutdown complete")
}
