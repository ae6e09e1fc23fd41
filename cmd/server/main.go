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

	"github.com/david/grant-discovery/internal/api"
	"github.com/david/grant-discovery/internal/config"
	"github.com/david/grant-discovery/internal/db"
	"github.com/david/grant-discovery/internal/ingest"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	store := db.NewStore(pool)

	registry, err := ingest.LoadRegistry(cfg.SourcesPath)
	if err != nil {
		log.Fatalf("Failed to load sources: %v", err)
	}
	profile, err := ingest.LoadProfile(cfg.ProfilePath)
	if err != nil {
		log.Fatalf("Failed to load profile: %v", err)
	}
	vocab, err := ingest.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		log.Fatalf("Failed to load vocabulary: %v", err)
	}

	fetcher := ingest.NewFetcher(cfg.Fetcher, cfg.FetchConfig())
	if closer, ok := fetcher.(interface{ Close() }); ok {
		defer closer.Close()
	}
	discoverer := ingest.NewDiscoverer(fetcher, vocab, profile)
	discoverer.Delay = cfg.SourceDelay

	srv := api.NewServer(store, api.Options{
		AdminSecret:    cfg.AdminSecret,
		JWTSecret:      cfg.JWTSecret,
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Runner: &ingest.Runner{
			Discoverer: discoverer,
			Persister:  ingest.NewPersister(store),
		},
		Registry: registry,
	})

	go func() {
		log.Printf("Server starting on port %s (%d active sources, fetcher=%s)...",
			cfg.Port, len(registry.Active()), cfg.Fetcher)
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
