package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kbhistory/internal/activity"
	"kbhistory/internal/app"
	"kbhistory/internal/archive"
	"kbhistory/internal/config"
	"kbhistory/internal/items"
	"kbhistory/internal/search"
	"kbhistory/internal/versioning"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	db, err := items.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := items.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	storeOpts := []versioning.Option{
		versioning.WithMaxVersions(cfg.MaxVersions),
		versioning.WithLogger(log.Default()),
	}
	if cfg.IndexBackend == "badger" {
		log.Printf("Using Badger for the version index")
		storeOpts = append(storeOpts, versioning.WithManifest(versioning.BadgerManifest))
	}
	versions, err := versioning.New(cfg.DataDir, storeOpts...)
	if err != nil {
		log.Fatalf("version store failed: %v", err)
	}
	defer versions.Close()

	service := app.New(cfg, items.NewPostgresStore(db), versions)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		feed, err := activity.NewRedisFeed(cfg.RedisURL, "kbhistory", cfg.ActivityLimit)
		if err != nil {
			log.Printf("WARNING: activity feed disabled: %v", err)
		} else {
			defer feed.Close()
			service.SetActivityFeed(feed)
		}
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewFallback(versions))
	searchService.Reindex(versions)
	service.SetSearch(searchService)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		bucket, err := archive.NewMinioBucket(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: archive disabled: %v", err)
		} else {
			archiver, err := archive.New(versions, bucket, archive.Options{
				Prefix:      cfg.ArchivePrefix,
				Concurrency: cfg.ArchiveConcurrency,
				BytesPerSec: cfg.ArchiveBytesPerSec,
				Logger:      log.Default(),
			})
			if err != nil {
				log.Fatalf("archive setup failed: %v", err)
			}
			service.SetArchiver(archiver)
		}
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("kbhistory API listening on %s (data dir %s)", cfg.Addr, versions.DataDir())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
