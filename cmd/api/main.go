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

	"docvault/api/internal/app"
	"docvault/api/internal/cache"
	"docvault/api/internal/config"
	"docvault/api/internal/docs"
	"docvault/api/internal/obs"
	"docvault/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	obs.Init()

	var permStore store.PermissionStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		permStore = store.NewPostgresStore(db, cfg.AuditTrailMax)
	} else {
		log.Printf("DATABASE_URL not set, using in-memory permission store")
		permStore = store.NewMemoryStore(cfg.AuditTrailMax)
	}

	directory := docs.NewMemoryDirectory(docs.SeedDemoDocuments()...)

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis record cache")
		recordCache, err := cache.NewRecordCache(cfg.RedisURL, cfg.RecordCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer recordCache.Close()
		service = app.NewWithCache(permStore, directory, recordCache)
	} else {
		service = app.New(permStore, directory)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("DocVault API listening on %s", cfg.Addr)
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
