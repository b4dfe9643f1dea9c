// cmd/listingd/main.go
// Package main implements the entry point for the listing service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/blob"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/cache"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/config"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/event"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/listing"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/schema"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/server"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/storage"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/telemetry"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/token"
)

// main initializes all components, starts the HTTP server, and handles
// graceful shutdown.
func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	_, err = telemetry.InitTracer("listing-service")
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	// Initialize storage backend (PostgreSQL or in-memory)
	var repo storage.Repository
	if cfg.DatabaseDSN != "" {
		repo, err = storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("failed to initialize postgres storage", "error", err)
			os.Exit(1)
		}
	} else {
		// In-memory storage for development/testing
		repo = storage.NewMemory()
	}
	defer repo.Close()

	// KV tier shared by the token manager and the schema resolver
	kv := cache.NewMemory()

	// Durable blob tier for raw schema documents: S3-compatible store when
	// configured, local disk otherwise
	var blobs blob.Store
	if cfg.S3Bucket != "" {
		blobs, err = blob.NewS3(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			logger.Error("failed to initialize s3 blob store", "error", err)
			os.Exit(1)
		}
	} else {
		blobs = blob.NewDisk(cfg.SchemaCacheDir)
	}

	tokens := token.NewManager(cfg, kv)
	for _, problem := range tokens.ValidateConfiguration() {
		logger.Warn("marketplace credential problem", "problem", problem)
	}

	resolver := schema.NewResolver(cfg, tokens, kv, blobs)

	// Event publisher (NATS JetStream or no-op)
	pub := event.NewPublisher(cfg.NATSURL)
	defer pub.Close()

	engine := listing.NewEngine(cfg, resolver, repo, pub)

	// HTTP mux with all handlers and middleware
	mux := server.NewMux(engine, resolver, tokens, repo, nil, cfg.JWTIssuer, cfg.JWTAudience)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start server in a separate goroutine
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "marketplace", cfg.MarketplaceID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
