package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/e-sathish/bulk-email-tool-sample0/internal/config"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/metrics"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/pkg/logger"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/repository/memory"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/repository/postgres"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/service/campaign"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/tracking"
)

// The tracking edge runs as its own process so open and click traffic never
// competes with the campaign API. It shares storage with the server; with
// the memory driver it only sees its own state, which is fine for local
// development on a single process but useless split across two.
func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactEnabled())

	metrics.SetGlobal(metrics.New())

	var (
		repo campaign.Repository
		db   *sql.DB
	)
	switch cfg.Storage.Driver {
	case "postgres":
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		if err := db.Ping(); err != nil {
			log.Fatalf("Failed to reach database: %v", err)
		}
		repo = postgres.NewCampaignRepo(db)
	case "memory":
		repo = memory.NewCampaignRepo()
		logger.Warn("tracking edge on memory storage sees no server state")
	default:
		log.Fatalf("Unknown storage driver: %s", cfg.Storage.Driver)
	}

	// No dispatcher here: this process only records opens and clicks.
	svc := campaign.NewService(repo, nil)
	handler := tracking.NewHandler(svc, cfg.Tracking.DefaultRedirectURL)

	router := chi.NewRouter()
	router.Use(metrics.HTTPMiddleware)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Tracking.Port),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tracking edge listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking edge")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	if db != nil {
		db.Close()
	}
}
