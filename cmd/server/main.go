package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/api"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/config"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/dispatch"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/mailer"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/metrics"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/pkg/logger"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/repository/memory"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/repository/postgres"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/service/campaign"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactEnabled())

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	metrics.SetGlobal(metrics.New())

	// Repository backend
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
		logger.Info("storage initialized", "driver", "postgres")
	case "memory":
		repo = memory.NewCampaignRepo()
		logger.Warn("storage initialized", "driver", "memory", "note", "state is lost on restart")
	default:
		log.Fatalf("Unknown storage driver: %s", cfg.Storage.Driver)
	}

	// Redis is optional; without it dispatch locking falls back to PG
	// advisory locks (or process-local with the memory driver).
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, dispatch locks fall back", "addr", cfg.Redis.Addr, "error", err.Error())
			redisClient = nil
		} else {
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
		pingCancel()
	}

	transport, err := mailer.New(context.Background(), cfg.Mailer)
	if err != nil {
		log.Fatalf("Failed to initialize mail transport: %v", err)
	}
	logger.Info("mail transport initialized", "driver", transport.Name())

	engine := dispatch.New(repo, transport, redisClient, db, dispatch.Config{
		TrackingBaseURL: cfg.Tracking.BaseURL,
		DeliverTimeout:  cfg.Mailer.Timeout(),
		LockTTL:         cfg.Dispatch.LockTTL(),
	})

	svc := campaign.NewService(repo, engine)
	server := api.NewServer(cfg.Server, svc)

	// Pick campaigns stranded in sending by a previous process back up
	// before accepting new traffic.
	if err := engine.ResumeInterrupted(context.Background()); err != nil {
		logger.Warn("resume of interrupted campaigns failed", "error", err.Error())
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		logger.Info("api server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err.Error())
	}

	// Interrupted dispatch runs leave their campaigns in sending; the next
	// start resumes them.
	engine.Stop()

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("server stopped")
}
