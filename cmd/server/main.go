package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/shell/internal/config"
	"rollcall/shell/internal/dashboard"
	"rollcall/shell/internal/faceverify"
	"rollcall/shell/internal/identity"
	internalhttp "rollcall/shell/internal/http"
	"rollcall/shell/internal/jobs"
	"rollcall/shell/internal/session"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
	}

	var backend identity.Backend
	switch cfg.IdentityBackend {
	case "remote":
		backend = identity.NewRemote(cfg.IdentityBaseURL, cfg.IdentityTimeout)
	case "fake":
		backend = identity.NewSeededFake()
	default:
		log.Fatalf("unknown identity backend %q", cfg.IdentityBackend)
	}

	store := session.NewStore(backend, redisClient, cfg.SessionOpTimeout)
	store.Start(ctx)
	defer store.Close()

	verifier := faceverify.New(cfg.VerifyBaseURL, cfg.VerifyTimeout, cfg.VerifySimulate, cfg.VerifySuccessBias)
	dashboards := dashboard.NewProvider(redisClient, cfg.QRCodeTTL)

	server := internalhttp.NewServer(cfg, store, verifier, dashboards)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	jobs.StartIdentityRefreshJob(ctx, cfg, store)

	go func() {
		log.Printf("rollcall shell listening on %s (identity backend: %s)", cfg.HTTPAddr, cfg.IdentityBackend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
