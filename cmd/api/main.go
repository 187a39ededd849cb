package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"jobrelay/internal/api"
	"jobrelay/internal/config"
	"jobrelay/internal/ratelimit"
	"jobrelay/internal/store"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	var st store.Store
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN, cfg.StrictTerminal)
		if err != nil {
			log.Error("connect postgres", "err", err)
			os.Exit(1)
		}
		if err := pg.RunMigrations(ctx); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
		st = pg
	} else {
		log.Warn("POSTGRES_DSN not set, using in-memory store")
		st = store.NewMemory(cfg.StrictTerminal)
	}
	defer st.Close()

	var limiter *ratelimit.TokenBucket
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	server := api.New(cfg, st, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info("api listening", "port", cfg.HTTPPort, "strict_terminal", cfg.StrictTerminal)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
