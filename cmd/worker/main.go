package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"jobrelay/internal/client"
	"jobrelay/internal/config"
	"jobrelay/internal/telemetry"
	"jobrelay/internal/worker"
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

	api := client.New(cfg.APIURL)
	loop := worker.NewLoop(cfg, api, log)

	if cfg.ToolAPIURL != "" {
		tool := worker.NewToolAPIExecutor(cfg.ToolAPIURL)
		if err := tool.Health(ctx); err != nil {
			log.Warn("tool api health check failed", "err", err)
		} else {
			log.Info("tool api is healthy", "url", cfg.ToolAPIURL)
		}
		loop.SetDefaultExecutor(tool)
	} else {
		log.Warn("TOOL_API_URL not set, unregistered job types echo their input")
	}

	imageExec, err := worker.NewImageExecutor(ctx, cfg)
	if err != nil {
		log.Error("init image executor", "err", err)
		os.Exit(1)
	}
	loop.RegisterExecutor("image:resize", imageExec)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Error("metrics server stopped", "err", err)
		}
	}()

	log.Info("worker started",
		"api_url", cfg.APIURL,
		"poll_interval", cfg.PollInterval,
		"backoff_base", cfg.BackoffBase,
		"backoff_max", cfg.BackoffMax)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "err", err)
	}
}
