package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"oncall/internal/audit"
	"oncall/internal/config"
	"oncall/internal/queue"
	"oncall/internal/store"
)

// Worker drains audit entries published by the API into the audit log file.
func main() {
	cfg := config.Load()
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if cfg.IsProduction() {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying", "addr", cfg.RedisAddr)
	}

	recorder, err := audit.NewFileRecorder(cfg.AuditLogPath)
	if err != nil {
		log.Error("audit log init failed", "error", err)
		os.Exit(1)
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	n, err := audit.Drain(ctx, q, recorder, cfg.Location(), log)
	if err != nil {
		log.Error("queue consume failed", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped", "recorded", n)
}
