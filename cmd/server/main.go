package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/client"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/snapshot"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
	"github.com/stemsi/exstem-session/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("snapshot_driver", cfg.SnapshotDriver).
		Str("retry_queue", cfg.RetryQueue).
		Msg("Starting ExStem Session Agent")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect Backing Stores ────────────────────────────────────────
	// Redis is shared by the snapshot store and the retry queue, so it is
	// dialled once when either needs it.
	var rdb *redis.Client
	if cfg.SnapshotDriver == config.SnapshotDriverRedis || cfg.RetryQueue == "redis" {
		var err error
		rdb, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
	}

	store, closeStore, err := snapshot.Open(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open snapshot store")
	}
	defer closeStore()

	// ─── Initialize Backend Clients ────────────────────────────────────
	api := client.New(cfg.ExamAPIURL, cfg.ExamAPITimeout, log)
	questions := client.NewQuestionClient(api)
	submitter := client.NewSubmissionClient(api)

	// ─── Retry Queue ───────────────────────────────────────────────────
	var queue worker.Queue = worker.NewMemoryQueue()
	if cfg.RetryQueue == "redis" {
		queue = worker.NewRedisQueue(rdb, log)
	}

	// ─── Session Manager ───────────────────────────────────────────────
	hub := ws.NewHub(log)
	manager := session.NewManager(session.Deps{
		Store:     store,
		Questions: questions,
		Submitter: submitter,
		Retry:     queue,
		Observer:  hub,
	}, session.Options{
		AutosaveInterval: cfg.AutosaveInterval,
		MaxSnapshotAge:   cfg.SnapshotMaxAge,
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(manager, store, log),
		WS:      handler.NewWSHandler(manager, hub, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	retryWorker := worker.NewSubmitRetryWorker(queue, submitter, store, manager, cfg.RetryMaxAttempts, cfg.RetryBackoff, log)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		retryWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(cfg, handlers, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Save and stop every open attempt so it can be resumed on relaunch.
	manager.CloseAll(shutdownCtx)

	// 3. Stop the retry worker and wait for it to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Retry worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
