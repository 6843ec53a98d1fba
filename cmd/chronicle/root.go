package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fablecore/chronicle/internal/analyzer"
	"github.com/fablecore/chronicle/internal/api"
	"github.com/fablecore/chronicle/internal/config"
	"github.com/fablecore/chronicle/internal/dispatcher"
	"github.com/fablecore/chronicle/internal/embedding"
	"github.com/fablecore/chronicle/internal/indexer"
	"github.com/fablecore/chronicle/internal/store"
	"github.com/fablecore/chronicle/internal/synthesis"
	"github.com/fablecore/chronicle/internal/vector"
	"github.com/fablecore/chronicle/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "chronicle",
	Short: "Chronicle - Asynchronous Memory Maintenance Service",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Initialize vector index
	index, err := vector.NewChromemIndex(cfg.Vector.Path)
	if err != nil {
		return err
	}
	slog.Info("vector index initialized", "path", cfg.Vector.Path, "vectors", index.Count())

	// 6. Model-backed services
	embedder := embedding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model)
	synth := synthesis.NewOpenAI(cfg.Embedding.APIKey, cfg.Synthesis.Model,
		time.Duration(cfg.Synthesis.Timeout))
	analyzerCompleter := synthesis.NewOpenAI(cfg.Embedding.APIKey, cfg.Analyzer.Model,
		time.Duration(cfg.Analyzer.Timeout))
	slog.Info("model services initialized",
		"embedding_model", cfg.Embedding.Model,
		"synthesis_model", cfg.Synthesis.Model,
		"analyzer_model", cfg.Analyzer.Model,
	)

	// 7. Pipeline components
	compositeIndexer := indexer.NewCompositeIndexer(db, embedder, index, logger)
	turnAnalyzer := analyzer.NewTurnAnalyzer(analyzerCompleter, db, cfg.Analyzer.MaxKnownEntities, logger)
	taskDispatcher := dispatcher.NewDispatcher(db, logger)

	// 8. HTTP router
	handler := api.NewHandler(db, turnAnalyzer, taskDispatcher, embedder, index, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 9. Background workers
	notePool := worker.NewNoteUpdatePool(db, synth, compositeIndexer,
		cfg.Worker.NoteUpdateWorkers,
		time.Duration(cfg.Worker.PollInterval),
		cfg.Worker.MaxAttempts,
		cfg.Worker.MalformedMaxAttempts,
		time.Duration(cfg.Worker.BackoffBase),
	)
	creationPool := worker.NewEntityCreationPool(db, synth, embedder, index, compositeIndexer,
		worker.DedupPolicy{
			Enabled:             cfg.Deduplication.Enabled,
			SimilarityThreshold: float32(cfg.Deduplication.SimilarityThreshold),
		},
		cfg.Worker.CreationWorkers,
		time.Duration(cfg.Worker.PollInterval),
		cfg.Worker.MaxAttempts,
		time.Duration(cfg.Worker.BackoffBase),
	)
	indexRetry := worker.NewIndexRetryWorker(db, compositeIndexer,
		time.Duration(cfg.Worker.IndexRetryInterval),
		cfg.Worker.IndexRetryMaxAttempts,
		cfg.Worker.IndexRetryBatchSize,
	)
	reaper := worker.NewTaskReaper(db,
		time.Duration(cfg.Worker.ReapInterval),
		time.Duration(cfg.Worker.VisibilityTimeout),
	)

	var wg sync.WaitGroup
	startWorker(ctx, &wg, "note-update", notePool.Run)
	startWorker(ctx, &wg, "entity-creation", creationPool.Run)
	startWorker(ctx, &wg, "index-retry", indexRetry.Run)
	startWorker(ctx, &wg, "task-reaper", reaper.Run)

	// 10. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel() // Trigger shutdown on server failure
		}
	}()

	// 11. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 12. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 12a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 12b. Wait for workers to finish their in-flight tasks
	wg.Wait()

	// 12c. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
