package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docingest/internal/cache"
	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/database"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/embedding"
	"github.com/nikhilbhutani/docingest/internal/extraction"
	"github.com/nikhilbhutani/docingest/internal/indexing"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/internal/queue/workers"
	"github.com/nikhilbhutani/docingest/internal/storage"
	"github.com/nikhilbhutani/docingest/internal/vectorstore"
	"github.com/nikhilbhutani/docingest/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error("storage unavailable", "error", err)
		os.Exit(1)
	}

	ocr, err := vision.New(ctx, cfg.LLM)
	if err != nil {
		slog.Error("vision backend unavailable", "error", err)
		os.Exit(1)
	}

	strategies := []extraction.Strategy{
		extraction.FastParser{},
		extraction.NewNativeParser(cfg.Extraction.NativeParserCommand),
		extraction.Docconv{Readability: true},
		extraction.PlainText{},
	}
	if ocr != nil {
		strategies = append(strategies,
			extraction.NewVision(ocr),
			extraction.NewChunkedVision(ocr, cfg.Extraction.VisionChunkMaxBytes, cfg.Extraction.VisionChunkConcurrency),
		)
		slog.Info("vision extraction enabled", "backend", ocr.Name())
	} else {
		slog.Warn("vision extraction disabled; scanned PDFs will be marked needs_ocr")
	}
	chain := extraction.NewChain(cfg.Extraction, strategies...)

	queueClient := queue.NewClient(cfg.Redis, cfg.Jobs)
	defer queueClient.Close()

	var embedder embedding.Embedder = embedding.NewService(cfg.LLM.OpenAIKey, cfg.LLM.EmbeddingModel)
	if cfg.LLM.EmbeddingCacheTTL > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		embedder = embedding.NewCached(embedder, cache.NewCache(rdb, "embedding:"), cfg.LLM.EmbeddingModel, cfg.LLM.EmbeddingCacheTTL)
	}

	store := document.NewPostgresStore(db)
	vectors := vectorstore.NewPgVectorStore(db)
	indexer := indexing.NewIndexer(embedder, vectors, cfg.Indexing.ChunkSize)
	dispatcher := indexing.NewDispatcher(store, queueClient, vectors, cfg.Indexing)

	processWorker := workers.NewProcessWorker(store, blobs, cfg.Storage.Bucket, chain, dispatcher, cfg.Jobs)
	ragWorker := workers.NewRAGIndexWorker(store, indexer, cfg.Jobs)
	v2Worker := workers.NewIndexV2Worker(store, dispatcher, cfg.Jobs)
	unitWorker := workers.NewIndexUnitWorker(store, indexer, cfg.Jobs)

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeDocumentProcess, asynq.HandlerFunc(processWorker.ProcessTask))
	registry.Register(queue.TypeRAGIndex, asynq.HandlerFunc(ragWorker.ProcessTask))
	registry.Register(queue.TypeIndexV2, asynq.HandlerFunc(v2Worker.ProcessTask))
	registry.Register(queue.TypeIndexPriority, asynq.HandlerFunc(unitWorker.ProcessPriority))
	registry.Register(queue.TypeIndexBatch, asynq.HandlerFunc(unitWorker.ProcessBatch))

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	srv := queue.NewServer(cfg.Redis, cfg.Jobs)
	slog.Info("starting worker", "concurrency", cfg.Jobs.Concurrency)
	if err := srv.Start(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	srv.Shutdown()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}
	slog.Info("worker stopped")
}
