// Command assistant wires the pipeline and runs it as a long-lived process.
// Transport adapters live elsewhere; this binary exposes only the metrics
// endpoint.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"dbvybe-backend/internal/assembler"
	"dbvybe-backend/internal/classify"
	"dbvybe-backend/internal/config"
	"dbvybe-backend/internal/engine"
	"dbvybe-backend/internal/extract"
	"dbvybe-backend/internal/graph"
	"dbvybe-backend/internal/knowledge"
	"dbvybe-backend/internal/llm"
	"dbvybe-backend/internal/observability"
	"dbvybe-backend/internal/orchestrator"
	"dbvybe-backend/internal/registry"
	"dbvybe-backend/internal/sanitize"
	"dbvybe-backend/internal/vector"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewCollector("dbvybe")

	vectors, err := vector.NewQdrantIndex(cfg.Vector, logger)
	if err != nil {
		logger.Fatal("vector store init failed", zap.Error(err))
	}
	if err := vectors.EnsureCollection(ctx); err != nil {
		logger.Warn("vector collection not ready, continuing degraded", zap.Error(err))
	}

	graphs, err := graph.NewNeo4jIndex(cfg.Graph, logger)
	if err != nil {
		logger.Fatal("graph store init failed", zap.Error(err))
	}

	memory, err := llm.NewMemory()
	if err != nil {
		logger.Fatal("conversation memory init failed", zap.Error(err))
	}

	driver := engine.NewMultiDriver(logger)
	cache := knowledge.NewCache()
	model := llm.NewOpenAIClient(cfg.LLM, logger)

	svc := orchestrator.NewService(orchestrator.Deps{
		Registry:   registry.New(logger),
		Cache:      cache,
		Extractor:  extract.NewService(driver.Relational(), driver.Document(), logger),
		Vectors:    vectors,
		Embedder:   vector.NewHashingEmbedder(),
		Graphs:     graphs,
		Assembler:  assembler.NewService(graphs, cfg.Orchestrator.TopK, logger),
		Classifier: classify.NewService(cache, model, logger),
		Model:      model,
		Memory:     memory,
		Sanitizer:  sanitize.NewService(logger),
		Driver:     driver,
		Metrics:    metrics,
	}, cfg.Orchestrator, logger)

	svc.ReconcileIndexes(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: ":9091", Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("assistant ready",
		zap.String("environment", cfg.Environment),
		zap.Bool("vector_degraded", vectors.Degraded()),
		zap.Bool("graph_degraded", graphs.Degraded()))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
	driver.Close(shutdownCtx)
	if err := vectors.Close(); err != nil {
		logger.Warn("vector store close failed", zap.Error(err))
	}
	if err := graphs.Close(shutdownCtx); err != nil {
		logger.Warn("graph store close failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
