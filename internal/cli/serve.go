package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/delivery/http/handler"
	"github.com/user/patentscope-crawler/internal/delivery/http/router"
	"github.com/user/patentscope-crawler/internal/repository"
	"github.com/user/patentscope-crawler/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	checks := map[string]handler.Pinger{}
	cache, closeCache := openCache(ctx, cfg, log)
	defer closeCache()
	var recordCache repository.RecordCache
	if cache != nil {
		recordCache = cache
		checks["redis"] = cache
	}

	archive, closeArchive, err := openArchive(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeArchive()
	var recordRepo repository.RecordRepository
	if archive != nil {
		recordRepo = archive
		checks["postgres"] = archive
	}

	// --- Use Cases ---
	service := usecase.NewExtractionService(browserFactory(cfg, log), recordCache, recordRepo, usecase.ServiceConfig{
		Extractor:   extractorConfig(cfg),
		Pool:        poolConfig(cfg),
		PoolMaxSize: cfg.PoolMaxSize,
	}, log)
	defer func() {
		if err := service.Close(); err != nil {
			log.Warn("Failed to close browser session", zap.Error(err))
		}
	}()

	batches := usecase.NewBatchOrchestrator(
		usecase.NewDocumentItemRunner(service, cfg.CacheEnabled),
		usecase.OrchestratorConfig{MaxConcurrent: cfg.BatchMaxConcurrent},
		log,
	)
	go batches.RunJanitor(ctx, cfg.BatchCleanupInterval(), cfg.BatchMaxAge())

	// --- HTTP Server ---
	h := handler.NewHandler(service, batches, handler.Config{
		BaseContext: ctx,
		BatchMaxAge: cfg.BatchMaxAge(),
		Checks:      checks,
		PoolSize:    cfg.PoolSize,
		MaxPoolSize: cfg.PoolMaxSize,
	}, log)

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router.New(h, log),
		ReadTimeout: 5 * time.Second,
		// Extraction requests render pages with retries and may run for minutes.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	stop()
	h.Wait()
	return nil
}
