package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wanna2play/wanna2play/internal/config"
	"github.com/wanna2play/wanna2play/internal/embeddings"
	"github.com/wanna2play/wanna2play/internal/games"
	"github.com/wanna2play/wanna2play/internal/logging"
	"github.com/wanna2play/wanna2play/internal/search"
	"github.com/wanna2play/wanna2play/internal/server"
	"github.com/wanna2play/wanna2play/internal/vectorindex"
)

func main() {
	reindexFlag := flag.Bool("reindex", false, "Re-embed every game into the vector index and exit")
	workers := flag.Int("workers", search.DefaultConcurrency, "Concurrent embedding requests during a reindex")
	flag.Parse()

	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.Configure(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger, *reindexFlag, *workers); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, logger *slog.Logger, reindexOnly bool, workers int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, kind, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("record store ready", "kind", kind)

	embedClient, err := embeddings.NewClient(embeddings.Options{
		Provider: cfg.EmbedProvider,
		BaseURL:  cfg.EmbedBaseURL,
		Model:    cfg.EmbedModel,
		APIKey:   cfg.EmbedAPIKey,
		Timeout:  cfg.EmbedTimeout,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if !embedClient.Enabled() {
		logger.Info("semantic search disabled, no embedding provider configured")
	}

	index := vectorindex.NewClient(vectorindex.Options{
		BaseURL:    cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		APIKey:     cfg.QdrantAPIKey,
		Timeout:    cfg.VectorTimeout,
		Logger:     logger,
	})
	if !index.Enabled() {
		logger.Info("vector indexing disabled, QDRANT_COLLECTION is empty")
	}

	searcher := search.NewSearcher(store, embedClient, index, search.Options{
		IndexTimeout: cfg.EmbedTimeout + cfg.VectorTimeout,
		Logger:       logger,
	})

	// A collection built for another model would reject every write.
	if err := searcher.CheckIndex(ctx); err != nil {
		return fmt.Errorf("vector index: %w", err)
	}

	if reindexOnly {
		stats, err := searcher.Reindex(ctx, workers)
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		logger.Info("reindex complete", "total", stats.Total, "indexed", stats.Indexed, "skipped", stats.Skipped)
		return nil
	}

	reindexFn := func() {
		if _, err := searcher.Reindex(ctx, workers); err != nil {
			logger.Error("reindex failed", "error", err)
		}
	}

	srv := server.New(cfg.Port, cfg.StaticDir, server.Deps{
		Searcher:   searcher,
		Store:      store,
		StoreKind:  kind,
		Embeddings: embedClient,
		Index:      index,
		ReindexFn:  reindexFn,
		Logger:     logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	searcher.Wait()

	logger.Info("goodbye")
	return nil
}

func openStore(ctx context.Context, cfg config.Server) (games.Store, string, error) {
	if cfg.DatabaseURL != "" {
		ps, err := games.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return ps, "postgres", nil
	}

	fs, err := games.OpenFileStore(cfg.DataDir)
	if err != nil {
		return nil, "", err
	}
	return fs, "file", nil
}
