// Cabinetd is a retrieval daemon for marketplace seller cabinets.
//
// It extracts a cabinet's records (orders, products, stocks, reviews,
// sales) from the operational database, renders them into text chunks,
// embeds them via an OpenAI-compatible provider and stores them in a
// vector store. LLM prompts are then enriched with the most relevant
// cabinet data over HTTP.
//
// Usage:
//
//	# Start with defaults (embedded chromem store, sqlite next to the binary)
//	cabinetd
//
//	# Start with a config file
//	cabinetd -config /etc/cabinetd/config.yaml
//
//	# Override via environment
//	SERVER_PORT=9090 VECTORSTORE_PROVIDER=qdrant cabinetd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/marketlabs/cabinetd/internal/chunk"
	"github.com/marketlabs/cabinetd/internal/config"
	"github.com/marketlabs/cabinetd/internal/contextbuilder"
	"github.com/marketlabs/cabinetd/internal/embeddings"
	"github.com/marketlabs/cabinetd/internal/enrich"
	"github.com/marketlabs/cabinetd/internal/http"
	"github.com/marketlabs/cabinetd/internal/indexer"
	"github.com/marketlabs/cabinetd/internal/logging"
	"github.com/marketlabs/cabinetd/internal/records"
	"github.com/marketlabs/cabinetd/internal/search"
	"github.com/marketlabs/cabinetd/internal/status"
	"github.com/marketlabs/cabinetd/internal/telemetry"
	"github.com/marketlabs/cabinetd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cabinetd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("cabinetd: %v", err)
	}
}

// run wires all components and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting cabinetd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
	)

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	db, err := sqlx.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	if cfg.Database.Driver == "sqlite" {
		// modernc sqlite returns SQLITE_BUSY under write concurrency;
		// a single connection serializes access instead.
		db.SetMaxOpenConns(1)
	}

	store, err := vectorstore.NewStore(cfg.VectorStore, logger.Underlying())
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	defer func() { _ = store.Close() }()

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:           cfg.Embeddings.BaseURL,
		Model:             cfg.Embeddings.Model,
		APIKey:            cfg.Embeddings.APIKey.Value(),
		Timeout:           cfg.Embeddings.Timeout.Duration(),
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("initializing embedding service: %w", err)
	}

	generator, err := embeddings.NewGenerator(embedder, embeddings.GeneratorConfig{
		BatchSize:  cfg.Indexing.BatchSize,
		MaxRetries: cfg.Indexing.MaxRetries,
		BaseDelay:  cfg.Indexing.BaseDelay.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing embedding generator: %w", err)
	}

	tracker, err := status.NewTracker(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("initializing status tracker: %w", err)
	}

	extractor, err := records.NewExtractor(db, cfg.Indexing.WindowDays, logger)
	if err != nil {
		return fmt.Errorf("initializing extractor: %w", err)
	}

	idx, err := indexer.New(extractor, chunk.NewBuilder(), generator, store, tracker, indexer.Config{
		SkipUnchanged: cfg.Indexing.SkipUnchanged,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing indexer: %w", err)
	}

	searcher, err := search.NewSearcher(embedder, store, nil, search.Config{
		SimilarityThreshold: cfg.Search.SimilarityThreshold,
		Limit:               cfg.Search.Limit,
		TemporalMultiplier:  cfg.Search.TemporalMultiplier,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing searcher: %w", err)
	}

	ctxBuilder, err := contextbuilder.NewBuilder(cfg.Search.MaxContextLength)
	if err != nil {
		return fmt.Errorf("initializing context builder: %w", err)
	}

	enricher, err := enrich.NewEnricher(searcher, ctxBuilder, enrich.Config{
		Enabled: cfg.Search.Enabled,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing enricher: %w", err)
	}

	srv, err := http.NewServer(idx, tracker, enricher, logger, http.Config{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		APIKey: cfg.Server.APIKey.Value(),
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info(context.Background(), "shutdown complete")
	return nil
}
