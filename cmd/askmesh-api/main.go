package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askmesh/askmesh/internal/api"
	"github.com/askmesh/askmesh/internal/api/uistatic"
	"github.com/askmesh/askmesh/internal/auth"
	"github.com/askmesh/askmesh/internal/chart"
	"github.com/askmesh/askmesh/internal/config"
	"github.com/askmesh/askmesh/internal/nl2sql"
	"github.com/askmesh/askmesh/internal/observability"
	duckdbdataset "github.com/askmesh/askmesh/internal/query/duckdb"
	"github.com/askmesh/askmesh/internal/query/sqldb"
	"github.com/askmesh/askmesh/internal/storage"
	s3store "github.com/askmesh/askmesh/internal/storage/s3"
	"github.com/askmesh/askmesh/internal/stream"
)

func main() {
	cfg, err := config.LoadFromEnv("askmesh-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	engine, closeEngine, err := openEngine(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to open dataset", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = closeEngine() }()

	schema := nl2sql.DefaultSchema()
	if cfg.AI.SchemaFile != "" {
		schema, err = nl2sql.LoadSchema(cfg.AI.SchemaFile)
		if err != nil {
			logger.Error("failed to load schema descriptor", slog.Any("error", err))
			os.Exit(1)
		}
	}
	translator, err := nl2sql.New(cfg.AI, schema)
	if err != nil {
		logger.Error("failed to initialize query translator", slog.Any("error", err))
		os.Exit(1)
	}

	options := stream.Options{
		Translator: translator,
		Engine:     engine,
		Visualizer: chart.NewRenderer(),
		Logger:     logger,
		Pacer:      stream.Pacing{Scale: cfg.Stream.PacingScale},
		RowLimit:   cfg.Dataset.RowLimit,
	}
	if cfg.AI.LiveSchema {
		options.Schema = engine
		options.SchemaSamples = cfg.Dataset.SchemaSamples
	}
	orchestrator, err := stream.NewOrchestrator(options)
	if err != nil {
		logger.Error("failed to initialize orchestrator", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:        logger,
		Asker:         orchestrator,
		QueryEngine:   engine,
		Schema:        engine,
		SchemaSamples: cfg.Dataset.SchemaSamples,
		Registry:      stream.NewRegistry(),
		UI:            uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabase(engine.DB()),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dataset_driver", cfg.Dataset.Driver),
			slog.String("ai_provider", cfg.AI.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// openEngine opens the configured dataset. DuckDB attaches csv and parquet
// files from a directory or the object store; sqlite and postgres query an
// existing database.
func openEngine(ctx context.Context, cfg config.Config) (*sqldb.Engine, func() error, error) {
	pool := sqldb.Config{
		Driver:          cfg.Dataset.Driver,
		DSN:             cfg.Dataset.DSN,
		MaxOpenConns:    cfg.Dataset.MaxOpenConns,
		MaxIdleConns:    cfg.Dataset.MaxIdleConns,
		ConnMaxIdleTime: cfg.Dataset.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Dataset.ConnMaxLifetime,
	}
	if cfg.Dataset.Driver != "duckdb" {
		db, err := sqldb.Open(ctx, pool)
		if err != nil {
			return nil, nil, err
		}
		return sqldb.NewEngine(db, cfg.Dataset.Driver), db.Close, nil
	}

	datasetCfg := duckdbdataset.Config{
		DSN:       cfg.Dataset.DSN,
		Directory: cfg.Dataset.Directory,
		Pool:      pool,
	}
	if cfg.ObjectStore.Enabled {
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		keys, err := duckdbdataset.ParseObjectKeys(cfg.Dataset.ObjectKeys)
		if err != nil {
			return nil, nil, err
		}
		datasetCfg.Store = store
		datasetCfg.ObjectKeys = keys
		datasetCfg.Prefix = storage.DatasetPrefix
	}
	dataset, err := duckdbdataset.Open(ctx, datasetCfg)
	if err != nil {
		return nil, nil, err
	}
	return dataset.Engine, dataset.Close, nil
}
