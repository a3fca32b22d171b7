package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/db"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/logging"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/api"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/audit"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/blobs"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/config"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/groups"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/render"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/signing"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store/memory"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store/postgres"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/tokens"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "listen address")
	flag.StringVar(&cfg.Storage, "storage", cfg.Storage, "storage backend: postgres or memory")
	flag.StringVar(&cfg.BlobBackend, "blobs", cfg.BlobBackend, "blob backend: s3 or memory")
	migrate := flag.Bool("migrate", true, "apply the embedded schema at startup")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrate, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, migrate bool, logger *zap.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer closeStore()

	b, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}

	dispatcher := webhooks.New(st, cfg.WebhookConfig(), logger)
	tm := tokens.New(st, logger, tokens.WithDefaultTTL(cfg.SignTokenTTL))
	chain := audit.New(b, st, logger)
	proc := signing.New(st, chain, b, render.New(cfg.RendererURL, cfg.RendererTimeout), dispatcher, logger)
	srv := api.New(api.Deps{
		Store:      st,
		Blobs:      b,
		Tokens:     tm,
		Processor:  proc,
		Chain:      chain,
		Groups:     groups.New(st, proc, tm, logger),
		Dispatcher: dispatcher,
		Logger:     logger,

		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	dispatcher.Start(workerCtx)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("storage", cfg.Storage), zap.String("blobs", cfg.BlobBackend))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			stopWorkers()
			dispatcher.Wait()
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// Undelivered events stay pending in storage and are picked up by the
	// scheduler on the next start.
	stopWorkers()
	dispatcher.Wait()
	return nil
}

func openStore(ctx context.Context, cfg config.Config, migrate bool) (store.Store, func(), error) {
	if cfg.Storage == config.StorageMemory {
		return memory.New(), func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return nil, nil, err
	}
	st := postgres.New(pool, postgres.WithMaxTries(cfg.TxMaxRetries))
	if migrate {
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return st, pool.Close, nil
}

func openBlobs(ctx context.Context, cfg config.Config) (blobs.Store, error) {
	if cfg.BlobBackend == config.BlobsMemory {
		return blobs.NewMemory(), nil
	}
	client, err := blobs.NewS3Client(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
	if err != nil {
		return nil, err
	}
	return &blobs.S3{Client: client, Bucket: cfg.S3Bucket}, nil
}
