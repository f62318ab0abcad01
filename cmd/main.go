package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"bristolhouse/config"
	"bristolhouse/db"
	qhttp "bristolhouse/http"
	"bristolhouse/logging"
	"bristolhouse/monitoring"
	"bristolhouse/remote"
	"bristolhouse/serving"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "bristolhouse: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Prediction service
	metrics := monitoring.NewMetricsCollector()
	svc, err := serving.New(serving.Options{
		Strict:    cfg.Serving.StrictValidation,
		Bounds:    cfg.Serving.Bounds,
		YearMin:   cfg.Serving.YearMin,
		YearMax:   cfg.Serving.YearMax,
		CacheSize: cfg.Serving.CacheSize,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	// 3. Model artifact; the server starts unloaded on failure
	loader := &serving.Loader{Path: cfg.Model.Path, Logger: logger}
	if cfg.Model.Remote.Enabled() {
		fetcher, err := remote.NewS3Fetcher(cfg.Model.Remote, logger)
		if err != nil {
			logger.Warn("remote artifact store disabled", zap.Error(err))
		} else {
			loader.Fetcher = fetcher
		}
	}
	if err := loader.LoadInto(ctx, svc); err != nil {
		logger.Warn("serving without a model", zap.Error(err))
		if cfg.Model.Watch && loader.Missing() {
			go func() {
				if err := serving.NewArtifactWatcher(loader, svc).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("artifact watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	// 4. Training registry
	deps := qhttp.Dependencies{Service: svc, Metrics: metrics, Logger: logger}
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Warn("training registry unavailable", zap.String("path", cfg.Database.Path), zap.Error(err))
		} else {
			defer store.Close()
			deps.Registry = store
		}
	}

	// 5. Start HTTP server
	server, err := qhttp.NewServer(qhttp.ServerConfigFrom(cfg.HTTP), deps)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 6. Handle graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
	return nil
}
