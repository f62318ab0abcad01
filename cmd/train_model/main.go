package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bristolhouse/config"
	"bristolhouse/db"
	"bristolhouse/logging"
	"bristolhouse/ml"
	"bristolhouse/pipeline"
	"bristolhouse/serving"
)

var stages = []string{"ingest", "preprocess", "train", "evaluate"}

func main() {
	paramsPath := flag.String("params", "params.yaml", "path to params.yaml")
	stage := flag.String("stage", "all", "ingest | preprocess | train | evaluate | all")
	logLevel := flag.String("log_level", "info", "log level")
	flag.Parse()

	logger, err := logging.New(config.LogConfig{Level: *logLevel, Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	params, err := config.LoadParams(*paramsPath)
	if err != nil {
		logger.Fatal("failed to load params", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run := []string{*stage}
	if *stage == "all" {
		run = stages
	}
	for _, name := range run {
		start := time.Now()
		if err := runStage(ctx, name, params, logger); err != nil {
			logger.Fatal("stage failed", zap.String("stage", name), zap.Error(err))
		}
		logger.Info("stage complete", zap.String("stage", name), zap.Duration("duration", time.Since(start)))
	}
}

func runStage(ctx context.Context, name string, params config.Params, logger *zap.Logger) error {
	switch name {
	case "ingest":
		return ingest(ctx, params, logger)
	case "preprocess":
		return preprocess(ctx, params, logger)
	case "train":
		return train(params, logger)
	case "evaluate":
		return evaluate(ctx, params, logger)
	default:
		return fmt.Errorf("unknown stage %q", name)
	}
}

func ingest(ctx context.Context, params config.Params, logger *zap.Logger) error {
	var storage pipeline.DataStorage
	if params.Data.Database != "" {
		s, err := pipeline.NewSQLiteStorage(pipeline.StorageConfig{DBPath: params.Data.Database, EnableWAL: true})
		if err != nil {
			return err
		}
		defer s.Close()
		storage = s
	}

	ingester := pipeline.NewDataIngester(pipeline.IngestionConfig{
		PricePaidPath: params.Data.RawPricePaid,
		PostcodesPath: params.Data.RawPostcodes,
		OutputPath:    params.Data.ProcessedData,
		TargetCity:    params.Data.TargetCity,
		BatchSize:     params.Data.BatchSize,
	}, storage, logger)
	_, err := ingester.Run(ctx)
	return err
}

func preprocess(ctx context.Context, params config.Params, logger *zap.Logger) error {
	_, err := pipeline.Preprocess(ctx, pipeline.PreprocessConfig{
		ProcessedPath:    params.Data.ProcessedData,
		SplitDir:         params.Data.SplitDir,
		SelectedFeatures: params.Features.SelectedFeatures,
		Target:           params.Features.Target,
		TestSize:         params.Split.TestSize,
		RandomState:      params.Split.RandomState,
		Cleaning:         params.Cleaning,
	}, logger)
	return err
}

func train(params config.Params, logger *zap.Logger) error {
	paths := pipeline.SplitFiles(params.Data.SplitDir)
	rows, targets, err := pipeline.ReadSplit(paths.XTrain, paths.YTrain, params.Features.Categorical, params.Features.Numerical)
	if err != nil {
		return fmt.Errorf("read training split: %w", err)
	}
	logger.Info("training", zap.Int("rows", len(rows)), zap.Int("iterations", params.Model.GBM.Iterations))

	artifact, err := ml.TrainPipeline(rows, targets, params.TrainConfig())
	if err != nil {
		return err
	}
	version, err := ml.SaveModel(params.Model.Path, artifact)
	if err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	logger.Info("model saved",
		zap.String("path", params.Model.Path),
		zap.String("version", artifact.ShortVersion()),
		zap.String("sha256", version),
	)
	return nil
}

func evaluate(ctx context.Context, params config.Params, logger *zap.Logger) error {
	artifact, err := ml.LoadModel(params.Model.Path)
	if err != nil {
		return err
	}
	paths := pipeline.SplitFiles(params.Data.SplitDir)
	rows, targets, err := pipeline.ReadSplit(paths.XTest, paths.YTest, params.Features.Categorical, params.Features.Numerical)
	if err != nil {
		return fmt.Errorf("read test split: %w", err)
	}
	metrics, err := ml.EvaluateModel(artifact, rows, targets)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(params.Evaluation.MetricsPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(params.Evaluation.MetricsPath, data, 0o644); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}

	fmt.Printf("MAE: %s\n", serving.FormatPrice(metrics.MAE))
	fmt.Printf("RMSE: %s\n", serving.FormatPrice(metrics.RMSE))
	fmt.Printf("R²: %.4f\n", metrics.R2)
	fmt.Printf("MAPE: %.2f%%\n", metrics.MAPE)

	if params.Registry.Path == "" {
		return nil
	}
	store, err := db.Open(params.Registry.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	raw, err := json.Marshal(params.Model)
	if err != nil {
		return err
	}
	id, err := store.SaveTrainingLog(ctx, db.TrainingRecord{
		ModelVersion: artifact.Version,
		ModelPath:    params.Model.Path,
		Metrics:      metrics,
		Params:       raw,
		TrainedAt:    artifact.TrainedAt,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("record evaluation: %w", err)
	}
	logger.Info("evaluation recorded", zap.Int64("id", id), zap.String("registry", params.Registry.Path))
	return nil
}
