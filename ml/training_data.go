package ml

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type TrainConfig struct {
	CategoricalColumns []string
	NumericColumns     []string
	Booster            BoostingParams
	// LogTarget fits the booster on log1p(price); the artifact undoes it.
	LogTarget bool
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		CategoricalColumns: CategoricalColumns(),
		NumericColumns:     NumericColumns(),
		Booster:            DefaultBoostingParams(),
	}
}

func TrainPipeline(rows []Row, targets []float64, cfg TrainConfig) (*Artifact, error) {
	if len(rows) == 0 {
		return nil, errors.New("rows is empty")
	}
	if len(rows) != len(targets) {
		return nil, errors.New("rows and targets length mismatch")
	}

	labels := make([]float64, len(targets))
	for i, y := range targets {
		if !finite(y) {
			return nil, fmt.Errorf("target %d is not finite", i)
		}
		if cfg.LogTarget {
			if y <= -1 {
				return nil, fmt.Errorf("target %d (%v) cannot be log1p transformed", i, y)
			}
			labels[i] = math.Log1p(y)
			continue
		}
		labels[i] = y
	}

	pre := NewDataPreprocessor(cfg.CategoricalColumns, cfg.NumericColumns)
	if err := pre.Fit(rows); err != nil {
		return nil, fmt.Errorf("fit preprocessor: %w", err)
	}
	features, err := pre.TransformAll(rows)
	if err != nil {
		return nil, fmt.Errorf("transform rows: %w", err)
	}

	booster := NewGradientBoosting(cfg.Booster)
	if err := booster.Train(features, labels); err != nil {
		return nil, fmt.Errorf("train booster: %w", err)
	}

	transform := TargetNone
	if cfg.LogTarget {
		transform = TargetLog1p
	}
	return &Artifact{
		Format:          ArtifactFormat,
		FormatVersion:   ArtifactFormatVersion,
		TrainedAt:       time.Now().UTC().Truncate(time.Second),
		TargetTransform: transform,
		Preprocessor:    pre,
		Booster:         booster,
	}, nil
}
