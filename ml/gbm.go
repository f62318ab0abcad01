package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	LossRMSE = "RMSE"
	LossMAE  = "MAE"
)

type BoostingParams struct {
	Iterations   int     `json:"iterations" yaml:"iterations"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Depth        int     `json:"depth" yaml:"depth"`
	LossFunction string  `json:"loss_function" yaml:"loss_function"`
	RandomState  int64   `json:"random_state" yaml:"random_state"`
	BorderCount  int     `json:"border_count" yaml:"border_count"`
	L2LeafReg    float64 `json:"l2_leaf_reg" yaml:"l2_leaf_reg"`
	Subsample    float64 `json:"subsample" yaml:"subsample"`
}

func DefaultBoostingParams() BoostingParams {
	return BoostingParams{
		Iterations:   500,
		LearningRate: 0.05,
		Depth:        6,
		LossFunction: LossRMSE,
		RandomState:  42,
		BorderCount:  254,
		L2LeafReg:    3,
		Subsample:    0.8,
	}
}

func (p BoostingParams) Validate() error {
	switch {
	case p.Iterations <= 0:
		return errors.New("iterations must be positive")
	case p.LearningRate <= 0 || p.LearningRate > 1:
		return errors.New("learning_rate must be in (0, 1]")
	case p.Depth < 1 || p.Depth > 16:
		return errors.New("depth must be in [1, 16]")
	case p.LossFunction != LossRMSE && p.LossFunction != LossMAE:
		return fmt.Errorf("unsupported loss_function %q", p.LossFunction)
	case p.L2LeafReg < 0:
		return errors.New("l2_leaf_reg must not be negative")
	case p.Subsample < 0 || p.Subsample > 1:
		return errors.New("subsample must be in (0, 1]")
	}
	return nil
}

type GradientBoosting struct {
	Params      BoostingParams  `json:"params"`
	BaseValue   float64         `json:"base_value"`
	NumFeatures int             `json:"num_features"`
	Trees       []ObliviousTree `json:"trees"`
}

func NewGradientBoosting(params BoostingParams) *GradientBoosting {
	return &GradientBoosting{Params: params}
}

func (g *GradientBoosting) Train(features [][]float64, targets []float64) error {
	if err := g.Params.Validate(); err != nil {
		return err
	}
	if len(features) == 0 {
		return errors.New("features is empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets length mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature vectors are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
		for _, v := range row {
			if !finite(v) {
				return fmt.Errorf("row %d has a non-finite feature", i)
			}
		}
		if !finite(targets[i]) {
			return fmt.Errorf("target %d is not finite", i)
		}
	}

	n := len(features)
	mae := g.Params.LossFunction == LossMAE
	if mae {
		g.BaseValue = median(targets)
	} else {
		g.BaseValue = mean(targets)
	}
	g.NumFeatures = width
	g.Trees = make([]ObliviousTree, 0, g.Params.Iterations)

	data := quantize(features, g.Params.BorderCount)
	rng := rand.New(rand.NewSource(g.Params.RandomState))
	lr := g.Params.LearningRate
	l2 := g.Params.L2LeafReg

	predictions := make([]float64, n)
	for i := range predictions {
		predictions[i] = g.BaseValue
	}
	residuals := make([]float64, n)
	gradients := make([]float64, n)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	var leafValue func(members []int) float64
	if mae {
		leafValue = func(members []int) float64 {
			values := make([]float64, len(members))
			for k, i := range members {
				values[k] = residuals[i]
			}
			return lr * median(values)
		}
	} else {
		leafValue = func(members []int) float64 {
			sum := 0.0
			for _, i := range members {
				sum += residuals[i]
			}
			return lr * sum / (float64(len(members)) + l2)
		}
	}

	for iter := 0; iter < g.Params.Iterations; iter++ {
		for i := range residuals {
			residuals[i] = targets[i] - predictions[i]
			if mae {
				gradients[i] = sign(residuals[i])
			} else {
				gradients[i] = residuals[i]
			}
		}

		tree := fitObliviousTree(data, sampleRows(rng, all, g.Params.Subsample), gradients, g.Params.Depth, l2, leafValue)
		for i, row := range features {
			v, err := tree.Predict(row)
			if err != nil {
				return fmt.Errorf("iteration %d: %w", iter, err)
			}
			predictions[i] += v
		}
		g.Trees = append(g.Trees, tree)
	}
	return nil
}

func (g *GradientBoosting) Predict(features []float64) (float64, error) {
	if len(features) != g.NumFeatures {
		return 0, fmt.Errorf("%w: got %d features, expected %d", ErrSchemaMismatch, len(features), g.NumFeatures)
	}
	sum := g.BaseValue
	for i := range g.Trees {
		v, err := g.Trees[i].Predict(features)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += v
	}
	return sum, nil
}

func (g *GradientBoosting) validate() error {
	if g.NumFeatures <= 0 {
		return errors.New("booster has no features")
	}
	if !finite(g.BaseValue) {
		return errors.New("booster base value is not finite")
	}
	for i, tree := range g.Trees {
		if len(tree.LeafValues) != 1<<len(tree.Splits) {
			return fmt.Errorf("tree %d: %d leaves for depth %d", i, len(tree.LeafValues), len(tree.Splits))
		}
		for _, split := range tree.Splits {
			if split.FeatureIdx < 0 || split.FeatureIdx >= g.NumFeatures {
				return fmt.Errorf("tree %d: feature index %d out of range", i, split.FeatureIdx)
			}
		}
		for _, v := range tree.LeafValues {
			if !finite(v) {
				return fmt.Errorf("tree %d: non-finite leaf value", i)
			}
		}
	}
	return nil
}

func sampleRows(rng *rand.Rand, all []int, fraction float64) []int {
	if fraction <= 0 || fraction >= 1 {
		return all
	}
	k := int(math.Round(fraction * float64(len(all))))
	if k < 1 {
		k = 1
	}
	rows := rng.Perm(len(all))[:k]
	sort.Ints(rows)
	return rows
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
