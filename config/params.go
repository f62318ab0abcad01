package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"bristolhouse/ml"
	"bristolhouse/pipeline"
)

// Params is params.yaml: the training pipeline's stage settings.
type Params struct {
	Data       DataParams               `yaml:"data"`
	Features   FeatureParams            `yaml:"features"`
	Split      SplitParams              `yaml:"split"`
	Cleaning   pipeline.CleaningOptions `yaml:"cleaning"`
	Model      ModelParams              `yaml:"model"`
	Evaluation EvaluationParams         `yaml:"evaluation"`
	Registry   RegistryParams           `yaml:"registry"`
}

type DataParams struct {
	RawPricePaid  string `yaml:"raw_price_paid"`
	RawPostcodes  string `yaml:"raw_postcodes"`
	ProcessedData string `yaml:"processed_data"`
	SplitDir      string `yaml:"split_dir"`
	TargetCity    string `yaml:"target_city"`
	// Database, when set, also receives the joined transactions.
	Database  string `yaml:"database"`
	BatchSize int    `yaml:"batch_size"`
}

type FeatureParams struct {
	Categorical      []string `yaml:"categorical"`
	Numerical        []string `yaml:"numerical"`
	SelectedFeatures []string `yaml:"selected_features"`
	Target           string   `yaml:"target"`
}

type SplitParams struct {
	TestSize    float64 `yaml:"test_size"`
	RandomState int64   `yaml:"random_state"`
}

type ModelParams struct {
	Path      string            `json:"path" yaml:"path"`
	LogTarget bool              `json:"log_target" yaml:"log_target"`
	GBM       ml.BoostingParams `json:"gbm" yaml:"gbm"`
}

type EvaluationParams struct {
	MetricsPath string `yaml:"metrics_path"`
}

type RegistryParams struct {
	Path string `yaml:"path"`
}

func DefaultParams() Params {
	return Params{
		Data: DataParams{
			RawPricePaid:  "data/raw/pp-complete.csv",
			RawPostcodes:  "data/raw/ONSPD_postcodes.csv",
			ProcessedData: "data/processed/bristol_house.csv",
			SplitDir:      "data/split",
			TargetCity:    "BRISTOL",
			BatchSize:     1000,
		},
		Features: FeatureParams{
			Categorical:      ml.CategoricalColumns(),
			Numerical:        ml.NumericColumns(),
			SelectedFeatures: ml.FeatureColumns(),
			Target:           "price",
		},
		Split: SplitParams{TestSize: 0.2, RandomState: 42},
		Model: ModelParams{
			Path: "models/gbm_model.json",
			GBM:  ml.DefaultBoostingParams(),
		},
		Evaluation: EvaluationParams{MetricsPath: "metrics/evaluation_metrics.json"},
		Registry:   RegistryParams{Path: "data/registry.db"},
	}
}

// LoadParams reads params.yaml over the defaults. Unlike Load, the file must
// exist.
func LoadParams(path string) (Params, error) {
	params := DefaultParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("parse %s: %w", path, err)
	}
	return params, params.Validate()
}

func (p Params) Validate() error {
	if p.Split.TestSize <= 0 || p.Split.TestSize >= 1 {
		return fmt.Errorf("split.test_size %v must be in (0, 1)", p.Split.TestSize)
	}
	if p.Features.Target == "" {
		return errors.New("features.target is required")
	}
	selected := make(map[string]bool, len(p.Features.SelectedFeatures))
	for _, c := range p.Features.SelectedFeatures {
		selected[c] = true
	}
	for _, c := range append(append([]string(nil), p.Features.Categorical...), p.Features.Numerical...) {
		if !selected[c] {
			return fmt.Errorf("feature %q is not in features.selected_features", c)
		}
	}
	if err := p.Model.GBM.Validate(); err != nil {
		return fmt.Errorf("model.gbm: %w", err)
	}
	return nil
}

// TrainConfig maps the params onto the training pipeline.
func (p Params) TrainConfig() ml.TrainConfig {
	return ml.TrainConfig{
		CategoricalColumns: p.Features.Categorical,
		NumericColumns:     p.Features.Numerical,
		Booster:            p.Model.GBM,
		LogTarget:          p.Model.LogTarget,
	}
}
