package ml

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	ArtifactFormat        = "bristolhouse/gbm"
	ArtifactFormatVersion = 1

	TargetNone  = "none"
	TargetLog1p = "log1p"
)

type Model interface {
	Predict(row Row) (float64, error)
	Columns() []string
	ModelVersion() string
}

type Artifact struct {
	Format          string            `json:"format"`
	FormatVersion   int               `json:"format_version"`
	TrainedAt       time.Time         `json:"trained_at"`
	TargetTransform string            `json:"target_transform"`
	Preprocessor    *DataPreprocessor `json:"preprocessor"`
	Booster         *GradientBoosting `json:"booster"`

	// Set by LoadModel and SaveModel.
	Version string `json:"-"`
	Path    string `json:"-"`
}

// Predict maps log1p targets back with expm1.
func (a *Artifact) Predict(row Row) (float64, error) {
	vector, err := a.Preprocessor.Transform(row)
	if err != nil {
		return 0, err
	}
	raw, err := a.Booster.Predict(vector)
	if err != nil {
		return 0, err
	}
	if a.TargetTransform == TargetLog1p {
		return math.Expm1(raw), nil
	}
	return raw, nil
}

func (a *Artifact) Columns() []string { return a.Preprocessor.Columns() }

func (a *Artifact) ModelVersion() string { return a.Version }

func (a *Artifact) ShortVersion() string {
	if len(a.Version) > 12 {
		return a.Version[:12]
	}
	return a.Version
}

func (a *Artifact) Validate() error {
	if a.Format != ArtifactFormat {
		return fmt.Errorf("unknown format %q", a.Format)
	}
	if a.FormatVersion != ArtifactFormatVersion {
		return fmt.Errorf("unsupported format version %d", a.FormatVersion)
	}
	if a.TargetTransform != TargetNone && a.TargetTransform != TargetLog1p {
		return fmt.Errorf("unknown target transform %q", a.TargetTransform)
	}
	if a.Preprocessor == nil {
		return errors.New("missing preprocessor")
	}
	if a.Booster == nil {
		return errors.New("missing booster")
	}
	if err := a.Preprocessor.validate(); err != nil {
		return err
	}
	if err := a.Booster.validate(); err != nil {
		return err
	}
	if width := a.Preprocessor.Width(); width != a.Booster.NumFeatures {
		return fmt.Errorf("preprocessor width %d does not match booster features %d", width, a.Booster.NumFeatures)
	}
	return nil
}
