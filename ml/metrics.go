package ml

import (
	"errors"
	"fmt"
	"math"
)

// MAPE is a percentage over rows with a non-zero actual.
type Metrics struct {
	MAE     float64 `json:"mae"`
	MSE     float64 `json:"mse"`
	RMSE    float64 `json:"rmse"`
	R2      float64 `json:"r2"`
	MAPE    float64 `json:"mape"`
	Samples int     `json:"n_samples"`
}

func Evaluate(actual, predicted []float64) (Metrics, error) {
	if len(actual) == 0 {
		return Metrics{}, errors.New("no samples")
	}
	if len(actual) != len(predicted) {
		return Metrics{}, errors.New("actual and predicted length mismatch")
	}

	avg := mean(actual)
	var absSum, sqSum, totSum, pctSum float64
	pctCount := 0
	for i, y := range actual {
		diff := y - predicted[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
		totSum += (y - avg) * (y - avg)
		if y != 0 {
			pctSum += math.Abs(diff / y)
			pctCount++
		}
	}

	n := float64(len(actual))
	m := Metrics{
		MAE:     absSum / n,
		MSE:     sqSum / n,
		Samples: len(actual),
	}
	m.RMSE = math.Sqrt(m.MSE)
	if totSum > 0 {
		m.R2 = 1 - sqSum/totSum
	}
	if pctCount > 0 {
		m.MAPE = pctSum / float64(pctCount) * 100
	}
	return m, nil
}

func EvaluateModel(model Model, rows []Row, targets []float64) (Metrics, error) {
	if len(rows) != len(targets) {
		return Metrics{}, errors.New("rows and targets length mismatch")
	}
	predicted := make([]float64, len(rows))
	for i, row := range rows {
		v, err := model.Predict(row)
		if err != nil {
			return Metrics{}, fmt.Errorf("row %d: %w", i, err)
		}
		predicted[i] = v
	}
	return Evaluate(targets, predicted)
}
