package ml

import (
	"math"
	"math/rand"
	"testing"
)

var typeBonus = map[string]float64{"D": 250000, "S": 120000, "T": 60000, "F": 0, "O": 30000}

// synthRows builds Bristol-like transactions whose price depends on type,
// year and distance from the centre.
func synthRows(n int, seed int64) ([]Row, []float64) {
	rng := rand.New(rand.NewSource(seed))
	types := []string{"D", "S", "T", "F", "O"}
	rows := make([]Row, n)
	targets := make([]float64, n)
	for i := range rows {
		row := NewRow()
		pt := types[i%len(types)]
		row.Categorical[ColPropertyType] = pt
		row.Categorical[ColNewBuild] = []string{"N", "N", "N", "Y"}[rng.Intn(4)]
		row.Categorical[ColTenure] = []string{"F", "L"}[rng.Intn(2)]
		year := 2000 + rng.Intn(25)
		lat := 51.40 + rng.Float64()*0.1
		lon := -2.70 + rng.Float64()*0.2
		row.Numeric[ColYear] = float64(year)
		row.Numeric[ColLat] = lat
		row.Numeric[ColLong] = lon
		rows[i] = row

		dist := math.Hypot(lat-51.4545, lon+2.5879)
		targets[i] = 150000 + typeBonus[pt] + float64(year-2000)*8000 - dist*400000 + rng.NormFloat64()*5000
	}
	return rows, targets
}

func testTrainConfig() TrainConfig {
	cfg := DefaultTrainConfig()
	cfg.Booster.Iterations = 150
	cfg.Booster.LearningRate = 0.1
	cfg.Booster.Depth = 4
	cfg.Booster.L2LeafReg = 1
	return cfg
}

func TestTrainPipeline(t *testing.T) {
	rows, targets := synthRows(500, 1)
	artifact, err := TrainPipeline(rows, targets, testTrainConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := artifact.Validate(); err != nil {
		t.Fatalf("trained artifact invalid: %v", err)
	}
	if artifact.TargetTransform != TargetNone {
		t.Fatalf("expected target transform none, got %q", artifact.TargetTransform)
	}

	metrics, err := EvaluateModel(artifact, rows, targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metrics.R2 < 0.8 {
		t.Fatalf("expected training R2 >= 0.8, got %v", metrics.R2)
	}

	detached := rowFor("D", 2020)
	flat := rowFor("F", 2020)
	d, err := artifact.Predict(detached)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := artifact.Predict(flat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d <= f {
		t.Fatalf("expected detached (%v) above flat (%v)", d, f)
	}
}

func TestTrainPipelineLogTarget(t *testing.T) {
	rows, targets := synthRows(300, 2)
	cfg := testTrainConfig()
	cfg.LogTarget = true
	artifact, err := TrainPipeline(rows, targets, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.TargetTransform != TargetLog1p {
		t.Fatalf("expected log1p transform, got %q", artifact.TargetTransform)
	}
	price, err := artifact.Predict(rowFor("S", 2015))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A raw log-scale output would be around 13.
	if price < 100000 || price > 1000000 {
		t.Fatalf("expected a GBP-scale price, got %v", price)
	}
}

func TestTrainPipelineUnknownCategory(t *testing.T) {
	rows, targets := synthRows(200, 3)
	artifact, err := TrainPipeline(rows, targets, testTrainConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	price, err := artifact.Predict(rowFor("X", 2020))
	if err != nil {
		t.Fatalf("unknown level should be encoded as all zeros: %v", err)
	}
	if math.IsNaN(price) {
		t.Fatal("expected a finite price")
	}
}

func TestTrainPipelineErrors(t *testing.T) {
	rows, targets := synthRows(10, 4)
	if _, err := TrainPipeline(nil, nil, testTrainConfig()); err == nil {
		t.Fatal("expected error for empty rows")
	}
	if _, err := TrainPipeline(rows, targets[:5], testTrainConfig()); err == nil {
		t.Fatal("expected length mismatch error")
	}
	targets[0] = math.Inf(1)
	if _, err := TrainPipeline(rows, targets, testTrainConfig()); err == nil {
		t.Fatal("expected error for non-finite target")
	}
}

func rowFor(propertyType string, year int) Row {
	row, err := Encoder{}.Encode(Input{
		Latitude:     51.4641,
		Longitude:    -2.6103,
		PropertyType: propertyType,
		NewBuild:     "N",
		Tenure:       "F",
		Year:         year,
	})
	if err != nil {
		panic(err)
	}
	return row
}
