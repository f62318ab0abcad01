package pipeline

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"testing"

	"bristolhouse/ml"
)

func TestTrainTestSplit(t *testing.T) {
	train, test := TrainTestSplit(10, 0.2, 42)
	if len(train) != 8 || len(test) != 2 {
		t.Fatalf("expected 8/2 split, got %d/%d", len(train), len(test))
	}
	all := append(append([]int(nil), train...), test...)
	sort.Ints(all)
	for i, v := range all {
		if v != i {
			t.Fatalf("split is not a partition of 0..9: %v", all)
		}
	}

	train2, test2 := TrainTestSplit(10, 0.2, 42)
	if fmt.Sprint(train, test) != fmt.Sprint(train2, test2) {
		t.Error("same seed produced different splits")
	}

	// 测试集大小向上取整
	if _, test := TrainTestSplit(7, 0.2, 1); len(test) != 2 {
		t.Errorf("expected ceil(1.4)=2 test rows, got %d", len(test))
	}
}

func writeProcessedFixture(t *testing.T, n int) string {
	t.Helper()
	types := []string{"D", "S", "T", "F"}
	txs := make([]*Transaction, 0, n+2)
	for i := 0; i < n; i++ {
		tx := &Transaction{
			TransactionID:  fmt.Sprintf("{%04d}", i),
			Price:          float64(150000 + i*1000),
			DateOfTransfer: fmt.Sprintf("%d-06-01 00:00", 2000+i%25),
			Postcode:       "BS8 1AA",
			PropertyType:   types[i%len(types)],
			NewBuild:       "N",
			Tenure:         "F",
			TownCity:       "BRISTOL",
		}
		if i%5 != 0 {
			tx.Location = &Location{Lat: 51.45 + float64(i)*0.0001, Long: -2.60}
		}
		txs = append(txs, tx)
	}
	// 两条应被清洗掉的记录
	txs = append(txs,
		&Transaction{TransactionID: "{BAD1}", Price: 0, DateOfTransfer: "2010-01-01 00:00", TownCity: "BRISTOL"},
		&Transaction{TransactionID: "{0001}", Price: 1, DateOfTransfer: "2010-01-01 00:00", TownCity: "BRISTOL"},
	)
	path := filepath.Join(t.TempDir(), "processed.csv")
	if err := WriteProcessed(path, txs); err != nil {
		t.Fatalf("write processed: %v", err)
	}
	return path
}

func TestPreprocessAndReadSplit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "split")
	cfg := PreprocessConfig{
		ProcessedPath:    writeProcessedFixture(t, 50),
		SplitDir:         dir,
		SelectedFeatures: ml.FeatureColumns(),
		Target:           "price",
		TestSize:         0.2,
		RandomState:      42,
		Cleaning:         CleaningOptions{DropInvalidPrice: true, DropDuplicates: true},
	}
	stats, err := Preprocess(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Input != 52 || stats.Rejected != 2 || stats.Train != 40 || stats.Test != 10 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	paths := SplitFiles(dir)
	rows, targets, err := ReadSplit(paths.XTrain, paths.YTrain, ml.CategoricalColumns(), ml.NumericColumns())
	if err != nil {
		t.Fatalf("read split: %v", err)
	}
	if len(rows) != 40 || len(targets) != 40 {
		t.Fatalf("expected 40 training rows, got %d/%d", len(rows), len(targets))
	}

	missing := 0
	for i, row := range rows {
		year := row.Numeric[ml.ColYear]
		if year < 2000 || year > 2024 {
			t.Fatalf("row %d: unexpected year %v", i, year)
		}
		if math.IsNaN(row.Numeric[ml.ColLat]) {
			missing++
		}
		if targets[i] < 150000 {
			t.Fatalf("row %d: unexpected target %v", i, targets[i])
		}
	}
	if missing == 0 {
		t.Error("expected unmatched postcodes to read back as NaN")
	}

	// 切分结果可以直接训练
	trainCfg := ml.DefaultTrainConfig()
	trainCfg.Booster.Iterations = 10
	trainCfg.Booster.Depth = 2
	if _, err := ml.TrainPipeline(rows, targets, trainCfg); err != nil {
		t.Fatalf("train on split: %v", err)
	}
}

func TestPreprocessKeepsRowsByDefault(t *testing.T) {
	cfg := PreprocessConfig{
		ProcessedPath:    writeProcessedFixture(t, 50),
		SplitDir:         filepath.Join(t.TempDir(), "split"),
		SelectedFeatures: ml.FeatureColumns(),
		Target:           "price",
		TestSize:         0.2,
		RandomState:      42,
	}
	stats, err := Preprocess(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// ceil(0.2 * 52) = 11
	if stats.Input != 52 || stats.Rejected != 0 || stats.Train != 41 || stats.Test != 11 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPreprocessRejectsUnknownFeature(t *testing.T) {
	cfg := PreprocessConfig{
		ProcessedPath:    writeProcessedFixture(t, 10),
		SplitDir:         t.TempDir(),
		SelectedFeatures: []string{"lat", "bedrooms"},
		Target:           "price",
		TestSize:         0.2,
	}
	if _, err := Preprocess(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown feature")
	}
}

func TestReadSplitMissingColumn(t *testing.T) {
	x := writeTemp(t, "x.csv", "lat,long\n51.4,-2.6\n")
	y := writeTemp(t, "y.csv", "price\n100000\n")
	if _, _, err := ReadSplit(x, y, ml.CategoricalColumns(), ml.NumericColumns()); err == nil {
		t.Fatal("expected schema error")
	}
}
