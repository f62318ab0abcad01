package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"bristolhouse/ml"
)

// PreprocessConfig 预处理配置
type PreprocessConfig struct {
	ProcessedPath    string
	SplitDir         string
	SelectedFeatures []string
	Target           string
	TestSize         float64
	RandomState      int64
	Cleaning         CleaningOptions
}

// PreprocessStats 预处理统计
type PreprocessStats struct {
	Input    int              `json:"input"`
	Rejected int64            `json:"rejected"`
	Train    int              `json:"train"`
	Test     int              `json:"test"`
	Issues   map[string]int64 `json:"issues"`
}

// SplitPaths 切分文件路径
type SplitPaths struct {
	XTrain string
	XTest  string
	YTrain string
	YTest  string
}

// SplitFiles 返回目录下的四个切分文件
func SplitFiles(dir string) SplitPaths {
	return SplitPaths{
		XTrain: filepath.Join(dir, "x_train.csv"),
		XTest:  filepath.Join(dir, "x_test.csv"),
		YTrain: filepath.Join(dir, "y_train.csv"),
		YTest:  filepath.Join(dir, "y_test.csv"),
	}
}

// Preprocess 清洗处理后的数据，选择特征并写出训练/测试切分
func Preprocess(ctx context.Context, cfg PreprocessConfig, logger *zap.Logger) (PreprocessStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats PreprocessStats
	if cfg.TestSize <= 0 || cfg.TestSize >= 1 {
		return stats, fmt.Errorf("test size %v must be in (0, 1)", cfg.TestSize)
	}
	for _, name := range cfg.SelectedFeatures {
		if _, err := featureValue(&Transaction{}, name); err != nil {
			return stats, err
		}
	}
	if _, err := featureValue(&Transaction{}, cfg.Target); err != nil {
		return stats, fmt.Errorf("target: %w", err)
	}

	txs, err := ReadProcessed(cfg.ProcessedPath)
	if err != nil {
		return stats, err
	}
	stats.Input = len(txs)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	cleaner := NewDataCleaner(cfg.Cleaning)
	cleaned, issues := cleaner.Clean(txs)
	cleanStats := cleaner.GetStats()
	stats.Rejected = cleanStats.Rejected
	stats.Issues = cleanStats.Issues
	for i, issue := range issues {
		if i >= 5 {
			break
		}
		logger.Debug("row rejected", zap.String("rule", issue.Type), zap.String("transaction_id", issue.TransactionID), zap.String("reason", issue.Message))
	}
	if len(cleaned) < 2 {
		return stats, fmt.Errorf("only %d rows left after cleaning", len(cleaned))
	}

	trainIdx, testIdx := TrainTestSplit(len(cleaned), cfg.TestSize, cfg.RandomState)
	stats.Train, stats.Test = len(trainIdx), len(testIdx)

	if err := os.MkdirAll(cfg.SplitDir, 0o755); err != nil {
		return stats, fmt.Errorf("create split dir: %w", err)
	}
	paths := SplitFiles(cfg.SplitDir)
	writes := []struct {
		path    string
		columns []string
		idx     []int
	}{
		{paths.XTrain, cfg.SelectedFeatures, trainIdx},
		{paths.XTest, cfg.SelectedFeatures, testIdx},
		{paths.YTrain, []string{cfg.Target}, trainIdx},
		{paths.YTest, []string{cfg.Target}, testIdx},
	}
	for _, w := range writes {
		if err := writeColumns(w.path, w.columns, cleaned, w.idx); err != nil {
			return stats, err
		}
	}

	logger.Info("data preprocessing complete",
		zap.Int("input", stats.Input),
		zap.Int64("rejected", stats.Rejected),
		zap.Int("train", stats.Train),
		zap.Int("test", stats.Test),
	)
	return stats, nil
}

// TrainTestSplit 按种子打乱后切分，测试集大小向上取整
func TrainTestSplit(n int, testSize float64, seed int64) (train, test []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest < 1 {
		nTest = 1
	}
	if nTest >= n {
		nTest = n - 1
	}
	return perm[nTest:], perm[:nTest]
}

// featureValue 返回记录在某一列上的文本值
func featureValue(tx *Transaction, name string) (string, error) {
	switch name {
	case ml.ColPropertyType:
		return tx.PropertyType, nil
	case ml.ColNewBuild:
		return tx.NewBuild, nil
	case ml.ColTenure:
		return tx.Tenure, nil
	case ml.ColYear:
		return strconv.Itoa(tx.Year), nil
	case ml.ColLat:
		if tx.Location == nil {
			return "", nil
		}
		return formatFloat(tx.Location.Lat), nil
	case ml.ColLong:
		if tx.Location == nil {
			return "", nil
		}
		return formatFloat(tx.Location.Long), nil
	case "price":
		return formatFloat(tx.Price), nil
	case "transaction_id":
		return tx.TransactionID, nil
	case "postcode":
		return tx.Postcode, nil
	case "street":
		return tx.Street, nil
	case "locality":
		return tx.Locality, nil
	case "town_city":
		return tx.TownCity, nil
	case "district":
		return tx.District, nil
	case "county":
		return tx.County, nil
	case "ppd_category_type":
		return tx.PPDCategoryType, nil
	default:
		return "", fmt.Errorf("unknown column %q", name)
	}
}

func writeColumns(path string, columns []string, txs []*Transaction, idx []int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		return err
	}
	record := make([]string, len(columns))
	for _, i := range idx {
		for j, name := range columns {
			// 列名已在 Preprocess 开头校验
			record[j], _ = featureValue(txs[i], name)
		}
		if err := w.Write(record); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadSplit 读取特征与目标文件，空的数值单元记为 NaN 由预处理器填充
func ReadSplit(xPath, yPath string, categorical, numeric []string) ([]ml.Row, []float64, error) {
	header, records, err := readCSV(xPath)
	if err != nil {
		return nil, nil, err
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, name := range append(append([]string(nil), categorical...), numeric...) {
		if _, ok := idx[name]; !ok {
			return nil, nil, fmt.Errorf("%s: %w: missing column %q", xPath, ml.ErrSchemaMismatch, name)
		}
	}

	rows := make([]ml.Row, len(records))
	for i, rec := range records {
		row := ml.NewRow()
		for _, name := range categorical {
			row.Categorical[name] = rec[idx[name]]
		}
		for _, name := range numeric {
			cell := rec[idx[name]]
			if cell == "" {
				row.Numeric[name] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%s line %d: %s %q: %w", xPath, i+2, name, cell, err)
			}
			row.Numeric[name] = v
		}
		rows[i] = row
	}

	_, yRecords, err := readCSV(yPath)
	if err != nil {
		return nil, nil, err
	}
	if len(yRecords) != len(rows) {
		return nil, nil, fmt.Errorf("%s has %d rows, %s has %d", xPath, len(rows), yPath, len(yRecords))
	}
	targets := make([]float64, len(yRecords))
	for i, rec := range yRecords {
		if len(rec) == 0 {
			return nil, nil, fmt.Errorf("%s line %d: empty record", yPath, i+2)
		}
		if targets[i], err = strconv.ParseFloat(rec[0], 64); err != nil {
			return nil, nil, fmt.Errorf("%s line %d: %w", yPath, i+2, err)
		}
	}
	return rows, targets, nil
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	var records [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, rec)
	}
	return header, records, nil
}
