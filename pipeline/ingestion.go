// Package pipeline 实现训练数据的摄取、清洗与切分
package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/charmap"
)

// PricePaidColumns 成交价 CSV 的列（文件无表头）
var PricePaidColumns = []string{
	"transaction_id", "price", "date_of_transfer", "postcode",
	"property_type", "new_build", "tenure", "primary_address",
	"secondary_address", "street", "locality", "town_city",
	"district", "county", "ppd_category_type", "record_status",
}

// Location 邮编坐标
type Location struct {
	Lat  float64
	Long float64
}

// Transaction 一条成交记录
type Transaction struct {
	TransactionID    string
	Price            float64
	DateOfTransfer   string
	Postcode         string
	PropertyType     string
	NewBuild         string
	Tenure           string
	PrimaryAddress   string
	SecondaryAddress string
	Street           string
	Locality         string
	TownCity         string
	District         string
	County           string
	PPDCategoryType  string
	RecordStatus     string

	// Location 为 nil 表示邮编未匹配
	Location *Location
	// Year 由清洗阶段从 DateOfTransfer 推导
	Year int
}

// IngestionConfig 数据摄取配置
type IngestionConfig struct {
	PricePaidPath string
	PostcodesPath string
	OutputPath    string
	TargetCity    string
	BatchSize     int
}

// IngestionStats 摄取统计
type IngestionStats struct {
	TotalRows    int           `json:"total_rows"`
	Postcodes    int           `json:"postcodes"`
	CityRows     int           `json:"city_rows"`
	Unmatched    int           `json:"unmatched"`
	BatchesSaved int           `json:"batches_saved"`
	Duration     time.Duration `json:"duration"`
}

// DataStorage 数据存储接口
type DataStorage interface {
	SaveBatch(ctx context.Context, txs []*Transaction) error
	Count(ctx context.Context) (int, error)
}

// DataIngester 数据摄取器
type DataIngester struct {
	config  IngestionConfig
	storage DataStorage
	logger  *zap.Logger
}

// NewDataIngester 创建数据摄取器，storage 可为 nil
func NewDataIngester(config IngestionConfig, storage DataStorage, logger *zap.Logger) *DataIngester {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataIngester{config: config, storage: storage, logger: logger}
}

// Run 并发读取两份原始文件，左连接坐标，按城市过滤后写出
func (di *DataIngester) Run(ctx context.Context) (IngestionStats, error) {
	start := time.Now()
	var stats IngestionStats

	var txs []*Transaction
	var postcodes map[string]Location

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = readFile(gctx, di.config.PricePaidPath, ReadPricePaid)
		return err
	})
	g.Go(func() error {
		var err error
		postcodes, err = readFile(gctx, di.config.PostcodesPath, ReadPostcodes)
		return err
	})
	if err := g.Wait(); err != nil {
		return stats, err
	}
	stats.TotalRows = len(txs)
	stats.Postcodes = len(postcodes)

	city := JoinLocations(txs, postcodes, di.config.TargetCity)
	stats.CityRows = len(city)
	for _, tx := range city {
		if tx.Location == nil {
			stats.Unmatched++
		}
	}

	if err := WriteProcessed(di.config.OutputPath, city); err != nil {
		return stats, err
	}

	if di.storage != nil {
		for i := 0; i < len(city); i += di.config.BatchSize {
			end := min(i+di.config.BatchSize, len(city))
			if err := di.storage.SaveBatch(ctx, city[i:end]); err != nil {
				return stats, fmt.Errorf("save batch %d: %w", stats.BatchesSaved, err)
			}
			stats.BatchesSaved++
		}
	}

	stats.Duration = time.Since(start)
	di.logger.Info("data ingestion complete",
		zap.Int("total_rows", stats.TotalRows),
		zap.Int("postcodes", stats.Postcodes),
		zap.Int("city_rows", stats.CityRows),
		zap.Int("unmatched", stats.Unmatched),
		zap.String("output", di.config.OutputPath),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func readFile[T any](ctx context.Context, path string, read func(context.Context, io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	out, err := read(ctx, f)
	if err != nil {
		return zero, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// ReadPricePaid 解析无表头的16列成交价数据
func ReadPricePaid(ctx context.Context, r io.Reader) ([]*Transaction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(PricePaidColumns)
	reader.ReuseRecord = true

	var txs []*Transaction
	for line := 1; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: price %q: %w", line, rec[1], err)
		}
		txs = append(txs, &Transaction{
			TransactionID:    rec[0],
			Price:            price,
			DateOfTransfer:   rec[2],
			Postcode:         NormalizePostcode(rec[3]),
			PropertyType:     rec[4],
			NewBuild:         rec[5],
			Tenure:           rec[6],
			PrimaryAddress:   rec[7],
			SecondaryAddress: rec[8],
			Street:           rec[9],
			Locality:         rec[10],
			TownCity:         rec[11],
			District:         rec[12],
			County:           rec[13],
			PPDCategoryType:  rec[14],
			RecordStatus:     rec[15],
		})
	}
	return txs, nil
}

// ReadPostcodes 解析 Latin-1 编码、带表头的 ONSPD 邮编文件（pcds, lat, long）
func ReadPostcodes(ctx context.Context, r io.Reader) (map[string]Location, error) {
	reader := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(r))
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{"pcds": -1, "lat": -1, "long": -1}
	for i, name := range header {
		if _, ok := idx[strings.TrimSpace(name)]; ok {
			idx[strings.TrimSpace(name)] = i
		}
	}
	for name, i := range idx {
		if i < 0 {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	postcodes := make(map[string]Location)
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) <= max(idx["pcds"], idx["lat"], idx["long"]) {
			return nil, fmt.Errorf("line %d: expected at least %d fields, got %d", line, max(idx["pcds"], idx["lat"], idx["long"])+1, len(rec))
		}
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(rec[idx["lat"]]), 64)
		long, longErr := strconv.ParseFloat(strings.TrimSpace(rec[idx["long"]]), 64)
		if latErr != nil || longErr != nil {
			continue
		}
		postcodes[NormalizePostcode(rec[idx["pcds"]])] = Location{Lat: lat, Long: long}
	}
	return postcodes, nil
}

// NormalizePostcode 去除首尾空白并转为大写
func NormalizePostcode(postcode string) string {
	return strings.ToUpper(strings.TrimSpace(postcode))
}

// JoinLocations 左连接坐标并保留目标城市的记录，顺序不变
func JoinLocations(txs []*Transaction, postcodes map[string]Location, city string) []*Transaction {
	out := make([]*Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.TownCity != city {
			continue
		}
		if loc, ok := postcodes[tx.Postcode]; ok {
			tx.Location = &loc
		}
		out = append(out, tx)
	}
	return out
}

// ProcessedColumns 处理后 CSV 的表头
func ProcessedColumns() []string {
	return append(append([]string(nil), PricePaidColumns...), "lat", "long")
}

// WriteProcessed 写出带表头的处理后数据，未匹配的坐标留空
func WriteProcessed(path string, txs []*Transaction) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(ProcessedColumns()); err != nil {
		f.Close()
		return err
	}
	for _, tx := range txs {
		if err := w.Write(tx.record()); err != nil {
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

func (tx *Transaction) record() []string {
	lat, long := "", ""
	if tx.Location != nil {
		lat = formatFloat(tx.Location.Lat)
		long = formatFloat(tx.Location.Long)
	}
	return []string{
		tx.TransactionID, formatFloat(tx.Price), tx.DateOfTransfer, tx.Postcode,
		tx.PropertyType, tx.NewBuild, tx.Tenure, tx.PrimaryAddress,
		tx.SecondaryAddress, tx.Street, tx.Locality, tx.TownCity,
		tx.District, tx.County, tx.PPDCategoryType, tx.RecordStatus,
		lat, long,
	}
}

// ReadProcessed 读取 WriteProcessed 写出的文件
func ReadProcessed(path string) ([]*Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, name := range ProcessedColumns() {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, name)
		}
	}

	var txs []*Transaction
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(name string) string { return rec[idx[name]] }
		tx := &Transaction{
			TransactionID:    get("transaction_id"),
			DateOfTransfer:   get("date_of_transfer"),
			Postcode:         get("postcode"),
			PropertyType:     get("property_type"),
			NewBuild:         get("new_build"),
			Tenure:           get("tenure"),
			PrimaryAddress:   get("primary_address"),
			SecondaryAddress: get("secondary_address"),
			Street:           get("street"),
			Locality:         get("locality"),
			TownCity:         get("town_city"),
			District:         get("district"),
			County:           get("county"),
			PPDCategoryType:  get("ppd_category_type"),
			RecordStatus:     get("record_status"),
		}
		if tx.Price, err = strconv.ParseFloat(get("price"), 64); err != nil {
			return nil, fmt.Errorf("%s line %d: price %q: %w", path, line, get("price"), err)
		}
		if get("lat") != "" && get("long") != "" {
			lat, latErr := strconv.ParseFloat(get("lat"), 64)
			long, longErr := strconv.ParseFloat(get("long"), 64)
			if latErr == nil && longErr == nil {
				tx.Location = &Location{Lat: lat, Long: long}
			}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
