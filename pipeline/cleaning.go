package pipeline

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// CleaningRule 清洗规则，可就地修正记录，返回错误表示拒绝
type CleaningRule interface {
	Apply(*Transaction) error
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules []CleaningRule

	stats     CleaningStats
	statsLock sync.RWMutex
}

// CleaningOptions 可选清洗规则，默认全部关闭
type CleaningOptions struct {
	DropInvalidPrice bool `yaml:"drop_invalid_price"`
	DropDuplicates   bool `yaml:"drop_duplicates"`
}

// NewDataCleaner 创建清洗器。日期规则始终启用，Year 由它推导
func NewDataCleaner(opts CleaningOptions) *DataCleaner {
	cleaner := &DataCleaner{
		stats: CleaningStats{Issues: make(map[string]int64)},
	}

	if opts.DropInvalidPrice {
		cleaner.AddRule(NewPriceValidationRule())
	}
	cleaner.AddRule(NewDateValidationRule())
	if opts.DropDuplicates {
		cleaner.AddRule(NewDuplicateDetectionRule())
	}

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// Clean 按顺序应用规则，第一条失败的规则决定拒绝原因
func (dc *DataCleaner) Clean(txs []*Transaction) ([]*Transaction, []QualityIssue) {
	cleaned := make([]*Transaction, 0, len(txs))
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for _, tx := range txs {
		dc.stats.TotalProcessed++

		var issue *QualityIssue
		for _, rule := range dc.rules {
			if err := rule.Apply(tx); err != nil {
				issue = &QualityIssue{Type: rule.Name(), Message: err.Error(), TransactionID: tx.TransactionID}
				break
			}
		}

		if issue != nil {
			dc.stats.Rejected++
			dc.stats.Issues[issue.Type]++
			issues = append(issues, *issue)
			continue
		}
		dc.stats.Passed++
		cleaned = append(cleaned, tx)
	}

	dc.stats.LastClean = time.Now()
	return cleaned, issues
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// PriceValidationRule 价格必须为正的有限数
type PriceValidationRule struct{}

func NewPriceValidationRule() *PriceValidationRule { return &PriceValidationRule{} }

func (r *PriceValidationRule) Name() string { return "price_validation" }

func (r *PriceValidationRule) Apply(tx *Transaction) error {
	if math.IsNaN(tx.Price) || math.IsInf(tx.Price, 0) || tx.Price <= 0 {
		return fmt.Errorf("invalid price %v", tx.Price)
	}
	return nil
}

// dateLayouts 成交价数据中出现过的日期格式
var dateLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// DateValidationRule 解析成交日期并写入 Year
type DateValidationRule struct{}

func NewDateValidationRule() *DateValidationRule { return &DateValidationRule{} }

func (r *DateValidationRule) Name() string { return "date_validation" }

func (r *DateValidationRule) Apply(tx *Transaction) error {
	year, err := ParseTransferYear(tx.DateOfTransfer)
	if err != nil {
		return err
	}
	tx.Year = year
	return nil
}

// ParseTransferYear 返回成交日期的年份
func ParseTransferYear(value string) (int, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Year(), nil
		}
	}
	return 0, fmt.Errorf("unparseable date_of_transfer %q", value)
}

// DuplicateDetectionRule 同一 transaction_id 只保留首次出现
type DuplicateDetectionRule struct {
	seen map[string]struct{}
	mu   sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{seen: make(map[string]struct{})}
}

func (r *DuplicateDetectionRule) Name() string { return "duplicate_detection" }

func (r *DuplicateDetectionRule) Apply(tx *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.TransactionID == "" {
		return nil
	}
	if _, ok := r.seen[tx.TransactionID]; ok {
		return fmt.Errorf("duplicate transaction %s", tx.TransactionID)
	}
	r.seen[tx.TransactionID] = struct{}{}
	return nil
}
