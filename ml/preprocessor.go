package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

type DataPreprocessor struct {
	CategoricalColumns []string            `json:"categorical_columns"`
	NumericColumns     []string            `json:"numeric_columns"`
	Categories         map[string][]string `json:"categories"`
	Modes              map[string]string   `json:"modes"`
	Medians            map[string]float64  `json:"medians"`
}

func NewDataPreprocessor(categorical, numeric []string) *DataPreprocessor {
	return &DataPreprocessor{
		CategoricalColumns: append([]string(nil), categorical...),
		NumericColumns:     append([]string(nil), numeric...),
	}
}

func (p *DataPreprocessor) Fit(rows []Row) error {
	if len(rows) == 0 {
		return errors.New("rows is empty")
	}
	if len(p.CategoricalColumns)+len(p.NumericColumns) == 0 {
		return errors.New("no columns configured")
	}

	p.Categories = make(map[string][]string, len(p.CategoricalColumns))
	p.Modes = make(map[string]string, len(p.CategoricalColumns))
	p.Medians = make(map[string]float64, len(p.NumericColumns))

	for _, col := range p.CategoricalColumns {
		counts := make(map[string]int)
		for i, row := range rows {
			v, ok := row.Categorical[col]
			if !ok {
				return fmt.Errorf("%w: row %d missing column %q", ErrSchemaMismatch, i, col)
			}
			if v != "" {
				counts[v]++
			}
		}
		if len(counts) == 0 {
			return fmt.Errorf("column %q has no observed values", col)
		}
		levels := make([]string, 0, len(counts))
		for level := range counts {
			levels = append(levels, level)
		}
		sort.Strings(levels)
		p.Categories[col] = levels
		p.Modes[col] = mostFrequent(levels, counts)
	}

	for _, col := range p.NumericColumns {
		values := make([]float64, 0, len(rows))
		for i, row := range rows {
			v, ok := row.Numeric[col]
			if !ok {
				return fmt.Errorf("%w: row %d missing column %q", ErrSchemaMismatch, i, col)
			}
			if !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return fmt.Errorf("column %q has no observed values", col)
		}
		p.Medians[col] = median(values)
	}
	return nil
}

// Transform encodes one row. Unknown levels become an all-zero block.
func (p *DataPreprocessor) Transform(row Row) ([]float64, error) {
	if p.Categories == nil || p.Medians == nil {
		return nil, errors.New("preprocessor not fitted")
	}

	vector := make([]float64, 0, p.Width())
	for _, col := range p.CategoricalColumns {
		v, ok := row.Categorical[col]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrSchemaMismatch, col)
		}
		if v == "" {
			v = p.Modes[col]
		}
		levels := p.Categories[col]
		block := make([]float64, len(levels))
		if idx := sort.SearchStrings(levels, v); idx < len(levels) && levels[idx] == v {
			block[idx] = 1
		}
		vector = append(vector, block...)
	}
	for _, col := range p.NumericColumns {
		v, ok := row.Numeric[col]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrSchemaMismatch, col)
		}
		if math.IsNaN(v) {
			v = p.Medians[col]
		}
		vector = append(vector, v)
	}
	return vector, nil
}

func (p *DataPreprocessor) TransformAll(rows []Row) ([][]float64, error) {
	vectors := make([][]float64, len(rows))
	for i, row := range rows {
		vector, err := p.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (p *DataPreprocessor) Width() int {
	width := len(p.NumericColumns)
	for _, col := range p.CategoricalColumns {
		width += len(p.Categories[col])
	}
	return width
}

func (p *DataPreprocessor) FeatureNames() []string {
	names := make([]string, 0, p.Width())
	for _, col := range p.CategoricalColumns {
		for _, level := range p.Categories[col] {
			names = append(names, "cat__"+col+"_"+level)
		}
	}
	for _, col := range p.NumericColumns {
		names = append(names, "num__"+col)
	}
	return names
}

func (p *DataPreprocessor) Columns() []string {
	return append(append([]string(nil), p.CategoricalColumns...), p.NumericColumns...)
}

func (p *DataPreprocessor) validate() error {
	if len(p.CategoricalColumns)+len(p.NumericColumns) == 0 {
		return errors.New("preprocessor has no columns")
	}
	for _, col := range p.CategoricalColumns {
		levels, ok := p.Categories[col]
		if !ok || len(levels) == 0 {
			return fmt.Errorf("no categories for %q", col)
		}
		if !sort.StringsAreSorted(levels) {
			return fmt.Errorf("categories for %q are not sorted", col)
		}
	}
	for _, col := range p.NumericColumns {
		if _, ok := p.Medians[col]; !ok {
			return fmt.Errorf("no median for %q", col)
		}
	}
	return nil
}

// mostFrequent breaks ties by the smallest level; levels must be sorted.
func mostFrequent(levels []string, counts map[string]int) string {
	best := levels[0]
	for _, level := range levels[1:] {
		if counts[level] > counts[best] {
			best = level
		}
	}
	return best
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
