package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Casing matters ("Year", "lat", "long"): the artifact selects by name.
const (
	ColPropertyType = "property_type"
	ColNewBuild     = "new_build"
	ColTenure       = "tenure"
	ColYear         = "Year"
	ColLat          = "lat"
	ColLong         = "long"
)

var (
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrInvalidInput   = errors.New("invalid input")
)

func CategoricalColumns() []string {
	return []string{ColPropertyType, ColNewBuild, ColTenure}
}

func NumericColumns() []string {
	return []string{ColYear, ColLat, ColLong}
}

func FeatureColumns() []string {
	return append(CategoricalColumns(), NumericColumns()...)
}

type PropertyType string

const (
	Detached       PropertyType = "D"
	SemiDetached   PropertyType = "S"
	Terraced       PropertyType = "T"
	FlatMaisonette PropertyType = "F"
	OtherProperty  PropertyType = "O"
)

var propertyTypeLabels = map[PropertyType]string{
	Detached:       "Detached",
	SemiDetached:   "Semi-Detached",
	Terraced:       "Terraced",
	FlatMaisonette: "Flat/Maisonette",
	OtherProperty:  "Other",
}

func PropertyTypes() []PropertyType {
	return []PropertyType{Detached, SemiDetached, Terraced, FlatMaisonette, OtherProperty}
}

func ParsePropertyType(code string) (PropertyType, error) {
	p := PropertyType(normalizeCode(code))
	if !p.Valid() {
		return p, fmt.Errorf("%w: property_type %q not in {D,S,T,F,O}", ErrSchemaMismatch, code)
	}
	return p, nil
}

func (p PropertyType) Valid() bool {
	_, ok := propertyTypeLabels[p]
	return ok
}

func (p PropertyType) String() string { return string(p) }

func (p PropertyType) Label() string {
	if label, ok := propertyTypeLabels[p]; ok {
		return label
	}
	return "Unknown"
}

type NewBuild string

const (
	NewBuildYes NewBuild = "Y"
	NewBuildNo  NewBuild = "N"
)

func ParseNewBuild(code string) (NewBuild, error) {
	n := NewBuild(normalizeCode(code))
	if !n.Valid() {
		return n, fmt.Errorf("%w: new_build %q not in {Y,N}", ErrSchemaMismatch, code)
	}
	return n, nil
}

func (n NewBuild) Valid() bool { return n == NewBuildYes || n == NewBuildNo }

func (n NewBuild) String() string { return string(n) }

func (n NewBuild) Label() string {
	switch n {
	case NewBuildYes:
		return "Yes"
	case NewBuildNo:
		return "No"
	default:
		return "Unknown"
	}
}

type Tenure string

const (
	Freehold  Tenure = "F"
	Leasehold Tenure = "L"
)

func ParseTenure(code string) (Tenure, error) {
	t := Tenure(normalizeCode(code))
	if !t.Valid() {
		return t, fmt.Errorf("%w: tenure %q not in {F,L}", ErrSchemaMismatch, code)
	}
	return t, nil
}

func (t Tenure) Valid() bool { return t == Freehold || t == Leasehold }

func (t Tenure) String() string { return string(t) }

func (t Tenure) Label() string {
	switch t {
	case Freehold:
		return "Freehold"
	case Leasehold:
		return "Leasehold"
	default:
		return "Unknown"
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type Input struct {
	Latitude     float64
	Longitude    float64
	PropertyType string
	NewBuild     string
	Tenure       string
	Year         int
}

// Row is one record addressed by column name. Missing numeric values are NaN,
// missing categorical values are "".
type Row struct {
	Categorical map[string]string
	Numeric     map[string]float64
}

func NewRow() Row {
	return Row{
		Categorical: make(map[string]string),
		Numeric:     make(map[string]float64),
	}
}

func (r Row) Columns() []string {
	cols := make([]string, 0, len(r.Categorical)+len(r.Numeric))
	for c := range r.Categorical {
		cols = append(cols, c)
	}
	for c := range r.Numeric {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (r Row) Key() string {
	var b strings.Builder
	for i, c := range r.Columns() {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(c)
		b.WriteByte('=')
		if v, ok := r.Categorical[c]; ok {
			b.WriteString(strconv.Quote(v))
			continue
		}
		b.WriteString(strconv.FormatFloat(r.Numeric[c], 'g', -1, 64))
	}
	return b.String()
}

type Encoder struct {
	Strict bool
}

func (e Encoder) Encode(in Input) (Row, error) {
	if !finite(in.Latitude) || !finite(in.Longitude) {
		return Row{}, fmt.Errorf("%w: latitude and longitude must be finite", ErrInvalidInput)
	}

	propertyType, err := ParsePropertyType(in.PropertyType)
	if err != nil && e.Strict {
		return Row{}, err
	}
	newBuild, err := ParseNewBuild(in.NewBuild)
	if err != nil && e.Strict {
		return Row{}, err
	}
	tenure, err := ParseTenure(in.Tenure)
	if err != nil && e.Strict {
		return Row{}, err
	}

	row := NewRow()
	row.Categorical[ColPropertyType] = propertyType.String()
	row.Categorical[ColNewBuild] = newBuild.String()
	row.Categorical[ColTenure] = tenure.String()
	row.Numeric[ColYear] = float64(in.Year)
	row.Numeric[ColLat] = in.Latitude
	row.Numeric[ColLong] = in.Longitude
	return row, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
