package ml

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestEncodeNormalizesCodes(t *testing.T) {
	row, err := Encoder{}.Encode(Input{
		Latitude:     51.4641,
		Longitude:    -2.6103,
		PropertyType: " d ",
		NewBuild:     "n",
		Tenure:       "f",
		Year:         2024,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := row.Categorical[ColPropertyType]; got != "D" {
		t.Fatalf("expected property_type D, got %q", got)
	}
	if got := row.Categorical[ColNewBuild]; got != "N" {
		t.Fatalf("expected new_build N, got %q", got)
	}
	if got := row.Numeric[ColYear]; got != 2024 {
		t.Fatalf("expected Year 2024, got %v", got)
	}
	if got := row.Numeric[ColLong]; got != -2.6103 {
		t.Fatalf("expected long -2.6103, got %v", got)
	}
}

func TestEncodeColumnsMatchSchema(t *testing.T) {
	row, err := Encoder{}.Encode(Input{Latitude: 51.45, Longitude: -2.59, PropertyType: "T", NewBuild: "Y", Tenure: "L", Year: 2010})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Year", "lat", "long", "new_build", "property_type", "tenure"}
	if got := row.Columns(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected columns %v, got %v", want, got)
	}
}

func TestEncodeUnknownCodes(t *testing.T) {
	in := Input{Latitude: 51.45, Longitude: -2.59, PropertyType: "X", NewBuild: "N", Tenure: "F", Year: 2024}

	row, err := Encoder{}.Encode(in)
	if err != nil {
		t.Fatalf("lenient encode should pass unknown codes through: %v", err)
	}
	if row.Categorical[ColPropertyType] != "X" {
		t.Fatalf("expected X passed through, got %q", row.Categorical[ColPropertyType])
	}

	if _, err := (Encoder{Strict: true}).Encode(in); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch in strict mode, got %v", err)
	}
}

func TestEncodeRejectsNonFiniteCoordinates(t *testing.T) {
	tests := []Input{
		{Latitude: math.NaN(), Longitude: -2.59, PropertyType: "D"},
		{Latitude: 51.45, Longitude: math.Inf(1), PropertyType: "D"},
	}
	for _, in := range tests {
		if _, err := (Encoder{}).Encode(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", in, err)
		}
	}
}

func TestParseEnums(t *testing.T) {
	for _, p := range PropertyTypes() {
		parsed, err := ParsePropertyType(p.String())
		if err != nil || parsed != p {
			t.Fatalf("round trip failed for %s: %v", p, err)
		}
	}
	if FlatMaisonette.Label() != "Flat/Maisonette" {
		t.Fatalf("unexpected label %q", FlatMaisonette.Label())
	}
	if _, err := ParseNewBuild("maybe"); err == nil {
		t.Fatal("expected error for new_build maybe")
	}
	if tenure, err := ParseTenure(" l"); err != nil || tenure != Leasehold {
		t.Fatalf("expected Leasehold, got %v %v", tenure, err)
	}
	if PropertyType("Z").Label() != "Unknown" {
		t.Fatal("expected Unknown label for invalid code")
	}
}

func TestRowKeyIsStable(t *testing.T) {
	a := NewRow()
	a.Categorical[ColTenure] = "F"
	a.Categorical[ColPropertyType] = "D"
	a.Numeric[ColLat] = 51.4
	a.Numeric[ColYear] = 2024

	b := NewRow()
	b.Numeric[ColYear] = 2024
	b.Numeric[ColLat] = 51.4
	b.Categorical[ColPropertyType] = "D"
	b.Categorical[ColTenure] = "F"

	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	b.Numeric[ColLat] = 51.41
	if a.Key() == b.Key() {
		t.Fatal("expected different keys for different values")
	}
}
