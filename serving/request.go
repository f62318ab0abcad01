package serving

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"bristolhouse/ml"
)

const (
	DefaultNewBuild = "N"
	DefaultTenure   = "F"
	DefaultYear     = 2024
)

// Request is the prediction payload. Pointer fields distinguish absent from
// zero so required coordinates can be detected and defaults applied.
type Request struct {
	Latitude     *float64 `json:"latitude" validate:"required"`
	Longitude    *float64 `json:"longitude" validate:"required"`
	PropertyType *string  `json:"property_type" validate:"required"`
	NewBuild     *string  `json:"new_build,omitempty"`
	Tenure       *string  `json:"tenure,omitempty"`
	Year         *int     `json:"year,omitempty"`
}

// NewRequest builds a fully populated request.
func NewRequest(lat, lon float64, propertyType, newBuild, tenure string, year int) Request {
	return Request{
		Latitude:     &lat,
		Longitude:    &lon,
		PropertyType: &propertyType,
		NewBuild:     &newBuild,
		Tenure:       &tenure,
		Year:         &year,
	}
}

// Input applies defaults. Call only after validation.
func (r Request) Input() ml.Input {
	in := ml.Input{
		Latitude:     *r.Latitude,
		Longitude:    *r.Longitude,
		PropertyType: *r.PropertyType,
		NewBuild:     DefaultNewBuild,
		Tenure:       DefaultTenure,
		Year:         DefaultYear,
	}
	if r.NewBuild != nil {
		in.NewBuild = *r.NewBuild
	}
	if r.Tenure != nil {
		in.Tenure = *r.Tenure
	}
	if r.Year != nil {
		in.Year = *r.Year
	}
	return in
}

// Location echoes the coordinates used.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// InputsUsed echoes the normalized categorical inputs and year.
type InputsUsed struct {
	PropertyType string `json:"property_type"`
	NewBuild     string `json:"new_build"`
	Tenure       string `json:"tenure"`
	Year         int    `json:"year"`
}

type Response struct {
	PredictedPrice float64    `json:"predicted_price"`
	FormattedPrice string     `json:"formatted_price"`
	Location       Location   `json:"location"`
	InputsUsed     InputsUsed `json:"inputs_used"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describeValidation flattens validator errors into one detail string.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("field %s is required", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
