package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bristolhouse/geo"
	"bristolhouse/ml"
	"bristolhouse/serving"
)

const (
	MinYear = 2000
	MaxYear = 2025

	msgClickRejected  = "Click ignored. Please choose a spot inside Bristol bounds."
	msgManualRejected = "Manual coordinates must be within Bristol bounds."
)

var (
	// ErrGeofenceRejected is matched by every *GeofenceError.
	ErrGeofenceRejected = errors.New("location outside bounds")
	// ErrPredictDisabled means no in-bounds location is selected; no request is sent.
	ErrPredictDisabled = errors.New("predict disabled: choose a location inside the bounds")
	ErrYearOutOfRange  = fmt.Errorf("year must be between %d and %d", MinYear, MaxYear)
	ErrUnknownLocation = errors.New("unknown quick location")
)

// GeofenceError carries the notice shown to the user.
type GeofenceError struct {
	Point   geo.Point
	Message string
}

func (e *GeofenceError) Error() string { return e.Message }

func (e *GeofenceError) Unwrap() error { return ErrGeofenceRejected }

// Predictor is satisfied by *APIClient.
type Predictor interface {
	Predict(ctx context.Context, req serving.Request) (*serving.Response, error)
}

// QuickLocation is a named shortcut onto the map.
type QuickLocation struct {
	Name  string
	Point geo.Point
}

// DefaultQuickLocations are four neighbourhoods inside geo.Bristol.
func DefaultQuickLocations() []QuickLocation {
	return []QuickLocation{
		{Name: "Clifton", Point: geo.Point{Lat: 51.4641, Lon: -2.6103}},
		{Name: "Redland", Point: geo.Point{Lat: 51.4711, Lon: -2.6037}},
		{Name: "Southville", Point: geo.Point{Lat: 51.4398, Lon: -2.6205}},
		{Name: "Bedminster", Point: geo.Point{Lat: 51.4325, Lon: -2.5889}},
	}
}

// Options configures a Session. Zero values select Bristol and the default
// shortcuts.
type Options struct {
	Bounds         geo.BoundingBox
	QuickLocations []QuickLocation
	Now            func() time.Time
}

// Prediction is the last successful answer together with what was asked.
type Prediction struct {
	Response     *serving.Response
	Location     geo.Point
	PropertyType ml.PropertyType
	NewBuild     ml.NewBuild
	Tenure       ml.Tenure
	Year         int
	At           time.Time
}

// Session holds one user's map selection and property details. Rejected
// input never changes the selection.
type Session struct {
	predictor Predictor
	bounds    geo.BoundingBox
	quick     []QuickLocation
	now       func() time.Time

	mu           sync.Mutex
	selected     *geo.Point
	propertyType ml.PropertyType
	newBuild     ml.NewBuild
	tenure       ml.Tenure
	year         int
	prediction   *Prediction
}

// NewSession fails if the bounds are invalid or any shortcut lies outside them.
func NewSession(predictor Predictor, opts Options) (*Session, error) {
	if predictor == nil {
		return nil, errors.New("predictor is required")
	}
	if opts.Bounds == (geo.BoundingBox{}) {
		opts.Bounds = geo.Bristol
	}
	if err := opts.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("session bounds: %w", err)
	}
	if opts.QuickLocations == nil {
		opts.QuickLocations = DefaultQuickLocations()
	}
	seen := make(map[string]bool, len(opts.QuickLocations))
	for _, q := range opts.QuickLocations {
		if !opts.Bounds.ContainsPoint(q.Point) {
			return nil, fmt.Errorf("quick location %s (%.4f, %.4f) is outside %s", q.Name, q.Point.Lat, q.Point.Lon, opts.Bounds)
		}
		if seen[q.Name] {
			return nil, fmt.Errorf("duplicate quick location %s", q.Name)
		}
		seen[q.Name] = true
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	year := opts.Now().Year()
	year = max(MinYear, min(MaxYear, year))

	return &Session{
		predictor:    predictor,
		bounds:       opts.Bounds,
		quick:        append([]QuickLocation(nil), opts.QuickLocations...),
		now:          opts.Now,
		propertyType: ml.Detached,
		newBuild:     ml.NewBuildNo,
		tenure:       ml.Freehold,
		year:         year,
	}, nil
}

func (s *Session) Bounds() geo.BoundingBox { return s.bounds }

func (s *Session) QuickLocations() []QuickLocation {
	return append([]QuickLocation(nil), s.quick...)
}

// Click selects a map point.
func (s *Session) Click(lat, lon float64) error {
	return s.selectPoint(geo.Point{Lat: lat, Lon: lon}, msgClickRejected)
}

// EnterCoordinates selects manually typed coordinates.
func (s *Session) EnterCoordinates(lat, lon float64) error {
	return s.selectPoint(geo.Point{Lat: lat, Lon: lon}, msgManualRejected)
}

// QuickSelect selects a named shortcut.
func (s *Session) QuickSelect(name string) error {
	for _, q := range s.quick {
		if q.Name == name {
			return s.selectPoint(q.Point, msgClickRejected)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownLocation, name)
}

func (s *Session) selectPoint(p geo.Point, message string) error {
	if !s.bounds.ContainsPoint(p) {
		return &GeofenceError{Point: p, Message: message}
	}
	s.mu.Lock()
	s.selected = &p
	s.mu.Unlock()
	return nil
}

// Selected returns the current location, if any.
func (s *Session) Selected() (geo.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return geo.Point{}, false
	}
	return *s.selected, true
}

// CanPredict reports whether the predict action is enabled.
func (s *Session) CanPredict() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected != nil && s.bounds.ContainsPoint(*s.selected)
}

func (s *Session) SetPropertyType(code string) error {
	pt, err := ml.ParsePropertyType(code)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.propertyType = pt
	s.mu.Unlock()
	return nil
}

func (s *Session) SetNewBuild(code string) error {
	nb, err := ml.ParseNewBuild(code)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.newBuild = nb
	s.mu.Unlock()
	return nil
}

func (s *Session) SetTenure(code string) error {
	t, err := ml.ParseTenure(code)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tenure = t
	s.mu.Unlock()
	return nil
}

// SetYear accepts MinYear through MaxYear.
func (s *Session) SetYear(year int) error {
	if year < MinYear || year > MaxYear {
		return fmt.Errorf("%w, got %d", ErrYearOutOfRange, year)
	}
	s.mu.Lock()
	s.year = year
	s.mu.Unlock()
	return nil
}

func (s *Session) Year() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.year
}

// Predict sends the current selection. A failed call leaves the session,
// including any earlier prediction, as it was.
func (s *Session) Predict(ctx context.Context) (*Prediction, error) {
	s.mu.Lock()
	if s.selected == nil || !s.bounds.ContainsPoint(*s.selected) {
		s.mu.Unlock()
		return nil, ErrPredictDisabled
	}
	pending := Prediction{
		Location:     *s.selected,
		PropertyType: s.propertyType,
		NewBuild:     s.newBuild,
		Tenure:       s.tenure,
		Year:         s.year,
	}
	s.mu.Unlock()

	req := serving.NewRequest(pending.Location.Lat, pending.Location.Lon,
		pending.PropertyType.String(), pending.NewBuild.String(), pending.Tenure.String(), pending.Year)
	resp, err := s.predictor.Predict(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	pending.Response = resp
	pending.At = s.now()

	s.mu.Lock()
	s.prediction = &pending
	s.mu.Unlock()
	return &pending, nil
}

// Prediction returns the last successful prediction, or nil.
func (s *Session) Prediction() *Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prediction
}

func (s *Session) ClearPrediction() {
	s.mu.Lock()
	s.prediction = nil
	s.mu.Unlock()
}
