package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"bristolhouse/geo"
	"bristolhouse/serving"
)

type fakePredictor struct {
	calls int
	last  serving.Request
	err   error
}

func (f *fakePredictor) Predict(ctx context.Context, req serving.Request) (*serving.Response, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &serving.Response{
		PredictedPrice: 412345,
		FormattedPrice: "£412,345",
		Location:       serving.Location{Latitude: *req.Latitude, Longitude: *req.Longitude},
		InputsUsed:     serving.InputsUsed{PropertyType: *req.PropertyType, NewBuild: *req.NewBuild, Tenure: *req.Tenure, Year: *req.Year},
	}, nil
}

func fixedNow() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

func newSession(t *testing.T, p Predictor) *Session {
	t.Helper()
	s, err := NewSession(p, Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestGeofenceRejectsOutside(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lon     float64
		inside  bool
		message string
	}{
		{"centre", 51.4545, -2.5879, true, ""},
		{"south west corner", 51.35, -2.75, true, ""},
		{"north east corner", 51.55, -2.45, true, ""},
		{"north of box", 52.0, -2.59, false, msgClickRejected},
		{"east of box", 51.45, -2.44, false, msgClickRejected},
		{"london", 51.5074, -0.1278, false, msgClickRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, &fakePredictor{})
			err := s.Click(tt.lat, tt.lon)
			if tt.inside {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !s.CanPredict() {
					t.Fatal("expected predict to be enabled")
				}
				return
			}
			if !errors.Is(err, ErrGeofenceRejected) {
				t.Fatalf("expected ErrGeofenceRejected, got %v", err)
			}
			var gf *GeofenceError
			if !errors.As(err, &gf) || gf.Message != tt.message {
				t.Fatalf("unexpected message %v", err)
			}
			if _, ok := s.Selected(); ok {
				t.Fatal("rejected click changed the selection")
			}
		})
	}
}

func TestRejectedInputKeepsSelection(t *testing.T) {
	s := newSession(t, &fakePredictor{})
	if err := s.QuickSelect("Redland"); err != nil {
		t.Fatalf("quick select: %v", err)
	}

	err := s.EnterCoordinates(52.0, -2.59)
	var gf *GeofenceError
	if !errors.As(err, &gf) || gf.Message != msgManualRejected {
		t.Fatalf("expected manual-entry notice, got %v", err)
	}
	p, ok := s.Selected()
	if !ok || p != (geo.Point{Lat: 51.4711, Lon: -2.6037}) {
		t.Fatalf("selection changed to %+v", p)
	}

	if err := s.EnterCoordinates(51.45, -2.60); err != nil {
		t.Fatalf("in-bounds manual entry rejected: %v", err)
	}
	if p, _ := s.Selected(); p.Lat != 51.45 {
		t.Fatalf("expected manual point, got %+v", p)
	}
}

func TestPredictDisabledWithoutSelection(t *testing.T) {
	p := &fakePredictor{}
	s := newSession(t, p)
	if s.CanPredict() {
		t.Fatal("predict should start disabled")
	}
	_ = s.Click(52.0, -2.59)
	if _, err := s.Predict(context.Background()); !errors.Is(err, ErrPredictDisabled) {
		t.Fatalf("expected ErrPredictDisabled, got %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("expected no API call, got %d", p.calls)
	}
}

func TestPredictClifton(t *testing.T) {
	p := &fakePredictor{}
	s := newSession(t, p)
	if err := s.QuickSelect("Clifton"); err != nil {
		t.Fatalf("quick select: %v", err)
	}
	if err := s.SetPropertyType("d"); err != nil {
		t.Fatalf("set property type: %v", err)
	}

	pred, err := s.Predict(context.Background())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected one call, got %d", p.calls)
	}
	if *p.last.Latitude != 51.4641 || *p.last.Longitude != -2.6103 || *p.last.PropertyType != "D" {
		t.Fatalf("unexpected request %+v", p.last)
	}
	if *p.last.NewBuild != "N" || *p.last.Tenure != "F" || *p.last.Year != 2024 {
		t.Fatalf("unexpected defaults in request")
	}
	if pred.Response.InputsUsed.PropertyType != "D" || !pred.At.Equal(fixedNow()) {
		t.Fatalf("unexpected prediction %+v", pred)
	}
	if s.Prediction() != pred {
		t.Fatal("prediction not stored")
	}

	s.ClearPrediction()
	if s.Prediction() != nil {
		t.Fatal("prediction not cleared")
	}
	if !s.CanPredict() {
		t.Fatal("clearing the prediction should keep the selection")
	}
}

func TestPredictFailureKeepsSession(t *testing.T) {
	p := &fakePredictor{}
	s := newSession(t, p)
	_ = s.QuickSelect("Bedminster")
	first, err := s.Predict(context.Background())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	p.err = &APIError{Status: 500, Detail: "Model not loaded"}
	_, err = s.Predict(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "Model not loaded" {
		t.Fatalf("expected APIError, got %v", err)
	}
	if s.Prediction() != first || !s.CanPredict() {
		t.Fatal("failed call changed the session")
	}
}

func TestSetYear(t *testing.T) {
	s := newSession(t, &fakePredictor{})
	for _, year := range []int{2000, 2025} {
		if err := s.SetYear(year); err != nil {
			t.Fatalf("year %d rejected: %v", year, err)
		}
	}
	for _, year := range []int{1999, 2026} {
		if err := s.SetYear(year); !errors.Is(err, ErrYearOutOfRange) {
			t.Fatalf("year %d: expected ErrYearOutOfRange, got %v", year, err)
		}
	}
	if s.Year() != 2025 {
		t.Fatalf("rejected years changed the value to %d", s.Year())
	}
}

func TestDefaultYearClamped(t *testing.T) {
	s, err := NewSession(&fakePredictor{}, Options{Now: func() time.Time { return time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC) }})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.Year() != MaxYear {
		t.Fatalf("expected %d, got %d", MaxYear, s.Year())
	}
}

func TestSetCodes(t *testing.T) {
	s := newSession(t, &fakePredictor{})
	if err := s.SetPropertyType("X"); err == nil {
		t.Error("expected error for unknown property type")
	}
	if err := s.SetNewBuild("maybe"); err == nil {
		t.Error("expected error for unknown new build flag")
	}
	if err := s.SetTenure("L"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := s.QuickSelect("Atlantis"); !errors.Is(err, ErrUnknownLocation) {
		t.Errorf("expected ErrUnknownLocation, got %v", err)
	}
}

func TestQuickLocationsInsideBounds(t *testing.T) {
	for _, q := range DefaultQuickLocations() {
		if !geo.Bristol.ContainsPoint(q.Point) {
			t.Errorf("%s is outside Bristol", q.Name)
		}
	}

	_, err := NewSession(&fakePredictor{}, Options{
		QuickLocations: []QuickLocation{{Name: "Bath", Point: geo.Point{Lat: 51.3811, Lon: -2.3590}}},
	})
	if err == nil {
		t.Fatal("expected out-of-bounds shortcut to be rejected")
	}
	if _, err := NewSession(nil, Options{}); err == nil {
		t.Fatal("expected error for nil predictor")
	}
}

func TestGeofenceNoticesArePlainText(t *testing.T) {
	for _, msg := range []string{msgClickRejected, msgManualRejected} {
		for _, r := range msg {
			if r > 0x7e {
				t.Fatalf("notice %q contains non-ASCII %q", msg, r)
			}
		}
	}
}
