package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bristolhouse/serving"
)

func TestAPIClientPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["property_type"] != "D" || body["latitude"] != 51.4641 {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(serving.Response{PredictedPrice: 500000, FormattedPrice: "£500,000"})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL + "/")
	resp, err := c.Predict(context.Background(), serving.NewRequest(51.4641, -2.6103, "D", "N", "F", 2024))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FormattedPrice != "£500,000" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAPIClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		detail string
	}{
		{"not loaded", http.StatusInternalServerError, `{"detail":"Model not loaded"}`, "Model not loaded"},
		{"bad request", http.StatusBadRequest, `{"detail":"field latitude is required"}`, "field latitude is required"},
		{"plain body", http.StatusBadGateway, "upstream down", "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewAPIClient(srv.URL).Predict(context.Background(), serving.NewRequest(51.45, -2.6, "D", "N", "F", 2024))
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Status != tt.status || apiErr.Detail != tt.detail {
				t.Fatalf("unexpected error %+v", apiErr)
			}
		})
	}
}

func TestAPIClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewAPIClientWithHTTP(srv.URL, &http.Client{Timeout: 50 * time.Millisecond})
	if _, err := c.Health(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestAPIClientHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","model_status":"not_loaded"}`))
	}))
	defer srv.Close()

	health, err := NewAPIClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if health.Status != "healthy" || health.ModelStatus != "not_loaded" {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestDefaultClient(t *testing.T) {
	c := NewAPIClient("")
	if c.baseURL != DefaultBaseURL || c.client.Timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults %s %v", c.baseURL, c.client.Timeout)
	}
}
