// Package client is the map front end's side of the prediction API: a
// geofenced selection session and an HTTP client for the service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bristolhouse/serving"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 10 * time.Second
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Detail)
}

// Health is the /health body.
type Health struct {
	Status      string `json:"status"`
	ModelStatus string `json:"model_status"`
}

// APIClient calls the prediction service.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient returns a client with the 10 second request timeout. An
// empty baseURL means DefaultBaseURL.
func NewAPIClient(baseURL string) *APIClient {
	return NewAPIClientWithHTTP(baseURL, &http.Client{Timeout: DefaultTimeout})
}

func NewAPIClientWithHTTP(baseURL string, hc *http.Client) *APIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), client: hc}
}

// Predict posts req to /predict.
func (c *APIClient) Predict(ctx context.Context, req serving.Request) (*serving.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp serving.Response
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health fetches /health.
func (c *APIClient) Health(ctx context.Context) (*Health, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	var health Health
	if err := c.do(httpReq, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *APIClient) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var body struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &body) == nil && body.Detail != "" {
			apiErr.Detail = body.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
