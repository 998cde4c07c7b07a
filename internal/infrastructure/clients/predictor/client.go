package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the external bed demand prediction service
type Client interface {
	PredictBedDemand(ctx context.Context, req BedDemandRequest) (*BedDemandResponse, error)
	Health(ctx context.Context) (*HealthResponse, error)
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

type BedDemandRequest struct {
	HospitalID int64
	DaysAhead  int
}

// BedDemandResponse carries one map of ward type name to expected demand
// per day, starting today.
type BedDemandResponse struct {
	HospitalID   int64                `json:"hospital_id"`
	Predictions  []map[string]float64 `json:"predictions"`
	ModelVersion string               `json:"model_version,omitempty"`
	GeneratedAt  time.Time            `json:"generated_at,omitempty"`
}

type HealthResponse struct {
	Healthy      bool   `json:"healthy"`
	ModelVersion string `json:"model_version,omitempty"`
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("predictor returned status %d", e.StatusCode)
}

func NewClient(baseURL string, timeout time.Duration) *HTTPClient {
	trimmed := strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: trimmed,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) PredictBedDemand(ctx context.Context, req BedDemandRequest) (*BedDemandResponse, error) {
	parsed, err := url.Parse(fmt.Sprintf("%s/predict/bed-demand", c.baseURL))
	if err != nil {
		return nil, err
	}

	query := parsed.Query()
	query.Set("hospital_id", fmt.Sprintf("%d", req.HospitalID))
	query.Set("days_ahead", fmt.Sprintf("%d", req.DaysAhead))
	parsed.RawQuery = query.Encode()

	out := &BedDemandResponse{}
	if err := c.doJSON(ctx, http.MethodGet, parsed.String(), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	out := &HealthResponse{}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/health", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, body io.Reader, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}

	return nil
}
