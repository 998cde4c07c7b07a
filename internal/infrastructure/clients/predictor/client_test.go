package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_PredictBedDemand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict/bed-demand", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("hospital_id"))
		assert.Equal(t, "2", r.URL.Query().Get("days_ahead"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		_ = json.NewEncoder(w).Encode(BedDemandResponse{
			HospitalID: 7,
			Predictions: []map[string]float64{
				{"ICU": 1, "General": 4.2},
				{"ICU": 2, "General": 5},
			},
			ModelVersion: "v3",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second)
	resp, err := client.PredictBedDemand(context.Background(), BedDemandRequest{HospitalID: 7, DaysAhead: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.HospitalID)
	require.Len(t, resp.Predictions, 2)
	assert.InDelta(t, 4.2, resp.Predictions[0]["General"], 1e-9)
	assert.Equal(t, "v3", resp.ModelVersion)
}

func TestHTTPClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.PredictBedDemand(context.Background(), BedDemandRequest{HospitalID: 1, DaysAhead: 1})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestHTTPClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"healthy":true,"model_version":"v3"}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, 0).Health(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Healthy)
	assert.Equal(t, "v3", resp.ModelVersion)
}
