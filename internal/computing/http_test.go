package computing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-tdm/internal/adjustment"
	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/pkg/circuitbreaker"
)

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
}

func (o *recordingObserver) ObserveEngineCall(status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func computingRequest() *Request {
	start := time.Date(2022, 6, 19, 8, 0, 0, 0, time.UTC)
	return &Request{
		Trait: &adjustment.Trait{
			RequestID:   "r1",
			DrugModelID: "ch.tdm.vancomycin.adult",
			Start:       start,
			End:         start.Add(7 * 24 * time.Hour),
		},
		Treatment: &treatment.Treatment{
			DrugID: "vancomycin",
			History: treatment.DosageHistory{{
				Start: start,
				End:   start.Add(24 * time.Hour),
				Dosage: &treatment.Loop{Dosage: &treatment.SingleDose{
					ID: "d1", Value: 1000, Unit: "mg", Infusion: time.Hour,
					Schedule: treatment.Schedule{Kind: treatment.ScheduleLasting, Interval: 12 * time.Hour},
				}},
			}},
		},
		DrugModel: &drugmodel.DrugModel{ID: "ch.tdm.vancomycin.adult"},
	}
}

func TestHTTPEngine_ComputeAdjustment(t *testing.T) {
	var got requestPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/adjustments", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(Response{
			RequestID: "r1",
			Status:    StatusSuccess,
			Candidates: []Candidate{{
				Score: 0.9, Dose: 1250, Unit: "mg", IntervalHours: 12,
			}},
		})
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	engine := NewHTTPEngine(HTTPConfig{BaseURL: srv.URL + "/"}, nil, obs, nil)

	resp, err := engine.ComputeAdjustment(context.Background(), computingRequest())
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, 12*time.Hour, resp.Candidates[0].Interval())

	assert.Equal(t, "r1", got.RequestID)
	assert.Equal(t, "vancomycin", got.DrugID)
	require.Len(t, got.Intakes, 2)
	assert.Equal(t, 60.0, got.Intakes[0].InfusionMinutes)
	assert.Equal(t, []string{"success"}, obs.statuses)
}

func TestHTTPEngine_FailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"no convergence"}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPEngine(HTTPConfig{BaseURL: srv.URL}, nil, nil, nil).
		ComputeAdjustment(context.Background(), computingRequest())
	require.NoError(t, err)
	assert.False(t, resp.Succeeded())
	assert.Equal(t, "no convergence", resp.Message)
}

func TestHTTPEngine_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := circuitbreaker.DefaultConfig("engine")
	cfg.FailureThreshold = 2
	breaker, err := circuitbreaker.New(cfg, nil)
	require.NoError(t, err)

	engine := NewHTTPEngine(HTTPConfig{BaseURL: srv.URL}, breaker, nil, nil)
	for i := 0; i < 2; i++ {
		_, err := engine.ComputeAdjustment(context.Background(), computingRequest())
		require.Error(t, err)
	}

	_, err = engine.ComputeAdjustment(context.Background(), computingRequest())
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
	assert.False(t, breaker.Health().Healthy)
}

func TestHTTPEngine_IncompleteRequest(t *testing.T) {
	_, err := NewHTTPEngine(DefaultHTTPConfig(), nil, nil, nil).ComputeAdjustment(context.Background(), &Request{})
	assert.Error(t, err)
}

func TestDryRunEngine(t *testing.T) {
	resp, err := DryRunEngine{}.ComputeAdjustment(context.Background(), computingRequest())
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())
	assert.Equal(t, "r1", resp.RequestID)
	assert.Empty(t, resp.Candidates)
}
