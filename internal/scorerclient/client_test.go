package scorerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"revscore/internal/models"
)

type recordingReporter struct {
	observed map[string]string
}

func (r *recordingReporter) RecordObservedVersion(modelName, version string) {
	if r.observed == nil {
		r.observed = make(map[string]string)
	}
	r.observed[modelName] = version
}

func TestScore_DecodesOutcomesAndReportsVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scores", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"scores": {
				"100": {
					"damaging": {
						"version": "0.5.1",
						"score": {"prediction": true, "probability": {"true": 0.9, "false": 0.1}}
					}
				},
				"101": {
					"damaging": {"error": {"type": "RevisionNotFound", "message": "gone"}}
				},
				"102": {
					"damaging": {"error": {"type": "RevisionNotScorable", "message": "first revision"}}
				}
			}
		}`))
	}))
	defer srv.Close()

	reporter := &recordingReporter{}
	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	client.SetVersionReporter(reporter)

	outcomes, err := client.Score(context.Background(), []string{"damaging"}, []int64{100, 101, 102})
	require.NoError(t, err)

	success := outcomes[100]["damaging"]
	assert.Equal(t, models.OutcomeSuccess, success.Kind)
	assert.Equal(t, "true", success.Prediction, "boolean prediction is normalized to a class name")
	assert.Equal(t, 0.9, success.Probabilities["true"])

	assert.Equal(t, models.OutcomeNotFound, outcomes[101]["damaging"].Kind)
	assert.Equal(t, models.OutcomeNotScorable, outcomes[102]["damaging"].Kind)

	assert.Equal(t, map[string]string{"damaging": "0.5.1"}, reporter.observed)
}

func TestScore_ServiceErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	_, err := client.Score(context.Background(), []string{"damaging"}, []int64{1})

	require.Error(t, err)
	var svcErr *models.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScore_TransientStatusIsRetriedOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scores": {}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	_, err := client.Score(context.Background(), []string{"damaging"}, []int64{1})

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestScore_TransientStatusFailsAfterSecondAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "still warming up", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	_, err := client.Score(context.Background(), []string{"damaging"}, []int64{1})

	require.Error(t, err)
	var svcErr *models.ServiceError
	assert.ErrorAs(t, err, &svcErr)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestScore_TimeoutIsRetriedOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scores": {}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 100*time.Millisecond, zap.NewNop())
	_, err := client.Score(context.Background(), []string{"damaging"}, []int64{1})

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestModelInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models/damaging", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name": "damaging", "version": "0.5.1"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	version, err := client.ModelInfo(context.Background(), "damaging")
	require.NoError(t, err)
	assert.Equal(t, "0.5.1", version)
}

func TestFetchStatistics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models/damaging/statistics", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"true": {"maximum recall @ precision >= 0.15": {"threshold": 0.3}},
			"false": {"maximum recall @ precision >= 0.15": {"threshold": 0.7}}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	stats, err := client.FetchStatistics(context.Background(), "damaging", []string{"maximum recall @ precision >= 0.15"})
	require.NoError(t, err)
	assert.Equal(t, 0.3, stats["true"]["maximum recall @ precision >= 0.15"].Threshold)
	assert.Equal(t, 0.7, stats["false"]["maximum recall @ precision >= 0.15"].Threshold)
}
