package scorerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"revscore/internal/models"
)

// VersionReporter receives model versions observed in scoring responses.
// Implemented by the model registry.
type VersionReporter interface {
	RecordObservedVersion(modelName, version string)
}

// Client is a client for the remote scoring service API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	reporter   VersionReporter
}

// NewClient creates a new scoring service client. The timeout covers one
// round trip; a timed-out call is retried exactly once before it is surfaced
// as a hard failure.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SetVersionReporter wires the registry in after construction. The registry
// itself needs the client for its cold-start bootstrap, so this cannot be a
// constructor argument.
func (c *Client) SetVersionReporter(r VersionReporter) {
	c.reporter = r
}

type scoreRequest struct {
	Models    []string `json:"models"`
	Revisions []int64  `json:"revisions"`
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wireScore struct {
	Prediction  json.RawMessage    `json:"prediction"`
	Probability map[string]float64 `json:"probability"`
}

type wireModelResult struct {
	Version string     `json:"version,omitempty"`
	Score   *wireScore `json:"score,omitempty"`
	Error   *wireError `json:"error,omitempty"`
}

type scoreResponse struct {
	Scores map[string]map[string]wireModelResult `json:"scores"`
}

// Score requests scores for the given revisions from the given models. The
// result maps revision id -> model name -> outcome. Per-item upstream errors
// become typed outcomes; transport failures and non-2xx responses abort the
// whole call with a *models.ServiceError.
func (c *Client) Score(ctx context.Context, modelNames []string, revisionIDs []int64) (map[int64]map[string]models.ScoreOutcome, error) {
	body, err := json.Marshal(scoreRequest{Models: modelNames, Revisions: revisionIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	var resp scoreResponse
	if err := c.postJSON(ctx, "/v1/scores", body, &resp); err != nil {
		return nil, err
	}

	out := make(map[int64]map[string]models.ScoreOutcome, len(resp.Scores))
	for revKey, perModel := range resp.Scores {
		revID, err := strconv.ParseInt(revKey, 10, 64)
		if err != nil {
			c.logger.Warn("Scorer returned non-numeric revision key", zap.String("key", revKey))
			continue
		}
		outcomes := make(map[string]models.ScoreOutcome, len(perModel))
		for modelName, result := range perModel {
			if result.Version != "" && c.reporter != nil {
				c.reporter.RecordObservedVersion(modelName, result.Version)
			}
			outcomes[modelName] = decodeOutcome(result)
		}
		out[revID] = outcomes
	}
	return out, nil
}

func decodeOutcome(result wireModelResult) models.ScoreOutcome {
	if result.Error != nil {
		kind := models.OutcomeNotFound
		if result.Error.Type == "RevisionNotScorable" {
			kind = models.OutcomeNotScorable
		}
		return models.ScoreOutcome{Kind: kind, Message: result.Error.Message}
	}
	if result.Score == nil {
		return models.ScoreOutcome{Kind: models.OutcomeNotFound, Message: "empty result"}
	}
	return models.ScoreOutcome{
		Kind:          models.OutcomeSuccess,
		Prediction:    normalizePrediction(result.Score.Prediction),
		Probabilities: result.Score.Probability,
	}
}

// normalizePrediction turns the wire prediction value into a class name.
// Boolean predictions become the literal "true"/"false" so they can be
// compared against configured class keys.
func normalizePrediction(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

type modelInfoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ModelInfo returns the scorer's current version string for the named model.
// Used by the registry's cold-start bootstrap.
func (c *Client) ModelInfo(ctx context.Context, modelName string) (string, error) {
	var resp modelInfoResponse
	if err := c.getJSON(ctx, "/v1/models/"+modelName, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

type statisticsRequest struct {
	Formulas []string `json:"formulas"`
}

// FetchStatistics requests threshold statistics for the given canonical
// formula strings. The response is keyed by outcome ("true"/"false") and then
// by formula.
func (c *Client) FetchStatistics(ctx context.Context, modelName string, formulas []string) (models.Statistics, error) {
	body, err := json.Marshal(statisticsRequest{Formulas: formulas})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal statistics request: %w", err)
	}

	var stats models.Statistics
	if err := c.postJSON(ctx, "/v1/models/"+modelName+"/statistics", body, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	return c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	}, out)
}

// doWithRetry performs the request, retrying exactly once on a timeout or a
// 503/504 from the upstream. Any other non-2xx is a hard failure with no
// retry.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error), out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := build()
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if isTimeout(err) && attempt == 0 {
				c.logger.Warn("Scorer request timed out, retrying once", zap.String("url", req.URL.Path))
				lastErr = err
				continue
			}
			return &models.ServiceError{Message: err.Error()}
		}

		transient, err := c.decodeResponse(resp, out)
		if err == nil {
			return nil
		}
		if transient && attempt == 0 {
			c.logger.Warn("Scorer returned transient status, retrying once",
				zap.String("url", req.URL.Path), zap.Error(err))
			lastErr = err
			continue
		}
		return err
	}
	return &models.ServiceError{Message: fmt.Sprintf("retry exhausted: %v", lastErr)}
}

func (c *Client) decodeResponse(resp *http.Response, out interface{}) (transient bool, err error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		svcErr := &models.ServiceError{StatusCode: resp.StatusCode, Message: string(body)}
		transient = resp.StatusCode == http.StatusServiceUnavailable ||
			resp.StatusCode == http.StatusGatewayTimeout
		return transient, svcErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, &models.ServiceError{Message: fmt.Sprintf("failed to decode response: %v", err)}
	}
	return false, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
