// Package ledger is the HTTP/WebSocket client for the external append-only
// ledger: it posts facts (quality events, reputation updates, final models)
// and fetches contribution metadata, and separately subscribes to the
// ledger's push stream of round/submission events.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ContributionMetadata is the optional self-reported accuracy payload a
// participant may have recorded against the ledger before the aggregator
// downloads their weights. Absence is tolerated by the quality evaluator.
type ContributionMetadata struct {
	Accuracy            *float64 `json:"accuracy,omitempty"`
	ValidationLoss       *float64 `json:"validation_loss,omitempty"`
	ValidationSamples    *int     `json:"validation_samples,omitempty"`
	HasNaNPredictions    bool     `json:"has_nan_predictions"`
	HasInfPredictions    bool     `json:"has_inf_predictions"`
	SelfCertified        bool     `json:"self_certified"`
}

// ContributionFetcher is the subset of Client the quality evaluator depends
// on, kept narrow so it is trivially fakeable in tests.
type ContributionFetcher interface {
	GetContribution(ctx context.Context, roundID, participantID string) (*ContributionMetadata, error)
}

// ReputationUpdate is the body of a POST /reputation/update call.
type ReputationUpdate struct {
	ParticipantID string  `json:"participantId"`
	Score         float64 `json:"score"`
	Reason        string  `json:"reason"`
	RoundID       string  `json:"roundId"`
}

// QualityEvent is the body of a POST /events/quality call: a round-level
// summary of the filtering pass.
type QualityEvent struct {
	RoundID           string             `json:"roundId"`
	ThresholdUsed     float64            `json:"thresholdUsed"`
	AvgQuality        float64            `json:"avgQuality"`
	AvgReputation     float64            `json:"avgReputation"`
	NumModels         int                `json:"numModels"`
	NumAccepted       int                `json:"numAccepted"`
	PerParticipant    map[string]float64 `json:"perParticipant"`
}

// FinalModel is the body of a POST /models/final call.
type FinalModel struct {
	RoundID     string      `json:"roundId"`
	ModelURI    string      `json:"modelURI"`
	WeightHash  string      `json:"weightHash"`
	QualityData interface{} `json:"qualityData"`
}

// Client talks to the ledger's HTTP surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the ledger reachable at baseURL, using the given
// http.Client (so callers can inject an mTLS-configured transport).
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

// PostReputationUpdate records a reputation mutation fact.
func (c *Client) PostReputationUpdate(ctx context.Context, u ReputationUpdate) error {
	return c.post(ctx, "/reputation/update", u)
}

// PostQualityEvent records a round-level quality summary.
func (c *Client) PostQualityEvent(ctx context.Context, e QualityEvent) error {
	return c.post(ctx, "/events/quality", e)
}

// PostFinalModel publishes the aggregated model for a round.
func (c *Client) PostFinalModel(ctx context.Context, f FinalModel) error {
	return c.post(ctx, "/models/final", f)
}

// GetContribution fetches optional self-reported accuracy metadata for a
// participant's submission in a round. A 404 or any decode failure is
// reported as (nil, nil) — absence of contribution metadata is tolerated by
// callers, not treated as an error.
func (c *Client) GetContribution(ctx context.Context, roundID, participantID string) (*ContributionMetadata, error) {
	q := url.Values{}
	q.Set("roundId", roundID)
	q.Set("participantId", participantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/contribution?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get contribution: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get contribution: unexpected status %d", resp.StatusCode)
	}

	var wrapper struct {
		AccuracyMetrics *ContributionMetadata `json:"accuracyMetrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return nil, nil
	}
	return wrapper.AccuracyMetrics, nil
}
