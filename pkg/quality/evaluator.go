// Package quality computes the composite quality score for a submitted
// model from self-reported metrics, weight statistics, and reputation.
package quality

import (
	"context"

	"github.com/fl-team8/aggregator/pkg/ledger"
	"github.com/fl-team8/aggregator/pkg/model"
	"github.com/fl-team8/aggregator/pkg/reputation"
)

// Metrics is the final evaluated quality record for one submission.
type Metrics struct {
	ParticipantID      string
	RoundID            string
	Accuracy           float64
	HasNaN             bool
	HasInf             bool
	AvgWeightMagnitude float64
	WeightVariance     float64
	SelfCertified      bool
	Reputation         float64
	TrustFactor        float64
	QualityScore       float64
}

const defaultAccuracy = 0.7

// Evaluator computes Metrics for a downloaded submission.
type Evaluator struct {
	reputations *reputation.Store
	ledger      ledger.ContributionFetcher
}

// NewEvaluator builds an Evaluator backed by the given reputation store and
// ledger client.
func NewEvaluator(repStore *reputation.Store, ledgerClient ledger.ContributionFetcher) *Evaluator {
	return &Evaluator{reputations: repStore, ledger: ledgerClient}
}

// Evaluate implements the quality-scoring algorithm: fetch self-reported contribution
// metadata (tolerating its absence), combine with scanned weight statistics,
// and fold in the participant's current reputation as a trust multiplier.
func (e *Evaluator) Evaluate(ctx context.Context, roundID, participantID string, weights model.WeightSet) Metrics {
	m := Metrics{
		ParticipantID: participantID,
		RoundID:       roundID,
		Accuracy:      defaultAccuracy,
	}

	if contrib, err := e.ledger.GetContribution(ctx, roundID, participantID); err == nil && contrib != nil {
		if contrib.Accuracy != nil {
			m.Accuracy = *contrib.Accuracy
		}
		m.SelfCertified = contrib.SelfCertified
		// Open question (a): scanned NaN/Inf flags take priority over the
		// self-reported ones below; the reported flags only apply if the
		// weight scan itself is clean.
		m.HasNaN = contrib.HasNaNPredictions
		m.HasInf = contrib.HasInfPredictions
	}

	avgMag, variance := weights.Stats()
	m.AvgWeightMagnitude = avgMag
	m.WeightVariance = variance

	if scannedNaN, scannedInf := weights.ScanNaNInf(); scannedNaN || scannedInf {
		m.HasNaN = scannedNaN
		m.HasInf = scannedInf
	}

	m.Reputation = e.reputations.Get(participantID)
	m.TrustFactor = 0.5 + 0.5*m.Reputation

	qs := m.Accuracy * m.TrustFactor
	if m.HasNaN || m.HasInf {
		qs *= 0.5
	}
	if m.AvgWeightMagnitude > 10 {
		qs *= 0.8
	}
	if m.SelfCertified && m.Reputation > 0.7 {
		qs *= 1.1
		if qs > 1.0 {
			qs = 1.0
		}
	}
	m.QualityScore = qs

	return m
}
