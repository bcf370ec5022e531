// Package aggregator implements the reputation-weighted FedAvg aggregation
// step: filtering accepted submissions, averaging their weights, and
// publishing the result.
package aggregator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fl-team8/aggregator/pkg/blobstore"
	"github.com/fl-team8/aggregator/pkg/ledger"
	"github.com/fl-team8/aggregator/pkg/model"
	"github.com/fl-team8/aggregator/pkg/quality"
	"github.com/fl-team8/aggregator/pkg/reputation"
	"github.com/fl-team8/aggregator/pkg/round"
	"github.com/fl-team8/aggregator/pkg/threshold"
)

// Hooks feeds the observability API with per-submission quality decisions.
// Optional; nil performs no observability work.
type Hooks interface {
	OnQualityDecision(roundID, participantID string, m quality.Metrics, accepted bool)
	OnSnapshot(roundID string)
}

// Processor wires the blob client, quality evaluator, threshold controller,
// reputation store, and ledger client together into the aggregation pipeline,
// and implements round.AggregationRunner.
type Processor struct {
	blobs       *blobstore.Client
	ledger      *ledger.Client
	evaluator   *quality.Evaluator
	thresholds  *threshold.Controller
	reputations *reputation.Store
	modelDir    string
	hooks       Hooks
}

// NewProcessor builds a Processor.
func NewProcessor(blobs *blobstore.Client, ledgerClient *ledger.Client, evaluator *quality.Evaluator, thresholds *threshold.Controller, reputations *reputation.Store, modelDir string, hooks Hooks) *Processor {
	return &Processor{
		blobs:       blobs,
		ledger:      ledgerClient,
		evaluator:   evaluator,
		thresholds:  thresholds,
		reputations: reputations,
		modelDir:    modelDir,
		hooks:       hooks,
	}
}

// SetHooks attaches the observability hooks after construction, mirroring
// round.Coordinator.SetHooks for the same reason: the hooks implementation
// needs a reference to the round.Coordinator this Processor feeds rounds to.
func (p *Processor) SetHooks(hooks Hooks) {
	p.hooks = hooks
}

// RunRound implements round.AggregationRunner.
func (p *Processor) RunRound(ctx context.Context, result round.RoundResult) error {
	if len(result.Submissions) == 0 {
		return fmt.Errorf("round %s: no submissions to aggregate", result.RoundID)
	}

	weights := make(map[string]model.WeightSet, len(result.Submissions))
	for participantID, uri := range result.Submissions {
		localPath, err := p.blobs.Download(ctx, p.modelDir, result.RoundID, participantID)
		if err != nil {
			log.Printf("[AGGREGATOR] ❌ failed to download %s's model (%s) for round %s: %v", participantID, uri, result.RoundID, err)
			continue
		}
		ws, err := model.LoadWeightSet(localPath)
		if err != nil {
			log.Printf("[AGGREGATOR] ❌ failed to load weights for %s in round %s: %v", participantID, result.RoundID, err)
			continue
		}
		weights[participantID] = ws
	}
	if len(weights) == 0 {
		return fmt.Errorf("round %s: every model download failed", result.RoundID)
	}

	currentThreshold := p.thresholds.Adjust(p.reputations.Mean())
	log.Printf("[AGGREGATOR] 🔍 round %s evaluating %d submissions against threshold %.3f", result.RoundID, len(weights), currentThreshold)

	type evaluated struct {
		participantID string
		metrics       quality.Metrics
		accepted      bool
	}
	var all []evaluated
	for participantID, ws := range weights {
		m := p.evaluator.Evaluate(ctx, result.RoundID, participantID, ws)
		adjusted := p.thresholds.AdjustedThreshold(m.Reputation)
		accepted := m.QualityScore >= adjusted
		all = append(all, evaluated{participantID: participantID, metrics: m, accepted: accepted})

		if p.hooks != nil {
			p.hooks.OnQualityDecision(result.RoundID, participantID, m, accepted)
		}

		if accepted {
			newRep := p.reputations.Reward(participantID, m.QualityScore)
			reason := fmt.Sprintf("Model accepted (quality score: %.3f)", m.QualityScore)
			p.postReputationUpdate(ctx, participantID, newRep, reason, result.RoundID)
			log.Printf("[AGGREGATOR] ✅ %s accepted in round %s (quality %.3f >= %.3f)", participantID, result.RoundID, m.QualityScore, adjusted)
		} else {
			newRep := p.reputations.Penalize(participantID, m.QualityScore, currentThreshold)
			reason := fmt.Sprintf("Model rejected: quality %.3f below threshold %.3f", m.QualityScore, adjusted)
			p.postReputationUpdate(ctx, participantID, newRep, reason, result.RoundID)
			log.Printf("[AGGREGATOR] 🔻 %s rejected in round %s (quality %.3f < %.3f)", participantID, result.RoundID, m.QualityScore, adjusted)
		}
	}

	accepted := make([]evaluated, 0, len(all))
	for _, e := range all {
		if e.accepted {
			accepted = append(accepted, e)
		}
	}
	if len(accepted) == 0 {
		log.Printf("[AGGREGATOR] ⚠️ no submissions passed the threshold in round %s, failsafe promoting all %d submissions", result.RoundID, len(all))
		accepted = all
	}
	if len(accepted) == 0 {
		return fmt.Errorf("round %s: no accepted submissions even after failsafe", result.RoundID)
	}

	sets := make([]model.WeightSet, len(accepted))
	reps := make([]float64, len(accepted))
	var sumQuality, sumRep float64
	perParticipant := make(map[string]float64, len(all))
	for i, e := range accepted {
		sets[i] = weights[e.participantID]
		reps[i] = e.metrics.Reputation
		sumQuality += e.metrics.QualityScore
	}
	for _, e := range all {
		sumRep += e.metrics.Reputation
		perParticipant[e.participantID] = e.metrics.QualityScore
	}
	avgQuality := sumQuality / float64(len(accepted))
	avgReputation := sumRep / float64(len(all))

	aggregated, err := model.WeightedAverage(sets, reps)
	if err != nil {
		return fmt.Errorf("round %s: %w", result.RoundID, err)
	}

	outputPath := filepath.Join(p.modelDir, fmt.Sprintf("%s_aggregated_model.h5", result.RoundID))
	if err := model.SaveWeightSet(outputPath, aggregated); err != nil {
		return fmt.Errorf("round %s: save aggregated model: %w", result.RoundID, err)
	}

	weightHash, err := sha256File(outputPath)
	if err != nil {
		return fmt.Errorf("round %s: hash aggregated model: %w", result.RoundID, err)
	}

	objectPath, err := p.blobs.Upload(ctx, outputPath, result.RoundID)
	if err != nil {
		return fmt.Errorf("round %s: upload aggregated model: %w", result.RoundID, err)
	}

	p.thresholds.RecordRound(threshold.HistoryEntry{
		RoundID:       result.RoundID,
		AvgQuality:    avgQuality,
		AvgReputation: avgReputation,
		NumModels:     len(all),
		NumAccepted:   len(accepted),
		ThresholdUsed: currentThreshold,
	})

	if err := p.ledger.PostQualityEvent(ctx, ledger.QualityEvent{
		RoundID:        result.RoundID,
		ThresholdUsed:  currentThreshold,
		AvgQuality:     avgQuality,
		AvgReputation:  avgReputation,
		NumModels:      len(all),
		NumAccepted:    len(accepted),
		PerParticipant: perParticipant,
	}); err != nil {
		log.Printf("[AGGREGATOR] ⚠️ failed to post quality event for round %s: %v", result.RoundID, err)
	}

	qualityData := map[string]interface{}{
		"avg_quality":          avgQuality,
		"avg_reputation":       avgReputation,
		"num_models":           len(all),
		"num_accepted":         len(accepted),
		"non_participants":     result.NonParticipants,
		"reputation_scores":    p.reputations.Snapshot(),
	}
	if err := p.ledger.PostFinalModel(ctx, ledger.FinalModel{
		RoundID:     result.RoundID,
		ModelURI:    objectPath,
		WeightHash:  weightHash,
		QualityData: qualityData,
	}); err != nil {
		log.Printf("[AGGREGATOR] ⚠️ failed to publish final model for round %s: %v", result.RoundID, err)
	}

	if p.hooks != nil {
		p.hooks.OnSnapshot(result.RoundID)
	}

	return nil
}

func (p *Processor) postReputationUpdate(ctx context.Context, participantID string, score float64, reason, roundID string) {
	if err := p.ledger.PostReputationUpdate(ctx, ledger.ReputationUpdate{
		ParticipantID: participantID,
		Score:         score,
		Reason:        reason,
		RoundID:       roundID,
	}); err != nil {
		log.Printf("[AGGREGATOR] ⚠️ reputation update for %s did not reach the ledger: %v", participantID, err)
	}
}

func sha256File(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path produced by this process's own aggregation output step
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
