// Package snapshot periodically persists threshold and reputation state to
// local disk as a best-effort recovery aid; the ledger remains authoritative.
package snapshot

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fl-team8/aggregator/pkg/reputation"
	"github.com/fl-team8/aggregator/pkg/threshold"
)

const fileName = "threshold_state.json"

// state is the on-disk shape persisted between aggregator restarts.
type state struct {
	CurrentThreshold float64                   `json:"current_threshold"`
	RoundHistory     []threshold.HistoryEntry  `json:"round_history"`
	ReputationScores map[string]float64        `json:"reputation_scores"`
}

// Snapshotter owns the periodic write and the startup load.
type Snapshotter struct {
	modelDir    string
	interval    time.Duration
	thresholds  *threshold.Controller
	reputations *reputation.Store
}

// New creates a Snapshotter writing to modelDir/threshold_state.json.
func New(modelDir string, interval time.Duration, thresholds *threshold.Controller, reputations *reputation.Store) *Snapshotter {
	return &Snapshotter{modelDir: modelDir, interval: interval, thresholds: thresholds, reputations: reputations}
}

func (s *Snapshotter) path() string {
	return filepath.Join(s.modelDir, fileName)
}

// Load restores threshold and reputation state from disk at startup. A
// missing file is not an error: callers proceed with configured defaults.
func (s *Snapshotter) Load() error {
	data, err := os.ReadFile(s.path()) // #nosec G304 - fixed filename under the configured MODEL_DIR
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[AGGREGATOR] 📂 no snapshot found at %s, starting from defaults", s.path())
			return nil
		}
		return err
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}

	s.thresholds.Load(st.CurrentThreshold, st.RoundHistory)
	s.reputations.Load(st.ReputationScores)
	log.Printf("[AGGREGATOR] 💾 restored snapshot: threshold=%.3f, %d reputations, %d history entries",
		st.CurrentThreshold, len(st.ReputationScores), len(st.RoundHistory))
	return nil
}

// Save writes the current state to disk. Failures are logged, never fatal.
func (s *Snapshotter) Save() {
	threshold, history := s.thresholds.Snapshot()
	st := state{
		CurrentThreshold: threshold,
		RoundHistory:     history,
		ReputationScores: s.reputations.Snapshot(),
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		log.Printf("[AGGREGATOR] ❌ failed to marshal snapshot: %v", err)
		return
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Printf("[AGGREGATOR] ❌ failed to write snapshot: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		log.Printf("[AGGREGATOR] ❌ failed to finalize snapshot: %v", err)
	}
}

// Run blocks, writing a snapshot every interval until ctx is canceled.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Save()
		}
	}
}
