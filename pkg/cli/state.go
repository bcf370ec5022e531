package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fl-team8/aggregator/pkg/config"
	"github.com/fl-team8/aggregator/pkg/threshold"
)

// HandleStateCommand implements `fx state show`: it reads
// MODEL_DIR/threshold_state.json directly, without requiring a running
// aggregator process, and prints the current threshold, reputation table,
// and round history.
func HandleStateCommand(args []string) error {
	if len(args) == 0 || args[0] != "show" {
		printStateUsage()
		return fmt.Errorf("state command requires a subcommand (show)")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to resolve configuration: %w", err)
	}

	path := filepath.Join(cfg.ModelDir, "threshold_state.json")
	data, err := os.ReadFile(path) // #nosec G304 - path built from MODEL_DIR, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no snapshot found at %s (is MODEL_DIR correct? has the aggregator run at least once?)", path)
		}
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap threshold.State
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}

	printState(snap)
	return nil
}

func printState(snap threshold.State) {
	fmt.Printf("Current threshold: %.4f\n\n", snap.CurrentThreshold)

	fmt.Println("Reputation table:")
	ids := make([]string, 0, len(snap.ReputationScores))
	for id := range snap.ReputationScores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		fmt.Println("  (no participants observed yet)")
	}
	for _, id := range ids {
		fmt.Printf("  %-20s %.4f\n", id, snap.ReputationScores[id])
	}

	fmt.Println("\nRound history (oldest first):")
	if len(snap.RoundHistory) == 0 {
		fmt.Println("  (no completed rounds yet)")
	}
	for _, h := range snap.RoundHistory {
		fmt.Printf("  round=%-12s avg_quality=%.4f avg_reputation=%.4f accepted=%d/%d threshold_used=%.4f\n",
			h.RoundID, h.AvgQuality, h.AvgReputation, h.NumAccepted, h.NumModels, h.ThresholdUsed)
	}
}

func printStateUsage() {
	fmt.Println("State command - inspect persisted aggregator state")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fx state show")
	fmt.Println()
	fmt.Println("Reads MODEL_DIR/threshold_state.json directly; the aggregator")
	fmt.Println("process does not need to be running.")
}
