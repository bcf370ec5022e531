// Package threshold implements the dynamic acceptance threshold: an
// EWMA-like value adjusted each round from recent accepted quality and mean
// reputation, plus the bounded round-history FIFO it is derived from.
package threshold

import "sync"

// Config carries the bounds and adjustment rate from the environment.
type Config struct {
	Min         float64
	Max         float64
	Initial     float64
	Rate        float64
	HistorySize int
}

// HistoryEntry is one completed round's quality summary.
type HistoryEntry struct {
	RoundID       string
	AvgQuality    float64
	AvgReputation float64
	NumModels     int
	NumAccepted   int
	ThresholdUsed float64
}

// Controller owns current_threshold and the bounded round-history FIFO. It
// is process-wide and, per the concurrency model, mutated only on the
// aggregation path, which is single-threaded per round; the lock protects it
// against concurrent rounds.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	current float64
	history []HistoryEntry
}

// New creates a Controller starting at Config.Initial.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, current: cfg.Initial}
}

func (c *Controller) clamp(v float64) float64 {
	if v < c.cfg.Min {
		return c.cfg.Min
	}
	if v > c.cfg.Max {
		return c.cfg.Max
	}
	return v
}

// Current returns the current threshold.
func (c *Controller) Current() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// History returns a copy of the round-history FIFO, oldest first.
func (c *Controller) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// Adjust recomputes current_threshold from the existing history and the
// supplied mean reputation, following the trend-based rule: no history
// returns Config.Initial unchanged; with one entry, nudge by Rate/2 toward
// the sign of (avg_recent_quality - current); with two or more, compare the
// two most recent entries' avg_quality and raise by Rate*avgReputation when
// it rose, otherwise lower by Rate*(1-0.5*avgReputation).
func (c *Controller) Adjust(avgReputation float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) == 0 {
		c.current = c.cfg.Initial
		return c.current
	}

	var avgRecentQuality float64
	for _, h := range c.history {
		avgRecentQuality += h.AvgQuality
	}
	avgRecentQuality /= float64(len(c.history))

	if len(c.history) >= 2 {
		last := c.history[len(c.history)-1]
		prev := c.history[len(c.history)-2]
		if last.AvgQuality > prev.AvgQuality {
			c.current = c.clamp(c.current + c.cfg.Rate*avgReputation)
		} else {
			c.current = c.clamp(c.current - c.cfg.Rate*(1-0.5*avgReputation))
		}
		return c.current
	}

	// Exactly one entry: nudge toward the sign of the gap.
	diff := avgRecentQuality - c.current
	if diff > 0 {
		c.current = c.clamp(c.current + c.cfg.Rate/2)
	} else if diff < 0 {
		c.current = c.clamp(c.current - c.cfg.Rate/2)
	}
	return c.current
}

// RecordRound appends entry to the bounded FIFO, evicting the oldest entry
// when it would exceed Config.HistorySize.
func (c *Controller) RecordRound(entry HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, entry)
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.HistorySize:]
	}
}

// AdjustedThreshold returns the per-participant acceptance cut-off, lowered
// for higher-reputation participants but never below Config.Min.
func (c *Controller) AdjustedThreshold(reputation float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	adjusted := c.current * (1 - 0.1*reputation)
	if adjusted < c.cfg.Min {
		return c.cfg.Min
	}
	return adjusted
}

// State is the persisted snapshot shape written by the snapshotter.
type State struct {
	CurrentThreshold float64                `json:"current_threshold"`
	RoundHistory     []HistoryEntry         `json:"round_history"`
	ReputationScores map[string]float64     `json:"reputation_scores"`
}

// Snapshot returns the threshold and history portion of State; callers fill
// in ReputationScores from the reputation store.
func (c *Controller) Snapshot() (float64, []HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hist := make([]HistoryEntry, len(c.history))
	copy(hist, c.history)
	return c.current, hist
}

// Load restores current_threshold and round_history from a prior snapshot,
// clamping the threshold and truncating history to HistorySize.
func (c *Controller) Load(currentThreshold float64, history []HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.clamp(currentThreshold)
	if len(history) > c.cfg.HistorySize {
		history = history[len(history)-c.cfg.HistorySize:]
	}
	c.history = append([]HistoryEntry(nil), history...)
}
