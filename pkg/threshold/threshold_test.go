package threshold

import "testing"

func testConfig() Config {
	return Config{Min: 0.5, Max: 0.95, Initial: 0.75, Rate: 0.05, HistorySize: 5}
}

func TestCurrentEqualsInitialWithEmptyHistory(t *testing.T) {
	c := New(testConfig())
	if got := c.Adjust(0.5); got != 0.75 {
		t.Errorf("Adjust() with no history = %v, want Initial 0.75", got)
	}
}

func TestAdjustTrendUp(t *testing.T) {
	// Scenario 5: three consecutive rounds with avg quality 0.7, 0.75, 0.8
	// and mean reputation 0.6; after round 3 current = previous + 0.05*0.6.
	c := New(testConfig())
	c.RecordRound(HistoryEntry{RoundID: "r1", AvgQuality: 0.7})
	c.RecordRound(HistoryEntry{RoundID: "r2", AvgQuality: 0.75})
	previous := c.Adjust(0.6) // after round 2: one upward step already applied conceptually
	c.RecordRound(HistoryEntry{RoundID: "r3", AvgQuality: 0.8})
	got := c.Adjust(0.6)
	want := previous + 0.05*0.6
	if want > 0.95 {
		want = 0.95
	}
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("threshold after round 3 = %v, want %v", got, want)
	}
}

func TestAdjustClampsToMax(t *testing.T) {
	c := New(testConfig())
	c.current = 0.94
	c.RecordRound(HistoryEntry{RoundID: "r1", AvgQuality: 0.5})
	c.RecordRound(HistoryEntry{RoundID: "r2", AvgQuality: 0.9})
	got := c.Adjust(1.0)
	if got > 0.95 {
		t.Errorf("threshold %v exceeds Max 0.95", got)
	}
}

func TestAdjustClampsToMin(t *testing.T) {
	c := New(testConfig())
	c.current = 0.51
	c.RecordRound(HistoryEntry{RoundID: "r1", AvgQuality: 0.9})
	c.RecordRound(HistoryEntry{RoundID: "r2", AvgQuality: 0.1})
	got := c.Adjust(0.0)
	if got < 0.5 {
		t.Errorf("threshold %v below Min 0.5", got)
	}
}

func TestHistoryBoundedToHistorySize(t *testing.T) {
	c := New(testConfig())
	for i := 0; i < 10; i++ {
		c.RecordRound(HistoryEntry{RoundID: "r"})
	}
	if got := len(c.History()); got != 5 {
		t.Errorf("history length = %d, want 5 (HistorySize)", got)
	}
}

func TestAdjustedThresholdClampsToMin(t *testing.T) {
	c := New(testConfig())
	c.current = 0.5
	got := c.AdjustedThreshold(1.0) // 0.5 * (1 - 0.1) = 0.45, below Min
	if got != 0.5 {
		t.Errorf("AdjustedThreshold() = %v, want Min 0.5", got)
	}
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	c := New(testConfig())
	c.RecordRound(HistoryEntry{RoundID: "r1", AvgQuality: 0.7})
	c.current = 0.82

	threshold, history := c.Snapshot()

	restored := New(testConfig())
	restored.Load(threshold, history)

	if got := restored.Current(); got != 0.82 {
		t.Errorf("restored threshold = %v, want 0.82", got)
	}
	if got := len(restored.History()); got != 1 {
		t.Errorf("restored history length = %d, want 1", got)
	}
}
