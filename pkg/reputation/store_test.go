package reputation

import "testing"

func testConfig() Config {
	return Config{
		Init:                  0.5,
		Min:                   0.1,
		Max:                   1.0,
		Reward:                0.05,
		Penalty:               0.1,
		PenaltyNonParticipant: 0.15,
	}
}

func TestGetSeedsNewParticipant(t *testing.T) {
	s := New(testConfig())
	if got := s.Get("dbs"); got != 0.5 {
		t.Errorf("Get(new) = %v, want 0.5", got)
	}
}

func TestRewardHappyPath(t *testing.T) {
	// Scenario 1 from the testable-properties scenarios: accuracy 0.9,
	// reputation 0.5 -> trust_factor 0.75 -> quality_score 0.675.
	s := New(testConfig())
	s.Get("dbs")
	got := s.Reward("dbs", 0.675)
	want := 0.5 + 0.05*(1+0.675)
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Reward() = %v, want %v", got, want)
	}
}

func TestPenalizeQualityRejection(t *testing.T) {
	// Scenario 3: quality_score 0.225, current_threshold ~0.75.
	s := New(testConfig())
	s.Get("dbs")
	got := s.Penalize("dbs", 0.225, 0.75)
	want := 0.5 - 0.1*0.7
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Penalize() = %v, want %v", got, want)
	}
}

func TestPenalizeNonParticipation(t *testing.T) {
	s := New(testConfig())
	s.Get("ocbc")
	got := s.PenalizeNonParticipation("ocbc")
	if got != 0.35 {
		t.Errorf("PenalizeNonParticipation() = %v, want 0.35", got)
	}
}

func TestReputationNeverCrossesBounds(t *testing.T) {
	s := New(testConfig())
	s.Get("dbs")
	for i := 0; i < 1000; i++ {
		s.Reward("dbs", 1.0)
	}
	if got := s.Get("dbs"); got > 1.0 {
		t.Errorf("reputation exceeded max: %v", got)
	}

	s.Set("ing", 0.5)
	for i := 0; i < 1000; i++ {
		s.Penalize("ing", 0, 0.5)
	}
	if got := s.Get("ing"); got < 0.1 {
		t.Errorf("reputation below min: %v", got)
	}
}

func TestMeanFallsBackToInitWhenEmpty(t *testing.T) {
	s := New(testConfig())
	if got := s.Mean(); got != 0.5 {
		t.Errorf("Mean() on empty store = %v, want 0.5 (Init)", got)
	}
}

func TestSnapshotAndLoadRoundTrip(t *testing.T) {
	s := New(testConfig())
	s.Set("dbs", 0.9)
	s.Set("ing", 0.3)

	snap := s.Snapshot()

	restored := New(testConfig())
	restored.Load(snap)

	if got := restored.Get("dbs"); got != 0.9 {
		t.Errorf("restored dbs = %v, want 0.9", got)
	}
	if got := restored.Get("ing"); got != 0.3 {
		t.Errorf("restored ing = %v, want 0.3", got)
	}
}
