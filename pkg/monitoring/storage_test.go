package monitoring

import (
	"testing"
	"time"
)

func TestMemoryStorage(t *testing.T) {
	storage := NewMemoryStorage(MemoryConfig{MaxEntries: 1000})
	testStorageImplementation(t, storage)
}

func testStorageImplementation(t *testing.T, storage Storage) {
	t.Run("round snapshot operations", func(t *testing.T) {
		snap := RoundSnapshot{
			RoundID:   "round-1",
			Phase:     "PROCESSING",
			Expected:  3,
			Submitted: 2,
		}

		if err := storage.StoreRoundSnapshot(snap); err != nil {
			t.Fatalf("StoreRoundSnapshot: %v", err)
		}

		retrieved, err := storage.GetRoundSnapshot("round-1")
		if err != nil {
			t.Fatalf("GetRoundSnapshot: %v", err)
		}
		if retrieved == nil {
			t.Fatal("retrieved snapshot is nil")
		}
		if retrieved.RoundID != snap.RoundID || retrieved.Phase != snap.Phase {
			t.Errorf("got %+v, want matching round-1/PROCESSING", retrieved)
		}

		all, err := storage.ListRoundSnapshots()
		if err != nil {
			t.Fatalf("ListRoundSnapshots: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("got %d round snapshots, want 1", len(all))
		}

		missing, err := storage.GetRoundSnapshot("no-such-round")
		if err != nil {
			t.Fatalf("GetRoundSnapshot(missing): %v", err)
		}
		if missing != nil {
			t.Error("expected nil for unknown round")
		}
	})

	t.Run("reputation entry operations", func(t *testing.T) {
		entry := ReputationEntry{ParticipantID: "dbs", Score: 0.62}
		if err := storage.StoreReputationEntry(entry); err != nil {
			t.Fatalf("StoreReputationEntry: %v", err)
		}

		entries, err := storage.ListReputationEntries()
		if err != nil {
			t.Fatalf("ListReputationEntries: %v", err)
		}
		found := false
		for _, e := range entries {
			if e.ParticipantID == "dbs" && e.Score == 0.62 {
				found = true
			}
		}
		if !found {
			t.Errorf("ListReputationEntries() = %+v, want an entry for dbs at 0.62", entries)
		}
	})

	t.Run("threshold snapshot operations", func(t *testing.T) {
		snap := ThresholdSnapshot{
			CurrentThreshold: 0.78,
			History: []ThresholdHistoryEntry{
				{RoundID: "round-1", AvgQuality: 0.8, AvgReputation: 0.6, NumModels: 3, NumAccepted: 2, ThresholdUsed: 0.75},
			},
		}
		if err := storage.StoreThresholdSnapshot(snap); err != nil {
			t.Fatalf("StoreThresholdSnapshot: %v", err)
		}

		latest, err := storage.GetLatestThresholdSnapshot()
		if err != nil {
			t.Fatalf("GetLatestThresholdSnapshot: %v", err)
		}
		if latest == nil {
			t.Fatal("latest threshold snapshot is nil")
		}
		if latest.CurrentThreshold != 0.78 {
			t.Errorf("CurrentThreshold = %v, want 0.78", latest.CurrentThreshold)
		}
		if len(latest.History) != 1 {
			t.Errorf("got %d history entries, want 1", len(latest.History))
		}
	})

	t.Run("event operations", func(t *testing.T) {
		event := MonitoringEvent{
			ID:      "evt-1",
			RoundID: "round-1",
			Type:    EventQualityDecision,
			Level:   "info",
			Message: "ing accepted",
			Data: map[string]interface{}{
				"participant_id": "ing",
			},
			Timestamp: time.Now(),
		}

		if err := storage.StoreEvent(event); err != nil {
			t.Fatalf("StoreEvent: %v", err)
		}

		events, err := storage.GetEvents(EventsFilter{RoundID: "round-1"})
		if err != nil {
			t.Fatalf("GetEvents: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		if events[0].Type != EventQualityDecision {
			t.Errorf("event type = %v, want %v", events[0].Type, EventQualityDecision)
		}

		all, err := storage.GetEvents(EventsFilter{})
		if err != nil {
			t.Fatalf("GetEvents(unfiltered): %v", err)
		}
		if len(all) == 0 {
			t.Error("expected at least one event with no filter")
		}
	})

	t.Run("cleanup and close", func(t *testing.T) {
		if err := storage.Cleanup(24 * time.Hour); err != nil {
			t.Fatalf("Cleanup: %v", err)
		}
		if err := storage.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}

func TestStorageFactory(t *testing.T) {
	tests := []struct {
		name   string
		config StorageConfig
	}{
		{name: "memory storage", config: StorageConfig{Backend: "memory", Memory: MemoryConfig{MaxEntries: 1000}}},
		{name: "default to memory", config: StorageConfig{Backend: ""}},
		{name: "invalid backend defaults to memory", config: StorageConfig{Backend: "invalid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := NewStorage(tt.config)
			if err != nil {
				t.Fatalf("NewStorage() error = %v", err)
			}
			if storage == nil {
				t.Fatal("storage is nil")
			}

			if err := storage.StoreReputationEntry(ReputationEntry{ParticipantID: "dbs", Score: 0.5}); err != nil {
				t.Errorf("StoreReputationEntry: %v", err)
			}

			entries, err := storage.ListReputationEntries()
			if err != nil {
				t.Errorf("ListReputationEntries: %v", err)
			}
			if len(entries) != 1 {
				t.Errorf("got %d entries, want 1", len(entries))
			}

			storage.Close()
		})
	}
}
