package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"AGGREGATOR_WS_URL", "AGGREGATOR_GATEWAY_URL", "MINIO_HANDLER_URL", "MODEL_DIR",
		"MIN_THRESHOLD", "MAX_THRESHOLD", "INITIAL_THRESHOLD", "THRESHOLD_HISTORY_SIZE",
		"THRESHOLD_ADJUSTMENT_RATE", "REPUTATION_INIT", "REPUTATION_MAX", "REPUTATION_MIN",
		"REPUTATION_REWARD", "REPUTATION_PENALTY", "REPUTATION_PENALTY_NONPARTICIPATION",
		"ROUND_TIMEOUT_MINUTES", "DEFAULT_PARTICIPANTS", "SECURITY_TLS_ENABLED",
		"OBSERVABILITY_ENABLED", "OBSERVABILITY_API_PORT", "OBSERVABILITY_STORAGE_BACKEND",
		"OBSERVABILITY_AUTH_ENABLED", "CONFIG_FILE",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Threshold.Initial != 0.75 {
		t.Errorf("Threshold.Initial = %v, want 0.75", cfg.Threshold.Initial)
	}
	if cfg.Reputation.Init != 0.5 {
		t.Errorf("Reputation.Init = %v, want 0.5", cfg.Reputation.Init)
	}
	if len(cfg.DefaultParticipants) != 3 {
		t.Errorf("DefaultParticipants = %v, want 3 entries", cfg.DefaultParticipants)
	}
	if cfg.Observability.StorageBackend != "memory" {
		t.Errorf("Observability.StorageBackend = %v, want memory", cfg.Observability.StorageBackend)
	}
}

func TestLoadReadsEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("MIN_THRESHOLD", "0.4")
	os.Setenv("MAX_THRESHOLD", "0.9")
	os.Setenv("DEFAULT_PARTICIPANTS", "dbs, ing , ocbc,maybank")
	defer clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Threshold.Min != 0.4 || cfg.Threshold.Max != 0.9 {
		t.Errorf("Threshold = %+v, want Min=0.4 Max=0.9", cfg.Threshold)
	}
	want := []string{"dbs", "ing", "ocbc", "maybank"}
	if len(cfg.DefaultParticipants) != len(want) {
		t.Fatalf("DefaultParticipants = %v, want %v", cfg.DefaultParticipants, want)
	}
	for i, p := range want {
		if cfg.DefaultParticipants[i] != p {
			t.Errorf("DefaultParticipants[%d] = %v, want %v", i, cfg.DefaultParticipants[i], p)
		}
	}
}

func TestLoadOverlayOverridesEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("MIN_THRESHOLD", "0.4")
	defer clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	yaml := "threshold:\n  min: 0.3\nmodel_dir: /data/models\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Threshold.Min != 0.3 {
		t.Errorf("Threshold.Min = %v, want overlay value 0.3", cfg.Threshold.Min)
	}
	if cfg.ModelDir != "/data/models" {
		t.Errorf("ModelDir = %v, want /data/models", cfg.ModelDir)
	}
}

func TestLoadRejectsPathTraversal(t *testing.T) {
	clearEnv(t)
	_, err := Load("../../etc/passwd.yaml")
	if err == nil {
		t.Error("Load() with path traversal = nil error, want error")
	}
}

func TestLoadRejectsNonYAMLExtension(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.json")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(path)
	if err == nil {
		t.Error("Load() with .json path = nil error, want error")
	}
}

func TestValidateCatchesInvertedThresholdBounds(t *testing.T) {
	clearEnv(t)
	os.Setenv("AGGREGATOR_WS_URL", "ws://localhost")
	os.Setenv("AGGREGATOR_GATEWAY_URL", "http://localhost")
	os.Setenv("MINIO_HANDLER_URL", "http://localhost")
	os.Setenv("MIN_THRESHOLD", "0.9")
	os.Setenv("MAX_THRESHOLD", "0.5")
	defer clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Error("Validate() = no errors, want MIN_THRESHOLD > MAX_THRESHOLD flagged")
	}
}

func TestValidatePassesWithDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("AGGREGATOR_WS_URL", "ws://localhost")
	os.Setenv("AGGREGATOR_GATEWAY_URL", "http://localhost")
	os.Setenv("MINIO_HANDLER_URL", "http://localhost")
	defer clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}
