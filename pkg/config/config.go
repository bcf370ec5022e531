// Package config resolves the aggregator's CoordinatorConfig from the
// environment, with an optional YAML overlay file for operators who prefer
// a checked-in config over a pile of env vars.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fl-team8/aggregator/pkg/monitoring"
	"github.com/fl-team8/aggregator/pkg/reputation"
	"github.com/fl-team8/aggregator/pkg/round"
	"github.com/fl-team8/aggregator/pkg/security"
	"github.com/fl-team8/aggregator/pkg/threshold"
)

// CoordinatorConfig is the fully resolved configuration for one aggregator
// process: every environment variable the coordinator reads, plus the
// observability and security sub-configs.
type CoordinatorConfig struct {
	WSURL      string `yaml:"ws_url"`
	GatewayURL string `yaml:"gateway_url"`
	BlobURL    string `yaml:"blob_url"`
	ModelDir   string `yaml:"model_dir"`

	Threshold  threshold.Config  `yaml:"threshold"`
	Reputation reputation.Config `yaml:"reputation"`

	RoundTimeout        time.Duration `yaml:"round_timeout"`
	DefaultParticipants []string      `yaml:"default_participants"`

	Security        security.TLSConfig  `yaml:"security"`
	SecurityCertDir string              `yaml:"security_cert_dir"`
	Observability   ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig carries the env vars that drive pkg/monitoring.
type ObservabilityConfig struct {
	Enabled        bool     `yaml:"enabled"`
	APIPort        int      `yaml:"api_port"`
	StorageBackend string   `yaml:"storage_backend"`
	RedisAddress   string   `yaml:"redis_address"`
	PostgresDSN    string   `yaml:"postgres_dsn"`
	AuthEnabled    bool     `yaml:"auth_enabled"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// fileOverlay mirrors CoordinatorConfig's YAML-visible fields so a partial
// overlay file only needs to set what it wants to override. Zero-value
// fields in the overlay leave the env-resolved value in place.
type fileOverlay struct {
	WSURL               *string   `yaml:"ws_url"`
	GatewayURL          *string   `yaml:"gateway_url"`
	BlobURL             *string   `yaml:"blob_url"`
	ModelDir            *string   `yaml:"model_dir"`
	DefaultParticipants *[]string `yaml:"default_participants"`

	Threshold struct {
		Min         *float64 `yaml:"min"`
		Max         *float64 `yaml:"max"`
		Initial     *float64 `yaml:"initial"`
		Rate        *float64 `yaml:"rate"`
		HistorySize *int     `yaml:"history_size"`
	} `yaml:"threshold"`

	Reputation struct {
		Init                  *float64 `yaml:"init"`
		Min                   *float64 `yaml:"min"`
		Max                   *float64 `yaml:"max"`
		Reward                *float64 `yaml:"reward"`
		Penalty               *float64 `yaml:"penalty"`
		PenaltyNonParticipant *float64 `yaml:"penalty_non_participation"`
	} `yaml:"reputation"`

	RoundTimeoutMinutes *int `yaml:"round_timeout_minutes"`

	Security struct {
		Enabled            *bool   `yaml:"enabled"`
		CertDir            *string `yaml:"cert_dir"`
		AutoGenerateCert   *bool   `yaml:"auto_generate_cert"`
		ServerName         *string `yaml:"server_name"`
		InsecureSkipVerify *bool   `yaml:"insecure_skip_verify"`
	} `yaml:"security"`

	Observability struct {
		Enabled        *bool     `yaml:"enabled"`
		APIPort        *int      `yaml:"api_port"`
		StorageBackend *string   `yaml:"storage_backend"`
		RedisAddress   *string   `yaml:"redis_address"`
		PostgresDSN    *string   `yaml:"postgres_dsn"`
		AuthEnabled    *bool     `yaml:"auth_enabled"`
		APIKey         *string   `yaml:"api_key"`
		AllowedOrigins *[]string `yaml:"allowed_origins"`
	} `yaml:"observability"`
}

// Load resolves configuration from environment defaults, then, if configPath
// is non-empty, overlays values parsed from it. configPath must be a .yaml or
// .yml file; see validateFilePath.
func Load(configPath string) (*CoordinatorConfig, error) {
	cfg := fromEnv()

	if configPath != "" {
		if err := applyOverlay(cfg, configPath); err != nil {
			return nil, fmt.Errorf("config overlay: %w", err)
		}
	}

	log.Printf("[AGGREGATOR] ⚙️ config resolved: model_dir=%s ws_url=%s gateway_url=%s blob_url=%s threshold=[%.2f,%.2f] observability_backend=%s",
		cfg.ModelDir, cfg.WSURL, cfg.GatewayURL, cfg.BlobURL, cfg.Threshold.Min, cfg.Threshold.Max, cfg.Observability.StorageBackend)

	return cfg, nil
}

func fromEnv() *CoordinatorConfig {
	return &CoordinatorConfig{
		WSURL:      getEnv("AGGREGATOR_WS_URL", ""),
		GatewayURL: getEnv("AGGREGATOR_GATEWAY_URL", ""),
		BlobURL:    getEnv("MINIO_HANDLER_URL", ""),
		ModelDir:   getEnv("MODEL_DIR", "./models"),

		Threshold: threshold.Config{
			Min:         getFloat("MIN_THRESHOLD", 0.5),
			Max:         getFloat("MAX_THRESHOLD", 0.95),
			Initial:     getFloat("INITIAL_THRESHOLD", 0.75),
			Rate:        getFloat("THRESHOLD_ADJUSTMENT_RATE", 0.05),
			HistorySize: getInt("THRESHOLD_HISTORY_SIZE", 5),
		},

		Reputation: reputation.Config{
			Init:                  getFloat("REPUTATION_INIT", 0.5),
			Min:                   getFloat("REPUTATION_MIN", 0.1),
			Max:                   getFloat("REPUTATION_MAX", 1.0),
			Reward:                getFloat("REPUTATION_REWARD", 0.05),
			Penalty:               getFloat("REPUTATION_PENALTY", 0.1),
			PenaltyNonParticipant: getFloat("REPUTATION_PENALTY_NONPARTICIPATION", 0.15),
		},

		RoundTimeout:        time.Duration(getInt("ROUND_TIMEOUT_MINUTES", 3)) * time.Minute,
		DefaultParticipants: getList("DEFAULT_PARTICIPANTS", []string{"dbs", "ing", "ocbc"}),

		Security: security.TLSConfig{
			Enabled:          getBool("SECURITY_TLS_ENABLED", false),
			AutoGenerateCert: getBool("SECURITY_TLS_AUTO_GENERATE", true),
			ServerName:       getEnv("SECURITY_TLS_SERVER_NAME", ""),
			InsecureSkipTLS:  getBool("SECURITY_TLS_INSECURE_SKIP_VERIFY", false),
		},
		SecurityCertDir: getEnv("SECURITY_TLS_CERT_DIR", "./certs"),

		Observability: ObservabilityConfig{
			Enabled:        getBool("OBSERVABILITY_ENABLED", true),
			APIPort:        getInt("OBSERVABILITY_API_PORT", 8090),
			StorageBackend: getEnv("OBSERVABILITY_STORAGE_BACKEND", "memory"),
			RedisAddress:   getEnv("OBSERVABILITY_REDIS_ADDRESS", ""),
			PostgresDSN:    getEnv("OBSERVABILITY_POSTGRES_DSN", ""),
			AuthEnabled:    getBool("OBSERVABILITY_AUTH_ENABLED", false),
			APIKey:         getEnv("OBSERVABILITY_API_KEY", ""),
			AllowedOrigins: getList("OBSERVABILITY_ALLOWED_ORIGINS", nil),
		},
	}
}

// applyOverlay parses the YAML file at path and overwrites any field the
// overlay sets explicitly, leaving env-resolved defaults in place otherwise.
func applyOverlay(cfg *CoordinatorConfig, path string) error {
	if err := validateFilePath(path); err != nil {
		return err
	}

	data, err := os.ReadFile(path) // #nosec G304 - path validated with whitelist above
	if err != nil {
		return err
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}

	assignString(&cfg.WSURL, overlay.WSURL)
	assignString(&cfg.GatewayURL, overlay.GatewayURL)
	assignString(&cfg.BlobURL, overlay.BlobURL)
	assignString(&cfg.ModelDir, overlay.ModelDir)
	if overlay.DefaultParticipants != nil {
		cfg.DefaultParticipants = *overlay.DefaultParticipants
	}

	assignFloat(&cfg.Threshold.Min, overlay.Threshold.Min)
	assignFloat(&cfg.Threshold.Max, overlay.Threshold.Max)
	assignFloat(&cfg.Threshold.Initial, overlay.Threshold.Initial)
	assignFloat(&cfg.Threshold.Rate, overlay.Threshold.Rate)
	assignInt(&cfg.Threshold.HistorySize, overlay.Threshold.HistorySize)

	assignFloat(&cfg.Reputation.Init, overlay.Reputation.Init)
	assignFloat(&cfg.Reputation.Min, overlay.Reputation.Min)
	assignFloat(&cfg.Reputation.Max, overlay.Reputation.Max)
	assignFloat(&cfg.Reputation.Reward, overlay.Reputation.Reward)
	assignFloat(&cfg.Reputation.Penalty, overlay.Reputation.Penalty)
	assignFloat(&cfg.Reputation.PenaltyNonParticipant, overlay.Reputation.PenaltyNonParticipant)

	if overlay.RoundTimeoutMinutes != nil {
		cfg.RoundTimeout = time.Duration(*overlay.RoundTimeoutMinutes) * time.Minute
	}

	assignBool(&cfg.Security.Enabled, overlay.Security.Enabled)
	assignString(&cfg.SecurityCertDir, overlay.Security.CertDir)
	assignBool(&cfg.Security.AutoGenerateCert, overlay.Security.AutoGenerateCert)
	assignString(&cfg.Security.ServerName, overlay.Security.ServerName)
	assignBool(&cfg.Security.InsecureSkipTLS, overlay.Security.InsecureSkipVerify)

	assignBool(&cfg.Observability.Enabled, overlay.Observability.Enabled)
	assignInt(&cfg.Observability.APIPort, overlay.Observability.APIPort)
	assignString(&cfg.Observability.StorageBackend, overlay.Observability.StorageBackend)
	assignString(&cfg.Observability.RedisAddress, overlay.Observability.RedisAddress)
	assignString(&cfg.Observability.PostgresDSN, overlay.Observability.PostgresDSN)
	assignBool(&cfg.Observability.AuthEnabled, overlay.Observability.AuthEnabled)
	assignString(&cfg.Observability.APIKey, overlay.Observability.APIKey)
	if overlay.Observability.AllowedOrigins != nil {
		cfg.Observability.AllowedOrigins = *overlay.Observability.AllowedOrigins
	}

	return nil
}

// Validate reports configuration errors that would otherwise surface as
// confusing runtime behavior, for `fx config validate`.
func (c *CoordinatorConfig) Validate() []string {
	var errs []string
	if c.Threshold.Min > c.Threshold.Max {
		errs = append(errs, fmt.Sprintf("MIN_THRESHOLD (%.2f) > MAX_THRESHOLD (%.2f)", c.Threshold.Min, c.Threshold.Max))
	}
	if c.Threshold.Initial < c.Threshold.Min || c.Threshold.Initial > c.Threshold.Max {
		errs = append(errs, fmt.Sprintf("INITIAL_THRESHOLD (%.2f) outside [%.2f,%.2f]", c.Threshold.Initial, c.Threshold.Min, c.Threshold.Max))
	}
	if c.Reputation.Min > c.Reputation.Max {
		errs = append(errs, fmt.Sprintf("REPUTATION_MIN (%.2f) > REPUTATION_MAX (%.2f)", c.Reputation.Min, c.Reputation.Max))
	}
	if c.Reputation.Init < c.Reputation.Min || c.Reputation.Init > c.Reputation.Max {
		errs = append(errs, fmt.Sprintf("REPUTATION_INIT (%.2f) outside [%.2f,%.2f]", c.Reputation.Init, c.Reputation.Min, c.Reputation.Max))
	}
	if c.RoundTimeout <= 0 {
		errs = append(errs, "ROUND_TIMEOUT_MINUTES must be positive")
	}
	if c.WSURL == "" {
		errs = append(errs, "AGGREGATOR_WS_URL is not set")
	}
	if c.GatewayURL == "" {
		errs = append(errs, "AGGREGATOR_GATEWAY_URL is not set")
	}
	if c.BlobURL == "" {
		errs = append(errs, "MINIO_HANDLER_URL is not set")
	}
	switch c.Observability.StorageBackend {
	case "memory", "redis", "postgres", "postgresql", "":
	default:
		errs = append(errs, fmt.Sprintf("OBSERVABILITY_STORAGE_BACKEND %q is not one of memory|redis|postgres", c.Observability.StorageBackend))
	}
	return errs
}

// ToRoundConfig projects the round-coordinator-relevant fields.
func (c *CoordinatorConfig) ToRoundConfig() round.Config {
	return round.Config{
		DefaultParticipants: c.DefaultParticipants,
		RoundTimeout:        c.RoundTimeout,
		GracePeriod:         60 * time.Second,
	}
}

// ToMonitoringConfig projects the observability-API-relevant fields.
// Production (which restricts CORS and WebSocket origins to AllowedOrigins)
// is inferred from whether an allow-list was actually configured.
func (c *CoordinatorConfig) ToMonitoringConfig() *monitoring.Config {
	return &monitoring.Config{
		Enabled:        c.Observability.Enabled,
		Production:     len(c.Observability.AllowedOrigins) > 0,
		APIPort:        c.Observability.APIPort,
		AllowedOrigins: c.Observability.AllowedOrigins,
	}
}

// ToStorageConfig projects the observability storage backend selection.
func (c *CoordinatorConfig) ToStorageConfig() monitoring.StorageConfig {
	return monitoring.StorageConfig{
		Backend: c.Observability.StorageBackend,
		Memory:  monitoring.MemoryConfig{MaxEntries: 10000},
		Redis:   monitoring.RedisConfig{Address: c.Observability.RedisAddress},
		PostgreSQL: monitoring.DatabaseConfig{
			DSN: c.Observability.PostgresDSN,
		},
	}
}

// ToAuthConfig projects the auth-relevant fields. Callers should only build
// an AuthManager from this when Observability.AuthEnabled is true.
func (c *CoordinatorConfig) ToAuthConfig() monitoring.AuthConfig {
	return monitoring.AuthConfig{
		Enabled: c.Observability.AuthEnabled,
		APIKeyAuth: monitoring.APIKeyConfig{
			Enabled:    c.Observability.APIKey != "",
			Keys:       map[string]string{c.Observability.APIKey: "operator"},
			HeaderName: "X-API-Key",
		},
	}
}

// validateFilePath validates and sanitizes file paths to prevent directory
// traversal attacks.
func validateFilePath(path string) error {
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid file path: path traversal detected")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("invalid file extension: only .yaml and .yml files are allowed")
	}

	if len(cleanPath) > 256 {
		return fmt.Errorf("file path too long: maximum 256 characters allowed")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func assignString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func assignBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func assignInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func assignFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
