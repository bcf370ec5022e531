package monitoring

import "time"

// Storage persists the data the observability API serves. Every write comes
// from the aggregator's own Hooks implementation; there is no external
// writer, matching the read-only-by-design nature of this subsystem.
type Storage interface {
	StoreRoundSnapshot(snap RoundSnapshot) error
	GetRoundSnapshot(roundID string) (*RoundSnapshot, error)
	ListRoundSnapshots() ([]RoundSnapshot, error)

	StoreReputationEntry(entry ReputationEntry) error
	ListReputationEntries() ([]ReputationEntry, error)

	StoreThresholdSnapshot(snap ThresholdSnapshot) error
	GetLatestThresholdSnapshot() (*ThresholdSnapshot, error)

	StoreEvent(event MonitoringEvent) error
	GetEvents(filter EventsFilter) ([]MonitoringEvent, error)

	Cleanup(maxAge time.Duration) error
	Close() error
}

// StorageConfig selects and configures a storage backend.
type StorageConfig struct {
	Backend    string         `yaml:"backend"` // memory, postgres, redis
	Memory     MemoryConfig   `yaml:"memory"`
	PostgreSQL DatabaseConfig `yaml:"postgresql"`
	Redis      RedisConfig    `yaml:"redis"`
}

// MemoryConfig configures the in-memory backend.
type MemoryConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// NewStorage builds the configured Storage backend, defaulting to memory.
func NewStorage(config StorageConfig) (Storage, error) {
	switch config.Backend {
	case "memory", "":
		return NewMemoryStorage(config.Memory), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(config.PostgreSQL)
	case "redis":
		return NewRedisStorage(config.Redis)
	default:
		return NewMemoryStorage(config.Memory), nil
	}
}
