package monitoring

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStorage implements Storage on PostgreSQL, for a durable,
// queryable observability history across aggregator restarts.
type PostgreSQLStorage struct {
	db     *sql.DB
	config DatabaseConfig
}

// DatabaseConfig configures the PostgreSQL connection. DSN, when set, is
// used as-is and the individual fields below are ignored.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_connections"`
}

// NewPostgreSQLStorage creates a new PostgreSQL storage backend.
func NewPostgreSQLStorage(config DatabaseConfig) (*PostgreSQLStorage, error) {
	dsn := config.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
		db.SetMaxIdleConns(config.MaxConns / 2)
	}
	db.SetConnMaxLifetime(time.Hour)

	storage := &PostgreSQLStorage{db: db, config: config}
	if err := storage.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return storage, nil
}

func (p *PostgreSQLStorage) initSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS round_snapshots (
			round_id VARCHAR(255) PRIMARY KEY,
			phase VARCHAR(20) NOT NULL,
			expected INTEGER NOT NULL DEFAULT 0,
			submitted INTEGER NOT NULL DEFAULT 0,
			non_participants JSONB,
			deadline TIMESTAMP WITH TIME ZONE,
			completed_at TIMESTAMP WITH TIME ZONE,
			recorded_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS reputation_entries (
			participant_id VARCHAR(255) PRIMARY KEY,
			score DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS threshold_snapshots (
			id SERIAL PRIMARY KEY,
			current_threshold DOUBLE PRECISION NOT NULL,
			history JSONB,
			recorded_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS monitoring_events (
			id VARCHAR(255) PRIMARY KEY,
			round_id VARCHAR(255),
			event_type VARCHAR(50) NOT NULL,
			level VARCHAR(20) NOT NULL,
			message TEXT,
			data JSONB,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_round ON monitoring_events(round_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON monitoring_events(timestamp)`,
	}
	for _, schema := range schemas {
		if _, err := p.db.Exec(schema); err != nil {
			return fmt.Errorf("failed to execute schema: %s, error: %w", schema, err)
		}
	}
	return nil
}

func (p *PostgreSQLStorage) StoreRoundSnapshot(snap RoundSnapshot) error {
	nonParticipants, err := json.Marshal(snap.NonParticipants)
	if err != nil {
		return fmt.Errorf("marshal non_participants: %w", err)
	}
	query := `
		INSERT INTO round_snapshots (round_id, phase, expected, submitted, non_participants, deadline, completed_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (round_id) DO UPDATE SET
			phase = EXCLUDED.phase,
			expected = EXCLUDED.expected,
			submitted = EXCLUDED.submitted,
			non_participants = EXCLUDED.non_participants,
			deadline = EXCLUDED.deadline,
			completed_at = EXCLUDED.completed_at,
			recorded_at = NOW()
	`
	_, err = p.db.Exec(query, snap.RoundID, snap.Phase, snap.Expected, snap.Submitted,
		nonParticipants, nullableTime(snap.Deadline), nullableTime(snap.CompletedAt))
	return err
}

func (p *PostgreSQLStorage) GetRoundSnapshot(roundID string) (*RoundSnapshot, error) {
	query := `
		SELECT round_id, phase, expected, submitted, non_participants, deadline, completed_at, recorded_at
		FROM round_snapshots WHERE round_id = $1
	`
	var snap RoundSnapshot
	var nonParticipants []byte
	var deadline, completedAt sql.NullTime

	err := p.db.QueryRow(query, roundID).Scan(&snap.RoundID, &snap.Phase, &snap.Expected, &snap.Submitted,
		&nonParticipants, &deadline, &completedAt, &snap.RecordedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(nonParticipants) > 0 {
		json.Unmarshal(nonParticipants, &snap.NonParticipants)
	}
	if deadline.Valid {
		snap.Deadline = deadline.Time
	}
	if completedAt.Valid {
		snap.CompletedAt = completedAt.Time
	}
	return &snap, nil
}

func (p *PostgreSQLStorage) ListRoundSnapshots() ([]RoundSnapshot, error) {
	rows, err := p.db.Query(`
		SELECT round_id, phase, expected, submitted, non_participants, deadline, completed_at, recorded_at
		FROM round_snapshots ORDER BY recorded_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoundSnapshot
	for rows.Next() {
		var snap RoundSnapshot
		var nonParticipants []byte
		var deadline, completedAt sql.NullTime
		if err := rows.Scan(&snap.RoundID, &snap.Phase, &snap.Expected, &snap.Submitted,
			&nonParticipants, &deadline, &completedAt, &snap.RecordedAt); err != nil {
			return nil, err
		}
		if len(nonParticipants) > 0 {
			json.Unmarshal(nonParticipants, &snap.NonParticipants)
		}
		if deadline.Valid {
			snap.Deadline = deadline.Time
		}
		if completedAt.Valid {
			snap.CompletedAt = completedAt.Time
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (p *PostgreSQLStorage) StoreReputationEntry(entry ReputationEntry) error {
	query := `
		INSERT INTO reputation_entries (participant_id, score, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (participant_id) DO UPDATE SET score = EXCLUDED.score, updated_at = NOW()
	`
	_, err := p.db.Exec(query, entry.ParticipantID, entry.Score)
	return err
}

func (p *PostgreSQLStorage) ListReputationEntries() ([]ReputationEntry, error) {
	rows, err := p.db.Query(`SELECT participant_id, score FROM reputation_entries ORDER BY participant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReputationEntry
	for rows.Next() {
		var e ReputationEntry
		if err := rows.Scan(&e.ParticipantID, &e.Score); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgreSQLStorage) StoreThresholdSnapshot(snap ThresholdSnapshot) error {
	history, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = p.db.Exec(`INSERT INTO threshold_snapshots (current_threshold, history, recorded_at) VALUES ($1, $2, NOW())`,
		snap.CurrentThreshold, history)
	return err
}

func (p *PostgreSQLStorage) GetLatestThresholdSnapshot() (*ThresholdSnapshot, error) {
	var snap ThresholdSnapshot
	var history []byte
	err := p.db.QueryRow(`SELECT current_threshold, history, recorded_at FROM threshold_snapshots ORDER BY id DESC LIMIT 1`).
		Scan(&snap.CurrentThreshold, &history, &snap.RecordedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(history) > 0 {
		json.Unmarshal(history, &snap.History)
	}
	return &snap, nil
}

func (p *PostgreSQLStorage) StoreEvent(event MonitoringEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	query := `
		INSERT INTO monitoring_events (id, round_id, event_type, level, message, data, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.Exec(query, event.ID, event.RoundID, string(event.Type), event.Level, event.Message, data, event.Timestamp)
	return err
}

func (p *PostgreSQLStorage) GetEvents(filter EventsFilter) ([]MonitoringEvent, error) {
	query := `SELECT id, round_id, event_type, level, message, data, timestamp FROM monitoring_events`
	args := []interface{}{}
	argCount := 0
	conditions := ""

	if filter.RoundID != "" {
		argCount++
		conditions += fmt.Sprintf(" WHERE round_id = $%d", argCount)
		args = append(args, filter.RoundID)
	}
	if filter.Type != "" {
		argCount++
		if conditions == "" {
			conditions += fmt.Sprintf(" WHERE event_type = $%d", argCount)
		} else {
			conditions += fmt.Sprintf(" AND event_type = $%d", argCount)
		}
		args = append(args, string(filter.Type))
	}
	query += conditions + " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		argCount++
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		argCount++
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []MonitoringEvent
	for rows.Next() {
		var e MonitoringEvent
		var roundID sql.NullString
		var data []byte
		if err := rows.Scan(&e.ID, &roundID, &e.Type, &e.Level, &e.Message, &data, &e.Timestamp); err != nil {
			return nil, err
		}
		if roundID.Valid {
			e.RoundID = roundID.String
		}
		if len(data) > 0 {
			json.Unmarshal(data, &e.Data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *PostgreSQLStorage) Cleanup(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	_, err := p.db.Exec(`DELETE FROM monitoring_events WHERE timestamp < $1`, cutoff)
	return err
}

func (p *PostgreSQLStorage) Close() error {
	return p.db.Close()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
