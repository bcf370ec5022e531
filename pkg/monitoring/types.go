// Package monitoring exposes a read-only observability view of the
// aggregator's in-memory state: round snapshots, the reputation table,
// threshold state and history, and a live event stream.
package monitoring

import "time"

// EventType classifies a MonitoringEvent for WS subscribers that filter by
// kind.
type EventType string

const (
	EventRoundTransition  EventType = "round_transition"
	EventQualityDecision  EventType = "quality_decision"
	EventReputationUpdate EventType = "reputation_update"
	EventNonParticipant   EventType = "non_participant"
	EventSnapshot         EventType = "snapshot"
)

// RoundSnapshot is the observability projection of a round.Snapshot, with
// JSON tags and a RecordedAt stamp; Service fills it from round.Snapshot.
type RoundSnapshot struct {
	RoundID         string    `json:"round_id"`
	Phase           string    `json:"phase"`
	Expected        int       `json:"expected"`
	Submitted       int       `json:"submitted"`
	NonParticipants []string  `json:"non_participants,omitempty"`
	Deadline        time.Time `json:"deadline,omitempty"`
	CompletedAt     time.Time `json:"completed_at,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// ReputationEntry is one participant's current reputation score.
type ReputationEntry struct {
	ParticipantID string  `json:"participant_id"`
	Score         float64 `json:"score"`
}

// ThresholdHistoryEntry mirrors threshold.HistoryEntry, with JSON tags for
// the API.
type ThresholdHistoryEntry struct {
	RoundID       string  `json:"round_id"`
	AvgQuality    float64 `json:"avg_quality"`
	AvgReputation float64 `json:"avg_reputation"`
	NumModels     int     `json:"num_models"`
	NumAccepted   int     `json:"num_accepted"`
	ThresholdUsed float64 `json:"threshold_used"`
}

// ThresholdSnapshot is the current acceptance threshold plus its recent
// history, as published after every completed round.
type ThresholdSnapshot struct {
	CurrentThreshold float64                 `json:"current_threshold"`
	History          []ThresholdHistoryEntry `json:"history"`
	RecordedAt       time.Time               `json:"recorded_at"`
}

// MonitoringEvent is one entry in the live event stream: a round
// transition, a quality decision, a non-participant penalty, or a post-round
// snapshot.
type MonitoringEvent struct {
	ID        string                 `json:"id"`
	RoundID   string                 `json:"round_id,omitempty"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"` // info/warning/error
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Config configures the observability API server.
type Config struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	APIPort        int      `yaml:"api_port" json:"api_port"`
	Production     bool     `yaml:"production" json:"production"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// EventsFilter filters the event-history endpoint.
type EventsFilter struct {
	RoundID string
	Type    EventType
	Limit   int
	Offset  int
}

// APIResponse is the standard response envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
