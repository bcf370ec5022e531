package monitoring

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fl-team8/aggregator/pkg/quality"
	"github.com/fl-team8/aggregator/pkg/reputation"
	"github.com/fl-team8/aggregator/pkg/round"
	"github.com/fl-team8/aggregator/pkg/threshold"
)

// Service implements round.Hooks and aggregator.Hooks, translating the
// coordinator's and processor's callbacks into stored records and a fanned
// out live event stream for WebSocket subscribers.
type Service struct {
	storage     Storage
	coordinator *round.Coordinator
	reputations *reputation.Store
	thresholds  *threshold.Controller

	mu          sync.Mutex
	subscribers map[chan MonitoringEvent]struct{}
}

// NewService wires a Service to its storage backend and the live state it
// reads snapshots from.
func NewService(storage Storage, coordinator *round.Coordinator, reputations *reputation.Store, thresholds *threshold.Controller) *Service {
	return &Service{
		storage:     storage,
		coordinator: coordinator,
		reputations: reputations,
		thresholds:  thresholds,
		subscribers: make(map[chan MonitoringEvent]struct{}),
	}
}

func (s *Service) publish(event MonitoringEvent) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()
	if err := s.storage.StoreEvent(event); err != nil {
		log.Printf("[AGGREGATOR] ⚠️ failed to store monitoring event: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a channel that receives every published event until
// Unsubscribe is called. The channel is buffered by the caller; a slow
// consumer drops events rather than blocking publishers.
func (s *Service) Subscribe(ch chan MonitoringEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[ch] = struct{}{}
}

// Unsubscribe removes a channel registered with Subscribe.
func (s *Service) Unsubscribe(ch chan MonitoringEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, ch)
}

// OnRoundTransition implements round.Hooks.
func (s *Service) OnRoundTransition(roundID, phase string) {
	s.publish(MonitoringEvent{
		RoundID: roundID,
		Type:    EventRoundTransition,
		Level:   "info",
		Message: "round " + roundID + " entered " + phase,
		Data:    map[string]interface{}{"phase": phase},
	})
	s.refreshRoundSnapshot(roundID)
}

// OnNonParticipant implements round.Hooks.
func (s *Service) OnNonParticipant(roundID, participantID string) {
	s.publish(MonitoringEvent{
		RoundID: roundID,
		Type:    EventNonParticipant,
		Level:   "warning",
		Message: participantID + " did not participate in round " + roundID,
		Data:    map[string]interface{}{"participant_id": participantID},
	})
	s.refreshReputationEntry(participantID)
}

// OnQualityDecision implements aggregator.Hooks.
func (s *Service) OnQualityDecision(roundID, participantID string, m quality.Metrics, accepted bool) {
	s.publish(MonitoringEvent{
		RoundID: roundID,
		Type:    EventQualityDecision,
		Level:   "info",
		Message: participantID + " quality decision recorded",
		Data: map[string]interface{}{
			"participant_id": participantID,
			"quality_score":  m.QualityScore,
			"reputation":     m.Reputation,
			"accepted":       accepted,
		},
	})
	s.refreshReputationEntry(participantID)
}

// OnSnapshot implements aggregator.Hooks: after a round completes, persist
// the current reputation table and threshold state for the dashboard.
func (s *Service) OnSnapshot(roundID string) {
	current, history := s.thresholds.Snapshot()
	apiHistory := make([]ThresholdHistoryEntry, len(history))
	for i, h := range history {
		apiHistory[i] = ThresholdHistoryEntry{
			RoundID:       h.RoundID,
			AvgQuality:    h.AvgQuality,
			AvgReputation: h.AvgReputation,
			NumModels:     h.NumModels,
			NumAccepted:   h.NumAccepted,
			ThresholdUsed: h.ThresholdUsed,
		}
	}
	if err := s.storage.StoreThresholdSnapshot(ThresholdSnapshot{CurrentThreshold: current, History: apiHistory}); err != nil {
		log.Printf("[AGGREGATOR] ⚠️ failed to store threshold snapshot: %v", err)
	}

	for participantID, score := range s.reputations.Snapshot() {
		if err := s.storage.StoreReputationEntry(ReputationEntry{ParticipantID: participantID, Score: score}); err != nil {
			log.Printf("[AGGREGATOR] ⚠️ failed to store reputation entry for %s: %v", participantID, err)
		}
	}

	s.publish(MonitoringEvent{
		RoundID: roundID,
		Type:    EventSnapshot,
		Level:   "info",
		Message: "round " + roundID + " snapshot recorded",
	})
}

func (s *Service) refreshReputationEntry(participantID string) {
	score := s.reputations.Get(participantID)
	if err := s.storage.StoreReputationEntry(ReputationEntry{ParticipantID: participantID, Score: score}); err != nil {
		log.Printf("[AGGREGATOR] ⚠️ failed to store reputation entry for %s: %v", participantID, err)
	}
}

func (s *Service) refreshRoundSnapshot(roundID string) {
	for _, snap := range s.coordinator.Snapshots() {
		if snap.RoundID != roundID {
			continue
		}
		if err := s.storage.StoreRoundSnapshot(RoundSnapshot{
			RoundID:         snap.RoundID,
			Phase:           snap.Phase,
			Expected:        snap.Expected,
			Submitted:       snap.Submitted,
			NonParticipants: snap.NonParticipants,
			Deadline:        snap.Deadline,
			CompletedAt:     snap.CompletedAt,
		}); err != nil {
			log.Printf("[AGGREGATOR] ⚠️ failed to store round snapshot for %s: %v", roundID, err)
		}
		return
	}
}
