// Package round implements the per-round state machine: OPEN -> COLLECTING
// -> PROCESSING -> COMPLETED -> REMOVED, submission collection, and the
// non-participant penalty and cleanup workers that surround it.
package round

import (
	"sync"
	"time"
)

// State is a round's position in its lifecycle.
type State int

const (
	StateOpen State = iota
	StateCollecting
	StateProcessing
	StateCompleted
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCollecting:
		return "COLLECTING"
	case StateProcessing:
		return "PROCESSING"
	case StateCompleted:
		return "COMPLETED"
	case StateRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Round tracks one coordination epoch. Fields are only ever mutated while
// holding mu, which is also the lock that makes the COLLECTING->PROCESSING
// transition exactly-once.
type Round struct {
	mu sync.Mutex

	ID          string
	Initiator   string
	Description string
	Started     time.Time
	Deadline    time.Time
	CompletedAt time.Time

	Expected    map[string]bool
	Submissions map[string]string // participant -> model URI, first submission wins

	State State
}

func newRound(id string, expected []string) *Round {
	exp := make(map[string]bool, len(expected))
	for _, p := range expected {
		exp[p] = true
	}
	return &Round{
		ID:          id,
		Started:     time.Now(),
		Expected:    exp,
		Submissions: make(map[string]string),
		State:       StateOpen,
	}
}

// addSubmission idempotently records a participant's model URI, keeping the
// first one seen for a given participant. It reports whether every expected
// participant has now submitted.
func (r *Round) addSubmission(participantID, modelURI string) (allSubmitted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.Submissions[participantID]; !exists {
		r.Submissions[participantID] = modelURI
	}
	if r.State == StateOpen {
		r.State = StateCollecting
	}
	return r.allSubmitted()
}

// allSubmitted must be called with mu held.
func (r *Round) allSubmitted() bool {
	for p := range r.Expected {
		if _, ok := r.Submissions[p]; !ok {
			return false
		}
	}
	return true
}

// nonParticipants returns expected participants who never submitted. Must be
// called with mu held.
func (r *Round) nonParticipants() []string {
	var missing []string
	for p := range r.Expected {
		if _, ok := r.Submissions[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// tryEnterProcessing performs the exactly-once COLLECTING->PROCESSING
// transition. Concurrent callers racing on the same round: exactly one
// succeeds (returns true), the rest lose the race and return false.
func (r *Round) tryEnterProcessing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State == StateProcessing || r.State == StateCompleted || r.State == StateRemoved {
		return false
	}
	r.State = StateProcessing
	return true
}

// snapshotSubmissions returns a copy of the submitted URIs, safe to iterate
// outside the round lock.
func (r *Round) snapshotSubmissions() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.Submissions))
	for k, v := range r.Submissions {
		out[k] = v
	}
	return out
}

func (r *Round) markCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = StateCompleted
	r.CompletedAt = time.Now()
}

// Snapshot is the read-only projection exposed to the observability API.
type Snapshot struct {
	RoundID         string
	Phase           string
	Expected        int
	Submitted       int
	NonParticipants []string
	Deadline        time.Time
	CompletedAt     time.Time
}

func (r *Round) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		RoundID:         r.ID,
		Phase:           r.State.String(),
		Expected:        len(r.Expected),
		Submitted:       len(r.Submissions),
		NonParticipants: r.nonParticipants(),
		Deadline:        r.Deadline,
		CompletedAt:     r.CompletedAt,
	}
}
