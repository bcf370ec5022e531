package round

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fl-team8/aggregator/pkg/ledger"
	"github.com/fl-team8/aggregator/pkg/reputation"
)

// RoundResult is what an aggregation worker learns about the round it was
// triggered for: the full submission snapshot and the non-participants
// already penalized before any model was downloaded.
type RoundResult struct {
	RoundID         string
	Submissions     map[string]string
	NonParticipants []string
}

// AggregationRunner performs the download/evaluate/filter/aggregate/publish
// pipeline for one round. It is injected so this package stays independent
// of the aggregator, blobstore, and quality packages.
type AggregationRunner interface {
	RunRound(ctx context.Context, result RoundResult) error
}

// Hooks feeds the observability API. All methods are optional; a nil Hooks
// (the default) performs no observability work.
type Hooks interface {
	OnRoundTransition(roundID, phase string)
	OnNonParticipant(roundID, participantID string)
}

// Coordinator owns the active-rounds map and the per-round state machine.
type Coordinator struct {
	mu           sync.Mutex
	activeRounds map[string]*Round

	defaultParticipants []string
	timeout             time.Duration
	gracePeriod         time.Duration

	runner      AggregationRunner
	reputations *reputation.Store
	ledger      *ledger.Client
	hooks       Hooks

	ctx context.Context
}

// Config carries the values the coordinator needs from the environment.
type Config struct {
	DefaultParticipants []string
	RoundTimeout        time.Duration
	GracePeriod         time.Duration
}

// New creates a Coordinator. ctx is used as the parent for the background
// aggregation and cleanup goroutines it spawns; canceling it abandons any
// in-flight work, matching the shutdown semantics in the concurrency model.
func New(ctx context.Context, cfg Config, runner AggregationRunner, reputations *reputation.Store, ledgerClient *ledger.Client, hooks Hooks) *Coordinator {
	return &Coordinator{
		ctx:                 ctx,
		activeRounds:        make(map[string]*Round),
		defaultParticipants: cfg.DefaultParticipants,
		timeout:             cfg.RoundTimeout,
		gracePeriod:         cfg.GracePeriod,
		runner:              runner,
		reputations:         reputations,
		ledger:              ledgerClient,
		hooks:               hooks,
	}
}

// SetHooks attaches the observability hooks after construction, for the
// common case where the hooks implementation itself needs a reference to
// the Coordinator it observes. Call before starting the event listener.
func (c *Coordinator) SetHooks(hooks Hooks) {
	c.hooks = hooks
}

func (c *Coordinator) transition(roundID, phase string) {
	if c.hooks != nil {
		c.hooks.OnRoundTransition(roundID, phase)
	}
}

// postReputationUpdate writes a reputation mutation through to the ledger.
// All reputation changes, not just the quality-driven ones the aggregation
// worker posts, are facts the ledger must hold.
func (c *Coordinator) postReputationUpdate(participantID string, score float64, reason, roundID string) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.PostReputationUpdate(c.ctx, ledger.ReputationUpdate{
		ParticipantID: participantID,
		Score:         score,
		Reason:        reason,
		RoundID:       roundID,
	}); err != nil {
		log.Printf("[AGGREGATOR] ⚠️ reputation update for %s did not reach the ledger: %v", participantID, err)
	}
}

// getOrCreate returns the round for id, creating it (seeded with the
// default participant set) if this is the first time it's been observed.
func (c *Coordinator) getOrCreate(id string) *Round {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.activeRounds[id]; ok {
		return r
	}
	r := newRound(id, c.defaultParticipants)
	c.activeRounds[id] = r
	log.Printf("[AGGREGATOR] 🆕 round %s created, expecting %d participants", id, len(r.Expected))
	c.transition(id, StateOpen.String())
	return r
}

func (c *Coordinator) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.activeRounds, id)
}

// Snapshots returns a point-in-time view of every active round, for the
// observability API.
func (c *Coordinator) Snapshots() []Snapshot {
	c.mu.Lock()
	rounds := make([]*Round, 0, len(c.activeRounds))
	for _, r := range c.activeRounds {
		rounds = append(rounds, r)
	}
	c.mu.Unlock()

	out := make([]Snapshot, len(rounds))
	for i, r := range rounds {
		out[i] = r.snapshot()
	}
	return out
}

// OnRoundStarted implements ledger.Handler: it ensures a Round entry exists
// and starts its timeout deadline.
func (c *Coordinator) OnRoundStarted(d ledger.RoundStartedData) {
	r := c.getOrCreate(d.RoundID)
	r.mu.Lock()
	r.Initiator = d.Initiator
	r.Description = d.Description
	if r.Deadline.IsZero() {
		r.Deadline = time.Now().Add(c.timeout)
	}
	r.mu.Unlock()

	log.Printf("[AGGREGATOR] 📥 round %s started by %s", d.RoundID, d.Initiator)
	c.armTimeout(r)
}

// OnModelUploaded implements ledger.Handler: it records a submission and, if
// every expected participant has now submitted, triggers processing.
func (c *Coordinator) OnModelUploaded(d ledger.ModelUploadedData) {
	r := c.getOrCreate(d.RoundID)

	r.mu.Lock()
	if r.Deadline.IsZero() {
		r.Deadline = time.Now().Add(c.timeout)
		c.armTimeout(r)
	}
	r.mu.Unlock()

	log.Printf("[AGGREGATOR] ⬆️ %s submitted a model for round %s", d.BankID, d.RoundID)
	if r.addSubmission(d.BankID, d.ModelURI) {
		log.Printf("[AGGREGATOR] 📊 all expected participants submitted for round %s", d.RoundID)
		c.beginProcessing(r)
	}
}

// OnStartAggregation implements ledger.Handler for the legacy event: it
// merges submissions (authoritative only if none were observed before) and
// forces immediate processing, bypassing the timeout.
func (c *Coordinator) OnStartAggregation(d ledger.StartAggregationData) {
	r := c.getOrCreate(d.RoundID)

	r.mu.Lock()
	if len(r.Submissions) == 0 {
		for participant, uri := range d.Submissions {
			r.Submissions[participant] = uri
		}
	}
	r.mu.Unlock()

	log.Printf("[AGGREGATOR] 🚀 legacy START_AGGREGATION received for round %s", d.RoundID)
	c.beginProcessing(r)
}

func (c *Coordinator) armTimeout(r *Round) {
	delay := time.Until(r.Deadline)
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		log.Printf("[AGGREGATOR] ⏰ round %s timeout elapsed", r.ID)
		c.beginProcessing(r)
	})
}

// beginProcessing performs the exactly-once transition into PROCESSING,
// penalizes non-participants before any model is downloaded, and hands the
// round off to the aggregation worker goroutine.
func (c *Coordinator) beginProcessing(r *Round) {
	if !r.tryEnterProcessing() {
		return
	}
	c.transition(r.ID, StateProcessing.String())

	r.mu.Lock()
	nonParticipants := r.nonParticipants()
	r.mu.Unlock()

	for _, p := range nonParticipants {
		newRep := c.reputations.PenalizeNonParticipation(p)
		log.Printf("[AGGREGATOR] ⚠️ %s did not participate in round %s, reputation now %.3f", p, r.ID, newRep)
		c.postReputationUpdate(p, newRep, fmt.Sprintf("Non-participation in round %s", r.ID), r.ID)
		if c.hooks != nil {
			c.hooks.OnNonParticipant(r.ID, p)
		}
	}

	result := RoundResult{
		RoundID:         r.ID,
		Submissions:     r.snapshotSubmissions(),
		NonParticipants: nonParticipants,
	}

	go c.runAggregation(r, result)
}

func (c *Coordinator) runAggregation(r *Round, result RoundResult) {
	if err := c.runner.RunRound(c.ctx, result); err != nil {
		log.Printf("[AGGREGATOR] ❌ round %s failed: %v", r.ID, err)
	} else {
		log.Printf("[AGGREGATOR] ✅ round %s completed", r.ID)
	}

	r.markCompleted()
	c.transition(r.ID, StateCompleted.String())

	time.AfterFunc(c.gracePeriod, func() {
		c.remove(r.ID)
		c.transition(r.ID, StateRemoved.String())
		log.Printf("[AGGREGATOR] 🧹 round %s removed from active set", r.ID)
	})
}
