package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/meshgate/meshgate/core"
	"github.com/meshgate/meshgate/logging"
	"github.com/meshgate/meshgate/metrics"
)

var (
	// ErrQuorumNotMet is returned when a voting strategy ran below the
	// configured participation fraction. The vote is invalid; retry instead of
	// accepting a minority decision.
	ErrQuorumNotMet = fmt.Errorf("quorum not met")
	// ErrManualResolution is returned for conflicts that must never be
	// auto-resolved (critical severity, data corruption).
	ErrManualResolution = fmt.Errorf("conflict requires manual resolution")
	// ErrUnknownStrategy is returned for strategy names outside the closed set.
	ErrUnknownStrategy = fmt.Errorf("unknown resolution strategy")
)

// Request carries everything the engine needs to resolve one conflict.
type Request struct {
	Conflict core.Conflict
	Strategy core.Strategy
	// TotalEligible is the number of participants entitled to vote; it feeds
	// the quorum gate for voting strategies.
	TotalEligible int
	// Budget bounds wall-clock time for the strategy. Zero means no budget.
	// On expiry the engine falls back to the fastest available option rather
	// than blocking.
	Budget time.Duration
}

// Engine dispatches conflicts to resolution strategies. Strategies themselves
// are pure; the engine supplies the quorum gate, the manual-resolution guard
// for critical conflicts, time-boxing, logging and metrics.
type Engine struct {
	quorum    float64
	consensus ConsensusConfig
	logger    logging.Logger
}

// Options holds configuration overrides passed to NewEngine.
type Options struct {
	// QuorumFraction is the minimum participation rate for voting strategies.
	QuorumFraction float64
	// Consensus bounds iterative consensus building.
	Consensus ConsensusConfig
	// Logger defaults to NoOp when nil.
	Logger logging.Logger
}

// NewEngine constructs an Engine with optional overrides.
func NewEngine(optFns ...func(o *Options)) *Engine {
	opts := Options{
		QuorumFraction: 0.5,
		Consensus:      DefaultConsensusConfig(),
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{quorum: opts.QuorumFraction, consensus: opts.Consensus, logger: opts.Logger}
}

// Resolve runs the requested strategy against the conflict. Critical and
// corruption conflicts are refused (manual resolution only); voting
// strategies are gated on quorum; a positive Budget time-boxes the strategy
// with a fallback decision on expiry.
func (e *Engine) Resolve(ctx context.Context, req Request) (core.Decision, error) {
	start := time.Now()

	if !core.ValidStrategy(req.Strategy) {
		return core.Decision{ConflictID: req.Conflict.ID}, fmt.Errorf("%w: %q", ErrUnknownStrategy, req.Strategy)
	}

	if req.Conflict.RequiresManualResolution() {
		decision := core.Decision{
			ConflictID:  req.Conflict.ID,
			Strategy:    req.Strategy,
			Escalated:   true,
			EscalatedTo: "manual",
			Reason:      fmt.Sprintf("%s conflict at severity %s is never auto-resolved", req.Conflict.Type, req.Conflict.Severity),
		}
		e.logger.Warn("conflict escalated to manual resolution", "conflict_id", req.Conflict.ID, "type", string(req.Conflict.Type), "severity", string(req.Conflict.Severity))
		metrics.ObserveConflict(string(req.Conflict.Type), string(req.Strategy), "manual")
		return decision, ErrManualResolution
	}

	if isVoting(req.Strategy) {
		quorum := CheckQuorum(distinctVoters(req.Conflict.Votes), req.TotalEligible, e.quorum)
		if !quorum.Met {
			decision := core.Decision{
				ConflictID: req.Conflict.ID,
				Strategy:   req.Strategy,
				Reason:     fmt.Sprintf("participation %.2f below quorum %.2f, retry recommended", quorum.ParticipationRate, quorum.Required),
			}
			metrics.ObserveConflict(string(req.Conflict.Type), string(req.Strategy), "quorum_not_met")
			return decision, fmt.Errorf("%w: %.2f < %.2f", ErrQuorumNotMet, quorum.ParticipationRate, quorum.Required)
		}
	}

	var decision core.Decision
	var err error
	if req.Budget > 0 {
		decision, err = e.resolveTimed(ctx, req)
	} else {
		decision = e.dispatch(ctx, req)
	}
	if err != nil {
		return decision, err
	}

	outcome := "unresolved"
	switch {
	case decision.Escalated:
		outcome = "escalated"
	case decision.Resolved:
		outcome = "resolved"
	}
	metrics.ObserveConflict(string(req.Conflict.Type), string(req.Strategy), outcome)
	if gl, ok := e.logger.(*logging.GatewayLogger); ok {
		gl.LogConflictResolution(req.Conflict.ID, string(req.Strategy), decision.Resolved, time.Since(start), nil)
	} else {
		e.logger.Info("conflict resolution finished", "conflict_id", req.Conflict.ID, "strategy", string(req.Strategy), "outcome", outcome, "duration", time.Since(start))
	}
	return decision, nil
}

// dispatch runs the pure strategy function for the request.
func (e *Engine) dispatch(ctx context.Context, req Request) core.Decision {
	switch req.Strategy {
	case core.StrategyMajorityVote:
		return MajorityVote(req.Conflict.ID, req.Conflict.Votes)
	case core.StrategyWeightedVote:
		return WeightedVote(req.Conflict.ID, req.Conflict.Votes)
	case core.StrategyExpertAuthority:
		return ExpertAuthority(req.Conflict.ID, req.Conflict.Positions)
	case core.StrategyConsensusBuilding, core.StrategyCollaborativeNegotiation:
		decision := BuildConsensus(ctx, req.Conflict.ID, req.Conflict.Positions, e.consensus)
		decision.Strategy = req.Strategy
		return decision
	case core.StrategyEvidenceBased:
		return EvidenceBased(req.Conflict.ID, req.Conflict.Positions)
	case core.StrategyAutomatedCompromise:
		return AutomatedCompromise(req.Conflict.ID, req.Conflict.Positions)
	case core.StrategyEscalationHierarchy:
		return EscalateHierarchy(req.Conflict.ID, e.consensus.EscalationTier)
	default:
		return core.Decision{ConflictID: req.Conflict.ID, Strategy: req.Strategy, Reason: "unknown strategy"}
	}
}

// resolveTimed runs the strategy under a wall-clock budget. On expiry it
// returns the fastest available fallback instead of blocking indefinitely.
func (e *Engine) resolveTimed(ctx context.Context, req Request) (core.Decision, error) {
	budgetCtx, cancel := context.WithTimeout(ctx, req.Budget)
	defer cancel()

	done := make(chan core.Decision, 1)
	go func() {
		done <- e.dispatch(budgetCtx, req)
	}()

	select {
	case decision := <-done:
		return decision, nil
	case <-budgetCtx.Done():
		fallback := e.fallbackDecision(req)
		e.logger.Warn("resolution budget exceeded, using fallback", "conflict_id", req.Conflict.ID, "strategy", string(req.Strategy), "budget", req.Budget)
		metrics.ObserveConflict(string(req.Conflict.Type), string(req.Strategy), "fallback")
		return fallback, nil
	}
}

// fallbackDecision picks the fastest available option: the single vote or
// position with the largest weight. It never blocks.
func (e *Engine) fallbackDecision(req Request) core.Decision {
	decision := core.Decision{
		ConflictID:   req.Conflict.ID,
		Strategy:     req.Strategy,
		FallbackUsed: true,
		Reason:       "time budget exceeded, fastest available option selected",
	}
	var best string
	var bestWeight float64 = -1
	for _, v := range req.Conflict.Votes {
		weight := v.Weight
		if weight <= 0 {
			weight = 1
		}
		if weight > bestWeight {
			bestWeight = weight
			best = v.Option
		}
	}
	for _, p := range req.Conflict.Positions {
		weight := p.Weight
		if weight <= 0 {
			weight = 1
		}
		if weight > bestWeight {
			bestWeight = weight
			best = p.Option
		}
	}
	if best != "" {
		decision.Resolved = true
		decision.Winner = best
		decision.WinningScore = bestWeight
	}
	return decision
}

func isVoting(s core.Strategy) bool {
	return s == core.StrategyMajorityVote || s == core.StrategyWeightedVote
}

// distinctVoters counts unique voter ids so duplicate ballots cannot inflate
// participation.
func distinctVoters(votes []core.Vote) int {
	seen := map[string]struct{}{}
	for _, v := range votes {
		seen[v.Voter] = struct{}{}
	}
	return len(seen)
}
