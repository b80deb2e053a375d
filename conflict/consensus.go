package conflict

import (
	"context"

	"github.com/meshgate/meshgate/core"
)

// ConsensusConfig bounds iterative consensus building.
type ConsensusConfig struct {
	// Threshold is the agreement strength at which consensus is declared.
	Threshold float64
	// MaxRounds caps the number of position-exchange rounds.
	MaxRounds int
	// EscalationTier is the authority tier deadlocks escalate to.
	EscalationTier string
}

// DefaultConsensusConfig mirrors the standard convergence parameters:
// agreement strength of at least 0.75 within five rounds.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{Threshold: 0.75, MaxRounds: 5, EscalationTier: "coordinator"}
}

// BuildConsensus runs bounded rounds of position exchange until the agreement
// strength for a single option meets the threshold. Each round, flexible
// participants (Flexibility > 0.5) move to the currently leading option;
// rigid participants hold. A round with no movement short of the threshold is
// a deadlock and escalates to the configured tier. Exhausted rounds likewise
// fall through to escalation rather than forcing a minority outcome.
func BuildConsensus(ctx context.Context, conflictID string, positions []core.Position, cfg ConsensusConfig) core.Decision {
	decision := core.Decision{ConflictID: conflictID, Strategy: core.StrategyConsensusBuilding}
	if len(positions) == 0 {
		decision.Reason = "no positions submitted"
		return decision
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.75
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 5
	}

	working := make([]core.Position, len(positions))
	copy(working, positions)

	for round := 1; round <= cfg.MaxRounds; round++ {
		select {
		case <-ctx.Done():
			decision.Rounds = round - 1
			decision.Reason = "consensus aborted: " + ctx.Err().Error()
			return decision
		default:
		}

		leader, strength := agreementStrength(working)
		decision.Rounds = round
		if strength >= cfg.Threshold {
			decision.Resolved = true
			decision.Winner = leader
			decision.WinningScore = strength
			return decision
		}

		moved := false
		for i := range working {
			if working[i].Option != leader && working[i].Flexibility > 0.5 {
				working[i].Option = leader
				moved = true
			}
		}
		if !moved {
			// No movement with the threshold unmet: positions are entrenched.
			escalated := EscalateHierarchy(conflictID, cfg.EscalationTier)
			escalated.Strategy = core.StrategyConsensusBuilding
			escalated.Rounds = round
			return escalated
		}
	}

	leader, strength := agreementStrength(working)
	if strength >= cfg.Threshold {
		decision.Resolved = true
		decision.Winner = leader
		decision.WinningScore = strength
		decision.Rounds = cfg.MaxRounds
		return decision
	}
	escalated := EscalateHierarchy(conflictID, cfg.EscalationTier)
	escalated.Strategy = core.StrategyConsensusBuilding
	escalated.Rounds = cfg.MaxRounds
	return escalated
}

// agreementStrength returns the leading option and the fraction of total
// participant weight behind it.
func agreementStrength(positions []core.Position) (string, float64) {
	totals := map[string]float64{}
	var sum float64
	for _, p := range positions {
		weight := p.Weight
		if weight <= 0 {
			weight = 1
		}
		totals[p.Option] += weight
		sum += weight
	}
	leader, winning, _, _ := topTwo(totals)
	if sum == 0 {
		return leader, 0
	}
	return leader, winning / sum
}
