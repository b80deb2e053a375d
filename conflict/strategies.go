package conflict

import (
	"sort"

	"github.com/meshgate/meshgate/core"
)

// Each strategy below is a pure function of its input producing a Decision,
// so every one is independently testable without engine plumbing.

// MajorityVote tallies weight-1 votes and decides by count. A tie between the
// leading options yields no decision.
func MajorityVote(conflictID string, votes []core.Vote) core.Decision {
	decision := core.Decision{ConflictID: conflictID, Strategy: core.StrategyMajorityVote}
	if len(votes) == 0 {
		decision.Reason = "no votes cast"
		return decision
	}
	counts := map[string]float64{}
	for _, v := range votes {
		counts[v.Option]++
	}
	winner, winning, losing, tied := topTwo(counts)
	if tied {
		decision.Reason = "tie between leading options"
		return decision
	}
	decision.Resolved = true
	decision.Winner = winner
	decision.WinningScore = winning
	decision.LosingScore = losing
	decision.Margin = (winning - losing) / float64(len(votes))
	return decision
}

// WeightedVote tallies votes by declared participant weight; the highest
// aggregate wins. A tie on aggregate weight yields no decision.
func WeightedVote(conflictID string, votes []core.Vote) core.Decision {
	decision := core.Decision{ConflictID: conflictID, Strategy: core.StrategyWeightedVote}
	if len(votes) == 0 {
		decision.Reason = "no votes cast"
		return decision
	}
	totals := map[string]float64{}
	var sum float64
	for _, v := range votes {
		weight := v.Weight
		if weight <= 0 {
			weight = 1
		}
		totals[v.Option] += weight
		sum += weight
	}
	winner, winning, losing, tied := topTwo(totals)
	if tied {
		decision.Reason = "tie on aggregate weight"
		return decision
	}
	decision.Resolved = true
	decision.Winner = winner
	decision.WinningScore = winning
	decision.LosingScore = losing
	if sum > 0 {
		decision.Margin = (winning - losing) / sum
	}
	return decision
}

// ExpertAuthority defers to the participant with the highest declared
// authority. Authorities are assumed distinct, so this strategy always
// resolves when any position exists.
func ExpertAuthority(conflictID string, positions []core.Position) core.Decision {
	decision := core.Decision{ConflictID: conflictID, Strategy: core.StrategyExpertAuthority}
	if len(positions) == 0 {
		decision.Reason = "no positions submitted"
		return decision
	}
	expert := positions[0]
	for _, p := range positions[1:] {
		if p.Authority > expert.Authority {
			expert = p
		}
	}
	decision.Resolved = true
	decision.Winner = expert.Option
	decision.WinningScore = expert.Authority
	decision.Reason = "deferred to " + expert.Participant
	return decision
}

// EvidenceBased weighs each position by the credibility-times-weight score of
// its submitted evidence items; the option with the highest aggregate
// evidence strength wins.
func EvidenceBased(conflictID string, positions []core.Position) core.Decision {
	decision := core.Decision{ConflictID: conflictID, Strategy: core.StrategyEvidenceBased}
	if len(positions) == 0 {
		decision.Reason = "no positions submitted"
		return decision
	}
	strengths := map[string]float64{}
	for _, p := range positions {
		for _, item := range p.Evidence {
			strengths[p.Option] += item.Credibility * item.Weight
		}
	}
	winner, winning, losing, tied := topTwo(strengths)
	if tied {
		decision.Reason = "tie on evidence strength"
		return decision
	}
	if winning <= 0 {
		decision.Reason = "no position carries evidence strength"
		return decision
	}
	decision.Resolved = true
	decision.Winner = winner
	decision.WinningScore = winning
	decision.LosingScore = losing
	return decision
}

// AutomatedCompromise blends conflicting numeric requirements into a weighted
// average instead of picking a winner. Every participant's preference
// contributes proportionally to its weight.
func AutomatedCompromise(conflictID string, positions []core.Position) core.Decision {
	decision := core.Decision{ConflictID: conflictID, Strategy: core.StrategyAutomatedCompromise}
	if len(positions) == 0 {
		decision.Reason = "no positions submitted"
		return decision
	}
	var weightedSum, totalWeight float64
	for _, p := range positions {
		weight := p.Weight
		if weight <= 0 {
			weight = 1
		}
		weightedSum += p.Preference * weight
		totalWeight += weight
	}
	decision.Resolved = true
	decision.CompromiseValue = weightedSum / totalWeight
	decision.Reason = "weighted blend of all preferences"
	return decision
}

// EscalateHierarchy hands a deadlocked conflict to the named higher authority
// tier. The decision is marked escalated rather than resolved.
func EscalateHierarchy(conflictID, tier string) core.Decision {
	return core.Decision{
		ConflictID:  conflictID,
		Strategy:    core.StrategyEscalationHierarchy,
		Escalated:   true,
		EscalatedTo: tier,
		Reason:      "deadlock detected, escalated to " + tier,
	}
}

// topTwo returns the option with the largest score plus the runner-up score.
// tied reports an exact tie between the top two options.
func topTwo(scores map[string]float64) (winner string, winning, losing float64, tied bool) {
	if len(scores) == 0 {
		return "", 0, 0, false
	}
	options := make([]string, 0, len(scores))
	for option := range scores {
		options = append(options, option)
	}
	// Deterministic iteration so ties report stably.
	sort.Strings(options)
	for _, option := range options {
		score := scores[option]
		switch {
		case score > winning:
			losing = winning
			winning = score
			winner = option
		case score > losing:
			losing = score
		}
	}
	tied = len(scores) > 1 && winning == losing
	return winner, winning, losing, tied
}
