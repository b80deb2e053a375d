package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshgate/meshgate/core"
)

func votesFor(options ...string) []core.Vote {
	votes := make([]core.Vote, len(options))
	for i, option := range options {
		votes[i] = core.Vote{Voter: string(rune('a' + i)), Option: option}
	}
	return votes
}

func TestMajorityVote(t *testing.T) {
	decision := MajorityVote("c-1", votesFor("A", "B", "A", "A", "B"))

	require.True(t, decision.Resolved)
	assert.Equal(t, "A", decision.Winner)
	assert.Equal(t, float64(3), decision.WinningScore)
	assert.Equal(t, float64(2), decision.LosingScore)
	assert.InDelta(t, 0.2, decision.Margin, 1e-9)
}

func TestMajorityVote_Tie(t *testing.T) {
	decision := MajorityVote("c-1", votesFor("A", "B", "A", "B"))

	assert.False(t, decision.Resolved)
	assert.Empty(t, decision.Winner)
	assert.Equal(t, "tie between leading options", decision.Reason)
}

func TestMajorityVote_NoVotes(t *testing.T) {
	decision := MajorityVote("c-1", nil)
	assert.False(t, decision.Resolved)
}

func TestWeightedVote(t *testing.T) {
	votes := []core.Vote{
		{Voter: "alice", Option: "A", Weight: 3.5},
		{Voter: "bob", Option: "B", Weight: 1.6},
		{Voter: "carol", Option: "B"}, // zero weight counts as 1
	}
	decision := WeightedVote("c-1", votes)

	require.True(t, decision.Resolved)
	assert.Equal(t, "A", decision.Winner)
	assert.InDelta(t, 3.5, decision.WinningScore, 1e-9)
	assert.InDelta(t, 2.6, decision.LosingScore, 1e-9)
	assert.InDelta(t, (3.5-2.6)/6.1, decision.Margin, 1e-9)
}

func TestWeightedVote_CanInvertMajority(t *testing.T) {
	// Two low-weight votes for B lose against one heavy vote for A.
	votes := []core.Vote{
		{Voter: "alice", Option: "A", Weight: 5},
		{Voter: "bob", Option: "B", Weight: 1},
		{Voter: "carol", Option: "B", Weight: 1},
	}
	decision := WeightedVote("c-1", votes)

	require.True(t, decision.Resolved)
	assert.Equal(t, "A", decision.Winner)
}

func TestExpertAuthority(t *testing.T) {
	positions := []core.Position{
		{Participant: "junior", Option: "A", Authority: 0.3},
		{Participant: "architect", Option: "B", Authority: 0.9},
		{Participant: "senior", Option: "A", Authority: 0.6},
	}
	decision := ExpertAuthority("c-1", positions)

	require.True(t, decision.Resolved)
	assert.Equal(t, "B", decision.Winner)
	assert.InDelta(t, 0.9, decision.WinningScore, 1e-9)
	assert.Contains(t, decision.Reason, "architect")
}

func TestEvidenceBased(t *testing.T) {
	positions := []core.Position{
		{Participant: "alice", Option: "A", Evidence: []core.EvidenceItem{
			{Description: "benchmark", Credibility: 0.9, Weight: 2},
		}},
		{Participant: "bob", Option: "B", Evidence: []core.EvidenceItem{
			{Description: "anecdote", Credibility: 0.4, Weight: 1},
			{Description: "blog post", Credibility: 0.5, Weight: 1},
		}},
	}
	decision := EvidenceBased("c-1", positions)

	require.True(t, decision.Resolved)
	assert.Equal(t, "A", decision.Winner)
	assert.InDelta(t, 1.8, decision.WinningScore, 1e-9)
	assert.InDelta(t, 0.9, decision.LosingScore, 1e-9)
}

func TestEvidenceBased_NoEvidence(t *testing.T) {
	// Positions without evidence carry no strength; nothing should win.
	positions := []core.Position{
		{Participant: "alice", Option: "A"},
	}
	decision := EvidenceBased("c-1", positions)

	assert.False(t, decision.Resolved)
	assert.Empty(t, decision.Winner)
	assert.Equal(t, "no position carries evidence strength", decision.Reason)
}

func TestEvidenceBased_ZeroCredibility(t *testing.T) {
	positions := []core.Position{
		{Participant: "alice", Option: "A", Evidence: []core.EvidenceItem{
			{Description: "rumor", Credibility: 0, Weight: 2},
		}},
	}
	decision := EvidenceBased("c-1", positions)

	assert.False(t, decision.Resolved)
	assert.Empty(t, decision.Winner)
}

func TestAutomatedCompromise(t *testing.T) {
	positions := []core.Position{
		{Participant: "alice", Preference: 100, Weight: 3},
		{Participant: "bob", Preference: 50, Weight: 1},
	}
	decision := AutomatedCompromise("c-1", positions)

	require.True(t, decision.Resolved)
	assert.Empty(t, decision.Winner)
	assert.InDelta(t, 87.5, decision.CompromiseValue, 1e-9)
}

func TestEscalateHierarchy(t *testing.T) {
	decision := EscalateHierarchy("c-1", "coordinator")

	assert.False(t, decision.Resolved)
	assert.True(t, decision.Escalated)
	assert.Equal(t, "coordinator", decision.EscalatedTo)
}
