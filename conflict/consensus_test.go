package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshgate/meshgate/core"
)

func TestBuildConsensus_ImmediateAgreement(t *testing.T) {
	positions := []core.Position{
		{Participant: "alice", Option: "A"},
		{Participant: "bob", Option: "A"},
		{Participant: "carol", Option: "A"},
		{Participant: "dave", Option: "B"},
	}
	decision := BuildConsensus(context.Background(), "c-1", positions, DefaultConsensusConfig())

	require.True(t, decision.Resolved)
	assert.Equal(t, "A", decision.Winner)
	assert.Equal(t, 1, decision.Rounds)
	assert.InDelta(t, 0.75, decision.WinningScore, 1e-9)
}

func TestBuildConsensus_FlexibleParticipantsConverge(t *testing.T) {
	// Two rigid A holders plus two flexible B holders: the flexible ones
	// adopt the leading option and consensus forms on the second round.
	positions := []core.Position{
		{Participant: "alice", Option: "A", Flexibility: 0.1},
		{Participant: "bob", Option: "A", Flexibility: 0.2},
		{Participant: "carol", Option: "B", Flexibility: 0.9},
		{Participant: "dave", Option: "B", Flexibility: 0.8},
	}
	decision := BuildConsensus(context.Background(), "c-1", positions, DefaultConsensusConfig())

	require.True(t, decision.Resolved)
	assert.Equal(t, "A", decision.Winner)
	assert.Equal(t, 2, decision.Rounds)
	assert.InDelta(t, 1.0, decision.WinningScore, 1e-9)
}

func TestBuildConsensus_DeadlockEscalates(t *testing.T) {
	positions := []core.Position{
		{Participant: "alice", Option: "A", Flexibility: 0.1},
		{Participant: "bob", Option: "B", Flexibility: 0.2},
	}
	decision := BuildConsensus(context.Background(), "c-1", positions, DefaultConsensusConfig())

	assert.False(t, decision.Resolved)
	assert.True(t, decision.Escalated)
	assert.Equal(t, "coordinator", decision.EscalatedTo)
	assert.Equal(t, core.StrategyConsensusBuilding, decision.Strategy)
	assert.Equal(t, 1, decision.Rounds)
}

func TestBuildConsensus_InputPositionsUntouched(t *testing.T) {
	positions := []core.Position{
		{Participant: "alice", Option: "A", Flexibility: 0.1},
		{Participant: "bob", Option: "B", Flexibility: 0.9},
		{Participant: "carol", Option: "A", Flexibility: 0.1},
	}
	_ = BuildConsensus(context.Background(), "c-1", positions, DefaultConsensusConfig())

	assert.Equal(t, "B", positions[1].Option)
}

func TestBuildConsensus_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	positions := []core.Position{
		{Participant: "alice", Option: "A"},
		{Participant: "bob", Option: "B"},
	}
	decision := BuildConsensus(ctx, "c-1", positions, DefaultConsensusConfig())

	assert.False(t, decision.Resolved)
	assert.Contains(t, decision.Reason, "consensus aborted")
}

func TestBuildConsensus_NoPositions(t *testing.T) {
	decision := BuildConsensus(context.Background(), "c-1", nil, DefaultConsensusConfig())
	assert.False(t, decision.Resolved)
}
