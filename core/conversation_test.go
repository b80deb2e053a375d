package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationState_CanTransition(t *testing.T) {
	assert.True(t, StateInitializing.CanTransition(StateActive))
	assert.True(t, StateActive.CanTransition(StatePaused))
	assert.True(t, StateActive.CanTransition(StateCompleting))
	assert.True(t, StatePaused.CanTransition(StateActive))
	assert.True(t, StateCompleting.CanTransition(StateCompleted))

	// Completed is only reachable after activation.
	assert.False(t, StateInitializing.CanTransition(StateCompleted))
	assert.False(t, StateInitializing.CanTransition(StatePaused))
	assert.False(t, StatePaused.CanTransition(StateCompleting))
	assert.False(t, StateCompleting.CanTransition(StateActive))
	assert.False(t, StateCompleted.CanTransition(StateActive))
	assert.False(t, StateCompleted.CanTransition(StateCompleted))
}

func TestNewConversation_Defaults(t *testing.T) {
	participants := []Participant{
		{AgentID: "alice", Role: "reviewer", Weight: 1},
		{AgentID: "bob", Role: "implementer", Weight: 2},
	}
	conv := NewConversation("task-1", "alice", participants, PatternCollaborative)

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "task-1", conv.TaskID)
	assert.Equal(t, "alice", conv.Initiator)
	assert.Equal(t, StateInitializing, conv.State)
	assert.Len(t, conv.Participants, 2)
	assert.False(t, conv.Created.IsZero())

	// The participant slice is copied, not aliased.
	participants[0].AgentID = "mallory"
	assert.Equal(t, "alice", conv.Participants[0].AgentID)
}

func TestConversation_Transition(t *testing.T) {
	conv := NewConversation("task-1", "alice", []Participant{{AgentID: "alice"}}, PatternRoundRobin)

	require.NoError(t, conv.Transition(StateActive, "initiated"))
	state, reason := conv.CurrentState()
	assert.Equal(t, StateActive, state)
	assert.Equal(t, "initiated", reason)

	err := conv.Transition(StateInitializing, "rewind")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Failed transition leaves state untouched.
	state, reason = conv.CurrentState()
	assert.Equal(t, StateActive, state)
	assert.Equal(t, "initiated", reason)

	require.NoError(t, conv.Transition(StateCompleting, "done soon"))
	require.NoError(t, conv.Transition(StateCompleted, "done"))
	assert.ErrorIs(t, conv.Transition(StateActive, "revive"), ErrInvalidTransition)
}

func TestConversation_HistoryIsCopied(t *testing.T) {
	conv := NewConversation("task-1", "alice", []Participant{{AgentID: "alice"}}, PatternCollaborative)
	msg := NewMessage(conv.ID, "alice", []string{"bob"}, MessageStatusUpdate, Payload{Status: "working"})
	conv.AppendMessage(msg)

	history := conv.GetHistory()
	require.Len(t, history, 1)
	history[0].Sender = "mallory"

	assert.Equal(t, "alice", conv.GetHistory()[0].Sender)
}

func TestConversation_AppendMessageTouchesActivity(t *testing.T) {
	conv := NewConversation("task-1", "alice", []Participant{{AgentID: "alice"}}, PatternCollaborative)
	before := conv.IdleSince()

	time.Sleep(5 * time.Millisecond)
	conv.AppendMessage(NewMessage(conv.ID, "alice", nil, MessageCoordination, Payload{Text: "sync"}))

	assert.True(t, conv.IdleSince().After(before))
}

func TestConversation_Connectivity(t *testing.T) {
	conv := NewConversation("task-1", "alice", []Participant{
		{AgentID: "alice", Connected: true},
		{AgentID: "bob"},
	}, PatternHierarchical)

	assert.Len(t, conv.ConnectedParticipants(), 1)

	assert.True(t, conv.SetConnected("bob", true))
	assert.Len(t, conv.ConnectedParticipants(), 2)

	assert.False(t, conv.SetConnected("unknown", true))

	p, ok := conv.FindParticipant("bob")
	require.True(t, ok)
	assert.Equal(t, "bob", p.AgentID)
	_, ok = conv.FindParticipant("unknown")
	assert.False(t, ok)
}

func TestConversation_CloneIsolation(t *testing.T) {
	conv := NewConversation("task-1", "alice", []Participant{{AgentID: "alice"}}, PatternCollaborative)
	conv.AppendMessage(NewMessage(conv.ID, "alice", nil, MessageStatusUpdate, Payload{Status: "x"}))

	clone := conv.Clone()
	clone.TaskID = "task-2"
	clone.Participants[0].AgentID = "mallory"
	clone.History[0].Sender = "mallory"

	assert.Equal(t, "task-1", conv.TaskID)
	assert.Equal(t, "alice", conv.Participants[0].AgentID)
	assert.Equal(t, "alice", conv.GetHistory()[0].Sender)
}

func TestValidPattern(t *testing.T) {
	for _, p := range KnownPatterns() {
		assert.True(t, ValidPattern(p), string(p))
	}
	assert.False(t, ValidPattern("free-for-all"))
}
