package testutil

import (
	"github.com/meshgate/meshgate/core"
)

// ConversationBuilder helps construct conversations with fluent chaining for tests.
// Example:
//
//	conv := NewConversationBuilder("task-1").Agent("alice", "reviewer").Active().Build()
type ConversationBuilder struct {
	taskID       string
	initiator    string
	pattern      core.CoordinationPattern
	participants []core.Participant
	state        core.ConversationState
	messages     []core.Message
}

// NewConversationBuilder creates a builder for a conversation coordinating the
// given task. Defaults: initiator "initiator", collaborative pattern.
func NewConversationBuilder(taskID string) *ConversationBuilder {
	return &ConversationBuilder{
		taskID:    taskID,
		initiator: "initiator",
		pattern:   core.PatternCollaborative,
	}
}

// Initiator sets the initiating agent (chainable).
func (b *ConversationBuilder) Initiator(agentID string) *ConversationBuilder {
	b.initiator = agentID
	return b
}

// Pattern sets the coordination pattern (chainable).
func (b *ConversationBuilder) Pattern(p core.CoordinationPattern) *ConversationBuilder {
	b.pattern = p
	return b
}

// Agent appends a connected participant with weight 1 (chainable).
func (b *ConversationBuilder) Agent(agentID, role string) *ConversationBuilder {
	b.participants = append(b.participants, core.Participant{
		AgentID:   agentID,
		Role:      role,
		Weight:    1,
		Connected: true,
	})
	return b
}

// Participant appends a fully specified participant (chainable).
func (b *ConversationBuilder) Participant(p core.Participant) *ConversationBuilder {
	b.participants = append(b.participants, p)
	return b
}

// Active transitions the built conversation to the active state (chainable).
func (b *ConversationBuilder) Active() *ConversationBuilder {
	b.state = core.StateActive
	return b
}

// State forces an arbitrary lifecycle state on the built conversation (chainable).
func (b *ConversationBuilder) State(s core.ConversationState) *ConversationBuilder {
	b.state = s
	return b
}

// Message appends a message to the conversation history (chainable).
func (b *ConversationBuilder) Message(msg core.Message) *ConversationBuilder {
	b.messages = append(b.messages, msg)
	return b
}

// Build returns the assembled *core.Conversation.
func (b *ConversationBuilder) Build() *core.Conversation {
	conv := core.NewConversation(b.taskID, b.initiator, b.participants, b.pattern)
	if b.state != "" && b.state != core.StateInitializing {
		// Tests set terminal or mid-lifecycle states directly; the manager is
		// responsible for legal transitions in production paths.
		conv.State = b.state
	}
	for _, msg := range b.messages {
		conv.AppendMessage(msg)
	}
	return conv
}
