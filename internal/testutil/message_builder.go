package testutil

import (
	"time"

	"github.com/meshgate/meshgate/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder(conv.ID).From("alice").To("bob").Question("ready?").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	conversationID string
	sender         string
	recipients     []string
	msgType        core.MessageType
	urgency        core.Urgency
	payload        core.Payload
	requires       bool
	deadline       *time.Time
}

// NewMessageBuilder creates a builder with default sender "agent" and type
// status-update.
func NewMessageBuilder(conversationID string) *MessageBuilder {
	return &MessageBuilder{
		conversationID: conversationID,
		sender:         "agent",
		msgType:        core.MessageStatusUpdate,
	}
}

// From sets the sending agent (chainable).
func (b *MessageBuilder) From(sender string) *MessageBuilder { b.sender = sender; return b }

// To appends one or more recipients (chainable).
func (b *MessageBuilder) To(recipients ...string) *MessageBuilder {
	b.recipients = append(b.recipients, recipients...)
	return b
}

// Type sets the message type (chainable).
func (b *MessageBuilder) Type(t core.MessageType) *MessageBuilder { b.msgType = t; return b }

// Urgency sets the urgency level (chainable).
func (b *MessageBuilder) Urgency(u core.Urgency) *MessageBuilder { b.urgency = u; return b }

// Task marks the message as a task assignment carrying the given task (chainable).
func (b *MessageBuilder) Task(task string) *MessageBuilder {
	b.msgType = core.MessageTaskAssignment
	b.payload.Task = task
	return b
}

// Status marks the message as a status update (chainable).
func (b *MessageBuilder) Status(status string) *MessageBuilder {
	b.msgType = core.MessageStatusUpdate
	b.payload.Status = status
	return b
}

// Question marks the message as a question requiring a response (chainable).
func (b *MessageBuilder) Question(text string) *MessageBuilder {
	b.msgType = core.MessageQuestion
	b.payload.Text = text
	b.requires = true
	return b
}

// Completion marks the message as a completion signal (chainable).
func (b *MessageBuilder) Completion() *MessageBuilder {
	b.msgType = core.MessageCompletion
	return b
}

// Text sets the free-form payload text (chainable).
func (b *MessageBuilder) Text(t string) *MessageBuilder { b.payload.Text = t; return b }

// Data sets a structured payload key (chainable).
func (b *MessageBuilder) Data(key string, val any) *MessageBuilder {
	if b.payload.Data == nil {
		b.payload.Data = map[string]any{}
	}
	b.payload.Data[key] = val
	return b
}

// RequiresResponse marks the message as expecting an answer (chainable).
func (b *MessageBuilder) RequiresResponse() *MessageBuilder { b.requires = true; return b }

// Deadline sets a response deadline, implying RequiresResponse (chainable).
func (b *MessageBuilder) Deadline(t time.Time) *MessageBuilder {
	b.deadline = &t
	return b
}

// Build constructs the core.Message value.
func (b *MessageBuilder) Build() core.Message {
	msg := core.NewMessage(b.conversationID, b.sender, b.recipients, b.msgType, b.payload)
	if b.urgency != "" {
		msg = msg.WithUrgency(b.urgency)
	}
	if b.requires {
		msg.RequiresResponse = true
	}
	if b.deadline != nil {
		msg = msg.WithResponseDeadline(*b.deadline)
	}
	return msg
}
