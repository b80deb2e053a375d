package core

import (
	"time"
)

// MessageType is the closed set of message categories the router understands.
type MessageType string

const (
	// MessageTaskAssignment assigns work to one or more participants.
	MessageTaskAssignment MessageType = "task-assignment"
	// MessageStatusUpdate reports progress without requiring a response.
	MessageStatusUpdate MessageType = "status-update"
	// MessageQuestion requests information and schedules a response reminder.
	MessageQuestion MessageType = "question"
	// MessageResponse answers a prior question.
	MessageResponse MessageType = "response"
	// MessageCoordination carries protocol-level signals between participants.
	MessageCoordination MessageType = "coordination"
	// MessageCompletion announces the conversation is wrapping up; routing one
	// always broadcasts and moves the conversation to completing.
	MessageCompletion MessageType = "completion"
)

// ValidMessageType reports whether t is one of the known message types.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageTaskAssignment, MessageStatusUpdate, MessageQuestion, MessageResponse, MessageCoordination, MessageCompletion:
		return true
	}
	return false
}

// Urgency grades how quickly a message needs attention. High and critical
// urgencies escalate to all participants.
type Urgency string

const (
	// UrgencyLow is informational.
	UrgencyLow Urgency = "low"
	// UrgencyMedium is the default.
	UrgencyMedium Urgency = "medium"
	// UrgencyHigh escalates to all participants.
	UrgencyHigh Urgency = "high"
	// UrgencyCritical escalates to all participants and flags the conversation.
	UrgencyCritical Urgency = "critical"
)

// Escalates reports whether this urgency level triggers participant-wide
// notification.
func (u Urgency) Escalates() bool {
	return u == UrgencyHigh || u == UrgencyCritical
}

// Payload is the typed content of a message. Exactly the fields relevant to
// the message type are populated; the zero value is legal for pure signals.
type Payload struct {
	// Task describes the assignment for task-assignment messages.
	Task string `json:"task,omitempty"`
	// Status carries progress detail for status-update messages.
	Status string `json:"status,omitempty"`
	// Text is free-form content for question/response/coordination messages.
	Text string `json:"text,omitempty"`
	// Data holds structured values shared alongside the message.
	Data map[string]any `json:"data,omitempty"`
}

// Message is the primary unit of communication between participants. After
// being routed it must be treated as immutable; the router appends it to the
// conversation history before any side effects run.
type Message struct {
	ID               string      `json:"id"`
	ConversationID   string      `json:"conversation_id"`
	Sender           string      `json:"sender"`
	Recipients       []string    `json:"recipients"`
	Type             MessageType `json:"type"`
	Urgency          Urgency     `json:"urgency"`
	Payload          Payload     `json:"payload"`
	RequiresResponse bool        `json:"requires_response"`
	ResponseDeadline *time.Time  `json:"response_deadline,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
}

// NewMessage constructs a message with a fresh id and UTC timestamp. Urgency
// defaults to medium when empty.
func NewMessage(conversationID, sender string, recipients []string, msgType MessageType, payload Payload) Message {
	urgency := UrgencyMedium
	rs := make([]string, len(recipients))
	copy(rs, recipients)
	return Message{
		ID:             NewID(),
		ConversationID: conversationID,
		Sender:         sender,
		Recipients:     rs,
		Type:           msgType,
		Urgency:        urgency,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
	}
}

// WithUrgency returns a copy of the message with the given urgency.
func (m Message) WithUrgency(u Urgency) Message {
	m.Urgency = u
	return m
}

// WithResponseDeadline returns a copy requiring a response by the deadline.
func (m Message) WithResponseDeadline(deadline time.Time) Message {
	m.RequiresResponse = true
	m.ResponseDeadline = &deadline
	return m
}

// Validate checks the required fields of a message before routing. Failures
// are reported per field so callers can surface all problems at once.
func (m Message) Validate() error {
	var missing []string
	if m.Sender == "" {
		missing = append(missing, "sender")
	}
	if m.ConversationID == "" {
		missing = append(missing, "conversation_id")
	}
	if m.Type == "" {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	if !ValidMessageType(m.Type) {
		return &ValidationError{Invalid: map[string]string{"type": string(m.Type)}}
	}
	return nil
}
