package core

import (
	"fmt"
	"sync"
	"time"
)

// ConversationState identifies where a conversation is in its lifecycle.
type ConversationState string

const (
	// StateInitializing is the state of a conversation before any
	// participant connected.
	StateInitializing ConversationState = "initializing"
	// StateActive is the normal operating state.
	StateActive ConversationState = "active"
	// StatePaused is entered when the inactivity timeout fires; a resumed
	// conversation returns to StateActive.
	StatePaused ConversationState = "paused"
	// StateCompleting is entered when a completion message has been routed
	// and final acknowledgements are pending.
	StateCompleting ConversationState = "completing"
	// StateCompleted is terminal.
	StateCompleted ConversationState = "completed"
)

// validTransitions encodes the lifecycle state machine. Transitions are
// monotonic except for the pause/resume cycle. Completed is only reachable
// after activation; a conversation stuck in initializing is abandoned, not
// completed.
var validTransitions = map[ConversationState][]ConversationState{
	StateInitializing: {StateActive},
	StateActive:       {StatePaused, StateCompleting, StateCompleted},
	StatePaused:       {StateActive, StateCompleted},
	StateCompleting:   {StateCompleted},
	StateCompleted:    {},
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s ConversationState) CanTransition(next ConversationState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CoordinationPattern is the structural protocol governing how participants
// interact within a conversation.
type CoordinationPattern string

const (
	// PatternRoundRobin rotates speaking turns through the participant list.
	PatternRoundRobin CoordinationPattern = "round-robin"
	// PatternHierarchical routes through a coordinator who delegates downward.
	PatternHierarchical CoordinationPattern = "hierarchical"
	// PatternCollaborative lets all participants contribute freely.
	PatternCollaborative CoordinationPattern = "collaborative"
	// PatternConsensusDriven requires agreement before progressing.
	PatternConsensusDriven CoordinationPattern = "consensus-driven"
	// PatternLeaderFollower designates one leader whose decisions bind followers.
	PatternLeaderFollower CoordinationPattern = "leader-follower"
)

// KnownPatterns lists every supported coordination pattern.
func KnownPatterns() []CoordinationPattern {
	return []CoordinationPattern{PatternRoundRobin, PatternHierarchical, PatternCollaborative, PatternConsensusDriven, PatternLeaderFollower}
}

// ValidPattern reports whether p is one of the supported coordination patterns.
func ValidPattern(p CoordinationPattern) bool {
	for _, known := range KnownPatterns() {
		if known == p {
			return true
		}
	}
	return false
}

// Participant describes one agent taking part in a conversation. Weight feeds
// weighted voting, Authority feeds the expert-authority strategy.
type Participant struct {
	AgentID   string  `json:"agent_id"`
	Role      string  `json:"role"`
	Weight    float64 `json:"weight"`
	Authority float64 `json:"authority"`
	Connected bool    `json:"connected"`
}

// Conversation is the container tracking one coordinated multi-agent exchange:
// its lifecycle state, the ordered participant list, and the immutable message
// history. It is safe for concurrent access; state transitions and history
// appends serialize on an internal mutex so concurrent operations never lose
// updates.
//
// Contract:
//   - Transition rejects illegal lifecycle steps (see validTransitions)
//   - AppendMessage and Transition update LastActivity
//   - History returns a defensive copy
//   - Clone performs deep copies of slices for safe divergence.
type Conversation struct {
	ID           string              `json:"id"`
	TaskID       string              `json:"task_id"`
	Initiator    string              `json:"initiator"`
	Participants []Participant       `json:"participants"`
	Pattern      CoordinationPattern `json:"pattern"`
	State        ConversationState   `json:"state"`
	StateReason  string              `json:"state_reason,omitempty"`
	History      []Message           `json:"history"`
	Created      time.Time           `json:"created"`
	LastActivity time.Time           `json:"last_activity"`
	mu           sync.RWMutex
}

// NewConversation creates a conversation in the initializing state.
func NewConversation(taskID, initiator string, participants []Participant, pattern CoordinationPattern) *Conversation {
	now := time.Now().UTC()
	ps := make([]Participant, len(participants))
	copy(ps, participants)
	return &Conversation{
		ID:           NewID(),
		TaskID:       taskID,
		Initiator:    initiator,
		Participants: ps,
		Pattern:      pattern,
		State:        StateInitializing,
		History:      []Message{},
		Created:      now,
		LastActivity: now,
	}
}

// Transition moves the conversation to the next lifecycle state, recording the
// reason. Illegal transitions return an error and leave state untouched.
func (c *Conversation) Transition(next ConversationState, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, next)
	}
	c.State = next
	c.StateReason = reason
	c.LastActivity = time.Now().UTC()
	return nil
}

// CurrentState returns the state and the reason it was entered.
func (c *Conversation) CurrentState() (ConversationState, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.State, c.StateReason
}

// AppendMessage adds a routed message to the immutable history and refreshes
// the activity timestamp.
func (c *Conversation) AppendMessage(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.History = append(c.History, msg)
	c.LastActivity = time.Now().UTC()
}

// Touch refreshes the activity timestamp without any other mutation.
func (c *Conversation) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastActivity = time.Now().UTC()
}

// IdleSince returns the last activity timestamp.
func (c *Conversation) IdleSince() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LastActivity
}

// GetHistory returns a defensive copy of the message history.
func (c *Conversation) GetHistory() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	history := make([]Message, len(c.History))
	copy(history, c.History)
	return history
}

// ConnectedParticipants returns the participants currently marked connected.
func (c *Conversation) ConnectedParticipants() []Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var connected []Participant
	for _, p := range c.Participants {
		if p.Connected {
			connected = append(connected, p)
		}
	}
	return connected
}

// SetConnected updates the connectivity flag of a participant by agent id.
func (c *Conversation) SetConnected(agentID string, connected bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Participants {
		if c.Participants[i].AgentID == agentID {
			c.Participants[i].Connected = connected
			return true
		}
	}
	return false
}

// FindParticipant looks up a participant by agent id.
func (c *Conversation) FindParticipant(agentID string) (Participant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.Participants {
		if p.AgentID == agentID {
			return p, true
		}
	}
	return Participant{}, false
}

// ParticipantRole returns the declared role for an agent id, or "" if unknown.
func (c *Conversation) ParticipantRole(agentID string) string {
	p, ok := c.FindParticipant(agentID)
	if !ok {
		return ""
	}
	return p.Role
}

// Clone returns a deep copy of the conversation safe for independent mutation.
func (c *Conversation) Clone() *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Conversation{
		ID:           c.ID,
		TaskID:       c.TaskID,
		Initiator:    c.Initiator,
		Participants: make([]Participant, len(c.Participants)),
		Pattern:      c.Pattern,
		State:        c.State,
		StateReason:  c.StateReason,
		History:      make([]Message, len(c.History)),
		Created:      c.Created,
		LastActivity: c.LastActivity,
	}
	copy(clone.Participants, c.Participants)
	copy(clone.History, c.History)
	return clone
}

// ConversationStore persists conversations and their evolving state / history.
type ConversationStore interface {
	Create(conv *Conversation) error
	Get(id string) (*Conversation, error)
	Save(conv *Conversation) error
	List() ([]*Conversation, error)
	Delete(id string) error
}
