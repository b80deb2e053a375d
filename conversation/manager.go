// Package conversation owns the conversation lifecycle: initiation with
// participant connectivity checks, timeout-driven pause/completion, and the
// store implementations behind core.ConversationStore.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshgate/meshgate/core"
	"github.com/meshgate/meshgate/logging"
	"github.com/meshgate/meshgate/metrics"
)

// ParticipantStatus reports connectivity for one participant after initiation.
type ParticipantStatus struct {
	AgentID   string `json:"agent_id"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// ParticipantError reports a participant that failed validation. Invalid
// participants are skipped while valid siblings proceed (partial success).
type ParticipantError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// InitiateResult summarizes conversation creation: the id, per-participant
// connectivity, validation failures, and whether the reduced-quorum fallback
// path was engaged.
type InitiateResult struct {
	ConversationID string                 `json:"conversation_id"`
	State          core.ConversationState `json:"state"`
	Connectivity   []ParticipantStatus    `json:"connectivity"`
	Invalid        []ParticipantError     `json:"invalid,omitempty"`
	// Degraded is set when one or more participants failed to connect and the
	// conversation proceeds on a reduced quorum.
	Degraded bool `json:"degraded"`
}

// Options holds dependency and configuration overrides passed to NewManager().
type Options struct {
	// InactivityTimeout pauses an active conversation with no recent activity.
	InactivityTimeout time.Duration
	// TotalTimeout forces any conversation to completed with reason "timeout".
	TotalTimeout time.Duration
	// SweepInterval is how often the timeout sweeper runs.
	SweepInterval time.Duration
	// Pool dials participants; nil marks every participant connected, which
	// keeps tests free of transport concerns.
	Pool *core.Pool
	// Logger defaults to NoOp when nil.
	Logger logging.Logger
}

// Manager owns conversation lifecycle and participant connectivity. Public
// methods are safe for concurrent use; state transitions serialize on each
// conversation's internal lock so concurrent operations never lose updates.
type Manager struct {
	store             core.ConversationStore
	pool              *core.Pool
	inactivityTimeout time.Duration
	totalTimeout      time.Duration
	sweepInterval     time.Duration
	logger            logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewManager constructs a Manager over the given store with optional
// overrides. Call Start to begin timeout sweeping and Stop to halt it.
func NewManager(store core.ConversationStore, optFns ...func(o *Options)) *Manager {
	opts := Options{
		InactivityTimeout: 5 * time.Minute,
		TotalTimeout:      time.Hour,
		SweepInterval:     15 * time.Second,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		store:             store,
		pool:              opts.Pool,
		inactivityTimeout: opts.InactivityTimeout,
		totalTimeout:      opts.TotalTimeout,
		sweepInterval:     opts.SweepInterval,
		logger:            opts.Logger,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

// Initiate creates a conversation and attempts a connection to each
// participant. Invalid participants are reported individually while valid
// ones proceed; participants that fail to connect are marked offline and the
// conversation continues on a reduced quorum. The conversation becomes active
// once at least one participant is connected.
func (m *Manager) Initiate(ctx context.Context, taskID, initiator string, participants []core.Participant, pattern core.CoordinationPattern) (*InitiateResult, error) {
	var missing []string
	if taskID == "" {
		missing = append(missing, "task_id")
	}
	if initiator == "" {
		missing = append(missing, "initiator")
	}
	if len(missing) > 0 {
		return nil, &core.ValidationError{Missing: missing}
	}
	if !core.ValidPattern(pattern) {
		return nil, &core.ValidationError{Invalid: map[string]string{"pattern": string(pattern)}}
	}

	var valid []core.Participant
	var invalid []ParticipantError
	for i, p := range participants {
		if p.AgentID == "" {
			invalid = append(invalid, ParticipantError{Index: i, Error: "missing agent_id"})
			continue
		}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid participants (%d invalid)", len(invalid))
	}

	conv := core.NewConversation(taskID, initiator, valid, pattern)

	result := &InitiateResult{ConversationID: conv.ID, Invalid: invalid}
	connected := 0
	for _, p := range valid {
		status := ParticipantStatus{AgentID: p.AgentID}
		if err := m.connect(ctx, p); err != nil {
			status.Error = err.Error()
			conv.SetConnected(p.AgentID, false)
			m.logger.Warn("participant connection failed", "conversation_id", conv.ID, "agent_id", p.AgentID, "error", err.Error())
		} else {
			status.Connected = true
			conv.SetConnected(p.AgentID, true)
			connected++
		}
		result.Connectivity = append(result.Connectivity, status)
	}

	if connected > 0 {
		if err := conv.Transition(core.StateActive, "initiated"); err != nil {
			return nil, err
		}
	}
	result.Degraded = connected < len(valid)
	state, _ := conv.CurrentState()
	result.State = state

	if err := m.store.Create(conv); err != nil {
		return nil, fmt.Errorf("store conversation: %w", err)
	}
	m.logger.Info("conversation initiated",
		"conversation_id", conv.ID,
		"task_id", taskID,
		"pattern", string(pattern),
		"participants", len(valid),
		"connected", connected,
		"degraded", result.Degraded)
	return result, nil
}

// connect dials one participant through the pool and immediately releases the
// connection back for reuse. A nil pool treats every participant as reachable.
func (m *Manager) connect(ctx context.Context, p core.Participant) error {
	if m.pool == nil {
		return nil
	}
	conn, err := m.pool.Acquire(ctx, p)
	if err != nil {
		return err
	}
	m.pool.Release(p.Role, conn)
	return nil
}

// Get returns the conversation for id.
func (m *Manager) Get(id string) (*core.Conversation, error) {
	return m.store.Get(id)
}

// List returns all conversations.
func (m *Manager) List() ([]*core.Conversation, error) {
	return m.store.List()
}

// Resume transitions a paused conversation back to active.
func (m *Manager) Resume(id string) error {
	conv, err := m.store.Get(id)
	if err != nil {
		return err
	}
	from, _ := conv.CurrentState()
	if err := conv.Transition(core.StateActive, "resumed"); err != nil {
		return err
	}
	m.logTransition(id, from, core.StateActive, "resumed")
	return m.store.Save(conv)
}

// Complete moves a conversation to completed with the given reason, passing
// through completing when the conversation is still active.
func (m *Manager) Complete(id, reason string) error {
	conv, err := m.store.Get(id)
	if err != nil {
		return err
	}
	state, _ := conv.CurrentState()
	if state == core.StateActive {
		if err := conv.Transition(core.StateCompleting, reason); err != nil {
			return err
		}
	}
	if err := conv.Transition(core.StateCompleted, reason); err != nil {
		return err
	}
	m.logTransition(id, state, core.StateCompleted, reason)
	return m.store.Save(conv)
}

// Start launches the background timeout sweeper.
func (m *Manager) Start() {
	go m.run()
}

// Stop halts the sweeper and waits for it to drain.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

func (m *Manager) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.Sweep(now)
			if m.pool != nil {
				m.pool.Sweep(now)
			}
		}
	}
}

// Sweep enforces the timeout policy across all conversations: inactivity
// pauses active conversations, the total-duration budget forces completion
// with reason "timeout", and conversations that never left initializing
// within that budget are abandoned (deleted). It also refreshes the
// per-state gauges.
func (m *Manager) Sweep(now time.Time) {
	convs, err := m.store.List()
	if err != nil {
		m.logger.Error("timeout sweep failed", "error", err.Error())
		return
	}
	counts := map[core.ConversationState]int{}
	for _, listed := range convs {
		conv, err := m.store.Get(listed.ID)
		if err != nil {
			continue
		}
		state, _ := conv.CurrentState()
		if state == core.StateInitializing && now.Sub(conv.Created) > m.totalTimeout {
			// Never activated within the budget: abandon rather than
			// complete, since completed implies work happened.
			m.logger.Info("conversation abandoned", "conversation_id", conv.ID, "reason", "initialization timeout")
			_ = m.store.Delete(conv.ID)
			continue
		}
		if state != core.StateCompleted && now.Sub(conv.Created) > m.totalTimeout {
			m.forceComplete(conv, "timeout")
			state, _ = conv.CurrentState()
		} else if state == core.StateActive && now.Sub(conv.IdleSince()) > m.inactivityTimeout {
			if err := conv.Transition(core.StatePaused, "inactivity timeout"); err == nil {
				m.logTransition(conv.ID, core.StateActive, core.StatePaused, "inactivity timeout")
				_ = m.store.Save(conv)
				state = core.StatePaused
			}
		}
		counts[state]++
	}
	for _, state := range []core.ConversationState{core.StateInitializing, core.StateActive, core.StatePaused, core.StateCompleting, core.StateCompleted} {
		metrics.SetConversations(string(state), counts[state])
	}
}

// forceComplete drives a conversation to completed regardless of its current
// non-terminal state.
func (m *Manager) forceComplete(conv *core.Conversation, reason string) {
	state, _ := conv.CurrentState()
	if state == core.StateActive {
		_ = conv.Transition(core.StateCompleting, reason)
	}
	if err := conv.Transition(core.StateCompleted, reason); err != nil {
		m.logger.Warn("forced completion failed", "conversation_id", conv.ID, "error", err.Error())
		return
	}
	m.logTransition(conv.ID, state, core.StateCompleted, reason)
	_ = m.store.Save(conv)
}

// logTransition records a lifecycle change, using the gateway logger's typed
// transition record when one is configured.
func (m *Manager) logTransition(conversationID string, from, to core.ConversationState, reason string) {
	if gl, ok := m.logger.(*logging.GatewayLogger); ok {
		gl.LogStateTransition(conversationID, string(from), string(to), reason)
		return
	}
	m.logger.Info("conversation state transition", "conversation_id", conversationID, "from", string(from), "to", string(to), "reason", reason)
}
