// Package meshgate provides a high-level façade over the coordination
// subsystems (conversation lifecycle, message routing, conflict resolution,
// context synchronization & logging) enabling construction of multi-agent
// coordination gateways. Most applications interact with this package by:
//  1. Creating a Gateway via New() (optionally overriding default in-memory stores)
//  2. Initiating conversations and routing messages between participants
//  3. Resolving conflicts and synchronizing shared context
//
// The façade delegates to the conversation manager, router, conflict engine
// and context store while keeping setup and usage ergonomics concise. All
// defaults are safe for local development and testing; production deployments
// typically supply the SQLite store and a structured logger.
package meshgate

import (
	"context"
	"time"

	"github.com/meshgate/meshgate/conflict"
	"github.com/meshgate/meshgate/contextsync"
	"github.com/meshgate/meshgate/conversation"
	"github.com/meshgate/meshgate/core"
	"github.com/meshgate/meshgate/logging"
	"github.com/meshgate/meshgate/routing"
)

// Options configures the Gateway instance.
type Options struct {
	// ConversationStore persists conversations (defaults to in-memory).
	ConversationStore core.ConversationStore
	// ContextStore maintains shared conversation context (defaults to in-memory).
	ContextStore core.ContextStore
	// Notifier delivers routed messages to participants.
	Notifier routing.Notifier
	// Rules is the routing rule set (defaults to routing.DefaultRules()).
	Rules []routing.Rule
	// Pool dials participants during initiation; nil skips connectivity checks.
	Pool *core.Pool

	// InactivityTimeout pauses idle conversations (default 5m).
	InactivityTimeout time.Duration
	// TotalTimeout force-completes long conversations (default 1h).
	TotalTimeout time.Duration
	// ResponseTimeout is the reminder delay for questions (default 30s).
	ResponseTimeout time.Duration

	// QuorumFraction gates voting strategies (default 0.5).
	QuorumFraction float64
	// Consensus bounds iterative consensus building.
	Consensus conflict.ConsensusConfig

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Gateway is the high-level façade aggregating the coordination subsystems.
type Gateway struct {
	manager      *conversation.Manager
	router       *routing.Router
	engine       *conflict.Engine
	contextStore core.ContextStore
	logger       logging.Logger
}

// New creates a Gateway with optional overrides. Any unset service is
// replaced by a safe in-memory default.
func New(optFns ...func(o *Options)) *Gateway {
	opts := Options{
		ConversationStore: conversation.NewInMemoryStore(),
		ContextStore:      contextsync.NewInMemoryStore(),
		Rules:             routing.DefaultRules(),
		InactivityTimeout: 5 * time.Minute,
		TotalTimeout:      time.Hour,
		ResponseTimeout:   30 * time.Second,
		QuorumFraction:    0.5,
		Consensus:         conflict.DefaultConsensusConfig(),
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	manager := conversation.NewManager(opts.ConversationStore, func(o *conversation.Options) {
		o.InactivityTimeout = opts.InactivityTimeout
		o.TotalTimeout = opts.TotalTimeout
		o.Pool = opts.Pool
		o.Logger = opts.Logger
	})
	router := routing.New(opts.ConversationStore, func(o *routing.Options) {
		o.Rules = opts.Rules
		o.Notifier = opts.Notifier
		o.ResponseTimeout = opts.ResponseTimeout
		o.Logger = opts.Logger
	})
	engine := conflict.NewEngine(func(o *conflict.Options) {
		o.QuorumFraction = opts.QuorumFraction
		o.Consensus = opts.Consensus
		o.Logger = opts.Logger
	})

	return &Gateway{
		manager:      manager,
		router:       router,
		engine:       engine,
		contextStore: opts.ContextStore,
		logger:       opts.Logger,
	}
}

// Start launches background lifecycle maintenance (timeout sweeping).
func (g *Gateway) Start() { g.manager.Start() }

// Stop halts background maintenance and pending reminders.
func (g *Gateway) Stop() {
	g.manager.Stop()
	g.router.Close()
}

// Manager exposes the conversation manager.
func (g *Gateway) Manager() *conversation.Manager { return g.manager }

// Router exposes the message router.
func (g *Gateway) Router() *routing.Router { return g.router }

// ConflictEngine exposes the conflict resolution engine.
func (g *Gateway) ConflictEngine() *conflict.Engine { return g.engine }

// ContextStore exposes the shared context store.
func (g *Gateway) ContextStore() core.ContextStore { return g.contextStore }

// InitiateConversation creates a conversation and connects its participants.
func (g *Gateway) InitiateConversation(ctx context.Context, taskID, initiator string, participants []core.Participant, pattern core.CoordinationPattern) (*conversation.InitiateResult, error) {
	return g.manager.Initiate(ctx, taskID, initiator, participants, pattern)
}

// RouteMessage validates, records and dispatches a message.
func (g *Gateway) RouteMessage(ctx context.Context, msg core.Message) (*routing.RouteResult, error) {
	return g.router.Route(ctx, msg)
}

// ResolveConflict runs a resolution strategy against a conflict.
func (g *Gateway) ResolveConflict(ctx context.Context, req conflict.Request) (core.Decision, error) {
	return g.engine.Resolve(ctx, req)
}

// UpdateContext writes a shared context key for a conversation.
func (g *Gateway) UpdateContext(conversationID, key string, value any, writer string, strategy core.MergeStrategy, expectedVersion int64) (core.ContextUpdate, error) {
	return g.contextStore.Update(conversationID, key, value, writer, strategy, expectedVersion)
}

// SnapshotContext captures the conversation's context map.
func (g *Gateway) SnapshotContext(conversationID, description, creator string) (core.Snapshot, error) {
	return g.contextStore.Snapshot(conversationID, description, creator)
}

// RollbackContext restores the conversation's context to a prior snapshot.
func (g *Gateway) RollbackContext(conversationID, snapshotID string) (core.Snapshot, error) {
	return g.contextStore.Rollback(conversationID, snapshotID)
}

// Statistics summarizes gateway activity across all conversations.
type Statistics struct {
	ConversationsByState map[string]int `json:"conversations_by_state"`
	MessagesByType       map[string]int `json:"messages_by_type"`
	MessagesByUrgency    map[string]int `json:"messages_by_urgency"`
	TotalMessages        int            `json:"total_messages"`
	TotalParticipants    int            `json:"total_participants"`
}

// Stats computes activity statistics from the conversation store.
func (g *Gateway) Stats() (*Statistics, error) {
	convs, err := g.manager.List()
	if err != nil {
		return nil, err
	}
	stats := &Statistics{
		ConversationsByState: map[string]int{},
		MessagesByType:       map[string]int{},
		MessagesByUrgency:    map[string]int{},
	}
	for _, conv := range convs {
		state, _ := conv.CurrentState()
		stats.ConversationsByState[string(state)]++
		stats.TotalParticipants += len(conv.Participants)
		for _, msg := range conv.GetHistory() {
			stats.MessagesByType[string(msg.Type)]++
			stats.MessagesByUrgency[string(msg.Urgency)]++
			stats.TotalMessages++
		}
	}
	return stats, nil
}
