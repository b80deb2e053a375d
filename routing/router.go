// Package routing validates, records and dispatches conversation messages,
// then applies declarative routing rules. The authoritative state update
// (history append, lifecycle transition) happens atomically before delivery
// fans out to recipients, so a crash mid-delivery never loses the record of a
// routed message.
package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meshgate/meshgate/core"
	"github.com/meshgate/meshgate/logging"
	"github.com/meshgate/meshgate/metrics"
)

// Notifier delivers a routed message to a single recipient. Implementations
// wrap the participant transport; delivery runs on its own goroutine per
// recipient and must honor ctx cancellation.
type Notifier interface {
	Deliver(ctx context.Context, recipient string, msg core.Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, recipient string, msg core.Message) error

// Deliver implements Notifier.
func (f NotifierFunc) Deliver(ctx context.Context, recipient string, msg core.Message) error {
	return f(ctx, recipient, msg)
}

// ReminderFunc is invoked when a question or response-required message passes
// its response timeout without an answer. It is a notification hook only;
// reminders never change conversation state.
type ReminderFunc func(conversationID, messageID string, recipients []string)

// RouteResult summarizes one routing operation.
type RouteResult struct {
	MessageID  string   `json:"message_id"`
	Recipients []string `json:"recipients"`
	RulesFired []string `json:"rules_fired"`
	Escalated  bool     `json:"escalated"`
	// StateChanged names the lifecycle state the conversation moved to as a
	// side effect of this message, if any.
	StateChanged core.ConversationState `json:"state_changed,omitempty"`
	ReminderSet  bool                   `json:"reminder_set"`
}

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// Rules is the initial rule set; defaults to DefaultRules().
	Rules []Rule
	// Notifier delivers messages to recipients. Nil disables delivery
	// (useful in tests that only assert on authoritative state).
	Notifier Notifier
	// ResponseTimeout is the reminder delay for messages requiring responses.
	ResponseTimeout time.Duration
	// OnReminder is invoked when a response deadline passes.
	OnReminder ReminderFunc
	// DeliveryTimeout bounds each per-recipient delivery attempt.
	DeliveryTimeout time.Duration
	// Logger defaults to NoOp when nil.
	Logger logging.Logger
}

// Router validates, records and dispatches messages for all conversations.
// Public methods are safe for concurrent use; per-conversation ordering is
// guaranteed by the conversation's own lock.
type Router struct {
	store           core.ConversationStore
	notifier        Notifier
	responseTimeout time.Duration
	deliveryTimeout time.Duration
	onReminder      ReminderFunc
	logger          logging.Logger

	evaluator *evaluator

	mu        sync.RWMutex
	rules     []Rule
	reminders map[string]*time.Timer
	answered  map[string]bool
}

// New constructs a Router over the given conversation store.
func New(store core.ConversationStore, optFns ...func(o *Options)) *Router {
	opts := Options{
		Rules:           DefaultRules(),
		ResponseTimeout: 30 * time.Second,
		DeliveryTimeout: 10 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Router{
		store:           store,
		notifier:        opts.Notifier,
		responseTimeout: opts.ResponseTimeout,
		deliveryTimeout: opts.DeliveryTimeout,
		onReminder:      opts.OnReminder,
		logger:          opts.Logger,
		evaluator:       newEvaluator(),
		rules:           append([]Rule{}, opts.Rules...),
		reminders:       map[string]*time.Timer{},
		answered:        map[string]bool{},
	}
	sortRules(r.rules)
	return r
}

// AddRule installs a rule at runtime. The condition expression is compiled
// eagerly so a malformed rule is rejected instead of failing during routing.
func (r *Router) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Condition.Expr != "" {
		if _, err := r.evaluator.compile(rule.Condition.Expr); err != nil {
			return fmt.Errorf("compile condition for rule %q: %w", rule.Name, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	sortRules(r.rules)
	return nil
}

// Rules returns a defensive copy of the current rule set in evaluation order.
func (r *Router) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules := make([]Rule, len(r.rules))
	copy(rules, r.rules)
	return rules
}

// Route validates the message, appends it to the conversation history,
// applies built-in semantics and the declarative rule set, persists the
// conversation, and finally fans out delivery to each resolved recipient.
func (r *Router) Route(ctx context.Context, msg core.Message) (*RouteResult, error) {
	start := time.Now()
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	conv, err := r.store.Get(msg.ConversationID)
	if err != nil {
		return nil, err
	}
	state, _ := conv.CurrentState()
	if state == core.StateCompleted {
		return nil, fmt.Errorf("%w: %s", core.ErrConversationClosed, conv.ID)
	}
	if state == core.StatePaused {
		// Activity resumes a paused conversation.
		if err := conv.Transition(core.StateActive, "resumed by message activity"); err != nil {
			return nil, err
		}
	}

	// Authoritative record first; everything after this line is a side effect
	// of an already-routed message.
	conv.AppendMessage(msg)

	result := &RouteResult{MessageID: msg.ID, Recipients: msg.Recipients}

	if msg.Type == core.MessageResponse {
		r.markAnswered(msg)
	}
	if msg.Type == core.MessageCompletion {
		if err := conv.Transition(core.StateCompleting, "completion message routed"); err == nil {
			result.StateChanged = core.StateCompleting
		}
	}

	recipients := r.applyRules(conv, msg, result)

	if msg.Type == core.MessageQuestion || msg.RequiresResponse {
		r.scheduleReminder(conv.ID, msg)
		result.ReminderSet = true
	}

	if err := r.store.Save(conv); err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}

	result.Recipients = recipients
	r.fanOut(ctx, recipients, msg)

	metrics.ObserveMessage(string(msg.Type), string(msg.Urgency))
	if gl, ok := r.logger.(*logging.GatewayLogger); ok {
		gl.WithConversation(conv.ID).LogRouteDecision(msg.ID, string(msg.Type), len(recipients), len(result.RulesFired), time.Since(start))
	} else {
		r.logger.Info("message routed",
			"message_id", msg.ID,
			"conversation_id", conv.ID,
			"type", string(msg.Type),
			"recipients", len(recipients),
			"rules_fired", strings.Join(result.RulesFired, ","),
			"duration", time.Since(start))
	}
	return result, nil
}

// applyRules evaluates enabled rules in descending priority order and
// interprets their actions, returning the final recipient set.
func (r *Router) applyRules(conv *core.Conversation, msg core.Message, result *RouteResult) []string {
	recipients := append([]string{}, msg.Recipients...)

	r.mu.RLock()
	rules := make([]Rule, len(r.rules))
	copy(rules, r.rules)
	r.mu.RUnlock()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		matched, err := r.evaluator.matches(rule, msg, conv)
		if err != nil {
			r.logger.Warn("rule evaluation failed", "rule", rule.Name, "error", err.Error())
			continue
		}
		if !matched {
			continue
		}
		result.RulesFired = append(result.RulesFired, rule.Name)
		metrics.ObserveRuleSideEffect(rule.Name, string(rule.Action.Kind))

		switch rule.Action.Kind {
		case ActionRoute:
			if override, ok := rule.Action.Params["recipients"]; ok {
				recipients = splitList(override)
			}
		case ActionBroadcast:
			recipients = broadcastRecipients(conv, msg.Sender)
		case ActionEscalate:
			recipients = broadcastRecipients(conv, "")
			result.Escalated = true
		}
	}
	return dedupe(recipients)
}

// fanOut delivers the message to each recipient on its own goroutine. The
// authoritative state is already persisted; failures are logged, not
// propagated, and never mutate conversation state.
func (r *Router) fanOut(ctx context.Context, recipients []string, msg core.Message) {
	if r.notifier == nil {
		return
	}
	for _, recipient := range recipients {
		go func(recipient string) {
			deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.deliveryTimeout)
			defer cancel()
			if err := r.notifier.Deliver(deliverCtx, recipient, msg); err != nil {
				r.logger.Warn("delivery failed", "message_id", msg.ID, "recipient", recipient, "error", err.Error())
			}
		}(recipient)
	}
}

// scheduleReminder arms a response reminder for the message. An arriving
// response cancels it; firing emits the reminder hook without any state
// change.
func (r *Router) scheduleReminder(conversationID string, msg core.Message) {
	timeout := r.responseTimeout
	if msg.ResponseDeadline != nil {
		if until := time.Until(*msg.ResponseDeadline); until > 0 {
			timeout = until
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.reminders[msg.ID]; ok {
		timer.Stop()
	}
	r.reminders[msg.ID] = time.AfterFunc(timeout, func() {
		r.mu.Lock()
		answered := r.answered[msg.ID]
		delete(r.reminders, msg.ID)
		delete(r.answered, msg.ID)
		r.mu.Unlock()
		if answered {
			return
		}
		r.logger.Info("response reminder fired", "message_id", msg.ID, "conversation_id", conversationID)
		if r.onReminder != nil {
			r.onReminder(conversationID, msg.ID, []string{msg.Sender})
		}
	})
}

// markAnswered records that a response arrived, suppressing the pending
// reminder for the question it answers.
func (r *Router) markAnswered(msg core.Message) {
	questionID, ok := msg.Payload.Data["question_id"].(string)
	if !ok || questionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered[questionID] = true
	if timer, ok := r.reminders[questionID]; ok {
		timer.Stop()
		delete(r.reminders, questionID)
	}
}

// Close stops all pending reminder timers.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, timer := range r.reminders {
		timer.Stop()
		delete(r.reminders, id)
	}
}

// broadcastRecipients returns every connected participant except excluded.
func broadcastRecipients(conv *core.Conversation, excluded string) []string {
	var recipients []string
	for _, p := range conv.ConnectedParticipants() {
		if p.AgentID != excluded {
			recipients = append(recipients, p.AgentID)
		}
	}
	return recipients
}

func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func dedupe(recipients []string) []string {
	seen := map[string]struct{}{}
	out := recipients[:0]
	for _, recipient := range recipients {
		if _, ok := seen[recipient]; ok {
			continue
		}
		seen[recipient] = struct{}{}
		out = append(out, recipient)
	}
	return out
}
