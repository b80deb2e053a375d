package routing

import (
	"fmt"
	"os"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/meshgate/meshgate/core"
)

// ActionKind is the closed set of rule actions the dispatcher interprets.
type ActionKind string

const (
	// ActionRoute delivers to the message's recipients (optionally overridden
	// by the "recipients" param).
	ActionRoute ActionKind = "route"
	// ActionBroadcast delivers to every participant except the sender.
	ActionBroadcast ActionKind = "broadcast"
	// ActionEscalate notifies all participants and flags the result.
	ActionEscalate ActionKind = "escalate"
)

// ValidActionKind reports whether k is a known action kind.
func ValidActionKind(k ActionKind) bool {
	return k == ActionRoute || k == ActionBroadcast || k == ActionEscalate
}

// Condition gates a rule. All populated parts must match: the message type
// set, the sender role set, and the optional expression. An empty part
// matches everything.
type Condition struct {
	MessageTypes []core.MessageType `yaml:"message_types,omitempty" json:"message_types,omitempty"`
	SenderRoles  []string           `yaml:"sender_roles,omitempty" json:"sender_roles,omitempty"`
	// Expr is an optional boolean expression evaluated against the message
	// environment, e.g. `message.urgency in ["high", "critical"]`.
	Expr string `yaml:"expr,omitempty" json:"expr,omitempty"`
}

// Action is what a matched rule does, parameterized by data rather than code
// so rule sets can be reconfigured at runtime without redeploying logic.
type Action struct {
	Kind   ActionKind        `yaml:"kind" json:"kind"`
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Rule is one declarative routing rule. Rules are evaluated in descending
// priority order against each message; a rule generates side effects at most
// once per message.
type Rule struct {
	Name      string    `yaml:"name" json:"name"`
	Condition Condition `yaml:"condition" json:"condition"`
	Action    Action    `yaml:"action" json:"action"`
	Priority  int       `yaml:"priority" json:"priority"`
	Enabled   bool      `yaml:"enabled" json:"enabled"`
}

// Validate checks the structural fields of a rule.
func (r Rule) Validate() error {
	if r.Name == "" {
		return &core.ValidationError{Missing: []string{"name"}}
	}
	if !ValidActionKind(r.Action.Kind) {
		return &core.ValidationError{Invalid: map[string]string{"action.kind": string(r.Action.Kind)}}
	}
	for _, t := range r.Condition.MessageTypes {
		if !core.ValidMessageType(t) {
			return &core.ValidationError{Invalid: map[string]string{"condition.message_types": string(t)}}
		}
	}
	return nil
}

// ruleFile is the YAML document shape for rule sets loaded from disk.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule set from path. Every rule is validated and its
// expression compiled so configuration errors surface at load time, not at
// routing time.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	evaluator := newEvaluator()
	for _, rule := range doc.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		if rule.Condition.Expr != "" {
			if _, err := evaluator.compile(rule.Condition.Expr); err != nil {
				return nil, fmt.Errorf("rule %q: compile condition: %w", rule.Name, err)
			}
		}
	}
	return doc.Rules, nil
}

// evaluator compiles and caches rule condition expressions for repeated
// evaluation.
type evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newEvaluator() *evaluator {
	return &evaluator{cache: map[string]*vm.Program{}}
}

// matches reports whether the rule condition holds for the message in the
// given conversation.
func (e *evaluator) matches(rule Rule, msg core.Message, conv *core.Conversation) (bool, error) {
	cond := rule.Condition
	if len(cond.MessageTypes) > 0 && !containsType(cond.MessageTypes, msg.Type) {
		return false, nil
	}
	if len(cond.SenderRoles) > 0 && !containsString(cond.SenderRoles, conv.ParticipantRole(msg.Sender)) {
		return false, nil
	}
	if cond.Expr == "" {
		return true, nil
	}
	program, err := e.compile(cond.Expr)
	if err != nil {
		return false, fmt.Errorf("compile condition: %w", err)
	}
	state, _ := conv.CurrentState()
	env := map[string]any{
		"message": map[string]any{
			"type":              string(msg.Type),
			"urgency":           string(msg.Urgency),
			"sender":            msg.Sender,
			"recipients":        msg.Recipients,
			"requires_response": msg.RequiresResponse,
		},
		"sender_role": conv.ParticipantRole(msg.Sender),
		"conversation": map[string]any{
			"pattern": string(conv.Pattern),
			"state":   string(state),
		},
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition must return boolean, got %T", result)
	}
	return matched, nil
}

// compile compiles an expression and caches the result.
func (e *evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

// DefaultRules returns the built-in rule set: a completion message always
// broadcasts, and high or critical urgency escalates to all participants.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "completion-broadcast",
			Condition: Condition{MessageTypes: []core.MessageType{core.MessageCompletion}},
			Action:    Action{Kind: ActionBroadcast},
			Priority:  100,
			Enabled:   true,
		},
		{
			Name:      "urgency-escalation",
			Condition: Condition{Expr: `message.urgency in ["high", "critical"]`},
			Action:    Action{Kind: ActionEscalate},
			Priority:  90,
			Enabled:   true,
		},
	}
}

func containsType(haystack []core.MessageType, needle core.MessageType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
