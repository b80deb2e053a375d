package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshgate/meshgate/conversation"
	"github.com/meshgate/meshgate/core"
	"github.com/meshgate/meshgate/internal/testutil"
	"github.com/meshgate/meshgate/logging"
)

// recordingNotifier captures deliveries for assertions.
type recordingNotifier struct {
	mu         sync.Mutex
	recipients []string
	done       chan struct{}
	expect     int
}

func newRecordingNotifier(expect int) *recordingNotifier {
	return &recordingNotifier{done: make(chan struct{}), expect: expect}
}

func (n *recordingNotifier) Deliver(ctx context.Context, recipient string, msg core.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recipients = append(n.recipients, recipient)
	if len(n.recipients) == n.expect {
		close(n.done)
	}
	return nil
}

func (n *recordingNotifier) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected %d deliveries, got %d", n.expect, len(n.recipients))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.recipients...)
}

func storeWith(t *testing.T, conv *core.Conversation) core.ConversationStore {
	t.Helper()
	store := conversation.NewInMemoryStore()
	require.NoError(t, store.Create(conv))
	return store
}

func TestRouter_Route_RejectsInvalidMessage(t *testing.T) {
	store := conversation.NewInMemoryStore()
	router := New(store)
	defer router.Close()

	_, err := router.Route(context.Background(), core.Message{})
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRouter_Route_UnknownConversation(t *testing.T) {
	router := New(conversation.NewInMemoryStore())
	defer router.Close()

	msg := testutil.NewMessageBuilder("ghost").From("alice").Build()
	_, err := router.Route(context.Background(), msg)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRouter_Route_CompletedConversationIsClosed(t *testing.T) {
	conv := testutil.NewConversationBuilder("task-1").Agent("alice", "worker").
		State(core.StateCompleted).Build()
	router := New(storeWith(t, conv))
	defer router.Close()

	msg := testutil.NewMessageBuilder(conv.ID).From("alice").Build()
	_, err := router.Route(context.Background(), msg)
	assert.ErrorIs(t, err, core.ErrConversationClosed)
}

func TestRouter_Route_AppendsHistory(t *testing.T) {
	conv := testutil.NewConversationBuilder("task-1").
		Agent("alice", "worker").Agent("bob", "worker").Active().Build()
	router := New(storeWith(t, conv))
	defer router.Close()

	msg := testutil.NewMessageBuilder(conv.ID).From("alice").To("bob").Status("working").Build()
	result, err := router.Route(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, msg.ID, result.MessageID)
	assert.Equal(t, []string{"bob"}, result.Recipients)
	require.Len(t, conv.GetHistory(), 1)
	assert.Equal(t, msg.ID, conv.GetHistory()[0].ID)
}

func TestRouter_Route_EmitsRouteRecord(t *testing.T) {
	conv := testutil.NewConversationBuilder("task-1").
		Agent("alice", "worker").Agent("bob", "worker").Active().Build()
	buf := &bytes.Buffer{}
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "json", Output: buf})
	router := New(storeWith(t, conv), func(o *Options) { o.Logger = logger })
	defer router.Close()

	msg := testutil.NewMessageBuilder(conv.ID).From("alice").To("bob").Status("working").Build()
	_, err := router.Route(context.Background(), msg)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	assert.Equal(t, "Message routed", entry["msg"])
	assert.Equal(t, msg.ID, entry["message_id"])
	assert.Equal(t, conv.ID, entry["conversation_id"])
	assert.Equal(t, string(core.MessageStatusUpdate), entry["message_type"])
	assert.EqualValues(t, 1, entry["recipients"])
}

func TestRouter_Route_ResumesPausedConversation(t *testing.T) {
	conv := testutil.NewConversationBuilder("task-1").Agent("alice", "worker").
		State(core.StatePaused).Build()
	router := New(storeWith(t, conv))
	defer router.Close()

	msg := testutil.NewMessageBuilder(conv.ID).From("alice").Build()
	_, err := router.Route(context.Background(), msg)
	require.NoError(t, err)

	state, reason := conv.CurrentState()
	assert.Equal(t, core.StateActive, state)
	assert.Equal(t, "resumed by message activity", reason)
}

func TestRouter_Route_CompletionBroadcastsAndTransitions(t *testing.T) {
	conv := testutil.NewConversationBuilder("task-1").
		Agent("alice", "worker").Agent("bob", "worker").Agent("carol", "worker").
		Active().Build()
	notifier := newRecordingNotifier(2)
	router := New(storeWith(t, conv), func(o *Options) { o.Notifier = notifier })
	defer router.Close()

	msg := testutil.NewMessageBuilder(conv.ID).From("alice").Completion().Build()
	result, err := router.Route(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleting, result.StateChanged)
	assert.Contains(t, result.RulesFired, "completion-broadcast")

	// Broadcast reaches everyone except the sender.
	assert.ElementsMatch(t, []string{"bob", "carol"}, notifier.wait(t))

	state, _ := conv.CurrentState()
	assert.Equal(t, core.StateCompleting, state)
}

func TestRouter_Route_HighUrgencyEscalates(t *testing.T) {
	conv := testutil.NewConversationBuilder("task-1").
		Agent("alice", "worker").Agent("bob", "worker").
		Active().Build()
	notifier := newRecordingNotifier(2)
	router := New(storeWith(t, conv), func(o *Options) { o.Notifier = notifier })
	defer router.Close()

	msg := testutil.NewMessageBuilder(conv.ID).From("alice").
		Urgency(core.UrgencyCritical).Text("prod is down").Build()
	result, err := router.Route(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, result.Escalated)
	assert.Contains(t, result.RulesFired, "urgency-escalation")
	// Escalation includes the sender.
	assert.ElementsMatch(t, []string{"alice", "bob"}, notifier.wait(t))
}

func TestRouter_Route_RuleOverridesRecipients(t *testing.T) {
	conv := testutil.NewConversationBuilder("task-1").
		Agent("alice", "reviewer").Agent("lead", "coordinator").
		Active().Build()
	router := New(storeWith(t, conv), func(o *Options) { o.Rules = nil })
	defer router.Close()

	require.NoError(t, router.AddRule(Rule{
		Name:      "reviews-to-lead",
		Condition: Condition{SenderRoles: []string{"reviewer"}},
		Action:    Action{Kind: ActionRoute, Params: map[string]string{"recipients": "lead"}},
		Priority:  10,
		Enabled:   true,
	}))

	msg := testutil.NewMessageBuilder(conv.ID).From("alice").To("bob").Status("done").Build()
	result, err := router.Route(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"lead"}, result.Recipients)
}

func TestRouter_Route_DisabledRuleIsSkipped(t *testing.T) {
	conv := testutil.NewConversationBuilder("task-1").Agent("alice", "worker").Active().Build()
	rules := []Rule{{
		Name:      "disabled",
		Condition: Condition{},
		Action:    Action{Kind: ActionEscalate},
		Priority:  10,
		Enabled:   false,
	}}
	router := New(storeWith(t, conv), func(o *Options) { o.Rules = rules })
	defer router.Close()

	msg := testutil.NewMessageBuilder(conv.ID).From("alice").Build()
	result, err := router.Route(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, result.RulesFired)
	assert.False(t, result.Escalated)
}

func TestRouter_AddRule_RejectsBadExpression(t *testing.T) {
	router := New(conversation.NewInMemoryStore())
	defer router.Close()

	err := router.AddRule(Rule{
		Name:      "broken",
		Condition: Condition{Expr: "message.urgency =="},
		Action:    Action{Kind: ActionRoute},
		Enabled:   true,
	})
	assert.Error(t, err)
}

func TestRouter_RulesSortedByPriority(t *testing.T) {
	router := New(conversation.NewInMemoryStore(), func(o *Options) { o.Rules = nil })
	defer router.Close()

	require.NoError(t, router.AddRule(Rule{Name: "low", Action: Action{Kind: ActionRoute}, Priority: 1, Enabled: true}))
	require.NoError(t, router.AddRule(Rule{Name: "high", Action: Action{Kind: ActionRoute}, Priority: 99, Enabled: true}))

	rules := router.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "high", rules[0].Name)
	assert.Equal(t, "low", rules[1].Name)
}

func TestRouter_ReminderFiresWithoutResponse(t *testing.T) {
	conv := testutil.NewConversationBuilder("task-1").
		Agent("alice", "worker").Agent("bob", "worker").Active().Build()

	fired := make(chan string, 1)
	router := New(storeWith(t, conv), func(o *Options) {
		o.ResponseTimeout = 20 * time.Millisecond
		o.OnReminder = func(conversationID, messageID string, recipients []string) {
			fired <- messageID
		}
	})
	defer router.Close()

	question := testutil.NewMessageBuilder(conv.ID).From("alice").To("bob").Question("ready?").Build()
	result, err := router.Route(context.Background(), question)
	require.NoError(t, err)
	assert.True(t, result.ReminderSet)

	select {
	case id := <-fired:
		assert.Equal(t, question.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("reminder never fired")
	}
}

func TestRouter_ResponseSuppressesReminder(t *testing.T) {
	conv := testutil.NewConversationBuilder("task-1").
		Agent("alice", "worker").Agent("bob", "worker").Active().Build()

	fired := make(chan string, 1)
	router := New(storeWith(t, conv), func(o *Options) {
		o.ResponseTimeout = 50 * time.Millisecond
		o.OnReminder = func(conversationID, messageID string, recipients []string) {
			fired <- messageID
		}
	})
	defer router.Close()

	question := testutil.NewMessageBuilder(conv.ID).From("alice").To("bob").Question("ready?").Build()
	_, err := router.Route(context.Background(), question)
	require.NoError(t, err)

	answer := testutil.NewMessageBuilder(conv.ID).From("bob").To("alice").
		Type(core.MessageResponse).Text("yes").
		Data("question_id", question.ID).Build()
	_, err = router.Route(context.Background(), answer)
	require.NoError(t, err)

	select {
	case id := <-fired:
		t.Fatalf("reminder fired for answered question %s", id)
	case <-time.After(150 * time.Millisecond):
	}
}
