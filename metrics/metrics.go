// Package metrics exposes Prometheus instrumentation for the gateway. All
// collectors are registered with the default registry via promauto so they
// appear on any scrape endpoint the embedding process serves.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conversationsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshgate_conversations",
			Help: "Current number of conversations by lifecycle state",
		},
		[]string{"state"},
	)

	messagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshgate_messages_routed_total",
			Help: "Total messages routed by type and urgency",
		},
		[]string{"type", "urgency"},
	)

	ruleSideEffects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshgate_rule_side_effects_total",
			Help: "Total routing rule side effects by rule and action",
		},
		[]string{"rule", "action"},
	)

	conflictsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshgate_conflicts_total",
			Help: "Total conflict resolution attempts by type, strategy and outcome",
		},
		[]string{"type", "strategy", "outcome"},
	)

	contextUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshgate_context_updates_total",
			Help: "Total shared context updates by merge strategy and result",
		},
		[]string{"strategy", "result"},
	)

	rollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshgate_context_rollbacks_total",
		Help: "Total context rollbacks performed",
	})

	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshgate_tool_call_duration_seconds",
			Help:    "Duration of MCP tool calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool", "status"},
	)
)

// SetConversations records the current number of conversations in a state.
func SetConversations(state string, count int) {
	conversationsByState.WithLabelValues(state).Set(float64(count))
}

// ObserveMessage counts one routed message.
func ObserveMessage(msgType, urgency string) {
	messagesRouted.WithLabelValues(msgType, urgency).Inc()
}

// ObserveRuleSideEffect counts one rule firing.
func ObserveRuleSideEffect(rule, action string) {
	ruleSideEffects.WithLabelValues(rule, action).Inc()
}

// ObserveConflict counts one conflict resolution attempt.
func ObserveConflict(conflictType, strategy, outcome string) {
	conflictsObserved.WithLabelValues(conflictType, strategy, outcome).Inc()
}

// ObserveContextUpdate counts one shared context write.
func ObserveContextUpdate(strategy, result string) {
	contextUpdates.WithLabelValues(strategy, result).Inc()
}

// ObserveRollback counts one context rollback.
func ObserveRollback() {
	rollbacks.Inc()
}

// ObserveToolCall records the duration and status of one MCP tool call.
func ObserveToolCall(tool, status string, dur time.Duration) {
	toolCallDuration.WithLabelValues(tool, status).Observe(dur.Seconds())
}
