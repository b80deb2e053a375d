package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/meshgate/meshgate/conflict"
	"github.com/meshgate/meshgate/core"
	"github.com/meshgate/meshgate/logging"
	"github.com/meshgate/meshgate/metrics"
)

// decodeField re-marshals one argument through JSON into a typed struct so
// handlers never work with loose map bags.
func decodeField(args map[string]any, key string, out any) error {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// observe wraps a handler body with rate limiting, duration metrics and logging.
func (s *Server) observe(tool string, fn func() (*mcp.CallToolResult, error)) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse("Rate limit exceeded. Please try again later."), nil
	}
	start := time.Now()
	result, err := fn()
	status := "ok"
	if err != nil || (result != nil && result.IsError) {
		status = "error"
	}
	metrics.ObserveToolCall(tool, status, time.Since(start))
	if gl, ok := s.logger.(*logging.GatewayLogger); ok {
		gl.LogToolCall(tool, time.Since(start), status == "ok", err)
	} else {
		s.logger.Debug("tool call handled", "tool", tool, "status", status, "duration", time.Since(start).String())
	}
	return result, err
}

func (s *Server) handleInitiate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.observe("meshgate_initiate_conversation", func() (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return errorResponse("Missing or invalid 'task_id' argument"), nil
		}
		initiator, err := request.RequireString("initiator")
		if err != nil {
			return errorResponse("Missing or invalid 'initiator' argument"), nil
		}
		var participants []core.Participant
		if err := decodeField(request.GetArguments(), "participants", &participants); err != nil {
			return errorResponse(fmt.Sprintf("Invalid 'participants' argument: %v", err)), nil
		}
		pattern := core.CoordinationPattern(request.GetString("pattern", string(core.PatternCollaborative)))

		result, err := s.gateway.InitiateConversation(ctx, taskID, initiator, participants, pattern)
		if err != nil {
			return errorResponse(fmt.Sprintf("Failed to initiate conversation: %v", err)), nil
		}
		return jsonResponse(result), nil
	})
}

func (s *Server) handleRouteMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.observe("meshgate_route_message", func() (*mcp.CallToolResult, error) {
		conversationID, err := request.RequireString("conversation_id")
		if err != nil {
			return errorResponse("Missing or invalid 'conversation_id' argument"), nil
		}
		sender, err := request.RequireString("sender")
		if err != nil {
			return errorResponse("Missing or invalid 'sender' argument"), nil
		}
		msgType, err := request.RequireString("type")
		if err != nil {
			return errorResponse("Missing or invalid 'type' argument"), nil
		}
		args := request.GetArguments()
		var recipients []string
		if err := decodeField(args, "recipients", &recipients); err != nil {
			return errorResponse(fmt.Sprintf("Invalid 'recipients' argument: %v", err)), nil
		}
		var payload core.Payload
		if err := decodeField(args, "payload", &payload); err != nil {
			return errorResponse(fmt.Sprintf("Invalid 'payload' argument: %v", err)), nil
		}

		msg := core.NewMessage(conversationID, sender, recipients, core.MessageType(msgType), payload)
		if urgency := request.GetString("urgency", ""); urgency != "" {
			msg = msg.WithUrgency(core.Urgency(urgency))
		}
		if request.GetBool("requires_response", false) {
			msg.RequiresResponse = true
		}

		result, err := s.gateway.RouteMessage(ctx, msg)
		if err != nil {
			var verr *core.ValidationError
			if errors.As(err, &verr) {
				return errorResponse(fmt.Sprintf("Message validation failed: %v", verr)), nil
			}
			return errorResponse(fmt.Sprintf("Failed to route message: %v", err)), nil
		}
		return jsonResponse(result), nil
	})
}

// statusResult is the conversation_status tool response shape.
type statusResult struct {
	ConversationID string             `json:"conversation_id"`
	TaskID         string             `json:"task_id"`
	State          string             `json:"state"`
	StateReason    string             `json:"state_reason,omitempty"`
	Pattern        string             `json:"pattern"`
	Participants   []core.Participant `json:"participants"`
	MessageCount   int                `json:"message_count"`
	Created        time.Time          `json:"created"`
	LastActivity   time.Time          `json:"last_activity"`
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.observe("meshgate_conversation_status", func() (*mcp.CallToolResult, error) {
		conversationID, err := request.RequireString("conversation_id")
		if err != nil {
			return errorResponse("Missing or invalid 'conversation_id' argument"), nil
		}
		conv, err := s.gateway.Manager().Get(conversationID)
		if err != nil {
			return errorResponse(fmt.Sprintf("Conversation not found: %v", err)), nil
		}
		snapshot := conv.Clone()
		return jsonResponse(statusResult{
			ConversationID: snapshot.ID,
			TaskID:         snapshot.TaskID,
			State:          string(snapshot.State),
			StateReason:    snapshot.StateReason,
			Pattern:        string(snapshot.Pattern),
			Participants:   snapshot.Participants,
			MessageCount:   len(snapshot.History),
			Created:        snapshot.Created,
			LastActivity:   snapshot.LastActivity,
		}), nil
	})
}

func (s *Server) handleUpdateContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.observe("meshgate_update_context", func() (*mcp.CallToolResult, error) {
		conversationID, err := request.RequireString("conversation_id")
		if err != nil {
			return errorResponse("Missing or invalid 'conversation_id' argument"), nil
		}
		key, err := request.RequireString("key")
		if err != nil {
			return errorResponse("Missing or invalid 'key' argument"), nil
		}
		writer, err := request.RequireString("writer")
		if err != nil {
			return errorResponse("Missing or invalid 'writer' argument"), nil
		}
		strategy := core.MergeStrategy(request.GetString("merge_strategy", string(core.MergeReplace)))
		expectedVersion := int64(request.GetInt("expected_version", 0))
		value := request.GetArguments()["value"]

		update, err := s.gateway.UpdateContext(conversationID, key, value, writer, strategy, expectedVersion)
		if err != nil {
			if update.Conflict != nil {
				// Surface the detected conflict so the caller can run a
				// resolution strategy instead of losing the write.
				metrics.ObserveContextUpdate(string(strategy), "conflict")
				return jsonResponse(update), nil
			}
			metrics.ObserveContextUpdate(string(strategy), "error")
			return errorResponse(fmt.Sprintf("Failed to update context: %v", err)), nil
		}
		result := "applied"
		if update.AutoMerged {
			result = "auto_merged"
		}
		metrics.ObserveContextUpdate(string(strategy), result)
		return jsonResponse(update), nil
	})
}

func (s *Server) handleSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.observe("meshgate_snapshot_context", func() (*mcp.CallToolResult, error) {
		conversationID, err := request.RequireString("conversation_id")
		if err != nil {
			return errorResponse("Missing or invalid 'conversation_id' argument"), nil
		}
		creator, err := request.RequireString("creator")
		if err != nil {
			return errorResponse("Missing or invalid 'creator' argument"), nil
		}
		description := request.GetString("description", "")

		snap, err := s.gateway.SnapshotContext(conversationID, description, creator)
		if err != nil {
			return errorResponse(fmt.Sprintf("Failed to snapshot context: %v", err)), nil
		}
		return jsonResponse(snap), nil
	})
}

func (s *Server) handleRollback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.observe("meshgate_rollback_context", func() (*mcp.CallToolResult, error) {
		conversationID, err := request.RequireString("conversation_id")
		if err != nil {
			return errorResponse("Missing or invalid 'conversation_id' argument"), nil
		}
		snapshotID, err := request.RequireString("snapshot_id")
		if err != nil {
			return errorResponse("Missing or invalid 'snapshot_id' argument"), nil
		}

		snap, err := s.gateway.RollbackContext(conversationID, snapshotID)
		if err != nil {
			return errorResponse(fmt.Sprintf("Failed to roll back context: %v", err)), nil
		}
		metrics.ObserveRollback()
		return jsonResponse(snap), nil
	})
}

// resolveResult pairs the engine decision with gating detail.
type resolveResult struct {
	Decision core.Decision `json:"decision"`
	Error    string        `json:"error,omitempty"`
}

func (s *Server) handleResolveConflict(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.observe("meshgate_resolve_conflict", func() (*mcp.CallToolResult, error) {
		strategy, err := request.RequireString("strategy")
		if err != nil {
			return errorResponse("Missing or invalid 'strategy' argument"), nil
		}
		args := request.GetArguments()

		c := core.NewConflict(
			request.GetString("conversation_id", ""),
			core.ConflictType(request.GetString("conflict_type", string(core.ConflictConcurrentModification))),
			core.Severity(request.GetString("severity", string(core.SeverityMedium))),
		)
		if err := decodeField(args, "votes", &c.Votes); err != nil {
			return errorResponse(fmt.Sprintf("Invalid 'votes' argument: %v", err)), nil
		}
		if err := decodeField(args, "positions", &c.Positions); err != nil {
			return errorResponse(fmt.Sprintf("Invalid 'positions' argument: %v", err)), nil
		}

		req := conflict.Request{
			Conflict:      c,
			Strategy:      core.Strategy(strategy),
			TotalEligible: request.GetInt("total_eligible", 0),
			Budget:        time.Duration(request.GetInt("budget_ms", 0)) * time.Millisecond,
		}
		decision, err := s.gateway.ResolveConflict(ctx, req)
		if err != nil {
			// Quorum failures and manual escalations still carry a decision
			// describing why; return both rather than a bare error.
			if errors.Is(err, conflict.ErrQuorumNotMet) || errors.Is(err, conflict.ErrManualResolution) {
				return jsonResponse(resolveResult{Decision: decision, Error: err.Error()}), nil
			}
			return errorResponse(fmt.Sprintf("Failed to resolve conflict: %v", err)), nil
		}
		return jsonResponse(resolveResult{Decision: decision}), nil
	})
}

func (s *Server) handleStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.observe("meshgate_event_statistics", func() (*mcp.CallToolResult, error) {
		stats, err := s.gateway.Stats()
		if err != nil {
			return errorResponse(fmt.Sprintf("Failed to compute statistics: %v", err)), nil
		}
		return jsonResponse(stats), nil
	})
}

// healthResult is the health tool response shape.
type healthResult struct {
	Status        string `json:"status"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	Conversations int    `json:"conversations"`
}

func (s *Server) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.observe("meshgate_health", func() (*mcp.CallToolResult, error) {
		convs, err := s.gateway.Manager().List()
		if err != nil {
			return jsonResponse(healthResult{Status: "degraded", Name: s.name, Version: s.version}), nil
		}
		return jsonResponse(healthResult{Status: "ok", Name: s.name, Version: s.version, Conversations: len(convs)}), nil
	})
}
