// Package gateway implements the MCP server exposing the coordination core as
// callable tools. Each capability is registered as a named Tool with a
// JSON-schema-described input and a handler returning a JSON-serializable
// result or a structured error.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	meshgate "github.com/meshgate/meshgate"
	"github.com/meshgate/meshgate/logging"
)

// Server wraps the MCP server and exposes the coordination gateway tools.
type Server struct {
	mcpServer   *server.MCPServer
	gateway     *meshgate.Gateway
	name        string
	version     string
	rateLimiter *RateLimiter
	logger      logging.Logger
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Name is the server name (default: "meshgate").
	Name string
	// Version is the gateway version.
	Version string
	// CallsPerMinute bounds tool calls (default: 120).
	CallsPerMinute int
	// Logger defaults to a stderr JSON GatewayLogger. Logging must never go
	// to stdout, which carries the MCP stdio protocol.
	Logger logging.Logger
}

// NewServer creates a new MCP server instance around an existing Gateway.
func NewServer(gw *meshgate.Gateway, config ServerConfig) (*Server, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if config.Name == "" {
		config.Name = "meshgate"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.CallsPerMinute <= 0 {
		config.CallsPerMinute = 120
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewLogger(nil).WithComponent("mcp-server")
	}

	s := &Server{
		mcpServer:   server.NewMCPServer(config.Name, config.Version),
		gateway:     gw,
		name:        config.Name,
		version:     config.Version,
		rateLimiter: NewRateLimiter(config.CallsPerMinute),
		logger:      logger,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers every gateway tool with the MCP server.
func (s *Server) registerTools() {
	participantSchema := map[string]interface{}{
		"type":        "array",
		"description": "Conversation participants",
		"items": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"agent_id":  map[string]interface{}{"type": "string", "description": "Unique agent identifier"},
				"role":      map[string]interface{}{"type": "string", "description": "Expertise or role of the agent"},
				"weight":    map[string]interface{}{"type": "number", "description": "Voting weight (default 1)"},
				"authority": map[string]interface{}{"type": "number", "description": "Authority level for expert resolution"},
			},
			"required": []string{"agent_id"},
		},
	}

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "meshgate_initiate_conversation",
		Description: "Create a multi-agent conversation, connect its participants, and return the conversation id with a connectivity summary. Participants that fail validation are reported individually; the rest proceed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"task_id":      map[string]interface{}{"type": "string", "description": "Task the conversation coordinates"},
				"initiator":    map[string]interface{}{"type": "string", "description": "Agent initiating the conversation"},
				"participants": participantSchema,
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Coordination pattern",
					"enum":        []string{"round-robin", "hierarchical", "collaborative", "consensus-driven", "leader-follower"},
				},
			},
			Required: []string{"task_id", "initiator", "participants"},
		},
	}, s.handleInitiate)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "meshgate_route_message",
		Description: "Route a message within a conversation: it is validated, recorded in history, dispatched to recipients, and routing rules are applied in priority order.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{"type": "string", "description": "Target conversation"},
				"sender":          map[string]interface{}{"type": "string", "description": "Sending agent"},
				"recipients": map[string]interface{}{
					"type":        "array",
					"description": "Recipient agent ids",
					"items":       map[string]interface{}{"type": "string"},
				},
				"type": map[string]interface{}{
					"type":        "string",
					"description": "Message type",
					"enum":        []string{"task-assignment", "status-update", "question", "response", "coordination", "completion"},
				},
				"urgency": map[string]interface{}{
					"type":        "string",
					"description": "Urgency level (default medium); high and critical escalate to all participants",
					"enum":        []string{"low", "medium", "high", "critical"},
				},
				"payload":           map[string]interface{}{"type": "object", "description": "Typed message payload (task, status, text, data)"},
				"requires_response": map[string]interface{}{"type": "boolean", "description": "Schedule a response reminder"},
			},
			Required: []string{"conversation_id", "sender", "type"},
		},
	}, s.handleRouteMessage)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "meshgate_conversation_status",
		Description: "Return the lifecycle state, participants and message history summary of a conversation.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{"type": "string", "description": "Conversation to inspect"},
			},
			Required: []string{"conversation_id"},
		},
	}, s.handleStatus)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "meshgate_update_context",
		Description: "Write a shared context key with optimistic versioning. Concurrent modifications are detected and reported as conflicts rather than silently overwritten.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{"type": "string", "description": "Target conversation"},
				"key":             map[string]interface{}{"type": "string", "description": "Context key"},
				"value":           map[string]interface{}{"description": "New value (any JSON value)"},
				"writer":          map[string]interface{}{"type": "string", "description": "Agent performing the write"},
				"merge_strategy": map[string]interface{}{
					"type":        "string",
					"description": "How the value combines with the existing one (default replace)",
					"enum":        []string{"replace", "merge", "append"},
				},
				"expected_version": map[string]interface{}{"type": "integer", "description": "Version the writer last read (0 for a fresh key)"},
			},
			Required: []string{"conversation_id", "key", "writer"},
		},
	}, s.handleUpdateContext)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "meshgate_snapshot_context",
		Description: "Capture the conversation's full context map with a checksum, appending it to the append-only snapshot chain.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{"type": "string", "description": "Target conversation"},
				"description":     map[string]interface{}{"type": "string", "description": "Snapshot description"},
				"creator":         map[string]interface{}{"type": "string", "description": "Agent creating the snapshot"},
			},
			Required: []string{"conversation_id", "creator"},
		},
	}, s.handleSnapshot)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "meshgate_rollback_context",
		Description: "Restore the conversation's context to a prior snapshot after verifying its checksum. The rollback is recorded as a new operation; history is never rewritten.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{"type": "string", "description": "Target conversation"},
				"snapshot_id":     map[string]interface{}{"type": "string", "description": "Snapshot to restore"},
			},
			Required: []string{"conversation_id", "snapshot_id"},
		},
	}, s.handleRollback)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "meshgate_resolve_conflict",
		Description: "Resolve a conflict with a named strategy (majority-vote, weighted-vote, expert-authority, consensus-building, collaborative-negotiation, evidence-based-resolution, automated-compromise, escalation-hierarchy). Voting strategies are quorum-gated; critical conflicts always escalate to manual resolution.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{"type": "string", "description": "Conversation the conflict belongs to"},
				"conflict_type": map[string]interface{}{
					"type":        "string",
					"description": "Conflict classification (default concurrent-modification)",
					"enum":        []string{"concurrent-modification", "version-mismatch", "data-corruption", "deadlock"},
				},
				"severity": map[string]interface{}{
					"type":        "string",
					"description": "Conflict severity (default medium)",
					"enum":        []string{"low", "medium", "high", "critical"},
				},
				"strategy":       map[string]interface{}{"type": "string", "description": "Resolution strategy name"},
				"total_eligible": map[string]interface{}{"type": "integer", "description": "Participants entitled to vote (quorum gate)"},
				"votes": map[string]interface{}{
					"type":        "array",
					"description": "Votes for voting strategies",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"voter":  map[string]interface{}{"type": "string"},
							"option": map[string]interface{}{"type": "string"},
							"weight": map[string]interface{}{"type": "number"},
						},
						"required": []string{"voter", "option"},
					},
				},
				"positions": map[string]interface{}{
					"type":        "array",
					"description": "Positions for consensus, expert, evidence and compromise strategies",
					"items":       map[string]interface{}{"type": "object"},
				},
				"budget_ms": map[string]interface{}{"type": "integer", "description": "Wall-clock budget in milliseconds; on expiry a fallback decision is returned"},
			},
			Required: []string{"strategy"},
		},
	}, s.handleResolveConflict)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "meshgate_event_statistics",
		Description: "Return aggregate gateway statistics: conversations by state, messages by type and urgency, participant counts.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleStatistics)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "meshgate_health",
		Description: "Check gateway health. Returns server name, version and store reachability.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleHealth)
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting meshgate MCP server", "version", s.version)
	s.gateway.Start()
	defer s.gateway.Stop()
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// errorResponse creates a structured tool error result.
func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// jsonResponse serializes v as the tool result text content.
func jsonResponse(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("failed to serialize result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
	}
}
