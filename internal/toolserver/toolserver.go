// Package toolserver exposes the buffered tool-call surface over the Model
// Context Protocol's streamable HTTP transport: one tool, run_network_tool,
// backed by the shared Executor. Grounded on original_source/mcp-run's
// src/mcp.rs (NetworkMcpServer / build_app) for the tool shape and on
// mark3labs/mcp-go as the pack's one real MCP SDK usage.
package toolserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/runbroker/sandboxd/internal/executor"
)

const (
	implName        = "sandboxd"
	implVersion     = "0.1.0"
	toolName        = "run_network_tool"
	toolDescription = "Execute a policy-allowlisted command without shell wrapping."
)

// Server wraps an *server.MCPServer configured with the single
// run_network_tool and exposes it as a plain http.Handler mountable at
// POST /mcp alongside the raw endpoint.
type Server struct {
	mcpServer *server.MCPServer
	handler   http.Handler
}

func New(exec *executor.Executor) *Server {
	mcpServer := server.NewMCPServer(
		implName,
		implVersion,
		server.WithToolCapabilities(false),
		server.WithInstructions("Use run_network_tool with executable/args/cwd/env. Requests are validated against POLICY_DIR (Rego)."),
	)

	h := &toolHandlers{executor: exec}

	tool := mcp.NewTool(
		toolName,
		mcp.WithDescription(toolDescription),
		mcp.WithString("executable", mcp.Required(), mcp.Description("Executable token to resolve and run; literal path or a PATH-searched name.")),
		mcp.WithArray("args", mcp.Description("Arguments passed to the executable literally, no shell expansion.")),
		mcp.WithString("cwd", mcp.Description("Optional working directory for the child process.")),
		mcp.WithObject("env", mcp.Description("Optional environment overrides merged over the broker's own HOME/LANG.")),
	)

	mcpServer.AddTool(tool, h.runNetworkTool)

	streamable := server.NewStreamableHTTPServer(mcpServer)

	return &Server{mcpServer: mcpServer, handler: streamable}
}

// Handler returns the http.Handler to mount at POST /mcp.
func (s *Server) Handler() http.Handler {
	return s.handler
}

type toolHandlers struct {
	executor *executor.Executor
}

// runNetworkTool decodes the tool call arguments into an executor.Request,
// invokes the Executor in buffered mode, and returns the response as a
// structured text result. On validation or executor failure it returns an
// MCP-protocol error result rather than a transport error, so a bad
// request never tears down the session (spec §4.3).
func (h *toolHandlers) runNetworkTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID := uuid.NewString()

	raw, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}

	var req executor.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	if req.Executable == "" {
		return mcp.NewToolResultError("executable is required"), nil
	}

	resp, err := h.executor.Run(ctx, req)
	if err != nil {
		log.Warn().Str("request_id", requestID).Str("command", req.Executable).Err(err).Msg("tool call denied or failed")
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return mcp.NewToolResultError("failed encoding response: " + err.Error()), nil
	}

	return mcp.NewToolResultText(string(payload)), nil
}
