package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/webplatform/sandboxd/config"
	"github.com/webplatform/sandboxd/engine"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	engine    *engine.Engine
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, eng *engine.Engine) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		engine: eng,
	}

	s.mcpServer = server.NewMCPServer("sandboxd", "Asynchronous sandboxed script execution")

	s.registerExecuteCodeTool()
	s.registerGetResultTool()
	s.registerCleanupSessionTool()

	return s, nil
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Submit a Python script for execution in an isolated sandbox; returns a session id to poll",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code to execute",
				},
				"filename": map[string]any{
					"type":        "string",
					"description": "Original filename of the script (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// registerGetResultTool registers the get_result tool
func (s *MCPServer) registerGetResultTool() {
	tool := mcp.Tool{
		Name:        "get_result",
		Description: "Poll a session for its execution result without blocking",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session id returned by execute_code",
				},
			},
			Required: []string{"session_id"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleGetResult)
}

// registerCleanupSessionTool registers the cleanup_session tool
func (s *MCPServer) registerCleanupSessionTool() {
	tool := mcp.Tool{
		Name:        "cleanup_session",
		Description: "Stop and remove a session's sandbox",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session id to clean up",
				},
			},
			Required: []string{"session_id"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleCleanupSession)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	filename := request.GetString("filename", "main.py")

	s.logger.Info("code execution requested", zap.String("filename", filename))

	id, err := s.engine.Submit(ctx, []byte(code), filename)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			return errorResult("No code provided"), nil
		}
		s.logger.Error("submit failed", zap.Error(err))
		return errorResult(fmt.Sprintf("Provisioning failed: %v", err)), nil
	}

	return textResult(fmt.Sprintf(`{"session_id":%q}`, id)), nil
}

// handleGetResult handles the get_result tool
func (s *MCPServer) handleGetResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return nil, fmt.Errorf("session_id parameter is required: %w", err)
	}

	res, err := s.engine.Poll(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return errorResult("Session not found"), nil
		}
		s.logger.Error("poll failed", zap.String("session_id", id), zap.Error(err))
		return errorResult(fmt.Sprintf("Retrieval failed: %v", err)), nil
	}

	switch res.Outcome {
	case engine.OutcomeRunning:
		return textResult(`{"status":"still running"}`), nil
	case engine.OutcomeFailed:
		return textResult(fmt.Sprintf(`{"status":"failed","error":%q,"logs":%q}`, res.Reason, string(res.Logs))), nil
	default:
		return textResult(fmt.Sprintf(`{"logs":%q}`, string(res.Logs))), nil
	}
}

// handleCleanupSession handles the cleanup_session tool
func (s *MCPServer) handleCleanupSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return nil, fmt.Errorf("session_id parameter is required: %w", err)
	}

	if err := s.engine.Cleanup(ctx, id); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return errorResult("Session not found"), nil
		}
		s.logger.Error("cleanup failed", zap.String("session_id", id), zap.Error(err))
		return errorResult(fmt.Sprintf("Cleanup failed: %v", err)), nil
	}

	return textResult(`{"status":"cleaned up"}`), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	result := textResult(text)
	result.IsError = true
	return result
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.MCPHTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
