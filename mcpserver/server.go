package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/warmbox/config"
	"github.com/isdmx/warmbox/dispatcher"
	"github.com/isdmx/warmbox/pool"
)

// Executor runs a single invocation
type Executor interface {
	Execute(ctx context.Context, req dispatcher.Request) dispatcher.Result
}

// PoolInspector reports pool occupancy
type PoolInspector interface {
	Runtimes() []string
	Stats() []pool.Stats
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	executor   Executor
	pools      PoolInspector
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor Executor, pools PoolInspector) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
		pools:    pools,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("sandbox.backend", s.config.Sandbox.Backend),
		zap.Int("sandbox.memory_mb", s.config.Sandbox.MemoryMB),
		zap.Bool("sandbox.network_enabled", s.config.Sandbox.NetworkEnabled),
		zap.Int("pool.size", s.config.Pool.Size),
		zap.Duration("pool.acquire_wait", s.config.Pool.AcquireWait),
		zap.Duration("execution.default_timeout", s.config.Execution.DefaultTimeout),
		zap.Duration("execution.max_timeout", s.config.Execution.MaxTimeout),
		zap.Strings("runtimes", pools.Runtimes()),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("warmbox", "Warm-container function execution engine")

	s.registerExecuteFunctionTool()
	s.registerPoolStatsTool()

	if s.config.Server.Transport == "http" {
		s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	}

	return s, nil
}

// registerExecuteFunctionTool registers the execute_function tool
func (s *MCPServer) registerExecuteFunctionTool() {
	tool := mcp.Tool{
		Name:        "execute_function",
		Description: "Run function code once in a warm container of the given runtime",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Function source code",
				},
				"runtime": map[string]any{
					"type":        "string",
					"description": "Language runtime",
					"enum":        s.pools.Runtimes(),
				},
				"timeout_ms": map[string]any{
					"type":        "integer",
					"description": "Execution time limit in milliseconds (optional)",
				},
			},
			Required: []string{"code", "runtime"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteFunction)
}

// registerPoolStatsTool registers the pool_stats tool
func (s *MCPServer) registerPoolStatsTool() {
	tool := mcp.Tool{
		Name:        "pool_stats",
		Description: "Report warm container occupancy per runtime",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handlePoolStats)
}

// handleExecuteFunction handles the execute_function tool
func (s *MCPServer) handleExecuteFunction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	runtime, err := request.RequireString("runtime")
	if err != nil {
		return nil, fmt.Errorf("runtime parameter is required: %w", err)
	}

	timeoutMS := request.GetInt("timeout_ms", 0)
	if timeoutMS < 0 {
		return nil, fmt.Errorf("timeout_ms must not be negative, got: %d", timeoutMS)
	}

	s.logger.Info("function execution requested",
		zap.String("runtime", runtime),
		zap.Int("code_len", len(code)),
		zap.Int("timeout_ms", timeoutMS))

	result := s.executor.Execute(ctx, dispatcher.Request{
		Code:    code,
		Runtime: runtime,
		Timeout: time.Duration(timeoutMS) * time.Millisecond,
	})

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
		IsError: !result.Success(),
	}, nil
}

// handlePoolStats handles the pool_stats tool
func (s *MCPServer) handlePoolStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	statsJSON, err := json.Marshal(s.pools.Stats())
	if err != nil {
		return nil, fmt.Errorf("failed to encode pool stats: %w", err)
	}

	return mcp.NewToolResultText(string(statsJSON)), nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	if s.httpServer == nil {
		return fmt.Errorf("http transport is not configured")
	}
	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it was started
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
