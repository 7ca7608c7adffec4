package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/orcaforge/orcaforge/internal/telemetry"
	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

const protocolVersion = "2024-11-05"

// MCPClient owns one Transport, performs the initialize handshake, caches
// tools/list, and exposes each tool as a toolregistry.ToolDefinition whose
// Invoker round-trips through tools/call (spec §4.6).
type MCPClient struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	tools      []*MCPTool
	serverInfo ServerInfo
}

// NewMCPClient constructs a client around the transport named by
// cfg.Transport; Connect performs the handshake.
func NewMCPClient(cfg *ServerConfig) *MCPClient {
	return &MCPClient{
		config:    cfg,
		transport: NewTransport(cfg),
		logger:    slog.Default().With("mcp_server", cfg.ID),
	}
}

// Connect runs the initialize handshake (tools-only capability, per this
// module's scope), sends the initialized notification, and refreshes the
// cached tool list.
func (c *MCPClient) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("mcp: connect: %w", err)
	}

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    Capabilities{Tools: &ToolsCapability{}},
		"clientInfo":      ClientInfo{Name: "orcaforge", Version: "1"},
	}
	raw, err := c.transport.Call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("mcp: initialize: %w", err)
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("mcp: parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()
	c.logger.Info("MCP handshake complete", "server_name", result.ServerInfo.Name, "server_version", result.ServerInfo.Version)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	return c.RefreshTools(ctx)
}

func (c *MCPClient) Close() error {
	return c.transport.Close()
}

func (c *MCPClient) Connected() bool {
	return c.transport.Connected()
}

// Call forwards an arbitrary JSON-RPC method to the underlying transport,
// used by the persistent proxy to pass through requests it doesn't cache.
func (c *MCPClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.transport.Call(ctx, method, params)
}

func (c *MCPClient) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// RefreshTools re-fetches tools/list and replaces the cached tool set.
// Called by Connect and by ConnectionPool.HealthCheckAll; tools/list_changed
// notifications are not acted on.
func (c *MCPClient) RefreshTools(ctx context.Context) error {
	raw, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("mcp: tools/list: %w", err)
	}
	var result ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("mcp: parse tools/list: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()
	return nil
}

// Tools returns the cached tool list.
func (c *MCPClient) Tools() []*MCPTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*MCPTool, len(c.tools))
	copy(out, c.tools)
	return out
}

// ToolDefinitions adapts every cached tool into a toolregistry.ToolDefinition
// named mcp_<server>_<tool>, per spec.md's naming convention for imported
// tools.
func (c *MCPClient) ToolDefinitions() []toolregistry.ToolDefinition {
	c.mu.RLock()
	tools := make([]*MCPTool, len(c.tools))
	copy(tools, c.tools)
	c.mu.RUnlock()

	defs := make([]toolregistry.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, c.adapt(tool))
	}
	return defs
}

func (c *MCPClient) adapt(tool *MCPTool) toolregistry.ToolDefinition {
	name := fmt.Sprintf("mcp_%s_%s", c.config.ID, tool.Name)
	schema := tool.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	return toolregistry.ToolDefinition{
		Name:             name,
		Description:      tool.Description,
		ParametersSchema: schema,
		Tags:             []string{"mcp", c.config.ID},
		Category:         "mcp",
		Invoker: func(args map[string]any, ictx toolregistry.InvocationContext) toolregistry.StructuredResult {
			return c.invoke(ictx.Context, tool.Name, args)
		},
	}
}

func (c *MCPClient) invoke(ctx context.Context, toolName string, args map[string]any) toolregistry.StructuredResult {
	ctx, span := telemetry.StartSpan(ctx, "mcp.tools_call",
		telemetry.Attr("mcp.server", c.config.ID), telemetry.Attr("mcp.tool", toolName))

	result, err := c.doInvoke(ctx, toolName, args)
	telemetry.End(span, err)
	if err != nil {
		return toolregistry.Fail(err.Error(), nil)
	}
	return result
}

func (c *MCPClient) doInvoke(ctx context.Context, toolName string, args map[string]any) (toolregistry.StructuredResult, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}

	raw, err := c.transport.Call(ctx, "tools/call", CallToolParams{Name: toolName, Arguments: argsJSON})
	if err != nil {
		return nil, err
	}

	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tool result: %w", err)
	}

	text := extractText(result.Content)
	if result.IsError {
		return nil, fmt.Errorf("%s", text)
	}

	// Prefer a JSON-structured payload when the server returned one; fall
	// back to the raw text otherwise.
	var structured map[string]any
	if json.Unmarshal([]byte(text), &structured) == nil && structured != nil {
		return toolregistry.Ok(structured), nil
	}
	return toolregistry.OkMessage(text), nil
}

func extractText(content []ToolResultContent) string {
	for _, item := range content {
		if item.Type == "text" && item.Text != "" {
			return item.Text
		}
	}
	if len(content) > 0 {
		return content[0].Text
	}
	return ""
}
