package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxRetries = 3
)

// ReconnectingClient wraps an MCPClient and retries a failed CallTool with
// exponential backoff (base 1s, doubling, capped at 3 retries), reconnecting
// the underlying transport between attempts (spec §4.6).
type ReconnectingClient struct {
	config *ServerConfig
	client *MCPClient
	logger *slog.Logger

	// baseDelay seeds the backoff; overridden in tests to avoid real sleeps.
	baseDelay time.Duration
}

func NewReconnectingClient(cfg *ServerConfig) *ReconnectingClient {
	return &ReconnectingClient{
		config:    cfg,
		client:    NewMCPClient(cfg),
		logger:    slog.Default().With("mcp_server", cfg.ID, "component", "mcp_reconnect"),
		baseDelay: reconnectBaseDelay,
	}
}

func (r *ReconnectingClient) Connect(ctx context.Context) error {
	return r.client.Connect(ctx)
}

func (r *ReconnectingClient) Close() error {
	return r.client.Close()
}

func (r *ReconnectingClient) Tools() []*MCPTool {
	return r.client.Tools()
}

// ToolDefinitions adapts the cached tools the same way MCPClient does, but
// each Invoker retries through CallTool's backoff loop instead of calling
// the transport directly.
func (r *ReconnectingClient) ToolDefinitions() []toolregistry.ToolDefinition {
	tools := r.client.Tools()
	defs := make([]toolregistry.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		t := tool
		name := fmt.Sprintf("mcp_%s_%s", r.config.ID, t.Name)
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		defs = append(defs, toolregistry.ToolDefinition{
			Name:             name,
			Description:      t.Description,
			ParametersSchema: schema,
			Tags:             []string{"mcp", r.config.ID},
			Category:         "mcp",
			Invoker: func(args map[string]any, ictx toolregistry.InvocationContext) toolregistry.StructuredResult {
				return r.CallTool(ictx.Context, t.Name, args)
			},
		})
	}
	return defs
}

// CallTool invokes a tool through the underlying client, retrying on
// failure with exponential backoff and reconnecting the transport before
// each retry.
func (r *ReconnectingClient) CallTool(ctx context.Context, toolName string, args map[string]any) toolregistry.StructuredResult {
	delay := r.baseDelay
	if delay <= 0 {
		delay = reconnectBaseDelay
	}
	var result toolregistry.StructuredResult

	for attempt := 0; attempt <= reconnectMaxRetries; attempt++ {
		result = r.client.invoke(ctx, toolName, args)
		if result.Succeeded() {
			return result
		}
		if attempt == reconnectMaxRetries {
			break
		}

		r.logger.Warn("tool call failed, retrying", "tool", toolName, "attempt", attempt+1, "delay", delay.String())
		select {
		case <-ctx.Done():
			return toolregistry.Fail(ctx.Err().Error(), nil)
		case <-time.After(delay):
		}

		if !r.client.Connected() {
			r.client.Close()
			r.client = NewMCPClient(r.config)
			if err := r.client.Connect(ctx); err != nil {
				r.logger.Warn("reconnect failed", "error", err)
				delay *= 2
				continue
			}
		}
		delay *= 2
	}
	return result
}
