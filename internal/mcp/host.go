package mcp

import (
	"encoding/json"
	"fmt"
)

// ToolSource is the subset of toolregistry.Registry a ToolHost exposes.
// Declared here (rather than imported) so this package stays independent of
// toolregistry's selector/schema machinery; toolregistry.Registry does not
// match it directly, so internal/gateway wraps it in an adapter.
type ToolSource interface {
	Get(name string) (ToolSourceDef, bool)
	Invoke(name string, args map[string]any) (map[string]any, bool)
}

// ToolSourceDef is the minimal shape a hosted tool definition needs.
type ToolSourceDef struct {
	Name             string
	Description      string
	ParametersSchema json.RawMessage
}

// ToolHost answers the MCP protocol methods (initialize, tools/list,
// tools/call) for a whitelisted subset of a ToolSource's tools, letting a
// session expose some of its own tools to an external MCP client (spec §6's
// `mcp.start`). It is transport-agnostic: callers decode frames off
// whatever wire (websocket, SSE, stdio) and hand the request to
// HandleRequest.
type ToolHost struct {
	source    ToolSource
	exposed   map[string]bool
	workspace string
}

// NewToolHost builds a host exposing exactly the named tools (an empty list
// exposes none; a missing name is simply never listed).
func NewToolHost(source ToolSource, exposedTools []string, workspace string) *ToolHost {
	exposed := make(map[string]bool, len(exposedTools))
	for _, name := range exposedTools {
		exposed[name] = true
	}
	return &ToolHost{source: source, exposed: exposed, workspace: workspace}
}

// ExposedNames returns the whitelisted tool names, in the order given to
// NewToolHost is not preserved (callers needing order should keep their own
// copy); this is for status reporting.
func (h *ToolHost) ExposedNames() []string {
	names := make([]string, 0, len(h.exposed))
	for name := range h.exposed {
		names = append(names, name)
	}
	return names
}

// HandleRequest answers one JSON-RPC request against the exposed tool set.
func (h *ToolHost) HandleRequest(req JSONRPCRequest) JSONRPCResponse {
	switch req.Method {
	case "initialize":
		result, _ := json.Marshal(InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "orcaforge-host", Version: "1"},
			Capabilities:    Capabilities{Tools: &ToolsCapability{}},
		})
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
	case "tools/list":
		return h.handleList(req)
	case "tools/call":
		return h.handleCall(req)
	default:
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{
			Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method),
		}}
	}
}

func (h *ToolHost) handleList(req JSONRPCRequest) JSONRPCResponse {
	var tools []*MCPTool
	for name := range h.exposed {
		def, ok := h.source.Get(name)
		if !ok {
			continue
		}
		tools = append(tools, &MCPTool{Name: def.Name, Description: def.Description, InputSchema: def.ParametersSchema})
	}
	result, _ := json.Marshal(ListToolsResult{Tools: tools})
	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (h *ToolHost) handleCall(req JSONRPCRequest) JSONRPCResponse {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{
			Code: ErrCodeInvalidParams, Message: err.Error(),
		}}
	}
	if !h.exposed[params.Name] {
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{
			Code: ErrCodeInvalidParams, Message: fmt.Sprintf("tool %q is not exposed", params.Name),
		}}
	}

	var args map[string]any
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{
				Code: ErrCodeInvalidParams, Message: err.Error(),
			}}
		}
	}

	fields, ok := h.source.Invoke(params.Name, args)
	text := ""
	if msg, isMsg := fields["message"].(string); isMsg {
		text = msg
	} else if b, err := json.Marshal(fields); err == nil {
		text = string(b)
	}
	result, _ := json.Marshal(ToolCallResult{
		Content: []ToolResultContent{{Type: "text", Text: text}},
		IsError: !ok,
	})
	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}
