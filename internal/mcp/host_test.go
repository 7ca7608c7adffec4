package mcp

import (
	"encoding/json"
	"testing"
)

type fakeToolSource struct {
	defs map[string]ToolSourceDef
}

func (f *fakeToolSource) Get(name string) (ToolSourceDef, bool) {
	d, ok := f.defs[name]
	return d, ok
}

func (f *fakeToolSource) Invoke(name string, args map[string]any) (map[string]any, bool) {
	if name == "boom" {
		return map[string]any{"error": "failed"}, false
	}
	return map[string]any{"message": "ran " + name}, true
}

func TestToolHostListOnlyExposesWhitelist(t *testing.T) {
	source := &fakeToolSource{defs: map[string]ToolSourceDef{
		"alpha": {Name: "alpha", Description: "a tool"},
		"beta":  {Name: "beta"},
	}}
	host := NewToolHost(source, []string{"alpha"}, "/workspace")

	resp := host.HandleRequest(JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "tools/list"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "alpha" {
		t.Errorf("expected only alpha exposed, got %+v", result.Tools)
	}
}

func TestToolHostCallRejectsUnexposedTool(t *testing.T) {
	source := &fakeToolSource{defs: map[string]ToolSourceDef{"alpha": {Name: "alpha"}}}
	host := NewToolHost(source, []string{"alpha"}, "")

	params, _ := json.Marshal(CallToolParams{Name: "beta"})
	resp := host.HandleRequest(JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "tools/call", Params: params})
	if resp.Error == nil {
		t.Fatal("expected an error for an unexposed tool")
	}
}

func TestToolHostCallSuccess(t *testing.T) {
	source := &fakeToolSource{defs: map[string]ToolSourceDef{"alpha": {Name: "alpha"}}}
	host := NewToolHost(source, []string{"alpha"}, "")

	params, _ := json.Marshal(CallToolParams{Name: "alpha", Arguments: json.RawMessage(`{"x":1}`)})
	resp := host.HandleRequest(JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "tools/call", Params: params})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.IsError || len(result.Content) != 1 || result.Content[0].Text != "ran alpha" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestToolHostCallFailure(t *testing.T) {
	source := &fakeToolSource{defs: map[string]ToolSourceDef{"boom": {Name: "boom"}}}
	host := NewToolHost(source, []string{"boom"}, "")

	params, _ := json.Marshal(CallToolParams{Name: "boom"})
	resp := host.HandleRequest(JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "tools/call", Params: params})
	var result ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !result.IsError {
		t.Error("expected isError true for a failing tool")
	}
}

func TestToolHostInitializeReportsProtocolVersion(t *testing.T) {
	host := NewToolHost(&fakeToolSource{defs: map[string]ToolSourceDef{}}, nil, "")
	resp := host.HandleRequest(JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "initialize"})
	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("expected protocol version %q, got %q", protocolVersion, result.ProtocolVersion)
	}
}
