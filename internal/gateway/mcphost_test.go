package gateway

import (
	"encoding/json"
	"testing"

	"github.com/orcaforge/orcaforge/internal/mcp"
	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

func buildTestToolRegistry(t *testing.T) *toolregistry.Registry {
	t.Helper()
	reg := toolregistry.New(testLogger())
	err := reg.Register(toolregistry.ToolDefinition{
		Name:        "echo",
		Description: "echoes its input",
		Invoker: func(args map[string]any, ictx toolregistry.InvocationContext) toolregistry.StructuredResult {
			return toolregistry.Ok(map[string]any{"echoed": args["text"]})
		},
	})
	if err != nil {
		t.Fatalf("register echo tool: %v", err)
	}
	return reg
}

func TestRegistryToolSourceGetAndInvoke(t *testing.T) {
	reg := buildTestToolRegistry(t)
	source := &registryToolSource{registry: reg, sessionID: "s1"}

	def, ok := source.Get("echo")
	if !ok || def.Name != "echo" {
		t.Fatalf("expected to find echo tool, got %+v, %v", def, ok)
	}

	fields, ok := source.Invoke("echo", map[string]any{"text": "hi"})
	if !ok {
		t.Fatalf("expected invoke to succeed, got %+v", fields)
	}
	if fields["echoed"] != "hi" {
		t.Errorf("expected echoed hi, got %+v", fields)
	}

	if _, ok := source.Get("missing"); ok {
		t.Error("expected missing tool to be absent")
	}
}

func TestHostedMCPWebsocketLifecycle(t *testing.T) {
	reg := buildTestToolRegistry(t)
	source := &registryToolSource{registry: reg, sessionID: "s1"}
	host := mcp.NewToolHost(source, []string{"echo"}, "/workspace")
	hosted := newHostedMCP(host, "websocket", 0, "/workspace", testLogger())

	if err := hosted.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	status := hosted.Status()
	if status["running"] != true {
		t.Errorf("expected running true, got %+v", status)
	}
	if err := hosted.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if hosted.Status()["running"] != false {
		t.Error("expected running false after stop")
	}
}

func TestHostedMCPRejectsStdio(t *testing.T) {
	reg := buildTestToolRegistry(t)
	source := &registryToolSource{registry: reg, sessionID: "s1"}
	host := mcp.NewToolHost(source, []string{"echo"}, "/workspace")
	hosted := newHostedMCP(host, "stdio", 0, "/workspace", testLogger())

	if err := hosted.Start(); err == nil {
		t.Fatal("expected stdio transport to be rejected")
	}
}

func TestHostedMCPRejectsUnknownTransport(t *testing.T) {
	reg := buildTestToolRegistry(t)
	source := &registryToolSource{registry: reg, sessionID: "s1"}
	host := mcp.NewToolHost(source, []string{"echo"}, "/workspace")
	hosted := newHostedMCP(host, "carrier-pigeon", 0, "/workspace", testLogger())

	if err := hosted.Start(); err == nil {
		t.Fatal("expected unknown transport to be rejected")
	}
}

func TestHandleMCPStartAndStop(t *testing.T) {
	c, _ := newTestConn(t)
	c.srv.toolReg = buildTestToolRegistry(t)
	c.mu.Lock()
	c.sessionID = "s1"
	c.mu.Unlock()

	params, _ := json.Marshal(mcpStartParams{Transport: "websocket", Port: 0, ExposedTools: []string{"echo"}, Workspace: "/workspace"})
	result, rpcErr := c.handle(Request{Method: MethodMCPStart, Params: params})
	if rpcErr != nil {
		t.Fatalf("unexpected error: %+v", rpcErr)
	}
	status := result.(map[string]any)
	if status["running"] != true {
		t.Fatalf("expected a running host, got %+v", status)
	}

	// Starting again while one is already running is rejected.
	_, rpcErr = c.handle(Request{Method: MethodMCPStart, Params: params})
	if rpcErr == nil {
		t.Fatal("expected starting a second host on the same connection to fail")
	}

	stopResult, rpcErr := c.handle(Request{Method: MethodMCPStop, Params: nil})
	if rpcErr != nil {
		t.Fatalf("unexpected stop error: %+v", rpcErr)
	}
	if stopResult.(map[string]any)["ok"] != true {
		t.Errorf("expected ok stop result, got %+v", stopResult)
	}

	statusResult, rpcErr := c.handle(Request{Method: MethodMCPStatus, Params: nil})
	if rpcErr != nil {
		t.Fatalf("unexpected status error: %+v", rpcErr)
	}
	if statusResult.(map[string]any)["running"] != false {
		t.Errorf("expected running false after stop, got %+v", statusResult)
	}
}
