package toolregistry

import (
	"encoding/json"
	"testing"
)

func echoInvoker(args map[string]any, _ InvocationContext) StructuredResult {
	return Ok(map[string]any{"echo": args["text"]})
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := New(nil)
	def := ToolDefinition{Name: "echo", Invoker: echoInvoker}
	if err := r.Register(def); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("second register should not error: %v", err)
	}
	if _, ok := r.Get("echo"); !ok {
		t.Fatal("tool should still be present")
	}
}

func TestResolveForCascade(t *testing.T) {
	r := New(nil)
	for _, name := range []string{"read", "write", "exec", "websearch"} {
		if err := r.Register(ToolDefinition{Name: name, Tags: []string{"fs"}, Invoker: echoInvoker}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if err := r.Register(ToolDefinition{Name: "websearch2", Tags: []string{"web"}, Invoker: echoInvoker}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterSet(ToolSet{Name: "fs-set", Tools: []string{"read", "write"}}); err != nil {
		t.Fatalf("register set: %v", err)
	}

	defs, err := r.ResolveFor(Selectors{
		Sets: []string{"fs-set"},
		Deny: []string{"write"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "read" {
		t.Fatalf("expected only read, got %+v", defs)
	}
}

func TestResolveForAllowIntersection(t *testing.T) {
	r := New(nil)
	for _, name := range []string{"a", "b", "c"} {
		if err := r.Register(ToolDefinition{Name: name, Tags: []string{"t"}, Invoker: echoInvoker}); err != nil {
			t.Fatal(err)
		}
	}
	defs, err := r.ResolveFor(Selectors{Tags: []string{"t"}, Allow: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
	}
	if len(names) != 2 || !names["a"] || !names["b"] {
		t.Fatalf("unexpected resolved set: %+v", names)
	}
}

func TestRegisterSetCycleDetected(t *testing.T) {
	r := New(nil)
	if err := r.RegisterSet(ToolSet{Name: "x", Includes: []string{"y"}}); err != nil {
		t.Fatalf("register x: %v", err)
	}
	if err := r.RegisterSet(ToolSet{Name: "y", Includes: []string{"x"}}); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestInvokeSchemaFailure(t *testing.T) {
	r := New(nil)
	schema := json.RawMessage(`{"type":"object","required":["text"],"properties":{"text":{"type":"string"}}}`)
	if err := r.Register(ToolDefinition{Name: "echo", ParametersSchema: schema, Invoker: echoInvoker}); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Invoke("echo", map[string]any{}, InvocationContext{})
	if res.Succeeded() {
		t.Fatal("expected schema failure")
	}
	errMsg, _ := res["error"].(string)
	if errMsg == "" {
		t.Fatal("expected error field to be populated")
	}
}

func TestInvokeNotFound(t *testing.T) {
	r := New(nil)
	res := r.Invoke("missing", nil, InvocationContext{})
	if res.Succeeded() {
		t.Fatal("expected failure for unknown tool")
	}
}

func TestInvokeRecoversPanic(t *testing.T) {
	r := New(nil)
	if err := r.Register(ToolDefinition{Name: "boom", Invoker: func(map[string]any, InvocationContext) StructuredResult {
		panic("kaboom")
	}}); err != nil {
		t.Fatal(err)
	}
	res := r.Invoke("boom", map[string]any{}, InvocationContext{})
	if res.Succeeded() {
		t.Fatal("expected panic to be converted to failure")
	}
}

func TestDefinitionsForShape(t *testing.T) {
	r := New(nil)
	if err := r.Register(ToolDefinition{Name: "echo", Description: "echoes", Invoker: echoInvoker}); err != nil {
		t.Fatal(err)
	}
	defs, _ := r.ResolveFor(Selectors{Allow: []string{"echo"}})
	schemas := r.DefinitionsFor(defs)
	if len(schemas) != 1 {
		t.Fatalf("expected 1 schema, got %d", len(schemas))
	}
	if schemas[0].Type != "function" || schemas[0].Function.Name != "echo" {
		t.Fatalf("unexpected schema shape: %+v", schemas[0])
	}
}
