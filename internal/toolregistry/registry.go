package toolregistry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds registered tools and declarative sets, and resolves
// per-agent selectors into concrete tool lists. It is process-wide,
// constructed once at startup (spec §3 lifecycles), and is stateless beyond
// the registered maps — safe for concurrent reads, exclusive on writes
// (spec §5).
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*ToolDefinition
	sets    map[string]*ToolSet
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]*ToolDefinition),
		sets:    make(map[string]*ToolSet),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger.With("component", "toolregistry"),
	}
}

// Register adds a tool to the registry. A duplicate name never replaces the
// existing definition silently: it logs a warning and is rejected (I5).
func (r *Registry) Register(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("toolregistry: tool name must not be empty")
	}
	if def.Invoker == nil {
		return fmt.Errorf("toolregistry: tool %q has no invoker", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		r.logger.Warn("duplicate tool registration rejected", "tool", def.Name)
		return nil
	}

	var compiled *jsonschema.Schema
	if len(def.ParametersSchema) > 0 {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(def.Name, bytes.NewReader(def.ParametersSchema)); err != nil {
			return fmt.Errorf("toolregistry: compile schema for %q: %w", def.Name, err)
		}
		schema, err := c.Compile(def.Name)
		if err != nil {
			return fmt.Errorf("toolregistry: compile schema for %q: %w", def.Name, err)
		}
		compiled = schema
	}

	copyDef := def
	r.tools[def.Name] = &copyDef
	r.schemas[def.Name] = compiled
	return nil
}

// Unregister removes a tool and its compiled schema. Nothing in this module
// calls it when an MCP server's tool list changes.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// errCyclicSet marks a set include chain that leads back to itself.
var errCyclicSet = errors.New("toolregistry: cyclic tool set reference")

// RegisterSet declares a named grouping of tools, sets, and tags. Includes
// may name sets registered later; ResolveFor reports any still unknown.
// Cycles among set includes are a fatal startup error, detected eagerly here
// rather than during resolution.
func (r *Registry) RegisterSet(set ToolSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sets[set.Name] = &set
	if _, err := r.expandSetLocked(set.Name, map[string]bool{}); errors.Is(err, errCyclicSet) {
		delete(r.sets, set.Name)
		return err
	}
	return nil
}

// expandSetLocked resolves a set's tools transitively. Caller holds r.mu.
func (r *Registry) expandSetLocked(name string, visiting map[string]bool) ([]string, error) {
	if visiting[name] {
		return nil, fmt.Errorf("%w at %q", errCyclicSet, name)
	}
	set, ok := r.sets[name]
	if !ok {
		return nil, fmt.Errorf("toolregistry: unknown tool set %q", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	seen := map[string]bool{}
	var out []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, t := range set.Tools {
		add(t)
	}
	for _, inc := range set.Includes {
		nested, err := r.expandSetLocked(inc, visiting)
		if err != nil {
			return nil, err
		}
		for _, n := range nested {
			add(n)
		}
	}
	for _, tool := range r.tools {
		for _, tag := range set.ExtendsTags {
			if containsStr(tool.Tags, tag) {
				add(tool.Name)
			}
		}
	}
	return out, nil
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ResolveFor implements the selector cascade from spec §4.1: union of
// sets/tags, intersected with allow (if non-empty), minus deny. Deny beats
// allow beats sets/tags.
func (r *Registry) ResolveFor(sel Selectors) ([]*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	union := map[string]bool{}
	for _, setName := range sel.Sets {
		names, err := r.expandSetLocked(setName, map[string]bool{})
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			union[n] = true
		}
	}
	for _, tool := range r.tools {
		for _, tag := range sel.Tags {
			if containsStr(tool.Tags, tag) {
				union[tool.Name] = true
			}
		}
	}

	if len(sel.Allow) > 0 {
		allowSet := map[string]bool{}
		for _, a := range sel.Allow {
			allowSet[a] = true
		}
		for name := range union {
			if !allowSet[name] {
				delete(union, name)
			}
		}
	}

	for _, d := range sel.Deny {
		delete(union, d)
	}

	out := make([]*ToolDefinition, 0, len(union))
	for name := range union {
		if t, ok := r.tools[name]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// DefinitionsFor emits the schemas for a resolved tool list in the shape an
// LLM backend expects for function calling (spec §6).
func (r *Registry) DefinitionsFor(defs []*ToolDefinition) []ModelToolSchema {
	out := make([]ModelToolSchema, 0, len(defs))
	for _, d := range defs {
		params := d.ParametersSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","additionalProperties":false}`)
		}
		out = append(out, ModelToolSchema{
			Type: "function",
			Function: ModelToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// Invoke validates args against the tool's parametersSchema, then calls the
// tool. Schema failures and panics inside the tool are both converted into
// a failed StructuredResult rather than propagating (spec §4.1, §7).
func (r *Registry) Invoke(name string, args map[string]any, ictx InvocationContext) (result StructuredResult) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return Fail("tool not found: "+name, nil)
	}

	if schema != nil {
		if err := schema.Validate(toAny(args)); err != nil {
			return Fail(fmt.Sprintf("schema: %v", err), nil)
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool invocation panicked", "tool", name, "panic", rec)
			result = Fail(fmt.Sprintf("internal: %v", rec), nil)
		}
	}()

	return tool.Invoker(args, ictx)
}

func toAny(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
