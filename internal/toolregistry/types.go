// Package toolregistry holds tool definitions and resolves tag/set/allow/deny
// selectors into the per-agent tool lists the runtime uses for a turn.
package toolregistry

import (
	"context"
	"encoding/json"
)

// StructuredResult is the map-shaped return value every tool produces. It
// MUST always contain either (success: true, ...) or (success: false,
// error: string, ...); formatted prose is never the primary payload.
type StructuredResult map[string]any

// Ok builds a successful StructuredResult, merging in any extra fields.
func Ok(fields map[string]any) StructuredResult {
	r := StructuredResult{"success": true}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// OkMessage builds a successful result carrying only a human-readable
// message, for tools whose output is free text (spec §6).
func OkMessage(message string) StructuredResult {
	return StructuredResult{"success": true, "message": message}
}

// Fail builds a failed StructuredResult with the given error and optional
// context fields.
func Fail(errMsg string, context map[string]any) StructuredResult {
	r := StructuredResult{"success": false, "error": errMsg}
	for k, v := range context {
		r[k] = v
	}
	return r
}

// Succeeded reports whether a StructuredResult represents success.
func (r StructuredResult) Succeeded() bool {
	v, _ := r["success"].(bool)
	return v
}

// InvocationContext carries the per-call metadata a tool invoker needs:
// the session and agent making the call, plus cancellation.
type InvocationContext struct {
	Context   context.Context
	SessionID string
	AgentID   string
	ToolCallID string
}

// Invoker is the uniform capability every tool presents: a schema and an
// invoke function. New tool categories are added by registering a new
// Invoker, never by subclassing (spec §9).
type Invoker func(args map[string]any, ictx InvocationContext) StructuredResult

// ToolDefinition describes a single registered tool. Names form a flat
// namespace; MCP-imported tools are prefixed mcp_<server>_<tool> to avoid
// collisions (spec §3).
type ToolDefinition struct {
	Name              string
	Description       string
	ParametersSchema  json.RawMessage
	Tags              []string
	Sets              []string
	Category          string
	Invoker           Invoker
}

// ModelToolSchema is the shape exported to an LLM backend's function-calling
// API (spec §6).
type ModelToolSchema struct {
	Type     string           `json:"type"`
	Function ModelToolFunction `json:"function"`
}

// ModelToolFunction is the nested function descriptor inside ModelToolSchema.
type ModelToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolSet is a declarative grouping of tools, resolved transitively with
// cycle detection at registration time.
type ToolSet struct {
	Name        string
	Includes    []string
	Tools       []string
	ExtendsTags []string
}

// Selectors is the per-agent configuration resolved into a concrete tool
// list by the selector cascade (spec §4.1): sets/tags union, then allow
// intersection, then deny subtraction.
type Selectors struct {
	Sets  []string
	Tags  []string
	Allow []string
	Deny  []string
}
