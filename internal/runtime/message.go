// Package runtime implements the per-(session, agent) conversation loop:
// AgentRuntime, Session, and the ContinuationController that decides when
// to re-invoke the model after tool execution.
package runtime

import (
	"time"

	"github.com/orcaforge/orcaforge/internal/llm"
)

// Role identifies who produced a ConversationMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Usage carries token accounting for an assistant message.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
}

// ToolCall is a finalized, fully-accumulated tool invocation request.
type ToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

// Message is one entry in an AgentRuntime's append-only history.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // only for RoleAssistant
	ToolCallID string     // only for RoleTool
	Reasoning  string
	Timestamp  time.Time
	Usage      *Usage // only ever set for RoleAssistant
}

func fromLLMToolCalls(in []llm.ToolCall) []ToolCall {
	if in == nil {
		return nil
	}
	out := make([]ToolCall, len(in))
	for i, tc := range in {
		out[i] = ToolCall{ID: tc.ID, Name: tc.Name, ArgumentsJSON: tc.ArgumentsJSON}
	}
	return out
}
