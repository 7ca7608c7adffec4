// Package agents holds the static catalog of agent descriptors: identity,
// prompt file, tool selectors, continuation policy, and model preferences.
package agents

import "github.com/orcaforge/orcaforge/internal/toolregistry"

// ContinuationPolicy governs whether the turn loop re-invokes the model
// after tool execution (see internal/runtime's ContinuationController).
type ContinuationPolicy struct {
	RequireExplicitSignal bool
	MaxDepth              int
	SingleToolPerStep     bool
	ContinueSignal        string   // sentinel phrase, e.g. "CONTINUE"
	AutoContinueTools     []string // tool names that trigger continuation even when RequireExplicitSignal
}

// ModelPrefs is an agent's preferred backend configuration.
type ModelPrefs struct {
	ModelID     string
	Temperature float64
	MaxTokens   int
}

// Descriptor describes a single agent. Identity is ID; descriptors are
// immutable once loaded into a Registry.
type Descriptor struct {
	ID                 string
	Name               string
	Role               string
	PromptFile         string
	ToolSelectors      toolregistry.Selectors
	ContinuationPolicy ContinuationPolicy
	ModelPrefs         ModelPrefs
}
