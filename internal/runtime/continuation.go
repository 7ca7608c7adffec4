package runtime

import (
	"strings"

	"github.com/orcaforge/orcaforge/internal/agents"
)

// ContinuationController decides whether the turn loop re-invokes the
// model after tool execution, enforcing the agent's configured depth cap
// (spec §4.2.3, invariant I3).
type ContinuationController struct{}

// NewContinuationController creates a ContinuationController. It carries
// no state: every decision is a pure function of policy, the last
// assistant message, and the current depth.
func NewContinuationController() *ContinuationController {
	return &ContinuationController{}
}

// ShouldContinue implements the decision table from spec §4.2.3.
func (c *ContinuationController) ShouldContinue(policy agents.ContinuationPolicy, last Message, depth int) bool {
	if depth >= policy.MaxDepth {
		return false
	}

	hasToolCalls := len(last.ToolCalls) > 0

	if hasToolCalls && (policy.SingleToolPerStep || !policy.RequireExplicitSignal) {
		return true
	}

	if policy.RequireExplicitSignal && policy.ContinueSignal != "" && strings.Contains(last.Content, policy.ContinueSignal) {
		return true
	}

	for _, tc := range last.ToolCalls {
		if containsName(policy.AutoContinueTools, tc.Name) {
			return true
		}
	}

	return false
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
