package guard

import (
	"path"
	"sync"
)

// ApprovalDecision is the outcome of checking a tool call against an
// ApprovalPolicy.
type ApprovalDecision string

const (
	ApprovalAllowed ApprovalDecision = "allowed"
	ApprovalDenied  ApprovalDecision = "denied"
	ApprovalPending ApprovalDecision = "pending"
)

// ApprovalPolicy configures which tools a given agent may run outright,
// never run, or must pause and wait for explicit approval before running.
// It is orthogonal to internal/toolregistry's allow/deny cascade: the
// cascade decides whether a tool is even visible to the model; this policy
// decides whether a visible, model-selected call may actually execute.
type ApprovalPolicy struct {
	Allowlist       []string // always allowed, patterns like "mcp_*"
	Denylist        []string // always denied
	RequireApproval []string // always pending
	DefaultDecision ApprovalDecision
	AskFallback     bool // if true, an undecided default becomes Pending instead of Denied
}

// DefaultApprovalPolicy allows everything, matching today's behavior when
// no ApprovalChecker is configured.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{DefaultDecision: ApprovalAllowed}
}

// ApprovalChecker evaluates tool calls against per-agent (or default)
// ApprovalPolicy. A nil *ApprovalChecker is treated as "no approval gate" by
// every caller in this module.
type ApprovalChecker struct {
	mu            sync.RWMutex
	agentPolicies map[string]ApprovalPolicy
	defaultPolicy ApprovalPolicy
}

// NewApprovalChecker constructs a checker with defaultPolicy applied to any
// agent without a more specific policy.
func NewApprovalChecker(defaultPolicy ApprovalPolicy) *ApprovalChecker {
	return &ApprovalChecker{
		agentPolicies: make(map[string]ApprovalPolicy),
		defaultPolicy: defaultPolicy,
	}
}

// SetAgentPolicy overrides the policy used for one agent id.
func (c *ApprovalChecker) SetAgentPolicy(agentID string, policy ApprovalPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentPolicies[agentID] = policy
}

func (c *ApprovalChecker) policyFor(agentID string) ApprovalPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.agentPolicies[agentID]; ok {
		return p
	}
	return c.defaultPolicy
}

// Check evaluates toolName for agentID and returns the decision plus a
// short reason, in cascade order: denylist, allowlist, require-approval,
// then the policy's default.
func (c *ApprovalChecker) Check(agentID, toolName string) (ApprovalDecision, string) {
	policy := c.policyFor(agentID)

	if matchesPattern(policy.Denylist, toolName) {
		return ApprovalDenied, "tool in denylist"
	}
	if matchesPattern(policy.Allowlist, toolName) {
		return ApprovalAllowed, "tool in allowlist"
	}
	if matchesPattern(policy.RequireApproval, toolName) {
		if !policy.AskFallback {
			return ApprovalDenied, "approval required, no fallback"
		}
		return ApprovalPending, "tool requires approval"
	}

	switch policy.DefaultDecision {
	case ApprovalDenied:
		return ApprovalDenied, "default policy"
	case ApprovalPending:
		if !policy.AskFallback {
			return ApprovalDenied, "approval unavailable"
		}
		return ApprovalPending, "default policy"
	default:
		return ApprovalAllowed, "default policy"
	}
}

func matchesPattern(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
