package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/orcaforge/orcaforge/internal/agents"
	"github.com/orcaforge/orcaforge/internal/guard"
	"github.com/orcaforge/orcaforge/internal/llm"
	"github.com/orcaforge/orcaforge/internal/telemetry"
	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

// placeholderContent is written when a backend returns an empty response,
// preserving invariant I2 (no two consecutive user messages).
const placeholderContent = "response unavailable"

// Sender streams assistant output to whatever transport owns the session,
// e.g. the WebSocket control plane in internal/gateway. It may be nil.
type Sender interface {
	SendContentDelta(delta string)
	SendReasoningDelta(delta string)
}

// HandoffDispatcher is consulted for every tool call before falling back to
// the generic ToolRegistry, letting the caller intercept send_mail without
// this package depending on internal/handoff (spec §4.4).
type HandoffDispatcher interface {
	// Dispatch returns (result, true) if it handled the call; (zero, false)
	// tells the runtime to invoke the tool through ToolRegistry normally.
	Dispatch(ctx context.Context, call ToolCall) (toolregistry.StructuredResult, bool)
}

// AgentRuntime owns one agent's conversation history within one session. It
// is created lazily on first switch-to-agent or first mail delivery (spec
// §3 lifecycles).
type AgentRuntime struct {
	Descriptor *agents.Descriptor

	backend    llm.Backend
	tools      *toolregistry.Registry
	toolSet    []*toolregistry.ToolDefinition
	continuation *ContinuationController
	handoff    HandoffDispatcher
	sender     Sender
	logger     *slog.Logger

	resultGuard guard.ToolResultGuard
	approval    *guard.ApprovalChecker

	history          []Message
	continuationDepth int
	lastActivity     time.Time
}

// SetResultGuard installs g as the redaction/truncation pass every tool
// result goes through before it is appended to history. The zero value (the
// default) is inert.
func (r *AgentRuntime) SetResultGuard(g guard.ToolResultGuard) {
	r.resultGuard = g
}

// SetApprovalChecker installs c as the gate every resolved tool call must
// pass before it actually runs. A nil c (the default) allows everything.
func (r *AgentRuntime) SetApprovalChecker(c *guard.ApprovalChecker) {
	r.approval = c
}

// NewAgentRuntime constructs an AgentRuntime. toolSet is resolved once,
// here, from the descriptor's selectors (spec's "resolved once at agent
// construction").
func NewAgentRuntime(d *agents.Descriptor, backend llm.Backend, tools *toolregistry.Registry, handoff HandoffDispatcher, sender Sender, logger *slog.Logger) (*AgentRuntime, error) {
	toolSet, err := tools.ResolveFor(d.ToolSelectors)
	if err != nil {
		return nil, fmt.Errorf("runtime: resolve tools for agent %q: %w", d.ID, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentRuntime{
		Descriptor:   d,
		backend:      backend,
		tools:        tools,
		toolSet:      toolSet,
		continuation: NewContinuationController(),
		handoff:      handoff,
		sender:       sender,
		logger:       logger.With("component", "runtime", "agent", d.ID),
		lastActivity: time.Now(),
	}, nil
}

// History returns a copy of the append-only conversation history.
func (r *AgentRuntime) History() []Message {
	out := make([]Message, len(r.history))
	copy(out, r.history)
	return out
}

// LastActivity returns the timestamp of the most recent history append.
// The Observer's stall detector does not read it; it tracks activity from
// the events it is fed.
func (r *AgentRuntime) LastActivity() time.Time {
	return r.lastActivity
}

// InjectSystemDirective appends an assistant-visible system note, used by
// the Observer to steer a stalled or looping agent.
func (r *AgentRuntime) InjectSystemDirective(text string) {
	r.append(Message{Role: RoleSystem, Content: text, Timestamp: time.Now()})
}

// HandleToolResult appends a manufactured tool-role message, used when an
// external collaborator (AgentSwitchHandler) intercepts a tool call.
func (r *AgentRuntime) HandleToolResult(toolCallID string, result toolregistry.StructuredResult) {
	r.append(Message{
		Role:       RoleTool,
		Content:    marshalResult(result),
		ToolCallID: toolCallID,
		Timestamp:  time.Now(),
	})
}

// AssistantResult is the accumulated output of one call to HandleUserMessage.
type AssistantResult struct {
	Content string
	Turns   int
}

// HandleUserMessage appends a user message, resets continuationDepth, and
// runs the turn loop (spec §4.2.1).
func (r *AgentRuntime) HandleUserMessage(ctx context.Context, text string) (AssistantResult, error) {
	r.append(Message{Role: RoleUser, Content: text, Timestamp: time.Now()})
	return r.runLoop(ctx)
}

// Resume re-triggers the turn loop without appending a new user message,
// used by the Observer to recover a stalled agent after InjectSystemDirective
// (spec §4.5 intervention).
func (r *AgentRuntime) Resume(ctx context.Context) (AssistantResult, error) {
	return r.runLoop(ctx)
}

func (r *AgentRuntime) runLoop(ctx context.Context) (AssistantResult, error) {
	r.continuationDepth = 0

	var lastContent string
	turns := 0
	for {
		turns++
		turnCtx, span := telemetry.StartSpan(ctx, "runtime.turn",
			telemetry.Attr("agent.id", r.Descriptor.ID),
			telemetry.Attr("turn.depth", r.continuationDepth))
		assistantMsg, err := r.runOneModelTurn(turnCtx)
		telemetry.End(span, err)
		if err != nil {
			return AssistantResult{}, err
		}
		lastContent = assistantMsg.Content

		if len(assistantMsg.ToolCalls) == 0 {
			break
		}

		for _, msg := range r.invokeToolCalls(ctx, assistantMsg.ToolCalls) {
			r.append(msg)
		}

		if !r.continuation.ShouldContinue(r.Descriptor.ContinuationPolicy, assistantMsg, r.continuationDepth) {
			break
		}
		r.continuationDepth++
	}

	return AssistantResult{Content: lastContent, Turns: turns}, nil
}

// runOneModelTurn streams one assistant response, handling the empty-
// response placeholder defense (spec §4.2.1 step 3).
func (r *AgentRuntime) runOneModelTurn(ctx context.Context) (Message, error) {
	req := llm.Request{
		Model:       r.Descriptor.ModelPrefs.ModelID,
		Temperature: r.Descriptor.ModelPrefs.Temperature,
		MaxTokens:   r.Descriptor.ModelPrefs.MaxTokens,
		Messages:    toLLMMessages(r.history),
		Tools:       toLLMSchemas(r.tools.DefinitionsFor(r.toolSet)),
	}

	events, err := r.backend.Stream(ctx, req)
	if err != nil {
		return Message{}, fmt.Errorf("runtime: stream: %w", err)
	}

	var content, reasoning string
	acc := newToolCallAccumulator()
	var usage *Usage

	for ev := range events {
		if ev.Err != nil {
			return Message{}, fmt.Errorf("runtime: stream event: %w", ev.Err)
		}
		if ev.ContentDelta != "" {
			content += ev.ContentDelta
			if r.sender != nil {
				r.sender.SendContentDelta(ev.ContentDelta)
			}
		}
		if ev.ReasoningDelta != "" {
			reasoning += ev.ReasoningDelta
			if r.sender != nil {
				r.sender.SendReasoningDelta(ev.ReasoningDelta)
			}
		}
		if ev.ToolCallDelta != nil {
			d := ev.ToolCallDelta
			acc.Add(d.Index, d.ID, d.Name, d.ArgumentsDelta)
		}
		if ev.Usage != nil {
			usage = &Usage{
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
				TotalTokens:      ev.Usage.TotalTokens,
				Cost:             ev.Usage.Cost,
			}
		}
		if ev.Finished {
			break
		}
	}

	allToolCalls, invokableToolCalls, pendingFailures := r.finalizeToolCalls(acc)

	if content == "" && reasoning == "" && acc.Empty() {
		msg := Message{Role: RoleAssistant, Content: placeholderContent, Timestamp: time.Now()}
		r.append(msg)
		return msg, nil
	}

	msg := Message{
		Role:      RoleAssistant,
		Content:   content,
		Reasoning: reasoning,
		ToolCalls: allToolCalls,
		Timestamp: time.Now(),
		Usage:     usage,
	}
	r.append(msg)

	for _, f := range pendingFailures {
		r.append(Message{
			Role:       RoleTool,
			Content:    marshalResult(f.result),
			ToolCallID: f.id,
			Timestamp:  time.Now(),
		})
	}

	// invokableToolCalls excludes calls whose arguments failed to parse;
	// those already have their tool-role reply appended above.
	msg.ToolCalls = invokableToolCalls
	return msg, nil
}

type pendingFailure struct {
	id     string
	result toolregistry.StructuredResult
}

// finalizeToolCalls converts accumulated chunks to ToolCalls. all contains
// every tool call the model emitted, for an accurate history record (I1);
// invokable excludes calls whose arguments failed to parse as JSON, since
// those are reported as a failed tool result here and must not be passed
// to ToolRegistry.invoke (spec §4.2.2).
func (r *AgentRuntime) finalizeToolCalls(acc *toolCallAccumulator) (all []ToolCall, invokable []ToolCall, failures []pendingFailure) {
	finalized := acc.Finalize()
	all = make([]ToolCall, 0, len(finalized))
	invokable = make([]ToolCall, 0, len(finalized))
	for _, f := range finalized {
		all = append(all, f.ToolCall)
		var probe json.RawMessage
		if err := json.Unmarshal([]byte(f.rawArguments), &probe); err != nil {
			failures = append(failures, pendingFailure{
				id:     f.ID,
				result: toolregistry.Fail(fmt.Sprintf("arguments parse: %v", err), nil),
			})
			continue
		}
		invokable = append(invokable, f.ToolCall)
	}
	return all, invokable, failures
}

func (r *AgentRuntime) invokeToolCall(ctx context.Context, tc ToolCall) toolregistry.StructuredResult {
	ctx, span := telemetry.StartSpan(ctx, "runtime.tool_call",
		telemetry.Attr("tool.name", tc.Name), telemetry.Attr("agent.id", r.Descriptor.ID))

	if r.handoff != nil {
		if result, handled := r.handoff.Dispatch(ctx, tc); handled {
			telemetry.End(span, nil)
			return result
		}
	}

	if r.approval != nil {
		if decision, reason := r.approval.Check(r.Descriptor.ID, tc.Name); decision != guard.ApprovalAllowed {
			result := toolregistry.Fail(fmt.Sprintf("tool call not approved: %s (%s)", decision, reason), map[string]any{"decision": string(decision)})
			telemetry.End(span, fmt.Errorf("%s", reason))
			return result
		}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &args); err != nil {
		err = fmt.Errorf("arguments parse: %w", err)
		telemetry.End(span, err)
		return toolregistry.Fail(err.Error(), nil)
	}

	result := r.tools.Invoke(tc.Name, args, toolregistry.InvocationContext{
		Context:    ctx,
		AgentID:    r.Descriptor.ID,
		ToolCallID: tc.ID,
	})
	result = r.resultGuard.Apply(tc.Name, result)
	var spanErr error
	if !result.Succeeded() {
		errMsg, _ := result["error"].(string)
		spanErr = fmt.Errorf("%s", errMsg)
	}
	telemetry.End(span, spanErr)
	return result
}

// invokeToolCalls runs every tool call from one assistant turn, strictly in
// the order the model emitted them, and returns the resulting tool-role
// messages in that same order. Calls are never run concurrently: a later
// tool call may depend on an earlier one's side effects (spec §4.2.1, §5),
// so e.g. a write_file followed by a read_file in the same turn must see
// the write before the read runs.
func (r *AgentRuntime) invokeToolCalls(ctx context.Context, calls []ToolCall) []Message {
	msgs := make([]Message, len(calls))
	for i, tc := range calls {
		result := r.invokeToolCall(ctx, tc)
		msgs[i] = Message{
			Role:       RoleTool,
			Content:    marshalResult(result),
			ToolCallID: tc.ID,
			Timestamp:  time.Now(),
		}
	}
	return msgs
}

func (r *AgentRuntime) append(msg Message) {
	r.history = append(r.history, msg)
	r.lastActivity = time.Now()
}

func marshalResult(result toolregistry.StructuredResult) string {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(b)
}

func toLLMSchemas(defs []toolregistry.ModelToolSchema) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolSchema{
			Name:        d.Function.Name,
			Description: d.Function.Description,
			Parameters:  d.Function.Parameters,
		})
	}
	return out
}

func toLLMMessages(history []Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		lm := llm.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, ArgumentsJSON: tc.ArgumentsJSON})
		}
		out = append(out, lm)
	}
	return out
}
