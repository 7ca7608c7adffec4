// Package handoff implements the synchronous send_mail handoff: detecting a
// send_mail tool call addressed to a known agent, switching the session's
// active agent, running the recipient's turn loop, and reverting.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"github.com/orcaforge/orcaforge/internal/agents"
	"github.com/orcaforge/orcaforge/internal/mailbox"
	"github.com/orcaforge/orcaforge/internal/runtime"
	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

// sendMailSchema is generated once from sendMailArgs rather than hand-
// written, so the tool's parameter schema can never drift from the struct
// Dispatch actually decodes.
var sendMailSchema = mustSchema(&sendMailArgs{})

func mustSchema(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("handoff: reflect schema: %v", err))
	}
	return schema
}

// ToolDefinition returns the send_mail tool registration: the schema every
// agent's tool list exposes so the model knows send_mail exists. The
// Invoker is never expected to run in practice, since AgentRuntime gives
// Handler.Dispatch first refusal on every "send_mail" call; it exists only
// as a defined fallback if a runtime is ever wired without a Handler.
func ToolDefinition() toolregistry.ToolDefinition {
	return toolregistry.ToolDefinition{
		Name:             "send_mail",
		Description:      "Send a message to another agent by id or name, optionally triggering a synchronous handoff.",
		ParametersSchema: sendMailSchema,
		Tags:             []string{"handoff"},
		Invoker: func(args map[string]any, ictx toolregistry.InvocationContext) toolregistry.StructuredResult {
			return toolregistry.Fail("send_mail invoked without a handoff.Handler wired into the runtime", nil)
		},
	}
}

// sendMailArgs is the shape of a send_mail tool call's arguments.
type sendMailArgs struct {
	To       string `json:"to" jsonschema:"required,description=Recipient agent id or name"`
	Subject  string `json:"subject" jsonschema:"required,description=Short subject line"`
	Body     string `json:"body" jsonschema:"required,description=Message body"`
	Priority string `json:"priority,omitempty" jsonschema:"enum=low|normal|high|urgent,description=Delivery priority, defaults to normal"`
}

var priorityByName = map[string]mailbox.Priority{
	"low":    mailbox.PriorityLow,
	"normal": mailbox.PriorityNormal,
	"high":   mailbox.PriorityHigh,
	"urgent": mailbox.PriorityUrgent,
}

// priorityFor maps a send_mail priority name to a mailbox priority,
// defaulting to normal when the name is empty or unrecognized.
func priorityFor(name string) mailbox.Priority {
	if p, ok := priorityByName[name]; ok {
		return p
	}
	return mailbox.PriorityNormal
}

// Handler detects send_mail calls addressed to a known agent and performs
// the synchronous handoff described in spec §4.4. It implements
// runtime.HandoffDispatcher.
type Handler struct {
	session  *runtime.Session
	agentReg *agents.Registry
	mail     *mailbox.Mailbox
	logger   *slog.Logger
}

// New creates a Handler bound to one session.
func New(session *runtime.Session, agentReg *agents.Registry, mail *mailbox.Mailbox, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		session:  session,
		agentReg: agentReg,
		mail:     mail,
		logger:   logger.With("component", "handoff"),
	}
}

// Dispatch implements runtime.HandoffDispatcher. It only intercepts
// send_mail calls whose recipient resolves to a known agent; everything
// else falls through to the generic tool registry.
func (h *Handler) Dispatch(ctx context.Context, call runtime.ToolCall) (toolregistry.StructuredResult, bool) {
	if call.Name != "send_mail" {
		return toolregistry.StructuredResult{}, false
	}

	var args sendMailArgs
	if err := json.Unmarshal([]byte(call.ArgumentsJSON), &args); err != nil {
		return toolregistry.Fail(fmt.Sprintf("arguments parse: %v", err), nil), true
	}

	target, ok := h.agentReg.Resolve(args.To)
	if !ok {
		// Unknown recipient: proceed as a normal mailbox send, stored for
		// later pickup, not a synchronous handoff.
		return h.plainSend(args), true
	}

	sender := h.session.ActiveAgentID()
	messageID, err := h.mail.Send(mailbox.SendRequest{
		From:     sender,
		To:       target.ID,
		Subject:  args.Subject,
		Body:     args.Body,
		Priority: priorityFor(args.Priority),
	})
	if err != nil {
		return toolregistry.Fail(err.Error(), nil), true
	}

	dispatched := toolregistry.Ok(map[string]any{
		"delivered_to": target.ID,
		"message_id":   messageID,
	})

	h.session.SetActiveAgentID(target.ID)
	defer h.session.SetActiveAgentID(sender)

	recipient, err := h.session.RuntimeFor(target.ID)
	if err != nil {
		h.appendObservation(sender, fmt.Sprintf("handoff to %s failed: %v", target.ID, err))
		return dispatched, true
	}

	directive := fmt.Sprintf("You have received mail from %s. Check your mailbox.", sender)
	result, err := recipient.HandleUserMessage(ctx, directive)
	if err != nil {
		h.appendObservation(sender, fmt.Sprintf("handoff to %s errored: %v", target.ID, err))
		return dispatched, true
	}

	h.appendObservation(sender, result.Content)
	return dispatched, true
}

// plainSend stores the message without switching the active agent, used
// when the recipient string doesn't resolve to a known agent.
func (h *Handler) plainSend(args sendMailArgs) toolregistry.StructuredResult {
	sender := h.session.ActiveAgentID()
	messageID, err := h.mail.Send(mailbox.SendRequest{
		From:     sender,
		To:       args.To,
		Subject:  args.Subject,
		Body:     args.Body,
		Priority: priorityFor(args.Priority),
	})
	if err != nil {
		return toolregistry.Fail(err.Error(), nil)
	}
	return toolregistry.Ok(map[string]any{
		"delivered_to": nil,
		"message_id":   messageID,
		"queued":       true,
	})
}

// appendObservation writes the recipient's final text (or an error) into
// the sender's history as a synthetic tool observation, so the sender can
// react to it on its next turn.
func (h *Handler) appendObservation(senderID, text string) {
	sender, err := h.session.RuntimeFor(senderID)
	if err != nil {
		h.logger.Error("failed to locate sender runtime for handoff observation", "sender", senderID, "error", err)
		return
	}
	sender.HandleToolResult(uuid.NewString(), toolregistry.OkMessage(text))
}
