package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/orcaforge/orcaforge/internal/agents"
	"github.com/orcaforge/orcaforge/internal/guard"
	"github.com/orcaforge/orcaforge/internal/llm"
	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

// RuntimeFactory builds an AgentRuntime for a descriptor, lazily, the first
// time a Session needs one (spec §3 lifecycles).
type RuntimeFactory func(d *agents.Descriptor, sender Sender) (*AgentRuntime, error)

// Session is the per-client container: a lazily-populated set of
// AgentRuntimes, the active agent id, and an optional attached sender. The
// WebSocket (or any other sender) may be nil at any time — streaming code
// must check before sending, per invariant I7.
type Session struct {
	ID string

	mu            sync.Mutex
	agentReg      *agents.Registry
	factory       RuntimeFactory
	runtimes      map[string]*AgentRuntime
	activeAgentID string
	sender        Sender

	// turnMu serializes Receive/Intervene: within one session only one turn
	// executes at a time, and concurrent callers block on this mutex (spec
	// §5); sync.Mutex does not guarantee they acquire it in arrival order. So AgentRuntime.history's append-only writer is never
	// shared across goroutines.
	turnMu sync.Mutex

	logger *slog.Logger
}

// NewSession creates a Session whose initial active agent is defaultAgentID.
func NewSession(id string, agentReg *agents.Registry, factory RuntimeFactory, defaultAgentID string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:            id,
		agentReg:      agentReg,
		factory:       factory,
		runtimes:      make(map[string]*AgentRuntime),
		activeAgentID: defaultAgentID,
		logger:        logger.With("component", "runtime", "session", id),
	}
}

// AttachSender attaches (or detaches, with nil) the transport that streams
// assistant output for this session.
func (s *Session) AttachSender(sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

// ActiveAgentID returns the currently active agent's id.
func (s *Session) ActiveAgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAgentID
}

// SetActiveAgentID switches the active agent, used by AgentSwitchHandler
// during a synchronous handoff.
func (s *Session) SetActiveAgentID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeAgentID = id
}

// RuntimeFor lazily instantiates (and caches) the AgentRuntime for id.
func (s *Session) RuntimeFor(id string) (*AgentRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtimeForLocked(id)
}

func (s *Session) runtimeForLocked(id string) (*AgentRuntime, error) {
	if rt, ok := s.runtimes[id]; ok {
		return rt, nil
	}
	desc, ok := s.agentReg.Get(id)
	if !ok {
		return nil, fmt.Errorf("runtime: unknown agent %q", id)
	}
	rt, err := s.factory(desc, s.sender)
	if err != nil {
		return nil, fmt.Errorf("runtime: construct agent %q: %w", id, err)
	}
	s.runtimes[id] = rt
	return rt, nil
}

// ActiveRuntime returns (lazily constructing if needed) the AgentRuntime
// for the currently active agent.
func (s *Session) ActiveRuntime() (*AgentRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtimeForLocked(s.activeAgentID)
}

// Receive is the top-level entry point for a user turn: it resolves the
// active AgentRuntime and drives its turn loop. Only one turn runs at a
// time per session; overlapping callers block on turnMu, with no guarantee
// that they proceed in arrival order.
func (s *Session) Receive(ctx context.Context, text string) (AssistantResult, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	rt, err := s.ActiveRuntime()
	if err != nil {
		return AssistantResult{}, err
	}
	return rt.HandleUserMessage(ctx, text)
}

// Intervene injects a system directive into the named agent's runtime and
// re-triggers its turn loop, used by the Observer to recover a stalled
// session (spec §4.5). Shares turnMu with Receive so an intervention never
// runs concurrently with (or interleaved inside) a user turn.
func (s *Session) Intervene(ctx context.Context, agentID, directive string) (AssistantResult, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	rt, err := s.RuntimeFor(agentID)
	if err != nil {
		return AssistantResult{}, err
	}
	rt.InjectSystemDirective(directive)
	return rt.Resume(ctx)
}

// NewRuntimeFactory adapts a toolregistry.Registry + llm.Backend pair into
// a RuntimeFactory, the construction most callers want.
func NewRuntimeFactory(tools *toolregistry.Registry, backend llm.Backend, handoff HandoffDispatcher, logger *slog.Logger) RuntimeFactory {
	return func(d *agents.Descriptor, sender Sender) (*AgentRuntime, error) {
		return NewAgentRuntime(d, backend, tools, handoff, sender, logger)
	}
}

// NewRuntimeFactoryWithGuards is NewRuntimeFactory plus an optional tool
// result guard and approval checker applied to every runtime it
// constructs. Pass the zero guard.ToolResultGuard and a nil
// *guard.ApprovalChecker to get NewRuntimeFactory's behavior.
func NewRuntimeFactoryWithGuards(tools *toolregistry.Registry, backend llm.Backend, handoff HandoffDispatcher, logger *slog.Logger, resultGuard guard.ToolResultGuard, approval *guard.ApprovalChecker) RuntimeFactory {
	return func(d *agents.Descriptor, sender Sender) (*AgentRuntime, error) {
		rt, err := NewAgentRuntime(d, backend, tools, handoff, sender, logger)
		if err != nil {
			return nil, err
		}
		rt.SetResultGuard(resultGuard)
		rt.SetApprovalChecker(approval)
		return rt, nil
	}
}
