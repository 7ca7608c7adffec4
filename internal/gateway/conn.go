package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orcaforge/orcaforge/internal/handoff"
	"github.com/orcaforge/orcaforge/internal/observer"
	"github.com/orcaforge/orcaforge/internal/runtime"
	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

const (
	pongWait   = 45 * time.Second
	writeWait  = 10 * time.Second
	pingPeriod = 15 * time.Second
)

// wsConn is the subset of *websocket.Conn a Conn needs, narrowed so tests
// can drive dispatch logic against a fake instead of a real socket.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is one WebSocket connection, one JSON-RPC peer, and at most one
// session (created lazily by session.start). It owns the send-channel +
// read/write-loop-goroutine pair the teacher's control plane uses, adapted
// from its custom frame envelope to JSON-RPC 2.0.
type Conn struct {
	srv    *Server
	ws     wsConn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	id     string
	logger *slog.Logger

	mu         sync.Mutex
	sessionID  string
	session    sessionHandle
	obs        *observer.Observer
	mcpHost    *hostedMCP
	turnCancel context.CancelFunc
}

// sessionHandle is the subset of *runtime.Session the gateway drives,
// narrowed so tests can substitute a fake session instead of wiring a real
// agent registry and backend.
type sessionHandle interface {
	Receive(ctx context.Context, text string) (runtime.AssistantResult, error)
	Intervene(ctx context.Context, agentID, directive string) (runtime.AssistantResult, error)
	ActiveAgentID() string
	SetActiveAgentID(id string)
}

func newConn(srv *Server, ws wsConn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		srv:    srv,
		ws:     ws,
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
		logger: srv.logger.With("conn", uuid.NewString()),
	}
}

func (c *Conn) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *Conn) close() {
	c.cancel()
	close(c.send)
	c.ws.Close()

	c.mu.Lock()
	obs := c.obs
	mcpHost := c.mcpHost
	c.mu.Unlock()
	if obs != nil {
		obs.Stop()
	}
	if mcpHost != nil {
		mcpHost.Stop()
	}
}

func (c *Conn) readLoop() {
	c.ws.SetReadLimit(maxPayloadBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch decodes and answers one JSON-RPC message. A malformed envelope
// gets a parse-error response with a null id, since no id can be read from
// it; everything else is routed through handle.
func (c *Conn) dispatch(raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.writeError(json.RawMessage("null"), codeParseError, "parse error")
		return
	}
	if req.Method == "" {
		c.writeError(req.ID, codeInvalidRequest, "method is required")
		return
	}

	hasID := req.hasID()
	if !hasID && !criticalMethods[req.Method] {
		c.logger.Warn("dropping id-less request for non-critical method", "method", req.Method)
		return
	}

	result, rpcErr := c.handle(req)
	if !hasID {
		// Critical method processed; spec §6 says the server "returns
		// nothing" when the client omitted an id.
		return
	}
	if rpcErr != nil {
		c.writeError(req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	c.writeResult(req.ID, result)
}

func (c *Conn) handle(req Request) (any, *RPCError) {
	switch req.Method {
	case MethodSessionStart:
		return c.handleSessionStart(req)
	case MethodSessionSendUserMessage:
		return c.handleSendUserMessage(req)
	case MethodSessionSwitchAgent:
		return c.handleSwitchAgent(req)
	case MethodSessionCancel:
		return c.handleCancel(req)
	case MethodMCPStart:
		return c.handleMCPStart(req)
	case MethodMCPStop:
		return c.handleMCPStop(req)
	case MethodMCPStatus:
		return c.handleMCPStatus(req)
	case MethodMonitoringHealth:
		return c.handleMonitoringHealth(req)
	case MethodMonitoringMetrics:
		return c.handleMonitoringMetrics(req)
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: "unknown method " + req.Method}
	}
}

func (c *Conn) writeResult(id json.RawMessage, result any) {
	c.writeJSON(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (c *Conn) writeError(id json.RawMessage, code int, message string) {
	c.writeJSON(Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}

func (c *Conn) notify(method string, params any) {
	c.writeJSON(Notification{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Conn) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal gateway message", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("send buffer full, dropping message")
	}
}

// buildSession lazily constructs the session's runtime wiring: the
// factory/session/handoff cycle broken with a forwarding dispatcher, the
// same pattern internal/handoff's own tests use.
func (c *Conn) buildSession(sessionID, agentID string) sessionHandle {
	fwd := &forwardingHandoffDispatcher{}
	factory := runtime.NewRuntimeFactoryWithGuards(c.srv.toolReg, c.srv.backend, fwd, c.logger, c.srv.resultGuard, c.srv.approval)
	session := runtime.NewSession(sessionID, c.srv.agentReg, factory, agentID, c.logger)
	session.AttachSender(&connSender{conn: c})
	h := handoff.New(session, c.srv.agentReg, c.srv.mail, c.logger)
	fwd.target = h
	return session
}

// forwardingHandoffDispatcher breaks the Session/Handler construction
// cycle: the Session needs a HandoffDispatcher before the Handler (which
// needs the Session) exists.
type forwardingHandoffDispatcher struct {
	target *handoff.Handler
}

func (f *forwardingHandoffDispatcher) Dispatch(ctx context.Context, call runtime.ToolCall) (toolregistry.StructuredResult, bool) {
	if f.target == nil {
		return toolregistry.StructuredResult{}, false
	}
	return f.target.Dispatch(ctx, call)
}
