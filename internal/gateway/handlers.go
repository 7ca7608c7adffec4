package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orcaforge/orcaforge/internal/mcp"
	"github.com/orcaforge/orcaforge/internal/observer"
)

type sessionStartParams struct {
	UserID string `json:"userId,omitempty"`
}

func (c *Conn) handleSessionStart(req Request) (any, *RPCError) {
	var params sessionStartParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
	}

	sessionID := uuid.NewString()
	session := c.buildSession(sessionID, c.srv.defaultAgentID)
	obs := observer.New(sessionID, c.srv.observerConfig, sessionIntervener{session: session}, c.srv.metrics, c.logger)
	if err := obs.Start(c.ctx); err != nil {
		return nil, &RPCError{Code: codeInternalError, Message: err.Error()}
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.session = session
	c.obs = obs
	c.mu.Unlock()

	go c.drainAlerts(obs)

	return map[string]any{"sessionId": sessionID}, nil
}

// drainAlerts forwards Observer alerts to the client as observer.alert
// notifications until the connection closes.
func (c *Conn) drainAlerts(obs *observer.Observer) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case alert, ok := <-obs.Alerts():
			if !ok {
				return
			}
			c.notify(NotifyObserverAlert, map[string]any{
				"type":      string(alert.Type),
				"sessionId": alert.SessionID,
				"agentId":   alert.AgentID,
				"detail":    alert.Detail,
			})
		}
	}
}

type sendUserMessageParams struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// handleSendUserMessage acks immediately and drives the turn in the
// background; the completed turn (or any error) arrives as an
// assistant.complete notification, per spec §6's "results arrive as
// notifications".
func (c *Conn) handleSendUserMessage(req Request) (any, *RPCError) {
	var params sendUserMessageParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}

	c.mu.Lock()
	session := c.session
	obs := c.obs
	matches := session != nil && params.SessionID == c.sessionID
	c.mu.Unlock()
	if !matches {
		return nil, &RPCError{Code: codeInvalidParams, Message: "unknown sessionId"}
	}

	turnCtx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	c.turnCancel = cancel
	c.mu.Unlock()

	go c.runTurn(turnCtx, session, obs, params)

	return map[string]any{"accepted": true}, nil
}

func (c *Conn) runTurn(ctx context.Context, session sessionHandle, obs *observer.Observer, params sendUserMessageParams) {
	defer func() {
		c.mu.Lock()
		c.turnCancel = nil
		c.mu.Unlock()
	}()

	start := time.Now()
	if obs != nil {
		obs.Record(observer.Event{Type: observer.EventMessageStart, SessionID: params.SessionID, Timestamp: start})
	}

	result, err := session.Receive(ctx, params.Text)
	completedAt := time.Now()
	agentID := session.ActiveAgentID()

	if err != nil {
		if obs != nil {
			obs.Record(observer.Event{Type: observer.EventError, SessionID: params.SessionID, AgentID: agentID, Timestamp: completedAt})
		}
		c.notify(NotifyAssistantComplete, map[string]any{
			"sessionId": params.SessionID,
			"agentId":   agentID,
			"error":     err.Error(),
		})
		return
	}

	if obs != nil {
		obs.Record(observer.Event{
			Type:      observer.EventMessageComplete,
			SessionID: params.SessionID,
			AgentID:   agentID,
			Latency:   completedAt.Sub(start),
			Empty:     result.Content == "",
			Timestamp: completedAt,
		})
	}

	c.notify(NotifyAssistantComplete, map[string]any{
		"sessionId": params.SessionID,
		"agentId":   agentID,
		"text":      result.Content,
		"usage":     map[string]any{"turns": result.Turns},
	})
}

type switchAgentParams struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	Reason    string `json:"reason,omitempty"`
}

func (c *Conn) handleSwitchAgent(req Request) (any, *RPCError) {
	var params switchAgentParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}

	c.mu.Lock()
	session := c.session
	matches := session != nil && params.SessionID == c.sessionID
	c.mu.Unlock()
	if !matches {
		return nil, &RPCError{Code: codeInvalidParams, Message: "unknown sessionId"}
	}

	desc, ok := c.srv.agentReg.Resolve(params.AgentID)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown agent %q", params.AgentID)}
	}

	from := session.ActiveAgentID()
	session.SetActiveAgentID(desc.ID)
	c.notify(NotifyAgentSwitched, map[string]any{"sessionId": params.SessionID, "from": from, "to": desc.ID})

	return map[string]any{"ok": true}, nil
}

type cancelParams struct {
	SessionID string `json:"sessionId"`
}

func (c *Conn) handleCancel(req Request) (any, *RPCError) {
	var params cancelParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}

	c.mu.Lock()
	matches := c.session != nil && params.SessionID == c.sessionID
	cancel := c.turnCancel
	c.mu.Unlock()
	if !matches {
		return nil, &RPCError{Code: codeInvalidParams, Message: "unknown sessionId"}
	}
	if cancel != nil {
		cancel()
	}
	return map[string]any{"ok": true}, nil
}

type mcpStartParams struct {
	Transport    string   `json:"transport"`
	Port         int      `json:"port,omitempty"`
	ExposedTools []string `json:"exposedTools"`
	Workspace    string   `json:"workspace"`
}

func (c *Conn) handleMCPStart(req Request) (any, *RPCError) {
	var params mcpStartParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}

	c.mu.Lock()
	sessionID := c.sessionID
	existing := c.mcpHost
	c.mu.Unlock()
	if existing != nil {
		return nil, &RPCError{Code: codeInvalidRequest, Message: "mcp host already running for this session"}
	}

	source := &registryToolSource{registry: c.srv.toolReg, sessionID: sessionID}
	host := mcp.NewToolHost(source, params.ExposedTools, params.Workspace)
	hosted := newHostedMCP(host, params.Transport, params.Port, params.Workspace, c.logger)
	if err := hosted.Start(); err != nil {
		return nil, &RPCError{Code: codeInternalError, Message: err.Error()}
	}

	c.mu.Lock()
	c.mcpHost = hosted
	c.mu.Unlock()

	return hosted.Status(), nil
}

func (c *Conn) handleMCPStop(req Request) (any, *RPCError) {
	c.mu.Lock()
	hosted := c.mcpHost
	c.mcpHost = nil
	c.mu.Unlock()
	if hosted == nil {
		return map[string]any{"ok": true}, nil
	}
	if err := hosted.Stop(); err != nil {
		return nil, &RPCError{Code: codeInternalError, Message: err.Error()}
	}
	return map[string]any{"ok": true}, nil
}

func (c *Conn) handleMCPStatus(req Request) (any, *RPCError) {
	c.mu.Lock()
	hosted := c.mcpHost
	c.mu.Unlock()
	if hosted == nil {
		return map[string]any{"running": false}, nil
	}
	return hosted.Status(), nil
}

func (c *Conn) handleMonitoringHealth(req Request) (any, *RPCError) {
	return map[string]any{
		"status":         "ok",
		"uptimeSeconds":  time.Since(c.srv.startTime).Seconds(),
		"activeSessions": c.srv.activeSessions(),
	}, nil
}

func (c *Conn) handleMonitoringMetrics(req Request) (any, *RPCError) {
	return map[string]any{
		"activeSessions": c.srv.activeSessions(),
	}, nil
}
