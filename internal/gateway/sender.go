package gateway

// connSender adapts a Conn to runtime.Sender, turning streamed content and
// reasoning deltas into assistant.delta notifications (spec §6). A dropped
// delta (send buffer full) never blocks the turn loop: writeJSON is
// best-effort, matching the "WebSocket detached mid-stream → history still
// appended, no panic" boundary behavior.
type connSender struct {
	conn *Conn
}

func (s *connSender) SendContentDelta(delta string) {
	s.conn.notifyAssistantDelta(delta, "")
}

func (s *connSender) SendReasoningDelta(delta string) {
	s.conn.notifyAssistantDelta("", delta)
}

func (c *Conn) notifyAssistantDelta(content, reasoning string) {
	c.mu.Lock()
	sessionID := c.sessionID
	session := c.session
	c.mu.Unlock()

	agentID := ""
	if session != nil {
		agentID = session.ActiveAgentID()
	}

	params := map[string]any{"sessionId": sessionID, "agentId": agentID}
	if content != "" {
		params["text"] = content
	}
	if reasoning != "" {
		params["reasoning"] = reasoning
	}
	c.notify(NotifyAssistantDelta, params)
}
