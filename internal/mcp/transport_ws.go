package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxPayloadBytes = 1 << 20
)

// WebSocketTransport dials out to a server's JSON-RPC-over-WebSocket
// endpoint and maintains a ping/pong heartbeat against it (spec §4.6).
type WebSocketTransport struct {
	config *ServerConfig
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	events    chan *JSONRPCNotification
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewWebSocketTransport(cfg *ServerConfig) *WebSocketTransport {
	return &WebSocketTransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.ID, "transport", "websocket"),
		pending:  make(map[int64]chan *JSONRPCResponse),
		events:   make(chan *JSONRPCNotification, 100),
		stopChan: make(chan struct{}),
	}
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("mcp: websocket transport requires a url")
	}

	header := http.Header{}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.config.requestTimeout())
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.config.URL, header)
	if err != nil {
		return fmt.Errorf("mcp: dial %s: %w", t.config.URL, err)
	}
	conn.SetReadLimit(wsMaxPayloadBytes)

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	t.connected.Store(true)
	t.logger.Info("connected to MCP server", "url", t.config.URL)

	pongWait := t.config.heartbeatTimeout()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	t.wg.Add(2)
	go t.readLoop()
	go t.heartbeatLoop()
	return nil
}

func (t *WebSocketTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stopChan)
	t.connMu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.connMu.Unlock()
	t.wg.Wait()
	return nil
}

func (t *WebSocketTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("mcp: websocket transport not connected")
	}

	id := t.nextID.Add(1)
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("mcp: marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeJSON(req); err != nil {
		return nil, fmt.Errorf("mcp: write request: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, fmt.Errorf("mcp: server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(t.config.requestTimeout()):
		return nil, fmt.Errorf("mcp: request %q timed out", method)
	case <-t.stopChan:
		return nil, fmt.Errorf("mcp: transport closed")
	}
}

func (t *WebSocketTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("mcp: websocket transport not connected")
	}
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("mcp: marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}
	return t.writeJSON(notif)
}

func (t *WebSocketTransport) Events() <-chan *JSONRPCNotification { return t.events }
func (t *WebSocketTransport) Connected() bool                     { return t.connected.Load() }

func (t *WebSocketTransport) writeJSON(v any) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("mcp: no connection")
	}
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteJSON(v)
}

func (t *WebSocketTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.logger.Warn("websocket read error", "error", err)
			return
		}
		t.processMessage(data)
	}
}

func (t *WebSocketTransport) processMessage(data []byte) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(data, &resp); err == nil && resp.ID != nil {
		id, ok := toRequestID(resp.ID)
		if !ok {
			t.logger.Warn("unexpected response id type", "id", resp.ID)
			return
		}
		t.pendingMu.Lock()
		ch, exists := t.pending[id]
		delete(t.pending, id)
		t.pendingMu.Unlock()
		if exists {
			select {
			case ch <- &resp:
			default:
			}
		}
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal(data, &notif); err == nil && notif.Method != "" {
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn("notification channel full, dropping")
		}
	}
}

func (t *WebSocketTransport) heartbeatLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.config.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.connMu.Lock()
			if t.conn != nil {
				t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					t.logger.Warn("ping failed", "error", err)
				}
			}
			t.connMu.Unlock()
		}
	}
}
