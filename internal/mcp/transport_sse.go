package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SSETransport opens a GET event stream for server-to-client traffic and
// POSTs each request to that same URL (there is no separate POST endpoint),
// carrying a connection id header so the server can correlate the POST with
// the right open stream (spec §4.6's SSE transport).
type SSETransport struct {
	config       *ServerConfig
	logger       *slog.Logger
	connectionID string
	httpClient   *http.Client

	streamCancel context.CancelFunc

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	events    chan *JSONRPCNotification
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewSSETransport(cfg *ServerConfig) *SSETransport {
	return &SSETransport{
		config:       cfg,
		logger:       slog.Default().With("mcp_server", cfg.ID, "transport", "sse"),
		connectionID: uuid.NewString(),
		httpClient:   &http.Client{Timeout: cfg.requestTimeout()},
		pending:      make(map[int64]chan *JSONRPCResponse),
		events:       make(chan *JSONRPCNotification, 100),
		stopChan:     make(chan struct{}),
	}
}

func (t *SSETransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("mcp: sse transport requires a url")
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.streamCancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.config.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp: build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-MCP-Connection-ID", t.connectionID)
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp: open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp: event stream returned status %d", resp.StatusCode)
	}

	t.connected.Store(true)
	t.logger.Info("opened SSE stream", "url", t.config.URL, "connection_id", t.connectionID)

	t.wg.Add(1)
	go t.readLoop(resp.Body)
	return nil
}

func (t *SSETransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stopChan)
	if t.streamCancel != nil {
		t.streamCancel()
	}
	t.wg.Wait()
	return nil
}

func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("mcp: sse transport not connected")
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

	if err := t.post(ctx, req); err != nil {
		return nil, err
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

func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("mcp: sse transport not connected")
	}
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("mcp: marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}
	return t.post(ctx, notif)
}

func (t *SSETransport) Events() <-chan *JSONRPCNotification { return t.events }
func (t *SSETransport) Connected() bool                     { return t.connected.Load() }

func (t *SSETransport) post(ctx context.Context, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mcp: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("mcp: build post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-MCP-Connection-ID", t.connectionID)
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: post request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mcp: post request returned status %d", resp.StatusCode)
	}
	return nil
}

// readLoop parses the text/event-stream body: each "data: <json>" line
// carries one JSON-RPC response or notification.
func (t *SSETransport) readLoop(body io.ReadCloser) {
	defer t.wg.Done()
	defer body.Close()
	defer t.connected.Store(false)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)

	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		t.processMessage([]byte(payload))
	}
}

func (t *SSETransport) processMessage(data []byte) {
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
