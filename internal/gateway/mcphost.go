package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orcaforge/orcaforge/internal/mcp"
	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

// registryToolSource adapts *toolregistry.Registry to mcp.ToolSource, so a
// session's own tools can be re-exposed as an MCP server by mcp.start.
type registryToolSource struct {
	registry  *toolregistry.Registry
	sessionID string
}

func (s *registryToolSource) Get(name string) (mcp.ToolSourceDef, bool) {
	def, ok := s.registry.Get(name)
	if !ok {
		return mcp.ToolSourceDef{}, false
	}
	return mcp.ToolSourceDef{Name: def.Name, Description: def.Description, ParametersSchema: def.ParametersSchema}, true
}

func (s *registryToolSource) Invoke(name string, args map[string]any) (map[string]any, bool) {
	result := s.registry.Invoke(name, args, toolregistry.InvocationContext{
		Context:   context.Background(),
		SessionID: s.sessionID,
	})
	return map[string]any(result), result.Succeeded()
}

const hostedMCPConnHeader = "X-MCP-Connection-ID"

// hostedMCP serves one session's whitelisted tools as an MCP server, bound
// to a live listener for the websocket and sse transports (spec §6's
// `mcp.start`). stdio is rejected: the gateway process's own stdin/stdout
// already serves cmd/orcaforge's control surface, so there is nothing to
// hand a per-session stdio host.
type hostedMCP struct {
	host      *mcp.ToolHost
	transport string
	port      int
	workspace string
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	server   *http.Server
	listener net.Listener

	sseMu   sync.Mutex
	sseSubs map[string]chan []byte
}

func newHostedMCP(host *mcp.ToolHost, transport string, port int, workspace string, logger *slog.Logger) *hostedMCP {
	return &hostedMCP{
		host:      host,
		transport: transport,
		port:      port,
		workspace: workspace,
		logger:    logger,
		sseSubs:   make(map[string]chan []byte),
	}
}

func (h *hostedMCP) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}

	mux := http.NewServeMux()
	switch h.transport {
	case "websocket":
		mux.HandleFunc("/", h.serveWS)
	case "sse":
		mux.HandleFunc("/events", h.serveSSEStream)
		mux.HandleFunc("/rpc", h.serveSSERPC)
	case "stdio":
		return fmt.Errorf("mcp host: stdio transport is unavailable for a session host; the gateway process owns its own stdio")
	default:
		return fmt.Errorf("mcp host: unknown transport %q", h.transport)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.port))
	if err != nil {
		return fmt.Errorf("mcp host: listen: %w", err)
	}
	h.listener = ln
	h.server = &http.Server{Handler: mux}
	h.running = true

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("hosted mcp server exited", "error", err)
		}
	}()
	return nil
}

func (h *hostedMCP) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return nil
	}
	h.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.server.Shutdown(ctx)
	h.server = nil
	h.listener = nil
	return err
}

func (h *hostedMCP) Status() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]any{
		"running":      h.running,
		"transport":    h.transport,
		"port":         h.port,
		"workspace":    h.workspace,
		"exposedTools": h.host.ExposedNames(),
	}
}

var hostedMCPUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (h *hostedMCP) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hostedMCPUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req mcp.JSONRPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		resp := h.host.HandleRequest(req)
		out, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

func (h *hostedMCP) serveSSEStream(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(hostedMCPConnHeader)
	if connID == "" {
		http.Error(w, "missing "+hostedMCPConnHeader, http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan []byte, 16)
	h.sseMu.Lock()
	h.sseSubs[connID] = ch
	h.sseMu.Unlock()
	defer func() {
		h.sseMu.Lock()
		delete(h.sseSubs, connID)
		h.sseMu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *hostedMCP) serveSSERPC(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(hostedMCPConnHeader)
	if connID == "" {
		http.Error(w, "missing "+hostedMCPConnHeader, http.StatusBadRequest)
		return
	}
	var req mcp.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := h.host.HandleRequest(req)
	out, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.sseMu.Lock()
	ch := h.sseSubs[connID]
	h.sseMu.Unlock()
	if ch != nil {
		select {
		case ch <- out:
		default:
		}
	}
	w.WriteHeader(http.StatusAccepted)
}
