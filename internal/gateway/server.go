// Package gateway implements the external control surface: JSON-RPC 2.0
// over one WebSocket per session (spec §6). One Server fields upgrades and
// owns the process-wide catalogs (agents, tools, mailbox); each accepted
// connection gets its own Conn, session, and optional Observer.
package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orcaforge/orcaforge/internal/agents"
	"github.com/orcaforge/orcaforge/internal/guard"
	"github.com/orcaforge/orcaforge/internal/llm"
	"github.com/orcaforge/orcaforge/internal/mailbox"
	"github.com/orcaforge/orcaforge/internal/mcp"
	"github.com/orcaforge/orcaforge/internal/observer"
	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

const (
	maxPayloadBytes = 1 << 20
)

// Server wires the process-wide catalogs into per-connection sessions. It
// implements http.Handler: mount it on whatever path the deployment's HTTP
// server uses for the control-plane WebSocket.
type Server struct {
	agentReg       *agents.Registry
	toolReg        *toolregistry.Registry
	backend        llm.Backend
	mail           *mailbox.Mailbox
	mcpPool        *mcp.ConnectionPool
	defaultAgentID string
	observerConfig observer.Config
	metrics        *observer.Metrics
	resultGuard    guard.ToolResultGuard
	approval       *guard.ApprovalChecker
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	startTime      time.Time

	mu    sync.Mutex
	conns map[string]*Conn
}

// Config bundles the dependencies a Server needs. ObserverConfig is handed
// unchanged to the Observer every new session starts: ActiveMode alone
// decides whether a stall triggers an intervention, and SweepInterval sets
// the sweep period (the cron schedule runs at most once a second, so zero
// sweeps every second rather than disabling the sweep).
type Config struct {
	AgentRegistry  *agents.Registry
	ToolRegistry   *toolregistry.Registry
	Backend        llm.Backend
	Mailbox        *mailbox.Mailbox
	MCPPool        *mcp.ConnectionPool
	DefaultAgentID string
	ObserverConfig observer.Config
	Metrics        *observer.Metrics
	ResultGuard    guard.ToolResultGuard
	Approval       *guard.ApprovalChecker
	Logger         *slog.Logger
}

// NewServer constructs a Server from its dependencies.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		agentReg:       cfg.AgentRegistry,
		toolReg:        cfg.ToolRegistry,
		backend:        cfg.Backend,
		mail:           cfg.Mailbox,
		mcpPool:        cfg.MCPPool,
		defaultAgentID: cfg.DefaultAgentID,
		observerConfig: cfg.ObserverConfig,
		metrics:        cfg.Metrics,
		resultGuard:    cfg.ResultGuard,
		approval:       cfg.Approval,
		logger:         logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:     make(map[string]*Conn),
		startTime: time.Now(),
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs one Conn for its
// lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := newConn(s, ws)
	s.addConn(conn)
	defer s.removeConn(conn.id)
	conn.run()
}

func (s *Server) addConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

func (s *Server) removeConn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// activeSessions reports how many connections currently have a running
// session, for monitoring.metrics.
func (s *Server) activeSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conns {
		c.mu.Lock()
		if c.session != nil {
			n++
		}
		c.mu.Unlock()
	}
	return n
}
