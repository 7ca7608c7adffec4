// Package proxy implements a long-lived stdio MCP server that supervises a
// child MCP server subprocess, caching its initialize and tools/list
// responses so tool definitions stay visible across a child restart (spec
// §4.7).
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/orcaforge/orcaforge/internal/mcp"
)

const defaultRestartDelay = 2 * time.Second

// childClient is the subset of *mcp.MCPClient the proxy depends on, so
// tests can supervise a fake child instead of a real subprocess.
type childClient interface {
	Connected() bool
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Proxy reads newline-delimited JSON-RPC requests from in, forwards them to
// a supervised child subprocess, and writes responses to out. initialize
// and tools/list responses are cached; while the child is down (between
// exit and respawn) cached responses are served so a caller's tools/list
// never regresses to empty.
type Proxy struct {
	childConfig  *mcp.ServerConfig
	restartDelay time.Duration
	logger       *slog.Logger
	newChild     func(ctx context.Context, cfg *mcp.ServerConfig) (childClient, error)

	in  io.Reader
	out io.Writer

	mu          sync.Mutex
	child       childClient
	childAlive  bool
	cachedInit  json.RawMessage
	cachedTools json.RawMessage
	writeMu     sync.Mutex

	cron *cron.Cron
}

// New constructs a Proxy. childConfig describes the subprocess the proxy
// supervises; it must use the stdio transport.
func New(childConfig *mcp.ServerConfig, in io.Reader, out io.Writer, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		childConfig:  childConfig,
		restartDelay: defaultRestartDelay,
		logger:       logger.With("component", "mcp_proxy", "child", childConfig.ID),
		in:           in,
		out:          out,
		newChild: func(ctx context.Context, cfg *mcp.ServerConfig) (childClient, error) {
			client := mcp.NewMCPClient(cfg)
			if err := client.Connect(ctx); err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

// Run spawns the child and serves requests from in until ctx is canceled or
// in reaches EOF. The child is supervised for the lifetime of Run: a child
// exit triggers a respawn after restartDelay, never a proxy restart.
func (p *Proxy) Run(ctx context.Context) error {
	if err := p.startChild(ctx); err != nil {
		p.logger.Warn("initial child start failed, will retry on next supervision check", "error", err)
	}
	if err := p.startSupervision(ctx); err != nil {
		return fmt.Errorf("schedule child supervision: %w", err)
	}
	defer p.cron.Stop()

	scanner := bufio.NewScanner(p.in)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.handleLine(ctx, line)
	}
	return scanner.Err()
}

func (p *Proxy) startChild(ctx context.Context) error {
	client, err := p.newChild(ctx, p.childConfig)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.child = client
	p.childAlive = true
	p.mu.Unlock()
	p.logger.Info("child MCP server started")
	return nil
}

// startSupervision schedules the child-liveness check on the same
// domain-stack scheduler the observer's periodic sweep uses, rather than a
// hand-rolled ticker loop. The cached initialize/tools/list responses are
// left untouched across a respawn so callers keep seeing tool definitions.
func (p *Proxy) startSupervision(ctx context.Context) error {
	p.cron = cron.New()
	spec := "@every " + p.restartDelay.String()
	if _, err := p.cron.AddFunc(spec, func() { p.checkChild(ctx) }); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

func (p *Proxy) checkChild(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	p.mu.Lock()
	alive := p.childAlive && p.child != nil && p.child.Connected()
	if p.childAlive && !alive {
		p.childAlive = false
	}
	needsRestart := !p.childAlive
	p.mu.Unlock()

	if !needsRestart {
		return
	}
	p.logger.Warn("child MCP server down, respawning", "restart_delay", p.restartDelay.String())
	if err := p.startChild(ctx); err != nil {
		p.logger.Warn("child respawn failed, will retry", "error", err)
	}
}

func (p *Proxy) handleLine(ctx context.Context, line string) {
	var req mcp.JSONRPCRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		p.writeError(nil, mcp.ErrCodeParseError, "parse error")
		return
	}

	switch req.Method {
	case "initialize":
		p.forwardCached(ctx, req, &p.cachedInit)
	case "tools/list":
		p.forwardCached(ctx, req, &p.cachedTools)
	default:
		p.forward(ctx, req)
	}
}

// forwardCached serves method from cache when the child is down, otherwise
// forwards live and refreshes the cache on success.
func (p *Proxy) forwardCached(ctx context.Context, req mcp.JSONRPCRequest, cache *json.RawMessage) {
	p.mu.Lock()
	child := p.child
	alive := p.childAlive
	cached := *cache
	p.mu.Unlock()

	if !alive || child == nil {
		if cached != nil {
			p.writeResult(req.ID, cached)
			return
		}
		p.writeError(req.ID, mcp.ErrCodeInternalError, "child unavailable and no cached response")
		return
	}

	result, err := p.callChild(ctx, child, req)
	if err != nil {
		if cached != nil {
			p.logger.Warn("live call failed, serving cached response", "method", req.Method, "error", err)
			p.writeResult(req.ID, cached)
			return
		}
		p.writeError(req.ID, mcp.ErrCodeInternalError, err.Error())
		return
	}

	p.mu.Lock()
	*cache = result
	p.mu.Unlock()
	p.writeResult(req.ID, result)
}

func (p *Proxy) forward(ctx context.Context, req mcp.JSONRPCRequest) {
	p.mu.Lock()
	child := p.child
	alive := p.childAlive
	p.mu.Unlock()

	if !alive || child == nil {
		p.writeError(req.ID, mcp.ErrCodeInternalError, "child unavailable")
		return
	}

	result, err := p.callChild(ctx, child, req)
	if err != nil {
		p.writeError(req.ID, mcp.ErrCodeInternalError, err.Error())
		return
	}
	p.writeResult(req.ID, result)
}

func (p *Proxy) callChild(ctx context.Context, client childClient, req mcp.JSONRPCRequest) (json.RawMessage, error) {
	var params any
	if len(req.Params) > 0 {
		params = req.Params
	}
	return client.Call(ctx, req.Method, params)
}

func (p *Proxy) writeResult(id any, result json.RawMessage) {
	resp := mcp.JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	p.writeJSON(resp)
}

func (p *Proxy) writeError(id any, code int, message string) {
	resp := mcp.JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &mcp.JSONRPCError{Code: code, Message: message}}
	p.writeJSON(resp)
}

func (p *Proxy) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("failed to marshal proxy response", "error", err)
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	fmt.Fprintln(p.out, string(data))
}
