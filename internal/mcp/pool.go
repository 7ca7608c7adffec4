package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ConnectionPool caches one MCPClient per ServerConfig.Endpoint so that
// repeated lookups for the same server reuse a live connection instead of
// reconnecting (spec §4.6). Get health-checks the cached client and
// reconnects transparently if it has dropped.
type ConnectionPool struct {
	mu      sync.Mutex
	clients map[string]*MCPClient
	logger  *slog.Logger

	// connect builds and connects a client for cfg. Overridden in tests to
	// avoid spawning real subprocesses or dialing real endpoints.
	connect func(ctx context.Context, cfg *ServerConfig) (*MCPClient, error)
}

func NewConnectionPool(logger *slog.Logger) *ConnectionPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionPool{
		clients: make(map[string]*MCPClient),
		logger:  logger.With("component", "mcp_pool"),
		connect: func(ctx context.Context, cfg *ServerConfig) (*MCPClient, error) {
			client := NewMCPClient(cfg)
			if err := client.Connect(ctx); err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

// Get returns a connected client for cfg, creating and connecting a new one
// if none is cached or the cached one has disconnected.
func (p *ConnectionPool) Get(ctx context.Context, cfg *ServerConfig) (*MCPClient, error) {
	key := cfg.Endpoint()

	p.mu.Lock()
	client, exists := p.clients[key]
	p.mu.Unlock()

	if exists && client.Connected() {
		return client, nil
	}
	if exists {
		p.logger.Warn("cached MCP client disconnected, reconnecting", "endpoint", key)
	}

	client, err := p.connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mcp: pool connect %s: %w", key, err)
	}

	p.mu.Lock()
	p.clients[key] = client
	p.mu.Unlock()
	return client, nil
}

// Remove closes and evicts the cached client for cfg, if any.
func (p *ConnectionPool) Remove(cfg *ServerConfig) {
	key := cfg.Endpoint()
	p.mu.Lock()
	client, exists := p.clients[key]
	delete(p.clients, key)
	p.mu.Unlock()
	if exists {
		client.Close()
	}
}

// HealthCheckAll refreshes the tool list of every cached client concurrently,
// surfacing any client whose connection has silently dropped. Clients are
// independent of each other, so the sweep runs them in parallel rather than
// one at a time.
func (p *ConnectionPool) HealthCheckAll(ctx context.Context) error {
	p.mu.Lock()
	clients := make(map[string]*MCPClient, len(p.clients))
	for k, c := range p.clients {
		clients[k] = c
	}
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for endpoint, client := range clients {
		endpoint, client := endpoint, client
		g.Go(func() error {
			if !client.Connected() {
				p.Remove(client.config)
				return fmt.Errorf("mcp: pool health check %s: disconnected", endpoint)
			}
			if err := client.RefreshTools(ctx); err != nil {
				return fmt.Errorf("mcp: pool health check %s: %w", endpoint, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CloseAll closes every cached client, used at process shutdown.
func (p *ConnectionPool) CloseAll() {
	p.mu.Lock()
	clients := make([]*MCPClient, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.clients = make(map[string]*MCPClient)
	p.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
