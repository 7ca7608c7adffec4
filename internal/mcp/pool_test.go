package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func poolWithFake(t *testing.T) (*ConnectionPool, map[string]*fakeTransport) {
	t.Helper()
	made := make(map[string]*fakeTransport)
	pool := NewConnectionPool(nil)
	pool.connect = func(ctx context.Context, cfg *ServerConfig) (*MCPClient, error) {
		ft := newFakeTransport()
		ft.responses["initialize"] = mustJSON(t, InitializeResult{ServerInfo: ServerInfo{Name: cfg.ID}})
		made[cfg.Endpoint()] = ft
		client := &MCPClient{config: cfg, transport: ft, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
	return pool, made
}

func TestConnectionPoolReusesConnectedClient(t *testing.T) {
	pool, made := poolWithFake(t)
	cfg := &ServerConfig{ID: "one", Command: "server"}

	first, err := pool.Get(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := pool.Get(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("expected the same cached client on the second Get")
	}
	if len(made) != 1 {
		t.Errorf("expected connect to run once, ran %d times", len(made))
	}
}

func TestConnectionPoolReconnectsDisconnectedClient(t *testing.T) {
	pool, made := poolWithFake(t)
	cfg := &ServerConfig{ID: "two", Command: "server"}

	first, err := pool.Get(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first.transport.(*fakeTransport).connected = false

	second, err := pool.Get(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first == second {
		t.Error("expected a fresh client after disconnection")
	}
	if len(made) != 1 {
		t.Errorf("expected one entry in the fake transport map, got %d", len(made))
	}
}

func TestConnectionPoolDistinguishesEndpoints(t *testing.T) {
	pool, made := poolWithFake(t)

	_, err := pool.Get(context.Background(), &ServerConfig{ID: "a", Command: "server-a"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_, err = pool.Get(context.Background(), &ServerConfig{ID: "b", Command: "server-b"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(made) != 2 {
		t.Errorf("expected two distinct connections, got %d", len(made))
	}
}

func TestConnectionPoolGetPropagatesConnectError(t *testing.T) {
	pool := NewConnectionPool(nil)
	wantErr := fmt.Errorf("refused")
	pool.connect = func(ctx context.Context, cfg *ServerConfig) (*MCPClient, error) {
		return nil, wantErr
	}
	_, err := pool.Get(context.Background(), &ServerConfig{ID: "bad"})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestConnectionPoolRemove(t *testing.T) {
	pool, _ := poolWithFake(t)
	cfg := &ServerConfig{ID: "rm", Command: "server"}

	client, err := pool.Get(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	pool.Remove(cfg)
	if client.Connected() {
		t.Error("expected Remove to close the client")
	}

	pool.mu.Lock()
	_, exists := pool.clients[cfg.Endpoint()]
	pool.mu.Unlock()
	if exists {
		t.Error("expected Remove to evict the cache entry")
	}
}

func TestConnectionPoolCloseAll(t *testing.T) {
	pool, _ := poolWithFake(t)
	a, err := pool.Get(context.Background(), &ServerConfig{ID: "a", Command: "server-a"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := pool.Get(context.Background(), &ServerConfig{ID: "b", Command: "server-b"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	pool.CloseAll()
	if a.Connected() || b.Connected() {
		t.Error("expected CloseAll to close every cached client")
	}
}
