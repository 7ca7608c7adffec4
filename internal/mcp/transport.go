package mcp

import (
	"context"
	"encoding/json"
)

// Transport is the capability shared by stdio, WebSocket, and SSE: connect,
// send a request and await its response, close, plus an outbound
// notification sink (spec §4.6).
type Transport interface {
	Connect(ctx context.Context) error
	Close() error

	// Call sends a request and blocks for its matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a one-way notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Events delivers server-initiated notifications.
	Events() <-chan *JSONRPCNotification

	Connected() bool
}

// NewTransport builds the Transport named by cfg.Transport, defaulting to
// stdio when unset.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.Transport {
	case TransportWebSocket:
		return NewWebSocketTransport(cfg)
	case TransportSSE:
		return NewSSETransport(cfg)
	default:
		return NewStdioTransport(cfg)
	}
}
