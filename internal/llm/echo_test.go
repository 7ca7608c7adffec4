package llm

import (
	"context"
	"testing"
)

func TestEchoBackendEchoesLastUserMessage(t *testing.T) {
	backend := EchoBackend{}
	req := Request{Messages: []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}}

	ch, err := backend.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var content string
	var finished bool
	for ev := range ch {
		if ev.ContentDelta != "" {
			content += ev.ContentDelta
		}
		if ev.Finished {
			finished = true
		}
	}
	if content != "second" {
		t.Errorf("expected to echo the last user message, got %q", content)
	}
	if !finished {
		t.Error("expected a finished event")
	}
}

func TestEchoBackendName(t *testing.T) {
	if EchoBackend{}.Name() != "echo" {
		t.Error("expected backend name echo")
	}
}
