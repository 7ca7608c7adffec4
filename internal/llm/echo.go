package llm

import "context"

// EchoBackend is a vendor-free Backend that turns the last user message
// into a single content event. It exists so cmd/orcaforge can run standalone
// (replay, smoke-testing a gateway) without depending on any model vendor's
// SDK — vendor wiring is left to the deployment, per spec.md §1's treatment
// of LLMBackend as an external collaborator.
type EchoBackend struct{}

func (EchoBackend) Name() string { return "echo" }

func (EchoBackend) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}

	ch := make(chan Event, 2)
	ch <- Event{ContentDelta: last}
	ch <- Event{Finished: true, Usage: &Usage{PromptTokens: len(req.Messages), CompletionTokens: 1, TotalTokens: len(req.Messages) + 1}}
	close(ch)
	return ch, nil
}
