package runtime

import "sort"

// toolCallAccumulator assembles streamed tool-call chunks, keyed by index,
// into finalized ToolCall values (spec §4.2.2). Backends may emit a tool
// call's id/name on the first chunk for an index and stream its arguments
// across subsequent chunks for the same index.
type toolCallAccumulator struct {
	order   []int
	partial map[int]*partialToolCall
}

type partialToolCall struct {
	id     string
	name   string
	argBuf string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{partial: make(map[int]*partialToolCall)}
}

// Add folds one streamed delta into the accumulator.
func (a *toolCallAccumulator) Add(index int, id, name, argsDelta string) {
	p, ok := a.partial[index]
	if !ok {
		p = &partialToolCall{}
		a.partial[index] = p
		a.order = append(a.order, index)
	}
	if id != "" {
		p.id = id
	}
	if name != "" {
		p.name = name
	}
	p.argBuf += argsDelta
}

// finalizedToolCall pairs a ToolCall with its raw (possibly malformed)
// argument buffer, so the caller can decide how to report a parse failure.
type finalizedToolCall struct {
	ToolCall
	rawArguments string
}

// Finalize returns accumulated tool calls sorted by ascending index, whatever
// order their chunks first arrived in, since the index is the position the
// model emitted each call at (spec §4.2.1's ordering guarantee).
func (a *toolCallAccumulator) Finalize() []finalizedToolCall {
	indices := append([]int(nil), a.order...)
	sort.Ints(indices)

	out := make([]finalizedToolCall, 0, len(indices))
	for _, idx := range indices {
		p := a.partial[idx]
		out = append(out, finalizedToolCall{
			ToolCall:     ToolCall{ID: p.id, Name: p.name, ArgumentsJSON: p.argBuf},
			rawArguments: p.argBuf,
		})
	}
	return out
}

// Empty reports whether any tool-call chunks were accumulated at all.
func (a *toolCallAccumulator) Empty() bool {
	return len(a.partial) == 0
}
