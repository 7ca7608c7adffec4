package runtime

import "testing"

func TestAccumulatorAssemblesChunksByIndex(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Add(0, "call_1", "search", `{"query":`)
	acc.Add(0, "", "", `"golang"}`)
	acc.Add(1, "call_2", "read_file", `{"path":"a.go"}`)

	out := acc.Finalize()
	if len(out) != 2 {
		t.Fatalf("expected 2 finalized calls, got %d", len(out))
	}
	if out[0].ID != "call_1" || out[0].Name != "search" || out[0].ArgumentsJSON != `{"query":"golang"}` {
		t.Fatalf("unexpected first call: %+v", out[0])
	}
	if out[1].ID != "call_2" || out[1].Name != "read_file" {
		t.Fatalf("unexpected second call: %+v", out[1])
	}
}

func TestAccumulatorEmpty(t *testing.T) {
	acc := newToolCallAccumulator()
	if !acc.Empty() {
		t.Fatal("expected new accumulator to be empty")
	}
	acc.Add(0, "id", "name", "{}")
	if acc.Empty() {
		t.Fatal("expected non-empty after Add")
	}
}

func TestAccumulatorPreservesEmissionOrder(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Add(2, "c", "third", "{}")
	acc.Add(0, "a", "first", "{}")
	acc.Add(1, "b", "second", "{}")

	out := acc.Finalize()
	if len(out) != 3 {
		t.Fatalf("expected 3, got %d", len(out))
	}
	names := []string{out[0].Name, out[1].Name, out[2].Name}
	if names[0] != "first" || names[1] != "second" || names[2] != "third" {
		t.Fatalf("expected index order, got %v", names)
	}
}
