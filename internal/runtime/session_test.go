package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orcaforge/orcaforge/internal/agents"
	"github.com/orcaforge/orcaforge/internal/llm"
	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

// trackingBackend records the peak number of concurrent Stream calls, to
// prove a session's turns never overlap.
type trackingBackend struct {
	inFlight int32
	peak     int32
}

func (b *trackingBackend) Name() string { return "tracking" }

func (b *trackingBackend) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	cur := atomic.AddInt32(&b.inFlight, 1)
	for {
		p := atomic.LoadInt32(&b.peak)
		if cur <= p || atomic.CompareAndSwapInt32(&b.peak, p, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&b.inFlight, -1)

	ch := make(chan llm.Event, 1)
	ch <- llm.Event{ContentDelta: "ok", Finished: true}
	close(ch)
	return ch, nil
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	reg := agents.New()
	if err := reg.Register(testAgentDescriptor("a")); err != nil {
		t.Fatalf("register: %v", err)
	}
	backend := &scriptedBackend{batches: [][]llm.Event{{{ContentDelta: "hi", Finished: true}}}}
	tools := toolregistry.New(nil)
	factory := NewRuntimeFactory(tools, backend, nil, nil)
	return NewSession("sess-1", reg, factory, "a", nil)
}

func testAgentDescriptor(id string) agents.Descriptor {
	return agents.Descriptor{ID: id, Name: "Agent " + id, ContinuationPolicy: agents.ContinuationPolicy{MaxDepth: 3}}
}

func TestSessionLazilyInstantiatesRuntime(t *testing.T) {
	s := newTestSession(t)
	rt, err := s.RuntimeFor("a")
	if err != nil {
		t.Fatalf("RuntimeFor: %v", err)
	}
	rt2, err := s.RuntimeFor("a")
	if err != nil {
		t.Fatalf("RuntimeFor second call: %v", err)
	}
	if rt != rt2 {
		t.Fatal("expected cached runtime instance on second call")
	}
}

func TestSessionReceiveDrivesActiveRuntime(t *testing.T) {
	s := newTestSession(t)
	res, err := s.Receive(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if res.Content != "hi" {
		t.Fatalf("got %q", res.Content)
	}
}

func TestSessionSwitchActiveAgent(t *testing.T) {
	s := newTestSession(t)
	if s.ActiveAgentID() != "a" {
		t.Fatalf("expected default active agent 'a', got %q", s.ActiveAgentID())
	}
	s.SetActiveAgentID("b")
	if s.ActiveAgentID() != "b" {
		t.Fatalf("expected active agent 'b', got %q", s.ActiveAgentID())
	}
}

// TestSessionSerializesConcurrentReceives pins down spec §5: within one
// session, only one turn executes at a time, and concurrent callers queue
// rather than interleave.
func TestSessionSerializesConcurrentReceives(t *testing.T) {
	reg := agents.New()
	if err := reg.Register(testAgentDescriptor("a")); err != nil {
		t.Fatalf("register: %v", err)
	}
	backend := &trackingBackend{}
	tools := toolregistry.New(nil)
	factory := NewRuntimeFactory(tools, backend, nil, nil)
	s := NewSession("sess-1", reg, factory, "a", nil)

	const callers = 8
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.Receive(context.Background(), "hi"); err != nil {
				t.Errorf("Receive: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := atomic.LoadInt32(&backend.peak); peak != 1 {
		t.Fatalf("expected at most 1 concurrent turn, observed peak concurrency %d", peak)
	}

	rt, err := s.RuntimeFor("a")
	if err != nil {
		t.Fatalf("RuntimeFor: %v", err)
	}
	if got := len(rt.History()); got != callers*2 {
		t.Fatalf("expected %d history entries (user+assistant per call), got %d", callers*2, got)
	}
}

func TestSessionSenderMayBeNil(t *testing.T) {
	s := newTestSession(t)
	s.AttachSender(nil)
	if _, err := s.Receive(context.Background(), "hi"); err != nil {
		t.Fatalf("expected Receive to tolerate nil sender, got %v", err)
	}
}
