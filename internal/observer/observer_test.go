package observer

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type fakeIntervener struct {
	calls []string
	err   error
}

func (f *fakeIntervener) Intervene(ctx context.Context, agentID, directive string) error {
	f.calls = append(f.calls, agentID)
	return f.err
}

func drain(t *testing.T, o *Observer) []Alert {
	t.Helper()
	var out []Alert
	for {
		select {
		case a := <-o.Alerts():
			out = append(out, a)
		default:
			return out
		}
	}
}

func TestErrorCascadeThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorCountThreshold = 3
	o := New("s1", cfg, nil, nil, nil)

	now := time.Now()
	for i := 0; i < 2; i++ {
		o.Record(Event{Type: EventError, SessionID: "s1", Timestamp: now.Add(time.Duration(i) * time.Second)})
	}
	if alerts := drain(t, o); len(alerts) != 0 {
		t.Fatalf("expected no alert before threshold, got %+v", alerts)
	}

	o.Record(Event{Type: EventError, SessionID: "s1", Timestamp: now.Add(2 * time.Second)})
	alerts := drain(t, o)
	if len(alerts) != 1 || alerts[0].Type != AlertErrorCascade {
		t.Fatalf("expected one error_cascade alert, got %+v", alerts)
	}
}

func TestToolLoopDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoopThreshold = 3
	o := New("s1", cfg, nil, nil, nil)

	now := time.Now()
	args := `{"path":"a.txt"}`
	for i := 0; i < 2; i++ {
		o.Record(Event{Type: EventToolInvoked, ToolName: "read_file", Arguments: args, Timestamp: now.Add(time.Duration(i) * time.Second)})
	}
	if alerts := drain(t, o); len(alerts) != 0 {
		t.Fatalf("expected no alert before threshold, got %+v", alerts)
	}

	o.Record(Event{Type: EventToolInvoked, ToolName: "read_file", Arguments: args, Timestamp: now.Add(3 * time.Second)})
	alerts := drain(t, o)
	if len(alerts) != 1 || alerts[0].Type != AlertToolLoop {
		t.Fatalf("expected one tool_loop alert, got %+v", alerts)
	}
}

func TestToolLoopIgnoresDifferentArguments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoopThreshold = 3
	o := New("s1", cfg, nil, nil, nil)

	now := time.Now()
	for i := 0; i < 5; i++ {
		args := fmt.Sprintf(`{"path":"file-%d.txt"}`, i)
		o.Record(Event{Type: EventToolInvoked, ToolName: "read_file", Arguments: args, Timestamp: now.Add(time.Duration(i) * time.Second)})
	}
	if alerts := drain(t, o); len(alerts) != 0 {
		t.Fatalf("expected no tool_loop alert for distinct arguments, got %+v", alerts)
	}
}

func TestToolLoopWindowExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoopThreshold = 2
	cfg.LoopWindowSeconds = 10
	o := New("s1", cfg, nil, nil, nil)

	now := time.Now()
	args := `{"q":"x"}`
	o.Record(Event{Type: EventToolInvoked, ToolName: "search", Arguments: args, Timestamp: now})
	o.Record(Event{Type: EventToolInvoked, ToolName: "search", Arguments: args, Timestamp: now.Add(20 * time.Second)})
	if alerts := drain(t, o); len(alerts) != 0 {
		t.Fatalf("expected no alert once the first call aged out of the window, got %+v", alerts)
	}
}

func TestEmptyResponseAlert(t *testing.T) {
	o := New("s1", DefaultConfig(), nil, nil, nil)
	o.Record(Event{Type: EventMessageComplete, Empty: true, Timestamp: time.Now()})
	alerts := drain(t, o)
	if len(alerts) != 1 || alerts[0].Type != AlertEmptyResponse {
		t.Fatalf("expected empty_response alert, got %+v", alerts)
	}
}

func TestPerformanceRegression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaselineSamples = 3
	cfg.RegressionFactor = 2.0
	o := New("s1", cfg, nil, nil, nil)

	now := time.Now()
	for i := 0; i < 3; i++ {
		o.Record(Event{Type: EventMessageComplete, Latency: 100 * time.Millisecond, Timestamp: now})
	}
	if alerts := drain(t, o); len(alerts) != 0 {
		t.Fatalf("expected no alert while establishing baseline, got %+v", alerts)
	}

	o.Record(Event{Type: EventMessageComplete, Latency: 500 * time.Millisecond, Timestamp: now})
	alerts := drain(t, o)
	if len(alerts) != 1 || alerts[0].Type != AlertPerformanceRegression {
		t.Fatalf("expected performance_regression alert, got %+v", alerts)
	}
}

func TestSweepStallRequiresPriorToolCompletion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StallSeconds = 1
	o := New("s1", cfg, nil, nil, nil)

	o.Record(Event{Type: EventMessageComplete, Timestamp: time.Now().Add(-2 * time.Second)})
	o.Sweep(context.Background())
	if alerts := drain(t, o); len(alerts) != 0 {
		t.Fatalf("expected no stall alert when last event wasn't a tool completion, got %+v", alerts)
	}
}

func TestSweepEmitsStallAfterToolCompletion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StallSeconds = 1
	o := New("s1", cfg, nil, nil, nil)

	o.Record(Event{Type: EventToolCompleted, AgentID: "a", Timestamp: time.Now().Add(-2 * time.Second)})
	o.Sweep(context.Background())

	alerts := drain(t, o)
	if len(alerts) != 1 || alerts[0].Type != AlertSessionStall {
		t.Fatalf("expected session_stall alert, got %+v", alerts)
	}
}

func TestActiveModeIntervenesOnStall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StallSeconds = 1
	cfg.ActiveMode = true
	fake := &fakeIntervener{}
	o := New("s1", cfg, fake, nil, nil)

	o.Record(Event{Type: EventToolCompleted, AgentID: "pm", Timestamp: time.Now().Add(-2 * time.Second)})
	o.Sweep(context.Background())

	if len(fake.calls) != 1 || fake.calls[0] != "pm" {
		t.Fatalf("expected one intervention targeting agent pm, got %+v", fake.calls)
	}
}

func TestActiveModeRespectsMaxInterventions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StallSeconds = 1
	cfg.ActiveMode = true
	cfg.MaxInterventions = 1
	fake := &fakeIntervener{}
	o := New("s1", cfg, fake, nil, nil)

	for i := 0; i < 3; i++ {
		o.Record(Event{Type: EventToolCompleted, AgentID: "pm", Timestamp: time.Now().Add(-2 * time.Second)})
		o.Sweep(context.Background())
	}

	if len(fake.calls) != 1 {
		t.Fatalf("expected interventions capped at 1, got %d", len(fake.calls))
	}
}

func TestPassiveModeNeverIntervenes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StallSeconds = 1
	cfg.ActiveMode = false
	fake := &fakeIntervener{}
	o := New("s1", cfg, fake, nil, nil)

	o.Record(Event{Type: EventToolCompleted, AgentID: "pm", Timestamp: time.Now().Add(-2 * time.Second)})
	o.Sweep(context.Background())

	if len(fake.calls) != 0 {
		t.Fatalf("expected no interventions in passive mode, got %+v", fake.calls)
	}
}
