// Package observer implements non-intrusive session monitoring: stall,
// error-cascade, tool-loop, performance-regression, and empty-response
// detectors over one session's event stream, with optional active
// intervention (spec §4.5). One Observer is attached per Session (spec §3's
// "observer (nullable)" session field).
package observer

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Intervener is the capability the Observer needs to recover a stalled
// agent: inject a directive and re-run its turn loop. runtime.Session's
// Intervene also returns the turn's result, so internal/gateway adapts it
// to this interface; this package does not import internal/runtime.
type Intervener interface {
	Intervene(ctx context.Context, agentID, directive string) error
}

// Observer monitors one session's lifecycle events, runs the spec §4.5
// detectors, and emits alerts on a bounded channel. In active mode it also
// drives recovery via an Intervener.
type Observer struct {
	sessionID  string
	config     Config
	intervener Intervener
	metrics    *Metrics
	logger     *slog.Logger

	state *sessionState

	alerts chan Alert
	cron   *cron.Cron
}

// New constructs an Observer for one session. intervener may be nil;
// active-mode interventions are then skipped (alerts still emit).
func New(sessionID string, config Config, intervener Intervener, metrics *Metrics, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		sessionID:  sessionID,
		config:     config,
		intervener: intervener,
		metrics:    metrics,
		logger:     logger.With("component", "observer", "session", sessionID),
		state:      newSessionState(),
		alerts:     make(chan Alert, 64),
	}
}

// Alerts returns the channel alerts are published on. The caller (spec §6's
// dedicated alert channel) must drain it; a full channel drops the newest
// alert rather than blocking the turn loop.
func (o *Observer) Alerts() <-chan Alert {
	return o.alerts
}

// Start schedules the periodic stall sweep using the spec's
// domain-stack scheduler instead of a hand-rolled ticker loop.
func (o *Observer) Start(ctx context.Context) error {
	o.cron = cron.New()
	spec := "@every " + o.config.SweepInterval.String()
	_, err := o.cron.AddFunc(spec, func() { o.Sweep(ctx) })
	if err != nil {
		return err
	}
	o.cron.Start()
	return nil
}

// Stop halts the periodic sweep. Already-emitted alerts remain on the
// channel for the caller to drain.
func (o *Observer) Stop() {
	if o.cron != nil {
		o.cron.Stop()
	}
}

// Record feeds one session event to the relevant detector (spec §4.5).
// Stall detection is driven by Sweep; the other four detectors evaluate
// inline, on the triggering event.
func (o *Observer) Record(ev Event) {
	o.state.mu.Lock()
	o.state.lastActivity = ev.Timestamp
	if ev.AgentID != "" {
		o.state.lastAgentID = ev.AgentID
	}
	switch ev.Type {
	case EventToolCompleted:
		o.state.lastEventWasToolEnd = true
	case EventMessageComplete:
		o.state.lastEventWasToolEnd = false
	}
	o.state.mu.Unlock()

	switch ev.Type {
	case EventError:
		o.state.mu.Lock()
		hit := o.state.recordError(ev.Timestamp, o.config)
		o.state.mu.Unlock()
		if hit {
			o.emit(Alert{
				Type:      AlertErrorCascade,
				SessionID: o.sessionID,
				AgentID:   ev.AgentID,
				Detail:    "error cascade threshold reached",
				Timestamp: ev.Timestamp,
			})
		}

	case EventToolInvoked:
		o.state.mu.Lock()
		hit := o.state.recordToolCall(ev.ToolName, ev.Arguments, ev.Timestamp, o.config)
		o.state.mu.Unlock()
		if hit {
			o.emit(Alert{
				Type:      AlertToolLoop,
				SessionID: o.sessionID,
				AgentID:   ev.AgentID,
				Detail:    "tool " + ev.ToolName + " invoked repeatedly with identical arguments",
				Timestamp: ev.Timestamp,
			})
		}

	case EventMessageComplete:
		if ev.Empty {
			o.emit(Alert{
				Type:      AlertEmptyResponse,
				SessionID: o.sessionID,
				AgentID:   ev.AgentID,
				Detail:    "assistant message had no content, reasoning, or tool calls",
				Timestamp: ev.Timestamp,
			})
		}
		o.state.mu.Lock()
		regressed := o.state.recordLatency(ev.Latency, o.config)
		o.state.mu.Unlock()
		if regressed {
			o.emit(Alert{
				Type:      AlertPerformanceRegression,
				SessionID: o.sessionID,
				AgentID:   ev.AgentID,
				Detail:    "rolling mean latency exceeds regression factor over baseline",
				Timestamp: ev.Timestamp,
			})
		}
	}
}

// Sweep runs the stall detector and, in active mode, attempts recovery.
// Exported so a caller without a cron scheduler (e.g. ConversationReplay)
// can drive it directly. Performance budget: this must stay well under 5%
// of turn latency (spec §4.5), so it only takes the state's short-held
// mutex and never calls the backend itself.
func (o *Observer) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() { o.metrics.observeSweep(time.Since(start).Seconds()) }()

	now := time.Now()
	o.state.mu.Lock()
	since := now.Sub(o.state.lastActivity)
	stalled := o.state.lastEventWasToolEnd && since > o.config.stallWindow()
	canIntervene := stalled && o.config.ActiveMode && o.state.interventions < o.config.MaxInterventions
	agentID := o.state.lastAgentID
	if canIntervene {
		o.state.interventions++
	}
	o.state.mu.Unlock()

	if !stalled {
		return
	}
	o.emit(Alert{
		Type:      AlertSessionStall,
		SessionID: o.sessionID,
		AgentID:   agentID,
		Detail:    stallDetail(since),
		Timestamp: now,
	})

	if canIntervene {
		o.intervene(ctx, agentID)
	}
}

func (o *Observer) intervene(ctx context.Context, agentID string) {
	if o.intervener == nil || agentID == "" {
		return
	}
	directive := "You appear stalled after a tool completion. Continue the task or report what's blocking you."
	if err := o.intervener.Intervene(ctx, agentID, directive); err != nil {
		o.logger.Warn("intervention failed", "agent", agentID, "error", err)
		return
	}
	o.metrics.recordIntervention(o.sessionID)
}

func (o *Observer) emit(alert Alert) {
	o.metrics.recordAlert(alert.Type)
	select {
	case o.alerts <- alert:
	default:
		o.logger.Warn("alert channel full, dropping", "type", alert.Type)
	}
}
