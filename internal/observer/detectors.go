package observer

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type toolCallRecord struct {
	key       string
	timestamp time.Time
}

// sessionState accumulates the per-session history each detector needs.
// One instance exists per session id for the lifetime of the Observer.
type sessionState struct {
	mu sync.Mutex

	lastActivity        time.Time
	lastEventWasToolEnd bool
	lastAgentID         string

	errorTimestamps []time.Time
	toolCalls       []toolCallRecord

	latencies []time.Duration
	baseline  time.Duration

	interventions int
}

func newSessionState() *sessionState {
	return &sessionState{lastActivity: time.Now()}
}

// normalizeArgs re-marshals a JSON arguments payload with sorted keys so
// equivalent argument sets compare equal regardless of field order. Falls
// back to the raw string if it isn't valid JSON.
func normalizeArgs(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return string(b)
}

// recordError appends an error timestamp, prunes entries outside the
// window, and reports whether the cascade threshold is now met.
func (s *sessionState) recordError(now time.Time, cfg Config) bool {
	s.errorTimestamps = append(s.errorTimestamps, now)
	s.errorTimestamps = pruneBefore(s.errorTimestamps, now.Add(-cfg.errorWindow()))
	return len(s.errorTimestamps) >= cfg.ErrorCountThreshold
}

// recordToolCall appends a tool-invocation record, prunes entries outside
// the window, and reports whether the same tool+args combination has now
// been seen loopThreshold times within it.
func (s *sessionState) recordToolCall(toolName, args string, now time.Time, cfg Config) bool {
	key := toolName + ":" + normalizeArgs(args)
	s.toolCalls = append(s.toolCalls, toolCallRecord{key: key, timestamp: now})

	cutoff := now.Add(-cfg.loopWindow())
	kept := s.toolCalls[:0]
	count := 0
	for _, rec := range s.toolCalls {
		if rec.timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, rec)
		if rec.key == key {
			count++
		}
	}
	s.toolCalls = kept
	return count >= cfg.LoopThreshold
}

// recordLatency appends a messageComplete latency sample, establishes the
// baseline from the first BaselineSamples observations, and reports
// whether the rolling mean now exceeds RegressionFactor times baseline.
func (s *sessionState) recordLatency(latency time.Duration, cfg Config) bool {
	s.latencies = append(s.latencies, latency)

	if s.baseline == 0 {
		if len(s.latencies) < cfg.BaselineSamples {
			return false
		}
		s.baseline = meanDuration(s.latencies[:cfg.BaselineSamples])
		return false
	}

	window := cfg.BaselineSamples
	if window > len(s.latencies) {
		window = len(s.latencies)
	}
	rolling := meanDuration(s.latencies[len(s.latencies)-window:])
	return float64(rolling) > cfg.RegressionFactor*float64(s.baseline)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func meanDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}

func stallDetail(since time.Duration) string {
	return fmt.Sprintf("no messageComplete for %s since last activity", since.Round(time.Second))
}
