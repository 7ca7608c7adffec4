// Package replay drives a session end-to-end from a line-oriented
// conversation file: a client of the session API, not part of the runtime
// (spec §4.8).
package replay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/orcaforge/orcaforge/internal/runtime"
)

const quitSentinel = "/quit"

// Sender is the session capability a replay drives: one user message in,
// one completed assistant turn out. *runtime.Session satisfies this.
type Sender interface {
	Receive(ctx context.Context, text string) (runtime.AssistantResult, error)
}

// Config controls replay pacing and termination.
type Config struct {
	// TurnTimeout bounds how long one line may take to produce a completed
	// turn before replay stops with OutcomeTimeout. Zero disables the timeout.
	TurnTimeout time.Duration
}

// Outcome records why a replay stopped.
type Outcome string

const (
	OutcomeEOF       Outcome = "eof"
	OutcomeQuit      Outcome = "quit"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error"
	OutcomeCanceled  Outcome = "canceled"
)

// TurnRecord captures one driven line and its result, for the caller to
// inspect or print.
type TurnRecord struct {
	Line    string
	Result  runtime.AssistantResult
	Err     error
	Elapsed time.Duration
}

// ConversationReplay reads non-comment, non-blank lines from a file and
// sends each as a sequential user message, waiting for the turn to
// complete before sending the next.
type ConversationReplay struct {
	sender Sender
	config Config
	logger *slog.Logger
}

// New constructs a ConversationReplay against sender.
func New(sender Sender, config Config, logger *slog.Logger) *ConversationReplay {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationReplay{
		sender: sender,
		config: config,
		logger: logger.With("component", "replay"),
	}
}

// Run drives the session from r until a terminal condition is reached:
// EOF, the explicit "/quit" sentinel, a per-turn timeout, or ctx
// cancellation. It returns every driven turn plus the reason replay
// stopped.
func (c *ConversationReplay) Run(ctx context.Context, r io.Reader) ([]TurnRecord, Outcome, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)

	var records []TurnRecord

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return records, OutcomeCanceled, ctx.Err()
		default:
		}

		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == quitSentinel {
			c.logger.Info("replay stopped on quit sentinel")
			return records, OutcomeQuit, nil
		}

		turnCtx := ctx
		cancel := func() {}
		if c.config.TurnTimeout > 0 {
			turnCtx, cancel = context.WithTimeout(ctx, c.config.TurnTimeout)
		}

		start := time.Now()
		result, err := c.sender.Receive(turnCtx, line)
		elapsed := time.Since(start)
		cancel()

		records = append(records, TurnRecord{Line: line, Result: result, Err: err, Elapsed: elapsed})

		if err != nil {
			if turnCtx.Err() != nil && ctx.Err() == nil {
				c.logger.Warn("turn timed out", "line", line, "timeout", c.config.TurnTimeout.String())
				return records, OutcomeTimeout, fmt.Errorf("replay: turn timed out on %q: %w", line, err)
			}
			c.logger.Warn("turn failed", "line", line, "error", err)
			return records, OutcomeError, err
		}
	}
	if err := scanner.Err(); err != nil {
		return records, OutcomeError, fmt.Errorf("replay: read input: %w", err)
	}
	return records, OutcomeEOF, nil
}
