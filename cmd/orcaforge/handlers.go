package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orcaforge/orcaforge/internal/agents"
	"github.com/orcaforge/orcaforge/internal/config"
	"github.com/orcaforge/orcaforge/internal/gateway"
	"github.com/orcaforge/orcaforge/internal/handoff"
	"github.com/orcaforge/orcaforge/internal/llm"
	"github.com/orcaforge/orcaforge/internal/mailbox"
	"github.com/orcaforge/orcaforge/internal/mcp"
	"github.com/orcaforge/orcaforge/internal/mcp/proxy"
	"github.com/orcaforge/orcaforge/internal/observer"
	"github.com/orcaforge/orcaforge/internal/policy"
	"github.com/orcaforge/orcaforge/internal/replay"
	"github.com/orcaforge/orcaforge/internal/runtime"
	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

// loadLogger builds the process-wide logger at the level the config names.
func loadLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// buildAgentRegistry loads the agent manifest, if configured, into a fresh
// registry. Tool behavior is a deployment concern (spec.md §1): the tool
// registry that runServe and runReplay build beside it holds only the
// send_mail tool; concrete tools are left to deployment-specific code.
func buildAgentRegistry(cfg *config.Config, logger *slog.Logger) (*agents.Registry, error) {
	reg := agents.New()
	if cfg.Agents.ManifestPath == "" {
		return reg, nil
	}
	if err := reg.LoadManifest(cfg.Agents.ManifestPath); err != nil {
		return nil, fmt.Errorf("load agent manifest: %w", err)
	}
	logger.Info("loaded agent manifest", "path", cfg.Agents.ManifestPath, "agents", len(reg.All()))
	return reg, nil
}

// buildMailbox returns a sqlite-backed mailbox when the config names a
// database path, or the default in-memory mailbox otherwise.
func buildMailbox(cfg *config.Config, logger *slog.Logger) (*mailbox.Mailbox, error) {
	if cfg.Mailbox.SQLitePath == "" {
		return mailbox.New(), nil
	}
	store, err := mailbox.OpenSQLStore(cfg.Mailbox.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open mailbox store: %w", err)
	}
	logger.Info("mailbox persisting to sqlite", "path", cfg.Mailbox.SQLitePath)
	return mailbox.NewWithStore(store), nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := loadLogger(cfg)
	logger.Info("starting orcaforge gateway", "version", version, "commit", commit, "config", configPath)

	if _, err := policy.New(cfg.Workspace.Root, cfg.Workspace.OutputRoot); err != nil {
		return fmt.Errorf("configure path policy: %w", err)
	}

	agentReg, err := buildAgentRegistry(cfg, logger)
	if err != nil {
		return err
	}
	toolReg := toolregistry.New(logger)
	if err := toolReg.Register(handoff.ToolDefinition()); err != nil {
		return fmt.Errorf("register send_mail tool: %w", err)
	}
	mail, err := buildMailbox(cfg, logger)
	if err != nil {
		return err
	}
	mcpPool := mcp.NewConnectionPool(logger)
	metrics := observer.NewMetrics()

	srv := gateway.NewServer(gateway.Config{
		AgentRegistry:  agentReg,
		ToolRegistry:   toolReg,
		Backend:        llm.EchoBackend{},
		Mailbox:        mail,
		MCPPool:        mcpPool,
		DefaultAgentID: cfg.Agents.DefaultAgentID,
		ObserverConfig: cfg.Observer.ToObserverConfig(),
		Metrics:        metrics,
		ResultGuard:    cfg.ToolGuard.ToToolResultGuard(),
		Approval:       cfg.Approval.ToApprovalChecker(),
		Logger:         logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	httpServer := &http.Server{Addr: cfg.Server.Addr(), Handler: mux}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Server.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown gateway: %w", err)
	}
	logger.Info("orcaforge gateway stopped")
	return nil
}

func runReplay(ctx context.Context, configPath, file string, turnTimeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := loadLogger(cfg)

	agentReg, err := buildAgentRegistry(cfg, logger)
	if err != nil {
		return err
	}
	toolReg := toolregistry.New(logger)
	if err := toolReg.Register(handoff.ToolDefinition()); err != nil {
		return fmt.Errorf("register send_mail tool: %w", err)
	}
	mail := mailbox.New()

	fwd := &forwardingHandoffDispatcher{}
	factory := runtime.NewRuntimeFactoryWithGuards(toolReg, llm.EchoBackend{}, fwd, logger, cfg.ToolGuard.ToToolResultGuard(), cfg.Approval.ToApprovalChecker())
	session := runtime.NewSession("replay", agentReg, factory, cfg.Agents.DefaultAgentID, logger)
	fwd.target = handoff.New(session, agentReg, mail, logger)

	r := replay.New(session, replay.Config{TurnTimeout: turnTimeout}, logger)

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open replay file %q: %w", file, err)
	}
	defer f.Close()

	records, outcome, err := r.Run(ctx, f)
	for _, rec := range records {
		if rec.Err != nil {
			fmt.Printf("> %s\n! error: %v\n", rec.Line, rec.Err)
			continue
		}
		fmt.Printf("> %s\n%s\n", rec.Line, rec.Result.Content)
	}
	logger.Info("replay finished", "outcome", outcome, "turns", len(records))
	return err
}

// forwardingHandoffDispatcher breaks the Session/Handler construction cycle,
// the same way internal/gateway's Conn does for a live connection.
type forwardingHandoffDispatcher struct {
	target *handoff.Handler
}

func (f *forwardingHandoffDispatcher) Dispatch(ctx context.Context, call runtime.ToolCall) (toolregistry.StructuredResult, bool) {
	if f.target == nil {
		return toolregistry.StructuredResult{}, false
	}
	return f.target.Dispatch(ctx, call)
}

func runMCPProxy(ctx context.Context, serverConfigPath string) error {
	data, err := os.ReadFile(serverConfigPath)
	if err != nil {
		return fmt.Errorf("read mcp server config %q: %w", serverConfigPath, err)
	}
	var serverCfg mcp.ServerConfig
	if err := yaml.Unmarshal(data, &serverCfg); err != nil {
		return fmt.Errorf("parse mcp server config %q: %w", serverConfigPath, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := proxy.New(&serverCfg, os.Stdin, os.Stdout, logger)
	return p.Run(ctx)
}
