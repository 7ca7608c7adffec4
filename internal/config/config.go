// Package config loads cmd/orcaforge's YAML configuration: the gateway's
// listen address, the workspace/output roots PathPolicy enforces, the
// agent manifest path, MCP server definitions, and Observer thresholds.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orcaforge/orcaforge/internal/guard"
	"github.com/orcaforge/orcaforge/internal/mcp"
	"github.com/orcaforge/orcaforge/internal/observer"
)

// Config is the root configuration structure for cmd/orcaforge.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Agents    AgentsConfig    `yaml:"agents"`
	MCP       MCPConfig       `yaml:"mcp"`
	Observer  ObserverConfig  `yaml:"observer"`
	Logging   LoggingConfig   `yaml:"logging"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	ToolGuard ToolGuardConfig `yaml:"tool_guard"`
	Approval  ApprovalConfig  `yaml:"approval"`
}

// ServerConfig configures the gateway's HTTP/WebSocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkspaceConfig configures the two roots PathPolicy enforces (spec §5).
type WorkspaceConfig struct {
	Root       string `yaml:"root"`
	OutputRoot string `yaml:"output_root"`
}

// AgentsConfig locates the agent manifest and names the default agent a
// new session starts on.
type AgentsConfig struct {
	ManifestPath   string `yaml:"manifest_path"`
	DefaultAgentID string `yaml:"default_agent_id"`
}

// MailboxConfig controls mailbox durability. Empty SQLitePath keeps the
// default in-memory, session-scoped mailbox; a non-empty path also writes
// every message to a sqlite-backed Store. A restarted process does not read
// that mail back into its mailbox.
type MailboxConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MCPConfig lists external MCP server definitions, each entry decoded
// straight into mcp.ServerConfig (already yaml-tagged). cmd/orcaforge does
// not read this list: it connects to none of these servers and registers
// none of their tools.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

// ObserverConfig mirrors observer.Config with yaml tags; ToObserverConfig
// converts it, applying the spec's documented defaults for anything left
// at its zero value.
type ObserverConfig struct {
	StallSeconds        int     `yaml:"stall_seconds"`
	ErrorCountThreshold int     `yaml:"error_count_threshold"`
	ErrorWindowSeconds  int     `yaml:"error_window_seconds"`
	LoopThreshold       int     `yaml:"loop_threshold"`
	LoopWindowSeconds   int     `yaml:"loop_window_seconds"`
	RegressionFactor    float64 `yaml:"regression_factor"`
	BaselineSamples     int     `yaml:"baseline_samples"`
	MaxInterventions    int     `yaml:"max_interventions"`
	ActiveMode          bool    `yaml:"active_mode"`
	SweepIntervalMS     int     `yaml:"sweep_interval_ms"`
}

// ToObserverConfig converts the yaml-tagged shape into observer.Config,
// filling any zero-valued threshold from observer.DefaultConfig so a
// config file only needs to name what it overrides.
func (c ObserverConfig) ToObserverConfig() observer.Config {
	d := observer.DefaultConfig()
	out := d
	if c.StallSeconds != 0 {
		out.StallSeconds = c.StallSeconds
	}
	if c.ErrorCountThreshold != 0 {
		out.ErrorCountThreshold = c.ErrorCountThreshold
	}
	if c.ErrorWindowSeconds != 0 {
		out.ErrorWindowSeconds = c.ErrorWindowSeconds
	}
	if c.LoopThreshold != 0 {
		out.LoopThreshold = c.LoopThreshold
	}
	if c.LoopWindowSeconds != 0 {
		out.LoopWindowSeconds = c.LoopWindowSeconds
	}
	if c.RegressionFactor != 0 {
		out.RegressionFactor = c.RegressionFactor
	}
	if c.BaselineSamples != 0 {
		out.BaselineSamples = c.BaselineSamples
	}
	if c.MaxInterventions != 0 {
		out.MaxInterventions = c.MaxInterventions
	}
	out.ActiveMode = c.ActiveMode
	if c.SweepIntervalMS != 0 {
		out.SweepInterval = time.Duration(c.SweepIntervalMS) * time.Millisecond
	}
	return out
}

// ToolGuardConfig configures the optional redaction/truncation pass over
// tool results (guard.ToolResultGuard). Off by default (Enabled false and
// every other field at its zero value).
type ToolGuardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxChars        int      `yaml:"max_chars"`
	Denylist        []string `yaml:"denylist"`
	RedactPatterns  []string `yaml:"redact_patterns"`
	SanitizeSecrets bool     `yaml:"sanitize_secrets"`
}

// ToToolResultGuard converts the yaml-tagged shape into guard.ToolResultGuard.
func (c ToolGuardConfig) ToToolResultGuard() guard.ToolResultGuard {
	return guard.ToolResultGuard{
		Enabled:         c.Enabled,
		MaxChars:        c.MaxChars,
		Denylist:        c.Denylist,
		RedactPatterns:  c.RedactPatterns,
		SanitizeSecrets: c.SanitizeSecrets,
	}
}

// ApprovalConfig configures the optional approval gate (guard.ApprovalChecker)
// in front of tool execution. Off (Enabled false) by default, in which case
// cmd/orcaforge never constructs a checker and every tool call runs as
// before.
type ApprovalConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Allowlist       []string `yaml:"allowlist"`
	Denylist        []string `yaml:"denylist"`
	RequireApproval []string `yaml:"require_approval"`
	AskFallback     bool     `yaml:"ask_fallback"`
}

// ToApprovalChecker returns nil when the config leaves approval disabled;
// otherwise a checker whose default policy is built from this config.
func (c ApprovalConfig) ToApprovalChecker() *guard.ApprovalChecker {
	if !c.Enabled {
		return nil
	}
	policy := guard.ApprovalPolicy{
		Allowlist:       c.Allowlist,
		Denylist:        c.Denylist,
		RequireApproval: c.RequireApproval,
		DefaultDecision: guard.ApprovalAllowed,
		AskFallback:     c.AskFallback,
	}
	return guard.NewApprovalChecker(policy)
}

// LoggingConfig configures the process-wide slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads, expands environment variables in, and decodes a YAML
// configuration file, applying defaults and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config: %q must contain a single YAML document", path)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if cfg.Agents.DefaultAgentID == "" {
		cfg.Agents.DefaultAgentID = "a"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", cfg.Server.Port)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	return nil
}
