package agents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

// manifestFile is the on-disk shape of an AGENTS.yaml manifest.
type manifestFile struct {
	Agents []manifestAgent `yaml:"agents"`
}

type manifestAgent struct {
	ID            string                 `yaml:"id"`
	Name          string                 `yaml:"name"`
	Role          string                 `yaml:"role"`
	PromptFile    string                 `yaml:"prompt_file"`
	ToolSelectors manifestToolSelectors  `yaml:"tool_selectors"`
	Continuation  manifestContinuation   `yaml:"continuation_policy"`
	Model         manifestModelPrefs     `yaml:"model_prefs"`
}

type manifestToolSelectors struct {
	Sets  []string `yaml:"sets"`
	Tags  []string `yaml:"tags"`
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

type manifestContinuation struct {
	RequireExplicitSignal bool     `yaml:"require_explicit_signal"`
	MaxDepth              int      `yaml:"max_depth"`
	SingleToolPerStep     bool     `yaml:"single_tool_per_step"`
	ContinueSignal        string   `yaml:"continue_signal"`
	AutoContinueTools     []string `yaml:"auto_continue_tools"`
}

type manifestModelPrefs struct {
	ModelID     string  `yaml:"model_id"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// LoadManifest reads an AGENTS.yaml file and registers every agent it
// declares. It supplements, never replaces, in-code registration — callers
// typically Register() a few built-in agents and then LoadManifest() to
// pull in the rest.
func (r *Registry) LoadManifest(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("agents: read manifest %q: %w", path, err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return fmt.Errorf("agents: parse manifest %q: %w", path, err)
	}

	for _, a := range mf.Agents {
		d := Descriptor{
			ID:         a.ID,
			Name:       a.Name,
			Role:       a.Role,
			PromptFile: a.PromptFile,
			ToolSelectors: toolregistry.Selectors{
				Sets:  a.ToolSelectors.Sets,
				Tags:  a.ToolSelectors.Tags,
				Allow: a.ToolSelectors.Allow,
				Deny:  a.ToolSelectors.Deny,
			},
			ContinuationPolicy: ContinuationPolicy{
				RequireExplicitSignal: a.Continuation.RequireExplicitSignal,
				MaxDepth:              a.Continuation.MaxDepth,
				SingleToolPerStep:     a.Continuation.SingleToolPerStep,
				ContinueSignal:        a.Continuation.ContinueSignal,
				AutoContinueTools:     a.Continuation.AutoContinueTools,
			},
			ModelPrefs: ModelPrefs{
				ModelID:     a.Model.ModelID,
				Temperature: a.Model.Temperature,
				MaxTokens:   a.Model.MaxTokens,
			},
		}
		if d.ContinuationPolicy.MaxDepth == 0 {
			d.ContinuationPolicy.MaxDepth = 1
		}
		if err := r.Register(d); err != nil {
			return fmt.Errorf("agents: manifest %q: %w", path, err)
		}
	}
	return nil
}
