package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the engine's full, immutable-once-loaded configuration tree.
// It owns every definition (agents, teams, workflows) plus the engine-wide
// knobs spec §6 lists as the Orchestrator Facade's construction-time input.
type Config struct {
	DefaultModel string `yaml:"default_model"`

	Agents    map[string]*AgentConfig    `yaml:"agents"`
	Teams     map[string]*TeamConfig     `yaml:"teams"`
	Workflows map[string]*WorkflowConfig `yaml:"workflows"`

	AutoInstall       AutoInstallConfig    `yaml:"auto_install"`
	ExecutionTimeouts ExecutionTimeouts    `yaml:"execution_timeouts"`
	TeamDefaults      TeamDefaults         `yaml:"team_defaults"`

	// ModelPricing maps a model name (e.g. "gpt-4o") to its $/1K-token
	// price pair. A model absent from this table reports zero cost rather
	// than failing — spec's non-goal list excludes rate limiting, not
	// best-effort cost reporting, so we degrade gracefully.
	// [SUPPLEMENT] — see SPEC_FULL.md §4.5.
	ModelPricing map[string]ModelPrice `yaml:"model_pricing"`
}

// SetDefaults fills in every nested default, in the teacher's per-struct
// convention, then recurses into the definition maps.
func (c *Config) SetDefaults() {
	c.AutoInstall.SetDefaults()
	c.ExecutionTimeouts.SetDefaults()
	c.TeamDefaults.SetDefaults()
	for _, a := range c.Agents {
		a.SetDefaults()
	}
	for _, t := range c.Teams {
		t.SetDefaults()
	}
}

// Validate runs every nested Validate and cross-checks references between
// definitions (a team member naming an unknown agent id, for instance).
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: at least one agent must be defined")
	}
	for id, a := range c.Agents {
		if a.ID == "" {
			a.ID = id
		}
		if err := a.Validate(); err != nil {
			return err
		}
	}
	for id, t := range c.Teams {
		if t.ID == "" {
			t.ID = id
		}
		if err := t.Validate(); err != nil {
			return err
		}
		for _, m := range t.Members {
			if _, ok := c.Agents[m.AgentID]; !ok {
				return fmt.Errorf("team %q: member references unknown agent %q", t.ID, m.AgentID)
			}
		}
	}
	for id, w := range c.Workflows {
		if w.ID == "" {
			w.ID = id
		}
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a YAML config file, expands ${VAR} / ${VAR:-default}
// references against the process environment (after an optional sibling
// .env file has been merged in by LoadEnv), applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
