package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownTier is returned by Tier for ids not present in the config.
var ErrUnknownTier = errors.New("unknown tier")

type Config struct {
	Policy    Policy    `yaml:"policy"`
	Tiers     []Tier    `yaml:"tiers"`
	Models    []string  `yaml:"models"`
	Judge     Judge     `yaml:"judge"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Progress  Progress  `yaml:"progress"`
	Results   Results   `yaml:"results"`
	Pricing   Pricing   `yaml:"pricing"`
	Logging   Logging   `yaml:"logging"`
}

// Policy controls how the matrix is executed. It is built once per
// invocation and passed by value.
type Policy struct {
	RunsPerTier       int               `yaml:"runs_per_tier"`
	MinSuccessfulRuns int               `yaml:"min_successful_runs"`
	Parallel          bool              `yaml:"parallel"`
	Workers           int               `yaml:"workers"`
	TrialTimeout      time.Duration     `yaml:"trial_timeout"`
	MaxRetries        int               `yaml:"max_retries"`
	InitialBackoff    time.Duration     `yaml:"initial_backoff"`
	MaxBackoff        time.Duration     `yaml:"max_backoff"`
	Image             string            `yaml:"image"`
	Command           []string          `yaml:"command"`
	PullImage         bool              `yaml:"pull_image"`
	CPULimit          float64           `yaml:"cpu_limit"`
	MemoryLimit       int64             `yaml:"memory_limit"`
	Env               map[string]string `yaml:"env"`
}

// Tier is a named capability configuration applied to a trial. Nil
// booleans mean the tier leaves the setting to the image default.
type Tier struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name"`
	ToolsEnabled      *bool  `yaml:"tools_enabled"`
	DelegationEnabled *bool  `yaml:"delegation_enabled"`
	PromptContent     string `yaml:"prompt"`
	PromptFile        string `yaml:"prompt_file"`
}

type Judge struct {
	Kind   string `yaml:"kind"`
	Marker string `yaml:"marker"`
}

type RateLimit struct {
	Pattern string `yaml:"pattern"`
}

type Progress struct {
	Path string `yaml:"path"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

type Pricing struct {
	File string `yaml:"file"`
}

type Logging struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultPolicy returns the values used for unset policy fields.
func DefaultPolicy() Policy {
	return Policy{
		RunsPerTier:       10,
		MinSuccessfulRuns: 1,
		Workers:           4,
		TrialTimeout:      10 * time.Minute,
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := resolvePrompts(&cfg, filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// TierIDs returns tier ids in declaration order.
func (c *Config) TierIDs() []string {
	ids := make([]string, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		ids = append(ids, t.ID)
	}
	return ids
}

func (c *Config) Tier(id string) (Tier, error) {
	for _, t := range c.Tiers {
		if t.ID == id {
			return t, nil
		}
	}
	return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, id)
}

func resolvePrompts(cfg *Config, baseDir string) error {
	for i := range cfg.Tiers {
		t := &cfg.Tiers[i]
		if t.PromptFile == "" {
			continue
		}
		if t.PromptContent != "" {
			return fmt.Errorf("tier %q: prompt and prompt_file are mutually exclusive", t.ID)
		}
		p := t.PromptFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("tier %q: reading prompt_file: %w", t.ID, err)
		}
		t.PromptContent = string(data)
	}
	return nil
}

func validate(cfg *Config) error {
	if len(cfg.Tiers) == 0 {
		return fmt.Errorf("no tiers defined")
	}
	seen := map[string]bool{}
	for i, t := range cfg.Tiers {
		if t.ID == "" {
			return fmt.Errorf("tier %d: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tier %q: duplicate id", t.ID)
		}
		seen[t.ID] = true
		if t.Name == "" {
			cfg.Tiers[i].Name = t.ID
		}
	}
	if err := applyPolicyDefaults(&cfg.Policy); err != nil {
		return err
	}
	switch cfg.Judge.Kind {
	case "":
		cfg.Judge.Kind = "exit_code"
	case "exit_code":
	case "marker":
		if cfg.Judge.Marker == "" {
			return fmt.Errorf("judge: marker is required for kind %q", cfg.Judge.Kind)
		}
	default:
		return fmt.Errorf("judge: unsupported kind %q", cfg.Judge.Kind)
	}
	if cfg.Logging.Mode == "" {
		cfg.Logging.Mode = "development"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return nil
}

func applyPolicyDefaults(p *Policy) error {
	def := DefaultPolicy()
	if p.Image == "" {
		return fmt.Errorf("policy: image is required")
	}
	if p.RunsPerTier == 0 {
		p.RunsPerTier = def.RunsPerTier
	}
	if p.RunsPerTier < 1 {
		return fmt.Errorf("policy: runs_per_tier must be at least 1")
	}
	if p.MinSuccessfulRuns == 0 {
		p.MinSuccessfulRuns = def.MinSuccessfulRuns
	}
	if p.Workers == 0 {
		p.Workers = def.Workers
	}
	if p.Workers < 1 {
		return fmt.Errorf("policy: workers must be at least 1")
	}
	if p.TrialTimeout == 0 {
		p.TrialTimeout = def.TrialTimeout
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("policy: max_backoff %s is below initial_backoff %s", p.MaxBackoff, p.InitialBackoff)
	}
	return nil
}
