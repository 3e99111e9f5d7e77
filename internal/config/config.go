package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the main configuration structure for Steward.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Agent     AgentConfig     `yaml:"agent"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
	Skills    SkillsConfig    `yaml:"skills"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ModelConfig selects the completion backend.
type ModelConfig struct {
	// DefaultProvider is one of "anthropic", "openai", "ollama".
	DefaultProvider string `yaml:"default_provider"`

	// VisionModel handles requests carrying images when the default
	// model cannot.
	VisionModel string `yaml:"vision_model"`

	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds per-backend connection settings. Secrets are
// usually written as ${VAR} references and resolved at load time.
type ProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// AgentConfig tunes the agentic loop.
type AgentConfig struct {
	SystemPrompt      string        `yaml:"system_prompt"`
	MaxIterations     int           `yaml:"max_iterations"`
	MaxTokens         int           `yaml:"max_tokens"`
	HistoryLimit      int           `yaml:"history_limit"`
	ApprovalTimeout   time.Duration `yaml:"approval_timeout"`
	ApprovalThreshold float64       `yaml:"approval_threshold"`
	CheckpointMode    bool          `yaml:"checkpoint_mode"`
}

// SchedulerConfig tunes the task heartbeat.
type SchedulerConfig struct {
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SkillsConfig locates the skills directory tree.
type SkillsConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig exposes Prometheus metrics and the health endpoint.
// An empty address disables the HTTP listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TracingConfig configures OTLP span export. An empty endpoint
// disables export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration used when no file is given. State
// lives under ~/.steward and the model backend is a local Ollama.
func Default() *Config {
	base := stateDir()
	return &Config{
		Model: ModelConfig{
			DefaultProvider: "ollama",
			Providers: map[string]ProviderConfig{
				"ollama": {DefaultModel: "llama3.2"},
			},
		},
		Agent: AgentConfig{
			MaxIterations:     10,
			MaxTokens:         4096,
			HistoryLimit:      50,
			ApprovalTimeout:   5 * time.Minute,
			ApprovalThreshold: 100,
		},
		Scheduler: SchedulerConfig{Heartbeat: 30 * time.Second},
		Store:     StoreConfig{Path: filepath.Join(base, "steward.db")},
		Skills:    SkillsConfig{Dir: filepath.Join(base, "skills")},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Tracing:   TracingConfig{SamplingRate: 1},
	}
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".steward"
	}
	return filepath.Join(home, ".steward")
}

// Provider returns the settings for a named backend, or a zero value
// when the section is absent.
func (c *Config) Provider(name string) ProviderConfig {
	if c == nil || c.Model.Providers == nil {
		return ProviderConfig{}
	}
	return c.Model.Providers[name]
}

func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Model.DefaultProvider == "" {
		cfg.Model.DefaultProvider = def.Model.DefaultProvider
	}
	// Ollama is the zero-config backend, so it must name a model even
	// when the file never mentions one.
	if cfg.Model.DefaultProvider == "ollama" && cfg.Provider("ollama").DefaultModel == "" {
		if cfg.Model.Providers == nil {
			cfg.Model.Providers = make(map[string]ProviderConfig)
		}
		pc := cfg.Model.Providers["ollama"]
		pc.DefaultModel = def.Model.Providers["ollama"].DefaultModel
		cfg.Model.Providers["ollama"] = pc
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = def.Agent.MaxIterations
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = def.Agent.MaxTokens
	}
	if cfg.Agent.HistoryLimit == 0 {
		cfg.Agent.HistoryLimit = def.Agent.HistoryLimit
	}
	if cfg.Agent.ApprovalTimeout == 0 {
		cfg.Agent.ApprovalTimeout = def.Agent.ApprovalTimeout
	}
	if cfg.Agent.ApprovalThreshold == 0 {
		cfg.Agent.ApprovalThreshold = def.Agent.ApprovalThreshold
	}
	if cfg.Scheduler.Heartbeat == 0 {
		cfg.Scheduler.Heartbeat = def.Scheduler.Heartbeat
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Skills.Dir == "" {
		cfg.Skills.Dir = def.Skills.Dir
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = def.Tracing.SamplingRate
	}
}

// Validate checks the configuration for values that would break the
// daemon at runtime.
func (c *Config) Validate() error {
	// API key presence is not checked here: keys may come from the
	// environment or the credential vault, which only the command
	// layer can consult.
	switch c.Model.DefaultProvider {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("model: unknown provider %q (expected anthropic, openai, or ollama)", c.Model.DefaultProvider)
	}

	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent: max_iterations must be at least 1")
	}
	if c.Agent.ApprovalThreshold < 0 {
		return fmt.Errorf("agent: approval_threshold must not be negative")
	}
	if c.Scheduler.Heartbeat < time.Second {
		return fmt.Errorf("scheduler: heartbeat must be at least 1s")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store: path is required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing: sampling_rate must be between 0 and 1")
	}

	return nil
}
