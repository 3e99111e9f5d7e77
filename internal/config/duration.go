package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlDuration accepts "45s" style strings as well as bare nanosecond
// integers, which plain time.Duration fields cannot.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = yamlDuration(n)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = yamlDuration(parsed)
	return nil
}

// UnmarshalYAML lets approval_timeout carry values like "5m".
func (c *AgentConfig) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		SystemPrompt      string       `yaml:"system_prompt"`
		MaxIterations     int          `yaml:"max_iterations"`
		MaxTokens         int          `yaml:"max_tokens"`
		HistoryLimit      int          `yaml:"history_limit"`
		ApprovalTimeout   yamlDuration `yaml:"approval_timeout"`
		ApprovalThreshold float64      `yaml:"approval_threshold"`
		CheckpointMode    bool         `yaml:"checkpoint_mode"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	*c = AgentConfig{
		SystemPrompt:      aux.SystemPrompt,
		MaxIterations:     aux.MaxIterations,
		MaxTokens:         aux.MaxTokens,
		HistoryLimit:      aux.HistoryLimit,
		ApprovalTimeout:   time.Duration(aux.ApprovalTimeout),
		ApprovalThreshold: aux.ApprovalThreshold,
		CheckpointMode:    aux.CheckpointMode,
	}
	return nil
}

// UnmarshalYAML lets heartbeat carry values like "30s".
func (c *SchedulerConfig) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		Heartbeat yamlDuration `yaml:"heartbeat"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	c.Heartbeat = time.Duration(aux.Heartbeat)
	return nil
}

// UnmarshalYAML lets timeout carry values like "90s".
func (c *ProviderConfig) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		APIKey       string       `yaml:"api_key"`
		BaseURL      string       `yaml:"base_url"`
		DefaultModel string       `yaml:"default_model"`
		Timeout      yamlDuration `yaml:"timeout"`
		MaxRetries   int          `yaml:"max_retries"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	*c = ProviderConfig{
		APIKey:       aux.APIKey,
		BaseURL:      aux.BaseURL,
		DefaultModel: aux.DefaultModel,
		Timeout:      time.Duration(aux.Timeout),
		MaxRetries:   aux.MaxRetries,
	}
	return nil
}
