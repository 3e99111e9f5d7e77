// Package skills manages markdown-backed skill files that teach the
// agent recovered workflows and tool-specific patterns. A skill is
// either a single markdown file with YAML frontmatter or, for complex
// multi-step patterns, a directory holding README.md and reference.md.
// Unreviewed skills live under pending/; approved ones under learned/.
package skills

import (
	"fmt"
	"strings"
	"time"
)

const (
	// ReadmeFilename is the entry file for directory-backed skills.
	ReadmeFilename = "README.md"

	// ReferenceFilename holds long-form notes for directory-backed skills.
	ReferenceFilename = "reference.md"

	// FrontmatterDelimiter marks the beginning and end of YAML frontmatter.
	FrontmatterDelimiter = "---"
)

// Status is the review state of a skill.
type Status string

const (
	// StatusPending marks a skill awaiting user review.
	StatusPending Status = "pending"

	// StatusApproved marks a skill cleared for prompt injection.
	StatusApproved Status = "approved"
)

// Skill is one learned pattern, persisted as markdown with YAML
// frontmatter so both the user and the agent can read and edit it.
type Skill struct {
	// ID uniquely identifies the skill across both directories.
	ID string `yaml:"id" json:"id"`

	// Name is the skill identifier (lowercase, hyphens allowed).
	Name string `yaml:"name" json:"name"`

	// Status is pending or approved.
	Status Status `yaml:"status" json:"status"`

	// TargetTool names the tool this skill applies to, if any.
	TargetTool string `yaml:"tool,omitempty" json:"target_tool,omitempty"`

	// Triggers are matched (case-insensitive substring) against
	// inbound utterances to decide when the skill is relevant.
	Triggers []string `yaml:"triggers" json:"triggers"`

	// Examples are sample utterances the skill was derived from.
	Examples []string `yaml:"examples,omitempty" json:"examples,omitempty"`

	// Source records where the skill came from (e.g. failure analysis).
	Source string `yaml:"source,omitempty" json:"source,omitempty"`

	// SuccessCount and FailureCount track outcomes of applying the skill.
	SuccessCount int `yaml:"success_count" json:"success_count"`
	FailureCount int `yaml:"failure_count" json:"failure_count"`

	CreatedAt time.Time `yaml:"created" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated" json:"updated_at"`

	// Instructions is the markdown body below the frontmatter.
	Instructions string `yaml:"-" json:"-"`

	// Reference is the content of reference.md for directory-backed
	// skills, empty otherwise.
	Reference string `yaml:"-" json:"-"`

	// Path is the file (or directory, for complex skills) the skill
	// was loaded from. Empty for skills not yet saved.
	Path string `yaml:"-" json:"-"`

	// Complex marks directory-backed skills.
	Complex bool `yaml:"-" json:"-"`
}

// Validate checks the fields every skill must carry.
func (s *Skill) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	for _, r := range s.Name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("skill name must be lowercase alphanumeric with hyphens: got %q", s.Name)
		}
	}
	switch s.Status {
	case StatusPending, StatusApproved:
	default:
		return fmt.Errorf("skill status must be %q or %q: got %q", StatusPending, StatusApproved, s.Status)
	}
	if len(s.Triggers) == 0 {
		return fmt.Errorf("skill needs at least one trigger")
	}
	return nil
}

// Matches reports whether any trigger occurs in the utterance,
// case-insensitively.
func (s *Skill) Matches(utterance string) bool {
	if utterance == "" {
		return false
	}
	lowered := strings.ToLower(utterance)
	for _, trigger := range s.Triggers {
		if trigger == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}
