package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFile parses a single-file skill from disk.
func ParseFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill: %w", err)
	}
	skill, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	skill.Path = path
	return skill, nil
}

// ParseDir parses a directory-backed skill: README.md (frontmatter plus
// overview) and, when present, reference.md with long-form notes.
func ParseDir(dir string) (*Skill, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReadmeFilename))
	if err != nil {
		return nil, fmt.Errorf("read skill readme: %w", err)
	}
	skill, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(dir), err)
	}
	skill.Path = dir
	skill.Complex = true
	if ref, err := os.ReadFile(filepath.Join(dir, ReferenceFilename)); err == nil {
		skill.Reference = strings.TrimSpace(string(ref))
	}
	return skill, nil
}

// Parse splits a skill document into YAML frontmatter and markdown
// body and validates the result. The status defaults to pending when
// the frontmatter omits it; the id defaults to the name.
func Parse(data []byte) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var skill Skill
	if err := yaml.Unmarshal(frontmatter, &skill); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if skill.Status == "" {
		skill.Status = StatusPending
	}
	if skill.ID == "" {
		skill.ID = skill.Name
	}
	if err := skill.Validate(); err != nil {
		return nil, err
	}

	skill.Instructions = strings.TrimSpace(string(body))
	return &skill, nil
}

// Render serializes a skill back to frontmatter plus body, the inverse
// of Parse.
func Render(s *Skill) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	frontmatter, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("render frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(FrontmatterDelimiter + "\n")
	buf.Write(frontmatter)
	buf.WriteString(FrontmatterDelimiter + "\n")
	if s.Instructions != "" {
		buf.WriteString("\n")
		buf.WriteString(s.Instructions)
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// splitFrontmatter separates YAML frontmatter from the markdown body.
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != FrontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontmatterLines []string
	foundClosing := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == FrontmatterDelimiter {
			foundClosing = true
			break
		}
		frontmatterLines = append(frontmatterLines, line)
	}
	if !foundClosing {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan skill file: %w", err)
	}

	frontmatter := []byte(strings.Join(frontmatterLines, "\n"))
	body := []byte(strings.Join(bodyLines, "\n"))
	return frontmatter, body, nil
}
