package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// ErrSkillNotFound is returned when no skill matches the given id or name.
var ErrSkillNotFound = errors.New("skill not found")

// Library loads skills from a root directory with two subtrees:
// pending/ for skills awaiting review and learned/ for approved ones.
// Only approved skills are eligible for prompt injection.
type Library struct {
	root   string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	skills map[string]*Skill

	watchMu       sync.Mutex
	watcher       *fsnotify.Watcher
	watchCancel   context.CancelFunc
	watchWg       sync.WaitGroup
	watchDebounce time.Duration
}

// Option configures a Library.
type Option func(*Library)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(l *Library) {
		if now != nil {
			l.now = now
		}
	}
}

// WithWatchDebounce sets the quiet period before a filesystem change
// triggers a reload.
func WithWatchDebounce(d time.Duration) Option {
	return func(l *Library) {
		l.watchDebounce = d
	}
}

// NewLibrary creates a library rooted at dir. Call Load before use.
func NewLibrary(dir string, opts ...Option) *Library {
	l := &Library{
		root:   dir,
		logger: slog.Default().With("component", "skills"),
		now:    time.Now,
		skills: make(map[string]*Skill),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Root returns the library root directory.
func (l *Library) Root() string { return l.root }

// PendingDir returns the directory holding unreviewed skills.
func (l *Library) PendingDir() string { return filepath.Join(l.root, "pending") }

// LearnedDir returns the directory holding approved skills.
func (l *Library) LearnedDir() string { return filepath.Join(l.root, "learned") }

// Load walks both subtrees and replaces the in-memory skill set.
// Unparseable files are skipped with a warning so one bad edit cannot
// take the whole library down.
func (l *Library) Load() error {
	if err := l.ensureDirs(); err != nil {
		return err
	}

	loaded := make(map[string]*Skill)
	for _, src := range []struct {
		dir    string
		status Status
	}{
		{l.PendingDir(), StatusPending},
		{l.LearnedDir(), StatusApproved},
	} {
		parsed, err := l.loadDir(src.dir, src.status)
		if err != nil {
			return err
		}
		for _, skill := range parsed {
			loaded[skill.ID] = skill
		}
	}

	l.mu.Lock()
	l.skills = loaded
	l.mu.Unlock()

	l.logger.Debug("skills loaded", "count", len(loaded))
	return nil
}

func (l *Library) loadDir(dir string, status Status) ([]*Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var out []*Skill
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		var skill *Skill
		switch {
		case entry.IsDir():
			skill, err = ParseDir(path)
		case strings.HasSuffix(entry.Name(), ".md"):
			skill, err = ParseFile(path)
		default:
			continue
		}
		if err != nil {
			l.logger.Warn("skipping unparseable skill", "path", path, "error", err)
			continue
		}
		// The directory a skill lives in is authoritative for its
		// lifecycle; frontmatter drifts when files are moved by hand.
		if skill.Status != status {
			l.logger.Debug("skill status corrected to match directory",
				"skill", skill.Name, "frontmatter", skill.Status, "dir", filepath.Base(dir))
			skill.Status = status
		}
		out = append(out, skill)
	}
	return out, nil
}

// Skill looks up one skill by id, falling back to name.
func (l *Library) Skill(idOrName string) (*Skill, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.find(idOrName)
}

// find must be called with l.mu held.
func (l *Library) find(idOrName string) (*Skill, error) {
	if skill, ok := l.skills[idOrName]; ok {
		return skill, nil
	}
	for _, skill := range l.skills {
		if skill.Name == idOrName {
			return skill, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", idOrName, ErrSkillNotFound)
}

// Skills returns every loaded skill sorted by name.
func (l *Library) Skills() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Skill, 0, len(l.skills))
	for _, skill := range l.skills {
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Pending returns skills awaiting review, sorted by name.
func (l *Library) Pending() []*Skill {
	return l.filter(StatusPending)
}

// Approved returns skills cleared for prompt injection, sorted by name.
func (l *Library) Approved() []*Skill {
	return l.filter(StatusApproved)
}

func (l *Library) filter(status Status) []*Skill {
	var out []*Skill
	for _, skill := range l.Skills() {
		if skill.Status == status {
			out = append(out, skill)
		}
	}
	return out
}

// Match returns the approved skills whose triggers occur in the
// utterance. Pending skills never match; they have not been reviewed.
func (l *Library) Match(utterance string) []*Skill {
	var matched []*Skill
	for _, skill := range l.Approved() {
		if skill.Matches(utterance) {
			matched = append(matched, skill)
		}
	}
	return matched
}

// PromptBlock renders the instructions of every matching skill as a
// prompt section, or an empty string when nothing matches.
func (l *Library) PromptBlock(utterance string) string {
	matched := l.Match(utterance)
	if len(matched) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Learned Skills\n")
	b.WriteString("Apply these previously learned patterns where they fit the request.\n")
	for _, skill := range matched {
		b.WriteString("\n### " + skill.Name)
		if skill.TargetTool != "" {
			b.WriteString(" (tool: " + skill.TargetTool + ")")
		}
		b.WriteString("\n")
		if skill.Instructions != "" {
			b.WriteString(skill.Instructions + "\n")
		}
		if skill.Reference != "" {
			b.WriteString("\n" + skill.Reference + "\n")
		}
	}
	return b.String()
}

// SavePending writes a new skill into pending/ and registers it.
// The id, status, and timestamps are filled in when absent. Saving a
// skill whose name already exists overwrites the previous file, so
// re-learned skills stay single copies.
func (l *Library) SavePending(skill *Skill) error {
	skill.Status = StatusPending
	if skill.ID == "" {
		skill.ID = uuid.NewString()
	}
	now := l.now().UTC()
	if skill.CreatedAt.IsZero() {
		skill.CreatedAt = now
	}
	skill.UpdatedAt = now

	if err := l.ensureDirs(); err != nil {
		return err
	}
	skill.Path = filepath.Join(l.PendingDir(), skill.Name+".md")
	if err := l.writeSkill(skill); err != nil {
		return err
	}

	l.mu.Lock()
	l.skills[skill.ID] = skill
	l.mu.Unlock()

	l.logger.Info("skill saved for review", "skill", skill.Name, "id", skill.ID)
	return nil
}

// Approve promotes a pending skill into learned/. Approving an already
// approved skill is a no-op. Single-file skills are rewritten at the
// new location and removed from pending/; directory-backed skills are
// renamed wholesale and their README rewritten.
func (l *Library) Approve(idOrName string) (*Skill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	skill, err := l.find(idOrName)
	if err != nil {
		return nil, err
	}
	if skill.Status == StatusApproved {
		return skill, nil
	}

	if err := l.ensureDirs(); err != nil {
		return nil, err
	}
	skill.Status = StatusApproved
	skill.UpdatedAt = l.now().UTC()

	oldPath := skill.Path
	dest := filepath.Join(l.LearnedDir(), filepath.Base(oldPath))
	if skill.Complex {
		if err := os.Rename(oldPath, dest); err != nil {
			return nil, fmt.Errorf("move skill %q: %w", skill.Name, err)
		}
		skill.Path = dest
		if err := l.writeSkill(skill); err != nil {
			return nil, err
		}
	} else {
		skill.Path = dest
		if err := l.writeSkill(skill); err != nil {
			return nil, err
		}
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("failed to remove pending copy", "path", oldPath, "error", err)
		}
	}

	l.logger.Info("skill approved", "skill", skill.Name, "id", skill.ID)
	return skill, nil
}

// Remove deletes a skill from disk and from the library.
func (l *Library) Remove(idOrName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	skill, err := l.find(idOrName)
	if err != nil {
		return err
	}
	if skill.Path != "" {
		if err := os.RemoveAll(skill.Path); err != nil {
			return fmt.Errorf("remove skill %q: %w", skill.Name, err)
		}
	}
	delete(l.skills, skill.ID)

	l.logger.Info("skill removed", "skill", skill.Name, "id", skill.ID)
	return nil
}

// RecordUse bumps the success or failure counter and persists the
// skill so the counters survive restarts.
func (l *Library) RecordUse(idOrName string, success bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	skill, err := l.find(idOrName)
	if err != nil {
		return err
	}
	if success {
		skill.SuccessCount++
	} else {
		skill.FailureCount++
	}
	skill.UpdatedAt = l.now().UTC()
	return l.writeSkill(skill)
}

// writeSkill renders a skill to its path. For directory-backed skills
// the README is rewritten; reference.md is left as authored.
func (l *Library) writeSkill(skill *Skill) error {
	data, err := Render(skill)
	if err != nil {
		return err
	}
	path := skill.Path
	if skill.Complex {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create skill dir: %w", err)
		}
		path = filepath.Join(path, ReadmeFilename)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write skill %q: %w", skill.Name, err)
	}
	return nil
}

func (l *Library) ensureDirs() error {
	for _, dir := range []string{l.PendingDir(), l.LearnedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create skills dir: %w", err)
		}
	}
	return nil
}
