package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/steward/internal/skills"
	"github.com/haasonsaas/steward/pkg/models"
)

func TestComposeSystemPrompt(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAgent(t, &scriptProvider{}, nil)
	registerEcho(t, a)

	err := a.Memory().Save(ctx, &models.Memory{
		UserID: "user-1",
		Type:   models.MemoryTypePreference,
		Key:    "tone",
		Value:  "casual",
	})
	if err != nil {
		t.Fatalf("save memory: %v", err)
	}

	prompt := a.composeSystemPrompt(ctx, "user-1", "anything")
	for _, want := range []string{
		"The current date and time is",
		"## What I Know About You",
		"tone",
		"casual",
		"## Available Tools",
		"- echo: Echoes the text argument back.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestComposeSystemPrompt_NoMemories(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAgent(t, &scriptProvider{}, nil)

	prompt := a.composeSystemPrompt(ctx, "stranger", "hello")
	if strings.Contains(prompt, "## What I Know About You") {
		t.Error("memory block should be absent for an unknown user")
	}
	if strings.Contains(prompt, "## Available Tools") {
		t.Error("tool block should be absent with an empty registry")
	}
}

func TestComposeSystemPrompt_SkillBlock(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAgent(t, &scriptProvider{}, nil)

	lib := skills.NewLibrary(t.TempDir())
	sk := &skills.Skill{
		Name:         "search",
		Triggers:     []string{"find"},
		Instructions: "Prefer the web_search tool for anything newsy.",
	}
	if err := lib.SavePending(sk); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	if _, err := lib.Approve("search"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	a.SetSkills(lib)

	prompt := a.composeSystemPrompt(ctx, "user-1", "find me the news")
	if !strings.Contains(prompt, "## Learned Skills") {
		t.Errorf("expected skill block for a matching utterance:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Prefer the web_search tool") {
		t.Errorf("skill instructions missing:\n%s", prompt)
	}

	prompt = a.composeSystemPrompt(ctx, "user-1", "what time is it")
	if strings.Contains(prompt, "## Learned Skills") {
		t.Error("skill block should be absent without a trigger match")
	}
}

func TestComposeSystemPrompt_CustomBase(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAgent(t, &scriptProvider{}, &Config{SystemPrompt: "You are a terse robot."})

	prompt := a.composeSystemPrompt(ctx, "user-1", "hi")
	if !strings.HasPrefix(prompt, "You are a terse robot.") {
		t.Errorf("custom base prompt not used:\n%s", prompt)
	}
	if strings.Contains(prompt, "Steward") {
		t.Error("built-in base prompt should be replaced entirely")
	}
}
