package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewManager(st)
}

func TestSave_DefaultsConfidenceAndType(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	mem := &models.Memory{UserID: "user-1", Key: "nickname", Value: "Sam"}
	if err := m.Save(ctx, mem); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	saved, err := m.Get(ctx, "user-1", models.MemoryTypeCustom, "nickname")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if saved.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", saved.Confidence)
	}
	if saved.Type != models.MemoryTypeCustom {
		t.Errorf("Type = %q, want custom", saved.Type)
	}
}

func TestSave_ClampsConfidence(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		key  string
		in   float64
		want float64
	}{
		{"over", 3.5, 1.0},
		{"under", -0.2, 0},
		{"kept", 0.75, 0.75},
	}
	for _, tc := range cases {
		mem := &models.Memory{UserID: "user-1", Type: models.MemoryTypeFact, Key: tc.key, Value: "v", Confidence: tc.in}
		if err := m.Save(ctx, mem); err != nil {
			t.Fatalf("Save(%q) error = %v", tc.key, err)
		}
		saved, err := m.Get(ctx, "user-1", models.MemoryTypeFact, tc.key)
		if err != nil {
			t.Fatalf("Get(%q) error = %v", tc.key, err)
		}
		if saved.Confidence != tc.want {
			t.Errorf("Confidence(%q) = %v, want %v", tc.key, saved.Confidence, tc.want)
		}
	}
}

func TestSave_UpsertsSameKey(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, value := range []string{"Berlin", "Lisbon"} {
		mem := &models.Memory{UserID: "user-1", Type: models.MemoryTypeFact, Key: "city", Value: value}
		if err := m.Save(ctx, mem); err != nil {
			t.Fatalf("Save(%q) error = %v", value, err)
		}
	}

	all, err := m.All(ctx, "user-1")
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("All() returned %d memories, want 1", len(all))
	}
	if all[0].Value != "Lisbon" {
		t.Errorf("Value = %q, want Lisbon", all[0].Value)
	}
}

func TestDelete_Missing(t *testing.T) {
	m := newTestManager(t)

	err := m.Delete(context.Background(), "user-1", models.MemoryTypeFact, "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Delete() error = %v, want store.ErrNotFound", err)
	}
}

func TestFormatForPrompt_Empty(t *testing.T) {
	m := newTestManager(t)

	block, err := m.FormatForPrompt(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FormatForPrompt() error = %v", err)
	}
	if block != "" {
		t.Errorf("FormatForPrompt() = %q, want empty string", block)
	}
}

func TestFormatForPrompt_GroupsAndOrders(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	seed := []*models.Memory{
		{UserID: "user-1", Type: models.MemoryTypePreference, Key: "coffee", Value: "black"},
		{UserID: "user-1", Type: models.MemoryTypeCore, Key: "name", Value: "Sam"},
		{UserID: "user-1", Type: models.MemoryTypeFact, Key: "city", Value: "Lisbon"},
	}
	for _, mem := range seed {
		if err := m.Save(ctx, mem); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	block, err := m.FormatForPrompt(ctx, "user-1")
	if err != nil {
		t.Fatalf("FormatForPrompt() error = %v", err)
	}

	if !strings.HasPrefix(block, "## What I Know About You\n") {
		t.Errorf("block missing header:\n%s", block)
	}
	for _, want := range []string{"### Core", "### Preference", "### Fact", "- name: Sam", "- coffee: black", "- city: Lisbon"} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}

	// Core renders before preference, preference before fact.
	core := strings.Index(block, "### Core")
	pref := strings.Index(block, "### Preference")
	fact := strings.Index(block, "### Fact")
	if !(core < pref && pref < fact) {
		t.Errorf("type sections out of order: core=%d preference=%d fact=%d", core, pref, fact)
	}
}
