// Package agent implements the orchestrator: the bounded agentic loop
// that mediates between users, the model, and tools, plus the approval
// arbiter and the cross-platform notification bus around it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/steward/internal/memory"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/internal/skills"
	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

// ErrNoProvider indicates no model provider is configured.
var ErrNoProvider = errors.New("no provider configured")

// Sender delivers an outbound message to a user on one platform.
type Sender func(ctx context.Context, userID, message string) error

// ApprovalHandler renders a pending approval to the user and returns
// their decision. Handlers correlate the user's reply themselves; the
// arbiter only waits for the boolean.
type ApprovalHandler func(ctx context.Context, approval *models.Approval) (bool, error)

// StreamFunc receives incremental output: first-turn content deltas
// and status lines emitted during tool execution.
type StreamFunc func(text string)

// ChatRequest is one inbound user utterance.
type ChatRequest struct {
	UserID    string
	SessionID string
	Platform  models.Platform
	Text      string
	Images    []models.Attachment
	Stream    StreamFunc
}

// Config tunes the orchestrator.
type Config struct {
	// Model is the default completion model.
	Model string

	// VisionModel handles requests with images when Model cannot.
	VisionModel string

	// SystemPrompt overrides the built-in base prompt.
	SystemPrompt string

	// MaxIterations bounds the agentic loop (default 10).
	MaxIterations int

	// MaxTokens caps each model response (default 4096).
	MaxTokens int

	// HistoryLimit is how many stored messages are replayed into the
	// prompt (default 50).
	HistoryLimit int

	// ApprovalTimeout is how long an approval may stay unanswered
	// before it resolves to deny (default 5m).
	ApprovalTimeout time.Duration

	// ApprovalThreshold gates approval-requiring tools: an "amount"
	// argument above it opens an approval. Zero means any amount.
	ApprovalThreshold float64

	// Checkpoint asks the user before every tool call.
	Checkpoint bool
}

func sanitizeConfig(cfg *Config) Config {
	out := Config{}
	if cfg != nil {
		out = *cfg
	}
	if out.MaxIterations <= 0 {
		out.MaxIterations = 10
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	if out.HistoryLimit <= 0 {
		out.HistoryLimit = 50
	}
	if out.ApprovalTimeout <= 0 {
		out.ApprovalTimeout = 5 * time.Minute
	}
	return out
}

// Agent runs the agentic loop and owns the in-flight approval set and
// the registered platform handlers. All other state lives in the store.
type Agent struct {
	provider LLMProvider
	store    *store.Store
	memory   *memory.Manager
	registry *tools.Registry
	skills   *skills.Library
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	now      func() time.Time
	cfg      Config

	mu         sync.RWMutex
	model      string
	checkpoint bool

	approvalMu sync.RWMutex
	handlers   map[models.Platform]ApprovalHandler
	pending    map[string]*pendingApproval

	senderMu sync.RWMutex
	senders  map[models.Platform]Sender
}

// NewAgent creates an orchestrator. The registry may be empty; tools
// are supplied later through providers so this package never imports
// concrete tool implementations.
func NewAgent(provider LLMProvider, st *store.Store, registry *tools.Registry, cfg *Config) *Agent {
	conf := sanitizeConfig(cfg)
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Agent{
		provider:   provider,
		store:      st,
		memory:     memory.NewManager(st),
		registry:   registry,
		logger:     slog.Default().With("component", "agent"),
		tracer:     observability.NewNoopTracer(),
		now:        time.Now,
		cfg:        conf,
		model:      conf.Model,
		checkpoint: conf.Checkpoint,
		handlers:   make(map[models.Platform]ApprovalHandler),
		pending:    make(map[string]*pendingApproval),
		senders:    make(map[models.Platform]Sender),
	}
}

// SetLogger replaces the agent logger.
func (a *Agent) SetLogger(logger *slog.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// SetSkills attaches a skills library consulted during prompt
// composition. Optional.
func (a *Agent) SetSkills(library *skills.Library) {
	a.skills = library
}

// SetMetrics attaches a metrics collector. Optional; without one the
// agent records nothing.
func (a *Agent) SetMetrics(m *observability.Metrics) {
	a.metrics = m
}

// SetTracer replaces the no-op tracer installed at construction.
func (a *Agent) SetTracer(t *observability.Tracer) {
	if t != nil {
		a.tracer = t
	}
}

// Registry returns the tool registry for provider registration.
func (a *Agent) Registry() *tools.Registry { return a.registry }

// Memory returns the memory manager.
func (a *Agent) Memory() *memory.Manager { return a.memory }

// Model returns the current default model.
func (a *Agent) Model() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// SetModel switches the default model. When the provider declares its
// models the name must be among them.
func (a *Agent) SetModel(name string) error {
	if name == "" {
		return fmt.Errorf("model name is required")
	}
	known := a.provider.Models()
	if len(known) > 0 {
		found := false
		for _, m := range known {
			if m.ID == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("model %q is not available from %s", name, a.provider.Name())
		}
	}

	a.mu.Lock()
	a.model = name
	a.mu.Unlock()
	a.logger.Info("model switched", "model", name)
	return nil
}

// SetCheckpoint toggles checkpoint mode: when on, every tool call
// asks the user first.
func (a *Agent) SetCheckpoint(on bool) {
	a.mu.Lock()
	a.checkpoint = on
	a.mu.Unlock()
}

func (a *Agent) checkpointOn() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.checkpoint
}

// ClearHistory deletes the stored messages for a user's conversation
// scope. With a session id only that session is cleared; without one,
// every ambient conversation the user has. Conversations themselves
// survive.
func (a *Agent) ClearHistory(ctx context.Context, userID, sessionID string) error {
	return a.store.ClearUserHistory(ctx, userID, sessionID)
}

// visionCapable reports whether the named model accepts images,
// according to the provider's model listing. Unknown models are
// assumed capable so an unlisted local model is not blocked.
func (a *Agent) visionCapable(model string) bool {
	for _, m := range a.provider.Models() {
		if m.ID == model {
			return m.SupportsVision
		}
	}
	return true
}
