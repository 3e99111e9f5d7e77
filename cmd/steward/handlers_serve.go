package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/internal/agent/providers"
	"github.com/haasonsaas/steward/internal/config"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/internal/scheduler"
	"github.com/haasonsaas/steward/internal/skills"
	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/internal/tools/builtin"
	"github.com/haasonsaas/steward/pkg/models"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe implements the serve command logic.
// It wires the agent, scheduler, and skill watcher together and blocks
// until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.SetupLogging(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logger.Info("starting steward",
		"version", version,
		"commit", commit,
		"config", configPath,
		"provider", cfg.Model.DefaultProvider,
	)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "steward",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	provider, err := buildProvider(ctx, cfg, st)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	registry := toolsRegistry(logger)

	ag := agent.NewAgent(provider, st, registry, agentConfig(cfg))
	ag.SetLogger(logger.With("component", "agent"))
	ag.SetMetrics(metrics)
	ag.SetTracer(tracer)

	lib := skills.NewLibrary(cfg.Skills.Dir,
		skills.WithLogger(logger.With("component", "skills")))
	if err := lib.Load(); err != nil {
		logger.Warn("failed to load skills", "dir", cfg.Skills.Dir, "error", err)
	}
	ag.SetSkills(lib)

	sched := scheduler.NewScheduler(st, agent.NewRunner(ag),
		scheduler.WithTickInterval(cfg.Scheduler.Heartbeat),
		scheduler.WithLogger(logger.With("component", "scheduler")),
		scheduler.WithMetrics(metrics),
		scheduler.WithOnCompletion(ag.NotifyTaskComplete),
	)

	if err := registerBuiltins(registry, ag, sched, st, lib); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduled-task results addressed to the terminal land on the
	// daemon's stdout. Registering also flushes anything queued while
	// no process was listening.
	ag.RegisterMessageHandler(ctx, models.PlatformCLI, func(_ context.Context, userID, message string) error {
		if userID != "" && userID != defaultUser {
			fmt.Printf("[%s] %s\n", userID, message)
			return nil
		}
		fmt.Println(message)
		return nil
	})

	if err := lib.StartWatching(ctx); err != nil {
		logger.Warn("skill watcher unavailable", "error", err)
	}
	defer lib.Close()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	var httpServer *http.Server
	if cfg.Metrics.Addr != "" {
		httpServer, err = startMetricsServer(cfg.Metrics.Addr, st, metrics, logger)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	logger.Info("steward ready",
		"model", ag.Model(),
		"heartbeat", cfg.Scheduler.Heartbeat,
		"store", cfg.Store.Path,
		"skills", cfg.Skills.Dir,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", "error", err)
	}

	logger.Info("steward stopped")
	return nil
}

// =============================================================================
// Component Wiring
// =============================================================================

// credentialKeyName is the vault key under which provider API keys are
// stored, per service.
const credentialKeyName = "api_key"

// buildProvider connects the configured model backend and wraps it in
// the prompt-based tool fallback so models without native tool support
// still drive the loop. API keys resolve from the config file, then
// the environment, then the credential vault.
func buildProvider(ctx context.Context, cfg *config.Config, st *store.Store) (agent.LLMProvider, error) {
	var inner agent.LLMProvider

	switch cfg.Model.DefaultProvider {
	case "anthropic":
		pc := cfg.Provider("anthropic")
		key := resolveAPIKey(ctx, st, "anthropic", pc.APIKey, "ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("anthropic: no API key; set providers.anthropic.api_key, export ANTHROPIC_API_KEY, or run %q", "steward auth set anthropic <key>")
		}
		anthropicProvider, err := providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:       key,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxRetries:   pc.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure anthropic: %w", err)
		}
		inner = anthropicProvider
	case "openai":
		pc := cfg.Provider("openai")
		key := resolveAPIKey(ctx, st, "openai", pc.APIKey, "OPENAI_API_KEY")
		if key == "" && pc.BaseURL == "" {
			return nil, fmt.Errorf("openai: no API key or base_url; set one in the config, export OPENAI_API_KEY, or run %q", "steward auth set openai <key>")
		}
		inner = providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:       key,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxRetries:   pc.MaxRetries,
		})
	default:
		pc := cfg.Provider("ollama")
		inner = providers.NewOllama(providers.OllamaConfig{
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			Timeout:      pc.Timeout,
		})
	}

	return providers.NewFallback(inner), nil
}

// resolveAPIKey returns the first available key source: the config
// value, the named environment variable, then the credential vault.
func resolveAPIKey(ctx context.Context, st *store.Store, service, configured, envVar string) string {
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return v
	}
	value, err := st.Credential(ctx, defaultUser, service, credentialKeyName)
	if err != nil {
		return ""
	}
	return value
}

// agentConfig maps file configuration onto the agent's knobs.
func agentConfig(cfg *config.Config) *agent.Config {
	pc := cfg.Provider(cfg.Model.DefaultProvider)
	return &agent.Config{
		Model:             pc.DefaultModel,
		VisionModel:       cfg.Model.VisionModel,
		SystemPrompt:      cfg.Agent.SystemPrompt,
		MaxIterations:     cfg.Agent.MaxIterations,
		MaxTokens:         cfg.Agent.MaxTokens,
		HistoryLimit:      cfg.Agent.HistoryLimit,
		ApprovalTimeout:   cfg.Agent.ApprovalTimeout,
		ApprovalThreshold: cfg.Agent.ApprovalThreshold,
		Checkpoint:        cfg.Agent.CheckpointMode,
	}
}

func toolsRegistry(logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry()
	registry.SetLogger(logger.With("component", "tools"))
	return registry
}

// registerBuiltins attaches the built-in tool providers: memory,
// scheduling, and failure inspection.
func registerBuiltins(registry *tools.Registry, ag *agent.Agent, sched *scheduler.Scheduler, st *store.Store, lib *skills.Library) error {
	failures := builtin.NewFailuresProvider(st)
	failures.SetSkills(lib)
	for _, p := range []tools.Provider{
		builtin.NewMemoryProvider(ag.Memory()),
		builtin.NewScheduleProvider(sched),
		failures,
	} {
		if err := registry.RegisterProvider(p); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Metrics Server
// =============================================================================

// startMetricsServer exposes Prometheus metrics and a health probe.
func startMetricsServer(addr string, st *store.Store, metrics *observability.Metrics, logger *slog.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := st.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           withHTTPMetrics(metrics, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("metrics server listening", "addr", addr)
	return server, nil
}

// statusRecorder captures the response code for the request metric.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withHTTPMetrics(m *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}
