package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/steward/internal/config"
	"github.com/haasonsaas/steward/internal/store"
)

// defaultUser is the identity attached to terminal sessions. Steward is
// a single-operator tool; everything typed locally belongs to this user.
const defaultUser = "local"

// defaultConfigPath finds a config file without being told where to
// look: STEWARD_CONFIG first, then the working directory, then
// ~/.steward. An empty return means "run on built-in defaults".
func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("STEWARD_CONFIG")); p != "" {
		return p
	}
	candidates := []string{"steward.yaml", "steward.json5"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".steward", "steward.yaml"),
			filepath.Join(home, ".steward", "steward.json5"),
		)
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// loadConfig reads the file at path, or falls back to defaults when no
// path was given and none was found.
func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default config: %w", err)
		}
		return cfg, nil
	}
	return config.Load(path)
}

// openStore opens the SQLite state store, creating its directory on
// first run.
func openStore(cfg *config.Config) (*store.Store, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return store.Open(cfg.Store.Path)
}
