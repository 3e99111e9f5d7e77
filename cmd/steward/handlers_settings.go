package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/steward/internal/store"
)

// =============================================================================
// Settings Command Handlers
// =============================================================================

// runSettingsSet handles the settings set command.
func runSettingsSet(cmd *cobra.Command, configPath, userID, key, value string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetSetting(cmd.Context(), userID, key, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s.\n", key)
	return nil
}

// runSettingsGet handles the settings get command.
func runSettingsGet(cmd *cobra.Command, configPath, userID, key string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	value, err := st.Setting(cmd.Context(), userID, key)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

// runSettingsList handles the settings list command.
func runSettingsList(cmd *cobra.Command, configPath, userID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	settings, err := st.Settings(cmd.Context(), userID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(settings) == 0 {
		fmt.Fprintln(out, "No settings stored.")
		return nil
	}

	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(out, "%s: %s\n", key, settings[key])
	}
	return nil
}

// runSettingsUnset handles the settings unset command.
func runSettingsUnset(cmd *cobra.Command, configPath, userID, key string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteSetting(cmd.Context(), userID, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unset %s.\n", key)
	return nil
}

// =============================================================================
// Auth Command Handlers
// =============================================================================

// envVarFor maps a backend to the environment variable checked for its
// API key. Unknown services have no environment source.
func envVarFor(service string) string {
	switch service {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	}
	return ""
}

// runAuthSet handles the auth set command.
func runAuthSet(cmd *cobra.Command, configPath, service, apiKey string) error {
	service = strings.ToLower(strings.TrimSpace(service))
	if service == "" {
		return fmt.Errorf("service is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("api key is required")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetCredential(cmd.Context(), defaultUser, service, credentialKeyName, apiKey); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored API key for %s.\n", service)
	return nil
}

// runAuthStatus handles the auth status command.
func runAuthStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	for _, service := range []string{"anthropic", "openai"} {
		source := "not set"
		switch {
		case strings.TrimSpace(cfg.Provider(service).APIKey) != "":
			source = "config"
		case strings.TrimSpace(os.Getenv(envVarFor(service))) != "":
			source = "environment"
		default:
			if _, err := st.Credential(cmd.Context(), defaultUser, service, credentialKeyName); err == nil {
				source = "vault"
			}
		}
		fmt.Fprintf(out, "%s: %s\n", service, source)
	}
	fmt.Fprintf(out, "active backend: %s\n", cfg.Model.DefaultProvider)
	return nil
}

// runAuthRm handles the auth rm command.
func runAuthRm(cmd *cobra.Command, configPath, service string) error {
	service = strings.ToLower(strings.TrimSpace(service))

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	err = st.DeleteCredential(cmd.Context(), defaultUser, service, credentialKeyName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no stored key for %s", service)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed stored key for %s.\n", service)
	return nil
}
