package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*TaskflowConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalDir returns ~/.taskflow.
func GlobalDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".taskflow"), nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskflow/config.json
// Project: .taskflow/config.json (relative to cwd)
// The run history defaults to ~/.taskflow/history.db.
func LoadDefault() (*TaskflowConfig, error) {
	dir, err := GlobalDir()
	if err != nil {
		return nil, err
	}

	cfg, err := Load(filepath.Join(dir, "config.json"), filepath.Join(".taskflow", "config.json"))
	if err != nil {
		return nil, err
	}
	if cfg.Database == "" {
		cfg.Database = filepath.Join(dir, "history.db")
	}
	return cfg, nil
}

// mergeConfigFile decodes a JSON config file over base. Fields present in
// the file replace base values; agents merge by role, each entry replacing
// the whole role configuration. Missing files are silently skipped.
func mergeConfigFile(base *TaskflowConfig, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if base.Agents == nil {
		base.Agents = make(map[string]AgentConfig)
	}

	// Decoding over base keeps fields the file leaves out. Map entries are
	// decoded into fresh values, so an agent entry replaces its role wholesale.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
