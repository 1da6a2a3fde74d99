// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config location when none is given.
const DefaultPath = "~/.progression/labeler.yaml"

// Load reads the configuration from path, falling back to DefaultPath
// when path is empty. A default config file is created on first run.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	path = expandHome(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}

	// Env override keeps container deployments simple.
	if port := os.Getenv("LABELER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port == "" {
		return fmt.Errorf("server.port must not be empty")
	}
	if cfg.Cache.MaxPatients < 1 {
		return fmt.Errorf("cache.max_patients must be at least 1, got %d", cfg.Cache.MaxPatients)
	}
	if cfg.Cache.StalenessSeconds < 0 {
		return fmt.Errorf("cache.staleness_seconds must not be negative")
	}
	if cfg.Remote.SpreadsheetID != "" && cfg.Remote.CredentialsFile == "" {
		return fmt.Errorf("remote.spreadsheet_id is set but remote.credentials_file is empty")
	}
	return nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
