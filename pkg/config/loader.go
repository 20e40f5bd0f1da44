// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global TARAConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable.
// Environment variables override file values for the knobs operators
// most commonly set per deployment.
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	configPath := os.Getenv("AUTOTARA_CONFIG")
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not find the user's home directory: %w", err)
		}
		configPath = filepath.Join(home, ".autotara", "autotara.yaml")
	}
	// create it if it doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf(" First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return err
		}
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read the config file: %w", err)
	}
	Global = DefaultConfig()
	if err = yaml.Unmarshal(data, &Global); err != nil {
		return fmt.Errorf("failed to parse the config into the Global singleton: %w", err)
	}
	applyEnvOverrides(&Global)
	return nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func applyEnvOverrides(cfg *TARAConfig) {
	if v := os.Getenv("AUTOTARA_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("WEAVIATE_URL"); v != "" {
		cfg.Retrieval.WeaviateURL = v
	}
	if v := os.Getenv("AUTOTARA_LLM_BACKEND"); v != "" {
		cfg.ModelBackend.Type = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.ModelBackend.OpenAIModel = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.ModelBackend.OllamaURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.ModelBackend.OllamaModel = v
	}
	if v := os.Getenv("ORCHESTRATOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}
