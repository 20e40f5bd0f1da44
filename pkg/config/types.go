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

// TARAConfig is the root configuration for the AutoTARA services.
type TARAConfig struct {
	// Output: where run directories and their CSV evidence live
	Output OutputConfig `yaml:"output"`

	// Server: HTTP orchestrator settings
	Server ServerConfig `yaml:"server"`

	// ModelBackend: decides which generation backend to use
	ModelBackend BackendConfig `yaml:"model_backend"`

	// Retrieval: reference store connection and query defaults
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Prompts: optional on-disk override directory for prompt templates
	Prompts PromptConfig `yaml:"prompts"`
}

type OutputConfig struct {
	// Dir is the base output directory holding run_<timestamp> namespaces.
	Dir string `yaml:"dir"`
}

type ServerConfig struct {
	Port int `yaml:"port"` // e.g. 12310
}

type BackendConfig struct {
	// Type can be "openai" or "ollama".
	Type string `yaml:"type"`

	// OpenAI settings (API key comes from OPENAI_API_KEY).
	OpenAIModel string `yaml:"openai_model,omitempty"`

	// Ollama settings.
	OllamaURL   string `yaml:"ollama_url,omitempty"`
	OllamaModel string `yaml:"ollama_model,omitempty"`
}

type RetrievalConfig struct {
	// WeaviateURL is the reference store endpoint, e.g. http://localhost:8080.
	WeaviateURL string `yaml:"weaviate_url"`

	// DefaultLimit is the fallback result count for context queries.
	DefaultLimit int `yaml:"default_limit"`
}

type PromptConfig struct {
	// Dir overrides the embedded prompt templates when set.
	Dir string `yaml:"dir,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() TARAConfig {
	return TARAConfig{
		Output: OutputConfig{Dir: "output"},
		Server: ServerConfig{Port: 12310},
		ModelBackend: BackendConfig{
			Type:        "openai",
			OpenAIModel: "gpt-4o",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.1",
		},
		Retrieval: RetrievalConfig{
			WeaviateURL:  "http://localhost:8080",
			DefaultLimit: 8,
		},
	}
}
