// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the issuedex configuration file.
//
// The file lives at ~/.issuedex/issuedex.yaml and is created with
// defaults on first run. Secrets (GitHub token, embedding API key) can
// be set in the file or overridden by the GITHUB_TOKEN and
// MISTRAL_API_KEY environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for all issuedex commands.
type Config struct {
	// GitHub: source adapter settings.
	GitHub GitHubConfig `yaml:"github"`

	// Embedding: provider endpoint and enrichment concurrency.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Store: local data and cache directories.
	Store StoreConfig `yaml:"store"`

	// Pull: window planning defaults.
	Pull PullConfig `yaml:"pull"`

	// Serve: HTTP query service binding.
	Serve ServeConfig `yaml:"serve"`

	// Metrics: activity-score tuning.
	Metrics MetricsConfig `yaml:"metrics"`
}

type GitHubConfig struct {
	Token   string `yaml:"token,omitempty"`
	BaseURL string `yaml:"base_url"` // e.g. https://api.github.com
}

type EmbeddingConfig struct {
	APIKey       string  `yaml:"api_key,omitempty"`
	BaseURL      string  `yaml:"base_url"` // OpenAI-compatible endpoint
	Model        string  `yaml:"model"`    // e.g. mistral-embed
	SummaryModel string  `yaml:"summary_model,omitempty"`
	Workers      int     `yaml:"workers"`           // concurrent embedding requests
	RequestsPerS float64 `yaml:"requests_per_sec"`  // provider rate limit
	RetryLimit   int     `yaml:"retry_limit"`       // attempts per record
	Summaries    bool    `yaml:"summaries"`         // generate AI summaries during enrich
}

type StoreConfig struct {
	DataDir  string `yaml:"data_dir"`  // badger collection store
	CacheDir string `yaml:"cache_dir"` // badger embedding cache
}

type PullConfig struct {
	StartDate  string `yaml:"start_date"`  // YYYY-MM-DD, first-run window origin
	WindowDays int    `yaml:"window_days"` // fetch window width
}

type ServeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MetricsConfig struct {
	EngagementWeight float64 `yaml:"engagement_weight"`
	RecencyWeight    float64 `yaml:"recency_weight"`
	RecencyHalfLife  float64 `yaml:"recency_half_life_days"`
}

// Default returns the configuration written on first run.
func Default() Config {
	return Config{
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
		},
		Embedding: EmbeddingConfig{
			BaseURL:      "https://api.mistral.ai/v1",
			Model:        "mistral-embed",
			SummaryModel: "mistral-small",
			Workers:      4,
			RequestsPerS: 4,
			RetryLimit:   3,
		},
		Store: StoreConfig{
			DataDir:  "~/.issuedex/data",
			CacheDir: "~/.issuedex/cache",
		},
		Pull: PullConfig{
			StartDate:  "2024-01-01",
			WindowDays: 7,
		},
		Serve: ServeConfig{
			Host: "localhost",
			Port: 8470,
		},
		Metrics: MetricsConfig{
			EngagementWeight: 1.0,
			RecencyWeight:    1.0,
			RecencyHalfLife:  30,
		},
	}
}

// Load reads the config file at path, or the default location when
// path is empty, creating a default file on first run. Environment
// variables override file-based secrets.
func Load(path string) (Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("could not find the user's home directory: %w", err)
		}
		path = filepath.Join(home, ".issuedex", "issuedex.yaml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := createDefault(path); err != nil {
				return Config{}, err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if key := os.Getenv("MISTRAL_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
