// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Loom's runtime configuration: defaults, overlaid by
// an optional YAML file (plus a profile variant), overlaid by LOOM_* env
// vars.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Embedder  EmbedderConfig  `koanf:"embedder"`
	Store     StoreConfig     `koanf:"store"`
	Cache     CacheConfig     `koanf:"cache"`
	Offload   OffloadConfig   `koanf:"offload"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	Flows     string          `koanf:"flows"` // path to the flow definition file
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider   string  `koanf:"provider"` // ollama, mock
	Model      string  `koanf:"model"`
	BaseURL    string  `koanf:"base_url"`
	MaxRetries int     `koanf:"max_retries"`
	Temp       float64 `koanf:"temperature"`
}

type EmbedderConfig struct {
	Provider     string `koanf:"provider"` // ollama
	Model        string `koanf:"model"`
	BaseURL      string `koanf:"base_url"`
	MaxBatchSize int    `koanf:"max_batch_size"`
}

type StoreConfig struct {
	Provider   string `koanf:"provider"` // qdrant, chromem, inmemory
	QdrantAddr string `koanf:"qdrant_addr"`
	Collection string `koanf:"collection"`
	VectorSize uint64 `koanf:"vector_size"`
}

type CacheConfig struct {
	Dir string        `koanf:"dir"`
	TTL time.Duration `koanf:"ttl"`
}

type OffloadConfig struct {
	TokenBudget         int     `koanf:"token_budget"`
	PerMessageBudget    int     `koanf:"per_message_budget"`
	KeepRecent          int     `koanf:"keep_recent"`
	GroupTokenThreshold int     `koanf:"group_token_threshold"`
	Ratio               float64 `koanf:"ratio"`
	Dir                 string  `koanf:"dir"`
	PreviewLen          int     `koanf:"preview_len"`
}

type TelemetryConfig struct {
	Enabled      bool              `koanf:"enabled"`
	Exporter     string            `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string            `koanf:"otlp_endpoint"`
	OTLPHeaders  map[string]string `koanf:"otlp_headers"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// Load reads configuration from path (may be empty) with env overrides.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile overlays config.<profile>.yaml on top of the base file
// when such a variant exists next to it.
func LoadWithProfile(path, profile string) (*Config, error) {
	k := koanf.New(".")

	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.max_retries", 3)

	k.Set("embedder.provider", "ollama")
	k.Set("embedder.model", "nomic-embed-text")
	k.Set("embedder.base_url", "http://localhost:11434")
	k.Set("embedder.max_batch_size", 32)

	k.Set("store.provider", "inmemory")
	k.Set("store.qdrant_addr", "localhost:6334")
	k.Set("store.collection", "loom")
	k.Set("store.vector_size", 768)

	k.Set("cache.dir", "")
	k.Set("cache.ttl", time.Duration(0))

	k.Set("offload.token_budget", 20000)
	k.Set("offload.per_message_budget", 2000)
	k.Set("offload.keep_recent", 10)
	k.Set("offload.ratio", 0.75)
	k.Set("offload.dir", filepath.Join(os.TempDir(), "loom-offload"))

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")

	k.Set("server.addr", ":8080")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}
	if profilePath := profileConfigPath(path, profile); profilePath != "" {
		if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// LOOM_LLM_PROVIDER -> llm.provider
	if err := k.Load(env.Provider("LOOM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "LOOM_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// profileConfigPath returns the path of the profile variant of base
// (config.yaml + "dev" -> config.dev.yaml) if it exists, else "".
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	candidate := filepath.Join(dir, name+"."+profile+ext)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}
