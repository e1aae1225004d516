// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the memory-core configuration from defaults, an
// optional YAML file, and KIROX_-prefixed environment variables, in that
// order of precedence.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Vector    VectorConfig    `koanf:"vector"`
	Chat      ChatConfig      `koanf:"chat"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// EmbeddingConfig controls the embedding engine and its scheduler.
// BatchWindowMS bounds the extra latency batching may add; BatchSize bounds
// how many requests one engine invocation may serve.
type EmbeddingConfig struct {
	Provider      string `koanf:"provider"` // ollama, mock
	BaseURL       string `koanf:"base_url"`
	Model         string `koanf:"model"`
	Dimension     int    `koanf:"dimension"`
	BatchSize     int    `koanf:"batch_size"`
	BatchWindowMS int    `koanf:"batch_window_ms"`
	QueueCapacity int    `koanf:"queue_capacity"`
	MaxTextRunes  int    `koanf:"max_text_runes"`
}

// VectorConfig controls the vector store manager. Dimension must match the
// embedding model output and every existing collection.
type VectorConfig struct {
	Backend        string `koanf:"backend"` // embedded, qdrant
	QdrantAddr     string `koanf:"qdrant_addr"`
	Metric         string `koanf:"metric"` // l2, cosine
	IndexKind      string `koanf:"index_kind"`
	FlushIntervalS int    `koanf:"flush_interval_s"`
	ManifestPath   string `koanf:"manifest_path"`
}

type ChatConfig struct {
	SQLitePath string `koanf:"sqlite_path"`
	StatsZone  string `koanf:"stats_zone"` // IANA zone for daily stats grouping
}

// Load reads configuration from the optional file at path, then overlays
// environment variables (KIROX_VECTOR_QDRANT_ADDR -> vector.qdrant_addr).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "none")

	k.Set("embedding.provider", "ollama")
	k.Set("embedding.base_url", "http://localhost:11434")
	k.Set("embedding.model", "bge-small-zh-v1.5")
	k.Set("embedding.dimension", 512)
	k.Set("embedding.batch_size", 32)
	k.Set("embedding.batch_window_ms", 10)
	k.Set("embedding.queue_capacity", 256)
	k.Set("embedding.max_text_runes", 8192)

	k.Set("vector.backend", "embedded")
	k.Set("vector.qdrant_addr", "localhost:6334")
	k.Set("vector.metric", "l2")
	k.Set("vector.index_kind", "flat")
	k.Set("vector.flush_interval_s", 30)

	k.Set("chat.sqlite_path", "kirox-memory.db")
	k.Set("chat.stats_zone", "Asia/Taipei")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (KIROX_EMBEDDING_BATCH_SIZE -> embedding.batch_size)
	if err := k.Load(env.Provider("KIROX_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "KIROX_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
