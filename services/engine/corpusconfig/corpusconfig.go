// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package corpusconfig loads the corpus-config file describing which
// corpora exist, their schema names, word counts and batch listings, and
// caches it under the `app_config` key (spec.md §6's persisted-state
// table). Grounded on services/trace/config's YAML-registry-loader shape
// (size-bounded os.ReadFile + yaml.Unmarshal into a typed struct), adapted
// from tool-routing keywords to corpus/batch metadata.
package corpusconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bambooforest/qiengine/pkg/ttl"
	"github.com/bambooforest/qiengine/services/engine/datatypes"
)

// MaxFileSize bounds the corpus-config file the engine will read, the
// same defensive limit the teacher's YAML-registry loader applies.
const MaxFileSize = 4 * 1024 * 1024

// AppConfigKey is the cache key the corpus config is stored and refreshed
// under (spec.md §6: "app_config -> cached corpus config").
const AppConfigKey = "app_config"

// Corpus describes one corpus: its schema, word count (used by the
// Callback Layer's percentage-of-corpus projection, spec.md §4.5) and the
// batches the Batch Selector iterates over.
type Corpus struct {
	ID         int              `yaml:"id" json:"id"`
	Name       string           `yaml:"name" json:"name"`
	SchemaName string           `yaml:"schema_name" json:"schema_name"`
	WordCount  int64            `yaml:"word_count" json:"word_count"`
	Batches    []datatypes.Batch `yaml:"batches" json:"batches"`
}

// Config is the full corpus-config document: every corpus the engine
// knows how to query.
type Config struct {
	Corpora []Corpus `yaml:"corpora" json:"corpora"`

	// RetentionTTL optionally overrides how long the app_config cache
	// entry is kept warm before POST /config must be called again,
	// authored in the human-friendly or ISO 8601 form pkg/ttl.ParseTTLDuration
	// accepts ("30d", "PT12H"). Empty means the caller's default applies.
	RetentionTTL string `yaml:"retention_ttl,omitempty" json:"retention_ttl,omitempty"`
}

// ResolveTTL returns the corpus config's own app_config retention period if
// RetentionTTL is set, falling back to the caller-supplied default otherwise.
// An unparsable RetentionTTL is reported as an error rather than silently
// ignored, since it reflects a corpora.yaml authoring mistake the operator
// should know about at refresh time.
func (c Config) ResolveTTL(fallback time.Duration) (time.Duration, error) {
	if c.RetentionTTL == "" {
		return fallback, nil
	}
	result, err := ttl.ParseTTLDuration(c.RetentionTTL)
	if err != nil {
		return 0, fmt.Errorf("corpusconfig: retention_ttl: %w", err)
	}
	return result.Duration, nil
}

// ByID returns the corpus with the given id, or false if unknown —
// surfaced to the caller as an enginerr.InvalidRequest ("unknown corpus
// id", spec.md §7).
func (c Config) ByID(id int) (Corpus, bool) {
	for _, corpus := range c.Corpora {
		if corpus.ID == id {
			return corpus, true
		}
	}
	return Corpus{}, false
}

// LoadFile reads and parses a corpus-config YAML file from disk.
func LoadFile(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("corpusconfig: stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return Config{}, fmt.Errorf("corpusconfig: %s exceeds max size of %d bytes", path, MaxFileSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("corpusconfig: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("corpusconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Store encodes cfg as JSON for the caller (handlers.NewConfigHandler) to
// persist under AppConfigKey; the TTL policy and concrete cache.Backend
// stay the caller's responsibility.
func Store(cfg Config) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("corpusconfig: encode: %w", err)
	}
	return raw, nil
}

// Parse decodes a previously-stored app_config cache entry back into a
// Config.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("corpusconfig: decode: %w", err)
	}
	return cfg, nil
}
