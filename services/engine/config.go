// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"os"
	"strconv"
	"time"
)

// Config holds query iteration engine configuration, populated from the
// environment variables spec.md §6 names. Zero values are replaced with
// sensible defaults by applyConfigDefaults.
type Config struct {
	// Port is the HTTP server port (AIO_PORT). Default: 12210.
	Port int

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	OTelEndpoint string
	// EnableMetrics enables the Prometheus /metrics endpoint.
	EnableMetrics bool
	// GinMode sets the Gin framework mode (debug/release/test).
	GinMode string

	// RedisURL selects the Redis cache/queue backend when set; otherwise
	// the engine falls back to an embedded badger store rooted at
	// BadgerDir, for local development without a Redis instance.
	RedisURL    string
	RedisDBIndex int
	BadgerDir   string

	// CorpusConfigPath is the on-disk corpus-config file POST /config
	// (re-)reads into the app_config cache entry.
	CorpusConfigPath string

	// QueryTimeout bounds a quota-limited iteration's jobs.
	QueryTimeout time.Duration
	// EntireCorpusCallbackTimeout bounds a full-corpus iteration's jobs.
	EntireCorpusCallbackTimeout time.Duration
	// QueryCallbackTimeout is loaded from QUERY_CALLBACK_TIMEOUT (default
	// 10s); no component reads it, so a callback's run time is not bounded.
	QueryCallbackTimeout time.Duration
	// UploadTimeout is loaded from UPLOAD_TIMEOUT (default 5m); no
	// component reads it.
	UploadTimeout time.Duration
	// QueryTTL is how long a finished job's cache entry and its msg:<uuid>
	// replay entries are kept warm.
	QueryTTL time.Duration
	// AppConfigTTL is how long the cached corpus config survives before a
	// fresh POST /config is required.
	AppConfigTTL time.Duration

	// UseCache toggles fingerprint-based cache replay (spec.md §4.4).
	UseCache bool
	// DefaultMaxKWICLines is the largest page_size a request may supply;
	// an unset page_size is not bounded by it.
	DefaultMaxKWICLines int
	// Debug is loaded from DEBUG; no component reads it, and failure
	// callback payloads carry no traceback whether it is set or not.
	Debug bool

	// Channel is the pub/sub channel the Callback Layer publishes on and
	// the Listener subscribes to.
	Channel string
	// SweepInterval is how often the connection registry reaps closed
	// websocket connections (spec.md §4.7's secondary task).
	SweepInterval time.Duration
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.BadgerDir == "" {
		cfg.BadgerDir = "./data/qiengine-cache"
	}
	if cfg.CorpusConfigPath == "" {
		cfg.CorpusConfigPath = "./config/corpora.yaml"
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if cfg.EntireCorpusCallbackTimeout == 0 {
		cfg.EntireCorpusCallbackTimeout = 30 * time.Minute
	}
	if cfg.QueryCallbackTimeout == 0 {
		cfg.QueryCallbackTimeout = 10 * time.Second
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}
	if cfg.QueryTTL == 0 {
		cfg.QueryTTL = 24 * time.Hour
	}
	if cfg.AppConfigTTL == 0 {
		cfg.AppConfigTTL = 1 * time.Hour
	}
	if cfg.DefaultMaxKWICLines == 0 {
		cfg.DefaultMaxKWICLines = 1000
	}
	if cfg.Channel == "" {
		cfg.Channel = "qiengine:events"
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 1 * time.Minute
	}
	return cfg
}

// ConfigFromEnv builds a Config from the environment variables spec.md §6
// names, in the style of cmd/orchestrator/main.go's getEnvString/getEnvInt
// helpers, generalised with bool/duration counterparts.
func ConfigFromEnv() Config {
	return applyConfigDefaults(Config{
		Port:                        getEnvInt("AIO_PORT", 0),
		RedisURL:                    os.Getenv("REDIS_URL"),
		RedisDBIndex:                getEnvInt("REDIS_DB_INDEX", 0),
		CorpusConfigPath:            os.Getenv("CORPUS_CONFIG_PATH"),
		QueryTimeout:                getEnvDuration("QUERY_TIMEOUT", 0),
		EntireCorpusCallbackTimeout: getEnvDuration("QUERY_ENTIRE_CORPUS_CALLBACK_TIMEOUT", 0),
		QueryCallbackTimeout:        getEnvDuration("QUERY_CALLBACK_TIMEOUT", 0),
		UploadTimeout:               getEnvDuration("UPLOAD_TIMEOUT", 0),
		QueryTTL:                    getEnvDuration("QUERY_TTL", 0),
		UseCache:                    getEnvBool("USE_CACHE", true),
		DefaultMaxKWICLines:         getEnvInt("DEFAULT_MAX_KWIC_LINES", 0),
		Debug:                       getEnvBool("DEBUG", false),
		EnableMetrics:               true,
	})
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration parses key as seconds, matching query_service.py's env
// vars (QUERY_TIMEOUT and friends are plain integer-seconds values).
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
