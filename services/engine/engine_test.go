// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/bambooforest/qiengine/pkg/adapters"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12210, result.Port)
	assert.Equal(t, "aleutian-otel-collector:4317", result.OTelEndpoint)
	assert.Equal(t, 30*time.Second, result.QueryTimeout)
	assert.Equal(t, 24*time.Hour, result.QueryTTL)
	assert.Equal(t, 1000, result.DefaultMaxKWICLines)
	assert.Equal(t, "qiengine:events", result.Channel)
}

func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:         8080,
		OTelEndpoint: "custom-collector:4317",
		QueryTimeout: 5 * time.Second,
		RedisURL:     "localhost:6379",
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 8080, result.Port)
	assert.Equal(t, "custom-collector:4317", result.OTelEndpoint)
	assert.Equal(t, 5*time.Second, result.QueryTimeout)
	assert.Equal(t, "localhost:6379", result.RedisURL)
}

func TestApplyConfigDefaults_PartialConfig(t *testing.T) {
	cfg := Config{Port: 9999}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 9999, result.Port)
	assert.Equal(t, "aleutian-otel-collector:4317", result.OTelEndpoint)
	assert.Equal(t, 30*time.Second, result.QueryTimeout)
}

func TestGetEnvInt_FallsBackOnUnset(t *testing.T) {
	assert.Equal(t, 42, getEnvInt("QIENGINE_TEST_NOT_SET", 42))
}

func TestGetEnvBool_FallsBackOnUnparsable(t *testing.T) {
	t.Setenv("QIENGINE_TEST_BOOL", "not-a-bool")
	assert.True(t, getEnvBool("QIENGINE_TEST_BOOL", true))
}

func TestGetEnvDuration_ParsesSeconds(t *testing.T) {
	t.Setenv("QIENGINE_TEST_DURATION", "90")
	assert.Equal(t, 90*time.Second, getEnvDuration("QIENGINE_TEST_DURATION", 0))
}

// =============================================================================
// Service Construction Tests
// =============================================================================

// newTestService builds a Service against an embedded badger backend so
// construction does not require a live Redis instance; OTel export to a
// collector that does not exist is fine since initTracer never blocks on
// a successful connection (grpc.NewClient defers dialing).
func newTestService(t *testing.T) Service {
	t.Helper()
	cfg := Config{
		BadgerDir:        t.TempDir(),
		CorpusConfigPath: t.TempDir() + "/corpora.yaml",
		OTelEndpoint:     "127.0.0.1:0",
	}
	svc, err := New(cfg, adapters.DefaultOptions())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return svc
}

func TestNew_BuildsRouterWithCoreRoutes(t *testing.T) {
	svc := newTestService(t)
	router := svc.Router()
	assert.NotNil(t, router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}

func TestNew_MetricsEndpointServed(t *testing.T) {
	svc := newTestService(t)
	router := svc.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}
