// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP API surface spec.md §6 names:
// POST /query, POST /config, the generic GET /fetch/:id message replay
// and the websocket upgrade, plus the health check and cancel endpoints
// the teacher's own handlers/misc.go and handlers/websocket.go
// contributed the shape of.
package handlers

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bambooforest/qiengine/pkg/adapters"
	"github.com/bambooforest/qiengine/services/engine/cache"
	"github.com/bambooforest/qiengine/services/engine/controller"
	"github.com/bambooforest/qiengine/services/engine/observability"
	"github.com/bambooforest/qiengine/services/engine/pubsub"
	"github.com/bambooforest/qiengine/services/engine/querystate"
)

// Dependencies bundles everything the handlers in this package need,
// following the teacher's handlers/websocket.go convention of taking
// collaborators as explicit parameters rather than reading process
// globals (spec.md §9's design note on callbacks closing over
// process-global objects applies just as much to handlers).
type Dependencies struct {
	Controller  *controller.Controller
	Backend     cache.Backend
	Adapters    adapters.Options
	Metrics     *observability.EngineMetrics
	Registry    *pubsub.Registry
	States      *querystate.Store
	Validate    *validator.Validate
	Channel     string

	// DefaultMaxKWICLines caps a client-supplied page_size: a larger one is
	// refused as a KWIC-limit InvalidRequest (spec.md §7). An unset
	// page_size is not bounded by it, and zero disables the check.
	DefaultMaxKWICLines int

	// CorpusConfigPath is the on-disk corpus-config file POST /config
	// re-reads on each force-refresh.
	CorpusConfigPath string
	// AppConfigTTL is how long the cached corpus config is kept warm
	// before POST /config must be called again.
	AppConfigTTL time.Duration
	// MessageTTL is the TTL applied to msg:<uuid> replay entries.
	MessageTTL time.Duration

	// DefaultQueue names the worker queue fresh primary jobs are
	// submitted to (spec.md §5: "query", as opposed to "background" for
	// full-corpus/export work).
	DefaultQueue string
}

// NewValidator builds a go-playground/validator instance configured the
// way POST /query's body validation needs: struct-tag driven, no custom
// registrations beyond the library defaults.
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}
