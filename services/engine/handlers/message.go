// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bambooforest/qiengine/services/engine/cache"
)

// messageKeyPrefix namespaces the generic-replay cache key (spec.md §6:
// "msg:<uuid> -> a stored pub/sub message for replay").
const messageKeyPrefix = "msg:"

// NewFetchHandler builds the GET /fetch/:id handler: the supplemented
// generic message-replay operation (SPEC_FULL.md's generic message
// replay feature), surfaced to the websocket layer as the `fetch` action
// spec.md §6 lists among the recognised server->client actions. It
// returns whatever StoreMessage saved under that id, or 404 when nothing
// was stored there.
func NewFetchHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing message id"})
			return
		}

		raw, err := deps.Backend.Get(c.Request.Context(), messageKeyPrefix+id)
		if errors.Is(err, cache.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found", "action": "fetch"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch message"})
			return
		}

		c.Data(http.StatusOK, "application/json", raw)
	}
}

// StoreMessage persists a raw envelope under id so a later GET /fetch/:id
// can replay it verbatim. Nothing in the engine calls it: the Callback
// Layer publishes envelopes without storing them and without a message
// id, so GET /fetch/:id finds only entries written through this function.
func StoreMessage(ctx context.Context, deps *Dependencies, id string, raw []byte) error {
	return deps.Backend.Set(ctx, messageKeyPrefix+id, raw, deps.MessageTTL)
}
