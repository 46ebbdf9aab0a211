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

	"github.com/bambooforest/qiengine/services/engine/observability"
)

// errLQNotFound and errLQForbidden let cancelLogicalQuery report which of
// the two failure modes occurred without the HTTP-specific handlers and
// the websocket inbound-cancel path each re-deriving status codes.
var (
	errLQNotFound  = errors.New("logical query not found")
	errLQForbidden = errors.New("not the owner of this logical query")
)

// cancelLogicalQuery implements spec.md §5's client-initiated cancel for
// a single Logical Query, shared by the HTTP cancel endpoints and the
// websocket's inbound cancel action so both paths issue the exact same
// stop-and-forget sequence.
func cancelLogicalQuery(ctx context.Context, deps *Dependencies, id, user string) error {
	entry, ok := deps.States.Get(id)
	if !ok {
		return errLQNotFound
	}
	if entry.LQ.User != user {
		return errLQForbidden
	}

	if err := deps.Controller.Cancel(ctx, entry.LQ, entry.NonTerminal); err != nil {
		return err
	}
	if deps.Metrics != nil {
		deps.Metrics.RecordIteration(observability.StateCanceled)
		deps.Metrics.QueryEnded()
	}
	deps.States.Delete(id)
	return nil
}

// CancelRequest is the POST /query/:id/cancel body; user is required so
// the handler can verify the caller owns the Logical Query it is
// canceling before issuing stop commands against its jobs.
type CancelRequest struct {
	User string `json:"user" validate:"required"`
}

// NewCancelHandler builds the single-query cancel endpoint (spec.md §5:
// "a client-initiated cancel targets all non-terminal jobs of a Logical
// Query and marks the query itself canceled").
func NewCancelHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req CancelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}

		switch err := cancelLogicalQuery(c.Request.Context(), deps, id, req.User); {
		case errors.Is(err, errLQNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "logical query not found"})
			return
		case errors.Is(err, errLQForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "not the owner of this logical query"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "canceled", "job": id})
	}
}

// BulkCancelRequest is the POST /query/cancel-all body: every
// non-terminal Logical Query belonging to User is canceled in one call
// (SPEC_FULL.md's supplemented bulk cancellation feature, generalising
// the single-query cancel to every job a user has in flight — useful when
// a client disconnects or a page navigates away mid-query).
type BulkCancelRequest struct {
	User string `json:"user" validate:"required"`
}

// NewBulkCancelHandler builds the bulk-cancel endpoint.
func NewBulkCancelHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BulkCancelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}

		ids := deps.States.ForUser(req.User)
		canceled := make([]string, 0, len(ids))
		for _, id := range ids {
			if err := cancelLogicalQuery(c.Request.Context(), deps, id, req.User); err != nil {
				continue
			}
			canceled = append(canceled, id)
		}

		c.JSON(http.StatusOK, gin.H{"status": "canceled", "jobs": canceled})
	}
}
