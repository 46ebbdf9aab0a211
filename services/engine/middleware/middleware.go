// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the query iteration
// engine. The engine has no authentication surface (spec.md §1's explicit
// Non-goal: "does not authenticate users"), so this package carries only
// the ambient request-id and access-log concerns every HTTP service needs
// regardless of that Non-goal, replacing the teacher's bearer-token
// AuthMiddleware with the request-tagging middleware it would otherwise
// have alongside auth.
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDKey is the context key RequestID stores the generated id
// under and AccessLog/handlers read it back from.
const requestIDKey = "qiengine_request_id"

// RequestIDHeader is the response header carrying the per-request id, so
// a client can correlate its own logs with the server's.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns a fresh UUID to every request (or reuses an inbound
// X-Request-Id if the caller already supplied one, e.g. a gateway that
// generated it upstream), stores it in the Gin context, and echoes it on
// the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID retrieves the id RequestID stored on c, or "" if the
// middleware was not installed.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// AccessLog logs one structured line per completed request: method, path,
// status, latency and request id, through the same process-wide slog
// default logger the rest of the engine uses, rather than gin's own
// text-format logger.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		logger.Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", GetRequestID(c),
			"client_ip", c.ClientIP(),
		)
	}
}
