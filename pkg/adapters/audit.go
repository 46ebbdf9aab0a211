// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adapters

import (
	"context"
	"time"
)

// JobEvent is one job-lifecycle event: submitted, replayed, finished,
// failed, canceled. Repurposed from pkg/extensions' AuditEvent shape
// (EventType/Timestamp/Outcome/Metadata) for the job-submission domain
// rather than auth/PII concerns.
type JobEvent struct {
	EventType string // "job.submitted", "job.replayed", "job.finished", "job.failed", "job.canceled"
	Timestamp time.Time
	User      string
	Room      string
	JobID     string
	Kind      string // primary | sentence | metadata
	Outcome   string // success | failure | blocked
	Metadata  map[string]any
}

// AuditFilter selects a subset of recorded job events.
type AuditFilter struct {
	EventTypes []string
	User       string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// AuditLogger records job-lifecycle events for operational visibility.
// Implementations must be safe for concurrent use.
type AuditLogger interface {
	Log(ctx context.Context, event JobEvent) error
	Query(ctx context.Context, filter AuditFilter) ([]JobEvent, error)
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events; this is the default when no
// operational audit trail is configured.
type NopAuditLogger struct{}

func (*NopAuditLogger) Log(context.Context, JobEvent) error { return nil }
func (*NopAuditLogger) Query(context.Context, AuditFilter) ([]JobEvent, error) {
	return []JobEvent{}, nil
}
func (*NopAuditLogger) Flush(context.Context) error { return nil }

var _ AuditLogger = (*NopAuditLogger)(nil)
