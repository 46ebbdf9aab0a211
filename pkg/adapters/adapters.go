// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package adapters defines the External-interface adapters (spec.md §4.8):
// thin, swappable shims to the SQL generator, prefilter, DB executor and
// worker runtime. The engine core never imports a concrete SQL dialect or
// job-queue package directly — only these interfaces — following the
// open-core extension-point pattern of pkg/extensions (Nop defaults,
// fluent Options builder), repurposed from auth/PII concerns to the
// query-iteration domain.
package adapters

import "context"

// GeneratedSQL is what the SQL generator returns for one iteration: the
// primary SQL text, a post-processing descriptor (opaque to the engine
// beyond the shape aggregator.applyPostProc expects), and templates for
// the dependent sentence/metadata jobs.
type GeneratedSQL struct {
	SQL          string
	PostProc     map[string]any
	SentTemplate string
	MetaTemplate string
	ResultSets   map[string]any
}

// SQLGenerator consumes a structured query and returns the SQL it compiles
// to, per spec.md §4.8. The engine treats its output as opaque text plus
// metadata; it never inspects or rewrites the SQL itself.
type SQLGenerator interface {
	Generate(ctx context.Context, query map[string]any, schema, batchName string, languages []string, config map[string]any) (GeneratedSQL, error)
}

// Prefilter narrows the row space of a generated query via a full-text
// vector sub-SELECT, returned as a SQL fragment to be spliced verbatim
// into the generator's output, or the empty string when no narrowing
// applies (spec.md §4.8). The contract has no normalisation option: the
// engine applies no substring-removal pass to the fragments it receives.
type Prefilter interface {
	Fragment(ctx context.Context, query map[string]any, config map[string]any) (string, error)
}

// Row is one row returned by a DB executor call. Its shape is opaque to
// the engine beyond what the aggregator already expects of primary-job
// output.
type Row []any

// DBExecutor is the single asynchronous call spec.md §4.8 names:
// execute(sql, params) -> rows. SingleRow short-circuits to at most one
// row, mirroring query_service.py's single_row convenience flag.
type DBExecutor interface {
	Execute(ctx context.Context, sql string, params map[string]any, singleRow bool) ([]Row, error)
}

// EnqueueSpec is everything the worker runtime needs to schedule a job
// (spec.md §4.8's enqueue signature, minus the Go func value itself —
// jobs are identified by kind/kwargs, not a closure, so they survive a
// process restart).
type EnqueueSpec struct {
	JobID      string
	Kind       string
	Kwargs     []byte
	Queue      string
	DependsOn  []string
	TimeoutMs  int64
	ResultTTL  int64
}

// WorkerRuntime submits jobs to the named queues (spec.md §5: query,
// background, internal) and fetches their current state back.
type WorkerRuntime interface {
	Enqueue(ctx context.Context, spec EnqueueSpec) (jobID string, err error)
	Fetch(ctx context.Context, jobID string) (JobSnapshot, error)
	Cancel(ctx context.Context, jobID string) error
}

// JobSnapshot is the worker runtime's view of one job's current state,
// narrow enough that the engine never needs a queue-library type.
type JobSnapshot struct {
	ID       string
	Status   string
	Result   []Row
	Meta     map[string]any
	ErrKind  string
	ErrValue string
}

// Options groups all adapter extension points for engine construction,
// in the style of pkg/extensions.ServiceOptions: nil fields are replaced
// with no-op defaults by DefaultOptions, and every field has a fluent
// With* setter.
type Options struct {
	SQLGenerator  SQLGenerator
	Prefilter     Prefilter
	DBExecutor    DBExecutor
	WorkerRuntime WorkerRuntime
	AuditLogger   AuditLogger
}

// DefaultOptions returns Options wired to no-op implementations. A real
// deployment must override at least SQLGenerator, DBExecutor and
// WorkerRuntime; the engine does not function on the Nop defaults alone,
// unlike extensions.DefaultOptions()'s fully-functional open-source mode.
func DefaultOptions() Options {
	return Options{
		SQLGenerator:  &NopSQLGenerator{},
		Prefilter:     &NopPrefilter{},
		DBExecutor:    &NopDBExecutor{},
		WorkerRuntime: &NopWorkerRuntime{},
		AuditLogger:   &NopAuditLogger{},
	}
}

func (o Options) WithSQLGenerator(g SQLGenerator) Options  { o.SQLGenerator = g; return o }
func (o Options) WithPrefilter(p Prefilter) Options         { o.Prefilter = p; return o }
func (o Options) WithDBExecutor(e DBExecutor) Options       { o.DBExecutor = e; return o }
func (o Options) WithWorkerRuntime(w WorkerRuntime) Options { o.WorkerRuntime = w; return o }
func (o Options) WithAuditLogger(l AuditLogger) Options     { o.AuditLogger = l; return o }

// NopSQLGenerator always errors: there is no sensible no-op SQL, unlike
// auth's "always allow" default.
type NopSQLGenerator struct{}

func (*NopSQLGenerator) Generate(context.Context, map[string]any, string, string, []string, map[string]any) (GeneratedSQL, error) {
	return GeneratedSQL{}, errNotConfigured("SQLGenerator")
}

// NopPrefilter always returns no fragment, which is a legitimate steady
// state (spec.md §4.8: "or the empty string").
type NopPrefilter struct{}

func (*NopPrefilter) Fragment(context.Context, map[string]any, map[string]any) (string, error) {
	return "", nil
}

// NopDBExecutor always errors.
type NopDBExecutor struct{}

func (*NopDBExecutor) Execute(context.Context, string, map[string]any, bool) ([]Row, error) {
	return nil, errNotConfigured("DBExecutor")
}

// NopWorkerRuntime always errors.
type NopWorkerRuntime struct{}

func (*NopWorkerRuntime) Enqueue(context.Context, EnqueueSpec) (string, error) {
	return "", errNotConfigured("WorkerRuntime")
}
func (*NopWorkerRuntime) Fetch(context.Context, string) (JobSnapshot, error) {
	return JobSnapshot{}, errNotConfigured("WorkerRuntime")
}
func (*NopWorkerRuntime) Cancel(context.Context, string) error {
	return errNotConfigured("WorkerRuntime")
}

func errNotConfigured(name string) error {
	return &notConfiguredError{name}
}

type notConfiguredError struct{ name string }

func (e *notConfiguredError) Error() string {
	return "adapters: " + e.name + " adapter not configured"
}

var _ SQLGenerator = (*NopSQLGenerator)(nil)
var _ Prefilter = (*NopPrefilter)(nil)
var _ DBExecutor = (*NopDBExecutor)(nil)
var _ WorkerRuntime = (*NopWorkerRuntime)(nil)
