// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package enginerr classifies engine failures into the five-kind taxonomy
// spec.md §7 names (InvalidRequest, BackendTimeout, BackendFailure,
// Interrupted, CacheMiss) so the Callback Layer and HTTP handlers can branch
// on *kind* rather than a concrete error type. Grounded on
// backend/callbacks.py's _general_failure, which classifies a worker
// exception into exactly this set before publishing.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind is one of the five taxonomy members. It is the wire value carried in
// the websocket failure envelope's "kind" field (spec.md §7), so its string
// form is stable API surface, not just a label.
type Kind string

const (
	// KindInvalidRequest covers malformed JSON bodies, unknown corpus ids,
	// and "no available batch" conditions (KWIC limit exceeded). Surfaced
	// synchronously on the HTTP response.
	KindInvalidRequest Kind = "InvalidRequest"
	// KindBackendTimeout covers a job that exceeded its timeout or a
	// worker that died mid-job. Reported asynchronously via websocket with
	// action: timeout; the Logical Query is not auto-resubmitted.
	KindBackendTimeout Kind = "BackendTimeout"
	// KindBackendFailure covers an arbitrary worker-side exception.
	// Reported via websocket with status: failed.
	KindBackendFailure Kind = "BackendFailure"
	// KindInterrupted covers a user-initiated cancel. Suppressed: no
	// websocket message is sent, because the client already knows.
	KindInterrupted Kind = "Interrupted"
	// KindCacheMiss is not an error; it is the normal control-flow
	// outcome of a fingerprint lookup that found nothing. Callers should
	// not publish a failure for this kind.
	KindCacheMiss Kind = "CacheMiss"
)

// Reason further narrows KindInvalidRequest into the specific websocket
// `action` spec.md §7 requires the HTTP response to carry: "no_batch" or
// "kwic_limit". Empty for every other kind.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonNoBatch    Reason = "no_batch"
	ReasonKWICLimit  Reason = "kwic_limit"
)

// Error is an engine failure classified by Kind, optionally carrying the
// specific InvalidRequest Reason and, in debug mode only, a traceback-style
// detail string (spec.md §7: "includes traceback in debug mode only").
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Detail  string // populated only when the caller is running in debug mode
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with a message, with no wrapped
// cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind that wraps an underlying cause,
// preserving it for errors.Is/errors.As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// InvalidRequest builds a KindInvalidRequest error carrying the specific
// refusal reason the HTTP handler should echo as the response's action
// field (spec.md §6: "Creates a Logical Query … returns {status, job}";
// §7: "Surfaced synchronously on the HTTP response with an action
// describing the specific refusal").
func InvalidRequest(reason Reason, message string) *Error {
	return &Error{Kind: KindInvalidRequest, Reason: reason, Message: message}
}

// Timeout builds a KindBackendTimeout error for a job that exceeded its
// deadline or whose worker died.
func Timeout(message string) *Error {
	return &Error{Kind: KindBackendTimeout, Message: message}
}

// Interrupted builds a KindInterrupted error for a user-initiated cancel.
// Handlers checking IsInterrupted should suppress any client-facing
// notification for it.
func Interrupted(jobID string) *Error {
	return &Error{Kind: KindInterrupted, Message: "canceled: " + jobID}
}

// WithDetail attaches a debug-mode-only detail string (e.g. a formatted
// stack trace) and returns e for chaining. Callers must gate populating
// this on the engine's DEBUG configuration themselves; enginerr never reads
// global config.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// Classify maps an arbitrary error returned by the worker runtime or cache
// backend into the taxonomy, defaulting to KindBackendFailure when err does
// not already carry a Kind (backend/callbacks.py's _general_failure:
// anything not recognised as a timeout or interrupt is an arbitrary
// worker-side exception).
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindBackendFailure, Message: err.Error(), cause: err}
}

// Is reports whether err was classified (directly or by wrapping) as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
