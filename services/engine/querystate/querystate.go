// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package querystate holds the server process's own bookkeeping table of
// live Logical Queries: each entry carries the Logical Query (whose
// Canceled flag marks a cancel) and its outstanding job ids. The
// client-connection table is pubsub.Registry, not this package. The Pub/Sub
// Listener's ContinuationFunc and the cancel/bulk-cancel HTTP handlers
// both need to look a Logical Query's accumulated state back up by id,
// which neither the Controller (stateless, spec.md §4.6) nor the
// pub/sub envelope (spec.md §4.7: "only ever needs {action, user, room,
// job, status}") carries — so this is where it lives. Grounded on
// pubsub.Registry's mutex-guarded map-of-maps shape, generalised from
// connections keyed by room to queries keyed by id.
package querystate

import (
	"sync"

	"github.com/bambooforest/qiengine/services/engine/datatypes"
)

// Entry bundles a Logical Query with its most recent Iteration and the
// job ids still outstanding, which Cancel needs to target (spec.md §5:
// "a client-initiated cancel targets all non-terminal jobs of a Logical
// Query").
type Entry struct {
	LQ          *datatypes.LogicalQuery
	Iteration   *datatypes.Iteration
	NonTerminal []string
	WordCount   int64

	// Query and Languages are the original structured query and language
	// filter (spec.md §6's POST /query body), kept so a later `partial`
	// continuation (spec.md §4.7 step 4) can regenerate SQL for the next
	// batch without the client resubmitting them.
	Query     map[string]any
	Languages []string
}

// Store is the process-wide table of live Logical Queries, keyed by
// FirstJobID. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New builds an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Put records or replaces the entry for a Logical Query.
func (s *Store) Put(id string, e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = e
}

// Get looks up a Logical Query's entry by id.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Delete removes a Logical Query's entry, e.g. once it reaches a terminal
// state and its result has been delivered.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// AddJob records a newly-submitted non-terminal job id against id's entry.
func (s *Store) AddJob(id, jobID string) {
	if jobID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	e.NonTerminal = append(e.NonTerminal, jobID)
}

// MarkTerminal removes jobID from id's non-terminal set once its callback
// has run to completion.
func (s *Store) MarkTerminal(id, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	out := e.NonTerminal[:0]
	for _, j := range e.NonTerminal {
		if j != jobID {
			out = append(out, j)
		}
	}
	e.NonTerminal = out
}

// ForUser returns the ids of every live Logical Query belonging to user,
// for the bulk-cancel operation (spec.md §12's supplemented bulk
// cancellation: cancel every running job a user owns in one call).
func (s *Store) ForUser(user string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, e := range s.entries {
		if e.LQ != nil && e.LQ.User == user {
			out = append(out, id)
		}
	}
	return out
}

// Count reports how many Logical Queries are currently tracked, for
// metrics/health reporting.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
