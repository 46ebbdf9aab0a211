// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pubsub implements the Pub/Sub Listener & Fan-out (spec.md §4.7):
// a singleton subscriber that forwards job-progress messages to the live
// websocket connections of the matching room/user, and a periodic sweep
// that reaps connections whose transport has closed.
package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/bambooforest/qiengine/pkg/ttl"
)

// Sender is the narrow transport contract a registered connection must
// satisfy; handlers/websocket.go implements it over *gorilla/websocket.Conn.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Closed() bool
}

// Registry is the table of live client connections keyed by room (spec.md
// §4.7: "looks up the set of live client connections keyed by room").
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]entry
}

type entry struct {
	user   string
	sender Sender
}

// NewRegistry builds an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{byRoom: make(map[string]map[string]entry)}
}

// Register adds a connection to room under id, tagged with the user that
// opened it (used for `just`-tagged message filtering).
func (r *Registry) Register(room, id, user string, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byRoom[room]
	if !ok {
		conns = make(map[string]entry)
		r.byRoom[room] = conns
	}
	conns[id] = entry{user: user, sender: sender}
}

// Unregister removes a connection, e.g. on websocket close.
func (r *Registry) Unregister(room, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byRoom[room]
	if !ok {
		return
	}
	delete(conns, id)
	if len(conns) == 0 {
		delete(r.byRoom, room)
	}
}

// Dispatch forwards raw to every connection in env.Room, filtered to
// env.User when env.Just is set (spec.md §4.7 step 2), and reports how
// many connections actually received it.
func (r *Registry) Dispatch(ctx context.Context, env Envelope, raw []byte) int {
	r.mu.RLock()
	conns := r.byRoom[env.Room]
	targets := make([]Sender, 0, len(conns))
	for _, e := range conns {
		if env.Just && e.user != env.User {
			continue
		}
		targets = append(targets, e.sender)
	}
	r.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if err := s.Send(ctx, raw); err == nil {
			sent++
		}
	}
	return sent
}

// Sweep implements ttl.SweepFunc: it removes every connection whose
// transport reports itself closed (spec.md §4.7's "secondary task").
func (r *Registry) Sweep(ctx context.Context) (ttl.SweepResult, error) {
	result := ttl.SweepResult{StartTime: time.Now()}

	r.mu.Lock()
	for room, conns := range r.byRoom {
		for id, e := range conns {
			result.Found++
			if e.sender.Closed() {
				delete(conns, id)
				result.Removed++
			}
		}
		if len(conns) == 0 {
			delete(r.byRoom, room)
		}
	}
	r.mu.Unlock()

	result.EndTime = time.Now()
	return result, nil
}

// Count reports the number of live connections across all rooms, for
// health/metrics reporting.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.byRoom {
		n += len(conns)
	}
	return n
}
