// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerBackend is the local/dev fallback Backend, used when no REDIS_URL
// is configured. Grounded on the teacher's own dgraph-io/badger/v4
// dependency; the transaction shape follows services/trace/storage/badger's
// WithTxn/WithReadTxn naming. Pub/Sub is emulated in-process since badger
// has no native channel mechanism — fine for single-process local runs,
// which is the only scenario this backend is meant to serve.
type BadgerBackend struct {
	db *badger.DB

	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewBadgerBackend opens (or creates) a badger database rooted at dir.
func NewBadgerBackend(dir string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{db: db, subs: map[string][]chan []byte{}}, nil
}

func (b *BadgerBackend) WithTxn(fn func(txn *badger.Txn) error) error {
	return b.db.Update(fn)
}

func (b *BadgerBackend) WithReadTxn(fn func(txn *badger.Txn) error) error {
	return b.db.View(fn)
}

func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = bytes.Clone(val)
			return nil
		})
	})
	return out, err
}

func (b *BadgerBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (b *BadgerBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = bytes.Clone(val)
			return nil
		})
	})
	if err != nil {
		return err
	}
	return b.Set(ctx, key, value, ttl)
}

func (b *BadgerBackend) Delete(ctx context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Publish fans a payload out to every local subscriber of channel. There is
// no cross-process delivery; this backend assumes a single engine process.
func (b *BadgerBackend) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *BadgerBackend) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	cancel := func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		return nil
	}
	return ch, cancel, nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// RunGC runs badger's value-log garbage collection once, reclaiming space
// from expired/overwritten entries. Intended to be driven by a
// pkg/ttl.Scheduler on an hourly cadence.
func (b *BadgerBackend) RunGC(discardRatio float64) error {
	err := b.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}
