// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package storage provides the durable keyed store behind Waymark.
//
// The store exposes four primitives: keyed upsert-with-merge, append to
// an ordered list, ordered range scan with limit, and change-notification
// subscription on a key prefix. Everything above this package (journeys,
// points, device control) is a thin typed wrapper over these primitives,
// so the backing engine stays a configuration detail.
//
// The default engine is embedded Badger. All multi-write operations run
// in a single Badger transaction; atomicity is scoped to one journey's
// summary+point pair and never spans journeys.
package storage

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by the store.
var (
	// ErrNotFound indicates the requested record does not exist. This is
	// a normal condition, not a backend failure; the circuit breaker
	// ignores it.
	ErrNotFound = errors.New("record not found")

	// ErrStorageUnavailable indicates a transient backend failure. The
	// caller may retry; no partial write is assumed.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Change describes one committed mutation, delivered to Watch
// subscribers. Value is the record as committed; subscribers must treat
// repeated delivery of the same state as a no-op.
type Change struct {
	Key   string
	Value []byte
}

// MergeFunc computes the new value of a record from its previous value.
// old is nil when the record does not exist yet.
type MergeFunc func(old []byte) ([]byte, error)

// Tx is the transactional view passed to Update and View callbacks.
type Tx interface {
	// Get returns the value at key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set writes value at key.
	Set(key string, value []byte) error

	// UpsertMerge reads the record at key, applies merge, and writes the
	// result. The read and write happen in this transaction.
	UpsertMerge(key string, merge MergeFunc) error

	// Append adds an entry to the ordered list at listPrefix. encode
	// receives the assigned sequence number (previous last + 1) and
	// returns the value to store.
	Append(listPrefix string, encode func(seq uint64) ([]byte, error)) (uint64, error)

	// Last returns the highest-sequence entry of the list at listPrefix,
	// or ErrNotFound for an empty list.
	Last(listPrefix string) (seq uint64, value []byte, err error)
}

// Store is the keyed storage contract consumed by the ingestion service,
// live feed publisher, and device control channel.
type Store interface {
	// Update runs fn in a single read-write transaction. All writes
	// commit atomically or not at all. Watch notifications for the
	// transaction's writes fire only after commit.
	Update(ctx context.Context, fn func(Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Range scans committed records under prefix in key order, calling
	// fn for each until limit records were seen (limit <= 0 means no
	// limit), fn returns an error, or the prefix is exhausted.
	Range(ctx context.Context, prefix string, limit int, reverse bool, fn func(key string, value []byte) error) error

	// Watch subscribes fn to committed changes under prefix. Delivery is
	// serialized per subscription and coalesces bursts per key; see
	// Subscription for the exact ordering guarantees. After Cancel
	// returns, fn is never invoked again.
	Watch(prefix string, fn func(Change)) *Subscription

	// WatchKey subscribes fn to committed changes of exactly key, with
	// the same delivery guarantees as Watch. Use this for keyed records
	// whose ids carry no terminator; a prefix watch on such a key would
	// also match every key that extends it.
	WatchKey(key string, fn func(Change)) *Subscription

	// Close releases the store. Active subscriptions are cancelled.
	Close() error
}
