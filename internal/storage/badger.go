// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/waymark-io/waymark/internal/logging"
)

// seqWidth is the zero-padded width of list sequence numbers in keys.
// Fixed width keeps lexicographic key order equal to numeric order.
const seqWidth = 20

// conflictRetries bounds optimistic-concurrency retries on Update.
// Badger detects write conflicts at commit; contention on one journey is
// short-lived, so a handful of retries is enough.
const conflictRetries = 5

// BadgerStore implements Store on an embedded Badger database.
type BadgerStore struct {
	db       *badger.DB
	watchers *watchRegistry
}

// Options configures OpenBadger.
type Options struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory runs Badger without disk persistence (tests, demos).
	InMemory bool
}

// OpenBadger opens (creating if necessary) a Badger-backed store.
func OpenBadger(opts Options) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(badgerLogger{})
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}

	return &BadgerStore{
		db:       db,
		watchers: newWatchRegistry(),
	}, nil
}

// Update implements Store. On badger.ErrConflict the transaction is
// retried from scratch with fresh reads.
func (s *BadgerStore) Update(ctx context.Context, fn func(Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &badgerTx{}
		err := s.db.Update(func(btx *badger.Txn) error {
			tx.txn = btx
			tx.writes = tx.writes[:0]
			return fn(tx)
		})
		if err == nil {
			s.watchers.notify(tx.writes)
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("%w: transaction conflict persisted: %v", ErrStorageUnavailable, lastErr)
}

// View implements Store.
func (s *BadgerStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *badger.Txn) error {
		return fn(&badgerTx{txn: btx})
	})
}

// Range implements Store.
func (s *BadgerStore) Range(ctx context.Context, prefix string, limit int, reverse bool, fn func(key string, value []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.Reverse = reverse
		it := btx.NewIterator(opts)
		defer it.Close()

		seek := []byte(prefix)
		if reverse {
			// Reverse iteration seeks to the last possible key under
			// the prefix.
			seek = append([]byte(prefix), 0xff)
		}

		seen := 0
		for it.Seek(seek); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if limit > 0 && seen >= limit {
				return nil
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, item.Key(), err)
			}
			if err := fn(string(item.Key()), value); err != nil {
				return err
			}
			seen++
		}
		return nil
	})
}

// Watch implements Store.
func (s *BadgerStore) Watch(prefix string, fn func(Change)) *Subscription {
	return s.watchers.add(prefix, false, fn)
}

// WatchKey implements Store.
func (s *BadgerStore) WatchKey(key string, fn func(Change)) *Subscription {
	return s.watchers.add(key, true, fn)
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	s.watchers.close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// badgerTx adapts badger.Txn to the Tx interface, recording writes for
// post-commit watch notification.
type badgerTx struct {
	txn    *badger.Txn
	writes []Change
}

func (t *badgerTx) Get(key string) ([]byte, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrStorageUnavailable, key, err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, key, err)
	}
	return value, nil
}

func (t *badgerTx) Set(key string, value []byte) error {
	if err := t.txn.Set([]byte(key), value); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStorageUnavailable, key, err)
	}
	t.writes = append(t.writes, Change{Key: key, Value: value})
	return nil
}

func (t *badgerTx) UpsertMerge(key string, merge MergeFunc) error {
	old, err := t.Get(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	merged, err := merge(old)
	if err != nil {
		return err
	}
	return t.Set(key, merged)
}

func (t *badgerTx) Append(listPrefix string, encode func(seq uint64) ([]byte, error)) (uint64, error) {
	seq := uint64(1)
	if last, _, err := t.Last(listPrefix); err == nil {
		seq = last + 1
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	value, err := encode(seq)
	if err != nil {
		return 0, err
	}
	if err := t.Set(ListKey(listPrefix, seq), value); err != nil {
		return 0, err
	}
	return seq, nil
}

func (t *badgerTx) Last(listPrefix string) (uint64, []byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(listPrefix)
	opts.Reverse = true
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append([]byte(listPrefix), 0xff))
	if !it.ValidForPrefix([]byte(listPrefix)) {
		return 0, nil, ErrNotFound
	}

	item := it.Item()
	seq, err := ParseListKey(listPrefix, string(item.Key()))
	if err != nil {
		return 0, nil, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, item.Key(), err)
	}
	return seq, value, nil
}

// ListKey builds the key for sequence seq under listPrefix.
func ListKey(listPrefix string, seq uint64) string {
	return fmt.Sprintf("%s%0*d", listPrefix, seqWidth, seq)
}

// ParseListKey extracts the sequence number from a list key.
func ParseListKey(listPrefix, key string) (uint64, error) {
	raw := strings.TrimPrefix(key, listPrefix)
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed list key %q: %w", key, err)
	}
	return seq, nil
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+strings.TrimSpace(format), args...)
}
