// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/aggtree/services/scenario"
)

var (
	// ErrNotFound is returned for an unknown run ID.
	ErrNotFound = errors.New("run not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("history store closed")

	// ErrMissingRunID is returned when saving a result without a run ID.
	ErrMissingRunID = errors.New("result has no run id")
)

const (
	runPrefix = "run/"
	idPrefix  = "id/"
)

// Store keeps bench results.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
	gcStop chan struct{}
	gcDone chan struct{}
}

// Open opens or creates the store described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go gcLoop(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger, s.gcStop, s.gcDone)
	}
	return s, nil
}

func runKey(r *scenario.Result) []byte {
	return fmt.Appendf(nil, "%s%s/%020d/%s", runPrefix, r.Kind, r.StartedAt.UnixNano(), r.RunID)
}

func kindPrefix(kind scenario.Kind) []byte {
	if kind == "" {
		return []byte(runPrefix)
	}
	return []byte(runPrefix + string(kind) + "/")
}

// Save stores a result. Saving the same run ID again replaces it.
func (s *Store) Save(ctx context.Context, r *scenario.Result) error {
	if r == nil || r.RunID == "" {
		return ErrMissingRunID
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", r.RunID, err)
	}
	key := runKey(r)
	return s.update(ctx, func(txn *badger.Txn) error {
		idKey := []byte(idPrefix + r.RunID)
		if item, err := txn.Get(idKey); err == nil {
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(old); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey, key)
	})
}

// Get returns the result with the given run ID.
func (s *Store) Get(ctx context.Context, runID string) (*scenario.Result, error) {
	var out *scenario.Result
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(idPrefix + runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return fmt.Errorf("read run %s: %w", runID, err)
		}
		return item.Value(func(val []byte) error {
			out, err = decode(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns up to limit results of kind, newest first. An empty kind
// lists every kind; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, kind scenario.Kind, limit int) ([]*scenario.Result, error) {
	var out []*scenario.Result
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := kindPrefix(kind)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				r, err := decode(val)
				if err != nil {
					return err
				}
				out = append(out, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys sort oldest first within a kind; across kinds sort by time.
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Latest returns the newest result of kind.
func (s *Store) Latest(ctx context.Context, kind scenario.Kind) (*scenario.Result, error) {
	runs, err := s.List(ctx, kind, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: no %s runs", ErrNotFound, kindName(kind))
	}
	return runs[0], nil
}

// Delete removes a run.
func (s *Store) Delete(ctx context.Context, runID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		idKey := []byte(idPrefix + runID)
		item, err := txn.Get(idKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idKey)
	})
}

// Close stops GC and closes the database. It is safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func decode(val []byte) (*scenario.Result, error) {
	var r scenario.Result
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}

func kindName(kind scenario.Kind) string {
	if kind == "" {
		return "scenario"
	}
	return string(kind)
}
