// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jinterlante1206/issuedex/internal/record"
	"github.com/jinterlante1206/issuedex/internal/window"
)

var (
	// ErrNotFound is returned when a requested record or checkpoint
	// does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCollectionLocked is returned when another process holds the
	// collection's enrichment lock.
	ErrCollectionLocked = errors.New("collection locked")
)

// Key layout:
//
//	col/<name>/issue/<number padded to 10 digits>
//	col/<name>/checkpoint/<item type>
//	col/<name>/lock
//
// Padding keeps prefix iteration in issue-number order.
const numberWidth = 10

func issueKey(col string, number int) []byte {
	return []byte(fmt.Sprintf("col/%s/issue/%0*d", col, numberWidth, number))
}

func issuePrefix(col string) []byte {
	return []byte("col/" + col + "/issue/")
}

func checkpointKey(col string, item window.ItemType) []byte {
	return []byte("col/" + col + "/checkpoint/" + string(item))
}

func lockKey(col string) []byte {
	return []byte("col/" + col + "/lock")
}

// Store persists issue collections and their fetch checkpoints.
//
// A collection is addressed by name (repo slug plus optional prefix,
// sanitized by the caller). All writes marshal records as JSON so the
// on-disk format stays inspectable with badger tooling.
type Store struct {
	db *DB
}

// NewStore wraps an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Get returns one record, or ErrNotFound.
func (s *Store) Get(ctx context.Context, col string, number int) (*record.Issue, error) {
	var issue record.Issue
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(issueKey(col, number))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("issue %d in %s: %w", number, col, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &issue)
		})
	})
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// Put upserts a single record. Used by enrichment and recommendation
// writes; window commits go through CommitWindow.
func (s *Store) Put(ctx context.Context, col string, issue *record.Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("marshal issue %d: %w", issue.Number, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(issueKey(col, issue.Number), val)
	})
}

// PutAll upserts a set of records, splitting across transactions when
// a batch exceeds badger's transaction size.
func (s *Store) PutAll(ctx context.Context, col string, issues []*record.Issue) error {
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := json.Marshal(issue)
		if err != nil {
			return fmt.Errorf("marshal issue %d: %w", issue.Number, err)
		}
		key := issueKey(col, issue.Number)
		if err := txn.Set(key, val); err != nil {
			if !errors.Is(err, badger.ErrTxnTooBig) {
				return err
			}
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			if err := txn.Set(key, val); err != nil {
				return err
			}
		}
	}
	return txn.Commit()
}

// CommitWindow durably stores a window's merged records and advances
// the checkpoint.
//
// The checkpoint is written in the same transaction as the last chunk
// of records, so it can never run ahead of the data it describes. If
// the batch spans multiple transactions and the process dies between
// them, the checkpoint stays behind and the next pull re-fetches the
// window; merging is idempotent, so the partial commit is harmless.
func (s *Store) CommitWindow(ctx context.Context, col string, issues []*record.Issue, item window.ItemType, cp window.Checkpoint) error {
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	set := func(key, val []byte) error {
		if err := txn.Set(key, val); err != nil {
			if !errors.Is(err, badger.ErrTxnTooBig) {
				return err
			}
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			return txn.Set(key, val)
		}
		return nil
	}

	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := json.Marshal(issue)
		if err != nil {
			return fmt.Errorf("marshal issue %d: %w", issue.Number, err)
		}
		if err := set(issueKey(col, issue.Number), val); err != nil {
			return err
		}
	}

	cpVal, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := set(checkpointKey(col, item), cpVal); err != nil {
		return err
	}
	return txn.Commit()
}

// Checkpoint loads the fetch checkpoint for (collection, item type).
// A missing checkpoint returns a zero value and found=false, which the
// planner treats as a first run.
func (s *Store) Checkpoint(ctx context.Context, col string, item window.ItemType) (cp window.Checkpoint, found bool, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		itm, err := txn.Get(checkpointKey(col, item))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return itm.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	return cp, found, err
}

// All loads the full collection into memory, keyed by issue number.
func (s *Store) All(ctx context.Context, col string) (map[int]*record.Issue, error) {
	out := make(map[int]*record.Issue)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = issuePrefix(col)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var issue record.Issue
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &issue)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out[issue.Number] = &issue
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of records in the collection without
// decoding them.
func (s *Store) Count(ctx context.Context, col string) (int, error) {
	n := 0
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = issuePrefix(col)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Purge removes every key belonging to the collection, including
// checkpoints and locks.
func (s *Store) Purge(ctx context.Context, col string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropPrefix([]byte("col/" + col + "/"))
}

// Collections lists the collection names present in the store.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("col/")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			rest := key[len("col/"):]
			idx := bytes.IndexByte(rest, '/')
			if idx < 0 {
				continue
			}
			name := string(rest[:idx])
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		return nil
	})
	return names, err
}

// lockRecord is what the enrichment lock stores, for diagnostics when
// a lock is found held.
type lockRecord struct {
	PID      int       `json:"pid"`
	Acquired time.Time `json:"acquired"`
}

// Lock takes the collection's enrichment lock. Returns
// ErrCollectionLocked if another process holds it. The caller must
// Unlock when done; a crashed holder's lock is cleared with ForceUnlock.
func (s *Store) Lock(ctx context.Context, col string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(lockKey(col))
		if err == nil {
			return fmt.Errorf("collection %s: %w", col, ErrCollectionLocked)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		val, err := json.Marshal(lockRecord{PID: os.Getpid(), Acquired: time.Now().UTC()})
		if err != nil {
			return err
		}
		return txn.Set(lockKey(col), val)
	})
}

// Unlock releases the enrichment lock.
func (s *Store) Unlock(ctx context.Context, col string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(lockKey(col))
	})
}

// LockHolder reports whether the lock is held and by which PID.
func (s *Store) LockHolder(ctx context.Context, col string) (pid int, held bool, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(lockKey(col))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		held = true
		return item.Value(func(val []byte) error {
			var lr lockRecord
			if err := json.Unmarshal(val, &lr); err != nil {
				return err
			}
			pid = lr.PID
			return nil
		})
	})
	return pid, held, err
}

// CollectionName builds the storage name for a repo and optional
// prefix. Slashes in the repo slug are flattened so they cannot
// collide with the key layout.
func CollectionName(repo, prefix string) string {
	name := strings.ReplaceAll(repo, "/", "_")
	if prefix != "" {
		name = prefix + "_" + name
	}
	return name
}
