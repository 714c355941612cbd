// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/jinterlante1206/issuedex/internal/store"
)

// Cache is a content-addressed store for embeddings and completions.
//
// Keys are "<model>:<sha256 of the raw content>", so identical content
// under the same model is fetched from the provider exactly once, even
// across collections and re-enrichment runs. Values are JSON.
type Cache struct {
	db *store.DB
}

// NewCache wraps an open database dedicated to cached provider
// responses.
func NewCache(db *store.DB) *Cache {
	return &Cache{db: db}
}

// Key derives the cache key for (content, model). The raw content is
// hashed, not the sanitized form, so sanitization changes invalidate
// nothing retroactively.
func Key(content, model string) string {
	sum := sha256.Sum256([]byte(content))
	return model + ":" + hex.EncodeToString(sum[:])
}

// GetVector returns the cached embedding for key, or found=false.
func (c *Cache) GetVector(ctx context.Context, key string) (vec []float32, found bool, err error) {
	err = c.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &vec)
		})
	})
	return vec, found, err
}

// PutVector stores an embedding under key.
func (c *Cache) PutVector(ctx context.Context, key string, vec []float32) error {
	val, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	return c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

// GetText returns a cached completion for key, or found=false.
func (c *Cache) GetText(ctx context.Context, key string) (text string, found bool, err error) {
	err = c.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &text)
		})
	})
	return text, found, err
}

// PutText stores a completion under key.
func (c *Cache) PutText(ctx context.Context, key string, text string) error {
	val, err := json.Marshal(text)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	return c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}
