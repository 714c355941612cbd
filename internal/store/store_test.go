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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/issuedex/internal/record"
	"github.com/jinterlante1206/issuedex/internal/window"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func testIssue(number int) *record.Issue {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return &record.Issue{
		Number:    number,
		Title:     "issue",
		State:     record.StateOpen,
		CreatedAt: now.AddDate(0, 0, -1),
		UpdatedAt: now,
	}
}

func TestBadgerConfigDefaults(t *testing.T) {
	def := DefaultBadgerConfig()
	assert.True(t, def.SyncWrites)
	assert.Equal(t, 5*time.Minute, def.GCInterval)

	mem := InMemoryBadgerConfig()
	assert.True(t, mem.InMemory)
	assert.False(t, mem.SyncWrites)
	assert.Zero(t, mem.GCInterval)
}

func TestOpenDBInMemorySkipsGC(t *testing.T) {
	db, err := OpenDB(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer db.Close()

	assert.Nil(t, db.gcRunner)
	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())
}

func TestPutGetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := testIssue(42)
	in.Embedding = []float32{0.5, -0.25}
	require.NoError(t, s.Put(ctx, "acme_widgets", in))

	got, err := s.Get(ctx, "acme_widgets", 42)
	require.NoError(t, err)
	assert.Equal(t, in.Number, got.Number)
	assert.Equal(t, in.Embedding, got.Embedding)
	assert.True(t, in.UpdatedAt.Equal(got.UpdatedAt))
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.Get(context.Background(), "acme_widgets", 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutRejectsMalformed(t *testing.T) {
	s := testStore(t)

	err := s.Put(context.Background(), "acme_widgets", &record.Issue{Number: 0})
	assert.ErrorIs(t, err, record.ErrMalformedRecord)
}

func TestCommitWindowAtomicWithCheckpoint(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cp := window.Checkpoint{StartDate: start, LastWindowEnd: start.AddDate(0, 0, 7)}

	batch := []*record.Issue{testIssue(1), testIssue(2), testIssue(3)}
	require.NoError(t, s.CommitWindow(ctx, "acme_widgets", batch, window.ItemIssues, cp))

	got, found, err := s.Checkpoint(ctx, "acme_widgets", window.ItemIssues)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, cp.LastWindowEnd.Equal(got.LastWindowEnd))

	all, err := s.All(ctx, "acme_widgets")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCheckpointPerItemType(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	issueCP := window.Checkpoint{StartDate: start, LastWindowEnd: start.AddDate(0, 0, 7)}
	prCP := window.Checkpoint{StartDate: start, LastWindowEnd: start.AddDate(0, 0, 14)}

	require.NoError(t, s.CommitWindow(ctx, "c", nil, window.ItemIssues, issueCP))
	require.NoError(t, s.CommitWindow(ctx, "c", nil, window.ItemPullRequests, prCP))

	got, found, err := s.Checkpoint(ctx, "c", window.ItemIssues)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, issueCP.LastWindowEnd.Equal(got.LastWindowEnd))

	got, found, err = s.Checkpoint(ctx, "c", window.ItemPullRequests)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, prCP.LastWindowEnd.Equal(got.LastWindowEnd))
}

func TestCheckpointMissing(t *testing.T) {
	s := testStore(t)

	cp, found, err := s.Checkpoint(context.Background(), "nope", window.ItemIssues)
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, cp.IsZero())
}

func TestAllIsolatesCollections(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "alpha", testIssue(1)))
	require.NoError(t, s.Put(ctx, "beta", testIssue(2)))

	all, err := s.All(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Contains(t, all, 1)

	n, err := s.Count(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPurgeRemovesEverything(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cp := window.Checkpoint{StartDate: start, LastWindowEnd: start.AddDate(0, 0, 7)}
	require.NoError(t, s.CommitWindow(ctx, "gone", []*record.Issue{testIssue(1)}, window.ItemIssues, cp))
	require.NoError(t, s.Put(ctx, "kept", testIssue(9)))

	require.NoError(t, s.Purge(ctx, "gone"))

	n, err := s.Count(ctx, "gone")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, found, err := s.Checkpoint(ctx, "gone", window.ItemIssues)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.Get(ctx, "kept", 9)
	assert.NoError(t, err)
}

func TestCollections(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "alpha", testIssue(1)))
	require.NoError(t, s.Put(ctx, "alpha", testIssue(2)))
	require.NoError(t, s.Put(ctx, "beta", testIssue(3)))

	names, err := s.Collections(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, names)
}

func TestLockExcludesSecondHolder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Lock(ctx, "c"))

	err := s.Lock(ctx, "c")
	assert.ErrorIs(t, err, ErrCollectionLocked)

	pid, held, err := s.LockHolder(ctx, "c")
	require.NoError(t, err)
	assert.True(t, held)
	assert.NotZero(t, pid)

	require.NoError(t, s.Unlock(ctx, "c"))
	assert.NoError(t, s.Lock(ctx, "c"))
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "acme_widgets", CollectionName("acme/widgets", ""))
	assert.Equal(t, "dev_acme_widgets", CollectionName("acme/widgets", "dev"))
}
