// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/issuedex/internal/config"
	"github.com/jinterlante1206/issuedex/internal/embed"
	"github.com/jinterlante1206/issuedex/internal/github"
	"github.com/jinterlante1206/issuedex/internal/record"
	"github.com/jinterlante1206/issuedex/internal/store"
	"github.com/jinterlante1206/issuedex/internal/window"
)

// fakeSource serves records from memory, filtered per window like the
// real adapter.
type fakeSource struct {
	mu      sync.Mutex
	issues  []*record.Issue
	windows []window.Window
	fail    bool
}

func (f *fakeSource) FetchWindow(_ context.Context, _ string, item window.ItemType, w window.Window) (*github.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, github.ErrSourceUnavailable
	}
	f.windows = append(f.windows, w)

	res := &github.FetchResult{}
	for _, issue := range f.issues {
		isPR := issue.IsPullRequest
		wantPR := item == window.ItemPullRequests
		if isPR != wantPR {
			continue
		}
		if issue.UpdatedAt.Before(w.Start) || !issue.UpdatedAt.Before(w.End) {
			continue
		}
		res.Issues = append(res.Issues, issue.Clone())
	}
	return res, nil
}

// countingProvider tracks embedding calls per content.
type countingProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) Embed(_ context.Context, content string) ([]float32, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	vec := []float32{0, 0, 0}
	for i, r := range content {
		vec[i%3] += float32(r % 13)
	}
	return vec, nil
}

func (p *countingProvider) Complete(_ context.Context, _ string) (string, error) {
	return "a summary", nil
}

func (p *countingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Pull.StartDate = "2025-01-01"
	cfg.Pull.WindowDays = 7
	cfg.Embedding.Workers = 1
	cfg.Embedding.RequestsPerS = 1000
	cfg.Embedding.RetryLimit = 1
	return cfg
}

func testPipeline(t *testing.T, source Source) (*Pipeline, *store.Store, *countingProvider) {
	t.Helper()
	db, err := store.OpenDB(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cacheDB, err := store.OpenDB(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheDB.Close() })

	st := store.NewStore(db)
	provider := &countingProvider{}
	cfg := testConfig()
	embedder := embed.NewEngine(provider, embed.NewCache(cacheDB), cfg.Embedding, nil)
	return New(st, source, embedder, nil, cfg, nil), st, provider
}

func srcIssue(number int, title string, updated time.Time) *record.Issue {
	return &record.Issue{
		Number:    number,
		Title:     title,
		Body:      "body of " + title,
		State:     record.StateOpen,
		Author:    "alice",
		CreatedAt: updated.Add(-72 * time.Hour),
		UpdatedAt: updated,
	}
}

func TestPullFirstRunCoversAllWindows(t *testing.T) {
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{issues: []*record.Issue{
		srcIssue(1, "early", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)),
		srcIssue(2, "mid", time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)),
		srcIssue(3, "late", time.Date(2025, 1, 18, 0, 0, 0, 0, time.UTC)),
	}}
	p, st, _ := testPipeline(t, src)
	ctx := context.Background()

	stats, err := p.Pull(ctx, "acme/widgets", "acme_widgets", []window.ItemType{window.ItemIssues}, now, false)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Windows)
	assert.Equal(t, 3, stats.Inserted)

	all, err := st.All(ctx, "acme_widgets")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	cp, found, err := st.Checkpoint(ctx, "acme_widgets", window.ItemIssues)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, cp.LastWindowEnd.Equal(now))
}

func TestPullIsIdempotent(t *testing.T) {
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{issues: []*record.Issue{
		srcIssue(1, "stable", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)),
	}}
	p, st, _ := testPipeline(t, src)
	ctx := context.Background()

	_, err := p.Pull(ctx, "r", "c", []window.ItemType{window.ItemIssues}, now, false)
	require.NoError(t, err)
	before, err := st.Get(ctx, "c", 1)
	require.NoError(t, err)

	stats, err := p.Pull(ctx, "r", "c", []window.ItemType{window.ItemIssues}, now, true)
	require.NoError(t, err)

	assert.Zero(t, stats.Inserted)
	assert.Zero(t, stats.Updated)
	assert.Equal(t, 1, stats.Unchanged)

	after, err := st.Get(ctx, "c", 1)
	require.NoError(t, err)
	assert.Equal(t, before.Title, after.Title)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestPullResumesFromCheckpoint(t *testing.T) {
	firstNow := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	p, _, _ := testPipeline(t, src)
	ctx := context.Background()

	_, err := p.Pull(ctx, "r", "c", []window.ItemType{window.ItemIssues}, firstNow, false)
	require.NoError(t, err)
	windowsAfterFirst := len(src.windows)

	laterNow := firstNow.Add(48 * time.Hour)
	_, err = p.Pull(ctx, "r", "c", []window.ItemType{window.ItemIssues}, laterNow, false)
	require.NoError(t, err)

	resumed := src.windows[windowsAfterFirst:]
	require.NotEmpty(t, resumed)
	assert.True(t, resumed[0].Start.Before(firstNow),
		"resume point rewinds by the overlap margin")
	assert.True(t, resumed[len(resumed)-1].End.Equal(laterNow))
}

func TestPullSourceFailureLeavesCheckpoint(t *testing.T) {
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{fail: true}
	p, st, _ := testPipeline(t, src)
	ctx := context.Background()

	_, err := p.Pull(ctx, "r", "c", []window.ItemType{window.ItemIssues}, now, false)
	assert.ErrorIs(t, err, github.ErrSourceUnavailable)

	_, found, err := st.Checkpoint(ctx, "c", window.ItemIssues)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPullTracksItemTypesSeparately(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	pr := srcIssue(4, "a fix", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	pr.IsPullRequest = true
	src := &fakeSource{issues: []*record.Issue{
		srcIssue(1, "an issue", time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)),
		pr,
	}}
	p, st, _ := testPipeline(t, src)
	ctx := context.Background()

	_, err := p.Pull(ctx, "r", "c", []window.ItemType{window.ItemIssues, window.ItemPullRequests}, now, false)
	require.NoError(t, err)

	all, err := st.All(ctx, "c")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[1].IsPullRequest)
	assert.True(t, all[4].IsPullRequest)

	_, found, err := st.Checkpoint(ctx, "c", window.ItemPullRequests)
	require.NoError(t, err)
	assert.True(t, found)
}

func enrichFixture(t *testing.T) (*Pipeline, *store.Store, *countingProvider) {
	t.Helper()
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{issues: []*record.Issue{
		srcIssue(1, "login fails with timeout", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)),
		srcIssue(2, "timeout logging into portal", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)),
		srcIssue(3, "dark mode flickers", time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)),
		srcIssue(4, "flickering in dark theme", time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)),
		srcIssue(5, "crash importing csv", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)),
	}}
	p, st, provider := testPipeline(t, src)
	_, err := p.Pull(context.Background(), "r", "c", []window.ItemType{window.ItemIssues}, now, false)
	require.NoError(t, err)
	return p, st, provider
}

func TestEnrichPopulatesDerivedFields(t *testing.T) {
	p, st, _ := enrichFixture(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC)

	stats, err := p.Enrich(ctx, "c", now)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Records)
	assert.Equal(t, 5, stats.Embedded)
	assert.Equal(t, 5, stats.Indexed)

	got, err := st.Get(ctx, "c", 1)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Embedding)
	require.NotNil(t, got.Metrics)
	assert.True(t, got.Metrics.HasKNNDistance)
	assert.NotEmpty(t, got.Quartiles)

	idx := p.Holder().Load()
	require.NotNil(t, idx)
	assert.Equal(t, 5, idx.Len())
}

func TestEnrichSecondRunServedFromCache(t *testing.T) {
	p, _, provider := enrichFixture(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC)

	_, err := p.Enrich(ctx, "c", now)
	require.NoError(t, err)
	callsAfterFirst := provider.callCount()

	stats, err := p.Enrich(ctx, "c", now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Cached)
	assert.Zero(t, stats.Embedded)
	assert.Equal(t, callsAfterFirst, provider.callCount(),
		"unchanged content never reaches the provider again")
}

func TestEnrichReembedsOnlyChangedContent(t *testing.T) {
	p, st, provider := enrichFixture(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC)

	_, err := p.Enrich(ctx, "c", now)
	require.NoError(t, err)
	callsAfterFirst := provider.callCount()

	issue, err := st.Get(ctx, "c", 3)
	require.NoError(t, err)
	issue.Body = "dark mode flickers, now with a repro"
	issue.UpdatedAt = issue.UpdatedAt.Add(time.Hour)
	require.NoError(t, st.Put(ctx, "c", issue))

	stats, err := p.Enrich(ctx, "c", now.Add(2*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Embedded)
	assert.Equal(t, 4, stats.Cached)
	assert.Equal(t, callsAfterFirst+1, provider.callCount())
}

func TestEnrichHoldsLock(t *testing.T) {
	p, st, _ := enrichFixture(t)
	ctx := context.Background()

	require.NoError(t, st.Lock(ctx, "c"))
	_, err := p.Enrich(ctx, "c", time.Now())
	assert.ErrorIs(t, err, store.ErrCollectionLocked)

	require.NoError(t, st.Unlock(ctx, "c"))
	_, err = p.Enrich(ctx, "c", time.Now())
	assert.NoError(t, err)

	// Lock released after the pass.
	_, held, err := st.LockHolder(ctx, "c")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestEnrichEmptyCollection(t *testing.T) {
	src := &fakeSource{}
	p, _, _ := testPipeline(t, src)

	stats, err := p.Enrich(context.Background(), "empty", time.Now())
	require.NoError(t, err)
	assert.Zero(t, stats.Records)
	require.NotNil(t, p.Holder().Load())
	assert.Zero(t, p.Holder().Load().Len())
}

func TestUpdateIssuesMergesTargetedFetch(t *testing.T) {
	p, st, _ := enrichFixture(t)
	ctx := context.Background()

	fetch := func(_ context.Context, _ string, number int) (*record.Issue, error) {
		if number == 999 {
			return nil, errors.New("no such issue")
		}
		issue := srcIssue(number, "refreshed title", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
		return issue, nil
	}

	stats, err := p.UpdateIssues(ctx, "r", "c", []int{1}, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)

	got, err := st.Get(ctx, "c", 1)
	require.NoError(t, err)
	assert.Equal(t, "refreshed title", got.Title)

	_, err = p.UpdateIssues(ctx, "r", "c", []int{999}, fetch)
	assert.Error(t, err)
}

func TestLoadIndexFromStore(t *testing.T) {
	p, _, _ := enrichFixture(t)
	ctx := context.Background()

	_, err := p.Enrich(ctx, "c", time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	p.Holder().Store(nil)

	require.NoError(t, p.LoadIndex(ctx, "c"))
	idx := p.Holder().Load()
	require.NotNil(t, idx)
	assert.Equal(t, 5, idx.Len())
}
