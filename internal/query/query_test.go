// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/issuedex/internal/metrics"
	"github.com/jinterlante1206/issuedex/internal/record"
	"github.com/jinterlante1206/issuedex/internal/simindex"
	"github.com/jinterlante1206/issuedex/internal/store"
)

type vecProvider struct {
	vec []float32
}

func (p *vecProvider) Embed(context.Context, string) ([]float32, error) { return p.vec, nil }
func (p *vecProvider) Complete(context.Context, string) (string, error) { return "", nil }

func enriched(number int, title string, vec []float32, engagements int) *record.Issue {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return &record.Issue{
		Number:    number,
		Title:     title,
		State:     record.StateOpen,
		CreatedAt: now.AddDate(0, 0, -10),
		UpdatedAt: now,
		Embedding: vec,
		Metrics: &record.MetricBundle{
			Engagements:   engagements,
			ActivityScore: float64(engagements) / 10,
		},
		Quartiles: record.QuartileBundle{"engagements": record.QuartileTop50},
	}
}

// Auth-timeout cluster and a rendering cluster, as an enrichment pass
// would leave them.
func fixtureService(t *testing.T, provider *vecProvider) (*Service, *store.Store) {
	t.Helper()
	db, err := store.OpenDB(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.NewStore(db)
	ctx := context.Background()

	issues := []*record.Issue{
		enriched(1001, "login timeout", []float32{1.00, 0.05, 0.00}, 12),
		enriched(1005, "timeout at login", []float32{0.98, 0.10, 0.02}, 30),
		enriched(1008, "auth hangs", []float32{0.95, 0.02, 0.05}, 7),
		enriched(1010, "session timeout on login", []float32{0.99, 0.00, 0.08}, 3),
		enriched(1002, "chart renders blank", []float32{0.03, 1.00, 0.02}, 25),
		enriched(1006, "blank canvas on export", []float32{0.00, 0.97, 0.06}, 1),
		enriched(1009, "svg rendering artifacts", []float32{0.05, 0.99, 0.00}, 18),
	}
	issues[0].CrossReferences = []int{1005}
	issues[3].CrossReferences = []int{1001}
	require.NoError(t, st.PutAll(ctx, "c", issues))

	collection := map[int]*record.Issue{}
	for _, i := range issues {
		collection[i.Number] = i
	}
	idx, err := simindex.Build(collection)
	require.NoError(t, err)

	holder := &simindex.Holder{}
	holder.Store(idx)
	return NewService(st, holder, provider, "c"), st
}

func TestGetIssue(t *testing.T) {
	s, _ := fixtureService(t, nil)

	got, err := s.GetIssue(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, "login timeout", got.Title)

	_, err = s.GetIssue(context.Background(), 4242)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindSimilarIssuesReturnsCluster(t *testing.T) {
	s, _ := fixtureService(t, nil)

	got, err := s.FindSimilarIssues(context.Background(), 1001, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	numbers := []int{got[0].Number, got[1].Number, got[2].Number}
	assert.ElementsMatch(t, []int{1005, 1008, 1010}, numbers)
	assert.NotEmpty(t, got[0].Title)
	for _, m := range got {
		assert.Greater(t, m.Similarity, 0.9)
	}
}

func TestFindSimilarIssuesUnknownNumber(t *testing.T) {
	s, _ := fixtureService(t, nil)

	_, err := s.FindSimilarIssues(context.Background(), 9999, 3)
	assert.ErrorIs(t, err, simindex.ErrNotFound)
}

func TestFindSimilarIssuesNoIndex(t *testing.T) {
	s, _ := fixtureService(t, nil)
	*s = *NewService(s.store, &simindex.Holder{}, nil, "c")

	_, err := s.FindSimilarIssues(context.Background(), 1001, 3)
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestFindSimilarIssuesByText(t *testing.T) {
	provider := &vecProvider{vec: []float32{1, 0, 0}}
	s, _ := fixtureService(t, provider)

	got, err := s.FindSimilarIssuesByText(context.Background(), "cannot log in, times out", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, []int{1001, 1005, 1008, 1010}, got[0].Number)
}

func TestCrossReferencesAreSymmetric(t *testing.T) {
	s, _ := fixtureService(t, nil)
	ctx := context.Background()

	// 1001 references 1005; 1010 references 1001. Both directions
	// surface from either side.
	fromReferrer, err := s.FindCrossReferencedIssues(ctx, 1001)
	require.NoError(t, err)
	var nums []int
	for _, i := range fromReferrer {
		nums = append(nums, i.Number)
	}
	assert.ElementsMatch(t, []int{1005, 1010}, nums)

	fromTarget, err := s.FindCrossReferencedIssues(ctx, 1005)
	require.NoError(t, err)
	require.Len(t, fromTarget, 1)
	assert.Equal(t, 1001, fromTarget[0].Number)
}

func TestGetIssueMetrics(t *testing.T) {
	s, _ := fixtureService(t, nil)

	m, q, err := s.GetIssueMetrics(context.Background(), 1005)
	require.NoError(t, err)
	assert.Equal(t, 30, m.Engagements)
	assert.Equal(t, record.QuartileTop50, q["engagements"])
}

func TestGetIssueMetricsUnenriched(t *testing.T) {
	s, st := fixtureService(t, nil)
	raw := &record.Issue{Number: 3000, Title: "fresh", UpdatedAt: time.Now()}
	require.NoError(t, st.Put(context.Background(), "c", raw))

	_, _, err := s.GetIssueMetrics(context.Background(), 3000)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetTopIssuesOrdersDescending(t *testing.T) {
	s, _ := fixtureService(t, nil)

	top, err := s.GetTopIssues(context.Background(), "engagements", 3, true)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, 1005, top[0].Number)
	assert.Equal(t, 1002, top[1].Number)
	assert.Equal(t, 1009, top[2].Number)
}

func TestGetTopIssuesAscending(t *testing.T) {
	s, _ := fixtureService(t, nil)

	bottom, err := s.GetTopIssues(context.Background(), "engagements", 2, false)
	require.NoError(t, err)
	require.Len(t, bottom, 2)
	assert.Equal(t, 1006, bottom[0].Number)
	assert.Equal(t, 1010, bottom[1].Number)
}

func TestGetTopIssuesInvalidMetric(t *testing.T) {
	s, _ := fixtureService(t, nil)

	_, err := s.GetTopIssues(context.Background(), "nonsense", 3, true)
	assert.ErrorIs(t, err, metrics.ErrInvalidMetric)
}

func validRecommendation() record.Recommendation {
	return record.Recommendation{
		Action:             record.ActionCloseMerge,
		Confidence:         record.LevelHigh,
		Severity:           record.LevelHigh,
		Frequency:          record.LevelHigh,
		Prevalence:         record.LevelHigh,
		SolutionComplexity: record.LevelLow,
		SolutionRisk:       record.LevelLow,
		Summary:            "duplicate of the login timeout family",
		Rationale:          "same stack trace and repro as #1001",
		MergeWith:          []int{1001},
		Reviewer:           "triage-bot",
	}
}

func TestAddRecommendationComputesScore(t *testing.T) {
	s, st := fixtureService(t, nil)
	ctx := context.Background()

	saved, err := s.AddRecommendation(ctx, 1005, validRecommendation())
	require.NoError(t, err)
	assert.Equal(t, 15, saved.PriorityScore)
	assert.False(t, saved.CreatedAt.IsZero())

	got, err := st.Get(ctx, "c", 1005)
	require.NoError(t, err)
	require.Len(t, got.Recommendations, 1)
	assert.Equal(t, record.ActionCloseMerge, got.Recommendations[0].Action)
}

func TestAddRecommendationRejectsInvalid(t *testing.T) {
	s, _ := fixtureService(t, nil)

	bad := validRecommendation()
	bad.Action = "escalate_to_ceo"
	bad.Summary = " "
	_, err := s.AddRecommendation(context.Background(), 1005, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action")
	assert.Contains(t, err.Error(), "summary")
}

func TestGetStats(t *testing.T) {
	s, st := fixtureService(t, nil)
	ctx := context.Background()

	pr := enriched(2001, "a pr", []float32{0.5, 0.5, 0}, 2)
	pr.IsPullRequest = true
	pr.State = record.StateMerged
	require.NoError(t, st.Put(ctx, "c", pr))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Records)
	assert.Equal(t, 1, stats.PullRequests)
	assert.Equal(t, 1, stats.Merged)
	assert.Equal(t, 8, stats.Embedded)
	assert.Equal(t, 8, stats.Enriched)
}

func TestValidateCleanCollection(t *testing.T) {
	s, _ := fixtureService(t, nil)

	report, err := s.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 7, report.Records)
}

func TestValidateFlagsDimensionDrift(t *testing.T) {
	s, st := fixtureService(t, nil)
	ctx := context.Background()

	odd := enriched(5000, "odd one", []float32{1, 0}, 1)
	require.NoError(t, st.Put(ctx, "c", odd))

	report, err := s.Validate(ctx)
	require.NoError(t, err)
	require.False(t, report.OK())
	assert.Contains(t, report.Problems[0].Message, "dimension")
}
