// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query is the read/annotate surface over an enriched
// collection: record lookup, similarity search, cross-reference
// traversal, metric ranking, and recommendation writes.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jinterlante1206/issuedex/internal/embed"
	"github.com/jinterlante1206/issuedex/internal/metrics"
	"github.com/jinterlante1206/issuedex/internal/record"
	"github.com/jinterlante1206/issuedex/internal/simindex"
	"github.com/jinterlante1206/issuedex/internal/store"
)

// ErrNoIndex is returned for similarity queries before any enrichment
// has published an index.
var ErrNoIndex = errors.New("similarity index not built")

// DefaultSimilarLimit is the neighbor count when a caller asks for 0.
const DefaultSimilarLimit = 4

// SimilarIssue is one similarity result with enough context to triage
// without a second lookup.
type SimilarIssue struct {
	Number     int          `json:"number"`
	Title      string       `json:"title"`
	State      record.State `json:"state"`
	Similarity float64      `json:"similarity"`
	Distance   float64      `json:"distance"`
}

// RankedIssue is one entry of a top-by-metric listing.
type RankedIssue struct {
	Number int          `json:"number"`
	Title  string       `json:"title"`
	State  record.State `json:"state"`
	Value  float64      `json:"value"`
}

// Service answers queries for a single collection.
type Service struct {
	store    *store.Store
	holder   *simindex.Holder
	provider embed.Provider
	col      string
}

// NewService builds the query surface. provider is only needed for
// free-text similarity and may be nil otherwise.
func NewService(st *store.Store, holder *simindex.Holder, provider embed.Provider, col string) *Service {
	return &Service{store: st, holder: holder, provider: provider, col: col}
}

// Collection returns the collection this service answers for.
func (s *Service) Collection() string { return s.col }

// GetIssue returns the full record.
func (s *Service) GetIssue(ctx context.Context, number int) (*record.Issue, error) {
	return s.store.Get(ctx, s.col, number)
}

// FindSimilarIssues returns the k records closest to the given one.
func (s *Service) FindSimilarIssues(ctx context.Context, number, k int) ([]SimilarIssue, error) {
	idx := s.holder.Load()
	if idx == nil {
		return nil, ErrNoIndex
	}
	if k <= 0 {
		k = DefaultSimilarLimit
	}
	matches, err := idx.Similar(number, k)
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, matches)
}

// FindSimilarIssuesByText embeds the query text and returns the k
// closest records.
func (s *Service) FindSimilarIssuesByText(ctx context.Context, text string, k int) ([]SimilarIssue, error) {
	idx := s.holder.Load()
	if idx == nil {
		return nil, ErrNoIndex
	}
	if s.provider == nil {
		return nil, errors.New("no embedding provider configured")
	}
	if k <= 0 {
		k = DefaultSimilarLimit
	}
	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	matches, err := idx.SimilarToVector(vec, k)
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, matches)
}

func (s *Service) describe(ctx context.Context, matches []simindex.Match) ([]SimilarIssue, error) {
	out := make([]SimilarIssue, 0, len(matches))
	for _, m := range matches {
		issue, err := s.store.Get(ctx, s.col, m.Number)
		if err != nil {
			return nil, err
		}
		out = append(out, SimilarIssue{
			Number:     m.Number,
			Title:      issue.Title,
			State:      issue.State,
			Similarity: m.Similarity,
			Distance:   m.Distance,
		})
	}
	return out, nil
}

// FindCrossReferencedIssues returns every record linked to the given
// one in either direction: records it references, and records that
// reference it. The relation is symmetric regardless of which side
// carries the #N mention.
func (s *Service) FindCrossReferencedIssues(ctx context.Context, number int) ([]*record.Issue, error) {
	if _, err := s.store.Get(ctx, s.col, number); err != nil {
		return nil, err
	}

	collection, err := s.store.All(ctx, s.col)
	if err != nil {
		return nil, err
	}

	linked := map[int]bool{}
	for _, ref := range collection[number].CrossReferences {
		linked[ref] = true
	}
	for n, issue := range collection {
		if n == number {
			continue
		}
		for _, ref := range issue.CrossReferences {
			if ref == number {
				linked[n] = true
			}
		}
	}

	numbers := make([]int, 0, len(linked))
	for n := range linked {
		if _, ok := collection[n]; ok {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	out := make([]*record.Issue, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, collection[n])
	}
	return out, nil
}

// GetIssueMetrics returns a record's metric bundle and quartile
// labels. A record that has never been enriched returns ErrNotFound
// for its metrics.
func (s *Service) GetIssueMetrics(ctx context.Context, number int) (*record.MetricBundle, record.QuartileBundle, error) {
	issue, err := s.store.Get(ctx, s.col, number)
	if err != nil {
		return nil, nil, err
	}
	if issue.Metrics == nil {
		return nil, nil, fmt.Errorf("issue %d not enriched: %w", number, store.ErrNotFound)
	}
	return issue.Metrics, issue.Quartiles, nil
}

// GetTopIssues returns the n enriched records ranked by the named
// metric, highest first when descending. Unknown metric names return
// ErrInvalidMetric.
func (s *Service) GetTopIssues(ctx context.Context, metric string, n int, descending bool) ([]RankedIssue, error) {
	if n <= 0 {
		n = 10
	}

	collection, err := s.store.All(ctx, s.col)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedIssue, 0, len(collection))
	for _, issue := range collection {
		if issue.Metrics == nil {
			continue
		}
		v, err := metrics.Value(issue.Metrics, metric)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, RankedIssue{
			Number: issue.Number,
			Title:  issue.Title,
			State:  issue.State,
			Value:  v,
		})
	}

	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].Value != ranked[b].Value {
			if descending {
				return ranked[a].Value > ranked[b].Value
			}
			return ranked[a].Value < ranked[b].Value
		}
		return ranked[a].Number < ranked[b].Number
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// AddRecommendation validates and appends a triage recommendation to a
// record. The priority score and timestamp are computed here, not
// trusted from the caller.
func (s *Service) AddRecommendation(ctx context.Context, number int, rec record.Recommendation) (*record.Recommendation, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	issue, err := s.store.Get(ctx, s.col, number)
	if err != nil {
		return nil, err
	}

	rec.PriorityScore = metrics.PriorityScore(&rec)
	rec.CreatedAt = time.Now().UTC()
	issue.Recommendations = append(issue.Recommendations, rec)

	if err := s.store.Put(ctx, s.col, issue); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Stats summarizes a collection for the stats command and endpoint.
type Stats struct {
	Collection   string `json:"collection"`
	Records      int    `json:"records"`
	PullRequests int    `json:"pullRequests"`
	Open         int    `json:"open"`
	Closed       int    `json:"closed"`
	Merged       int    `json:"merged"`
	Embedded     int    `json:"embedded"`
	Enriched     int    `json:"enriched"`
	Summarized   int    `json:"summarized"`
	Recommended  int    `json:"recommended"`
}

// GetStats walks the collection once and aggregates coverage counters.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	st := Stats{Collection: s.col}

	collection, err := s.store.All(ctx, s.col)
	if err != nil {
		return st, err
	}
	st.Records = len(collection)
	for _, issue := range collection {
		if issue.IsPullRequest {
			st.PullRequests++
		}
		switch issue.State {
		case record.StateOpen:
			st.Open++
		case record.StateClosed:
			st.Closed++
		case record.StateMerged:
			st.Merged++
		}
		if len(issue.Embedding) > 0 {
			st.Embedded++
		}
		if issue.Metrics != nil {
			st.Enriched++
		}
		if issue.Summary != "" {
			st.Summarized++
		}
		if len(issue.Recommendations) > 0 {
			st.Recommended++
		}
	}
	return st, nil
}
