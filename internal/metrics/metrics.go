// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics derives per-record engagement numbers and
// collection-wide quartile labels.
//
// Metric computation is pure and deterministic: the same collection and
// reference time always produce the same bundles. Quartiles are
// distribution-relative, so adding or removing any record can shift
// every label; they are recomputed wholesale on each enrichment pass
// rather than patched incrementally.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jinterlante1206/issuedex/internal/config"
	"github.com/jinterlante1206/issuedex/internal/record"
)

// ErrInvalidMetric is returned when a caller names a metric that does
// not exist.
var ErrInvalidMetric = errors.New("invalid metric")

// QuartileMetrics lists the metric names that receive quartile labels,
// in the order they appear in exports.
var QuartileMetrics = []string{
	"commentCount",
	"ageDays",
	"engagements",
	"engagementsPerDay",
	"bodyReactions",
	"commentReactions",
	"totalReactions",
}

// SortMetrics lists the names accepted by top-record queries: every
// quartile metric plus the composite scores.
var SortMetrics = []string{
	"commentCount",
	"ageDays",
	"engagements",
	"engagementsPerDay",
	"bodyReactions",
	"commentReactions",
	"totalReactions",
	"activityScore",
	"knnDistance",
}

// Value returns the named metric from a bundle, or ErrInvalidMetric.
func Value(m *record.MetricBundle, name string) (float64, error) {
	switch name {
	case "activityScore":
		return m.ActivityScore, nil
	case "knnDistance":
		return m.KNNDistance, nil
	}
	for _, known := range QuartileMetrics {
		if name == known {
			return metricValue(m, name), nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, ErrInvalidMetric)
}

// Engine computes metric bundles and quartile assignments.
type Engine struct {
	cfg config.MetricsConfig
}

// NewEngine creates a metrics engine from the activity-score tuning
// section of the config.
func NewEngine(cfg config.MetricsConfig) *Engine {
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = 30
	}
	return &Engine{cfg: cfg}
}

// Compute builds the metric bundle for one record as of now.
//
// Engagements is comments plus all reactions. AgeDays is whole days
// since creation, floored at zero for clock skew. The activity score
// combines engagement rate with an exponential recency term so that,
// everything else equal, more engagement or a more recent update never
// lowers the score.
func (e *Engine) Compute(issue *record.Issue, now time.Time) record.MetricBundle {
	positive, negative := issue.PositiveNegativeReactions()
	bodyReactions := issue.BodyReactions()
	commentReactions := 0
	for _, c := range issue.Comments {
		commentReactions += c.ReactionCount
	}
	totalReactions := bodyReactions + commentReactions

	ageDays := int(now.Sub(issue.CreatedAt).Hours() / 24)
	if ageDays < 0 {
		ageDays = 0
	}

	engagements := len(issue.Comments) + totalReactions
	perDay := 0.0
	if ageDays > 0 {
		perDay = float64(engagements) / float64(ageDays)
	}

	b := record.MetricBundle{
		CommentCount:      len(issue.Comments),
		BodyReactions:     bodyReactions,
		CommentReactions:  commentReactions,
		TotalReactions:    totalReactions,
		PositiveReactions: positive,
		NegativeReactions: negative,
		AgeDays:           ageDays,
		Engagements:       engagements,
		EngagementsPerDay: perDay,
	}
	b.ActivityScore = e.activityScore(issue, b, now)
	return b
}

// activityScore blends engagement rate with update recency. The
// recency term halves every RecencyHalfLife days since the last
// update, using an hour-level base so two updates on the same day
// still order by recency.
func (e *Engine) activityScore(issue *record.Issue, b record.MetricBundle, now time.Time) float64 {
	rate := float64(b.Engagements) / math.Max(float64(b.AgeDays), 1)

	sinceUpdate := now.Sub(issue.UpdatedAt).Hours() / 24
	if sinceUpdate < 0 {
		sinceUpdate = 0
	}
	recency := math.Exp2(-sinceUpdate / e.cfg.RecencyHalfLife)

	return e.cfg.EngagementWeight*rate + e.cfg.RecencyWeight*recency
}

// ComputeAll refreshes the Metrics field of every record in the
// collection in place.
func (e *Engine) ComputeAll(collection map[int]*record.Issue, now time.Time) {
	for _, issue := range collection {
		b := e.Compute(issue, now)
		if issue.Metrics != nil && issue.Metrics.HasKNNDistance {
			b.KNNDistance = issue.Metrics.KNNDistance
			b.HasKNNDistance = true
		}
		issue.Metrics = &b
	}
}

// AssignQuartiles recomputes the quartile bundle of every record from
// the current metric distribution. Records without a metric bundle are
// skipped. When every value of a metric is identical the whole
// collection is labeled Top25% for that metric, since quartile
// boundaries are undefined.
func AssignQuartiles(collection map[int]*record.Issue) {
	n := len(collection)
	if n == 0 {
		return
	}

	values := make([]float64, 0, n)
	for _, name := range QuartileMetrics {
		values = values[:0]
		for _, issue := range collection {
			if issue.Metrics == nil {
				continue
			}
			values = append(values, metricValue(issue.Metrics, name))
		}
		if len(values) == 0 {
			continue
		}
		sort.Float64s(values)

		degenerate := values[0] == values[len(values)-1]
		q1 := quantile(values, 0.25)
		q2 := quantile(values, 0.50)
		q3 := quantile(values, 0.75)

		for _, issue := range collection {
			if issue.Metrics == nil {
				continue
			}
			if issue.Quartiles == nil {
				issue.Quartiles = record.QuartileBundle{}
			}
			if degenerate {
				issue.Quartiles[name] = record.QuartileTop25
				continue
			}
			issue.Quartiles[name] = label(metricValue(issue.Metrics, name), q1, q2, q3)
		}
	}
}

func label(v, q1, q2, q3 float64) record.QuartileLabel {
	switch {
	case v <= q1:
		return record.QuartileBottom25
	case v <= q2:
		return record.QuartileBottom50
	case v <= q3:
		return record.QuartileTop50
	default:
		return record.QuartileTop25
	}
}

// quantile is the linear-interpolation quantile of a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func metricValue(m *record.MetricBundle, name string) float64 {
	switch name {
	case "commentCount":
		return float64(m.CommentCount)
	case "ageDays":
		return float64(m.AgeDays)
	case "engagements":
		return float64(m.Engagements)
	case "engagementsPerDay":
		return m.EngagementsPerDay
	case "bodyReactions":
		return float64(m.BodyReactions)
	case "commentReactions":
		return float64(m.CommentReactions)
	case "totalReactions":
		return float64(m.TotalReactions)
	default:
		return 0
	}
}

// PriorityScore folds a recommendation's triage levels into a single
// 5 to 15 integer. Higher severity, frequency, and prevalence raise
// the score; higher solution complexity and risk lower it.
func PriorityScore(r *record.Recommendation) int {
	lv := func(l record.TriageLevel) int {
		switch l {
		case record.LevelLow:
			return 1
		case record.LevelMedium:
			return 2
		case record.LevelHigh:
			return 3
		default:
			return 1
		}
	}
	return lv(r.Severity) + lv(r.Frequency) + lv(r.Prevalence) +
		(4 - lv(r.SolutionComplexity)) + (4 - lv(r.SolutionRisk))
}
