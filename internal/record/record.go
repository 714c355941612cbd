// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package record defines the issue data model shared by the ingestion,
// enrichment, and query layers.
//
// Raw source payloads are parsed into these strict shapes at the merge
// boundary; nothing downstream handles loosely-typed maps. Derived
// fields (Embedding, Metrics, Quartiles, Summary, Recommendations) are
// owned by the enrichment pass and survive merges that only refresh
// source-owned fields.
package record

import (
	"errors"
	"strings"
	"time"
)

// ErrMalformedRecord is returned when an incoming record is missing its
// identifier or otherwise cannot be parsed into an Issue.
var ErrMalformedRecord = errors.New("malformed record")

// State is the lifecycle state of an issue or pull request.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
	StateMerged State = "merged"
)

// Label is a repository label attached to an issue.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Comment is one comment on an issue. Identity is (issue number,
// position in the Comments slice).
type Comment struct {
	Author        string    `json:"author"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"createdAt"`
	ReactionCount int       `json:"reactionCount,omitempty"`
}

// MetricBundle holds the derived numeric fields recomputed for every
// record on each enrichment pass.
type MetricBundle struct {
	CommentCount      int     `json:"commentCount"`
	BodyReactions     int     `json:"bodyReactions"`
	CommentReactions  int     `json:"commentReactions"`
	TotalReactions    int     `json:"totalReactions"`
	PositiveReactions int     `json:"positiveReactions"`
	NegativeReactions int     `json:"negativeReactions"`
	AgeDays           int     `json:"ageDays"`
	Engagements       int     `json:"engagements"`
	EngagementsPerDay float64 `json:"engagementsPerDay"`
	ActivityScore     float64 `json:"activityScore"`
	KNNDistance       float64 `json:"knnDistance"`
	HasKNNDistance    bool    `json:"hasKnnDistance"`
}

// QuartileLabel is a distribution-relative bucket for one metric,
// computed over the full collection at enrichment time.
type QuartileLabel string

const (
	QuartileBottom25 QuartileLabel = "Bottom25%"
	QuartileBottom50 QuartileLabel = "Bottom50%"
	QuartileTop50    QuartileLabel = "Top50%"
	QuartileTop25    QuartileLabel = "Top25%"
)

// Rank orders quartile labels ascending; higher rank means a higher
// metric value relative to the collection.
func (q QuartileLabel) Rank() int {
	switch q {
	case QuartileBottom25:
		return 0
	case QuartileBottom50:
		return 1
	case QuartileTop50:
		return 2
	case QuartileTop25:
		return 3
	default:
		return -1
	}
}

// QuartileBundle maps metric name to quartile label.
type QuartileBundle map[string]QuartileLabel

// Issue is one tracked item (issue or pull request) in a collection.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     State     `json:"state"`
	URL       string    `json:"url,omitempty"`
	Author    string    `json:"author"`
	Labels    []Label   `json:"labels,omitempty"`
	Assignees []string  `json:"assignees,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ReactionGroups maps reaction content (THUMBS_UP, HEART, ...)
	// to user counts, in the source API's vocabulary.
	ReactionGroups map[string]int `json:"reactionGroups,omitempty"`

	Comments []Comment `json:"comments,omitempty"`

	// CrossReferences holds issue numbers this record references,
	// extracted from body/comment text and timeline events.
	CrossReferences []int `json:"crossReferences,omitempty"`

	IsPullRequest bool       `json:"isPullRequest,omitempty"`
	Merged        bool       `json:"merged,omitempty"`
	MergedAt      *time.Time `json:"mergedAt,omitempty"`
	BaseRef       string     `json:"baseRef,omitempty"`
	HeadRef       string     `json:"headRef,omitempty"`

	PulledAt time.Time `json:"pulledAt,omitempty"`

	// Locally derived fields, preserved across merges until the next
	// enrichment pass refreshes them.
	Embedding       []float32        `json:"embedding,omitempty"`
	Metrics         *MetricBundle    `json:"metrics,omitempty"`
	Quartiles       QuartileBundle   `json:"quartiles,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// Validate rejects records that cannot be merged.
func (i *Issue) Validate() error {
	if i.Number <= 0 {
		return ErrMalformedRecord
	}
	if i.UpdatedAt.IsZero() {
		return ErrMalformedRecord
	}
	return nil
}

// ContentText returns the textual content that drives the embedding:
// title, body, and comment bodies joined by newlines. Two records with
// equal ContentText are content-equal for merge purposes.
func (i *Issue) ContentText() string {
	var b strings.Builder
	b.WriteString(i.Title)
	b.WriteByte('\n')
	b.WriteString(i.Body)
	for _, c := range i.Comments {
		b.WriteByte('\n')
		b.WriteString(c.Body)
	}
	return b.String()
}

// PositiveNegativeReactions splits reaction groups into positive and
// negative counts using the source vocabulary.
func (i *Issue) PositiveNegativeReactions() (positive, negative int) {
	for content, count := range i.ReactionGroups {
		switch content {
		case "THUMBS_DOWN", "CONFUSED":
			negative += count
		default:
			positive += count
		}
	}
	return positive, negative
}

// BodyReactions sums the reactions on the record body alone, not its
// comments.
func (i *Issue) BodyReactions() int {
	total := 0
	for _, count := range i.ReactionGroups {
		total += count
	}
	return total
}

// TotalReactions sums the record's own reactions and all comment
// reactions.
func (i *Issue) TotalReactions() int {
	total := i.BodyReactions()
	for _, c := range i.Comments {
		total += c.ReactionCount
	}
	return total
}

// Clone returns a deep copy of the issue. Merge and enrichment work on
// clones so callers never observe partially updated records.
func (i *Issue) Clone() *Issue {
	out := *i
	out.Labels = append([]Label(nil), i.Labels...)
	out.Assignees = append([]string(nil), i.Assignees...)
	out.Comments = append([]Comment(nil), i.Comments...)
	out.CrossReferences = append([]int(nil), i.CrossReferences...)
	out.Embedding = append([]float32(nil), i.Embedding...)
	out.Recommendations = append([]Recommendation(nil), i.Recommendations...)
	if i.ReactionGroups != nil {
		out.ReactionGroups = make(map[string]int, len(i.ReactionGroups))
		for k, v := range i.ReactionGroups {
			out.ReactionGroups[k] = v
		}
	}
	if i.Metrics != nil {
		m := *i.Metrics
		out.Metrics = &m
	}
	if i.Quartiles != nil {
		out.Quartiles = make(QuartileBundle, len(i.Quartiles))
		for k, v := range i.Quartiles {
			out.Quartiles[k] = v
		}
	}
	if i.MergedAt != nil {
		t := *i.MergedAt
		out.MergedAt = &t
	}
	return &out
}
