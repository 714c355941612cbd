// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package merge reconciles fetched issue batches against the existing
// collection.
//
// The engine is the write boundary for source data: it decides, per
// incoming record, whether to insert, replace, or drop, and it is the
// only place that distinguishes content changes (which invalidate
// embeddings) from state-only changes (which do not). Merging is
// idempotent: applying the same batch twice produces the same
// collection as applying it once.
package merge

import (
	"sort"

	"github.com/jinterlante1206/issuedex/internal/record"
	"github.com/jinterlante1206/issuedex/pkg/logging"
)

// Result summarizes one merge pass.
type Result struct {
	// Inserted is the count of previously unknown records.
	Inserted int

	// Updated is the count of records replaced by a newer version.
	Updated int

	// Unchanged is the count of incoming records dropped because the
	// stored version was at least as new.
	Unchanged int

	// Rejected is the count of malformed records skipped.
	Rejected int

	// ContentChanged holds the identifiers whose title, body, or
	// comment text differs from the stored version. These records need
	// re-embedding; state/label/reaction-only updates are excluded.
	ContentChanged []int

	// Changed holds every identifier that was inserted or updated,
	// regardless of whether textual content moved.
	Changed []int
}

// Engine merges fetched batches into a collection.
type Engine struct {
	logger *logging.Logger
}

// NewEngine creates a merge engine. A nil logger falls back to the
// package default.
func NewEngine(logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{logger: logger.With("component", "merge")}
}

// Apply merges incoming records into existing, mutating existing in
// place, and returns what changed.
//
// Per-record rules:
//
//   - unknown identifier: inserted as new
//   - incoming updatedAt newer than stored: source-owned fields are
//     replaced; locally derived fields (embedding, metrics, quartiles,
//     summary, recommendations) are carried over from the stored
//     version until the next enrichment pass refreshes them
//   - incoming updatedAt older or equal: dropped, which guards against
//     out-of-order and duplicate delivery
//
// Malformed records (missing identifier or update timestamp) are
// rejected and logged; they never partially merge and never abort the
// pass.
func (e *Engine) Apply(existing map[int]*record.Issue, incoming []*record.Issue) Result {
	var res Result

	for _, in := range incoming {
		if err := in.Validate(); err != nil {
			e.logger.Warn("rejected malformed record", "number", in.Number, "error", err)
			res.Rejected++
			continue
		}

		stored, ok := existing[in.Number]
		if !ok {
			next := in.Clone()
			next.CrossReferences = record.ExtractReferences(next)
			existing[in.Number] = next
			res.Inserted++
			res.Changed = append(res.Changed, in.Number)
			res.ContentChanged = append(res.ContentChanged, in.Number)
			continue
		}

		if !in.UpdatedAt.After(stored.UpdatedAt) {
			res.Unchanged++
			continue
		}

		contentChanged := stored.ContentText() != in.ContentText()

		next := in.Clone()
		next.CrossReferences = record.ExtractReferences(next)
		// Locally derived fields survive the replace; enrichment owns
		// their refresh.
		next.Embedding = stored.Embedding
		next.Metrics = stored.Metrics
		next.Quartiles = stored.Quartiles
		next.Summary = stored.Summary
		next.Recommendations = stored.Recommendations
		existing[in.Number] = next

		res.Updated++
		res.Changed = append(res.Changed, in.Number)
		if contentChanged {
			res.ContentChanged = append(res.ContentChanged, in.Number)
		}
	}

	sort.Ints(res.Changed)
	sort.Ints(res.ContentChanged)

	e.logger.Debug("merge applied",
		"inserted", res.Inserted,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"rejected", res.Rejected,
		"content_changed", len(res.ContentChanged),
	)
	return res
}

// MissingEmbeddings returns the identifiers of records that carry no
// embedding, sorted. Enrichment unions this with a merge's
// ContentChanged set to scope the embedding pass.
func MissingEmbeddings(collection map[int]*record.Issue) []int {
	var out []int
	for n, issue := range collection {
		if len(issue.Embedding) == 0 {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}
