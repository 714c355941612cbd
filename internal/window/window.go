// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package window plans incremental fetch windows over a collection's
// history.
//
// The planner converts a fetch checkpoint (or an explicit start date on
// first run) into an ordered sequence of non-overlapping, fixed-width
// time windows ending at "now". Consumers process windows strictly in
// order so the checkpoint can advance monotonically after each window
// is durably merged; the checkpoint and per-record update timestamps
// are the only state a crashed run needs to resume.
package window

import (
	"iter"
	"time"
)

// ItemType selects which tracked items a checkpoint covers.
type ItemType string

const (
	ItemIssues       ItemType = "issues"
	ItemPullRequests ItemType = "pull_requests"
)

// Checkpoint is the durable fetch-progress marker for one
// (collection, item-type) pair. The zero value means "never fetched".
//
// Invariant: LastWindowEnd never advances past a window whose merge has
// not been durably applied. The store persists the checkpoint in the
// same transaction as the window's merged batch.
type Checkpoint struct {
	// StartDate is the configured origin of the collection's history.
	StartDate time.Time `json:"startDate"`

	// LastWindowEnd is the end boundary of the most recently committed
	// window. Zero when no window has been committed yet.
	LastWindowEnd time.Time `json:"lastWindowEnd"`
}

// IsZero reports whether the checkpoint has never been advanced.
func (c Checkpoint) IsZero() bool {
	return c.LastWindowEnd.IsZero()
}

// Advance returns a checkpoint moved to the given window end. The
// checkpoint only moves forward; an older end is ignored.
func (c Checkpoint) Advance(end time.Time) Checkpoint {
	if end.After(c.LastWindowEnd) {
		c.LastWindowEnd = end
	}
	return c
}

// Window is one half-open fetch interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Planner splits a date range into bounded fetch chunks.
type Planner struct {
	// Width is the window width. Default: 7 days.
	Width time.Duration

	// Overlap is subtracted from the resume boundary so records whose
	// updatedAt landed exactly on a committed boundary are re-observed.
	// Re-fetching them is a merge no-op. Default: 0.
	Overlap time.Duration
}

// NewPlanner returns a planner producing weekly windows.
func NewPlanner() Planner {
	return Planner{Width: 7 * 24 * time.Hour}
}

// Plan yields the windows to fetch, oldest first.
//
// The sequence starts at the checkpoint's last committed boundary
// (minus Overlap), or at the checkpoint's start date when no window has
// been committed yet, and ends with a final possibly-partial window at
// now. With force set, the checkpoint is ignored and windows are
// regenerated from the start date; the consumer must still merge rather
// than overwrite so re-fetched unchanged records are no-ops.
//
// When now is not after the resume boundary (clock skew), the sequence
// is empty.
func (p Planner) Plan(cp Checkpoint, now time.Time, force bool) iter.Seq[Window] {
	width := p.Width
	if width <= 0 {
		width = 7 * 24 * time.Hour
	}

	start := cp.StartDate
	if !force && !cp.IsZero() {
		start = cp.LastWindowEnd.Add(-p.Overlap)
		if start.Before(cp.StartDate) {
			start = cp.StartDate
		}
	}

	return func(yield func(Window) bool) {
		for cursor := start; cursor.Before(now); cursor = cursor.Add(width) {
			end := cursor.Add(width)
			if end.After(now) {
				end = now
			}
			if !yield(Window{Start: cursor, End: end}) {
				return
			}
		}
	}
}
