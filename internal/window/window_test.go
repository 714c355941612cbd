// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func collect(seq func(func(Window) bool)) []Window {
	var out []Window
	seq(func(w Window) bool {
		out = append(out, w)
		return true
	})
	return out
}

func TestPlanFirstRunCoversStartToNow(t *testing.T) {
	p := NewPlanner()
	cp := Checkpoint{StartDate: date("2025-01-01")}
	now := date("2025-01-22")

	windows := collect(p.Plan(cp, now, false))
	require.Len(t, windows, 3)
	assert.Equal(t, date("2025-01-01"), windows[0].Start)
	assert.Equal(t, date("2025-01-08"), windows[0].End)
	assert.Equal(t, date("2025-01-15"), windows[2].Start)
	assert.Equal(t, now, windows[2].End)
}

func TestPlanFinalWindowIsPartial(t *testing.T) {
	p := NewPlanner()
	cp := Checkpoint{StartDate: date("2025-01-01")}
	now := date("2025-01-10")

	windows := collect(p.Plan(cp, now, false))
	require.Len(t, windows, 2)
	assert.Equal(t, date("2025-01-08"), windows[1].Start)
	assert.Equal(t, now, windows[1].End)
	assert.True(t, windows[1].End.Sub(windows[1].Start) < p.Width)
}

func TestPlanWindowsAreContiguousAndOrdered(t *testing.T) {
	p := NewPlanner()
	cp := Checkpoint{StartDate: date("2024-06-01")}
	windows := collect(p.Plan(cp, date("2024-09-01"), false))

	require.NotEmpty(t, windows)
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].End, windows[i].Start, "window %d not contiguous", i)
		assert.True(t, windows[i].Start.Before(windows[i].End))
	}
}

func TestPlanResumesFromCheckpoint(t *testing.T) {
	p := NewPlanner()
	cp := Checkpoint{
		StartDate:     date("2025-01-01"),
		LastWindowEnd: date("2025-03-01"),
	}
	windows := collect(p.Plan(cp, date("2025-03-10"), false))

	require.Len(t, windows, 2)
	assert.Equal(t, date("2025-03-01"), windows[0].Start)
}

func TestPlanOverlapRewindsResumeBoundary(t *testing.T) {
	p := NewPlanner()
	p.Overlap = 24 * time.Hour
	cp := Checkpoint{
		StartDate:     date("2025-01-01"),
		LastWindowEnd: date("2025-03-01"),
	}
	windows := collect(p.Plan(cp, date("2025-03-05"), false))

	require.NotEmpty(t, windows)
	assert.Equal(t, date("2025-02-28"), windows[0].Start)
}

func TestPlanForceIgnoresCheckpoint(t *testing.T) {
	p := NewPlanner()
	cp := Checkpoint{
		StartDate:     date("2025-01-01"),
		LastWindowEnd: date("2025-03-01"),
	}
	windows := collect(p.Plan(cp, date("2025-01-20"), true))

	require.NotEmpty(t, windows)
	assert.Equal(t, date("2025-01-01"), windows[0].Start)
}

func TestPlanClockSkewYieldsNoWindows(t *testing.T) {
	p := NewPlanner()
	cp := Checkpoint{
		StartDate:     date("2025-01-01"),
		LastWindowEnd: date("2025-06-01"),
	}
	windows := collect(p.Plan(cp, date("2025-05-01"), false))
	assert.Empty(t, windows)
}

func TestPlanStopsWhenConsumerBreaks(t *testing.T) {
	p := NewPlanner()
	cp := Checkpoint{StartDate: date("2024-01-01")}
	count := 0
	p.Plan(cp, date("2025-01-01"), false)(func(Window) bool {
		count++
		return count < 3
	})
	assert.Equal(t, 3, count)
}

func TestCheckpointAdvanceIsMonotonic(t *testing.T) {
	cp := Checkpoint{StartDate: date("2025-01-01")}
	cp = cp.Advance(date("2025-02-01"))
	assert.Equal(t, date("2025-02-01"), cp.LastWindowEnd)

	// Older end must not move the checkpoint backwards.
	cp = cp.Advance(date("2025-01-15"))
	assert.Equal(t, date("2025-02-01"), cp.LastWindowEnd)

	cp = cp.Advance(date("2025-03-01"))
	assert.Equal(t, date("2025-03-01"), cp.LastWindowEnd)
}
