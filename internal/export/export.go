// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export flattens triaged records into a reviewer-facing CSV.
// Only records carrying at least one recommendation are exported; the
// most recent recommendation provides the triage columns.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jinterlante1206/issuedex/internal/record"
)

var columns = []string{
	"number",
	"title",
	"url",
	"state",
	"created_at",
	"updated_at",
	"labels",
	"author",
	"issue_summary",
	"comment_count",
	"body_reactions",
	"total_reactions",
	"age_days",
	"activity_score",
	"recommendation",
	"confidence",
	"rec_summary",
	"rationale",
	"severity",
	"frequency",
	"prevalence",
	"solution_complexity",
	"solution_risk",
	"merge_with",
	"reviewer",
	"review_timestamp",
	"total_recommendations",
	"priority_score",
}

// WriteCSV writes triaged records to w in issue-number order and
// returns the number of rows written. Records without recommendations
// are skipped.
func WriteCSV(w io.Writer, collection map[int]*record.Issue) (int, error) {
	numbers := make([]int, 0, len(collection))
	for n, issue := range collection {
		if len(issue.Recommendations) > 0 {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, n := range numbers {
		if err := cw.Write(row(collection[n])); err != nil {
			return 0, fmt.Errorf("write csv row for issue %d: %w", n, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(numbers), nil
}

// WriteFile writes the CSV to path, creating parent directories.
func WriteFile(path string, collection map[int]*record.Issue) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	rows, err := WriteCSV(f, collection)
	if err != nil {
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close export file: %w", err)
	}
	return rows, nil
}

// DefaultPath derives the export filename from the repository name.
func DefaultPath(repo string) string {
	return strings.ReplaceAll(repo, "/", "_") + "_recommendations.csv"
}

func row(issue *record.Issue) []string {
	rec := issue.Recommendations[len(issue.Recommendations)-1]

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	mergeWith := make([]string, 0, len(rec.MergeWith))
	for _, n := range rec.MergeWith {
		mergeWith = append(mergeWith, strconv.Itoa(n))
	}

	var commentCount, bodyReactions, totalReactions, ageDays int
	var activityScore float64
	if issue.Metrics != nil {
		commentCount = issue.Metrics.CommentCount
		bodyReactions = issue.Metrics.BodyReactions
		totalReactions = issue.Metrics.TotalReactions
		ageDays = issue.Metrics.AgeDays
		activityScore = issue.Metrics.ActivityScore
	}

	return []string{
		strconv.Itoa(issue.Number),
		issue.Title,
		issue.URL,
		string(issue.State),
		timestamp(issue.CreatedAt),
		timestamp(issue.UpdatedAt),
		strings.Join(labels, ", "),
		issue.Author,
		issue.Summary,
		strconv.Itoa(commentCount),
		strconv.Itoa(bodyReactions),
		strconv.Itoa(totalReactions),
		strconv.Itoa(ageDays),
		strconv.FormatFloat(activityScore, 'f', 4, 64),
		string(rec.Action),
		string(rec.Confidence),
		rec.Summary,
		rec.Rationale,
		string(rec.Severity),
		string(rec.Frequency),
		string(rec.Prevalence),
		string(rec.SolutionComplexity),
		string(rec.SolutionRisk),
		strings.Join(mergeWith, ", "),
		rec.Reviewer,
		timestamp(rec.CreatedAt),
		strconv.Itoa(len(issue.Recommendations)),
		strconv.Itoa(rec.PriorityScore),
	}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
