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
	"fmt"
	"sort"
)

// Problem is one validation finding.
type Problem struct {
	Number  int    `json:"number"`
	Message string `json:"message"`
}

// ValidationReport is the result of a consistency sweep.
type ValidationReport struct {
	Records  int       `json:"records"`
	Problems []Problem `json:"problems,omitempty"`
}

// OK reports whether the sweep found nothing.
func (r ValidationReport) OK() bool { return len(r.Problems) == 0 }

// Validate sweeps the collection for integrity problems: malformed
// records, inconsistent embedding dimensionality, unknown quartile
// labels, out-of-range neighbor distances, and dangling
// cross-references. Findings are reported, never auto-fixed.
func (s *Service) Validate(ctx context.Context) (ValidationReport, error) {
	var report ValidationReport

	collection, err := s.store.All(ctx, s.col)
	if err != nil {
		return report, err
	}
	report.Records = len(collection)

	add := func(number int, format string, args ...any) {
		report.Problems = append(report.Problems, Problem{
			Number:  number,
			Message: fmt.Sprintf(format, args...),
		})
	}

	dim := 0
	numbers := make([]int, 0, len(collection))
	for n := range collection {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	for _, n := range numbers {
		issue := collection[n]

		if err := issue.Validate(); err != nil {
			add(n, "malformed record: %v", err)
			continue
		}
		if issue.Number != n {
			add(n, "stored under key %d but carries number %d", n, issue.Number)
		}
		if !issue.CreatedAt.IsZero() && issue.UpdatedAt.Before(issue.CreatedAt) {
			add(n, "updatedAt %s precedes createdAt %s", issue.UpdatedAt, issue.CreatedAt)
		}

		if len(issue.Embedding) > 0 {
			if dim == 0 {
				dim = len(issue.Embedding)
			} else if len(issue.Embedding) != dim {
				add(n, "embedding dimension %d, collection uses %d", len(issue.Embedding), dim)
			}
		}

		for name, label := range issue.Quartiles {
			if label.Rank() < 0 {
				add(n, "unknown quartile label %q for metric %s", label, name)
			}
		}

		if issue.Metrics != nil {
			m := issue.Metrics
			if m.HasKNNDistance && (m.KNNDistance < 0 || m.KNNDistance > 2) {
				add(n, "neighbor distance %.4f outside [0, 2]", m.KNNDistance)
			}
			if m.EngagementsPerDay < 0 || m.ActivityScore < 0 {
				add(n, "negative derived metric")
			}
		}

		for _, ref := range issue.CrossReferences {
			if ref == n {
				add(n, "self cross-reference")
			}
		}
	}

	return report, nil
}
