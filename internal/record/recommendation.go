// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package record

import (
	"fmt"
	"strings"
	"time"
)

// RecommendationAction is the triage action an AI reviewer suggests.
type RecommendationAction string

const (
	ActionCloseCompleted  RecommendationAction = "close_completed"
	ActionCloseMerge      RecommendationAction = "close_merge"
	ActionCloseNotPlanned RecommendationAction = "close_not_planned"
	ActionCloseInvalid    RecommendationAction = "close_invalid"
	ActionAlmostDone      RecommendationAction = "almost_done"
	ActionPriorityHigh    RecommendationAction = "priority_high"
	ActionPriorityMedium  RecommendationAction = "priority_medium"
	ActionPriorityLow     RecommendationAction = "priority_low"
	ActionNeedsMoreInfo   RecommendationAction = "needs_more_info"
)

var validActions = map[RecommendationAction]bool{
	ActionCloseCompleted:  true,
	ActionCloseMerge:      true,
	ActionCloseNotPlanned: true,
	ActionCloseInvalid:    true,
	ActionAlmostDone:      true,
	ActionPriorityHigh:    true,
	ActionPriorityMedium:  true,
	ActionPriorityLow:     true,
	ActionNeedsMoreInfo:   true,
}

// TriageLevel is a low/medium/high assessment used across the
// recommendation analysis fields.
type TriageLevel string

const (
	LevelLow    TriageLevel = "low"
	LevelMedium TriageLevel = "medium"
	LevelHigh   TriageLevel = "high"
)

func (l TriageLevel) valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	}
	return false
}

// Recommendation is an AI-generated triage annotation on an issue.
// It is the only record field mutated by the query service.
type Recommendation struct {
	Action             RecommendationAction `json:"action"`
	Confidence         TriageLevel          `json:"confidence"`
	Severity           TriageLevel          `json:"severity"`
	Frequency          TriageLevel          `json:"frequency"`
	Prevalence         TriageLevel          `json:"prevalence"`
	SolutionComplexity TriageLevel          `json:"solutionComplexity"`
	SolutionRisk       TriageLevel          `json:"solutionRisk"`
	Summary            string               `json:"summary"`
	Rationale          string               `json:"rationale"`
	MergeWith          []int                `json:"mergeWith,omitempty"`
	Reviewer           string               `json:"reviewer"`
	PriorityScore      int                  `json:"priorityScore"`
	CreatedAt          time.Time            `json:"createdAt"`
}

// Validate checks the enum fields and required text. All problems are
// reported at once so a caller can fix a submission in one round trip.
func (r *Recommendation) Validate() error {
	var problems []string
	if !validActions[r.Action] {
		problems = append(problems, fmt.Sprintf("action %q is not a recognized triage action", r.Action))
	}
	levels := []struct {
		name  string
		level TriageLevel
	}{
		{"confidence", r.Confidence},
		{"severity", r.Severity},
		{"frequency", r.Frequency},
		{"prevalence", r.Prevalence},
		{"solution_complexity", r.SolutionComplexity},
		{"solution_risk", r.SolutionRisk},
	}
	for _, l := range levels {
		if !l.level.valid() {
			problems = append(problems, fmt.Sprintf("%s must be low, medium, or high", l.name))
		}
	}
	if strings.TrimSpace(r.Summary) == "" {
		problems = append(problems, "summary must be a non-empty string")
	}
	if strings.TrimSpace(r.Rationale) == "" {
		problems = append(problems, "rationale must be a non-empty string")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid recommendation: %s", strings.Join(problems, "; "))
	}
	return nil
}
