// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"fmt"
	"strings"

	"github.com/jinterlante1206/issuedex/internal/record"
)

// EmbeddingContent builds the text embedded for a record: title, then
// the body capped at 15k characters, then comment bodies until their
// running total reaches 8k. The caps keep worst-case records inside
// provider input limits while preserving the discussion head, which
// carries most of the signal.
func EmbeddingContent(issue *record.Issue) string {
	title := issue.Title

	body := issue.Body
	if len(body) > maxBodyChars {
		body = truncate(body, maxBodyChars) + "... [truncated]"
	}

	var comments []string
	total := 0
	for _, c := range issue.Comments {
		if total+len(c.Body) > maxCommentChars {
			comments = append(comments, "[... more comments truncated]")
			break
		}
		comments = append(comments, c.Body)
		total += len(c.Body)
	}

	parts := []string{title, body, strings.Join(comments, "\n")}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// SummaryPrompt builds the prompt for the optional AI summary,
// interleaving authors and dates so the model sees the conversation
// shape.
func SummaryPrompt(issue *record.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize this issue discussion in 2-3 sentences. Focus on the problem, its status, and community engagement.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", issue.Title)
	fmt.Fprintf(&b, "State: %s\n", issue.State)

	body := issue.Body
	if len(body) > maxBodyChars {
		body = truncate(body, maxBodyChars) + "... [truncated]"
	}
	fmt.Fprintf(&b, "%s (%s): %s\n", issue.Author, issue.CreatedAt.Format("2006-01-02"), body)

	total := 0
	for _, c := range issue.Comments {
		if total+len(c.Body) > maxCommentChars {
			b.WriteString("[... more comments truncated]\n")
			break
		}
		fmt.Fprintf(&b, "%s (%s): %s\n", c.Author, c.CreatedAt.Format("2006-01-02"), c.Body)
		total += len(c.Body)
	}
	return b.String()
}

// truncate cuts s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
