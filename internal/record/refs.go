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
	"regexp"
	"sort"
	"strconv"
)

var refPattern = regexp.MustCompile(`(?:^|[\s(])#(\d+)\b`)

// ExtractReferences scans an issue's body and comment text for #N
// issue references and merges them with the references already on the
// record (e.g. from timeline events). Self-references are dropped and
// the result is sorted and deduplicated.
func ExtractReferences(issue *Issue) []int {
	seen := make(map[int]bool)
	for _, n := range issue.CrossReferences {
		seen[n] = true
	}

	scan := func(text string) {
		for _, m := range refPattern.FindAllStringSubmatch(text, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				seen[n] = true
			}
		}
	}
	scan(issue.Body)
	for _, c := range issue.Comments {
		scan(c.Body)
	}

	delete(seen, issue.Number)
	if len(seen) == 0 {
		return nil
	}
	refs := make([]int, 0, len(seen))
	for n := range seen {
		refs = append(refs, n)
	}
	sort.Ints(refs)
	return refs
}
