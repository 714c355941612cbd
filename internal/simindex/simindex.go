// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package simindex is an in-memory exact cosine similarity index over
// record embeddings.
//
// Collections run up to the low tens of thousands of records, so a
// brute-force scan over normalized vectors answers a query in well
// under a millisecond. An index is immutable after Build; enrichment
// builds a fresh one and swaps it in through a Holder, so readers
// never see a half-built index.
package simindex

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/jinterlante1206/issuedex/internal/record"
)

var (
	// ErrNotFound is returned when the queried record is not in the
	// index, either unknown or not yet embedded.
	ErrNotFound = errors.New("record not in index")

	// ErrDimensionMismatch is returned when a query vector or an
	// indexed record disagrees with the index dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Match is one similarity result. Distance is cosine distance
// (1 - similarity), so identical content scores 0.
type Match struct {
	Number     int     `json:"number"`
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"`
}

// Index holds normalized embeddings for every embedded record in a
// collection. Immutable after Build.
type Index struct {
	numbers  []int
	vectors  [][]float32
	byNumber map[int]int
	dim      int
}

// Build indexes every record that carries an embedding. Records with
// no embedding are skipped; a record whose embedding disagrees with
// the dimensionality of the rest fails the build, since mixed models
// make distances meaningless.
func Build(collection map[int]*record.Issue) (*Index, error) {
	idx := &Index{byNumber: make(map[int]int)}

	numbers := make([]int, 0, len(collection))
	for n, issue := range collection {
		if len(issue.Embedding) > 0 {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	for _, n := range numbers {
		issue := collection[n]
		if idx.dim == 0 {
			idx.dim = len(issue.Embedding)
		}
		if len(issue.Embedding) != idx.dim {
			return nil, fmt.Errorf("record %d has dimension %d, index has %d: %w",
				n, len(issue.Embedding), idx.dim, ErrDimensionMismatch)
		}
		idx.byNumber[n] = len(idx.numbers)
		idx.numbers = append(idx.numbers, n)
		idx.vectors = append(idx.vectors, normalize(issue.Embedding))
	}
	return idx, nil
}

// Len returns the number of indexed records.
func (idx *Index) Len() int { return len(idx.numbers) }

// Dim returns the embedding dimensionality, 0 for an empty index.
func (idx *Index) Dim() int { return idx.dim }

// Contains reports whether a record is indexed.
func (idx *Index) Contains(number int) bool {
	_, ok := idx.byNumber[number]
	return ok
}

// Similar returns the k records most similar to the given one, best
// first, never including the record itself.
func (idx *Index) Similar(number, k int) ([]Match, error) {
	pos, ok := idx.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("record %d: %w", number, ErrNotFound)
	}
	return idx.scan(idx.vectors[pos], k, number), nil
}

// SimilarToVector returns the k records most similar to an arbitrary
// query vector, best first.
func (idx *Index) SimilarToVector(vec []float32, k int) ([]Match, error) {
	if idx.dim != 0 && len(vec) != idx.dim {
		return nil, fmt.Errorf("query has dimension %d, index has %d: %w",
			len(vec), idx.dim, ErrDimensionMismatch)
	}
	return idx.scan(normalize(vec), k, -1), nil
}

// MeanNeighborDistance returns the mean cosine distance from a record
// to its k nearest indexed neighbors. With fewer than k neighbors
// available, the mean is over what exists; a single-record index
// reports found=false.
func (idx *Index) MeanNeighborDistance(number, k int) (dist float64, found bool, err error) {
	matches, err := idx.Similar(number, k)
	if err != nil {
		return 0, false, err
	}
	if len(matches) == 0 {
		return 0, false, nil
	}
	sum := 0.0
	for _, m := range matches {
		sum += m.Distance
	}
	return sum / float64(len(matches)), true, nil
}

// scan is a brute-force top-k pass over all vectors. exclude skips the
// query record itself; pass a number not in the index to keep all.
func (idx *Index) scan(query []float32, k int, exclude int) []Match {
	if k <= 0 {
		return nil
	}
	matches := make([]Match, 0, len(idx.numbers))
	for i, n := range idx.numbers {
		if n == exclude {
			continue
		}
		sim := dot(query, idx.vectors[i])
		matches = append(matches, Match{
			Number:     n,
			Similarity: sim,
			Distance:   1 - sim,
		})
	}
	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Similarity != matches[b].Similarity {
			return matches[a].Similarity > matches[b].Similarity
		}
		return matches[a].Number < matches[b].Number
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func dot(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func normalize(vec []float32) []float32 {
	norm := math.Sqrt(dot(vec, vec))
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Holder publishes the current index for a collection. Enrichment
// stores a freshly built index; queries load whatever is current.
// A nil load means no enrichment has completed yet.
type Holder struct {
	p atomic.Pointer[Index]
}

// Load returns the current index, or nil.
func (h *Holder) Load() *Index { return h.p.Load() }

// Store swaps in a new index.
func (h *Holder) Store(idx *Index) { h.p.Store(idx) }
