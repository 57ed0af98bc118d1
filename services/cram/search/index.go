// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"math"
	"strings"
)

// =============================================================================
// Document Frequency Index
// =============================================================================

// Index holds per-call document frequencies over a candidate set.
//
// # Description
//
// A candidate's document is its primary text joined with its aliases. Each
// distinct token of that document adds one to its document count, so a
// token repeated within one candidate counts once.
//
// # Thread Safety
//
// Immutable after BuildIndex. An Index is scoped to one find call and is
// never cached, because the rows behind it may change between calls.
type Index struct {
	// df maps token to the number of candidates containing it.
	df map[string]int

	// n is the candidate count, at least 1.
	n int
}

// BuildIndex counts document frequencies over cands.
//
// # Inputs
//
//   - tok: Tokenizer shared with the scorer.
//   - cands: Candidate set. Empty yields an index with N=1.
//
// # Outputs
//
//   - *Index: Never nil.
func BuildIndex(tok *Tokenizer, cands []Candidate) *Index {
	df := make(map[string]int)
	for _, c := range cands {
		for t := range tok.TokenSet(c.document()) {
			df[t]++
		}
	}
	return &Index{df: df, n: max(1, len(cands))}
}

// N returns the candidate count used in IDF, never below 1.
func (ix *Index) N() int { return ix.n }

// DocCount returns how many candidates contain token.
func (ix *Index) DocCount(token string) int { return ix.df[token] }

// IDF returns ln((N - d + 0.5) / (d + 0.5) + 1) for the token's count d.
//
// Unknown tokens have d = 0 and get the highest weight.
func (ix *Index) IDF(token string) float64 {
	d := float64(ix.df[token])
	n := float64(ix.n)
	return math.Log((n-d+0.5)/(d+0.5) + 1)
}

// document is the text whose tokens feed DF and title coverage.
func (c Candidate) document() string {
	if len(c.Aliases) == 0 {
		return c.Primary
	}
	return c.Primary + " " + strings.Join(c.Aliases, " ")
}
