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
	"cmp"
	"slices"
)

// DefaultMinGap is the score drop that ends a result list.
const DefaultMinGap = 0.05

// confidenceRunnerUpWeight discounts the top score by the runner-up.
const confidenceRunnerUpWeight = 0.25

// SortByScore sorts descending by score. Equal scores keep input order.
func SortByScore(scored []Scored) {
	slices.SortStableFunc(scored, func(a, b Scored) int {
		return cmp.Compare(b.Score, a.Score)
	})
}

// gapEpsilon absorbs float rounding when comparing a gap to minGap.
const gapEpsilon = 1e-9

// GapCut returns how many leading entries of a descending list to keep.
//
// The first adjacent pair whose difference exceeds minGap ends the list
// after its higher element. A difference equal to minGap within gapEpsilon
// does not cut, so adjacent tier scores such as 1.0 and 0.95 stay together.
// Without such a pair every entry is kept.
func GapCut(sorted []Scored, minGap float64) int {
	for i := 0; i+1 < len(sorted); i++ {
		if sorted[i].Score-sorted[i+1].Score-minGap > gapEpsilon {
			return i + 1
		}
	}
	return len(sorted)
}

// Confidence returns max(0, min(1, s1 - 0.25*s2)) over a ranked list.
//
// s2 is 0 for a single result and an empty list has confidence 0.
func Confidence(ranked []Scored) float64 {
	if len(ranked) == 0 {
		return 0
	}
	s1 := ranked[0].Score
	var s2 float64
	if len(ranked) > 1 {
		s2 = ranked[1].Score
	}
	return max(0, min(1, s1-confidenceRunnerUpWeight*s2))
}

// Rank sorts, gap-cuts and limits scored candidates.
//
// # Inputs
//
//   - scored: Candidates with Score > 0. Reordered in place.
//   - minGap: Gap threshold for GapCut.
//   - limit: Upper bound on the result size. Zero or negative means none.
//     The limit only shrinks the gap-cut list, never extends it.
//
// # Outputs
//
//   - []Scored: The kept prefix.
//   - float64: Confidence of the kept prefix.
func Rank(scored []Scored, minGap float64, limit int) ([]Scored, float64) {
	SortByScore(scored)
	keep := GapCut(scored, minGap)
	if limit > 0 {
		keep = min(limit, keep)
	}
	ranked := scored[:keep]
	return ranked, Confidence(ranked)
}
