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
	"strings"
	"unicode/utf8"
)

// Reason tags the tier that produced a candidate's base score.
type Reason string

// Match tiers in evaluation order.
const (
	ReasonExact              Reason = "exact"
	ReasonPhrase             Reason = "phrase"
	ReasonPartialTarget      Reason = "partial_target"
	ReasonCoverageQueryTitle Reason = "coverage_q_in_title"
	ReasonCoverageTitleQuery Reason = "coverage_title_in_q"
	ReasonFuzzyPrefix        Reason = "fuzzy3"
	ReasonNone               Reason = ""
)

// Tier base scores.
const (
	baseExact         = 1.0
	basePhrase        = 0.95
	basePartialTarget = 0.90
	baseCoverageFwd   = 0.80
	baseCoverageRev   = 0.78
	baseFuzzyPrefix   = 0.72

	// minReverseCoverage is the covRev threshold for the title-in-query tier.
	minReverseCoverage = 0.6

	// fuzzyPrefixRunes is the query prefix length for the fuzzy tier.
	fuzzyPrefixRunes = 3

	coverageBonusMax = 0.12
	prefixBonus      = 0.02
	categoryBonus    = 0.02

	// minHayRunes drops one-rune fields from exact and substring tiers.
	minHayRunes = 2
)

// Candidate is one entity offered to the scorer.
type Candidate struct {
	// Key is the entity's primary key (book id, student id).
	Key string

	// Primary is the title or name.
	Primary string

	// Category is the subject or grade.
	Category string

	// Aliases are alternative titles.
	Aliases []string
}

// Scored is a candidate with its final score.
type Scored struct {
	Key      string  `json:"key"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	Reason   Reason  `json:"reason"`
}

// Scorer evaluates candidates against one prepared query.
//
// # Description
//
// Tiers are tried in strict order and the first match sets the base score:
// exact field equality, phrase containment in title+aliases, containment in
// any field, forward IDF coverage, reverse IDF coverage, then a three-rune
// prefix. Bonuses are added only when a tier matched, and the total is
// capped at 1.
//
// # Thread Safety
//
// Immutable after NewScorer, safe for concurrent use.
type Scorer struct {
	tok    *Tokenizer
	idx    *Index
	q      string
	qToks  []string
	qSet   map[string]struct{}
	qIDF   float64
	prefix string

	// category is the normalized category keyword found among the query
	// tokens, or "" when none.
	category string
}

// NewScorer prepares query against idx.
//
// The first of categoryKeywords present among the query tokens enables the
// category bonus.
func NewScorer(tok *Tokenizer, idx *Index, query string, categoryKeywords []string) *Scorer {
	s := &Scorer{
		tok:   tok,
		idx:   idx,
		q:     Normalize(query),
		qToks: uniq(tok.Tokenize(query)),
	}
	s.qSet = make(map[string]struct{}, len(s.qToks))
	for _, t := range s.qToks {
		s.qSet[t] = struct{}{}
		s.qIDF += idx.IDF(t)
	}
	if s.qIDF == 0 {
		s.qIDF = 1
	}
	if utf8.RuneCountInString(s.q) >= fuzzyPrefixRunes {
		s.prefix = string([]rune(s.q)[:fuzzyPrefixRunes])
	}
	for _, kw := range categoryKeywords {
		if _, ok := s.qSet[strings.ToLower(kw)]; ok {
			s.category = Normalize(kw)
			break
		}
	}
	return s
}

// Query returns the normalized query.
func (s *Scorer) Query() string { return s.q }

// Score computes the bounded score of c.
//
// # Outputs
//
//   - Scored: Score in [0, 1]. Score 0 with ReasonNone means no tier
//     matched and the candidate must be excluded.
func (s *Scorer) Score(c Candidate) Scored {
	out := Scored{Key: c.Key, Title: c.Primary, Category: c.Category}
	if s.q == "" {
		return out
	}

	hay := make([]string, 0, 3+len(c.Aliases))
	for _, f := range append([]string{c.Key, c.Primary, c.Category}, c.Aliases...) {
		if n := Normalize(f); utf8.RuneCountInString(n) >= minHayRunes {
			hay = append(hay, n)
		}
	}

	doc := c.document()
	titleSet := s.tok.TokenSet(doc)
	covFwd := s.forwardCoverage(titleSet)
	covRev := s.reverseCoverage(titleSet)

	base, reason := s.tier(hay, Normalize(doc), covFwd, covRev)
	if reason == ReasonNone {
		return out
	}

	bonus := min(coverageBonusMax, coverageBonusMax*covFwd)
	if strings.HasPrefix(Normalize(c.Primary), s.q) {
		bonus += prefixBonus
	}
	if s.category != "" && Normalize(c.Category) == s.category {
		bonus += categoryBonus
	}

	out.Score = min(1, base+bonus)
	out.Reason = reason
	return out
}

// tier returns the first matching tier's base score.
func (s *Scorer) tier(hay []string, combined string, covFwd, covRev float64) (float64, Reason) {
	for _, h := range hay {
		if h == s.q {
			return baseExact, ReasonExact
		}
	}
	if strings.Contains(combined, s.q) {
		return basePhrase, ReasonPhrase
	}
	for _, h := range hay {
		if strings.Contains(h, s.q) {
			return basePartialTarget, ReasonPartialTarget
		}
	}
	if covFwd > 0 {
		return baseCoverageFwd, ReasonCoverageQueryTitle
	}
	if covRev >= minReverseCoverage {
		return baseCoverageRev, ReasonCoverageTitleQuery
	}
	if s.prefix != "" {
		for _, h := range hay {
			if strings.Contains(h, s.prefix) {
				return baseFuzzyPrefix, ReasonFuzzyPrefix
			}
		}
	}
	return 0, ReasonNone
}

// forwardCoverage is the IDF-weighted share of query tokens in the title set.
func (s *Scorer) forwardCoverage(titleSet map[string]struct{}) float64 {
	var hit float64
	for _, t := range s.qToks {
		if _, ok := titleSet[t]; ok {
			hit += s.idx.IDF(t)
		}
	}
	return hit / s.qIDF
}

// reverseCoverage is the IDF-weighted share of title tokens in the query.
func (s *Scorer) reverseCoverage(titleSet map[string]struct{}) float64 {
	var total, hit float64
	for t := range titleSet {
		w := s.idx.IDF(t)
		total += w
		if _, ok := s.qSet[t]; ok {
			hit += w
		}
	}
	if total == 0 {
		total = 1
	}
	return hit / total
}
