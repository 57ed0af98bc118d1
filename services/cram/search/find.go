// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements the fuzzy, IDF-weighted record matcher behind
// books.find and students.find.
//
// Everything here is a pure function of its inputs. A Find call tokenizes
// the query and every candidate, builds a fresh document-frequency Index,
// scores each candidate through ordered match tiers plus bonuses, and cuts
// the ranked list at the first natural score gap.
package search

// DefaultStopWords are generic study-material suffixes that carry no signal.
var DefaultStopWords = []string{
	"問題集", "入試", "演習", "講座", "ノート", "完全", "総合", "実戦", "実践",
}

// DefaultCategoryKeywords are the subject names that earn the category bonus.
var DefaultCategoryKeywords = []string{
	"現代文", "古文", "漢文", "古文漢文", "英語", "数学", "化学", "化学基礎",
	"物理", "生物", "生物基礎", "日本史", "世界史", "地理", "地学",
}

// DefaultLimit caps find results when the caller gives no limit.
const DefaultLimit = 20

// Config is the explicit configuration of one find call.
type Config struct {
	// StopWords are dropped by the tokenizer.
	StopWords []string

	// CategoryKeywords enable the category bonus when found in the query.
	CategoryKeywords []string

	// MinGap is the score drop that ends the ranked list.
	MinGap float64

	// DefaultLimit applies when the caller passes no positive limit.
	// Zero means unlimited.
	DefaultLimit int

	// SplitKanaJoiners splits kanji-hiragana-kanji compounds.
	SplitKanaJoiners bool
}

// DefaultConfig returns the stock find configuration.
func DefaultConfig() Config {
	return Config{
		StopWords:        DefaultStopWords,
		CategoryKeywords: DefaultCategoryKeywords,
		MinGap:           DefaultMinGap,
		DefaultLimit:     DefaultLimit,
		SplitKanaJoiners: true,
	}
}

// Result is the outcome of Find.
type Result struct {
	Query      string   `json:"query"`
	Candidates []Scored `json:"candidates"`
	Top        *Scored  `json:"top"`
	Confidence float64  `json:"confidence"`
}

// Find ranks cands against query.
//
// # Description
//
// Builds the DF Index over cands, scores every candidate, drops those with
// no matching tier, then sorts stably, cuts at the first gap of cfg.MinGap
// and applies the limit. Ties keep the order of cands.
//
// # Inputs
//
//   - query: Raw query text. Echoed unchanged in Result.Query.
//   - cands: Candidates in row encounter order.
//   - cfg: Find configuration.
//   - limit: Result cap. Zero or negative falls back to cfg.DefaultLimit.
//
// # Outputs
//
//   - Result: Candidates is never nil. Top is nil and Confidence 0 when
//     nothing matched.
//
// # Thread Safety
//
// Pure function, safe for concurrent use.
func Find(query string, cands []Candidate, cfg Config, limit int) Result {
	res := Result{Query: query, Candidates: []Scored{}}
	if len(cands) == 0 {
		return res
	}

	tok := NewTokenizer(cfg.StopWords, cfg.SplitKanaJoiners)
	idx := BuildIndex(tok, cands)
	scorer := NewScorer(tok, idx, query, cfg.CategoryKeywords)

	scored := make([]Scored, 0, len(cands))
	for _, c := range cands {
		if s := scorer.Score(c); s.Score > 0 {
			scored = append(scored, s)
		}
	}

	if limit <= 0 {
		limit = cfg.DefaultLimit
	}
	minGap := cfg.MinGap
	if minGap <= 0 {
		minGap = DefaultMinGap
	}
	ranked, confidence := Rank(scored, minGap, limit)

	res.Candidates = ranked
	res.Confidence = confidence
	if len(ranked) > 0 {
		top := ranked[0]
		res.Top = &top
	}
	return res
}
