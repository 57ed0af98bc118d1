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
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// kanaJoiner matches a 1-2 rune hiragana run between two kanji, as in
	// 軌跡と領域. The hiragana is replaced by a boundary.
	kanaJoiner = regexp.MustCompile(`([一-龯々])[ぁ-ん]{1,2}([一-龯々])`)

	// tokenBoundary matches runs that are neither ASCII word characters nor
	// kanji, hiragana or katakana.
	tokenBoundary = regexp.MustCompile(`[^0-9A-Za-z_一-龯々ぁ-んァ-ヶー]+`)
)

// minTokenRunes is the shortest token kept.
const minTokenRunes = 2

// Tokenizer splits text into matching tokens.
//
// Thread Safety: immutable after NewTokenizer, safe for concurrent use.
type Tokenizer struct {
	stop         map[string]struct{}
	splitJoiners bool
}

// NewTokenizer builds a Tokenizer dropping the given stop-words.
//
// When splitJoiners is true a short hiragana run between two kanji is
// treated as a token boundary.
func NewTokenizer(stopWords []string, splitJoiners bool) *Tokenizer {
	stop := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		stop[strings.ToLower(norm.NFKC.String(w))] = struct{}{}
	}
	return &Tokenizer{stop: stop, splitJoiners: splitJoiners}
}

// Tokenize returns the tokens of s in order, duplicates retained.
//
// Glyphs are unified and NFKC applied as in Normalize, but whitespace is kept
// until the split so word boundaries survive. Tokens shorter than two runes
// and stop-words are dropped.
func (t *Tokenizer) Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	s = norm.NFKC.String(UnifyGlyphs(s))
	if t.splitJoiners {
		s = kanaJoiner.ReplaceAllString(s, "$1 $2")
	}
	s = strings.ToLower(s)

	var tokens []string
	for _, part := range tokenBoundary.Split(s, -1) {
		if utf8.RuneCountInString(part) < minTokenRunes {
			continue
		}
		if _, stop := t.stop[part]; stop {
			continue
		}
		tokens = append(tokens, part)
	}
	return tokens
}

// TokenSet returns the distinct tokens of s.
func (t *Tokenizer) TokenSet(s string) map[string]struct{} {
	toks := t.Tokenize(s)
	set := make(map[string]struct{}, len(toks))
	for _, tok := range toks {
		set[tok] = struct{}{}
	}
	return set
}

// uniq returns toks with later duplicates removed, order preserved.
func uniq(toks []string) []string {
	seen := make(map[string]struct{}, len(toks))
	out := make([]string, 0, len(toks))
	for _, tok := range toks {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
