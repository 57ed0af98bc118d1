// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package columns resolves sheet header rows into fixed column indices.
//
// Headers are matched by key, not by position, so renamed or reordered
// columns keep working as long as one of a field's aliases is present.
// Resolution happens once per call; row readers only ever see indices.
package columns

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Missing is the index of an unresolved column.
const Missing = -1

// HeaderKey normalizes a header for comparison: trim, lower-case, NFKC and
// whitespace removal.
func HeaderKey(s string) string {
	s = norm.NFKC.String(strings.ToLower(strings.TrimSpace(s)))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Pick returns the index of the first candidate present in headers.
//
// Candidates are tried in order, so earlier aliases take precedence over
// earlier columns. Returns Missing when none matches.
func Pick(headers []string, candidates ...string) int {
	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = HeaderKey(h)
	}
	for _, c := range candidates {
		want := HeaderKey(c)
		for i, k := range keys {
			if k == want {
				return i
			}
		}
	}
	return Missing
}

// PickContaining is Pick with a substring fallback: when no header equals a
// candidate, the first header containing one is used.
func PickContaining(headers []string, candidates ...string) int {
	if i := Pick(headers, candidates...); i != Missing {
		return i
	}
	for _, c := range candidates {
		want := HeaderKey(c)
		if want == "" {
			continue
		}
		for i, h := range headers {
			if strings.Contains(HeaderKey(h), want) {
				return i
			}
		}
	}
	return Missing
}

// Aliases maps a logical field to its accepted header names.
type Aliases map[string][]string

// Index is a resolved field-to-column table.
type Index struct {
	headers []string
	cols    map[string]int
}

// Resolve picks a column for every field in aliases.
func Resolve(headers []string, aliases Aliases) Index {
	ix := Index{headers: headers, cols: make(map[string]int, len(aliases))}
	for field, names := range aliases {
		ix.cols[field] = Pick(headers, names...)
	}
	return ix
}

// Col returns the column of field, or Missing.
func (ix Index) Col(field string) int {
	if c, ok := ix.cols[field]; ok {
		return c
	}
	return Missing
}

// Has reports whether field resolved to a column.
func (ix Index) Has(field string) bool { return ix.Col(field) != Missing }

// MissingOf returns the fields among required that did not resolve.
func (ix Index) MissingOf(required ...string) []string {
	var out []string
	for _, f := range required {
		if !ix.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Headers returns the header row the index was resolved from.
func (ix Index) Headers() []string { return ix.headers }

// Width returns the number of header columns.
func (ix Index) Width() int { return len(ix.headers) }

// Lookup resolves an arbitrary caller-supplied column name.
//
// The name is first matched as a field with aliases, then as a raw header.
func (ix Index) Lookup(name string, aliases Aliases) int {
	if names, ok := aliases[name]; ok {
		if c := Pick(ix.headers, append([]string{name}, names...)...); c != Missing {
			return c
		}
	}
	return Pick(ix.headers, name)
}

// Get returns the trimmed cell of field in row, or "".
func (ix Index) Get(row []string, field string) string {
	c := ix.Col(field)
	if c < 0 || c >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[c])
}

// Set writes value into row at field's column, growing row to the header
// width when needed. Unresolved fields are ignored.
func (ix Index) Set(row []string, field, value string) []string {
	c := ix.Col(field)
	if c < 0 {
		return row
	}
	if len(row) < max(c+1, len(ix.headers)) {
		grown := make([]string, max(c+1, len(ix.headers)))
		copy(grown, row)
		row = grown
	}
	row[c] = value
	return row
}

// NewRow returns an empty row of header width.
func (ix Index) NewRow() []string { return make([]string, len(ix.headers)) }
