// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package idrules derives ID prefixes from a static rule table and allocates
// sequential IDs.
package idrules

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/columns"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

//go:embed id_rules.yaml
var defaultRulesYAML []byte

var tracer = otel.Tracer("cram.idrules")

// seqDigits is the zero-padded width of the sequence part.
const seqDigits = 3

// digitsRe finds the first digit run after a prefix.
var digitsRe = regexp.MustCompile(`\d+`)

// TitleRule refines a subject rule by title keywords.
type TitleRule struct {
	// TitleAny matches when any keyword is contained in the title.
	TitleAny []string `yaml:"title_any"`

	// Prefix is the refined prefix.
	Prefix string `yaml:"prefix"`
}

// Rule maps a subject to a prefix.
type Rule struct {
	// SubjectAny matches when any keyword is contained in the subject.
	SubjectAny []string `yaml:"subject_any"`

	// Prefix applies when no title rule matches.
	Prefix string `yaml:"prefix"`

	// TitleRules are tried in order before Prefix.
	TitleRules []TitleRule `yaml:"title_rules"`
}

// Table is an ordered prefix rule table.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Table struct {
	// Fallback applies when no rule matches.
	Fallback string `yaml:"fallback"`

	// BookIDLead is prepended to book prefixes ("g").
	BookIDLead string `yaml:"book_id_lead"`

	// Rules are tried top to bottom.
	Rules []Rule `yaml:"rules"`
}

// DefaultTable returns the embedded rule table.
//
// The embedded YAML is validated by tests, so a failure here is a build
// defect and panics.
func DefaultTable() Table {
	t, err := LoadTable(context.Background(), defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("idrules: embedded table: %v", err))
	}
	return *t
}

// LoadTable parses and validates a rule table from YAML.
//
// Description:
//
//	Missing fallback defaults to "MB" and missing lead to "g". Every rule
//	needs at least one subject keyword and a prefix.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes.
//
// Outputs:
//
//	*Table - The validated table.
//	error - Non-nil if parsing or validation fails.
func LoadTable(ctx context.Context, data []byte) (*Table, error) {
	_, span := tracer.Start(ctx, "idrules.LoadTable")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadTable: empty YAML data")
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("LoadTable: parsing YAML: %w", err)
	}
	if t.Fallback == "" {
		t.Fallback = "MB"
	}
	if t.BookIDLead == "" {
		t.BookIDLead = "g"
	}
	for i, r := range t.Rules {
		if len(r.SubjectAny) == 0 {
			return nil, fmt.Errorf("LoadTable: rules[%d]: subject_any must not be empty", i)
		}
		if r.Prefix == "" {
			return nil, fmt.Errorf("LoadTable: rules[%d]: prefix must not be empty", i)
		}
		for j, tr := range r.TitleRules {
			if tr.Prefix == "" || len(tr.TitleAny) == 0 {
				return nil, fmt.Errorf("LoadTable: rules[%d].title_rules[%d]: title_any and prefix are required", i, j)
			}
		}
	}

	span.SetAttributes(attribute.Int("rules", len(t.Rules)))
	slog.Debug("id rule table loaded", slog.Int("rules", len(t.Rules)))
	return &t, nil
}

// DecidePrefix returns the subject code for a subject and title.
//
// Both are normalized (trim, lower-case, NFKC, no whitespace) before
// substring matching.
func (t Table) DecidePrefix(subject, title string) string {
	s := columns.HeaderKey(subject)
	ti := columns.HeaderKey(title)
	for _, r := range t.Rules {
		if !containsAny(s, r.SubjectAny) {
			continue
		}
		for _, tr := range r.TitleRules {
			if containsAny(ti, tr.TitleAny) {
				return tr.Prefix
			}
		}
		return r.Prefix
	}
	return t.Fallback
}

// BookPrefix returns the full book ID prefix, e.g. "gEC".
func (t Table) BookPrefix(subject, title string) string {
	return t.BookIDLead + t.DecidePrefix(subject, title)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if k := columns.HeaderKey(kw); k != "" && strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// NextID returns prefix followed by the highest existing sequence plus one,
// zero-padded to three digits.
//
// Only ids starting with prefix count; the sequence is the first digit run
// after the prefix. The result depends on ids alone, so re-reading the same
// ids yields the same answer.
func NextID(prefix string, ids []string) string {
	maxSeq := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || !strings.HasPrefix(id, prefix) {
			continue
		}
		m := digitsRe.FindString(id[len(prefix):])
		if m == "" {
			continue
		}
		if n, err := strconv.Atoi(m); err == nil && n > maxSeq {
			maxSeq = n
		}
	}
	return fmt.Sprintf("%s%0*d", prefix, seqDigits, maxSeq+1)
}
