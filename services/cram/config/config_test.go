// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Backend.Kind)
	assert.Equal(t, "参考書マスター", cfg.Sources.BooksSheet)
	assert.Equal(t, "週間管理", cfg.Sources.PlannerWeeklySheet)
	assert.Equal(t, []string{"週間計画", "週刊計画", "週刊管理"}, cfg.Sources.PlannerWeeklyAlternates)
	assert.Equal(t, "月間管理", cfg.Sources.PlannerMonthlySheet)
	assert.Equal(t, 300*time.Second, cfg.Confirm.TokenTTL)
	assert.False(t, cfg.Features.EnableFindDebug)
	assert.False(t, cfg.Features.EnableTableRead)
	assert.InDelta(t, 0.05, cfg.Search.MinGap, 1e-9)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Contains(t, cfg.Search.StopWords, "問題集")
	assert.Contains(t, cfg.Columns.Books["id"], "参考書ID")
	assert.Contains(t, cfg.Columns.Students["planner"], "スピードプランナーID")
}

func TestLoad_OverlayMergesColumns(t *testing.T) {
	data := []byte(`
server:
  port: 9090
columns:
  books:
    title: [書籍名]
`)
	cfg, err := Load(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"書籍名"}, cfg.Columns.Books["title"])
	assert.Contains(t, cfg.Columns.Books["id"], "参考書ID", "untouched keys keep their defaults")
	assert.Equal(t, 40, cfg.Server.RateLimitBurst)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad backend", "backend:\n  kind: ftp\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"gcs without bucket", "backend:\n  kind: gcs\n"},
		{"s3 without bucket", "backend:\n  kind: s3\n"},
		{"s3 bad endpoint", "backend:\n  kind: s3\n  bucket: b\n  endpoint: not a url\n"},
		{"zero ttl", "confirm:\n  token_ttl: 0s\n"},
		{"gap out of range", "search:\n  min_gap: 1.5\n"},
		{"malformed", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), []byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_TooLarge(t *testing.T) {
	_, err := Load(context.Background(), make([]byte, MaxYAMLFileSize+1))
	assert.ErrorContains(t, err, "exceeds maximum size")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cram.yaml")
	require.NoError(t, os.WriteFile(path, []byte("features:\n  enable_table_read: true\n"), 0o600))

	cfg, err := LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, cfg.Features.EnableTableRead)

	_, err = LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// =============================================================================
// Environment
// =============================================================================

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, envMap(map[string]string{
		EnvBackend:         "local",
		EnvDataDir:         "/srv/cram",
		EnvPort:            "9000",
		EnvAPIKey:          "secret",
		EnvTokenTTL:        "90s",
		EnvEnableFindDebug: "ON",
		EnvEnableTableRead: "yes",
	}))
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Backend.Kind)
	assert.Equal(t, "/srv/cram", cfg.Backend.Dir)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Confirm.TokenTTL)
	assert.True(t, cfg.Features.EnableFindDebug)
	assert.True(t, cfg.Features.EnableTableRead)
}

func TestApplyEnv_Errors(t *testing.T) {
	assert.Error(t, ApplyEnv(Default(), envMap(map[string]string{EnvPort: "http"})))
	assert.Error(t, ApplyEnv(Default(), envMap(map[string]string{EnvTokenTTL: "soon"})))
	assert.Error(t, ApplyEnv(Default(), envMap(map[string]string{EnvBackend: "ftp"})))
}

func TestApplyEnv_S3(t *testing.T) {
	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, envMap(map[string]string{
		EnvBackend:    "s3",
		EnvBucket:     "cram-data",
		EnvS3Endpoint: "http://localhost:9000",
	})))
	assert.Equal(t, "s3", cfg.Backend.Kind)
	assert.Equal(t, "cram-data", cfg.Backend.Bucket)
	assert.Equal(t, "http://localhost:9000", cfg.Backend.Endpoint)
}

func TestApplyEnv_EmptyLeavesValues(t *testing.T) {
	cfg := Default()
	cfg.Features.EnableTableRead = true
	require.NoError(t, ApplyEnv(cfg, envMap(nil)))
	assert.True(t, cfg.Features.EnableTableRead)
	assert.Equal(t, "memory", cfg.Backend.Kind)
}

func TestParseFlag(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "on", "Yes", " yes "} {
		assert.True(t, ParseFlag(v), v)
	}
	for _, v := range []string{"", "0", "false", "off", "no", "y"} {
		assert.False(t, ParseFlag(v), v)
	}
}

// =============================================================================
// Search Views
// =============================================================================

func TestSearchViews(t *testing.T) {
	cfg := Default()
	books := cfg.BookSearch()
	students := cfg.StudentSearch()

	assert.Contains(t, books.CategoryKeywords, "数学")
	assert.Contains(t, students.CategoryKeywords, "高2")
	assert.Equal(t, books.StopWords, students.StopWords)
	assert.Equal(t, 20, students.DefaultLimit)
	assert.True(t, books.SplitKanaJoiners)
}
