// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the CRAM service configuration.
//
// Layers are applied once at process start: embedded defaults, an optional
// YAML file, then CRAM_* environment overrides. The result is immutable and
// passed explicitly to every service; nothing below the boundary reads the
// environment.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/columns"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/search"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed defaults.yaml
var defaultsYAML []byte

// MaxYAMLFileSize bounds config files read from disk.
const MaxYAMLFileSize = 1 << 20

var tracer = otel.Tracer("cram.config")

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the complete service configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Sources  SourcesConfig  `yaml:"sources"`
	Confirm  ConfirmConfig  `yaml:"confirm"`
	Features FeatureFlags   `yaml:"features"`
	Search   SearchConfig   `yaml:"search"`
	Columns  ColumnsConfig  `yaml:"columns"`
	IDRules  *IDRulesConfig `yaml:"id_rules,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the TCP port to listen on.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// RateLimitRPS is the sustained request rate per client. Zero disables
	// rate limiting.
	RateLimitRPS float64 `yaml:"rate_limit_rps" validate:"gte=0"`

	// RateLimitBurst is the token bucket size.
	RateLimitBurst int `yaml:"rate_limit_burst" validate:"gte=0"`

	// Debug switches gin to debug mode and enables stdout tracing.
	Debug bool `yaml:"debug"`

	// APIKey, when set, is required in the X-API-Key header. Only read from
	// the environment.
	APIKey string `yaml:"-"`
}

// BackendConfig selects the workbook backend.
type BackendConfig struct {
	// Kind is memory, local, gcs, s3 or google.
	Kind string `yaml:"kind" validate:"oneof=memory local gcs s3 google"`

	// Dir is the root directory of the local backend.
	Dir string `yaml:"dir" validate:"required_if=Kind local"`

	// Bucket is the bucket of the gcs and s3 backends.
	Bucket string `yaml:"bucket" validate:"required_if=Kind gcs,required_if=Kind s3"`

	// Prefix is prepended to object names in the gcs and s3 backends.
	Prefix string `yaml:"prefix"`

	// Region overrides the AWS region of the s3 backend.
	Region string `yaml:"region"`

	// Endpoint points the s3 backend at an S3-compatible server such as
	// MinIO. Path-style addressing is used when set.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`

	// CredentialsFile is a service account key for gcs and google. Empty
	// uses application default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// SourcesConfig names the spreadsheets and sheets each entity lives in.
type SourcesConfig struct {
	BooksFileID             string   `yaml:"books_file_id" validate:"required"`
	BooksSheet              string   `yaml:"books_sheet"`
	StudentsFileID          string   `yaml:"students_file_id" validate:"required"`
	StudentsSheet           string   `yaml:"students_sheet"`
	PlannerWeeklySheet      string   `yaml:"planner_weekly_sheet" validate:"required"`
	PlannerWeeklyAlternates []string `yaml:"planner_weekly_alternates"`
	PlannerMonthlySheet     string   `yaml:"planner_monthly_sheet" validate:"required"`
}

// ConfirmConfig configures the preview/confirm token store.
type ConfirmConfig struct {
	// TokenTTL is how long a preview stays confirmable.
	TokenTTL time.Duration `yaml:"token_ttl" validate:"gt=0"`

	// StorePath is the BadgerDB directory. Empty means in-memory.
	StorePath string `yaml:"store_path"`
}

// FeatureFlags toggle optional behavior.
type FeatureFlags struct {
	// EnableFindDebug logs the top candidates of every find.
	EnableFindDebug bool `yaml:"enable_find_debug"`

	// EnableTableRead exposes the raw table.read operation.
	EnableTableRead bool `yaml:"enable_table_read"`
}

// SearchConfig holds the find tables.
type SearchConfig struct {
	MinGap                  float64  `yaml:"min_gap" validate:"gt=0,lt=1"`
	DefaultLimit            int      `yaml:"default_limit" validate:"gte=0"`
	SplitKanaJoiners        bool     `yaml:"split_kana_joiners"`
	StopWords               []string `yaml:"stop_words"`
	BookCategoryKeywords    []string `yaml:"book_category_keywords"`
	StudentCategoryKeywords []string `yaml:"student_category_keywords"`
}

// ColumnsConfig holds header alias tables per entity.
type ColumnsConfig struct {
	Books    columns.Aliases `yaml:"books" validate:"required"`
	Students columns.Aliases `yaml:"students" validate:"required"`
}

// IDRulesConfig optionally replaces the embedded ID prefix table.
type IDRulesConfig struct {
	// File is a YAML rule table path.
	File string `yaml:"file"`
}

// BookSearch returns the search core configuration for books.find.
func (c *Config) BookSearch() search.Config {
	return search.Config{
		StopWords:        c.Search.StopWords,
		CategoryKeywords: c.Search.BookCategoryKeywords,
		MinGap:           c.Search.MinGap,
		DefaultLimit:     c.Search.DefaultLimit,
		SplitKanaJoiners: c.Search.SplitKanaJoiners,
	}
}

// StudentSearch returns the search core configuration for students.find.
func (c *Config) StudentSearch() search.Config {
	cfg := c.BookSearch()
	cfg.CategoryKeywords = c.Search.StudentCategoryKeywords
	return cfg
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the embedded defaults.
//
// The embedded YAML is covered by tests; a failure here is a build defect.
func Default() *Config {
	cfg, err := Load(context.Background(), nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load parses data over the embedded defaults and validates the result.
//
// Description:
//
//	Keys present in data replace the defaults; absent keys keep them. Maps
//	such as column alias tables merge per key. Empty data yields the
//	defaults.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Optional YAML overlay.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func Load(ctx context.Context, data []byte) (*Config, error) {
	_, span := tracer.Start(ctx, "config.Load")
	defer span.End()

	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("Load: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("Load: parsing defaults: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("Load: parsing YAML: %w", err)
		}
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("Load: validation: %w", err)
	}

	span.SetAttributes(
		attribute.String("backend", cfg.Backend.Kind),
		attribute.Int("port", cfg.Server.Port),
	)
	return &cfg, nil
}

// LoadFile loads path (optional) over the defaults and applies the
// environment.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	var data []byte
	if path != "" {
		st, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("LoadFile: %w", err)
		}
		if st.Size() > MaxYAMLFileSize {
			return nil, fmt.Errorf("LoadFile: %s exceeds maximum size (%d > %d)", path, st.Size(), MaxYAMLFileSize)
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("LoadFile: %w", err)
		}
	}
	cfg, err := Load(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		slog.String("path", path),
		slog.String("backend", cfg.Backend.Kind),
		slog.Int("port", cfg.Server.Port),
		slog.Bool("find_debug", cfg.Features.EnableFindDebug),
		slog.Bool("table_read", cfg.Features.EnableTableRead),
	)
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}
