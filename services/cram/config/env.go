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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variables recognized by ApplyEnv.
const (
	EnvBackend         = "CRAM_BACKEND"
	EnvDataDir         = "CRAM_DATA_DIR"
	EnvBucket          = "CRAM_BUCKET"
	EnvS3Endpoint      = "CRAM_S3_ENDPOINT"
	EnvCredentials     = "CRAM_CREDENTIALS_FILE"
	EnvPort            = "CRAM_PORT"
	EnvAPIKey          = "CRAM_API_KEY"
	EnvBooksFileID     = "CRAM_BOOKS_FILE_ID"
	EnvStudentsFileID  = "CRAM_STUDENTS_FILE_ID"
	EnvTokenTTL        = "CRAM_TOKEN_TTL"
	EnvTokenStore      = "CRAM_TOKEN_STORE"
	EnvEnableFindDebug = "CRAM_ENABLE_FIND_DEBUG"
	EnvEnableTableRead = "CRAM_ENABLE_TABLE_READ"
)

// ApplyEnv overlays environment variables onto cfg and re-validates it.
//
// Description:
//
//	getenv is injected so tests never touch the process environment. Unset
//	or empty variables leave the current value alone.
//
// Inputs:
//
//	cfg - Configuration to modify in place.
//	getenv - Variable lookup, usually os.Getenv.
//
// Outputs:
//
//	error - Non-nil if a value does not parse or the result is invalid.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	str(EnvBackend, &cfg.Backend.Kind)
	str(EnvDataDir, &cfg.Backend.Dir)
	str(EnvBucket, &cfg.Backend.Bucket)
	str(EnvS3Endpoint, &cfg.Backend.Endpoint)
	str(EnvCredentials, &cfg.Backend.CredentialsFile)
	str(EnvAPIKey, &cfg.Server.APIKey)
	str(EnvBooksFileID, &cfg.Sources.BooksFileID)
	str(EnvStudentsFileID, &cfg.Sources.StudentsFileID)
	str(EnvTokenStore, &cfg.Confirm.StorePath)

	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ApplyEnv: %s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}
	if v := strings.TrimSpace(getenv(EnvTokenTTL)); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ApplyEnv: %s: %w", EnvTokenTTL, err)
		}
		cfg.Confirm.TokenTTL = ttl
	}
	if v := getenv(EnvEnableFindDebug); v != "" {
		cfg.Features.EnableFindDebug = ParseFlag(v)
	}
	if v := getenv(EnvEnableTableRead); v != "" {
		cfg.Features.EnableTableRead = ParseFlag(v)
	}

	if err := Validate(cfg); err != nil {
		return fmt.Errorf("ApplyEnv: validation: %w", err)
	}
	return nil
}

// ParseFlag reports whether v is one of true, 1, on or yes, ignoring case.
func ParseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "on", "yes":
		return true
	}
	return false
}
