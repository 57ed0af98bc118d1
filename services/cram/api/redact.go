// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"regexp"
)

type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// redactionPatterns are applied in order, most specific first.
var redactionPatterns = []redactionPattern{
	// PEM private key blocks from service account files.
	{
		Pattern:     regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
		Replacement: "[REDACTED:private_key]",
	},
	// Google API key: AIza<base62, 30+ chars>
	{
		Pattern:     regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`),
		Replacement: "[REDACTED:google_key]",
	},
	// Google OAuth access token: ya29.<...>
	{
		Pattern:     regexp.MustCompile(`ya29\.[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:oauth_token]",
	},
	// Bearer token in Authorization header values
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	// Credentials in URL query parameters
	{
		Pattern:     regexp.MustCompile(`(key|access_token|api_key)=[A-Za-z0-9._-]{10,}`),
		Replacement: "${1}=[REDACTED]",
	},
}

// Redact removes known secret patterns from s.
//
// Description:
//
//	Backend errors are reported to callers verbatim in the envelope
//	message and logged. Google client errors can echo request URLs and
//	headers, so every CodeError message passes through Redact first. Each
//	match is replaced with a labeled placeholder such as
//	[REDACTED:google_key].
//
// Limitations:
//   - Pattern-based only. Secrets in unknown formats pass through.
//
// Thread Safety: This function is safe for concurrent use.
func Redact(s string) string {
	if s == "" {
		return s
	}
	for _, p := range redactionPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}
