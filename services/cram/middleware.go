// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cram

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// HeaderAPIKey carries the shared API key.
const HeaderAPIKey = "X-API-Key"

// ctxKeyRequestID is the gin context key of the request id.
const ctxKeyRequestID = "cram.request_id"

// RequestIDMiddleware reuses the caller's X-Request-ID or assigns one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	if id, ok := c.Get(ctxKeyRequestID); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// =============================================================================
// API Key
// =============================================================================

// APIKeyAuth checks X-API-Key against a key held in a memguard enclave.
//
// Thread Safety: Safe for concurrent use.
type APIKeyAuth struct {
	key *memguard.Enclave
}

// NewAPIKeyAuth seals key. The caller's copy of the key is wiped. Returns
// nil for an empty key, which disables the check.
func NewAPIKeyAuth(key []byte) *APIKeyAuth {
	if len(key) == 0 {
		return nil
	}
	return &APIKeyAuth{key: memguard.NewEnclave(key)}
}

// HealthPath is served without an API key.
const HealthPath = "/v1/cram/health"

// Middleware rejects requests without the key with 401.
func (a *APIKeyAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil || c.FullPath() == HealthPath {
			c.Next()
			return
		}
		if !a.valid(c.GetHeader(HeaderAPIKey)) {
			rejectedTotal.WithLabelValues("unauthorized").Inc()
			slog.Warn("request rejected: bad api key",
				slog.String("request_id", requestID(c)),
				slog.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				api.NG(c.Query("op"), api.CodeUnauthorized, "missing or invalid API key", nil))
			return
		}
		c.Next()
	}
}

func (a *APIKeyAuth) valid(got string) bool {
	if got == "" {
		return false
	}
	buf, err := a.key.Open()
	if err != nil {
		slog.Error("api key enclave could not be opened", slog.String("error", err.Error()))
		return false
	}
	defer buf.Destroy()
	return subtle.ConstantTimeCompare(buf.Bytes(), []byte(got)) == 1
}

// =============================================================================
// Rate Limiting
// =============================================================================

// clientIdleTTL is how long an idle client's limiter is kept.
const clientIdleTTL = 10 * time.Minute

// RateLimiter holds one token bucket per client IP.
//
// Thread Safety: Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
	now     func() time.Time
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter creates a limiter allowing rps sustained requests per
// client with the given burst. rps <= 0 returns nil, which disables it.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether client may proceed now.
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cl, ok := r.clients[client]
	if !ok {
		r.sweep(now)
		cl = &clientLimiter{lim: rate.NewLimiter(r.limit, r.burst)}
		r.clients[client] = cl
	}
	cl.seen = now
	return cl.lim.AllowN(now, 1)
}

// sweep drops idle clients. Callers hold mu.
func (r *RateLimiter) sweep(now time.Time) {
	for k, cl := range r.clients {
		if now.Sub(cl.seen) > clientIdleTTL {
			delete(r.clients, k)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil || r.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		rejectedTotal.WithLabelValues("rate_limited").Inc()
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests,
			api.NG(c.Query("op"), api.CodeRateLimited, "too many requests", nil))
	}
}
