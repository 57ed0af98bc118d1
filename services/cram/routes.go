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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all CRAM routes with the router.
//
// Description:
//
//	Registers the /v1/cram/* endpoints with the given Gin router group.
//	The router group should already have request id, auth and rate
//	limiting middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/cram/exec - Run the op named in the JSON body
//	GET  /v1/cram/exec - Run the op named in the query string
//
// Health Endpoints:
//
//	GET  /v1/cram/health - Service health
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	g := rg.Group("/cram")
	g.POST("/exec", handlers.HandleExecPost)
	g.GET("/exec", handlers.HandleExecGet)
	g.GET("/health", handlers.HandleHealth)
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Auth may be nil to disable API key checks.
	Auth *APIKeyAuth

	// Limiter may be nil to disable rate limiting.
	Limiter *RateLimiter

	// Middleware runs first, e.g. otelgin.
	Middleware []gin.HandlerFunc
}

// NewRouter builds the engine: recovery, caller middleware, request ids,
// then /metrics outside and /v1/cram behind auth and rate limiting.
func NewRouter(handlers *Handlers, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(opts.Middleware...)
	router.Use(RequestIDMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(opts.Limiter.Middleware(), opts.Auth.Middleware())
	RegisterRoutes(v1, handlers)
	return router
}
