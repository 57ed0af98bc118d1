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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// opsTotal counts executed operations by op and envelope code.
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cram",
		Name:      "ops_total",
		Help:      "Operations executed, by op and result code (OK on success).",
	}, []string{"op", "code"})

	// opDuration tracks operation latency including sheet I/O.
	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cram",
		Name:      "op_duration_seconds",
		Help:      "Operation latency in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"op"})

	// findCandidates tracks how many candidates each find returns.
	findCandidates = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cram",
		Name:      "find_candidates",
		Help:      "Candidates returned per find, by entity.",
		Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
	}, []string{"entity"})

	// rejectedTotal counts requests refused before dispatch.
	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cram",
		Name:      "rejected_total",
		Help:      "Requests rejected by middleware, by reason.",
	}, []string{"reason"})
)

// ObserveFind records the candidate count of one find. It is passed to the
// books and students services.
func ObserveFind(entity string, n int) {
	findCandidates.WithLabelValues(entity).Observe(float64(n))
}
