// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	counterUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stacasset_aggregate_counter_updates_total",
		Help: "Value count changes applied by dimension and direction",
	}, []string{"dimension", "op"})

	rollupUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stacasset_aggregate_rollup_updates_total",
		Help: "Item and collection rollups rewritten",
	}, []string{"level"})

	driftDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stacasset_aggregate_drift_total",
		Help: "Derived rows found inconsistent with the live asset set",
	}, []string{"kind", "source"})

	rebuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stacasset_aggregate_rebuild_duration_seconds",
		Help:    "Duration of a full aggregate rebuild of one collection",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(
		counterUpdates,
		rollupUpdates,
		driftDetected,
		rebuildDuration,
	)
}
