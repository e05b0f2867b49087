// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stacasset_upload_transitions_total",
		Help: "Upload session state transitions by target status and mode",
	}, []string{"status", "mode"})

	rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stacasset_upload_rejections_total",
		Help: "Upload operations rejected by error code",
	}, []string{"op", "code"})

	backendCleanupFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stacasset_upload_backend_cleanup_failures_total",
		Help: "Best-effort backend calls that failed and were ignored",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		transitions,
		rejections,
		backendCleanupFailures,
	)
}

// observe counts a rejected operation and returns err unchanged.
func observe(op string, err error) error {
	if err != nil {
		rejections.WithLabelValues(op, CodeOf(err).String()).Inc()
	}
	return err
}
