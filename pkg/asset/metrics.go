// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	guardRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stacasset_asset_delete_conflicts_total",
		Help: "Deletes rejected because an upload was in progress",
	})

	remoteDeletes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stacasset_asset_object_deletes_total",
		Help: "Stored object deletes issued after asset deletion, by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(guardRejections, remoteDeletes)
}
