// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var probed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "stacasset_probe_assets_total",
	Help: "Assets visited by the size probe, by outcome",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(probed)
}
