// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

const (
	// IntervalUnknown marks data that never expires or whose cadence is unknown.
	IntervalUnknown int64 = -1
	// IntervalAlwaysStale marks data that must always be considered stale.
	IntervalAlwaysStale int64 = 0
)

// ValidInterval reports whether v is an acceptable update_interval.
func ValidInterval(v int64) bool {
	return v >= IntervalUnknown
}

// MinInterval rolls up child intervals. IntervalUnknown only wins when no
// child has a bounded interval; an empty input is IntervalUnknown.
func MinInterval(values ...int64) int64 {
	result := IntervalUnknown
	for _, v := range values {
		if v == IntervalUnknown {
			continue
		}
		if result == IntervalUnknown || v < result {
			result = v
		}
	}
	return result
}

// Rollup holds the values an item or collection derives from its children.
type Rollup struct {
	TotalDataSize  int64 `json:"total_data_size"`
	UpdateInterval int64 `json:"update_interval"`
}
