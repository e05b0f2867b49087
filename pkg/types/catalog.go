// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"github.com/google/uuid"
)

// Collection is a top-level STAC collection. TotalDataSize and
// UpdateInterval are derived from its descendant assets.
type Collection struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	TotalDataSize  int64     `json:"total_data_size"`
	UpdateInterval int64     `json:"update_interval"`
	CreatedAt      int64     `json:"created_at"` // Unix nano timestamp
	UpdatedAt      int64     `json:"updated_at"` // Unix nano timestamp
}

// Item belongs to exactly one collection and owns its item assets.
type Item struct {
	ID             uuid.UUID `json:"id"`
	CollectionID   uuid.UUID `json:"collection_id"`
	Name           string    `json:"name"`
	TotalDataSize  int64     `json:"total_data_size"`
	UpdateInterval int64     `json:"update_interval"`
	CreatedAt      int64     `json:"created_at"`
	UpdatedAt      int64     `json:"updated_at"`
}
