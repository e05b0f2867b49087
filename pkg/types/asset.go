// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"strings"

	"github.com/google/uuid"
)

// AssetKind distinguishes item assets from assets attached directly to a collection.
type AssetKind string

const (
	AssetKindItem       AssetKind = "item"
	AssetKindCollection AssetKind = "collection"
)

// Asset is a single data file of an item or a collection.
//
// FileSize follows the catalog convention: 0 means the size is unknown
// (not probed yet) and nil means the probe failed or the object is missing.
type Asset struct {
	ID           uuid.UUID  `json:"id"`
	CollectionID uuid.UUID  `json:"collection_id"`
	ItemID       *uuid.UUID `json:"item_id,omitempty"` // nil for collection assets
	Kind         AssetKind  `json:"kind"`
	Name         string     `json:"name"`

	File       string `json:"file,omitempty"` // object key, or URL for external assets
	FileSize   *int64 `json:"file_size"`
	Checksum   string `json:"checksum,omitempty"`
	ETag       string `json:"etag,omitempty"`
	IsExternal bool   `json:"is_external"`

	UpdateInterval int64 `json:"update_interval"`

	GSD      *float64 `json:"gsd,omitempty"`
	Lang     *string  `json:"lang,omitempty"`
	Variant  *string  `json:"variant,omitempty"`
	ProjEPSG *int64   `json:"proj_epsg,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// IsCollectionAsset reports whether the asset hangs directly off its collection.
func (a *Asset) IsCollectionAsset() bool {
	return a.ItemID == nil
}

// DataSize returns the number of bytes the asset contributes to total_data_size.
func (a *Asset) DataSize() int64 {
	if a == nil || a.FileSize == nil {
		return 0
	}
	return *a.FileSize
}

// Clone returns a deep copy, so callers can mutate the result without
// touching a stored row.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	if a.ItemID != nil {
		id := *a.ItemID
		c.ItemID = &id
	}
	if a.FileSize != nil {
		v := *a.FileSize
		c.FileSize = &v
	}
	if a.GSD != nil {
		v := *a.GSD
		c.GSD = &v
	}
	if a.Lang != nil {
		v := *a.Lang
		c.Lang = &v
	}
	if a.Variant != nil {
		v := *a.Variant
		c.Variant = &v
	}
	if a.ProjEPSG != nil {
		v := *a.ProjEPSG
		c.ProjEPSG = &v
	}
	return &c
}

// AssetRef addresses an asset by its catalog names. Item is empty for
// collection assets.
type AssetRef struct {
	Collection string `json:"collection"`
	Item       string `json:"item,omitempty"`
	Asset      string `json:"asset"`
}

// IsCollectionAsset reports whether the reference points at a collection asset.
func (r AssetRef) IsCollectionAsset() bool {
	return r.Item == ""
}

func (r AssetRef) String() string {
	parts := []string{r.Collection}
	if r.Item != "" {
		parts = append(parts, r.Item)
	}
	parts = append(parts, r.Asset)
	return strings.Join(parts, "/")
}
