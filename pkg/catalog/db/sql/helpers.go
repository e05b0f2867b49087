// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"database/sql"
	"fmt"

	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
)

const collectionColumns = `id, name, total_data_size, update_interval, created_at, updated_at`

const itemColumns = `id, collection_id, name, total_data_size, update_interval, created_at, updated_at`

const assetColumns = `id, collection_id, item_id, kind, name, file, file_size, checksum, etag, is_external,
       update_interval, gsd, lang, variant, proj_epsg, created_at, updated_at`

const uploadColumns = `id, asset_id, upload_id, status, mode, bucket, object_key, number_parts,
       file_size, checksum, content_encoding, created_at, ended_at`

// ============================================================================
// Row Scanning
// ============================================================================

func scanCollection(s scanner) (*types.Collection, error) {
	var c types.Collection
	var idStr string
	if err := s.Scan(&idStr, &c.Name, &c.TotalDataSize, &c.UpdateInterval, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse collection id: %w", err)
	}
	c.ID = id
	return &c, nil
}

func scanItem(s scanner) (*types.Item, error) {
	var item types.Item
	var idStr, collStr string
	if err := s.Scan(&idStr, &collStr, &item.Name, &item.TotalDataSize, &item.UpdateInterval, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if item.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse item id: %w", err)
	}
	if item.CollectionID, err = uuid.Parse(collStr); err != nil {
		return nil, fmt.Errorf("parse collection id: %w", err)
	}
	return &item, nil
}

// scanAsset scans a single asset row. The dialect determines how is_external is scanned.
func scanAsset(s scanner, dialect Dialect) (*types.Asset, error) {
	var a types.Asset
	var idStr, collStr string
	var itemStr sql.NullString
	var kind string
	var fileSize, projEPSG sql.NullInt64
	var gsd sql.NullFloat64
	var lang, variant sql.NullString

	isExternal := dialect.ScanBool()

	err := s.Scan(
		&idStr,
		&collStr,
		&itemStr,
		&kind,
		&a.Name,
		&a.File,
		&fileSize,
		&a.Checksum,
		&a.ETag,
		isExternal.Dest(),
		&a.UpdateInterval,
		&gsd,
		&lang,
		&variant,
		&projEPSG,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if a.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse asset id: %w", err)
	}
	if a.CollectionID, err = uuid.Parse(collStr); err != nil {
		return nil, fmt.Errorf("parse collection id: %w", err)
	}
	if itemStr.Valid {
		itemID, err := uuid.Parse(itemStr.String)
		if err != nil {
			return nil, fmt.Errorf("parse item id: %w", err)
		}
		a.ItemID = &itemID
	}
	a.Kind = types.AssetKind(kind)
	a.IsExternal = isExternal.Value()
	a.FileSize = int64Ptr(fileSize)
	a.ProjEPSG = int64Ptr(projEPSG)
	if gsd.Valid {
		v := gsd.Float64
		a.GSD = &v
	}
	a.Lang = stringPtr(lang)
	a.Variant = stringPtr(variant)
	return &a, nil
}

func scanUpload(s scanner) (*types.AssetUpload, error) {
	var u types.AssetUpload
	var idStr, assetStr, status, mode string
	err := s.Scan(
		&idStr,
		&assetStr,
		&u.UploadID,
		&status,
		&mode,
		&u.Bucket,
		&u.Key,
		&u.NumberParts,
		&u.FileSize,
		&u.Checksum,
		&u.ContentEncoding,
		&u.CreatedAt,
		&u.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	if u.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse upload id: %w", err)
	}
	if u.AssetID, err = uuid.Parse(assetStr); err != nil {
		return nil, fmt.Errorf("parse asset id: %w", err)
	}
	u.Status = types.UploadStatus(status)
	u.Mode = types.UploadMode(mode)
	return &u, nil
}

// ============================================================================
// Nullable Conversions
// ============================================================================

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

// itemKey is the value of assets.item_key, which keeps asset names unique
// per owner even though item_id is NULL for collection assets.
func itemKey(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
