// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
)

// ============================================================================
// Assets
// ============================================================================

func (s queries) CreateAsset(ctx context.Context, a *types.Asset) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO assets (id, collection_id, item_id, item_key, kind, name, file, file_size, checksum, etag,
		                    is_external, update_interval, gsd, lang, variant, proj_epsg, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		a.ID.String(),
		a.CollectionID.String(),
		nullableID(a.ItemID),
		itemKey(a.ItemID),
		string(a.Kind),
		a.Name,
		a.File,
		nullable(a.FileSize),
		a.Checksum,
		a.ETag,
		a.IsExternal,
		a.UpdateInterval,
		nullable(a.GSD),
		nullable(a.Lang),
		nullable(a.Variant),
		nullable(a.ProjEPSG),
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if s.q.Dialect().IsUniqueViolation(err) {
			return fmt.Errorf("asset %q: %w", a.Name, db.ErrAlreadyExists)
		}
		return fmt.Errorf("create asset: %w", err)
	}
	return nil
}

func (s queries) GetAsset(ctx context.Context, id uuid.UUID) (*types.Asset, error) {
	return getAsset(ctx, s.q, `WHERE id = $1`, "", id.String())
}

func (s queries) GetAssetByName(ctx context.Context, collectionID uuid.UUID, itemID *uuid.UUID, name string) (*types.Asset, error) {
	return getAsset(ctx, s.q, `WHERE collection_id = $1 AND item_key = $2 AND name = $3`, "",
		collectionID.String(), itemKey(itemID), name)
}

func getAsset(ctx context.Context, q Querier, where, suffix string, args ...any) (*types.Asset, error) {
	row := q.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets `+where+suffix, args...)
	a, err := scanAsset(row, q.Dialect())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// UpdateAsset writes every mutable column. The owner and name are fixed
// at creation.
func (s queries) UpdateAsset(ctx context.Context, a *types.Asset) error {
	res, err := s.q.Exec(ctx, `
		UPDATE assets SET file = $1, file_size = $2, checksum = $3, etag = $4, is_external = $5,
		       update_interval = $6, gsd = $7, lang = $8, variant = $9, proj_epsg = $10, updated_at = $11
		WHERE id = $12
	`,
		a.File,
		nullable(a.FileSize),
		a.Checksum,
		a.ETag,
		a.IsExternal,
		a.UpdateInterval,
		nullable(a.GSD),
		nullable(a.Lang),
		nullable(a.Variant),
		nullable(a.ProjEPSG),
		a.UpdatedAt,
		a.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	return requireAffected(res, db.ErrAssetNotFound)
}

func (s queries) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return requireAffected(res, db.ErrAssetNotFound)
}

func (s queries) ListAssets(ctx context.Context, collectionID uuid.UUID) ([]*types.Asset, error) {
	return listAssets(ctx, s.q, `WHERE collection_id = $1 ORDER BY item_key, name`, collectionID.String())
}

func (s queries) ListItemAssets(ctx context.Context, itemID uuid.UUID) ([]*types.Asset, error) {
	return listAssets(ctx, s.q, `WHERE item_id = $1 ORDER BY name`, itemID.String())
}

func (s queries) ListUnknownSizeAssets(ctx context.Context, after uuid.UUID, limit int) ([]*types.Asset, error) {
	d := s.q.Dialect()
	return listAssets(ctx, s.q, `WHERE file_size = 0 AND `+d.BoolColumn("is_external", false)+
		` AND id > $1 ORDER BY id LIMIT $2`, after.String(), limit)
}

func listAssets(ctx context.Context, q Querier, where string, args ...any) ([]*types.Asset, error) {
	rows, err := q.Query(ctx, `SELECT `+assetColumns+` FROM assets `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []*types.Asset
	for rows.Next() {
		a, err := scanAsset(rows, q.Dialect())
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *TxStore) LockAsset(ctx context.Context, id uuid.UUID) (*types.Asset, error) {
	return getAsset(ctx, t, `WHERE id = $1`, t.dialect.ForUpdate(), id.String())
}
