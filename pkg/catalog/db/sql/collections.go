// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
)

// ============================================================================
// Collections
// ============================================================================

func (s queries) CreateCollection(ctx context.Context, c *types.Collection) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO collections (id, name, total_data_size, update_interval, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID.String(), c.Name, c.TotalDataSize, c.UpdateInterval, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if s.q.Dialect().IsUniqueViolation(err) {
			return fmt.Errorf("collection %q: %w", c.Name, db.ErrAlreadyExists)
		}
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (s queries) GetCollection(ctx context.Context, id uuid.UUID) (*types.Collection, error) {
	return getCollection(ctx, s.q, `WHERE id = $1`, "", id.String())
}

func (s queries) GetCollectionByName(ctx context.Context, name string) (*types.Collection, error) {
	return getCollection(ctx, s.q, `WHERE name = $1`, "", name)
}

func getCollection(ctx context.Context, q Querier, where, suffix string, args ...any) (*types.Collection, error) {
	row := q.QueryRow(ctx, `SELECT `+collectionColumns+` FROM collections `+where+suffix, args...)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrCollectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return c, nil
}

func (s queries) ListCollections(ctx context.Context) ([]*types.Collection, error) {
	rows, err := s.q.Query(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []*types.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s queries) UpdateCollectionRollup(ctx context.Context, id uuid.UUID, r types.Rollup) error {
	res, err := s.q.Exec(ctx, `
		UPDATE collections SET total_data_size = $1, update_interval = $2, updated_at = $3
		WHERE id = $4
	`, r.TotalDataSize, r.UpdateInterval, time.Now().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("update collection rollup: %w", err)
	}
	return requireAffected(res, db.ErrCollectionNotFound)
}

// AggregateCollection folds the collection's own assets and the cached
// rollups of its items. Only the bounded intervals take part in MIN, so
// -1 survives only when nothing else is present.
func (s queries) AggregateCollection(ctx context.Context, id uuid.UUID) (types.Rollup, error) {
	var assetSize int64
	var assetMin sql.NullInt64
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(COALESCE(file_size, 0)), 0),
		       MIN(CASE WHEN update_interval <> -1 THEN update_interval END)
		FROM assets WHERE collection_id = $1 AND item_id IS NULL
	`, id.String()).Scan(&assetSize, &assetMin)
	if err != nil {
		return types.Rollup{}, fmt.Errorf("aggregate collection assets: %w", err)
	}

	var itemSize int64
	var itemMin sql.NullInt64
	err = s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_data_size), 0),
		       MIN(CASE WHEN update_interval <> -1 THEN update_interval END)
		FROM items WHERE collection_id = $1
	`, id.String()).Scan(&itemSize, &itemMin)
	if err != nil {
		return types.Rollup{}, fmt.Errorf("aggregate collection items: %w", err)
	}

	return types.Rollup{
		TotalDataSize:  assetSize + itemSize,
		UpdateInterval: types.MinInterval(nullInterval(assetMin), nullInterval(itemMin)),
	}, nil
}

func nullInterval(v sql.NullInt64) int64 {
	if !v.Valid {
		return types.IntervalUnknown
	}
	return v.Int64
}

func (t *TxStore) LockCollection(ctx context.Context, id uuid.UUID) (*types.Collection, error) {
	return getCollection(ctx, t, `WHERE id = $1`, t.dialect.ForUpdate(), id.String())
}

// requireAffected maps an UPDATE or DELETE that touched no row to notFound.
func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
