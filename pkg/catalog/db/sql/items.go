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
// Items
// ============================================================================

func (s queries) CreateItem(ctx context.Context, item *types.Item) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO items (id, collection_id, name, total_data_size, update_interval, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID.String(), item.CollectionID.String(), item.Name, item.TotalDataSize, item.UpdateInterval, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if s.q.Dialect().IsUniqueViolation(err) {
			return fmt.Errorf("item %q: %w", item.Name, db.ErrAlreadyExists)
		}
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

func (s queries) GetItem(ctx context.Context, id uuid.UUID) (*types.Item, error) {
	return getItem(ctx, s.q, `WHERE id = $1`, "", id.String())
}

func (s queries) GetItemByName(ctx context.Context, collectionID uuid.UUID, name string) (*types.Item, error) {
	return getItem(ctx, s.q, `WHERE collection_id = $1 AND name = $2`, "", collectionID.String(), name)
}

func getItem(ctx context.Context, q Querier, where, suffix string, args ...any) (*types.Item, error) {
	row := q.QueryRow(ctx, `SELECT `+itemColumns+` FROM items `+where+suffix, args...)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s queries) ListItems(ctx context.Context, collectionID uuid.UUID) ([]*types.Item, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+itemColumns+` FROM items WHERE collection_id = $1 ORDER BY name
	`, collectionID.String())
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []*types.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s queries) DeleteItem(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.Exec(ctx, `DELETE FROM items WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return requireAffected(res, db.ErrItemNotFound)
}

func (s queries) UpdateItemRollup(ctx context.Context, id uuid.UUID, r types.Rollup) error {
	res, err := s.q.Exec(ctx, `
		UPDATE items SET total_data_size = $1, update_interval = $2, updated_at = $3
		WHERE id = $4
	`, r.TotalDataSize, r.UpdateInterval, time.Now().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("update item rollup: %w", err)
	}
	return requireAffected(res, db.ErrItemNotFound)
}

func (s queries) AggregateItem(ctx context.Context, id uuid.UUID) (types.Rollup, error) {
	var size int64
	var minInterval sql.NullInt64
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(COALESCE(file_size, 0)), 0),
		       MIN(CASE WHEN update_interval <> -1 THEN update_interval END)
		FROM assets WHERE item_id = $1
	`, id.String()).Scan(&size, &minInterval)
	if err != nil {
		return types.Rollup{}, fmt.Errorf("aggregate item: %w", err)
	}
	return types.Rollup{TotalDataSize: size, UpdateInterval: nullInterval(minInterval)}, nil
}

func (t *TxStore) LockItem(ctx context.Context, id uuid.UUID) (*types.Item, error) {
	return getItem(ctx, t, `WHERE id = $1`, t.dialect.ForUpdate(), id.String())
}
