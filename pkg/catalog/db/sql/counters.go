// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
)

// ============================================================================
// Value Counts
// ============================================================================

// counterTable returns the table holding the counts of a dimension. The
// dimension name doubles as the assets column it counts.
func counterTable(dim types.Dimension) (string, error) {
	if !dim.Valid() {
		return "", fmt.Errorf("unknown dimension %q", dim)
	}
	return string(dim) + "_counts", nil
}

// valueArg converts a canonical dimension value back to the column type.
func valueArg(dim types.Dimension, v types.DimensionValue) (any, error) {
	if !v.Valid {
		return nil, nil
	}
	switch dim {
	case types.DimensionGSD:
		return strconv.ParseFloat(v.Value, 64)
	case types.DimensionProjEPSG:
		return strconv.ParseInt(v.Value, 10, 64)
	}
	return v.Value, nil
}

// valueFromKey inverts types.DimensionValue.Key.
func valueFromKey(key string) types.DimensionValue {
	if len(key) >= 2 && key[:2] == "v:" {
		return types.DimensionValue{Value: key[2:], Valid: true}
	}
	return types.NullValue
}

func (s queries) GetValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue) (*types.ValueCount, error) {
	return getValueCount(ctx, s.q, collectionID, dim, v, "")
}

func getValueCount(ctx context.Context, q Querier, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue, suffix string) (*types.ValueCount, error) {
	table, err := counterTable(dim)
	if err != nil {
		return nil, err
	}
	vc := &types.ValueCount{CollectionID: collectionID, Dimension: dim, Value: v}
	err = q.QueryRow(ctx, `
		SELECT count FROM `+table+` WHERE collection_id = $1 AND value_key = $2`+suffix,
		collectionID.String(), v.Key()).Scan(&vc.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrCounterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	return vc, nil
}

func (s queries) ListValueCounts(ctx context.Context, collectionID uuid.UUID, dim types.Dimension) ([]*types.ValueCount, error) {
	table, err := counterTable(dim)
	if err != nil {
		return nil, err
	}
	rows, err := s.q.Query(ctx, `
		SELECT value_key, count FROM `+table+` WHERE collection_id = $1 ORDER BY value_key
	`, collectionID.String())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out []*types.ValueCount
	for rows.Next() {
		var key string
		vc := &types.ValueCount{CollectionID: collectionID, Dimension: dim}
		if err := rows.Scan(&key, &vc.Count); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		vc.Value = valueFromKey(key)
		out = append(out, vc)
	}
	return out, rows.Err()
}

func (s queries) IncrementValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue, delta int64) error {
	table, err := counterTable(dim)
	if err != nil {
		return err
	}
	value, err := valueArg(dim, v)
	if err != nil {
		return fmt.Errorf("parse %s value %q: %w", dim, v.Value, err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO `+table+` (collection_id, value_key, value, count)
		VALUES ($1, $2, $3, $4)`+s.q.Dialect().UpsertIncrementSuffix(table, "collection_id, value_key", "count"),
		collectionID.String(), v.Key(), value, delta)
	if err != nil {
		return fmt.Errorf("increment %s: %w", table, err)
	}
	return nil
}

func (s queries) SetValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue, count int64) error {
	table, err := counterTable(dim)
	if err != nil {
		return err
	}
	value, err := valueArg(dim, v)
	if err != nil {
		return fmt.Errorf("parse %s value %q: %w", dim, v.Value, err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO `+table+` (collection_id, value_key, value, count)
		VALUES ($1, $2, $3, $4)`+s.q.Dialect().UpsertSuffix("collection_id, value_key", []string{"count"}),
		collectionID.String(), v.Key(), value, count)
	if err != nil {
		return fmt.Errorf("set %s: %w", table, err)
	}
	return nil
}

func (s queries) DeleteValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue) error {
	table, err := counterTable(dim)
	if err != nil {
		return err
	}
	res, err := s.q.Exec(ctx, `
		DELETE FROM `+table+` WHERE collection_id = $1 AND value_key = $2
	`, collectionID.String(), v.Key())
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return requireAffected(res, db.ErrCounterNotFound)
}

// CountAssetValues runs the GROUP BY the counter tables are derived from.
func (s queries) CountAssetValues(ctx context.Context, collectionID uuid.UUID, dim types.Dimension) ([]*types.ValueCount, error) {
	if !dim.Valid() {
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}
	col := string(dim)
	rows, err := s.q.Query(ctx, `
		SELECT `+col+`, COUNT(*) FROM assets WHERE collection_id = $1 GROUP BY `+col,
		collectionID.String())
	if err != nil {
		return nil, fmt.Errorf("count asset %s: %w", col, err)
	}
	defer rows.Close()

	var out []*types.ValueCount
	for rows.Next() {
		vc := &types.ValueCount{CollectionID: collectionID, Dimension: dim}
		switch dim {
		case types.DimensionGSD:
			var v sql.NullFloat64
			if err := rows.Scan(&v, &vc.Count); err != nil {
				return nil, fmt.Errorf("scan %s: %w", col, err)
			}
			if v.Valid {
				vc.Value = types.FloatValue(&v.Float64)
			}
		case types.DimensionProjEPSG:
			var v sql.NullInt64
			if err := rows.Scan(&v, &vc.Count); err != nil {
				return nil, fmt.Errorf("scan %s: %w", col, err)
			}
			vc.Value = types.IntValue(int64Ptr(v))
		default:
			var v sql.NullString
			if err := rows.Scan(&v, &vc.Count); err != nil {
				return nil, fmt.Errorf("scan %s: %w", col, err)
			}
			vc.Value = types.StringValue(stringPtr(v))
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

func (t *TxStore) LockValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue) (*types.ValueCount, error) {
	return getValueCount(ctx, t, collectionID, dim, v, t.dialect.ForUpdate())
}
