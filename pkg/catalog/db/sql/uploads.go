// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
)

// ============================================================================
// Upload Sessions
// ============================================================================

func (s queries) CreateUpload(ctx context.Context, u *types.AssetUpload) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO asset_uploads (id, asset_id, upload_id, status, mode, bucket, object_key, number_parts,
		                           file_size, checksum, content_encoding, created_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		u.ID.String(),
		u.AssetID.String(),
		u.UploadID,
		string(u.Status),
		string(u.Mode),
		u.Bucket,
		u.Key,
		u.NumberParts,
		u.FileSize,
		u.Checksum,
		u.ContentEncoding,
		u.CreatedAt,
		u.EndedAt,
	)
	if err != nil {
		if s.q.Dialect().IsUniqueViolation(err) {
			return db.ErrDuplicateInProgress
		}
		return fmt.Errorf("create upload: %w", err)
	}
	return nil
}

func (s queries) GetUpload(ctx context.Context, assetID uuid.UUID, uploadID string) (*types.AssetUpload, error) {
	return getUpload(ctx, s.q, `WHERE asset_id = $1 AND upload_id = $2`, "", assetID.String(), uploadID)
}

func (s queries) GetInProgressUpload(ctx context.Context, assetID uuid.UUID) (*types.AssetUpload, error) {
	return getUpload(ctx, s.q, `WHERE asset_id = $1 AND status = $2`, "", assetID.String(), string(types.UploadStatusInProgress))
}

func getUpload(ctx context.Context, q Querier, where, suffix string, args ...any) (*types.AssetUpload, error) {
	row := q.QueryRow(ctx, `SELECT `+uploadColumns+` FROM asset_uploads `+where+suffix, args...)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrUploadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return u, nil
}

func (s queries) ListUploads(ctx context.Context, f db.UploadFilter) ([]*types.AssetUpload, error) {
	d := s.q.Dialect()
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "?", d.Placeholder(len(args)), 1))
	}

	if f.AssetID != nil {
		add("u.asset_id = ?", f.AssetID.String())
	}
	if f.CollectionID != nil {
		add("a.collection_id = ?", f.CollectionID.String())
	}
	if f.Status != "" {
		add("u.status = ?", string(f.Status))
	}
	if f.CreatedBefore > 0 {
		add("u.created_at < ?", f.CreatedBefore)
	}

	query := `SELECT ` + qualify("u", uploadColumns) + ` FROM asset_uploads u JOIN assets a ON a.id = u.asset_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY u.created_at, u.id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT " + d.Placeholder(len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var out []*types.AssetUpload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s queries) UpdateUploadStatus(ctx context.Context, id uuid.UUID, status types.UploadStatus, endedAt int64) error {
	res, err := s.q.Exec(ctx, `
		UPDATE asset_uploads SET status = $1, ended_at = $2 WHERE id = $3
	`, string(status), endedAt, id.String())
	if err != nil {
		if s.q.Dialect().IsUniqueViolation(err) {
			return db.ErrDuplicateInProgress
		}
		return fmt.Errorf("update upload status: %w", err)
	}
	return requireAffected(res, db.ErrUploadNotFound)
}

func (s queries) DeleteAssetUploads(ctx context.Context, assetID uuid.UUID) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM asset_upload_parts
		WHERE upload_pk IN (SELECT id FROM asset_uploads WHERE asset_id = $1)
	`, assetID.String())
	if err != nil {
		return fmt.Errorf("delete upload parts: %w", err)
	}
	if _, err := s.q.Exec(ctx, `DELETE FROM asset_uploads WHERE asset_id = $1`, assetID.String()); err != nil {
		return fmt.Errorf("delete uploads: %w", err)
	}
	return nil
}

// ============================================================================
// Registered Parts
// ============================================================================

func (s queries) PutUploadPart(ctx context.Context, uploadPK uuid.UUID, part *types.UploadPart) error {
	d := s.q.Dialect()
	_, err := s.q.Exec(ctx, `
		INSERT INTO asset_upload_parts (upload_pk, part_number, etag, size, registered_at)
		VALUES ($1, $2, $3, $4, $5)`+d.UpsertSuffix("upload_pk, part_number", []string{"etag", "size", "registered_at"}),
		uploadPK.String(), part.PartNumber, part.ETag, part.Size, part.RegisteredAt)
	if err != nil {
		return fmt.Errorf("put upload part: %w", err)
	}
	return nil
}

func (s queries) ListUploadParts(ctx context.Context, uploadPK uuid.UUID) ([]*types.UploadPart, error) {
	rows, err := s.q.Query(ctx, `
		SELECT part_number, etag, size, registered_at FROM asset_upload_parts
		WHERE upload_pk = $1 ORDER BY part_number
	`, uploadPK.String())
	if err != nil {
		return nil, fmt.Errorf("list upload parts: %w", err)
	}
	defer rows.Close()

	var out []*types.UploadPart
	for rows.Next() {
		var p types.UploadPart
		if err := rows.Scan(&p.PartNumber, &p.ETag, &p.Size, &p.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan upload part: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (t *TxStore) LockUpload(ctx context.Context, id uuid.UUID) (*types.AssetUpload, error) {
	return getUpload(ctx, t, `WHERE id = $1`, t.dialect.ForUpdate(), id.String())
}

// qualify prefixes every column of a column list with a table alias.
func qualify(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
