// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package asset is the write path for collections, items and assets. Every
// change runs the aggregate maintainer in its own transaction, and deletes
// go through the upload guard in guard.go.
package asset

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/aggregate"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/logger"
	"github.com/LeeDigitalWorks/stacasset/pkg/storage"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"
	"github.com/LeeDigitalWorks/stacasset/pkg/upload"

	"github.com/google/uuid"
)

// Config holds the dependencies of the asset service
type Config struct {
	DB         db.DB
	Storage    *storage.Manager
	Maintainer *aggregate.Maintainer // optional, defaults to aggregate.New()
}

// Service mutates catalog rows and keeps the derived state in step.
type Service struct {
	db         db.DB
	storage    *storage.Manager
	maintainer *aggregate.Maintainer
}

// NewService creates an asset service.
func NewService(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, errors.New("DB is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("Storage is required")
	}
	m := cfg.Maintainer
	if m == nil {
		m = aggregate.New()
	}
	return &Service{db: cfg.DB, storage: cfg.Storage, maintainer: m}, nil
}

// CreateCollection inserts an empty collection.
func (s *Service) CreateCollection(ctx context.Context, name string) (*types.Collection, error) {
	name, err := checkName("name", name)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixNano()
	c := &types.Collection{
		ID:             uuid.New(),
		Name:           name,
		UpdateInterval: types.IntervalUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.CreateCollection(ctx, c); err != nil {
		return nil, fromDB("failed to create collection", err)
	}
	return c, nil
}

// CreateItem inserts an empty item into a collection.
func (s *Service) CreateItem(ctx context.Context, collection, name string) (*types.Item, error) {
	name, err := checkName("name", name)
	if err != nil {
		return nil, err
	}
	c, err := s.db.GetCollectionByName(ctx, collection)
	if err != nil {
		return nil, fromDB("failed to load collection", err)
	}
	now := time.Now().UnixNano()
	item := &types.Item{
		ID:             uuid.New(),
		CollectionID:   c.ID,
		Name:           name,
		UpdateInterval: types.IntervalUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.CreateItem(ctx, item); err != nil {
		return nil, fromDB("failed to create item", err)
	}
	return item, nil
}

// GetAsset looks up an asset by its catalog names.
func (s *Service) GetAsset(ctx context.Context, ref types.AssetRef) (*types.Asset, error) {
	res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return res.Asset, nil
}

// CreateAsset inserts an asset under ref. Identity fields of a are
// overwritten from ref; a nil FileSize is stored as 0 (unknown).
func (s *Service) CreateAsset(ctx context.Context, ref types.AssetRef, a *types.Asset) (*types.Asset, error) {
	if _, err := storage.KeyFor(ref); err != nil {
		return nil, &upload.Error{Code: upload.ErrCodeInvalidArgument, Message: "invalid asset reference", Field: "name", Err: err}
	}
	if err := checkAttributes(a); err != nil {
		return nil, err
	}

	c, err := s.db.GetCollectionByName(ctx, ref.Collection)
	if err != nil {
		return nil, fromDB("failed to load collection", err)
	}
	created := a.Clone()
	created.ID = uuid.New()
	created.CollectionID = c.ID
	created.ItemID = nil
	created.Kind = types.AssetKindCollection
	created.Name = strings.TrimSpace(ref.Asset)
	if !ref.IsCollectionAsset() {
		item, err := s.db.GetItemByName(ctx, c.ID, ref.Item)
		if err != nil {
			return nil, fromDB("failed to load item", err)
		}
		id := item.ID
		created.ItemID = &id
		created.Kind = types.AssetKindItem
	}
	if created.FileSize == nil {
		var unknown int64
		created.FileSize = &unknown
	}
	now := time.Now().UnixNano()
	created.CreatedAt, created.UpdatedAt = now, now

	err = s.db.WithTx(ctx, func(tx db.TxStore) error {
		if err := tx.CreateAsset(ctx, created); err != nil {
			return err
		}
		return s.maintainer.AssetCreated(ctx, tx, created)
	})
	if err != nil {
		return nil, fromDB("failed to create asset", err)
	}
	return created, nil
}

// UpdateAsset applies change to the stored asset under a row lock. Renames
// and moves between parents are rejected since object keys cannot migrate.
func (s *Service) UpdateAsset(ctx context.Context, ref types.AssetRef, change func(a *types.Asset)) (*types.Asset, error) {
	res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	var updated *types.Asset
	err = s.db.WithTx(ctx, func(tx db.TxStore) error {
		old, err := tx.LockAsset(ctx, res.Asset.ID)
		if err != nil {
			return err
		}
		next := old.Clone()
		change(next)

		switch {
		case next.Name != old.Name:
			return upload.ValidationError("name", "assets cannot be renamed")
		case next.ID != old.ID:
			return upload.ValidationError("id", "cannot be changed")
		case next.CollectionID != old.CollectionID || next.Kind != old.Kind || !sameItem(next.ItemID, old.ItemID):
			return upload.ValidationError("item", "assets cannot move between parents")
		}
		if err := checkAttributes(next); err != nil {
			return err
		}
		next.CreatedAt = old.CreatedAt
		next.UpdatedAt = time.Now().UnixNano()

		if err := tx.UpdateAsset(ctx, next); err != nil {
			return err
		}
		if err := s.maintainer.AssetUpdated(ctx, tx, old, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, fromDB("failed to update asset", err)
	}
	return updated, nil
}

func (s *Service) resolve(ctx context.Context, ref types.AssetRef) (*db.Resolved, error) {
	res, err := db.ResolveAsset(ctx, s.db, ref)
	if err != nil {
		return nil, fromDB("failed to resolve asset", err)
	}
	return res, nil
}

// checkName trims a collection or item name and rejects empty names and
// names that would break object keys.
func checkName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", upload.ValidationError(field, "this field is required")
	}
	if strings.Contains(name, "/") {
		return "", upload.ValidationError(field, "must not contain '/'")
	}
	return name, nil
}

func checkAttributes(a *types.Asset) error {
	if !types.ValidInterval(a.UpdateInterval) {
		return upload.ValidationError("update_interval", fmt.Sprintf("must be %d or greater", types.IntervalUnknown))
	}
	if a.FileSize != nil && *a.FileSize < 0 {
		return upload.ValidationError("file_size", "must not be negative")
	}
	return nil
}

// fromDB converts store errors into service errors.
func fromDB(message string, err error) error {
	var e *upload.Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, db.ErrCollectionNotFound), errors.Is(err, db.ErrItemNotFound), errors.Is(err, db.ErrAssetNotFound):
		return &upload.Error{Code: upload.ErrCodeAssetNotFound, Message: message, Err: err}
	case errors.Is(err, db.ErrAlreadyExists):
		return &upload.Error{Code: upload.ErrCodeInvalidArgument, Message: "already exists", Field: "name", Err: err}
	default:
		logger.Error().Err(err).Msg(message)
		return &upload.Error{Code: upload.ErrCodeInternalError, Message: message, Err: err}
	}
}

func sameItem(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sortByID(assets []*types.Asset) {
	slices.SortFunc(assets, func(a, b *types.Asset) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}
