// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"context"
	"errors"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/logger"
	"github.com/LeeDigitalWorks/stacasset/pkg/storage"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"
	"github.com/LeeDigitalWorks/stacasset/pkg/upload"

	"github.com/google/uuid"
)

// DeleteAsset removes an asset and its upload history. It fails with an
// upload-in-progress conflict while a session is active. The stored object
// is deleted after the commit; failures there are logged, not returned.
func (s *Service) DeleteAsset(ctx context.Context, ref types.AssetRef) error {
	res, err := s.resolve(ctx, ref)
	if err != nil {
		return err
	}

	var (
		deleted *types.Asset
		bucket  string
	)
	err = s.db.WithTx(ctx, func(tx db.TxStore) error {
		a, err := tx.LockAsset(ctx, res.Asset.ID)
		if err != nil {
			return err
		}
		if err := checkNoUpload(ctx, tx, a); err != nil {
			return err
		}
		if bucket, err = uploadBucket(ctx, tx, a.ID); err != nil {
			return err
		}
		if err := tx.DeleteAssetUploads(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.DeleteAsset(ctx, a.ID); err != nil {
			return err
		}
		if err := s.maintainer.AssetDeleted(ctx, tx, a); err != nil {
			return err
		}
		deleted = a
		return nil
	})
	if err != nil {
		return s.rejected(ref, err)
	}

	logger.Info().Str("asset", ref.String()).Msg("asset deleted")
	s.removeObject(ctx, ref, bucket, deleted)
	return nil
}

// DeleteItem removes an item with all its assets. Any asset with an active
// upload blocks the whole delete.
func (s *Service) DeleteItem(ctx context.Context, collection, item string) error {
	c, err := s.db.GetCollectionByName(ctx, collection)
	if err != nil {
		return fromDB("failed to load collection", err)
	}
	it, err := s.db.GetItemByName(ctx, c.ID, item)
	if err != nil {
		return fromDB("failed to load item", err)
	}
	ref := types.AssetRef{Collection: collection, Item: item}

	var (
		deleted []*types.Asset
		buckets = make(map[uuid.UUID]string)
	)
	err = s.db.WithTx(ctx, func(tx db.TxStore) error {
		assets, err := tx.ListItemAssets(ctx, it.ID)
		if err != nil {
			return err
		}
		sortByID(assets)
		locked := make([]*types.Asset, 0, len(assets))
		for _, a := range assets {
			la, err := tx.LockAsset(ctx, a.ID)
			if err != nil {
				return err
			}
			locked = append(locked, la)
		}
		for _, a := range locked {
			if err := checkNoUpload(ctx, tx, a); err != nil {
				return err
			}
		}
		for _, a := range locked {
			bucket, err := uploadBucket(ctx, tx, a.ID)
			if err != nil {
				return err
			}
			buckets[a.ID] = bucket
			if err := tx.DeleteAssetUploads(ctx, a.ID); err != nil {
				return err
			}
			if err := tx.DeleteAsset(ctx, a.ID); err != nil {
				return err
			}
		}
		if err := s.maintainer.ItemAssetsDeleted(ctx, tx, locked); err != nil {
			return err
		}
		if _, err := tx.LockItem(ctx, it.ID); err != nil {
			return err
		}
		if err := tx.DeleteItem(ctx, it.ID); err != nil {
			return err
		}
		if err := s.maintainer.ItemRemoved(ctx, tx, c.ID); err != nil {
			return err
		}
		deleted = locked
		return nil
	})
	if err != nil {
		return s.rejected(ref, err)
	}

	logger.Info().
		Str("collection", collection).
		Str("item", item).
		Int("assets", len(deleted)).
		Msg("item deleted")
	for _, a := range deleted {
		s.removeObject(ctx, types.AssetRef{Collection: collection, Item: item, Asset: a.Name}, buckets[a.ID], a)
	}
	return nil
}

// checkNoUpload fails with a conflict if a has an in-progress session.
func checkNoUpload(ctx context.Context, tx db.TxStore, a *types.Asset) error {
	u, err := tx.GetInProgressUpload(ctx, a.ID)
	if errors.Is(err, db.ErrUploadNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return upload.UploadInProgressError(u.UploadID)
}

// uploadBucket returns the bucket id of the asset's last completed upload,
// or "" if it never completed one.
func uploadBucket(ctx context.Context, tx db.TxStore, assetID uuid.UUID) (string, error) {
	done, err := tx.ListUploads(ctx, db.UploadFilter{AssetID: &assetID, Status: types.UploadStatusCompleted})
	if err != nil || len(done) == 0 {
		return "", err
	}
	return done[len(done)-1].Bucket, nil
}

func (s *Service) rejected(ref types.AssetRef, err error) error {
	if upload.CodeOf(err) == upload.ErrCodeUploadInProgress {
		guardRejections.Inc()
		logger.Info().Str("asset", ref.String()).Msg("delete blocked by upload in progress")
		return err
	}
	return fromDB("failed to delete", err)
}

// removeObject deletes the stored object of a deleted asset. External
// assets are skipped. An asset without a recorded file may still have an
// object under its canonical key from an aborted single PUT.
func (s *Service) removeObject(ctx context.Context, ref types.AssetRef, bucket string, a *types.Asset) {
	if a == nil || a.IsExternal {
		return
	}
	ctx = context.WithoutCancel(ctx)

	key := a.File
	var (
		gw  storage.Gateway
		err error
	)
	if key == "" {
		key, err = storage.KeyFor(ref)
	}
	switch {
	case err != nil:
	case bucket != "":
		gw, err = s.storage.Gateway(bucket)
	default:
		_, gw, err = s.storage.Resolve(ref.Collection)
	}
	if err == nil {
		err = gw.DeleteObject(ctx, key)
	}
	if err != nil {
		remoteDeletes.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).
			Str("asset", ref.String()).
			Str("bucket", bucket).
			Str("key", key).
			Msg("failed to delete stored object, left for reconciliation")
		return
	}
	remoteDeletes.WithLabelValues("deleted").Inc()
}
