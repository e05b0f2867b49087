// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package aggregate keeps the denormalized catalog state consistent with the
// asset rows: the per-collection value counts of gsd, lang, variant and
// proj_epsg, and the total_data_size/update_interval rollups of items and
// collections.
//
// Every method runs inside the caller's transaction, after the asset row
// itself has been written, so the derived state commits or rolls back
// together with the change that caused it.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/logger"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
)

// Maintainer applies incremental aggregate updates. It holds no state; the
// zero value is ready to use.
type Maintainer struct{}

// New returns a Maintainer.
func New() *Maintainer {
	return &Maintainer{}
}

// AssetCreated counts a new asset and folds it into its parents' rollups.
func (m *Maintainer) AssetCreated(ctx context.Context, tx db.TxStore, a *types.Asset) error {
	return m.apply(ctx, tx, nil, a)
}

// AssetUpdated moves the counts from the old dimension values to the new ones
// and recomputes the rollups when size or interval changed.
func (m *Maintainer) AssetUpdated(ctx context.Context, tx db.TxStore, old, updated *types.Asset) error {
	if old == nil || updated == nil {
		return errors.New("asset update needs both versions")
	}
	if old.ID != updated.ID || old.CollectionID != updated.CollectionID || !sameItem(old.ItemID, updated.ItemID) {
		return fmt.Errorf("asset %s cannot move between parents", old.ID)
	}
	return m.apply(ctx, tx, old, updated)
}

// AssetDeleted removes a deleted asset from the counts and rollups.
func (m *Maintainer) AssetDeleted(ctx context.Context, tx db.TxStore, a *types.Asset) error {
	return m.apply(ctx, tx, a, nil)
}

// ItemAssetsDeleted removes the assets of an item that is being deleted from
// the value counts. Rollups are left to ItemRemoved once the item row is gone.
func (m *Maintainer) ItemAssetsDeleted(ctx context.Context, tx db.TxStore, assets []*types.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	collectionID := assets[0].CollectionID
	for _, a := range assets {
		if a.CollectionID != collectionID {
			return fmt.Errorf("asset %s is not in collection %s", a.ID, collectionID)
		}
	}
	for _, d := range mergeDeltas(assets) {
		if err := m.applyDelta(ctx, tx, collectionID, d); err != nil {
			return err
		}
	}
	return nil
}

// ItemRemoved recomputes a collection after one of its items was deleted.
func (m *Maintainer) ItemRemoved(ctx context.Context, tx db.TxStore, collectionID uuid.UUID) error {
	_, err := m.refreshCollection(ctx, tx, collectionID)
	return err
}

// apply handles the three cases: old nil (create), updated nil (delete) or
// both set (update).
func (m *Maintainer) apply(ctx context.Context, tx db.TxStore, old, updated *types.Asset) error {
	ref := updated
	if ref == nil {
		ref = old
	}
	if ref == nil {
		return errors.New("no asset given")
	}

	for _, d := range counterDeltas(old, updated) {
		if err := m.applyDelta(ctx, tx, ref.CollectionID, d); err != nil {
			return err
		}
	}

	if !rollupChanged(old, updated) {
		return nil
	}

	refreshCollection := ref.IsCollectionAsset()
	if !ref.IsCollectionAsset() {
		changed, err := m.refreshItem(ctx, tx, *ref.ItemID)
		if err != nil {
			return err
		}
		refreshCollection = changed
	}
	if refreshCollection {
		if _, err := m.refreshCollection(ctx, tx, ref.CollectionID); err != nil {
			return err
		}
	}
	return nil
}

// delta is one change to a value count row.
type delta struct {
	dim   types.Dimension
	value types.DimensionValue
	by    int64
}

// counterDeltas lists the count changes, ordered by dimension and then by
// value key so concurrent writers lock counter rows in the same order.
func counterDeltas(old, updated *types.Asset) []delta {
	var out []delta
	for _, dim := range types.Dimensions {
		var ds []delta
		switch {
		case old == nil:
			ds = append(ds, delta{dim: dim, value: updated.DimensionValue(dim), by: 1})
		case updated == nil:
			ds = append(ds, delta{dim: dim, value: old.DimensionValue(dim), by: -1})
		default:
			ov, nv := old.DimensionValue(dim), updated.DimensionValue(dim)
			if ov == nv {
				continue
			}
			ds = append(ds,
				delta{dim: dim, value: ov, by: -1},
				delta{dim: dim, value: nv, by: 1},
			)
		}
		slices.SortFunc(ds, func(a, b delta) int {
			return strings.Compare(a.value.Key(), b.value.Key())
		})
		out = append(out, ds...)
	}
	return out
}

// mergeDeltas sums the decrements of several deleted assets so each counter
// row is locked once, in the same order as counterDeltas.
func mergeDeltas(assets []*types.Asset) []delta {
	var out []delta
	for _, dim := range types.Dimensions {
		byKey := make(map[string]*delta)
		var ds []*delta
		for _, a := range assets {
			v := a.DimensionValue(dim)
			d, ok := byKey[v.Key()]
			if !ok {
				d = &delta{dim: dim, value: v}
				byKey[v.Key()] = d
				ds = append(ds, d)
			}
			d.by--
		}
		slices.SortFunc(ds, func(a, b *delta) int {
			return strings.Compare(a.value.Key(), b.value.Key())
		})
		for _, d := range ds {
			out = append(out, *d)
		}
	}
	return out
}

func (m *Maintainer) applyDelta(ctx context.Context, tx db.TxStore, collectionID uuid.UUID, d delta) error {
	if d.by > 0 {
		if err := tx.IncrementValueCount(ctx, collectionID, d.dim, d.value, d.by); err != nil {
			return fmt.Errorf("increment %s count: %w", d.dim, err)
		}
		counterUpdates.WithLabelValues(string(d.dim), "increment").Inc()
		return nil
	}

	vc, err := tx.LockValueCount(ctx, collectionID, d.dim, d.value)
	if errors.Is(err, db.ErrCounterNotFound) {
		driftDetected.WithLabelValues("counter", "write").Inc()
		logger.Warn().
			Str("collection_id", collectionID.String()).
			Str("dimension", string(d.dim)).
			Str("value", d.value.String()).
			Msg("value count missing on decrement, run aggregates rebuild")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock %s count: %w", d.dim, err)
	}

	remaining := vc.Count + d.by
	if remaining < 0 {
		driftDetected.WithLabelValues("counter", "write").Inc()
		logger.Warn().
			Str("collection_id", collectionID.String()).
			Str("dimension", string(d.dim)).
			Str("value", d.value.String()).
			Int64("count", vc.Count).
			Msg("value count below zero, run aggregates rebuild")
	}
	if remaining <= 0 {
		if err := tx.DeleteValueCount(ctx, collectionID, d.dim, d.value); err != nil {
			return fmt.Errorf("delete %s count: %w", d.dim, err)
		}
	} else if err := tx.SetValueCount(ctx, collectionID, d.dim, d.value, remaining); err != nil {
		return fmt.Errorf("set %s count: %w", d.dim, err)
	}
	counterUpdates.WithLabelValues(string(d.dim), "decrement").Inc()
	return nil
}

// rollupChanged reports whether total_data_size or update_interval of the
// parents can be affected.
func rollupChanged(old, updated *types.Asset) bool {
	switch {
	case old == nil:
		return updated.DataSize() != 0 || updated.UpdateInterval != types.IntervalUnknown
	case updated == nil:
		return old.DataSize() != 0 || old.UpdateInterval != types.IntervalUnknown
	}
	return old.DataSize() != updated.DataSize() || old.UpdateInterval != updated.UpdateInterval
}

// refreshItem recomputes an item from its assets and reports whether the
// stored rollup changed.
func (m *Maintainer) refreshItem(ctx context.Context, tx db.TxStore, itemID uuid.UUID) (bool, error) {
	item, err := tx.LockItem(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("lock item: %w", err)
	}
	r, err := tx.AggregateItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	if r == (types.Rollup{TotalDataSize: item.TotalDataSize, UpdateInterval: item.UpdateInterval}) {
		return false, nil
	}
	if err := tx.UpdateItemRollup(ctx, itemID, r); err != nil {
		return false, err
	}
	rollupUpdates.WithLabelValues("item").Inc()
	return true, nil
}

func (m *Maintainer) refreshCollection(ctx context.Context, tx db.TxStore, collectionID uuid.UUID) (bool, error) {
	c, err := tx.LockCollection(ctx, collectionID)
	if err != nil {
		return false, fmt.Errorf("lock collection: %w", err)
	}
	r, err := tx.AggregateCollection(ctx, collectionID)
	if err != nil {
		return false, err
	}
	if r == (types.Rollup{TotalDataSize: c.TotalDataSize, UpdateInterval: c.UpdateInterval}) {
		return false, nil
	}
	if err := tx.UpdateCollectionRollup(ctx, collectionID, r); err != nil {
		return false, err
	}
	rollupUpdates.WithLabelValues("collection").Inc()
	return true, nil
}

func sameItem(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
