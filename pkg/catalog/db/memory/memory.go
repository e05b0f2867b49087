// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory implementation of db.DB for testing.
// This implementation stores data in maps and is suitable for unit tests
// where fast, isolated testing is needed without a real database.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
)

type counterKey struct {
	collection uuid.UUID
	dim        types.Dimension
	key        string
}

type counterRow struct {
	value types.DimensionValue
	count int64
}

// state is everything a transaction may need to roll back.
type state struct {
	collections map[uuid.UUID]types.Collection
	items       map[uuid.UUID]types.Item
	assets      map[uuid.UUID]*types.Asset
	uploads     map[uuid.UUID]types.AssetUpload
	parts       map[uuid.UUID]map[int]types.UploadPart // key: upload pk
	counts      map[counterKey]counterRow
}

// store holds the data and implements every read and write without
// transaction bookkeeping.
type store struct {
	mu sync.RWMutex
	state
}

// DB is an in-memory database implementation for testing.
//
// Transactions are serialized and roll back by restoring a snapshot taken
// when they began. Writes made outside a transaction wait for a running
// transaction to finish, so a rollback never discards them.
type DB struct {
	txMu sync.Mutex
	*store
}

// New creates a new in-memory database for testing.
func New() *DB {
	return &DB{store: &store{state: state{
		collections: make(map[uuid.UUID]types.Collection),
		items:       make(map[uuid.UUID]types.Item),
		assets:      make(map[uuid.UUID]*types.Asset),
		uploads:     make(map[uuid.UUID]types.AssetUpload),
		parts:       make(map[uuid.UUID]map[int]types.UploadPart),
		counts:      make(map[counterKey]counterRow),
	}}}
}

// Stored assets are never mutated in place, so a shallow copy of each map
// is a consistent snapshot.
func (d *store) snapshot() state {
	d.mu.RLock()
	defer d.mu.RUnlock()
	parts := make(map[uuid.UUID]map[int]types.UploadPart, len(d.parts))
	for k, v := range d.parts {
		parts[k] = maps.Clone(v)
	}
	return state{
		collections: maps.Clone(d.collections),
		items:       maps.Clone(d.items),
		assets:      maps.Clone(d.assets),
		uploads:     maps.Clone(d.uploads),
		parts:       parts,
		counts:      maps.Clone(d.counts),
	}
}

func (d *store) restore(s state) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

// ============================================================================
// Collections
// ============================================================================

func (d *store) CreateCollection(ctx context.Context, c *types.Collection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.collections {
		if existing.Name == c.Name {
			return fmt.Errorf("collection %q: %w", c.Name, db.ErrAlreadyExists)
		}
	}
	d.collections[c.ID] = *c
	return nil
}

func (d *store) GetCollection(ctx context.Context, id uuid.UUID) (*types.Collection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.collections[id]
	if !ok {
		return nil, db.ErrCollectionNotFound
	}
	return &c, nil
}

func (d *store) GetCollectionByName(ctx context.Context, name string) (*types.Collection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.collections {
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, db.ErrCollectionNotFound
}

func (d *store) ListCollections(ctx context.Context) ([]*types.Collection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*types.Collection, 0, len(d.collections))
	for _, c := range d.collections {
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *store) UpdateCollectionRollup(ctx context.Context, id uuid.UUID, r types.Rollup) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[id]
	if !ok {
		return db.ErrCollectionNotFound
	}
	c.TotalDataSize = r.TotalDataSize
	c.UpdateInterval = r.UpdateInterval
	c.UpdatedAt = time.Now().UnixNano()
	d.collections[id] = c
	return nil
}

func (d *store) AggregateCollection(ctx context.Context, id uuid.UUID) (types.Rollup, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var r types.Rollup
	intervals := []int64{}
	for _, a := range d.assets {
		if a.CollectionID == id && a.ItemID == nil {
			r.TotalDataSize += a.DataSize()
			intervals = append(intervals, a.UpdateInterval)
		}
	}
	for _, item := range d.items {
		if item.CollectionID == id {
			r.TotalDataSize += item.TotalDataSize
			intervals = append(intervals, item.UpdateInterval)
		}
	}
	r.UpdateInterval = types.MinInterval(intervals...)
	return r, nil
}

// ============================================================================
// Items
// ============================================================================

func (d *store) CreateItem(ctx context.Context, item *types.Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.collections[item.CollectionID]; !ok {
		return db.ErrCollectionNotFound
	}
	for _, existing := range d.items {
		if existing.CollectionID == item.CollectionID && existing.Name == item.Name {
			return fmt.Errorf("item %q: %w", item.Name, db.ErrAlreadyExists)
		}
	}
	d.items[item.ID] = *item
	return nil
}

func (d *store) GetItem(ctx context.Context, id uuid.UUID) (*types.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	item, ok := d.items[id]
	if !ok {
		return nil, db.ErrItemNotFound
	}
	return &item, nil
}

func (d *store) GetItemByName(ctx context.Context, collectionID uuid.UUID, name string) (*types.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, item := range d.items {
		if item.CollectionID == collectionID && item.Name == name {
			return &item, nil
		}
	}
	return nil, db.ErrItemNotFound
}

func (d *store) ListItems(ctx context.Context, collectionID uuid.UUID) ([]*types.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.Item
	for _, item := range d.items {
		if item.CollectionID == collectionID {
			out = append(out, &item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *store) DeleteItem(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[id]; !ok {
		return db.ErrItemNotFound
	}
	for _, a := range d.assets {
		if a.ItemID != nil && *a.ItemID == id {
			return fmt.Errorf("delete item: item %s still owns asset %s", id, a.ID)
		}
	}
	delete(d.items, id)
	return nil
}

func (d *store) UpdateItemRollup(ctx context.Context, id uuid.UUID, r types.Rollup) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.items[id]
	if !ok {
		return db.ErrItemNotFound
	}
	item.TotalDataSize = r.TotalDataSize
	item.UpdateInterval = r.UpdateInterval
	item.UpdatedAt = time.Now().UnixNano()
	d.items[id] = item
	return nil
}

func (d *store) AggregateItem(ctx context.Context, id uuid.UUID) (types.Rollup, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var r types.Rollup
	intervals := []int64{}
	for _, a := range d.assets {
		if a.ItemID != nil && *a.ItemID == id {
			r.TotalDataSize += a.DataSize()
			intervals = append(intervals, a.UpdateInterval)
		}
	}
	r.UpdateInterval = types.MinInterval(intervals...)
	return r, nil
}

// ============================================================================
// Assets
// ============================================================================

func sameOwner(a *types.Asset, collectionID uuid.UUID, itemID *uuid.UUID) bool {
	if a.CollectionID != collectionID {
		return false
	}
	if a.ItemID == nil || itemID == nil {
		return a.ItemID == nil && itemID == nil
	}
	return *a.ItemID == *itemID
}

func (d *store) CreateAsset(ctx context.Context, a *types.Asset) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.collections[a.CollectionID]; !ok {
		return db.ErrCollectionNotFound
	}
	if a.ItemID != nil {
		if _, ok := d.items[*a.ItemID]; !ok {
			return db.ErrItemNotFound
		}
	}
	for _, existing := range d.assets {
		if sameOwner(existing, a.CollectionID, a.ItemID) && existing.Name == a.Name {
			return fmt.Errorf("asset %q: %w", a.Name, db.ErrAlreadyExists)
		}
	}
	d.assets[a.ID] = a.Clone()
	return nil
}

func (d *store) GetAsset(ctx context.Context, id uuid.UUID) (*types.Asset, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.assets[id]
	if !ok {
		return nil, db.ErrAssetNotFound
	}
	return a.Clone(), nil
}

func (d *store) GetAssetByName(ctx context.Context, collectionID uuid.UUID, itemID *uuid.UUID, name string) (*types.Asset, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, a := range d.assets {
		if sameOwner(a, collectionID, itemID) && a.Name == name {
			return a.Clone(), nil
		}
	}
	return nil, db.ErrAssetNotFound
}

func (d *store) UpdateAsset(ctx context.Context, a *types.Asset) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.assets[a.ID]
	if !ok {
		return db.ErrAssetNotFound
	}
	updated := a.Clone()
	updated.CollectionID = existing.CollectionID
	updated.ItemID = existing.ItemID
	updated.Kind = existing.Kind
	updated.Name = existing.Name
	updated.CreatedAt = existing.CreatedAt
	d.assets[a.ID] = updated
	return nil
}

func (d *store) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.assets[id]; !ok {
		return db.ErrAssetNotFound
	}
	for _, u := range d.uploads {
		if u.AssetID == id {
			return fmt.Errorf("delete asset: asset %s still owns upload %s", id, u.ID)
		}
	}
	delete(d.assets, id)
	return nil
}

func (d *store) ListAssets(ctx context.Context, collectionID uuid.UUID) ([]*types.Asset, error) {
	return d.listAssets(func(a *types.Asset) bool { return a.CollectionID == collectionID }), nil
}

func (d *store) ListItemAssets(ctx context.Context, itemID uuid.UUID) ([]*types.Asset, error) {
	return d.listAssets(func(a *types.Asset) bool { return a.ItemID != nil && *a.ItemID == itemID }), nil
}

func (d *store) ListUnknownSizeAssets(ctx context.Context, after uuid.UUID, limit int) ([]*types.Asset, error) {
	out := d.listAssets(func(a *types.Asset) bool {
		return a.FileSize != nil && *a.FileSize == 0 && !a.IsExternal && a.ID.String() > after.String()
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *store) listAssets(match func(*types.Asset) bool) []*types.Asset {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.Asset
	for _, a := range d.assets {
		if match(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := ownerKey(out[i]), ownerKey(out[j])
		if ki != kj {
			return ki < kj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func ownerKey(a *types.Asset) string {
	if a.ItemID == nil {
		return ""
	}
	return a.ItemID.String()
}

// ============================================================================
// Upload Sessions
// ============================================================================

func (d *store) CreateUpload(ctx context.Context, u *types.AssetUpload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.assets[u.AssetID]; !ok {
		return db.ErrAssetNotFound
	}
	if u.Status == types.UploadStatusInProgress {
		for _, existing := range d.uploads {
			if existing.AssetID == u.AssetID && existing.Status == types.UploadStatusInProgress {
				return db.ErrDuplicateInProgress
			}
		}
	}
	d.uploads[u.ID] = *u
	return nil
}

func (d *store) GetUpload(ctx context.Context, assetID uuid.UUID, uploadID string) (*types.AssetUpload, error) {
	return d.findUpload(func(u *types.AssetUpload) bool {
		return u.AssetID == assetID && u.UploadID == uploadID
	})
}

func (d *store) GetInProgressUpload(ctx context.Context, assetID uuid.UUID) (*types.AssetUpload, error) {
	return d.findUpload(func(u *types.AssetUpload) bool {
		return u.AssetID == assetID && u.Status == types.UploadStatusInProgress
	})
}

func (d *store) findUpload(match func(*types.AssetUpload) bool) (*types.AssetUpload, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.uploads {
		if match(&u) {
			return &u, nil
		}
	}
	return nil, db.ErrUploadNotFound
}

func (d *store) ListUploads(ctx context.Context, f db.UploadFilter) ([]*types.AssetUpload, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.AssetUpload
	for _, u := range d.uploads {
		if f.AssetID != nil && u.AssetID != *f.AssetID {
			continue
		}
		if f.CollectionID != nil {
			a, ok := d.assets[u.AssetID]
			if !ok || a.CollectionID != *f.CollectionID {
				continue
			}
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if f.CreatedBefore > 0 && u.CreatedAt >= f.CreatedBefore {
			continue
		}
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (d *store) UpdateUploadStatus(ctx context.Context, id uuid.UUID, status types.UploadStatus, endedAt int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.uploads[id]
	if !ok {
		return db.ErrUploadNotFound
	}
	if status == types.UploadStatusInProgress && u.Status != status {
		for _, existing := range d.uploads {
			if existing.AssetID == u.AssetID && existing.Status == types.UploadStatusInProgress {
				return db.ErrDuplicateInProgress
			}
		}
	}
	u.Status = status
	u.EndedAt = endedAt
	d.uploads[id] = u
	return nil
}

func (d *store) DeleteAssetUploads(ctx context.Context, assetID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, u := range d.uploads {
		if u.AssetID == assetID {
			delete(d.uploads, id)
			delete(d.parts, id)
		}
	}
	return nil
}

func (d *store) PutUploadPart(ctx context.Context, uploadPK uuid.UUID, part *types.UploadPart) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.uploads[uploadPK]; !ok {
		return db.ErrUploadNotFound
	}
	if d.parts[uploadPK] == nil {
		d.parts[uploadPK] = make(map[int]types.UploadPart)
	}
	d.parts[uploadPK][part.PartNumber] = *part
	return nil
}

func (d *store) ListUploadParts(ctx context.Context, uploadPK uuid.UUID) ([]*types.UploadPart, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.UploadPart
	for _, p := range d.parts[uploadPK] {
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out, nil
}

// ============================================================================
// Value Counts
// ============================================================================

func (d *store) GetValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue) (*types.ValueCount, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	row, ok := d.counts[counterKey{collectionID, dim, v.Key()}]
	if !ok {
		return nil, db.ErrCounterNotFound
	}
	return &types.ValueCount{CollectionID: collectionID, Dimension: dim, Value: row.value, Count: row.count}, nil
}

func (d *store) ListValueCounts(ctx context.Context, collectionID uuid.UUID, dim types.Dimension) ([]*types.ValueCount, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.ValueCount
	for k, row := range d.counts {
		if k.collection == collectionID && k.dim == dim {
			out = append(out, &types.ValueCount{CollectionID: collectionID, Dimension: dim, Value: row.value, Count: row.count})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value.Key() < out[j].Value.Key() })
	return out, nil
}

func (d *store) IncrementValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue, delta int64) error {
	if !dim.Valid() {
		return fmt.Errorf("unknown dimension %q", dim)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	k := counterKey{collectionID, dim, v.Key()}
	row := d.counts[k]
	row.value = v
	row.count += delta
	d.counts[k] = row
	return nil
}

func (d *store) SetValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue, count int64) error {
	if !dim.Valid() {
		return fmt.Errorf("unknown dimension %q", dim)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[counterKey{collectionID, dim, v.Key()}] = counterRow{value: v, count: count}
	return nil
}

func (d *store) DeleteValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := counterKey{collectionID, dim, v.Key()}
	if _, ok := d.counts[k]; !ok {
		return db.ErrCounterNotFound
	}
	delete(d.counts, k)
	return nil
}

func (d *store) CountAssetValues(ctx context.Context, collectionID uuid.UUID, dim types.Dimension) ([]*types.ValueCount, error) {
	if !dim.Valid() {
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	byKey := make(map[string]*types.ValueCount)
	for _, a := range d.assets {
		if a.CollectionID != collectionID {
			continue
		}
		v := a.DimensionValue(dim)
		vc, ok := byKey[v.Key()]
		if !ok {
			vc = &types.ValueCount{CollectionID: collectionID, Dimension: dim, Value: v}
			byKey[v.Key()] = vc
		}
		vc.Count++
	}
	out := make([]*types.ValueCount, 0, len(byKey))
	for _, vc := range byKey {
		out = append(out, vc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value.Key() < out[j].Value.Key() })
	return out, nil
}

// ============================================================================
// Writes outside transactions
// ============================================================================

// autocommit runs a single write once no transaction is in flight.
func (d *DB) autocommit(fn func() error) error {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	return fn()
}

func (d *DB) CreateCollection(ctx context.Context, c *types.Collection) error {
	return d.autocommit(func() error { return d.store.CreateCollection(ctx, c) })
}

func (d *DB) UpdateCollectionRollup(ctx context.Context, id uuid.UUID, r types.Rollup) error {
	return d.autocommit(func() error { return d.store.UpdateCollectionRollup(ctx, id, r) })
}

func (d *DB) CreateItem(ctx context.Context, item *types.Item) error {
	return d.autocommit(func() error { return d.store.CreateItem(ctx, item) })
}

func (d *DB) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return d.autocommit(func() error { return d.store.DeleteItem(ctx, id) })
}

func (d *DB) UpdateItemRollup(ctx context.Context, id uuid.UUID, r types.Rollup) error {
	return d.autocommit(func() error { return d.store.UpdateItemRollup(ctx, id, r) })
}

func (d *DB) CreateAsset(ctx context.Context, a *types.Asset) error {
	return d.autocommit(func() error { return d.store.CreateAsset(ctx, a) })
}

func (d *DB) UpdateAsset(ctx context.Context, a *types.Asset) error {
	return d.autocommit(func() error { return d.store.UpdateAsset(ctx, a) })
}

func (d *DB) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	return d.autocommit(func() error { return d.store.DeleteAsset(ctx, id) })
}

func (d *DB) CreateUpload(ctx context.Context, u *types.AssetUpload) error {
	return d.autocommit(func() error { return d.store.CreateUpload(ctx, u) })
}

func (d *DB) UpdateUploadStatus(ctx context.Context, id uuid.UUID, status types.UploadStatus, endedAt int64) error {
	return d.autocommit(func() error { return d.store.UpdateUploadStatus(ctx, id, status, endedAt) })
}

func (d *DB) DeleteAssetUploads(ctx context.Context, assetID uuid.UUID) error {
	return d.autocommit(func() error { return d.store.DeleteAssetUploads(ctx, assetID) })
}

func (d *DB) PutUploadPart(ctx context.Context, uploadPK uuid.UUID, part *types.UploadPart) error {
	return d.autocommit(func() error { return d.store.PutUploadPart(ctx, uploadPK, part) })
}

func (d *DB) IncrementValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue, delta int64) error {
	return d.autocommit(func() error { return d.store.IncrementValueCount(ctx, collectionID, dim, v, delta) })
}

func (d *DB) SetValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue, count int64) error {
	return d.autocommit(func() error { return d.store.SetValueCount(ctx, collectionID, dim, v, count) })
}

func (d *DB) DeleteValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue) error {
	return d.autocommit(func() error { return d.store.DeleteValueCount(ctx, collectionID, dim, v) })
}

// ============================================================================
// Transactions
// ============================================================================

// tx is the TxStore handed to WithTx callbacks. Transactions already run
// one at a time, so the Lock methods are plain reads.
type tx struct {
	*store
}

func (t tx) LockCollection(ctx context.Context, id uuid.UUID) (*types.Collection, error) {
	return t.GetCollection(ctx, id)
}

func (t tx) LockItem(ctx context.Context, id uuid.UUID) (*types.Item, error) {
	return t.GetItem(ctx, id)
}

func (t tx) LockAsset(ctx context.Context, id uuid.UUID) (*types.Asset, error) {
	return t.GetAsset(ctx, id)
}

func (t tx) LockUpload(ctx context.Context, id uuid.UUID) (*types.AssetUpload, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.uploads[id]
	if !ok {
		return nil, db.ErrUploadNotFound
	}
	return &u, nil
}

func (t tx) LockValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue) (*types.ValueCount, error) {
	return t.GetValueCount(ctx, collectionID, dim, v)
}

func (d *DB) WithTx(ctx context.Context, fn func(tx db.TxStore) error) error {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := d.snapshot()
	if err := fn(tx{d.store}); err != nil {
		d.restore(snap)
		return err
	}
	return nil
}

func (d *DB) Migrate(ctx context.Context) error {
	// No-op for in-memory database
	return nil
}

func (d *DB) Close() error {
	return nil
}

// Ensure DB implements db.DB interface
var (
	_ db.DB      = (*DB)(nil)
	_ db.TxStore = tx{}
)
