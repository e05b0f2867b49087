// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package dbtest holds a conformance suite run against every db.DB
// implementation, plus fixtures shared by service tests.
package dbtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns a fresh, migrated database for one test.
type Opener func(t *testing.T) db.DB

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// NewCollection inserts a collection.
func NewCollection(t *testing.T, store db.Store, name string) *types.Collection {
	t.Helper()
	now := time.Now().UnixNano()
	c := &types.Collection{
		ID:             uuid.New(),
		Name:           name,
		UpdateInterval: types.IntervalUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateCollection(context.Background(), c))
	return c
}

// NewItem inserts an item.
func NewItem(t *testing.T, store db.Store, coll *types.Collection, name string) *types.Item {
	t.Helper()
	now := time.Now().UnixNano()
	item := &types.Item{
		ID:             uuid.New(),
		CollectionID:   coll.ID,
		Name:           name,
		UpdateInterval: types.IntervalUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item
}

// NewAsset builds (without inserting) an asset owned by item, or by coll
// when item is nil.
func NewAsset(coll *types.Collection, item *types.Item, name string) *types.Asset {
	now := time.Now().UnixNano()
	a := &types.Asset{
		ID:             uuid.New(),
		CollectionID:   coll.ID,
		Kind:           types.AssetKindCollection,
		Name:           name,
		FileSize:       Ptr(int64(0)),
		UpdateInterval: types.IntervalUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if item != nil {
		id := item.ID
		a.ItemID = &id
		a.Kind = types.AssetKindItem
	}
	return a
}

// NewUpload builds an in-progress upload session for an asset.
func NewUpload(a *types.Asset, uploadID string) *types.AssetUpload {
	return &types.AssetUpload{
		ID:          uuid.New(),
		AssetID:     a.ID,
		UploadID:    uploadID,
		Status:      types.UploadStatusInProgress,
		Mode:        types.UploadModeMultipart,
		Bucket:      "primary",
		Key:         "c/i/" + a.Name,
		NumberParts: 2,
		FileSize:    1000,
		CreatedAt:   time.Now().UnixNano(),
	}
}

// Run executes the conformance suite.
func Run(t *testing.T, open Opener) {
	t.Run("Collections", func(t *testing.T) { testCollections(t, open(t)) })
	t.Run("Items", func(t *testing.T) { testItems(t, open(t)) })
	t.Run("Assets", func(t *testing.T) { testAssets(t, open(t)) })
	t.Run("ResolveAsset", func(t *testing.T) { testResolveAsset(t, open(t)) })
	t.Run("UnknownSizeAssets", func(t *testing.T) { testUnknownSizeAssets(t, open(t)) })
	t.Run("Uploads", func(t *testing.T) { testUploads(t, open(t)) })
	t.Run("ConcurrentInProgress", func(t *testing.T) { testConcurrentInProgress(t, open(t)) })
	t.Run("Parts", func(t *testing.T) { testParts(t, open(t)) })
	t.Run("ValueCounts", func(t *testing.T) { testValueCounts(t, open(t)) })
	t.Run("CountAssetValues", func(t *testing.T) { testCountAssetValues(t, open(t)) })
	t.Run("Aggregates", func(t *testing.T) { testAggregates(t, open(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, open(t)) })
	t.Run("Locks", func(t *testing.T) { testLocks(t, open(t)) })
}

func testCollections(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "ch.swisstopo.pixelkarte")

	got, err := d.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, types.IntervalUnknown, got.UpdateInterval)

	byName, err := d.GetCollectionByName(ctx, c.Name)
	require.NoError(t, err)
	assert.Equal(t, c.ID, byName.ID)

	dup := *c
	dup.ID = uuid.New()
	err = d.CreateCollection(ctx, &dup)
	assert.ErrorIs(t, err, db.ErrAlreadyExists)

	_, err = d.GetCollectionByName(ctx, "missing")
	assert.ErrorIs(t, err, db.ErrCollectionNotFound)

	require.NoError(t, d.UpdateCollectionRollup(ctx, c.ID, types.Rollup{TotalDataSize: 42, UpdateInterval: 60}))
	got, err = d.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.TotalDataSize)
	assert.Equal(t, int64(60), got.UpdateInterval)

	assert.ErrorIs(t, d.UpdateCollectionRollup(ctx, uuid.New(), types.Rollup{}), db.ErrCollectionNotFound)

	NewCollection(t, d, "a-first")
	list, err := d.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a-first", list[0].Name)
}

func testItems(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	item := NewItem(t, d, c, "item-1")
	NewItem(t, d, c, "item-0")

	got, err := d.GetItemByName(ctx, c.ID, "item-1")
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, c.ID, got.CollectionID)

	dup := *item
	dup.ID = uuid.New()
	assert.ErrorIs(t, d.CreateItem(ctx, &dup), db.ErrAlreadyExists)

	items, err := d.ListItems(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "item-0", items[0].Name)

	require.NoError(t, d.UpdateItemRollup(ctx, item.ID, types.Rollup{TotalDataSize: 7, UpdateInterval: 3}))
	got, err = d.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.TotalDataSize)
	assert.Equal(t, int64(3), got.UpdateInterval)

	require.NoError(t, d.DeleteItem(ctx, item.ID))
	_, err = d.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, db.ErrItemNotFound)
	assert.ErrorIs(t, d.DeleteItem(ctx, item.ID), db.ErrItemNotFound)
}

func testAssets(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	item := NewItem(t, d, c, "item")

	a := NewAsset(c, item, "data.tif")
	a.GSD = Ptr(0.5)
	a.Lang = Ptr("de")
	a.ProjEPSG = Ptr(int64(2056))
	a.UpdateInterval = 3600
	require.NoError(t, d.CreateAsset(ctx, a))

	// Same name on the collection is a different asset.
	ca := NewAsset(c, nil, "data.tif")
	ca.IsExternal = true
	ca.FileSize = nil
	require.NoError(t, d.CreateAsset(ctx, ca))

	dup := NewAsset(c, item, "data.tif")
	assert.ErrorIs(t, d.CreateAsset(ctx, dup), db.ErrAlreadyExists)

	got, err := d.GetAssetByName(ctx, c.ID, &item.ID, "data.tif")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	require.NotNil(t, got.ItemID)
	assert.Equal(t, item.ID, *got.ItemID)
	assert.Equal(t, types.AssetKindItem, got.Kind)
	assert.Equal(t, 0.5, *got.GSD)
	assert.Equal(t, "de", *got.Lang)
	assert.Nil(t, got.Variant)
	assert.Equal(t, int64(2056), *got.ProjEPSG)
	assert.Equal(t, int64(0), *got.FileSize)
	assert.False(t, got.IsExternal)

	gotCA, err := d.GetAssetByName(ctx, c.ID, nil, "data.tif")
	require.NoError(t, err)
	assert.Equal(t, ca.ID, gotCA.ID)
	assert.Nil(t, gotCA.ItemID)
	assert.Nil(t, gotCA.FileSize)
	assert.True(t, gotCA.IsExternal)

	got.FileSize = Ptr(int64(1234))
	got.Checksum = "1220abcd"
	got.Lang = nil
	got.Variant = Ptr("komb")
	got.UpdatedAt = time.Now().UnixNano()
	require.NoError(t, d.UpdateAsset(ctx, got))

	updated, err := d.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), *updated.FileSize)
	assert.Equal(t, "1220abcd", updated.Checksum)
	assert.Nil(t, updated.Lang)
	assert.Equal(t, "komb", *updated.Variant)

	all, err := d.ListAssets(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	itemAssets, err := d.ListItemAssets(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, itemAssets, 1)
	assert.Equal(t, a.ID, itemAssets[0].ID)

	require.NoError(t, d.DeleteAsset(ctx, a.ID))
	_, err = d.GetAsset(ctx, a.ID)
	assert.ErrorIs(t, err, db.ErrAssetNotFound)
	assert.ErrorIs(t, d.DeleteAsset(ctx, a.ID), db.ErrAssetNotFound)
	assert.ErrorIs(t, d.UpdateAsset(ctx, a), db.ErrAssetNotFound)
}

func testResolveAsset(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	item := NewItem(t, d, c, "item")
	a := NewAsset(c, item, "data.tif")
	require.NoError(t, d.CreateAsset(ctx, a))
	ca := NewAsset(c, nil, "thumb.png")
	require.NoError(t, d.CreateAsset(ctx, ca))

	res, err := db.ResolveAsset(ctx, d, types.AssetRef{Collection: "coll", Item: "item", Asset: "data.tif"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.Asset.ID)
	require.NotNil(t, res.Item)
	assert.Equal(t, item.ID, res.Item.ID)
	assert.Equal(t, types.AssetRef{Collection: "coll", Item: "item", Asset: "data.tif"}, res.Ref())

	res, err = db.ResolveAsset(ctx, d, types.AssetRef{Collection: "coll", Asset: "thumb.png"})
	require.NoError(t, err)
	assert.Equal(t, ca.ID, res.Asset.ID)
	assert.Nil(t, res.Item)

	tests := []struct {
		name string
		ref  types.AssetRef
		want error
	}{
		{name: "missing item asset", ref: types.AssetRef{Collection: "coll", Item: "item", Asset: "missing"}, want: db.ErrAssetNotFound},
		{name: "missing collection asset", ref: types.AssetRef{Collection: "coll", Asset: "data.tif"}, want: db.ErrAssetNotFound},
		{name: "missing item", ref: types.AssetRef{Collection: "coll", Item: "other", Asset: "data.tif"}, want: db.ErrItemNotFound},
		{name: "missing collection", ref: types.AssetRef{Collection: "other", Asset: "data.tif"}, want: db.ErrCollectionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := db.ResolveAsset(ctx, d, tt.ref)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}
}

func testUnknownSizeAssets(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")

	var unknown []uuid.UUID
	for _, name := range []string{"a", "b", "c"} {
		a := NewAsset(c, nil, name)
		require.NoError(t, d.CreateAsset(ctx, a))
		unknown = append(unknown, a.ID)
	}
	known := NewAsset(c, nil, "known")
	known.FileSize = Ptr(int64(10))
	require.NoError(t, d.CreateAsset(ctx, known))
	external := NewAsset(c, nil, "external")
	external.IsExternal = true
	require.NoError(t, d.CreateAsset(ctx, external))
	missing := NewAsset(c, nil, "missing")
	missing.FileSize = nil
	require.NoError(t, d.CreateAsset(ctx, missing))

	first, err := d.ListUnknownSizeAssets(ctx, uuid.Nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	rest, err := d.ListUnknownSizeAssets(ctx, first[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	var got []uuid.UUID
	for _, a := range append(first, rest...) {
		got = append(got, a.ID)
	}
	assert.ElementsMatch(t, unknown, got)
}

func testUploads(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	item := NewItem(t, d, c, "item")
	a := NewAsset(c, item, "asset.tif")
	require.NoError(t, d.CreateAsset(ctx, a))

	u := NewUpload(a, "upload-1")
	u.Checksum = "1220ff"
	u.ContentEncoding = "gzip"
	require.NoError(t, d.CreateUpload(ctx, u))

	second := NewUpload(a, "upload-2")
	assert.ErrorIs(t, d.CreateUpload(ctx, second), db.ErrDuplicateInProgress)

	got, err := d.GetInProgressUpload(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "upload-1", got.UploadID)
	assert.Equal(t, types.UploadModeMultipart, got.Mode)
	assert.Equal(t, "gzip", got.ContentEncoding)

	byID, err := d.GetUpload(ctx, a.ID, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byID.ID)

	now := time.Now().UnixNano()
	require.NoError(t, d.UpdateUploadStatus(ctx, u.ID, types.UploadStatusAborted, now))
	_, err = d.GetInProgressUpload(ctx, a.ID)
	assert.ErrorIs(t, err, db.ErrUploadNotFound)

	// A finished session no longer blocks a new one.
	second.CreatedAt = u.CreatedAt + 1
	require.NoError(t, d.CreateUpload(ctx, second))

	all, err := d.ListUploads(ctx, db.UploadFilter{AssetID: &a.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, types.UploadStatusAborted, all[0].Status)
	assert.Equal(t, now, all[0].EndedAt)
	assert.Equal(t, types.UploadStatusInProgress, all[1].Status)

	inProgress, err := d.ListUploads(ctx, db.UploadFilter{CollectionID: &c.ID, Status: types.UploadStatusInProgress})
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, second.ID, inProgress[0].ID)

	old, err := d.ListUploads(ctx, db.UploadFilter{CreatedBefore: second.CreatedAt})
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, u.ID, old[0].ID)

	limited, err := d.ListUploads(ctx, db.UploadFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	other := uuid.New()
	none, err := d.ListUploads(ctx, db.UploadFilter{CollectionID: &other})
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, d.DeleteAssetUploads(ctx, a.ID))
	all, err = d.ListUploads(ctx, db.UploadFilter{AssetID: &a.ID})
	require.NoError(t, err)
	assert.Empty(t, all)
	require.NoError(t, d.DeleteAsset(ctx, a.ID))
}

func testConcurrentInProgress(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	a := NewAsset(c, nil, "asset.tif")
	require.NoError(t, d.CreateAsset(ctx, a))

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.WithTx(ctx, func(tx db.TxStore) error {
				return tx.CreateUpload(ctx, NewUpload(a, uuid.NewString()))
			})
		}()
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, db.ErrDuplicateInProgress):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, dup)
}

func testParts(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	a := NewAsset(c, nil, "asset.tif")
	require.NoError(t, d.CreateAsset(ctx, a))
	u := NewUpload(a, "upload-1")
	require.NoError(t, d.CreateUpload(ctx, u))

	require.NoError(t, d.PutUploadPart(ctx, u.ID, &types.UploadPart{PartNumber: 2, ETag: "b", Size: 5}))
	require.NoError(t, d.PutUploadPart(ctx, u.ID, &types.UploadPart{PartNumber: 1, ETag: "a", Size: 5}))
	// Resubmission overwrites.
	require.NoError(t, d.PutUploadPart(ctx, u.ID, &types.UploadPart{PartNumber: 1, ETag: "a2", Size: 6}))

	parts, err := d.ListUploadParts(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, 1, parts[0].PartNumber)
	assert.Equal(t, "a2", parts[0].ETag)
	assert.Equal(t, int64(6), parts[0].Size)
	assert.Equal(t, 2, parts[1].PartNumber)
}

func testValueCounts(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	two := types.FloatValue(Ptr(2.0))

	require.NoError(t, d.IncrementValueCount(ctx, c.ID, types.DimensionGSD, two, 1))
	require.NoError(t, d.IncrementValueCount(ctx, c.ID, types.DimensionGSD, two, 2))
	require.NoError(t, d.IncrementValueCount(ctx, c.ID, types.DimensionGSD, types.NullValue, 1))

	vc, err := d.GetValueCount(ctx, c.ID, types.DimensionGSD, two)
	require.NoError(t, err)
	assert.Equal(t, int64(3), vc.Count)
	assert.Equal(t, "2", vc.Value.Value)

	null, err := d.GetValueCount(ctx, c.ID, types.DimensionGSD, types.NullValue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), null.Count)
	assert.False(t, null.Value.Valid)

	// Other dimensions are independent tables.
	_, err = d.GetValueCount(ctx, c.ID, types.DimensionLang, types.NullValue)
	assert.ErrorIs(t, err, db.ErrCounterNotFound)

	require.NoError(t, d.SetValueCount(ctx, c.ID, types.DimensionGSD, two, 9))
	vc, err = d.GetValueCount(ctx, c.ID, types.DimensionGSD, two)
	require.NoError(t, err)
	assert.Equal(t, int64(9), vc.Count)

	epsg := types.IntValue(Ptr(int64(2056)))
	require.NoError(t, d.SetValueCount(ctx, c.ID, types.DimensionProjEPSG, epsg, 4))
	list, err := d.ListValueCounts(ctx, c.ID, types.DimensionProjEPSG)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, epsg, list[0].Value)

	list, err = d.ListValueCounts(ctx, c.ID, types.DimensionGSD)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, d.DeleteValueCount(ctx, c.ID, types.DimensionGSD, two))
	_, err = d.GetValueCount(ctx, c.ID, types.DimensionGSD, two)
	assert.ErrorIs(t, err, db.ErrCounterNotFound)
	assert.ErrorIs(t, d.DeleteValueCount(ctx, c.ID, types.DimensionGSD, two), db.ErrCounterNotFound)
}

func testCountAssetValues(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	item := NewItem(t, d, c, "item")

	for i, gsd := range []*float64{Ptr(0.1), Ptr(0.1), Ptr(2.5), nil} {
		a := NewAsset(c, item, string(rune('a'+i)))
		a.GSD = gsd
		require.NoError(t, d.CreateAsset(ctx, a))
	}
	ca := NewAsset(c, nil, "overview")
	ca.GSD = Ptr(2.5)
	require.NoError(t, d.CreateAsset(ctx, ca))

	counts, err := d.CountAssetValues(ctx, c.ID, types.DimensionGSD)
	require.NoError(t, err)

	got := map[string]int64{}
	for _, vc := range counts {
		got[vc.Value.Key()] = vc.Count
	}
	assert.Equal(t, map[string]int64{
		"v:0.1": 2,
		"v:2.5": 2,
		"null":  1,
	}, got)

	langs, err := d.CountAssetValues(ctx, c.ID, types.DimensionLang)
	require.NoError(t, err)
	require.Len(t, langs, 1)
	assert.False(t, langs[0].Value.Valid)
	assert.Equal(t, int64(5), langs[0].Count)
}

func testAggregates(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	item := NewItem(t, d, c, "item")

	r, err := d.AggregateItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Rollup{TotalDataSize: 0, UpdateInterval: types.IntervalUnknown}, r)

	for i, iv := range []int64{60, -1, 10} {
		a := NewAsset(c, item, string(rune('a'+i)))
		a.UpdateInterval = iv
		a.FileSize = Ptr(int64(100))
		require.NoError(t, d.CreateAsset(ctx, a))
	}
	broken := NewAsset(c, item, "broken")
	broken.FileSize = nil
	require.NoError(t, d.CreateAsset(ctx, broken))

	r, err = d.AggregateItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Rollup{TotalDataSize: 300, UpdateInterval: 10}, r)
	require.NoError(t, d.UpdateItemRollup(ctx, item.ID, r))

	ca := NewAsset(c, nil, "overview")
	ca.UpdateInterval = 30
	ca.FileSize = Ptr(int64(5))
	require.NoError(t, d.CreateAsset(ctx, ca))

	r, err = d.AggregateCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Rollup{TotalDataSize: 305, UpdateInterval: 10}, r)
}

func testTxRollback(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	boom := errors.New("boom")

	err := d.WithTx(ctx, func(tx db.TxStore) error {
		require.NoError(t, tx.IncrementValueCount(ctx, c.ID, types.DimensionLang, types.NullValue, 1))
		require.NoError(t, tx.UpdateCollectionRollup(ctx, c.ID, types.Rollup{TotalDataSize: 99, UpdateInterval: 5}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = d.GetValueCount(ctx, c.ID, types.DimensionLang, types.NullValue)
	assert.ErrorIs(t, err, db.ErrCounterNotFound)
	got, err := d.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TotalDataSize)

	err = d.WithTx(ctx, func(tx db.TxStore) error {
		return tx.IncrementValueCount(ctx, c.ID, types.DimensionLang, types.NullValue, 1)
	})
	require.NoError(t, err)
	vc, err := d.GetValueCount(ctx, c.ID, types.DimensionLang, types.NullValue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), vc.Count)
}

func testLocks(t *testing.T, d db.DB) {
	ctx := context.Background()
	c := NewCollection(t, d, "coll")
	item := NewItem(t, d, c, "item")
	a := NewAsset(c, item, "asset")
	require.NoError(t, d.CreateAsset(ctx, a))
	u := NewUpload(a, "upload-1")
	require.NoError(t, d.CreateUpload(ctx, u))
	require.NoError(t, d.IncrementValueCount(ctx, c.ID, types.DimensionVariant, types.NullValue, 1))

	err := d.WithTx(ctx, func(tx db.TxStore) error {
		la, err := tx.LockAsset(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Name, la.Name)

		lu, err := tx.LockUpload(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, types.UploadStatusInProgress, lu.Status)

		vc, err := tx.LockValueCount(ctx, c.ID, types.DimensionVariant, types.NullValue)
		require.NoError(t, err)
		assert.Equal(t, int64(1), vc.Count)

		_, err = tx.LockValueCount(ctx, c.ID, types.DimensionVariant, types.StringValue(Ptr("x")))
		assert.ErrorIs(t, err, db.ErrCounterNotFound)

		li, err := tx.LockItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, item.Name, li.Name)

		lc, err := tx.LockCollection(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Name, lc.Name)

		_, err = tx.LockAsset(ctx, uuid.New())
		assert.ErrorIs(t, err, db.ErrAssetNotFound)
		return nil
	})
	require.NoError(t, err)
}
