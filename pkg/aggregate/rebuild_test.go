// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"context"
	"math"
	"testing"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/dbtest"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuild_CorrectsDrift(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		ctx := context.Background()
		m := New()
		c := dbtest.NewCollection(t, d, "c1")
		dbtest.NewCollection(t, d, "c2")
		item := dbtest.NewItem(t, d, c, "i1")

		a := dbtest.NewAsset(c, item, "a")
		a.GSD = dbtest.Ptr(0.1)
		a.UpdateInterval = 60
		a.FileSize = dbtest.Ptr(int64(10))
		create(t, d, m, a)

		// Bulk surgery that bypassed the maintainer.
		require.NoError(t, d.SetValueCount(ctx, c.ID, types.DimensionGSD, types.FloatValue(a.GSD), 7))
		require.NoError(t, d.SetValueCount(ctx, c.ID, types.DimensionLang, types.StringValue(dbtest.Ptr("rm")), 2))
		require.NoError(t, d.DeleteValueCount(ctx, c.ID, types.DimensionVariant, types.NullValue))
		require.NoError(t, d.UpdateItemRollup(ctx, item.ID, types.Rollup{TotalDataSize: 1, UpdateInterval: 5}))
		require.NoError(t, d.UpdateCollectionRollup(ctx, c.ID, types.Rollup{TotalDataSize: 1, UpdateInterval: 5}))

		report, err := m.Rebuild(ctx, d, "c1")
		require.NoError(t, err)
		require.Len(t, report.Collections, 1)
		cr := report.Collections[0]
		assert.Equal(t, "c1", cr.Collection)
		assert.Equal(t, 3, cr.CountersFixed)
		assert.Equal(t, 1, cr.ItemsFixed)
		assert.True(t, cr.CollectionFixed)

		for _, dim := range types.Dimensions {
			assert.Equal(t, groupBy(t, d, c, dim), counts(t, d, c, dim), dim)
		}
		got, err := d.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(60), got.UpdateInterval)
		assert.Equal(t, int64(10), got.TotalDataSize)
		coll, err := d.GetCollection(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(60), coll.UpdateInterval)
		assert.Equal(t, int64(10), coll.TotalDataSize)

		// Second pass over every collection: nothing left to fix.
		report, err = m.Rebuild(ctx, d)
		require.NoError(t, err)
		assert.Len(t, report.Collections, 2)
		assert.Empty(t, report.Drifted())
	})
}

func TestRebuild_SignedZeroIsOneValue(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		ctx := context.Background()
		m := New()
		c := dbtest.NewCollection(t, d, "c1")
		item := dbtest.NewItem(t, d, c, "i1")

		for name, gsd := range map[string]float64{"pos": 0, "neg": math.Copysign(0, -1)} {
			a := dbtest.NewAsset(c, item, name)
			a.GSD = dbtest.Ptr(gsd)
			create(t, d, m, a)
		}
		assert.Equal(t, map[string]int64{"0": 2}, counts(t, d, c, types.DimensionGSD))

		report, err := m.Rebuild(ctx, d, "c1")
		require.NoError(t, err)
		assert.Empty(t, report.Drifted())
		assert.Equal(t, map[string]int64{"0": 2}, counts(t, d, c, types.DimensionGSD))
	})
}

func TestRebuild_UnknownCollection(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		_, err := New().Rebuild(context.Background(), d, "missing")
		require.ErrorIs(t, err, db.ErrCollectionNotFound)
	})
}
