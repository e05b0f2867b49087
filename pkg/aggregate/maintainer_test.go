// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/dbtest"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/memory"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/sqlite"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var openers = map[string]dbtest.Opener{
	"memory": func(t *testing.T) db.DB {
		return memory.New()
	},
	"sqlite": func(t *testing.T) db.DB {
		t.Helper()
		d, err := sqlite.New(filepath.Join(t.TempDir(), "catalog.db"))
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		require.NoError(t, d.Migrate(context.Background()))
		return d
	},
}

// forEachDB runs fn against every database implementation.
func forEachDB(t *testing.T, fn func(t *testing.T, d db.DB)) {
	for name, open := range openers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, open(t))
		})
	}
}

func create(t *testing.T, d db.DB, m *Maintainer, a *types.Asset) {
	t.Helper()
	err := d.WithTx(context.Background(), func(tx db.TxStore) error {
		if err := tx.CreateAsset(context.Background(), a); err != nil {
			return err
		}
		return m.AssetCreated(context.Background(), tx, a)
	})
	require.NoError(t, err)
}

func update(t *testing.T, d db.DB, m *Maintainer, id uuid.UUID, fn func(a *types.Asset)) {
	t.Helper()
	ctx := context.Background()
	err := d.WithTx(ctx, func(tx db.TxStore) error {
		old, err := tx.LockAsset(ctx, id)
		if err != nil {
			return err
		}
		updated := old.Clone()
		fn(updated)
		if err := tx.UpdateAsset(ctx, updated); err != nil {
			return err
		}
		return m.AssetUpdated(ctx, tx, old, updated)
	})
	require.NoError(t, err)
}

func remove(t *testing.T, d db.DB, m *Maintainer, a *types.Asset) {
	t.Helper()
	ctx := context.Background()
	err := d.WithTx(ctx, func(tx db.TxStore) error {
		current, err := tx.LockAsset(ctx, a.ID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAsset(ctx, a.ID); err != nil {
			return err
		}
		return m.AssetDeleted(ctx, tx, current)
	})
	require.NoError(t, err)
}

// counts flattens a dimension's counter rows to value -> count.
func counts(t *testing.T, d db.Store, c *types.Collection, dim types.Dimension) map[string]int64 {
	t.Helper()
	rows, err := d.ListValueCounts(context.Background(), c.ID, dim)
	require.NoError(t, err)
	out := map[string]int64{}
	for _, vc := range rows {
		out[vc.Value.String()] = vc.Count
	}
	return out
}

func groupBy(t *testing.T, d db.Store, c *types.Collection, dim types.Dimension) map[string]int64 {
	t.Helper()
	rows, err := d.CountAssetValues(context.Background(), c.ID, dim)
	require.NoError(t, err)
	out := map[string]int64{}
	for _, vc := range rows {
		out[vc.Value.String()] = vc.Count
	}
	return out
}

func TestGSDCountFollowsUpdates(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		m := New()
		c := dbtest.NewCollection(t, d, "c1")
		item := dbtest.NewItem(t, d, c, "i1")

		a := dbtest.NewAsset(c, item, "a.tif")
		a.GSD = dbtest.Ptr(2.0)
		create(t, d, m, a)
		assert.Equal(t, map[string]int64{"2": 1}, counts(t, d, c, types.DimensionGSD))

		update(t, d, m, a.ID, func(a *types.Asset) { a.GSD = dbtest.Ptr(4.0) })
		assert.Equal(t, map[string]int64{"4": 1}, counts(t, d, c, types.DimensionGSD))

		_, err := d.GetValueCount(context.Background(), c.ID, types.DimensionGSD, types.FloatValue(dbtest.Ptr(2.0)))
		assert.ErrorIs(t, err, db.ErrCounterNotFound)
	})
}

func TestNullValuesAreCounted(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		m := New()
		c := dbtest.NewCollection(t, d, "c1")
		item := dbtest.NewItem(t, d, c, "i1")

		a := dbtest.NewAsset(c, item, "a")
		b := dbtest.NewAsset(c, nil, "b")
		b.Lang = dbtest.Ptr("de")
		create(t, d, m, a)
		create(t, d, m, b)

		assert.Equal(t, map[string]int64{"<null>": 1, "de": 1}, counts(t, d, c, types.DimensionLang))
		assert.Equal(t, map[string]int64{"<null>": 2}, counts(t, d, c, types.DimensionProjEPSG))

		remove(t, d, m, a)
		assert.Equal(t, map[string]int64{"de": 1}, counts(t, d, c, types.DimensionLang))
		assert.Equal(t, map[string]int64{"<null>": 1}, counts(t, d, c, types.DimensionVariant))
	})
}

func TestItemIntervalRollup(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		ctx := context.Background()
		m := New()
		c := dbtest.NewCollection(t, d, "c1")
		item := dbtest.NewItem(t, d, c, "i1")

		var ten *types.Asset
		for i, interval := range []int64{60, -1, 10} {
			a := dbtest.NewAsset(c, item, fmt.Sprintf("a%d", i))
			a.UpdateInterval = interval
			a.FileSize = dbtest.Ptr(int64(100))
			create(t, d, m, a)
			if interval == 10 {
				ten = a
			}
		}

		got, err := d.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.UpdateInterval)
		assert.Equal(t, int64(300), got.TotalDataSize)

		coll, err := d.GetCollection(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10), coll.UpdateInterval)
		assert.Equal(t, int64(300), coll.TotalDataSize)

		remove(t, d, m, ten)

		got, err = d.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(60), got.UpdateInterval)
		assert.Equal(t, int64(200), got.TotalDataSize)

		coll, err = d.GetCollection(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(60), coll.UpdateInterval)
	})
}

func TestCollectionIntervalIncludesOwnAssets(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		ctx := context.Background()
		m := New()
		c := dbtest.NewCollection(t, d, "c1")
		item := dbtest.NewItem(t, d, c, "i1")

		ia := dbtest.NewAsset(c, item, "data.tif")
		ia.UpdateInterval = 3600
		create(t, d, m, ia)

		ca := dbtest.NewAsset(c, nil, "legend.pdf")
		ca.UpdateInterval = 0
		ca.FileSize = dbtest.Ptr(int64(5))
		create(t, d, m, ca)

		coll, err := d.GetCollection(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, types.IntervalAlwaysStale, coll.UpdateInterval)
		assert.Equal(t, int64(5), coll.TotalDataSize)

		update(t, d, m, ca.ID, func(a *types.Asset) { a.UpdateInterval = types.IntervalUnknown })
		coll, err = d.GetCollection(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3600), coll.UpdateInterval)

		// Only -1 left.
		update(t, d, m, ia.ID, func(a *types.Asset) { a.UpdateInterval = types.IntervalUnknown })
		coll, err = d.GetCollection(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, types.IntervalUnknown, coll.UpdateInterval)
	})
}

func TestItemRemoved(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		ctx := context.Background()
		m := New()
		c := dbtest.NewCollection(t, d, "c1")
		item := dbtest.NewItem(t, d, c, "i1")
		a := dbtest.NewAsset(c, item, "a")
		a.UpdateInterval = 30
		create(t, d, m, a)
		remove(t, d, m, a)

		// Rollups are already back to -1 once the asset is gone; deleting
		// the item must keep them there.
		err := d.WithTx(ctx, func(tx db.TxStore) error {
			if err := tx.DeleteItem(ctx, item.ID); err != nil {
				return err
			}
			return m.ItemRemoved(ctx, tx, c.ID)
		})
		require.NoError(t, err)

		coll, err := d.GetCollection(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, types.IntervalUnknown, coll.UpdateInterval)
	})
}

func TestItemAssetsDeleted(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		ctx := context.Background()
		m := New()
		c := dbtest.NewCollection(t, d, "c1")
		item := dbtest.NewItem(t, d, c, "i1")

		var assets []*types.Asset
		for i, lang := range []string{"de", "de", "fr"} {
			a := dbtest.NewAsset(c, item, fmt.Sprintf("a%d", i))
			a.Lang = dbtest.Ptr(lang)
			a.UpdateInterval = int64(10 * (i + 1))
			a.FileSize = dbtest.Ptr(int64(100))
			create(t, d, m, a)
			assets = append(assets, a)
		}
		kept := dbtest.NewAsset(c, nil, "readme")
		kept.Lang = dbtest.Ptr("de")
		kept.UpdateInterval = 600
		create(t, d, m, kept)

		err := d.WithTx(ctx, func(tx db.TxStore) error {
			for _, a := range assets {
				if err := tx.DeleteAsset(ctx, a.ID); err != nil {
					return err
				}
			}
			if err := m.ItemAssetsDeleted(ctx, tx, assets); err != nil {
				return err
			}
			if err := tx.DeleteItem(ctx, item.ID); err != nil {
				return err
			}
			return m.ItemRemoved(ctx, tx, c.ID)
		})
		require.NoError(t, err)

		assert.Equal(t, map[string]int64{"de": 1}, counts(t, d, c, types.DimensionLang))
		assert.Equal(t, map[string]int64{"<null>": 1}, counts(t, d, c, types.DimensionGSD))
		coll, err := d.GetCollection(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(600), coll.UpdateInterval)
		assert.Zero(t, coll.TotalDataSize)
	})
}

func TestMergeDeltas(t *testing.T) {
	t.Parallel()
	coll := &types.Collection{ID: uuid.New()}
	a := dbtest.NewAsset(coll, nil, "a")
	a.Lang = dbtest.Ptr("fr")
	b := dbtest.NewAsset(coll, nil, "b")
	b.Lang = dbtest.Ptr("de")
	c := dbtest.NewAsset(coll, nil, "c")
	c.Lang = dbtest.Ptr("fr")

	var langs []delta
	for _, d := range mergeDeltas([]*types.Asset{a, b, c}) {
		if d.dim == types.DimensionLang {
			langs = append(langs, d)
		}
	}
	require.Len(t, langs, 2)
	assert.Equal(t, "de", langs[0].value.String())
	assert.Equal(t, int64(-1), langs[0].by)
	assert.Equal(t, "fr", langs[1].value.String())
	assert.Equal(t, int64(-2), langs[1].by)
}

func TestMissingCounterOnDecrementIsDrift(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		ctx := context.Background()
		m := New()
		c := dbtest.NewCollection(t, d, "c1")
		a := dbtest.NewAsset(c, nil, "a")
		a.Lang = dbtest.Ptr("fr")
		create(t, d, m, a)

		require.NoError(t, d.DeleteValueCount(ctx, c.ID, types.DimensionLang, types.StringValue(dbtest.Ptr("fr"))))

		// The delete still succeeds.
		remove(t, d, m, a)
		assert.Empty(t, counts(t, d, c, types.DimensionLang))
	})
}

func TestRandomHistoryMatchesGroupBy(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		ctx := context.Background()
		m := New()
		rng := rand.New(rand.NewPCG(1, 2))
		c := dbtest.NewCollection(t, d, "c1")
		items := []*types.Item{dbtest.NewItem(t, d, c, "i1"), dbtest.NewItem(t, d, c, "i2"), nil}

		gsds := []*float64{nil, dbtest.Ptr(0.5), dbtest.Ptr(2.0)}
		langs := []*string{nil, dbtest.Ptr("de"), dbtest.Ptr("fr"), dbtest.Ptr("it")}
		epsgs := []*int64{nil, dbtest.Ptr(int64(2056)), dbtest.Ptr(int64(4326))}
		intervals := []int64{-1, 0, 60, 3600}

		var live []*types.Asset
		for step := 0; step < 120; step++ {
			switch op := rng.IntN(3); {
			case op == 0 || len(live) == 0:
				a := dbtest.NewAsset(c, items[rng.IntN(len(items))], fmt.Sprintf("a%d", step))
				a.GSD = gsds[rng.IntN(len(gsds))]
				a.Lang = langs[rng.IntN(len(langs))]
				a.ProjEPSG = epsgs[rng.IntN(len(epsgs))]
				a.UpdateInterval = intervals[rng.IntN(len(intervals))]
				a.FileSize = dbtest.Ptr(rng.Int64N(1000))
				create(t, d, m, a)
				live = append(live, a)
			case op == 1:
				a := live[rng.IntN(len(live))]
				update(t, d, m, a.ID, func(a *types.Asset) {
					a.GSD = gsds[rng.IntN(len(gsds))]
					a.Variant = langs[rng.IntN(len(langs))]
					a.UpdateInterval = intervals[rng.IntN(len(intervals))]
					a.FileSize = dbtest.Ptr(rng.Int64N(1000))
				})
			default:
				i := rng.IntN(len(live))
				remove(t, d, m, live[i])
				live = append(live[:i], live[i+1:]...)
			}
		}

		for _, dim := range types.Dimensions {
			if diff := cmp.Diff(groupBy(t, d, c, dim), counts(t, d, c, dim)); diff != "" {
				t.Errorf("%s counts drifted (-want +got):\n%s", dim, diff)
			}
		}

		for _, item := range items[:2] {
			stored, err := d.GetItem(ctx, item.ID)
			require.NoError(t, err)
			want, err := d.AggregateItem(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, want, types.Rollup{TotalDataSize: stored.TotalDataSize, UpdateInterval: stored.UpdateInterval})
		}
		coll, err := d.GetCollection(ctx, c.ID)
		require.NoError(t, err)
		want, err := d.AggregateCollection(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, want, types.Rollup{TotalDataSize: coll.TotalDataSize, UpdateInterval: coll.UpdateInterval})

		// A rebuild over consistent state finds nothing to fix.
		report, err := m.Rebuild(ctx, d)
		require.NoError(t, err)
		assert.Empty(t, report.Drifted())
	})
}

func TestConcurrentWritersDoNotLoseCounts(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		m := New()
		c := dbtest.NewCollection(t, d, "c1")
		item := dbtest.NewItem(t, d, c, "i1")

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a := dbtest.NewAsset(c, item, fmt.Sprintf("a%d", i))
				a.GSD = dbtest.Ptr(1.0)
				errs <- d.WithTx(context.Background(), func(tx db.TxStore) error {
					if err := tx.CreateAsset(context.Background(), a); err != nil {
						return err
					}
					return m.AssetCreated(context.Background(), tx, a)
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		assert.Equal(t, map[string]int64{"1": writers}, counts(t, d, c, types.DimensionGSD))
	})
}

func TestCounterDeltasOrder(t *testing.T) {
	t.Parallel()

	old := &types.Asset{Lang: dbtest.Ptr("fr"), GSD: dbtest.Ptr(2.0)}
	updated := &types.Asset{Lang: dbtest.Ptr("de"), GSD: dbtest.Ptr(2.0)}

	ds := counterDeltas(old, updated)
	require.Len(t, ds, 2)
	assert.Equal(t, types.DimensionLang, ds[0].dim)
	assert.Equal(t, "de", ds[0].value.Value)
	assert.Equal(t, int64(1), ds[0].by)
	assert.Equal(t, "fr", ds[1].value.Value)
	assert.Equal(t, int64(-1), ds[1].by)

	created := counterDeltas(nil, updated)
	dims := make([]string, len(created))
	for i, d := range created {
		dims[i] = string(d.dim)
	}
	assert.Equal(t, []string{"gsd", "lang", "variant", "proj_epsg"}, dims)
}
