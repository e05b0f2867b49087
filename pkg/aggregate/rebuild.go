// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/logger"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
)

// CollectionReport lists what a rebuild corrected in one collection.
type CollectionReport struct {
	Collection      string
	CountersFixed   int
	ItemsFixed      int
	CollectionFixed bool
}

// Drift reports whether anything had to be corrected.
func (r CollectionReport) Drift() bool {
	return r.CountersFixed > 0 || r.ItemsFixed > 0 || r.CollectionFixed
}

// RebuildReport summarizes a rebuild run.
type RebuildReport struct {
	Collections []CollectionReport
}

// Drifted returns the collections that needed corrections.
func (r *RebuildReport) Drifted() []CollectionReport {
	var out []CollectionReport
	for _, c := range r.Collections {
		if c.Drift() {
			out = append(out, c)
		}
	}
	return out
}

// Rebuild recomputes every derived value of the named collections (all
// collections when names is empty) from the asset rows and writes back the
// rows that differ. Each collection is rebuilt in its own transaction.
func (m *Maintainer) Rebuild(ctx context.Context, database db.DB, names ...string) (*RebuildReport, error) {
	var collections []*types.Collection
	if len(names) == 0 {
		all, err := database.ListCollections(ctx)
		if err != nil {
			return nil, fmt.Errorf("list collections: %w", err)
		}
		collections = all
	} else {
		for _, name := range names {
			c, err := database.GetCollectionByName(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("collection %q: %w", name, err)
			}
			collections = append(collections, c)
		}
	}

	report := &RebuildReport{}
	for _, c := range collections {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		start := time.Now()
		var cr CollectionReport
		err := database.WithTx(ctx, func(tx db.TxStore) error {
			var err error
			cr, err = m.rebuildCollection(ctx, tx, c.ID)
			return err
		})
		rebuildDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return report, fmt.Errorf("rebuild %q: %w", c.Name, err)
		}
		cr.Collection = c.Name
		report.Collections = append(report.Collections, cr)

		if cr.Drift() {
			logger.Warn().
				Str("collection", c.Name).
				Int("counters_fixed", cr.CountersFixed).
				Int("items_fixed", cr.ItemsFixed).
				Bool("collection_fixed", cr.CollectionFixed).
				Msg("aggregate drift corrected")
		}
	}
	return report, nil
}

// rebuildCollection follows the write-path lock order: value counts, then
// items, then the collection.
func (m *Maintainer) rebuildCollection(ctx context.Context, tx db.TxStore, collectionID uuid.UUID) (CollectionReport, error) {
	var cr CollectionReport

	for _, dim := range types.Dimensions {
		fixed, err := rebuildCounters(ctx, tx, collectionID, dim)
		if err != nil {
			return cr, err
		}
		cr.CountersFixed += fixed
	}

	items, err := tx.ListItems(ctx, collectionID)
	if err != nil {
		return cr, fmt.Errorf("list items: %w", err)
	}
	slices.SortFunc(items, func(a, b *types.Item) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	for _, item := range items {
		changed, err := m.refreshItem(ctx, tx, item.ID)
		if err != nil {
			return cr, err
		}
		if changed {
			cr.ItemsFixed++
			driftDetected.WithLabelValues("item", "rebuild").Inc()
		}
	}

	changed, err := m.refreshCollection(ctx, tx, collectionID)
	if err != nil {
		return cr, err
	}
	if changed {
		cr.CollectionFixed = true
		driftDetected.WithLabelValues("collection", "rebuild").Inc()
	}
	return cr, nil
}

// rebuildCounters rewrites one dimension's counts from a GROUP BY over the
// assets and returns the number of rows corrected.
func rebuildCounters(ctx context.Context, tx db.TxStore, collectionID uuid.UUID, dim types.Dimension) (int, error) {
	want, err := tx.CountAssetValues(ctx, collectionID, dim)
	if err != nil {
		return 0, err
	}
	have, err := tx.ListValueCounts(ctx, collectionID, dim)
	if err != nil {
		return 0, err
	}

	stored := make(map[string]int64, len(have))
	for _, vc := range have {
		stored[vc.Value.Key()] = vc.Count
	}

	slices.SortFunc(want, func(a, b *types.ValueCount) int {
		return strings.Compare(a.Value.Key(), b.Value.Key())
	})

	fixed := 0
	for _, vc := range want {
		key := vc.Value.Key()
		count, ok := stored[key]
		delete(stored, key)
		if ok && count == vc.Count {
			continue
		}
		if err := tx.SetValueCount(ctx, collectionID, dim, vc.Value, vc.Count); err != nil {
			return fixed, err
		}
		fixed++
		driftDetected.WithLabelValues("counter", "rebuild").Inc()
	}

	// Rows left over have no live asset behind them.
	for _, vc := range have {
		if _, stale := stored[vc.Value.Key()]; !stale {
			continue
		}
		if err := tx.DeleteValueCount(ctx, collectionID, dim, vc.Value); err != nil {
			return fixed, err
		}
		fixed++
		driftDetected.WithLabelValues("counter", "rebuild").Inc()
	}
	return fixed, nil
}
