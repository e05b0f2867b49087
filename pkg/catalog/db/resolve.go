// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/stacasset/pkg/types"
)

// Resolved is an asset together with its owning collection and item.
type Resolved struct {
	Collection *types.Collection
	Item       *types.Item // nil for collection assets
	Asset      *types.Asset
}

// ResolveAsset looks up an asset by its catalog names.
func ResolveAsset(ctx context.Context, s Store, ref types.AssetRef) (*Resolved, error) {
	coll, err := s.GetCollectionByName(ctx, ref.Collection)
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", ref.Collection, err)
	}
	res := &Resolved{Collection: coll}
	if !ref.IsCollectionAsset() {
		res.Item, err = s.GetItemByName(ctx, coll.ID, ref.Item)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", ref.Item, err)
		}
		res.Asset, err = s.GetAssetByName(ctx, coll.ID, &res.Item.ID, ref.Asset)
	} else {
		res.Asset, err = s.GetAssetByName(ctx, coll.ID, nil, ref.Asset)
	}
	if err != nil {
		return nil, fmt.Errorf("asset %q: %w", ref.String(), err)
	}
	return res, nil
}

// Ref rebuilds the catalog reference of a resolved asset.
func (r *Resolved) Ref() types.AssetRef {
	ref := types.AssetRef{Collection: r.Collection.Name, Asset: r.Asset.Name}
	if r.Item != nil {
		ref.Item = r.Item.Name
	}
	return ref
}
