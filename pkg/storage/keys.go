// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/stacasset/pkg/types"
)

// ObjectKey builds the persisted key of an asset: {collection}/{item}/{asset}
// for item assets and {collection}/{asset} when item is empty.
func ObjectKey(collection, item, asset string) (string, error) {
	c, err := keySegment("collection", collection, true)
	if err != nil {
		return "", err
	}
	i, err := keySegment("item", item, false)
	if err != nil {
		return "", err
	}
	a, err := keySegment("asset", asset, true)
	if err != nil {
		return "", err
	}
	if i == "" {
		return c + "/" + a, nil
	}
	return c + "/" + i + "/" + a, nil
}

// KeyFor is ObjectKey over an AssetRef.
func KeyFor(ref types.AssetRef) (string, error) {
	return ObjectKey(ref.Collection, ref.Item, ref.Asset)
}

func keySegment(field, value string, required bool) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		if required || value != "" {
			return "", fmt.Errorf("%w: empty %s", ErrInvalidIdentifier, field)
		}
		return "", nil
	}
	if strings.Contains(v, "/") {
		return "", fmt.Errorf("%w: %s %q contains '/'", ErrInvalidIdentifier, field, v)
	}
	return v, nil
}
