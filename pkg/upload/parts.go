// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/LeeDigitalWorks/stacasset/pkg/storage"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"
)

// DecodeParts parses the parts field of a completion request body. The
// field must be present and must be a JSON list.
func DecodeParts(raw json.RawMessage) ([]PartEntry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, partsError("this field is required", nil)
	}
	if trimmed[0] != '[' {
		return nil, partsError("expected a list of parts", nil)
	}
	var parts []PartEntry
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return nil, partsError("malformed parts list", err)
	}
	return parts, nil
}

// ValidateParts checks a submitted parts list against the registered parts:
// non-empty, strictly ascending unique part numbers, and every entry
// registered with the same ETag. Quotes around ETags are ignored.
func ValidateParts(submitted []PartEntry, registered []*types.UploadPart) error {
	if err := storage.CheckCompletedParts(toStorageParts(submitted)); err != nil {
		return partsError("invalid parts list", err)
	}

	known := make(map[int]string, len(registered))
	for _, p := range registered {
		known[p.PartNumber] = storage.NormalizeETag(p.ETag)
	}
	for _, p := range submitted {
		etag, ok := known[p.PartNumber]
		if !ok {
			return partsError(fmt.Sprintf("part %d was not registered", p.PartNumber), nil)
		}
		if etag != storage.NormalizeETag(p.ETag) {
			return partsError(fmt.Sprintf("part %d etag does not match the registered part", p.PartNumber), nil)
		}
	}
	return nil
}

func toStorageParts(entries []PartEntry) []storage.Part {
	out := make([]storage.Part, len(entries))
	for i, p := range entries {
		out[i] = storage.Part{PartNumber: p.PartNumber, ETag: p.ETag}
	}
	return out
}
