// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"strings"
)

// CheckCompletedParts verifies a completion list before it is sent to the
// backend: non-empty, part numbers in 1..MaxPartNumber, strictly ascending,
// each with an ETag.
func CheckCompletedParts(parts []Part) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: no parts", ErrInvalidParts)
	}
	prev := 0
	for i, p := range parts {
		if p.PartNumber < 1 || p.PartNumber > MaxPartNumber {
			return fmt.Errorf("%w: part %d has number %d out of range", ErrInvalidParts, i, p.PartNumber)
		}
		if p.PartNumber == prev {
			return fmt.Errorf("%w: duplicate part number %d", ErrInvalidParts, p.PartNumber)
		}
		if p.PartNumber < prev {
			return fmt.Errorf("%w: part %d listed after part %d", ErrInvalidParts, p.PartNumber, prev)
		}
		if NormalizeETag(p.ETag) == "" {
			return fmt.Errorf("%w: part %d has no etag", ErrInvalidParts, p.PartNumber)
		}
		prev = p.PartNumber
	}
	return nil
}

// NormalizeETag strips surrounding quotes and whitespace.
func NormalizeETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}

// QuoteETag returns the quoted form S3 expects in completion requests.
func QuoteETag(etag string) string {
	return `"` + NormalizeETag(etag) + `"`
}
