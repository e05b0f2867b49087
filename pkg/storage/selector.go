// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Selector maps a collection to a bucket id. The mapping depends only on the
// bucket set and the pins, so every process with the same configuration
// resolves the same bucket.
//
// Selection uses rendezvous hashing: removing a bucket moves only the
// collections that were assigned to it, adding one moves roughly 1/n of
// them. Both are still visible moves for stored objects, so collections that
// already hold data must be pinned before the bucket set changes.
type Selector struct {
	buckets []string
	pins    map[string]string
}

// NewSelector builds a selector over bucket ids. Pins must reference one of
// the configured buckets.
func NewSelector(buckets []string, pins map[string]string) (*Selector, error) {
	ids := slices.Clone(buckets)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("%w: empty bucket id", ErrInvalidIdentifier)
		}
	}

	p := make(map[string]string, len(pins))
	for collection, id := range pins {
		if _, ok := slices.BinarySearch(ids, id); !ok {
			return nil, fmt.Errorf("pin %q: %w %q", collection, ErrUnknownBucket, id)
		}
		p[collection] = id
	}

	return &Selector{buckets: ids, pins: p}, nil
}

// Select returns the bucket id for a collection.
func (s *Selector) Select(collection string) (string, error) {
	if len(s.buckets) == 0 {
		return "", ErrNoBuckets
	}
	if id, ok := s.pins[collection]; ok {
		return id, nil
	}

	var (
		best      string
		bestScore uint64
	)
	for _, id := range s.buckets {
		score := rendezvousScore(collection, id)
		if best == "" || score > bestScore {
			best, bestScore = id, score
		}
	}
	return best, nil
}

// Buckets returns the sorted bucket ids.
func (s *Selector) Buckets() []string {
	return slices.Clone(s.buckets)
}

func rendezvousScore(collection, bucket string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(collection)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(bucket)
	return d.Sum64()
}
