// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector_Deterministic(t *testing.T) {
	t.Parallel()

	a, err := NewSelector([]string{"b1", "b2", "b3"}, nil)
	require.NoError(t, err)
	// Input order does not matter.
	b, err := NewSelector([]string{"b3", "b1", "b2", "b1"}, nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		c := fmt.Sprintf("collection-%d", i)
		x, err := a.Select(c)
		require.NoError(t, err)
		y, err := b.Select(c)
		require.NoError(t, err)
		assert.Equal(t, x, y, c)

		again, _ := a.Select(c)
		assert.Equal(t, x, again)
	}
}

func TestSelector_Spread(t *testing.T) {
	t.Parallel()

	s, err := NewSelector([]string{"b1", "b2", "b3"}, nil)
	require.NoError(t, err)

	counts := map[string]int{}
	for i := 0; i < 300; i++ {
		id, err := s.Select(fmt.Sprintf("collection-%d", i))
		require.NoError(t, err)
		counts[id]++
	}
	assert.Len(t, counts, 3)
	for id, n := range counts {
		assert.Greater(t, n, 50, id)
	}
}

func TestSelector_RemovingBucketOnlyMovesItsCollections(t *testing.T) {
	t.Parallel()

	before, err := NewSelector([]string{"b1", "b2", "b3"}, nil)
	require.NoError(t, err)
	after, err := NewSelector([]string{"b1", "b2"}, nil)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		c := fmt.Sprintf("collection-%d", i)
		x, _ := before.Select(c)
		y, _ := after.Select(c)
		if x != "b3" {
			assert.Equal(t, x, y, c)
		}
	}
}

func TestSelector_Pins(t *testing.T) {
	t.Parallel()

	s, err := NewSelector([]string{"b1", "b2"}, map[string]string{"pinned": "b2", "other": "b1"})
	require.NoError(t, err)

	id, err := s.Select("pinned")
	require.NoError(t, err)
	assert.Equal(t, "b2", id)
	id, err = s.Select("other")
	require.NoError(t, err)
	assert.Equal(t, "b1", id)

	_, err = NewSelector([]string{"b1"}, map[string]string{"c": "missing"})
	require.ErrorIs(t, err, ErrUnknownBucket)
}

func TestSelector_Empty(t *testing.T) {
	t.Parallel()

	s, err := NewSelector(nil, nil)
	require.NoError(t, err)
	_, err = s.Select("c1")
	require.ErrorIs(t, err, ErrNoBuckets)

	_, err = NewSelector([]string{""}, nil)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}
