// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"strconv"

	"github.com/google/uuid"
)

// Dimension is an asset attribute whose per-collection value distribution
// is kept in a counter table.
type Dimension string

const (
	DimensionGSD      Dimension = "gsd"
	DimensionLang     Dimension = "lang"
	DimensionVariant  Dimension = "variant"
	DimensionProjEPSG Dimension = "proj_epsg"
)

// Dimensions lists every tracked dimension in a fixed order. Counter rows
// are always locked in this order.
var Dimensions = []Dimension{
	DimensionGSD,
	DimensionLang,
	DimensionVariant,
	DimensionProjEPSG,
}

// Valid reports whether d is a tracked dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionGSD, DimensionLang, DimensionVariant, DimensionProjEPSG:
		return true
	}
	return false
}

// nullValueKey is the counter key of an unset dimension. Real values are
// prefixed so they can never collide with it.
const nullValueKey = "null"

// DimensionValue is a nullable dimension value in canonical string form.
type DimensionValue struct {
	Value string
	Valid bool
}

// NullValue is the unset dimension value. It is counted like any other value.
var NullValue = DimensionValue{}

// Key returns the non-null key a counter row is stored under.
func (v DimensionValue) Key() string {
	if !v.Valid {
		return nullValueKey
	}
	return "v:" + v.Value
}

func (v DimensionValue) String() string {
	if !v.Valid {
		return "<null>"
	}
	return v.Value
}

// StringValue converts an optional string attribute.
func StringValue(s *string) DimensionValue {
	if s == nil {
		return NullValue
	}
	return DimensionValue{Value: *s, Valid: true}
}

// FloatValue converts an optional float attribute using the shortest
// representation that round-trips. Negative zero counts as zero.
func FloatValue(f *float64) DimensionValue {
	if f == nil {
		return NullValue
	}
	v := *f
	if v == 0 {
		v = 0
	}
	return DimensionValue{Value: strconv.FormatFloat(v, 'g', -1, 64), Valid: true}
}

// IntValue converts an optional integer attribute.
func IntValue(i *int64) DimensionValue {
	if i == nil {
		return NullValue
	}
	return DimensionValue{Value: strconv.FormatInt(*i, 10), Valid: true}
}

// DimensionValue returns the asset's value for d.
func (a *Asset) DimensionValue(d Dimension) DimensionValue {
	switch d {
	case DimensionGSD:
		return FloatValue(a.GSD)
	case DimensionLang:
		return StringValue(a.Lang)
	case DimensionVariant:
		return StringValue(a.Variant)
	case DimensionProjEPSG:
		return IntValue(a.ProjEPSG)
	}
	return NullValue
}

// ValueCount is one row of a counter table.
type ValueCount struct {
	CollectionID uuid.UUID      `json:"collection_id"`
	Dimension    Dimension      `json:"dimension"`
	Value        DimensionValue `json:"-"`
	Count        int64          `json:"count"`
}
