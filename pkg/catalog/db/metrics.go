// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for database operations
var (
	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stacasset_db_query_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "status"},
	)

	dbQueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacasset_db_queries_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		dbQueryDuration,
		dbQueryTotal,
	)
}

// recordMetric records timing and status for an operation
func recordMetric(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	dbQueryDuration.WithLabelValues(operation, status).Observe(duration)
	dbQueryTotal.WithLabelValues(operation, status).Inc()
}

// metricsStore instruments every Store operation. It backs both MetricsDB
// and the transaction handle MetricsDB passes to WithTx callbacks.
type metricsStore struct {
	s Store
}

// MetricsDB wraps a DB implementation and adds metrics instrumentation
type MetricsDB struct {
	metricsStore
	db DB
}

// NewMetricsDB creates a new metrics-instrumented DB wrapper
func NewMetricsDB(db DB) *MetricsDB {
	return &MetricsDB{metricsStore: metricsStore{s: db}, db: db}
}

// Unwrap returns the underlying DB implementation
func (m *MetricsDB) Unwrap() DB {
	return m.db
}

// Close closes the database connection
func (m *MetricsDB) Close() error {
	return m.db.Close()
}

// Migrate runs database migrations
func (m *MetricsDB) Migrate(ctx context.Context) error {
	start := time.Now()
	err := m.db.Migrate(ctx)
	recordMetric("migrate", start, err)
	return err
}

// WithTx executes fn within a transaction
func (m *MetricsDB) WithTx(ctx context.Context, fn func(tx TxStore) error) error {
	start := time.Now()
	err := m.db.WithTx(ctx, func(tx TxStore) error {
		return fn(&metricsTxStore{metricsStore: metricsStore{s: tx}, tx: tx})
	})
	recordMetric("transaction", start, err)
	return err
}

type metricsTxStore struct {
	metricsStore
	tx TxStore
}

var (
	_ DB      = (*MetricsDB)(nil)
	_ TxStore = (*metricsTxStore)(nil)
)

// ============================================================================
// Store operations
// ============================================================================

func (m metricsStore) CreateCollection(ctx context.Context, c *types.Collection) error {
	start := time.Now()
	err := m.s.CreateCollection(ctx, c)
	recordMetric("create_collection", start, err)
	return err
}

func (m metricsStore) GetCollection(ctx context.Context, id uuid.UUID) (*types.Collection, error) {
	start := time.Now()
	res, err := m.s.GetCollection(ctx, id)
	recordMetric("get_collection", start, err)
	return res, err
}

func (m metricsStore) GetCollectionByName(ctx context.Context, name string) (*types.Collection, error) {
	start := time.Now()
	res, err := m.s.GetCollectionByName(ctx, name)
	recordMetric("get_collection_by_name", start, err)
	return res, err
}

func (m metricsStore) ListCollections(ctx context.Context) ([]*types.Collection, error) {
	start := time.Now()
	res, err := m.s.ListCollections(ctx)
	recordMetric("list_collections", start, err)
	return res, err
}

func (m metricsStore) UpdateCollectionRollup(ctx context.Context, id uuid.UUID, r types.Rollup) error {
	start := time.Now()
	err := m.s.UpdateCollectionRollup(ctx, id, r)
	recordMetric("update_collection_rollup", start, err)
	return err
}

func (m metricsStore) AggregateCollection(ctx context.Context, id uuid.UUID) (types.Rollup, error) {
	start := time.Now()
	res, err := m.s.AggregateCollection(ctx, id)
	recordMetric("aggregate_collection", start, err)
	return res, err
}

func (m metricsStore) CreateItem(ctx context.Context, item *types.Item) error {
	start := time.Now()
	err := m.s.CreateItem(ctx, item)
	recordMetric("create_item", start, err)
	return err
}

func (m metricsStore) GetItem(ctx context.Context, id uuid.UUID) (*types.Item, error) {
	start := time.Now()
	res, err := m.s.GetItem(ctx, id)
	recordMetric("get_item", start, err)
	return res, err
}

func (m metricsStore) GetItemByName(ctx context.Context, collectionID uuid.UUID, name string) (*types.Item, error) {
	start := time.Now()
	res, err := m.s.GetItemByName(ctx, collectionID, name)
	recordMetric("get_item_by_name", start, err)
	return res, err
}

func (m metricsStore) ListItems(ctx context.Context, collectionID uuid.UUID) ([]*types.Item, error) {
	start := time.Now()
	res, err := m.s.ListItems(ctx, collectionID)
	recordMetric("list_items", start, err)
	return res, err
}

func (m metricsStore) DeleteItem(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	err := m.s.DeleteItem(ctx, id)
	recordMetric("delete_item", start, err)
	return err
}

func (m metricsStore) UpdateItemRollup(ctx context.Context, id uuid.UUID, r types.Rollup) error {
	start := time.Now()
	err := m.s.UpdateItemRollup(ctx, id, r)
	recordMetric("update_item_rollup", start, err)
	return err
}

func (m metricsStore) AggregateItem(ctx context.Context, id uuid.UUID) (types.Rollup, error) {
	start := time.Now()
	res, err := m.s.AggregateItem(ctx, id)
	recordMetric("aggregate_item", start, err)
	return res, err
}

func (m metricsStore) CreateAsset(ctx context.Context, a *types.Asset) error {
	start := time.Now()
	err := m.s.CreateAsset(ctx, a)
	recordMetric("create_asset", start, err)
	return err
}

func (m metricsStore) GetAsset(ctx context.Context, id uuid.UUID) (*types.Asset, error) {
	start := time.Now()
	res, err := m.s.GetAsset(ctx, id)
	recordMetric("get_asset", start, err)
	return res, err
}

func (m metricsStore) GetAssetByName(ctx context.Context, collectionID uuid.UUID, itemID *uuid.UUID, name string) (*types.Asset, error) {
	start := time.Now()
	res, err := m.s.GetAssetByName(ctx, collectionID, itemID, name)
	recordMetric("get_asset_by_name", start, err)
	return res, err
}

func (m metricsStore) UpdateAsset(ctx context.Context, a *types.Asset) error {
	start := time.Now()
	err := m.s.UpdateAsset(ctx, a)
	recordMetric("update_asset", start, err)
	return err
}

func (m metricsStore) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	err := m.s.DeleteAsset(ctx, id)
	recordMetric("delete_asset", start, err)
	return err
}

func (m metricsStore) ListAssets(ctx context.Context, collectionID uuid.UUID) ([]*types.Asset, error) {
	start := time.Now()
	res, err := m.s.ListAssets(ctx, collectionID)
	recordMetric("list_assets", start, err)
	return res, err
}

func (m metricsStore) ListItemAssets(ctx context.Context, itemID uuid.UUID) ([]*types.Asset, error) {
	start := time.Now()
	res, err := m.s.ListItemAssets(ctx, itemID)
	recordMetric("list_item_assets", start, err)
	return res, err
}

func (m metricsStore) ListUnknownSizeAssets(ctx context.Context, after uuid.UUID, limit int) ([]*types.Asset, error) {
	start := time.Now()
	res, err := m.s.ListUnknownSizeAssets(ctx, after, limit)
	recordMetric("list_unknown_size_assets", start, err)
	return res, err
}

func (m metricsStore) CreateUpload(ctx context.Context, u *types.AssetUpload) error {
	start := time.Now()
	err := m.s.CreateUpload(ctx, u)
	recordMetric("create_upload", start, err)
	return err
}

func (m metricsStore) GetUpload(ctx context.Context, assetID uuid.UUID, uploadID string) (*types.AssetUpload, error) {
	start := time.Now()
	res, err := m.s.GetUpload(ctx, assetID, uploadID)
	recordMetric("get_upload", start, err)
	return res, err
}

func (m metricsStore) GetInProgressUpload(ctx context.Context, assetID uuid.UUID) (*types.AssetUpload, error) {
	start := time.Now()
	res, err := m.s.GetInProgressUpload(ctx, assetID)
	recordMetric("get_in_progress_upload", start, err)
	return res, err
}

func (m metricsStore) ListUploads(ctx context.Context, f UploadFilter) ([]*types.AssetUpload, error) {
	start := time.Now()
	res, err := m.s.ListUploads(ctx, f)
	recordMetric("list_uploads", start, err)
	return res, err
}

func (m metricsStore) UpdateUploadStatus(ctx context.Context, id uuid.UUID, status types.UploadStatus, endedAt int64) error {
	start := time.Now()
	err := m.s.UpdateUploadStatus(ctx, id, status, endedAt)
	recordMetric("update_upload_status", start, err)
	return err
}

func (m metricsStore) DeleteAssetUploads(ctx context.Context, assetID uuid.UUID) error {
	start := time.Now()
	err := m.s.DeleteAssetUploads(ctx, assetID)
	recordMetric("delete_asset_uploads", start, err)
	return err
}

func (m metricsStore) PutUploadPart(ctx context.Context, uploadPK uuid.UUID, part *types.UploadPart) error {
	start := time.Now()
	err := m.s.PutUploadPart(ctx, uploadPK, part)
	recordMetric("put_upload_part", start, err)
	return err
}

func (m metricsStore) ListUploadParts(ctx context.Context, uploadPK uuid.UUID) ([]*types.UploadPart, error) {
	start := time.Now()
	res, err := m.s.ListUploadParts(ctx, uploadPK)
	recordMetric("list_upload_parts", start, err)
	return res, err
}

func (m metricsStore) GetValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue) (*types.ValueCount, error) {
	start := time.Now()
	res, err := m.s.GetValueCount(ctx, collectionID, dim, v)
	recordMetric("get_value_count", start, err)
	return res, err
}

func (m metricsStore) ListValueCounts(ctx context.Context, collectionID uuid.UUID, dim types.Dimension) ([]*types.ValueCount, error) {
	start := time.Now()
	res, err := m.s.ListValueCounts(ctx, collectionID, dim)
	recordMetric("list_value_counts", start, err)
	return res, err
}

func (m metricsStore) IncrementValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue, delta int64) error {
	start := time.Now()
	err := m.s.IncrementValueCount(ctx, collectionID, dim, v, delta)
	recordMetric("increment_value_count", start, err)
	return err
}

func (m metricsStore) SetValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue, count int64) error {
	start := time.Now()
	err := m.s.SetValueCount(ctx, collectionID, dim, v, count)
	recordMetric("set_value_count", start, err)
	return err
}

func (m metricsStore) DeleteValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue) error {
	start := time.Now()
	err := m.s.DeleteValueCount(ctx, collectionID, dim, v)
	recordMetric("delete_value_count", start, err)
	return err
}

func (m metricsStore) CountAssetValues(ctx context.Context, collectionID uuid.UUID, dim types.Dimension) ([]*types.ValueCount, error) {
	start := time.Now()
	res, err := m.s.CountAssetValues(ctx, collectionID, dim)
	recordMetric("count_asset_values", start, err)
	return res, err
}

// ============================================================================
// Row locks
// ============================================================================

func (m *metricsTxStore) LockCollection(ctx context.Context, id uuid.UUID) (*types.Collection, error) {
	start := time.Now()
	res, err := m.tx.LockCollection(ctx, id)
	recordMetric("lock_collection", start, err)
	return res, err
}

func (m *metricsTxStore) LockItem(ctx context.Context, id uuid.UUID) (*types.Item, error) {
	start := time.Now()
	res, err := m.tx.LockItem(ctx, id)
	recordMetric("lock_item", start, err)
	return res, err
}

func (m *metricsTxStore) LockAsset(ctx context.Context, id uuid.UUID) (*types.Asset, error) {
	start := time.Now()
	res, err := m.tx.LockAsset(ctx, id)
	recordMetric("lock_asset", start, err)
	return res, err
}

func (m *metricsTxStore) LockUpload(ctx context.Context, id uuid.UUID) (*types.AssetUpload, error) {
	start := time.Now()
	res, err := m.tx.LockUpload(ctx, id)
	recordMetric("lock_upload", start, err)
	return res, err
}

func (m *metricsTxStore) LockValueCount(ctx context.Context, collectionID uuid.UUID, dim types.Dimension, v types.DimensionValue) (*types.ValueCount, error) {
	start := time.Now()
	res, err := m.tx.LockValueCount(ctx, collectionID, dim, v)
	recordMetric("lock_value_count", start, err)
	return res, err
}
