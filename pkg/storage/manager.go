// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/logger"
	"github.com/LeeDigitalWorks/stacasset/pkg/s3client"
)

// Driver names accepted in BucketConfig.Driver.
const (
	DriverS3     = "s3"
	DriverMinio  = "minio"
	DriverMemory = "memory"
)

// BucketConfig describes one configured bucket. ID is the stable identifier
// stored with uploads; Name is the backend bucket name, which may differ per
// environment.
type BucketConfig struct {
	ID              string `mapstructure:"id"`
	Name            string `mapstructure:"name"`
	Driver          string `mapstructure:"driver"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PathStyle       bool   `mapstructure:"path_style"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// Target identifies where an asset's object lives.
type Target struct {
	BucketID   string
	BucketName string
}

// Manager owns one Gateway per configured bucket and the Selector over them.
type Manager struct {
	gateways map[string]Gateway
	selector *Selector
	pool     *s3client.Pool
}

// NewManager builds a manager over ready gateways keyed by bucket id.
func NewManager(gateways map[string]Gateway, pins map[string]string) (*Manager, error) {
	ids := make([]string, 0, len(gateways))
	for id := range gateways {
		ids = append(ids, id)
	}
	selector, err := NewSelector(ids, pins)
	if err != nil {
		return nil, err
	}
	return &Manager{gateways: gateways, selector: selector}, nil
}

// Open creates gateways for every bucket config. S3 clients come from a
// shared pool so buckets on the same account reuse connections.
func Open(ctx context.Context, cfgs []BucketConfig, pins map[string]string) (*Manager, error) {
	if len(cfgs) == 0 {
		return nil, ErrNoBuckets
	}

	pool := s3client.NewPool(5*time.Minute, 100)
	gateways := make(map[string]Gateway, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ID == "" {
			cfg.ID = cfg.Name
		}
		if _, dup := gateways[cfg.ID]; dup {
			pool.Close()
			return nil, fmt.Errorf("bucket %q configured twice", cfg.ID)
		}
		gw, err := openGateway(ctx, pool, cfg)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("bucket %q: %w", cfg.ID, err)
		}
		gateways[cfg.ID] = gw

		logger.Info().
			Str("bucket_id", cfg.ID).
			Str("bucket", cfg.Name).
			Str("driver", cfg.Driver).
			Str("endpoint", cfg.Endpoint).
			Msg("storage bucket configured")
	}

	m, err := NewManager(gateways, pins)
	if err != nil {
		pool.Close()
		return nil, err
	}
	m.pool = pool
	return m, nil
}

func openGateway(ctx context.Context, pool *s3client.Pool, cfg BucketConfig) (Gateway, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: empty bucket name", ErrInvalidIdentifier)
	}
	switch cfg.Driver {
	case DriverS3, "":
		client, err := pool.GetClient(ctx, &s3client.Config{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			PathStyle:       cfg.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return NewS3Gateway(client, cfg.Name), nil
	case DriverMinio:
		endpoint, useSSL := minioEndpoint(cfg.Endpoint, cfg.UseSSL)
		return NewMinioGateway(MinioConfig{
			Endpoint:        endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          useSSL,
			PathStyle:       cfg.PathStyle,
		}, cfg.Name)
	case DriverMemory:
		return NewMemoryGateway(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// minioEndpoint accepts either host:port or a URL and returns host:port plus
// whether TLS is used.
func minioEndpoint(endpoint string, useSSL bool) (string, bool) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint, useSSL
	}
	return u.Host, u.Scheme == "https"
}

// Gateway returns the gateway for a bucket id.
func (m *Manager) Gateway(bucketID string) (Gateway, error) {
	gw, ok := m.gateways[bucketID]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBucket, bucketID)
	}
	return gw, nil
}

// Resolve selects the bucket for a collection.
func (m *Manager) Resolve(collection string) (Target, Gateway, error) {
	id, err := m.selector.Select(collection)
	if err != nil {
		return Target{}, nil, err
	}
	gw := m.gateways[id]
	return Target{BucketID: id, BucketName: gw.Bucket()}, gw, nil
}

// BucketIDs returns the configured bucket ids in sorted order.
func (m *Manager) BucketIDs() []string {
	ids := make([]string, 0, len(m.gateways))
	for id := range m.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close releases pooled connections.
func (m *Manager) Close() error {
	if m.pool != nil {
		return m.pool.Close()
	}
	return nil
}
