// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe fills in the size of assets whose file_size is unknown (0)
// by asking the storage backend for the stored object.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/aggregate"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/logger"
	"github.com/LeeDigitalWorks/stacasset/pkg/storage"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultConcurrency = 8
	DefaultBatchSize   = 200
)

// Config configures a Prober.
type Config struct {
	DB         db.DB
	Storage    *storage.Manager
	Maintainer *aggregate.Maintainer

	// Concurrency bounds the number of HEAD requests in flight.
	Concurrency int
	// RateLimit caps HEAD requests per second. 0 disables the limit.
	RateLimit int
	BatchSize int
}

// Result counts what a run did with each listed asset.
type Result struct {
	Sized   int64 // size found and stored
	Missing int64 // no object, file_size set to NULL
	Skipped int64 // no object key recorded, or changed concurrently
	Failed  int64 // backend or store error, left at 0
}

// Prober probes unknown asset sizes.
type Prober struct {
	db         db.DB
	storage    *storage.Manager
	maintainer *aggregate.Maintainer
	limiter    *rate.Limiter
	cfg        Config

	mu          sync.Mutex
	collections map[uuid.UUID]string
}

// New creates a Prober.
func New(cfg Config) (*Prober, error) {
	if cfg.DB == nil {
		return nil, errors.New("DB is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("Storage is required")
	}
	if cfg.Maintainer == nil {
		cfg.Maintainer = aggregate.New()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	return &Prober{
		db:          cfg.DB,
		storage:     cfg.Storage,
		maintainer:  cfg.Maintainer,
		limiter:     limiter,
		cfg:         cfg,
		collections: make(map[uuid.UUID]string),
	}, nil
}

// Run probes every asset with an unknown size once. Per-asset failures are
// logged and counted; only cancellation and listing errors end the run.
func (p *Prober) Run(ctx context.Context) (*Result, error) {
	var (
		res                            Result
		sized, missing, skipped, failed atomic.Int64
		after                          uuid.UUID
	)
	start := time.Now()

	for {
		batch, err := p.db.ListUnknownSizeAssets(ctx, after, p.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("list unknown size assets: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Concurrency)
		for _, a := range batch {
			g.Go(func() error {
				if p.limiter != nil {
					if err := p.limiter.Wait(gctx); err != nil {
						return err
					}
				}
				outcome, err := p.probe(gctx, a)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn().Err(err).
						Str("asset_id", a.ID.String()).
						Str("file", a.File).
						Msg("size probe failed")
				}
				probed.WithLabelValues(string(outcome)).Inc()
				switch outcome {
				case outcomeSized:
					sized.Add(1)
				case outcomeMissing:
					missing.Add(1)
				case outcomeSkipped:
					skipped.Add(1)
				default:
					failed.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		after = batch[len(batch)-1].ID
		if len(batch) < p.cfg.BatchSize {
			break
		}
	}

	res.Sized, res.Missing = sized.Load(), missing.Load()
	res.Skipped, res.Failed = skipped.Load(), failed.Load()
	logger.Info().
		Int64("sized", res.Sized).
		Int64("missing", res.Missing).
		Int64("skipped", res.Skipped).
		Int64("failed", res.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("size probe finished")
	return &res, nil
}

type outcome string

const (
	outcomeSized   outcome = "sized"
	outcomeMissing outcome = "missing"
	outcomeSkipped outcome = "skipped"
	outcomeFailed  outcome = "failed"
)

func (p *Prober) probe(ctx context.Context, a *types.Asset) (outcome, error) {
	if a.IsExternal || a.File == "" {
		return outcomeSkipped, nil
	}
	gw, err := p.gateway(ctx, a)
	if err != nil {
		return outcomeFailed, err
	}

	var size *int64
	info, err := gw.HeadObject(ctx, a.File)
	switch {
	case err == nil:
		size = &info.Size
	case errors.Is(err, storage.ErrObjectNotFound):
	default:
		return outcomeFailed, err
	}

	changed := false
	err = p.db.WithTx(ctx, func(tx db.TxStore) error {
		old, err := tx.LockAsset(ctx, a.ID)
		if err != nil {
			return err
		}
		if old.FileSize == nil || *old.FileSize != 0 || old.File != a.File {
			return nil
		}
		next := old.Clone()
		next.FileSize = size
		next.UpdatedAt = time.Now().UnixNano()
		if err := tx.UpdateAsset(ctx, next); err != nil {
			return err
		}
		changed = true
		return p.maintainer.AssetUpdated(ctx, tx, old, next)
	})
	switch {
	case errors.Is(err, db.ErrAssetNotFound):
		return outcomeSkipped, nil
	case err != nil:
		return outcomeFailed, err
	case !changed:
		return outcomeSkipped, nil
	case size == nil:
		return outcomeMissing, nil
	}
	return outcomeSized, nil
}

// gateway picks the bucket of the asset's last completed upload, falling
// back to the collection's selected bucket.
func (p *Prober) gateway(ctx context.Context, a *types.Asset) (storage.Gateway, error) {
	done, err := p.db.ListUploads(ctx, db.UploadFilter{AssetID: &a.ID, Status: types.UploadStatusCompleted})
	if err != nil {
		return nil, err
	}
	if len(done) > 0 {
		return p.storage.Gateway(done[len(done)-1].Bucket)
	}
	name, err := p.collectionName(ctx, a.CollectionID)
	if err != nil {
		return nil, err
	}
	_, gw, err := p.storage.Resolve(name)
	return gw, err
}

func (p *Prober) collectionName(ctx context.Context, id uuid.UUID) (string, error) {
	p.mu.Lock()
	name, ok := p.collections[id]
	p.mu.Unlock()
	if ok {
		return name, nil
	}
	c, err := p.db.GetCollection(ctx, id)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.collections[id] = c.Name
	p.mu.Unlock()
	return c.Name, nil
}
