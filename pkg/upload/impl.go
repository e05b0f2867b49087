// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/aggregate"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/logger"
	"github.com/LeeDigitalWorks/stacasset/pkg/storage"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/google/uuid"
)

const (
	DefaultPresignTTL               = 15 * time.Minute
	DefaultMultipartThreshold int64 = 100 << 20
	DefaultPartSize           int64 = 64 << 20
)

// Config holds configuration for the upload service
type Config struct {
	DB         db.DB
	Storage    *storage.Manager
	Maintainer *aggregate.Maintainer // optional, defaults to aggregate.New()

	// PresignTTL is the lifetime of every presigned URL handed out.
	PresignTTL time.Duration
	// Declared sizes above MultipartThreshold are uploaded in parts of
	// PartSize bytes.
	MultipartThreshold int64
	PartSize           int64
}

// serviceImpl implements the Service interface
type serviceImpl struct {
	db         db.DB
	storage    *storage.Manager
	maintainer *aggregate.Maintainer
	ttl        time.Duration
	threshold  int64
	partSize   int64
}

// NewService creates a new upload service
func NewService(cfg Config) (Service, error) {
	if cfg.DB == nil {
		return nil, errors.New("DB is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("Storage is required")
	}

	s := &serviceImpl{
		db:         cfg.DB,
		storage:    cfg.Storage,
		maintainer: cfg.Maintainer,
		ttl:        cfg.PresignTTL,
		threshold:  cfg.MultipartThreshold,
		partSize:   cfg.PartSize,
	}
	if s.maintainer == nil {
		s.maintainer = aggregate.New()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultPresignTTL
	}
	if s.threshold <= 0 {
		s.threshold = DefaultMultipartThreshold
	}
	if s.partSize <= 0 {
		s.partSize = DefaultPartSize
	}
	return s, nil
}

// ============================================================================
// Start
// ============================================================================

func (s *serviceImpl) StartUpload(ctx context.Context, req *StartUploadRequest) (*StartUploadResult, error) {
	res, err := s.startUpload(ctx, req)
	return res, observe("start", err)
}

func (s *serviceImpl) startUpload(ctx context.Context, req *StartUploadRequest) (*StartUploadResult, error) {
	if req.DeclaredSize < 0 {
		return nil, ValidationError("file_size", "must not be negative")
	}
	if req.NumberParts < 0 || req.NumberParts > storage.MaxPartNumber {
		return nil, ValidationError("number_parts", fmt.Sprintf("must be between 1 and %d", storage.MaxPartNumber))
	}
	mode, numParts, err := s.plan(req.DeclaredSize, req.NumberParts)
	if err != nil {
		return nil, err
	}

	res, err := s.resolve(ctx, req.Asset)
	if err != nil {
		return nil, err
	}
	if res.Asset.IsExternal {
		return nil, ValidationError("asset", "external assets cannot be uploaded")
	}

	// Cheap pre-check so a busy asset does not cost a backend round trip.
	// The unique index on in-progress sessions decides races below.
	existing, err := s.db.GetInProgressUpload(ctx, res.Asset.ID)
	if err == nil {
		return nil, UploadInProgressError(existing.UploadID)
	}
	if !errors.Is(err, db.ErrUploadNotFound) {
		return nil, internalError("failed to check for an in-progress upload", err)
	}

	ref := res.Ref()
	key, err := storage.KeyFor(ref)
	if err != nil {
		return nil, &Error{Code: ErrCodeInvalidArgument, Message: "cannot derive object key", Field: "asset", Err: err}
	}
	target, gw, err := s.storage.Resolve(ref.Collection)
	if err != nil {
		return nil, internalError("no bucket for collection", err)
	}

	u := &types.AssetUpload{
		ID:              uuid.New(),
		AssetID:         res.Asset.ID,
		Status:          types.UploadStatusInProgress,
		Mode:            mode,
		Bucket:          target.BucketID,
		Key:             key,
		NumberParts:     numParts,
		FileSize:        req.DeclaredSize,
		Checksum:        req.Checksum,
		ContentEncoding: req.ContentEncoding,
		CreatedAt:       time.Now().UnixNano(),
	}
	opts := storage.PutOptions{Checksum: req.Checksum, ContentEncoding: req.ContentEncoding}

	var urls []storage.PresignedRequest
	if mode == types.UploadModeSingle {
		u.UploadID = newUploadID(u.ID)
		p, err := gw.PresignPut(ctx, key, opts, s.ttl)
		if err != nil {
			return nil, fromStorage("failed to presign upload", err)
		}
		urls = append(urls, *p)
	} else {
		uploadID, err := gw.InitiateMultipart(ctx, key, opts)
		if err != nil {
			return nil, fromStorage("failed to initiate multipart upload", err)
		}
		u.UploadID = uploadID
		urls, err = s.presignParts(ctx, gw, u, allParts(numParts))
		if err != nil {
			s.abortBackend(ctx, gw, u)
			return nil, err
		}
	}

	err = s.db.WithTx(ctx, func(tx db.TxStore) error {
		return tx.CreateUpload(ctx, u)
	})
	if err != nil {
		if mode == types.UploadModeMultipart {
			s.abortBackend(ctx, gw, u)
		}
		if errors.Is(err, db.ErrDuplicateInProgress) {
			winner := ""
			if other, gerr := s.db.GetInProgressUpload(ctx, u.AssetID); gerr == nil {
				winner = other.UploadID
			}
			return nil, UploadInProgressError(winner)
		}
		return nil, internalError("failed to create upload", err)
	}

	transitions.WithLabelValues(string(types.UploadStatusInProgress), string(mode)).Inc()
	logger.Info().
		Str("asset", ref.String()).
		Str("bucket", u.Bucket).
		Str("key", u.Key).
		Str("upload_id", u.UploadID).
		Str("mode", string(mode)).
		Int("parts", numParts).
		Msg("upload started")

	return &StartUploadResult{Upload: u, URLs: urls}, nil
}

// plan picks the transfer mode. Multipart is used when the client asks for
// more than one part or the declared size is over the threshold; without an
// explicit part count the size is split into parts of partSize bytes.
func (s *serviceImpl) plan(size int64, parts int) (types.UploadMode, int, error) {
	if parts <= 1 && size <= s.threshold {
		return types.UploadModeSingle, 1, nil
	}
	if parts == 0 {
		n := (size + s.partSize - 1) / s.partSize
		if n > storage.MaxPartNumber {
			return "", 0, ValidationError("file_size", fmt.Sprintf("needs %d parts of %d bytes, more than %d", n, s.partSize, storage.MaxPartNumber))
		}
		parts = int(n)
	}
	return types.UploadModeMultipart, parts, nil
}

func allParts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func (s *serviceImpl) presignParts(ctx context.Context, gw storage.Gateway, u *types.AssetUpload, numbers []int) ([]storage.PresignedRequest, error) {
	out := make([]storage.PresignedRequest, 0, len(numbers))
	for _, n := range numbers {
		p, err := gw.PresignPart(ctx, u.Key, u.UploadID, n, s.ttl)
		if err != nil {
			return nil, fromStorage(fmt.Sprintf("failed to presign part %d", n), err)
		}
		out = append(out, *p)
	}
	return out, nil
}

// ============================================================================
// Parts
// ============================================================================

func (s *serviceImpl) RegisterPart(ctx context.Context, ref types.AssetRef, uploadID string, partNumber int, etag string) (*types.UploadPart, error) {
	part, err := s.registerPart(ctx, ref, uploadID, partNumber, etag)
	return part, observe("register_part", err)
}

func (s *serviceImpl) registerPart(ctx context.Context, ref types.AssetRef, uploadID string, partNumber int, etag string) (*types.UploadPart, error) {
	if partNumber < 1 || partNumber > storage.MaxPartNumber {
		return nil, ValidationError("part_number", fmt.Sprintf("must be between 1 and %d", storage.MaxPartNumber))
	}
	etag = storage.NormalizeETag(etag)
	if etag == "" {
		return nil, ValidationError("etag", "this field is required")
	}

	res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	u, err := s.activeSession(ctx, res.Asset.ID, uploadID)
	if err != nil {
		return nil, err
	}
	if u.Mode != types.UploadModeMultipart {
		return nil, ValidationError("part_number", "single uploads have no parts")
	}
	if partNumber > u.NumberParts {
		return nil, ValidationError("part_number", fmt.Sprintf("upload has %d parts", u.NumberParts))
	}

	part := &types.UploadPart{
		PartNumber:   partNumber,
		ETag:         etag,
		RegisteredAt: time.Now().UnixNano(),
	}
	err = s.db.WithTx(ctx, func(tx db.TxStore) error {
		locked, err := tx.LockUpload(ctx, u.ID)
		if err != nil {
			return err
		}
		if locked.Status != types.UploadStatusInProgress {
			return UploadNotInProgressError(locked.UploadID)
		}
		return tx.PutUploadPart(ctx, u.ID, part)
	})
	if err != nil {
		return nil, wrapInternal("failed to register part", err)
	}
	return part, nil
}

func (s *serviceImpl) ListParts(ctx context.Context, ref types.AssetRef, uploadID string) ([]storage.Part, error) {
	res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	u, err := s.activeSession(ctx, res.Asset.ID, uploadID)
	if err != nil {
		return nil, err
	}
	if u.Mode != types.UploadModeMultipart {
		return nil, ValidationError("upload_id", "single uploads have no parts")
	}
	gw, err := s.gateway(u)
	if err != nil {
		return nil, err
	}
	parts, err := gw.ListParts(ctx, u.Key, u.UploadID)
	if err != nil {
		return nil, fromStorage("failed to list parts", err)
	}
	return parts, nil
}

func (s *serviceImpl) RefreshURLs(ctx context.Context, ref types.AssetRef, uploadID string, parts []int) ([]storage.PresignedRequest, error) {
	res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	u, err := s.activeSession(ctx, res.Asset.ID, uploadID)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateway(u)
	if err != nil {
		return nil, err
	}

	if u.Mode == types.UploadModeSingle {
		if len(parts) > 1 || (len(parts) == 1 && parts[0] != 1) {
			return nil, ValidationError("parts", "single uploads only have part 1")
		}
		opts := storage.PutOptions{Checksum: u.Checksum, ContentEncoding: u.ContentEncoding}
		p, err := gw.PresignPut(ctx, u.Key, opts, s.ttl)
		if err != nil {
			return nil, fromStorage("failed to presign upload", err)
		}
		return []storage.PresignedRequest{*p}, nil
	}

	if len(parts) == 0 {
		parts = allParts(u.NumberParts)
	}
	for _, n := range parts {
		if n < 1 || n > u.NumberParts {
			return nil, ValidationError("parts", fmt.Sprintf("part %d is outside 1..%d", n, u.NumberParts))
		}
	}
	return s.presignParts(ctx, gw, u, parts)
}

// ============================================================================
// Complete
// ============================================================================

func (s *serviceImpl) CompleteUpload(ctx context.Context, req *CompleteUploadRequest) (*CompleteUploadResult, error) {
	res, err := s.completeUpload(ctx, req)
	return res, observe("complete", err)
}

func (s *serviceImpl) completeUpload(ctx context.Context, req *CompleteUploadRequest) (*CompleteUploadResult, error) {
	res, err := s.resolve(ctx, req.Asset)
	if err != nil {
		return nil, err
	}
	u, err := s.activeSession(ctx, res.Asset.ID, req.UploadID)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateway(u)
	if err != nil {
		return nil, err
	}

	var (
		etag      string
		recovered bool
	)
	partsSize := int64(-1)
	if u.Mode == types.UploadModeMultipart {
		registered, err := s.db.ListUploadParts(ctx, u.ID)
		if err != nil {
			return nil, internalError("failed to load registered parts", err)
		}
		if err := ValidateParts(req.Parts, registered); err != nil {
			return nil, err
		}
		etag, partsSize, err = s.completeMultipart(ctx, gw, u, req.Parts)
		switch {
		case errors.Is(err, storage.ErrUploadNotFound):
			recovered = true
		case err != nil:
			return nil, err
		}
	}

	var (
		size               int64
		checksum, headETag string
	)
	if recovered {
		size, checksum, headETag, err = s.recoverObject(ctx, gw, u)
	} else {
		size, checksum, headETag, err = s.confirmObject(ctx, gw, u, partsSize)
	}
	if err != nil {
		return nil, err
	}
	if etag == "" {
		etag = headETag
	}

	now := time.Now().UnixNano()
	var (
		asset *types.Asset
		done  *types.AssetUpload
	)
	err = s.db.WithTx(ctx, func(tx db.TxStore) error {
		old, err := tx.LockAsset(ctx, res.Asset.ID)
		if err != nil {
			return err
		}
		locked, err := tx.LockUpload(ctx, u.ID)
		if err != nil {
			return err
		}
		if locked.Status != types.UploadStatusInProgress {
			return UploadNotInProgressError(locked.UploadID)
		}

		updated := old.Clone()
		updated.File = u.Key
		updated.FileSize = &size
		updated.Checksum = checksum
		updated.ETag = storage.NormalizeETag(etag)
		updated.UpdatedAt = now
		if err := tx.UpdateAsset(ctx, updated); err != nil {
			return err
		}
		if err := tx.UpdateUploadStatus(ctx, u.ID, types.UploadStatusCompleted, now); err != nil {
			return err
		}
		if err := s.maintainer.AssetUpdated(ctx, tx, old, updated); err != nil {
			return err
		}

		locked.Status = types.UploadStatusCompleted
		locked.EndedAt = now
		asset, done = updated, locked
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrAssetNotFound) {
			return nil, &Error{Code: ErrCodeAssetNotFound, Message: "asset was deleted", Err: err}
		}
		return nil, wrapInternal("failed to record completion", err)
	}

	transitions.WithLabelValues(string(types.UploadStatusCompleted), string(u.Mode)).Inc()
	logger.Info().
		Str("asset", req.Asset.String()).
		Str("bucket", u.Bucket).
		Str("key", u.Key).
		Str("upload_id", u.UploadID).
		Int64("size", size).
		Msg("upload completed")

	return &CompleteUploadResult{Upload: done, Asset: asset}, nil
}

// completeMultipart commits the parts on the backend. It returns
// storage.ErrUploadNotFound unwrapped when the backend no longer knows the
// upload, which happens when an earlier completion committed on the
// backend but not in the catalog.
func (s *serviceImpl) completeMultipart(ctx context.Context, gw storage.Gateway, u *types.AssetUpload, parts []PartEntry) (string, int64, error) {
	uploaded, err := gw.ListParts(ctx, u.Key, u.UploadID)
	if errors.Is(err, storage.ErrUploadNotFound) {
		return "", -1, storage.ErrUploadNotFound
	}
	if err != nil {
		return "", -1, fromStorage("failed to list uploaded parts", err)
	}
	partsSize := sumParts(parts, uploaded)

	obj, err := gw.CompleteMultipart(ctx, u.Key, u.UploadID, toStorageParts(parts))
	if errors.Is(err, storage.ErrUploadNotFound) {
		return "", -1, storage.ErrUploadNotFound
	}
	if err != nil {
		return "", -1, fromStorage("backend rejected the parts", err)
	}
	return obj.ETag, partsSize, nil
}

// recoverObject finishes a multipart session whose backend upload is gone.
// The session completes only if an object written after the session
// started exists at its key.
func (s *serviceImpl) recoverObject(ctx context.Context, gw storage.Gateway, u *types.AssetUpload) (int64, string, string, error) {
	gone := fmt.Errorf("upload %s: %w", u.UploadID, storage.ErrUploadNotFound)
	info, err := gw.HeadObject(ctx, u.Key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return 0, "", "", partsError("upload no longer exists on the backend", gone)
	}
	if err != nil {
		return 0, "", "", fromStorage("failed to read completed object", err)
	}
	started := time.Unix(0, u.CreatedAt).Truncate(time.Second)
	if !info.LastModified.IsZero() && info.LastModified.Before(started) {
		return 0, "", "", partsError("upload no longer exists on the backend", gone)
	}

	logger.Warn().
		Str("bucket", u.Bucket).
		Str("key", u.Key).
		Str("upload_id", u.UploadID).
		Int64("size", info.Size).
		Msg("backend upload already completed, recording stored object")
	return s.checkStored(u, info)
}

// confirmObject reads the stored object's size and checksum. After a
// multipart completion the object exists even if HEAD fails, so the part
// sizes stand in for the size.
func (s *serviceImpl) confirmObject(ctx context.Context, gw storage.Gateway, u *types.AssetUpload, partsSize int64) (int64, string, string, error) {
	info, err := gw.HeadObject(ctx, u.Key)
	if err != nil {
		switch {
		case u.Mode == types.UploadModeSingle && errors.Is(err, storage.ErrObjectNotFound):
			return 0, "", "", ValidationError("file", "object has not been uploaded")
		case u.Mode == types.UploadModeSingle:
			return 0, "", "", fromStorage("failed to read uploaded object", err)
		}
		logger.Warn().Err(err).
			Str("bucket", u.Bucket).
			Str("key", u.Key).
			Str("upload_id", u.UploadID).
			Msg("could not read completed object, using part sizes")
		return partsSize, u.Checksum, "", nil
	}
	return s.checkStored(u, info)
}

// checkStored compares the stored object with what the session declared.
func (s *serviceImpl) checkStored(u *types.AssetUpload, info *storage.ObjectInfo) (int64, string, string, error) {
	checksum := u.Checksum
	if info.Checksum != "" {
		if checksum != "" && !strings.EqualFold(checksum, info.Checksum) {
			return 0, "", "", ValidationError("checksum", "stored object checksum does not match the upload")
		}
		checksum = info.Checksum
	}
	if u.FileSize > 0 && info.Size != u.FileSize {
		logger.Warn().
			Str("key", u.Key).
			Str("upload_id", u.UploadID).
			Int64("declared", u.FileSize).
			Int64("stored", info.Size).
			Msg("stored object size differs from declared size")
	}
	return info.Size, checksum, info.ETag, nil
}

func sumParts(submitted []PartEntry, uploaded []storage.Part) int64 {
	sizes := make(map[int]int64, len(uploaded))
	for _, p := range uploaded {
		sizes[p.PartNumber] = p.Size
	}
	var total int64
	for _, p := range submitted {
		total += sizes[p.PartNumber]
	}
	return total
}

// ============================================================================
// Abort
// ============================================================================

func (s *serviceImpl) AbortUpload(ctx context.Context, ref types.AssetRef, uploadID string) (*types.AssetUpload, error) {
	u, err := s.abortUpload(ctx, ref, uploadID)
	return u, observe("abort", err)
}

func (s *serviceImpl) abortUpload(ctx context.Context, ref types.AssetRef, uploadID string) (*types.AssetUpload, error) {
	res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	u, err := s.session(ctx, res.Asset.ID, uploadID)
	if err != nil {
		return nil, err
	}
	return s.abortSession(ctx, u)
}

// abortSession ends u on the backend, best-effort, and then marks it
// aborted. Aborting an aborted session returns it unchanged.
func (s *serviceImpl) abortSession(ctx context.Context, u *types.AssetUpload) (*types.AssetUpload, error) {
	switch u.Status {
	case types.UploadStatusAborted:
		return u, nil
	case types.UploadStatusCompleted:
		return nil, UploadNotInProgressError(u.UploadID)
	}

	if u.Mode == types.UploadModeMultipart {
		if gw, err := s.gateway(u); err != nil {
			backendCleanupFailures.WithLabelValues("abort").Inc()
			logger.Warn().Err(err).
				Str("bucket", u.Bucket).
				Str("upload_id", u.UploadID).
				Msg("no gateway for upload bucket, skipping backend abort")
		} else {
			s.abortBackend(ctx, gw, u)
		}
	}

	now := time.Now().UnixNano()
	var (
		out     *types.AssetUpload
		changed bool
	)
	err := s.db.WithTx(ctx, func(tx db.TxStore) error {
		locked, err := tx.LockUpload(ctx, u.ID)
		if err != nil {
			return err
		}
		switch locked.Status {
		case types.UploadStatusAborted:
			out = locked
			return nil
		case types.UploadStatusCompleted:
			return UploadNotInProgressError(locked.UploadID)
		}
		if err := tx.UpdateUploadStatus(ctx, u.ID, types.UploadStatusAborted, now); err != nil {
			return err
		}
		locked.Status = types.UploadStatusAborted
		locked.EndedAt = now
		out, changed = locked, true
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrUploadNotFound) {
			return nil, UploadNotInProgressError(u.UploadID)
		}
		return nil, wrapInternal("failed to record abort", err)
	}

	if changed {
		transitions.WithLabelValues(string(types.UploadStatusAborted), string(u.Mode)).Inc()
		logger.Info().
			Str("bucket", u.Bucket).
			Str("key", u.Key).
			Str("upload_id", u.UploadID).
			Msg("upload aborted")
	}
	return out, nil
}

func (s *serviceImpl) abortBackend(ctx context.Context, gw storage.Gateway, u *types.AssetUpload) {
	if err := gw.AbortMultipart(ctx, u.Key, u.UploadID); err != nil {
		backendCleanupFailures.WithLabelValues("abort").Inc()
		logger.Warn().Err(err).
			Str("bucket", u.Bucket).
			Str("key", u.Key).
			Str("upload_id", u.UploadID).
			Msg("failed to abort multipart upload on backend")
	}
}

func (s *serviceImpl) AbortStale(ctx context.Context, olderThan time.Duration) (*StaleReport, error) {
	if olderThan < 0 {
		return nil, ValidationError("older_than", "must not be negative")
	}
	sessions, err := s.ListInProgress(ctx, ListFilter{CreatedBefore: time.Now().Add(-olderThan)})
	if err != nil {
		return nil, err
	}

	report := &StaleReport{}
	var errs []error
	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := s.abortSession(ctx, sess.AssetUpload); err != nil {
			if CodeOf(err) == ErrCodeUploadNotInProgress {
				// Completed since it was listed.
				continue
			}
			report.Failed = append(report.Failed, sess)
			errs = append(errs, fmt.Errorf("%s upload %s: %w", sess.Asset, sess.UploadID, err))
			continue
		}
		report.Aborted = append(report.Aborted, sess)
		logger.Info().
			Str("asset", sess.Asset.String()).
			Str("upload_id", sess.UploadID).
			Time("created_at", time.Unix(0, sess.CreatedAt)).
			Msg("stale upload aborted")
	}
	return report, errors.Join(errs...)
}

// ============================================================================
// Listing
// ============================================================================

func (s *serviceImpl) GetUpload(ctx context.Context, ref types.AssetRef, uploadID string) (*types.AssetUpload, error) {
	res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.session(ctx, res.Asset.ID, uploadID)
}

func (s *serviceImpl) ListUploads(ctx context.Context, ref types.AssetRef, status types.UploadStatus) ([]*types.AssetUpload, error) {
	res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	id := res.Asset.ID
	uploads, err := s.db.ListUploads(ctx, db.UploadFilter{AssetID: &id, Status: status})
	if err != nil {
		return nil, internalError("failed to list uploads", err)
	}
	return uploads, nil
}

func (s *serviceImpl) ListInProgress(ctx context.Context, f ListFilter) ([]*Session, error) {
	f.Status = types.UploadStatusInProgress
	return s.ListSessions(ctx, f)
}

func (s *serviceImpl) ListSessions(ctx context.Context, f ListFilter) ([]*Session, error) {
	filter := db.UploadFilter{Status: f.Status, Limit: f.Limit}
	if !f.CreatedBefore.IsZero() {
		filter.CreatedBefore = f.CreatedBefore.UnixNano()
	}
	if f.Collection != "" {
		c, err := s.db.GetCollectionByName(ctx, f.Collection)
		if errors.Is(err, db.ErrCollectionNotFound) {
			return nil, ValidationError("collection", "unknown collection "+f.Collection)
		}
		if err != nil {
			return nil, internalError("failed to load collection", err)
		}
		filter.CollectionID = &c.ID
	}

	uploads, err := s.db.ListUploads(ctx, filter)
	if err != nil {
		return nil, internalError("failed to list uploads", err)
	}
	return s.sessions(ctx, uploads)
}

// sessions attaches catalog names to uploads. Uploads whose asset vanished
// since the listing are dropped.
func (s *serviceImpl) sessions(ctx context.Context, uploads []*types.AssetUpload) ([]*Session, error) {
	collections := make(map[uuid.UUID]string)
	items := make(map[uuid.UUID]string)
	out := make([]*Session, 0, len(uploads))
	for _, u := range uploads {
		a, err := s.db.GetAsset(ctx, u.AssetID)
		if errors.Is(err, db.ErrAssetNotFound) {
			continue
		}
		if err != nil {
			return nil, internalError("failed to load asset", err)
		}
		ref := types.AssetRef{Asset: a.Name}

		name, ok := collections[a.CollectionID]
		if !ok {
			c, err := s.db.GetCollection(ctx, a.CollectionID)
			if err != nil {
				return nil, internalError("failed to load collection", err)
			}
			name = c.Name
			collections[a.CollectionID] = name
		}
		ref.Collection = name

		if a.ItemID != nil {
			name, ok := items[*a.ItemID]
			if !ok {
				item, err := s.db.GetItem(ctx, *a.ItemID)
				if err != nil {
					return nil, internalError("failed to load item", err)
				}
				name = item.Name
				items[*a.ItemID] = name
			}
			ref.Item = name
		}
		out = append(out, &Session{AssetUpload: u, Asset: ref})
	}
	return out, nil
}

// ============================================================================
// Helpers
// ============================================================================

func (s *serviceImpl) resolve(ctx context.Context, ref types.AssetRef) (*db.Resolved, error) {
	res, err := db.ResolveAsset(ctx, s.db, ref)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, db.ErrCollectionNotFound) || errors.Is(err, db.ErrItemNotFound) || errors.Is(err, db.ErrAssetNotFound) {
		return nil, &Error{Code: ErrCodeAssetNotFound, Message: "asset " + ref.String() + " not found", Err: err}
	}
	return nil, internalError("failed to resolve asset", err)
}

// session loads an upload of an asset. An empty uploadID selects the
// in-progress session.
func (s *serviceImpl) session(ctx context.Context, assetID uuid.UUID, uploadID string) (*types.AssetUpload, error) {
	var (
		u   *types.AssetUpload
		err error
	)
	if uploadID == "" {
		u, err = s.db.GetInProgressUpload(ctx, assetID)
	} else {
		u, err = s.db.GetUpload(ctx, assetID, uploadID)
	}
	if errors.Is(err, db.ErrUploadNotFound) {
		return nil, UploadNotInProgressError(uploadID)
	}
	if err != nil {
		return nil, internalError("failed to load upload", err)
	}
	return u, nil
}

func (s *serviceImpl) activeSession(ctx context.Context, assetID uuid.UUID, uploadID string) (*types.AssetUpload, error) {
	u, err := s.session(ctx, assetID, uploadID)
	if err != nil {
		return nil, err
	}
	if u.Status != types.UploadStatusInProgress {
		return nil, UploadNotInProgressError(u.UploadID)
	}
	return u, nil
}

func (s *serviceImpl) gateway(u *types.AssetUpload) (storage.Gateway, error) {
	gw, err := s.storage.Gateway(u.Bucket)
	if err != nil {
		return nil, internalError("bucket of upload is not configured", err)
	}
	return gw, nil
}

// newUploadID returns the id of a single upload, which has no backend id.
func newUploadID(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// fromStorage converts a gateway error into a service error.
func fromStorage(message string, err error) error {
	switch {
	case errors.Is(err, storage.ErrStorageUnavailable):
		return storageError(message, err)
	case errors.Is(err, storage.ErrInvalidParts):
		return partsError(message, err)
	case errors.Is(err, storage.ErrUploadNotFound):
		return partsError("upload no longer exists on the backend", err)
	case errors.Is(err, storage.ErrInvalidIdentifier):
		return &Error{Code: ErrCodeInvalidArgument, Message: message, Field: "asset", Err: err}
	default:
		return internalError(message, err)
	}
}

// wrapInternal passes service errors through and wraps anything else.
func wrapInternal(message string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return internalError(message, err)
}
