// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/aggregate"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/dbtest"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/memory"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/sqlite"
	"github.com/LeeDigitalWorks/stacasset/pkg/storage"
	"github.com/LeeDigitalWorks/stacasset/pkg/storage/storagetest"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var openers = map[string]dbtest.Opener{
	"memory": func(t *testing.T) db.DB {
		return memory.New()
	},
	"sqlite": func(t *testing.T) db.DB {
		t.Helper()
		d, err := sqlite.New(filepath.Join(t.TempDir(), "catalog.db"))
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		require.NoError(t, d.Migrate(context.Background()))
		return d
	},
}

func forEachDB(t *testing.T, fn func(t *testing.T, d db.DB)) {
	for name, open := range openers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, open(t))
		})
	}
}

// harness wires the service to a memory gateway. Uploads up to 10 bytes
// are single; larger ones use 5 byte parts.
type harness struct {
	svc   Service
	db    db.DB
	gw    *storage.MemoryGateway
	coll  *types.Collection
	item  *types.Item
	asset *types.Asset
	ref   types.AssetRef
}

func newHarness(t *testing.T, d db.DB) *harness {
	t.Helper()
	gw := storage.NewMemoryGateway("stac-primary")
	h := &harness{db: d, gw: gw}
	h.svc = newService(t, d, gw)

	h.coll = dbtest.NewCollection(t, d, "c1")
	h.item = dbtest.NewItem(t, d, h.coll, "i1")
	h.asset = dbtest.NewAsset(h.coll, h.item, "a.tif")
	h.asset.GSD = dbtest.Ptr(2.0)
	h.asset.UpdateInterval = 60
	insertAsset(t, d, h.asset)
	h.ref = types.AssetRef{Collection: "c1", Item: "i1", Asset: "a.tif"}
	return h
}

func newService(t *testing.T, d db.DB, gw storage.Gateway) Service {
	t.Helper()
	mgr, err := storage.NewManager(map[string]storage.Gateway{"primary": gw}, nil)
	require.NoError(t, err)
	svc, err := NewService(Config{
		DB:                 d,
		Storage:            mgr,
		PresignTTL:         time.Minute,
		MultipartThreshold: 10,
		PartSize:           5,
	})
	require.NoError(t, err)
	return svc
}

func insertAsset(t *testing.T, d db.DB, a *types.Asset) {
	t.Helper()
	ctx := context.Background()
	err := d.WithTx(ctx, func(tx db.TxStore) error {
		if err := tx.CreateAsset(ctx, a); err != nil {
			return err
		}
		return aggregate.New().AssetCreated(ctx, tx, a)
	})
	require.NoError(t, err)
}

func requireCode(t *testing.T, err error, code ErrorCode) *Error {
	t.Helper()
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, code, e.Code, e.Error())
	return e
}

func (h *harness) start(t *testing.T, size int64, parts int) *StartUploadResult {
	t.Helper()
	res, err := h.svc.StartUpload(context.Background(), &StartUploadRequest{
		Asset:        h.ref,
		DeclaredSize: size,
		NumberParts:  parts,
	})
	require.NoError(t, err)
	return res
}

// upload pushes data for each part through the gateway and registers it.
func (h *harness) upload(t *testing.T, u *types.AssetUpload, data ...string) []PartEntry {
	t.Helper()
	var entries []PartEntry
	for i, chunk := range data {
		etag, err := h.gw.PutPart(u.UploadID, i+1, []byte(chunk))
		require.NoError(t, err)
		_, err = h.svc.RegisterPart(context.Background(), h.ref, u.UploadID, i+1, etag)
		require.NoError(t, err)
		entries = append(entries, PartEntry{PartNumber: i + 1, ETag: `"` + etag + `"`})
	}
	return entries
}

func (h *harness) status(t *testing.T, uploadID string) types.UploadStatus {
	t.Helper()
	u, err := h.svc.GetUpload(context.Background(), h.ref, uploadID)
	require.NoError(t, err)
	return u.Status
}

// ============================================================================
// NewService
// ============================================================================

func TestNewService(t *testing.T) {
	t.Parallel()

	mgr, err := storage.NewManager(map[string]storage.Gateway{"primary": storage.NewMemoryGateway("b")}, nil)
	require.NoError(t, err)

	tests := []struct {
		name        string
		cfg         Config
		errContains string
	}{
		{name: "missing DB", cfg: Config{Storage: mgr}, errContains: "DB is required"},
		{name: "missing Storage", cfg: Config{DB: memory.New()}, errContains: "Storage is required"},
		{name: "defaults", cfg: Config{DB: memory.New(), Storage: mgr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, err := NewService(tt.cfg)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			impl := svc.(*serviceImpl)
			assert.Equal(t, DefaultPresignTTL, impl.ttl)
			assert.Equal(t, DefaultMultipartThreshold, impl.threshold)
			assert.Equal(t, DefaultPartSize, impl.partSize)
			assert.NotNil(t, impl.maintainer)
		})
	}
}

// ============================================================================
// StartUpload
// ============================================================================

func TestStartUpload_SecondStartConflicts(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		h := newHarness(t, d)

		res := h.start(t, 8, 0)
		assert.Equal(t, types.UploadModeSingle, res.Upload.Mode)
		assert.Equal(t, types.UploadStatusInProgress, res.Upload.Status)
		assert.Equal(t, "primary", res.Upload.Bucket)
		assert.Equal(t, "c1/i1/a.tif", res.Upload.Key)
		require.Len(t, res.URLs, 1)
		assert.Equal(t, 1, res.URLs[0].Part)
		assert.Equal(t, http.MethodPut, res.URLs[0].Method)
		assert.NotEmpty(t, res.Upload.UploadID)

		_, err := h.svc.StartUpload(context.Background(), &StartUploadRequest{Asset: h.ref, DeclaredSize: 5})
		e := requireCode(t, err, ErrCodeUploadInProgress)
		assert.Equal(t, http.StatusConflict, e.HTTPStatus())
		assert.Contains(t, e.Error(), res.Upload.UploadID)
		assert.Zero(t, h.gw.Calls("InitiateMultipart"))
	})
}

func TestStartUpload_Modes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		size      int64
		parts     int
		wantMode  types.UploadMode
		wantParts int
	}{
		{name: "small declared size", size: 10, wantMode: types.UploadModeSingle, wantParts: 1},
		{name: "unknown size", size: 0, wantMode: types.UploadModeSingle, wantParts: 1},
		{name: "over threshold", size: 12, wantMode: types.UploadModeMultipart, wantParts: 3},
		{name: "explicit parts", size: 4, parts: 2, wantMode: types.UploadModeMultipart, wantParts: 2},
		{name: "explicit single part over threshold", size: 30, parts: 1, wantMode: types.UploadModeMultipart, wantParts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, memory.New())
			res := h.start(t, tt.size, tt.parts)
			assert.Equal(t, tt.wantMode, res.Upload.Mode)
			assert.Equal(t, tt.wantParts, res.Upload.NumberParts)
			require.Len(t, res.URLs, tt.wantParts)
			for i, u := range res.URLs {
				assert.Equal(t, i+1, u.Part)
			}
			if tt.wantMode == types.UploadModeMultipart {
				assert.True(t, h.gw.UploadOpen(res.Upload.UploadID))
			}
		})
	}
}

func TestStartUpload_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		req       func(t *testing.T, h *harness) *StartUploadRequest
		wantCode  ErrorCode
		wantField string
	}{
		{
			name:      "negative size",
			req:       func(t *testing.T, h *harness) *StartUploadRequest { return &StartUploadRequest{Asset: h.ref, DeclaredSize: -1} },
			wantCode:  ErrCodeInvalidArgument,
			wantField: "file_size",
		},
		{
			name: "too many parts",
			req: func(t *testing.T, h *harness) *StartUploadRequest {
				return &StartUploadRequest{Asset: h.ref, NumberParts: storage.MaxPartNumber + 1}
			},
			wantCode:  ErrCodeInvalidArgument,
			wantField: "number_parts",
		},
		{
			name: "size needs too many parts",
			req: func(t *testing.T, h *harness) *StartUploadRequest {
				return &StartUploadRequest{Asset: h.ref, DeclaredSize: 5*storage.MaxPartNumber + 1}
			},
			wantCode:  ErrCodeInvalidArgument,
			wantField: "file_size",
		},
		{
			name: "unknown asset",
			req: func(t *testing.T, h *harness) *StartUploadRequest {
				return &StartUploadRequest{Asset: types.AssetRef{Collection: "c1", Item: "i1", Asset: "missing"}}
			},
			wantCode: ErrCodeAssetNotFound,
		},
		{
			name: "unknown item",
			req: func(t *testing.T, h *harness) *StartUploadRequest {
				return &StartUploadRequest{Asset: types.AssetRef{Collection: "c1", Item: "nope", Asset: "a.tif"}}
			},
			wantCode: ErrCodeAssetNotFound,
		},
		{
			name: "external asset",
			req: func(t *testing.T, h *harness) *StartUploadRequest {
				a := dbtest.NewAsset(h.coll, nil, "remote.json")
				a.IsExternal = true
				a.File = "https://example.com/remote.json"
				insertAsset(t, h.db, a)
				return &StartUploadRequest{Asset: types.AssetRef{Collection: "c1", Asset: "remote.json"}}
			},
			wantCode:  ErrCodeInvalidArgument,
			wantField: "asset",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, memory.New())
			_, err := h.svc.StartUpload(context.Background(), tt.req(t, h))
			e := requireCode(t, err, tt.wantCode)
			assert.Equal(t, tt.wantField, e.Field)

			uploads, err := h.db.ListUploads(context.Background(), db.UploadFilter{})
			require.NoError(t, err)
			assert.Empty(t, uploads)
		})
	}
}

func TestStartUpload_BackendUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	h.gw.InjectFailure("InitiateMultipart", storage.ErrStorageUnavailable)

	_, err := h.svc.StartUpload(context.Background(), &StartUploadRequest{Asset: h.ref, NumberParts: 2})
	e := requireCode(t, err, ErrCodeStorageUnavailable)
	assert.True(t, e.Retryable())
	assert.Equal(t, http.StatusServiceUnavailable, e.HTTPStatus())
	assert.ErrorIs(t, err, storage.ErrStorageUnavailable)

	_, err = h.db.GetInProgressUpload(context.Background(), h.asset.ID)
	assert.ErrorIs(t, err, db.ErrUploadNotFound)
}

func TestStartUpload_PresignFailureAbortsBackend(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	h.gw.InjectFailure("PresignPart", storage.ErrStorageUnavailable)

	_, err := h.svc.StartUpload(context.Background(), &StartUploadRequest{Asset: h.ref, NumberParts: 2})
	requireCode(t, err, ErrCodeStorageUnavailable)
	assert.Equal(t, 1, h.gw.Calls("InitiateMultipart"))
	assert.Equal(t, 1, h.gw.Calls("AbortMultipart"))
}

func TestStartUpload_ConcurrentStartsHaveOneWinner(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		h := newHarness(t, d)

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   int
			conflicts int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.svc.StartUpload(context.Background(), &StartUploadRequest{Asset: h.ref, NumberParts: 2})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case CodeOf(err) == ErrCodeUploadInProgress:
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
		assert.Equal(t, workers-1, conflicts)
		inProgress, err := d.ListUploads(context.Background(), db.UploadFilter{Status: types.UploadStatusInProgress})
		require.NoError(t, err)
		assert.Len(t, inProgress, 1)
		// Every loser that reached the backend cleaned up after itself.
		assert.Equal(t, h.gw.Calls("InitiateMultipart")-1, h.gw.Calls("AbortMultipart"))
	})
}

// ============================================================================
// RegisterPart
// ============================================================================

func TestRegisterPart_ResubmissionOverwrites(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		h := newHarness(t, d)
		ctx := context.Background()
		u := h.start(t, 0, 2).Upload

		_, err := h.svc.RegisterPart(ctx, h.ref, u.UploadID, 1, "etagA")
		require.NoError(t, err)
		_, err = h.svc.RegisterPart(ctx, h.ref, u.UploadID, 1, `"etagA2"`)
		require.NoError(t, err)

		parts, err := d.ListUploadParts(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, parts, 1)
		assert.Equal(t, "etagA2", parts[0].ETag)
	})
}

func TestRegisterPart_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		single    bool
		part      int
		etag      string
		wantCode  ErrorCode
		wantField string
	}{
		{name: "part zero", part: 0, etag: "e", wantCode: ErrCodeInvalidArgument, wantField: "part_number"},
		{name: "part above limit", part: storage.MaxPartNumber + 1, etag: "e", wantCode: ErrCodeInvalidArgument, wantField: "part_number"},
		{name: "part beyond session", part: 3, etag: "e", wantCode: ErrCodeInvalidArgument, wantField: "part_number"},
		{name: "empty etag", part: 1, etag: ` "" `, wantCode: ErrCodeInvalidArgument, wantField: "etag"},
		{name: "single upload", single: true, part: 1, etag: "e", wantCode: ErrCodeInvalidArgument, wantField: "part_number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, memory.New())
			parts := 2
			if tt.single {
				parts = 0
			}
			u := h.start(t, 0, parts).Upload
			_, err := h.svc.RegisterPart(context.Background(), h.ref, u.UploadID, tt.part, tt.etag)
			e := requireCode(t, err, tt.wantCode)
			assert.Equal(t, tt.wantField, e.Field)
		})
	}
}

func TestRegisterPart_NoSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	ctx := context.Background()

	_, err := h.svc.RegisterPart(ctx, h.ref, "unknown", 1, "e")
	requireCode(t, err, ErrCodeUploadNotInProgress)

	u := h.start(t, 0, 2).Upload
	_, err = h.svc.AbortUpload(ctx, h.ref, u.UploadID)
	require.NoError(t, err)
	_, err = h.svc.RegisterPart(ctx, h.ref, u.UploadID, 1, "e")
	e := requireCode(t, err, ErrCodeUploadNotInProgress)
	assert.Equal(t, http.StatusConflict, e.HTTPStatus())
}

// ============================================================================
// CompleteUpload
// ============================================================================

func TestCompleteUpload_Multipart(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		h := newHarness(t, d)
		ctx := context.Background()
		u := h.start(t, 9, 2).Upload
		parts := h.upload(t, u, "hello", "word")

		res, err := h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID, Parts: parts})
		require.NoError(t, err)
		assert.Equal(t, types.UploadStatusCompleted, res.Upload.Status)
		assert.NotZero(t, res.Upload.EndedAt)
		require.NotNil(t, res.Asset.FileSize)
		assert.Equal(t, int64(9), *res.Asset.FileSize)
		assert.Equal(t, "c1/i1/a.tif", res.Asset.File)
		assert.NotEmpty(t, res.Asset.ETag)
		assert.True(t, h.gw.HasObject("c1/i1/a.tif"))
		assert.False(t, h.gw.UploadOpen(u.UploadID))

		assert.Equal(t, types.UploadStatusCompleted, h.status(t, u.UploadID))

		stored, err := d.GetAsset(ctx, h.asset.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(9), stored.DataSize())
		item, err := d.GetItem(ctx, h.item.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(9), item.TotalDataSize)
		assert.Equal(t, int64(60), item.UpdateInterval)
		coll, err := d.GetCollection(ctx, h.coll.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(9), coll.TotalDataSize)

		gsd, err := d.GetValueCount(ctx, h.coll.ID, types.DimensionGSD, types.FloatValue(dbtest.Ptr(2.0)))
		require.NoError(t, err)
		assert.Equal(t, int64(1), gsd.Count)

		// A new session may start once the previous one is terminal.
		h.start(t, 3, 0)
	})
}

func TestCompleteUpload_Single(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		h := newHarness(t, d)
		ctx := context.Background()
		res, err := h.svc.StartUpload(ctx, &StartUploadRequest{Asset: h.ref, DeclaredSize: 4, Checksum: "abc123"})
		require.NoError(t, err)
		u := res.Upload
		assert.Equal(t, "abc123", res.URLs[0].Headers["X-Amz-Meta-Sha256"])

		_, err = h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID})
		e := requireCode(t, err, ErrCodeInvalidArgument)
		assert.Equal(t, "file", e.Field)
		assert.Equal(t, types.UploadStatusInProgress, h.status(t, u.UploadID))

		h.gw.PutObject(u.Key, []byte("data"), storage.PutOptions{Checksum: "abc123"})
		done, err := h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID})
		require.NoError(t, err)
		assert.Equal(t, int64(4), done.Asset.DataSize())
		assert.Equal(t, "abc123", done.Asset.Checksum)
		assert.Zero(t, h.gw.Calls("CompleteMultipart"))
	})
}

func TestCompleteUpload_ChecksumMismatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	ctx := context.Background()
	res, err := h.svc.StartUpload(ctx, &StartUploadRequest{Asset: h.ref, DeclaredSize: 4, Checksum: "abc"})
	require.NoError(t, err)
	h.gw.PutObject(res.Upload.Key, []byte("data"), storage.PutOptions{Checksum: "def"})

	_, err = h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: res.Upload.UploadID})
	e := requireCode(t, err, ErrCodeInvalidArgument)
	assert.Equal(t, "checksum", e.Field)
	assert.Equal(t, types.UploadStatusInProgress, h.status(t, res.Upload.UploadID))
}

func TestCompleteUpload_InvalidParts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts func(registered []PartEntry) []PartEntry
	}{
		{name: "missing", parts: func([]PartEntry) []PartEntry { return nil }},
		{name: "descending", parts: func(r []PartEntry) []PartEntry { return []PartEntry{r[1], r[0]} }},
		{name: "duplicate", parts: func(r []PartEntry) []PartEntry { return []PartEntry{r[0], r[0]} }},
		{name: "unregistered", parts: func(r []PartEntry) []PartEntry {
			return []PartEntry{r[0], r[1], {PartNumber: 3, ETag: "x"}}
		}},
		{name: "etag mismatch", parts: func(r []PartEntry) []PartEntry {
			return []PartEntry{r[0], {PartNumber: 2, ETag: "other"}}
		}},
		{name: "non-positive", parts: func(r []PartEntry) []PartEntry {
			return []PartEntry{{PartNumber: 0, ETag: "x"}, r[0]}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, memory.New())
			u := h.start(t, 0, 3).Upload
			registered := h.upload(t, u, "aaaaa", "bbbbb")

			_, err := h.svc.CompleteUpload(context.Background(), &CompleteUploadRequest{
				Asset:    h.ref,
				UploadID: u.UploadID,
				Parts:    tt.parts(registered),
			})
			e := requireCode(t, err, ErrCodeInvalidParts)
			assert.Equal(t, "parts", e.Field)
			assert.Equal(t, http.StatusBadRequest, e.HTTPStatus())
			assert.Equal(t, types.UploadStatusInProgress, h.status(t, u.UploadID))
			assert.Zero(t, h.gw.Calls("CompleteMultipart"))
		})
	}
}

func TestCompleteUpload_BackendRejectsParts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	ctx := context.Background()
	u := h.start(t, 0, 2).Upload
	parts := h.upload(t, u, "aaaaa")

	// Registered but never sent to the backend.
	_, err := h.svc.RegisterPart(ctx, h.ref, u.UploadID, 2, "made-up")
	require.NoError(t, err)
	parts = append(parts, PartEntry{PartNumber: 2, ETag: "made-up"})

	_, err = h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID, Parts: parts})
	requireCode(t, err, ErrCodeInvalidParts)
	assert.ErrorIs(t, err, storage.ErrInvalidParts)
	assert.Equal(t, types.UploadStatusInProgress, h.status(t, u.UploadID))
	assert.True(t, h.gw.UploadOpen(u.UploadID))
}

func TestCompleteUpload_BackendUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	u := h.start(t, 0, 2).Upload
	parts := h.upload(t, u, "aaaaa", "b")
	h.gw.InjectFailure("CompleteMultipart", storage.ErrStorageUnavailable)

	_, err := h.svc.CompleteUpload(context.Background(), &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID, Parts: parts})
	requireCode(t, err, ErrCodeStorageUnavailable)
	assert.Equal(t, types.UploadStatusInProgress, h.status(t, u.UploadID))

	h.gw.InjectFailure("CompleteMultipart", nil)
	res, err := h.svc.CompleteUpload(context.Background(), &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID, Parts: parts})
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Asset.DataSize())
}

func TestCompleteUpload_HeadFailureFallsBackToPartSizes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	u := h.start(t, 0, 2).Upload
	parts := h.upload(t, u, "aaaaa", "bb")
	h.gw.InjectFailure("HeadObject", storage.ErrStorageUnavailable)

	res, err := h.svc.CompleteUpload(context.Background(), &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID, Parts: parts})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Asset.DataSize())
	assert.Equal(t, types.UploadStatusCompleted, res.Upload.Status)
}

func TestCompleteUpload_AbortedWhileCompleting(t *testing.T) {
	t.Parallel()
	d := memory.New()
	ctx := context.Background()
	c := dbtest.NewCollection(t, d, "c")
	item := dbtest.NewItem(t, d, c, "i")
	a := dbtest.NewAsset(c, item, "a.tif")
	insertAsset(t, d, a)
	ref := types.AssetRef{Collection: "c", Item: "i", Asset: "a.tif"}

	u := dbtest.NewUpload(a, "up-1")
	require.NoError(t, d.CreateUpload(ctx, u))
	require.NoError(t, d.PutUploadPart(ctx, u.ID, &types.UploadPart{PartNumber: 1, ETag: "e1"}))

	gw := &storagetest.Gateway{BucketName: "stac-primary"}
	gw.On("ListParts", mock.Anything, u.Key, "up-1").
		Return([]storage.Part{{PartNumber: 1, ETag: "e1", Size: 5}}, nil)
	gw.On("CompleteMultipart", mock.Anything, u.Key, "up-1", mock.Anything).
		Run(func(mock.Arguments) {
			// The owner aborts between backend completion and the catalog update.
			require.NoError(t, d.UpdateUploadStatus(ctx, u.ID, types.UploadStatusAborted, time.Now().UnixNano()))
		}).
		Return(&storage.CompletedObject{Key: u.Key, ETag: "final-1"}, nil)
	gw.On("HeadObject", mock.Anything, u.Key).Return(&storage.ObjectInfo{Size: 5, ETag: "final-1"}, nil)

	svc := newService(t, d, gw)
	_, err := svc.CompleteUpload(ctx, &CompleteUploadRequest{
		Asset:    ref,
		UploadID: "up-1",
		Parts:    []PartEntry{{PartNumber: 1, ETag: "e1"}},
	})
	requireCode(t, err, ErrCodeUploadNotInProgress)
	gw.AssertExpectations(t)

	stored, err := d.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.DataSize())
	assert.Empty(t, stored.ETag)
}

func TestCompleteUpload_NotInProgress(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	ctx := context.Background()

	_, err := h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: "nope"})
	requireCode(t, err, ErrCodeUploadNotInProgress)

	u := h.start(t, 0, 2).Upload
	parts := h.upload(t, u, "aaaaa", "b")
	_, err = h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID, Parts: parts})
	require.NoError(t, err)
	_, err = h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID, Parts: parts})
	requireCode(t, err, ErrCodeUploadNotInProgress)
}

func TestCompleteUpload_BackendCompletedEarlier(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		h := newHarness(t, d)
		ctx := context.Background()
		u := h.start(t, 9, 2).Upload
		parts := h.upload(t, u, "hello", "word")

		// The backend committed, the catalog update never ran.
		_, err := h.gw.CompleteMultipart(ctx, u.Key, u.UploadID, toStorageParts(parts))
		require.NoError(t, err)
		require.Equal(t, types.UploadStatusInProgress, h.status(t, u.UploadID))

		res, err := h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID, Parts: parts})
		require.NoError(t, err)
		assert.Equal(t, types.UploadStatusCompleted, res.Upload.Status)
		assert.Equal(t, "c1/i1/a.tif", res.Asset.File)
		assert.Equal(t, int64(9), res.Asset.DataSize())
		assert.NotEmpty(t, res.Asset.ETag)
		assert.Equal(t, 1, h.gw.Calls("CompleteMultipart"))

		item, err := d.GetItem(ctx, h.item.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(9), item.TotalDataSize)
		coll, err := d.GetCollection(ctx, h.coll.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(9), coll.TotalDataSize)
	})
}

func TestCompleteUpload_BackendUploadGone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	ctx := context.Background()
	u := h.start(t, 0, 2).Upload
	parts := h.upload(t, u, "aaaaa", "b")
	require.NoError(t, h.gw.AbortMultipart(ctx, u.Key, u.UploadID))

	_, err := h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID, Parts: parts})
	requireCode(t, err, ErrCodeInvalidParts)
	assert.ErrorIs(t, err, storage.ErrUploadNotFound)
	assert.Equal(t, types.UploadStatusInProgress, h.status(t, u.UploadID))
	assert.False(t, h.gw.HasObject(u.Key))
}

func TestCompleteUpload_OlderObjectIsNotTaken(t *testing.T) {
	t.Parallel()
	d := memory.New()
	ctx := context.Background()
	c := dbtest.NewCollection(t, d, "c")
	item := dbtest.NewItem(t, d, c, "i")
	a := dbtest.NewAsset(c, item, "a.tif")
	insertAsset(t, d, a)
	ref := types.AssetRef{Collection: "c", Item: "i", Asset: "a.tif"}

	u := dbtest.NewUpload(a, "up-1")
	require.NoError(t, d.CreateUpload(ctx, u))
	require.NoError(t, d.PutUploadPart(ctx, u.ID, &types.UploadPart{PartNumber: 1, ETag: "e1"}))

	gw := &storagetest.Gateway{BucketName: "stac-primary"}
	gw.On("ListParts", mock.Anything, u.Key, "up-1").
		Return(nil, fmt.Errorf("list parts: %w", storage.ErrUploadNotFound))
	// Left over from an earlier upload of the same asset.
	gw.On("HeadObject", mock.Anything, u.Key).
		Return(&storage.ObjectInfo{Size: 3, ETag: "old", LastModified: time.Now().Add(-time.Hour)}, nil)

	svc := newService(t, d, gw)
	_, err := svc.CompleteUpload(ctx, &CompleteUploadRequest{
		Asset:    ref,
		UploadID: "up-1",
		Parts:    []PartEntry{{PartNumber: 1, ETag: "e1"}},
	})
	requireCode(t, err, ErrCodeInvalidParts)
	gw.AssertExpectations(t)
	gw.AssertNotCalled(t, "CompleteMultipart", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	stored, err := d.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.File)
	got, err := d.GetUpload(ctx, a.ID, "up-1")
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusInProgress, got.Status)
}

// ============================================================================
// AbortUpload
// ============================================================================

func TestAbortUpload_Idempotent(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		h := newHarness(t, d)
		ctx := context.Background()
		u := h.start(t, 0, 2).Upload

		first, err := h.svc.AbortUpload(ctx, h.ref, u.UploadID)
		require.NoError(t, err)
		assert.Equal(t, types.UploadStatusAborted, first.Status)
		assert.False(t, h.gw.UploadOpen(u.UploadID))

		second, err := h.svc.AbortUpload(ctx, h.ref, u.UploadID)
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.EndedAt, second.EndedAt)
		assert.Equal(t, 1, h.gw.Calls("AbortMultipart"))

		// The asset is free for a new session.
		next := h.start(t, 0, 2).Upload
		assert.NotEqual(t, u.UploadID, next.UploadID)
	})
}

func TestAbortUpload_BackendFailureStillAborts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	u := h.start(t, 0, 2).Upload
	h.gw.InjectFailure("AbortMultipart", storage.ErrStorageUnavailable)

	res, err := h.svc.AbortUpload(context.Background(), h.ref, u.UploadID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusAborted, res.Status)
	assert.Equal(t, types.UploadStatusAborted, h.status(t, u.UploadID))
}

func TestAbortUpload_EmptyIDSelectsInProgress(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	ctx := context.Background()

	_, err := h.svc.AbortUpload(ctx, h.ref, "")
	requireCode(t, err, ErrCodeUploadNotInProgress)

	u := h.start(t, 8, 0).Upload
	res, err := h.svc.AbortUpload(ctx, h.ref, "")
	require.NoError(t, err)
	assert.Equal(t, u.UploadID, res.UploadID)
	assert.Equal(t, types.UploadStatusAborted, res.Status)
	assert.Zero(t, h.gw.Calls("AbortMultipart"))
}

func TestAbortUpload_CompletedSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	ctx := context.Background()
	u := h.start(t, 0, 2).Upload
	parts := h.upload(t, u, "abc", "d")
	_, err := h.svc.CompleteUpload(ctx, &CompleteUploadRequest{Asset: h.ref, UploadID: u.UploadID, Parts: parts})
	require.NoError(t, err)

	_, err = h.svc.AbortUpload(ctx, h.ref, u.UploadID)
	requireCode(t, err, ErrCodeUploadNotInProgress)
	assert.Equal(t, types.UploadStatusCompleted, h.status(t, u.UploadID))
}

func TestAbortStale(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		h := newHarness(t, d)
		ctx := context.Background()
		fresh := h.start(t, 0, 2).Upload

		old := dbtest.NewAsset(h.coll, nil, "old.json")
		insertAsset(t, d, old)
		stale := dbtest.NewUpload(old, "stale-1")
		stale.CreatedAt = time.Now().Add(-2 * time.Hour).UnixNano()
		require.NoError(t, d.CreateUpload(ctx, stale))

		report, err := h.svc.AbortStale(ctx, time.Hour)
		require.NoError(t, err)
		require.Len(t, report.Aborted, 1)
		assert.Empty(t, report.Failed)
		assert.Equal(t, "stale-1", report.Aborted[0].UploadID)
		assert.Equal(t, types.AssetRef{Collection: "c1", Asset: "old.json"}, report.Aborted[0].Asset)

		got, err := d.GetUpload(ctx, old.ID, "stale-1")
		require.NoError(t, err)
		assert.Equal(t, types.UploadStatusAborted, got.Status)
		assert.Equal(t, types.UploadStatusInProgress, h.status(t, fresh.UploadID))

		_, err = h.svc.AbortStale(ctx, -time.Second)
		requireCode(t, err, ErrCodeInvalidArgument)
	})
}

// ============================================================================
// Listing and refresh
// ============================================================================

func TestListings(t *testing.T) {
	t.Parallel()
	forEachDB(t, func(t *testing.T, d db.DB) {
		h := newHarness(t, d)
		ctx := context.Background()

		first := h.start(t, 0, 2).Upload
		_, err := h.svc.AbortUpload(ctx, h.ref, first.UploadID)
		require.NoError(t, err)
		second := h.start(t, 0, 2).Upload

		other := dbtest.NewCollection(t, d, "c2")
		oa := dbtest.NewAsset(other, nil, "x.json")
		insertAsset(t, d, oa)
		_, err = h.svc.StartUpload(ctx, &StartUploadRequest{Asset: types.AssetRef{Collection: "c2", Asset: "x.json"}})
		require.NoError(t, err)

		all, err := h.svc.ListUploads(ctx, h.ref, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)
		aborted, err := h.svc.ListUploads(ctx, h.ref, types.UploadStatusAborted)
		require.NoError(t, err)
		require.Len(t, aborted, 1)
		assert.Equal(t, first.UploadID, aborted[0].UploadID)

		inProgress, err := h.svc.ListInProgress(ctx, ListFilter{})
		require.NoError(t, err)
		assert.Len(t, inProgress, 2)

		scoped, err := h.svc.ListInProgress(ctx, ListFilter{Collection: "c1"})
		require.NoError(t, err)
		require.Len(t, scoped, 1)
		assert.Equal(t, second.UploadID, scoped[0].UploadID)
		assert.Equal(t, h.ref, scoped[0].Asset)

		sessions, err := h.svc.ListSessions(ctx, ListFilter{Collection: "c1", Status: types.UploadStatusAborted})
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, first.UploadID, sessions[0].UploadID)

		_, err = h.svc.ListSessions(ctx, ListFilter{Collection: "missing"})
		e := requireCode(t, err, ErrCodeInvalidArgument)
		assert.Equal(t, "collection", e.Field)
	})
}

func TestListParts_FromBackend(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	ctx := context.Background()
	u := h.start(t, 0, 3).Upload

	// Uploaded but not registered: the backend is authoritative.
	_, err := h.gw.PutPart(u.UploadID, 2, []byte("bb"))
	require.NoError(t, err)

	parts, err := h.svc.ListParts(ctx, h.ref, u.UploadID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, 2, parts[0].PartNumber)
	assert.Equal(t, int64(2), parts[0].Size)

	single := newHarness(t, memory.New())
	su := single.start(t, 1, 0).Upload
	_, err = single.svc.ListParts(ctx, single.ref, su.UploadID)
	requireCode(t, err, ErrCodeInvalidArgument)
}

func TestRefreshURLs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, memory.New())
	ctx := context.Background()
	u := h.start(t, 0, 3).Upload

	urls, err := h.svc.RefreshURLs(ctx, h.ref, u.UploadID, nil)
	require.NoError(t, err)
	assert.Len(t, urls, 3)

	urls, err = h.svc.RefreshURLs(ctx, h.ref, u.UploadID, []int{2})
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, 2, urls[0].Part)
	assert.Contains(t, urls[0].URL, "partNumber=2")

	_, err = h.svc.RefreshURLs(ctx, h.ref, u.UploadID, []int{4})
	e := requireCode(t, err, ErrCodeInvalidArgument)
	assert.Equal(t, "parts", e.Field)

	_, err = h.svc.AbortUpload(ctx, h.ref, u.UploadID)
	require.NoError(t, err)
	_, err = h.svc.RefreshURLs(ctx, h.ref, u.UploadID, nil)
	requireCode(t, err, ErrCodeUploadNotInProgress)

	su := h.start(t, 1, 0).Upload
	urls, err = h.svc.RefreshURLs(ctx, h.ref, su.UploadID, nil)
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, http.MethodPut, urls[0].Method)
	_, err = h.svc.RefreshURLs(ctx, h.ref, su.UploadID, []int{2})
	requireCode(t, err, ErrCodeInvalidArgument)
}

func TestObserveCountsRejections(t *testing.T) {
	t.Parallel()
	err := observe("test", fmt.Errorf("wrapped: %w", UploadInProgressError("x")))
	assert.Equal(t, ErrCodeUploadInProgress, CodeOf(err))
	assert.NoError(t, observe("test", nil))
	assert.Equal(t, ErrCodeNone, CodeOf(errors.New("plain")))
}
