// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload manages asset upload sessions: one state machine per
// session (in-progress, then completed or aborted) with at most one
// in-progress session per asset.
package upload

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/storage"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"
)

// Service defines the upload session operations offered to the catalog API.
type Service interface {
	// StartUpload opens a session and returns presigned URLs for the client.
	StartUpload(ctx context.Context, req *StartUploadRequest) (*StartUploadResult, error)

	// RegisterPart records a part the client uploaded. Registering the same
	// part number again replaces its ETag.
	RegisterPart(ctx context.Context, ref types.AssetRef, uploadID string, partNumber int, etag string) (*types.UploadPart, error)

	// CompleteUpload assembles the object and updates the asset.
	CompleteUpload(ctx context.Context, req *CompleteUploadRequest) (*CompleteUploadResult, error)

	// AbortUpload ends a session. An empty uploadID selects the asset's
	// in-progress session.
	AbortUpload(ctx context.Context, ref types.AssetRef, uploadID string) (*types.AssetUpload, error)

	// GetUpload returns one session of an asset.
	GetUpload(ctx context.Context, ref types.AssetRef, uploadID string) (*types.AssetUpload, error)

	// ListUploads returns the sessions of an asset, optionally by status.
	ListUploads(ctx context.Context, ref types.AssetRef, status types.UploadStatus) ([]*types.AssetUpload, error)

	// ListSessions lists sessions across assets.
	ListSessions(ctx context.Context, f ListFilter) ([]*Session, error)

	// ListInProgress lists in-progress sessions across assets.
	ListInProgress(ctx context.Context, f ListFilter) ([]*Session, error)

	// ListParts returns the parts the backend holds for a multipart session.
	ListParts(ctx context.Context, ref types.AssetRef, uploadID string) ([]storage.Part, error)

	// RefreshURLs presigns new URLs for an in-progress session. An empty
	// parts list refreshes every part.
	RefreshURLs(ctx context.Context, ref types.AssetRef, uploadID string, parts []int) ([]storage.PresignedRequest, error)

	// AbortStale aborts in-progress sessions created more than olderThan ago.
	AbortStale(ctx context.Context, olderThan time.Duration) (*StaleReport, error)
}

// StartUploadRequest contains parameters for opening a session
type StartUploadRequest struct {
	Asset           types.AssetRef
	DeclaredSize    int64
	Checksum        string
	NumberParts     int
	ContentEncoding string
}

// StartUploadResult holds the persisted session and one presigned URL per
// part. A single upload has one URL for part 1.
type StartUploadResult struct {
	Upload *types.AssetUpload          `json:"upload"`
	URLs   []storage.PresignedRequest `json:"urls"`
}

// PartEntry is one element of a completion request's parts list.
type PartEntry struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// CompleteUploadRequest contains parameters for completing a session
type CompleteUploadRequest struct {
	Asset    types.AssetRef
	UploadID string
	Parts    []PartEntry
}

// CompleteUploadResult contains the completed session and updated asset
type CompleteUploadResult struct {
	Upload *types.AssetUpload `json:"upload"`
	Asset  *types.Asset       `json:"asset"`
}

// ListFilter selects sessions across assets. Zero fields are ignored.
type ListFilter struct {
	Collection    string
	Status        types.UploadStatus
	CreatedBefore time.Time
	Limit         int
}

// Session is an upload together with the asset it belongs to.
type Session struct {
	*types.AssetUpload
	Asset types.AssetRef `json:"asset"`
}

// StaleReport lists the outcome of an AbortStale run.
type StaleReport struct {
	Aborted []*Session
	Failed  []*Session
}
