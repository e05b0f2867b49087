// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "github.com/google/uuid"

// UploadStatus is the state of an upload session.
type UploadStatus string

const (
	UploadStatusInProgress UploadStatus = "in-progress"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusAborted    UploadStatus = "aborted"
)

// Terminal reports whether no further transition is allowed.
func (s UploadStatus) Terminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusAborted
}

// UploadMode tells how the client transfers the object.
type UploadMode string

const (
	// UploadModeSingle is one presigned PUT of the whole object.
	UploadModeSingle UploadMode = "single"
	// UploadModeMultipart is a backend multipart upload with one presigned URL per part.
	UploadModeMultipart UploadMode = "multipart"
)

// AssetUpload is one upload session of an asset or collection asset.
// Completed and aborted sessions are kept for auditing.
type AssetUpload struct {
	ID              uuid.UUID    `json:"id"`
	AssetID         uuid.UUID    `json:"asset_id"`
	UploadID        string       `json:"upload_id"` // assigned by the storage backend
	Status          UploadStatus `json:"status"`
	Mode            UploadMode   `json:"mode"`
	Bucket          string       `json:"bucket"` // configured bucket id, not the backend name
	Key             string       `json:"key"`
	NumberParts     int          `json:"number_parts"`
	FileSize        int64        `json:"file_size"` // declared by the uploader, 0 when unset
	Checksum        string       `json:"checksum,omitempty"`
	ContentEncoding string       `json:"content_encoding,omitempty"`
	CreatedAt       int64        `json:"created_at"` // Unix nano timestamp
	EndedAt         int64        `json:"ended_at,omitempty"`
}

// UploadPart is a part registered by the uploader.
type UploadPart struct {
	PartNumber   int    `json:"part_number"`
	ETag         string `json:"etag"`
	Size         int64  `json:"size,omitempty"`
	RegisteredAt int64  `json:"registered_at"`
}
