// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage is the object-storage side of the asset upload lifecycle:
// key naming, bucket selection and a per-bucket Gateway over S3-compatible
// backends.
package storage

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	ErrInvalidParts       = errors.New("invalid parts")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrObjectNotFound     = errors.New("object not found")
	ErrUploadNotFound     = errors.New("multipart upload not found")
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrNoBuckets          = errors.New("no buckets configured")
	ErrUnknownBucket      = errors.New("unknown bucket")
)

// ChecksumMetadataKey is the user metadata entry carrying the uploader's
// declared sha256. Backends expose it as x-amz-meta-sha256.
const ChecksumMetadataKey = "sha256"

// MaxPartNumber is the largest part number S3 accepts.
const MaxPartNumber = 10000

// Gateway is the contract over one configured bucket. Implementations never
// retry; transient failures are reported as ErrStorageUnavailable.
type Gateway interface {
	// Bucket returns the backend bucket name this gateway writes to.
	Bucket() string

	PresignPut(ctx context.Context, key string, opts PutOptions, ttl time.Duration) (*PresignedRequest, error)
	InitiateMultipart(ctx context.Context, key string, opts PutOptions) (string, error)
	PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (*PresignedRequest, error)
	ListParts(ctx context.Context, key, uploadID string) ([]Part, error)
	// CompleteMultipart fails with ErrInvalidParts when parts are out of
	// order, duplicated or rejected by the backend.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (*CompletedObject, error)
	// AbortMultipart treats an unknown or already finished upload as success.
	AbortMultipart(ctx context.Context, key, uploadID string) error
	// DeleteObject treats a missing object as success.
	DeleteObject(ctx context.Context, key string) error
	// HeadObject returns ErrObjectNotFound when the key does not exist.
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
}

// PutOptions are stored with the object when the upload completes.
type PutOptions struct {
	Checksum        string
	ContentEncoding string
}

// PresignedRequest is a time-limited request the client performs directly
// against the backend.
type PresignedRequest struct {
	Part    int               `json:"part"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Expires time.Time         `json:"expires"`
}

// Part is one uploaded part of a multipart upload.
type Part struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size,omitempty"`
}

// CompletedObject is the backend's confirmation of a completed upload.
type CompletedObject struct {
	Key  string
	ETag string
}

// ObjectInfo is the metadata returned by HeadObject.
type ObjectInfo struct {
	Size            int64
	ETag            string
	Checksum        string
	ContentEncoding string
	LastModified    time.Time
}

func putHeaders(opts PutOptions) map[string]string {
	headers := map[string]string{}
	if opts.Checksum != "" {
		headers[http.CanonicalHeaderKey("X-Amz-Meta-"+ChecksumMetadataKey)] = opts.Checksum
	}
	if opts.ContentEncoding != "" {
		headers["Content-Encoding"] = opts.ContentEncoding
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

// headerMap flattens signed headers returned by a presigner, dropping Host
// which the HTTP client sets itself.
func headerMap(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if http.CanonicalHeaderKey(k) == "Host" || len(v) == 0 {
			continue
		}
		out[http.CanonicalHeaderKey(k)] = v[0]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
