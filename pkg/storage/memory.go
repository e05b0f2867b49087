// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/logger"

	"github.com/google/uuid"
)

// MemoryGateway is an in-memory Gateway for tests and local development.
// PutObject and PutPart stand in for the client requests made against
// presigned URLs.
type MemoryGateway struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string]*memObject
	uploads  map[string]*memUpload
	failures map[string]error
	calls    map[string]int
}

type memObject struct {
	size         int64
	etag         string
	opts         PutOptions
	lastModified time.Time
}

type memUpload struct {
	key   string
	opts  PutOptions
	parts map[int]Part
	done  bool
}

// NewMemoryGateway creates an empty gateway for bucket.
func NewMemoryGateway(bucket string) *MemoryGateway {
	return &MemoryGateway{
		bucket:   bucket,
		objects:  make(map[string]*memObject),
		uploads:  make(map[string]*memUpload),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// InjectFailure makes every later call of op (a Gateway method name such as
// "CompleteMultipart") fail with err. A nil err clears the failure.
func (m *MemoryGateway) InjectFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op was invoked.
func (m *MemoryGateway) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter records a call and returns the injected failure for op. Caller holds mu.
func (m *MemoryGateway) enter(op string) error {
	m.calls[op]++
	if err, ok := m.failures[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *MemoryGateway) Bucket() string {
	return m.bucket
}

func (m *MemoryGateway) PresignPut(ctx context.Context, key string, opts PutOptions, ttl time.Duration) (*PresignedRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PresignPut"); err != nil {
		return nil, err
	}
	return &PresignedRequest{
		Part:    1,
		URL:     m.url(key, nil, ttl),
		Method:  http.MethodPut,
		Headers: putHeaders(opts),
		Expires: time.Now().Add(ttl),
	}, nil
}

func (m *MemoryGateway) InitiateMultipart(ctx context.Context, key string, opts PutOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("InitiateMultipart"); err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.uploads[id] = &memUpload{key: key, opts: opts, parts: make(map[int]Part)}
	return id, nil
}

func (m *MemoryGateway) PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (*PresignedRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PresignPart"); err != nil {
		return nil, err
	}
	if partNumber < 1 || partNumber > MaxPartNumber {
		return nil, fmt.Errorf("presign part: %w: part number %d", ErrInvalidParts, partNumber)
	}
	params := url.Values{}
	params.Set("partNumber", strconv.Itoa(partNumber))
	params.Set("uploadId", uploadID)
	return &PresignedRequest{
		Part:    partNumber,
		URL:     m.url(key, params, ttl),
		Method:  http.MethodPut,
		Expires: time.Now().Add(ttl),
	}, nil
}

func (m *MemoryGateway) ListParts(ctx context.Context, key, uploadID string) ([]Part, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListParts"); err != nil {
		return nil, err
	}
	up, ok := m.uploads[uploadID]
	if !ok || up.done || up.key != key {
		return nil, fmt.Errorf("list parts: %w", ErrUploadNotFound)
	}
	parts := make([]Part, 0, len(up.parts))
	for _, p := range up.parts {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

func (m *MemoryGateway) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (*CompletedObject, error) {
	if err := CheckCompletedParts(parts); err != nil {
		return nil, fmt.Errorf("complete multipart upload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CompleteMultipart"); err != nil {
		return nil, err
	}
	up, ok := m.uploads[uploadID]
	if !ok || up.done || up.key != key {
		return nil, fmt.Errorf("complete multipart upload: %w: %s", errCompletedUploadGone, uploadID)
	}

	var size int64
	for _, p := range parts {
		stored, ok := up.parts[p.PartNumber]
		if !ok || stored.ETag != NormalizeETag(p.ETag) {
			return nil, fmt.Errorf("complete multipart upload: %w: part %d not uploaded", ErrInvalidParts, p.PartNumber)
		}
		size += stored.Size
	}

	etag := fmt.Sprintf("%s-%d", md5Hex([]byte(uploadID)), len(parts))
	m.objects[key] = &memObject{size: size, etag: etag, opts: up.opts, lastModified: time.Now()}
	up.done = true
	return &CompletedObject{Key: key, ETag: etag}, nil
}

func (m *MemoryGateway) AbortMultipart(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AbortMultipart"); err != nil {
		return err
	}
	up, ok := m.uploads[uploadID]
	if !ok || up.done {
		logger.Info().
			Str("bucket", m.bucket).
			Str("key", key).
			Str("upload_id", uploadID).
			Msg("multipart upload already finished on backend")
		return nil
	}
	up.done = true
	return nil
}

func (m *MemoryGateway) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteObject"); err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryGateway) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("HeadObject"); err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("head object %s: %w", key, ErrObjectNotFound)
	}
	return &ObjectInfo{
		Size:            obj.size,
		ETag:            obj.etag,
		Checksum:        obj.opts.Checksum,
		ContentEncoding: obj.opts.ContentEncoding,
		LastModified:    obj.lastModified,
	}, nil
}

// PutObject stores data under key as a presigned PUT would.
func (m *MemoryGateway) PutObject(key string, data []byte, opts PutOptions) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	etag := md5Hex(data)
	m.objects[key] = &memObject{size: int64(len(data)), etag: etag, opts: opts, lastModified: time.Now()}
	return etag
}

// PutPart uploads one part as a presigned UploadPart would and returns its ETag.
func (m *MemoryGateway) PutPart(uploadID string, partNumber int, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.done {
		return "", fmt.Errorf("put part: %w", ErrUploadNotFound)
	}
	if partNumber < 1 || partNumber > MaxPartNumber {
		return "", fmt.Errorf("put part: %w: part number %d", ErrInvalidParts, partNumber)
	}
	etag := md5Hex(data)
	up.parts[partNumber] = Part{PartNumber: partNumber, ETag: etag, Size: int64(len(data))}
	return etag, nil
}

// HasObject reports whether key is stored.
func (m *MemoryGateway) HasObject(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// UploadOpen reports whether uploadID is neither completed nor aborted.
func (m *MemoryGateway) UploadOpen(uploadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	return ok && !up.done
}

func (m *MemoryGateway) url(key string, params url.Values, ttl time.Duration) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("X-Amz-Expires", strconv.Itoa(int(ttl.Seconds())))
	u := url.URL{
		Scheme:   "memory",
		Host:     m.bucket,
		Path:     "/" + key,
		RawQuery: params.Encode(),
	}
	return u.String()
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

var _ Gateway = (*MemoryGateway)(nil)
