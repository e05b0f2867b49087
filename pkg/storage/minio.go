// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures a MinioGateway.
type MinioConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	PathStyle       bool
}

// MinioGateway implements Gateway against a MinIO deployment using the
// low-level minio.Core API for multipart control.
type MinioGateway struct {
	core   *minio.Core
	bucket string
}

// NewMinioGateway connects to endpoint (host:port, no scheme) for bucket.
func NewMinioGateway(cfg MinioConfig, bucket string) (*MinioGateway, error) {
	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioGateway{core: core, bucket: bucket}, nil
}

func (g *MinioGateway) Bucket() string {
	return g.bucket
}

func (g *MinioGateway) PresignPut(ctx context.Context, key string, opts PutOptions, ttl time.Duration) (*PresignedRequest, error) {
	headers := putHeaders(opts)
	extra := make(http.Header, len(headers))
	for k, v := range headers {
		extra.Set(k, v)
	}

	u, err := g.core.PresignHeader(ctx, http.MethodPut, g.bucket, key, ttl, nil, extra)
	if err != nil {
		return nil, g.wrap("presign put", err)
	}
	return &PresignedRequest{
		Part:    1,
		URL:     u.String(),
		Method:  http.MethodPut,
		Headers: headers,
		Expires: time.Now().Add(ttl),
	}, nil
}

func (g *MinioGateway) InitiateMultipart(ctx context.Context, key string, opts PutOptions) (string, error) {
	putOpts := minio.PutObjectOptions{ContentEncoding: opts.ContentEncoding}
	if opts.Checksum != "" {
		putOpts.UserMetadata = map[string]string{ChecksumMetadataKey: opts.Checksum}
	}
	uploadID, err := g.core.NewMultipartUpload(ctx, g.bucket, key, putOpts)
	if err != nil {
		return "", g.wrap("create multipart upload", err)
	}
	return uploadID, nil
}

func (g *MinioGateway) PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (*PresignedRequest, error) {
	if partNumber < 1 || partNumber > MaxPartNumber {
		return nil, fmt.Errorf("presign part: %w: part number %d", ErrInvalidParts, partNumber)
	}
	params := url.Values{}
	params.Set("partNumber", strconv.Itoa(partNumber))
	params.Set("uploadId", uploadID)

	u, err := g.core.Presign(ctx, http.MethodPut, g.bucket, key, ttl, params)
	if err != nil {
		return nil, g.wrap("presign part", err)
	}
	return &PresignedRequest{
		Part:    partNumber,
		URL:     u.String(),
		Method:  http.MethodPut,
		Expires: time.Now().Add(ttl),
	}, nil
}

func (g *MinioGateway) ListParts(ctx context.Context, key, uploadID string) ([]Part, error) {
	var (
		parts  []Part
		marker int
	)
	for {
		res, err := g.core.ListObjectParts(ctx, g.bucket, key, uploadID, marker, 1000)
		if err != nil {
			return nil, g.wrap("list parts", err)
		}
		for _, p := range res.ObjectParts {
			parts = append(parts, Part{
				PartNumber: p.PartNumber,
				ETag:       NormalizeETag(p.ETag),
				Size:       p.Size,
			})
		}
		if !res.IsTruncated {
			return parts, nil
		}
		marker = res.NextPartNumberMarker
	}
}

func (g *MinioGateway) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (*CompletedObject, error) {
	if err := CheckCompletedParts(parts); err != nil {
		return nil, fmt.Errorf("complete multipart upload: %w", err)
	}

	completed := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completed[i] = minio.CompletePart{PartNumber: p.PartNumber, ETag: NormalizeETag(p.ETag)}
	}

	info, err := g.core.CompleteMultipartUpload(ctx, g.bucket, key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return nil, wrapErr("complete multipart upload", err, completionErr(classifyMinio(err)))
	}
	return &CompletedObject{Key: key, ETag: NormalizeETag(info.ETag)}, nil
}

func (g *MinioGateway) AbortMultipart(ctx context.Context, key, uploadID string) error {
	err := g.core.AbortMultipartUpload(ctx, g.bucket, key, uploadID)
	if err != nil {
		if errors.Is(classifyMinio(err), ErrUploadNotFound) {
			logger.Info().
				Str("bucket", g.bucket).
				Str("key", key).
				Str("upload_id", uploadID).
				Msg("multipart upload already finished on backend")
			return nil
		}
		return g.wrap("abort multipart upload", err)
	}
	return nil
}

func (g *MinioGateway) DeleteObject(ctx context.Context, key string) error {
	err := g.core.RemoveObject(ctx, g.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if errors.Is(classifyMinio(err), ErrObjectNotFound) {
			return nil
		}
		return g.wrap("delete object", err)
	}
	return nil
}

func (g *MinioGateway) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := g.core.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, g.wrap("head object", err)
	}
	return &ObjectInfo{
		Size:            info.Size,
		ETag:            NormalizeETag(info.ETag),
		Checksum:        userMetadata(info.UserMetadata, ChecksumMetadataKey),
		ContentEncoding: info.Metadata.Get("Content-Encoding"),
		LastModified:    info.LastModified,
	}, nil
}

func (g *MinioGateway) wrap(op string, err error) error {
	return wrapErr(op, err, classifyMinio(err))
}

func classifyMinio(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "" && resp.StatusCode == 0 {
		return ErrStorageUnavailable
	}
	return classify(resp.Code, resp.StatusCode)
}

// userMetadata looks up key ignoring case; MinIO canonicalizes header names.
func userMetadata(md map[string]string, key string) string {
	if v, ok := md[key]; ok {
		return v
	}
	if v, ok := md[http.CanonicalHeaderKey(key)]; ok {
		return v
	}
	for k, v := range md {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(key) {
			return v
		}
	}
	return ""
}

var _ Gateway = (*MinioGateway)(nil)
