// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Gateway implements Gateway for one bucket on AWS S3 or any
// S3-compatible endpoint.
type S3Gateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewS3Gateway wraps client for bucket.
func NewS3Gateway(client *s3.Client, bucket string) *S3Gateway {
	return &S3Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}
}

func (g *S3Gateway) Bucket() string {
	return g.bucket
}

func (g *S3Gateway) PresignPut(ctx context.Context, key string, opts PutOptions, ttl time.Duration) (*PresignedRequest, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}
	if opts.Checksum != "" {
		input.Metadata = map[string]string{ChecksumMetadataKey: opts.Checksum}
	}
	if opts.ContentEncoding != "" {
		input.ContentEncoding = aws.String(opts.ContentEncoding)
	}

	req, err := g.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, g.wrap("presign put", err)
	}
	return &PresignedRequest{
		Part:    1,
		URL:     req.URL,
		Method:  req.Method,
		Headers: headerMap(req.SignedHeader),
		Expires: time.Now().Add(ttl),
	}, nil
}

func (g *S3Gateway) InitiateMultipart(ctx context.Context, key string, opts PutOptions) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}
	if opts.Checksum != "" {
		input.Metadata = map[string]string{ChecksumMetadataKey: opts.Checksum}
	}
	if opts.ContentEncoding != "" {
		input.ContentEncoding = aws.String(opts.ContentEncoding)
	}

	out, err := g.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", g.wrap("create multipart upload", err)
	}
	if aws.ToString(out.UploadId) == "" {
		return "", fmt.Errorf("create multipart upload: %w: empty upload id", ErrStorageUnavailable)
	}
	return aws.ToString(out.UploadId), nil
}

func (g *S3Gateway) PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (*PresignedRequest, error) {
	if partNumber < 1 || partNumber > MaxPartNumber {
		return nil, fmt.Errorf("presign part: %w: part number %d", ErrInvalidParts, partNumber)
	}
	req, err := g.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, g.wrap("presign part", err)
	}
	return &PresignedRequest{
		Part:    partNumber,
		URL:     req.URL,
		Method:  req.Method,
		Headers: headerMap(req.SignedHeader),
		Expires: time.Now().Add(ttl),
	}, nil
}

func (g *S3Gateway) ListParts(ctx context.Context, key, uploadID string) ([]Part, error) {
	paginator := s3.NewListPartsPaginator(g.client, &s3.ListPartsInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})

	var parts []Part
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, g.wrap("list parts", err)
		}
		for _, p := range page.Parts {
			parts = append(parts, Part{
				PartNumber: int(aws.ToInt32(p.PartNumber)),
				ETag:       NormalizeETag(aws.ToString(p.ETag)),
				Size:       aws.ToInt64(p.Size),
			})
		}
	}
	return parts, nil
}

func (g *S3Gateway) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (*CompletedObject, error) {
	if err := CheckCompletedParts(parts); err != nil {
		return nil, fmt.Errorf("complete multipart upload: %w", err)
	}

	completed := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = s3types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(QuoteETag(p.ETag)),
		}
	}

	out, err := g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(g.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, wrapErr("complete multipart upload", err, completionErr(classifyS3(err)))
	}
	return &CompletedObject{
		Key:  key,
		ETag: NormalizeETag(aws.ToString(out.ETag)),
	}, nil
}

func (g *S3Gateway) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		if errors.Is(classifyS3(err), ErrUploadNotFound) {
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

func (g *S3Gateway) DeleteObject(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if errors.Is(classifyS3(err), ErrObjectNotFound) {
			return nil
		}
		return g.wrap("delete object", err)
	}
	return nil
}

func (g *S3Gateway) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, g.wrap("head object", err)
	}
	return &ObjectInfo{
		Size:            aws.ToInt64(out.ContentLength),
		ETag:            NormalizeETag(aws.ToString(out.ETag)),
		Checksum:        out.Metadata[ChecksumMetadataKey],
		ContentEncoding: aws.ToString(out.ContentEncoding),
		LastModified:    aws.ToTime(out.LastModified),
	}, nil
}

func (g *S3Gateway) wrap(op string, err error) error {
	return wrapErr(op, err, classifyS3(err))
}

// classifyS3 reads the S3 error code, falling back to the HTTP status when
// the response carried no parsable error body.
func classifyS3(err error) error {
	var (
		code   string
		status int
	)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	if code == "" && status == 0 {
		return ErrStorageUnavailable
	}
	return classify(code, status)
}

var _ Gateway = (*S3Gateway)(nil)
