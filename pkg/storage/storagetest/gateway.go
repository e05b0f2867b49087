// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package storagetest provides a testify mock of storage.Gateway.
package storagetest

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/storage"

	"github.com/stretchr/testify/mock"
)

// Gateway is a mock storage.Gateway.
type Gateway struct {
	mock.Mock
	BucketName string
}

func (g *Gateway) Bucket() string {
	return g.BucketName
}

func (g *Gateway) PresignPut(ctx context.Context, key string, opts storage.PutOptions, ttl time.Duration) (*storage.PresignedRequest, error) {
	args := g.Called(ctx, key, opts, ttl)
	req, _ := args.Get(0).(*storage.PresignedRequest)
	return req, args.Error(1)
}

func (g *Gateway) InitiateMultipart(ctx context.Context, key string, opts storage.PutOptions) (string, error) {
	args := g.Called(ctx, key, opts)
	return args.String(0), args.Error(1)
}

func (g *Gateway) PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (*storage.PresignedRequest, error) {
	args := g.Called(ctx, key, uploadID, partNumber, ttl)
	req, _ := args.Get(0).(*storage.PresignedRequest)
	return req, args.Error(1)
}

func (g *Gateway) ListParts(ctx context.Context, key, uploadID string) ([]storage.Part, error) {
	args := g.Called(ctx, key, uploadID)
	parts, _ := args.Get(0).([]storage.Part)
	return parts, args.Error(1)
}

func (g *Gateway) CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.Part) (*storage.CompletedObject, error) {
	args := g.Called(ctx, key, uploadID, parts)
	obj, _ := args.Get(0).(*storage.CompletedObject)
	return obj, args.Error(1)
}

func (g *Gateway) AbortMultipart(ctx context.Context, key, uploadID string) error {
	return g.Called(ctx, key, uploadID).Error(0)
}

func (g *Gateway) DeleteObject(ctx context.Context, key string) error {
	return g.Called(ctx, key).Error(0)
}

func (g *Gateway) HeadObject(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	args := g.Called(ctx, key)
	info, _ := args.Get(0).(*storage.ObjectInfo)
	return info, args.Error(1)
}

var _ storage.Gateway = (*Gateway)(nil)
