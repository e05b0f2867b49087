// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package s3client provides a connection pool for S3 clients shared by the
// bucket gateways. Several buckets on the same account reuse one client.
package s3client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds configuration for connecting to an S3 service.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

func (c *Config) cacheKey() string {
	return fmt.Sprintf("%s|%s|%s|%t", c.Endpoint, c.Region, c.AccessKeyID, c.PathStyle)
}

// Pool manages S3 clients keyed by endpoint+region+accessKey.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*s3.Client
	timeout time.Duration

	// Shared HTTP client for connection reuse. It must stay buildable so
	// the SDK can apply AWS_CA_BUNDLE to its transport.
	httpClient *awshttp.BuildableClient
}

// NewPool creates a new client pool with the given timeout and max idle connections.
func NewPool(timeout time.Duration, maxIdleConns int) *Pool {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	if maxIdleConns == 0 {
		maxIdleConns = 100
	}

	return &Pool{
		clients: make(map[string]*s3.Client),
		timeout: timeout,
		httpClient: awshttp.NewBuildableClient().
			WithTimeout(timeout).
			WithTransportOptions(func(tr *http.Transport) {
				tr.Proxy = http.ProxyFromEnvironment
				tr.MaxIdleConns = maxIdleConns
				tr.MaxIdleConnsPerHost = max(maxIdleConns/10, 2)
				tr.IdleConnTimeout = 90 * time.Second
			}),
	}
}

// GetClient returns a cached client for cfg, creating it on first use.
func (p *Pool) GetClient(ctx context.Context, cfg *Config) (*s3.Client, error) {
	cacheKey := cfg.cacheKey()

	p.mu.RLock()
	client, exists := p.clients[cacheKey]
	p.mu.RUnlock()
	if exists {
		return client, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if client, exists := p.clients[cacheKey]; exists {
		return client, nil
	}

	client, err := p.createClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p.clients[cacheKey] = client

	logger.Debug().
		Str("endpoint", cfg.Endpoint).
		Str("region", cfg.Region).
		Msg("Created new S3 client")

	return client, nil
}

// Len returns the number of cached clients.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

func (p *Pool) createClient(ctx context.Context, cfg *Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(p.httpClient),
		// Retry policy belongs to callers.
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.PathStyle
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// Close drops cached clients and idle connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clients = make(map[string]*s3.Client)
	if c, ok := any(p.httpClient).(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}

	return nil
}
