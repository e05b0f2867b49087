// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package mysql provides a MySQL implementation of the db.DB interface.
package mysql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	dbsql "github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/sql"

	"github.com/go-sql-driver/mysql"
)

// TLSMode specifies how TLS should be configured for MySQL connections
type TLSMode string

const (
	// TLSModeDisabled disables TLS
	TLSModeDisabled TLSMode = "disabled"
	// TLSModePreferred uses TLS if available
	TLSModePreferred TLSMode = "preferred"
	// TLSModeRequired requires TLS but skips certificate verification
	TLSModeRequired TLSMode = "required"
	// TLSModeVerifyCA requires TLS and verifies the server certificate against a CA
	TLSModeVerifyCA TLSMode = "verify-ca"
)

// tlsConfigName is the name the verify-ca config is registered under.
const tlsConfigName = "stacasset"

// Config holds MySQL connection configuration
type Config struct {
	// DSN is the data source name (e.g., "user:pass@tcp(mysql:3306)/catalog")
	DSN string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// TLS settings
	TLSMode   TLSMode // TLS mode: disabled, preferred, required, verify-ca
	TLSCAFile string  // Path to CA certificate file (for verify-ca mode)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    db.DefaultMaxOpenConns,
		MaxIdleConns:    db.DefaultMaxIdleConns,
		ConnMaxLifetime: time.Duration(db.DefaultConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(db.DefaultConnMaxIdleTime) * time.Second,
	}
}

// MySQL implements db.DB using MySQL as the backing store
type MySQL struct {
	*dbsql.Store
	config Config
}

// NewMySQL creates a new MySQL-backed database
func NewMySQL(cfg Config) (db.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	store, err := dbsql.Open("mysql", dbsql.MySQLDialect{}, dbsql.Config{
		DSN:             dsn,
		Driver:          db.DriverMySQL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}

	return &MySQL{Store: store, config: cfg}, nil
}

// Migrate runs database migrations for MySQL
func (m *MySQL) Migrate(ctx context.Context) error {
	return m.Store.Migrate(ctx, db.DriverMySQL)
}

// Ensure MySQL implements db.DB
var _ db.DB = (*MySQL)(nil)

// buildDSN parses the DSN and applies the options the store depends on:
// RowsAffected must count matched rows, and TLS follows the configured mode.
func buildDSN(cfg Config) (string, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	mc.ClientFoundRows = true

	switch cfg.TLSMode {
	case "", TLSModeDisabled:
		mc.TLSConfig = ""
		mc.TLS = nil
	case TLSModePreferred:
		mc.TLSConfig = "preferred"
	case TLSModeRequired:
		// Encrypts but doesn't verify the server certificate
		mc.TLSConfig = "skip-verify"
	case TLSModeVerifyCA:
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if cfg.TLSCAFile != "" {
			caCert, err := os.ReadFile(cfg.TLSCAFile)
			if err != nil {
				return "", fmt.Errorf("read CA file: %w", err)
			}
			caCertPool := x509.NewCertPool()
			if !caCertPool.AppendCertsFromPEM(caCert) {
				return "", fmt.Errorf("failed to append CA certificate")
			}
			tlsConfig.RootCAs = caCertPool
		}
		if err := mysql.RegisterTLSConfig(tlsConfigName, tlsConfig); err != nil {
			return "", fmt.Errorf("register TLS config: %w", err)
		}
		mc.TLSConfig = tlsConfigName
	default:
		return "", fmt.Errorf("unknown TLS mode: %s", cfg.TLSMode)
	}

	return mc.FormatDSN(), nil
}
