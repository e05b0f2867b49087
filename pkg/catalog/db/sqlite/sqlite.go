// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite provides a SQLite implementation of the db.DB interface
// for single-node deployments and tests.
package sqlite

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	dbsql "github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/sql"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLite implements db.DB on a single database file.
//
// The pool holds one connection: SQLite has a single writer, and a
// transaction owns the connection until it ends. Code running inside
// WithTx must only use the TxStore it was given.
type SQLite struct {
	*dbsql.Store
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*SQLite, error) {
	cfg := dbsql.DefaultConfig(path, db.DriverSQLite)
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	cfg.ConnMaxLifetime = 0
	cfg.ConnMaxIdleTime = 0

	store, err := dbsql.Open("sqlite", dbsql.SQLiteDialect{}, cfg)
	if err != nil {
		return nil, err
	}
	// Keep the single connection (and its PRAGMAs) for the life of the pool.
	store.DB().SetConnMaxLifetime(0)
	store.DB().SetConnMaxIdleTime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := store.DB().Exec(pragma); err != nil {
			store.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	return &SQLite{Store: store}, nil
}

// New opens the database at path as a db.DB.
func New(path string) (db.DB, error) {
	return Open(path)
}

// Migrate runs database migrations for SQLite
func (s *SQLite) Migrate(ctx context.Context) error {
	return s.Store.Migrate(ctx, db.DriverSQLite)
}

// Ensure SQLite implements db.DB
var _ db.DB = (*SQLite)(nil)
