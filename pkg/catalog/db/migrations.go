// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations
var migrationsFS embed.FS

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrationDir maps a driver to the directory holding its schema.
func migrationDir(driver Driver) (string, error) {
	switch driver {
	case DriverPostgres, DriverCockroach:
		return "migrations/postgres", nil
	case DriverMySQL:
		return "migrations/mysql", nil
	case DriverSQLite:
		return "migrations/sqlite", nil
	default:
		return "", fmt.Errorf("no migrations for driver %q", driver)
	}
}

// LoadMigrations loads the migration files of a driver from the embedded filesystem
func LoadMigrations(driver Driver) ([]Migration, error) {
	dir, err := migrationDir(driver)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// Parse version from filename: 001_init.sql -> 1
		var version int
		var name string
		_, err := fmt.Sscanf(entry.Name(), "%d_%s", &version, &name)
		if err != nil {
			return nil, fmt.Errorf("parse migration filename %s: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(migrationsFS, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(name, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// Migrator handles database migrations
type Migrator interface {
	// CurrentVersion returns the current migration version
	CurrentVersion(ctx context.Context) (int, error)
	// Apply applies a migration
	Apply(ctx context.Context, m Migration) error
	// SetVersion records that a migration has been applied
	SetVersion(ctx context.Context, version int) error
}

// RunMigrations applies all pending migrations of the driver
func RunMigrations(ctx context.Context, migrator Migrator, driver Driver) error {
	migrations, err := LoadMigrations(driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	currentVersion, err := migrator.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		if err := migrator.Apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}

		if err := migrator.SetVersion(ctx, m.Version); err != nil {
			return fmt.Errorf("set version %d: %w", m.Version, err)
		}
	}

	return nil
}
